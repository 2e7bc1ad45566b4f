package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pressgraph/evc/internal/types"
)

// ReplaceDayClusters atomically replaces the unprocessed clusters for one
// (country, date). Validated clusters are left alone: their resolution has
// already been committed downstream and re-clustering must not disturb it.
func (s *SQLiteStorage) ReplaceDayClusters(ctx context.Context, country string, date time.Time, clusters []*types.EventCluster) error {
	for _, c := range clusters {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid cluster (label %d): %w", c.Label, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	day := date.Format(types.DateFormat)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM event_clusters WHERE country = ? AND date = ? AND status = 'unprocessed'`,
		country, day); err != nil {
		return fmt.Errorf("failed to clear unprocessed clusters: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO event_clusters
			(country, date, batch_num, label, representative, member_names,
			 document_ids, source_names, centroid, noise, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cluster insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range clusters {
		names, err := marshalJSON(c.MemberNames)
		if err != nil {
			return err
		}
		docs, err := marshalJSON(types.UniqueStrings(c.DocumentIDs))
		if err != nil {
			return err
		}
		sources, err := marshalJSON(types.UniqueStrings(c.SourceNames))
		if err != nil {
			return err
		}
		var centroid interface{}
		if len(c.Centroid) > 0 {
			if centroid, err = marshalJSON(c.Centroid); err != nil {
				return err
			}
		}
		res, err := stmt.ExecContext(ctx, country, day, c.BatchNum, c.Label,
			c.Representative, names, docs, sources, centroid, c.Noise, string(types.ClusterUnprocessed))
		if err != nil {
			return fmt.Errorf("failed to insert cluster (label %d): %w", c.Label, err)
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read cluster id: %w", err)
		}
		c.Status = types.ClusterUnprocessed
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clusters for %s/%s: %w", country, day, err)
	}
	return nil
}

const clusterColumns = `id, country, date, batch_num, label, representative,
	member_names, document_ids, source_names, centroid, noise, status, created_at`

// GetClusters returns clusters matching the filter, ordered by date then batch
func (s *SQLiteStorage) GetClusters(ctx context.Context, filter types.ClusterFilter) ([]*types.EventCluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM event_clusters WHERE 1=1`
	var args []interface{}

	if filter.Country != "" {
		query += ` AND country = ?`
		args = append(args, filter.Country)
	}
	if !filter.From.IsZero() {
		query += ` AND date >= ?`
		args = append(args, filter.From.Format(types.DateFormat))
	}
	if !filter.To.IsZero() {
		query += ` AND date <= ?`
		args = append(args, filter.To.Format(types.DateFormat))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY date, batch_num, label`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []*types.EventCluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// GetCluster returns one cluster by id, or nil if it does not exist
func (s *SQLiteStorage) GetCluster(ctx context.Context, id int64) (*types.EventCluster, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clusterColumns+` FROM event_clusters WHERE id = ?`, id)
	c, err := scanCluster(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan code
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCluster(row scanner) (*types.EventCluster, error) {
	var c types.EventCluster
	var date, names, docs, sources, status string
	var centroid sql.NullString
	if err := row.Scan(&c.ID, &c.Country, &date, &c.BatchNum, &c.Label,
		&c.Representative, &names, &docs, &sources, &centroid, &c.Noise,
		&status, &c.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if c.Date, err = time.Parse(types.DateFormat, date); err != nil {
		return nil, fmt.Errorf("invalid date %q in cluster %d: %w", date, c.ID, err)
	}
	if c.MemberNames, err = unmarshalStrings(names); err != nil {
		return nil, fmt.Errorf("cluster %d member_names: %w", c.ID, err)
	}
	if c.DocumentIDs, err = unmarshalStrings(docs); err != nil {
		return nil, fmt.Errorf("cluster %d document_ids: %w", c.ID, err)
	}
	if c.SourceNames, err = unmarshalStrings(sources); err != nil {
		return nil, fmt.Errorf("cluster %d source_names: %w", c.ID, err)
	}
	if c.Centroid, err = unmarshalVector(centroid); err != nil {
		return nil, fmt.Errorf("cluster %d centroid: %w", c.ID, err)
	}
	c.Status = types.ClusterStatus(status)
	return &c, nil
}
