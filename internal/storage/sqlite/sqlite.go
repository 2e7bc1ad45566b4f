// Package sqlite implements the consolidation store on SQLite.
//
// Every write method that touches more than one row runs in its own
// transaction. Stage runners commit one unit of work (one cluster, one
// group, one master) per call, which is what makes mid-run crashes and
// reruns safe: the per-record status fields are the resumption signal.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressgraph/evc/internal/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage backend at the given path
func New(ctx context.Context, path string) (*SQLiteStorage, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL mode for better concurrency between stage runs and status reads
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// ImportRawMentions inserts raw mentions, skipping exact duplicates.
// Returns the number of rows actually inserted.
func (s *SQLiteStorage) ImportRawMentions(ctx context.Context, mentions []*types.RawMention) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO raw_mentions (country, date, document_id, event_name, source_name)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, m := range mentions {
		if err := m.Validate(); err != nil {
			return 0, fmt.Errorf("invalid raw mention (doc %s): %w", m.DocumentID, err)
		}
		res, err := stmt.ExecContext(ctx, m.Country, m.Date.Format(types.DateFormat),
			m.DocumentID, m.EventName, m.SourceName)
		if err != nil {
			return 0, fmt.Errorf("failed to insert raw mention: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit raw mentions: %w", err)
	}
	return inserted, nil
}

// GetRawMentions returns raw mentions matching the filter, ordered by id
func (s *SQLiteStorage) GetRawMentions(ctx context.Context, filter types.MentionFilter) ([]*types.RawMention, error) {
	query := `SELECT id, country, date, document_id, event_name, source_name FROM raw_mentions WHERE 1=1`
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
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw mentions: %w", err)
	}
	defer rows.Close()

	var mentions []*types.RawMention
	for rows.Next() {
		var m types.RawMention
		var date string
		if err := rows.Scan(&m.ID, &m.Country, &date, &m.DocumentID, &m.EventName, &m.SourceName); err != nil {
			return nil, fmt.Errorf("failed to scan raw mention: %w", err)
		}
		if m.Date, err = time.Parse(types.DateFormat, date); err != nil {
			return nil, fmt.Errorf("invalid date %q in raw mention %d: %w", date, m.ID, err)
		}
		mentions = append(mentions, &m)
	}
	return mentions, rows.Err()
}

// GetMentionDates returns the distinct dates with raw mentions for a country,
// ascending. Used by the clustering stage to enumerate its units of work.
func (s *SQLiteStorage) GetMentionDates(ctx context.Context, country string, from, to time.Time) ([]time.Time, error) {
	query := `SELECT DISTINCT date FROM raw_mentions WHERE country = ?`
	args := []interface{}{country}
	if !from.IsZero() {
		query += ` AND date >= ?`
		args = append(args, from.Format(types.DateFormat))
	}
	if !to.IsZero() {
		query += ` AND date <= ?`
		args = append(args, to.Format(types.DateFormat))
	}
	query += ` ORDER BY date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mention dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		t, err := time.Parse(types.DateFormat, d)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", d, err)
		}
		dates = append(dates, t)
	}
	return dates, rows.Err()
}

// Statistics summarizes store contents for the status command
type Statistics struct {
	RawMentions         int
	Clusters            int
	UnprocessedClusters int
	CanonicalEvents     int
	MasterEvents        int
	ChildEvents         int
	DailyMentions       int
	Countries           []string
}

// GetStatistics returns row counts, optionally scoped to one country
func (s *SQLiteStorage) GetStatistics(ctx context.Context, country string) (*Statistics, error) {
	stats := &Statistics{}

	scope := ""
	var args []interface{}
	if country != "" {
		scope = ` WHERE country = ?`
		args = append(args, country)
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM raw_mentions` + scope, &stats.RawMentions},
		{`SELECT COUNT(*) FROM event_clusters` + scope, &stats.Clusters},
		{`SELECT COUNT(*) FROM canonical_events` + scope, &stats.CanonicalEvents},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, args...).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count rows: %w", err)
		}
	}

	unprocessed := `SELECT COUNT(*) FROM event_clusters WHERE status = 'unprocessed'`
	masters := `SELECT COUNT(*) FROM canonical_events WHERE master_id IS NULL`
	children := `SELECT COUNT(*) FROM canonical_events WHERE master_id IS NOT NULL`
	mentionsQ := `SELECT COUNT(*) FROM daily_mentions`
	mentionArgs := []interface{}{}
	if country != "" {
		unprocessed += ` AND country = ?`
		masters += ` AND country = ?`
		children += ` AND country = ?`
		mentionsQ = `SELECT COUNT(*) FROM daily_mentions m JOIN canonical_events e ON m.event_id = e.id WHERE e.country = ?`
		mentionArgs = append(mentionArgs, country)
	}
	if err := s.db.QueryRowContext(ctx, unprocessed, args...).Scan(&stats.UnprocessedClusters); err != nil {
		return nil, fmt.Errorf("failed to count unprocessed clusters: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, masters, args...).Scan(&stats.MasterEvents); err != nil {
		return nil, fmt.Errorf("failed to count masters: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, children, args...).Scan(&stats.ChildEvents); err != nil {
		return nil, fmt.Errorf("failed to count children: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, mentionsQ, mentionArgs...).Scan(&stats.DailyMentions); err != nil {
		return nil, fmt.Errorf("failed to count daily mentions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT country FROM raw_mentions ORDER BY country`)
	if err != nil {
		return nil, fmt.Errorf("failed to query countries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan country: %w", err)
		}
		stats.Countries = append(stats.Countries, c)
	}
	return stats, rows.Err()
}

// marshalJSON serializes a value to its JSON text column representation
func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return string(b), nil
}

// unmarshalStrings parses a JSON string-array column; empty input yields nil
func unmarshalStrings(raw string) ([]string, error) {
	if raw == "" || raw == "[]" || raw == "null" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal string array: %w", err)
	}
	return out, nil
}

// unmarshalVector parses a JSON float-array column; empty input yields nil
func unmarshalVector(raw sql.NullString) ([]float32, error) {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil, nil
	}
	var out []float32
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vector: %w", err)
	}
	return out, nil
}
