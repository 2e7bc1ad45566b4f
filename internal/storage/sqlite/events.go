package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressgraph/evc/internal/types"
)

// ErrHierarchyDepth is returned when a master-reference write would create a
// chain deeper than one level. This is an invariant violation: the caller
// must halt the run for inspection rather than paper over it.
var ErrHierarchyDepth = errors.New("master reference would exceed depth 1")

// ErrNotFound is returned when a referenced canonical event does not exist
var ErrNotFound = errors.New("canonical event not found")

// CommitClusterResolution writes one deconfliction unit atomically: the
// canonical events and their daily mentions for one source cluster, plus the
// cluster status flip. The flip happens exactly once; a cluster already
// validated is left untouched and the call reports no error, keeping the
// stage idempotent under reruns.
func (s *SQLiteStorage) CommitClusterResolution(ctx context.Context, clusterID int64, events []*types.CanonicalEvent, mentions []*types.DailyMention) error {
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid canonical event %s: %w", e.ID, err)
		}
	}
	for _, m := range mentions {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("invalid daily mention for %s: %w", m.EventID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Claim the status flip first. Zero rows means another run already
	// resolved this cluster; back out without writing anything.
	res, err := tx.ExecContext(ctx,
		`UPDATE event_clusters SET status = 'validated' WHERE id = ? AND status = 'unprocessed'`,
		clusterID)
	if err != nil {
		return fmt.Errorf("failed to flip cluster %d status: %w", clusterID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	for _, e := range events {
		if err := insertCanonicalEvent(ctx, tx, e); err != nil {
			return err
		}
	}
	for _, m := range mentions {
		if err := insertDailyMention(ctx, tx, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resolution for cluster %d: %w", clusterID, err)
	}
	return nil
}

func insertCanonicalEvent(ctx context.Context, tx *sql.Tx, e *types.CanonicalEvent) error {
	altNames, err := marshalJSON(types.UniqueStrings(e.AltNames))
	if err != nil {
		return err
	}
	var embedding interface{}
	if len(e.Embedding) > 0 {
		if embedding, err = marshalJSON(e.Embedding); err != nil {
			return err
		}
	}
	var masterID interface{}
	if e.MasterID != nil {
		masterID = *e.MasterID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO canonical_events
			(id, name, alt_names, country, first_date, last_date,
			 mention_days, total_documents, embedding, master_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Name, altNames, e.Country,
		e.FirstDate.Format(types.DateFormat), e.LastDate.Format(types.DateFormat),
		e.MentionDays, e.TotalDocuments, embedding, masterID)
	if err != nil {
		return fmt.Errorf("failed to insert canonical event %s: %w", e.ID, err)
	}
	return nil
}

func insertDailyMention(ctx context.Context, tx *sql.Tx, m *types.DailyMention) error {
	docs, err := marshalJSON(types.UniqueStrings(m.DocumentIDs))
	if err != nil {
		return err
	}
	sources, err := marshalJSON(types.UniqueStrings(m.SourceNames))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_mentions
			(event_id, date, document_ids, document_count, headline, source_names, source_diversity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.EventID, m.Date.Format(types.DateFormat), docs, m.DocumentCount,
		m.Headline, sources, m.SourceDiversity)
	if err != nil {
		return fmt.Errorf("failed to insert daily mention for %s: %w", m.EventID, err)
	}
	return nil
}

const eventColumns = `id, name, alt_names, country, first_date, last_date,
	mention_days, total_documents, embedding, master_id, created_at, updated_at`

// GetCanonicalEvent returns one event by id, or nil if it does not exist
func (s *SQLiteStorage) GetCanonicalEvent(ctx context.Context, id string) (*types.CanonicalEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM canonical_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// GetCanonicalEvents returns every canonical event for a country regardless
// of date. Full-history scope is what distinguishes batch grouping from
// daily clustering, so there is deliberately no date filter here.
func (s *SQLiteStorage) GetCanonicalEvents(ctx context.Context, country string) ([]*types.CanonicalEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM canonical_events WHERE country = ? ORDER BY id`, country)
	if err != nil {
		return nil, fmt.Errorf("failed to query canonical events: %w", err)
	}
	defer rows.Close()

	var events []*types.CanonicalEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpdateEventEmbedding stores a freshly computed embedding for an event
func (s *SQLiteStorage) UpdateEventEmbedding(ctx context.Context, id string, embedding []float32) error {
	raw, err := marshalJSON(embedding)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE canonical_events SET embedding = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		raw, id)
	if err != nil {
		return fmt.Errorf("failed to update embedding for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetComponentMaster commits one grouping unit: the master's reference is
// cleared and every child is repointed at it, in one transaction.
//
// Depth-1 enforcement: no child may itself have children, and the master may
// not be someone else's child once it has children of its own. Violations
// return ErrHierarchyDepth and roll back the whole unit.
func (s *SQLiteStorage) SetComponentMaster(ctx context.Context, masterID string, childIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE canonical_events SET master_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		masterID)
	if err != nil {
		return fmt.Errorf("failed to clear master reference on %s: %w", masterID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("master %s: %w", masterID, ErrNotFound)
	}

	for _, childID := range childIDs {
		if childID == masterID {
			return fmt.Errorf("event %s cannot be its own child", masterID)
		}
		var grandchildren int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM canonical_events WHERE master_id = ?`, childID).Scan(&grandchildren); err != nil {
			return fmt.Errorf("failed to check children of %s: %w", childID, err)
		}
		if grandchildren > 0 {
			return fmt.Errorf("event %s has %d children and cannot become a child of %s: %w",
				childID, grandchildren, masterID, ErrHierarchyDepth)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE canonical_events SET master_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			masterID, childID)
		if err != nil {
			return fmt.Errorf("failed to set master reference on %s: %w", childID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("child %s: %w", childID, ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit component master %s: %w", masterID, err)
	}
	return nil
}

// RenameMaster updates a confirmed master's canonical name and absorbs the
// superseded names into its alternative-name set
func (s *SQLiteStorage) RenameMaster(ctx context.Context, masterID, newName string, absorbedNames []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := getEventTx(ctx, tx, masterID)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("master %s: %w", masterID, ErrNotFound)
	}

	altNames := e.AltNames
	if e.Name != newName {
		altNames = append(altNames, e.Name)
	}
	altNames = types.UnionStrings(altNames, absorbedNames)
	// The canonical name never doubles as an alternative
	var filtered []string
	for _, n := range altNames {
		if n != newName {
			filtered = append(filtered, n)
		}
	}

	raw, err := marshalJSON(filtered)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE canonical_events SET name = ?, alt_names = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		newName, raw, masterID); err != nil {
		return fmt.Errorf("failed to rename master %s: %w", masterID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rename of %s: %w", masterID, err)
	}
	return nil
}

// ApplySplit commits one validation split: the named member becomes a brand
// new master for its sub-group and the remaining members are repointed at it.
// The new master must currently be a leaf (no children), which the depth-1
// invariant already guarantees for anything that was a child.
func (s *SQLiteStorage) ApplySplit(ctx context.Context, newMasterID, newName string, memberIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := getEventTx(ctx, tx, newMasterID)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("split target %s: %w", newMasterID, ErrNotFound)
	}

	altNames := e.AltNames
	if e.Name != newName {
		altNames = append(altNames, e.Name)
	}
	raw, err := marshalJSON(types.UniqueStrings(altNames))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE canonical_events
		SET master_id = NULL, name = ?, alt_names = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, newName, raw, newMasterID); err != nil {
		return fmt.Errorf("failed to promote %s to master: %w", newMasterID, err)
	}

	for _, memberID := range memberIDs {
		if memberID == newMasterID {
			continue
		}
		var grandchildren int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM canonical_events WHERE master_id = ?`, memberID).Scan(&grandchildren); err != nil {
			return fmt.Errorf("failed to check children of %s: %w", memberID, err)
		}
		if grandchildren > 0 {
			return fmt.Errorf("split member %s has children: %w", memberID, ErrHierarchyDepth)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE canonical_events SET master_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
			newMasterID, memberID)
		if err != nil {
			return fmt.Errorf("failed to repoint %s to new master %s: %w", memberID, newMasterID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("split member %s: %w", memberID, ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit split to %s: %w", newMasterID, err)
	}
	return nil
}

// MasterGroup is one master event together with the children whose master
// reference points at it. Children is empty for standalone events.
type MasterGroup struct {
	Master   *types.CanonicalEvent
	Children []*types.CanonicalEvent
}

// Size returns the total member count including the master
func (g *MasterGroup) Size() int {
	return 1 + len(g.Children)
}

// GetMasterGroups returns every master for a country with its children,
// ordered by master id so reruns see groups in a stable order
func (s *SQLiteStorage) GetMasterGroups(ctx context.Context, country string) ([]*MasterGroup, error) {
	events, err := s.GetCanonicalEvents(ctx, country)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*MasterGroup)
	var groups []*MasterGroup
	for _, e := range events {
		if e.IsMaster() {
			g := &MasterGroup{Master: e}
			byID[e.ID] = g
			groups = append(groups, g)
		}
	}
	for _, e := range events {
		if e.IsMaster() {
			continue
		}
		g, ok := byID[*e.MasterID]
		if !ok {
			// A child pointing at a missing or non-root master is a
			// corrupted hierarchy; surface it rather than skipping.
			return nil, fmt.Errorf("event %s references master %s which is not a root: %w",
				e.ID, *e.MasterID, ErrHierarchyDepth)
		}
		g.Children = append(g.Children, e)
	}
	return groups, nil
}

func getEventTx(ctx context.Context, tx *sql.Tx, id string) (*types.CanonicalEvent, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM canonical_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func scanEvent(row scanner) (*types.CanonicalEvent, error) {
	var e types.CanonicalEvent
	var altNames, firstDate, lastDate string
	var embedding sql.NullString
	var masterID sql.NullString
	if err := row.Scan(&e.ID, &e.Name, &altNames, &e.Country, &firstDate, &lastDate,
		&e.MentionDays, &e.TotalDocuments, &embedding, &masterID,
		&e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if e.AltNames, err = unmarshalStrings(altNames); err != nil {
		return nil, fmt.Errorf("event %s alt_names: %w", e.ID, err)
	}
	if e.FirstDate, err = time.Parse(types.DateFormat, firstDate); err != nil {
		return nil, fmt.Errorf("event %s first_date: %w", e.ID, err)
	}
	if e.LastDate, err = time.Parse(types.DateFormat, lastDate); err != nil {
		return nil, fmt.Errorf("event %s last_date: %w", e.ID, err)
	}
	if e.Embedding, err = unmarshalVector(embedding); err != nil {
		return nil, fmt.Errorf("event %s embedding: %w", e.ID, err)
	}
	if masterID.Valid {
		e.MasterID = &masterID.String
	}
	return &e, nil
}
