package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pressgraph/evc/internal/types"
)

const mentionColumns = `id, event_id, date, document_ids, document_count,
	headline, source_names, source_diversity, created_at`

// GetDailyMentions returns an event's mentions ordered by date
func (s *SQLiteStorage) GetDailyMentions(ctx context.Context, eventID string) ([]*types.DailyMention, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mentionColumns+` FROM daily_mentions WHERE event_id = ? ORDER BY date`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily mentions: %w", err)
	}
	defer rows.Close()

	var mentions []*types.DailyMention
	for rows.Next() {
		m, err := scanMention(rows)
		if err != nil {
			return nil, err
		}
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}

// MergeOutcome reports what one child-merge transaction did
type MergeOutcome struct {
	MentionsMerged    int // child mentions folded into an existing master row
	MentionsRepointed int // child mentions moved to the master unchanged
	ChildDeleted      bool
}

// MergeChildIntoMaster consolidates one child's daily mentions into the
// master and deletes the emptied child, all in one transaction.
//
// For each child mention date: if the master already has a mention that day,
// the rows are merged (document counts summed, document-id and source-name
// sets unioned) and the child row deleted; otherwise the child row is simply
// repointed at the master. The master's rollup fields (first/last date,
// mention days, total documents) are recomputed from its post-merge rows.
func (s *SQLiteStorage) MergeChildIntoMaster(ctx context.Context, masterID, childID string) (*MergeOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	child, err := getEventTx(ctx, tx, childID)
	if err != nil {
		return nil, err
	}
	if child == nil {
		// Already merged by an earlier run
		return &MergeOutcome{}, nil
	}
	if child.MasterID == nil || *child.MasterID != masterID {
		return nil, fmt.Errorf("event %s is not a child of %s", childID, masterID)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+mentionColumns+` FROM daily_mentions WHERE event_id = ? ORDER BY date`, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to query child mentions: %w", err)
	}
	var childMentions []*types.DailyMention
	for rows.Next() {
		m, err := scanMention(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		childMentions = append(childMentions, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	outcome := &MergeOutcome{}
	for _, cm := range childMentions {
		day := cm.Date.Format(types.DateFormat)
		row := tx.QueryRowContext(ctx,
			`SELECT `+mentionColumns+` FROM daily_mentions WHERE event_id = ? AND date = ?`,
			masterID, day)
		mm, err := scanMention(row)
		switch {
		case err == sql.ErrNoRows:
			// No collision: repoint the child row, no new row created
			if _, err := tx.ExecContext(ctx,
				`UPDATE daily_mentions SET event_id = ? WHERE id = ?`, masterID, cm.ID); err != nil {
				return nil, fmt.Errorf("failed to repoint mention %d: %w", cm.ID, err)
			}
			outcome.MentionsRepointed++
		case err != nil:
			return nil, err
		default:
			docs := types.UnionStrings(mm.DocumentIDs, cm.DocumentIDs)
			sources := types.UnionStrings(mm.SourceNames, cm.SourceNames)
			merged := &types.DailyMention{
				EventID:       masterID,
				Date:          mm.Date,
				DocumentIDs:   docs,
				DocumentCount: mm.DocumentCount + cm.DocumentCount,
				Headline:      mm.Headline,
				SourceNames:   sources,
			}
			merged.SourceDiversity = merged.Diversity()
			if merged.Headline == "" {
				merged.Headline = cm.Headline
			}

			docsRaw, err := marshalJSON(docs)
			if err != nil {
				return nil, err
			}
			sourcesRaw, err := marshalJSON(sources)
			if err != nil {
				return nil, err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE daily_mentions
				SET document_ids = ?, document_count = ?, headline = ?,
				    source_names = ?, source_diversity = ?
				WHERE id = ?
			`, docsRaw, merged.DocumentCount, merged.Headline, sourcesRaw,
				merged.SourceDiversity, mm.ID); err != nil {
				return nil, fmt.Errorf("failed to merge mention %d into %d: %w", cm.ID, mm.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM daily_mentions WHERE id = ?`, cm.ID); err != nil {
				return nil, fmt.Errorf("failed to delete merged mention %d: %w", cm.ID, err)
			}
			outcome.MentionsMerged++
		}
	}

	if err := recomputeRollup(ctx, tx, masterID); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM canonical_events WHERE id = ?`, childID); err != nil {
		return nil, fmt.Errorf("failed to delete emptied child %s: %w", childID, err)
	}
	outcome.ChildDeleted = true

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit merge of %s into %s: %w", childID, masterID, err)
	}
	return outcome, nil
}

// recomputeRollup refreshes a master's summary fields from its mention rows
func recomputeRollup(ctx context.Context, tx *sql.Tx, eventID string) error {
	var first, last sql.NullString
	var days int
	if err := tx.QueryRowContext(ctx,
		`SELECT MIN(date), MAX(date), COUNT(*) FROM daily_mentions WHERE event_id = ?`,
		eventID).Scan(&first, &last, &days); err != nil {
		return fmt.Errorf("failed to compute mention rollup for %s: %w", eventID, err)
	}
	if !first.Valid {
		return nil
	}

	// Distinct documents across all mention rows; JSON arrays make this a
	// Go-side union rather than a SQL aggregate.
	rows, err := tx.QueryContext(ctx,
		`SELECT document_ids FROM daily_mentions WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("failed to query document ids for %s: %w", eventID, err)
	}
	defer rows.Close()
	var union []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		docs, err := unmarshalStrings(raw)
		if err != nil {
			return err
		}
		union = types.UnionStrings(union, docs)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE canonical_events
		SET first_date = ?, last_date = ?, mention_days = ?, total_documents = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, first.String, last.String, days, len(union), eventID)
	if err != nil {
		return fmt.Errorf("failed to update rollup for %s: %w", eventID, err)
	}
	return nil
}

// GetDocumentUnion returns the distinct document ids across all daily
// mentions of the given events. Order follows first appearance by event id
// then date, so repeated calls over unchanged rows are stable.
func (s *SQLiteStorage) GetDocumentUnion(ctx context.Context, eventIDs []string) ([]string, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventIDs)), ",")
	args := make([]interface{}, len(eventIDs))
	for i, id := range eventIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT document_ids FROM daily_mentions WHERE event_id IN (`+placeholders+`) ORDER BY event_id, date`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query document union: %w", err)
	}
	defer rows.Close()

	var union []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		docs, err := unmarshalStrings(raw)
		if err != nil {
			return nil, err
		}
		union = types.UnionStrings(union, docs)
	}
	return union, rows.Err()
}

func scanMention(row scanner) (*types.DailyMention, error) {
	var m types.DailyMention
	var date, docs, sources string
	if err := row.Scan(&m.ID, &m.EventID, &date, &docs, &m.DocumentCount,
		&m.Headline, &sources, &m.SourceDiversity, &m.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if m.Date, err = time.Parse(types.DateFormat, date); err != nil {
		return nil, fmt.Errorf("mention %d date: %w", m.ID, err)
	}
	if m.DocumentIDs, err = unmarshalStrings(docs); err != nil {
		return nil, fmt.Errorf("mention %d document_ids: %w", m.ID, err)
	}
	if m.SourceNames, err = unmarshalStrings(sources); err != nil {
		return nil, fmt.Errorf("mention %d source_names: %w", m.ID, err)
	}
	return &m, nil
}
