// CLAUDE:SUMMARY Revision log — append-only audit records of accepted delta batches, newest-first listing
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Revision is one immutable audit record for an accepted delta batch. The
// engine appends revisions and never updates or deletes them.
type Revision struct {
	ID          string          `json:"id"`
	Operations  json.RawMessage `json:"operations"`
	Description string          `json:"description,omitempty"`
	AppliedBy   string          `json:"applied_by,omitempty"`
	Metadata    Metadata        `json:"metadata"`
	CreatedAt   string          `json:"created_at"`
}

// AppendRevision writes one revision carrying the serialized deduplicated
// operations of an accepted batch.
func (s *Store) AppendRevision(ctx context.Context, operations json.RawMessage, appliedBy, description string, metadata Metadata) (*Revision, error) {
	id := NewID()
	var by, desc any
	if appliedBy != "" {
		by = appliedBy
	}
	if description != "" {
		desc = description
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO playbook_revisions (id, operations, description, applied_by, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		id, string(operations), desc, by, metadata.encode())
	if err != nil {
		return nil, fmt.Errorf("appending revision: %w", err)
	}
	return s.getRevision(ctx, id)
}

// ListRecentRevisions returns up to limit revisions, newest first.
func (s *Store) ListRecentRevisions(ctx context.Context, limit int) ([]*Revision, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, operations, description, applied_by, metadata, created_at
		FROM playbook_revisions
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing revisions: %w", err)
	}
	defer rows.Close()

	var results []*Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rev)
	}
	return results, rows.Err()
}

func (s *Store) getRevision(ctx context.Context, id string) (*Revision, error) {
	rev, err := scanRevision(s.q.QueryRowContext(ctx, `
		SELECT id, operations, description, applied_by, metadata, created_at
		FROM playbook_revisions WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reading revision %q: %w", id, err)
	}
	return rev, nil
}

func scanRevision(s interface{ Scan(...any) error }) (*Revision, error) {
	rev := &Revision{}
	var operations, metadata string
	var description, appliedBy sql.NullString
	err := s.Scan(&rev.ID, &operations, &description, &appliedBy, &metadata, &rev.CreatedAt)
	if err != nil {
		return nil, err
	}
	rev.Operations = json.RawMessage(operations)
	if description.Valid {
		rev.Description = description.String
	}
	if appliedBy.Valid {
		rev.AppliedBy = appliedBy.String
	}
	rev.Metadata = decodeMetadata(metadata)
	return rev, nil
}
