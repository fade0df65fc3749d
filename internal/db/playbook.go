// CLAUDE:SUMMARY Playbook section/bullet models and store queries — lookup, get-or-create, partial update, saturating tag counters, ordered listings
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrDuplicateBullet is returned when creating a bullet whose bullet_id
// already exists anywhere in the store, not just within one section.
var ErrDuplicateBullet = errors.New("bullet id already exists")

// Section groups bullets under a stable name. The name is the key and is
// never reused across renames; DisplayName is the mutable human label.
type Section struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description,omitempty"`
	Ordering    int      `json:"ordering"`
	Metadata    Metadata `json:"metadata"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// Bullet is one stored strategy. BulletID is the caller-supplied stable
// identifier; ID is the storage key.
type Bullet struct {
	ID           string   `json:"id"`
	BulletID     string   `json:"bullet_id"`
	SectionID    string   `json:"section_id"`
	Content      string   `json:"content"`
	HelpfulCount int      `json:"helpful_count"`
	HarmfulCount int      `json:"harmful_count"`
	Metadata     Metadata `json:"metadata"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

// BulletJoin pairs a bullet with its owning section, as loaded by the
// snapshot query.
type BulletJoin struct {
	Bullet  *Bullet
	Section *Section
}

const sectionColumns = `id, name, display_name, description, ordering, metadata, created_at, updated_at`

const bulletColumns = `id, bullet_id, section_id, content, helpful_count, harmful_count, metadata, created_at, updated_at`

// touchExpr refreshes updated_at with the same format the schema defaults use.
const touchExpr = `updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`

func scanSection(s interface{ Scan(...any) error }) (*Section, error) {
	sec := &Section{}
	var description sql.NullString
	var metadata string
	err := s.Scan(&sec.ID, &sec.Name, &sec.DisplayName, &description, &sec.Ordering,
		&metadata, &sec.CreatedAt, &sec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		sec.Description = description.String
	}
	sec.Metadata = decodeMetadata(metadata)
	return sec, nil
}

func scanBullet(s interface{ Scan(...any) error }) (*Bullet, error) {
	b := &Bullet{}
	var metadata string
	err := s.Scan(&b.ID, &b.BulletID, &b.SectionID, &b.Content, &b.HelpfulCount,
		&b.HarmfulCount, &metadata, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Metadata = decodeMetadata(metadata)
	return b, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// FindSection returns the section with the given name, or nil if absent.
func (s *Store) FindSection(ctx context.Context, name string) (*Section, error) {
	sec, err := scanSection(s.q.QueryRowContext(ctx,
		`SELECT `+sectionColumns+` FROM playbook_sections WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding section %q: %w", name, err)
	}
	return sec, nil
}

// GetOrCreateSection fetches the section named name, merging in any provided
// display name, description, and metadata that differ from the stored values.
// A missing section is created with ordering one past the current maximum, so
// new sections always sort after existing ones; the first section gets 1.
func (s *Store) GetOrCreateSection(ctx context.Context, name, displayName, description string, metadata Metadata) (*Section, error) {
	section, err := s.FindSection(ctx, name)
	if err != nil {
		return nil, err
	}
	if section != nil {
		return s.refreshSection(ctx, section, displayName, description, metadata)
	}

	var maxOrdering int
	err = s.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(ordering), 0) FROM playbook_sections`).Scan(&maxOrdering)
	if err != nil {
		return nil, fmt.Errorf("reading max section ordering: %w", err)
	}

	if displayName == "" {
		displayName = displayTitle(name)
	}
	var desc any
	if description != "" {
		desc = description
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO playbook_sections (id, name, display_name, description, ordering, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		NewID(), name, displayName, desc, maxOrdering+1, metadata.encode())
	if err != nil {
		return nil, fmt.Errorf("inserting section %q: %w", name, err)
	}
	return s.FindSection(ctx, name)
}

func (s *Store) refreshSection(ctx context.Context, section *Section, displayName, description string, metadata Metadata) (*Section, error) {
	var sets []string
	var args []any
	if displayName != "" && section.DisplayName != displayName {
		sets = append(sets, "display_name = ?")
		args = append(args, displayName)
	}
	if description != "" && section.Description != description {
		sets = append(sets, "description = ?")
		args = append(args, description)
	}
	if metadata != nil {
		merged := section.Metadata.merge(metadata)
		if merged.encode() != section.Metadata.encode() {
			sets = append(sets, "metadata = ?")
			args = append(args, merged.encode())
		}
	}
	if len(sets) == 0 {
		return section, nil
	}
	sets = append(sets, touchExpr)
	args = append(args, section.ID)
	_, err := s.q.ExecContext(ctx,
		`UPDATE playbook_sections SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("updating section %q: %w", section.Name, err)
	}
	return s.FindSection(ctx, section.Name)
}

// FindBullet returns the bullet with the given bullet_id, or nil if absent.
func (s *Store) FindBullet(ctx context.Context, bulletID string) (*Bullet, error) {
	b, err := scanBullet(s.q.QueryRowContext(ctx,
		`SELECT `+bulletColumns+` FROM playbook_bullets WHERE bullet_id = ?`, bulletID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding bullet %q: %w", bulletID, err)
	}
	return b, nil
}

type CreateBulletInput struct {
	BulletID     string
	SectionID    string
	Content      string
	Metadata     Metadata
	HelpfulCount int
	HarmfulCount int
}

// CreateBullet inserts a new bullet. Negative initial counts are floored at
// zero. Returns ErrDuplicateBullet when the bullet_id is already taken.
func (s *Store) CreateBullet(ctx context.Context, input CreateBulletInput) (*Bullet, error) {
	if input.HelpfulCount < 0 {
		input.HelpfulCount = 0
	}
	if input.HarmfulCount < 0 {
		input.HarmfulCount = 0
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO playbook_bullets (id, bullet_id, section_id, content, helpful_count, harmful_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		NewID(), input.BulletID, input.SectionID, input.Content,
		input.HelpfulCount, input.HarmfulCount, input.Metadata.encode())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("bullet %q: %w", input.BulletID, ErrDuplicateBullet)
		}
		return nil, fmt.Errorf("inserting bullet %q: %w", input.BulletID, err)
	}
	return s.FindBullet(ctx, input.BulletID)
}

// BulletUpdate is a partial update; nil fields are left untouched. A non-nil
// Metadata replaces the stored bag wholesale.
type BulletUpdate struct {
	Content      *string
	Metadata     Metadata
	SectionID    *string
	HelpfulCount *int
	HarmfulCount *int
}

// UpdateBullet applies the provided fields. An empty update returns the
// bullet unchanged without touching the store.
func (s *Store) UpdateBullet(ctx context.Context, bullet *Bullet, upd BulletUpdate) (*Bullet, error) {
	var sets []string
	var args []any
	if upd.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.Metadata != nil {
		sets = append(sets, "metadata = ?")
		args = append(args, upd.Metadata.encode())
	}
	if upd.SectionID != nil {
		sets = append(sets, "section_id = ?")
		args = append(args, *upd.SectionID)
	}
	if upd.HelpfulCount != nil {
		n := *upd.HelpfulCount
		if n < 0 {
			n = 0
		}
		sets = append(sets, "helpful_count = ?")
		args = append(args, n)
	}
	if upd.HarmfulCount != nil {
		n := *upd.HarmfulCount
		if n < 0 {
			n = 0
		}
		sets = append(sets, "harmful_count = ?")
		args = append(args, n)
	}
	if len(sets) == 0 {
		return bullet, nil
	}
	sets = append(sets, touchExpr)
	args = append(args, bullet.ID)
	_, err := s.q.ExecContext(ctx,
		`UPDATE playbook_bullets SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("updating bullet %q: %w", bullet.BulletID, err)
	}
	return s.FindBullet(ctx, bullet.BulletID)
}

// ApplyTag adds the deltas to the bullet's counters, clamping both at zero.
// The counters are saturating: a run of negative deltas can never drive a
// bullet below (0, 0).
func (s *Store) ApplyTag(ctx context.Context, bullet *Bullet, helpfulDelta, harmfulDelta int) (*Bullet, error) {
	newHelpful := bullet.HelpfulCount + helpfulDelta
	if newHelpful < 0 {
		newHelpful = 0
	}
	newHarmful := bullet.HarmfulCount + harmfulDelta
	if newHarmful < 0 {
		newHarmful = 0
	}
	_, err := s.q.ExecContext(ctx,
		`UPDATE playbook_bullets SET helpful_count = ?, harmful_count = ?, `+touchExpr+` WHERE id = ?`,
		newHelpful, newHarmful, bullet.ID)
	if err != nil {
		return nil, fmt.Errorf("tagging bullet %q: %w", bullet.BulletID, err)
	}
	return s.FindBullet(ctx, bullet.BulletID)
}

// DeleteBullet removes the bullet. Its section stays behind even if empty.
func (s *Store) DeleteBullet(ctx context.Context, bullet *Bullet) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM playbook_bullets WHERE id = ?`, bullet.ID)
	if err != nil {
		return fmt.Errorf("deleting bullet %q: %w", bullet.BulletID, err)
	}
	return nil
}

// ListSections returns sections ordered by (ordering, name), optionally
// filtered to the given names.
func (s *Store) ListSections(ctx context.Context, names ...string) ([]*Section, error) {
	query := `SELECT ` + sectionColumns + ` FROM playbook_sections`
	var args []any
	if len(names) > 0 {
		query += ` WHERE name IN (` + placeholders(len(names)) + `)`
		for _, n := range names {
			args = append(args, n)
		}
	}
	query += ` ORDER BY ordering ASC, name ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sections: %w", err)
	}
	defer rows.Close()

	var results []*Section
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sec)
	}
	return results, rows.Err()
}

// ListBullets returns bullets ordered by creation time ascending, optionally
// filtered to bullets whose section name is in sectionNames.
func (s *Store) ListBullets(ctx context.Context, sectionNames ...string) ([]*Bullet, error) {
	query := `SELECT ` + qualify("b", bulletColumns) + ` FROM playbook_bullets b`
	var args []any
	if len(sectionNames) > 0 {
		query += ` JOIN playbook_sections sec ON sec.id = b.section_id
			WHERE sec.name IN (` + placeholders(len(sectionNames)) + `)`
		for _, n := range sectionNames {
			args = append(args, n)
		}
	}
	query += ` ORDER BY b.created_at ASC, b.rowid ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing bullets: %w", err)
	}
	defer rows.Close()

	var results []*Bullet
	for rows.Next() {
		b, err := scanBullet(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, b)
	}
	return results, rows.Err()
}

// ListBulletsWithSections returns bullets joined with their owning section,
// ordered by bullet creation time ascending. Used by the snapshot builder so
// every bullet carries its section even when the section filter excluded it.
func (s *Store) ListBulletsWithSections(ctx context.Context, sectionNames ...string) ([]*BulletJoin, error) {
	query := `SELECT ` + qualify("b", bulletColumns) + `, ` + qualify("sec", sectionColumns) + `
		FROM playbook_bullets b
		JOIN playbook_sections sec ON sec.id = b.section_id`
	var args []any
	if len(sectionNames) > 0 {
		query += ` WHERE sec.name IN (` + placeholders(len(sectionNames)) + `)`
		for _, n := range sectionNames {
			args = append(args, n)
		}
	}
	query += ` ORDER BY b.created_at ASC, b.rowid ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing bullets with sections: %w", err)
	}
	defer rows.Close()

	var results []*BulletJoin
	for rows.Next() {
		b := &Bullet{}
		sec := &Section{}
		var bulletMeta, sectionMeta string
		var description sql.NullString
		err := rows.Scan(
			&b.ID, &b.BulletID, &b.SectionID, &b.Content, &b.HelpfulCount,
			&b.HarmfulCount, &bulletMeta, &b.CreatedAt, &b.UpdatedAt,
			&sec.ID, &sec.Name, &sec.DisplayName, &description, &sec.Ordering,
			&sectionMeta, &sec.CreatedAt, &sec.UpdatedAt)
		if err != nil {
			return nil, err
		}
		b.Metadata = decodeMetadata(bulletMeta)
		if description.Valid {
			sec.Description = description.String
		}
		sec.Metadata = decodeMetadata(sectionMeta)
		results = append(results, &BulletJoin{Bullet: b, Section: sec})
	}
	return results, rows.Err()
}

// placeholders returns "?, ?, ..." for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// qualify prefixes each column in a comma-separated list with a table alias.
func qualify(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

// displayTitle derives a human label from a section name
// ("edge_cases" -> "Edge Cases").
func displayTitle(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	if len(words) == 0 {
		return name
	}
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
