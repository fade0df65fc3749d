// Package playbook implements the delta engine, snapshot builder, and
// prompt-context orchestration over the playbook store.
package playbook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/aceplaybook/internal/db"
	"github.com/hazyhaar/aceplaybook/internal/delta"
)

// Result summarizes one applied batch. RevisionID is empty when the batch
// produced no observable change.
type Result struct {
	Added      []string `json:"added"`
	Updated    []string `json:"updated"`
	Tagged     []string `json:"tagged"`
	Removed    []string `json:"removed"`
	Skipped    []string `json:"skipped"`
	RevisionID string   `json:"revision_id,omitempty"`
}

// HasChanges reports whether any operation produced an observable change.
// Skipped targets alone do not count.
func (r *Result) HasChanges() bool {
	return len(r.Added)+len(r.Updated)+len(r.Tagged)+len(r.Removed) > 0
}

// ApplyOptions carries the audit fields recorded with a batch's revision.
type ApplyOptions struct {
	AppliedBy   string
	Description string
	Metadata    db.Metadata
}

// Engine applies delta batches atomically against the playbook store and
// appends one revision per accepted batch. It is the only component that
// mutates the store; it holds no state of its own and introduces no
// background work.
type Engine struct {
	db     *db.DB
	logger *slog.Logger
}

func NewEngine(database *db.DB, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: database, logger: logger}
}

// Apply deduplicates ops, applies them inside one transaction in batch
// order, and appends a revision when anything changed. On error nothing is
// committed; callers retry the whole batch, not individual operations.
func (e *Engine) Apply(ctx context.Context, ops []delta.Operation, opts ApplyOptions) (*Result, error) {
	deduped := dedupe(ops)
	result := &Result{}
	if len(deduped) == 0 {
		return result, nil
	}

	err := e.db.WithinTx(ctx, func(s *db.Store) error {
		for _, op := range deduped {
			switch op.Action {
			case delta.ActionAdd:
				bulletID, err := applyAdd(ctx, s, op)
				if err != nil {
					return err
				}
				result.Added = append(result.Added, bulletID)
			case delta.ActionUpdate:
				applied, err := applyUpdate(ctx, s, op)
				if err != nil {
					return err
				}
				if applied {
					result.Updated = append(result.Updated, op.BulletID)
				} else {
					result.Skipped = append(result.Skipped, op.BulletID)
				}
			case delta.ActionTag:
				applied, err := applyTag(ctx, s, op)
				if err != nil {
					return err
				}
				if applied {
					result.Tagged = append(result.Tagged, op.BulletID)
				} else {
					result.Skipped = append(result.Skipped, op.BulletID)
				}
			case delta.ActionRemove:
				applied, err := applyRemove(ctx, s, op)
				if err != nil {
					return err
				}
				if applied {
					result.Removed = append(result.Removed, op.BulletID)
				} else {
					result.Skipped = append(result.Skipped, op.BulletID)
				}
			default:
				return fmt.Errorf("unsupported delta action %q", op.Action)
			}
		}

		if result.HasChanges() {
			serialized, err := json.Marshal(deduped)
			if err != nil {
				return fmt.Errorf("serializing operations: %w", err)
			}
			revision, err := s.AppendRevision(ctx, serialized, opts.AppliedBy, opts.Description, opts.Metadata)
			if err != nil {
				return err
			}
			result.RevisionID = revision.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(result.Skipped) > 0 {
		// Expected under concurrent edits: the target was removed between
		// the caller building the batch and this apply.
		e.logger.Warn("skipped playbook deltas", "bullet_ids", result.Skipped)
	}
	return result, nil
}

// dedupe collapses a batch by (action, bullet_id). TAG deltas for the same
// bullet are summed into one operation; for the other actions the last
// operation in batch order wins, keeping the position of the first
// occurrence.
func dedupe(ops []delta.Operation) []delta.Operation {
	index := make(map[delta.Key]int, len(ops))
	deduped := make([]delta.Operation, 0, len(ops))
	for _, op := range ops {
		key := op.DedupeKey()
		i, seen := index[key]
		if !seen {
			index[key] = len(deduped)
			deduped = append(deduped, op)
			continue
		}
		if op.Action == delta.ActionTag {
			deduped[i].HelpfulDelta += op.HelpfulDelta
			deduped[i].HarmfulDelta += op.HarmfulDelta
		} else {
			deduped[i] = op
		}
	}
	return deduped
}

// applyAdd upserts a bullet. Re-proposing an existing bullet_id is treated
// as an update in place, so curator batches that re-suggest a known strategy
// never fail on the identifier collision.
func applyAdd(ctx context.Context, s *db.Store, op delta.Operation) (string, error) {
	section, err := s.GetOrCreateSection(ctx, op.SectionName, op.SectionDisplayName, "", nil)
	if err != nil {
		return "", err
	}

	helpful := op.HelpfulDelta
	if helpful < 0 {
		helpful = 0
	}
	harmful := op.HarmfulDelta
	if harmful < 0 {
		harmful = 0
	}

	existing, err := s.FindBullet(ctx, op.BulletID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		meta := db.Metadata(op.Metadata)
		if meta == nil {
			meta = db.Metadata{}
		}
		_, err := s.UpdateBullet(ctx, existing, db.BulletUpdate{
			Content:      &op.Content,
			Metadata:     meta,
			SectionID:    &section.ID,
			HelpfulCount: &helpful,
			HarmfulCount: &harmful,
		})
		if err != nil {
			return "", err
		}
		return existing.BulletID, nil
	}

	bullet, err := s.CreateBullet(ctx, db.CreateBulletInput{
		BulletID:     op.BulletID,
		SectionID:    section.ID,
		Content:      op.Content,
		Metadata:     db.Metadata(op.Metadata),
		HelpfulCount: helpful,
		HarmfulCount: harmful,
	})
	if err != nil {
		return "", err
	}
	return bullet.BulletID, nil
}

func applyUpdate(ctx context.Context, s *db.Store, op delta.Operation) (bool, error) {
	bullet, err := s.FindBullet(ctx, op.BulletID)
	if err != nil {
		return false, err
	}
	if bullet == nil {
		return false, nil
	}

	upd := db.BulletUpdate{}
	if op.Content != "" {
		upd.Content = &op.Content
	}
	if op.Metadata != nil {
		upd.Metadata = db.Metadata(op.Metadata)
	}
	if op.SectionName != "" {
		section, err := s.GetOrCreateSection(ctx, op.SectionName, op.SectionDisplayName, "", nil)
		if err != nil {
			return false, err
		}
		upd.SectionID = &section.ID
	}
	// An empty update is inert, not an error: the bullet still counts as
	// updated.
	if _, err := s.UpdateBullet(ctx, bullet, upd); err != nil {
		return false, err
	}
	return true, nil
}

func applyTag(ctx context.Context, s *db.Store, op delta.Operation) (bool, error) {
	bullet, err := s.FindBullet(ctx, op.BulletID)
	if err != nil {
		return false, err
	}
	if bullet == nil {
		return false, nil
	}
	if _, err := s.ApplyTag(ctx, bullet, op.HelpfulDelta, op.HarmfulDelta); err != nil {
		return false, err
	}
	return true, nil
}

func applyRemove(ctx context.Context, s *db.Store, op delta.Operation) (bool, error) {
	bullet, err := s.FindBullet(ctx, op.BulletID)
	if err != nil {
		return false, err
	}
	if bullet == nil {
		return false, nil
	}
	if err := s.DeleteBullet(ctx, bullet); err != nil {
		return false, err
	}
	return true, nil
}
