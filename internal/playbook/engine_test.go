package playbook

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/aceplaybook/internal/db"
	"github.com/hazyhaar/aceplaybook/internal/delta"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "playbook.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func mustOp(t *testing.T, op delta.Operation) delta.Operation {
	t.Helper()
	validated, err := delta.New(op)
	if err != nil {
		t.Fatalf("delta.New: %v", err)
	}
	return validated
}

func TestEngineLifecycle(t *testing.T) {
	database := openTestDB(t)
	engine := NewEngine(database, nil)
	store := database.Store()
	ctx := context.Background()

	t.Run("Add", func(t *testing.T) {
		result, err := engine.Apply(ctx, []delta.Operation{
			mustOp(t, delta.Operation{
				Action: delta.ActionAdd, BulletID: "s1",
				SectionName: "core", Content: "always check inputs",
			}),
		}, ApplyOptions{AppliedBy: "curator"})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if len(result.Added) != 1 || result.Added[0] != "s1" {
			t.Errorf("Added = %v, want [s1]", result.Added)
		}
		if result.RevisionID == "" {
			t.Error("expected a revision for an effective batch")
		}

		bullet, err := store.FindBullet(ctx, "s1")
		if err != nil {
			t.Fatalf("FindBullet: %v", err)
		}
		if bullet == nil {
			t.Fatal("bullet not stored")
		}
		if bullet.Content != "always check inputs" {
			t.Errorf("content = %q", bullet.Content)
		}
	})

	t.Run("Update", func(t *testing.T) {
		result, err := engine.Apply(ctx, []delta.Operation{
			mustOp(t, delta.Operation{
				Action: delta.ActionUpdate, BulletID: "s1", Content: "validate inputs at the edge",
			}),
		}, ApplyOptions{AppliedBy: "curator"})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if len(result.Updated) != 1 {
			t.Fatalf("Updated = %v, want [s1]", result.Updated)
		}
		bullet, _ := store.FindBullet(ctx, "s1")
		if bullet.Content != "validate inputs at the edge" {
			t.Errorf("content = %q", bullet.Content)
		}
	})

	t.Run("Tag", func(t *testing.T) {
		result, err := engine.Apply(ctx, []delta.Operation{
			mustOp(t, delta.Operation{
				Action: delta.ActionTag, BulletID: "s1", HelpfulDelta: 3, HarmfulDelta: -1,
			}),
		}, ApplyOptions{AppliedBy: "curator"})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if len(result.Tagged) != 1 {
			t.Fatalf("Tagged = %v, want [s1]", result.Tagged)
		}
		bullet, _ := store.FindBullet(ctx, "s1")
		if bullet.HelpfulCount != 3 || bullet.HarmfulCount != 0 {
			t.Errorf("counts = (%d, %d), want (3, 0)", bullet.HelpfulCount, bullet.HarmfulCount)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		result, err := engine.Apply(ctx, []delta.Operation{
			mustOp(t, delta.Operation{Action: delta.ActionRemove, BulletID: "s1"}),
		}, ApplyOptions{AppliedBy: "curator"})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if len(result.Removed) != 1 {
			t.Fatalf("Removed = %v, want [s1]", result.Removed)
		}
		bullet, _ := store.FindBullet(ctx, "s1")
		if bullet != nil {
			t.Error("bullet still present after REMOVE")
		}
	})
}

func TestEngineAddIsUpsert(t *testing.T) {
	database := openTestDB(t)
	engine := NewEngine(database, nil)
	store := database.Store()
	ctx := context.Background()

	add := func(content, section string) (*Result, error) {
		return engine.Apply(ctx, []delta.Operation{
			mustOp(t, delta.Operation{
				Action: delta.ActionAdd, BulletID: "s1",
				SectionName: section, Content: content, HelpfulDelta: 2,
			}),
		}, ApplyOptions{AppliedBy: "curator"})
	}

	if _, err := add("first version", "core"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	result, err := add("second version", "edge_cases")
	if err != nil {
		t.Fatalf("re-ADD of existing bullet: %v", err)
	}
	if len(result.Added) != 1 {
		t.Errorf("Added = %v, want [s1]", result.Added)
	}

	bullet, _ := store.FindBullet(ctx, "s1")
	if bullet.Content != "second version" {
		t.Errorf("content = %q, want second version", bullet.Content)
	}
	section, _ := store.FindSection(ctx, "edge_cases")
	if bullet.SectionID != section.ID {
		t.Error("re-ADD did not move the bullet to the new section")
	}
	bullets, _ := store.ListBullets(ctx)
	if len(bullets) != 1 {
		t.Errorf("bullets = %d, want 1 after upsert", len(bullets))
	}
}

func TestEngineSkipsMissingTargets(t *testing.T) {
	database := openTestDB(t)
	engine := NewEngine(database, nil)
	store := database.Store()
	ctx := context.Background()

	t.Run("AllSkippedNoRevision", func(t *testing.T) {
		result, err := engine.Apply(ctx, []delta.Operation{
			mustOp(t, delta.Operation{Action: delta.ActionUpdate, BulletID: "ghost1", Content: "x"}),
			mustOp(t, delta.Operation{Action: delta.ActionTag, BulletID: "ghost2", HelpfulDelta: 1}),
			mustOp(t, delta.Operation{Action: delta.ActionRemove, BulletID: "ghost3"}),
		}, ApplyOptions{AppliedBy: "curator"})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if len(result.Skipped) != 3 {
			t.Errorf("Skipped = %v, want 3 entries", result.Skipped)
		}
		if result.HasChanges() {
			t.Error("HasChanges() = true for an all-skipped batch")
		}
		if result.RevisionID != "" {
			t.Errorf("RevisionID = %q, want empty", result.RevisionID)
		}
		revisions, _ := store.ListRecentRevisions(ctx, 0)
		if len(revisions) != 0 {
			t.Errorf("revisions = %d, want 0 for a no-op batch", len(revisions))
		}
	})

	t.Run("MixedBatchStillCommits", func(t *testing.T) {
		result, err := engine.Apply(ctx, []delta.Operation{
			mustOp(t, delta.Operation{
				Action: delta.ActionAdd, BulletID: "s1",
				SectionName: "core", Content: "real strategy",
			}),
			mustOp(t, delta.Operation{Action: delta.ActionTag, BulletID: "ghost", HelpfulDelta: 1}),
		}, ApplyOptions{AppliedBy: "curator"})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if len(result.Added) != 1 || len(result.Skipped) != 1 {
			t.Errorf("result = %+v, want one added and one skipped", result)
		}
		if result.RevisionID == "" {
			t.Error("expected a revision when part of the batch applied")
		}
	})
}

func TestEngineDedupe(t *testing.T) {
	database := openTestDB(t)
	engine := NewEngine(database, nil)
	store := database.Store()
	ctx := context.Background()

	if _, err := engine.Apply(ctx, []delta.Operation{
		mustOp(t, delta.Operation{
			Action: delta.ActionAdd, BulletID: "s1",
			SectionName: "core", Content: "strategy",
		}),
	}, ApplyOptions{AppliedBy: "curator"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	t.Run("TagDeltasSum", func(t *testing.T) {
		result, err := engine.Apply(ctx, []delta.Operation{
			mustOp(t, delta.Operation{Action: delta.ActionTag, BulletID: "s1", HelpfulDelta: 1}),
			mustOp(t, delta.Operation{Action: delta.ActionTag, BulletID: "s1", HelpfulDelta: 1, HarmfulDelta: 1}),
		}, ApplyOptions{AppliedBy: "curator"})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if len(result.Tagged) != 1 {
			t.Errorf("Tagged = %v, want single collapsed TAG", result.Tagged)
		}
		bullet, _ := store.FindBullet(ctx, "s1")
		if bullet.HelpfulCount != 2 || bullet.HarmfulCount != 1 {
			t.Errorf("counts = (%d, %d), want (2, 1)", bullet.HelpfulCount, bullet.HarmfulCount)
		}
	})

	t.Run("LastUpdateWins", func(t *testing.T) {
		result, err := engine.Apply(ctx, []delta.Operation{
			mustOp(t, delta.Operation{Action: delta.ActionUpdate, BulletID: "s1", Content: "first"}),
			mustOp(t, delta.Operation{Action: delta.ActionUpdate, BulletID: "s1", Content: "second"}),
		}, ApplyOptions{AppliedBy: "curator"})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if len(result.Updated) != 1 {
			t.Errorf("Updated = %v, want single collapsed UPDATE", result.Updated)
		}
		bullet, _ := store.FindBullet(ctx, "s1")
		if bullet.Content != "second" {
			t.Errorf("content = %q, want second", bullet.Content)
		}
	})

	t.Run("DifferentActionsSurvive", func(t *testing.T) {
		ops := []delta.Operation{
			mustOp(t, delta.Operation{Action: delta.ActionUpdate, BulletID: "s1", Content: "x"}),
			mustOp(t, delta.Operation{Action: delta.ActionTag, BulletID: "s1", HelpfulDelta: 1}),
		}
		deduped := dedupe(ops)
		if len(deduped) != 2 {
			t.Errorf("dedupe collapsed distinct actions: %v", deduped)
		}
	})
}

func TestEngineEmptyBatch(t *testing.T) {
	database := openTestDB(t)
	engine := NewEngine(database, nil)
	ctx := context.Background()

	result, err := engine.Apply(ctx, nil, ApplyOptions{AppliedBy: "curator"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.HasChanges() || result.RevisionID != "" {
		t.Errorf("empty batch produced changes: %+v", result)
	}
}

func TestEngineAtomicity(t *testing.T) {
	database := openTestDB(t)
	engine := NewEngine(database, nil)
	store := database.Store()
	ctx := context.Background()

	// The second operation bypasses validation so the engine fails mid-batch;
	// the ADD before it must not survive the rollback.
	ops := []delta.Operation{
		mustOp(t, delta.Operation{
			Action: delta.ActionAdd, BulletID: "s1",
			SectionName: "core", Content: "strategy",
		}),
		{Action: "BOGUS", BulletID: "s2"},
	}
	if _, err := engine.Apply(ctx, ops, ApplyOptions{AppliedBy: "curator"}); err == nil {
		t.Fatal("Apply with an unsupported action did not fail")
	}

	bullet, err := store.FindBullet(ctx, "s1")
	if err != nil {
		t.Fatalf("FindBullet: %v", err)
	}
	if bullet != nil {
		t.Error("ADD survived a failed batch")
	}
	sections, _ := store.ListSections(ctx)
	if len(sections) != 0 {
		t.Errorf("sections = %d, want 0 after rollback", len(sections))
	}
	revisions, _ := store.ListRecentRevisions(ctx, 0)
	if len(revisions) != 0 {
		t.Errorf("revisions = %d, want 0 after rollback", len(revisions))
	}
}

func TestEngineRevisionRecordsBatch(t *testing.T) {
	database := openTestDB(t)
	engine := NewEngine(database, nil)
	store := database.Store()
	ctx := context.Background()

	result, err := engine.Apply(ctx, []delta.Operation{
		mustOp(t, delta.Operation{
			Action: delta.ActionAdd, BulletID: "s1",
			SectionName: "core", Content: "strategy",
		}),
	}, ApplyOptions{
		AppliedBy:   "offline-adapter",
		Description: "seed batch",
		Metadata:    db.Metadata{"dataset": "train-v1"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	revisions, err := store.ListRecentRevisions(ctx, 1)
	if err != nil {
		t.Fatalf("ListRecentRevisions: %v", err)
	}
	if len(revisions) != 1 {
		t.Fatalf("revisions = %d, want 1", len(revisions))
	}
	rev := revisions[0]
	if rev.ID != result.RevisionID {
		t.Errorf("revision id = %q, want %q", rev.ID, result.RevisionID)
	}
	if rev.AppliedBy != "offline-adapter" {
		t.Errorf("applied_by = %q, want offline-adapter", rev.AppliedBy)
	}
	if rev.Description != "seed batch" {
		t.Errorf("description = %q, want seed batch", rev.Description)
	}
	if rev.Metadata["dataset"] != "train-v1" {
		t.Errorf("metadata dataset = %v, want train-v1", rev.Metadata["dataset"])
	}
}
