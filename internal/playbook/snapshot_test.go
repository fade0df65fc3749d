package playbook

import (
	"context"
	"testing"

	"github.com/hazyhaar/aceplaybook/internal/delta"
)

func seedPlaybook(t *testing.T, engine *Engine) {
	t.Helper()
	_, err := engine.Apply(context.Background(), []delta.Operation{
		mustOp(t, delta.Operation{Action: delta.ActionAdd, BulletID: "s1", SectionName: "core", Content: "check inputs"}),
		mustOp(t, delta.Operation{Action: delta.ActionAdd, BulletID: "s2", SectionName: "core", Content: "prefer retries"}),
		mustOp(t, delta.Operation{Action: delta.ActionAdd, BulletID: "e1", SectionName: "edge_cases", Content: "empty payloads"}),
	}, ApplyOptions{AppliedBy: "seed"})
	if err != nil {
		t.Fatalf("seeding playbook: %v", err)
	}
}

func TestSnapshotBuild(t *testing.T) {
	database := openTestDB(t)
	engine := NewEngine(database, nil)
	builder := NewBuilder(database)
	ctx := context.Background()
	seedPlaybook(t, engine)

	snapshot, err := builder.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	t.Run("Complete", func(t *testing.T) {
		if len(snapshot.Bullets) != 3 {
			t.Errorf("bullets = %d, want 3", len(snapshot.Bullets))
		}
		if len(snapshot.Sections) != 2 {
			t.Errorf("sections = %d, want 2", len(snapshot.Sections))
		}
	})

	t.Run("EveryBulletInExactlyOneSection", func(t *testing.T) {
		seen := make(map[string]int)
		for _, sec := range snapshot.Sections {
			for _, id := range sec.BulletIDs {
				seen[id]++
			}
		}
		for id := range snapshot.Bullets {
			if seen[id] != 1 {
				t.Errorf("bullet %q listed %d times across sections, want 1", id, seen[id])
			}
		}
	})

	t.Run("OrderedSections", func(t *testing.T) {
		ordered := snapshot.OrderedSections()
		if len(ordered) != 2 {
			t.Fatalf("ordered sections = %d, want 2", len(ordered))
		}
		if ordered[0].Name != "core" || ordered[1].Name != "edge_cases" {
			t.Errorf("section order = [%s, %s], want [core, edge_cases]",
				ordered[0].Name, ordered[1].Name)
		}
	})

	t.Run("BulletsInCreationOrder", func(t *testing.T) {
		core := snapshot.Sections["core"]
		if core == nil {
			t.Fatal("core section missing")
		}
		want := []string{"s1", "s2"}
		if len(core.BulletIDs) != len(want) {
			t.Fatalf("core bullet ids = %v, want %v", core.BulletIDs, want)
		}
		for i := range want {
			if core.BulletIDs[i] != want[i] {
				t.Errorf("core bullet ids = %v, want %v", core.BulletIDs, want)
			}
		}
	})

	t.Run("DenormalizedSectionFields", func(t *testing.T) {
		b := snapshot.Bullets["e1"]
		if b == nil {
			t.Fatal("bullet e1 missing")
		}
		if b.SectionName != "edge_cases" || b.SectionDisplayName != "Edge Cases" {
			t.Errorf("section fields = (%q, %q)", b.SectionName, b.SectionDisplayName)
		}
	})
}

func TestSnapshotSectionFilter(t *testing.T) {
	database := openTestDB(t)
	engine := NewEngine(database, nil)
	builder := NewBuilder(database)
	ctx := context.Background()
	seedPlaybook(t, engine)

	snapshot, err := builder.Build(ctx, "core")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snapshot.Sections) != 1 {
		t.Errorf("sections = %d, want 1", len(snapshot.Sections))
	}
	if len(snapshot.Bullets) != 2 {
		t.Errorf("bullets = %d, want 2", len(snapshot.Bullets))
	}
	if _, ok := snapshot.Bullets["e1"]; ok {
		t.Error("filtered snapshot contains bullet from excluded section")
	}
}

func TestSnapshotEmptySectionKept(t *testing.T) {
	database := openTestDB(t)
	engine := NewEngine(database, nil)
	builder := NewBuilder(database)
	ctx := context.Background()

	// REMOVE leaves the section behind; the snapshot must show it empty.
	if _, err := engine.Apply(ctx, []delta.Operation{
		mustOp(t, delta.Operation{Action: delta.ActionAdd, BulletID: "s1", SectionName: "core", Content: "x"}),
	}, ApplyOptions{AppliedBy: "seed"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := engine.Apply(ctx, []delta.Operation{
		mustOp(t, delta.Operation{Action: delta.ActionRemove, BulletID: "s1"}),
	}, ApplyOptions{AppliedBy: "seed"}); err != nil {
		t.Fatalf("remove: %v", err)
	}

	snapshot, err := builder.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	core := snapshot.Sections["core"]
	if core == nil {
		t.Fatal("empty section dropped from snapshot")
	}
	if len(core.BulletIDs) != 0 {
		t.Errorf("core bullet ids = %v, want empty", core.BulletIDs)
	}
}
