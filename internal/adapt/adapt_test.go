package adapt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/aceplaybook/internal/db"
	"github.com/hazyhaar/aceplaybook/internal/delta"
	"github.com/hazyhaar/aceplaybook/internal/playbook"
	"github.com/hazyhaar/aceplaybook/internal/roles"
)

func testHarness(t *testing.T) (*db.DB, *playbook.Engine, *playbook.Orchestrator) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "playbook.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	engine := playbook.NewEngine(database, nil)
	builder := playbook.NewBuilder(database)
	orchestrator := playbook.NewOrchestrator(engine, builder, 5, "")
	return database, engine, orchestrator
}

type fakeGenerator struct {
	answer       string
	reasoning    string
	instructions []string
	err          error
}

func (g *fakeGenerator) Generate(_ context.Context, payload roles.GeneratorPayload) (*roles.GeneratorResult, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.instructions = append(g.instructions, payload.Instructions)
	return &roles.GeneratorResult{Answer: g.answer, Reasoning: g.reasoning}, nil
}

type fakeReflector struct {
	result *roles.ReflectionResult
	err    error
	calls  int
}

func (r *fakeReflector) Reflect(_ context.Context, _ roles.ReflectorPayload) (*roles.ReflectionResult, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

type fakeEvaluator struct {
	success bool
}

func (e *fakeEvaluator) Evaluate(_ context.Context, _, _ string) (Evaluation, error) {
	return Evaluation{Success: e.success, Feedback: "checked against ground truth"}, nil
}

func TestOfflineAdapterRun(t *testing.T) {
	database, engine, orchestrator := testHarness(t)
	store := database.Store()
	ctx := context.Background()

	generator := &fakeGenerator{answer: "42", reasoning: "direct computation"}
	reflector := &fakeReflector{result: &roles.ReflectionResult{
		Analysis: "should remember to narrow the search",
		Operations: []delta.Operation{
			{Action: delta.ActionAdd, BulletID: "s1", SectionName: "core", Content: "narrow the search space first"},
		},
	}}
	adapter := NewOfflineAdapter(orchestrator, engine, generator, reflector,
		&fakeEvaluator{success: true}, "train-v1", nil)

	results, err := adapter.Run(ctx, []Sample{
		{ID: "sample-1", Task: "compute the answer"},
		{ID: "sample-2", Task: "compute it again"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Errorf("sample %s failed: %v", res.SampleID, res.Err)
		}
		if !res.Success {
			t.Errorf("sample %s success = false, want true", res.SampleID)
		}
	}
	if results[0].RevisionID == "" {
		t.Error("first sample produced no revision despite an ADD")
	}

	bullet, err := store.FindBullet(ctx, "s1")
	if err != nil {
		t.Fatalf("FindBullet: %v", err)
	}
	if bullet == nil {
		t.Fatal("reflector ADD not applied")
	}

	revisions, _ := store.ListRecentRevisions(ctx, 1)
	if revisions[0].AppliedBy != "offline-adapter" {
		t.Errorf("applied_by = %q, want offline-adapter", revisions[0].AppliedBy)
	}
	if revisions[0].Metadata["dataset"] != "train-v1" {
		t.Errorf("metadata dataset = %v, want train-v1", revisions[0].Metadata["dataset"])
	}

	// The second sample saw the strategy added by the first.
	if len(generator.instructions) != 2 {
		t.Fatalf("generator calls = %d, want 2", len(generator.instructions))
	}
	if generator.instructions[0] != "" {
		t.Errorf("first sample instructions = %q, want empty for an empty playbook", generator.instructions[0])
	}
	if generator.instructions[1] == "" {
		t.Error("second sample got no playbook context")
	}
}

func TestOfflineAdapterContinuesPastFailures(t *testing.T) {
	_, engine, orchestrator := testHarness(t)

	generator := &fakeGenerator{err: errors.New("provider down")}
	reflector := &fakeReflector{result: &roles.ReflectionResult{}}
	adapter := NewOfflineAdapter(orchestrator, engine, generator, reflector,
		&fakeEvaluator{}, "train-v1", nil)

	results, err := adapter.Run(context.Background(), []Sample{
		{ID: "sample-1", Task: "t1"},
		{ID: "sample-2", Task: "t2"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 despite failures", len(results))
	}
	for _, res := range results {
		if res.Err == nil {
			t.Errorf("sample %s err = nil, want generator failure", res.SampleID)
		}
	}
	if reflector.calls != 0 {
		t.Errorf("reflector calls = %d, want 0 when generation fails", reflector.calls)
	}
}

func TestOnlineAdapterHandleEvent(t *testing.T) {
	database, engine, orchestrator := testHarness(t)
	store := database.Store()
	ctx := context.Background()

	// Seed a strategy the trace cites.
	if _, err := engine.Apply(ctx, []delta.Operation{
		{Action: delta.ActionAdd, BulletID: "s1", SectionName: "core", Content: "strategy"},
	}, playbook.ApplyOptions{AppliedBy: "seed"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reflector := &fakeReflector{result: &roles.ReflectionResult{
		StrategyFeedback: []roles.StrategyFeedback{
			{BulletID: "s1", Classification: roles.ClassificationHelpful},
		},
	}}
	adapter := NewOnlineAdapter(orchestrator, engine, reflector, nil)

	revisionID, err := adapter.HandleEvent(ctx, Trace{
		SessionID:  "sess-1",
		Task:       "compute the answer",
		Answer:     "42",
		Reasoning:  "leaned on [ACE:s1]",
		Evaluation: Evaluation{Success: true, Feedback: "correct"},
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if revisionID == "" {
		t.Error("expected a revision from curated feedback")
	}

	// One helpful TAG from the citation feedback, one from curation.
	bullet, _ := store.FindBullet(ctx, "s1")
	if bullet.HelpfulCount != 2 {
		t.Errorf("helpful = %d, want 2", bullet.HelpfulCount)
	}

	revisions, _ := store.ListRecentRevisions(ctx, 1)
	if revisions[0].AppliedBy != "online-adapter" {
		t.Errorf("applied_by = %q, want online-adapter", revisions[0].AppliedBy)
	}
	if revisions[0].Metadata["session_id"] != "sess-1" {
		t.Errorf("metadata session_id = %v, want sess-1", revisions[0].Metadata["session_id"])
	}
}

func TestOnlineAdapterEmptyReflection(t *testing.T) {
	_, engine, orchestrator := testHarness(t)

	reflector := &fakeReflector{result: &roles.ReflectionResult{Analysis: "nothing to learn"}}
	adapter := NewOnlineAdapter(orchestrator, engine, reflector, nil)

	revisionID, err := adapter.HandleEvent(context.Background(), Trace{
		SessionID:  "sess-2",
		Task:       "t",
		Answer:     "a",
		Reasoning:  "no citations here",
		Evaluation: Evaluation{Success: false, Feedback: "wrong"},
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if revisionID != "" {
		t.Errorf("revision id = %q, want empty for an empty reflection", revisionID)
	}
}
