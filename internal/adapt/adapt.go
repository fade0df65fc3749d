// CLAUDE:SUMMARY Adaptation loops: OfflineAdapter trains from labeled
// samples, OnlineAdapter learns from evaluated live traces. Both run
// generate -> evaluate -> reflect -> curate and apply the resulting deltas.
package adapt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/aceplaybook/internal/db"
	"github.com/hazyhaar/aceplaybook/internal/delta"
	"github.com/hazyhaar/aceplaybook/internal/playbook"
	"github.com/hazyhaar/aceplaybook/internal/roles"
)

// Generator produces a task attempt given instructions from the playbook.
type Generator interface {
	Generate(ctx context.Context, payload roles.GeneratorPayload) (*roles.GeneratorResult, error)
}

// Reflector judges an evaluated attempt and proposes playbook deltas.
type Reflector interface {
	Reflect(ctx context.Context, payload roles.ReflectorPayload) (*roles.ReflectionResult, error)
}

// Evaluator scores an attempt against ground truth or live signals.
type Evaluator interface {
	Evaluate(ctx context.Context, task, answer string) (Evaluation, error)
}

// Evaluation is the verdict on one attempt.
type Evaluation struct {
	Success  bool
	Feedback string
}

// Sample is one labeled training example for offline adaptation.
type Sample struct {
	ID   string `json:"id"`
	Task string `json:"task"`
}

// SampleResult records how one sample went through the loop.
type SampleResult struct {
	SampleID   string
	Success    bool
	Answer     string
	RevisionID string
	Err        error
}

// Trace is one completed live interaction handed to the online adapter.
type Trace struct {
	SessionID  string
	Task       string
	Answer     string
	Reasoning  string
	Evaluation Evaluation
}

type loop struct {
	orchestrator *playbook.Orchestrator
	engine       *playbook.Engine
	reflector    Reflector
	logger       *slog.Logger
}

// reflect runs the Reflector over an evaluated attempt, curates its strategy
// feedback into TAG operations, and applies everything as one batch. A
// reflection that yields no operations applies nothing.
func (l *loop) reflect(ctx context.Context, payload roles.ReflectorPayload, opts playbook.ApplyOptions) (string, error) {
	reflection, err := l.reflector.Reflect(ctx, payload)
	if err != nil {
		return "", err
	}

	ops := roles.Curate(reflection.StrategyFeedback)
	for _, op := range reflection.Operations {
		validated, err := delta.New(op)
		if err != nil {
			l.logger.Warn("dropping invalid reflector operation",
				"action", op.Action, "bullet_id", op.BulletID, "error", err)
			continue
		}
		ops = append(ops, validated)
	}
	if len(ops) == 0 {
		return "", nil
	}

	result, err := l.engine.Apply(ctx, ops, opts)
	if err != nil {
		return "", err
	}
	return result.RevisionID, nil
}

// OfflineAdapter grows the playbook from a labeled dataset before deployment.
type OfflineAdapter struct {
	loop
	generator Generator
	evaluator Evaluator
	dataset   string
}

func NewOfflineAdapter(orchestrator *playbook.Orchestrator, engine *playbook.Engine,
	generator Generator, reflector Reflector, evaluator Evaluator,
	dataset string, logger *slog.Logger) *OfflineAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OfflineAdapter{
		loop: loop{
			orchestrator: orchestrator,
			engine:       engine,
			reflector:    reflector,
			logger:       logger,
		},
		generator: generator,
		evaluator: evaluator,
		dataset:   dataset,
	}
}

// Run processes samples in order. A failing sample is recorded and the run
// continues; only a context cancellation stops it early.
func (a *OfflineAdapter) Run(ctx context.Context, samples []Sample) ([]SampleResult, error) {
	results := make([]SampleResult, 0, len(samples))
	for _, sample := range samples {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := a.runSample(ctx, sample)
		if res.Err != nil {
			a.logger.Warn("offline sample failed",
				"sample_id", sample.ID, "error", res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (a *OfflineAdapter) runSample(ctx context.Context, sample Sample) SampleResult {
	res := SampleResult{SampleID: sample.ID}

	block, err := a.orchestrator.BuildContextBlock(ctx)
	if err != nil {
		res.Err = fmt.Errorf("building context: %w", err)
		return res
	}
	payload := roles.GeneratorPayload{Task: sample.Task}
	if block != nil {
		payload.Instructions = block.Instructions
	}
	attempt, err := a.generator.Generate(ctx, payload)
	if err != nil {
		res.Err = fmt.Errorf("generating: %w", err)
		return res
	}
	res.Answer = attempt.Answer

	eval, err := a.evaluator.Evaluate(ctx, sample.Task, attempt.Answer)
	if err != nil {
		res.Err = fmt.Errorf("evaluating: %w", err)
		return res
	}
	res.Success = eval.Success

	revisionID, err := a.reflect(ctx, roles.ReflectorPayload{
		Task:       sample.Task,
		Answer:     attempt.Answer,
		Reasoning:  attempt.Reasoning,
		Evaluation: eval.Feedback,
	}, playbook.ApplyOptions{
		AppliedBy:   "offline-adapter",
		Description: fmt.Sprintf("offline adaptation: sample %s", sample.ID),
		Metadata:    db.Metadata{"dataset": a.dataset, "sample_id": sample.ID},
	})
	if err != nil {
		res.Err = fmt.Errorf("reflecting: %w", err)
		return res
	}
	res.RevisionID = revisionID
	return res
}

// OnlineAdapter folds evaluated live traces back into the playbook.
type OnlineAdapter struct {
	loop
}

func NewOnlineAdapter(orchestrator *playbook.Orchestrator, engine *playbook.Engine,
	reflector Reflector, logger *slog.Logger) *OnlineAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnlineAdapter{
		loop: loop{
			orchestrator: orchestrator,
			engine:       engine,
			reflector:    reflector,
			logger:       logger,
		},
	}
}

// HandleEvent records citation feedback for the trace's cited strategies and
// then reflects on the full attempt. Citation feedback lands even when the
// reflection fails.
func (a *OnlineAdapter) HandleEvent(ctx context.Context, trace Trace) (string, error) {
	cited := playbook.ExtractStrategyMentions(trace.Reasoning)
	if len(cited) > 0 {
		if _, err := a.orchestrator.RecordFeedback(ctx, cited, trace.Evaluation.Success, ""); err != nil {
			a.logger.Warn("recording citation feedback failed",
				"session_id", trace.SessionID, "error", err)
		}
	}

	revisionID, err := a.reflect(ctx, roles.ReflectorPayload{
		Task:       trace.Task,
		Answer:     trace.Answer,
		Reasoning:  trace.Reasoning,
		Evaluation: trace.Evaluation.Feedback,
	}, playbook.ApplyOptions{
		AppliedBy:   "online-adapter",
		Description: fmt.Sprintf("online adaptation: session %s", trace.SessionID),
		Metadata:    db.Metadata{"session_id": trace.SessionID},
	})
	if err != nil {
		return "", fmt.Errorf("reflecting on session %s: %w", trace.SessionID, err)
	}
	return revisionID, nil
}
