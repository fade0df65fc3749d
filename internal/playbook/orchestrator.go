// CLAUDE:SUMMARY Orchestrator — prompt context block from top strategies, [ACE:id] citation extraction, TAG feedback batches
package playbook

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/aceplaybook/internal/delta"
)

// strategyTagRe matches bullet citations in generated text, e.g. [ACE:s1].
var strategyTagRe = regexp.MustCompile(`\[ACE:([a-zA-Z0-9_.-]+)\]`)

// ContextBlock is a formatted instruction appendix plus the bullet ids it
// references, in presentation order.
type ContextBlock struct {
	Instructions string   `json:"instructions"`
	BulletIDs    []string `json:"bullet_ids"`
}

// Orchestrator enriches agent prompts with playbook context and turns
// citation feedback into TAG batches.
type Orchestrator struct {
	engine        *Engine
	builder       *Builder
	maxStrategies int
	appliedBy     string
}

func NewOrchestrator(engine *Engine, builder *Builder, maxStrategies int, appliedBy string) *Orchestrator {
	if maxStrategies < 1 {
		maxStrategies = 1
	}
	if appliedBy == "" {
		appliedBy = "ace-orchestrator"
	}
	return &Orchestrator{
		engine:        engine,
		builder:       builder,
		maxStrategies: maxStrategies,
		appliedBy:     appliedBy,
	}
}

// BuildContextBlock selects the top strategies by (helpful - harmful,
// created_at) descending and formats them as an instruction block. Returns
// nil when the playbook is empty.
func (o *Orchestrator) BuildContextBlock(ctx context.Context) (*ContextBlock, error) {
	snapshot, err := o.builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	if len(snapshot.Bullets) == 0 {
		return nil, nil
	}

	bullets := make([]*BulletView, 0, len(snapshot.Bullets))
	for _, b := range snapshot.Bullets {
		bullets = append(bullets, b)
	}
	sort.Slice(bullets, func(i, j int) bool {
		si := bullets[i].HelpfulCount - bullets[i].HarmfulCount
		sj := bullets[j].HelpfulCount - bullets[j].HarmfulCount
		if si != sj {
			return si > sj
		}
		if bullets[i].CreatedAt != bullets[j].CreatedAt {
			return bullets[i].CreatedAt > bullets[j].CreatedAt
		}
		return bullets[i].BulletID < bullets[j].BulletID
	})
	if len(bullets) > o.maxStrategies {
		bullets = bullets[:o.maxStrategies]
	}

	ids := make([]string, len(bullets))
	for i, b := range bullets {
		ids[i] = b.BulletID
	}
	return &ContextBlock{
		Instructions: formatInstructions(bullets),
		BulletIDs:    ids,
	}, nil
}

// MergeInstructions appends the context block to base instructions.
func (o *Orchestrator) MergeInstructions(base string, block *ContextBlock) string {
	if block == nil {
		return base
	}
	return base + "\n\n" + block.Instructions
}

// RecordFeedback applies one TAG per cited bullet: helpful on success,
// harmful otherwise. Duplicate citations within one call count once.
func (o *Orchestrator) RecordFeedback(ctx context.Context, bulletIDs []string, success bool, reason string) (*Result, error) {
	seen := make(map[string]bool, len(bulletIDs))
	var ops []delta.Operation
	for _, id := range bulletIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		op := delta.Operation{Action: delta.ActionTag, BulletID: id}
		if success {
			op.HelpfulDelta = 1
		} else {
			op.HarmfulDelta = 1
		}
		validated, err := delta.New(op)
		if err != nil {
			return nil, err
		}
		ops = append(ops, validated)
	}
	if len(ops) == 0 {
		return nil, nil
	}

	description := reason
	if description == "" {
		if success {
			description = "ACE success"
		} else {
			description = "ACE remediation"
		}
	}
	return o.engine.Apply(ctx, ops, ApplyOptions{
		AppliedBy:   o.appliedBy,
		Description: description,
	})
}

// ExtractStrategyMentions returns the bullet ids cited as [ACE:<id>] in
// text, in order of appearance.
func ExtractStrategyMentions(text string) []string {
	matches := strategyTagRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}

func formatInstructions(bullets []*BulletView) string {
	var sb strings.Builder
	sb.WriteString("ACE Strategy Playbook:\n")
	sb.WriteString("When you leverage a strategy, cite it as [ACE:<strategy_id>] so reflections can track usage.")
	for _, b := range bullets {
		fmt.Fprintf(&sb, "\n- [ACE:%s] (%s) %s", b.BulletID, b.SectionDisplayName, strings.TrimSpace(b.Content))
	}
	return sb.String()
}
