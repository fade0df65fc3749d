// CLAUDE:SUMMARY ACE roles: Generator solves tasks with playbook context,
// Reflector turns evaluated attempts into strategy feedback and delta
// operations, Curator converts feedback into TAG deltas.
package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hazyhaar/aceplaybook/internal/delta"
	"github.com/hazyhaar/aceplaybook/internal/llm"
)

// GeneratorPayload is one task attempt request.
type GeneratorPayload struct {
	Task         string `json:"task"`
	Instructions string `json:"instructions,omitempty"`
}

// GeneratorResult is the parsed Generator response.
type GeneratorResult struct {
	Answer     string `json:"answer"`
	Reasoning  string `json:"reasoning"`
	RawContent string `json:"-"`
	Model      string `json:"-"`
}

// StrategyFeedback classifies one cited strategy.
type StrategyFeedback struct {
	BulletID       string `json:"bullet_id"`
	Classification string `json:"classification"`
	Reason         string `json:"reason,omitempty"`
}

// ReflectorPayload bundles everything the Reflector needs to judge an attempt.
type ReflectorPayload struct {
	Task       string `json:"task"`
	Answer     string `json:"answer"`
	Reasoning  string `json:"reasoning"`
	Evaluation string `json:"evaluation"`
}

// ReflectionResult is the parsed Reflector response.
type ReflectionResult struct {
	Analysis         string             `json:"analysis"`
	StrategyFeedback []StrategyFeedback `json:"strategy_feedback"`
	Operations       []delta.Operation  `json:"operations"`
	RawContent       string             `json:"-"`
	Model            string             `json:"-"`
}

const (
	ClassificationHelpful = "helpful"
	ClassificationHarmful = "harmful"
	ClassificationNeutral = "neutral"
)

// Generator produces task attempts grounded in playbook strategies.
type Generator struct {
	client *llm.Client
	model  string
}

func NewGenerator(client *llm.Client, model string) *Generator {
	return &Generator{client: client, model: model}
}

func (g *Generator) Prompt() PromptTemplate { return generatorPrompt }

func (g *Generator) Generate(ctx context.Context, payload GeneratorPayload) (*GeneratorResult, error) {
	if payload.Task == "" {
		return nil, fmt.Errorf("generator: task is required")
	}
	user := payload.Task
	if payload.Instructions != "" {
		user = payload.Instructions + "\n\nTask:\n" + payload.Task
	}
	resp, err := g.client.Complete(ctx, llm.Request{
		Model: g.model,
		Messages: []llm.Message{
			{Role: "system", Content: generatorPrompt.Content},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	var result GeneratorResult
	if err := parseJSONResponse(resp.Content, &result); err != nil {
		// A non-JSON reply is still an answer, just without structure.
		result.Answer = strings.TrimSpace(resp.Content)
	}
	result.RawContent = resp.Content
	result.Model = resp.Model
	return &result, nil
}

// Reflector judges evaluated attempts and proposes playbook deltas.
type Reflector struct {
	client *llm.Client
	model  string
}

func NewReflector(client *llm.Client, model string) *Reflector {
	return &Reflector{client: client, model: model}
}

func (r *Reflector) Prompt() PromptTemplate { return reflectorPrompt }

func (r *Reflector) Reflect(ctx context.Context, payload ReflectorPayload) (*ReflectionResult, error) {
	if payload.Task == "" {
		return nil, fmt.Errorf("reflector: task is required")
	}
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("reflector: encoding payload: %w", err)
	}
	resp, err := r.client.Complete(ctx, llm.Request{
		Model: r.model,
		Messages: []llm.Message{
			{Role: "system", Content: reflectorPrompt.Content},
			{Role: "user", Content: string(body)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reflector: %w", err)
	}
	var result ReflectionResult
	if err := parseJSONResponse(resp.Content, &result); err != nil {
		return nil, fmt.Errorf("reflector: parsing response: %w", err)
	}
	result.RawContent = resp.Content
	result.Model = resp.Model
	return &result, nil
}

// Curate turns strategy feedback into TAG operations. Neutral feedback and
// feedback without a bullet_id produce nothing. Invalid entries are dropped
// rather than failing the batch.
func Curate(feedback []StrategyFeedback) []delta.Operation {
	var ops []delta.Operation
	for _, fb := range feedback {
		if fb.BulletID == "" {
			continue
		}
		op := delta.Operation{
			Action:   delta.ActionTag,
			BulletID: fb.BulletID,
		}
		switch fb.Classification {
		case ClassificationHelpful:
			op.HelpfulDelta = 1
		case ClassificationHarmful:
			op.HarmfulDelta = 1
		default:
			continue
		}
		validated, err := delta.New(op)
		if err != nil {
			continue
		}
		ops = append(ops, validated)
	}
	return ops
}

// parseJSONResponse decodes model output into v, tolerating markdown fences
// and prose around the JSON object.
func parseJSONResponse(content string, v any) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}
