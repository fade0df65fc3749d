// CLAUDE:SUMMARY Generic OpenAI-compatible Provider (OpenAI, DeepSeek, Groq, OpenRouter, etc.)
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIProvider implements the Provider interface for any OpenAI-compatible
// chat completions API.
type OpenAIProvider struct {
	name     string
	baseURL  string
	apiKey   string
	defModel string
	client   *http.Client
}

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	Name         string
	BaseURL      string // e.g. "https://api.openai.com/v1"
	APIKey       string
	DefaultModel string
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		name:     name,
		baseURL:  baseURL,
		apiKey:   cfg.APIKey,
		defModel: cfg.DefaultModel,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defModel
	}
	if model == "" {
		return nil, &ProviderError{Provider: p.name, Err: fmt.Errorf("no model specified")}
	}

	body := openAIRequest{
		Model:    model,
		Messages: make([]openAIMessage, len(req.Messages)),
	}
	for i, m := range req.Messages {
		body.Messages[i] = openAIMessage(m)
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = &req.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Model: model, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Model: model, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	httpResp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Model: model, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: p.name, Model: model, Err: err}
	}

	if httpResp.StatusCode == 429 {
		return nil, &ProviderError{Provider: p.name, Model: model, Err: ErrRateLimited}
	}
	if httpResp.StatusCode != 200 {
		return nil, &ProviderError{Provider: p.name, Model: model,
			Err: fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, truncate(string(respBody), 200))}
	}

	var oaResp openAIResponse
	if err := json.Unmarshal(respBody, &oaResp); err != nil {
		return nil, &ProviderError{Provider: p.name, Model: model, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(oaResp.Choices) == 0 {
		return nil, &ProviderError{Provider: p.name, Model: model, Err: fmt.Errorf("empty choices")}
	}

	return &Response{
		Provider:     p.name,
		Model:        oaResp.Model,
		Content:      oaResp.Choices[0].Message.Content,
		TokensIn:     oaResp.Usage.PromptTokens,
		TokensOut:    oaResp.Usage.CompletionTokens,
		FinishReason: oaResp.Choices[0].FinishReason,
		Latency:      latency,
	}, nil
}

// OpenAI API types
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
