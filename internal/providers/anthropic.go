package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"
const defaultMaxTokens = 4096

// AnthropicAdapter translates between the OpenAI chat shape and
// Anthropic's Messages API (spec §4.7).
type AnthropicAdapter struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewAnthropic(baseURL, apiKey string) *AnthropicAdapter {
	return &AnthropicAdapter{BaseURL: baseURL, APIKey: apiKey, Client: &http.Client{Timeout: 60 * time.Second}}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model         string              `json:"model"`
	System        string              `json:"system,omitempty"`
	Messages      []anthropicMessage  `json:"messages"`
	MaxTokens     int                 `json:"max_tokens"`
	Temperature   *float64            `json:"temperature,omitempty"`
	TopP          *float64            `json:"top_p,omitempty"`
	StopSequences []string            `json:"stop_sequences,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Content    []anthropicContentBlock `json:"content"`
	Usage      anthropicUsage          `json:"usage"`
}

// toAnthropic performs the request translation described in spec §4.7:
// system role extracted to a top-level field, max_tokens defaulted,
// stop -> stop_sequences.
func toAnthropic(req ChatRequest) anthropicRequest {
	out := anthropicRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	} else {
		out.MaxTokens = defaultMaxTokens
	}
	if len(req.Stop) > 0 {
		out.StopSequences = req.Stop
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			if out.System != "" {
				out.System += "\n" + m.Content
			} else {
				out.System = m.Content
			}
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func fromAnthropic(resp anthropicResponse) ChatResponse {
	var sb strings.Builder
	for _, block := range resp.Content {
		sb.WriteString(block.Text)
	}

	promptTok := resp.Usage.InputTokens
	compTok := resp.Usage.OutputTokens

	return ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Choices: []Choice{{
			Index:        0,
			Message:      Message{Role: "assistant", Content: sb.String()},
			FinishReason: resp.StopReason,
		}},
		Usage: &Usage{
			PromptTokens:     promptTok,
			CompletionTokens: compTok,
			TotalTokens:      promptTok + compTok,
		},
	}
}

func (a *AnthropicAdapter) ChatCompletion(ctx context.Context, req ChatRequest) (*Result, error) {
	body, err := json.Marshal(toAnthropic(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: transport error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return &Result{Status: resp.StatusCode, Body: wrapError(respBody)}, nil
	}

	var decoded anthropicResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("anthropic: malformed response: %w", err)
	}

	openaiShape := fromAnthropic(decoded)
	out, err := json.Marshal(openaiShape)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal translated response: %w", err)
	}

	return &Result{Status: resp.StatusCode, Body: out, Usage: openaiShape.Usage}, nil
}

// Responses has no distinct wire shape for Anthropic: spec §4.7 only
// gives OpenAI a separate /v1/responses route, so this reuses the same
// Messages-API translation as ChatCompletion.
func (a *AnthropicAdapter) Responses(ctx context.Context, req ChatRequest) (*Result, error) {
	return a.ChatCompletion(ctx, req)
}

func (a *AnthropicAdapter) HealthCheck(ctx context.Context) HealthStatus {
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	probe := ChatRequest{
		Model:     "claude-3-haiku-20240307",
		Messages:  []Message{{Role: "user", Content: "ping"}},
		MaxTokens: intPtr(1),
	}
	res, err := a.ChatCompletion(hctx, probe)
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error(), LastChecked: time.Now()}
	}
	return HealthStatus{
		Healthy:      res.Status < 300,
		ResponseTime: time.Since(start),
		LastChecked:  time.Now(),
	}
}

func intPtr(v int) *int { return &v }
