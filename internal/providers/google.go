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

const truncatedPlaceholder = "[Response truncated due to token limit]"

// GoogleAdapter translates between the OpenAI chat shape and Google's
// generateContent API (spec §4.7).
type GoogleAdapter struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewGoogle(baseURL, apiKey string) *GoogleAdapter {
	return &GoogleAdapter{BaseURL: baseURL, APIKey: apiKey, Client: &http.Client{Timeout: 60 * time.Second}}
}

func (a *GoogleAdapter) Name() string { return "google" }

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googleGenerationConfig struct {
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
	ThinkingBudget  *int     `json:"thinkingBudget,omitempty"`
}

type googleRequest struct {
	SystemInstruction *googleContent          `json:"systemInstruction,omitempty"`
	Contents          []googleContent         `json:"contents"`
	GenerationConfig  googleGenerationConfig  `json:"generationConfig,omitempty"`
}

type googleCandidate struct {
	Content      googleContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type googleUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type googleResponse struct {
	Candidates    []googleCandidate    `json:"candidates"`
	UsageMetadata googleUsageMetadata  `json:"usageMetadata"`
}

func toGoogle(req ChatRequest) googleRequest {
	out := googleRequest{}

	for _, m := range req.Messages {
		if m.Role == "system" {
			out.SystemInstruction = &googleContent{Parts: []googlePart{{Text: m.Content}}}
			continue
		}
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		out.Contents = append(out.Contents, googleContent{Role: role, Parts: []googlePart{{Text: m.Content}}})
	}

	out.GenerationConfig = googleGenerationConfig{
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		StopSequences:   req.Stop,
		ThinkingBudget:  req.ThinkingBudget,
	}
	return out
}

func fromGoogle(resp googleResponse) ChatResponse {
	text := ""
	finishReason := ""
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		finishReason = cand.FinishReason
		if len(cand.Content.Parts) == 0 && cand.FinishReason == "MAX_TOKENS" {
			text = truncatedPlaceholder
		} else {
			var sb strings.Builder
			for _, p := range cand.Content.Parts {
				sb.WriteString(p.Text)
			}
			text = sb.String()
		}
	}

	return ChatResponse{
		Choices: []Choice{{
			Index:        0,
			Message:      Message{Role: "assistant", Content: text},
			FinishReason: finishReason,
		}},
		Usage: &Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
	}
}

func (a *GoogleAdapter) ChatCompletion(ctx context.Context, req ChatRequest) (*Result, error) {
	body, err := json.Marshal(toGoogle(req))
	if err != nil {
		return nil, fmt.Errorf("google: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", a.BaseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("google: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.APIKey)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("google: transport error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("google: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return &Result{Status: resp.StatusCode, Body: wrapError(respBody)}, nil
	}

	var decoded googleResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("google: malformed response: %w", err)
	}

	openaiShape := fromGoogle(decoded)
	out, err := json.Marshal(openaiShape)
	if err != nil {
		return nil, fmt.Errorf("google: marshal translated response: %w", err)
	}

	return &Result{Status: resp.StatusCode, Body: out, Usage: openaiShape.Usage}, nil
}

// Responses has no distinct wire shape for Google either: there is a
// single generateContent endpoint regardless of which OpenAI-shaped
// route the client used, so this reuses ChatCompletion's translation.
func (a *GoogleAdapter) Responses(ctx context.Context, req ChatRequest) (*Result, error) {
	return a.ChatCompletion(ctx, req)
}

// HealthCheck is not defined for Google in spec §4.7 ("treat absence as
// implicit"): it makes no upstream call and always reports Healthy with
// LastChecked set to now, which the /health aggregation then lists like
// any other adapter's status.
func (a *GoogleAdapter) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{Healthy: true, LastChecked: time.Now()}
}
