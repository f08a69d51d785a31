package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIAdapter passes the request straight through to the OpenAI
// chat-completions or responses endpoint (spec §4.7: "Passthrough").
type OpenAIAdapter struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewOpenAI(baseURL, apiKey string) *OpenAIAdapter {
	return &OpenAIAdapter{BaseURL: baseURL, APIKey: apiKey, Client: &http.Client{Timeout: 60 * time.Second}}
}

func (a *OpenAIAdapter) Name() string { return "openai" }

// ChatCompletion posts to /v1/chat/completions (spec §4.7).
func (a *OpenAIAdapter) ChatCompletion(ctx context.Context, req ChatRequest) (*Result, error) {
	return a.post(ctx, req, "/v1/chat/completions")
}

// Responses posts to /v1/responses (spec §4.7: "POST the body to
// /v1/chat/completions or /v1/responses ... depending on" the capability
// invoked); both routes are plain passthrough at the configured base URL.
func (a *OpenAIAdapter) Responses(ctx context.Context, req ChatRequest) (*Result, error) {
	return a.post(ctx, req, "/v1/responses")
}

func (a *OpenAIAdapter) post(ctx context.Context, req ChatRequest, path string) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: transport error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return &Result{Status: resp.StatusCode, Body: wrapError(respBody)}, nil
	}

	var decoded ChatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("openai: malformed response: %w", err)
	}
	if len(decoded.Choices) == 0 && decoded.ID == "" {
		return nil, fmt.Errorf("openai: response missing choices[] and id/model")
	}

	return &Result{Status: resp.StatusCode, Body: respBody, Usage: decoded.Usage}, nil
}

func (a *OpenAIAdapter) HealthCheck(ctx context.Context) HealthStatus {
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(hctx, http.MethodGet, a.BaseURL+"/v1/models", nil)
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error(), LastChecked: time.Now()}
	}
	req.Header.Set("Authorization", "Bearer "+a.APIKey)

	resp, err := a.Client.Do(req)
	if err != nil {
		return HealthStatus{Healthy: false, Error: err.Error(), LastChecked: time.Now()}
	}
	defer resp.Body.Close()

	return HealthStatus{
		Healthy:      resp.StatusCode < 300,
		ResponseTime: time.Since(start),
		LastChecked:  time.Now(),
	}
}

func wrapError(body []byte) []byte {
	out, err := json.Marshal(map[string]interface{}{"error": json.RawMessage(body)})
	if err != nil {
		return body
	}
	return out
}
