package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaClient speaks a local Ollama server. Every generate request sets
// keep_alive to zero so models never linger in memory between jobs.
type OllamaClient struct {
	BaseClient
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaClient creates an Ollama client. An empty base URL yields an
// unconfigured client.
func NewOllamaClient(baseURL, model string, timeout time.Duration) *OllamaClient {
	if model == "" {
		model = ModelOllamaDefault
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (c *OllamaClient) Name() string { return ProviderOllama }

// Configured reports whether a base URL is set. Reachability is the
// probe's concern.
func (c *OllamaClient) Configured() bool { return c.baseURL != "" }

type ollamaGenerateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	System    string `json:"system,omitempty"`
	Format    string `json:"format,omitempty"`
	Stream    bool   `json:"stream"`
	KeepAlive int    `json:"keep_alive"` // Always 0: unload after the call
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate sends a non-streaming generate request.
func (c *OllamaClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if !c.Configured() {
		return nil, &NotConfiguredError{Provider: ProviderOllama}
	}

	apiReq := ollamaGenerateRequest{
		Model:     c.model,
		Prompt:    req.Prompt,
		System:    req.System,
		Stream:    false,
		KeepAlive: 0,
	}
	if req.JSONMode {
		apiReq.Format = "json"
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOllama, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &ProviderError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.TrackUsage(apiResp.PromptEvalCount, apiResp.EvalCount)

	return &GenerateResult{
		Text:     apiResp.Response,
		Provider: ProviderOllama,
		Model:    c.model,
	}, nil
}

// Probe checks the tags endpoint for reachability.
func (c *OllamaClient) Probe(ctx context.Context) error {
	if !c.Configured() {
		return &NotConfiguredError{Provider: ProviderOllama}
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &ProviderError{Provider: ProviderOllama, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Message: "probe failed"}
	}
	return nil
}

// Guard reclaims Ollama resources between jobs.
type Guard struct {
	baseURL    string
	httpClient *http.Client
}

// NewGuard creates a guard for the given Ollama base URL.
func NewGuard(baseURL string) *Guard {
	return &Guard{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultProcessTimeout},
	}
}

// RunningModel describes one loaded model reported by the server.
type RunningModel struct {
	Name      string    `json:"name"`
	SizeVRAM  int64     `json:"size_vram"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DetectProcesses lists models currently loaded in server memory.
func (g *Guard) DetectProcesses(ctx context.Context) ([]RunningModel, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultProcessTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", g.baseURL+"/api/ps", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOllama, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Message: "process inspection failed"}
	}

	var result struct {
		Models []RunningModel `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode process list: %w", err)
	}
	return result.Models, nil
}

// UnloadAll asks the server to evict every loaded model immediately.
func (g *Guard) UnloadAll(ctx context.Context) error {
	models, err := g.DetectProcesses(ctx)
	if err != nil {
		return err
	}
	for _, model := range models {
		if err := g.unload(ctx, model.Name); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup unloads lingering models when kill is set, otherwise it only
// reports what is loaded.
func (g *Guard) Cleanup(ctx context.Context, kill bool) ([]RunningModel, error) {
	models, err := g.DetectProcesses(ctx)
	if err != nil {
		return nil, err
	}
	if kill && len(models) > 0 {
		if err := g.UnloadAll(ctx); err != nil {
			return models, err
		}
	}
	return models, nil
}

// unload issues an empty-prompt generate with keep_alive 0, the API's
// documented eviction mechanism.
func (g *Guard) unload(ctx context.Context, model string) error {
	body, err := json.Marshal(ollamaGenerateRequest{Model: model, Stream: false, KeepAlive: 0})
	if err != nil {
		return fmt.Errorf("failed to marshal unload request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create unload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return &ProviderError{Provider: ProviderOllama, Message: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Message: "unload failed for " + model}
	}
	return nil
}
