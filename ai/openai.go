package ai

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

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient speaks the OpenAI chat completions API.
type OpenAIClient struct {
	BaseClient
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIClient creates an OpenAI client. An empty key yields an
// unconfigured client (Configured() == false), never an error.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = ModelOpenAIDefault
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    openAIBaseURL,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return ProviderOpenAI }

// Configured reports whether an API key is present.
func (c *OpenAIClient) Configured() bool { return c.apiKey != "" }

type openAIRequest struct {
	Model          string            `json:"model"`
	Messages       []openAIMessage   `json:"messages"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat *openAIRespFormat `json:"response_format,omitempty"`
}

type openAIRespFormat struct {
	Type string `json:"type"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate sends a chat completion request. JSON mode transparently
// upgrades models without reliable JSON support.
func (c *OpenAIClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if !c.Configured() {
		return nil, &NotConfiguredError{Provider: ProviderOpenAI}
	}

	model := c.model
	if req.JSONMode && strings.HasPrefix(model, "gpt-3.5") {
		model = ModelOpenAIJSON
	}

	messages := make([]openAIMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	apiReq := openAIRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: 4096,
	}
	if req.JSONMode {
		apiReq.ResponseFormat = &openAIRespFormat{Type: "json_object"}
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, &ProviderError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Message: "empty choices"}
	}

	c.TrackUsage(apiResp.Usage.PromptTokens, apiResp.Usage.CompletionTokens)

	return &GenerateResult{
		Text:     apiResp.Choices[0].Message.Content,
		Provider: ProviderOpenAI,
		Model:    apiResp.Model,
	}, nil
}

// Probe lists models as a lightweight health check.
func (c *OpenAIClient) Probe(ctx context.Context) error {
	if !c.Configured() {
		return &NotConfiguredError{Provider: ProviderOpenAI}
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &ProviderError{Provider: ProviderOpenAI, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: ProviderOpenAI, StatusCode: resp.StatusCode, Message: "probe failed"}
	}
	return nil
}
