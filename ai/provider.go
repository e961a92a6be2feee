// Package ai is the single gate for AI work: provider selection, key
// possession, operational health, fallback cascade and capability
// reporting. No other package reads provider API keys or picks a model.
package ai

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Provider names in fixed hierarchy order. Ollama is last-resort and is
// never silently chosen while a higher-tier provider is operational.
const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Hierarchy returns the fixed provider order.
func Hierarchy() []string {
	return []string{ProviderOpenAI, ProviderGemini, ProviderAnthropic, ProviderOllama}
}

// Default deadlines for suspending operations.
const (
	DefaultGenerateTimeout = 30 * time.Second
	DefaultProbeTimeout    = 5 * time.Second
	DefaultProcessTimeout  = 10 * time.Second
)

// GenerateRequest is the minimal text-generation contract. Chapter
// prompts instruct the model to interpret, never to restate facts.
type GenerateRequest struct {
	Prompt   string   // User prompt
	System   string   // System prompt
	JSONMode bool     // Request a JSON object response
	Images   []string // Optional image URLs for multimodal providers
}

// GenerateResult carries the raw text plus attribution.
type GenerateResult struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Client is the contract every provider implements.
type Client interface {
	// Generate produces text under the request contract.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	// Probe performs a bounded lightweight health check.
	Probe(ctx context.Context) error

	// Name returns the provider name.
	Name() string

	// Configured reports whether key material (or, for ollama, a
	// reachable base URL) is present.
	Configured() bool

	// Usage returns cumulative token usage.
	Usage() TokenUsage
}

// TokenUsage tracks cumulative token usage per provider.
type TokenUsage struct {
	InputTokens   int64     `json:"input_tokens"`
	OutputTokens  int64     `json:"output_tokens"`
	TotalRequests int64     `json:"total_requests"`
	LastUsed      time.Time `json:"last_used"`
}

// BaseClient provides shared usage accounting for providers.
type BaseClient struct {
	mu    sync.Mutex
	usage TokenUsage
}

// TrackUsage records token usage from one response.
func (b *BaseClient) TrackUsage(input, output int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage.InputTokens += int64(input)
	b.usage.OutputTokens += int64(output)
	b.usage.TotalRequests++
	b.usage.LastUsed = time.Now()
}

// Usage returns current token usage.
func (b *BaseClient) Usage() TokenUsage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usage
}

// ProviderError is a typed failure from a provider call or probe. The
// status code drives capability categorization and the cascade.
type ProviderError struct {
	Provider   string
	StatusCode int // 0 means the provider was unreachable
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("provider %s unreachable: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("provider %s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Quota reports whether the failure is a rate-limit or quota signal.
func (e *ProviderError) Quota() bool {
	return e.StatusCode == 429
}

// Offline reports whether the provider is unreachable or failing hard.
func (e *ProviderError) Offline() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// Retriable reports whether the cascade should try the next provider.
func (e *ProviderError) Retriable() bool {
	return e.Quota() || e.Offline()
}

// NotConfiguredError is returned when a provider has no key material.
type NotConfiguredError struct {
	Provider string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("provider %s not configured: API key missing", e.Provider)
}

// NoProviderError is raised when every provider in the hierarchy is
// exhausted. It carries the full decision record for diagnostics.
type NoProviderError struct {
	Decision *Decision
}

func (e *NoProviderError) Error() string {
	return "no available AI provider: all providers in hierarchy exhausted"
}

// Model constants per provider.
const (
	ModelOpenAIDefault    = "gpt-4o"
	ModelOpenAIJSON       = "gpt-4o" // gpt-3.5 does not honor JSON mode reliably
	ModelGeminiDefault    = "gemini-2.0-flash"
	ModelAnthropicDefault = "claude-sonnet-4-20250514"
	ModelOllamaDefault    = "llama3.1"
)

// DefaultModels maps provider to its default text model.
var DefaultModels = map[string]string{
	ProviderOpenAI:    ModelOpenAIDefault,
	ProviderGemini:    ModelGeminiDefault,
	ProviderAnthropic: ModelAnthropicDefault,
	ProviderOllama:    ModelOllamaDefault,
}
