package ai

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Keys is the provider key material loaded once from the environment and
// cached until Invalidate.
type Keys struct {
	OpenAI        string
	Gemini        string
	Anthropic     string
	OllamaURL     string
	OllamaTimeout time.Duration
}

// LoadKeysFromEnv reads provider configuration from the environment.
func LoadKeysFromEnv() Keys {
	keys := Keys{
		OpenAI:    os.Getenv("OPENAI_API_KEY"),
		Gemini:    os.Getenv("GEMINI_API_KEY"),
		Anthropic: os.Getenv("ANTHROPIC_API_KEY"),
		OllamaURL: os.Getenv("OLLAMA_BASE_URL"),
	}
	if raw := os.Getenv("OLLAMA_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			keys.OllamaTimeout = d
		}
	}
	return keys
}

// ProviderDecision records one provider's evaluation during resolve.
type ProviderDecision struct {
	Name        string          `json:"name"`
	Configured  bool            `json:"configured"`
	Operational bool            `json:"operational"`
	Status      CapabilityState `json:"status"`
	Reason      string          `json:"reason,omitempty"`
}

// Decision is the structured outcome of provider selection.
type Decision struct {
	Provider       string                      `json:"provider"`
	Model          string                      `json:"model"`
	Providers      map[string]ProviderDecision `json:"providers"`
	FallbacksTried []string                    `json:"fallbacks_tried"`
	Reasons        []string                    `json:"reasons"`
	Timestamp      time.Time                   `json:"timestamp"`
}

// Authority is the single gate for AI provider selection and use. The
// decision cache is read-mostly with a bounded TTL.
type Authority struct {
	mu       sync.Mutex
	clients  map[string]Client
	caps     *CapabilityManager
	logger   *slog.Logger
	cached   *Decision
	cachedAt time.Time
	ttl      time.Duration
	guard    *Guard
}

// NewAuthority builds an authority with real provider clients from keys.
func NewAuthority(keys Keys, caps *CapabilityManager, logger *slog.Logger) *Authority {
	clients := map[string]Client{
		ProviderOpenAI:    NewOpenAIClient(keys.OpenAI, ""),
		ProviderGemini:    NewGeminiClient(keys.Gemini, ""),
		ProviderAnthropic: NewAnthropicClient(keys.Anthropic, ""),
		ProviderOllama:    NewOllamaClient(keys.OllamaURL, "", keys.OllamaTimeout),
	}
	a := NewAuthorityWithClients(clients, caps, logger)
	if keys.OllamaURL != "" {
		a.guard = NewGuard(keys.OllamaURL)
	}
	return a
}

// NewAuthorityWithClients builds an authority over explicit clients.
// Tests inject mocks through this constructor.
func NewAuthorityWithClients(clients map[string]Client, caps *CapabilityManager, logger *slog.Logger) *Authority {
	if caps == nil {
		caps = NewCapabilityManager()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authority{
		clients: clients,
		caps:    caps,
		logger:  logger,
		ttl:     time.Minute,
	}
}

// Capabilities exposes the capability manager.
func (a *Authority) Capabilities() *CapabilityManager { return a.caps }

// OllamaGuard returns the resource guard, if Ollama is configured.
func (a *Authority) OllamaGuard() *Guard { return a.guard }

// Resolve selects the highest-tier configured and operational provider.
// Decisions are cached with a short TTL; forceRefresh bypasses the cache.
func (a *Authority) Resolve(ctx context.Context, forceRefresh bool) (*Decision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !forceRefresh && a.cached != nil && time.Since(a.cachedAt) < a.ttl {
		return a.cached, nil
	}

	decision := &Decision{
		Providers: make(map[string]ProviderDecision),
		Timestamp: time.Now(),
	}

	for _, name := range Hierarchy() {
		client, ok := a.clients[name]
		if !ok {
			continue
		}

		pd := ProviderDecision{Name: name, Configured: client.Configured()}
		if !pd.Configured {
			pd.Status = StateNotConfigured
			pd.Reason = "geen API-sleutel geconfigureerd"
			a.caps.RecordResult(capabilityName(name), &NotConfiguredError{Provider: name})
			decision.Providers[name] = pd
			decision.FallbacksTried = append(decision.FallbacksTried, name)
			decision.Reasons = append(decision.Reasons, name+": not configured")
			continue
		}

		err := client.Probe(ctx)
		cap := a.caps.RecordResult(capabilityName(name), err)
		pd.Status = cap.State
		if err != nil {
			pd.Reason = err.Error()
			decision.Providers[name] = pd
			decision.FallbacksTried = append(decision.FallbacksTried, name)
			decision.Reasons = append(decision.Reasons, name+": "+cap.UserMessage)
			a.logger.Warn("Provider probe failed", "provider", name, "state", cap.State)
			continue
		}

		pd.Operational = true
		decision.Providers[name] = pd
		decision.Provider = name
		decision.Model = DefaultModels[name]

		a.cached = decision
		a.cachedAt = time.Now()
		a.logger.Info("Provider selected", "provider", name, "model", decision.Model)
		return decision, nil
	}

	// Hierarchy exhausted: cache nothing, report everything.
	return nil, &NoProviderError{Decision: decision}
}

// Invalidate drops the decision cache, forcing a re-probe on next use.
func (a *Authority) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cached = nil
	a.cachedAt = time.Time{}
}

// CreateTextClient resolves and returns the selected client together
// with the decision record.
func (a *Authority) CreateTextClient(ctx context.Context) (Client, *Decision, error) {
	decision, err := a.Resolve(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	a.mu.Lock()
	client := a.clients[decision.Provider]
	a.mu.Unlock()
	return client, decision, nil
}

// Generate runs one request through the cascade: the selected provider
// first, then each remaining configured provider in hierarchy order when
// the failure is operational (quota, outage, timeout). Structural errors
// do not cascade.
func (a *Authority) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	decision, err := a.Resolve(ctx, false)
	if err != nil {
		return nil, err
	}

	tried := make(map[string]bool)
	record := &Decision{
		Providers: decision.Providers,
		Timestamp: time.Now(),
	}

	name := decision.Provider
	for {
		tried[name] = true
		a.mu.Lock()
		client := a.clients[name]
		a.mu.Unlock()

		callCtx, cancel := context.WithTimeout(ctx, DefaultGenerateTimeout)
		result, err := client.Generate(callCtx, req)
		cancel()

		if err == nil {
			a.caps.RecordResult(capabilityName(name), nil)
			return result, nil
		}

		// A missed deadline is an operational failure of this provider.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = &ProviderError{Provider: name, Message: "generation deadline exceeded"}
		}

		cap := a.caps.RecordResult(capabilityName(name), err)
		record.FallbacksTried = append(record.FallbacksTried, name)
		record.Reasons = append(record.Reasons, name+": "+cap.UserMessage)

		var provErr *ProviderError
		if !errors.As(err, &provErr) || !provErr.Retriable() || ctx.Err() != nil {
			return nil, err
		}
		a.logger.Warn("Provider call failed, cascading", "provider", name, "state", cap.State)
		a.Invalidate()

		next, ok := a.nextProvider(ctx, tried, record)
		if !ok {
			return nil, &NoProviderError{Decision: record}
		}
		name = next
	}
}

// nextProvider probes the remaining hierarchy for an operational fallback.
func (a *Authority) nextProvider(ctx context.Context, tried map[string]bool, record *Decision) (string, bool) {
	for _, name := range Hierarchy() {
		if tried[name] {
			continue
		}
		a.mu.Lock()
		client, ok := a.clients[name]
		a.mu.Unlock()
		if !ok || !client.Configured() {
			if ok {
				record.FallbacksTried = append(record.FallbacksTried, name)
				record.Reasons = append(record.Reasons, name+": not configured")
				tried[name] = true
			}
			continue
		}
		if err := client.Probe(ctx); err != nil {
			cap := a.caps.RecordResult(capabilityName(name), err)
			record.FallbacksTried = append(record.FallbacksTried, name)
			record.Reasons = append(record.Reasons, name+": "+cap.UserMessage)
			tried[name] = true
			continue
		}
		return name, true
	}
	return "", false
}

// RuntimeStatus is the payload for the runtime-status endpoint.
type RuntimeStatus struct {
	ActiveProvider    string                    `json:"active_provider"`
	ActiveModel       string                    `json:"active_model"`
	Status            CapabilityState           `json:"status"`
	Category          CapabilityCategory        `json:"category"`
	UserMessage       string                    `json:"user_message"`
	Providers         map[string]ProviderStatus `json:"providers"`
	ProviderHierarchy []string                  `json:"provider_hierarchy"`
	FallbacksTried    []string                  `json:"fallbacks_tried"`
	Reasons           []string                  `json:"reasons"`
	Usage             map[string]TokenUsage     `json:"usage"`
	Timestamp         time.Time                 `json:"timestamp"`
}

// ProviderStatus is one provider's entry in the runtime status.
type ProviderStatus struct {
	Configured  bool               `json:"configured"`
	Operational bool               `json:"operational"`
	Status      CapabilityState    `json:"status"`
	Category    CapabilityCategory `json:"category"`
	Models      []string           `json:"models"`
	IsActive    bool               `json:"is_active"`
}

// Status reports the full selection state for the HTTP surface.
func (a *Authority) Status(ctx context.Context) RuntimeStatus {
	status := RuntimeStatus{
		Providers:         make(map[string]ProviderStatus),
		ProviderHierarchy: Hierarchy(),
		Usage:             make(map[string]TokenUsage),
		Timestamp:         time.Now(),
	}

	decision, err := a.Resolve(ctx, false)
	var noProvider *NoProviderError
	if errors.As(err, &noProvider) {
		decision = noProvider.Decision
	}
	if decision != nil {
		status.ActiveProvider = decision.Provider
		status.ActiveModel = decision.Model
		status.FallbacksTried = decision.FallbacksTried
		status.Reasons = decision.Reasons

		for name, pd := range decision.Providers {
			cap := a.caps.Get(capabilityName(name))
			status.Providers[name] = ProviderStatus{
				Configured:  pd.Configured,
				Operational: pd.Operational,
				Status:      cap.State,
				Category:    cap.Category,
				Models:      []string{DefaultModels[name]},
				IsActive:    name == decision.Provider,
			}
		}
	}

	if status.ActiveProvider != "" {
		active := a.caps.Get(capabilityName(status.ActiveProvider))
		status.Status = active.State
		status.Category = active.Category
		status.UserMessage = active.UserMessage
	} else {
		status.Status = StateOffline
		status.Category = CategoryLimited
		status.UserMessage = "Geen enkele AI-provider is momenteel beschikbaar."
	}

	a.mu.Lock()
	for name, client := range a.clients {
		status.Usage[name] = client.Usage()
	}
	a.mu.Unlock()

	return status
}

func capabilityName(provider string) string {
	return "text_generation:" + provider
}
