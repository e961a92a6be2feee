package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// mockClient is a scriptable provider for authority tests.
type mockClient struct {
	mu          sync.Mutex
	name        string
	configured  bool
	probeErr    error
	generateErr error
	text        string
	probeCalls  int
	genCalls    int
}

func (m *mockClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genCalls++
	if m.generateErr != nil {
		return nil, m.generateErr
	}
	return &GenerateResult{Text: m.text, Provider: m.name, Model: "mock"}, nil
}

func (m *mockClient) Probe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeCalls++
	if !m.configured {
		return &NotConfiguredError{Provider: m.name}
	}
	return m.probeErr
}

func (m *mockClient) Name() string      { return m.name }
func (m *mockClient) Configured() bool  { return m.configured }
func (m *mockClient) Usage() TokenUsage { return TokenUsage{} }

func mockAuthority(clients map[string]Client) *Authority {
	return NewAuthorityWithClients(clients, NewCapabilityManager(), nil)
}

func allClients(configure func(*mockClient)) map[string]Client {
	clients := make(map[string]Client)
	for _, name := range Hierarchy() {
		c := &mockClient{name: name, text: "ok"}
		configure(c)
		clients[name] = c
	}
	return clients
}

func TestResolveNoProviderConfigured(t *testing.T) {
	auth := mockAuthority(allClients(func(c *mockClient) { c.configured = false }))

	_, err := auth.Resolve(context.Background(), false)
	var noProvider *NoProviderError
	if !errors.As(err, &noProvider) {
		t.Fatalf("expected NoProviderError, got %v", err)
	}

	if len(noProvider.Decision.FallbacksTried) != len(Hierarchy()) {
		t.Errorf("fallbacks_tried = %v, want full hierarchy", noProvider.Decision.FallbacksTried)
	}
	for i, name := range Hierarchy() {
		if noProvider.Decision.FallbacksTried[i] != name {
			t.Errorf("fallbacks_tried[%d] = %q, want %q", i, noProvider.Decision.FallbacksTried[i], name)
		}
	}
}

func TestResolvePrefersHierarchyOrder(t *testing.T) {
	clients := allClients(func(c *mockClient) { c.configured = true })
	auth := mockAuthority(clients)

	decision, err := auth.Resolve(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Provider != ProviderOpenAI {
		t.Errorf("selected %q, want openai as highest tier", decision.Provider)
	}
}

func TestOllamaNeverShadowsHigherTier(t *testing.T) {
	clients := allClients(func(c *mockClient) { c.configured = false })
	clients[ProviderOllama].(*mockClient).configured = true
	clients[ProviderAnthropic].(*mockClient).configured = true
	auth := mockAuthority(clients)

	decision, err := auth.Resolve(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Provider != ProviderAnthropic {
		t.Errorf("selected %q, want anthropic before ollama", decision.Provider)
	}
}

func TestResolveCachesDecision(t *testing.T) {
	clients := allClients(func(c *mockClient) { c.configured = true })
	auth := mockAuthority(clients)

	if _, err := auth.Resolve(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if _, err := auth.Resolve(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	openai := clients[ProviderOpenAI].(*mockClient)
	if openai.probeCalls != 1 {
		t.Errorf("probe calls = %d, want 1 (cached)", openai.probeCalls)
	}

	auth.Invalidate()
	if _, err := auth.Resolve(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if openai.probeCalls != 2 {
		t.Errorf("probe calls after invalidate = %d, want 2", openai.probeCalls)
	}
}

func TestQuotaIsOperationallyLimited(t *testing.T) {
	caps := NewCapabilityManager()
	cap := caps.RecordResult("text_generation:openai", &ProviderError{Provider: ProviderOpenAI, StatusCode: 429, Message: "rate limited"})

	if cap.State != StateQuotaExceeded {
		t.Errorf("state = %v, want QUOTA_EXCEEDED", cap.State)
	}
	if cap.Category != CategoryLimited {
		t.Errorf("category = %v, want OPERATIONALLY_LIMITED", cap.Category)
	}
	if cap.Category == CategoryInvalid {
		t.Error("quota must never be categorized as implementation invalid")
	}
}

func TestOfflineIsOperationallyLimited(t *testing.T) {
	caps := NewCapabilityManager()
	for _, code := range []int{0, 500, 503} {
		cap := caps.RecordResult("text_generation:gemini", &ProviderError{Provider: ProviderGemini, StatusCode: code, Message: "down"})
		if cap.State != StateOffline {
			t.Errorf("status %d: state = %v, want OFFLINE", code, cap.State)
		}
		if cap.Category != CategoryLimited {
			t.Errorf("status %d: category = %v, want OPERATIONALLY_LIMITED", code, cap.Category)
		}
	}
}

func TestMissingKeyIsImplementationInvalid(t *testing.T) {
	caps := NewCapabilityManager()
	cap := caps.RecordResult("text_generation:openai", &NotConfiguredError{Provider: ProviderOpenAI})
	if cap.State != StateNotConfigured || cap.Category != CategoryInvalid {
		t.Errorf("cap = %v/%v, want NOT_CONFIGURED/IMPLEMENTATION_INVALID", cap.State, cap.Category)
	}
}

func TestGenerateCascadesOnQuota(t *testing.T) {
	clients := allClients(func(c *mockClient) { c.configured = true })
	clients[ProviderOpenAI].(*mockClient).generateErr = &ProviderError{Provider: ProviderOpenAI, StatusCode: 429, Message: "quota"}
	auth := mockAuthority(clients)

	result, err := auth.Generate(context.Background(), GenerateRequest{Prompt: "hallo"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Provider != ProviderGemini {
		t.Errorf("cascade landed on %q, want gemini", result.Provider)
	}

	// The quota capability record survives the successful fallback.
	cap := auth.Capabilities().Get("text_generation:openai")
	if cap.State != StateQuotaExceeded || cap.Category != CategoryLimited {
		t.Errorf("openai capability = %v/%v", cap.State, cap.Category)
	}
}

func TestGenerateExhaustsCascade(t *testing.T) {
	clients := allClients(func(c *mockClient) {
		c.configured = true
		c.generateErr = &ProviderError{Provider: c.name, StatusCode: 429, Message: "quota"}
	})
	auth := mockAuthority(clients)

	_, err := auth.Generate(context.Background(), GenerateRequest{Prompt: "hallo"})
	var noProvider *NoProviderError
	if !errors.As(err, &noProvider) {
		t.Fatalf("expected NoProviderError after exhaustion, got %v", err)
	}
	if len(noProvider.Decision.Reasons) == 0 {
		t.Error("exhaustion decision should carry per-provider reasons")
	}
}

func TestGenerateDoesNotCascadeOnStructuralError(t *testing.T) {
	clients := allClients(func(c *mockClient) { c.configured = true })
	clients[ProviderOpenAI].(*mockClient).generateErr = &ProviderError{Provider: ProviderOpenAI, StatusCode: 400, Message: "bad request"}
	auth := mockAuthority(clients)

	_, err := auth.Generate(context.Background(), GenerateRequest{Prompt: "hallo"})
	if err == nil {
		t.Fatal("expected error")
	}
	gemini := clients[ProviderGemini].(*mockClient)
	if gemini.genCalls != 0 {
		t.Error("structural 4xx errors must not cascade")
	}
}

func TestStatusWithNoProviders(t *testing.T) {
	auth := mockAuthority(allClients(func(c *mockClient) { c.configured = false }))
	status := auth.Status(context.Background())
	if status.ActiveProvider != "" {
		t.Errorf("active provider = %q, want none", status.ActiveProvider)
	}
	if len(status.ProviderHierarchy) != 4 {
		t.Errorf("hierarchy = %v", status.ProviderHierarchy)
	}
}
