package ai

import (
	"errors"
	"sync"
	"time"
)

// CapabilityState describes the operational state of an externally
// dependent function.
type CapabilityState string

const (
	StateAvailable     CapabilityState = "AVAILABLE"
	StateLimited       CapabilityState = "LIMITED"
	StateQuotaExceeded CapabilityState = "QUOTA_EXCEEDED"
	StateOffline       CapabilityState = "OFFLINE"
	StateNotConfigured CapabilityState = "NOT_CONFIGURED"
	StateUnknown       CapabilityState = "UNKNOWN"
)

// CapabilityCategory separates code correctness from external limits.
// Quota and outage are never implementation defects.
type CapabilityCategory string

const (
	CategoryValid   CapabilityCategory = "IMPLEMENTATION_VALID"
	CategoryInvalid CapabilityCategory = "IMPLEMENTATION_INVALID"
	CategoryLimited CapabilityCategory = "OPERATIONALLY_LIMITED"
)

// Capability is the tracked state of one externally dependent function.
type Capability struct {
	Name        string             `json:"name"`
	State       CapabilityState    `json:"state"`
	Category    CapabilityCategory `json:"category"`
	Message     string             `json:"message"`
	UserMessage string             `json:"user_message"`
	LastUpdated time.Time          `json:"last_updated"`
	ResumeHint  string             `json:"resume_hint,omitempty"`
}

// CapabilityManager tracks capability states across providers. Readers
// are concurrent; writers are serialized.
type CapabilityManager struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
}

// NewCapabilityManager creates an empty manager.
func NewCapabilityManager() *CapabilityManager {
	return &CapabilityManager{
		capabilities: make(map[string]Capability),
	}
}

// RecordResult categorizes a probe or call outcome for a capability.
// The categorization invariant is enforced here: QUOTA_EXCEEDED and
// OFFLINE are always OPERATIONALLY_LIMITED, never IMPLEMENTATION_INVALID.
func (m *CapabilityManager) RecordResult(name string, err error) Capability {
	cap := Capability{
		Name:        name,
		LastUpdated: time.Now(),
	}

	var provErr *ProviderError
	var notConfigured *NotConfiguredError

	switch {
	case err == nil:
		cap.State = StateAvailable
		cap.Category = CategoryValid
		cap.Message = "operational"
		cap.UserMessage = "Beschikbaar en correct geconfigureerd."
	case errors.As(err, &notConfigured):
		cap.State = StateNotConfigured
		cap.Category = CategoryInvalid
		cap.Message = err.Error()
		cap.UserMessage = "Niet geconfigureerd: API-sleutel ontbreekt."
		cap.ResumeHint = "Stel de API-sleutel in en probeer opnieuw."
	case errors.As(err, &provErr) && provErr.Quota():
		cap.State = StateQuotaExceeded
		cap.Category = CategoryLimited
		cap.Message = err.Error()
		cap.UserMessage = "Correct geconfigureerd, maar het externe quotum is bereikt."
		cap.ResumeHint = "Wacht tot het quotum wordt bijgevuld of schakel een andere provider in."
	case errors.As(err, &provErr) && provErr.Offline():
		cap.State = StateOffline
		cap.Category = CategoryLimited
		cap.Message = err.Error()
		cap.UserMessage = "Correct geconfigureerd, maar de externe dienst is tijdelijk onbereikbaar."
	default:
		cap.State = StateLimited
		cap.Category = CategoryLimited
		cap.Message = err.Error()
		cap.UserMessage = "Tijdelijk beperkt beschikbaar."
	}

	m.mu.Lock()
	m.capabilities[name] = cap
	m.mu.Unlock()
	return cap
}

// Get returns the tracked capability, or an UNKNOWN placeholder.
func (m *CapabilityManager) Get(name string) Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cap, ok := m.capabilities[name]; ok {
		return cap
	}
	return Capability{Name: name, State: StateUnknown, Category: CategoryValid}
}

// All returns a copy of every tracked capability.
func (m *CapabilityManager) All() map[string]Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Capability, len(m.capabilities))
	for name, cap := range m.capabilities {
		out[name] = cap
	}
	return out
}
