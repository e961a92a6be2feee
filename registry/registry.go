// Package registry provides the canonical fact store for a report run.
// All facts, derived variables and KPIs about a property live here; the
// registry is populated during enrichment, frozen exactly once, and
// read-only forever after.
package registry

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Kind classifies a registry entry.
type Kind string

const (
	KindFact        Kind = "FACT"        // Directly observed input
	KindVariable    Kind = "VARIABLE"    // Derived during enrichment
	KindKPI         Kind = "KPI"         // Numeric indicator surfaced in reports
	KindUncertainty Kind = "UNCERTAINTY" // Known-unknown with an explanation
)

// Entry is an immutable record in the registry. Value may be a scalar,
// a []string or a map[string]any depending on Kind.
type Entry struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"kind"`
	Value       any      `json:"value"`
	Name        string   `json:"name"`
	Unit        string   `json:"unit,omitempty"`
	Source      string   `json:"source"`
	Confidence  float64  `json:"confidence"`
	Complete    bool     `json:"complete"`
	DerivedFrom []string `json:"derived_from,omitempty"`
}

// ConflictError is returned when a key is re-registered with a different value.
// Conflicts are fatal to the owning run.
type ConflictError struct {
	Key      string
	Existing any
	Incoming any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("registry conflict on %q: %v vs %v", e.Key, e.Existing, e.Incoming)
}

// LockedError is returned when a write is attempted after Freeze.
type LockedError struct {
	Key string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("registry locked: cannot register %q after freeze", e.Key)
}

// FrozenError is returned when Freeze is called a second time.
type FrozenError struct{}

func (e *FrozenError) Error() string {
	return "registry already frozen: freeze is idempotent-once"
}

// Registry is an append-only keyed store of entries with a monotonic
// frozen flag. Writes are only legal before Freeze; reads are legal forever.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
	frozen  bool
}

// New creates an empty, unfrozen registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register adds an entry. Registering the same key with a deeply equal
// value is a no-op; a different value is a fatal ConflictError. Any
// registration after Freeze fails with LockedError.
func (r *Registry) Register(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return &LockedError{Key: e.ID}
	}
	if e.ID == "" {
		return fmt.Errorf("registry entry requires an id")
	}

	if existing, ok := r.entries[e.ID]; ok {
		if reflect.DeepEqual(existing.Value, e.Value) {
			return nil // Idempotent re-registration
		}
		return &ConflictError{Key: e.ID, Existing: existing.Value, Incoming: e.Value}
	}

	r.entries[e.ID] = e
	r.order = append(r.order, e.ID)
	return nil
}

// Get returns the entry for key, if present.
func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Keys returns all registered keys in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	return keys
}

// Snapshot returns a flat key→value view for read-only consumers.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]any, len(r.entries))
	for k, e := range r.entries {
		snap[k] = e.Value
	}
	return snap
}

// Freeze seals the registry. The first call succeeds; every later call
// returns FrozenError.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return &FrozenError{}
	}
	r.frozen = true
	return nil
}

// Frozen reports whether the registry has been sealed.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// EntriesByKind returns entries of the given kind, sorted by key.
func (r *Registry) EntriesByKind(kind Kind) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
