package registry

import (
	"fmt"
)

// PresentationViolation is returned when presentation code attempts
// arithmetic on a registry value. Facts are computed during enrichment
// only; anything downstream may format, compare and display, never derive.
type PresentationViolation struct {
	Key string
	Op  string
}

func (e *PresentationViolation) Error() string {
	return fmt.Sprintf("presentation violation: %s on registry value %q", e.Op, e.Key)
}

// Proxy is a read-only view over a frozen registry for presentation code.
// Construction fails if the registry is not frozen.
type Proxy struct {
	reg *Registry
}

// NewProxy wraps a frozen registry. An unfrozen registry is a caller bug.
func NewProxy(reg *Registry) (*Proxy, error) {
	if !reg.Frozen() {
		return nil, fmt.Errorf("registry proxy requires a frozen registry")
	}
	return &Proxy{reg: reg}, nil
}

// Get returns a guarded value wrapper for key.
func (p *Proxy) Get(key string) (Value, bool) {
	e, ok := p.reg.Get(key)
	if !ok {
		return Value{}, false
	}
	return Value{key: key, raw: e.Value, unit: e.Unit}, true
}

// Entry returns the full underlying entry for key.
func (p *Proxy) Entry(key string) (Entry, bool) {
	return p.reg.Get(key)
}

// Has reports whether key exists.
func (p *Proxy) Has(key string) bool {
	return p.reg.Has(key)
}

// Keys returns all keys in registration order.
func (p *Proxy) Keys() []string {
	return p.reg.Keys()
}

// ToDisplayMap returns raw values for direct template interpolation only.
func (p *Proxy) ToDisplayMap() map[string]any {
	return p.reg.Snapshot()
}

// Value wraps a registry value for presentation. Equality and ordering
// are forwarded; every arithmetic operation fails with
// PresentationViolation instead of producing a result.
type Value struct {
	key  string
	raw  any
	unit string
}

// Key returns the registry key this value was drawn from.
func (v Value) Key() string { return v.key }

// Unit returns the entry's unit, if any.
func (v Value) Unit() string { return v.unit }

// Display returns the value formatted for interpolation.
func (v Value) Display() string {
	if v.raw == nil {
		return ""
	}
	return fmt.Sprintf("%v", v.raw)
}

// Raw returns the underlying value for serialization. Callers must not
// compute with it; that is what the arithmetic guards exist for.
func (v Value) Raw() any { return v.raw }

// Equal forwards equality to the underlying value.
func (v Value) Equal(other any) bool {
	if o, ok := other.(Value); ok {
		return fmt.Sprintf("%v", v.raw) == fmt.Sprintf("%v", o.raw)
	}
	return fmt.Sprintf("%v", v.raw) == fmt.Sprintf("%v", other)
}

// Less forwards ordering for numeric and string values.
func (v Value) Less(other Value) (bool, error) {
	a, aok := asFloat(v.raw)
	b, bok := asFloat(other.raw)
	if aok && bok {
		return a < b, nil
	}
	as, aok := v.raw.(string)
	bs, bok := other.raw.(string)
	if aok && bok {
		return as < bs, nil
	}
	return false, fmt.Errorf("values %q and %q are not comparable", v.key, other.key)
}

// Add always fails: presentation code must not derive new numbers.
func (v Value) Add(any) (Value, error) {
	return Value{}, &PresentationViolation{Key: v.key, Op: "add"}
}

// Sub always fails.
func (v Value) Sub(any) (Value, error) {
	return Value{}, &PresentationViolation{Key: v.key, Op: "subtract"}
}

// Mul always fails.
func (v Value) Mul(any) (Value, error) {
	return Value{}, &PresentationViolation{Key: v.key, Op: "multiply"}
}

// Div always fails.
func (v Value) Div(any) (Value, error) {
	return Value{}, &PresentationViolation{Key: v.key, Op: "divide"}
}

// Float refuses to expose the value as a number; exposing raw numerics
// to presentation code is the exact bug class the proxy exists to stop.
func (v Value) Float() (float64, error) {
	return 0, &PresentationViolation{Key: v.key, Op: "numeric extraction"}
}

// Int refuses for the same reason as Float.
func (v Value) Int() (int, error) {
	return 0, &PresentationViolation{Key: v.key, Op: "numeric extraction"}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
