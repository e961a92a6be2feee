package registry

import (
	"errors"
	"testing"
)

func TestRegisterAndGet(t *testing.T) {
	r := New()

	err := r.Register(Entry{ID: "asking_price_eur", Kind: KindFact, Value: 450000, Name: "Vraagprijs", Unit: "€", Source: "listing", Confidence: 1, Complete: true})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	e, ok := r.Get("asking_price_eur")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if e.Value != 450000 {
		t.Errorf("value = %v, want 450000", e.Value)
	}
	if e.Kind != KindFact {
		t.Errorf("kind = %v, want FACT", e.Kind)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	r := New()
	e := Entry{ID: "living_area_m2", Kind: KindFact, Value: 120}

	if err := r.Register(e); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(e); err != nil {
		t.Fatalf("same-value re-register should be a no-op, got %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}

func TestRegisterConflict(t *testing.T) {
	r := New()
	if err := r.Register(Entry{ID: "build_year", Kind: KindFact, Value: 1985}); err != nil {
		t.Fatal(err)
	}

	err := r.Register(Entry{ID: "build_year", Kind: KindFact, Value: 1990})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Key != "build_year" {
		t.Errorf("conflict key = %q", conflict.Key)
	}

	// The original value must survive the conflict.
	e, _ := r.Get("build_year")
	if e.Value != 1985 {
		t.Errorf("value after conflict = %v, want 1985", e.Value)
	}
}

func TestFreezeBlocksWrites(t *testing.T) {
	r := New()
	if err := r.Register(Entry{ID: "energy_label", Kind: KindFact, Value: "C"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Freeze(); err != nil {
		t.Fatalf("first freeze: %v", err)
	}

	before := r.Len()
	err := r.Register(Entry{ID: "illegal", Kind: KindFact, Value: 999})
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if r.Len() != before {
		t.Errorf("entry count changed after rejected write: %d != %d", r.Len(), before)
	}

	// Reads stay legal after freeze.
	if _, ok := r.Get("energy_label"); !ok {
		t.Error("read after freeze failed")
	}
}

func TestDoubleFreezeFatal(t *testing.T) {
	r := New()
	if err := r.Freeze(); err != nil {
		t.Fatal(err)
	}
	err := r.Freeze()
	var frozen *FrozenError
	if !errors.As(err, &frozen) {
		t.Fatalf("expected FrozenError on second freeze, got %v", err)
	}
}

func TestSnapshotAndKeys(t *testing.T) {
	r := New()
	r.Register(Entry{ID: "a", Kind: KindFact, Value: 1})
	r.Register(Entry{ID: "b", Kind: KindVariable, Value: "x"})

	snap := r.Snapshot()
	if snap["a"] != 1 || snap["b"] != "x" {
		t.Errorf("snapshot = %v", snap)
	}

	keys := r.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("keys = %v, want registration order [a b]", keys)
	}
}

func TestEntriesByKind(t *testing.T) {
	r := New()
	r.Register(Entry{ID: "z_fact", Kind: KindFact, Value: 1})
	r.Register(Entry{ID: "a_fact", Kind: KindFact, Value: 2})
	r.Register(Entry{ID: "kpi", Kind: KindKPI, Value: 50})

	facts := r.EntriesByKind(KindFact)
	if len(facts) != 2 || facts[0].ID != "a_fact" {
		t.Errorf("facts = %v", facts)
	}
}
