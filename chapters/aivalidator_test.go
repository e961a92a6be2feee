package chapters

import (
	"fmt"
	"testing"
)

func TestMalformedAIOutput(t *testing.T) {
	v := &AIValidator{Strict: true}
	_, violations := v.Validate(1, "geen json hier")
	if !hasViolation(violations, "B", ViolationMalformedOutput) {
		t.Errorf("expected malformed_output, got %v", violations)
	}
}

func TestAIOutputToleratesSurroundingProse(t *testing.T) {
	v := &AIValidator{Strict: true}
	raw := "Hier is het hoofdstuk:\n{\"chapter_id\": 1, \"narrative\": \"Prima.\"}\nEinde."
	out, violations := v.Validate(1, raw)
	if len(violations) != 0 {
		t.Fatalf("unexpected violations: %v", violations)
	}
	if out.Narrative != "Prima." {
		t.Errorf("narrative = %q", out.Narrative)
	}
}

func TestUnauthorizedMetaKeyStrict(t *testing.T) {
	raw := `{"narrative": "Tekst.", "debug_info": "x"}`

	v := &AIValidator{Strict: true}
	_, violations := v.Validate(1, raw)
	if !hasViolation(violations, "B", ViolationUnauthorizedKey) {
		t.Errorf("strict mode should reject debug_info, got %v", violations)
	}

	v = &AIValidator{Strict: false}
	out, violations := v.Validate(1, raw)
	if len(violations) != 0 {
		t.Errorf("non-strict mode should strip, got %v", violations)
	}
	if len(out.Stripped) != 1 || out.Stripped[0] != "debug_info" {
		t.Errorf("stripped = %v, want [debug_info]", out.Stripped)
	}
}

func TestUnownedVariableIsRejected(t *testing.T) {
	// Chapter 4 owns energy keys, not the asking price.
	raw := `{"variables": {"asking_price_eur": {"value": "450000"}}}`

	v := &AIValidator{Strict: true}
	_, violations := v.Validate(4, raw)
	if !hasViolation(violations, "B", ViolationUnownedVariable) {
		t.Errorf("expected unowned_variable, got %v", violations)
	}
}

func TestNumericLiteralsAreRejected(t *testing.T) {
	v := &AIValidator{Strict: true}

	// A variable value never carries numbers, not even ones the
	// registry holds: restating a fact is still outputting a fact.
	for _, value := range []string{
		"ongeveer 99999 euro extra",
		"12500 euro",
		"€ 12.500",
	} {
		raw := fmt.Sprintf(`{"variables": {"energy_invest": {"value": "%s"}}}`, value)
		_, violations := v.Validate(4, raw)
		if !hasViolation(violations, "B", ViolationFabricatedNumber) {
			t.Errorf("value %q: expected fabricated_number, got %v", value, violations)
		}
	}
}

func TestYearReferencesAreAllowed(t *testing.T) {
	v := &AIValidator{Strict: true}

	raw := `{"variables": {"build_year": {"value": "typisch voor woningen uit 1975"}}}`
	if _, violations := v.Validate(6, raw); len(violations) != 0 {
		t.Errorf("year references should pass, got %v", violations)
	}
}

func TestRepeatedReasoningIsSyntheticInjection(t *testing.T) {
	v := &AIValidator{Strict: true}

	raw := `{"variables": {
		"asking_price_eur": {"value": "marktconform geprijsd", "reasoning": "Standaard analyse."},
		"price_per_m2": {"value": "rond het gemiddelde", "reasoning": "Standaard analyse."},
		"valuation_status": {"value": "marktconform", "reasoning": "Standaard analyse."}
	}}`
	_, violations := v.Validate(1, raw)
	if !hasViolation(violations, "B", ViolationSyntheticInjection) {
		t.Errorf("expected synthetic_injection, got %v", violations)
	}
}

func TestPlaceholderPhraseIsSyntheticInjection(t *testing.T) {
	v := &AIValidator{Strict: true}
	raw := `{"narrative": "Lorem ipsum dolor sit amet."}`
	_, violations := v.Validate(1, raw)
	if !hasViolation(violations, "B", ViolationSyntheticInjection) {
		t.Errorf("expected synthetic_injection, got %v", violations)
	}
}

func TestPersonaVariableKeysFollowMatchOwnership(t *testing.T) {
	if !variableKeyAllowed(2, "marcel_match_score") {
		t.Error("chapter 2 owns the match score and its persona keys")
	}
	if variableKeyAllowed(4, "marcel_match_score") {
		t.Error("chapter 4 does not own persona match keys")
	}
}
