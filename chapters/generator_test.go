package chapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/marcelkurvers/funda-woning-check-sub000/ai"
	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
	"github.com/marcelkurvers/funda-woning-check-sub000/registry"
)

// fakeGen is a scripted TextGenerator.
type fakeGen struct {
	text string
	err  error
}

func (f *fakeGen) Generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ai.GenerateResult{Text: f.text, Provider: "openai", Model: "gpt-4o"}, nil
}

// chapterResponse builds a well-formed AI reply for chapter 1.
func chapterResponse(narrative string) string {
	payload := map[string]any{
		"chapter_id": 1,
		"title":      "Prijs & Waarde",
		"narrative":  narrative,
		"variables": map[string]any{
			"valuation_status": map[string]any{
				"value":      "marktconform",
				"reasoning":  "De prijs per vierkante meter ligt dicht bij het marktgemiddelde.",
				"confidence": 0.8,
			},
		},
		"confidence":    0.8,
		"uncertainties": []string{"Geen taxatierapport beschikbaar."},
	}
	out, _ := json.Marshal(payload)
	return string(out)
}

func TestGenerateValidChapter(t *testing.T) {
	reg := frozenRegistry(t)
	gen := NewGenerator(&fakeGen{text: chapterResponse(longNarrative(MinNarrativeWords))}, true, nil)

	comp, err := gen.Generate(context.Background(), 1, reg, testPrefs())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if !comp.Diagnostics.ValidationPassed {
		t.Errorf("diagnostics not passed: %v", comp.Diagnostics.Errors)
	}
	if comp.PlaneB.AIProvider != "openai" || !comp.PlaneB.AIGenerated {
		t.Errorf("plane B provenance = %+v", comp.PlaneB)
	}
	if len(comp.PlaneA.Charts) == 0 {
		t.Error("chapter 1 should carry a price chart")
	}
	if len(comp.PlaneC.KPIs) != 3 {
		t.Errorf("plane C KPIs = %d, want one per owned key", len(comp.PlaneC.KPIs))
	}
	if !containsString(comp.PlaneC.Uncertainties, "Geen taxatierapport beschikbaar.") {
		t.Errorf("AI uncertainties should surface on the anchor, got %v", comp.PlaneC.Uncertainties)
	}
}

func TestGenerateRequiresFrozenRegistry(t *testing.T) {
	reg := registry.New()
	gen := NewGenerator(&fakeGen{text: "{}"}, true, nil)

	_, err := gen.Generate(context.Background(), 1, reg, testPrefs())
	var notFrozen *NotFrozenError
	if !errors.As(err, &notFrozen) {
		t.Fatalf("expected NotFrozenError, got %v", err)
	}
}

func TestGenerateDegradesWhenAIUnavailable(t *testing.T) {
	reg := frozenRegistry(t)
	provErr := &ai.ProviderError{Provider: "openai", StatusCode: 503, Message: "down"}
	gen := NewGenerator(&fakeGen{err: provErr}, true, nil)

	comp, err := gen.Generate(context.Background(), 1, reg, testPrefs())
	var unavailable *AIUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected AIUnavailableError, got %v", err)
	}

	// Deterministic planes survive without the narrative.
	if comp == nil {
		t.Fatal("composition should still carry deterministic planes")
	}
	if !comp.PlaneB.NotApplicable || comp.PlaneB.NotApplicableReason == "" {
		t.Errorf("plane B = %+v, want reasoned not_applicable", comp.PlaneB)
	}
	if len(comp.PlaneC.KPIs) == 0 {
		t.Error("plane C should be populated regardless of AI state")
	}
	if len(comp.PlaneD.Personas) == 0 {
		t.Error("plane D should be populated regardless of AI state")
	}
}

func TestGenerateRejectsShortNarrative(t *testing.T) {
	reg := frozenRegistry(t)
	gen := NewGenerator(&fakeGen{text: chapterResponse("Veel te kort.")}, true, nil)

	comp, err := gen.Generate(context.Background(), 1, reg, testPrefs())
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if comp.Diagnostics.ValidationPassed {
		t.Error("diagnostics should record the failure")
	}
	if len(comp.Diagnostics.Errors) == 0 {
		t.Error("diagnostics should carry violation details")
	}
}

func TestGenerateRejectsFabricatedVariables(t *testing.T) {
	reg := frozenRegistry(t)
	raw := fmt.Sprintf(`{"narrative": %q, "variables": {"valuation_status": {"value": "afwijking van 77777"}}}`,
		longNarrative(MinNarrativeWords))
	gen := NewGenerator(&fakeGen{text: raw}, true, nil)

	_, err := gen.Generate(context.Background(), 1, reg, testPrefs())
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	found := false
	for _, v := range validation.Violations {
		if v.ViolationType == ViolationFabricatedNumber {
			found = true
		}
	}
	if !found {
		t.Errorf("expected fabricated_number among %v", validation.Violations)
	}
}

func TestPreferencePlaneIsDeterministic(t *testing.T) {
	reg := frozenRegistry(t)
	gen := NewGenerator(&fakeGen{text: chapterResponse(longNarrative(MinNarrativeWords))}, true, nil)

	comp, err := gen.Generate(context.Background(), 1, reg, testPrefs())
	if err != nil {
		t.Fatal(err)
	}

	marcel, ok := comp.PlaneD.Personas["marcel"]
	if !ok {
		t.Fatal("missing marcel in plane D")
	}
	// Garage matches, Zonnepanelen does not: 1 of 2.
	if marcel.MatchScore != 50 {
		t.Errorf("marcel match = %d, want 50", marcel.MatchScore)
	}
	if marcel.Mood != "positief" {
		t.Errorf("marcel mood = %q", marcel.Mood)
	}
	if !containsString(marcel.Concerns, "Zonnepanelen") {
		t.Errorf("marcel concerns = %v, want unmet priority", marcel.Concerns)
	}
	if len(comp.PlaneD.TensionPoints) == 0 {
		t.Error("Garage and Tuin match different personas; tension expected")
	}
	if comp.PlaneD.JointSynthesis == "" || strings.Contains(comp.PlaneD.JointSynthesis, "\n\n") {
		t.Errorf("joint synthesis = %q", comp.PlaneD.JointSynthesis)
	}
}

func TestPlaneDWireFormat(t *testing.T) {
	plane := PlaneD{
		Plane:     "D",
		PlaneName: PlaneNameD,
		Personas: map[string]PersonaScore{
			"marcel": {MatchScore: 50, Mood: "positief"},
			"petra":  {MatchScore: 50, Mood: "positief"},
		},
		JointSynthesis: "Beide bewoners zien mogelijkheden.",
	}

	data, err := json.Marshal(plane)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	// Personas flatten to top-level keys.
	if _, ok := decoded["marcel"]; !ok {
		t.Errorf("wire format misses marcel: %s", data)
	}
	if decoded["plane_name"] != PlaneNameD {
		t.Errorf("plane_name = %v", decoded["plane_name"])
	}

	var roundTrip PlaneD
	if err := json.Unmarshal(data, &roundTrip); err != nil {
		t.Fatal(err)
	}
	if roundTrip.Personas["petra"].MatchScore != 50 {
		t.Errorf("round trip lost petra: %+v", roundTrip)
	}
}

func TestScopedKeysExpandPersonas(t *testing.T) {
	keys := ScopedKeys(2, testPrefs())
	if !containsString(keys, "marcel_match_score") || !containsString(keys, "petra_match_score") {
		t.Errorf("chapter 2 scope = %v, want persona match keys", keys)
	}

	keys = ScopedKeys(4, testPrefs())
	if containsString(keys, "marcel_match_score") {
		t.Errorf("chapter 4 scope = %v, must not include persona keys", keys)
	}
	if !containsString(keys, enrich.KeyAddress) {
		t.Errorf("chapter 4 scope = %v, context keys always available", keys)
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
