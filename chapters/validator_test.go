package chapters

import (
	"strings"
	"testing"

	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
	"github.com/marcelkurvers/funda-woning-check-sub000/registry"
)

func testPrefs() enrich.Preferences {
	return enrich.Preferences{Personas: []enrich.Persona{
		{Name: "marcel", Priorities: []string{"Garage", "Zonnepanelen"}},
		{Name: "petra", Priorities: []string{"Tuin", "Open keuken"}},
	}}
}

// frozenRegistry enriches a fully populated listing and freezes it.
func frozenRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	raw := map[string]any{
		enrich.KeyAskingPrice: 450000,
		enrich.KeyLivingArea:  120,
		enrich.KeyPlotArea:    200,
		enrich.KeyBuildYear:   1985,
		enrich.KeyEnergyLabel: "C",
		enrich.KeyAddress:     "Teststraat 123, Utrecht",
		enrich.KeyDescription: "Woning met tuin",
		enrich.KeyFeatures:    []string{"Tuin", "Garage"},
	}
	if err := enrich.NewAdapter(3500, nil).Populate(reg, raw, testPrefs()); err != nil {
		t.Fatalf("populate: %v", err)
	}
	if err := reg.Freeze(); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	return reg
}

// longNarrative returns valid prose of at least n words.
func longNarrative(n int) string {
	sentence := "De woning biedt naar verwachting een degelijke en comfortabele basis voor de komende jaren. "
	words := len(strings.Fields(sentence))
	return strings.TrimSpace(strings.Repeat(sentence, n/words+1))
}

// validComposition builds a chapter that satisfies every plane rule.
func validComposition(t *testing.T, reg *registry.Registry) *Composition {
	t.Helper()
	proxy, err := registry.NewProxy(reg)
	if err != nil {
		t.Fatal(err)
	}
	extractor := NewExtractor(proxy)
	comp := &Composition{
		ChapterID:      1,
		ChapterTitle:   "Prijs & Waarde",
		PlaneStructure: true,
		PlaneA:         extractor.VisualPlane(1),
		PlaneB: PlaneB{
			Plane:         "B",
			PlaneName:     PlaneNameB,
			NarrativeText: longNarrative(MinNarrativeWords),
			AIGenerated:   true,
		},
		PlaneC: extractor.AnchorPlane(1),
		PlaneD: PlaneD{
			Plane:     "D",
			PlaneName: PlaneNameD,
			Personas: map[string]PersonaScore{
				"marcel": {MatchScore: 50, Mood: "positief"},
			},
			JointSynthesis: "Gezamenlijk beeld: gemengd maar overwegend positief.",
		},
	}
	comp.PlaneB.WordCount = CountWords(comp.PlaneB.NarrativeText)
	return comp
}

func TestValidCompositionPasses(t *testing.T) {
	reg := frozenRegistry(t)
	comp := validComposition(t, reg)

	if violations := NewValidator(reg).Validate(comp); len(violations) != 0 {
		t.Fatalf("unexpected violations: %v", violations)
	}
}

func TestChartTitleLengthIsBounded(t *testing.T) {
	reg := frozenRegistry(t)
	comp := validComposition(t, reg)
	comp.PlaneA.Charts[0].Title = strings.Repeat("Een veel te lange grafiektitel ", 4)

	violations := NewValidator(reg).Validate(comp)
	if !hasViolation(violations, "A", ViolationNarrativeInVisual) {
		t.Errorf("expected narrative_in_visual_plane, got %v", violations)
	}
}

func TestUnknownChartSourceIsRejected(t *testing.T) {
	reg := frozenRegistry(t)
	comp := validComposition(t, reg)
	comp.PlaneA.DataSourceIDs = append(comp.PlaneA.DataSourceIDs, "verzonnen_sleutel")

	violations := NewValidator(reg).Validate(comp)
	if !hasViolation(violations, "A", ViolationUnknownDataSource) {
		t.Errorf("expected unknown_data_source, got %v", violations)
	}
}

func TestEmptyVisualPlaneNeedsReason(t *testing.T) {
	reg := frozenRegistry(t)

	comp := validComposition(t, reg)
	comp.PlaneA.Charts = nil
	if !hasViolation(NewValidator(reg).Validate(comp), "A", ViolationEmptyPlane) {
		t.Error("chartless plane A without not_applicable should be rejected")
	}

	comp = validComposition(t, reg)
	comp.PlaneA = PlaneA{Plane: "A", PlaneName: PlaneNameA, NotApplicable: true}
	if !hasViolation(NewValidator(reg).Validate(comp), "A", ViolationMissingReason) {
		t.Error("not_applicable without reason should be rejected")
	}

	comp.PlaneA.NotApplicableReason = "Geen numerieke gegevens beschikbaar."
	if violations := NewValidator(reg).Validate(comp); len(violations) != 0 {
		t.Errorf("reasoned not_applicable should pass, got %v", violations)
	}
}

func TestShortNarrativeIsRejected(t *testing.T) {
	reg := frozenRegistry(t)
	comp := validComposition(t, reg)
	comp.PlaneB.NarrativeText = "Te kort."

	violations := NewValidator(reg).Validate(comp)
	if !hasViolation(violations, "B", ViolationNarrativeTooShort) {
		t.Errorf("expected narrative_too_short, got %v", violations)
	}
}

func TestSummaryChapterNeedsMoreWords(t *testing.T) {
	reg := frozenRegistry(t)
	comp := validComposition(t, reg)
	comp.ChapterID = 0
	comp.PlaneB.NarrativeText = longNarrative(MinNarrativeWords) // under the summary minimum

	violations := NewValidator(reg).Validate(comp)
	if !hasViolation(violations, "B", ViolationNarrativeTooShort) {
		t.Errorf("chapter 0 should require %d words, got %v", MinSummaryWords, violations)
	}
}

func TestKPIDumpInNarrativeIsRejected(t *testing.T) {
	reg := frozenRegistry(t)
	comp := validComposition(t, reg)
	comp.PlaneB.NarrativeText = longNarrative(MinNarrativeWords) +
		"\nVraagprijs: 450000\nWoonoppervlakte: 120 m²\nBouwjaar: 1985\n"

	violations := NewValidator(reg).Validate(comp)
	if !hasViolation(violations, "B", ViolationDataDumpInNarrative) {
		t.Errorf("expected data_dump_in_narrative_plane, got %v", violations)
	}
}

func TestPersonaScoreLeakIsRejected(t *testing.T) {
	reg := frozenRegistry(t)
	comp := validComposition(t, reg)
	comp.PlaneB.NarrativeText = longNarrative(MinNarrativeWords) +
		" Marcel komt hier uit op een match van 80% volgens de berekening."

	violations := NewValidator(reg).Validate(comp)
	if !hasViolation(violations, "B", ViolationDataDumpInNarrative) {
		t.Errorf("expected persona leak rejection, got %v", violations)
	}
}

func TestProseInAnchorPlaneIsRejected(t *testing.T) {
	reg := frozenRegistry(t)
	comp := validComposition(t, reg)
	comp.PlaneC.KPIs = append(comp.PlaneC.KPIs, FactualKPI{
		Key:        "valuation_status",
		Label:      "Waardering",
		Value:      strings.Repeat("Deze woning is marktconform geprijsd. ", 6),
		Provenance: ProvenanceDerived,
		Complete:   true,
	})

	violations := NewValidator(reg).Validate(comp)
	if !hasViolation(violations, "C", ViolationNarrativeInAnchor) {
		t.Errorf("expected narrative_in_anchor_plane, got %v", violations)
	}
}

func TestJointSynthesisIsBounded(t *testing.T) {
	reg := frozenRegistry(t)

	comp := validComposition(t, reg)
	comp.PlaneD.JointSynthesis = strings.Repeat("a", MaxJointSynthesisLen+1)
	if !hasViolation(NewValidator(reg).Validate(comp), "D", ViolationSynthesisOverflow) {
		t.Error("overlong joint synthesis should be rejected")
	}

	comp = validComposition(t, reg)
	comp.PlaneD.JointSynthesis = "Eerste alinea.\n\nTweede alinea."
	if !hasViolation(NewValidator(reg).Validate(comp), "D", ViolationSynthesisOverflow) {
		t.Error("multi-paragraph joint synthesis should be rejected")
	}
}

func hasViolation(violations []PlaneViolation, plane, kind string) bool {
	for _, v := range violations {
		if v.SourcePlane == plane && v.ViolationType == kind {
			return true
		}
	}
	return false
}
