package chapters

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/marcelkurvers/funda-woning-check-sub000/ai"
	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
	"github.com/marcelkurvers/funda-woning-check-sub000/registry"
)

// TextGenerator is the slice of the AI authority the generator needs.
// *ai.Authority satisfies it; tests substitute a scripted fake.
type TextGenerator interface {
	Generate(ctx context.Context, req ai.GenerateRequest) (*ai.GenerateResult, error)
}

// NotFrozenError reports chapter generation against a mutable registry,
// which is a sequencing bug in the caller.
type NotFrozenError struct {
	ChapterID int
}

func (e *NotFrozenError) Error() string {
	return fmt.Sprintf("chapter %d generation requires a frozen registry", e.ChapterID)
}

// AIUnavailableError wraps an AI failure during generation. The returned
// composition still carries the deterministic planes; policy decides
// whether a report without narrative is acceptable.
type AIUnavailableError struct {
	ChapterID int
	Err       error
}

func (e *AIUnavailableError) Error() string {
	return fmt.Sprintf("chapter %d narrative unavailable: %v", e.ChapterID, e.Err)
}

func (e *AIUnavailableError) Unwrap() error { return e.Err }

// ValidationError aggregates the plane violations that disqualify a
// generated chapter.
type ValidationError struct {
	ChapterID  int
	Violations []PlaneViolation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chapter %d failed validation with %d violation(s)", e.ChapterID, len(e.Violations))
}

// Generator produces one validated chapter composition at a time.
type Generator struct {
	gen         TextGenerator
	aiValidator *AIValidator
	logger      *slog.Logger
}

// NewGenerator creates a chapter generator. strict selects fatal
// handling of unauthorized AI output keys.
func NewGenerator(gen TextGenerator, strict bool, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		gen:         gen,
		aiValidator: &AIValidator{Strict: strict},
		logger:      logger,
	}
}

// Generate builds chapter id over the frozen registry. On AI failure the
// deterministic planes are still returned alongside an AIUnavailableError;
// on contract violations the composition carries failing diagnostics
// alongside a ValidationError.
func (g *Generator) Generate(ctx context.Context, id int, reg *registry.Registry, prefs enrich.Preferences) (*Composition, error) {
	if !reg.Frozen() {
		return nil, &NotFrozenError{ChapterID: id}
	}
	spec, ok := SpecFor(id)
	if !ok {
		return nil, fmt.Errorf("unknown chapter %d", id)
	}
	proxy, err := registry.NewProxy(reg)
	if err != nil {
		return nil, err
	}

	extractor := NewExtractor(proxy)
	comp := &Composition{
		ChapterID:      id,
		ChapterTitle:   spec.Title,
		PlaneStructure: true,
		PlaneA:         extractor.VisualPlane(id),
		PlaneC:         extractor.AnchorPlane(id),
		PlaneD:         g.preferencePlane(proxy, prefs),
	}
	comp.PlaneA2 = conceptPlane(comp.PlaneA)

	system, user, err := BuildPrompt(id, proxy, prefs)
	if err != nil {
		return nil, err
	}

	result, genErr := g.gen.Generate(ctx, ai.GenerateRequest{
		Prompt:   user,
		System:   system,
		JSONMode: true,
	})
	if genErr != nil {
		comp.PlaneB = PlaneB{
			Plane:               "B",
			PlaneName:           PlaneNameB,
			NotApplicable:       true,
			NotApplicableReason: "AI-tekstgeneratie is momenteel niet beschikbaar.",
		}
		g.finishDiagnostics(comp, nil)
		g.logger.Warn("Chapter narrative unavailable", "chapter", id, "error", genErr)
		return comp, &AIUnavailableError{ChapterID: id, Err: genErr}
	}

	output, aiViolations := g.aiValidator.Validate(id, result.Text)
	if output != nil {
		comp.PlaneB = PlaneB{
			Plane:         "B",
			PlaneName:     PlaneNameB,
			NarrativeText: output.Narrative,
			WordCount:     CountWords(output.Narrative),
			AIGenerated:   true,
			AIProvider:    result.Provider,
			AIModel:       result.Model,
		}
		comp.PlaneC.Uncertainties = append(comp.PlaneC.Uncertainties, output.Uncertainties...)
		if len(output.Stripped) > 0 {
			g.logger.Warn("Stripped unauthorized AI output keys",
				"chapter", id, "keys", strings.Join(output.Stripped, ","))
		}
	}

	violations := append(aiViolations, NewValidator(reg).Validate(comp)...)
	g.finishDiagnostics(comp, violations)
	if len(violations) > 0 {
		return comp, &ValidationError{ChapterID: id, Violations: violations}
	}
	return comp, nil
}

// preferencePlane builds plane D deterministically from the persona KPIs
// computed during enrichment. AI output never overrides these scores.
func (g *Generator) preferencePlane(proxy *registry.Proxy, prefs enrich.Preferences) PlaneD {
	plane := PlaneD{
		Plane:     "D",
		PlaneName: PlaneNameD,
		Personas:  make(map[string]PersonaScore),
	}

	tokensByPersona := make(map[string][]string)
	for _, persona := range prefs.Personas {
		name := strings.ToLower(persona.Name)
		score, ok := intEntry(proxy, enrich.MatchKey(persona.Name))
		if !ok {
			continue
		}
		matched := stringListEntry(proxy, enrich.MatchedTokensKey(persona.Name))
		tokensByPersona[name] = matched

		missed := missingPriorities(persona.Priorities, matched)
		plane.Personas[name] = PersonaScore{
			MatchScore: score,
			Mood:       moodFor(score),
			KeyValues:  matched,
			Concerns:   missed,
			Summary:    fmt.Sprintf("%s matcht %d%% van de persoonlijke prioriteiten.", persona.Name, score),
		}
	}

	plane.OverlapPoints = tokenOverlap(tokensByPersona)
	plane.TensionPoints = tokenTension(tokensByPersona)
	plane.Comparisons = comparisons(plane.Personas)
	plane.JointSynthesis = jointSynthesis(plane)
	return plane
}

// finishDiagnostics records per-plane status and the validation verdict.
func (g *Generator) finishDiagnostics(comp *Composition, violations []PlaneViolation) {
	diag := Diagnostics{
		ChapterID:             comp.ChapterID,
		PlaneStatus:           make(map[string]string),
		ValidationPassed:      len(violations) == 0,
		MissingRequiredFields: []string{},
		Errors:                []string{},
	}

	diag.PlaneStatus["A"] = planeStatus(comp.PlaneA.NotApplicable, len(comp.PlaneA.Charts) > 0)
	if comp.PlaneA2 != nil && !comp.PlaneA2.NotApplicable {
		diag.PlaneStatus["A2"] = PlaneStatusConceptsOnly
	} else {
		diag.PlaneStatus["A2"] = PlaneStatusNotApplicable
	}
	diag.PlaneStatus["B"] = planeStatus(comp.PlaneB.NotApplicable, comp.PlaneB.NarrativeText != "")
	diag.PlaneStatus["C"] = planeStatus(comp.PlaneC.NotApplicable, len(comp.PlaneC.KPIs) > 0)
	diag.PlaneStatus["D"] = planeStatus(false, len(comp.PlaneD.Personas) > 0)

	diag.MissingRequiredFields = append(diag.MissingRequiredFields, comp.PlaneC.MissingData...)
	for _, violation := range violations {
		diag.Errors = append(diag.Errors, violation.Error())
	}
	comp.Diagnostics = diag
}

func planeStatus(notApplicable, populated bool) string {
	switch {
	case notApplicable:
		return PlaneStatusNotApplicable
	case populated:
		return PlaneStatusOK
	default:
		return PlaneStatusEmpty
	}
}

// conceptPlane proposes synthesized visuals over the charts plane A
// already anchored. Concepts only; rendering is a client concern.
func conceptPlane(a PlaneA) *PlaneA2 {
	plane := &PlaneA2{
		Plane:     "A2",
		PlaneName: PlaneNameA2,
		Concepts:  []VisualConcept{},
	}
	if a.NotApplicable || len(a.Charts) == 0 {
		plane.NotApplicable = true
		plane.NotApplicableReason = "Geen onderliggende visualisaties om te combineren."
		return plane
	}
	for _, chart := range a.Charts {
		plane.Concepts = append(plane.Concepts, VisualConcept{
			Title:            chart.Title,
			VisualType:       "infographic",
			DataUsed:         a.DataSourceIDs,
			InsightExplained: fmt.Sprintf("Combineert %q met context uit het hoofdstuk.", chart.Title),
			Status:           PlaneStatusConceptsOnly,
		})
	}
	plane.HeroInfographic = &plane.Concepts[0]
	return plane
}

// moodFor bands a match score into a reader-facing mood.
func moodFor(score int) string {
	switch {
	case score >= 70:
		return "enthousiast"
	case score >= 50:
		return "positief"
	case score >= 30:
		return "neutraal"
	default:
		return "kritisch"
	}
}

func missingPriorities(priorities, matched []string) []string {
	have := make(map[string]bool, len(matched))
	for _, token := range matched {
		have[strings.ToLower(token)] = true
	}
	missed := []string{}
	for _, priority := range priorities {
		if !have[strings.ToLower(priority)] {
			missed = append(missed, priority)
		}
	}
	return missed
}

// tokenOverlap lists tokens matched by every persona.
func tokenOverlap(tokens map[string][]string) []string {
	if len(tokens) == 0 {
		return []string{}
	}
	counts := make(map[string]int)
	for _, list := range tokens {
		seen := make(map[string]bool)
		for _, token := range list {
			if !seen[token] {
				counts[token]++
				seen[token] = true
			}
		}
	}
	overlap := []string{}
	for token, count := range counts {
		if count == len(tokens) {
			overlap = append(overlap, token)
		}
	}
	sort.Strings(overlap)
	return overlap
}

// tokenTension lists tokens matched by some personas but not all.
func tokenTension(tokens map[string][]string) []string {
	if len(tokens) < 2 {
		return []string{}
	}
	counts := make(map[string]int)
	for _, list := range tokens {
		seen := make(map[string]bool)
		for _, token := range list {
			if !seen[token] {
				counts[token]++
				seen[token] = true
			}
		}
	}
	tension := []string{}
	for token, count := range counts {
		if count > 0 && count < len(tokens) {
			tension = append(tension, token)
		}
	}
	sort.Strings(tension)
	return tension
}

func comparisons(personas map[string]PersonaScore) []string {
	names := make([]string, 0, len(personas))
	for name := range personas {
		names = append(names, name)
	}
	sort.Strings(names)
	out := []string{}
	for _, name := range names {
		score := personas[name]
		out = append(out, fmt.Sprintf("%s: %d%% (%s)", name, score.MatchScore, score.Mood))
	}
	return out
}

// jointSynthesis renders one short paragraph over the computed scores.
func jointSynthesis(plane PlaneD) string {
	if len(plane.Personas) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Gezamenlijk beeld: ")
	b.WriteString(strings.Join(plane.Comparisons, "; "))
	b.WriteString(".")
	if len(plane.OverlapPoints) > 0 {
		fmt.Fprintf(&b, " Gedeelde pluspunten: %s.", strings.Join(plane.OverlapPoints, ", "))
	}
	if len(plane.TensionPoints) > 0 {
		fmt.Fprintf(&b, " Spanningspunten: %s.", strings.Join(plane.TensionPoints, ", "))
	}
	text := b.String()
	if len([]rune(text)) > MaxJointSynthesisLen {
		runes := []rune(text)
		text = string(runes[:MaxJointSynthesisLen-1]) + "…"
	}
	return text
}

func intEntry(proxy *registry.Proxy, key string) (int, bool) {
	entry, ok := proxy.Entry(key)
	if !ok {
		return 0, false
	}
	switch n := entry.Value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func stringListEntry(proxy *registry.Proxy, key string) []string {
	entry, ok := proxy.Entry(key)
	if !ok {
		return []string{}
	}
	if list, ok := entry.Value.([]string); ok {
		return list
	}
	return []string{}
}
