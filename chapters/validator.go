package chapters

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/marcelkurvers/funda-woning-check-sub000/registry"
)

// Structural bounds for the plane contract.
const (
	MaxChartTitleLen     = 50
	MinNarrativeChars    = 200
	MinNarrativeWords    = 300
	MinSummaryWords      = 500
	MaxKPIValueLen       = 160
	MaxJointSynthesisLen = 500
)

// Violation types reported by the validator.
const (
	ViolationNarrativeInVisual   = "narrative_in_visual_plane"
	ViolationDataDumpInNarrative = "data_dump_in_narrative_plane"
	ViolationNarrativeInAnchor   = "narrative_in_anchor_plane"
	ViolationSynthesisOverflow   = "synthesis_overflow"
	ViolationUnknownDataSource   = "unknown_data_source"
	ViolationEmptyPlane          = "empty_plane"
	ViolationMissingReason       = "missing_not_applicable_reason"
	ViolationNarrativeTooShort   = "narrative_too_short"
)

// kpiDumpLine matches "Label: value" table rows. Three or more in a
// narrative means plane C content leaked into plane B.
var kpiDumpLine = regexp.MustCompile(`(?m)^\s*[\p{L}][\p{L} /²€%-]{1,40}:\s*\S`)

// personaScoreLeak matches inline persona percentages ("Marcel: 80%",
// "petra scoort 65%"). Those belong in plane D.
var personaScoreLeak = regexp.MustCompile(`(?i)\b(marcel|petra)\b[^.\n]{0,40}\b\d{1,3}\s*%`)

// conjunctions that turn a KPI value into running prose.
var proseConjunctions = []string{" omdat ", " waardoor ", " terwijl ", " en daarom ", " maar ook "}

// Validator checks compositions against the plane contract. When a
// registry is supplied, chart data sources are verified against it.
type Validator struct {
	reg *registry.Registry
}

// NewValidator creates a validator. reg may be nil to skip source checks.
func NewValidator(reg *registry.Registry) *Validator {
	return &Validator{reg: reg}
}

// Validate returns every structural violation in the composition. An
// empty slice means the chapter satisfies the contract.
func (v *Validator) Validate(comp *Composition) []PlaneViolation {
	var out []PlaneViolation
	out = append(out, v.validateA(comp)...)
	out = append(out, v.validateB(comp)...)
	out = append(out, v.validateC(comp)...)
	out = append(out, v.validateD(comp)...)
	return out
}

func (v *Validator) validateA(comp *Composition) []PlaneViolation {
	var out []PlaneViolation
	a := comp.PlaneA

	if a.NotApplicable {
		if a.NotApplicableReason == "" {
			out = append(out, v.violation(comp, "A", ViolationMissingReason,
				"plane A marked not applicable without a reason"))
		}
		return out
	}
	if len(a.Charts) == 0 {
		out = append(out, v.violation(comp, "A", ViolationEmptyPlane,
			"plane A has no charts and is not marked not_applicable"))
	}
	for _, chart := range a.Charts {
		if len([]rune(chart.Title)) > MaxChartTitleLen {
			out = append(out, v.violation(comp, "A", ViolationNarrativeInVisual,
				fmt.Sprintf("chart title %q exceeds %d characters", chart.Title, MaxChartTitleLen)))
		}
	}
	if v.reg != nil {
		for _, id := range a.DataSourceIDs {
			if !v.reg.Has(id) {
				out = append(out, v.violation(comp, "A", ViolationUnknownDataSource,
					fmt.Sprintf("data source %q is not a registry key", id)))
			}
		}
	}
	return out
}

func (v *Validator) validateB(comp *Composition) []PlaneViolation {
	var out []PlaneViolation
	b := comp.PlaneB

	if b.NotApplicable {
		if b.NotApplicableReason == "" {
			out = append(out, v.violation(comp, "B", ViolationMissingReason,
				"plane B marked not applicable without a reason"))
		}
		return out
	}

	text := b.NarrativeText
	if len([]rune(text)) < MinNarrativeChars {
		out = append(out, v.violation(comp, "B", ViolationNarrativeTooShort,
			fmt.Sprintf("narrative is %d characters, minimum is %d", len([]rune(text)), MinNarrativeChars)))
	}
	minWords := MinNarrativeWords
	if comp.ChapterID == 0 {
		minWords = MinSummaryWords
	}
	if words := CountWords(text); words < minWords {
		out = append(out, v.violation(comp, "B", ViolationNarrativeTooShort,
			fmt.Sprintf("narrative has %d words, minimum is %d", words, minWords)))
	}
	if matches := kpiDumpLine.FindAllString(text, -1); len(matches) >= 3 {
		out = append(out, v.violation(comp, "B", ViolationDataDumpInNarrative,
			fmt.Sprintf("%d KPI-style lines in narrative; anchored facts belong in the factual plane", len(matches))))
	}
	if personaScoreLeak.MatchString(text) {
		out = append(out, v.violation(comp, "B", ViolationDataDumpInNarrative,
			"persona score percentages in narrative; persona data belongs in the preference plane"))
	}
	return out
}

func (v *Validator) validateC(comp *Composition) []PlaneViolation {
	var out []PlaneViolation
	c := comp.PlaneC

	if c.NotApplicable {
		if c.NotApplicableReason == "" {
			out = append(out, v.violation(comp, "C", ViolationMissingReason,
				"plane C marked not applicable without a reason"))
		}
		return out
	}
	if len(c.KPIs) == 0 {
		out = append(out, v.violation(comp, "C", ViolationEmptyPlane,
			"plane C has no KPIs and is not marked not_applicable"))
	}
	for _, kpi := range c.KPIs {
		text, ok := kpi.Value.(string)
		if !ok {
			continue
		}
		if len([]rune(text)) > MaxKPIValueLen {
			out = append(out, v.violation(comp, "C", ViolationNarrativeInAnchor,
				fmt.Sprintf("KPI %q value is %d characters, maximum is %d", kpi.Key, len([]rune(text)), MaxKPIValueLen)))
			continue
		}
		lower := " " + strings.ToLower(text) + " "
		hits := 0
		for _, conj := range proseConjunctions {
			hits += strings.Count(lower, conj)
		}
		if hits >= 2 || strings.Count(strings.TrimRight(text, "."), ". ") >= 2 {
			out = append(out, v.violation(comp, "C", ViolationNarrativeInAnchor,
				fmt.Sprintf("KPI %q reads as multi-sentence prose", kpi.Key)))
		}
	}
	return out
}

func (v *Validator) validateD(comp *Composition) []PlaneViolation {
	var out []PlaneViolation
	d := comp.PlaneD

	if len(d.Personas) == 0 {
		out = append(out, v.violation(comp, "D", ViolationEmptyPlane,
			"plane D carries no persona scores"))
	}
	if len([]rune(d.JointSynthesis)) > MaxJointSynthesisLen {
		out = append(out, v.violation(comp, "D", ViolationSynthesisOverflow,
			fmt.Sprintf("joint synthesis is %d characters, maximum is %d", len([]rune(d.JointSynthesis)), MaxJointSynthesisLen)))
	}
	if strings.Contains(d.JointSynthesis, "\n\n") {
		out = append(out, v.violation(comp, "D", ViolationSynthesisOverflow,
			"joint synthesis spans multiple paragraphs"))
	}
	return out
}

func (v *Validator) violation(comp *Composition, plane, kind, details string) PlaneViolation {
	return PlaneViolation{
		ChapterID:     comp.ChapterID,
		SourcePlane:   plane,
		ViolationType: kind,
		Details:       details,
	}
}
