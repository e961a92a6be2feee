// Package chapters implements the four-plane chapter contract: visual
// intelligence (A), narrative reasoning (B), factual anchor (C) and
// human preference (D), plus the optional synthesized-visual plane A2.
// Every chapter in a report is a ChapterPlaneComposition validated
// against the structural rules in this package.
package chapters

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Plane identifiers on the wire.
const (
	PlaneNameA  = "visual_intelligence"
	PlaneNameA2 = "synthesized_visual_intelligence"
	PlaneNameB  = "narrative_reasoning"
	PlaneNameC  = "factual_anchor"
	PlaneNameD  = "human_preference"
)

// DataPoint is one labeled value in a chart.
type DataPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// ChartSpec describes one deterministic visual. Charts carry data and a
// short title; explanatory prose belongs in plane B.
type ChartSpec struct {
	Type   string      `json:"type"`
	Title  string      `json:"title"`
	Data   []DataPoint `json:"data"`
	XLabel string      `json:"x_label,omitempty"`
	YLabel string      `json:"y_label,omitempty"`
}

// PlaneA is the visual intelligence plane.
type PlaneA struct {
	Plane               string      `json:"plane"`
	PlaneName           string      `json:"plane_name"`
	Charts              []ChartSpec `json:"charts"`
	DataSourceIDs       []string    `json:"data_source_ids"`
	NotApplicable       bool        `json:"not_applicable"`
	NotApplicableReason string      `json:"not_applicable_reason,omitempty"`
}

// VisualConcept is one synthesized visual idea in plane A2.
type VisualConcept struct {
	Title            string   `json:"title"`
	VisualType       string   `json:"visual_type"`
	DataUsed         []string `json:"data_used"`
	InsightExplained string   `json:"insight_explained"`
	Status           string   `json:"generation_status"`
}

// PlaneA2 is the optional synthesized visual plane.
type PlaneA2 struct {
	Plane               string          `json:"plane"`
	PlaneName           string          `json:"plane_name"`
	HeroInfographic     *VisualConcept  `json:"hero_infographic,omitempty"`
	Concepts            []VisualConcept `json:"concepts"`
	NotApplicable       bool            `json:"not_applicable"`
	NotApplicableReason string          `json:"not_applicable_reason,omitempty"`
}

// PlaneB is the narrative reasoning plane: a single prose block.
type PlaneB struct {
	Plane               string `json:"plane"`
	PlaneName           string `json:"plane_name"`
	NarrativeText       string `json:"narrative_text"`
	WordCount           int    `json:"word_count"`
	AIGenerated         bool   `json:"ai_generated"`
	AIProvider          string `json:"ai_provider,omitempty"`
	AIModel             string `json:"ai_model,omitempty"`
	NotApplicable       bool   `json:"not_applicable"`
	NotApplicableReason string `json:"not_applicable_reason,omitempty"`
}

// Provenance values for factual KPIs.
const (
	ProvenanceFact     = "fact"
	ProvenanceInferred = "inferred"
	ProvenanceDerived  = "derived"
	ProvenanceUnknown  = "unknown"
)

// FactualKPI is one anchored fact in plane C. Values are short formatted
// strings or numbers, never narrative.
type FactualKPI struct {
	Key           string `json:"key"`
	Label         string `json:"label"`
	Value         any    `json:"value"`
	Unit          string `json:"unit,omitempty"`
	Provenance    string `json:"provenance"`
	RegistryID    string `json:"registry_id,omitempty"`
	Complete      bool   `json:"completeness"`
	MissingReason string `json:"missing_reason,omitempty"`
}

// PlaneC is the factual anchor plane.
type PlaneC struct {
	Plane               string         `json:"plane"`
	PlaneName           string         `json:"plane_name"`
	KPIs                []FactualKPI   `json:"kpis"`
	Parameters          map[string]any `json:"parameters,omitempty"`
	DataSources         []string       `json:"data_sources"`
	MissingData         []string       `json:"missing_data"`
	Uncertainties       []string       `json:"uncertainties"`
	NotApplicable       bool           `json:"not_applicable"`
	NotApplicableReason string         `json:"not_applicable_reason,omitempty"`
}

// PersonaScore is one persona's view of the chapter subject.
type PersonaScore struct {
	MatchScore int      `json:"match_score"`
	Mood       string   `json:"mood"`
	KeyValues  []string `json:"key_values"`
	Concerns   []string `json:"concerns"`
	Summary    string   `json:"summary"`
}

// PlaneD is the human preference plane. Personas are keyed by name on
// the wire (marcel: {...}, petra: {...}).
type PlaneD struct {
	Plane          string                  `json:"-"`
	PlaneName      string                  `json:"-"`
	Personas       map[string]PersonaScore `json:"-"`
	Comparisons    []string                `json:"-"`
	OverlapPoints  []string                `json:"-"`
	TensionPoints  []string                `json:"-"`
	JointSynthesis string                  `json:"-"`
}

// MarshalJSON flattens persona scores to top-level keys per the wire
// contract.
func (d PlaneD) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"plane":          d.Plane,
		"plane_name":     d.PlaneName,
		"comparisons":    emptyIfNil(d.Comparisons),
		"overlap_points": emptyIfNil(d.OverlapPoints),
		"tension_points": emptyIfNil(d.TensionPoints),
	}
	for name, score := range d.Personas {
		out[name] = score
	}
	if d.JointSynthesis != "" {
		out["joint_synthesis"] = d.JointSynthesis
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the flattened wire form.
func (d *PlaneD) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Personas = make(map[string]PersonaScore)
	for key, value := range raw {
		switch key {
		case "plane":
			json.Unmarshal(value, &d.Plane)
		case "plane_name":
			json.Unmarshal(value, &d.PlaneName)
		case "comparisons":
			json.Unmarshal(value, &d.Comparisons)
		case "overlap_points":
			json.Unmarshal(value, &d.OverlapPoints)
		case "tension_points":
			json.Unmarshal(value, &d.TensionPoints)
		case "joint_synthesis":
			json.Unmarshal(value, &d.JointSynthesis)
		default:
			var score PersonaScore
			if err := json.Unmarshal(value, &score); err == nil {
				d.Personas[key] = score
			}
		}
	}
	return nil
}

// PlaneStatus values used in diagnostics.
const (
	PlaneStatusOK            = "ok"
	PlaneStatusConceptsOnly  = "concepts_only"
	PlaneStatusNotApplicable = "not_applicable"
	PlaneStatusEmpty         = "empty"
	PlaneStatusMissing       = "missing"
)

// Diagnostics accompanies every composition.
type Diagnostics struct {
	ChapterID             int               `json:"chapter_id"`
	PlaneStatus           map[string]string `json:"plane_status"`
	ValidationPassed      bool              `json:"validation_passed"`
	MissingRequiredFields []string          `json:"missing_required_fields"`
	Errors                []string          `json:"errors"`
}

// Composition is one chapter: four mandatory planes, the optional A2,
// and diagnostics. A missing plane is only legal as an explicit
// not_applicable with a reason.
type Composition struct {
	ChapterID      int         `json:"-"`
	ChapterTitle   string      `json:"title"`
	PlaneStructure bool        `json:"plane_structure"`
	PlaneA         PlaneA      `json:"plane_a"`
	PlaneA2        *PlaneA2    `json:"plane_a2,omitempty"`
	PlaneB         PlaneB      `json:"plane_b"`
	PlaneC         PlaneC      `json:"plane_c"`
	PlaneD         PlaneD      `json:"plane_d"`
	Diagnostics    Diagnostics `json:"diagnostics"`
}

// MarshalJSON adds the string chapter id per the wire contract.
func (c Composition) MarshalJSON() ([]byte, error) {
	type alias Composition
	return json.Marshal(struct {
		ID string `json:"id"`
		alias
	}{
		ID:    fmt.Sprintf("%d", c.ChapterID),
		alias: alias(c),
	})
}

// PlaneViolation is a fatal structural defect in a chapter.
type PlaneViolation struct {
	ChapterID     int    `json:"chapter_id"`
	SourcePlane   string `json:"source_plane"`
	ViolationType string `json:"violation_type"`
	Details       string `json:"details"`
}

func (e *PlaneViolation) Error() string {
	return fmt.Sprintf("plane violation in chapter %d, plane %s: %s (%s)",
		e.ChapterID, e.SourcePlane, e.ViolationType, e.Details)
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
