package chapters

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
)

// AI output violation types.
const (
	ViolationUnauthorizedKey    = "unauthorized_key"
	ViolationUnownedVariable    = "unowned_variable"
	ViolationFabricatedNumber   = "fabricated_number"
	ViolationSyntheticInjection = "synthetic_injection"
	ViolationMalformedOutput    = "malformed_output"
)

// allowedMetaKeys is the closed set of top-level keys an AI chapter
// response may carry.
var allowedMetaKeys = map[string]bool{
	"chapter_id":    true,
	"title":         true,
	"narrative":     true,
	"variables":     true,
	"confidence":    true,
	"reasoning":     true,
	"uncertainties": true,
}

// numberLiteral matches digit runs of two or more characters. Single
// digits appear in ordinary prose ("3 slaapkamers" aside, enumerations)
// and carry no fabrication risk worth the false positives.
var numberLiteral = regexp.MustCompile(`\d[\d.,]*\d|\d\d+`)

// placeholderPhrases that mark synthetic filler instead of real output.
var placeholderPhrases = []string{
	"lorem ipsum",
	"placeholder",
	"as an ai",
	"als ai-model",
	"[invullen]",
}

// AIOutput is the parsed and cleaned AI response for one chapter.
type AIOutput struct {
	ChapterID     int
	Title         string
	Narrative     string
	Variables     map[string]AIVariable
	Confidence    float64
	Reasoning     string
	Uncertainties []string
	Stripped      []string // keys removed in non-strict mode
}

// AIVariable is one interpreted variable in the AI response.
type AIVariable struct {
	Value      string  `json:"value"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// AIValidator checks raw AI responses against the authority contract:
// closed meta-key set, variable ownership, no fabricated numbers, no
// synthetic filler. In strict mode every defect is fatal; otherwise
// unauthorized keys are stripped and recorded while fabrication and
// injection stay fatal.
type AIValidator struct {
	Strict bool
}

// Validate parses raw JSON and enforces the contract for chapter id.
func (v *AIValidator) Validate(id int, raw string) (*AIOutput, []PlaneViolation) {
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, []PlaneViolation{{
			ChapterID:     id,
			SourcePlane:   "B",
			ViolationType: ViolationMalformedOutput,
			Details:       "AI response is not a JSON object: " + err.Error(),
		}}
	}

	out := &AIOutput{ChapterID: id, Variables: make(map[string]AIVariable)}
	var violations []PlaneViolation

	for key, value := range parsed {
		if !allowedMetaKeys[key] {
			if v.Strict {
				violations = append(violations, PlaneViolation{
					ChapterID:     id,
					SourcePlane:   "B",
					ViolationType: ViolationUnauthorizedKey,
					Details:       fmt.Sprintf("meta key %q is not in the allowed set", key),
				})
			} else {
				out.Stripped = append(out.Stripped, key)
			}
			continue
		}
		switch key {
		case "chapter_id":
			json.Unmarshal(value, &out.ChapterID)
		case "title":
			json.Unmarshal(value, &out.Title)
		case "narrative":
			json.Unmarshal(value, &out.Narrative)
		case "confidence":
			json.Unmarshal(value, &out.Confidence)
		case "reasoning":
			json.Unmarshal(value, &out.Reasoning)
		case "uncertainties":
			json.Unmarshal(value, &out.Uncertainties)
		case "variables":
			violations = append(violations, v.parseVariables(id, value, out)...)
		}
	}

	violations = append(violations, v.checkNumbers(id, out)...)
	violations = append(violations, v.checkSynthetic(id, out)...)
	return out, violations
}

// parseVariables decodes the variables block and enforces ownership.
func (v *AIValidator) parseVariables(id int, raw json.RawMessage, out *AIOutput) []PlaneViolation {
	var vars map[string]json.RawMessage
	if err := json.Unmarshal(raw, &vars); err != nil {
		return []PlaneViolation{{
			ChapterID:     id,
			SourcePlane:   "B",
			ViolationType: ViolationMalformedOutput,
			Details:       "variables block is not an object",
		}}
	}

	var violations []PlaneViolation
	for key, value := range vars {
		if !variableKeyAllowed(id, key) {
			if v.Strict {
				violations = append(violations, PlaneViolation{
					ChapterID:     id,
					SourcePlane:   "B",
					ViolationType: ViolationUnownedVariable,
					Details:       fmt.Sprintf("variable %q is not owned by chapter %d", key, id),
				})
			} else {
				out.Stripped = append(out.Stripped, "variables."+key)
			}
			continue
		}

		var variable AIVariable
		if err := json.Unmarshal(value, &variable); err != nil {
			// Scalar form: treat the whole value as the display string.
			var scalar any
			if json.Unmarshal(value, &scalar) == nil {
				variable = AIVariable{Value: fmt.Sprintf("%v", scalar)}
			}
		}
		out.Variables[key] = variable
	}
	return violations
}

// checkNumbers rejects numeric literals in variable values. Numbers are
// registry territory; a variable restates interpretation, never facts.
// Years 1800-2099 are the only exemption: historical references are
// legitimate interpretation.
func (v *AIValidator) checkNumbers(id int, out *AIOutput) []PlaneViolation {
	var violations []PlaneViolation
	for key, variable := range out.Variables {
		for _, literal := range numberLiteral.FindAllString(variable.Value, -1) {
			n, ok := normalizeNumber(literal)
			if !ok {
				continue
			}
			if n >= 1800 && n <= 2099 {
				continue
			}
			violations = append(violations, PlaneViolation{
				ChapterID:     id,
				SourcePlane:   "B",
				ViolationType: ViolationFabricatedNumber,
				Details:       fmt.Sprintf("variable %q carries numeric literal %s", key, literal),
			})
		}
	}
	return violations
}

// checkSynthetic flags boilerplate injection: identical reasoning text
// repeated across three or more variables, or known placeholder phrases
// anywhere in the response.
func (v *AIValidator) checkSynthetic(id int, out *AIOutput) []PlaneViolation {
	var violations []PlaneViolation

	counts := make(map[string]int)
	for _, variable := range out.Variables {
		text := strings.TrimSpace(strings.ToLower(variable.Reasoning))
		if text == "" {
			continue
		}
		counts[text]++
		if counts[text] == 3 {
			violations = append(violations, PlaneViolation{
				ChapterID:     id,
				SourcePlane:   "B",
				ViolationType: ViolationSyntheticInjection,
				Details:       "identical reasoning repeated across three or more variables",
			})
		}
	}

	haystack := strings.ToLower(out.Narrative + " " + out.Reasoning)
	for _, phrase := range placeholderPhrases {
		if strings.Contains(haystack, phrase) {
			violations = append(violations, PlaneViolation{
				ChapterID:     id,
				SourcePlane:   "B",
				ViolationType: ViolationSyntheticInjection,
				Details:       fmt.Sprintf("placeholder phrase %q in AI output", phrase),
			})
		}
	}
	return violations
}

// variableKeyAllowed accepts owned keys plus per-persona match keys when
// the chapter owns the aggregate match score.
func variableKeyAllowed(id int, key string) bool {
	if Owns(id, key) {
		return true
	}
	if strings.HasSuffix(key, "_match_score") || strings.HasSuffix(key, "_matched_tokens") {
		return Owns(id, enrich.KeyMatchScore)
	}
	return false
}

// normalizeNumber parses a literal, treating dots as Dutch thousands
// separators when they group exactly three digits.
func normalizeNumber(literal string) (float64, bool) {
	cleaned := strings.ReplaceAll(literal, ",", ".")
	parts := strings.Split(cleaned, ".")
	if len(parts) > 1 {
		grouped := true
		for _, part := range parts[1:] {
			if len(part) != 3 {
				grouped = false
				break
			}
		}
		if grouped {
			cleaned = strings.Join(parts, "")
		}
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// extractJSON tolerates prose around a JSON object, a common failure
// mode of smaller models.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
