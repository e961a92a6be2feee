package enrich

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marcelkurvers/funda-woning-check-sub000/registry"
)

// Persona is one household member with a set of priority tokens.
type Persona struct {
	Name       string   `yaml:"name" json:"name"`
	Priorities []string `yaml:"priorities" json:"priorities"`
}

// Preferences is the user preference model applied during enrichment.
type Preferences struct {
	Personas []Persona `yaml:"personas" json:"personas"`
}

// DefaultPreferences returns the built-in two-persona household.
func DefaultPreferences() Preferences {
	return Preferences{
		Personas: []Persona{
			{Name: "marcel", Priorities: []string{"Garage", "Zonnepanelen", "Glasvezel"}},
			{Name: "petra", Priorities: []string{"Tuin", "Open keuken", "Badkamer"}},
		},
	}
}

// LoadPreferences reads a YAML preferences file. Missing personas fall
// back to the defaults.
func LoadPreferences(path string) (Preferences, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Preferences{}, fmt.Errorf("failed to read preferences: %w", err)
	}
	var prefs Preferences
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		return Preferences{}, fmt.Errorf("failed to parse preferences: %w", err)
	}
	if len(prefs.Personas) == 0 {
		prefs = DefaultPreferences()
	}
	return prefs, nil
}

// tokenAliases is the single canonical alias table for persona priority
// matching. Both the scorer and the matched-token reporting read it.
var tokenAliases = map[string][]string{
	"garage":       {"garage", "carport", "parkeerplaats", "parkeren"},
	"zonnepanelen": {"zonnepanelen", "zonnepaneel", "pv-panelen", "solar"},
	"tuin":         {"tuin", "achtertuin", "voortuin", "buitenruimte"},
	"open keuken":  {"open keuken", "woonkeuken", "leefkeuken"},
	"badkamer":     {"badkamer", "bad", "inloopdouche"},
	"glasvezel":    {"glasvezel", "fiber"},
	"balkon":       {"balkon", "dakterras", "terras"},
	"garage box":   {"garagebox", "berging"},
}

// MatchKey returns the registry key carrying a persona's match score.
func MatchKey(persona string) string {
	return strings.ToLower(persona) + "_match_score"
}

// MatchedTokensKey returns the registry key carrying a persona's matched
// priority tokens.
func MatchedTokensKey(persona string) string {
	return strings.ToLower(persona) + "_matched_tokens"
}

// scorePersonas computes per-persona match scores against a lowercased
// blob of description, features and energy label, and registers the
// scores as KPIs and the matched-token lists as variables.
func (a *Adapter) scorePersonas(reg *registry.Registry, raw map[string]any, label string, prefs Preferences) error {
	if len(prefs.Personas) == 0 {
		prefs = DefaultPreferences()
	}

	blob := buildMatchBlob(raw, label)

	total := 0
	for _, persona := range prefs.Personas {
		score, matched := matchPersona(blob, persona.Priorities)
		total += score

		err := reg.Register(registry.Entry{
			ID:          MatchKey(persona.Name),
			Kind:        registry.KindKPI,
			Value:       score,
			Name:        "Match " + persona.Name,
			Unit:        "%",
			Source:      "enrichment",
			Confidence:  0.8,
			Complete:    true,
			DerivedFrom: []string{KeyDescription, KeyFeatures, KeyEnergyLabel},
		})
		if err != nil {
			return err
		}

		err = a.variable(reg, MatchedTokensKey(persona.Name), matched,
			"Gematchte voorkeuren "+persona.Name, "", KeyDescription, KeyFeatures)
		if err != nil {
			return err
		}
	}

	aggregate := 0
	if len(prefs.Personas) > 0 {
		aggregate = int(math.Round(float64(total) / float64(len(prefs.Personas))))
	}
	return reg.Register(registry.Entry{
		ID:         KeyMatchScore,
		Kind:       registry.KindKPI,
		Value:      aggregate,
		Name:       "Totale match",
		Unit:       "%",
		Source:     "enrichment",
		Confidence: 0.8,
		Complete:   true,
	})
}

func buildMatchBlob(raw map[string]any, label string) string {
	var parts []string
	if desc, ok := asString(raw[KeyDescription]); ok {
		parts = append(parts, desc)
	}
	parts = append(parts, asStringList(raw[KeyFeatures])...)
	if label != "" {
		parts = append(parts, "energielabel "+label)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// matchPersona scores a priority list against the blob. Each priority
// counts as a hit when the token or any of its aliases occurs. The score
// is round(100·hits/total) clamped to [10,100].
func matchPersona(blob string, priorities []string) (int, []string) {
	if len(priorities) == 0 {
		return 10, nil
	}

	hits := 0
	var matched []string
	for _, priority := range priorities {
		token := strings.ToLower(strings.TrimSpace(priority))
		candidates := []string{token}
		if aliases, ok := tokenAliases[token]; ok {
			candidates = aliases
		}
		for _, candidate := range candidates {
			if strings.Contains(blob, candidate) {
				hits++
				matched = append(matched, priority)
				break
			}
		}
	}

	score := int(math.Round(100 * float64(hits) / float64(len(priorities))))
	if score < 10 {
		score = 10
	}
	if score > 100 {
		score = 100
	}
	sort.Strings(matched)
	return score, matched
}
