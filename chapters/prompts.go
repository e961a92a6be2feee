package chapters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
	"github.com/marcelkurvers/funda-woning-check-sub000/registry"
)

// systemPrompt frames the AI's role: interpretation over the supplied
// facts, nothing else. The output contract mirrors the allowed meta keys.
const systemPrompt = `Je bent een Nederlandse woningadviseur. Je schrijft één hoofdstuk van een woningrapport.

Regels:
- Interpreteer uitsluitend de aangeleverde gegevens. Herhaal geen kale feiten en verzin geen getallen.
- Benoem onzekerheid expliciet wanneer gegevens ontbreken.
- Schrijf vloeiend Nederlands proza, geen opsommingen van cijfers.
- Antwoord met uitsluitend een JSON-object met de velden: chapter_id, title, narrative, variables, confidence, reasoning, uncertainties.
- In variables gebruik je alleen de sleutels die onder "Eigen variabelen" staan, elk als {"value": "...", "reasoning": "...", "confidence": 0.0-1.0}.
- Variable-waarden bevatten geen getallen, ook geen herhaling van aangeleverde cijfers; alleen jaartallen als periodeverwijzing zijn toegestaan.`

// BuildPrompt assembles the generation request for chapter id over the
// scoped registry view.
func BuildPrompt(id int, proxy *registry.Proxy, prefs enrich.Preferences) (system, user string, err error) {
	spec, ok := SpecFor(id)
	if !ok {
		return "", "", fmt.Errorf("unknown chapter %d", id)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hoofdstuk %d: %s\n\n", spec.ID, spec.Title)
	fmt.Fprintf(&b, "Focus: %s\n\n", spec.Focus)

	minWords := MinNarrativeWords
	if id == 0 {
		minWords = MinSummaryWords
	}
	fmt.Fprintf(&b, "Schrijf een narrative van minimaal %d woorden.\n\n", minWords)

	b.WriteString("Beschikbare gegevens:\n")
	for _, key := range ScopedKeys(id, prefs) {
		value, ok := proxy.Get(key)
		if !ok {
			fmt.Fprintf(&b, "- %s: onbekend\n", key)
			continue
		}
		display := value.Display()
		if unit := value.Unit(); unit != "" {
			display += " " + unit
		}
		fmt.Fprintf(&b, "- %s: %s\n", key, display)
	}

	b.WriteString("\nEigen variabelen (alleen deze sleutels zijn toegestaan):\n")
	for _, key := range ownedVariableKeys(spec, prefs) {
		fmt.Fprintf(&b, "- %s\n", key)
	}

	if len(prefs.Personas) > 0 {
		b.WriteString("\nBewonersprofielen:\n")
		for _, persona := range prefs.Personas {
			fmt.Fprintf(&b, "- %s: %s\n", persona.Name, strings.Join(persona.Priorities, ", "))
		}
	}

	return systemPrompt, b.String(), nil
}

// ownedVariableKeys lists the variable keys the AI may emit for a
// chapter, expanding the aggregate match score into per-persona keys.
func ownedVariableKeys(spec Spec, prefs enrich.Preferences) []string {
	set := make(map[string]bool)
	for _, key := range spec.OwnedKeys {
		set[key] = true
		if key == enrich.KeyMatchScore {
			for _, persona := range prefs.Personas {
				set[enrich.MatchKey(persona.Name)] = true
			}
		}
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
