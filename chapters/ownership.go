package chapters

import (
	"sort"

	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
)

// Spec describes one chapter: its title, the registry keys it owns and
// the interpretive focus handed to the AI. Ownership is exclusive for
// variables: a chapter may only emit variables over keys it owns.
type Spec struct {
	ID        int
	Title     string
	OwnedKeys []string
	Focus     string
}

// chapterSpecs is the fixed report outline. Chapter 0 is the executive
// summary and owns the aggregate scores; the rest each own one theme.
var chapterSpecs = []Spec{
	{
		ID:    0,
		Title: "Samenvatting",
		OwnedKeys: []string{
			enrich.KeyAIScore,
			enrich.KeyMatchScore,
			enrich.KeyValuationStatus,
		},
		Focus: "Geef een samenvattend oordeel over de woning als geheel: totaalscore, prijspositie en geschiktheid.",
	},
	{
		ID:    1,
		Title: "Prijs & Waarde",
		OwnedKeys: []string{
			enrich.KeyAskingPrice,
			enrich.KeyPricePerM2,
			enrich.KeyValuationStatus,
		},
		Focus: "Interpreteer de prijspositie ten opzichte van de markt. Wat betekent de prijs per vierkante meter voor een koper?",
	},
	{
		ID:    2,
		Title: "Persoonlijke Match",
		OwnedKeys: []string{
			enrich.KeyMatchScore,
		},
		Focus: "Weeg de woning tegen de persoonlijke prioriteiten van de bewoners. Waar botsen en waar overlappen hun wensen?",
	},
	{
		ID:    3,
		Title: "Ruimte & Indeling",
		OwnedKeys: []string{
			enrich.KeyLivingArea,
			enrich.KeyPlotArea,
			enrich.KeyEstimatedVolume,
			enrich.KeyRoomCount,
			enrich.KeyBedrooms,
		},
		Focus: "Interpreteer de bruikbaarheid van de ruimte: leefbaarheid, indeling en groeimogelijkheden.",
	},
	{
		ID:    4,
		Title: "Energie & Duurzaamheid",
		OwnedKeys: []string{
			enrich.KeyEnergyLabel,
			enrich.KeyEnergyInvest,
			enrich.KeyAdvice,
		},
		Focus: "Interpreteer het energieprofiel en de verduurzamingsopgave. Wat betekent de investering in de praktijk?",
	},
	{
		ID:    5,
		Title: "Locatie",
		OwnedKeys: []string{
			enrich.KeyAddress,
			enrich.KeyListingURL,
		},
		Focus: "Interpreteer de ligging op basis van het adres en de omschrijving. Benoem onzekerheid waar gegevens ontbreken.",
	},
	{
		ID:    6,
		Title: "Onderhoud & Renovatie",
		OwnedKeys: []string{
			enrich.KeyBuildYear,
			enrich.KeyEnergyInvest,
		},
		Focus: "Interpreteer wat het bouwjaar en energieprofiel zeggen over te verwachten onderhoud en renovatie.",
	},
	{
		ID:    7,
		Title: "Conclusie & Advies",
		OwnedKeys: []string{
			enrich.KeyAIScore,
			enrich.KeyMatchScore,
			enrich.KeyAdvice,
		},
		Focus: "Formuleer een afgewogen eindadvies: kopen, onderhandelen of afzien, en onder welke voorwaarden.",
	},
}

// alwaysAvailableKeys are readable from every chapter scope regardless
// of ownership. Descriptive context, never exclusive theme data.
var alwaysAvailableKeys = []string{
	enrich.KeyAddress,
	enrich.KeyPropertyType,
	enrich.KeyDescription,
	enrich.KeyFeatures,
	enrich.KeyMediaURLs,
	enrich.KeyListingURL,
}

// Specs returns the chapter outline in report order.
func Specs() []Spec {
	out := make([]Spec, len(chapterSpecs))
	copy(out, chapterSpecs)
	return out
}

// SpecFor returns the chapter spec for id.
func SpecFor(id int) (Spec, bool) {
	for _, spec := range chapterSpecs {
		if spec.ID == id {
			return spec, true
		}
	}
	return Spec{}, false
}

// Count returns the number of chapters in a report.
func Count() int { return len(chapterSpecs) }

// ScopedKeys returns the sorted set of registry keys chapter id may read:
// its owned keys, the always-available context keys and the per-persona
// match keys derived from prefs.
func ScopedKeys(id int, prefs enrich.Preferences) []string {
	spec, ok := SpecFor(id)
	if !ok {
		return nil
	}
	set := make(map[string]bool)
	for _, key := range spec.OwnedKeys {
		set[key] = true
	}
	for _, key := range alwaysAvailableKeys {
		set[key] = true
	}
	// Persona scores travel with the match score wherever it is owned.
	if set[enrich.KeyMatchScore] {
		for _, persona := range prefs.Personas {
			set[enrich.MatchKey(persona.Name)] = true
			set[enrich.MatchedTokensKey(persona.Name)] = true
		}
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Owns reports whether chapter id owns the given registry key.
func Owns(id int, key string) bool {
	spec, ok := SpecFor(id)
	if !ok {
		return false
	}
	for _, owned := range spec.OwnedKeys {
		if owned == key {
			return true
		}
	}
	return false
}
