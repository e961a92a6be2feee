// Package enrich transforms raw scraped listing fields into canonical
// registry entries. All arithmetic on property facts happens here, before
// the registry freezes; downstream presentation code only formats.
package enrich

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/marcelkurvers/funda-woning-check-sub000/registry"
)

// Registry keys produced by enrichment. Chapters reference facts through
// these keys only.
const (
	KeyAskingPrice     = "asking_price_eur"
	KeyLivingArea      = "living_area_m2"
	KeyPlotArea        = "plot_area_m2"
	KeyBuildYear       = "build_year"
	KeyEnergyLabel     = "energy_label"
	KeyAddress         = "address"
	KeyPropertyType    = "property_type"
	KeyBedrooms        = "bedrooms"
	KeyDescription     = "description"
	KeyFeatures        = "features"
	KeyMediaURLs       = "media_urls"
	KeyListingURL      = "listing_url"
	KeyPricePerM2      = "price_per_m2"
	KeyEstimatedVolume = "estimated_volume_m3"
	KeyRoomCount       = "room_count"
	KeyValuationStatus = "valuation_status"
	KeyEnergyInvest    = "energy_invest"
	KeyAdvice          = "sustainability_advice"
	KeyAIScore         = "ai_score"
	KeyMatchScore      = "match_score"
)

// KeyUncertainties is the reserved raw-field key under which the scraper
// reports fields it could not extract, mapped to the reason.
const KeyUncertainties = "uncertainties"

// Valuation bands relative to the configured market mean €/m².
const (
	ValuationBelow  = "onder marktgemiddelde"
	ValuationMarket = "marktconform"
	ValuationAbove  = "boven marktgemiddelde"
)

// Adapter registers raw listing fields and derived metrics into an empty
// registry. It is idempotent up to input equivalence.
type Adapter struct {
	// MarketMeanPerM2 is the reference €/m² used for valuation banding.
	MarketMeanPerM2 int
	logger          *slog.Logger
}

// NewAdapter creates an enrichment adapter. A zero market mean falls back
// to the default of 3500 €/m².
func NewAdapter(marketMeanPerM2 int, logger *slog.Logger) *Adapter {
	if marketMeanPerM2 <= 0 {
		marketMeanPerM2 = 3500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{MarketMeanPerM2: marketMeanPerM2, logger: logger}
}

// Populate parses raw fields, registers facts, derives variables and
// computes persona match KPIs. The registry must be empty and unfrozen.
func (a *Adapter) Populate(reg *registry.Registry, raw map[string]any, prefs Preferences) error {
	price, hasPrice := parseEuro(raw[KeyAskingPrice])
	area, hasArea := parseInt(raw[KeyLivingArea])
	plot, hasPlot := parseInt(raw[KeyPlotArea])
	year, hasYear := parseYear(raw[KeyBuildYear])
	label, hasLabel := normalizeLabel(raw[KeyEnergyLabel])

	if hasPrice {
		if err := a.fact(reg, KeyAskingPrice, price, "Vraagprijs", "€"); err != nil {
			return err
		}
	}
	if hasArea {
		if err := a.fact(reg, KeyLivingArea, area, "Woonoppervlakte", "m²"); err != nil {
			return err
		}
	}
	if hasPlot {
		if err := a.fact(reg, KeyPlotArea, plot, "Perceeloppervlakte", "m²"); err != nil {
			return err
		}
	}
	if hasYear {
		if err := a.fact(reg, KeyBuildYear, year, "Bouwjaar", ""); err != nil {
			return err
		}
	}
	if hasLabel {
		if err := a.fact(reg, KeyEnergyLabel, label, "Energielabel", ""); err != nil {
			return err
		}
	}

	// Non-scalar inputs are preserved as facts so chapters can reason
	// over them without re-parsing.
	for key, name := range map[string]string{
		KeyAddress:      "Adres",
		KeyPropertyType: "Woningtype",
		KeyDescription:  "Omschrijving",
		KeyListingURL:   "Advertentie-URL",
	} {
		if s, ok := asString(raw[key]); ok && s != "" {
			if err := a.fact(reg, key, s, name, ""); err != nil {
				return err
			}
		}
	}
	if feats := asStringList(raw[KeyFeatures]); len(feats) > 0 {
		if err := a.fact(reg, KeyFeatures, feats, "Kenmerken", ""); err != nil {
			return err
		}
	}
	if media := asStringList(raw[KeyMediaURLs]); len(media) > 0 {
		if err := a.fact(reg, KeyMediaURLs, media, "Media", ""); err != nil {
			return err
		}
	}
	if beds, ok := parseInt(raw[KeyBedrooms]); ok {
		if err := a.fact(reg, KeyBedrooms, beds, "Slaapkamers", ""); err != nil {
			return err
		}
	}

	if err := a.derive(reg, price, hasPrice, area, hasArea, year, hasYear, label, hasLabel); err != nil {
		return err
	}
	if err := a.scorePersonas(reg, raw, label, prefs); err != nil {
		return err
	}

	for key, reason := range asStringMap(raw[KeyUncertainties]) {
		if err := a.RecordUncertainty(reg, key, reason); err != nil {
			return err
		}
	}

	a.logger.Debug("Enrichment complete", "entries", reg.Len())
	return nil
}

// RecordUncertainty registers a known-unknown (scrape or parse failure).
// Uncertainties never abort enrichment.
func (a *Adapter) RecordUncertainty(reg *registry.Registry, key, reason string) error {
	return reg.Register(registry.Entry{
		ID:         "uncertainty_" + key,
		Kind:       registry.KindUncertainty,
		Value:      reason,
		Name:       "Onzekerheid: " + key,
		Source:     "enrichment",
		Confidence: 0,
		Complete:   false,
	})
}

func (a *Adapter) fact(reg *registry.Registry, id string, value any, name, unit string) error {
	return reg.Register(registry.Entry{
		ID:         id,
		Kind:       registry.KindFact,
		Value:      value,
		Name:       name,
		Unit:       unit,
		Source:     "listing",
		Confidence: 1,
		Complete:   true,
	})
}

func (a *Adapter) variable(reg *registry.Registry, id string, value any, name, unit string, from ...string) error {
	return reg.Register(registry.Entry{
		ID:          id,
		Kind:        registry.KindVariable,
		Value:       value,
		Name:        name,
		Unit:        unit,
		Source:      "enrichment",
		Confidence:  0.9,
		Complete:    true,
		DerivedFrom: from,
	})
}

func (a *Adapter) derive(reg *registry.Registry, price int, hasPrice bool, area int, hasArea bool, year int, hasYear bool, label string, hasLabel bool) error {
	valuation := ""

	if hasPrice && hasArea && area > 0 {
		ppm2 := price / area // integer-floored
		if err := a.variable(reg, KeyPricePerM2, ppm2, "Prijs per m²", "€/m²", KeyAskingPrice, KeyLivingArea); err != nil {
			return err
		}

		mean := a.MarketMeanPerM2
		switch {
		case float64(ppm2) < 0.9*float64(mean):
			valuation = ValuationBelow
		case float64(ppm2) <= 1.1*float64(mean):
			valuation = ValuationMarket
		default:
			valuation = ValuationAbove
		}
		if err := a.variable(reg, KeyValuationStatus, valuation, "Waardering", "", KeyPricePerM2); err != nil {
			return err
		}
	}

	if hasArea {
		if err := a.variable(reg, KeyEstimatedVolume, area*3, "Geschatte inhoud", "m³", KeyLivingArea); err != nil {
			return err
		}
		rooms := area / 25
		if rooms < 2 {
			rooms = 2
		}
		if !reg.Has(KeyBedrooms) {
			if err := a.variable(reg, KeyRoomCount, rooms, "Geschat aantal kamers", "", KeyLivingArea); err != nil {
				return err
			}
		} else {
			beds, _ := reg.Get(KeyBedrooms)
			if err := a.variable(reg, KeyRoomCount, beds.Value, "Aantal kamers", "", KeyBedrooms); err != nil {
				return err
			}
		}
	}

	if hasLabel {
		invest := energyInvestment(label, year, hasYear)
		if err := a.variable(reg, KeyEnergyInvest, invest, "Verduurzamingsinvestering", "€", KeyEnergyLabel, KeyBuildYear); err != nil {
			return err
		}
		if err := a.variable(reg, KeyAdvice, sustainabilityAdvice(label), "Verduurzamingsadvies", "", KeyEnergyLabel); err != nil {
			return err
		}
	}

	score := aiScore(label, hasLabel, year, hasYear, valuation, area, hasArea)
	return a.variable(reg, KeyAIScore, score, "AI-score", "", KeyEnergyLabel, KeyBuildYear, KeyValuationStatus)
}

// energyInvestment estimates the renovation budget needed to bring the
// property to a modern energy standard, banded on label and age.
func energyInvestment(label string, year int, hasYear bool) int {
	bands := map[string]int{
		"A": 2500, "B": 2500,
		"C": 12500, "D": 20000,
		"E": 30000, "F": 45000, "G": 55000,
	}
	invest := bands[label]
	if hasYear {
		switch {
		case year < 1945:
			invest += 10000
		case year < 1975:
			invest += 5000
		}
	}
	return invest
}

func sustainabilityAdvice(label string) string {
	switch label {
	case "A", "B":
		return "Woning is energetisch op orde; alleen onderhoud en kleine optimalisaties nodig."
	case "C", "D":
		return "Gerichte verbeteringen zoals isolatie en HR++-glas leveren direct rendement op."
	default:
		return "Ingrijpende verduurzaming nodig: isolatie van schil, installaties en mogelijk warmtepomp."
	}
}

// aiScore composes a heuristic quality score in [0,100]. Poor energy
// labels cap the score regardless of other signals.
func aiScore(label string, hasLabel bool, year int, hasYear bool, valuation string, area int, hasArea bool) int {
	score := 50

	if hasLabel {
		bonus := map[string]int{"A": 20, "B": 15, "C": 10, "D": 0, "E": -10, "F": -15, "G": -20}
		score += bonus[label]
	}
	if hasYear {
		switch {
		case year >= 2000:
			score += 10
		case year >= 1975:
			score += 5
		case year < 1945:
			score -= 5
		}
	}
	switch valuation {
	case ValuationBelow:
		score += 10
	case ValuationMarket:
		score += 5
	}
	if hasArea && area >= 100 {
		score += 5
	}

	if hasLabel {
		caps := map[string]int{"E": 75, "F": 70, "G": 65}
		if cap, ok := caps[label]; ok && score > cap {
			score = cap
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// --- tolerant field parsing ---

// parseEuro accepts ints, floats and Dutch-formatted price strings like
// "€ 450.000 k.k.". Strings always take the cleanup path: the dots are
// thousands separators, not a place to stop reading digits.
func parseEuro(v any) (int, bool) {
	s, ok := asString(v)
	if !ok {
		return parseInt(v)
	}
	s = strings.ToLower(s)
	s = strings.NewReplacer("€", "", ".", "", ",", "", "k.k", "", "v.o.n", "", " ", "").Replace(s)
	s = strings.TrimFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseInt accepts numbers and strings with embedded units ("120 m²").
func parseInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(math.Floor(n)), true
	case string:
		digits := strings.Builder{}
		for _, r := range n {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
			} else if digits.Len() > 0 {
				break
			}
		}
		if digits.Len() == 0 {
			return 0, false
		}
		parsed, err := strconv.Atoi(digits.String())
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func parseYear(v any) (int, bool) {
	n, ok := parseInt(v)
	if !ok || n < 1500 || n > 2100 {
		return 0, false
	}
	return n, true
}

// normalizeLabel reduces energy labels like "A+++" or " c " to one letter.
func normalizeLabel(v any) (string, bool) {
	s, ok := asString(v)
	if !ok {
		return "", false
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	first := s[0]
	if first < 'A' || first > 'G' {
		return "", false
	}
	return string(first), true
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asStringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for key, value := range m {
			out[key] = fmt.Sprintf("%v", value)
		}
		return out
	}
	return nil
}

func asStringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	}
	return nil
}
