package enrich

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/marcelkurvers/funda-woning-check-sub000/registry"
)

// FieldStatus describes whether a core summary slot carries data.
type FieldStatus string

const (
	StatusPresent       FieldStatus = "PRESENT"
	StatusUnknown       FieldStatus = "UNKNOWN"
	StatusNotApplicable FieldStatus = "NOT_APPLICABLE"
)

// CoreField is one typed slot in the core summary dashboard.
type CoreField struct {
	Value    string      `json:"value"`
	RawValue any         `json:"raw_value,omitempty"`
	Status   FieldStatus `json:"status"`
	Source   string      `json:"source"`
	Unit     string      `json:"unit,omitempty"`
}

// CoreSummary is the mandatory dashboard header built once from the
// frozen registry. Required slots are always constructed; missing data
// surfaces as UNKNOWN, never as an absent slot.
type CoreSummary struct {
	AskingPrice  CoreField `json:"asking_price"`
	LivingArea   CoreField `json:"living_area"`
	Location     CoreField `json:"location"`
	MatchScore   CoreField `json:"match_score"`
	PropertyType CoreField `json:"property_type,omitempty"`
	BuildYear    CoreField `json:"build_year,omitempty"`
	EnergyLabel  CoreField `json:"energy_label,omitempty"`
	PlotArea     CoreField `json:"plot_area,omitempty"`
	Bedrooms     CoreField `json:"bedrooms,omitempty"`

	CompletenessScore  float64           `json:"completeness_score"`
	Provenance         map[string]string `json:"provenance"`
	RegistryEntryCount int               `json:"registry_entry_count"`
}

// dutch formats numbers with European thousands separators.
var dutch = message.NewPrinter(language.Dutch)

// BuildCoreSummary constructs the dashboard header. It requires a frozen
// registry and otherwise never fails: missing slots become UNKNOWN with a
// stable display string.
func BuildCoreSummary(reg *registry.Registry) (CoreSummary, error) {
	if !reg.Frozen() {
		return CoreSummary{}, fmt.Errorf("core summary requires a frozen registry")
	}

	summary := CoreSummary{
		Provenance:         make(map[string]string),
		RegistryEntryCount: reg.Len(),
	}

	summary.AskingPrice = slot(reg, KeyAskingPrice, "€", formatPrice)
	summary.LivingArea = slot(reg, KeyLivingArea, "m²", formatArea)
	summary.Location = slot(reg, KeyAddress, "", formatLocation)
	summary.MatchScore = slot(reg, KeyMatchScore, "%", formatPercent)
	summary.PropertyType = slot(reg, KeyPropertyType, "", formatPlain)
	summary.BuildYear = slot(reg, KeyBuildYear, "", formatPlain)
	summary.EnergyLabel = slot(reg, KeyEnergyLabel, "", formatPlain)
	summary.PlotArea = slot(reg, KeyPlotArea, "m²", formatArea)
	summary.Bedrooms = slot(reg, KeyBedrooms, "", formatPlain)

	required := map[string]CoreField{
		"asking_price": summary.AskingPrice,
		"living_area":  summary.LivingArea,
		"location":     summary.Location,
		"match_score":  summary.MatchScore,
	}
	optional := map[string]CoreField{
		"property_type": summary.PropertyType,
		"build_year":    summary.BuildYear,
		"energy_label":  summary.EnergyLabel,
		"plot_area":     summary.PlotArea,
		"bedrooms":      summary.Bedrooms,
	}

	present := 0
	denominator := len(required)
	for slotName, field := range required {
		summary.Provenance[slotName] = field.Source
		if field.Status == StatusPresent {
			present++
		}
	}
	for slotName, field := range optional {
		summary.Provenance[slotName] = field.Source
		if field.Status == StatusPresent {
			present++
			denominator++
		}
	}
	if denominator > 0 {
		summary.CompletenessScore = float64(present) / float64(denominator)
	}

	return summary, nil
}

// slot reads one registry key into a core field. The provenance source is
// the queried key even when the value is unknown.
func slot(reg *registry.Registry, key, unit string, format func(any) string) CoreField {
	entry, ok := reg.Get(key)
	if !ok {
		return CoreField{Value: "Onbekend", Status: StatusUnknown, Source: key, Unit: unit}
	}
	return CoreField{
		Value:    format(entry.Value),
		RawValue: entry.Value,
		Status:   StatusPresent,
		Source:   key,
		Unit:     unit,
	}
}

func formatPrice(v any) string {
	if n, ok := asInt(v); ok {
		return dutch.Sprintf("€ %d", n)
	}
	return fmt.Sprintf("%v", v)
}

func formatArea(v any) string {
	if n, ok := asInt(v); ok {
		return fmt.Sprintf("%d m²", n)
	}
	return fmt.Sprintf("%v", v)
}

func formatPercent(v any) string {
	if n, ok := asInt(v); ok {
		return fmt.Sprintf("%d%%", n)
	}
	return fmt.Sprintf("%v", v)
}

// formatLocation shortens a full address to its last comma-separated
// segment; bare street addresses pass through unchanged.
func formatLocation(v any) string {
	s := fmt.Sprintf("%v", v)
	if idx := strings.LastIndex(s, ","); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}

func formatPlain(v any) string {
	return fmt.Sprintf("%v", v)
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
