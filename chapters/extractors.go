package chapters

import (
	"fmt"
	"strings"

	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
	"github.com/marcelkurvers/funda-woning-check-sub000/registry"
)

// MissingReasonAbsent is recorded on KPIs whose registry key was never
// populated.
const MissingReasonAbsent = "niet aangetroffen in de brongegevens"

// Extractor builds planes A and C deterministically from a frozen
// registry. No AI involvement: values are copied, labeled and charted,
// never computed.
type Extractor struct {
	proxy *registry.Proxy
}

// NewExtractor wraps a presentation proxy.
func NewExtractor(proxy *registry.Proxy) *Extractor {
	return &Extractor{proxy: proxy}
}

// VisualPlane builds plane A for chapter id.
func (e *Extractor) VisualPlane(id int) PlaneA {
	plane := PlaneA{
		Plane:     "A",
		PlaneName: PlaneNameA,
		Charts:    []ChartSpec{},
	}

	charts, sources := e.chartsFor(id)
	if len(charts) == 0 {
		plane.NotApplicable = true
		plane.NotApplicableReason = "Geen numerieke gegevens beschikbaar voor visualisatie."
		return plane
	}
	plane.Charts = charts
	plane.DataSourceIDs = sources
	return plane
}

// AnchorPlane builds plane C for chapter id: one KPI per owned key,
// present or explicitly missing.
func (e *Extractor) AnchorPlane(id int) PlaneC {
	plane := PlaneC{
		Plane:         "C",
		PlaneName:     PlaneNameC,
		KPIs:          []FactualKPI{},
		DataSources:   []string{},
		MissingData:   []string{},
		Uncertainties: []string{},
	}

	spec, ok := SpecFor(id)
	if !ok {
		plane.NotApplicable = true
		plane.NotApplicableReason = fmt.Sprintf("Hoofdstuk %d bestaat niet.", id)
		return plane
	}

	for _, key := range spec.OwnedKeys {
		kpi := e.kpiFor(key)
		plane.KPIs = append(plane.KPIs, kpi)
		if kpi.Complete {
			plane.DataSources = append(plane.DataSources, key)
		} else {
			plane.MissingData = append(plane.MissingData, key)
		}
	}

	// Registered uncertainties over owned keys surface on the anchor.
	for _, key := range spec.OwnedKeys {
		if entry, ok := e.proxy.Entry("uncertainty_" + key); ok {
			plane.Uncertainties = append(plane.Uncertainties, fmt.Sprintf("%v", entry.Value))
		}
	}
	return plane
}

// kpiFor copies one registry entry into KPI form.
func (e *Extractor) kpiFor(key string) FactualKPI {
	entry, ok := e.proxy.Entry(key)
	if !ok {
		return FactualKPI{
			Key:           key,
			Label:         key,
			Provenance:    ProvenanceUnknown,
			MissingReason: MissingReasonAbsent,
		}
	}
	return FactualKPI{
		Key:        key,
		Label:      entry.Name,
		Value:      entry.Value,
		Unit:       entry.Unit,
		Provenance: provenanceOf(entry),
		RegistryID: entry.ID,
		Complete:   true,
	}
}

func provenanceOf(entry registry.Entry) string {
	if len(entry.DerivedFrom) > 0 {
		return ProvenanceDerived
	}
	switch entry.Kind {
	case registry.KindFact:
		return ProvenanceFact
	case registry.KindVariable, registry.KindKPI:
		return ProvenanceInferred
	default:
		return ProvenanceUnknown
	}
}

// chartsFor builds the per-chapter chart set. Chart titles stay short;
// interpretation belongs in the narrative plane.
func (e *Extractor) chartsFor(id int) ([]ChartSpec, []string) {
	switch id {
	case 0, 7:
		return e.scoreChart()
	case 1:
		return e.priceChart()
	case 2:
		return e.personaChart()
	case 3:
		return e.spaceChart()
	case 4, 6:
		return e.energyChart()
	default:
		return nil, nil
	}
}

func (e *Extractor) scoreChart() ([]ChartSpec, []string) {
	points, sources := e.points(map[string]string{
		enrich.KeyAIScore:    "Totaalscore",
		enrich.KeyMatchScore: "Matchscore",
	})
	if len(points) == 0 {
		return nil, nil
	}
	return []ChartSpec{{
		Type:   "bar",
		Title:  "Scores op hoofdlijnen",
		Data:   points,
		YLabel: "score (0-100)",
	}}, sources
}

func (e *Extractor) priceChart() ([]ChartSpec, []string) {
	points, sources := e.points(map[string]string{
		enrich.KeyPricePerM2: "Prijs per m²",
	})
	if len(points) == 0 {
		return nil, nil
	}
	return []ChartSpec{{
		Type:   "bar",
		Title:  "Prijs per vierkante meter",
		Data:   points,
		YLabel: "€/m²",
	}}, sources
}

func (e *Extractor) personaChart() ([]ChartSpec, []string) {
	var points []DataPoint
	var sources []string
	for _, key := range e.proxy.Keys() {
		if key == enrich.KeyMatchScore || !strings.HasSuffix(key, "_match_score") {
			continue
		}
		entry, _ := e.proxy.Entry(key)
		if value, ok := chartValue(entry.Value); ok {
			points = append(points, DataPoint{Label: entry.Name, Value: value})
			sources = append(sources, key)
		}
	}
	if len(points) == 0 {
		return nil, nil
	}
	return []ChartSpec{{
		Type:   "bar",
		Title:  "Match per bewoner",
		Data:   points,
		YLabel: "match (0-100)",
	}}, sources
}

func (e *Extractor) spaceChart() ([]ChartSpec, []string) {
	points, sources := e.points(map[string]string{
		enrich.KeyLivingArea: "Woonoppervlak",
		enrich.KeyPlotArea:   "Perceel",
	})
	if len(points) == 0 {
		return nil, nil
	}
	return []ChartSpec{{
		Type:   "bar",
		Title:  "Oppervlaktes",
		Data:   points,
		YLabel: "m²",
	}}, sources
}

func (e *Extractor) energyChart() ([]ChartSpec, []string) {
	points, sources := e.points(map[string]string{
		enrich.KeyEnergyInvest: "Indicatieve investering",
	})
	if len(points) == 0 {
		return nil, nil
	}
	return []ChartSpec{{
		Type:   "bar",
		Title:  "Verduurzamingsinvestering",
		Data:   points,
		YLabel: "€",
	}}, sources
}

// points collects chartable values for the given keys in proxy key order.
func (e *Extractor) points(labels map[string]string) ([]DataPoint, []string) {
	var points []DataPoint
	var sources []string
	for _, key := range e.proxy.Keys() {
		label, wanted := labels[key]
		if !wanted {
			continue
		}
		entry, _ := e.proxy.Entry(key)
		if value, ok := chartValue(entry.Value); ok {
			points = append(points, DataPoint{Label: label, Value: value})
			sources = append(sources, key)
		}
	}
	return points, sources
}

func chartValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
