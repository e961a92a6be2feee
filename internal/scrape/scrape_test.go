package scrape

import (
	"testing"

	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
)

const listingHTML = `
<html>
<head><title>Te koop: Teststraat 123, Utrecht - Woning [funda]</title></head>
<body>
<dl>
  <dt>Vraagprijs</dt><dd>&euro;</dd><dd>€ 450.000 k.k.</dd>
  <dt>Woonoppervlakte</dt><dd>120 m²</dd>
  <dt>Perceeloppervlakte</dt><dd>200 m²</dd>
  <dt>Bouwjaar</dt><dd>1985</dd>
  <dt>Energielabel</dt><dd>C</dd>
  <dt>Slaapkamers</dt><dd>3</dd>
</dl>
<p>Ruime woning met zonnige tuin en garage, gelegen nabij het centrum.</p>
</body>
</html>`

func TestParseExtractsLabeledFields(t *testing.T) {
	result := New(nil).Parse(listingHTML)

	checks := map[string]string{
		enrich.KeyAskingPrice: "€ 450.000 k.k.",
		enrich.KeyLivingArea:  "120",
		enrich.KeyPlotArea:    "200",
		enrich.KeyBuildYear:   "1985",
		enrich.KeyEnergyLabel: "C",
		enrich.KeyBedrooms:    "3",
	}
	for key, want := range checks {
		got, ok := result.Fields[key]
		if !ok {
			t.Errorf("missing field %q (uncertainty: %q)", key, result.Uncertainties[key])
			continue
		}
		if got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}

	if got := result.Fields[enrich.KeyAddress]; got != "Teststraat 123, Utrecht" {
		t.Errorf("address = %q", got)
	}
}

func TestParseCollectsFeatureTokens(t *testing.T) {
	result := New(nil).Parse(listingHTML)

	features, ok := result.Fields[enrich.KeyFeatures].([]string)
	if !ok {
		t.Fatalf("features = %T", result.Fields[enrich.KeyFeatures])
	}
	want := map[string]bool{"tuin": true, "garage": true}
	for _, feature := range features {
		delete(want, feature)
	}
	if len(want) != 0 {
		t.Errorf("features = %v, missing %v", features, want)
	}
}

func TestParseReportsMissingFieldsAsUncertainty(t *testing.T) {
	result := New(nil).Parse("<html><head><title>Leeg</title></head><body>niets</body></html>")

	if _, ok := result.Fields[enrich.KeyAskingPrice]; ok {
		t.Error("no price in page, none should be extracted")
	}
	if reason := result.Uncertainties[enrich.KeyAskingPrice]; reason == "" {
		t.Error("missing price must be reported as an uncertainty")
	}
	if reason := result.Uncertainties[enrich.KeyAddress]; reason == "" {
		t.Error("short title yields no address; must be an uncertainty")
	}
}

func TestAddressFromTitleStripsBoilerplate(t *testing.T) {
	cases := map[string]string{
		"Te koop: Teststraat 1, Amsterdam - Appartement [funda]": "Teststraat 1, Amsterdam",
		"Teststraat 9 | Makelaar":                                "Teststraat 9",
		"X":                                                      "",
	}
	for title, want := range cases {
		if got := addressFromTitle(title); got != want {
			t.Errorf("addressFromTitle(%q) = %q, want %q", title, got, want)
		}
	}
}
