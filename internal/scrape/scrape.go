// Package scrape extracts raw listing fields from funda-style listing
// pages. Extraction is best effort: a field that cannot be found is
// reported as an uncertainty, never guessed.
package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
)

const (
	fetchTimeout  = 15 * time.Second
	maxBodyBytes  = 4 << 20
	userAgentName = "woningcheck/1.0"
)

// Result carries the extracted fields plus every field that could not
// be extracted, with the reason.
type Result struct {
	Fields        map[string]any    `json:"fields"`
	Uncertainties map[string]string `json:"uncertainties"`
}

// fieldPatterns maps registry keys to HTML extraction patterns. Funda
// renders these as labeled definition rows; the patterns tolerate tag
// noise between label and value.
var fieldPatterns = map[string]*regexp.Regexp{
	enrich.KeyAskingPrice: regexp.MustCompile(`(?is)(?:vraagprijs|prijs)[^€]{0,200}(€\s?[\d.]+(?:\s?k\.k\.|\s?v\.o\.n\.)?)`),
	enrich.KeyLivingArea:  regexp.MustCompile(`(?is)(?:woonoppervlakte|wonen)[^\d]{0,200}(\d+)\s*m`),
	enrich.KeyPlotArea:    regexp.MustCompile(`(?is)perceel(?:oppervlakte)?[^\d]{0,200}(\d+)\s*m`),
	enrich.KeyBuildYear:   regexp.MustCompile(`(?is)bouwjaar[^\d]{0,200}(\d{4})`),
	enrich.KeyEnergyLabel: regexp.MustCompile(`(?is)energielabel[^A-G]{0,200}\b([A-G])\b`),
	enrich.KeyBedrooms:    regexp.MustCompile(`(?is)(?:slaapkamers|aantal kamers)[^\d]{0,200}(\d+)`),
}

var (
	titlePattern   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	tagPattern     = regexp.MustCompile(`<[^>]+>`)
	featurePattern = regexp.MustCompile(`(?i)\b(tuin|garage|balkon|dakterras|zonnepanelen|open keuken|glasvezel|berging|carport)\b`)
)

// Scraper fetches and parses listing pages.
type Scraper struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a scraper.
func New(logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		httpClient: &http.Client{Timeout: fetchTimeout},
		logger:     logger,
	}
}

// Fetch downloads the listing page and extracts its fields.
func (s *Scraper) Fetch(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgentName)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read listing body: %w", err)
	}

	result := s.Parse(string(body))
	result.Fields[enrich.KeyListingURL] = url
	return result, nil
}

// Parse extracts fields from raw listing HTML. Also used for pasted
// page source when fetching is blocked.
func (s *Scraper) Parse(html string) *Result {
	result := &Result{
		Fields:        make(map[string]any),
		Uncertainties: make(map[string]string),
	}

	// Field patterns run over tag-stripped text: label and value are
	// usually separated by markup the patterns must not trip over.
	text := strings.Join(strings.Fields(tagPattern.ReplaceAllString(html, " ")), " ")

	for key, pattern := range fieldPatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			result.Uncertainties[key] = "veld niet aangetroffen op de pagina"
			continue
		}
		result.Fields[key] = strings.TrimSpace(match[1])
	}

	if match := titlePattern.FindStringSubmatch(html); match != nil {
		title := strings.TrimSpace(tagPattern.ReplaceAllString(match[1], ""))
		if address := addressFromTitle(title); address != "" {
			result.Fields[enrich.KeyAddress] = address
		}
	}
	if _, ok := result.Fields[enrich.KeyAddress]; !ok {
		result.Uncertainties[enrich.KeyAddress] = "adres niet herleidbaar uit paginatitel"
	}

	if features := extractFeatures(text); len(features) > 0 {
		result.Fields[enrich.KeyFeatures] = features
	}

	if text != "" {
		if len(text) > 4000 {
			text = text[:4000]
		}
		result.Fields[enrich.KeyDescription] = text
	}

	s.logger.Info("Listing parsed",
		"fields", len(result.Fields),
		"uncertainties", len(result.Uncertainties))
	return result
}

// addressFromTitle strips funda's title boilerplate around the address.
func addressFromTitle(title string) string {
	for _, sep := range []string{" - ", " | ", " [funda]"} {
		if idx := strings.Index(title, sep); idx > 0 {
			title = title[:idx]
		}
	}
	title = strings.TrimSpace(strings.TrimPrefix(title, "Te koop:"))
	if len(title) < 5 {
		return ""
	}
	return title
}

// extractFeatures collects distinct known feature tokens in page order.
func extractFeatures(text string) []string {
	seen := make(map[string]bool)
	var features []string
	for _, match := range featurePattern.FindAllString(text, -1) {
		token := strings.ToLower(match)
		if !seen[token] {
			seen[token] = true
			features = append(features, token)
		}
	}
	return features
}
