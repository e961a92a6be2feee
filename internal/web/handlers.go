package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	woningcheck "github.com/marcelkurvers/funda-woning-check-sub000"
	"github.com/marcelkurvers/funda-woning-check-sub000/chapters"
	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
)

const maxPasteBytes = 4 << 20

// CreateRunRequest is the request body for creating a run. Pasted page
// source may be supplied up front; the run is queued immediately then.
type CreateRunRequest struct {
	FundaURL  string   `json:"funda_url"`
	FundaHTML string   `json:"funda_html,omitempty"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

// handleCreateRun registers a new run. With pasted source in the body
// the analysis is queued right away; otherwise the caller follows up
// with the start or paste endpoint.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxPasteBytes)).Decode(&req); err != nil {
			s.jsonError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	run := s.runs.Create(req.FundaURL)
	s.persist(run)
	s.appendEvent(run.ID, "run_created", map[string]string{"url": req.FundaURL})

	if strings.TrimSpace(req.FundaHTML) != "" {
		result := s.scraper.Parse(req.FundaHTML)
		if req.FundaURL != "" {
			result.Fields[enrich.KeyListingURL] = req.FundaURL
		}
		if len(req.MediaURLs) > 0 {
			result.Fields[enrich.KeyMediaURLs] = req.MediaURLs
		}
		if !s.submit(w, run, result.Fields, result.Uncertainties) {
			return
		}
	}

	w.WriteHeader(http.StatusCreated)
	s.jsonResponse(w, map[string]string{"run_id": run.ID, "status": StatusQueued})
}

// handleListRuns returns all known runs, newest first, without chapters.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.runs.List()
	out := make([]RunStatus, 0, len(runs))
	for _, run := range runs {
		out = append(out, s.statusPayload(run))
	}
	s.jsonResponse(w, out)
}

// handleStartRun fetches the run's listing URL and queues the analysis.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	run, found := s.lookupRun(r.PathValue("id"))
	if !found {
		s.jsonError(w, "Run not found", http.StatusNotFound)
		return
	}
	if run.Phase != woningcheck.PhaseCreated {
		s.jsonError(w, "Run already started", http.StatusConflict)
		return
	}
	if run.URL == "" {
		s.jsonError(w, "Run has no listing URL; use the paste endpoint", http.StatusBadRequest)
		return
	}

	result, err := s.scraper.Fetch(r.Context(), run.URL)
	if err != nil {
		s.logger.Error("Listing fetch failed", "run", run.ID, "error", err)
		s.jsonError(w, "Failed to fetch listing: "+err.Error(), http.StatusBadGateway)
		return
	}

	if !s.submit(w, run, result.Fields, result.Uncertainties) {
		return
	}
	w.WriteHeader(http.StatusAccepted)
	s.jsonResponse(w, map[string]any{"ok": true, "status": StatusRunning})
}

// PasteRequest is the request body for submitting pasted page source.
type PasteRequest struct {
	FundaHTML string `json:"funda_html"`
}

// handlePasteRun accepts pasted listing page source for runs whose URL
// cannot be fetched directly.
func (s *Server) handlePasteRun(w http.ResponseWriter, r *http.Request) {
	run, found := s.lookupRun(r.PathValue("id"))
	if !found {
		s.jsonError(w, "Run not found", http.StatusNotFound)
		return
	}
	if run.Phase != woningcheck.PhaseCreated {
		s.jsonError(w, "Run already started", http.StatusConflict)
		return
	}

	source, err := readSource(r)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(source) == "" {
		s.jsonError(w, "Empty page source", http.StatusBadRequest)
		return
	}

	result := s.scraper.Parse(source)
	if run.URL != "" {
		result.Fields[enrich.KeyListingURL] = run.URL
	}

	if !s.submit(w, run, result.Fields, result.Uncertainties) {
		return
	}
	w.WriteHeader(http.StatusAccepted)
	s.jsonResponse(w, map[string]any{"ok": true})
}

// submit hands the raw fields to the worker pool. On rejection it writes
// the error response itself and reports false.
func (s *Server) submit(w http.ResponseWriter, run *woningcheck.RunRecord, fields map[string]any, uncertainties map[string]string) bool {
	if len(uncertainties) > 0 {
		fields[enrich.KeyUncertainties] = uncertainties
	}

	if err := s.pool.Submit(woningcheck.Job{RunID: run.ID, Raw: fields}); err != nil {
		s.logger.Warn("Job rejected", "run", run.ID, "error", err)
		s.jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return false
	}

	s.appendEvent(run.ID, "run_queued", map[string]int{
		"fields":        len(fields),
		"uncertainties": len(uncertainties),
	})
	return true
}

// RunProgress is the phase position of a run.
type RunProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

// Wire statuses. Internal phase names stay off the status field; the
// API speaks queued/running/done/error, with validation failures called
// out distinctly.
const (
	StatusQueued           = "queued"
	StatusRunning          = "running"
	StatusDone             = "done"
	StatusError            = "error"
	StatusValidationFailed = "validation_failed"
)

// wireStatus maps a run's phase onto the wire vocabulary.
func wireStatus(run *woningcheck.RunRecord) string {
	switch run.Phase {
	case woningcheck.PhaseCreated:
		return StatusQueued
	case woningcheck.PhaseRenderable:
		return StatusDone
	case woningcheck.PhaseFailed:
		if run.ErrorTag == woningcheck.TagValidationFailed {
			return StatusValidationFailed
		}
		return StatusError
	default:
		return StatusRunning
	}
}

// RunStatus is the run representation without chapter payloads.
type RunStatus struct {
	RunID     string                `json:"run_id"`
	URL       string                `json:"url,omitempty"`
	Status    string                `json:"status"`
	Phase     woningcheck.Phase     `json:"phase"`
	Steps     []woningcheck.RunStep `json:"steps"`
	Progress  RunProgress           `json:"progress"`
	Unknowns  []string              `json:"unknowns"`
	Artifacts map[string]bool       `json:"artifacts"`
	Warnings  []string              `json:"warnings,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorTag  woningcheck.Tag       `json:"error_tag,omitempty"`
	TestMode  bool                  `json:"test_mode,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
}

func (s *Server) statusPayload(run *woningcheck.RunRecord) RunStatus {
	steps := run.Steps
	if steps == nil {
		steps = []woningcheck.RunStep{}
	}

	current := woningcheck.PhaseIndex(run.Phase)
	if current < 0 {
		current = 0
	}

	return RunStatus{
		RunID:  run.ID,
		URL:    run.URL,
		Status: wireStatus(run),
		Phase:  run.Phase,
		Steps:  steps,
		Progress: RunProgress{
			Current: current,
			Total:   woningcheck.PhaseIndex(woningcheck.PhaseRenderable),
			Percent: run.Progress,
		},
		Unknowns: unknownsOf(run),
		Artifacts: map[string]bool{
			"core_summary": run.Summary != nil,
			"chapters":     len(run.Chapters) > 0,
			"report":       run.Phase == woningcheck.PhaseRenderable,
		},
		Warnings:  run.Warnings,
		Error:     run.Error,
		ErrorTag:  run.ErrorTag,
		TestMode:  s.testMode,
		UpdatedAt: run.UpdatedAt,
	}
}

// unknownsOf lists the raw fields the scraper reported as missing. The
// map arrives typed in-process and untyped after a SQLite round trip.
func unknownsOf(run *woningcheck.RunRecord) []string {
	unknowns := []string{}
	switch raw := run.Raw[enrich.KeyUncertainties].(type) {
	case map[string]string:
		for key := range raw {
			unknowns = append(unknowns, key)
		}
	case map[string]any:
		for key := range raw {
			unknowns = append(unknowns, key)
		}
	}
	sort.Strings(unknowns)
	return unknowns
}

// handleRunStatus returns the run's phase, progress and step history.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	run, found := s.lookupRun(r.PathValue("id"))
	if !found {
		s.jsonError(w, "Run not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, s.statusPayload(run))
}

// handleLiveStatus returns the current snapshot including per-chapter
// plane states. Push updates come from the events stream.
func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	run, found := s.lookupRun(r.PathValue("id"))
	if !found {
		s.jsonError(w, "Run not found", http.StatusNotFound)
		return
	}

	chapterStates := make([]map[string]any, 0, len(run.Chapters))
	for _, comp := range run.Chapters {
		chapterStates = append(chapterStates, map[string]any{
			"id":                fmt.Sprintf("%d", comp.ChapterID),
			"title":             comp.ChapterTitle,
			"plane_status":      comp.Diagnostics.PlaneStatus,
			"validation_passed": comp.Diagnostics.ValidationPassed,
			"word_count":        comp.PlaneB.WordCount,
		})
	}

	s.jsonResponse(w, map[string]any{
		"run_id":   run.ID,
		"status":   wireStatus(run),
		"phase":    run.Phase,
		"progress": s.statusPayload(run).Progress,
		"chapters": chapterStates,
	})
}

// handleRunReport returns the full report. Only renderable runs have one.
func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	run, found := s.lookupRun(r.PathValue("id"))
	if !found {
		s.jsonError(w, "Run not found", http.StatusNotFound)
		return
	}
	if run.Phase != woningcheck.PhaseRenderable {
		s.jsonError(w, "Report not available in phase "+string(run.Phase), http.StatusConflict)
		return
	}

	chapterPayloads := make(map[string]map[string]any, len(run.Chapters))
	kpis := []chapters.FactualKPI{}
	for _, comp := range run.Chapters {
		payload, err := chapterWithHTML(comp)
		if err != nil {
			s.logger.Error("Failed to render chapter", "run", run.ID, "chapter", comp.ChapterID, "error", err)
			s.jsonError(w, "Failed to render report", http.StatusInternalServerError)
			return
		}
		chapterPayloads[fmt.Sprintf("%d", comp.ChapterID)] = payload
		kpis = append(kpis, comp.PlaneC.KPIs...)
	}

	report := map[string]any{
		"run_id":        run.ID,
		"url":           run.URL,
		"generated_at":  run.UpdatedAt,
		"core_summary":  run.Summary,
		"chapters":      chapterPayloads,
		"kpis":          kpis,
		"discovery":     discoveryOf(run),
		"media_from_db": mediaOf(run),
		"warnings":      run.Warnings,
	}
	if s.testMode {
		report["test_mode"] = true
	}
	s.jsonResponse(w, report)
}

// discoveryOf returns the ingested listing fields minus reserved keys.
func discoveryOf(run *woningcheck.RunRecord) map[string]any {
	discovery := make(map[string]any, len(run.Raw))
	for key, value := range run.Raw {
		if key == enrich.KeyUncertainties {
			continue
		}
		discovery[key] = value
	}
	return discovery
}

func mediaOf(run *woningcheck.RunRecord) []string {
	switch media := run.Raw[enrich.KeyMediaURLs].(type) {
	case []string:
		return media
	case []any:
		out := make([]string, 0, len(media))
		for _, item := range media {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	}
	return []string{}
}

// chapterWithHTML renders the composition to its wire form and adds a
// goldmark-rendered HTML variant of the narrative.
func chapterWithHTML(comp *chapters.Composition) (map[string]any, error) {
	wire, err := json.Marshal(comp)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(wire, &payload); err != nil {
		return nil, err
	}

	if plane, ok := payload["plane_b"].(map[string]any); ok {
		if narrative, ok := plane["narrative_text"].(string); ok && narrative != "" {
			var buf bytes.Buffer
			if err := goldmark.Convert([]byte(narrative), &buf); err == nil {
				plane["narrative_html"] = buf.String()
			}
		}
	}
	return payload, nil
}

// handleRunEvents returns the persisted audit trail of a run.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.jsonError(w, "Event history is not available", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("id")
	if _, found := s.lookupRun(id); !found {
		s.jsonError(w, "Run not found", http.StatusNotFound)
		return
	}

	events, err := s.store.ListEvents(id)
	if err != nil {
		s.logger.Error("Failed to list events", "run", id, "error", err)
		s.jsonError(w, "Failed to list events", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, events)
}

// handleAIRuntimeStatus reports provider selection state and token usage.
func (s *Server) handleAIRuntimeStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.authority.Status(r.Context()))
}

// handleAIInvalidateCache drops the provider decision cache so the next
// generation re-probes the hierarchy.
func (s *Server) handleAIInvalidateCache(w http.ResponseWriter, r *http.Request) {
	s.authority.Invalidate()
	s.logger.Info("Provider decision cache invalidated")
	s.jsonResponse(w, map[string]string{"status": "ok"})
}

// handleHealthz is the liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]any{
		"status": "ok",
		"queue":  s.pool.QueueDepth(),
		"time":   time.Now(),
	})
}

// lookupRun checks the in-memory store first, then persisted history.
func (s *Server) lookupRun(id string) (*woningcheck.RunRecord, bool) {
	if run, ok := s.runs.Get(id); ok {
		return run, true
	}
	if s.store != nil {
		return s.store.GetRun(id)
	}
	return nil, false
}

// persist writes the run through to SQLite, when configured.
func (s *Server) persist(run *woningcheck.RunRecord) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveRun(run); err != nil {
		s.logger.Error("Failed to persist run", "run", run.ID, "error", err)
	}
}

func (s *Server) appendEvent(runID, eventType string, data any) {
	if s.store == nil {
		return
	}
	if err := s.store.AppendEvent(runID, eventType, data); err != nil {
		s.logger.Error("Failed to append event", "run", runID, "error", err)
	}
}

// readSource extracts pasted page source from a JSON body or a raw
// text/html upload.
func readSource(r *http.Request) (string, error) {
	body := io.LimitReader(r.Body, maxPasteBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req PasteRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			return "", errInvalidBody
		}
		return req.FundaHTML, nil
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", errInvalidBody
	}
	return string(raw), nil
}

var errInvalidBody = &requestError{"Invalid request body"}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }
