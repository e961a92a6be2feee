package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	woningcheck "github.com/marcelkurvers/funda-woning-check-sub000"
	"github.com/marcelkurvers/funda-woning-check-sub000/ai"
	"github.com/marcelkurvers/funda-woning-check-sub000/chapters"
	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
	"github.com/marcelkurvers/funda-woning-check-sub000/internal/scrape"
)

// testServer wires a server over in-memory stores. The pool is never
// started, so submitted jobs stay queued and handlers can be tested
// without pipeline races.
func testServer(t *testing.T) (*Server, *woningcheck.RunStore) {
	t.Helper()

	runs := woningcheck.NewRunStore(nil)
	governance := woningcheck.NewGovernance(woningcheck.PolicyStrict, woningcheck.EnvTest, nil)
	pipeline := woningcheck.NewPipeline(runs, nil, governance, enrich.DefaultPreferences(), 3500, nil)
	pool := woningcheck.NewPool(pipeline, runs, 1, nil)
	authority := ai.NewAuthorityWithClients(map[string]ai.Client{}, nil, nil)

	srv := NewServer(runs, nil, pool, scrape.New(nil), authority, nil)
	return srv, runs
}

func do(t *testing.T, srv *Server, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	rec := do(t, srv, "GET", "/healthz", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" {
		t.Errorf("payload = %v", payload)
	}
}

func TestCreateRunAndStatus(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, "POST", "/runs", "application/json", `{"funda_url":"https://example.org/listing"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}

	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created["status"] != "queued" || created["run_id"] == "" {
		t.Errorf("created = %v", created)
	}

	rec = do(t, srv, "GET", "/runs/"+created["run_id"]+"/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	var status RunStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.RunID != created["run_id"] || status.Status != StatusQueued {
		t.Errorf("status = %+v", status)
	}
	if status.Phase != woningcheck.PhaseCreated {
		t.Errorf("phase = %q", status.Phase)
	}
	if status.Progress.Percent != 0 || status.Progress.Total != 7 {
		t.Errorf("progress = %+v", status.Progress)
	}
}

func TestStatusSpeaksWireVocabulary(t *testing.T) {
	srv, runs := testServer(t)

	statusOf := func(t *testing.T, id string) RunStatus {
		t.Helper()
		rec := do(t, srv, "GET", "/runs/"+id+"/status", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status code = %d", rec.Code)
		}
		var status RunStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return status
	}

	running := runs.Create("")
	if err := runs.Advance(running.ID, woningcheck.PhaseIngested); err != nil {
		t.Fatal(err)
	}
	if got := statusOf(t, running.ID); got.Status != StatusRunning {
		t.Errorf("ingested run status = %q, want %q", got.Status, StatusRunning)
	}

	done := runs.Create("")
	for _, phase := range []woningcheck.Phase{
		woningcheck.PhaseIngested,
		woningcheck.PhaseEnriched,
		woningcheck.PhaseRegistryLocked,
		woningcheck.PhaseCoreSummaryBuilt,
		woningcheck.PhaseChaptersGenerated,
		woningcheck.PhaseValidated,
		woningcheck.PhaseRenderable,
	} {
		if err := runs.Advance(done.ID, phase); err != nil {
			t.Fatal(err)
		}
	}
	if got := statusOf(t, done.ID); got.Status != StatusDone {
		t.Errorf("renderable run status = %q, want %q", got.Status, StatusDone)
	}

	invalid := runs.Create("")
	runs.Fail(invalid.ID, woningcheck.TagValidationFailed, errTest)
	if got := statusOf(t, invalid.ID); got.Status != StatusValidationFailed {
		t.Errorf("validation failure status = %q, want %q", got.Status, StatusValidationFailed)
	}

	broken := runs.Create("")
	runs.Fail(broken.ID, woningcheck.TagInternal, errTest)
	got := statusOf(t, broken.ID)
	if got.Status != StatusError {
		t.Errorf("internal failure status = %q, want %q", got.Status, StatusError)
	}
	if got.Phase != woningcheck.PhaseFailed {
		t.Errorf("phase = %q, want %q", got.Phase, woningcheck.PhaseFailed)
	}
}

func TestCreateWithPastedSourceQueuesImmediately(t *testing.T) {
	srv, _ := testServer(t)

	source := `<html><head><title>Te koop: Teststraat 1, Utrecht - x</title></head>
		<body>Vraagprijs € 325.000 k.k. Woonoppervlakte 95 m²</body></html>`
	body := `{"funda_url":"https://example.org/l","funda_html":` + mustJSON(t, source) + `,"media_urls":["https://img/1.jpg"]}`

	rec := do(t, srv, "POST", "/runs", "application/json", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	if srv.pool.QueueDepth() != 1 {
		t.Errorf("queue depth = %d, want 1", srv.pool.QueueDepth())
	}
}

func TestUnknownRunIs404(t *testing.T) {
	srv, _ := testServer(t)
	for _, path := range []string{
		"/runs/nope/status",
		"/runs/nope/report",
		"/runs/nope/live-status",
	} {
		if rec := do(t, srv, "GET", path, "", ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s = %d, want 404", path, rec.Code)
		}
	}
}

func TestStartWithoutURLIsRejected(t *testing.T) {
	srv, runs := testServer(t)
	run := runs.Create("")

	rec := do(t, srv, "POST", "/runs/"+run.ID+"/start", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("start = %d, want 400", rec.Code)
	}
}

func TestPasteQueuesRun(t *testing.T) {
	srv, runs := testServer(t)
	run := runs.Create("")

	source := `<html><head><title>Te koop: Teststraat 1, Utrecht - x</title></head>
		<body>Vraagprijs € 325.000 k.k. Woonoppervlakte 95 m²</body></html>`
	rec := do(t, srv, "POST", "/runs/"+run.ID+"/paste", "application/json",
		`{"funda_html":`+mustJSON(t, source)+`}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("paste = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["ok"] != true {
		t.Errorf("resp = %v", resp)
	}
	if srv.pool.QueueDepth() != 1 {
		t.Errorf("queue depth = %d, want 1", srv.pool.QueueDepth())
	}

	rec = do(t, srv, "POST", "/runs/"+run.ID+"/paste", "application/json", `{"funda_html":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty paste = %d, want 400", rec.Code)
	}
}

func TestReportOnlyWhenRenderable(t *testing.T) {
	srv, runs := testServer(t)
	run := runs.Create("")

	rec := do(t, srv, "GET", "/runs/"+run.ID+"/report", "", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("report in CREATED = %d, want 409", rec.Code)
	}

	for _, phase := range []woningcheck.Phase{
		woningcheck.PhaseIngested,
		woningcheck.PhaseEnriched,
		woningcheck.PhaseRegistryLocked,
		woningcheck.PhaseCoreSummaryBuilt,
		woningcheck.PhaseChaptersGenerated,
		woningcheck.PhaseValidated,
		woningcheck.PhaseRenderable,
	} {
		if err := runs.Advance(run.ID, phase); err != nil {
			t.Fatalf("advance to %s: %v", phase, err)
		}
	}
	runs.AddChapter(run.ID, &chapters.Composition{
		ChapterID:      0,
		ChapterTitle:   "Samenvatting",
		PlaneStructure: true,
		PlaneB:         chapters.PlaneB{Plane: "B", PlaneName: chapters.PlaneNameB, NarrativeText: "Een **sterke** samenvatting."},
		PlaneC: chapters.PlaneC{Plane: "C", PlaneName: chapters.PlaneNameC, KPIs: []chapters.FactualKPI{
			{Key: "ai_score", Label: "AI-score", Value: 72, Provenance: chapters.ProvenanceDerived, Complete: true},
		}},
	})

	rec = do(t, srv, "GET", "/runs/"+run.ID+"/report", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("report = %d: %s", rec.Code, rec.Body.String())
	}

	var report struct {
		RunID    string                    `json:"run_id"`
		Chapters map[string]map[string]any `json:"chapters"`
		KPIs     []chapters.FactualKPI     `json:"kpis"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.RunID != run.ID || len(report.Chapters) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.KPIs) != 1 || report.KPIs[0].Key != "ai_score" {
		t.Errorf("kpis = %+v", report.KPIs)
	}

	chapter, ok := report.Chapters["0"]
	if !ok {
		t.Fatalf("chapters keyed by %v, want string ids", report.Chapters)
	}
	if chapter["id"] != "0" {
		t.Errorf("chapter id = %v, want \"0\"", chapter["id"])
	}
	planeB, ok := chapter["plane_b"].(map[string]any)
	if !ok {
		t.Fatalf("plane_b missing: %v", chapter)
	}
	html, _ := planeB["narrative_html"].(string)
	if !strings.Contains(html, "<strong>sterke</strong>") {
		t.Errorf("narrative_html = %q", html)
	}
}

func TestLiveStatusCarriesPlaneStates(t *testing.T) {
	srv, runs := testServer(t)
	run := runs.Create("")
	runs.AddChapter(run.ID, &chapters.Composition{
		ChapterID:    2,
		ChapterTitle: "Persoonlijke Match",
		Diagnostics: chapters.Diagnostics{
			ChapterID:        2,
			PlaneStatus:      map[string]string{"A": "ok", "B": "ok", "C": "ok", "D": "ok"},
			ValidationPassed: true,
		},
	})

	rec := do(t, srv, "GET", "/runs/"+run.ID+"/live-status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("live-status = %d", rec.Code)
	}
	var snapshot struct {
		RunID    string           `json:"run_id"`
		Chapters []map[string]any `json:"chapters"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snapshot.Chapters) != 1 {
		t.Fatalf("chapters = %+v", snapshot.Chapters)
	}
	states, ok := snapshot.Chapters[0]["plane_status"].(map[string]any)
	if !ok || states["B"] != "ok" {
		t.Errorf("plane_status = %v", snapshot.Chapters[0]["plane_status"])
	}
}

func TestAIRuntimeStatusWithoutProviders(t *testing.T) {
	srv, _ := testServer(t)

	rec := do(t, srv, "GET", "/ai/runtime-status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("runtime-status = %d", rec.Code)
	}
	var status ai.RuntimeStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.ActiveProvider != "" {
		t.Errorf("active provider = %q, want none", status.ActiveProvider)
	}

	rec = do(t, srv, "POST", "/ai/invalidate-cache", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("invalidate = %d", rec.Code)
	}
}

var errTest = errors.New("pipeline stage failed")

func mustJSON(t *testing.T, s string) string {
	t.Helper()
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}
