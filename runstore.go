package woningcheck

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcelkurvers/funda-woning-check-sub000/chapters"
	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
)

// StepStatus tracks one pipeline step on a run.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
)

// RunStep is one recorded step in a run's history.
type RunStep struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

// RunRecord is the full state of one analysis run.
type RunRecord struct {
	ID        string    `json:"id"`
	URL       string    `json:"url,omitempty"`
	Phase     Phase     `json:"phase"`
	Progress  int       `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Error    string `json:"error,omitempty"`
	ErrorTag Tag    `json:"error_tag,omitempty"`

	Raw      map[string]any          `json:"-"`
	Summary  *enrich.CoreSummary     `json:"core_summary,omitempty"`
	Chapters []*chapters.Composition `json:"chapters,omitempty"`
	Steps    []RunStep               `json:"steps"`
	Warnings []string                `json:"warnings,omitempty"`
}

// Terminal reports whether the run reached an end state.
func (r *RunRecord) Terminal() bool {
	return r.Phase == PhaseRenderable || r.Phase == PhaseFailed
}

// RunStore is the in-memory run registry. All access is serialized;
// callers receive copies, never live pointers into the store.
type RunStore struct {
	mu     sync.RWMutex
	runs   map[string]*RunRecord
	logger *slog.Logger
	onFail func(run *RunRecord)
}

// NewRunStore creates an empty store.
func NewRunStore(logger *slog.Logger) *RunStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunStore{
		runs:   make(map[string]*RunRecord),
		logger: logger,
	}
}

// Create registers a new run in CREATED.
func (s *RunStore) Create(url string) *RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	run := &RunRecord{
		ID:        uuid.New().String(),
		URL:       url,
		Phase:     PhaseCreated,
		CreatedAt: now,
		UpdatedAt: now,
		Steps:     []RunStep{},
	}
	s.runs[run.ID] = run
	s.logger.Info("Run created", "run", run.ID, "url", url)
	return copyRun(run)
}

// Get returns a copy of the run.
func (s *RunStore) Get(id string) (*RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return copyRun(run), true
}

// List returns copies of all runs, newest first.
func (s *RunStore) List() []*RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, copyRun(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Advance moves a run to the next phase. Skipping or reordering phases
// is a pipeline violation, not a soft failure.
func (s *RunStore) Advance(id string, to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("unknown run %q", id)
	}
	if !CanAdvance(run.Phase, to) {
		return failure(TagPipelineViolation, run.Phase, id,
			fmt.Errorf("illegal phase transition %s -> %s", run.Phase, to))
	}
	run.Phase = to
	run.Progress = ProgressFor(to)
	run.UpdatedAt = time.Now()
	return nil
}

// OnFail registers a callback invoked with a copy of the run after it
// is marked failed. Persistence lives behind this hook: a terminal
// failure must reach the durable store, not only memory.
func (s *RunStore) OnFail(fn func(run *RunRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFail = fn
}

// Fail marks the run failed with a classified error. Cancelled and
// validation-failed runs keep their diagnostics and step history but
// lose the chapter payloads: partial output is never published.
func (s *RunStore) Fail(id string, tag Tag, err error) {
	s.mu.Lock()
	run, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	run.Phase = PhaseFailed
	run.ErrorTag = tag
	if err != nil {
		run.Error = err.Error()
	}
	switch tag {
	case TagCancelled, TagValidationFailed:
		run.Chapters = nil
	}
	run.UpdatedAt = time.Now()

	var snapshot *RunRecord
	onFail := s.onFail
	if onFail != nil {
		snapshot = copyRun(run)
	}
	s.mu.Unlock()

	s.logger.Error("Run failed", "run", id, "tag", tag, "error", err)
	if onFail != nil {
		onFail(snapshot)
	}
}

// StartStep opens a step on the run's history.
func (s *RunStore) StartStep(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return
	}
	run.Steps = append(run.Steps, RunStep{
		Name:      name,
		Status:    StepRunning,
		StartedAt: time.Now(),
	})
	run.UpdatedAt = time.Now()
}

// FinishStep closes the most recent step with the given name.
func (s *RunStore) FinishStep(id, name string, status StepStatus, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return
	}
	for i := len(run.Steps) - 1; i >= 0; i-- {
		if run.Steps[i].Name == name {
			run.Steps[i].Status = status
			run.Steps[i].FinishedAt = time.Now()
			run.Steps[i].Detail = detail
			break
		}
	}
	run.UpdatedAt = time.Now()
}

// SetRaw attaches the ingested listing fields. The store keeps its own
// copy; later mutation of the caller's map does not reach the run.
func (s *RunStore) SetRaw(id string, raw map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		copied := make(map[string]any, len(raw))
		for key, value := range raw {
			copied[key] = value
		}
		run.Raw = copied
		run.UpdatedAt = time.Now()
	}
}

// SetSummary attaches the core summary.
func (s *RunStore) SetSummary(id string, summary *enrich.CoreSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Summary = summary
		run.UpdatedAt = time.Now()
	}
}

// AddChapter appends a generated chapter.
func (s *RunStore) AddChapter(id string, comp *chapters.Composition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Chapters = append(run.Chapters, comp)
		run.UpdatedAt = time.Now()
	}
}

// AddWarning records a waived defect on the run.
func (s *RunStore) AddWarning(id, warning string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Warnings = append(run.Warnings, warning)
		run.UpdatedAt = time.Now()
	}
}

// CleanupOld drops terminal runs older than maxAge and returns how many
// were removed.
func (s *RunStore) CleanupOld(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, run := range s.runs {
		if run.Terminal() && run.UpdatedAt.Before(cutoff) {
			delete(s.runs, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("Cleaned up old runs", "count", removed)
	}
	return removed
}

// StaleRunning returns IDs of non-terminal runs untouched for longer
// than maxAge. The sweeper fails them as zombies.
func (s *RunStore) StaleRunning(maxAge time.Duration) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-maxAge)
	var stale []string
	for id, run := range s.runs {
		if !run.Terminal() && run.Phase != PhaseCreated && run.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

func copyRun(run *RunRecord) *RunRecord {
	out := *run
	out.Steps = append([]RunStep(nil), run.Steps...)
	out.Warnings = append([]string(nil), run.Warnings...)
	if run.Chapters != nil {
		out.Chapters = make([]*chapters.Composition, len(run.Chapters))
		for i, comp := range run.Chapters {
			c := *comp
			out.Chapters[i] = &c
		}
	}
	return &out
}
