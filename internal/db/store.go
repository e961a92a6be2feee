package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	woningcheck "github.com/marcelkurvers/funda-woning-check-sub000"
	"github.com/marcelkurvers/funda-woning-check-sub000/chapters"
	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
)

// Store persists analysis runs using SQLite.
type Store struct {
	db *DB
}

// NewStore creates a new SQLite-backed store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// --- Run Operations ---

// SaveRun upserts the full run record: scalar columns plus the JSON
// payloads for raw fields, summary, warnings, steps and chapters.
func (s *Store) SaveRun(run *woningcheck.RunRecord) error {
	raw, _ := json.Marshal(run.Raw)
	summary, _ := json.Marshal(run.Summary)
	warnings, _ := json.Marshal(run.Warnings)

	_, err := s.db.Exec(`
		INSERT INTO runs (id, url, phase, progress, error, error_tag, raw_fields, core_summary, warnings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			progress = excluded.progress,
			error = excluded.error,
			error_tag = excluded.error_tag,
			raw_fields = excluded.raw_fields,
			core_summary = excluded.core_summary,
			warnings = excluded.warnings,
			updated_at = excluded.updated_at
	`,
		run.ID, run.URL, string(run.Phase), run.Progress, run.Error, string(run.ErrorTag),
		raw, summary, warnings, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if err := s.saveSteps(run); err != nil {
		return err
	}
	return s.saveChapters(run)
}

func (s *Store) saveSteps(run *woningcheck.RunRecord) error {
	if _, err := s.db.Exec("DELETE FROM run_steps WHERE run_id = ?", run.ID); err != nil {
		return fmt.Errorf("failed to clear run steps: %w", err)
	}
	for _, step := range run.Steps {
		_, err := s.db.Exec(`
			INSERT INTO run_steps (run_id, name, status, detail, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, step.Name, string(step.Status), step.Detail, step.StartedAt, nullTime(step.FinishedAt))
		if err != nil {
			return fmt.Errorf("failed to save run step: %w", err)
		}
	}
	return nil
}

// saveChapters replaces the stored chapter set. Rewriting the rows keeps
// the database in step when a run sheds its chapters on failure.
func (s *Store) saveChapters(run *woningcheck.RunRecord) error {
	if _, err := s.db.Exec("DELETE FROM run_chapters WHERE run_id = ?", run.ID); err != nil {
		return fmt.Errorf("failed to clear run chapters: %w", err)
	}
	for _, comp := range run.Chapters {
		payload, err := json.Marshal(comp)
		if err != nil {
			return fmt.Errorf("failed to marshal chapter %d: %w", comp.ChapterID, err)
		}
		_, err = s.db.Exec(`
			INSERT INTO run_chapters (run_id, chapter_id, title, payload, validation_passed)
			VALUES (?, ?, ?, ?, ?)
		`, run.ID, comp.ChapterID, comp.ChapterTitle, payload, boolInt(comp.Diagnostics.ValidationPassed))
		if err != nil {
			return fmt.Errorf("failed to save chapter %d: %w", comp.ChapterID, err)
		}
	}
	return nil
}

// GetRun loads one run with its steps and chapters.
func (s *Store) GetRun(id string) (*woningcheck.RunRecord, bool) {
	row := s.db.QueryRow(`
		SELECT id, url, phase, progress, error, error_tag, raw_fields, core_summary, warnings, created_at, updated_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if err != nil {
		return nil, false
	}

	if steps, err := s.getSteps(id); err == nil {
		run.Steps = steps
	}
	if comps, err := s.getChapters(id); err == nil {
		run.Chapters = comps
	}
	return run, true
}

// ListRuns returns all runs without their chapter payloads, newest first.
func (s *Store) ListRuns() ([]*woningcheck.RunRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, url, phase, progress, error, error_tag, raw_fields, core_summary, warnings, created_at, updated_at
		FROM runs ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*woningcheck.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRunsBefore removes terminal runs last touched before cutoff.
func (s *Store) DeleteRunsBefore(cutoff time.Time) (int, error) {
	result, err := s.db.Exec(`
		DELETE FROM runs WHERE phase IN ('RENDERABLE', 'FAILED') AND updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (s *Store) getSteps(runID string) ([]woningcheck.RunStep, error) {
	rows, err := s.db.Query(`
		SELECT name, status, detail, started_at, finished_at
		FROM run_steps WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []woningcheck.RunStep
	for rows.Next() {
		var step woningcheck.RunStep
		var status string
		var detail sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&step.Name, &status, &detail, &step.StartedAt, &finished); err != nil {
			return nil, err
		}
		step.Status = woningcheck.StepStatus(status)
		step.Detail = detail.String
		if finished.Valid {
			step.FinishedAt = finished.Time
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *Store) getChapters(runID string) ([]*chapters.Composition, error) {
	rows, err := s.db.Query(`
		SELECT chapter_id, payload FROM run_chapters WHERE run_id = ? ORDER BY chapter_id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comps []*chapters.Composition
	for rows.Next() {
		var chapterID int
		var payload []byte
		if err := rows.Scan(&chapterID, &payload); err != nil {
			return nil, err
		}
		var comp chapters.Composition
		if err := json.Unmarshal(payload, &comp); err != nil {
			return nil, fmt.Errorf("failed to decode chapter %d: %w", chapterID, err)
		}
		comp.ChapterID = chapterID
		comps = append(comps, &comp)
	}
	return comps, rows.Err()
}

// --- Event Operations ---

// AppendEvent records one audit event for a run.
func (s *Store) AppendEvent(runID, eventType string, data any) error {
	payload, _ := json.Marshal(data)
	_, err := s.db.Exec(`
		INSERT INTO run_events (run_id, event_type, event_data) VALUES (?, ?, ?)
	`, runID, eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// RunEvent is one audit trail entry.
type RunEvent struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListEvents returns a run's audit trail, oldest first.
func (s *Store) ListEvents(runID string) ([]RunEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, event_type, event_data, created_at
		FROM run_events WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var event RunEvent
		var data sql.NullString
		if err := rows.Scan(&event.ID, &event.RunID, &event.Type, &data, &event.CreatedAt); err != nil {
			return nil, err
		}
		if data.Valid {
			event.Data = json.RawMessage(data.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// --- Usage Operations ---

// RecordUsage accounts one provider call against a run.
func (s *Store) RecordUsage(runID, provider, model string, promptTokens, completionTokens int) error {
	_, err := s.db.Exec(`
		INSERT INTO provider_usage (run_id, provider, model, prompt_tokens, completion_tokens)
		VALUES (?, ?, ?, ?, ?)
	`, runID, provider, model, promptTokens, completionTokens)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// UsageTotals sums token usage per provider across all runs.
func (s *Store) UsageTotals() (map[string][2]int, error) {
	rows, err := s.db.Query(`
		SELECT provider, COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
		FROM provider_usage GROUP BY provider
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	totals := make(map[string][2]int)
	for rows.Next() {
		var provider string
		var prompt, completion int
		if err := rows.Scan(&provider, &prompt, &completion); err != nil {
			return nil, err
		}
		totals[provider] = [2]int{prompt, completion}
	}
	return totals, rows.Err()
}

// --- Helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*woningcheck.RunRecord, error) {
	run := &woningcheck.RunRecord{}
	var phase string
	var errMsg, errTag, raw, summary, warnings sql.NullString

	err := row.Scan(&run.ID, &run.URL, &phase, &run.Progress, &errMsg, &errTag,
		&raw, &summary, &warnings, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	run.Phase = woningcheck.Phase(phase)
	run.Error = errMsg.String
	run.ErrorTag = woningcheck.Tag(errTag.String)
	if raw.Valid && raw.String != "null" {
		json.Unmarshal([]byte(raw.String), &run.Raw)
	}
	if summary.Valid && summary.String != "null" {
		var cs enrich.CoreSummary
		if json.Unmarshal([]byte(summary.String), &cs) == nil {
			run.Summary = &cs
		}
	}
	if warnings.Valid && warnings.String != "null" {
		json.Unmarshal([]byte(warnings.String), &run.Warnings)
	}
	return run, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
