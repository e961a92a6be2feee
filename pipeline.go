package woningcheck

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marcelkurvers/funda-woning-check-sub000/chapters"
	"github.com/marcelkurvers/funda-woning-check-sub000/enrich"
	"github.com/marcelkurvers/funda-woning-check-sub000/registry"
)

// Phase is one stage of the report pipeline. Phases advance strictly in
// order; a run never skips or revisits a phase.
type Phase string

const (
	PhaseCreated           Phase = "CREATED"
	PhaseIngested          Phase = "INGESTED"
	PhaseEnriched          Phase = "ENRICHED"
	PhaseRegistryLocked    Phase = "REGISTRY_LOCKED"
	PhaseCoreSummaryBuilt  Phase = "CORE_SUMMARY_BUILT"
	PhaseChaptersGenerated Phase = "CHAPTERS_GENERATED"
	PhaseValidated         Phase = "VALIDATED"
	PhaseRenderable        Phase = "RENDERABLE"
	PhaseFailed            Phase = "FAILED"
)

var phaseOrder = []Phase{
	PhaseCreated,
	PhaseIngested,
	PhaseEnriched,
	PhaseRegistryLocked,
	PhaseCoreSummaryBuilt,
	PhaseChaptersGenerated,
	PhaseValidated,
	PhaseRenderable,
}

// PhaseIndex returns the position of p in the pipeline, or -1.
func PhaseIndex(p Phase) int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// CanAdvance reports whether to is the immediate successor of from.
// FAILED is reachable from anywhere but never through Advance.
func CanAdvance(from, to Phase) bool {
	fromIdx, toIdx := PhaseIndex(from), PhaseIndex(to)
	return fromIdx >= 0 && toIdx == fromIdx+1
}

// ProgressFor maps a phase onto a 0-100 progress percentage.
func ProgressFor(p Phase) int {
	idx := PhaseIndex(p)
	if idx <= 0 {
		return 0
	}
	return idx * 100 / (len(phaseOrder) - 1)
}

// ProgressFunc receives run progress updates as phases complete.
type ProgressFunc func(run *RunRecord, phase Phase)

// Pipeline executes runs end to end: ingest, enrich, lock, summarize,
// generate, validate. Fail-closed: the first unwaived defect terminates
// the run with a classified error.
type Pipeline struct {
	store      *RunStore
	generator  *chapters.Generator
	governance *Governance
	prefs      enrich.Preferences
	marketMean int
	logger     *slog.Logger
	onProgress ProgressFunc
}

// NewPipeline assembles a pipeline over the given stores and policy.
func NewPipeline(store *RunStore, generator *chapters.Generator, governance *Governance, prefs enrich.Preferences, marketMean int, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if len(prefs.Personas) == 0 {
		prefs = enrich.DefaultPreferences()
	}
	return &Pipeline{
		store:      store,
		generator:  generator,
		governance: governance,
		prefs:      prefs,
		marketMean: marketMean,
		logger:     logger,
	}
}

// OnProgress registers a progress callback, invoked after every phase
// transition with a copy of the run.
func (p *Pipeline) OnProgress(fn ProgressFunc) { p.onProgress = fn }

// Execute drives run id from CREATED to RENDERABLE over the raw listing
// fields. Cancellation is honored at phase boundaries and between
// chapters; a cancelled run fails as CANCELLED.
func (p *Pipeline) Execute(ctx context.Context, runID string, raw map[string]any) (*RunRecord, error) {
	// INGESTED: the raw fields must carry something to analyze.
	if err := p.checkCancelled(ctx, runID, PhaseCreated); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		err := failure(TagIngestFailed, PhaseCreated, runID, fmt.Errorf("no listing fields ingested"))
		p.store.Fail(runID, TagIngestFailed, err)
		return nil, err
	}
	p.store.SetRaw(runID, raw)
	if err := p.advance(runID, PhaseIngested); err != nil {
		return nil, err
	}

	// ENRICHED: all arithmetic happens here, against a mutable registry.
	if err := p.checkCancelled(ctx, runID, PhaseIngested); err != nil {
		return nil, err
	}
	reg := registry.New()
	adapter := enrich.NewAdapter(p.marketMean, p.logger)
	if err := adapter.Populate(reg, raw, p.prefs); err != nil {
		tag := Classify(err)
		p.store.Fail(runID, tag, err)
		return nil, failure(tag, PhaseIngested, runID, err)
	}
	if err := p.advance(runID, PhaseEnriched); err != nil {
		return nil, err
	}

	// REGISTRY_LOCKED: one-way door. Everything downstream reads only.
	if err := reg.Freeze(); err != nil {
		tag := Classify(err)
		p.store.Fail(runID, tag, err)
		return nil, failure(tag, PhaseEnriched, runID, err)
	}
	if err := p.advance(runID, PhaseRegistryLocked); err != nil {
		return nil, err
	}

	// CORE_SUMMARY_BUILT: pure formatting over the frozen registry.
	if err := p.checkCancelled(ctx, runID, PhaseRegistryLocked); err != nil {
		return nil, err
	}
	summary, err := enrich.BuildCoreSummary(reg)
	if err != nil {
		p.store.Fail(runID, TagPipelineViolation, err)
		return nil, failure(TagPipelineViolation, PhaseRegistryLocked, runID, err)
	}
	p.store.SetSummary(runID, &summary)
	if err := p.advance(runID, PhaseCoreSummaryBuilt); err != nil {
		return nil, err
	}

	// CHAPTERS_GENERATED: one composition per chapter, governed.
	discarded, err := p.generateChapters(ctx, runID, reg)
	if err != nil {
		return nil, err
	}
	if err := p.advance(runID, PhaseChaptersGenerated); err != nil {
		return nil, err
	}

	// VALIDATED: an incomplete chapter set must have been waived.
	if discarded > 0 {
		verdict := p.governance.Evaluate(TagValidationFailed)
		if verdict == VerdictReject {
			err := failure(TagValidationFailed, PhaseChaptersGenerated, runID,
				fmt.Errorf("%d chapter(s) discarded after validation", discarded))
			p.store.Fail(runID, TagValidationFailed, err)
			return nil, err
		}
		p.store.AddWarning(runID, fmt.Sprintf("%d hoofdstuk(ken) verworpen na validatie", discarded))
	}
	if err := p.advance(runID, PhaseValidated); err != nil {
		return nil, err
	}

	if err := p.advance(runID, PhaseRenderable); err != nil {
		return nil, err
	}

	run, _ := p.store.Get(runID)
	p.logger.Info("Run renderable", "run", runID, "chapters", len(run.Chapters), "warnings", len(run.Warnings))
	return run, nil
}

// generateChapters walks the report outline and returns how many
// chapters were discarded under a waiving policy.
func (p *Pipeline) generateChapters(ctx context.Context, runID string, reg *registry.Registry) (int, error) {
	discarded := 0
	for _, spec := range chapters.Specs() {
		if err := p.checkCancelled(ctx, runID, PhaseCoreSummaryBuilt); err != nil {
			return 0, err
		}

		step := fmt.Sprintf("chapter_%d", spec.ID)
		p.store.StartStep(runID, step)

		comp, err := p.generator.Generate(ctx, spec.ID, reg, p.prefs)
		if err == nil {
			p.store.AddChapter(runID, comp)
			p.store.FinishStep(runID, step, StepDone, spec.Title)
			continue
		}

		tag := Classify(err)
		verdict := p.governance.Evaluate(tag)
		if verdict == VerdictReject {
			p.store.FinishStep(runID, step, StepFailed, err.Error())
			p.store.Fail(runID, tag, err)
			return 0, failure(tag, PhaseCoreSummaryBuilt, runID, err)
		}

		// Waived. A degraded composition is kept; a validation failure
		// discards the chapter rather than publish defective planes.
		switch tag {
		case TagValidationFailed:
			discarded++
			p.store.FinishStep(runID, step, StepFailed, err.Error())
		default:
			if comp != nil {
				p.store.AddChapter(runID, comp)
			}
			p.store.FinishStep(runID, step, StepDone, "degraded: "+err.Error())
		}
		if verdict == VerdictWarn {
			p.store.AddWarning(runID, fmt.Sprintf("hoofdstuk %d: %s", spec.ID, tag))
		}
	}
	return discarded, nil
}

func (p *Pipeline) advance(runID string, to Phase) error {
	if err := p.store.Advance(runID, to); err != nil {
		p.store.Fail(runID, TagPipelineViolation, err)
		return err
	}
	if p.onProgress != nil {
		if run, ok := p.store.Get(runID); ok {
			p.onProgress(run, to)
		}
	}
	return nil
}

func (p *Pipeline) checkCancelled(ctx context.Context, runID string, phase Phase) error {
	if ctx.Err() == nil {
		return nil
	}
	err := failure(TagCancelled, phase, runID, ctx.Err())
	p.store.Fail(runID, TagCancelled, err)
	return err
}
