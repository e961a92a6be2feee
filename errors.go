// Package woningcheck implements the report pipeline spine: phase
// sequencing, truth-policy governance, run tracking and the worker pool
// that drives listing analyses from raw input to a renderable report.
package woningcheck

import (
	"errors"
	"fmt"

	"github.com/marcelkurvers/funda-woning-check-sub000/ai"
	"github.com/marcelkurvers/funda-woning-check-sub000/chapters"
	"github.com/marcelkurvers/funda-woning-check-sub000/registry"
)

// Tag is the closed classification of pipeline failures. Every error
// that terminates a run maps onto exactly one tag.
type Tag string

const (
	TagIngestFailed          Tag = "INGEST_FAILED"
	TagRegistryConflict      Tag = "REGISTRY_CONFLICT"
	TagPipelineViolation     Tag = "PIPELINE_VIOLATION"
	TagPresentationViolation Tag = "PRESENTATION_VIOLATION"
	TagPlaneViolation        Tag = "PLANE_VIOLATION"
	TagValidationFailed      Tag = "VALIDATION_FAILED"
	TagAIUnavailable         Tag = "AI_UNAVAILABLE"
	TagGovernanceRejected    Tag = "GOVERNANCE_REJECTED"
	TagCancelled             Tag = "CANCELLED"
	TagInternal              Tag = "INTERNAL"
)

// PipelineError is a tagged, phase-located failure of one run.
type PipelineError struct {
	Tag   Tag
	Phase Phase
	RunID string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("run %s failed in phase %s [%s]: %v", e.RunID, e.Phase, e.Tag, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// failure wraps err with tag and location.
func failure(tag Tag, phase Phase, runID string, err error) *PipelineError {
	return &PipelineError{Tag: tag, Phase: phase, RunID: runID, Err: err}
}

// Classify maps an arbitrary error onto the closed tag set. Unknown
// errors classify as INTERNAL rather than inventing new tags.
func Classify(err error) Tag {
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Tag
	}

	var conflict *registry.ConflictError
	var locked *registry.LockedError
	var frozen *registry.FrozenError
	var presentation *registry.PresentationViolation
	var plane *chapters.PlaneViolation
	var validation *chapters.ValidationError
	var notFrozen *chapters.NotFrozenError
	var unavailable *chapters.AIUnavailableError
	var noProvider *ai.NoProviderError

	switch {
	case errors.As(err, &conflict):
		return TagRegistryConflict
	case errors.As(err, &locked), errors.As(err, &frozen), errors.As(err, &notFrozen):
		return TagPipelineViolation
	case errors.As(err, &presentation):
		return TagPresentationViolation
	case errors.As(err, &plane):
		return TagPlaneViolation
	case errors.As(err, &validation):
		return TagValidationFailed
	case errors.As(err, &unavailable), errors.As(err, &noProvider):
		return TagAIUnavailable
	default:
		return TagInternal
	}
}
