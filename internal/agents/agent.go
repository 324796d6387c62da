// Package agents implements the pipeline stage agents. Every agent follows
// the same contract: consume the workflow record, do its stage's work through
// the reasoning collaborator, and return a typed outcome. There is no
// fallback path: a failed collaborator call halts the stage with a critical
// error rather than producing best-guess data.
package agents

import (
	"context"

	"outreach-mcp/pkg/models"
)

// Agent is the contract every pipeline stage implements.
type Agent interface {
	Name() string
	Stage() models.Stage
	Run(ctx context.Context, rec *models.WorkflowRecord) Outcome
}

// Outcome is the typed result of an agent run. The orchestrator routes on it
// instead of relying on error propagation across stage boundaries.
type Outcome struct {
	Record  *models.WorkflowRecord
	Failure *models.ErrorEntry
}

// Success wraps a completed stage run.
func Success(rec *models.WorkflowRecord) Outcome {
	return Outcome{Record: rec}
}

// CriticalFailure wraps a halted stage run. The record carries the appended
// error entry; Failure points at it for routing.
func CriticalFailure(rec *models.WorkflowRecord, entry models.ErrorEntry) Outcome {
	return Outcome{Record: rec, Failure: &entry}
}

// Critical reports whether the run must escalate.
func (o Outcome) Critical() bool {
	return o.Failure != nil && o.Failure.Severity == models.SeverityCritical
}
