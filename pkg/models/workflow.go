// Package models defines the domain models for the outreach engine.
package models

import (
	"time"
)

// Stage is one named phase of the outreach pipeline.
type Stage string

const (
	StageHunting       Stage = "hunting"
	StageEnriching     Stage = "enriching"
	StageOutreach      Stage = "outreach"
	StageAwaitingReply Stage = "awaiting_reply"
	StageClosing       Stage = "closing"
	StageDone          Stage = "done"
	// StageEscalated is the terminal state reached when a critical error
	// requires a human operator before the workflow may continue.
	StageEscalated Stage = "escalated"
)

// Severity classifies an ErrorEntry.
type Severity string

const (
	SeverityCritical    Severity = "critical"
	SeverityRecoverable Severity = "recoverable"
)

// ErrorEntry records a single failure raised by an agent. Entries are
// immutable once appended to a WorkflowRecord.
type ErrorEntry struct {
	Agent     string            `json:"agent"`
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details"`
	Severity  Severity          `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
}

// WorkflowRecord is the shared unit of state passed between pipeline stages.
// It is owned by a single orchestrator run; agents mutate it only through the
// state package.
type WorkflowRecord struct {
	WorkflowID string `json:"workflow_id"`
	ProspectID string `json:"prospect_id"`

	CurrentStage    Stage   `json:"current_stage"`
	CompletedStages []Stage `json:"completed_stages"`

	Errors                  []ErrorEntry `json:"errors"`
	HumanInterventionNeeded bool         `json:"human_intervention_needed"`

	// Per-stage payloads, each written exactly once by its owning stage.
	EnrichmentData *EnrichmentData `json:"enrichment_data,omitempty"`
	OutreachDraft  *OutreachDraft  `json:"outreach_draft,omitempty"`

	// Extensions carries forward-compatible per-stage data that has no
	// dedicated field yet.
	Extensions map[string]any `json:"extensions,omitempty"`

	StartedAt     time.Time `json:"started_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// EnrichmentData is the payload produced by the enrichment stage.
type EnrichmentData struct {
	Summary     string            `json:"summary"`
	CompanySize string            `json:"company_size,omitempty"`
	Industry    string            `json:"industry,omitempty"`
	Signals     []string          `json:"signals,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Plan        *ResearchPlan     `json:"plan,omitempty"`
}

// OutreachDraft is the payload produced by the outreach stage.
type OutreachDraft struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Channel   string `json:"channel"`
	Rationale string `json:"rationale,omitempty"`
}

// CriticalErrors returns the subset of Errors with critical severity.
func (r *WorkflowRecord) CriticalErrors() []ErrorEntry {
	var out []ErrorEntry
	for _, e := range r.Errors {
		if e.Severity == SeverityCritical {
			out = append(out, e)
		}
	}
	return out
}

// HasCompleted reports whether the given stage already finished.
func (r *WorkflowRecord) HasCompleted(s Stage) bool {
	for _, c := range r.CompletedStages {
		if c == s {
			return true
		}
	}
	return false
}
