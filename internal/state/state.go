// Package state holds the pure transformation functions over the shared
// WorkflowRecord: stage advancement, error recording, and escalation. Agents
// never mutate the record directly.
package state

import (
	"errors"
	"fmt"
	"time"

	"outreach-mcp/pkg/models"
)

// ErrInvalidTransition is returned when the requested stage is not a legal
// forward move in the stage graph.
var ErrInvalidTransition = errors.New("invalid stage transition")

// ErrIntervention is returned when a workflow flagged for human intervention
// is asked to advance before being cleared.
var ErrIntervention = errors.New("workflow requires human intervention")

// stageGraph is the fixed forward graph of the pipeline. Escalation is not
// part of the graph; it is reachable from any stage via Escalate.
var stageGraph = map[models.Stage][]models.Stage{
	models.StageHunting:       {models.StageEnriching},
	models.StageEnriching:     {models.StageOutreach},
	models.StageOutreach:      {models.StageAwaitingReply},
	models.StageAwaitingReply: {models.StageClosing},
	models.StageClosing:       {models.StageDone},
	models.StageDone:          {},
	models.StageEscalated:     {},
}

// NextStage returns the successor of s in the graph, or "" when s is
// terminal.
func NextStage(s models.Stage) models.Stage {
	next := stageGraph[s]
	if len(next) == 0 {
		return ""
	}
	return next[0]
}

// Terminal reports whether s ends the pipeline.
func Terminal(s models.Stage) bool {
	return s == models.StageDone || s == models.StageEscalated
}

// UpdateStage advances the record to newStage. The prior stage is appended to
// CompletedStages exactly once and LastUpdatedAt is refreshed. Only forward
// transitions per the stage graph are accepted, and a record flagged for
// human intervention cannot advance.
func UpdateStage(rec *models.WorkflowRecord, newStage models.Stage) error {
	if rec.HumanInterventionNeeded {
		return fmt.Errorf("%w: workflow %s", ErrIntervention, rec.WorkflowID)
	}

	valid := false
	for _, next := range stageGraph[rec.CurrentStage] {
		if next == newStage {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.CurrentStage, newStage)
	}

	if !rec.HasCompleted(rec.CurrentStage) {
		rec.CompletedStages = append(rec.CompletedStages, rec.CurrentStage)
	}
	rec.CurrentStage = newStage
	rec.LastUpdatedAt = time.Now().UTC()
	return nil
}

// AddError appends an ErrorEntry to the record. A critical severity flips
// HumanInterventionNeeded and the flag is monotone: no later entry resets it.
// Prior entries are never touched.
func AddError(rec *models.WorkflowRecord, agent, errType, message string, details map[string]string, severity models.Severity) models.ErrorEntry {
	if details == nil {
		details = map[string]string{}
	}
	details["severity"] = string(severity)

	entry := models.ErrorEntry{
		Agent:     agent,
		Type:      errType,
		Message:   message,
		Details:   details,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
	}
	rec.Errors = append(rec.Errors, entry)
	if severity == models.SeverityCritical {
		rec.HumanInterventionNeeded = true
	}
	rec.LastUpdatedAt = entry.Timestamp
	return entry
}

// Escalate moves the record to the escalated terminal state. Unlike
// UpdateStage it is legal from any stage and while the intervention flag is
// set; escalation is precisely what the flag demands.
func Escalate(rec *models.WorkflowRecord) {
	if rec.CurrentStage == models.StageEscalated {
		return
	}
	rec.CurrentStage = models.StageEscalated
	rec.LastUpdatedAt = time.Now().UTC()
}

// ClearIntervention resets the intervention flag so an external operator can
// resume the workflow. resumeStage must be a stage in the graph; the record
// re-enters the pipeline there.
func ClearIntervention(rec *models.WorkflowRecord, resumeStage models.Stage) error {
	if _, ok := stageGraph[resumeStage]; !ok || resumeStage == models.StageEscalated {
		return fmt.Errorf("%w: cannot resume at %s", ErrInvalidTransition, resumeStage)
	}
	rec.HumanInterventionNeeded = false
	rec.CurrentStage = resumeStage
	rec.LastUpdatedAt = time.Now().UTC()
	return nil
}
