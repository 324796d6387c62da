// Package orchestrator drives the workflow state machine: it sequences stage
// agents, routes on their outcomes, checkpoints the record after every
// transition and emits progress events.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"outreach-mcp/internal/agents"
	"outreach-mcp/internal/broadcast"
	"outreach-mcp/internal/state"
	"outreach-mcp/pkg/models"
)

// ErrWorkflowNotFound is returned when no checkpoint exists for the id.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrNotEscalated is returned when resume is requested for a workflow that
// does not need intervention.
var ErrNotEscalated = errors.New("workflow is not awaiting intervention")

// Checkpointer persists and restores workflow records between stages. The
// database tool service satisfies it.
type Checkpointer interface {
	CheckpointRecord(ctx context.Context, rec *models.WorkflowRecord) error
	LoadCheckpoint(ctx context.Context, workflowID string) (*models.WorkflowRecord, error)
}

// Orchestrator owns the stage graph execution for all concurrent workflow
// runs. Each run is strictly sequential over its own record; runs for
// different prospects proceed independently.
type Orchestrator struct {
	agents      map[models.Stage]agents.Agent
	checkpoints Checkpointer
	publisher   broadcast.Publisher
	logger      *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates an Orchestrator with explicit dependencies; nothing is looked
// up from ambient state.
func New(checkpoints Checkpointer, publisher broadcast.Publisher, logger *zap.Logger, stageAgents ...agents.Agent) *Orchestrator {
	byStage := make(map[models.Stage]agents.Agent, len(stageAgents))
	for _, a := range stageAgents {
		byStage[a.Stage()] = a
	}
	return &Orchestrator{
		agents:      byStage,
		checkpoints: checkpoints,
		publisher:   publisher,
		logger:      logger,
		cancels:     map[string]context.CancelFunc{},
	}
}

// StartWorkflow creates a fresh record for the prospect, checkpoints it and
// runs the pipeline to its first pause or terminal state.
func (o *Orchestrator) StartWorkflow(ctx context.Context, prospectID string) (*models.WorkflowRecord, error) {
	now := time.Now().UTC()
	rec := &models.WorkflowRecord{
		WorkflowID:    uuid.New().String(),
		ProspectID:    prospectID,
		CurrentStage:  models.StageHunting,
		StartedAt:     now,
		LastUpdatedAt: now,
	}
	if err := o.checkpoints.CheckpointRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("checkpoint new workflow: %w", err)
	}
	o.publisher.Publish(rec.WorkflowID, "workflow_created", map[string]string{"prospect_id": prospectID})
	return o.Run(ctx, rec)
}

// Run advances the record through the stage graph until a terminal state, a
// stage with no registered agent (the pipeline waits on an external event),
// or escalation. The record is checkpointed after every transition so a crash
// between stages never loses completed work.
func (o *Orchestrator) Run(ctx context.Context, rec *models.WorkflowRecord) (*models.WorkflowRecord, error) {
	runCtx, cancel := context.WithCancel(ctx)
	o.registerCancel(rec.WorkflowID, cancel)
	defer o.unregisterCancel(rec.WorkflowID)

	for {
		if rec.HumanInterventionNeeded && rec.CurrentStage != models.StageEscalated {
			return o.escalate(ctx, rec, cancel)
		}
		if state.Terminal(rec.CurrentStage) {
			return rec, nil
		}

		agent, ok := o.agents[rec.CurrentStage]
		if !ok {
			// No agent drives this stage; the workflow waits for an
			// external event (e.g. a prospect reply).
			o.publisher.Publish(rec.WorkflowID, "workflow_paused", map[string]string{
				"stage": string(rec.CurrentStage),
			})
			return rec, nil
		}

		o.publisher.Publish(rec.WorkflowID, "stage_started", map[string]string{
			"stage": string(rec.CurrentStage),
			"agent": agent.Name(),
		})
		o.logger.Info("stage started",
			zap.String("workflow_id", rec.WorkflowID),
			zap.String("stage", string(rec.CurrentStage)),
		)

		outcome := agent.Run(runCtx, rec)
		rec = outcome.Record

		if outcome.Critical() {
			return o.escalate(ctx, rec, cancel)
		}

		next := state.NextStage(rec.CurrentStage)
		if err := state.UpdateStage(rec, next); err != nil {
			return rec, fmt.Errorf("advance from %s: %w", rec.CurrentStage, err)
		}
		if err := o.checkpoints.CheckpointRecord(ctx, rec); err != nil {
			return rec, fmt.Errorf("checkpoint after %s: %w", rec.CurrentStage, err)
		}

		o.publisher.Publish(rec.WorkflowID, "stage_completed", map[string]string{
			"stage": string(rec.CompletedStages[len(rec.CompletedStages)-1]),
			"next":  string(rec.CurrentStage),
		})

		if rec.CurrentStage == models.StageDone {
			o.publisher.Publish(rec.WorkflowID, "workflow_completed", nil)
			return rec, nil
		}
	}
}

// escalate moves the record to the escalated terminal state, remembers where
// it came from for resume, cancels any in-flight collaborator work for this
// run and checkpoints the result.
func (o *Orchestrator) escalate(ctx context.Context, rec *models.WorkflowRecord, cancel context.CancelFunc) (*models.WorkflowRecord, error) {
	if rec.Extensions == nil {
		rec.Extensions = map[string]any{}
	}
	rec.Extensions["escalated_from"] = string(rec.CurrentStage)
	state.Escalate(rec)
	cancel()

	if err := o.checkpoints.CheckpointRecord(ctx, rec); err != nil {
		return rec, fmt.Errorf("checkpoint escalation: %w", err)
	}
	o.publisher.Publish(rec.WorkflowID, "workflow_escalated", map[string]string{
		"escalated_from": rec.Extensions["escalated_from"].(string),
	})
	o.logger.Warn("workflow escalated",
		zap.String("workflow_id", rec.WorkflowID),
		zap.Any("escalated_from", rec.Extensions["escalated_from"]),
	)
	return rec, nil
}

// Resume clears the intervention flag set by a critical error and re-enters
// the stage graph. When resumeStage is empty the workflow re-runs the stage
// it escalated from. Authorization is enforced by the HTTP layer.
func (o *Orchestrator) Resume(ctx context.Context, workflowID string, resumeStage models.Stage) (*models.WorkflowRecord, error) {
	rec, err := o.checkpoints.LoadCheckpoint(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}
	if !rec.HumanInterventionNeeded {
		return nil, fmt.Errorf("%w: %s", ErrNotEscalated, workflowID)
	}

	if resumeStage == "" {
		if from, ok := rec.Extensions["escalated_from"].(string); ok {
			resumeStage = models.Stage(from)
		} else {
			resumeStage = models.StageHunting
		}
	}
	if err := state.ClearIntervention(rec, resumeStage); err != nil {
		return nil, err
	}
	if err := o.checkpoints.CheckpointRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("checkpoint resume: %w", err)
	}
	o.publisher.Publish(workflowID, "workflow_resumed", map[string]string{
		"stage": string(resumeStage),
	})
	return o.Run(ctx, rec)
}

// CancelRun cooperatively cancels the in-flight run for a workflow. Stage
// work already issued may complete; its result is discarded by the cancelled
// context.
func (o *Orchestrator) CancelRun(workflowID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.cancels[workflowID]; ok {
		cancel()
		delete(o.cancels, workflowID)
	}
}

func (o *Orchestrator) registerCancel(workflowID string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels[workflowID] = cancel
}

func (o *Orchestrator) unregisterCancel(workflowID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancels, workflowID)
}
