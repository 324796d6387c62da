package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"outreach-mcp/internal/broadcast"
	"outreach-mcp/internal/services"
	"outreach-mcp/internal/state"
	"outreach-mcp/pkg/models"
)

const enrichmentAgentName = "enrichment"

// EnrichmentAgent researches a prospect: it requests a structured plan from
// the reasoning collaborator, executes each step in sequence while
// broadcasting intermediate reasoning, then synthesizes the step results into
// the enrichment payload.
type EnrichmentAgent struct {
	reasoning services.ReasoningClient
	publisher broadcast.Publisher
	logger    *zap.Logger
}

// NewEnrichmentAgent creates a new EnrichmentAgent.
func NewEnrichmentAgent(reasoning services.ReasoningClient, publisher broadcast.Publisher, logger *zap.Logger) *EnrichmentAgent {
	return &EnrichmentAgent{reasoning: reasoning, publisher: publisher, logger: logger}
}

func (a *EnrichmentAgent) Name() string        { return enrichmentAgentName }
func (a *EnrichmentAgent) Stage() models.Stage { return models.StageEnriching }

// Run executes the enrichment stage. Any reasoning failure or unrecoverable
// data issue halts the stage with a critical error; no retry, no degraded
// output.
func (a *EnrichmentAgent) Run(ctx context.Context, rec *models.WorkflowRecord) Outcome {
	if rec.EnrichmentData != nil {
		return a.halt(rec, "payload_already_set", "enrichment payload was already written", nil)
	}

	plan, err := a.reasoning.PlanResearch(ctx, rec)
	if err != nil {
		return a.halt(rec, "reasoning_unavailable", fmt.Sprintf("planning failed: %v", err), nil)
	}
	if len(plan.Steps) == 0 {
		return a.halt(rec, "empty_plan", "reasoning collaborator returned a plan with no steps", nil)
	}
	for _, step := range plan.Steps {
		if !models.ValidStepType(step.StepType) {
			return a.halt(rec, "invalid_plan", fmt.Sprintf("unknown step type %q", step.StepType),
				map[string]string{"step_id": step.StepID})
		}
	}

	a.publisher.Publish(rec.WorkflowID, "research_plan_created", plan)

	for i := range plan.Steps {
		step := &plan.Steps[i]
		step.Status = models.StepRunning
		a.publisher.Publish(rec.WorkflowID, "research_step_started", map[string]string{
			"step_id":   step.StepID,
			"step_type": string(step.StepType),
			"reasoning": step.Reasoning,
		})

		result, err := a.reasoning.ExecuteStep(ctx, rec, *step)
		if err != nil {
			step.Status = models.StepFailed
			return a.halt(rec, "step_failed", fmt.Sprintf("step %s failed: %v", step.StepID, err),
				map[string]string{"step_id": step.StepID, "step_type": string(step.StepType)})
		}
		step.Result = result
		step.Status = models.StepDone

		a.publisher.Publish(rec.WorkflowID, "research_step_completed", map[string]string{
			"step_id": step.StepID,
		})
	}

	data, err := a.reasoning.Synthesize(ctx, rec, plan)
	if err != nil {
		return a.halt(rec, "synthesis_failed", fmt.Sprintf("synthesis failed: %v", err), nil)
	}
	if data == nil || data.Summary == "" {
		return a.halt(rec, "empty_enrichment", "synthesis produced no usable summary", nil)
	}

	data.Plan = plan
	rec.EnrichmentData = data

	a.logger.Info("enrichment complete",
		zap.String("workflow_id", rec.WorkflowID),
		zap.Int("steps", len(plan.Steps)),
	)
	return Success(rec)
}

func (a *EnrichmentAgent) halt(rec *models.WorkflowRecord, errType, message string, details map[string]string) Outcome {
	if details == nil {
		details = map[string]string{}
	}
	details["requires_escalation"] = "true"
	entry := state.AddError(rec, enrichmentAgentName, errType, message, details, models.SeverityCritical)
	a.logger.Error("enrichment halted",
		zap.String("workflow_id", rec.WorkflowID),
		zap.String("type", errType),
		zap.String("message", message),
	)
	return CriticalFailure(rec, entry)
}
