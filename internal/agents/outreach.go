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

const outreachAgentName = "outreach"

// OutreachAgent drafts the first outreach message from the enrichment
// payload. Same no-fallback contract as enrichment.
type OutreachAgent struct {
	reasoning services.ReasoningClient
	publisher broadcast.Publisher
	logger    *zap.Logger
}

// NewOutreachAgent creates a new OutreachAgent.
func NewOutreachAgent(reasoning services.ReasoningClient, publisher broadcast.Publisher, logger *zap.Logger) *OutreachAgent {
	return &OutreachAgent{reasoning: reasoning, publisher: publisher, logger: logger}
}

func (a *OutreachAgent) Name() string        { return outreachAgentName }
func (a *OutreachAgent) Stage() models.Stage { return models.StageOutreach }

func (a *OutreachAgent) Run(ctx context.Context, rec *models.WorkflowRecord) Outcome {
	if rec.EnrichmentData == nil {
		return a.halt(rec, "missing_enrichment", "outreach requires an enrichment payload")
	}
	if rec.OutreachDraft != nil {
		return a.halt(rec, "payload_already_set", "outreach draft was already written")
	}

	draft, err := a.reasoning.DraftOutreach(ctx, rec)
	if err != nil {
		return a.halt(rec, "reasoning_unavailable", fmt.Sprintf("drafting failed: %v", err))
	}
	if draft == nil || draft.Body == "" {
		return a.halt(rec, "empty_draft", "reasoning collaborator produced an empty draft")
	}

	rec.OutreachDraft = draft
	a.publisher.Publish(rec.WorkflowID, "outreach_drafted", map[string]string{
		"subject": draft.Subject,
		"channel": draft.Channel,
	})
	a.logger.Info("outreach draft ready", zap.String("workflow_id", rec.WorkflowID))
	return Success(rec)
}

func (a *OutreachAgent) halt(rec *models.WorkflowRecord, errType, message string) Outcome {
	entry := state.AddError(rec, outreachAgentName, errType, message,
		map[string]string{"requires_escalation": "true"}, models.SeverityCritical)
	a.logger.Error("outreach halted",
		zap.String("workflow_id", rec.WorkflowID),
		zap.String("type", errType),
		zap.String("message", message),
	)
	return CriticalFailure(rec, entry)
}
