package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"outreach-mcp/internal/services"
	"outreach-mcp/internal/state"
	"outreach-mcp/pkg/models"
)

const huntingAgentName = "hunting"

// HuntingAgent confirms the prospect behind the workflow exists and is still
// actionable before any research spend happens.
type HuntingAgent struct {
	tools  *services.DatabaseToolService
	logger *zap.Logger
}

// NewHuntingAgent creates a new HuntingAgent.
func NewHuntingAgent(tools *services.DatabaseToolService, logger *zap.Logger) *HuntingAgent {
	return &HuntingAgent{tools: tools, logger: logger}
}

func (a *HuntingAgent) Name() string        { return huntingAgentName }
func (a *HuntingAgent) Stage() models.Stage { return models.StageHunting }

func (a *HuntingAgent) Run(ctx context.Context, rec *models.WorkflowRecord) Outcome {
	res, err := a.tools.ExecuteQuery(ctx,
		"SELECT id, status FROM prospects WHERE id = @id",
		map[string]any{"id": rec.ProspectID},
		services.FetchOne, 10*time.Second)
	if err != nil {
		return a.halt(rec, "lookup_failed", fmt.Sprintf("prospect lookup failed: %v", err))
	}
	if res.Row == nil {
		return a.halt(rec, "prospect_not_found", fmt.Sprintf("prospect %s does not exist", rec.ProspectID))
	}
	if status, _ := res.Row["status"].(string); status == string(models.ProspectStatusArchived) {
		return a.halt(rec, "prospect_archived", fmt.Sprintf("prospect %s is archived", rec.ProspectID))
	}
	return Success(rec)
}

func (a *HuntingAgent) halt(rec *models.WorkflowRecord, errType, message string) Outcome {
	entry := state.AddError(rec, huntingAgentName, errType, message,
		map[string]string{"requires_escalation": "true"}, models.SeverityCritical)
	a.logger.Error("hunting halted",
		zap.String("workflow_id", rec.WorkflowID),
		zap.String("type", errType),
		zap.String("message", message),
	)
	return CriticalFailure(rec, entry)
}
