package services

import (
	"context"

	"outreach-mcp/pkg/models"
)

// ReasoningClient is the interface for the external reasoning collaborator.
// The engine treats it as a black box; any failure is terminal for the
// calling stage.
type ReasoningClient interface {
	// PlanResearch returns a structured research plan for the prospect.
	PlanResearch(ctx context.Context, rec *models.WorkflowRecord) (*models.ResearchPlan, error)
	// ExecuteStep runs a single research step and returns its result text.
	ExecuteStep(ctx context.Context, rec *models.WorkflowRecord, step models.ResearchStep) (string, error)
	// Synthesize folds completed step results into the enrichment payload.
	Synthesize(ctx context.Context, rec *models.WorkflowRecord, plan *models.ResearchPlan) (*models.EnrichmentData, error)
	// DraftOutreach writes the first outreach message from enrichment data.
	DraftOutreach(ctx context.Context, rec *models.WorkflowRecord) (*models.OutreachDraft, error)
}
