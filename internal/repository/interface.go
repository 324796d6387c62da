package repository

import (
	"context"

	"outreach-mcp/pkg/models"
)

// Store is the interface for direct domain persistence used by the HTTP API
// and the seeder. Workflow checkpoint writes on the hot path go through the
// database tool service instead.
type Store interface {
	// EnsureSchema creates the schema objects if they do not exist.
	EnsureSchema(ctx context.Context) error

	// ListWorkflows returns the latest checkpointed record per workflow.
	ListWorkflows(ctx context.Context) ([]*models.WorkflowRecord, error)
	// GetWorkflow returns one checkpointed record, or nil when absent.
	GetWorkflow(ctx context.Context, workflowID string) (*models.WorkflowRecord, error)

	// CreateProspect stores a prospect.
	CreateProspect(ctx context.Context, p *models.Prospect) error
	// GetProspect returns a prospect by id, or nil when absent.
	GetProspect(ctx context.Context, id string) (*models.Prospect, error)
	// ListProspects returns prospects for a campaign.
	ListProspects(ctx context.Context, campaignID string) ([]*models.Prospect, error)

	// CreateCampaign stores a campaign.
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	// GetCampaignByName returns a campaign by name, or nil when absent.
	GetCampaignByName(ctx context.Context, name string) (*models.Campaign, error)
}
