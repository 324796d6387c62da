package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreach-mcp/pkg/models"
)

// PostgresStore is the PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS campaigns (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS prospects (
	id UUID PRIMARY KEY,
	campaign_id UUID NOT NULL REFERENCES campaigns(id),
	company TEXT NOT NULL,
	domain TEXT NOT NULL,
	contact TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'new',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS workflow_checkpoints (
	workflow_id UUID PRIMARY KEY,
	prospect_id UUID NOT NULL,
	current_stage TEXT NOT NULL,
	record JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS workflow_errors (
	id BIGSERIAL PRIMARY KEY,
	workflow_id UUID NOT NULL,
	agent TEXT NOT NULL,
	error_type TEXT NOT NULL,
	message TEXT NOT NULL,
	severity TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS research_results (
	id BIGSERIAL PRIMARY KEY,
	workflow_id UUID NOT NULL,
	step_id TEXT NOT NULL,
	step_type TEXT NOT NULL,
	result TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS outreach_messages (
	id BIGSERIAL PRIMARY KEY,
	workflow_id UUID NOT NULL,
	subject TEXT NOT NULL,
	body TEXT NOT NULL,
	channel TEXT NOT NULL DEFAULT 'email',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS health_probe (
	id BIGSERIAL PRIMARY KEY,
	marker TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the schema objects if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

// ListWorkflows returns the latest checkpointed record per workflow.
func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]*models.WorkflowRecord, error) {
	rows, err := s.db.Query(ctx, "SELECT record FROM workflow_checkpoints ORDER BY updated_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.WorkflowRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec models.WorkflowRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode workflow record: %w", err)
		}
		workflows = append(workflows, &rec)
	}
	return workflows, rows.Err()
}

// GetWorkflow returns one checkpointed record, or nil when absent.
func (s *PostgresStore) GetWorkflow(ctx context.Context, workflowID string) (*models.WorkflowRecord, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		"SELECT record FROM workflow_checkpoints WHERE workflow_id = $1", workflowID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec models.WorkflowRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode workflow record: %w", err)
	}
	return &rec, nil
}

// CreateProspect stores a prospect.
func (s *PostgresStore) CreateProspect(ctx context.Context, p *models.Prospect) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO prospects (id, campaign_id, company, domain, contact, email, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.CampaignID, p.Company, p.Domain, p.Contact, p.Email, p.Status)
	return err
}

// GetProspect returns a prospect by id, or nil when absent.
func (s *PostgresStore) GetProspect(ctx context.Context, id string) (*models.Prospect, error) {
	var p models.Prospect
	err := s.db.QueryRow(ctx,
		`SELECT id, campaign_id, company, domain, contact, email, status, created_at, updated_at
		 FROM prospects WHERE id = $1`, id).
		Scan(&p.ID, &p.CampaignID, &p.Company, &p.Domain, &p.Contact, &p.Email, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProspects returns prospects for a campaign.
func (s *PostgresStore) ListProspects(ctx context.Context, campaignID string) ([]*models.Prospect, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, campaign_id, company, domain, contact, email, status, created_at, updated_at
		 FROM prospects WHERE campaign_id = $1 ORDER BY created_at`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prospects []*models.Prospect
	for rows.Next() {
		var p models.Prospect
		if err := rows.Scan(&p.ID, &p.CampaignID, &p.Company, &p.Domain, &p.Contact, &p.Email, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		prospects = append(prospects, &p)
	}
	return prospects, rows.Err()
}

// CreateCampaign stores a campaign.
func (s *PostgresStore) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO campaigns (id, name, description, status) VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.Description, c.Status)
	return err
}

// GetCampaignByName returns a campaign by name, or nil when absent.
func (s *PostgresStore) GetCampaignByName(ctx context.Context, name string) (*models.Campaign, error) {
	var c models.Campaign
	err := s.db.QueryRow(ctx,
		`SELECT id, name, description, status, created_at, updated_at FROM campaigns WHERE name = $1`, name).
		Scan(&c.ID, &c.Name, &c.Description, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
