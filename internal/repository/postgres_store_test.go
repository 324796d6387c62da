package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"outreach-mcp/pkg/models"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	return payload
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))

	campaign := &models.Campaign{
		ID:          uuid.New().String(),
		Name:        "Q3 Platform Outreach",
		Description: "pipeline test campaign",
		Status:      "active",
	}
	require.NoError(t, store.CreateCampaign(ctx, campaign))

	t.Run("GetCampaignByName", func(t *testing.T) {
		got, err := store.GetCampaignByName(ctx, campaign.Name)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, campaign.ID, got.ID)
		assert.Equal(t, campaign.Description, got.Description)

		missing, err := store.GetCampaignByName(ctx, "no such campaign")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("Prospect round trip", func(t *testing.T) {
		prospect := &models.Prospect{
			ID:         uuid.New().String(),
			CampaignID: campaign.ID,
			Company:    "Acme Robotics",
			Domain:     "acme-robotics.example",
			Contact:    "Sam Ortega",
			Email:      "sam@acme-robotics.example",
			Status:     models.ProspectStatusNew,
		}
		require.NoError(t, store.CreateProspect(ctx, prospect))

		got, err := store.GetProspect(ctx, prospect.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, prospect.Company, got.Company)
		assert.Equal(t, prospect.Status, got.Status)
		assert.False(t, got.CreatedAt.IsZero())

		listed, err := store.ListProspects(ctx, campaign.ID)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, prospect.ID, listed[0].ID)
	})

	t.Run("GetProspect missing", func(t *testing.T) {
		got, err := store.GetProspect(ctx, uuid.New().String())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Workflow checkpoints", func(t *testing.T) {
		rec := &models.WorkflowRecord{
			WorkflowID:    uuid.New().String(),
			ProspectID:    uuid.New().String(),
			CurrentStage:  models.StageEnriching,
			StartedAt:     time.Now().UTC(),
			LastUpdatedAt: time.Now().UTC(),
		}
		payload := mustJSON(t, rec)
		_, err := pool.Exec(ctx,
			`INSERT INTO workflow_checkpoints (workflow_id, prospect_id, current_stage, record)
			 VALUES ($1, $2, $3, $4)`,
			rec.WorkflowID, rec.ProspectID, string(rec.CurrentStage), payload)
		require.NoError(t, err)

		got, err := store.GetWorkflow(ctx, rec.WorkflowID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, rec.WorkflowID, got.WorkflowID)
		assert.Equal(t, models.StageEnriching, got.CurrentStage)

		all, err := store.ListWorkflows(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		missing, err := store.GetWorkflow(ctx, uuid.New().String())
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}
