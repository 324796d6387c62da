package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"outreach-mcp/internal/db"
	"outreach-mcp/internal/repository"
	"outreach-mcp/pkg/models"
)

func TestDatabaseToolServiceIntegration(t *testing.T) {
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

	poolCfg := db.PoolConfig{PoolSize: 4, MaxOverflow: 2, RecycleSeconds: 300, AcquireTimeout: 10 * time.Second}
	sessions, err := db.NewSessionFactory(ctx, connStr, poolCfg, zap.NewNop())
	require.NoError(t, err)
	defer sessions.Close()

	require.NoError(t, repository.NewPostgresStore(sessions.Pool()).EnsureSchema(ctx))

	svc := NewDatabaseToolService(sessions, zap.NewNop())

	campaignID := uuid.New().String()
	_, err = svc.ExecuteQuery(ctx,
		"INSERT INTO campaigns (id, name) VALUES (@id, @name)",
		map[string]any{"id": campaignID, "name": "integration"},
		FetchNone, 0)
	require.NoError(t, err)

	newProspect := func(company string) map[string]any {
		return map[string]any{
			"id":          uuid.New().String(),
			"campaign_id": campaignID,
			"company":     company,
			"domain":      company + ".example",
		}
	}

	t.Run("ExecuteQuery fetch modes", func(t *testing.T) {
		for _, company := range []string{"acme", "northwind", "bluefin"} {
			res, err := svc.ExecuteQuery(ctx,
				`INSERT INTO prospects (id, campaign_id, company, domain)
				 VALUES (@id, @campaign_id, @company, @domain)`,
				newProspect(company), FetchNone, 0)
			require.NoError(t, err)
			assert.Equal(t, int64(1), res.RowsAffected)
		}

		all, err := svc.ExecuteQuery(ctx,
			"SELECT company FROM prospects WHERE campaign_id = @cid ORDER BY company",
			map[string]any{"cid": campaignID}, FetchAll, 0)
		require.NoError(t, err)
		require.Len(t, all.Rows, 3)
		assert.Equal(t, "acme", all.Rows[0]["company"])

		one, err := svc.ExecuteQuery(ctx,
			"SELECT company, domain FROM prospects WHERE company = @company",
			map[string]any{"company": "northwind"}, FetchOne, 0)
		require.NoError(t, err)
		require.NotNil(t, one.Row)
		assert.Equal(t, "northwind.example", one.Row["domain"])

		scalar, err := svc.ExecuteQuery(ctx,
			"SELECT count(*) FROM prospects WHERE campaign_id = @cid",
			map[string]any{"cid": campaignID}, FetchScalar, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), scalar.Scalar)
	})

	t.Run("BulkInsert ignores duplicates", func(t *testing.T) {
		records := []map[string]any{
			newProspect("keystone"),
			newProspect("orbital"),
		}
		// Same primary key as the first record.
		dup := newProspect("keystone-dup")
		dup["id"] = records[0]["id"]
		records = append(records, dup)

		res, err := svc.BulkInsert(ctx, "prospects", records, 50, ConflictIgnore)
		require.NoError(t, err)
		assert.Equal(t, 2, res.InsertedCount, "duplicate row is skipped, others commit")
		assert.Empty(t, res.FailedBatches)
	})

	t.Run("BulkInsert update mode upserts", func(t *testing.T) {
		rec := newProspect("walrus")
		_, err := svc.BulkInsert(ctx, "prospects", []map[string]any{rec}, 10, ConflictUpdate)
		require.NoError(t, err)

		rec["company"] = "walrus-renamed"
		_, err = svc.BulkInsert(ctx, "prospects", []map[string]any{rec}, 10, ConflictUpdate)
		require.NoError(t, err)

		got, err := svc.ExecuteQuery(ctx,
			"SELECT company FROM prospects WHERE id = @id",
			map[string]any{"id": rec["id"]}, FetchScalar, 0)
		require.NoError(t, err)
		assert.Equal(t, "walrus-renamed", got.Scalar)
	})

	t.Run("RunTransaction commits atomically", func(t *testing.T) {
		p := newProspect("atomic")
		res, err := svc.RunTransaction(ctx, []TxOperation{
			{
				Query: `INSERT INTO prospects (id, campaign_id, company, domain)
					VALUES (@id, @campaign_id, @company, @domain)`,
				Params: p,
			},
			{
				Query:  "UPDATE prospects SET status = @status WHERE id = @id",
				Params: map[string]any{"status": "active", "id": p["id"]},
			},
		}, "serializable")
		require.NoError(t, err)
		assert.True(t, res.Committed)
		require.Len(t, res.Results, 2)
		assert.True(t, res.Results[1].OK)

		got, err := svc.ExecuteQuery(ctx,
			"SELECT status FROM prospects WHERE id = @id",
			map[string]any{"id": p["id"]}, FetchScalar, 0)
		require.NoError(t, err)
		assert.Equal(t, "active", got.Scalar)
	})

	t.Run("RunTransaction rolls back on failure", func(t *testing.T) {
		p := newProspect("ghost")
		res, err := svc.RunTransaction(ctx, []TxOperation{
			{
				Query: `INSERT INTO prospects (id, campaign_id, company, domain)
					VALUES (@id, @campaign_id, @company, @domain)`,
				Params: p,
			},
			{
				// Violates the foreign key on campaign_id.
				Query: `INSERT INTO prospects (id, campaign_id, company, domain)
					VALUES (@id, @campaign_id, @company, @domain)`,
				Params: map[string]any{
					"id": uuid.New().String(), "campaign_id": uuid.New().String(),
					"company": "bad", "domain": "bad.example",
				},
			},
		}, "")
		require.NoError(t, err)
		assert.False(t, res.Committed)
		require.Len(t, res.Results, 2)
		assert.True(t, res.Results[0].OK)
		assert.False(t, res.Results[1].OK)

		got, err := svc.ExecuteQuery(ctx,
			"SELECT count(*) FROM prospects WHERE id = @id",
			map[string]any{"id": p["id"]}, FetchScalar, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.Scalar, "first insert rolled back with the batch")
	})

	t.Run("HealthCheck", func(t *testing.T) {
		report, err := svc.HealthCheck(ctx, true, true)
		require.NoError(t, err)
		assert.Equal(t, "ok", report.Status)
		assert.Contains(t, report.PoolStats, "total_conns")
		assert.Positive(t, report.QueryCount)
		assert.Contains(t, report.TableCounts, "prospects")
		require.NotNil(t, report.CRUDRoundtripOK)
		assert.True(t, *report.CRUDRoundtripOK)

		// The round-trip cleans up after itself.
		leftover, err := svc.ExecuteQuery(ctx,
			"SELECT count(*) FROM health_probe", nil, FetchScalar, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(0), leftover.Scalar)
	})

	t.Run("Checkpoint round trip", func(t *testing.T) {
		rec := &models.WorkflowRecord{
			WorkflowID:    uuid.New().String(),
			ProspectID:    uuid.New().String(),
			CurrentStage:  models.StageEnriching,
			StartedAt:     time.Now().UTC(),
			LastUpdatedAt: time.Now().UTC(),
		}
		require.NoError(t, svc.CheckpointRecord(ctx, rec))

		// Second checkpoint overwrites the first.
		rec.CurrentStage = models.StageOutreach
		rec.CompletedStages = []models.Stage{models.StageHunting, models.StageEnriching}
		require.NoError(t, svc.CheckpointRecord(ctx, rec))

		got, err := svc.LoadCheckpoint(ctx, rec.WorkflowID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.StageOutreach, got.CurrentStage)
		assert.Equal(t, rec.CompletedStages, got.CompletedStages)

		missing, err := svc.LoadCheckpoint(ctx, uuid.New().String())
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("Session retry treats exhaustion as permanent", func(t *testing.T) {
		attempts := 0
		err := sessions.Retry(ctx, 3, func() error {
			attempts++
			if attempts < 2 {
				return fmt.Errorf("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})

	t.Run("Acquire reports pool exhaustion", func(t *testing.T) {
		tight := db.PoolConfig{
			PoolSize:       1,
			MaxOverflow:    0,
			RecycleSeconds: 300,
			AcquireTimeout: 300 * time.Millisecond,
		}
		small, err := db.NewSessionFactory(ctx, connStr, tight, zap.NewNop())
		require.NoError(t, err)
		defer small.Close()

		held, err := small.Acquire(ctx)
		require.NoError(t, err)
		defer held.Release()

		// The single slot is checked out; a second acquire waits out the
		// configured bound and reports backpressure, not connection trouble.
		_, err = small.Acquire(ctx)
		require.ErrorIs(t, err, db.ErrPoolExhausted)

		attempts := 0
		err = small.Retry(ctx, 5, func() error {
			attempts++
			_, acquireErr := small.Acquire(ctx)
			return acquireErr
		})
		require.ErrorIs(t, err, db.ErrPoolExhausted)
		assert.Equal(t, 1, attempts, "exhaustion is never retried")
	})
}
