package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-mcp/pkg/models"
)

func newRecord() *models.WorkflowRecord {
	now := time.Now().UTC()
	return &models.WorkflowRecord{
		WorkflowID:    "wf-1",
		ProspectID:    "p-1",
		CurrentStage:  models.StageHunting,
		StartedAt:     now,
		LastUpdatedAt: now,
	}
}

func TestUpdateStageForwardOnly(t *testing.T) {
	rec := newRecord()

	require.NoError(t, UpdateStage(rec, models.StageEnriching))
	assert.Equal(t, models.StageEnriching, rec.CurrentStage)
	assert.Equal(t, []models.Stage{models.StageHunting}, rec.CompletedStages)

	// Skipping ahead and moving backward are both invalid.
	assert.ErrorIs(t, UpdateStage(rec, models.StageClosing), ErrInvalidTransition)
	assert.ErrorIs(t, UpdateStage(rec, models.StageHunting), ErrInvalidTransition)
	assert.Equal(t, models.StageEnriching, rec.CurrentStage, "failed transition must not mutate")
}

func TestUpdateStageNeverProducesUnknownStage(t *testing.T) {
	rec := newRecord()
	assert.ErrorIs(t, UpdateStage(rec, models.Stage("negotiating")), ErrInvalidTransition)
	assert.Equal(t, models.StageHunting, rec.CurrentStage)
}

func TestUpdateStageCompletedStagesAppendOnce(t *testing.T) {
	rec := newRecord()
	require.NoError(t, UpdateStage(rec, models.StageEnriching))
	require.NoError(t, UpdateStage(rec, models.StageOutreach))
	require.NoError(t, UpdateStage(rec, models.StageAwaitingReply))

	assert.Equal(t,
		[]models.Stage{models.StageHunting, models.StageEnriching, models.StageOutreach},
		rec.CompletedStages)
}

func TestUpdateStageBlockedByIntervention(t *testing.T) {
	rec := newRecord()
	AddError(rec, "enrichment", "reasoning_unavailable", "down", nil, models.SeverityCritical)

	assert.ErrorIs(t, UpdateStage(rec, models.StageEnriching), ErrIntervention)
}

func TestAddErrorAppendOnly(t *testing.T) {
	rec := newRecord()

	AddError(rec, "enrichment", "step_failed", "step 1 failed", nil, models.SeverityRecoverable)
	first := rec.Errors[0]
	AddError(rec, "outreach", "empty_draft", "no draft", map[string]string{"attempt": "2"}, models.SeverityRecoverable)

	require.Len(t, rec.Errors, 2)
	assert.Equal(t, first, rec.Errors[0], "prior entries are immutable")
	assert.Equal(t, "recoverable", rec.Errors[1].Details["severity"])
	assert.False(t, rec.HumanInterventionNeeded)
}

func TestAddErrorCriticalSetsInterventionMonotonically(t *testing.T) {
	rec := newRecord()

	AddError(rec, "enrichment", "reasoning_unavailable", "down", nil, models.SeverityCritical)
	assert.True(t, rec.HumanInterventionNeeded)

	// A later recoverable entry never resets the flag.
	AddError(rec, "enrichment", "note", "retry planned", nil, models.SeverityRecoverable)
	assert.True(t, rec.HumanInterventionNeeded)
	assert.Len(t, rec.Errors, 2)
}

func TestEscalateIsIdempotent(t *testing.T) {
	rec := newRecord()
	Escalate(rec)
	assert.Equal(t, models.StageEscalated, rec.CurrentStage)
	stamp := rec.LastUpdatedAt
	Escalate(rec)
	assert.Equal(t, stamp, rec.LastUpdatedAt)
}

func TestClearIntervention(t *testing.T) {
	rec := newRecord()
	AddError(rec, "enrichment", "reasoning_unavailable", "down", nil, models.SeverityCritical)
	Escalate(rec)

	require.NoError(t, ClearIntervention(rec, models.StageEnriching))
	assert.False(t, rec.HumanInterventionNeeded)
	assert.Equal(t, models.StageEnriching, rec.CurrentStage)

	assert.Error(t, ClearIntervention(rec, models.StageEscalated))
	assert.Error(t, ClearIntervention(rec, models.Stage("bogus")))
}

func TestNextStageAndTerminal(t *testing.T) {
	assert.Equal(t, models.StageEnriching, NextStage(models.StageHunting))
	assert.Equal(t, models.Stage(""), NextStage(models.StageDone))
	assert.True(t, Terminal(models.StageDone))
	assert.True(t, Terminal(models.StageEscalated))
	assert.False(t, Terminal(models.StageOutreach))
}
