package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"outreach-mcp/internal/agents"
	"outreach-mcp/internal/broadcast"
	"outreach-mcp/internal/orchestrator"
	"outreach-mcp/internal/state"
	"outreach-mcp/pkg/models"
)

// fakeStore is an in-memory repository.Store for handler tests.
type fakeStore struct {
	prospects map[string]*models.Prospect
	workflows map[string]*models.WorkflowRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		prospects: map[string]*models.Prospect{},
		workflows: map[string]*models.WorkflowRecord{},
	}
}

func (s *fakeStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *fakeStore) ListWorkflows(ctx context.Context) ([]*models.WorkflowRecord, error) {
	var out []*models.WorkflowRecord
	for _, w := range s.workflows {
		out = append(out, w)
	}
	return out, nil
}

func (s *fakeStore) GetWorkflow(ctx context.Context, id string) (*models.WorkflowRecord, error) {
	return s.workflows[id], nil
}

func (s *fakeStore) CreateProspect(ctx context.Context, p *models.Prospect) error {
	s.prospects[p.ID] = p
	return nil
}

func (s *fakeStore) GetProspect(ctx context.Context, id string) (*models.Prospect, error) {
	return s.prospects[id], nil
}

func (s *fakeStore) ListProspects(ctx context.Context, campaignID string) ([]*models.Prospect, error) {
	var out []*models.Prospect
	for _, p := range s.prospects {
		if p.CampaignID == campaignID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateCampaign(ctx context.Context, c *models.Campaign) error { return nil }

func (s *fakeStore) GetCampaignByName(ctx context.Context, name string) (*models.Campaign, error) {
	return nil, nil
}

// memCheckpointer keeps checkpoints in memory for orchestrator wiring.
type memCheckpointer struct {
	mu    sync.Mutex
	saved map[string]*models.WorkflowRecord
}

func newMemCheckpointer() *memCheckpointer {
	return &memCheckpointer{saved: map[string]*models.WorkflowRecord{}}
}

func (m *memCheckpointer) CheckpointRecord(ctx context.Context, rec *models.WorkflowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *rec
	m.saved[rec.WorkflowID] = &clone
	return nil
}

func (m *memCheckpointer) LoadCheckpoint(ctx context.Context, workflowID string) (*models.WorkflowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.saved[workflowID]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

type failingHunter struct{}

func (failingHunter) Name() string        { return "hunting" }
func (failingHunter) Stage() models.Stage { return models.StageHunting }
func (failingHunter) Run(ctx context.Context, rec *models.WorkflowRecord) agents.Outcome {
	entry := state.AddError(rec, "hunting", "prospect_not_found", "no such prospect",
		map[string]string{"requires_escalation": "true"}, models.SeverityCritical)
	return agents.CriticalFailure(rec, entry)
}

func passthrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

func deny(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "missing scope: outreach:operate")
	}
}

func newTestServer(t *testing.T, store *fakeStore, operate echo.MiddlewareFunc, stageAgents ...agents.Agent) (*echo.Echo, *orchestrator.Orchestrator) {
	t.Helper()
	orch := orchestrator.New(newMemCheckpointer(), broadcast.Noop{}, zap.NewNop(), stageAgents...)
	e := echo.New()
	NewServer(store, orch).RegisterHandlers(e.Group("/api/v1"), operate)
	return e, orch
}

func TestListWorkflows(t *testing.T) {
	store := newFakeStore()
	store.workflows["wf-1"] = &models.WorkflowRecord{WorkflowID: "wf-1", CurrentStage: models.StageOutreach}
	e, _ := newTestServer(t, store, passthrough)

	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var got []models.WorkflowRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "wf-1", got[0].WorkflowID)
}

func TestGetWorkflowNotFound(t *testing.T) {
	e, _ := newTestServer(t, newFakeStore(), passthrough)

	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/workflows/missing", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStartWorkflowValidation(t *testing.T) {
	e, _ := newTestServer(t, newFakeStore(), passthrough)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/workflows",
		strings.NewReader(`{"prospect_id":"nobody"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStartWorkflowCreatesRun(t *testing.T) {
	store := newFakeStore()
	store.prospects["p-1"] = &models.Prospect{ID: "p-1", Company: "Acme"}
	// No agents registered: the run pauses immediately at hunting.
	e, _ := newTestServer(t, store, passthrough)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows",
		strings.NewReader(`{"prospect_id":"p-1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	var rec models.WorkflowRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "p-1", rec.ProspectID)
	assert.Equal(t, models.StageHunting, rec.CurrentStage)
	assert.NotEmpty(t, rec.WorkflowID)
}

func TestResumeWorkflowStatusMapping(t *testing.T) {
	store := newFakeStore()
	store.prospects["p-1"] = &models.Prospect{ID: "p-1"}
	e, orch := newTestServer(t, store, passthrough, failingHunter{})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/missing/resume",
		strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Escalate a workflow, then resume it at an explicit stage.
	rec, err := orch.StartWorkflow(context.Background(), "p-1")
	require.NoError(t, err)
	require.Equal(t, models.StageEscalated, rec.CurrentStage)

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/workflows/"+rec.WorkflowID+"/resume",
		strings.NewReader(`{"stage":"enriching"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resumed models.WorkflowRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resumed))
	assert.Equal(t, models.StageEnriching, resumed.CurrentStage)
	assert.False(t, resumed.HumanInterventionNeeded)

	// A second resume hits a workflow that is no longer escalated.
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/workflows/"+rec.WorkflowID+"/resume",
		strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestResumeRouteRequiresOperateScope(t *testing.T) {
	e, _ := newTestServer(t, newFakeStore(), deny)

	// Read routes are unaffected by the operate middleware.
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/wf-1/resume",
		strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
