package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-mcp/pkg/models"
)

func TestHTTPReasoningClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plan":
			json.NewEncoder(w).Encode(models.ResearchPlan{
				PlanID: "plan-1",
				Steps:  []models.ResearchStep{{StepID: "s1", StepType: models.StepTypeWebSearch}},
			})
		case "/step":
			json.NewEncoder(w).Encode(map[string]string{"result": "found the CTO"})
		case "/synthesize":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewHTTPReasoningClient(srv.URL)
	ctx := context.Background()
	rec := &models.WorkflowRecord{WorkflowID: "wf-1", ProspectID: "p-1"}

	plan, err := client.PlanResearch(ctx, rec)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "s1", plan.Steps[0].StepID)

	result, err := client.ExecuteStep(ctx, rec, plan.Steps[0])
	require.NoError(t, err)
	assert.Equal(t, "found the CTO", result)

	// Non-200 responses surface as errors; there is no degraded fallback.
	_, err = client.Synthesize(ctx, rec, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code 502")
}
