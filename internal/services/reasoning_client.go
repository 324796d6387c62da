package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"outreach-mcp/pkg/models"
)

// HTTPReasoningClient is an HTTP implementation of the ReasoningClient
// interface, talking to the reasoning sidecar.
type HTTPReasoningClient struct {
	url    string
	client *http.Client
}

// NewHTTPReasoningClient creates a new HTTPReasoningClient.
func NewHTTPReasoningClient(url string) *HTTPReasoningClient {
	return &HTTPReasoningClient{url: url, client: http.DefaultClient}
}

// PlanResearch requests a structured research plan for the prospect.
func (c *HTTPReasoningClient) PlanResearch(ctx context.Context, rec *models.WorkflowRecord) (*models.ResearchPlan, error) {
	var plan models.ResearchPlan
	payload := map[string]any{
		"workflow_id": rec.WorkflowID,
		"prospect_id": rec.ProspectID,
	}
	if err := c.post(ctx, "/plan", payload, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ExecuteStep runs a single research step.
func (c *HTTPReasoningClient) ExecuteStep(ctx context.Context, rec *models.WorkflowRecord, step models.ResearchStep) (string, error) {
	payload := map[string]any{
		"workflow_id": rec.WorkflowID,
		"prospect_id": rec.ProspectID,
		"step":        step,
	}
	var out struct {
		Result string `json:"result"`
	}
	if err := c.post(ctx, "/step", payload, &out); err != nil {
		return "", err
	}
	return out.Result, nil
}

// Synthesize folds completed step results into the enrichment payload.
func (c *HTTPReasoningClient) Synthesize(ctx context.Context, rec *models.WorkflowRecord, plan *models.ResearchPlan) (*models.EnrichmentData, error) {
	payload := map[string]any{
		"workflow_id": rec.WorkflowID,
		"prospect_id": rec.ProspectID,
		"plan":        plan,
	}
	var data models.EnrichmentData
	if err := c.post(ctx, "/synthesize", payload, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DraftOutreach writes the first outreach message from enrichment data.
func (c *HTTPReasoningClient) DraftOutreach(ctx context.Context, rec *models.WorkflowRecord) (*models.OutreachDraft, error) {
	payload := map[string]any{
		"workflow_id": rec.WorkflowID,
		"prospect_id": rec.ProspectID,
		"enrichment":  rec.EnrichmentData,
	}
	var draft models.OutreachDraft
	if err := c.post(ctx, "/outreach", payload, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

func (c *HTTPReasoningClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call reasoning service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reasoning service %s: status code %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
