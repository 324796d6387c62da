package models

import "time"

// ProspectStatus represents the lifecycle status of a prospect.
type ProspectStatus string

const (
	ProspectStatusNew       ProspectStatus = "new"
	ProspectStatusActive    ProspectStatus = "active"
	ProspectStatusConverted ProspectStatus = "converted"
	ProspectStatusArchived  ProspectStatus = "archived"
)

// Prospect is the subject entity a workflow advances through the pipeline.
type Prospect struct {
	ID         string         `json:"id"`
	CampaignID string         `json:"campaign_id"`
	Company    string         `json:"company"`
	Domain     string         `json:"domain"`
	Contact    string         `json:"contact,omitempty"`
	Email      string         `json:"email,omitempty"`
	Status     ProspectStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Campaign groups prospects under one outreach effort.
type Campaign struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
