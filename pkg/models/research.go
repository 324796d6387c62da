package models

import "time"

// StepType enumerates the kinds of work a research step can perform.
type StepType string

const (
	StepTypeWebSearch      StepType = "web_search"
	StepTypeCompanyProfile StepType = "company_profile"
	StepTypeNewsScan       StepType = "news_scan"
	StepTypeTechStack      StepType = "tech_stack"
	StepTypeContactLookup  StepType = "contact_lookup"
)

// StepStatus tracks the lifecycle of a research step. Steps only move
// forward: pending -> running -> done or failed.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
)

// ResearchStep is one unit of a ResearchPlan. Result is set at most once,
// when the step completes.
type ResearchStep struct {
	StepID      string     `json:"step_id"`
	StepType    StepType   `json:"step_type"`
	Description string     `json:"description"`
	Reasoning   string     `json:"reasoning"`
	Status      StepStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
}

// ResearchPlan is an ordered sequence of steps produced by the reasoning
// collaborator for one enrichment run. Steps execute strictly in order.
type ResearchPlan struct {
	PlanID    string         `json:"plan_id"`
	Objective string         `json:"objective"`
	Steps     []ResearchStep `json:"steps"`
	CreatedAt time.Time      `json:"created_at"`
}

// ValidStepType reports whether t is a known step type.
func ValidStepType(t StepType) bool {
	switch t {
	case StepTypeWebSearch, StepTypeCompanyProfile, StepTypeNewsScan,
		StepTypeTechStack, StepTypeContactLookup:
		return true
	}
	return false
}
