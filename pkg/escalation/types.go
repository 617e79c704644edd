// Package escalation implements the durable human-in-the-loop queue: one
// JSON file per unresolved question, written atomically.
package escalation

import "time"

// Status is the lifecycle status of an Escalation record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Escalation is a durable record of a question whose Decision Engine
// answer fell below the confidence threshold, awaiting a human response.
type Escalation struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflowId"`
	Step           int            `json:"step"`
	Question       string         `json:"question"`
	Reasoning      string         `json:"reasoning"`
	Confidence     float64        `json:"confidence"`
	Context        map[string]any `json:"context,omitempty"`
	Status         Status         `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	Response       *string        `json:"response,omitempty"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty"`
	ResolutionTime *int64         `json:"resolutionTime,omitempty"` // ms
}

// Filter narrows List to matching records. Zero values mean "no filter on
// this field".
type Filter struct {
	Status     Status
	WorkflowID string
}

func (f Filter) matches(e *Escalation) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.WorkflowID != "" && e.WorkflowID != f.WorkflowID {
		return false
	}
	return true
}

// Metrics summarizes the queue for dashboards and health checks.
type Metrics struct {
	Total               int            `json:"total"`
	Resolved            int            `json:"resolved"`
	AverageResolutionMs float64        `json:"averageResolutionMs"`
	CategoryBreakdown   map[string]int `json:"categoryBreakdown"`
}
