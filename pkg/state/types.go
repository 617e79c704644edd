// Package state implements the two-file durable workflow state store:
// a canonical YAML file plus a human-readable Markdown rendering, backed
// by an in-memory read-through cache.
package state

import "time"

// Status is the lifecycle status of a WorkflowState.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Project identifies the owning project of a WorkflowState.
type Project struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Level string `yaml:"level,omitempty" json:"level,omitempty"`
}

// ActivityStatus is the lifecycle status of an AgentActivity record.
type ActivityStatus string

const (
	ActivityStarted   ActivityStatus = "started"
	ActivityCompleted ActivityStatus = "completed"
	ActivityFailed    ActivityStatus = "failed"
)

// AgentActivity is an append-only record of one agent invocation.
type AgentActivity struct {
	AgentID   string         `yaml:"agentId" json:"agentId"`
	AgentName string         `yaml:"agentName" json:"agentName"`
	Action    string         `yaml:"action" json:"action"`
	Timestamp time.Time      `yaml:"timestamp" json:"timestamp"`
	Status    ActivityStatus `yaml:"status" json:"status"`
	Duration  int64          `yaml:"duration" json:"duration"` // ms
}

// WorkflowState is the checkpointable execution state of a workflow run,
// keyed by Project.ID. It is mutated only by the Workflow Engine through
// the Manager; callers see read-only snapshots.
type WorkflowState struct {
	Project         Project         `yaml:"project" json:"project"`
	CurrentWorkflow string          `yaml:"currentWorkflow" json:"currentWorkflow"`
	CurrentStep     int             `yaml:"currentStep" json:"currentStep"`
	Status          Status          `yaml:"status" json:"status"`
	Variables       map[string]any  `yaml:"variables,omitempty" json:"variables,omitempty"`
	AgentActivity   []AgentActivity `yaml:"agentActivity,omitempty" json:"agentActivity,omitempty"`
	StartTime       time.Time       `yaml:"startTime" json:"startTime"`
	LastUpdate      time.Time       `yaml:"lastUpdate" json:"lastUpdate"`
}

// Clone returns a deep-enough copy safe for callers to mutate without
// affecting the Manager's cached entry.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Variables != nil {
		clone.Variables = make(map[string]any, len(s.Variables))
		for k, v := range s.Variables {
			clone.Variables[k] = v
		}
	}
	if s.AgentActivity != nil {
		clone.AgentActivity = make([]AgentActivity, len(s.AgentActivity))
		copy(clone.AgentActivity, s.AgentActivity)
	}
	return &clone
}
