// Package agentpool implements the Agent Pool: a bounded-concurrency
// lifecycle manager for LLM-backed agents, with cost accounting and
// fire-and-forget lifecycle events.
package agentpool

import (
	"time"

	"github.com/bmad-method/orchestrator/pkg/llmclient"
)

// AgentContext is the immutable snapshot handed to an agent at creation.
type AgentContext struct {
	OnboardingDocs []string
	StateExcerpt   map[string]any
	Task           string
}

// Agent is a running instance owned exclusively by the Pool.
type Agent struct {
	ID            string
	Name          string
	Persona       string
	Client        llmclient.Client
	Context       AgentContext
	StartTime     time.Time
	EstimatedCost float64
}

// EventType is a lifecycle event name emitted by the pool.
type EventType string

const (
	EventStarted   EventType = "agent.started"
	EventInvoked   EventType = "agent.invoked"
	EventError     EventType = "agent.error"
	EventCompleted EventType = "agent.completed"
)

// Event is the payload delivered to observers.
type Event struct {
	Type      EventType
	AgentID   string
	AgentName string
	Timestamp time.Time
	Data      map[string]any
}

// Observer receives fire-and-forget lifecycle notifications. A failing
// Observer must not affect pool state.
type Observer func(Event)

// Filter narrows GetActiveAgents results.
type Filter struct {
	Name            string
	StartedAfter    time.Time
	hasStartedAfter bool
}

// WithStartedAfter returns a Filter requiring StartTime > t.
func (f Filter) WithStartedAfter(t time.Time) Filter {
	f.StartedAfter = t
	f.hasStartedAfter = true
	return f
}

// Factory creates an LLM client for a named agent role. Provider, model,
// and auth are opaque to the pool.
type Factory func(agentName string) (llmclient.Client, error)

// PendingRequest describes a createAgent call still waiting for a slot when
// Shutdown drains the queue.
type PendingRequest struct {
	Name     string
	Context  AgentContext
	QueuedAt time.Time
}
