// Package decision implements the Decision Engine: confidence-scored
// answers to ambiguous workflow questions, preferring onboarding-document
// evidence over LLM reasoning, with a fixed escalation threshold.
package decision

import (
	"strings"
	"time"
)

// Source identifies which strategy produced a Decision.
type Source string

const (
	SourceOnboarding Source = "onboarding"
	SourceLLM        Source = "llm"
)

// EscalationThreshold is the fixed confidence cutoff below which a
// Decision's reasoning carries the escalation sentinel.
const EscalationThreshold = 0.75

// EscalationSentinelPrefix begins the reasoning suffix appended when a
// Decision falls below EscalationThreshold.
const EscalationSentinelPrefix = "\n[ESCALATION REQUIRED: confidence"

// Decision is the Decision Engine's output: an answer, its confidence, and
// the reasoning behind it.
type Decision struct {
	Question   string         `json:"question"`
	Value      string         `json:"decision"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	Source     Source         `json:"source"`
	Timestamp  time.Time      `json:"timestamp"`
	Context    map[string]any `json:"context,omitempty"`
}

// Escalated reports whether this Decision's reasoning carries the
// escalation sentinel.
func (d *Decision) Escalated() bool {
	return strings.Contains(d.Reasoning, EscalationSentinelPrefix)
}
