package llmclient

import (
	"context"
	"sync"
)

// Mock is a scriptable Client used across the test suite. It is never
// auto-selected by production code; callers construct it explicitly.
type Mock struct {
	mu sync.Mutex

	// Responses are returned in order, one per Invoke call.
	Responses []string
	// Err, if set, is returned by every subsequent Invoke call.
	Err error

	responseIndex int
	callCount     int
	lastPrompt    string
	lastOptions   *Options
	usage         TokenUsage

	// CostPerToken drives EstimateCost; default 0 means free.
	CostPerToken float64
}

// NewMock creates a Mock whose response queue holds the single entry
// "mock response"; once it is used, further calls fail until SetResponses
// configures something else.
func NewMock() *Mock {
	return &Mock{Responses: []string{"mock response"}}
}

// SetResponses replaces the scripted response queue and resets the cursor.
func (m *Mock) SetResponses(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = responses
	m.responseIndex = 0
}

// SetError makes every subsequent Invoke call fail with err.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// CallCount reports how many times Invoke has been called.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastPrompt returns the prompt passed to the most recent Invoke call.
func (m *Mock) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrompt
}

// LastOptions returns the options passed to the most recent Invoke call.
func (m *Mock) LastOptions() *Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOptions
}

// Reset clears call history and error state, leaving Responses untouched.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseIndex = 0
	m.callCount = 0
	m.lastPrompt = ""
	m.lastOptions = nil
	m.Err = nil
	m.usage = TokenUsage{}
}

// Invoke implements Client.
func (m *Mock) Invoke(ctx context.Context, prompt string, opts *Options) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	m.lastPrompt = prompt
	m.lastOptions = opts

	if m.Err != nil {
		return "", m.Err
	}
	if m.responseIndex >= len(m.Responses) {
		return "", errNoMoreResponses
	}

	response := m.Responses[m.responseIndex]
	m.responseIndex++

	inputTokens := len(prompt) / 4
	outputTokens := len(response) / 4
	m.usage.InputTokens += inputTokens
	m.usage.OutputTokens += outputTokens
	m.usage.TotalTokens += inputTokens + outputTokens

	return response, nil
}

// EstimateCost implements Client using CostPerToken * usage.TotalTokens.
func (m *Mock) EstimateCost(usage TokenUsage) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CostPerToken * float64(usage.TotalTokens)
}

// GetTokenUsage implements Client.
func (m *Mock) GetTokenUsage() TokenUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

var errNoMoreResponses = mockErr("no more mock responses")

type mockErr string

func (e mockErr) Error() string { return string(e) }
