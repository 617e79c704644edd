package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockInvokeReturnsScriptedResponses(t *testing.T) {
	m := NewMock()
	m.SetResponses("first", "second")

	resp, err := m.Invoke(context.Background(), "prompt one", nil)
	require.NoError(t, err)
	assert.Equal(t, "first", resp)

	resp, err = m.Invoke(context.Background(), "prompt two", &Options{Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "second", resp)

	assert.Equal(t, 2, m.CallCount())
	assert.Equal(t, "prompt two", m.LastPrompt())
	assert.Equal(t, 0.2, m.LastOptions().Temperature)
}

func TestMockInvokeExhaustsResponses(t *testing.T) {
	m := NewMock()
	m.SetResponses("only")
	_, err := m.Invoke(context.Background(), "p", nil)
	require.NoError(t, err)

	_, err = m.Invoke(context.Background(), "p", nil)
	require.Error(t, err)
}

func TestMockInvokeReturnsConfiguredError(t *testing.T) {
	m := NewMock()
	wantErr := errors.New("rate limited")
	m.SetError(wantErr)

	_, err := m.Invoke(context.Background(), "p", nil)
	assert.Equal(t, wantErr, err)
}

func TestMockInvokeHonorsCancellation(t *testing.T) {
	m := NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Invoke(ctx, "p", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockTokenUsageAccumulates(t *testing.T) {
	m := NewMock()
	m.SetResponses("a response of some length", "another one")

	_, err := m.Invoke(context.Background(), "a prompt of some length", nil)
	require.NoError(t, err)
	_, err = m.Invoke(context.Background(), "another prompt", nil)
	require.NoError(t, err)

	usage := m.GetTokenUsage()
	assert.Greater(t, usage.TotalTokens, 0)
	assert.Equal(t, usage.InputTokens+usage.OutputTokens, usage.TotalTokens)
}

func TestMockEstimateCost(t *testing.T) {
	m := NewMock()
	m.CostPerToken = 0.01
	cost := m.EstimateCost(TokenUsage{TotalTokens: 100})
	assert.Equal(t, 1.0, cost)
}

func TestMockReset(t *testing.T) {
	m := NewMock()
	m.SetError(errors.New("boom"))
	_, _ = m.Invoke(context.Background(), "p", nil)
	m.Reset()

	assert.Equal(t, 0, m.CallCount())
	assert.Equal(t, "", m.LastPrompt())
	assert.Nil(t, m.Err)
}

var _ Client = (*Mock)(nil)
