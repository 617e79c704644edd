package escalation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAssignsIDAndPersists(t *testing.T) {
	q := New(t.TempDir())
	id, err := q.Add(Partial{WorkflowID: "wf-1", Step: 3, Question: "deploy to prod?", Confidence: 0.4})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "esc-"))

	e, err := q.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, "wf-1", e.WorkflowID)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestAddLeavesNoTmpFile(t *testing.T) {
	dir := t.TempDir()
	q := New(dir)
	_, err := q.Add(Partial{WorkflowID: "wf-1", Question: "q"})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestGetByIDMissingIsError(t *testing.T) {
	q := New(t.TempDir())
	_, err := q.GetByID("esc-does-not-exist")
	assert.Error(t, err)
}

func TestRespondResolvesPending(t *testing.T) {
	q := New(t.TempDir())
	id, err := q.Add(Partial{WorkflowID: "wf-1", Question: "q"})
	require.NoError(t, err)

	resolved, err := q.Respond(id, "go ahead")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.Response)
	assert.Equal(t, "go ahead", *resolved.Response)
	require.NotNil(t, resolved.ResolvedAt)
	require.NotNil(t, resolved.ResolutionTime)
	assert.GreaterOrEqual(t, *resolved.ResolutionTime, int64(0))
}

func TestRespondRejectsAlreadyResolved(t *testing.T) {
	q := New(t.TempDir())
	id, err := q.Add(Partial{WorkflowID: "wf-1", Question: "q"})
	require.NoError(t, err)
	_, err = q.Respond(id, "first response")
	require.NoError(t, err)

	_, err = q.Respond(id, "second response")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not pending")
}

func TestListFiltersByStatusAndWorkflow(t *testing.T) {
	q := New(t.TempDir())
	id1, err := q.Add(Partial{WorkflowID: "wf-1", Question: "q1"})
	require.NoError(t, err)
	_, err = q.Add(Partial{WorkflowID: "wf-2", Question: "q2"})
	require.NoError(t, err)
	_, err = q.Respond(id1, "resp")
	require.NoError(t, err)

	pending, err := q.List(Filter{Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	wf2, err := q.List(Filter{WorkflowID: "wf-2"})
	require.NoError(t, err)
	assert.Len(t, wf2, 1)
	assert.Equal(t, "wf-2", wf2[0].WorkflowID)
}

func TestGetMetrics(t *testing.T) {
	q := New(t.TempDir())
	id1, err := q.Add(Partial{WorkflowID: "wf-1", Question: "q1"})
	require.NoError(t, err)
	_, err = q.Add(Partial{WorkflowID: "wf-1", Question: "q2"})
	require.NoError(t, err)
	_, err = q.Respond(id1, "resp")
	require.NoError(t, err)

	metrics, err := q.GetMetrics()
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.Total)
	assert.Equal(t, 1, metrics.Resolved)
	assert.GreaterOrEqual(t, metrics.AverageResolutionMs, 0.0)
	assert.Equal(t, 2, metrics.CategoryBreakdown["wf-1"])
}

func TestGetMetricsEmptyQueue(t *testing.T) {
	q := New(t.TempDir())
	metrics, err := q.GetMetrics()
	require.NoError(t, err)
	assert.Equal(t, 0, metrics.Total)
	assert.Equal(t, 0.0, metrics.AverageResolutionMs)
}

func TestListOnMissingDirectoryIsEmptyNotError(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "nonexistent"))
	list, err := q.List(Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
