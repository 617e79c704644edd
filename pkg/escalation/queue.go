package escalation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmad-method/orchestrator/pkg/errs"
	"github.com/google/uuid"
)

// Queue is the Escalation Queue component: one JSON file per escalation,
// written atomically to dir, plus a mutex serialising concurrent writers.
type Queue struct {
	dir string
	mu  sync.Mutex
}

// New creates a Queue rooted at dir. The directory is created lazily on
// first write.
func New(dir string) *Queue {
	return &Queue{dir: dir}
}

func (q *Queue) path(id string) string {
	return filepath.Join(q.dir, id+".json")
}

// Partial carries the caller-supplied fields for Add; id, status, and
// createdAt are assigned by the queue.
type Partial struct {
	WorkflowID string
	Step       int
	Question   string
	Reasoning  string
	Confidence float64
	Context    map[string]any
}

// Add assigns an id, marks the record pending, persists it atomically, and
// emits a console notification. Returns the new id.
func (q *Queue) Add(p Partial) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return "", errs.NewFileWriteError(q.dir, err)
	}

	id := "esc-" + uuid.NewString()
	e := &Escalation{
		ID:         id,
		WorkflowID: p.WorkflowID,
		Step:       p.Step,
		Question:   p.Question,
		Reasoning:  p.Reasoning,
		Confidence: p.Confidence,
		Context:    p.Context,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	if err := q.write(e); err != nil {
		return "", err
	}

	slog.Info("escalation raised",
		"id", id, "workflowId", e.WorkflowID, "question", e.Question, "confidence", e.Confidence)

	return id, nil
}

// GetByID reads and returns a single escalation. A missing file returns an
// error.
func (q *Queue) GetByID(id string) (*Escalation, error) {
	return q.read(id)
}

// List enumerates every escalation on disk and applies f.
func (q *Queue) List(f Filter) ([]*Escalation, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.NewFileWriteError(q.dir, err)
	}

	var out []*Escalation
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		e, err := q.read(id)
		if err != nil {
			slog.Warn("skipping unreadable escalation", "id", id, "error", err)
			continue
		}
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Respond resolves a pending escalation with the given free-text response.
// Responding to a non-pending escalation is an error whose message contains
// "not pending".
func (q *Queue) Respond(id, text string) (*Escalation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.read(id)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusPending {
		return nil, errs.NewFatal(fmt.Sprintf("escalation %s is not pending (status=%s)", id, e.Status), nil)
	}

	now := time.Now().UTC()
	resolutionMs := now.Sub(e.CreatedAt).Milliseconds()

	e.Response = &text
	e.Status = StatusResolved
	e.ResolvedAt = &now
	e.ResolutionTime = &resolutionMs

	if err := q.write(e); err != nil {
		return nil, err
	}
	return e, nil
}

// GetMetrics aggregates totals, resolution counts, average resolution time
// over resolved escalations only, and a per-workflow category breakdown.
func (q *Queue) GetMetrics() (Metrics, error) {
	all, err := q.List(Filter{})
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{CategoryBreakdown: make(map[string]int)}
	var totalResolutionMs int64
	for _, e := range all {
		m.Total++
		m.CategoryBreakdown[e.WorkflowID]++
		if e.Status == StatusResolved && e.ResolutionTime != nil {
			m.Resolved++
			totalResolutionMs += *e.ResolutionTime
		}
	}
	if m.Resolved > 0 {
		m.AverageResolutionMs = float64(totalResolutionMs) / float64(m.Resolved)
	}
	return m, nil
}

func (q *Queue) read(id string) (*Escalation, error) {
	data, err := os.ReadFile(q.path(id))
	if err != nil {
		return nil, errs.NewFileWriteError(q.path(id), err)
	}
	var e Escalation
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errs.NewStateManagerError(fmt.Sprintf("corrupted escalation %s: %v", id, err))
	}
	return &e, nil
}

// write persists e atomically: write <id>.json.tmp, rename to <id>.json.
func (q *Queue) write(e *Escalation) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return errs.NewStateManagerError(fmt.Sprintf("failed to marshal escalation: %v", err))
	}
	path := q.path(e.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.NewFileWriteError(path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.NewFileWriteError(path, err)
	}
	return nil
}
