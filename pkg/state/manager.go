package state

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmad-method/orchestrator/pkg/errs"
	"gopkg.in/yaml.v3"
)

const (
	stateFileName  = "sprint-status.yaml"
	renderFileName = "workflow-status.md"
)

// phaseSubstrings maps a fixed set of currentWorkflow substrings to the
// phase name they indicate, checked in order.
var phaseSubstrings = []struct {
	substr string
	phase  string
}{
	{"product-brief", "Analysis"},
	{"prd", "Planning"},
	{"architecture", "Solutioning"},
	{"dev-story", "Implementation"},
}

// Manager is the State Manager component: a two-file atomic persistence
// layer with an in-memory read-through cache, one entry per project id.
type Manager struct {
	baseDir string

	mu    sync.RWMutex
	cache map[string]*WorkflowState
}

// NewManager creates a Manager rooted at baseDir. State for project p lives
// under <baseDir>/bmad/<p>/.
func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir: baseDir,
		cache:   make(map[string]*WorkflowState),
	}
}

func (m *Manager) projectDir(projectID string) string {
	return filepath.Join(m.baseDir, "bmad", projectID)
}

// validate enforces the State Manager's save-time invariants.
func validate(s *WorkflowState) error {
	if s.Project.ID == "" || s.Project.Name == "" {
		return errs.NewStateManagerError("project.id and project.name must be non-empty")
	}
	switch s.Status {
	case StatusRunning, StatusPaused, StatusCompleted, StatusFailed:
	default:
		return errs.NewStateManagerError(fmt.Sprintf("status must be one of running, paused, completed, failed (got %q)", s.Status))
	}
	if s.CurrentStep < 0 {
		return errs.NewStateManagerError("currentStep must be a non-negative number")
	}
	return nil
}

// SaveState validates, persists both files atomically, and refreshes the
// in-memory cache.
func (m *Manager) SaveState(projectID string, s *WorkflowState) error {
	if err := validate(s); err != nil {
		return err
	}

	dir := m.projectDir(projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.NewFileWriteError(dir, err)
	}

	s.LastUpdate = time.Now().UTC()
	if s.StartTime.IsZero() {
		s.StartTime = s.LastUpdate
	}

	yamlPath := filepath.Join(dir, stateFileName)
	yamlBytes, err := yaml.Marshal(s)
	if err != nil {
		return errs.NewStateManagerError(fmt.Sprintf("failed to marshal state: %v", err))
	}
	if err := atomicWrite(yamlPath, yamlBytes); err != nil {
		return err
	}

	mdPath := filepath.Join(dir, renderFileName)
	if err := atomicWrite(mdPath, []byte(renderMarkdown(s))); err != nil {
		return err
	}

	clone := s.Clone()
	m.mu.Lock()
	m.cache[projectID] = clone
	m.mu.Unlock()

	return nil
}

// LoadState returns the cached state if present; otherwise it reads the
// YAML file from disk, caches, and returns it. A missing or corrupted file
// yields (nil, nil) — the latter after logging the parse error.
func (m *Manager) LoadState(projectID string) (*WorkflowState, error) {
	m.mu.RLock()
	cached, ok := m.cache[projectID]
	m.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	yamlPath := filepath.Join(m.projectDir(projectID), stateFileName)
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.NewFileWriteError(yamlPath, err)
	}

	var s WorkflowState
	if err := yaml.Unmarshal(data, &s); err != nil {
		slog.Error("corrupted workflow state, treating as missing", "project", projectID, "error", err)
		return nil, nil
	}

	m.mu.Lock()
	m.cache[projectID] = s.Clone()
	m.mu.Unlock()

	return &s, nil
}

// ClearCache drops every cached entry; the next LoadState re-reads disk.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]*WorkflowState)
}

// GetProjectPhase classifies currentWorkflow into a coarse phase name.
func (m *Manager) GetProjectPhase(projectID string) (string, error) {
	s, err := m.LoadState(projectID)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "Unknown", nil
	}
	lower := strings.ToLower(s.CurrentWorkflow)
	for _, p := range phaseSubstrings {
		if strings.Contains(lower, p.substr) {
			return p.phase, nil
		}
	}
	return "Unknown", nil
}

// GetStoryStatus returns the variables["story_<id>"] entry augmented with
// the literal storyId, or nil if the state or variable is missing.
func (m *Manager) GetStoryStatus(projectID, storyID string) (map[string]any, error) {
	s, err := m.LoadState(projectID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.Variables == nil {
		return nil, nil
	}
	key := "story_" + strings.ReplaceAll(storyID, ".", "_")
	raw, ok := s.Variables[key]
	if !ok {
		return nil, nil
	}
	status, ok := raw.(map[string]any)
	if !ok {
		status = map[string]any{"value": raw}
	} else {
		cloned := make(map[string]any, len(status)+1)
		for k, v := range status {
			cloned[k] = v
		}
		status = cloned
	}
	status["storyId"] = storyID
	return status, nil
}

// atomicWrite writes data to path via a .tmp sibling then rename, leaving
// no .tmp file behind on success.
func atomicWrite(path string, data []byte) error {
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

// renderMarkdown produces the human-readable rendering of a WorkflowState.
func renderMarkdown(s *WorkflowState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Project: %s\n\n", s.Project.Name)
	fmt.Fprintf(&b, "- ID: %s\n", s.Project.ID)
	fmt.Fprintf(&b, "- Status: %s\n", s.Status)
	fmt.Fprintf(&b, "- Current Workflow: %s\n", s.CurrentWorkflow)
	fmt.Fprintf(&b, "- Current Step: %d\n", s.CurrentStep)
	fmt.Fprintf(&b, "- Start Time: %s\n", s.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Last Update: %s\n\n", s.LastUpdate.Format(time.RFC3339))

	b.WriteString("## Agent Activity\n\n")
	if len(s.AgentActivity) == 0 {
		b.WriteString("_none_\n\n")
	} else {
		for _, a := range s.AgentActivity {
			fmt.Fprintf(&b, "- [%s] %s (%s) — %s, %dms\n",
				a.Timestamp.Format(time.RFC3339), a.AgentName, a.AgentID, a.Status, a.Duration)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Variables\n\n")
	if len(s.Variables) == 0 {
		b.WriteString("_none_\n")
	} else {
		for k, v := range s.Variables {
			fmt.Fprintf(&b, "- %s: %v\n", k, v)
		}
	}

	return b.String()
}
