package worktree

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmad-method/orchestrator/pkg/errs"
)

// Manager is the Worktree Manager component: isolated per-story git
// worktrees under <projectRoot>/wt/, with a durable JSON registry.
type Manager struct {
	projectRoot  string
	defaultBase  string
	registryPath string

	mu       sync.Mutex
	entries  map[string]*Worktree
	lastSync time.Time
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithDefaultBaseBranch overrides the default base branch of "main".
func WithDefaultBaseBranch(branch string) Option {
	return func(m *Manager) { m.defaultBase = branch }
}

// New creates a Manager rooted at projectRoot. Call Initialize before use.
func New(projectRoot string, opts ...Option) *Manager {
	m := &Manager{
		projectRoot:  projectRoot,
		defaultBase:  "main",
		registryPath: filepath.Join(projectRoot, ".bmad", "worktrees.json"),
		entries:      make(map[string]*Worktree),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) wtDir() string {
	return filepath.Join(m.projectRoot, "wt")
}

func (m *Manager) worktreePath(storyID string) string {
	return filepath.Join(m.wtDir(), "story-"+storyID)
}

// registryFile is the on-disk shape of worktrees.json (spec §6).
type registryFile struct {
	Worktrees []*Worktree `json:"worktrees"`
	LastSync  time.Time   `json:"lastSync"`
}

// Initialize fails fast if projectRoot is not a git repository, ensures
// wt/ exists, loads any persisted registry (tolerating a missing or
// corrupt file by starting empty), then syncs the registry against the
// actual git worktree list.
func (m *Manager) Initialize(ctx context.Context) error {
	if _, err := m.runGit(ctx, m.projectRoot, "rev-parse", "--is-inside-work-tree"); err != nil {
		return errs.NewWorktreeError(fmt.Sprintf("%s is not a git repository", m.projectRoot), err)
	}

	if err := os.MkdirAll(m.wtDir(), 0o755); err != nil {
		return errs.NewFileWriteError(m.wtDir(), err)
	}

	m.mu.Lock()
	m.loadRegistryLocked()
	m.mu.Unlock()

	return m.sync(ctx)
}

// loadRegistryLocked reads the registry file into m.entries. A missing or
// corrupt file is tolerated by starting from an empty registry.
func (m *Manager) loadRegistryLocked() {
	data, err := os.ReadFile(m.registryPath)
	if err != nil {
		return
	}
	var rf registryFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return
	}
	for _, w := range rf.Worktrees {
		wt := w
		m.entries[wt.StoryID] = wt
	}
	m.lastSync = rf.LastSync
}

// sync enumerates actual git worktrees: entries whose path no longer
// exists on disk are dropped, and unmanaged worktrees living under
// wt/story-X-Y are auto-registered.
func (m *Manager) sync(ctx context.Context) error {
	out, err := m.runGit(ctx, m.projectRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return err
	}
	paths := parsePorcelainPaths(out)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, wt := range m.entries {
		if _, err := os.Stat(wt.Path); err != nil {
			delete(m.entries, id)
		}
	}

	prefix := m.wtDir() + string(filepath.Separator) + "story-"
	for _, p := range paths {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		storyID := strings.TrimPrefix(p, prefix)
		if !validStoryID(storyID) {
			continue
		}
		if _, ok := m.entries[storyID]; ok {
			continue
		}
		m.entries[storyID] = &Worktree{
			StoryID:    storyID,
			Path:       p,
			Branch:     branchName(storyID),
			BaseBranch: m.defaultBase,
			Status:     StatusActive,
			CreatedAt:  time.Now().UTC(),
		}
	}

	return m.persistLocked()
}

func parsePorcelainPaths(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if p, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, strings.TrimSpace(p))
		}
	}
	return paths
}

// CreateWorktree validates storyID, rejects an already-tracked id, and
// creates a new git worktree on a fresh branch from baseBranch (or the
// Manager's default).
func (m *Manager) CreateWorktree(ctx context.Context, storyID, baseBranch string) (*Worktree, error) {
	if !validStoryID(storyID) {
		return nil, errs.NewWorktreeError(fmt.Sprintf("invalid story id %q, want digits-digits", storyID), nil)
	}
	if baseBranch == "" {
		baseBranch = m.defaultBase
	}

	m.mu.Lock()
	if _, exists := m.entries[storyID]; exists {
		m.mu.Unlock()
		return nil, errs.NewWorktreeExistsError(storyID)
	}
	m.mu.Unlock()

	path := m.worktreePath(storyID)
	branch := branchName(storyID)
	if _, err := m.runGit(ctx, m.projectRoot, "worktree", "add", "-b", branch, path, baseBranch); err != nil {
		return nil, err
	}

	wt := &Worktree{
		StoryID:    storyID,
		Path:       path,
		Branch:     branch,
		BaseBranch: baseBranch,
		Status:     StatusActive,
		CreatedAt:  time.Now().UTC(),
	}

	m.mu.Lock()
	m.entries[storyID] = wt
	err := m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	snapshot := *wt
	return &snapshot, nil
}

// PushBranch pushes storyID's branch and marks it pr-created.
func (m *Manager) PushBranch(ctx context.Context, storyID string) error {
	m.mu.Lock()
	wt, ok := m.entries[storyID]
	m.mu.Unlock()
	if !ok {
		return errs.NewWorktreeNotFoundError(storyID)
	}

	if _, err := m.runGit(ctx, wt.Path, "push", "-u", "origin", wt.Branch); err != nil {
		return err
	}

	m.mu.Lock()
	wt.Status = StatusPRCreated
	err := m.persistLocked()
	m.mu.Unlock()
	return err
}

// DestroyWorktree removes storyID's worktree and branch, tolerating the
// directory already being gone externally, and drops the registry entry.
func (m *Manager) DestroyWorktree(ctx context.Context, storyID string) error {
	m.mu.Lock()
	wt, ok := m.entries[storyID]
	m.mu.Unlock()
	if !ok {
		return errs.NewWorktreeNotFoundError(storyID)
	}

	if _, err := m.runGit(ctx, m.projectRoot, "worktree", "remove", "--force", wt.Path); err != nil {
		fmt.Fprintf(os.Stderr, "warning: git worktree remove failed for %s, continuing: %v\n", storyID, err)
	}
	if _, err := m.runGit(ctx, m.projectRoot, "branch", "-D", wt.Branch); err != nil {
		fmt.Fprintf(os.Stderr, "warning: git branch -D failed for %s, continuing: %v\n", storyID, err)
	}

	m.mu.Lock()
	delete(m.entries, storyID)
	err := m.persistLocked()
	m.mu.Unlock()
	return err
}

// ListActiveWorktrees returns entries with status active or pr-created,
// sorted by CreatedAt ascending.
func (m *Manager) ListActiveWorktrees() []*Worktree {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Worktree
	for _, wt := range m.entries {
		if wt.Status == StatusActive || wt.Status == StatusPRCreated {
			snapshot := *wt
			out = append(out, &snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// persistLocked serializes and atomically writes the registry. Callers
// must hold m.mu.
func (m *Manager) persistLocked() error {
	list := make([]*Worktree, 0, len(m.entries))
	for _, wt := range m.entries {
		list = append(list, wt)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StoryID < list[j].StoryID })

	m.lastSync = time.Now().UTC()
	rf := registryFile{Worktrees: list, LastSync: m.lastSync}

	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return errs.NewFileWriteError(m.registryPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(m.registryPath), 0o755); err != nil {
		return errs.NewFileWriteError(m.registryPath, err)
	}

	tmp := m.registryPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.NewFileWriteError(m.registryPath, err)
	}
	if err := os.Rename(tmp, m.registryPath); err != nil {
		os.Remove(tmp)
		return errs.NewFileWriteError(m.registryPath, err)
	}
	return nil
}

// runGit shells out to git in dir, classifying any non-zero exit via errs.
func (m *Manager) runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", errs.NewWorktreeError(fmt.Sprintf("git %s failed: %s", strings.Join(args, " "), strings.TrimSpace(string(output))), err)
	}
	return string(output), nil
}
