package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/bmad-method/orchestrator/pkg/errs"
	"github.com/stretchr/testify/require"
)

func setupGitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@test.com")
	run("config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial commit")

	return dir
}

func TestCreateAndDestroyWorktreeRoundtrip(t *testing.T) {
	root := setupGitRepo(t)
	ctx := context.Background()

	m := New(root)
	require.NoError(t, m.Initialize(ctx))

	wt, err := m.CreateWorktree(ctx, "1-6", "")
	require.NoError(t, err)
	require.Equal(t, "story/1-6", wt.Branch)
	require.Equal(t, filepath.Join(root, "wt", "story-1-6"), wt.Path)

	info, err := os.Stat(wt.Path)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	registryPath := filepath.Join(root, ".bmad", "worktrees.json")
	data, err := os.ReadFile(registryPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "1-6")

	active := m.ListActiveWorktrees()
	require.Len(t, active, 1)

	require.NoError(t, m.DestroyWorktree(ctx, "1-6"))
	_, err = os.Stat(wt.Path)
	require.Error(t, err)
	require.Empty(t, m.ListActiveWorktrees())

	_, err = m.CreateWorktree(ctx, "nope", "")
	require.Error(t, err)

	err = m.DestroyWorktree(ctx, "1-6")
	require.Error(t, err)
	wtErr, ok := err.(*errs.Error)
	require.True(t, ok)
	require.Equal(t, errs.KindWorktreeNotFound, wtErr.Kind)
}

func TestCreateWorktreeExistingStoryIDRejected(t *testing.T) {
	root := setupGitRepo(t)
	ctx := context.Background()

	m := New(root)
	require.NoError(t, m.Initialize(ctx))

	_, err := m.CreateWorktree(ctx, "2-3", "")
	require.NoError(t, err)

	_, err = m.CreateWorktree(ctx, "2-3", "")
	require.Error(t, err)
	wtErr, ok := err.(*errs.Error)
	require.True(t, ok)
	require.Equal(t, errs.KindWorktreeExists, wtErr.Kind)
}

func TestInitializeFailsOnNonGitDirectory(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	m := New(dir)
	err := m.Initialize(context.Background())
	require.Error(t, err)
}

func TestInitializeSyncsUnmanagedWorktree(t *testing.T) {
	root := setupGitRepo(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "wt"), 0o755))
	cmd := exec.Command("git", "worktree", "add", "-b", "story/9-9", filepath.Join(root, "wt", "story-9-9"), "main")
	cmd.Dir = root
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))

	m := New(root)
	require.NoError(t, m.Initialize(ctx))

	active := m.ListActiveWorktrees()
	require.Len(t, active, 1)
	require.Equal(t, "9-9", active[0].StoryID)
}
