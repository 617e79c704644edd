package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bmad-method/orchestrator/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverPlaceholders(t *testing.T) {
	r := &Resolver{
		ProjectRoot:   "/proj",
		InstalledPath: "/proj/bmad",
		Vars: map[string]any{
			"test_var": "test_value",
			"nested":   map[string]any{"key": "nested_value"},
		},
	}

	out, err := r.Resolve("root={project-root} installed={installed_path} v={{test_var}} n={{nested.key}} d={{missing_var|default}}")
	require.NoError(t, err)
	assert.Contains(t, out, "root=/proj")
	assert.Contains(t, out, "installed=/proj/bmad")
	assert.Contains(t, out, "v=test_value")
	assert.Contains(t, out, "n=nested_value")
	assert.Contains(t, out, "d=default")
}

func TestResolverUndefinedNonStrictIsEmpty(t *testing.T) {
	r := &Resolver{Vars: map[string]any{}}
	out, err := r.Resolve("x={{undefined_variable}}")
	require.NoError(t, err)
	assert.Equal(t, "x=", out)
}

func TestResolverUndefinedStrictIsError(t *testing.T) {
	r := &Resolver{Vars: map[string]any{}, Strict: true}
	_, err := r.Resolve("x={{undefined_variable}}")
	require.Error(t, err)
}

func TestResolverConfigSourceLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("team:\n  name: alpha\n"), 0o644))

	cs, err := config.LoadConfigSource(path)
	require.NoError(t, err)

	r := &Resolver{ConfigSource: cs, Vars: map[string]any{}}
	out, err := r.Resolve("team is {config_source}:team.name")
	require.NoError(t, err)
	assert.Equal(t, "team is alpha", out)
}

func TestResolverConfigSourceMissingPathIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("team:\n  name: alpha\n"), 0o644))
	cs, err := config.LoadConfigSource(path)
	require.NoError(t, err)

	r := &Resolver{ConfigSource: cs, Vars: map[string]any{}}
	_, err = r.Resolve("{config_source}:team.missing")
	require.Error(t, err)
}
