// This file contains the loaders: WorkflowDefinition parsing and the
// dotted-path ConfigSource document.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/bmad-method/orchestrator/pkg/errs"
	"gopkg.in/yaml.v3"
)

// LoadWorkflowDefinition reads and parses a workflow definition document
// from path, following the same two-step SetDefaults/Validate pattern as
// every config type in this package. .env/.env.local are loaded first so
// expandEnvVars sees them when resolving ${VAR}/${VAR:-default} references
// in the document.
func LoadWorkflowDefinition(path string) (*WorkflowDefinition, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, errs.NewWorkflowParseError("failed to load .env files", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.NewWorkflowParseError(fmt.Sprintf("failed to read workflow definition %s", path), err)
	}
	return LoadWorkflowDefinitionFromString(string(data))
}

// LoadWorkflowDefinitionFromString parses a workflow definition document
// already in memory.
func LoadWorkflowDefinitionFromString(content string) (*WorkflowDefinition, error) {
	expanded := expandEnvVars(content)

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, errs.NewWorkflowParseError("failed to parse workflow definition", err)
	}

	var def WorkflowDefinition
	if err := yaml.Unmarshal([]byte(expanded), &def); err != nil {
		return nil, errs.NewWorkflowParseError("failed to decode workflow definition", err)
	}

	def.Variables = make(map[string]any)
	for k, v := range raw {
		if !knownKeys[k] {
			def.Variables[k] = v
		}
	}

	def.SetDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ConfigSource is the external structured-text document referenced by a
// WorkflowDefinition's config_source field (spec §6): an arbitrary YAML
// document navigable by dotted path.
type ConfigSource struct {
	data map[string]any
	path string
}

// LoadConfigSource reads and parses the document at path. .env/.env.local
// are loaded first, same as LoadWorkflowDefinition, so the document's own
// ${VAR} references resolve against them.
func LoadConfigSource(path string) (*ConfigSource, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, errs.NewWorkflowParseError("failed to load .env files", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.NewWorkflowParseError(fmt.Sprintf("failed to read config source %s", path), err)
	}
	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, errs.NewWorkflowParseError(fmt.Sprintf("failed to parse config source %s", path), err)
	}
	if data == nil {
		data = map[string]any{}
	}
	data = ExpandEnvVarsInData(data).(map[string]any)
	return &ConfigSource{data: data, path: path}, nil
}

// Lookup resolves a (possibly dotted) path inside the document. A missing
// path is a fatal error per spec §4.1/§6.
func (c *ConfigSource) Lookup(dotted string) (any, error) {
	parts := strings.Split(dotted, ".")
	var cur any = c.data
	for i, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, errs.NewFatal(fmt.Sprintf("config_source path %q not found in %s: %q is not a map", dotted, c.path, strings.Join(parts[:i], ".")), nil)
		}
		v, ok := m[p]
		if !ok {
			return nil, errs.NewFatal(fmt.Sprintf("config_source path %q not found in %s", dotted, c.path), nil)
		}
		cur = v
	}
	return cur, nil
}
