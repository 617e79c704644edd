package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmad-method/orchestrator/config"
	"github.com/bmad-method/orchestrator/pkg/errs"
)

// placeholderPattern matches {{name}} and {{name|default}}.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*(?:\|\s*([^}]*?)\s*)?\}\}`)

// configSourcePattern matches {config_source}:dotted.path.
var configSourcePattern = regexp.MustCompile(`\{config_source\}:([a-zA-Z0-9_.]+)`)

// Resolver resolves the variable-substitution contract of spec §4.1:
// {project-root}/{installed_path} absolute paths, {config_source}:key
// dotted lookups, and {{name}}/{{name|default}} placeholders.
type Resolver struct {
	ProjectRoot   string
	InstalledPath string
	ConfigSource  *config.ConfigSource
	Vars          map[string]any
	// Strict, when true, makes an undefined {{name}} without a default a
	// runtime error; otherwise it substitutes an empty string.
	Strict bool
}

// Resolve expands every placeholder kind in content, in the order
// {project-root}/{installed_path}, then {config_source}:key, then
// {{name}}/{{name|default}}.
func (r *Resolver) Resolve(content string) (string, error) {
	out := strings.ReplaceAll(content, "{project-root}", r.ProjectRoot)
	out = strings.ReplaceAll(out, "{installed_path}", r.InstalledPath)

	var lookupErr error
	out = configSourcePattern.ReplaceAllStringFunc(out, func(match string) string {
		if lookupErr != nil {
			return match
		}
		m := configSourcePattern.FindStringSubmatch(match)
		key := m[1]
		if r.ConfigSource == nil {
			lookupErr = errs.NewFatal(fmt.Sprintf("config_source reference %q has no bound configuration document", key), nil)
			return match
		}
		v, err := r.ConfigSource.Lookup(key)
		if err != nil {
			lookupErr = err
			return match
		}
		return fmt.Sprintf("%v", v)
	})
	if lookupErr != nil {
		return "", lookupErr
	}

	out = placeholderPattern.ReplaceAllStringFunc(out, func(match string) string {
		if lookupErr != nil {
			return match
		}
		m := placeholderPattern.FindStringSubmatch(match)
		name, hasDefault := m[1], m[2]
		hadDefaultGroup := strings.Contains(match, "|")

		v := lookupVar(name, r.Vars)
		if v == undefined {
			if hadDefaultGroup {
				return hasDefault
			}
			if r.Strict {
				lookupErr = errs.NewVariableUndefinedError(name)
				return match
			}
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
	if lookupErr != nil {
		return "", lookupErr
	}

	return out, nil
}
