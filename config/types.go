// Package config loads the two external documents the Workflow Engine
// depends on: the workflow definition itself, and the free-form
// configuration document its config_source field points at.
//
// This file defines the WorkflowDefinition type and its invariants.
package config

import (
	"strings"
	"time"

	"github.com/bmad-method/orchestrator/pkg/errs"
)

// systemGeneratedDate is the literal WorkflowDefinition.Date value that
// SetDefaults replaces with today's UTC date.
const systemGeneratedDate = "system-generated"

// WorkflowDefinition is parsed from a declarative workflow document
// (spec §3). Keys not recognised by any field below are preserved in
// Variables.
type WorkflowDefinition struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description,omitempty"`
	Author        string         `yaml:"author,omitempty"`
	ConfigSource  string         `yaml:"config_source"`
	Instructions  string         `yaml:"instructions"`
	OutputFolder  string         `yaml:"output_folder,omitempty"`
	InstalledPath string         `yaml:"installed_path,omitempty"`
	Date          string         `yaml:"date,omitempty"`
	CurrentStep   int            `yaml:"currentStep"`
	Variables     map[string]any `yaml:"-"`
}

// knownKeys are the recognised top-level fields; everything else in a
// parsed document falls through to Variables.
var knownKeys = map[string]bool{
	"name": true, "description": true, "author": true,
	"config_source": true, "instructions": true, "output_folder": true,
	"installed_path": true, "date": true, "currentStep": true,
}

// SetDefaults resolves the "system-generated" date sentinel to today's
// UTC date in ISO-8601 form.
func (d *WorkflowDefinition) SetDefaults() {
	if d.Date == systemGeneratedDate {
		d.Date = time.Now().UTC().Format("2006-01-02")
	}
}

// Validate enforces the WorkflowDefinition invariants from spec §3.
func (d *WorkflowDefinition) Validate() error {
	var missing []string
	if strings.TrimSpace(d.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(d.Instructions) == "" {
		missing = append(missing, "instructions")
	}
	if strings.TrimSpace(d.ConfigSource) == "" {
		missing = append(missing, "config_source")
	}
	if len(missing) > 0 {
		return errs.NewWorkflowParseError("workflow definition missing required field(s): "+strings.Join(missing, ", "), nil)
	}
	if d.CurrentStep < 0 {
		return errs.NewWorkflowParseError("currentStep must be a non-negative number", nil)
	}
	return nil
}
