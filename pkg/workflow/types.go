// Package workflow implements the Workflow Engine: it interprets a parsed
// WorkflowDefinition and its tagged step script, resolving variables and
// conditions, checkpointing through the State Manager, and delegating
// ambiguous questions to the Decision Engine and Escalation Queue.
package workflow

import (
	"strconv"

	"github.com/bmad-method/orchestrator/pkg/errs"
)

// TagKind discriminates the inner tags a Step's content may contain.
type TagKind string

const (
	TagAction         TagKind = "action"
	TagOutput         TagKind = "output"
	TagAsk            TagKind = "ask"
	TagElicitRequired TagKind = "elicit-required"
	TagTemplateOutput TagKind = "template-output"
	TagCheck          TagKind = "check"
	TagInvokeWorkflow TagKind = "invoke-workflow"
)

// Tag is one inner instruction extracted from a Step's body, in source
// order. Check tags carry a nested sequence of Tags in Children.
type Tag struct {
	Kind     TagKind
	Content  string
	File     string // template-output's file attribute
	Path     string // invoke-workflow's path attribute
	If       string // check's condition
	Children []Tag
}

// Step is one numbered block of a step script (spec §3/§4.1).
type Step struct {
	Number    int
	Goal      string
	Content   string
	Condition string
	Optional  bool
	Tags      []Tag
}

// Script is the ordered, parsed step list of one workflow's instructions
// document.
type Script struct {
	Steps []Step
}

// ByNumber looks up a step by its 1-based number.
func (s *Script) ByNumber(n int) (*Step, bool) {
	for i := range s.Steps {
		if s.Steps[i].Number == n {
			return &s.Steps[i], true
		}
	}
	return nil, false
}

// validateContiguous enforces spec §3's "steps must be contiguous" Step
// invariant: numbers 1, 2, 3, ... with no gap.
func validateContiguous(steps []Step) error {
	for i, st := range steps {
		want := i + 1
		if st.Number != want {
			return errs.NewWorkflowParseError(
				"step script has a gap or out-of-order step: expected step "+strconv.Itoa(want)+", found "+strconv.Itoa(st.Number), nil)
		}
	}
	return nil
}
