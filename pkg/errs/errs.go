// Package errs defines the tagged error hierarchy shared by every component
// of the orchestration core. Retry eligibility and escalation severity are
// pure functions over a Kind, never type assertions scattered across callers.
package errs

import (
	"fmt"
	"strings"
)

// Kind discriminates the error taxonomy from spec §4.7 / §7.
type Kind string

const (
	KindRetryable         Kind = "retryable"
	KindFatal             Kind = "fatal"
	KindLLMAPI            Kind = "llm_api"
	KindResourceExhausted Kind = "resource_exhausted"
	KindWorkflowParse     Kind = "workflow_parse"
	KindWorkflowExecution Kind = "workflow_execution"
	KindStateManager      Kind = "state_manager"
	KindAgentPool         Kind = "agent_pool"
	KindWorktree          Kind = "worktree"
	KindWorktreeExists    Kind = "worktree_exists"
	KindWorktreeNotFound  Kind = "worktree_not_found"
	KindTemplateNotFound  Kind = "template_not_found"
	KindTemplateSyntax    Kind = "template_syntax"
	KindVariableUndefined Kind = "variable_undefined"
	KindFileWrite         Kind = "file_write"
)

// EscalationLevel mirrors spec §4.7 / §7.
type EscalationLevel string

const (
	LevelWarning  EscalationLevel = "WARNING"
	LevelError    EscalationLevel = "ERROR"
	LevelCritical EscalationLevel = "CRITICAL"
)

// Error is the concrete type behind every Kind. Domain constructors below
// (New*) are the only way to produce one, so Kind and message stay in sync.
type Error struct {
	Kind     Kind
	Message  string
	Cause    error
	authKind bool // true when this LLMAPIError stems from an auth failure
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the Retry Handler should attempt a retry.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRetryable, KindResourceExhausted:
		return true
	case KindLLMAPI:
		return !e.authKind
	default:
		return false
	}
}

// Escalation reports the severity a failure should surface at, per spec §4.7/§7.
func (e *Error) Escalation() EscalationLevel {
	switch e.Kind {
	case KindFatal:
		return LevelCritical
	case KindLLMAPI:
		if e.authKind {
			return LevelCritical
		}
		return LevelError
	case KindRetryable, KindResourceExhausted:
		return LevelError
	default:
		return LevelWarning
	}
}

// SuggestedActions returns free-form remediation hints per spec §7.
func (e *Error) SuggestedActions() []string {
	switch {
	case e.Kind == KindLLMAPI && e.authKind:
		return []string{"check credentials"}
	case e.Kind == KindLLMAPI:
		return []string{"check API rate limit"}
	case e.Kind == KindResourceExhausted:
		return []string{"check API rate limit", "retry after backoff"}
	case e.Kind == KindFatal:
		return []string{"inspect logs for root cause"}
	default:
		return nil
	}
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func NewRetryable(msg string, cause error) *Error { return newErr(KindRetryable, msg, cause) }
func NewFatal(msg string, cause error) *Error     { return newErr(KindFatal, msg, cause) }

// NewLLMAPIError builds an LLMAPIError. authFailure marks token/credential
// failures, which are CRITICAL and never retried (spec §4.7/§7).
func NewLLMAPIError(msg string, cause error, authFailure bool) *Error {
	e := newErr(KindLLMAPI, msg, cause)
	e.authKind = authFailure
	return e
}

func NewResourceExhausted(msg string, cause error) *Error {
	return newErr(KindResourceExhausted, msg, cause)
}
func NewWorkflowParseError(msg string, cause error) *Error {
	return newErr(KindWorkflowParse, msg, cause)
}
func NewWorkflowExecutionError(msg string, cause error) *Error {
	return newErr(KindWorkflowExecution, msg, cause)
}
func NewStateManagerError(msg string) *Error { return newErr(KindStateManager, msg, nil) }
func NewAgentPoolError(msg string, cause error) *Error {
	return newErr(KindAgentPool, msg, cause)
}
func NewWorktreeError(msg string, cause error) *Error { return newErr(KindWorktree, msg, cause) }
func NewWorktreeExistsError(storyID string) *Error {
	return newErr(KindWorktreeExists, fmt.Sprintf("worktree for story %s already exists", storyID), nil)
}
func NewWorktreeNotFoundError(storyID string) *Error {
	return newErr(KindWorktreeNotFound, fmt.Sprintf("worktree for story %s not found", storyID), nil)
}
func NewTemplateNotFoundError(path string) *Error {
	return newErr(KindTemplateNotFound, fmt.Sprintf("template not found: %s", path), nil)
}
func NewTemplateSyntaxError(msg string) *Error { return newErr(KindTemplateSyntax, msg, nil) }
func NewVariableUndefinedError(name string) *Error {
	return newErr(KindVariableUndefined, fmt.Sprintf("variable %q is undefined", name), nil)
}
func NewFileWriteError(path string, cause error) *Error {
	return newErr(KindFileWrite, fmt.Sprintf("failed to write %s", path), cause)
}

// transientSubstrings / fatalSubstrings implement spec §4.7's raw-message
// normalization: errors surfacing from outside this module (os/exec, network
// clients) are coerced into RetryableError/FatalError by substring match.
var (
	transientSubstrings = []string{"ECONNRESET", "ETIMEDOUT", "ECONNREFUSED"}
	fatalSubstrings     = []string{"EACCES", "EPERM"}
)

// Classify normalizes a raw external error into the tagged hierarchy.
// Errors that are already *Error pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	msg := err.Error()
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return NewRetryable(msg, err)
		}
	}
	for _, s := range fatalSubstrings {
		if strings.Contains(msg, s) {
			return NewFatal(msg, err)
		}
	}
	return NewFatal(msg, err)
}
