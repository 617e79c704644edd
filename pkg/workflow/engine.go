package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bmad-method/orchestrator/config"
	"github.com/bmad-method/orchestrator/pkg/agentpool"
	"github.com/bmad-method/orchestrator/pkg/decision"
	"github.com/bmad-method/orchestrator/pkg/errs"
	"github.com/bmad-method/orchestrator/pkg/escalation"
	"github.com/bmad-method/orchestrator/pkg/llmclient"
	"github.com/bmad-method/orchestrator/pkg/state"
	"github.com/bmad-method/orchestrator/pkg/worktree"
	"github.com/google/uuid"
)

// AgentInvoker is the subset of the Agent Pool the Workflow Engine needs,
// narrowed to an interface (teacher idiom: workflow.AgentServices in
// kadirpekel/hector) so step execution never depends on a concrete pool.
type AgentInvoker interface {
	CreateAgent(ctx context.Context, name string, agentCtx agentpool.AgentContext) (*agentpool.Agent, error)
	InvokeAgent(ctx context.Context, agentID, prompt string, opts *llmclient.Options) (string, error)
	DestroyAgent(agentID string) error
}

// WorktreeInvoker is the subset of the Worktree Manager the engine needs
// for isolated-development steps.
type WorktreeInvoker interface {
	CreateWorktree(ctx context.Context, storyID, baseBranch string) (*worktree.Worktree, error)
	PushBranch(ctx context.Context, storyID string) error
	DestroyWorktree(ctx context.Context, storyID string) error
}

// ScriptLoader resolves an <invoke-workflow path="…"/> reference to a
// parsed Script.
type ScriptLoader func(path string) (*Script, error)

// PauseWaiter is the shape of a wait on an escalation's resolution. Engine
// has no field of this type: a paused workflow always waits through its
// own poller (waitForResolution), which reads the Escalation Queue every
// PollInterval, and no other waiter can be substituted.
type PauseWaiter func(ctx context.Context, escalationID string) (string, error)

// Engine is the Workflow Engine component: the top-level conductor that
// parses-free executes an already-parsed Script against a
// WorkflowDefinition, delegating to the other six components.
type Engine struct {
	ProjectRoot   string
	InstalledPath string
	ConfigSource  *config.ConfigSource

	State       *state.Manager
	Decision    *decision.Engine
	Escalations *escalation.Queue
	Agents      AgentInvoker
	Worktrees   WorktreeInvoker
	LoadScript  ScriptLoader

	// PollInterval bounds how often a paused workflow checks for escalation
	// resolution; spec §5 requires no longer than 1s.
	PollInterval time.Duration

	// Strict mirrors spec §4.1: an undefined {{name}} without a default is
	// a runtime error in strict mode, empty string otherwise.
	Strict bool
}

// ExecOptions parameterizes one Execute call.
type ExecOptions struct {
	ProjectID    string
	ProjectName  string
	WorkflowPath string
	Definition   *config.WorkflowDefinition
	Script       *Script
	Yolo         bool
}

func (e *Engine) pollInterval() time.Duration {
	if e.PollInterval <= 0 || e.PollInterval > time.Second {
		return time.Second
	}
	return e.PollInterval
}

// Execute runs opts.Script to completion (or failure, or a pause on
// escalation that this call itself waits out), checkpointing after every
// step. If state already exists for ProjectID, execution resumes at
// CurrentStep+1 per spec §4.1's resume semantics; steps numbered at or
// below CurrentStep are not re-executed.
func (e *Engine) Execute(ctx context.Context, opts ExecOptions) (*state.WorkflowState, error) {
	st, err := e.State.LoadState(opts.ProjectID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &state.WorkflowState{
			Project:     state.Project{ID: opts.ProjectID, Name: opts.ProjectName},
			Status:      state.StatusRunning,
			Variables:   make(map[string]any),
			StartTime:   time.Now().UTC(),
			CurrentStep: 0,
		}
		if opts.Definition != nil {
			for k, v := range opts.Definition.Variables {
				st.Variables[k] = v
			}
		}
	}
	st.CurrentWorkflow = opts.WorkflowPath
	st.Status = state.StatusRunning

	return e.runScript(ctx, st, opts)
}

// ResumeFromState restarts execution at state.CurrentStep+1, reusing the
// already-persisted variables (spec §4.1 "Resume semantics").
func (e *Engine) ResumeFromState(ctx context.Context, st *state.WorkflowState, opts ExecOptions) (*state.WorkflowState, error) {
	st.Status = state.StatusRunning
	return e.runScript(ctx, st, opts)
}

func (e *Engine) runScript(ctx context.Context, st *state.WorkflowState, opts ExecOptions) (*state.WorkflowState, error) {
	for i := range opts.Script.Steps {
		step := &opts.Script.Steps[i]
		if step.Number <= st.CurrentStep {
			continue
		}

		if err := ctx.Err(); err != nil {
			return st, err
		}

		resolver := e.resolverFor(st)

		condHolds := true
		if step.Condition != "" {
			condHolds = EvalCondition(step.Condition, st.Variables)
		}
		if !condHolds {
			slog.Info("skipping step: condition false", "project", opts.ProjectID, "step", step.Number, "condition", step.Condition)
			st.CurrentStep = step.Number
			if err := e.State.SaveState(opts.ProjectID, st); err != nil {
				return st, err
			}
			continue
		}

		if step.Optional && opts.Yolo {
			slog.Info("skipping optional step in yolo mode", "project", opts.ProjectID, "step", step.Number)
			st.CurrentStep = step.Number
			if err := e.State.SaveState(opts.ProjectID, st); err != nil {
				return st, err
			}
			continue
		}

		if err := e.runAgentOrWorktreeDirective(ctx, step, resolver, st); err != nil {
			return e.fail(opts.ProjectID, st, err)
		}

		if err := e.executeTags(ctx, opts, st, step, step.Tags, resolver); err != nil {
			return e.fail(opts.ProjectID, st, err)
		}

		st.CurrentStep = step.Number
		st.AgentActivity = append(st.AgentActivity, state.AgentActivity{
			AgentID:   "engine",
			AgentName: "workflow-engine",
			Action:    fmt.Sprintf("completed step %d: %s", step.Number, step.Goal),
			Timestamp: time.Now().UTC(),
			Status:    state.ActivityCompleted,
		})
		if err := e.State.SaveState(opts.ProjectID, st); err != nil {
			return st, err
		}
	}

	st.Status = state.StatusCompleted
	if err := e.State.SaveState(opts.ProjectID, st); err != nil {
		return st, err
	}
	return st, nil
}

func (e *Engine) fail(projectID string, st *state.WorkflowState, cause error) (*state.WorkflowState, error) {
	st.Status = state.StatusFailed
	if saveErr := e.State.SaveState(projectID, st); saveErr != nil {
		slog.Error("failed to persist failed state", "project", projectID, "error", saveErr)
	}
	return st, cause
}

func (e *Engine) resolverFor(st *state.WorkflowState) *Resolver {
	return &Resolver{
		ProjectRoot:   e.ProjectRoot,
		InstalledPath: e.InstalledPath,
		ConfigSource:  e.ConfigSource,
		Vars:          st.Variables,
		Strict:        e.Strict,
	}
}

// agentDirectivePrefix and worktreeDirectivePrefix are the Goal-attribute
// conventions this engine uses to wire Agent Pool / Worktree Manager
// invocations into the tag vocabulary of spec §4.1, which has no tag of
// its own for either (see DESIGN.md's open-question resolution).
const (
	agentDirectivePrefix  = "agent:"
	worktreeCreatePrefix  = "worktree:create:"
	worktreePushPrefix    = "worktree:push:"
	worktreeDestroyPrefix = "worktree:destroy:"
)

func (e *Engine) runAgentOrWorktreeDirective(ctx context.Context, step *Step, resolver *Resolver, st *state.WorkflowState) error {
	goal := step.Goal
	switch {
	case strings.HasPrefix(goal, agentDirectivePrefix):
		if e.Agents == nil {
			return nil
		}
		agentName := strings.TrimPrefix(goal, agentDirectivePrefix)
		task, err := resolver.Resolve(step.Content)
		if err != nil {
			return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: resolving agent task", step.Number), err)
		}
		agent, err := e.Agents.CreateAgent(ctx, agentName, agentpool.AgentContext{Task: task})
		if err != nil {
			return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: creating agent %q", step.Number, agentName), err)
		}
		response, err := e.Agents.InvokeAgent(ctx, agent.ID, task, nil)
		destroyErr := e.Agents.DestroyAgent(agent.ID)
		if err != nil {
			return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: invoking agent %q", step.Number, agentName), err)
		}
		if destroyErr != nil {
			slog.Warn("failed to destroy agent after step", "step", step.Number, "agent", agentName, "error", destroyErr)
		}
		st.Variables["last_agent_response"] = response
		return nil

	case strings.HasPrefix(goal, worktreeCreatePrefix):
		if e.Worktrees == nil {
			return nil
		}
		storyID := strings.TrimPrefix(goal, worktreeCreatePrefix)
		_, err := e.Worktrees.CreateWorktree(ctx, storyID, "")
		if err != nil {
			return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: creating worktree for story %s", step.Number, storyID), err)
		}
		return nil

	case strings.HasPrefix(goal, worktreePushPrefix):
		if e.Worktrees == nil {
			return nil
		}
		storyID := strings.TrimPrefix(goal, worktreePushPrefix)
		if err := e.Worktrees.PushBranch(ctx, storyID); err != nil {
			return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: pushing worktree branch for story %s", step.Number, storyID), err)
		}
		return nil

	case strings.HasPrefix(goal, worktreeDestroyPrefix):
		if e.Worktrees == nil {
			return nil
		}
		storyID := strings.TrimPrefix(goal, worktreeDestroyPrefix)
		if err := e.Worktrees.DestroyWorktree(ctx, storyID); err != nil {
			return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: destroying worktree for story %s", step.Number, storyID), err)
		}
		return nil
	}
	return nil
}

// executeTags runs a tag sequence in order, per spec §4.1 step 3.
func (e *Engine) executeTags(ctx context.Context, opts ExecOptions, st *state.WorkflowState, step *Step, tags []Tag, resolver *Resolver) error {
	for _, tag := range tags {
		switch tag.Kind {
		case TagAction, TagOutput:
			rendered, err := resolver.Resolve(tag.Content)
			if err != nil {
				return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: %s", step.Number, tag.Kind), err)
			}
			slog.Info("step log", "project", opts.ProjectID, "step", step.Number, "kind", tag.Kind, "content", rendered)

		case TagAsk, TagElicitRequired:
			if opts.Yolo {
				slog.Info("skipping interactive tag in yolo mode", "project", opts.ProjectID, "step", step.Number, "kind", tag.Kind)
				continue
			}
			if err := e.askAndMaybeEscalate(ctx, opts, st, step, tag); err != nil {
				return err
			}

		case TagTemplateOutput:
			if opts.Yolo {
				slog.Info("auto-approving template-output in yolo mode", "project", opts.ProjectID, "step", step.Number, "file", tag.File)
				continue
			}
			if err := e.askAndMaybeEscalate(ctx, opts, st, step, tag); err != nil {
				return err
			}

		case TagCheck:
			if EvalCondition(tag.If, st.Variables) {
				if err := e.executeTags(ctx, opts, st, step, tag.Children, resolver); err != nil {
					return err
				}
			}

		case TagInvokeWorkflow:
			if err := e.invokeNested(ctx, opts, st, step, tag, resolver); err != nil {
				return err
			}
		}
	}
	return nil
}

// askAndMaybeEscalate calls the Decision Engine for an <ask>/
// <elicit-required>/<template-output> tag. If the Decision escalates, the
// workflow pauses (persisted as StatusPaused) until waitForResolution
// observes a response, then resumes.
func (e *Engine) askAndMaybeEscalate(ctx context.Context, opts ExecOptions, st *state.WorkflowState, step *Step, tag Tag) error {
	question, err := (&Resolver{ProjectRoot: e.ProjectRoot, InstalledPath: e.InstalledPath, ConfigSource: e.ConfigSource, Vars: st.Variables, Strict: e.Strict}).Resolve(tag.Content)
	if err != nil {
		return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: resolving %s", step.Number, tag.Kind), err)
	}

	stepCtx := map[string]any{
		"step":       step.Number,
		"goal":       step.Goal,
		"tag":        string(tag.Kind),
		"workflowId": opts.WorkflowPath,
	}

	d, err := e.Decision.Decide(ctx, question, stepCtx)
	if err != nil {
		return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: decision engine failed", step.Number), err)
	}

	if !d.Escalated() {
		recordDecisionVar(st, tag, d.Value)
		return nil
	}

	if e.Escalations == nil {
		return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: escalation required but no Escalation Queue configured", step.Number), nil)
	}

	escID, err := e.Escalations.Add(escalation.Partial{
		WorkflowID: opts.WorkflowPath,
		Step:       step.Number,
		Question:   question,
		Reasoning:  d.Reasoning,
		Confidence: d.Confidence,
		Context:    stepCtx,
	})
	if err != nil {
		return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: failed to raise escalation", step.Number), err)
	}

	st.Status = state.StatusPaused
	if saveErr := e.State.SaveState(opts.ProjectID, st); saveErr != nil {
		return saveErr
	}

	response, err := e.waitForResolution(ctx, escID)
	if err != nil {
		return err
	}

	st.Status = state.StatusRunning
	recordDecisionVar(st, tag, response)
	return e.State.SaveState(opts.ProjectID, st)
}

func recordDecisionVar(st *state.WorkflowState, tag Tag, value string) {
	key := "answer_" + string(tag.Kind)
	if tag.File != "" {
		key = "answer_" + tag.File
	}
	st.Variables[key] = value
}

// waitForResolution polls the Escalation Queue every PollInterval (capped
// at 1s per spec §5) until the escalation resolves or ctx is cancelled.
func (e *Engine) waitForResolution(ctx context.Context, escalationID string) (string, error) {
	ticker := time.NewTicker(e.pollInterval())
	defer ticker.Stop()

	for {
		esc, err := e.Escalations.GetByID(escalationID)
		if err == nil && esc.Status == escalation.StatusResolved && esc.Response != nil {
			return *esc.Response, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// invokeNested implements <invoke-workflow path="…"/>: it loads the named
// workflow's script and runs it to completion against a separate
// WorkflowState that shares the parent's Variables map (so variable scope
// is shared) and is saved through the same State Manager keyed by the same
// projectId (spec §4.1).
func (e *Engine) invokeNested(ctx context.Context, opts ExecOptions, st *state.WorkflowState, step *Step, tag Tag, resolver *Resolver) error {
	if e.LoadScript == nil {
		return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: invoke-workflow requires a ScriptLoader", step.Number), nil)
	}
	path, err := resolver.Resolve(tag.Path)
	if err != nil {
		return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: resolving invoke-workflow path", step.Number), err)
	}

	nested, err := e.LoadScript(path)
	if err != nil {
		return errs.NewWorkflowExecutionError(fmt.Sprintf("step %d: loading invoked workflow %s", step.Number, path), err)
	}

	nestedOpts := opts
	nestedOpts.WorkflowPath = path
	nestedOpts.Script = nested

	nestedState := &state.WorkflowState{
		Project:         st.Project,
		CurrentWorkflow: path,
		Status:          state.StatusRunning,
		Variables:       st.Variables,
		StartTime:       time.Now().UTC(),
		CurrentStep:     0,
	}

	result, err := e.runScript(ctx, nestedState, nestedOpts)
	if result != nil {
		st.AgentActivity = append(st.AgentActivity, result.AgentActivity...)
	}
	if err != nil {
		return err
	}
	return nil
}

// NewID mints a random UUID string for ad-hoc correlation. The engine's
// own step-completion activity records do not use it; they carry the
// fixed AgentID "engine".
func NewID() string { return uuid.NewString() }
