package agentpool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmad-method/orchestrator/pkg/errs"
	"github.com/bmad-method/orchestrator/pkg/llmclient"
	"github.com/google/uuid"
)

type waiter struct {
	ch       chan struct{}
	name     string
	ctx      AgentContext
	queuedAt time.Time
}

// Pool is the Agent Pool component: bounded concurrency, cost accounting,
// and lifecycle events for LLM-backed agents.
type Pool struct {
	personaDir string
	factory    Factory

	maxConcurrent int

	mu           sync.Mutex
	activeCount  int
	waiters      []*waiter
	active       map[string]*Agent
	agentLocks   map[string]*sync.Mutex
	costMetrics  map[string]float64
	shuttingDown bool
	shutdownCh   chan struct{}

	observersMu sync.Mutex
	observers   []Observer

	reaperStop chan struct{}
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithMaxConcurrent overrides the default maxConcurrentAgents of 2.
func WithMaxConcurrent(n int) Option {
	return func(p *Pool) { p.maxConcurrent = n }
}

// New creates a Pool. personaDir is the root of the bmad/bmm/agents/
// persona layout; factory creates an LLM client for a named agent role.
func New(personaDir string, factory Factory, opts ...Option) *Pool {
	p := &Pool{
		personaDir:    personaDir,
		factory:       factory,
		maxConcurrent: 2,
		active:        make(map[string]*Agent),
		agentLocks:    make(map[string]*sync.Mutex),
		costMetrics:   make(map[string]float64),
		shutdownCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Observe registers an Observer for lifecycle events.
func (p *Pool) Observe(o Observer) {
	p.observersMu.Lock()
	defer p.observersMu.Unlock()
	p.observers = append(p.observers, o)
}

func (p *Pool) emit(evt Event) {
	evt.Timestamp = time.Now().UTC()
	p.observersMu.Lock()
	observers := append([]Observer(nil), p.observers...)
	p.observersMu.Unlock()

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("agent pool observer panicked", "recover", r)
				}
			}()
			o(evt)
		}()
	}
}

var errShutdown = errs.NewAgentPoolError("agent pool is shutting down", nil)

// admit blocks (respecting ctx) until a concurrency slot is free.
func (p *Pool) admit(ctx context.Context, name string, agentCtx AgentContext) error {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return errShutdown
	}
	if p.activeCount < p.maxConcurrent {
		p.activeCount++
		p.mu.Unlock()
		return nil
	}
	w := &waiter{ch: make(chan struct{}), name: name, ctx: agentCtx, queuedAt: time.Now().UTC()}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-p.shutdownCh:
		return errShutdown
	case <-ctx.Done():
		p.mu.Lock()
		removed := false
		for i, x := range p.waiters {
			if x == w {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				removed = true
				break
			}
		}
		p.mu.Unlock()
		if !removed {
			// Slot was already transferred to us concurrently; pass it on.
			p.release()
		}
		return ctx.Err()
	}
}

// release frees one concurrency slot, handing it directly to the next
// waiter if the FIFO queue is non-empty.
func (p *Pool) release() {
	p.mu.Lock()
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		close(w.ch)
		return
	}
	p.activeCount--
	p.mu.Unlock()
}

// CreateAgent loads the agent's persona, creates its LLM client, and
// returns the new Agent once admitted into the pool.
func (p *Pool) CreateAgent(ctx context.Context, name string, agentCtx AgentContext) (*Agent, error) {
	if err := p.admit(ctx, name, agentCtx); err != nil {
		return nil, err
	}

	persona, err := p.loadPersona(name)
	if err != nil {
		p.release()
		return nil, err
	}

	client, err := p.factory(name)
	if err != nil {
		p.release()
		return nil, errs.NewAgentPoolError(fmt.Sprintf("failed to create LLM client for agent %q", name), err)
	}

	agent := &Agent{
		ID:        uuid.NewString(),
		Name:      name,
		Persona:   persona,
		Client:    client,
		Context:   agentCtx,
		StartTime: time.Now().UTC(),
	}

	p.mu.Lock()
	p.active[agent.ID] = agent
	p.agentLocks[agent.ID] = &sync.Mutex{}
	p.mu.Unlock()

	p.emit(Event{Type: EventStarted, AgentID: agent.ID, AgentName: agent.Name})

	return agent, nil
}

func (p *Pool) loadPersona(name string) (string, error) {
	path := filepath.Join(p.personaDir, "bmad", "bmm", "agents", name+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errs.NewAgentPoolError(fmt.Sprintf("persona file not found for agent %q", name), err)
	}
	return string(data), nil
}

// InvokeAgent calls the bound LLM client, accumulates cost, and emits an
// INVOKED or ERROR event. Invocations against the same agent serialise.
func (p *Pool) InvokeAgent(ctx context.Context, agentID, prompt string, opts *llmclient.Options) (string, error) {
	p.mu.Lock()
	agent, ok := p.active[agentID]
	lock := p.agentLocks[agentID]
	p.mu.Unlock()
	if !ok {
		return "", errs.NewAgentPoolError(fmt.Sprintf("invocation on unknown agent %q", agentID), nil)
	}

	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	response, err := agent.Client.Invoke(ctx, prompt, opts)
	latency := time.Since(start)

	if err != nil {
		p.emit(Event{Type: EventError, AgentID: agent.ID, AgentName: agent.Name, Data: map[string]any{"error": err.Error()}})
		return "", err
	}

	usage := agent.Client.GetTokenUsage()
	cost := agent.Client.EstimateCost(usage)

	p.mu.Lock()
	agent.EstimatedCost += cost
	p.costMetrics[agent.Name] += cost
	p.mu.Unlock()

	p.emit(Event{
		Type: EventInvoked, AgentID: agent.ID, AgentName: agent.Name,
		Data: map[string]any{"latencyMs": latency.Milliseconds(), "cost": cost},
	})

	return response, nil
}

// DestroyAgent removes the agent from the active map, emits a COMPLETED
// event, and admits the next waiter if any.
func (p *Pool) DestroyAgent(agentID string) error {
	p.mu.Lock()
	agent, ok := p.active[agentID]
	if !ok {
		p.mu.Unlock()
		return errs.NewAgentPoolError(fmt.Sprintf("destruction of unknown agent %q", agentID), nil)
	}
	delete(p.active, agentID)
	delete(p.agentLocks, agentID)
	p.mu.Unlock()

	executionTime := time.Since(agent.StartTime)
	p.emit(Event{
		Type: EventCompleted, AgentID: agent.ID, AgentName: agent.Name,
		Data: map[string]any{"executionTimeMs": executionTime.Milliseconds(), "totalCost": agent.EstimatedCost},
	})

	p.release()
	return nil
}

// GetActiveAgents returns snapshots of active agents matching f, sorted by
// StartTime ascending.
func (p *Pool) GetActiveAgents(f Filter) []*Agent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*Agent
	for _, a := range p.active {
		if f.Name != "" && a.Name != f.Name {
			continue
		}
		if f.hasStartedAfter && !a.StartTime.After(f.StartedAfter) {
			continue
		}
		snapshot := *a
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// GetCostMetrics returns a snapshot of accumulated cost per agent name.
func (p *Pool) GetCostMetrics() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.costMetrics))
	for k, v := range p.costMetrics {
		out[k] = v
	}
	return out
}

// Shutdown destroys every active agent and drains the waiter queue,
// returning descriptors for requests that never got a slot so the caller
// can decide whether to resubmit them.
func (p *Pool) Shutdown() []PendingRequest {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return nil
	}
	p.shuttingDown = true
	close(p.shutdownCh)

	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}

	pending := make([]PendingRequest, 0, len(p.waiters))
	for _, w := range p.waiters {
		pending = append(pending, PendingRequest{Name: w.name, Context: w.ctx, QueuedAt: w.queuedAt})
	}
	p.waiters = nil
	p.mu.Unlock()

	p.StopReaper()

	for _, id := range ids {
		_ = p.DestroyAgent(id)
	}

	return pending
}

// StartReaper launches a background loop that destroys agents whose
// StartTime exceeds maxExecutionTime, checked every interval.
func (p *Pool) StartReaper(interval, maxExecutionTime time.Duration) {
	p.mu.Lock()
	if p.reaperStop != nil {
		p.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	p.reaperStop = stop
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.reapHungAgents(maxExecutionTime)
			}
		}
	}()
}

func (p *Pool) reapHungAgents(maxExecutionTime time.Duration) {
	now := time.Now()
	p.mu.Lock()
	var hung []string
	for id, a := range p.active {
		if now.Sub(a.StartTime) > maxExecutionTime {
			hung = append(hung, id)
		}
	}
	p.mu.Unlock()

	for _, id := range hung {
		slog.Warn("destroying hung agent", "agentId", id)
		_ = p.DestroyAgent(id)
	}
}

// StopReaper stops the background health-check loop, if running.
func (p *Pool) StopReaper() {
	p.mu.Lock()
	stop := p.reaperStop
	p.reaperStop = nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}
