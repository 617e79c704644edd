// Package retry implements backoff-based retrying of transient failures,
// classifying errors through pkg/errs instead of matching raw messages.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/bmad-method/orchestrator/pkg/errs"
)

// Config configures backoff and retry limits.
type Config struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	EnableJitter      bool
	JitterPercent     float64

	// EnableRecovery logs a recovery attempt for the first
	// LLMAPIError/ResourceExhaustedError seen per operation name before
	// normal backoff resumes. No provider fallback and no extra wait is
	// performed; the retry proceeds on the ordinary backoff schedule.
	EnableRecovery bool

	// ShouldRetry, if set, can veto a retry that would otherwise happen.
	ShouldRetry func(err error) bool

	// OnRetry, if set, fires before each sleep.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultConfig returns the defaults from the retry contract.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		EnableJitter:      true,
		JitterPercent:     0.2,
	}
}

// Metric is a per-error-kind counter maintained by the Handler.
type Metric struct {
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

// Handler classifies errors, sleeps out backoff delays, and tracks metrics.
type Handler struct {
	config Config

	mu      sync.Mutex
	metrics map[errs.Kind]*Metric

	recoveryMu   sync.Mutex
	recoveryDone map[string]bool
}

// New creates a Handler. Zero-value fields in cfg fall back to DefaultConfig.
func New(cfg Config) *Handler {
	d := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = d.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = d.MaxDelay
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = d.BackoffMultiplier
	}
	if cfg.JitterPercent <= 0 {
		cfg.JitterPercent = d.JitterPercent
	}
	return &Handler{
		config:       cfg,
		metrics:      make(map[errs.Kind]*Metric),
		recoveryDone: make(map[string]bool),
	}
}

// GetRetrySequence returns the deterministic, non-jittered delay sequence
// for the handler's current config, for i in [0, MaxRetries).
func (h *Handler) GetRetrySequence() []time.Duration {
	seq := make([]time.Duration, h.config.MaxRetries)
	for i := range seq {
		seq[i] = h.delayFor(i, false)
	}
	return seq
}

func (h *Handler) delayFor(attempt int, jitter bool) time.Duration {
	raw := float64(h.config.InitialDelay) * math.Pow(h.config.BackoffMultiplier, float64(attempt))
	delay := time.Duration(raw)
	if delay > h.config.MaxDelay {
		delay = h.config.MaxDelay
	}
	if jitter && h.config.EnableJitter {
		factor := 1 - h.config.JitterPercent + rand.Float64()*2*h.config.JitterPercent
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}

// Do executes fn, retrying on classified-retryable errors per the configured
// backoff policy. operation names the call for logging and the exhaustion
// message.
func (h *Handler) Do(ctx context.Context, operation string, fn func() error) error {
	_, err := DoWithResult(ctx, h, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn, retrying per the handler's policy, and returns
// the first successful result.
func DoWithResult[T any](ctx context.Context, h *Handler, operation string, fn func() (T, error)) (T, error) {
	var result T
	var lastErr *errs.Error

	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		raw, err := fn()
		result = raw
		if err == nil {
			return result, nil
		}

		classified := errs.Classify(err)
		lastErr = classified
		h.recordMetric(classified.Kind)

		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if !classified.Retryable() {
			return result, classified
		}
		if h.config.ShouldRetry != nil && !h.config.ShouldRetry(classified) {
			return result, classified
		}

		if attempt >= h.config.MaxRetries {
			slog.Warn("retry exhausted", "operation", operation, "attempts", attempt+1, "error", classified)
			return result, fmt.Errorf("%s: Operation failed after %d retries: %w", operation, h.config.MaxRetries, classified)
		}

		h.attemptRecovery(ctx, operation, classified)

		delay := h.delayFor(attempt, true)
		if h.config.OnRetry != nil {
			h.config.OnRetry(classified, attempt+1, delay)
		}
		slog.Debug("retrying operation", "operation", operation, "attempt", attempt+1, "delay", delay, "error", classified)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}

	return result, lastErr
}

// attemptRecovery fires at most once per operation for LLMAPIError and
// ResourceExhaustedError when EnableRecovery is set, before normal backoff.
// It records the operation as recovered and logs; it takes no other action.
func (h *Handler) attemptRecovery(ctx context.Context, operation string, err *errs.Error) {
	if !h.config.EnableRecovery {
		return
	}
	if err.Kind != errs.KindLLMAPI && err.Kind != errs.KindResourceExhausted {
		return
	}

	h.recoveryMu.Lock()
	defer h.recoveryMu.Unlock()
	if h.recoveryDone[operation] {
		return
	}
	h.recoveryDone[operation] = true
	slog.Debug("attempting recovery before backoff", "operation", operation, "kind", err.Kind)
}

func (h *Handler) recordMetric(kind errs.Kind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	m, ok := h.metrics[kind]
	if !ok {
		m = &Metric{FirstSeen: now}
		h.metrics[kind] = m
	}
	m.Count++
	m.LastSeen = now
}

// GetErrorMetrics returns a snapshot keyed by error-kind name.
func (h *Handler) GetErrorMetrics() map[string]Metric {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]Metric, len(h.metrics))
	for k, v := range h.metrics {
		out[string(k)] = *v
	}
	return out
}

// ResetErrorMetrics clears all tracked metrics.
func (h *Handler) ResetErrorMetrics() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = make(map[errs.Kind]*Metric)
}
