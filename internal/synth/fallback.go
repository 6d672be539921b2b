package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/livebabel/babel-core/internal/config"
)

// TaskState tracks one synthesis task through the fallback chain.
type TaskState int

const (
	StateStart TaskState = iota
	StateTryPrimary
	StateFallbackNeeded
	StateTrySecondary
	StateSuccess
	StateFailed
)

func (s TaskState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateTryPrimary:
		return "try_primary"
	case StateFallbackNeeded:
		return "fallback_needed"
	case StateTrySecondary:
		return "try_secondary"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of a fallback chain run.
type Result struct {
	Audio  []byte
	Source string // "primary" or "secondary"
	State  TaskState
}

// Chain attempts cloned-voice synthesis first and falls back to the generic
// backend. Primary failures are never retried: a live broadcast must not
// stall on a preferred-but-unreliable path. Each attempt runs under its own
// deadline, so a primary that burns its budget leaves the fallback a full
// one instead of an already-expired context.
type Chain struct {
	primary        Synthesizer
	secondary      Synthesizer
	attemptTimeout time.Duration
	logger         *slog.Logger
}

func NewChain(primary, secondary Synthesizer, attemptTimeout time.Duration, logger *slog.Logger) *Chain {
	return &Chain{
		primary:        primary,
		secondary:      secondary,
		attemptTimeout: attemptTimeout,
		logger:         logger.With(slog.String("component", "synth-chain")),
	}
}

func (c *Chain) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.attemptTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.attemptTimeout)
}

func (c *Chain) Synthesize(ctx context.Context, req Request) (Result, error) {
	actx, cancel := c.attemptContext(ctx)
	audio, err := c.primary.Synthesize(actx, req)
	cancel()
	if err == nil {
		return Result{Audio: audio, Source: "primary", State: StateSuccess}, nil
	}

	// ProfileNotReady is an expected transitional state, not a fault.
	level := slog.LevelWarn
	if errors.Is(err, ErrProfileNotReady) {
		level = slog.LevelDebug
	}
	c.logger.Log(ctx, level, "primary synthesis unavailable, falling back",
		slog.String("lang", req.Lang),
		slog.String("error", err.Error()))

	actx, cancel = c.attemptContext(ctx)
	audio, err = c.secondary.Synthesize(actx, req)
	cancel()
	if err != nil {
		return Result{State: StateFailed}, fmt.Errorf("secondary synthesis failed: %w", err)
	}
	return Result{Audio: audio, Source: "secondary", State: StateSuccess}, nil
}

// NewBackend constructs one synthesis backend from config.
func NewBackend(cfg config.SynthBackendConfig, profiles ProfileSource) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(0), nil
	case "http":
		return NewHTTPSynth(cfg), nil
	case "exec":
		return NewExecSynth(cfg)
	case "clone":
		return NewCloneSynth(cfg, profiles), nil
	default:
		return nil, fmt.Errorf("unknown synthesis backend mode %q", cfg.Mode)
	}
}
