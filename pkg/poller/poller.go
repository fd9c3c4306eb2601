// Copyright 2025 Regata Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/regata-dev/regata/pkg/provider"
	"github.com/regata-dev/regata/pkg/run"
)

// Default polling behavior. The interval schedule starts short so fast runs
// complete quickly and backs off geometrically to spare provider rate
// limits on long runs.
const (
	DefaultInitialInterval = 10 * time.Second
	DefaultMaxInterval     = 30 * time.Second
	DefaultMultiplier      = 2.0
	DefaultRunTimeout      = 30 * time.Minute
	DefaultRetries         = 3
	DefaultRetryDelay      = 2 * time.Second
)

// Schedule is the adaptive inter-poll interval: geometric growth from
// Initial, capped at Max. It resets only when a new run starts polling,
// never mid-run.
type Schedule struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultSchedule returns the standard adaptive schedule.
func DefaultSchedule() Schedule {
	return Schedule{Initial: DefaultInitialInterval, Max: DefaultMaxInterval, Multiplier: DefaultMultiplier}
}

// Next computes the interval following current.
func (s Schedule) Next(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * s.Multiplier)
	if next > s.Max {
		return s.Max
	}
	if next < current {
		// Multiplier below 1 never shrinks the interval.
		return current
	}
	return next
}

func (s Schedule) normalized() Schedule {
	if s.Initial <= 0 {
		s.Initial = DefaultInitialInterval
	}
	if s.Max <= 0 {
		s.Max = DefaultMaxInterval
	}
	if s.Max < s.Initial {
		s.Max = s.Initial
	}
	if s.Multiplier < 1 {
		s.Multiplier = DefaultMultiplier
	}
	return s
}

// Config tunes one polling engine instance.
type Config struct {
	Schedule Schedule

	// RunTimeout is the per-run deadline, typically the test's own timeout.
	RunTimeout time.Duration

	// Retries bounds local retries of network-level poll failures before
	// the run is marked errored. Auth failures never retry. Zero means the
	// default; negative disables retries.
	Retries    int
	RetryDelay time.Duration

	// Gate caps concurrent calls against the run's provider. Acquired
	// around each poll call only, never held across a sleep. Nil means
	// uncapped.
	Gate *semaphore.Weighted
}

func (c Config) normalized() Config {
	c.Schedule = c.Schedule.normalized()
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	if c.Retries == 0 {
		c.Retries = DefaultRetries
	} else if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// ErrNotPolling indicates Wait was handed a descriptor that is not in the
// polling state.
var ErrNotPolling = errors.New("descriptor is not in polling state")

// Engine drives exactly one run descriptor from dispatched to terminal. It
// is the descriptor's single writer for the descriptor's whole lifetime.
type Engine struct {
	adapter provider.Adapter
	cfg     Config
	now     func() time.Time
}

// New builds a polling engine for one run.
func New(adapter provider.Adapter, cfg Config) *Engine {
	return &Engine{adapter: adapter, cfg: cfg.normalized(), now: time.Now}
}

// Wait polls until the run reaches a terminal state, the per-run deadline
// elapses, or ctx is cancelled (the batch-wide deadline). Every exit path
// leaves the descriptor terminal, and no poll call is ever issued after the
// deadline fired. Outcomes are recorded on the descriptor, not returned:
// per-run failures never propagate as errors.
func (e *Engine) Wait(ctx context.Context, d *run.Descriptor) error {
	if d.State != run.StatePolling {
		return fmt.Errorf("%w: %s is %s", ErrNotPolling, d.Key(), d.State)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	logger := log.With().Str("run", d.Key()).Str("handle", d.Handle).Logger()

	interval := e.cfg.Schedule.Initial
	for {
		if runCtx.Err() != nil {
			e.markTimedOut(d)
			return nil
		}

		res, err := e.poll(runCtx, d.Handle)
		switch {
		case err == nil && res.Complete:
			e.record(d, res)
			return nil

		case err == nil:
			if d.RunURL == "" && res.RunURL != "" {
				d.RunURL = res.RunURL
			}
			logger.Debug().Dur("next_poll_in", interval).Msg("Run still in progress")

		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			e.markTimedOut(d)
			return nil

		default:
			// Auth failures and exhausted transient retries both end the
			// run here; siblings are unaffected.
			logger.Warn().Err(err).Msg("Polling gave up")
			e.markTerminal(d, run.StateErrored, err.Error())
			return nil
		}

		if err := sleepCtx(runCtx, interval); err != nil {
			e.markTimedOut(d)
			return nil
		}
		interval = e.cfg.Schedule.Next(interval)
	}
}

// poll issues one logical poll, retrying network-level failures a bounded
// number of times with a short fixed delay. Auth errors short-circuit:
// retrying cannot help a bad credential.
func (e *Engine) poll(ctx context.Context, handle string) (provider.PollResult, error) {
	var lastErr error

	for attempt := 0; attempt <= e.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, e.cfg.RetryDelay); err != nil {
				return provider.PollResult{}, err
			}
		}

		if e.cfg.Gate != nil {
			if err := e.cfg.Gate.Acquire(ctx, 1); err != nil {
				return provider.PollResult{}, err
			}
		}
		res, err := e.adapter.Poll(ctx, handle)
		if e.cfg.Gate != nil {
			e.cfg.Gate.Release(1)
		}

		if err == nil {
			return res, nil
		}
		if provider.IsAuth(err) {
			return provider.PollResult{}, err
		}
		if ctx.Err() != nil {
			return provider.PollResult{}, ctx.Err()
		}
		lastErr = err
	}

	return provider.PollResult{}, fmt.Errorf("poll retries exhausted: %w", lastErr)
}

func (e *Engine) record(d *run.Descriptor, res provider.PollResult) {
	if res.RunURL != "" {
		d.RunURL = res.RunURL
	}
	if res.Duration > 0 {
		d.Duration = res.Duration
	}

	state := run.StateErrored
	switch res.Outcome {
	case provider.OutcomeSucceeded:
		state = run.StateSucceeded
	case provider.OutcomeFailed:
		state = run.StateFailed
	}
	e.markTerminal(d, state, res.Message)
}

func (e *Engine) markTimedOut(d *run.Descriptor) {
	e.markTerminal(d, run.StateTimedOut, fmt.Sprintf("run did not complete within %s", e.cfg.RunTimeout))
}

func (e *Engine) markTerminal(d *run.Descriptor, state run.State, message string) {
	if err := d.MarkTerminal(state, e.now(), message); err != nil {
		log.Error().Err(err).Str("run", d.Key()).Msg("Dropped illegal state transition")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
