package orchestrator

// The orchestrator fans a batch of (scanner, test) pairs out across every
// configured provider, supervises one polling engine per dispatched run, and
// joins all outcomes into one report. One provider's slowness or failure
// never starves another's progress: dispatch concurrency is capped per
// provider and unbounded across providers, and per-run failures are absorbed
// into that run's terminal state.

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/regata-dev/regata/pkg/poller"
	"github.com/regata-dev/regata/pkg/provider"
	"github.com/regata-dev/regata/pkg/registry"
	"github.com/regata-dev/regata/pkg/report"
	"github.com/regata-dev/regata/pkg/run"
)

// Defaults for batch-level behavior.
const (
	DefaultGlobalTimeout       = time.Hour
	DefaultDispatchConcurrency = 2
)

// Provider pairs an adapter with its rate-limit tolerance. The concurrency
// cap bounds simultaneous API calls (dispatch and poll) against that
// provider; it is never held across an inter-poll sleep.
type Provider struct {
	Adapter     provider.Adapter
	Concurrency int64
}

// Options tunes a batch.
type Options struct {
	// GlobalTimeout covers the whole batch. When it fires, every run still
	// in flight moves to timed out without another provider call.
	GlobalTimeout time.Duration

	// Schedule is the inter-poll interval schedule shared by all runs.
	// Each run's engine starts it fresh.
	Schedule poller.Schedule

	// Retries and RetryDelay bound local retries of transient poll
	// failures, per run.
	Retries    int
	RetryDelay time.Duration
}

// Input is one (scanner, test) pair to execute on every provider.
type Input struct {
	ScannerID string
	Test      registry.Test
}

// InputsFromDefinitions flattens loaded test definitions into inputs,
// keeping the given scanner order. Scanners without a definition contribute
// nothing.
func InputsFromDefinitions(scannerIDs []string, defs map[string]*registry.TestDefinition) []Input {
	var inputs []Input
	for _, id := range scannerIDs {
		def, ok := defs[id]
		if !ok {
			continue
		}
		for _, test := range def.Tests {
			inputs = append(inputs, Input{ScannerID: id, Test: test})
		}
	}
	return inputs
}

// Orchestrator coordinates one batch at a time.
type Orchestrator struct {
	providers []Provider
	opts      Options
}

// New builds an orchestrator over the given providers.
func New(providers []Provider, opts Options) (*Orchestrator, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if opts.GlobalTimeout <= 0 {
		opts.GlobalTimeout = DefaultGlobalTimeout
	}
	normalized := make([]Provider, len(providers))
	for i, p := range providers {
		if p.Adapter == nil {
			return nil, fmt.Errorf("%w: provider %d has no adapter", ErrNoProviders, i)
		}
		if p.Concurrency <= 0 {
			p.Concurrency = DefaultDispatchConcurrency
		}
		normalized[i] = p
	}
	return &Orchestrator{providers: normalized, opts: opts}, nil
}

// Execute runs every input against every provider and aggregates the
// outcomes. It returns a report even when runs failed; the only error it
// surfaces is batch-wide misconfiguration (every dispatch on every provider
// rejected), and even then the report accompanies it.
func (o *Orchestrator) Execute(ctx context.Context, inputs []Input, registryRef string) (*report.Report, error) {
	order := make([]string, 0, len(o.providers))
	byProvider := make(map[string][]*run.Descriptor, len(o.providers))

	for _, p := range o.providers {
		name := p.Adapter.Name()
		order = append(order, name)
		descriptors := make([]*run.Descriptor, 0, len(inputs))
		for _, input := range inputs {
			descriptors = append(descriptors, run.New(input.ScannerID, input.Test.Name, name))
		}
		byProvider[name] = descriptors
	}

	if len(inputs) == 0 {
		log.Info().Msg("No tests to run")
		return report.Build(order, byProvider), nil
	}

	log.Info().
		Int("tests", len(inputs)).
		Int("providers", len(o.providers)).
		Int("runs", len(inputs)*len(o.providers)).
		Msg("Dispatching test batch")

	batchCtx, cancel := context.WithTimeout(ctx, o.opts.GlobalTimeout)
	defer cancel()

	// One worker per provider; a slow provider's backlog stays its own.
	// Workers never return errors: every failure lands in a descriptor.
	var g errgroup.Group
	for _, p := range o.providers {
		g.Go(func() error {
			o.runProvider(batchCtx, p, byProvider[p.Adapter.Name()], inputs, registryRef)
			return nil
		})
	}
	_ = g.Wait()

	rep := report.Build(order, byProvider)
	if err := o.checkTotalFailure(byProvider); err != nil {
		return rep, err
	}
	return rep, nil
}

// runProvider dispatches one provider's runs in input order, bounded by the
// provider's concurrency cap, and supervises their polling engines.
func (o *Orchestrator) runProvider(ctx context.Context, p Provider, descriptors []*run.Descriptor, inputs []Input, registryRef string) {
	sem := semaphore.NewWeighted(p.Concurrency)

	// Flipped by the first auth failure; later runs skip dispatch since
	// the same credentials would fail identically.
	var authFailed atomic.Bool

	var wg sync.WaitGroup
	for i, d := range descriptors {
		if authFailed.Load() {
			o.markTerminal(d, run.StateErrored, "dispatch skipped: provider credentials already rejected")
			continue
		}

		// Acquiring in input order preserves dispatch order up to the cap.
		if err := sem.Acquire(ctx, 1); err != nil {
			o.markTerminal(d, run.StateTimedOut, "batch deadline expired before dispatch")
			continue
		}

		// Re-check after the wait: an in-flight dispatch may have hit the
		// auth failure while this one was queued on the gate.
		if authFailed.Load() {
			sem.Release(1)
			o.markTerminal(d, run.StateErrored, "dispatch skipped: provider credentials already rejected")
			continue
		}

		wg.Add(1)
		go func(d *run.Descriptor, test registry.Test) {
			defer wg.Done()
			o.runOne(ctx, p, sem, d, test, registryRef, &authFailed)
		}(d, inputs[i].Test)
	}
	wg.Wait()
}

// runOne owns d from dispatch through terminal state.
func (o *Orchestrator) runOne(ctx context.Context, p Provider, sem *semaphore.Weighted, d *run.Descriptor, test registry.Test, registryRef string, authFailed *atomic.Bool) {
	logger := log.With().Str("run", d.Key()).Logger()

	if err := d.MarkDispatching(time.Now()); err != nil {
		logger.Error().Err(err).Msg("Descriptor not in dispatchable state")
		return
	}

	logger.Info().Msg("Dispatching test")
	handle, err := p.Adapter.Dispatch(ctx, d.ScannerID, test, registryRef)
	// The flag must be visible before the gate admits the next dispatch.
	if err != nil && provider.IsAuth(err) {
		authFailed.Store(true)
	}
	sem.Release(1)

	if err != nil {
		if provider.IsAuth(err) {
			logger.Error().Msg("Provider rejected credentials, skipping its remaining dispatches")
		}
		if ctx.Err() != nil && !provider.IsAuth(err) {
			o.markTerminal(d, run.StateTimedOut, "batch deadline expired during dispatch")
		} else {
			o.markTerminal(d, run.StateErrored, err.Error())
		}
		return
	}

	if err := d.MarkPolling(handle); err != nil {
		o.markTerminal(d, run.StateErrored, err.Error())
		return
	}
	logger.Info().Str("handle", handle).Msg("Dispatched, polling for completion")

	engine := poller.New(p.Adapter, poller.Config{
		Schedule:   o.opts.Schedule,
		RunTimeout: test.TimeoutDuration(),
		Retries:    o.opts.Retries,
		RetryDelay: o.opts.RetryDelay,
		Gate:       sem,
	})
	if err := engine.Wait(ctx, d); err != nil {
		o.markTerminal(d, run.StateErrored, err.Error())
		return
	}

	logger.Info().Stringer("state", d.State).Dur("duration", d.Duration).Msg("Run finished")
}

// checkTotalFailure detects the one fatal condition: every run on every
// provider failed before a handle was ever assigned.
func (o *Orchestrator) checkTotalFailure(byProvider map[string][]*run.Descriptor) error {
	total := 0
	for _, descriptors := range byProvider {
		for _, d := range descriptors {
			total++
			if d.Handle != "" || d.State != run.StateErrored {
				return nil
			}
		}
	}
	if total == 0 {
		return nil
	}
	return ErrAllDispatchesFailed
}

func (o *Orchestrator) markTerminal(d *run.Descriptor, state run.State, message string) {
	if !d.State.Terminal() && d.State == run.StatePending {
		// Descriptors that never dispatched still stamp a dispatch time so
		// the lattice stays forward-only.
		_ = d.MarkDispatching(time.Now())
	}
	if err := d.MarkTerminal(state, time.Now(), message); err != nil {
		log.Error().Err(err).Str("run", d.Key()).Msg("Dropped illegal state transition")
	}
}
