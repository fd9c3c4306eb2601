package report

import (
	"time"

	"github.com/regata-dev/regata/pkg/run"
)

// RunResult is the read-only snapshot of one terminal run descriptor as it
// appears in the aggregate report.
type RunResult struct {
	Provider  string        `json:"provider"`
	ScannerID string        `json:"scanner"`
	TestName  string        `json:"test_name"`
	State     string        `json:"status"`
	Duration  time.Duration `json:"-"`
	Seconds   float64       `json:"duration"`
	Message   string        `json:"message,omitempty"`
	RunURL    string        `json:"run_url,omitempty"`
}

// Counts summarizes terminal states.
type Counts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
	Errored   int `json:"errored"`
}

// Total is the number of runs the counts cover.
func (c Counts) Total() int {
	return c.Succeeded + c.Failed + c.TimedOut + c.Errored
}

func (c *Counts) add(state run.State) {
	switch state {
	case run.StateSucceeded:
		c.Succeeded++
	case run.StateFailed:
		c.Failed++
	case run.StateTimedOut:
		c.TimedOut++
	default:
		c.Errored++
	}
}

// ProviderReport groups one provider's runs, in dispatch order.
type ProviderReport struct {
	Provider string      `json:"provider"`
	Runs     []RunResult `json:"runs"`
	Counts   Counts      `json:"counts"`
}

// Report is the aggregate outcome of a whole batch. Built once, after every
// run reached a terminal state; read-only afterwards.
type Report struct {
	Providers []ProviderReport `json:"providers"`
	Totals    Counts           `json:"totals"`
}

// Build reduces terminal descriptors into a report. providerOrder fixes the
// order provider sections appear in; each provider's runs keep the order of
// the given slice, which the coordinator hands over in dispatch order so the
// output is reproducible regardless of completion order.
func Build(providerOrder []string, byProvider map[string][]*run.Descriptor) *Report {
	r := &Report{}

	for _, name := range providerOrder {
		descriptors := byProvider[name]
		pr := ProviderReport{
			Provider: name,
			Runs:     make([]RunResult, 0, len(descriptors)),
		}
		for _, d := range descriptors {
			pr.Runs = append(pr.Runs, snapshot(d))
			pr.Counts.add(d.State)
			r.Totals.add(d.State)
		}
		r.Providers = append(r.Providers, pr)
	}

	return r
}

// Success reports whether every run succeeded. The process exit signal
// derives from this, never from internal errors.
func (r *Report) Success() bool {
	return r.Totals.Total() == r.Totals.Succeeded
}

// TotalRuns is the number of runs across all providers.
func (r *Report) TotalRuns() int {
	return r.Totals.Total()
}

func snapshot(d *run.Descriptor) RunResult {
	return RunResult{
		Provider:  d.Provider,
		ScannerID: d.ScannerID,
		TestName:  d.TestName,
		State:     d.State.String(),
		Duration:  d.Duration,
		Seconds:   d.Duration.Seconds(),
		Message:   d.Message,
		RunURL:    d.RunURL,
	}
}
