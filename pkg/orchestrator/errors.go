package orchestrator

import "errors"

// Sentinel errors for batch-wide misconfiguration. These are the only
// conditions that abort a whole batch; individual run failures live in the
// report, never here.
var (
	// ErrNoProviders indicates the batch had no configured providers.
	ErrNoProviders = errors.New("no providers configured")

	// ErrAllDispatchesFailed indicates every run for every provider failed
	// at trigger time, which means the batch was misconfigured rather than
	// flaky.
	ErrAllDispatchesFailed = errors.New("all dispatches failed for every provider")

	// ErrInvalidProviderConfig indicates a provider's settings failed
	// validation before any dispatch was attempted.
	ErrInvalidProviderConfig = errors.New("invalid provider configuration")
)

// IsConfiguration reports whether err is a batch-wide configuration failure.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrNoProviders) ||
		errors.Is(err, ErrAllDispatchesFailed) ||
		errors.Is(err, ErrInvalidProviderConfig)
}
