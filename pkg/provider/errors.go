package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors classifying provider failures. The poller and the
// coordinator branch on these, never on wire details.
var (
	// ErrAuth indicates the provider rejected our credentials (401/403
	// equivalents). Retrying cannot help; the coordinator may skip further
	// calls against the same provider.
	ErrAuth = errors.New("provider authentication failed")

	// ErrDispatch indicates the provider rejected or could not be reached
	// at trigger time.
	ErrDispatch = errors.New("dispatch rejected by provider")

	// ErrHandleResolution indicates a triggered run could not be
	// correlated back to a handle within the resolution window.
	ErrHandleResolution = errors.New("could not resolve run handle")

	// ErrMalformedResponse indicates the provider answered with something
	// we could not interpret.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// IsAuth reports whether err stems from a credential or permission failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// statusError classifies an unexpected HTTP status from a provider.
func statusError(providerName, op string, status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 256 {
		detail = detail[:256]
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrAuth, providerName, op, status, detail)
	default:
		return fmt.Errorf("%s %s: unexpected status code: %d: %s", providerName, op, status, detail)
	}
}

// dispatchError wraps a trigger-time failure so the coordinator records the
// run as errored without aborting the batch.
func dispatchError(providerName string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuth) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDispatch, providerName, err)
}
