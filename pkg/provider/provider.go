// Copyright 2025 Regata Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package provider

// The provider package translates four CI/CD backends onto one two-call
// contract: Dispatch triggers a remote run and returns an opaque handle,
// Poll reads that run's current state without side effects. Everything the
// orchestration core knows about a backend goes through this contract;
// endpoint paths and payload shapes stay inside the concrete adapters.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/regata-dev/regata/pkg/registry"
)

// Outcome is a provider-reported terminal result, normalized across
// backends. Unrecognized provider responses always map to OutcomeErrored,
// never to success.
type Outcome int

const (
	OutcomeErrored Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "errored"
	}
}

// PollResult is one observation of a remote run. When Complete is false the
// remaining fields other than RunURL are meaningless; polls of a run that is
// about to finish legitimately report incomplete and the next poll picks the
// result up.
type PollResult struct {
	Complete bool
	Outcome  Outcome

	// Duration is derived from the provider's own run metadata. Zero means
	// the provider did not report usable timestamps; adapters never
	// fabricate a value from local clocks.
	Duration time.Duration

	Message string
	RunURL  string
}

// Adapter is the capability one CI/CD backend exposes to the orchestration
// core.
//
// Dispatch must return within a short bounded time regardless of how long
// the triggered run takes, performing at most a bounded handle-resolution
// sequence. Poll must be idempotent and side-effect free: any number of
// calls with the same handle, interleaved with other handles, never changes
// provider-side state.
type Adapter interface {
	Name() string
	Dispatch(ctx context.Context, scannerID string, test registry.Test, registryRef string) (string, error)
	Poll(ctx context.Context, handle string) (PollResult, error)
}

const defaultHTTPTimeout = 30 * time.Second

func defaultClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// doJSON issues one request and decodes the JSON body into out (when out is
// non-nil). Responses outside wantStatus are classified via statusError, so
// 401/403 surface as ErrAuth for every adapter.
func doJSON(client *http.Client, req *http.Request, providerName, op string, wantStatus int, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", providerName, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", providerName, op, err)
	}

	if resp.StatusCode != wantStatus {
		return statusError(providerName, op, resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrMalformedResponse, providerName, op, err)
	}
	return nil
}
