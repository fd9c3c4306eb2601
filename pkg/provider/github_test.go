// Copyright 2025 Regata Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regata-dev/regata/pkg/registry"
)

func sampleTest() registry.Test {
	return registry.Test{
		Name:      "scan source",
		Type:      "source-code",
		Source:    registry.TestSource{URL: "https://github.com/example/fixture", Ref: "main"},
		ScanPaths: []string{"src/"},
		Timeout:   "5m",
	}
}

func newGitHubForTest(t *testing.T, handler http.Handler) *GitHub {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g := NewGitHub(GitHubConfig{
		Token:      "token",
		Owner:      "owner",
		Repo:       "repo",
		WorkflowID: "test.yaml",
		BaseURL:    server.URL,
	})
	g.resolveAttempts = 3
	g.resolveDelay = time.Millisecond
	return g
}

func TestGitHub_DispatchResolvesByCorrelationToken(t *testing.T) {
	var correlation string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/owner/repo/actions/workflows/test.yaml/dispatches", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Ref    string            `json:"ref"`
			Inputs map[string]string `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "main", payload.Ref)
		assert.Equal(t, "org/scanner", payload.Inputs["scanner_id"])
		assert.Equal(t, "abc123", payload.Inputs["registry_ref"])
		correlation = payload.Inputs["correlation_id"]
		require.NotEmpty(t, correlation)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /repos/owner/repo/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		fmt.Fprintf(w, `{"workflow_runs": [
			{"id": 7, "status": "in_progress", "display_title": "other run", "created_at": %q},
			{"id": 42, "status": "queued", "display_title": "test %s", "created_at": %q}
		]}`, now.Format(time.RFC3339), correlation, now.Format(time.RFC3339))
	})

	g := newGitHubForTest(t, mux)

	handle, err := g.Dispatch(context.Background(), "org/scanner", sampleTest(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "42", handle)
}

func TestGitHub_DispatchFallsBackToTimeWindow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/owner/repo/actions/workflows/test.yaml/dispatches", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /repos/owner/repo/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		old := now.Add(-2 * time.Hour)
		fmt.Fprintf(w, `{"workflow_runs": [
			{"id": 1, "status": "completed", "created_at": %q},
			{"id": 2, "status": "in_progress", "created_at": %q},
			{"id": 3, "status": "in_progress", "created_at": %q}
		]}`, now.Format(time.RFC3339), old.Format(time.RFC3339), now.Format(time.RFC3339))
	})

	g := newGitHubForTest(t, mux)

	handle, err := g.Dispatch(context.Background(), "org/scanner", sampleTest(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "3", handle)
}

func TestGitHub_DispatchHandleResolutionExhausted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/owner/repo/actions/workflows/test.yaml/dispatches", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /repos/owner/repo/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"workflow_runs": [{"id": 1, "status": "completed", "created_at": %q}]}`,
			time.Now().UTC().Format(time.RFC3339))
	})

	g := newGitHubForTest(t, mux)

	_, err := g.Dispatch(context.Background(), "org/scanner", sampleTest(), "abc123")
	require.ErrorIs(t, err, ErrHandleResolution)
}

func TestGitHub_DispatchAuthFailure(t *testing.T) {
	g := newGitHubForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Bad credentials"}`, http.StatusUnauthorized)
	}))

	_, err := g.Dispatch(context.Background(), "org/scanner", sampleTest(), "abc123")
	require.ErrorIs(t, err, ErrAuth)
}

func TestGitHub_DispatchRejected(t *testing.T) {
	g := newGitHubForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "workflow not found"}`, http.StatusNotFound)
	}))

	_, err := g.Dispatch(context.Background(), "org/scanner", sampleTest(), "abc123")
	require.ErrorIs(t, err, ErrDispatch)
}

func TestGitHub_Poll(t *testing.T) {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		body         string
		wantComplete bool
		wantOutcome  Outcome
		wantDuration time.Duration
	}{
		{
			name:         "still running",
			body:         `{"status": "in_progress", "html_url": "https://github.test/run/1"}`,
			wantComplete: false,
		},
		{
			name: "succeeded with provider timestamps",
			body: fmt.Sprintf(`{"status": "completed", "conclusion": "success", "run_started_at": %q, "updated_at": %q}`,
				started.Format(time.RFC3339), started.Add(42*time.Second).Format(time.RFC3339)),
			wantComplete: true,
			wantOutcome:  OutcomeSucceeded,
			wantDuration: 42 * time.Second,
		},
		{
			name:         "failed without timestamps reports zero duration",
			body:         `{"status": "completed", "conclusion": "failure"}`,
			wantComplete: true,
			wantOutcome:  OutcomeFailed,
			wantDuration: 0,
		},
		{
			name:         "provider-side timeout maps to failed",
			body:         `{"status": "completed", "conclusion": "timed_out"}`,
			wantComplete: true,
			wantOutcome:  OutcomeFailed,
		},
		{
			name:         "unrecognized conclusion never maps to success",
			body:         `{"status": "completed", "conclusion": "cosmic_rays"}`,
			wantComplete: true,
			wantOutcome:  OutcomeErrored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGitHubForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/repos/owner/repo/actions/runs/42", r.URL.Path)
				assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
				fmt.Fprint(w, tt.body)
			}))

			res, err := g.Poll(context.Background(), "42")
			require.NoError(t, err)
			assert.Equal(t, tt.wantComplete, res.Complete)
			if tt.wantComplete {
				assert.Equal(t, tt.wantOutcome, res.Outcome)
			}
			assert.Equal(t, tt.wantDuration, res.Duration)
		})
	}
}

func TestGitHub_PollAuthFailure(t *testing.T) {
	g := newGitHubForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))

	_, err := g.Poll(context.Background(), "42")
	require.ErrorIs(t, err, ErrAuth)
}
