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
)

func newAzureForTest(t *testing.T, handler http.Handler) *Azure {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewAzure(AzureConfig{
		Token:        "cGF0",
		Organization: "org",
		Project:      "proj",
		PipelineID:   5,
		BaseURL:      server.URL,
	})
}

func TestAzure_Dispatch(t *testing.T) {
	a := newAzureForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/org/proj/_apis/pipelines/5/runs", r.URL.Path)
		assert.Equal(t, "7.1", r.URL.Query().Get("api-version"))
		assert.Equal(t, "Basic cGF0", r.Header.Get("Authorization"))

		var payload struct {
			TemplateParameters map[string]string `json:"templateParameters"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "org/scanner", payload.TemplateParameters["SCANNER_ID"])
		assert.Equal(t, "abc123", payload.TemplateParameters["REGISTRY_REF"])

		fmt.Fprint(w, `{"id": 314, "state": "inProgress"}`)
	}))

	handle, err := a.Dispatch(context.Background(), "org/scanner", sampleTest(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "314", handle)
}

func TestAzure_DispatchErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"auth", http.StatusForbidden, `{"message": "denied"}`, ErrAuth},
		{"rejected", http.StatusBadRequest, `{"message": "bad params"}`, ErrDispatch},
		{"id missing", http.StatusOK, `{"state": "inProgress"}`, ErrDispatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAzureForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))

			_, err := a.Dispatch(context.Background(), "org/scanner", sampleTest(), "abc123")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAzure_Poll(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		body         string
		wantComplete bool
		wantOutcome  Outcome
		wantDuration time.Duration
		wantURL      string
	}{
		{
			name:         "in progress",
			body:         `{"state": "inProgress"}`,
			wantComplete: false,
		},
		{
			name: "succeeded with timestamps and link",
			body: fmt.Sprintf(`{"state": "completed", "result": "succeeded", "createdDate": %q, "finishedDate": %q,
				"_links": {"web": {"href": "https://dev.azure.test/run/314"}}}`,
				created.Format(time.RFC3339), created.Add(42*time.Second).Format(time.RFC3339)),
			wantComplete: true,
			wantOutcome:  OutcomeSucceeded,
			wantDuration: 42 * time.Second,
			wantURL:      "https://dev.azure.test/run/314",
		},
		{
			name:         "canceling counts as complete",
			body:         `{"state": "canceling", "result": "canceled"}`,
			wantComplete: true,
			wantOutcome:  OutcomeErrored,
		},
		{
			name:         "unknown result maps to errored",
			body:         `{"state": "completed", "result": "abandoned"}`,
			wantComplete: true,
			wantOutcome:  OutcomeErrored,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAzureForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/org/proj/_apis/pipelines/5/runs/314", r.URL.Path)
				fmt.Fprint(w, tt.body)
			}))

			res, err := a.Poll(context.Background(), "314")
			require.NoError(t, err)
			assert.Equal(t, tt.wantComplete, res.Complete)
			if tt.wantComplete {
				assert.Equal(t, tt.wantOutcome, res.Outcome)
			}
			assert.Equal(t, tt.wantDuration, res.Duration)
			if tt.wantURL != "" {
				assert.Equal(t, tt.wantURL, res.RunURL)
			}
		})
	}
}
