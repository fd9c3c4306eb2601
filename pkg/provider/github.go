// Copyright 2025 Regata Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/regata-dev/regata/pkg/registry"
)

// GitHubConfig holds addressing and credentials for the GitHub Actions
// adapter. Immutable after construction; the token is never logged.
type GitHubConfig struct {
	Token      string `koanf:"token" validate:"required"`
	Owner      string `koanf:"owner" validate:"required"`
	Repo       string `koanf:"repo" validate:"required"`
	WorkflowID string `koanf:"workflow_id" validate:"required"`

	// Ref is the git ref of the test-runner repository the workflow runs on.
	Ref string `koanf:"ref"`

	BaseURL string `koanf:"base_url"`

	// Concurrency caps simultaneous API calls against this provider.
	Concurrency int `koanf:"concurrency"`
}

// GitHub drives tests through GitHub Actions workflow dispatches.
//
// workflow_dispatch only acknowledges receipt; the run object appears
// moments later with no link back to the request. Dispatch therefore embeds
// a correlation token in the workflow inputs and resolves the handle by
// listing recent runs, matching the token against the run title when the
// workflow surfaces it and falling back to a creation-time window
// otherwise. The fallback is a heuristic, not a guaranteed-unique match.
type GitHub struct {
	cfg    GitHubConfig
	client *http.Client

	resolveAttempts int
	resolveDelay    time.Duration
	matchWindow     time.Duration
	now             func() time.Time
}

// NewGitHub builds a GitHub Actions adapter from cfg.
func NewGitHub(cfg GitHubConfig) *GitHub {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}
	return &GitHub{
		cfg:             cfg,
		client:          defaultClient(),
		resolveAttempts: 10,
		resolveDelay:    2 * time.Second,
		matchWindow:     time.Minute,
		now:             time.Now,
	}
}

func (g *GitHub) Name() string { return "github" }

// Dispatch triggers the workflow and resolves the run it created.
func (g *GitHub) Dispatch(ctx context.Context, scannerID string, test registry.Test, registryRef string) (string, error) {
	correlation := uuid.NewString()
	dispatchedAt := g.now()

	inputs := map[string]string{
		"scanner_id":     scannerID,
		"test_name":      test.Name,
		"test_type":      test.Type,
		"source_url":     test.Source.URL,
		"source_ref":     test.Source.Ref,
		"registry_ref":   registryRef,
		"scan_paths":     marshalJSONString(test.ScanPaths),
		"timeout":        test.Timeout,
		"correlation_id": correlation,
	}
	if test.ScanConfigs != nil {
		inputs["scan_configs"] = marshalJSONString(test.ScanConfigs)
	}

	payload := map[string]any{
		"ref":    g.cfg.Ref,
		"inputs": inputs,
	}

	url := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/dispatches",
		g.cfg.BaseURL, g.cfg.Owner, g.cfg.Repo, g.cfg.WorkflowID)

	if err := g.post(ctx, url, payload, http.StatusNoContent, nil); err != nil {
		return "", dispatchError(g.Name(), err)
	}

	handle, err := g.resolveHandle(ctx, correlation, dispatchedAt)
	if err != nil {
		return "", err
	}

	log.Debug().Str("provider", g.Name()).Str("handle", handle).Msg("Workflow run resolved")
	return handle, nil
}

// Poll reads the current state of a workflow run.
func (g *GitHub) Poll(ctx context.Context, handle string) (PollResult, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%s", g.cfg.BaseURL, g.cfg.Owner, g.cfg.Repo, handle)

	var run workflowRun
	if err := g.get(ctx, url, "poll run", &run); err != nil {
		return PollResult{}, err
	}

	if run.Status != "completed" {
		return PollResult{Complete: false, RunURL: run.HTMLURL}, nil
	}

	res := PollResult{
		Complete: true,
		RunURL:   run.HTMLURL,
		Duration: spanBetween(run.RunStartedAt, run.UpdatedAt),
	}
	res.Outcome, res.Message = mapGitHubConclusion(run.Conclusion)
	return res, nil
}

type workflowRun struct {
	ID           int64      `json:"id"`
	Status       string     `json:"status"`
	Conclusion   string     `json:"conclusion"`
	HTMLURL      string     `json:"html_url"`
	Name         string     `json:"name"`
	DisplayTitle string     `json:"display_title"`
	CreatedAt    *time.Time `json:"created_at"`
	RunStartedAt *time.Time `json:"run_started_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
}

// resolveHandle finds the run the dispatch created, within a bounded number
// of list attempts. A best-guess handle is never returned: when nothing
// matches, dispatch fails with ErrHandleResolution.
func (g *GitHub) resolveHandle(ctx context.Context, correlation string, dispatchedAt time.Time) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/runs?per_page=5", g.cfg.BaseURL, g.cfg.Owner, g.cfg.Repo)

	for attempt := 0; attempt < g.resolveAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, g.resolveDelay); err != nil {
				return "", fmt.Errorf("%w: %s: %w", ErrHandleResolution, g.Name(), err)
			}
		}

		var list struct {
			WorkflowRuns []workflowRun `json:"workflow_runs"`
		}
		if err := g.get(ctx, url, "list runs", &list); err != nil {
			if IsAuth(err) {
				return "", err
			}
			log.Debug().Err(err).Str("provider", g.Name()).Msg("Run listing failed, retrying resolution")
			continue
		}

		if run, ok := g.matchRun(list.WorkflowRuns, correlation, dispatchedAt); ok {
			return fmt.Sprintf("%d", run.ID), nil
		}
	}

	return "", fmt.Errorf("%w: %s: no run matched within %d attempts", ErrHandleResolution, g.Name(), g.resolveAttempts)
}

func (g *GitHub) matchRun(runs []workflowRun, correlation string, dispatchedAt time.Time) (workflowRun, bool) {
	// Exact match on the correlation token first, for workflows that embed
	// inputs.correlation_id in their run-name.
	for _, run := range runs {
		if containsToken(run.DisplayTitle, correlation) || containsToken(run.Name, correlation) {
			return run, true
		}
	}

	// Time-window heuristic: the newest not-yet-completed run created
	// around the dispatch.
	for _, run := range runs {
		if run.Status == "completed" || run.CreatedAt == nil {
			continue
		}
		if !run.CreatedAt.Before(dispatchedAt.Add(-g.matchWindow)) {
			return run, true
		}
	}

	return workflowRun{}, false
}

func mapGitHubConclusion(conclusion string) (Outcome, string) {
	switch conclusion {
	case "success", "neutral":
		return OutcomeSucceeded, ""
	case "failure":
		return OutcomeFailed, "workflow run failed"
	case "timed_out":
		return OutcomeFailed, "workflow run timed out on provider"
	case "cancelled", "action_required", "skipped", "stale":
		return OutcomeErrored, fmt.Sprintf("workflow run concluded %s", conclusion)
	default:
		return OutcomeErrored, fmt.Sprintf("unrecognized workflow conclusion %q", conclusion)
	}
}

func (g *GitHub) post(ctx context.Context, url string, payload any, wantStatus int, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode payload: %w", g.Name(), err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", g.Name(), err)
	}
	g.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return doJSON(g.client, req, g.Name(), "dispatch workflow", wantStatus, out)
}

func (g *GitHub) get(ctx context.Context, url, op string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", g.Name(), err)
	}
	g.setHeaders(req)
	return doJSON(g.client, req, g.Name(), op, http.StatusOK, out)
}

func (g *GitHub) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
}
