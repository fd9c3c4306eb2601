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

	"github.com/regata-dev/regata/pkg/registry"
)

// GitLabConfig holds addressing and credentials for the GitLab CI adapter.
type GitLabConfig struct {
	Token     string `koanf:"token" validate:"required"`
	ProjectID string `koanf:"project_id" validate:"required"`

	// Ref is the git ref the test pipeline runs on.
	Ref string `koanf:"ref"`

	BaseURL string `koanf:"base_url"`

	Concurrency int `koanf:"concurrency"`
}

// GitLab drives tests through GitLab CI pipelines. The pipeline-create call
// returns the pipeline id directly, so no handle resolution is needed.
type GitLab struct {
	cfg    GitLabConfig
	client *http.Client
}

// NewGitLab builds a GitLab CI adapter from cfg.
func NewGitLab(cfg GitLabConfig) *GitLab {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://gitlab.com/api/v4"
	}
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}
	return &GitLab{cfg: cfg, client: defaultClient()}
}

func (g *GitLab) Name() string { return "gitlab" }

// Dispatch creates a pipeline and returns its id.
func (g *GitLab) Dispatch(ctx context.Context, scannerID string, test registry.Test, registryRef string) (string, error) {
	variables := []map[string]string{
		{"key": "SCANNER_ID", "value": scannerID},
		{"key": "TEST_NAME", "value": test.Name},
		{"key": "TEST_TYPE", "value": test.Type},
		{"key": "SOURCE_URL", "value": test.Source.URL},
		{"key": "SOURCE_REF", "value": test.Source.Ref},
		{"key": "REGISTRY_REF", "value": registryRef},
		{"key": "SCAN_PATHS", "value": marshalJSONString(test.ScanPaths)},
		{"key": "TIMEOUT", "value": test.Timeout},
	}
	if test.ScanConfigs != nil {
		variables = append(variables, map[string]string{
			"key": "SCAN_CONFIGS", "value": marshalJSONString(test.ScanConfigs),
		})
	}

	payload := map[string]any{
		"ref":       g.cfg.Ref,
		"variables": variables,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", dispatchError(g.Name(), err)
	}

	url := fmt.Sprintf("%s/projects/%s/pipeline", g.cfg.BaseURL, g.cfg.ProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", dispatchError(g.Name(), err)
	}
	g.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	var created struct {
		ID *int64 `json:"id"`
	}
	if err := doJSON(g.client, req, g.Name(), "create pipeline", http.StatusCreated, &created); err != nil {
		return "", dispatchError(g.Name(), err)
	}
	if created.ID == nil {
		return "", dispatchError(g.Name(), fmt.Errorf("%w: pipeline id missing", ErrMalformedResponse))
	}
	return fmt.Sprintf("%d", *created.ID), nil
}

// Poll reads the current state of a pipeline.
func (g *GitLab) Poll(ctx context.Context, handle string) (PollResult, error) {
	url := fmt.Sprintf("%s/projects/%s/pipelines/%s", g.cfg.BaseURL, g.cfg.ProjectID, handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("%s: build request: %w", g.Name(), err)
	}
	g.setHeaders(req)

	var pipeline struct {
		Status     string     `json:"status"`
		WebURL     string     `json:"web_url"`
		StartedAt  *time.Time `json:"started_at"`
		FinishedAt *time.Time `json:"finished_at"`

		// Seconds, reported once the pipeline finished.
		Duration *float64 `json:"duration"`
	}
	if err := doJSON(g.client, req, g.Name(), "get pipeline", http.StatusOK, &pipeline); err != nil {
		return PollResult{}, err
	}

	switch pipeline.Status {
	case "success", "failed", "canceled", "skipped", "manual":
	default:
		return PollResult{Complete: false, RunURL: pipeline.WebURL}, nil
	}

	res := PollResult{
		Complete: true,
		RunURL:   pipeline.WebURL,
		Duration: spanBetween(pipeline.StartedAt, pipeline.FinishedAt),
	}
	if pipeline.Duration != nil && *pipeline.Duration > 0 {
		res.Duration = time.Duration(*pipeline.Duration * float64(time.Second))
	}
	res.Outcome, res.Message = mapGitLabStatus(pipeline.Status)
	return res, nil
}

func mapGitLabStatus(status string) (Outcome, string) {
	switch status {
	case "success":
		return OutcomeSucceeded, ""
	case "failed":
		return OutcomeFailed, "pipeline failed"
	case "canceled", "skipped", "manual":
		return OutcomeErrored, fmt.Sprintf("pipeline ended %s", status)
	default:
		return OutcomeErrored, fmt.Sprintf("unrecognized pipeline status %q", status)
	}
}

func (g *GitLab) setHeaders(req *http.Request) {
	req.Header.Set("PRIVATE-TOKEN", g.cfg.Token)
}
