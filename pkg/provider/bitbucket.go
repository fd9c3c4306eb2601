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
	"strings"
	"time"

	"github.com/regata-dev/regata/pkg/registry"
)

// BitbucketConfig holds addressing and credentials for the Bitbucket
// Pipelines adapter.
type BitbucketConfig struct {
	Username    string `koanf:"username" validate:"required"`
	AppPassword string `koanf:"app_password" validate:"required"`
	Workspace   string `koanf:"workspace" validate:"required"`
	RepoSlug    string `koanf:"repo_slug" validate:"required"`

	// Ref is the branch the test pipeline runs on.
	Ref string `koanf:"ref"`

	BaseURL string `koanf:"base_url"`

	Concurrency int `koanf:"concurrency"`
}

// Bitbucket drives tests through Bitbucket Pipelines. The trigger call
// returns the pipeline UUID directly; Bitbucket wraps UUIDs in braces on the
// wire, which are stripped from the handle and re-added on poll.
type Bitbucket struct {
	cfg    BitbucketConfig
	client *http.Client
}

// NewBitbucket builds a Bitbucket Pipelines adapter from cfg.
func NewBitbucket(cfg BitbucketConfig) *Bitbucket {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.bitbucket.org/2.0"
	}
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}
	return &Bitbucket{cfg: cfg, client: defaultClient()}
}

func (b *Bitbucket) Name() string { return "bitbucket" }

// Dispatch triggers a pipeline and returns its UUID.
func (b *Bitbucket) Dispatch(ctx context.Context, scannerID string, test registry.Test, registryRef string) (string, error) {
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
		"target": map[string]string{
			"ref_type": "branch",
			"type":     "pipeline_ref_target",
			"ref_name": b.cfg.Ref,
		},
		"variables": variables,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", dispatchError(b.Name(), err)
	}

	url := fmt.Sprintf("%s/repositories/%s/%s/pipelines/", b.cfg.BaseURL, b.cfg.Workspace, b.cfg.RepoSlug)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", dispatchError(b.Name(), err)
	}
	req.SetBasicAuth(b.cfg.Username, b.cfg.AppPassword)
	req.Header.Set("Content-Type", "application/json")

	var created struct {
		UUID string `json:"uuid"`
	}
	if err := doJSON(b.client, req, b.Name(), "trigger pipeline", http.StatusCreated, &created); err != nil {
		return "", dispatchError(b.Name(), err)
	}
	if created.UUID == "" {
		return "", dispatchError(b.Name(), fmt.Errorf("%w: pipeline uuid missing", ErrMalformedResponse))
	}
	return strings.Trim(created.UUID, "{}"), nil
}

// Poll reads the current state of a pipeline.
func (b *Bitbucket) Poll(ctx context.Context, handle string) (PollResult, error) {
	url := fmt.Sprintf("%s/repositories/%s/%s/pipelines/{%s}", b.cfg.BaseURL, b.cfg.Workspace, b.cfg.RepoSlug, handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("%s: build request: %w", b.Name(), err)
	}
	req.SetBasicAuth(b.cfg.Username, b.cfg.AppPassword)

	var pipeline struct {
		State struct {
			Name   string `json:"name"`
			Result struct {
				Name string `json:"name"`
			} `json:"result"`
		} `json:"state"`
		CreatedOn *time.Time `json:"created_on"`

		// Seconds, reported once the pipeline finished.
		DurationInSeconds *int64 `json:"duration_in_seconds"`

		Links struct {
			HTML struct {
				Href string `json:"href"`
			} `json:"html"`
		} `json:"links"`
	}
	if err := doJSON(b.client, req, b.Name(), "get pipeline", http.StatusOK, &pipeline); err != nil {
		return PollResult{}, err
	}

	if pipeline.State.Name != "COMPLETED" {
		return PollResult{Complete: false, RunURL: pipeline.Links.HTML.Href}, nil
	}

	res := PollResult{
		Complete: true,
		RunURL:   pipeline.Links.HTML.Href,
	}
	if pipeline.DurationInSeconds != nil && *pipeline.DurationInSeconds > 0 {
		res.Duration = time.Duration(*pipeline.DurationInSeconds) * time.Second
	}
	res.Outcome, res.Message = mapBitbucketResult(pipeline.State.Result.Name)
	return res, nil
}

func mapBitbucketResult(result string) (Outcome, string) {
	switch result {
	case "SUCCESSFUL":
		return OutcomeSucceeded, ""
	case "FAILED":
		return OutcomeFailed, "pipeline failed"
	case "ERROR", "STOPPED":
		return OutcomeErrored, fmt.Sprintf("pipeline ended %s", result)
	default:
		return OutcomeErrored, fmt.Sprintf("unrecognized pipeline result %q", result)
	}
}
