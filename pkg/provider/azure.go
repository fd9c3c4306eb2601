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

// AzureConfig holds addressing and credentials for the Azure DevOps
// Pipelines adapter. Token is a PAT, pre-encoded for basic auth.
type AzureConfig struct {
	Token        string `koanf:"token" validate:"required"`
	Organization string `koanf:"organization" validate:"required"`
	Project      string `koanf:"project" validate:"required"`
	PipelineID   int    `koanf:"pipeline_id" validate:"required"`

	BaseURL string `koanf:"base_url"`

	Concurrency int `koanf:"concurrency"`
}

// Azure drives tests through Azure DevOps pipeline runs. The run-create
// call returns the run id directly.
type Azure struct {
	cfg    AzureConfig
	client *http.Client
}

// NewAzure builds an Azure DevOps adapter from cfg.
func NewAzure(cfg AzureConfig) *Azure {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://dev.azure.com"
	}
	return &Azure{cfg: cfg, client: defaultClient()}
}

func (a *Azure) Name() string { return "azure" }

// Dispatch queues a pipeline run and returns its id.
func (a *Azure) Dispatch(ctx context.Context, scannerID string, test registry.Test, registryRef string) (string, error) {
	params := map[string]string{
		"SCANNER_ID":   scannerID,
		"TEST_NAME":    test.Name,
		"TEST_TYPE":    test.Type,
		"SOURCE_URL":   test.Source.URL,
		"SOURCE_REF":   test.Source.Ref,
		"REGISTRY_REF": registryRef,
		"SCAN_PATHS":   marshalJSONString(test.ScanPaths),
		"TIMEOUT":      test.Timeout,
	}
	if test.ScanConfigs != nil {
		params["SCAN_CONFIGS"] = marshalJSONString(test.ScanConfigs)
	}

	body, err := json.Marshal(map[string]any{"templateParameters": params})
	if err != nil {
		return "", dispatchError(a.Name(), err)
	}

	url := fmt.Sprintf("%s/%s/%s/_apis/pipelines/%d/runs?api-version=7.1",
		a.cfg.BaseURL, a.cfg.Organization, a.cfg.Project, a.cfg.PipelineID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", dispatchError(a.Name(), err)
	}
	a.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	var created struct {
		ID *int64 `json:"id"`
	}
	if err := doJSON(a.client, req, a.Name(), "run pipeline", http.StatusOK, &created); err != nil {
		return "", dispatchError(a.Name(), err)
	}
	if created.ID == nil {
		return "", dispatchError(a.Name(), fmt.Errorf("%w: run id missing", ErrMalformedResponse))
	}
	return fmt.Sprintf("%d", *created.ID), nil
}

// Poll reads the current state of a pipeline run.
func (a *Azure) Poll(ctx context.Context, handle string) (PollResult, error) {
	url := fmt.Sprintf("%s/%s/%s/_apis/pipelines/%d/runs/%s?api-version=7.1",
		a.cfg.BaseURL, a.cfg.Organization, a.cfg.Project, a.cfg.PipelineID, handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("%s: build request: %w", a.Name(), err)
	}
	a.setHeaders(req)

	var pipelineRun struct {
		State        string     `json:"state"`
		Result       string     `json:"result"`
		CreatedDate  *time.Time `json:"createdDate"`
		FinishedDate *time.Time `json:"finishedDate"`
		Links        struct {
			Web struct {
				Href string `json:"href"`
			} `json:"web"`
		} `json:"_links"`
	}
	if err := doJSON(a.client, req, a.Name(), "get run", http.StatusOK, &pipelineRun); err != nil {
		return PollResult{}, err
	}

	if pipelineRun.State != "completed" && pipelineRun.State != "canceling" {
		return PollResult{Complete: false, RunURL: pipelineRun.Links.Web.Href}, nil
	}

	res := PollResult{
		Complete: true,
		RunURL:   pipelineRun.Links.Web.Href,
		Duration: spanBetween(pipelineRun.CreatedDate, pipelineRun.FinishedDate),
	}
	res.Outcome, res.Message = mapAzureResult(pipelineRun.Result)
	return res, nil
}

func mapAzureResult(result string) (Outcome, string) {
	switch result {
	case "succeeded":
		return OutcomeSucceeded, ""
	case "failed":
		return OutcomeFailed, "pipeline run failed"
	case "canceled", "skipped":
		return OutcomeErrored, fmt.Sprintf("pipeline run %s", result)
	default:
		return OutcomeErrored, fmt.Sprintf("unrecognized pipeline result %q", result)
	}
}

func (a *Azure) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Basic "+a.cfg.Token)
}
