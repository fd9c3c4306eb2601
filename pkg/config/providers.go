package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"github.com/regata-dev/regata/pkg/orchestrator"
	"github.com/regata-dev/regata/pkg/poller"
	"github.com/regata-dev/regata/pkg/provider"
)

// Options converts the run settings into orchestrator options.
func (c RunConfig) Options() orchestrator.Options {
	return orchestrator.Options{
		GlobalTimeout: c.GlobalTimeout,
		Schedule: poller.Schedule{
			Initial:    c.PollInitial,
			Max:        c.PollMax,
			Multiplier: c.PollMultiplier,
		},
		Retries:    c.Retries,
		RetryDelay: c.RetryDelay,
	}
}

// BuildProviders constructs an adapter for every enabled provider. Missing
// credentials fall back to the conventional environment variables before
// validation, so CI secrets never need to live in the config file:
//
//	GITHUB_TOKEN, GITLAB_TOKEN, AZURE_DEVOPS_TOKEN, AZURE_PIPELINE_ID,
//	BITBUCKET_APP_PASSWORD
//
// Each enabled provider's settings are validated and a descriptive error is
// returned for the first provider that fails.
func BuildProviders(cfg ProvidersConfig) ([]orchestrator.Provider, error) {
	validate := validator.New()
	var providers []orchestrator.Provider

	if cfg.GitHub.Enabled {
		pc := cfg.GitHub.GitHubConfig
		if pc.Token == "" {
			pc.Token = os.Getenv("GITHUB_TOKEN")
		}
		if err := validate.Struct(pc); err != nil {
			return nil, fmt.Errorf("%w: github: %v", orchestrator.ErrInvalidProviderConfig, err)
		}
		providers = append(providers, orchestrator.Provider{
			Adapter:     provider.NewGitHub(pc),
			Concurrency: int64(pc.Concurrency),
		})
	}

	if cfg.GitLab.Enabled {
		pc := cfg.GitLab.GitLabConfig
		if pc.Token == "" {
			pc.Token = os.Getenv("GITLAB_TOKEN")
		}
		if err := validate.Struct(pc); err != nil {
			return nil, fmt.Errorf("%w: gitlab: %v", orchestrator.ErrInvalidProviderConfig, err)
		}
		providers = append(providers, orchestrator.Provider{
			Adapter:     provider.NewGitLab(pc),
			Concurrency: int64(pc.Concurrency),
		})
	}

	if cfg.Azure.Enabled {
		pc := cfg.Azure.AzureConfig
		if pc.Token == "" {
			pc.Token = os.Getenv("AZURE_DEVOPS_TOKEN")
		}
		if pc.PipelineID == 0 {
			pc.PipelineID = cast.ToInt(os.Getenv("AZURE_PIPELINE_ID"))
		}
		if err := validate.Struct(pc); err != nil {
			return nil, fmt.Errorf("%w: azure: %v", orchestrator.ErrInvalidProviderConfig, err)
		}
		providers = append(providers, orchestrator.Provider{
			Adapter:     provider.NewAzure(pc),
			Concurrency: int64(pc.Concurrency),
		})
	}

	if cfg.Bitbucket.Enabled {
		pc := cfg.Bitbucket.BitbucketConfig
		if pc.AppPassword == "" {
			pc.AppPassword = os.Getenv("BITBUCKET_APP_PASSWORD")
		}
		if err := validate.Struct(pc); err != nil {
			return nil, fmt.Errorf("%w: bitbucket: %v", orchestrator.ErrInvalidProviderConfig, err)
		}
		providers = append(providers, orchestrator.Provider{
			Adapter:     provider.NewBitbucket(pc),
			Concurrency: int64(pc.Concurrency),
		})
	}

	return providers, nil
}
