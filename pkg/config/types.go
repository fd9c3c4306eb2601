package config

import (
	"time"

	"github.com/regata-dev/regata/pkg/provider"
)

// Config is the root configuration structure for the regata application.
// It aggregates all other specific configuration structs.
type Config struct {
	Log       LogConfig       `description:"Logging configuration" koanf:"log"`
	Registry  RegistryConfig  `description:"Scanner registry checkout settings" koanf:"registry"`
	Run       RunConfig       `description:"Dispatch and polling behavior" koanf:"run"`
	Providers ProvidersConfig `description:"CI provider credentials and targets" koanf:"providers"`
}

// LogConfig holds logging related configuration.
type LogConfig struct {
	Level  string `description:"Log level applied to regata logs." koanf:"level"`
	Format string `description:"Log format: json | text" koanf:"format"`
	File   string `description:"Log file path" koanf:"file"`
}

// RegistryConfig locates the scanner registry checkout that runs are
// validated against.
type RegistryConfig struct {
	// Path is the root of the registry git checkout.
	Path string `description:"Registry checkout directory" koanf:"path"`

	// BaseRef is the ref changed scanners are diffed against.
	BaseRef string `description:"Base git ref for change detection" koanf:"base_ref"`
}

// RunConfig tunes batch execution: the overall deadline, the polling
// schedule, and transient-error retry behavior.
type RunConfig struct {
	GlobalTimeout  time.Duration `description:"Deadline for the whole batch" koanf:"global_timeout"`
	PollInitial    time.Duration `description:"First polling interval" koanf:"poll_initial"`
	PollMax        time.Duration `description:"Polling interval ceiling" koanf:"poll_max"`
	PollMultiplier float64       `description:"Backoff multiplier between polls" koanf:"poll_multiplier"`
	Retries        int           `description:"Transient poll error retries per attempt" koanf:"retries"`
	RetryDelay     time.Duration `description:"Delay between transient retries" koanf:"retry_delay"`
}

// ProvidersConfig holds per-provider settings. A provider participates in a
// batch only when its Enabled flag is set.
type ProvidersConfig struct {
	GitHub    GitHubProvider    `description:"GitHub Actions settings" koanf:"github"`
	GitLab    GitLabProvider    `description:"GitLab CI settings" koanf:"gitlab"`
	Azure     AzureProvider     `description:"Azure DevOps Pipelines settings" koanf:"azure"`
	Bitbucket BitbucketProvider `description:"Bitbucket Pipelines settings" koanf:"bitbucket"`
}

// GitHubProvider wraps the adapter settings with an enable switch.
type GitHubProvider struct {
	Enabled               bool `description:"Dispatch runs to GitHub Actions" koanf:"enabled"`
	provider.GitHubConfig `koanf:",squash"`
}

// GitLabProvider wraps the adapter settings with an enable switch.
type GitLabProvider struct {
	Enabled               bool `description:"Dispatch runs to GitLab CI" koanf:"enabled"`
	provider.GitLabConfig `koanf:",squash"`
}

// AzureProvider wraps the adapter settings with an enable switch.
type AzureProvider struct {
	Enabled              bool `description:"Dispatch runs to Azure DevOps" koanf:"enabled"`
	provider.AzureConfig `koanf:",squash"`
}

// BitbucketProvider wraps the adapter settings with an enable switch.
type BitbucketProvider struct {
	Enabled                  bool `description:"Dispatch runs to Bitbucket Pipelines" koanf:"enabled"`
	provider.BitbucketConfig `koanf:",squash"`
}
