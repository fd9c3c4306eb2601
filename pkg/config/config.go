package config

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Global Koanf instance, initialized once at startup.
var (
	k    *koanf.Koanf
	once sync.Once
)

// InitGlobalConfig initializes the global Koanf instance.
// This should be called early in the application lifecycle, before Load.
func InitGlobalConfig() {
	once.Do(func() {
		k = koanf.New(".")
	})
}

// Manager handles loading and accessing application configuration.
type Manager struct {
	koanfInstance *koanf.Koanf
	currentConfig Config
	mu            sync.RWMutex
}

// NewManager creates a new Manager backed by the global Koanf instance,
// initializing it if not already done.
func NewManager() *Manager {
	InitGlobalConfig()
	return &Manager{
		koanfInstance: k,
	}
}

// DefaultConfig returns a new Config struct populated with hardcoded default
// values. These serve as the baseline configuration if no other sources
// override them.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Registry: RegistryConfig{
			Path:    ".",
			BaseRef: "origin/main",
		},
		Run: RunConfig{
			GlobalTimeout:  time.Hour,
			PollInitial:    10 * time.Second,
			PollMax:        30 * time.Second,
			PollMultiplier: 2.0,
			Retries:        3,
			RetryDelay:     2 * time.Second,
		},
	}
}

// Load loads configuration from the given sources in priority order and
// unmarshals the merged result into the manager's current config.
func (m *Manager) Load(sources []ConfigSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := append([]ConfigSource(nil), sources...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})

	for _, src := range ordered {
		if err := src.Load(m.koanfInstance); err != nil {
			return fmt.Errorf("loading config source %s: %w", src.Name(), err)
		}
	}

	var newCfg Config
	if err := m.koanfInstance.UnmarshalWithConf("", &newCfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("error unmarshaling final config: %w", err)
	}
	m.currentConfig = newCfg

	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfgCopy := m.currentConfig
	return cfgCopy
}

// DefaultConfigAsMap converts the DefaultConfig struct to a
// map[string]interface{} for Koanf's confmap.Provider. This is a bit manual
// but ensures Koanf knows all keys.
func DefaultConfigAsMap() map[string]interface{} {
	def := DefaultConfig()
	return map[string]interface{}{
		// Log configuration
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,
		"log.file":   def.Log.File,

		// Registry configuration
		"registry.path":     def.Registry.Path,
		"registry.base_ref": def.Registry.BaseRef,

		// Run configuration
		"run.global_timeout":  def.Run.GlobalTimeout,
		"run.poll_initial":    def.Run.PollInitial,
		"run.poll_max":        def.Run.PollMax,
		"run.poll_multiplier": def.Run.PollMultiplier,
		"run.retries":         def.Run.Retries,
		"run.retry_delay":     def.Run.RetryDelay,

		// Providers are disabled until explicitly configured.
		"providers.github.enabled":    false,
		"providers.gitlab.enabled":    false,
		"providers.azure.enabled":     false,
		"providers.bitbucket.enabled": false,
	}
}

// BindRunFlags defines command-line flags corresponding to batch execution
// settings. These flags allow overriding config file / environment variable
// values and are namespaced under 'run.' to avoid conflicts.
func BindRunFlags(flags *pflag.FlagSet) {
	defaults := DefaultConfig().Run

	flags.Duration("run.global_timeout", defaults.GlobalTimeout, "Deadline for the whole batch")
	flags.Duration("run.poll_initial", defaults.PollInitial, "First polling interval")
	flags.Duration("run.poll_max", defaults.PollMax, "Polling interval ceiling")
	flags.Int("run.retries", defaults.Retries, "Transient poll error retries per attempt")
}
