package config

import (
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper to reset global variables for testing
func resetGlobalConfig() {
	k = nil
	once = sync.Once{}
}

func TestInitGlobalConfig_InitializesKoanfOnce(t *testing.T) {
	resetGlobalConfig()
	InitGlobalConfig()
	assert.NotNil(t, k, "Global koanf instance should be initialized")
}

func TestInitGlobalConfig_IsIdempotent(t *testing.T) {
	resetGlobalConfig()
	InitGlobalConfig()
	firstInstance := k
	InitGlobalConfig()
	secondInstance := k
	assert.Equal(t, firstInstance, secondInstance, "Koanf instance should not change on repeated InitGlobalConfig calls")
}

func TestNewManager_InitializesManagerWithGlobalKoanf(t *testing.T) {
	resetGlobalConfig()
	manager := NewManager()
	assert.NotNil(t, manager, "Manager should not be nil")
	assert.Equal(t, k, manager.koanfInstance, "Manager's koanfInstance should use the global Koanf instance")
}

func TestNewManager_MultipleManagersShareGlobalKoanf(t *testing.T) {
	resetGlobalConfig()
	manager1 := NewManager()
	manager2 := NewManager()
	assert.Equal(t, manager1.koanfInstance, manager2.koanfInstance, "All managers should share the same global Koanf instance")
}

func TestDefaultConfig_ReturnsExpectedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "origin/main", cfg.Registry.BaseRef)
	assert.Equal(t, time.Hour, cfg.Run.GlobalTimeout)
	assert.Equal(t, 10*time.Second, cfg.Run.PollInitial)
	assert.Equal(t, 30*time.Second, cfg.Run.PollMax)
	assert.Equal(t, 3, cfg.Run.Retries)
	assert.False(t, cfg.Providers.GitHub.Enabled, "Providers should be disabled until configured")
}

func TestManager_Load_Defaults(t *testing.T) {
	resetGlobalConfig()
	manager := NewManager()
	err := manager.Load(DefaultSources("", nil, false))
	require.NoError(t, err)

	cfg := manager.Get()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ".", cfg.Registry.Path)
	assert.Equal(t, 2.0, cfg.Run.PollMultiplier)
}

func TestManager_Load_FlagsOverrideDefaults(t *testing.T) {
	resetGlobalConfig()
	manager := NewManager()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindRunFlags(flags)
	_ = flags.Set("run.global_timeout", "15m")
	_ = flags.Set("run.retries", "5")

	err := manager.Load(DefaultSources("", flags, false))
	require.NoError(t, err)

	cfg := manager.Get()
	assert.Equal(t, 15*time.Minute, cfg.Run.GlobalTimeout)
	assert.Equal(t, 5, cfg.Run.Retries)
	assert.Equal(t, 10*time.Second, cfg.Run.PollInitial, "untouched keys keep their defaults")
}

func TestManager_Load_DebugSetsLogLevel(t *testing.T) {
	resetGlobalConfig()
	manager := NewManager()

	err := manager.Load(DefaultSources("", nil, true))
	require.NoError(t, err)

	assert.Equal(t, "debug", manager.Get().Log.Level)
}

func TestRunConfig_Options(t *testing.T) {
	opts := DefaultConfig().Run.Options()
	assert.Equal(t, time.Hour, opts.GlobalTimeout)
	assert.Equal(t, 10*time.Second, opts.Schedule.Initial)
	assert.Equal(t, 30*time.Second, opts.Schedule.Max)
	assert.Equal(t, 2.0, opts.Schedule.Multiplier)
	assert.Equal(t, 3, opts.Retries)
	assert.Equal(t, 2*time.Second, opts.RetryDelay)
}
