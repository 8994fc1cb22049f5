package interaction

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhollow/interactions-go/ixn/adapters"
	"github.com/voxhollow/interactions-go/ixn/config"
	"github.com/voxhollow/interactions-go/ixn/model"
	"github.com/voxhollow/interactions-go/ixn/toolrun"
)

func testConfig() *config.Config {
	return &config.Config{
		Client: config.ClientConfig{
			DefaultModel:    "orion-mini",
			MaxToolRounds:   10,
			ToolConcurrency: 5,
			ToolTimeout:     30 * time.Second,
			PollInterval:    2 * time.Second,
			PollTimeout:     60 * time.Minute,
			SnapshotTTL:     time.Hour,
		},
		Stream: config.StreamConfig{
			ResumeAttempts:      5,
			ResumeBackoff:       250 * time.Millisecond,
			ResumeBackoffCap:    30 * time.Second,
			ResumeJitterPercent: 10,
		},
		Tools:     config.ToolsConfig{ValidateArguments: true},
		Cache:     config.CacheConfig{Enabled: true, Capacity: 128},
		RateLimit: config.RateLimitConfig{Enabled: true, Capacity: 10, RefillRate: time.Second},
		Trace:     config.TraceConfig{Enabled: true, Level: "info"},
	}
}

func testFactory(cfg *config.Config) *Factory {
	return NewFactory(cfg, zerolog.New(zerolog.Nop()))
}

// TestFactory_CreateClientWiresAdapters tests that enabled components
// get their real adapters and policy values flow through.
func TestFactory_CreateClientWiresAdapters(t *testing.T) {
	f := testFactory(testConfig())

	client, err := f.CreateClient(&StubTransport{}, nil)
	require.NoError(t, err)
	require.NotNil(t, client)

	assert.Equal(t, "orion-mini", client.policy.DefaultModel)
	assert.Equal(t, 10, client.policy.MaxToolRounds)
	assert.IsType(t, &adapters.ZerologTracer{}, client.tracer)
	assert.IsType(t, &adapters.LRUSnapshotCache{}, client.cache)
	assert.IsType(t, &adapters.TokenBucket{}, client.limiter)
	assert.NotNil(t, client.metrics)
}

// TestFactory_DisabledComponentsUseNoOps tests that switched-off
// components fall back to inert implementations.
func TestFactory_DisabledComponentsUseNoOps(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = false
	cfg.RateLimit.Enabled = false
	cfg.Trace.Enabled = false
	f := testFactory(cfg)

	client, err := f.CreateClient(&StubTransport{}, nil)
	require.NoError(t, err)

	assert.IsType(t, &noOpTracer{}, client.tracer)
	assert.IsType(t, &noOpCache{}, client.cache)
	assert.IsType(t, &noOpRateLimiter{}, client.limiter)
}

// TestFactory_CreatePolicyClamps tests out-of-range config values.
func TestFactory_CreatePolicyClamps(t *testing.T) {
	t.Run("tool rounds floor", func(t *testing.T) {
		cfg := testConfig()
		cfg.Client.MaxToolRounds = 0
		assert.Equal(t, 1, testFactory(cfg).CreatePolicy().MaxToolRounds)
	})
	t.Run("tool rounds ceiling", func(t *testing.T) {
		cfg := testConfig()
		cfg.Client.MaxToolRounds = 99
		assert.Equal(t, 50, testFactory(cfg).CreatePolicy().MaxToolRounds)
	})
	t.Run("poll interval too tight", func(t *testing.T) {
		cfg := testConfig()
		cfg.Client.PollInterval = 10 * time.Millisecond
		assert.Equal(t, 2*time.Second, testFactory(cfg).CreatePolicy().PollInterval)
	})
	t.Run("poll timeout over service cap", func(t *testing.T) {
		cfg := testConfig()
		cfg.Client.PollTimeout = 2 * time.Hour
		assert.Equal(t, MaxPollTimeout, testFactory(cfg).CreatePolicy().PollTimeout)
	})
	t.Run("zero values pick up defaults", func(t *testing.T) {
		cfg := testConfig()
		cfg.Client.ToolConcurrency = 0
		cfg.Client.ToolTimeout = 0
		cfg.Client.SnapshotTTL = 0
		cfg.Stream.ResumeAttempts = 0
		cfg.Stream.ResumeBackoff = 0

		policy := testFactory(cfg).CreatePolicy()
		defaults := DefaultPolicy()
		assert.Equal(t, defaults.ToolConcurrency, policy.ToolConcurrency)
		assert.Equal(t, defaults.ToolTimeout, policy.ToolTimeout)
		assert.Equal(t, defaults.SnapshotTTL, policy.SnapshotTTL)
		assert.Equal(t, defaults.ResumeAttempts, policy.ResumeAttempts)
		assert.Equal(t, defaults.ResumeBackoff, policy.ResumeBackoff)
	})
}

// TestFactory_CreateRegistryHonorsToolsConfig tests that the allowlist
// and validation switches reach the registry.
func TestFactory_CreateRegistryHonorsToolsConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Tools.ValidateArguments = false
	cfg.Tools.AllowedPrefixes = []string{"fs_"}
	reg := testFactory(cfg).CreateRegistry()

	echo := func(ctx context.Context, args json.RawMessage) (any, error) { return "ok", nil }
	require.NoError(t, reg.Register(toolrun.Definition{Name: "fs_list", Handler: echo}))
	require.NoError(t, reg.Register(toolrun.Definition{Name: "web_search", Handler: echo}))

	_, err := reg.Execute(context.Background(), model.NewFunctionCall("c1", "fs_list", "{}"))
	assert.NoError(t, err)
	_, err = reg.Execute(context.Background(), model.NewFunctionCall("c2", "web_search", "{}"))
	assert.ErrorContains(t, err, "not allowlisted")

	// Validation is off, so schema-violating arguments pass through.
	type fsArgs struct {
		Path string `json:"path"`
	}
	require.NoError(t, reg.Register(toolrun.Definition{
		Name:        "fs_stat",
		InputSchema: toolrun.GenerateSchema[fsArgs](),
		Handler:     echo,
	}))
	_, err = reg.Execute(context.Background(), model.NewFunctionCall("c3", "fs_stat", `{"path":123}`))
	assert.NoError(t, err)
}

// TestFactory_CreateHistoryStoreDisabled tests that disabled history
// yields no store and no error.
func TestFactory_CreateHistoryStoreDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.History.Enabled = false

	store, err := testFactory(cfg).CreateHistoryStore()
	require.NoError(t, err)
	assert.Nil(t, store)
}
