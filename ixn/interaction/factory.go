package interaction

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxhollow/interactions-go/ixn/adapters"
	"github.com/voxhollow/interactions-go/ixn/config"
	"github.com/voxhollow/interactions-go/ixn/metrics"
	"github.com/voxhollow/interactions-go/ixn/model"
	ports "github.com/voxhollow/interactions-go/ixn/ports"
	"github.com/voxhollow/interactions-go/ixn/toolrun"
)

// Factory creates and wires client components from configuration.
type Factory struct {
	cfg    *config.Config
	logger zerolog.Logger
}

// NewFactory creates a new client factory.
func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

// CreateClient wires a Client around the given transport. The transport
// is service-specific and must be supplied by the caller; a nil
// executor gets a fresh empty Registry.
func (f *Factory) CreateClient(transport ports.Transport, exec ports.ToolExecutor) (*Client, error) {
	policy := f.CreatePolicy()

	if exec == nil {
		exec = f.CreateRegistry()
	}
	coord := toolrun.NewCoordinator(exec, toolrun.Options{
		Workers:     policy.ToolConcurrency,
		CallTimeout: policy.ToolTimeout,
		FailFast:    policy.FailFast,
		Logger:      f.logger,
	})

	client := NewClient(
		transport,
		coord,
		policy,
		f.createTracer(),
		f.createCache(),
		f.createRateLimiter(),
		metrics.NewCollector(),
		f.logger,
	)
	return client, nil
}

// CreateRegistry creates a tool registry honoring the tools config.
func (f *Factory) CreateRegistry() *toolrun.Registry {
	reg := toolrun.NewRegistry()
	reg.SetArgumentValidation(f.cfg.Tools.ValidateArguments)
	if len(f.cfg.Tools.AllowedPrefixes) > 0 {
		reg.Allow(f.cfg.Tools.AllowedPrefixes...)
	}
	return reg
}

// CreateHistoryStore opens the configured libsql-backed history store.
// Returns nil when persistence is disabled; client-held conversations
// then keep history in memory only.
func (f *Factory) CreateHistoryStore() (ports.HistoryStore, error) {
	if !f.cfg.History.Enabled {
		return nil, nil
	}
	db, err := adapters.OpenHistoryDB(f.cfg.History.Path)
	if err != nil {
		return nil, err
	}
	return adapters.NewLibSQLHistoryStore(db)
}

// createTracer creates a tracer adapter from config.
func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Trace.Enabled {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

// createCache creates a snapshot cache adapter from config.
func (f *Factory) createCache() ports.SnapshotCache {
	if !f.cfg.Cache.Enabled {
		return &noOpCache{}
	}
	return adapters.NewLRUSnapshotCache(f.cfg.Cache.Capacity)
}

// createRateLimiter creates a rate limiter adapter from config.
func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.RateLimit.Enabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.RateLimit.Capacity, f.cfg.RateLimit.RefillRate)
}

// CreatePolicy creates a policy from config with validation.
func (f *Factory) CreatePolicy() *Policy {
	policy := &Policy{
		DefaultModel:        f.cfg.Client.DefaultModel,
		MaxToolRounds:       f.cfg.Client.MaxToolRounds,
		ToolConcurrency:     f.cfg.Client.ToolConcurrency,
		ToolTimeout:         f.cfg.Client.ToolTimeout,
		FailFast:            f.cfg.Client.FailFast,
		PollInterval:        f.cfg.Client.PollInterval,
		PollTimeout:         f.cfg.Client.PollTimeout,
		ResumeAttempts:      f.cfg.Stream.ResumeAttempts,
		ResumeBackoff:       f.cfg.Stream.ResumeBackoff,
		ResumeBackoffCap:    f.cfg.Stream.ResumeBackoffCap,
		ResumeJitterPercent: f.cfg.Stream.ResumeJitterPercent,
		SnapshotTTL:         f.cfg.Client.SnapshotTTL,
	}

	defaults := DefaultPolicy()

	// Validate and clamp policy values
	if policy.MaxToolRounds < 1 {
		policy.MaxToolRounds = 1
		f.logger.Warn().Int("max_tool_rounds", f.cfg.Client.MaxToolRounds).Msg("MaxToolRounds clamped to minimum of 1")
	}
	if policy.MaxToolRounds > 50 {
		policy.MaxToolRounds = 50
		f.logger.Warn().Int("max_tool_rounds", f.cfg.Client.MaxToolRounds).Msg("MaxToolRounds clamped to maximum of 50")
	}

	if policy.PollInterval < 100*time.Millisecond {
		policy.PollInterval = defaults.PollInterval
		f.logger.Warn().Dur("poll_interval", f.cfg.Client.PollInterval).Msg("PollInterval clamped to default")
	}
	if policy.PollTimeout <= 0 || policy.PollTimeout > MaxPollTimeout {
		policy.PollTimeout = MaxPollTimeout
		f.logger.Warn().Dur("poll_timeout", f.cfg.Client.PollTimeout).Msg("PollTimeout clamped to the 60 minute service cap")
	}

	if policy.ToolConcurrency < 1 {
		policy.ToolConcurrency = defaults.ToolConcurrency
	}
	if policy.ToolTimeout <= 0 {
		policy.ToolTimeout = defaults.ToolTimeout
	}
	if policy.ResumeAttempts < 1 {
		policy.ResumeAttempts = defaults.ResumeAttempts
	}
	if policy.ResumeBackoff <= 0 {
		policy.ResumeBackoff = defaults.ResumeBackoff
	}
	if policy.SnapshotTTL <= 0 {
		policy.SnapshotTTL = defaults.SnapshotTTL
	}

	return policy
}

// noOpTracer implements Tracer with no-op behavior when tracing is disabled.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// noOpCache implements SnapshotCache with no-op behavior for a disabled cache.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, id string) (*model.Interaction, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, snap *model.Interaction, ttl time.Duration) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, id string) error { return nil }

// noOpRateLimiter implements RateLimiter with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.Tracer        = (*noOpTracer)(nil)
	_ ports.SnapshotCache = (*noOpCache)(nil)
	_ ports.RateLimiter   = (*noOpRateLimiter)(nil)
)
