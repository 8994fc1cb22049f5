package interaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxhollow/interactions-go/ixn/conversation"
	"github.com/voxhollow/interactions-go/ixn/metrics"
	"github.com/voxhollow/interactions-go/ixn/model"
	ports "github.com/voxhollow/interactions-go/ixn/ports"
	"github.com/voxhollow/interactions-go/ixn/resume"
	"github.com/voxhollow/interactions-go/ixn/stream"
	"github.com/voxhollow/interactions-go/ixn/toolrun"
)

// Client drives interactions end to end: creation, background polling,
// tool rounds, stream consumption, and terminal snapshot caching.
type Client struct {
	transport ports.Transport
	coord     *toolrun.Coordinator
	policy    *Policy
	tracer    ports.Tracer
	cache     ports.SnapshotCache
	limiter   ports.RateLimiter
	metrics   *metrics.Collector
	logger    zerolog.Logger
}

// NewClient wires a client from its dependencies. Use a Factory to
// build one from configuration.
func NewClient(
	transport ports.Transport,
	coord *toolrun.Coordinator,
	policy *Policy,
	tracer ports.Tracer,
	cache ports.SnapshotCache,
	limiter ports.RateLimiter,
	collector *metrics.Collector,
	logger zerolog.Logger,
) *Client {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Client{
		transport: transport,
		coord:     coord,
		policy:    policy,
		tracer:    tracer,
		cache:     cache,
		limiter:   limiter,
		metrics:   collector,
		logger:    logger,
	}
}

// Run drives one turn to a settled outcome: create the interaction,
// wait out background execution, resolve tool rounds, and commit the
// result to the conversation. A server-reported failure comes back as
// the terminal interaction, not as an error; conv may be nil for a
// one-shot turn.
func (c *Client) Run(ctx context.Context, conv *conversation.Conversation, req ports.CreateRequest) (*model.Interaction, error) {
	c.applyDefaults(&req)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key := "default"
	if conv != nil {
		key = conv.ID()
	}
	release, err := c.limiter.Acquire(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}
	defer release()

	var runErr error
	ctx, finish := c.tracer.StartSpan(ctx, "interaction.run", map[string]any{
		"conversation_id": key,
		"background":      req.Background,
	})
	defer func() { finish(runErr) }()

	var turn *conversation.Turn
	if conv != nil {
		turn, err = conv.Begin(ctx, &req)
		if err != nil {
			runErr = err
			return nil, err
		}
		defer turn.Abort()
	}

	started := time.Now()
	life := NewLifecycle()

	in, err := c.transport.Create(ctx, req)
	if err != nil {
		runErr = err
		return nil, fmt.Errorf("failed to create interaction: %w", err)
	}
	if err := life.Observe(in.Status); err != nil {
		runErr = err
		return in, err
	}

	rounds := 0
	for {
		if in.Status == model.StatusInProgress {
			in, err = c.pollUntilSettled(ctx, life, in)
			if err != nil {
				runErr = err
				return in, err
			}
		}
		if in.Status != model.StatusRequiresAction {
			break
		}
		if rounds >= c.policy.MaxToolRounds {
			runErr = toolrun.ErrToolLoopLimit
			return in, fmt.Errorf("interaction %s: %w (%d rounds)", in.ID, toolrun.ErrToolLoopLimit, rounds)
		}
		rounds++
		c.tracer.Event(ctx, "tool_round", map[string]any{
			"interaction_id": in.ID,
			"round":          rounds,
		})

		blocks, err := c.coord.Resolve(ctx, in)
		if err != nil {
			runErr = err
			return in, err
		}

		follow := ports.CreateRequest{
			Model:      req.Model,
			Agent:      req.Agent,
			Input:      ports.Input{Blocks: blocks},
			Tools:      req.Tools,
			Background: req.Background,
			Store:      req.Store,
		}
		if turn != nil {
			if err := turn.FollowUp(ctx, &follow, in); err != nil {
				runErr = err
				return in, err
			}
		} else {
			follow.PriorTurnRef = in.ID
		}

		next, err := c.transport.Create(ctx, follow)
		if err != nil {
			runErr = err
			return in, fmt.Errorf("failed to submit tool results for %s: %w", in.ID, err)
		}
		if err := life.Observe(next.Status); err != nil {
			runErr = err
			return next, err
		}
		in = next
	}

	c.finishRun(ctx, turn, in, started, rounds, 0)
	return in, nil
}

// RunStream behaves like Run but consumes live events, invoking
// onUpdate for every decoded update of every round. Dropped streams
// are resumed transparently.
func (c *Client) RunStream(ctx context.Context, conv *conversation.Conversation, req ports.CreateRequest, onUpdate func(stream.Update)) (*model.Interaction, error) {
	req.Stream = true
	c.applyDefaults(&req)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key := "default"
	if conv != nil {
		key = conv.ID()
	}
	release, err := c.limiter.Acquire(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}
	defer release()

	var runErr error
	ctx, finish := c.tracer.StartSpan(ctx, "interaction.run_stream", map[string]any{
		"conversation_id": key,
		"background":      req.Background,
	})
	defer func() { finish(runErr) }()

	var turn *conversation.Turn
	if conv != nil {
		turn, err = conv.Begin(ctx, &req)
		if err != nil {
			runErr = err
			return nil, err
		}
		defer turn.Abort()
	}

	started := time.Now()
	life := NewLifecycle()
	rounds, reconnects := 0, 0

	in, recon, err := c.streamTurn(ctx, life, req, onUpdate)
	reconnects += recon
	if err != nil {
		runErr = err
		return nil, err
	}

	for in.Status == model.StatusRequiresAction {
		if rounds >= c.policy.MaxToolRounds {
			runErr = toolrun.ErrToolLoopLimit
			return in, fmt.Errorf("interaction %s: %w (%d rounds)", in.ID, toolrun.ErrToolLoopLimit, rounds)
		}
		rounds++
		c.tracer.Event(ctx, "tool_round", map[string]any{
			"interaction_id": in.ID,
			"round":          rounds,
		})

		blocks, err := c.coord.Resolve(ctx, in)
		if err != nil {
			runErr = err
			return in, err
		}

		follow := ports.CreateRequest{
			Model:      req.Model,
			Agent:      req.Agent,
			Input:      ports.Input{Blocks: blocks},
			Tools:      req.Tools,
			Background: req.Background,
			Store:      req.Store,
			Stream:     true,
		}
		if turn != nil {
			if err := turn.FollowUp(ctx, &follow, in); err != nil {
				runErr = err
				return in, err
			}
		} else {
			follow.PriorTurnRef = in.ID
		}

		next, recon, err := c.streamTurn(ctx, life, follow, onUpdate)
		reconnects += recon
		if err != nil {
			runErr = err
			return in, err
		}
		in = next
	}

	c.finishRun(ctx, turn, in, started, rounds, reconnects)
	return in, nil
}

// Get returns the interaction by id, serving sticky terminal snapshots
// from cache when possible.
func (c *Client) Get(ctx context.Context, id string) (*model.Interaction, error) {
	if snap, ok := c.cache.Get(ctx, id); ok {
		c.metrics.RecordCacheHit()
		c.tracer.Event(ctx, "snapshot_cache_hit", map[string]any{"interaction_id": id})
		return snap, nil
	}
	c.metrics.RecordCacheMiss()

	in, err := c.transport.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve interaction %s: %w", id, err)
	}
	c.cacheSnapshot(ctx, in)
	return in, nil
}

// Wait blocks until the interaction leaves in_progress, polling on the
// policy cadence.
func (c *Client) Wait(ctx context.Context, id string) (*model.Interaction, error) {
	in, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Status != model.StatusInProgress {
		return in, nil
	}

	life := NewLifecycle()
	if err := life.Observe(in.Status); err != nil {
		return in, err
	}
	in, err = c.pollUntilSettled(ctx, life, in)
	if err != nil {
		return in, err
	}
	c.cacheSnapshot(ctx, in)
	return in, nil
}

// Watch attaches to an existing interaction's event stream and decodes
// it to completion without driving tool rounds. Useful for observing a
// background interaction started elsewhere.
func (c *Client) Watch(ctx context.Context, id string, onUpdate func(stream.Update)) (*model.Interaction, error) {
	es, err := c.transport.GetStream(ctx, id, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to interaction %s: %w", id, err)
	}

	life := NewLifecycle()
	final, reconnects, err := c.consumeStream(ctx, life, es, onUpdate)
	c.metrics.RecordReconnects(reconnects)
	if err != nil {
		return nil, err
	}
	c.cacheSnapshot(ctx, final)
	return final, nil
}

// Cancel asks the service to stop an interaction. Terminal statuses
// are sticky, so a cached terminal snapshot short-circuits the call.
func (c *Client) Cancel(ctx context.Context, id string) (*model.Interaction, error) {
	if snap, ok := c.cache.Get(ctx, id); ok && snap.Status.Terminal() {
		return snap, nil
	}
	in, err := c.transport.Cancel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel interaction %s: %w", id, err)
	}
	c.cacheSnapshot(ctx, in)
	return in, nil
}

// Delete removes a stored interaction and drops any cached snapshot.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.transport.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete interaction %s: %w", id, err)
	}
	if err := c.cache.Delete(ctx, id); err != nil {
		c.logger.Debug().Err(err).Str("interaction_id", id).Msg("failed to drop cached snapshot")
	}
	return nil
}

func (c *Client) streamTurn(ctx context.Context, life *Lifecycle, req ports.CreateRequest, onUpdate func(stream.Update)) (*model.Interaction, int, error) {
	es, err := c.transport.CreateStream(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open interaction stream: %w", err)
	}
	return c.consumeStream(ctx, life, es, onUpdate)
}

// consumeStream decodes events to the end of the stream, resuming
// dropped connections, and returns the terminal snapshot.
func (c *Client) consumeStream(ctx context.Context, life *Lifecycle, es ports.EventStream, onUpdate func(stream.Update)) (*model.Interaction, int, error) {
	rs := resume.New(es, c.transport.GetStream, resume.Options{
		MaxAttempts:   c.policy.ResumeAttempts,
		BackoffBase:   c.policy.ResumeBackoff,
		BackoffCap:    c.policy.ResumeBackoffCap,
		JitterPercent: c.policy.ResumeJitterPercent,
		Logger:        c.logger,
	})
	defer rs.Close()

	dec := stream.NewDecoder(rs)
	var final *model.Interaction
	for {
		upd, err := dec.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, rs.Reconnects(), err
		}

		switch upd.Kind {
		case stream.UpdateStatus:
			if err := life.Observe(upd.Status); err != nil {
				return nil, rs.Reconnects(), err
			}
		case stream.UpdateCompleted:
			final = upd.Interaction
			if final != nil {
				if err := life.Observe(final.Status); err != nil {
					return nil, rs.Reconnects(), err
				}
			}
		case stream.UpdateFailed:
			if err := life.Observe(model.StatusFailed); err != nil {
				return nil, rs.Reconnects(), err
			}
			// An error event ends the stream without a snapshot; give
			// the caller a terminal interaction anyway.
			final = &model.Interaction{
				ID:     dec.InteractionID(),
				Status: model.StatusFailed,
				Error:  upd.Error,
			}
		}
		if onUpdate != nil {
			onUpdate(upd)
		}
	}

	if final == nil {
		return nil, rs.Reconnects(), fmt.Errorf("stream for interaction %q ended without a final snapshot", dec.InteractionID())
	}
	return final, rs.Reconnects(), nil
}

// pollUntilSettled watches a background interaction until it leaves
// in_progress. The overall wait is capped by PollTimeout.
func (c *Client) pollUntilSettled(ctx context.Context, life *Lifecycle, in *model.Interaction) (*model.Interaction, error) {
	deadline := time.Now().Add(c.policy.PollTimeout)
	ticker := time.NewTicker(c.policy.PollInterval)
	defer ticker.Stop()

	for in.Status == model.StatusInProgress {
		if !time.Now().Before(deadline) {
			return in, fmt.Errorf("interaction %s still in progress after %s", in.ID, c.policy.PollTimeout)
		}
		select {
		case <-ctx.Done():
			return in, ctx.Err()
		case <-ticker.C:
		}

		next, err := c.transport.Get(ctx, in.ID)
		if err != nil {
			return in, fmt.Errorf("failed to poll interaction %s: %w", in.ID, err)
		}
		if err := life.Observe(next.Status); err != nil {
			return next, err
		}
		in = next
	}
	return in, nil
}

func (c *Client) finishRun(ctx context.Context, turn *conversation.Turn, in *model.Interaction, started time.Time, rounds, reconnects int) {
	c.cacheSnapshot(ctx, in)
	if turn != nil {
		if err := turn.Commit(ctx, in); err != nil {
			// The interaction itself settled; log and move on.
			c.logger.Warn().Err(err).Str("interaction_id", in.ID).Msg("failed to commit conversation turn")
		}
	}
	c.metrics.RecordRun(in.Status, time.Since(started))
	c.metrics.RecordToolRounds(rounds)
	c.metrics.RecordReconnects(reconnects)
}

func (c *Client) applyDefaults(req *ports.CreateRequest) {
	if req.Model == "" && req.Agent == "" {
		req.Model = c.policy.DefaultModel
	}
}

// cacheSnapshot stores terminal snapshots only; anything else can
// still change.
func (c *Client) cacheSnapshot(ctx context.Context, in *model.Interaction) {
	if in == nil || !in.Status.Terminal() {
		return
	}
	if err := c.cache.Set(ctx, in, c.policy.SnapshotTTL); err != nil {
		c.logger.Debug().Err(err).Str("interaction_id", in.ID).Msg("failed to cache snapshot")
	}
}
