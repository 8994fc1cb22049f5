package toolrun

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"github.com/tidwall/sjson"

	"github.com/voxhollow/interactions-go/ixn/model"
	ports "github.com/voxhollow/interactions-go/ixn/ports"
)

var (
	// ErrCallIDMismatch reports a result batch that does not line up
	// one-to-one with the pending calls of the current turn.
	ErrCallIDMismatch = errors.New("function result does not match a pending call")

	// ErrExecutionAborted reports a batch cut short by fail-fast mode.
	ErrExecutionAborted = errors.New("tool execution aborted")

	// ErrToolLoopLimit reports an interaction that kept requesting tools
	// past the configured round budget.
	ErrToolLoopLimit = errors.New("tool resolution round limit exceeded")
)

const (
	defaultWorkers     = 5
	defaultCallTimeout = 30 * time.Second
)

// Options configures a Coordinator.
type Options struct {
	// Workers caps concurrent tool executions. Defaults to 5.
	Workers int

	// CallTimeout bounds each individual execution. Zero applies the
	// 30s default; negative disables the per-call deadline.
	CallTimeout time.Duration

	// FailFast aborts the whole batch on the first execution error
	// instead of recording it as an error-carrying result.
	FailFast bool

	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.CallTimeout == 0 {
		o.CallTimeout = defaultCallTimeout
	}
	return o
}

// Coordinator fans pending function calls out to an executor and gathers
// a complete, correlated result batch for the follow-up turn.
type Coordinator struct {
	exec ports.ToolExecutor
	opts Options
}

// NewCoordinator wires an executor, typically a *Registry.
func NewCoordinator(exec ports.ToolExecutor, opts Options) *Coordinator {
	return &Coordinator{exec: exec, opts: opts.withDefaults()}
}

// PendingCalls lists the function calls of an interaction that have no
// matching result among its own outputs.
func (c *Coordinator) PendingCalls(in *model.Interaction) []model.FunctionCallBlock {
	if in == nil {
		return nil
	}
	answered := make(map[string]bool)
	for _, r := range in.Outputs.FunctionResults() {
		answered[r.CallID] = true
	}
	var pending []model.FunctionCallBlock
	for _, call := range in.Outputs.FunctionCalls() {
		if !answered[call.ID] {
			pending = append(pending, call)
		}
	}
	return pending
}

// Resolve executes every pending call of an interaction awaiting tool
// results and returns the blocks for the single follow-up turn. All
// results are gathered before anything is returned, so the follow-up
// always answers the full batch.
func (c *Coordinator) Resolve(ctx context.Context, in *model.Interaction) (model.Blocks, error) {
	if in == nil || in.Status != model.StatusRequiresAction {
		return nil, fmt.Errorf("interaction is not awaiting tool results")
	}
	pending := c.PendingCalls(in)
	if len(pending) == 0 {
		return nil, fmt.Errorf("interaction %s requires action but has no pending function calls", in.ID)
	}

	results, err := c.execute(ctx, pending)
	if err != nil {
		return nil, err
	}
	if err := ValidateBatch(pending, results); err != nil {
		return nil, err
	}

	blocks := make(model.Blocks, len(results))
	for i, r := range results {
		blocks[i] = r
	}
	return blocks, nil
}

func (c *Coordinator) execute(ctx context.Context, pending []model.FunctionCallBlock) ([]model.FunctionResultBlock, error) {
	results := make([]model.FunctionResultBlock, len(pending))

	p := pool.New().WithMaxGoroutines(c.opts.Workers).WithContext(ctx)
	if c.opts.FailFast {
		p = p.WithCancelOnError().WithFirstError()
	}

	for i, call := range pending {
		p.Go(func(ctx context.Context) error {
			callCtx := ctx
			if c.opts.CallTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
				defer cancel()
			}

			res, err := c.exec.Execute(callCtx, call)
			if err != nil {
				// Caller-level cancellation aborts the batch regardless
				// of failure mode.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if c.opts.FailFast {
					return fmt.Errorf("tool %s (call %s): %w", call.Name, call.ID, err)
				}
				c.opts.Logger.Warn().
					Err(err).
					Str("tool", call.Name).
					Str("call_id", call.ID).
					Msg("tool call failed; recording error result")
				results[i] = errorResult(call, err)
				return nil
			}

			// Correlation fields are copied from the originating call,
			// never trusted from the executor.
			res.CallID = call.ID
			res.Name = call.Name
			results[i] = res
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrExecutionAborted, err)
	}
	return results, nil
}

func errorResult(call model.FunctionCallBlock, callErr error) model.FunctionResultBlock {
	payload, err := sjson.Set(`{}`, "error", callErr.Error())
	if err != nil {
		payload = `{"error":"tool execution failed"}`
	}
	res := model.NewFunctionResult(call.ID, call.Name, payload)
	res.IsError = true
	return res
}

// ValidateBatch checks that results cover the pending calls exactly:
// every call answered once, no stray or duplicate call ids, tool names
// echoed verbatim.
func ValidateBatch(pending []model.FunctionCallBlock, results []model.FunctionResultBlock) error {
	want := make(map[string]string, len(pending))
	for _, call := range pending {
		want[call.ID] = call.Name
	}
	seen := make(map[string]bool, len(results))
	for _, res := range results {
		name, ok := want[res.CallID]
		if !ok {
			return fmt.Errorf("%w: result for call %q is not in the pending set", ErrCallIDMismatch, res.CallID)
		}
		if seen[res.CallID] {
			return fmt.Errorf("%w: duplicate result for call %q", ErrCallIDMismatch, res.CallID)
		}
		if res.Name != name {
			return fmt.Errorf("%w: result for call %q names tool %q, expected %q", ErrCallIDMismatch, res.CallID, res.Name, name)
		}
		seen[res.CallID] = true
	}
	for id, name := range want {
		if !seen[id] {
			return fmt.Errorf("%w: call %q (%s) has no result", ErrCallIDMismatch, id, name)
		}
	}
	return nil
}
