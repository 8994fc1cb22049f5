package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxhollow/interactions-go/ixn/model"
	ports "github.com/voxhollow/interactions-go/ixn/ports"
)

// StubHistoryStore implements HistoryStore in memory for testing.
type StubHistoryStore struct {
	mu        sync.RWMutex
	turns     map[string][]ports.TurnMessage
	appendErr error
}

var _ ports.HistoryStore = (*StubHistoryStore)(nil)

func NewStubHistoryStore() *StubHistoryStore {
	return &StubHistoryStore{turns: make(map[string][]ports.TurnMessage)}
}

func (s *StubHistoryStore) AppendTurn(ctx context.Context, conversationID string, msg ports.TurnMessage) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[conversationID] = append(s.turns[conversationID], msg)
	return nil
}

func (s *StubHistoryStore) LoadHistory(ctx context.Context, conversationID string) ([]ports.TurnMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ports.TurnMessage(nil), s.turns[conversationID]...), nil
}

func (s *StubHistoryStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, conversationID)
	return nil
}

func completedTurn(id, text string) *model.Interaction {
	return &model.Interaction{
		ID:      id,
		Status:  model.StatusCompleted,
		Store:   true,
		Outputs: model.Blocks{model.NewTextBlock(text)},
	}
}

// TestServerDelegated_ChainsStoredTurns tests reference chaining: each
// turn names the previous stored one.
func TestServerDelegated_ChainsStoredTurns(t *testing.T) {
	ctx := context.Background()
	mem := NewServerDelegated()

	req1 := &ports.CreateRequest{Model: "orion-mini", Input: ports.Input{Text: "hello"}}
	require.NoError(t, mem.Prepare(ctx, "conv-1", req1))
	assert.Empty(t, req1.PriorTurnRef)

	require.NoError(t, mem.Commit(ctx, "conv-1", req1, completedTurn("turn-1", "hi there")))

	req2 := &ports.CreateRequest{Model: "orion-mini", Input: ports.Input{Text: "and now?"}}
	require.NoError(t, mem.Prepare(ctx, "conv-1", req2))
	assert.Equal(t, "turn-1", req2.PriorTurnRef)
}

// TestServerDelegated_RejectsClientHeldShapes tests the strategy guard:
// full histories, foreign references, and unstored turns do not mix with
// delegated memory.
func TestServerDelegated_RejectsClientHeldShapes(t *testing.T) {
	ctx := context.Background()
	mem := NewServerDelegated()

	history := &ports.CreateRequest{Model: "m", Input: ports.Input{History: []ports.TurnMessage{
		{Role: ports.RoleUser, Blocks: model.Blocks{model.NewTextBlock("hi")}},
	}}}
	assert.ErrorIs(t, mem.Prepare(ctx, "conv-1", history), ErrStrategyConflict)

	manual := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "hi"}, PriorTurnRef: "someone-elses-turn"}
	assert.ErrorIs(t, mem.Prepare(ctx, "conv-1", manual), ErrStrategyConflict)

	storeOff := false
	unstored := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "hi"}, Store: &storeOff}
	assert.ErrorIs(t, mem.Prepare(ctx, "conv-1", unstored), ErrStrategyConflict)
}

// TestServerDelegated_MatchingManualRefAllowed tests that restating the
// current chain head is not a conflict.
func TestServerDelegated_MatchingManualRefAllowed(t *testing.T) {
	ctx := context.Background()
	mem := NewServerDelegated()
	require.NoError(t, mem.Commit(ctx, "conv-1", nil, completedTurn("turn-1", "hi")))

	req := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "next"}, PriorTurnRef: "turn-1"}
	assert.NoError(t, mem.Prepare(ctx, "conv-1", req))
}

// TestServerDelegated_SkipsUnchainableTurns tests that failed,
// cancelled, and unstored outcomes do not advance the chain.
func TestServerDelegated_SkipsUnchainableTurns(t *testing.T) {
	ctx := context.Background()
	mem := NewServerDelegated()
	require.NoError(t, mem.Commit(ctx, "conv-1", nil, completedTurn("turn-1", "hi")))

	failed := &model.Interaction{ID: "turn-2", Status: model.StatusFailed, Store: true}
	require.NoError(t, mem.Commit(ctx, "conv-1", nil, failed))

	unstored := &model.Interaction{ID: "turn-3", Status: model.StatusCompleted, Store: false}
	require.NoError(t, mem.Commit(ctx, "conv-1", nil, unstored))

	req := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "next"}}
	require.NoError(t, mem.Prepare(ctx, "conv-1", req))
	assert.Equal(t, "turn-1", req.PriorTurnRef)
}

// TestServerDelegated_FollowUpTargetsPrior tests tool-round chaining
// against the interaction being answered.
func TestServerDelegated_FollowUpTargetsPrior(t *testing.T) {
	ctx := context.Background()
	mem := NewServerDelegated()

	follow := &ports.CreateRequest{Model: "m", Input: ports.Input{Blocks: model.Blocks{
		model.NewFunctionResult("abc", "get_weather", "sunny"),
	}}}
	prior := &model.Interaction{ID: "ixn_5", Status: model.StatusRequiresAction}

	require.NoError(t, mem.FollowUp(ctx, "conv-1", follow, prior))
	assert.Equal(t, "ixn_5", follow.PriorTurnRef)

	assert.Error(t, mem.FollowUp(ctx, "conv-1", follow, nil))
}

// TestClientHeld_SendsFullHistory tests that the thread travels with the
// request and nothing is stored server-side.
func TestClientHeld_SendsFullHistory(t *testing.T) {
	ctx := context.Background()
	mem := NewClientHeld(nil)

	req := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "first question"}}
	require.NoError(t, mem.Prepare(ctx, "conv-1", req))

	assert.Empty(t, req.Input.Text)
	require.Len(t, req.Input.History, 1)
	assert.Equal(t, ports.RoleUser, req.Input.History[0].Role)
	assert.Equal(t, "first question", req.Input.History[0].Blocks.Text())

	require.NotNil(t, req.Store)
	assert.False(t, *req.Store)
}

// TestClientHeld_FollowUpCarriesToolExchange tests that a tool round
// appends the model's calls and the client's results to the history.
func TestClientHeld_FollowUpCarriesToolExchange(t *testing.T) {
	ctx := context.Background()
	mem := NewClientHeld(nil)

	req := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "weather in Paris?"}}
	require.NoError(t, mem.Prepare(ctx, "conv-1", req))

	prior := &model.Interaction{
		ID:      "ixn_1",
		Status:  model.StatusRequiresAction,
		Outputs: model.Blocks{model.NewFunctionCall("abc", "get_weather", `{"city":"Paris"}`)},
	}
	follow := &ports.CreateRequest{Model: "m", Input: ports.Input{Blocks: model.Blocks{
		model.NewFunctionResult("abc", "get_weather", "sunny"),
	}}}
	require.NoError(t, mem.FollowUp(ctx, "conv-1", follow, prior))

	require.Len(t, follow.Input.History, 3)
	assert.Equal(t, ports.RoleUser, follow.Input.History[0].Role)
	assert.Equal(t, ports.RoleModel, follow.Input.History[1].Role)
	assert.Equal(t, ports.RoleTool, follow.Input.History[2].Role)

	results := follow.Input.History[2].Blocks.FunctionResults()
	require.Len(t, results, 1)
	assert.Equal(t, "abc", results[0].CallID)
}

// TestClientHeld_CommitGrowsHistory tests that a completed turn and its
// final output become part of the next request's context.
func TestClientHeld_CommitGrowsHistory(t *testing.T) {
	ctx := context.Background()
	mem := NewClientHeld(nil)

	req := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "first"}}
	require.NoError(t, mem.Prepare(ctx, "conv-1", req))
	require.NoError(t, mem.Commit(ctx, "conv-1", req, completedTurn("ixn_1", "first answer")))

	next := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "second"}}
	require.NoError(t, mem.Prepare(ctx, "conv-1", next))

	require.Len(t, next.Input.History, 3)
	assert.Equal(t, "first", next.Input.History[0].Blocks.Text())
	assert.Equal(t, "first answer", next.Input.History[1].Blocks.Text())
	assert.Equal(t, "second", next.Input.History[2].Blocks.Text())
}

// TestClientHeld_AbandonedTurnLeavesNoTrace tests that anything short of
// a completed turn is discarded from the accumulated history.
func TestClientHeld_AbandonedTurnLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	mem := NewClientHeld(nil)

	req := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "doomed"}}
	require.NoError(t, mem.Prepare(ctx, "conv-1", req))
	require.NoError(t, mem.Commit(ctx, "conv-1", req, &model.Interaction{ID: "ixn_1", Status: model.StatusFailed}))

	next := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "fresh start"}}
	require.NoError(t, mem.Prepare(ctx, "conv-1", next))

	require.Len(t, next.Input.History, 1)
	assert.Equal(t, "fresh start", next.Input.History[0].Blocks.Text())
}

// TestClientHeld_RejectsDelegatedShapes tests the strategy guard on the
// client-held side.
func TestClientHeld_RejectsDelegatedShapes(t *testing.T) {
	ctx := context.Background()
	mem := NewClientHeld(nil)

	ref := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "hi"}, PriorTurnRef: "turn-1"}
	assert.ErrorIs(t, mem.Prepare(ctx, "conv-1", ref), ErrStrategyConflict)

	history := &ports.CreateRequest{Model: "m", Input: ports.Input{History: []ports.TurnMessage{
		{Role: ports.RoleUser, Blocks: model.Blocks{model.NewTextBlock("hi")}},
	}}}
	assert.ErrorIs(t, mem.Prepare(ctx, "conv-1", history), ErrStrategyConflict)

	background := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "hi"}, Background: true}
	assert.ErrorIs(t, mem.Prepare(ctx, "conv-1", background), ErrStrategyConflict)
}

// TestClientHeld_PersistsThroughStore tests durable history: a second
// strategy instance over the same store sees the committed thread.
func TestClientHeld_PersistsThroughStore(t *testing.T) {
	ctx := context.Background()
	store := NewStubHistoryStore()

	first := NewClientHeld(store)
	req := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "remember me"}}
	require.NoError(t, first.Prepare(ctx, "conv-1", req))
	require.NoError(t, first.Commit(ctx, "conv-1", req, completedTurn("ixn_1", "noted")))

	persisted, err := store.LoadHistory(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, persisted, 2)

	second := NewClientHeld(store)
	next := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "what did I say?"}}
	require.NoError(t, second.Prepare(ctx, "conv-1", next))

	require.Len(t, next.Input.History, 3)
	assert.Equal(t, "remember me", next.Input.History[0].Blocks.Text())
	assert.Equal(t, "noted", next.Input.History[1].Blocks.Text())
}

// TestClientHeld_SurfacesPersistenceFailure tests that a failing store
// turns Commit into an error.
func TestClientHeld_SurfacesPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	store := NewStubHistoryStore()
	store.appendErr = errors.New("disk full")

	mem := NewClientHeld(store)
	req := &ports.CreateRequest{Model: "m", Input: ports.Input{Text: "hi"}}
	require.NoError(t, mem.Prepare(ctx, "conv-1", req))

	err := mem.Commit(ctx, "conv-1", req, completedTurn("ixn_1", "hello"))
	assert.ErrorContains(t, err, "failed to persist")
}
