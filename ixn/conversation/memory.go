package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxhollow/interactions-go/ixn/model"
	ports "github.com/voxhollow/interactions-go/ixn/ports"
)

var (
	// ErrStrategyConflict reports a request that mixes server-delegated
	// and client-held memory for the same conversation.
	ErrStrategyConflict = errors.New("conversation memory strategy conflict")

	// ErrConcurrentTurn reports a second turn started while one is
	// still in flight on the same conversation.
	ErrConcurrentTurn = errors.New("conversation already has a turn in flight")
)

// Memory shapes every outgoing request of a conversation so that the
// model sees the right context: either a reference to the prior stored
// turn or the full accumulated history, never both.
type Memory interface {
	// Prepare adjusts the first request of a turn.
	Prepare(ctx context.Context, conversationID string, req *ports.CreateRequest) error

	// FollowUp adjusts a tool-round request. The prior interaction is
	// the one whose function calls the request answers.
	FollowUp(ctx context.Context, conversationID string, req *ports.CreateRequest, prior *model.Interaction) error

	// Commit records the turn's outcome. Called once per successful
	// turn with the terminal interaction.
	Commit(ctx context.Context, conversationID string, req *ports.CreateRequest, final *model.Interaction) error
}

type serverDelegated struct {
	lastTurnID string
}

// NewServerDelegated returns a memory that chains turns by reference:
// each request names the previous stored turn and carries only the new
// input, leaving context reconstruction to the service.
func NewServerDelegated() Memory {
	return &serverDelegated{}
}

func (m *serverDelegated) Prepare(_ context.Context, _ string, req *ports.CreateRequest) error {
	if len(req.Input.History) > 0 {
		return fmt.Errorf("%w: full history supplied to a server-delegated conversation", ErrStrategyConflict)
	}
	if req.PriorTurnRef != "" && req.PriorTurnRef != m.lastTurnID {
		return fmt.Errorf("%w: manual prior-turn reference on a managed conversation", ErrStrategyConflict)
	}
	if req.Store != nil && !*req.Store {
		return fmt.Errorf("%w: server-delegated chaining requires stored turns", ErrStrategyConflict)
	}
	req.PriorTurnRef = m.lastTurnID
	return nil
}

func (m *serverDelegated) FollowUp(_ context.Context, _ string, req *ports.CreateRequest, prior *model.Interaction) error {
	if prior == nil || prior.ID == "" {
		return fmt.Errorf("follow-up requires a prior interaction id")
	}
	req.PriorTurnRef = prior.ID
	return nil
}

func (m *serverDelegated) Commit(_ context.Context, _ string, _ *ports.CreateRequest, final *model.Interaction) error {
	if final == nil {
		return nil
	}
	// Failed and cancelled turns are not chained from; the next turn
	// continues from the last good one.
	switch final.Status {
	case model.StatusCompleted, model.StatusRequiresAction:
		if final.Store {
			m.lastTurnID = final.ID
		}
	}
	return nil
}

type clientHeld struct {
	store     ports.HistoryStore
	loaded    bool
	committed []ports.TurnMessage
	pending   []ports.TurnMessage
}

// NewClientHeld returns a memory that resends the full accumulated
// history on every request and keeps nothing on the server. A non-nil
// store persists the history across processes; pass nil to keep it
// in memory only.
func NewClientHeld(store ports.HistoryStore) Memory {
	return &clientHeld{store: store}
}

func (m *clientHeld) load(ctx context.Context, conversationID string) error {
	if m.loaded || m.store == nil {
		m.loaded = true
		return nil
	}
	history, err := m.store.LoadHistory(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation history: %w", err)
	}
	m.committed = history
	m.loaded = true
	return nil
}

func (m *clientHeld) Prepare(ctx context.Context, conversationID string, req *ports.CreateRequest) error {
	if req.PriorTurnRef != "" {
		return fmt.Errorf("%w: prior-turn reference supplied to a client-held conversation", ErrStrategyConflict)
	}
	if len(req.Input.History) > 0 {
		return fmt.Errorf("%w: history is managed by the conversation", ErrStrategyConflict)
	}
	if req.Background {
		return fmt.Errorf("%w: background execution requires server-side persistence", ErrStrategyConflict)
	}
	if err := m.load(ctx, conversationID); err != nil {
		return err
	}

	userMsg := ports.TurnMessage{Role: ports.RoleUser, Blocks: req.Input.AsBlocks()}
	m.pending = []ports.TurnMessage{userMsg}

	history := make([]ports.TurnMessage, 0, len(m.committed)+1)
	history = append(history, m.committed...)
	history = append(history, userMsg)
	req.Input = ports.Input{History: history}

	// The server keeps nothing; the whole thread travels with each
	// request.
	storeOff := false
	req.Store = &storeOff
	return nil
}

func (m *clientHeld) FollowUp(_ context.Context, _ string, req *ports.CreateRequest, prior *model.Interaction) error {
	if prior == nil {
		return fmt.Errorf("follow-up requires the prior interaction")
	}

	modelMsg := ports.TurnMessage{Role: ports.RoleModel, Blocks: prior.Outputs}
	toolMsg := ports.TurnMessage{Role: ports.RoleTool, Blocks: req.Input.Blocks}
	m.pending = append(m.pending, modelMsg, toolMsg)

	history := make([]ports.TurnMessage, 0, len(m.committed)+len(m.pending))
	history = append(history, m.committed...)
	history = append(history, m.pending...)
	req.Input = ports.Input{History: history}

	storeOff := false
	req.Store = &storeOff
	return nil
}

func (m *clientHeld) Commit(ctx context.Context, conversationID string, _ *ports.CreateRequest, final *model.Interaction) error {
	defer func() { m.pending = nil }()

	if final == nil || final.Status != model.StatusCompleted {
		// Nothing durable came out of the turn; the next one restarts
		// from the committed history.
		return nil
	}

	m.pending = append(m.pending, ports.TurnMessage{Role: ports.RoleModel, Blocks: final.Outputs})
	if m.store != nil {
		for _, msg := range m.pending {
			if err := m.store.AppendTurn(ctx, conversationID, msg); err != nil {
				return fmt.Errorf("failed to persist conversation turn: %w", err)
			}
		}
	}
	m.committed = append(m.committed, m.pending...)
	return nil
}
