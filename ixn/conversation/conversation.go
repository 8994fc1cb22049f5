package conversation

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/voxhollow/interactions-go/ixn/model"
	ports "github.com/voxhollow/interactions-go/ixn/ports"
)

// Conversation serializes turns over a shared memory strategy. At most
// one turn runs at a time; a second Begin while one is in flight fails
// with ErrConcurrentTurn instead of queueing.
type Conversation struct {
	id  string
	mem Memory

	turnMu sync.Mutex
	active bool

	usageMu sync.Mutex
	usage   model.Usage
}

// New starts a conversation with a fresh id.
func New(mem Memory) *Conversation {
	return Resume(uuid.NewString(), mem)
}

// Resume continues a conversation under an existing id, typically one
// whose history lives in a HistoryStore.
func Resume(id string, mem Memory) *Conversation {
	return &Conversation{id: id, mem: mem}
}

func (c *Conversation) ID() string { return c.id }

// Usage reports the tokens consumed across all committed turns.
func (c *Conversation) Usage() model.Usage {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	return c.usage
}

// Begin claims the conversation for one turn and prepares the request
// through the memory strategy. The returned Turn must be finished with
// Commit or Abort.
func (c *Conversation) Begin(ctx context.Context, req *ports.CreateRequest) (*Turn, error) {
	c.turnMu.Lock()
	if c.active {
		c.turnMu.Unlock()
		return nil, ErrConcurrentTurn
	}
	c.active = true
	c.turnMu.Unlock()

	if err := c.mem.Prepare(ctx, c.id, req); err != nil {
		c.release()
		return nil, err
	}
	return &Turn{conv: c, req: req}, nil
}

func (c *Conversation) release() {
	c.turnMu.Lock()
	c.active = false
	c.turnMu.Unlock()
}

// Turn is one claimed request/response exchange, tool rounds included.
type Turn struct {
	conv *Conversation
	req  *ports.CreateRequest
	done bool
}

// FollowUp prepares a tool-round request against the prior interaction.
func (t *Turn) FollowUp(ctx context.Context, req *ports.CreateRequest, prior *model.Interaction) error {
	return t.conv.mem.FollowUp(ctx, t.conv.id, req, prior)
}

// Commit records the terminal interaction, folds its usage into the
// conversation total, and releases the turn.
func (t *Turn) Commit(ctx context.Context, final *model.Interaction) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.conv.release()

	if final != nil && final.Usage != nil {
		t.conv.usageMu.Lock()
		t.conv.usage = t.conv.usage.Add(*final.Usage)
		t.conv.usageMu.Unlock()
	}
	return t.conv.mem.Commit(ctx, t.conv.id, t.req, final)
}

// Abort releases the turn without committing anything.
func (t *Turn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.conv.release()
}
