package ixnports

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxhollow/interactions-go/ixn/model"
)

// ErrInvalidRequest reports a create request rejected client-side before
// anything was sent.
var ErrInvalidRequest = errors.New("invalid create request")

// Role tags one message of a client-held turn history.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// TurnMessage is one role-tagged entry of a turn history.
type TurnMessage struct {
	Role   Role         `json:"role"`
	Blocks model.Blocks `json:"blocks"`
}

// Input is the payload of a create request. Exactly one form is used:
// plain text, an ordered block sequence, or a role-tagged history.
type Input struct {
	Text    string        `json:"text,omitempty"`
	Blocks  model.Blocks  `json:"blocks,omitempty"`
	History []TurnMessage `json:"history,omitempty"`
}

// Validate rejects an input with zero or more than one form set.
func (in Input) Validate() error {
	n := 0
	if in.Text != "" {
		n++
	}
	if len(in.Blocks) > 0 {
		n++
	}
	if len(in.History) > 0 {
		n++
	}
	if n == 0 {
		return fmt.Errorf("%w: input requires text, blocks, or history", ErrInvalidRequest)
	}
	if n > 1 {
		return fmt.Errorf("%w: input forms are mutually exclusive", ErrInvalidRequest)
	}
	return nil
}

// AsBlocks returns the input's content as a block sequence. History inputs
// return nil; they already carry blocks per message.
func (in Input) AsBlocks() model.Blocks {
	if in.Text != "" {
		return model.Blocks{model.NewTextBlock(in.Text)}
	}
	return in.Blocks
}

// CreateRequest starts a new turn. Exactly one of Model or Agent selects
// what runs it. Store defaults to true when nil; store=false turns cannot
// be chained and cannot run in the background.
type CreateRequest struct {
	Model        string     `json:"model,omitempty"`
	Agent        string     `json:"agent,omitempty"`
	Input        Input      `json:"input"`
	PriorTurnRef string     `json:"prior_turn_ref,omitempty"`
	Tools        []ToolSpec `json:"tools,omitempty"`
	Background   bool       `json:"background,omitempty"`
	Store        *bool      `json:"store,omitempty"`
	Stream       bool       `json:"stream,omitempty"`
}

// StoreEnabled resolves the store flag's default.
func (r CreateRequest) StoreEnabled() bool {
	return r.Store == nil || *r.Store
}

// Validate rejects requests the server is guaranteed to refuse.
func (r CreateRequest) Validate() error {
	if r.Model == "" && r.Agent == "" {
		return fmt.Errorf("%w: a model or agent selector is required", ErrInvalidRequest)
	}
	if r.Model != "" && r.Agent != "" {
		return fmt.Errorf("%w: model and agent selectors are mutually exclusive", ErrInvalidRequest)
	}
	if err := r.Input.Validate(); err != nil {
		return err
	}
	if r.Background && !r.StoreEnabled() {
		return fmt.Errorf("%w: background turns require store", ErrInvalidRequest)
	}
	return nil
}

// EventStream is a pull-based event sequence. Next blocks until an event
// arrives, the stream ends (io.EOF after the terminal event), or the
// context is cancelled. Implementations surface transport failures as
// errors; an io.EOF before a stream_complete or error event means the
// connection closed abruptly.
type EventStream interface {
	Next(ctx context.Context) (model.Event, error)
	Close() error
}

// Transport is the boundary to the Interaction service. Implementations
// live outside this module; everything above them is transport-agnostic.
// ResumeAfter on GetStream is the last event id already processed; zero
// requests the stream from the beginning.
type Transport interface {
	Create(ctx context.Context, req CreateRequest) (*model.Interaction, error)
	CreateStream(ctx context.Context, req CreateRequest) (EventStream, error)
	Get(ctx context.Context, id string) (*model.Interaction, error)
	GetStream(ctx context.Context, id string, resumeAfter int64) (EventStream, error)
	Cancel(ctx context.Context, id string) (*model.Interaction, error)
	Delete(ctx context.Context, id string) error
}

// ServerError is a 4xx-class rejection from the service, surfaced
// verbatim. Matched with errors.As.
type ServerError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server rejected request (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server rejected request (%d): %s", e.StatusCode, e.Message)
}
