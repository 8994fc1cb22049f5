package model

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Event type discriminators as they appear on the wire.
const (
	EventTypeStreamStart    = "stream_start"
	EventTypeBlockStart     = "block_start"
	EventTypeBlockDelta     = "block_delta"
	EventTypeBlockStop      = "block_stop"
	EventTypeStatusUpdate   = "status_update"
	EventTypeStreamComplete = "stream_complete"
	EventTypeError          = "error"
)

// Event is one element of an Interaction's event stream. Closed union with
// an opaque fallback, like Block. Every event carries an id that increases
// monotonically within one Interaction's stream; ids start at 1 and are
// the unit of resumption.
type Event interface {
	// EventType returns the wire discriminator for the event.
	EventType() string

	// ID returns the event's position in the per-interaction sequence.
	ID() int64

	isEvent()
}

// StreamStart opens a stream and announces the Interaction id the server
// assigned to the turn.
type StreamStart struct {
	EventID       int64  `json:"event_id"`
	InteractionID string `json:"interaction_id"`
}

func (StreamStart) EventType() string { return EventTypeStreamStart }
func (e StreamStart) ID() int64       { return e.EventID }
func (StreamStart) isEvent()          {}

// BlockStart opens the block at ContentIndex. Block is the opening
// skeleton: it fixes the type and carries fields that do not stream, such
// as a function_call's id and name or a media block's kind.
type BlockStart struct {
	EventID      int64 `json:"event_id"`
	ContentIndex int   `json:"content_index"`
	Block        Block `json:"block"`
}

func (BlockStart) EventType() string { return EventTypeBlockStart }
func (e BlockStart) ID() int64       { return e.EventID }
func (BlockStart) isEvent()          {}

// Delta is the payload fragment carried by a BlockDelta. Which field is
// set depends on the type of the open block at the same index.
type Delta struct {
	Text      string `json:"text,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Signature string `json:"signature,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Data      []byte `json:"data,omitempty"`
}

// BlockDelta extends the open block at ContentIndex with a fragment.
type BlockDelta struct {
	EventID      int64 `json:"event_id"`
	ContentIndex int   `json:"content_index"`
	Delta        Delta `json:"delta"`
}

func (BlockDelta) EventType() string { return EventTypeBlockDelta }
func (e BlockDelta) ID() int64       { return e.EventID }
func (BlockDelta) isEvent()          {}

// BlockStop finalizes the open block at ContentIndex.
type BlockStop struct {
	EventID      int64 `json:"event_id"`
	ContentIndex int   `json:"content_index"`
}

func (BlockStop) EventType() string { return EventTypeBlockStop }
func (e BlockStop) ID() int64       { return e.EventID }
func (BlockStop) isEvent()          {}

// StatusUpdate reports a server-side status transition mid-stream.
type StatusUpdate struct {
	EventID int64  `json:"event_id"`
	Status  Status `json:"status"`
}

func (StatusUpdate) EventType() string { return EventTypeStatusUpdate }
func (e StatusUpdate) ID() int64       { return e.EventID }
func (StatusUpdate) isEvent()          {}

// StreamComplete ends a stream normally and carries the final Interaction
// snapshot, including usage totals.
type StreamComplete struct {
	EventID     int64       `json:"event_id"`
	Interaction Interaction `json:"interaction"`
}

func (StreamComplete) EventType() string { return EventTypeStreamComplete }
func (e StreamComplete) ID() int64       { return e.EventID }
func (StreamComplete) isEvent()          {}

// ErrorEvent ends a stream abnormally: the server could not finish the
// turn. It is a legitimate stream terminator, not a transport failure, so
// reconnection does not apply.
type ErrorEvent struct {
	EventID int64       `json:"event_id"`
	Err     ErrorDetail `json:"error"`
}

func (ErrorEvent) EventType() string { return EventTypeError }
func (e ErrorEvent) ID() int64       { return e.EventID }
func (ErrorEvent) isEvent()          {}

// OpaqueEvent preserves an event whose discriminator this client does not
// recognize. Consumers skip it; its id still advances resumption state.
type OpaqueEvent struct {
	TypeName string
	EventID  int64
	Raw      json.RawMessage
}

func (e OpaqueEvent) EventType() string { return e.TypeName }
func (e OpaqueEvent) ID() int64         { return e.EventID }
func (OpaqueEvent) isEvent()            {}

func (e StreamStart) MarshalJSON() ([]byte, error) {
	type alias StreamStart
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeStreamStart, alias(e)})
}

func (e BlockStart) MarshalJSON() ([]byte, error) {
	type alias BlockStart
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeBlockStart, alias(e)})
}

func (e *BlockStart) UnmarshalJSON(data []byte) error {
	var env struct {
		EventID      int64           `json:"event_id"`
		ContentIndex int             `json:"content_index"`
		Block        json.RawMessage `json:"block"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode block_start event: %w", err)
	}
	e.EventID = env.EventID
	e.ContentIndex = env.ContentIndex
	if len(env.Block) == 0 {
		return fmt.Errorf("%w: block_start requires a block skeleton", ErrMalformedBlock)
	}
	b, err := UnmarshalBlock(env.Block)
	if err != nil {
		return err
	}
	e.Block = b
	return nil
}

func (e BlockDelta) MarshalJSON() ([]byte, error) {
	type alias BlockDelta
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeBlockDelta, alias(e)})
}

func (e BlockStop) MarshalJSON() ([]byte, error) {
	type alias BlockStop
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeBlockStop, alias(e)})
}

func (e StatusUpdate) MarshalJSON() ([]byte, error) {
	type alias StatusUpdate
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeStatusUpdate, alias(e)})
}

func (e StreamComplete) MarshalJSON() ([]byte, error) {
	type alias StreamComplete
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeStreamComplete, alias(e)})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type alias ErrorEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventTypeError, alias(e)})
}

func (e OpaqueEvent) MarshalJSON() ([]byte, error) {
	if len(e.Raw) == 0 {
		return json.Marshal(struct {
			Type    string `json:"type"`
			EventID int64  `json:"event_id"`
		}{e.TypeName, e.EventID})
	}
	return append([]byte(nil), e.Raw...), nil
}

// UnmarshalEvent decodes one event from its wire envelope. Unknown type
// discriminators yield an OpaqueEvent rather than an error.
func UnmarshalEvent(data []byte) (Event, error) {
	t := gjson.GetBytes(data, "type")
	if !t.Exists() || t.String() == "" {
		return nil, fmt.Errorf("%w: event missing type discriminator", ErrMalformedBlock)
	}

	switch t.String() {
	case EventTypeStreamStart:
		var v StreamStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode stream_start event: %w", err)
		}
		return v, nil
	case EventTypeBlockStart:
		var v BlockStart
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case EventTypeBlockDelta:
		var v BlockDelta
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode block_delta event: %w", err)
		}
		return v, nil
	case EventTypeBlockStop:
		var v BlockStop
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode block_stop event: %w", err)
		}
		return v, nil
	case EventTypeStatusUpdate:
		var v StatusUpdate
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode status_update event: %w", err)
		}
		return v, nil
	case EventTypeStreamComplete:
		var v StreamComplete
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode stream_complete event: %w", err)
		}
		return v, nil
	case EventTypeError:
		var v ErrorEvent
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode error event: %w", err)
		}
		return v, nil
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return OpaqueEvent{TypeName: t.String(), EventID: gjson.GetBytes(data, "event_id").Int(), Raw: raw}, nil
	}
}
