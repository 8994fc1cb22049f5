package model

import (
	"encoding/json"
	"time"
)

// Interaction is the client's mirror of one server-tracked conversational
// turn. The server is authoritative; this projection is rebuilt from
// snapshots and stream events and is never written back.
type Interaction struct {
	ID           string       `json:"id"`
	Status       Status       `json:"status"`
	Outputs      Blocks       `json:"outputs,omitempty"`
	Background   bool         `json:"background,omitempty"`
	PriorTurnRef string       `json:"prior_turn_ref,omitempty"`
	Model        string       `json:"model,omitempty"`
	Store        bool         `json:"store"`
	Usage        *Usage       `json:"usage,omitempty"`
	Error        *ErrorDetail `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Usage carries the token totals reported on terminal snapshots.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Add returns the element-wise sum of two usage totals.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// ErrorDetail is the structured error the server attaches to failed
// interactions and error stream events.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Clone returns a deep copy. Byte payloads and the output sequence are
// copied so the original cannot be mutated through the copy.
func (in *Interaction) Clone() *Interaction {
	if in == nil {
		return nil
	}
	out := *in
	if in.Usage != nil {
		u := *in.Usage
		out.Usage = &u
	}
	if in.Error != nil {
		e := *in.Error
		out.Error = &e
	}
	if in.Outputs != nil {
		out.Outputs = make(Blocks, len(in.Outputs))
		for i, b := range in.Outputs {
			out.Outputs[i] = cloneBlock(b)
		}
	}
	return &out
}

func cloneBlock(b Block) Block {
	switch v := b.(type) {
	case MediaBlock:
		v.Data = append([]byte(nil), v.Data...)
		return v
	case BuiltinCallBlock:
		v.Args = append(json.RawMessage(nil), v.Args...)
		return v
	case BuiltinResultBlock:
		v.Output = append(json.RawMessage(nil), v.Output...)
		return v
	case OpaqueBlock:
		v.Raw = append(json.RawMessage(nil), v.Raw...)
		return v
	default:
		return b
	}
}
