package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/voxhollow/interactions-go/ixn/model"
	ports "github.com/voxhollow/interactions-go/ixn/ports"
)

// ErrStreamProtocol reports an event sequence that violates the per-index
// start, delta, stop ordering. Decoding aborts; a partial mirror must not
// be patched around.
var ErrStreamProtocol = errors.New("stream protocol violation")

// UpdateKind discriminates the decoder's output values.
type UpdateKind string

const (
	// UpdateStarted reports the Interaction id from stream_start.
	UpdateStarted UpdateKind = "started"
	// UpdateBlock carries one fully-assembled content block.
	UpdateBlock UpdateKind = "block"
	// UpdateStatus carries a server status transition.
	UpdateStatus UpdateKind = "status"
	// UpdateCompleted carries the final snapshot from stream_complete.
	UpdateCompleted UpdateKind = "completed"
	// UpdateFailed carries the detail of a server error event.
	UpdateFailed UpdateKind = "failed"
)

// Update is one decoded output: an assembled block, a status transition,
// or a stream boundary. Fields beyond Kind are set per kind.
type Update struct {
	Kind          UpdateKind
	InteractionID string
	ContentIndex  int
	Block         model.Block
	Status        model.Status
	Interaction   *model.Interaction
	Error         *model.ErrorDetail
}

// Decoder assembles content blocks from a raw event feed. The arena of
// in-progress accumulators is owned by one decoder for one stream's
// lifetime; reconnection is the resume manager's job, not the decoder's.
type Decoder struct {
	src           ports.EventStream
	arena         map[int]*accumulator
	closed        map[int]string
	interactionID string
	done          bool
	err           error
}

// NewDecoder wraps a raw event stream.
func NewDecoder(src ports.EventStream) *Decoder {
	return &Decoder{
		src:    src,
		arena:  make(map[int]*accumulator),
		closed: make(map[int]string),
	}
}

// InteractionID returns the id announced by stream_start, if seen.
func (d *Decoder) InteractionID() string { return d.interactionID }

// Close releases the underlying stream.
func (d *Decoder) Close() error { return d.src.Close() }

// Next returns the next decoded update. After a stream_complete or error
// event it returns io.EOF. Protocol violations and malformed finalized
// blocks latch: every subsequent call returns the same error.
func (d *Decoder) Next(ctx context.Context) (Update, error) {
	if d.err != nil {
		return Update{}, d.err
	}
	if d.done {
		return Update{}, io.EOF
	}

	for {
		ev, err := d.src.Next(ctx)
		if err != nil {
			return Update{}, err
		}

		switch e := ev.(type) {
		case model.StreamStart:
			d.interactionID = e.InteractionID
			return Update{Kind: UpdateStarted, InteractionID: e.InteractionID}, nil

		case model.BlockStart:
			if open, ok := d.arena[e.ContentIndex]; ok {
				d.err = fmt.Errorf("%w: content index %d started as %s while open as %s",
					ErrStreamProtocol, e.ContentIndex, e.Block.Type(), open.blockType)
				return Update{}, d.err
			}
			if prev, ok := d.closed[e.ContentIndex]; ok {
				d.err = fmt.Errorf("%w: content index %d reopened after %s was finalized",
					ErrStreamProtocol, e.ContentIndex, prev)
				return Update{}, d.err
			}
			d.arena[e.ContentIndex] = newAccumulator(e.Block)

		case model.BlockDelta:
			a, ok := d.arena[e.ContentIndex]
			if !ok {
				d.err = fmt.Errorf("%w: delta for unknown content index %d", ErrStreamProtocol, e.ContentIndex)
				return Update{}, d.err
			}
			a.apply(e.Delta)

		case model.BlockStop:
			a, ok := d.arena[e.ContentIndex]
			if !ok {
				d.err = fmt.Errorf("%w: block_stop without open block at content index %d", ErrStreamProtocol, e.ContentIndex)
				return Update{}, d.err
			}
			delete(d.arena, e.ContentIndex)
			d.closed[e.ContentIndex] = a.blockType
			b := a.finalize()
			if err := model.ValidateBlock(b); err != nil {
				d.err = err
				return Update{}, d.err
			}
			return Update{Kind: UpdateBlock, ContentIndex: e.ContentIndex, Block: b}, nil

		case model.StatusUpdate:
			return Update{Kind: UpdateStatus, Status: e.Status}, nil

		case model.StreamComplete:
			d.done = true
			snap := e.Interaction
			return Update{Kind: UpdateCompleted, Interaction: &snap}, nil

		case model.ErrorEvent:
			d.done = true
			detail := e.Err
			return Update{Kind: UpdateFailed, Status: model.StatusFailed, Error: &detail}, nil

		default:
			// Unknown event types are skipped; their ids still advanced
			// resumption state upstream.
		}
	}
}

// accumulator holds one in-progress block. The skeleton from block_start
// keeps the fields that do not stream; builders collect the fragments.
type accumulator struct {
	blockType string
	seed      model.Block
	text      strings.Builder
	summary   strings.Builder
	signature strings.Builder
	args      strings.Builder
	data      bytes.Buffer
}

func newAccumulator(seed model.Block) *accumulator {
	a := &accumulator{blockType: seed.Type(), seed: seed}
	switch v := seed.(type) {
	case model.TextBlock:
		a.text.WriteString(v.Text)
	case model.ThoughtBlock:
		a.summary.WriteString(v.Summary)
		a.signature.WriteString(v.Signature)
	case model.FunctionCallBlock:
		a.args.WriteString(v.Arguments)
	case model.MediaBlock:
		a.data.Write(v.Data)
	}
	return a
}

func (a *accumulator) apply(d model.Delta) {
	switch a.seed.(type) {
	case model.TextBlock:
		a.text.WriteString(d.Text)
	case model.ThoughtBlock:
		a.summary.WriteString(d.Summary)
		a.signature.WriteString(d.Signature)
	case model.FunctionCallBlock:
		a.args.WriteString(d.Arguments)
	case model.MediaBlock:
		a.data.Write(d.Data)
	default:
		// Fragments for an unrecognized block type cannot be merged; the
		// final snapshot carries the authoritative payload.
	}
}

func (a *accumulator) finalize() model.Block {
	switch v := a.seed.(type) {
	case model.TextBlock:
		v.Text = a.text.String()
		return v
	case model.ThoughtBlock:
		v.Summary = a.summary.String()
		v.Signature = a.signature.String()
		return v
	case model.FunctionCallBlock:
		v.Arguments = a.args.String()
		if v.Arguments == "" {
			v.Arguments = "{}"
		}
		return v
	case model.MediaBlock:
		if a.data.Len() > 0 {
			v.Data = append([]byte(nil), a.data.Bytes()...)
		}
		return v
	default:
		return a.seed
	}
}
