package resume

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/voxhollow/interactions-go/ixn/model"
	ports "github.com/voxhollow/interactions-go/ixn/ports"
)

var (
	// ErrUnresumable reports a stream that dropped before stream_start:
	// with no interaction id there is nothing to re-fetch.
	ErrUnresumable = errors.New("stream cannot be resumed")

	// ErrStreamExhausted reports a drop that outlived the reconnect
	// attempt budget.
	ErrStreamExhausted = errors.New("stream resume attempts exhausted")

	errClosed = errors.New("resume stream closed")
)

// ReopenFunc re-fetches an interaction as a stream, resuming after the
// given event id. Wire a Transport's GetStream here.
type ReopenFunc func(ctx context.Context, interactionID string, afterEventID int64) (ports.EventStream, error)

// Options tune the reconnect loop.
type Options struct {
	// MaxAttempts is the reopen budget per drop. The budget refreshes
	// once a reopen succeeds.
	MaxAttempts int
	// BackoffBase seeds the exponential backoff between attempts.
	BackoffBase time.Duration
	// BackoffCap bounds a single backoff sleep. Zero means uncapped.
	BackoffCap time.Duration
	// JitterPercent spreads the backoff to avoid reconnect stampedes.
	JitterPercent uint64
	Logger        zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 250 * time.Millisecond
	}
	if o.JitterPercent == 0 {
		o.JitterPercent = 10
	}
	return o
}

// Stream wraps an event stream with transparent resumption. It is itself
// an EventStream, so consumers never observe a reconnect: every event is
// forwarded at most once, in order, across any number of drops.
type Stream struct {
	cur    ports.EventStream
	reopen ReopenFunc
	opts   Options

	interactionID string
	lastEventID   int64
	seen          *roaring64.Bitmap
	reconnects    int
	done          bool
	closed        bool
}

var _ ports.EventStream = (*Stream)(nil)

// New wraps an already-open stream. reopen is called on every drop after
// the interaction id is known.
func New(initial ports.EventStream, reopen ReopenFunc, opts Options) *Stream {
	return &Stream{
		cur:    initial,
		reopen: reopen,
		opts:   opts.withDefaults(),
		seen:   roaring64.New(),
	}
}

// InteractionID returns the id captured from stream_start, if any.
func (s *Stream) InteractionID() string { return s.interactionID }

// LastEventID returns the id of the last event forwarded downstream.
func (s *Stream) LastEventID() int64 { return s.lastEventID }

// Reconnects returns how many drops have been recovered so far.
func (s *Stream) Reconnects() int { return s.reconnects }

// Next returns the next event, reconnecting as needed. io.EOF before the
// stream's terminal event counts as an abrupt close and triggers
// resumption; after the terminal event it is the normal end.
func (s *Stream) Next(ctx context.Context) (model.Event, error) {
	if s.closed {
		return nil, errClosed
	}
	for {
		ev, err := s.cur.Next(ctx)
		if err != nil {
			if s.done {
				return nil, io.EOF
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if rerr := s.reconnect(ctx, err); rerr != nil {
				return nil, rerr
			}
			continue
		}

		id := ev.ID()
		if id > 0 && s.seen.Contains(uint64(id)) {
			// The server over-delivered at the resume boundary.
			continue
		}
		if ss, ok := ev.(model.StreamStart); ok {
			s.interactionID = ss.InteractionID
		}
		if id > 0 {
			s.seen.Add(uint64(id))
			if id > s.lastEventID {
				s.lastEventID = id
			}
		}
		switch ev.(type) {
		case model.StreamComplete, model.ErrorEvent:
			s.done = true
		}
		return ev, nil
	}
}

// Close stops the stream. A closed stream never reconnects.
func (s *Stream) Close() error {
	s.closed = true
	return s.cur.Close()
}

func (s *Stream) reconnect(ctx context.Context, cause error) error {
	if s.interactionID == "" {
		return fmt.Errorf("%w: dropped before stream_start: %v", ErrUnresumable, cause)
	}
	_ = s.cur.Close()

	s.opts.Logger.Warn().
		Err(cause).
		Str("interaction_id", s.interactionID).
		Int64("last_event_id", s.lastEventID).
		Msg("stream dropped; resuming")

	backoff := retry.WithJitterPercent(s.opts.JitterPercent, retry.NewExponential(s.opts.BackoffBase))
	if s.opts.BackoffCap > 0 {
		backoff = retry.WithCappedDuration(s.opts.BackoffCap, backoff)
	}
	backoff = retry.WithMaxRetries(uint64(s.opts.MaxAttempts-1), backoff)

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		next, err := s.reopen(ctx, s.interactionID, s.lastEventID)
		if err != nil {
			var se *ports.ServerError
			if errors.As(err, &se) {
				// The server refused the resume outright; retrying the
				// same request cannot help.
				return err
			}
			return retry.RetryableError(err)
		}
		s.cur = next
		return nil
	})
	if err == nil {
		s.reconnects++
		s.opts.Logger.Info().
			Str("interaction_id", s.interactionID).
			Int64("resume_after", s.lastEventID).
			Int("attempts", attempts).
			Msg("stream resumed")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var se *ports.ServerError
	if errors.As(err, &se) {
		return err
	}
	return fmt.Errorf("resume of %s failed after %d attempts: %w (last error: %v)",
		s.interactionID, attempts, ErrStreamExhausted, err)
}
