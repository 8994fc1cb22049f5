package interaction

import (
	"errors"
	"fmt"

	"github.com/voxhollow/interactions-go/ixn/model"
)

// ErrInvalidTransition reports a status change the lifecycle does not
// permit, including any change away from a terminal status.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[model.Status]map[model.Status]struct{}{
	model.StatusCreated: {
		model.StatusInProgress:     {},
		model.StatusRequiresAction: {},
		model.StatusCompleted:      {},
		model.StatusFailed:         {},
		model.StatusCancelled:      {},
	},
	model.StatusInProgress: {
		model.StatusRequiresAction: {},
		model.StatusCompleted:      {},
		model.StatusFailed:         {},
		model.StatusCancelled:      {},
	},
	model.StatusRequiresAction: {
		model.StatusInProgress: {},
		model.StatusCompleted:  {},
		model.StatusFailed:     {},
		model.StatusCancelled:  {},
	},
	model.StatusCompleted: {},
	model.StatusFailed:    {},
	model.StatusCancelled: {},
}

// CanTransition reports whether a run may move between two statuses.
// Re-observing the current status is always allowed.
func CanTransition(from, to model.Status) bool {
	if from == to {
		return true
	}
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Lifecycle tracks the observed status of one logical run across
// creates, polls, and stream updates. Terminal statuses are sticky.
type Lifecycle struct {
	current model.Status
}

// NewLifecycle starts at created, the client-local initial status.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{current: model.StatusCreated}
}

func (l *Lifecycle) Current() model.Status { return l.current }

// Observe advances to the next reported status, rejecting unknown
// statuses and regressions.
func (l *Lifecycle) Observe(next model.Status) error {
	if !next.Known() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if next == l.current {
		return nil
	}
	if l.current.Terminal() {
		return fmt.Errorf("%w: %s is terminal and cannot become %s", ErrInvalidTransition, l.current, next)
	}
	if !CanTransition(l.current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.current, next)
	}
	l.current = next
	return nil
}
