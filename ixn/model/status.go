package model

// Status describes where an Interaction is in its lifecycle.
type Status string

const (
	// StatusCreated is client-local: a turn that has been prepared but for
	// which no server response has been observed yet. The server never
	// reports it.
	StatusCreated Status = "created"

	StatusInProgress     Status = "in_progress"
	StatusRequiresAction Status = "requires_action"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal statuses are
// sticky: an Interaction observed in one never changes again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Known reports whether the status is one this client understands.
func (s Status) Known() bool {
	switch s {
	case StatusCreated, StatusInProgress, StatusRequiresAction,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
