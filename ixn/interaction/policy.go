package interaction

import "time"

// MaxPollTimeout is the longest a background interaction is worth
// waiting for; the service abandons background work after an hour.
const MaxPollTimeout = 60 * time.Minute

// Policy bounds a run: tool rounds, per-call limits, polling cadence,
// and stream resumption.
type Policy struct {
	DefaultModel string // applied when a request names neither model nor agent

	MaxToolRounds   int           // follow-up rounds before the run aborts
	ToolConcurrency int           // concurrent tool executions per batch
	ToolTimeout     time.Duration // per-call deadline
	FailFast        bool          // abort the batch on the first tool error

	PollInterval time.Duration // background status check cadence
	PollTimeout  time.Duration // overall cap on waiting for background work

	ResumeAttempts      int           // reopen budget per stream drop
	ResumeBackoff       time.Duration // base delay between reopen attempts
	ResumeBackoffCap    time.Duration // bound on a single backoff sleep
	ResumeJitterPercent uint64

	SnapshotTTL time.Duration // cache lifetime for terminal snapshots
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxToolRounds:       10,
		ToolConcurrency:     5,
		ToolTimeout:         30 * time.Second,
		FailFast:            false,
		PollInterval:        2 * time.Second,
		PollTimeout:         MaxPollTimeout,
		ResumeAttempts:      5,
		ResumeBackoff:       250 * time.Millisecond,
		ResumeBackoffCap:    30 * time.Second,
		ResumeJitterPercent: 10,
		SnapshotTTL:         time.Hour,
	}
}
