package model

import "time"

// Run statuses.
const (
	RunCompleted = "completed"
	RunStopped   = "stopped"
	RunAborted   = "aborted"
)

// Run is one crawl run as kept in the history.
type Run struct {
	// ID is a random UUID.
	ID string `json:"id"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the run returned.
	FinishedAt time.Time `json:"finished_at"`

	// Status is completed, stopped or aborted.
	Status string `json:"status"`

	// Seeds are the URLs the run started from.
	Seeds []string `json:"seeds"`

	// Pages is the number of pages stored.
	Pages int `json:"pages"`

	// Failed is the number of pages that could not be fetched.
	Failed int `json:"failed"`

	// Counters is the final counter snapshot.
	Counters map[string]int64 `json:"counters"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
