// Package runs tracks indexing runs, their per-document progress, and the
// access ledger used to compute revocations between runs.
package runs

import (
	"errors"
	"time"
)

// Sentinel errors for run tracking.
var (
	// ErrNotFound is returned when a run or item does not exist.
	ErrNotFound = errors.New("run not found")

	// ErrRunActive is returned when a new run is requested while another
	// run for the same (org, user, datasource) is still in flight.
	ErrRunActive = errors.New("a run is already in flight for this user")

	// ErrInvalidTransition is returned for status updates that skip the
	// lifecycle order.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of a run or run item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// canTransition reports whether a status change is allowed.
func canTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed || to == StatusCanceled
	case StatusProcessing:
		return to.Terminal()
	default:
		return false
	}
}

// Run is one indexing run for a single user against a single datasource.
type Run struct {
	ID         string
	OrgName    string
	UserID     string
	Datasource string
	IndexName  string
	Status     Status
	Error      string

	ItemsTotal     int
	ItemsCompleted int
	ItemsFailed    int

	StartedAt  time.Time
	FinishedAt time.Time
}

// Item is one document within a run.
type Item struct {
	ID         string
	RunID      string
	DocumentID string
	Title      string
	Status     Status
	Error      string

	StartedAt  time.Time
	FinishedAt time.Time
}

// ItemLog is one progress entry for an item. Stage names the pipeline phase
// ("normalize", "chunk", "embed", "write"), Percent is coarse progress
// within the item.
type ItemLog struct {
	ItemID  string
	Stage   string
	Percent int
	Message string
	At      time.Time
}

// Notifier receives run lifecycle changes. Implementations must be fast and
// non-blocking; the tracker calls them inline after commits.
type Notifier interface {
	RunChanged(run Run)
	ItemChanged(item Item)
}
