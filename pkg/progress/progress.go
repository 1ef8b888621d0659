// Package progress persists the lifecycle state of every partition of a run so a
// collection can resume exactly where it stopped.
//
// One mapping from partition id to PartitionProgress is kept per run key. Saves are
// synchronous: when Save returns nil the state is durable. Every backend failure is
// reported as a *PersistenceError, which is fatal to the run.
package progress

import (
	"fmt"
	"time"
)

// Status is the lifecycle status of a partition.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusComplete, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the driver must not process a partition in this status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanTransition reports whether a partition may move from one status to another.
// Statuses only move forward; the one exception is the manual failed -> in_progress reset.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusComplete || to == StatusFailed
	case StatusInProgress:
		return to == StatusInProgress || to == StatusComplete || to == StatusFailed
	case StatusFailed:
		return to == StatusInProgress
	default:
		return false
	}
}

// Cursor points at the next page to fetch for a partition.
type Cursor struct {
	SubqueryIndex int
	Page          int // 1-based
}

// String renders the cursor for logs.
func (c Cursor) String() string {
	return fmt.Sprintf("%d/%d", c.SubqueryIndex, c.Page)
}

// PartitionProgress is the persisted state of one partition.
type PartitionProgress struct {
	PartitionID string `json:"-"`
	Status      Status `json:"status"`

	// SubqueryIndex and Page identify the last completed page. Page 0 means no page
	// of SubqueryIndex has been completed yet.
	SubqueryIndex int `json:"subquery_index"`
	Page          int `json:"page"`

	RecordsSoFar  int       `json:"records_so_far"`
	UpdatedAt     time.Time `json:"updated_at"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// New returns the implicit state of a partition with no stored progress.
func New(partitionID string) *PartitionProgress {
	return &PartitionProgress{PartitionID: partitionID, Status: StatusPending}
}

// Cursor returns the next page to fetch.
func (p *PartitionProgress) Cursor() Cursor {
	return Cursor{SubqueryIndex: p.SubqueryIndex, Page: p.Page + 1}
}

// SetCursor records next as the page to fetch, i.e. the page before it as completed.
func (p *PartitionProgress) SetCursor(next Cursor) {
	p.SubqueryIndex = next.SubqueryIndex
	p.Page = next.Page - 1
}

// Clone returns a copy of p.
func (p *PartitionProgress) Clone() *PartitionProgress {
	c := *p
	return &c
}

// Validate checks the invariants of a stored entry.
func (p *PartitionProgress) Validate() error {
	if !p.Status.Valid() {
		return fmt.Errorf("partition %s: unknown status %q", p.PartitionID, p.Status)
	}
	if p.SubqueryIndex < 0 || p.Page < 0 || p.RecordsSoFar < 0 {
		return fmt.Errorf("partition %s: negative cursor or count", p.PartitionID)
	}
	return nil
}
