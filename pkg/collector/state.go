package collector

import (
	"time"

	"github.com/Sternrassler/petfinder-collector/pkg/progress"
	"github.com/google/uuid"
)

// RunState is the live state of one process invocation. It is rebuilt on
// every run and never persisted; durable state lives in the progress store.
type RunState struct {
	RunID     uuid.UUID
	RunKey    string
	StartedAt time.Time

	// QuotaExhausted is set once the provider (or the local budget) refused a request.
	QuotaExhausted bool

	Current string
	Cursor  progress.Cursor
}

// RunStatus is the final state of a run.
type RunStatus string

const (
	// RunFinished means every partition is complete or failed.
	RunFinished RunStatus = "finished"

	// RunPaused means the quota ran out; rerunning resumes where it stopped.
	RunPaused RunStatus = "paused"

	// RunAborted means an authentication, persistence or cancellation error
	// stopped the run.
	RunAborted RunStatus = "aborted"
)

// Result summarizes a run.
type Result struct {
	Status RunStatus
	State  RunState

	// Completed and Failed list partitions that reached that state in this run.
	Completed []string
	Failed    []string

	// Failures holds the cause of every partition in Failed.
	Failures map[string]error

	// Skipped lists partitions already complete or failed before the run.
	Skipped []string

	// PausedAt is the partition that was in progress when the quota ran out.
	PausedAt string

	Requests int
	Records  int
	Duration time.Duration
	Err      error
}
