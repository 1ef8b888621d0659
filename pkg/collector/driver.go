// Package collector drives a collection run across its partitions.
//
// The Driver walks the partitions in the given order, skips those already
// complete or failed, and advances every other partition page by page. After
// each page the records are appended to the sink and the progress is saved
// before the next request is made, so a crash at any point resumes at the
// last saved page. When the quota runs out the run pauses; a rerun with the
// same run key continues from there.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/petfinder-collector/pkg/pagination"
	"github.com/Sternrassler/petfinder-collector/pkg/partition"
	"github.com/Sternrassler/petfinder-collector/pkg/progress"
	"github.com/Sternrassler/petfinder-collector/pkg/record"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BackendSink names the sink in persistence errors.
const BackendSink = "sink"

// Advancer fetches one page of a partition.
type Advancer interface {
	Advance(ctx context.Context, p partition.Partition, cursor progress.Cursor, seen pagination.Seen) (*pagination.Step, error)
}

// Sink receives the records of every fetched page.
type Sink interface {
	Append(ctx context.Context, runKey, partitionID string, recs []record.Record) error
}

// IDLoader is implemented by sinks that can report ids already written, used
// to seed deduplication when a partition resumes.
type IDLoader interface {
	LoadIDs(ctx context.Context, runKey, partitionID string) ([]string, error)
}

// Options configures a Driver.
type Options struct {
	Machine Advancer
	Store   progress.Store
	Sink    Sink
	Logger  *zerolog.Logger
}

// Driver runs collections.
type Driver struct {
	machine Advancer
	store   progress.Store
	sink    Sink
	now     func() time.Time
	logger  zerolog.Logger
}

// New validates opts and returns a Driver.
func New(opts Options) (*Driver, error) {
	if opts.Machine == nil {
		return nil, fmt.Errorf("machine is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("progress store is required")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Driver{
		machine: opts.Machine,
		store:   opts.Store,
		sink:    opts.Sink,
		now:     time.Now,
		logger:  logger.With().Str("component", "collector").Logger(),
	}, nil
}

type partitionEnd int

const (
	endComplete partitionEnd = iota
	endFailed
	endPaused
)

// Run collects every partition in order. The returned error is non-nil only
// when the run is aborted; a quota pause and partition failures are reported
// through Result.
func (d *Driver) Run(ctx context.Context, runKey string, partitions []partition.Partition) (*Result, error) {
	start := d.now()
	res := &Result{
		State:    RunState{RunID: uuid.New(), RunKey: runKey, StartedAt: start.UTC()},
		Failures: make(map[string]error),
	}
	logger := d.logger.With().
		Str("run_key", runKey).
		Str("run_id", res.State.RunID.String()).
		Logger()

	if err := validatePartitions(partitions); err != nil {
		return d.abort(res, logger, start, err)
	}

	loaded, err := d.store.Load(ctx, runKey)
	if err != nil {
		return d.abort(res, logger, start, err)
	}

	logger.Info().
		Int("partitions", len(partitions)).
		Int("stored", len(loaded)).
		Msg("Starting run")

	for _, p := range partitions {
		if err := ctx.Err(); err != nil {
			return d.abort(res, logger, start, err)
		}

		prog, ok := loaded[p.ID]
		if !ok {
			prog = progress.New(p.ID)
		}
		if prog.Status.Terminal() {
			res.Skipped = append(res.Skipped, p.ID)
			logger.Debug().
				Str("partition", p.ID).
				Str("status", string(prog.Status)).
				Msg("Skipping partition")
			continue
		}

		end, err := d.runPartition(ctx, runKey, p, prog, res, logger)
		if err != nil {
			return d.abort(res, logger, start, err)
		}

		switch end {
		case endComplete:
			res.Completed = append(res.Completed, p.ID)
			partitionsTotal.WithLabelValues(string(progress.StatusComplete)).Inc()
		case endFailed:
			res.Failed = append(res.Failed, p.ID)
			partitionsTotal.WithLabelValues(string(progress.StatusFailed)).Inc()
		case endPaused:
			partitionsTotal.WithLabelValues("paused").Inc()
			res.PausedAt = p.ID
			res.State.QuotaExhausted = true
			res.Status = RunPaused
			res.Duration = d.now().Sub(start)
			runsTotal.WithLabelValues(string(RunPaused)).Inc()
			logger.Warn().
				Str("partition", p.ID).
				Str("cursor", res.State.Cursor.String()).
				Int("requests", res.Requests).
				Int("records", res.Records).
				Msg("Quota exhausted, run paused")
			return res, nil
		}
	}

	res.Status = RunFinished
	res.State.Current = ""
	res.Duration = d.now().Sub(start)
	runsTotal.WithLabelValues(string(RunFinished)).Inc()
	logger.Info().
		Int("completed", len(res.Completed)).
		Int("failed", len(res.Failed)).
		Int("skipped", len(res.Skipped)).
		Int("requests", res.Requests).
		Int("records", res.Records).
		Dur("duration", res.Duration).
		Msg("Run finished")
	return res, nil
}

func (d *Driver) runPartition(ctx context.Context, runKey string, p partition.Partition, prog *progress.PartitionProgress, res *Result, logger zerolog.Logger) (partitionEnd, error) {
	logger = logger.With().Str("partition", p.ID).Logger()

	seen, err := d.seedSeen(ctx, runKey, p.ID)
	if err != nil {
		return 0, err
	}
	// A page written to the sink but not yet saved is counted once.
	if len(seen) > prog.RecordsSoFar {
		prog = prog.Clone()
		prog.RecordsSoFar = len(seen)
	}

	cursor := prog.Cursor()
	res.State.Current = p.ID
	res.State.Cursor = cursor
	logger.Info().
		Str("status", string(prog.Status)).
		Str("cursor", cursor.String()).
		Int("records", prog.RecordsSoFar).
		Msg("Collecting partition")

	for {
		step, err := d.machine.Advance(ctx, p, cursor, seen)
		if err != nil {
			return 0, err
		}
		res.Requests++

		next := prog.Clone()
		next.UpdatedAt = d.now().UTC()

		switch step.Kind {
		case pagination.StepQuotaStopped:
			next.Status = progress.StatusInProgress
			if err := d.save(ctx, runKey, prog, next); err != nil {
				return 0, err
			}
			return endPaused, nil

		case pagination.StepPartitionFailed:
			next.Status = progress.StatusFailed
			next.FailureReason = step.Reason
			if err := d.save(ctx, runKey, prog, next); err != nil {
				return 0, err
			}
			cause := step.Err
			if cause == nil {
				cause = errors.New(step.Reason)
			}
			res.Failures[p.ID] = cause
			logger.Warn().
				Err(cause).
				Str("cursor", cursor.String()).
				Int("status_code", step.StatusCode).
				Msg("Partition failed")
			return endFailed, nil
		}

		if err := d.sink.Append(ctx, runKey, p.ID, step.Records); err != nil {
			return 0, &progress.PersistenceError{Backend: BackendSink, Op: "append", RunKey: runKey, PartitionID: p.ID, Err: err}
		}

		next.Status = progress.StatusInProgress
		if step.Kind == pagination.StepPartitionComplete {
			next.Status = progress.StatusComplete
		}
		next.SetCursor(step.Next)
		next.RecordsSoFar += len(step.Records)
		if err := d.save(ctx, runKey, prog, next); err != nil {
			return 0, err
		}
		res.Records += len(step.Records)

		prog = next
		cursor = step.Next
		res.State.Cursor = cursor

		if step.Kind == pagination.StepPartitionComplete {
			logger.Info().
				Int("records", prog.RecordsSoFar).
				Msg("Partition complete")
			return endComplete, nil
		}
	}
}

func (d *Driver) seedSeen(ctx context.Context, runKey, partitionID string) (pagination.Seen, error) {
	loader, ok := d.sink.(IDLoader)
	if !ok {
		return pagination.NewSeen(), nil
	}
	ids, err := loader.LoadIDs(ctx, runKey, partitionID)
	if err != nil {
		return nil, &progress.PersistenceError{Backend: BackendSink, Op: "load", RunKey: runKey, PartitionID: partitionID, Err: err}
	}
	return pagination.NewSeen(ids...), nil
}

func (d *Driver) save(ctx context.Context, runKey string, prev, next *progress.PartitionProgress) error {
	if !progress.CanTransition(prev.Status, next.Status) {
		return fmt.Errorf("partition %s: illegal transition %s -> %s", prev.PartitionID, prev.Status, next.Status)
	}
	return d.store.Save(ctx, runKey, next.PartitionID, next)
}

func (d *Driver) abort(res *Result, logger zerolog.Logger, start time.Time, err error) (*Result, error) {
	res.Status = RunAborted
	res.Err = err
	res.Duration = d.now().Sub(start)
	runsTotal.WithLabelValues(string(RunAborted)).Inc()

	ev := logger.Error().Err(err)
	if res.State.Current != "" {
		ev = ev.Str("partition", res.State.Current).Str("cursor", res.State.Cursor.String())
	}
	ev.Int("requests", res.Requests).Msg("Run aborted")
	return res, err
}

func validatePartitions(partitions []partition.Partition) error {
	ids := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		if err := p.Validate(); err != nil {
			return err
		}
		if ids[p.ID] {
			return fmt.Errorf("duplicate partition %s", p.ID)
		}
		ids[p.ID] = true
	}
	return nil
}
