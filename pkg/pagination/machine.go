package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/petfinder-collector/pkg/client"
	"github.com/Sternrassler/petfinder-collector/pkg/partition"
	"github.com/Sternrassler/petfinder-collector/pkg/progress"
	"github.com/Sternrassler/petfinder-collector/pkg/record"
	"github.com/rs/zerolog"
)

// MaxPageSize is the largest page the provider serves.
const MaxPageSize = 100

// StepKind is the result of one Advance call.
type StepKind int

const (
	StepPageFetched StepKind = iota
	StepSubqueryExhausted
	StepPartitionComplete
	StepQuotaStopped
	StepPartitionFailed
)

// String returns the kind name used in logs.
func (k StepKind) String() string {
	switch k {
	case StepPageFetched:
		return "page_fetched"
	case StepSubqueryExhausted:
		return "subquery_exhausted"
	case StepPartitionComplete:
		return "partition_complete"
	case StepQuotaStopped:
		return "quota_stopped"
	case StepPartitionFailed:
		return "partition_failed"
	default:
		return "unknown"
	}
}

// Step reports what one page fetch produced and where to continue.
type Step struct {
	Kind StepKind

	// Records are the new rows of the page, duplicates removed.
	Records []record.Record

	// Fetched is the page cursor that produced this step.
	Fetched progress.Cursor

	// Next is the cursor to fetch next. For QuotaStopped and PartitionFailed it
	// equals Fetched.
	Next progress.Cursor

	// Entities is the number of entities on the page, duplicates included.
	Entities   int
	Duplicates int

	Reason     string
	StatusCode int

	// Err is the cause of a QuotaStopped or PartitionFailed step. Provider
	// refusals are *client.APIError.
	Err error
}

// Config configures a Machine.
type Config struct {
	Executor  Executor
	Codec     Codec
	Flattener Flattener
	PageSize  int
	Logger    *zerolog.Logger
}

// Machine advances partitions one page at a time.
type Machine struct {
	exec     Executor
	codec    Codec
	flat     Flattener
	pageSize int
	now      func() time.Time
	logger   zerolog.Logger
}

// NewMachine validates cfg and returns a Machine.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	if cfg.Flattener == nil {
		return nil, fmt.Errorf("flattener is required")
	}
	if cfg.PageSize < 1 || cfg.PageSize > MaxPageSize {
		return nil, fmt.Errorf("page size must be between 1 and %d, got %d", MaxPageSize, cfg.PageSize)
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Machine{
		exec:     cfg.Executor,
		codec:    cfg.Codec,
		flat:     cfg.Flattener,
		pageSize: cfg.PageSize,
		now:      time.Now,
		logger:   logger.With().Str("component", "pagination").Logger(),
	}, nil
}

// PageSize returns the fixed page size requested from the provider.
func (m *Machine) PageSize() int {
	return m.pageSize
}

// Advance fetches the page at cursor and classifies the result. seen is
// updated with every emitted id. The returned error is non-nil only for
// run-fatal conditions (authentication, cancellation, quota backend failure).
func (m *Machine) Advance(ctx context.Context, p partition.Partition, cursor progress.Cursor, seen Seen) (*Step, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if cursor.SubqueryIndex < 0 || cursor.SubqueryIndex >= len(p.SubQueries) || cursor.Page < 1 {
		cause := fmt.Errorf("cursor %s outside partition with %d sub-queries", cursor, len(p.SubQueries))
		return &Step{
			Kind:    StepPartitionFailed,
			Fetched: cursor,
			Next:    cursor,
			Reason:  cause.Error(),
			Err:     cause,
		}, nil
	}

	subquery := p.SubQueries[cursor.SubqueryIndex]
	logger := m.logger.With().
		Str("partition", p.ID).
		Str("subquery", subquery).
		Int("page", cursor.Page).
		Logger()

	out, err := m.exec.Execute(ctx, m.codec.Request(p, cursor, m.pageSize))
	if err != nil {
		return nil, err
	}

	switch out.Kind {
	case client.OutcomeSuccess:
	case client.OutcomeQuotaExceeded:
		logger.Warn().Msg("Quota exhausted, stopping before this page")
		return &Step{Kind: StepQuotaStopped, Fetched: cursor, Next: cursor, Reason: out.Reason, StatusCode: out.StatusCode, Err: out.Err()}, nil
	default:
		cause := out.Err()
		logger.Warn().
			Err(cause).
			Int("status_code", out.StatusCode).
			Msg("Partition failed")
		return &Step{Kind: StepPartitionFailed, Fetched: cursor, Next: cursor, Reason: out.Reason, StatusCode: out.StatusCode, Err: cause}, nil
	}

	page, err := m.codec.Decode(out.Payload)
	if err != nil {
		cause := fmt.Errorf("decode page: %w", err)
		logger.Warn().Err(cause).Msg("Partition failed")
		return &Step{Kind: StepPartitionFailed, Fetched: cursor, Next: cursor, Reason: cause.Error(), StatusCode: out.StatusCode, Err: cause}, nil
	}

	step := &Step{Fetched: cursor, Entities: len(page.Entities), StatusCode: out.StatusCode}
	prov := Provenance{Queried: subquery, Group: partition.Group(subquery), CollectedAt: m.now().UTC()}

	// Ids are only marked seen once the whole page flattened.
	pageIDs := make(map[string]struct{}, len(page.Entities))
	for _, e := range page.Entities {
		if _, dup := pageIDs[e.ID]; dup || seen.Has(e.ID) {
			step.Duplicates++
			continue
		}
		rec, err := m.flat.Flatten(e, prov)
		if err != nil {
			cause := fmt.Errorf("flatten entity %s: %w", e.ID, err)
			logger.Warn().Err(cause).Msg("Partition failed")
			return &Step{Kind: StepPartitionFailed, Fetched: cursor, Next: cursor, Reason: cause.Error(), StatusCode: out.StatusCode, Err: cause}, nil
		}
		pageIDs[e.ID] = struct{}{}
		step.Records = append(step.Records, rec)
	}
	for id := range pageIDs {
		seen.Add(id)
	}

	last := len(page.Entities) < m.pageSize || page.EndOfResults
	switch {
	case !last:
		step.Kind = StepPageFetched
		step.Next = progress.Cursor{SubqueryIndex: cursor.SubqueryIndex, Page: cursor.Page + 1}
	case cursor.SubqueryIndex+1 < len(p.SubQueries):
		step.Kind = StepSubqueryExhausted
		step.Next = progress.Cursor{SubqueryIndex: cursor.SubqueryIndex + 1, Page: 1}
	default:
		step.Kind = StepPartitionComplete
		step.Next = progress.Cursor{SubqueryIndex: cursor.SubqueryIndex, Page: cursor.Page + 1}
	}

	pagesFetched.Inc()
	recordsEmitted.Add(float64(len(step.Records)))
	duplicatesSkipped.Add(float64(step.Duplicates))

	logger.Info().
		Int("records", len(step.Records)).
		Int("duplicates", step.Duplicates).
		Str("step", step.Kind.String()).
		Msg("Page fetched")

	return step, nil
}
