// Package sink writes collected records to per-partition CSV files and merges
// them into one deduplicated file per run.
package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Sternrassler/petfinder-collector/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var rowsWritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "collector_sink_rows_written_total",
	Help: "Rows appended to partition output files",
})

// IDColumn is the entity id column used for deduplication.
const IDColumn = "id"

// CSVSink appends records to <dir>/<type>/<status>/<partition>_<type>s.csv.
// Every Append is flushed and fsynced before it returns.
type CSVSink struct {
	dir     string
	columns []string
	logger  zerolog.Logger
	mu      sync.Mutex
}

// NewCSVSink returns a sink writing the given entity columns plus provenance.
func NewCSVSink(dir string, columns []string, logger zerolog.Logger) (*CSVSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	if len(columns) == 0 || columns[0] != IDColumn {
		return nil, fmt.Errorf("columns must start with %q", IDColumn)
	}
	return &CSVSink{
		dir:     dir,
		columns: columns,
		logger:  logger.With().Str("component", "sink").Logger(),
	}, nil
}

// SplitRunKey returns the animal type and status of a "<type>:<status>" key.
func SplitRunKey(runKey string) (animalType, status string) {
	animalType, status, _ = strings.Cut(runKey, ":")
	return animalType, status
}

// RunDir is the directory holding the partition files of a run.
func RunDir(dir, runKey string) string {
	animalType, status := SplitRunKey(runKey)
	return filepath.Join(dir, animalType, status)
}

// Path returns the output file of a partition.
func (s *CSVSink) Path(runKey, partitionID string) string {
	animalType, _ := SplitRunKey(runKey)
	return filepath.Join(RunDir(s.dir, runKey), fmt.Sprintf("%s_%ss.csv", partitionID, animalType))
}

// Append writes recs to the partition file, creating it with a header first.
// An empty recs still creates the file. A torn final row left by an
// interrupted write is cut off before the new rows are written.
func (s *CSVSink) Append(ctx context.Context, runKey, partitionID string, recs []record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(runKey, partitionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	torn, err := hasTornTail(path)
	if err != nil {
		return err
	}
	if torn {
		if _, err := s.repair(path, partitionID); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(record.Header(s.columns)); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for _, r := range recs {
		if err := w.Write(r.Row(s.columns)); err != nil {
			return fmt.Errorf("write row %s: %w", r.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}

	rowsWritten.Add(float64(len(recs)))
	s.logger.Debug().
		Str("run_key", runKey).
		Str("partition", partitionID).
		Int("records", len(recs)).
		Msg("Records appended")
	return nil
}

// LoadIDs returns the ids already written for a partition, so a resumed
// partition does not emit them again. A missing file yields no ids. A torn
// final row from an interrupted write does not count and is cut off the file.
func (s *CSVSink) LoadIDs(ctx context.Context, runKey, partitionID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repair(s.Path(runKey, partitionID), partitionID)
}

// repair truncates the file to its complete rows and returns their ids.
func (s *CSVSink) repair(path, partitionID string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	ids, valid, err := scanRows(data)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if valid == int64(len(data)) {
		return ids, nil
	}

	s.logger.Warn().
		Str("partition", partitionID).
		Int("records", len(ids)).
		Int64("dropped_bytes", int64(len(data))-valid).
		Msg("Cutting torn tail of partition file")
	if err := truncateFile(path, valid); err != nil {
		return nil, err
	}
	return ids, nil
}

// scanRows returns the ids of the complete rows in data and the length of the
// prefix holding them. A row is complete when it ends with a newline and has
// as many fields as the header.
func scanRows(data []byte) ([]string, int64, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	complete := func() bool {
		end := cr.InputOffset()
		return end > 0 && data[end-1] == '\n'
	}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, nil
	}
	if err != nil || !complete() {
		return nil, 0, nil
	}
	fields := len(header)
	idx := indexOf(header, IDColumn)
	if idx < 0 {
		return nil, 0, fmt.Errorf("no %s column", IDColumn)
	}
	valid := cr.InputOffset()

	var ids []string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return ids, valid, nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) || (err == nil && !complete()) {
			return ids, valid, nil
		}
		if err != nil {
			return nil, 0, err
		}
		if len(row) != fields {
			return nil, 0, fmt.Errorf("row ending at byte %d has %d fields, want %d", cr.InputOffset(), len(row), fields)
		}
		if row[idx] != "" {
			ids = append(ids, row[idx])
		}
		valid = cr.InputOffset()
	}
}

// hasTornTail reports whether a non-empty file does not end with a newline.
func hasTornTail(path string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	return last[0] != '\n', nil
}

func truncateFile(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return nil
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
