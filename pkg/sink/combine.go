package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// CombinedPrefix marks merged output files, which are never merged again.
const CombinedPrefix = "all_"

// CombineStats reports the result of a merge.
type CombineStats struct {
	Output     string
	Files      int
	Rows       int
	Duplicates int
}

// CombinedPath returns the merged output file of a run.
func CombinedPath(dir, runKey string) string {
	animalType, status := SplitRunKey(runKey)
	return filepath.Join(RunDir(dir, runKey), fmt.Sprintf("%s%s_%ss.csv", CombinedPrefix, status, animalType))
}

// Combine merges every partition file of the run into one file, in file name
// order, keeping the first row of each id. Columns follow the first file's
// header; files with other columns are mapped by name.
func Combine(dir, runKey string, logger zerolog.Logger) (*CombineStats, error) {
	logger = logger.With().Str("component", "sink").Str("run_key", runKey).Logger()

	runDir := RunDir(dir, runKey)
	paths, err := filepath.Glob(filepath.Join(runDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", runDir, err)
	}
	inputs := paths[:0]
	for _, p := range paths {
		if !strings.HasPrefix(filepath.Base(p), CombinedPrefix) {
			inputs = append(inputs, p)
		}
	}
	sort.Strings(inputs)
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no partition files in %s", runDir)
	}

	stats := &CombineStats{Output: CombinedPath(dir, runKey), Files: len(inputs)}

	tmp, err := os.CreateTemp(runDir, ".combine-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	seen := make(map[string]struct{})
	var header []string

	for _, path := range inputs {
		rows, dups, err := mergeFile(path, w, &header, seen)
		if err != nil {
			tmp.Close()
			return nil, err
		}
		stats.Rows += rows
		stats.Duplicates += dups
	}

	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write %s: %w", stats.Output, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sync %s: %w", stats.Output, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", stats.Output, err)
	}
	if err := os.Rename(tmpName, stats.Output); err != nil {
		return nil, fmt.Errorf("rename %s: %w", stats.Output, err)
	}

	logger.Info().
		Int("files", stats.Files).
		Int("records", stats.Rows).
		Int("duplicates", stats.Duplicates).
		Str("output", stats.Output).
		Msg("Combined partition files")
	return stats, nil
}

func mergeFile(path string, w *csv.Writer, header *[]string, seen map[string]struct{}) (rows, dups int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	fileHeader, err := r.Read()
	if errors.Is(err, io.EOF) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read %s: %w", path, err)
	}

	if *header == nil {
		*header = append([]string(nil), fileHeader...)
		if indexOf(*header, IDColumn) < 0 {
			return 0, 0, fmt.Errorf("%s: no %s column", path, IDColumn)
		}
		if err := w.Write(*header); err != nil {
			return 0, 0, err
		}
	}

	// mapping[i] is the position in fileHeader of output column i, or -1.
	mapping := make([]int, len(*header))
	for i, c := range *header {
		mapping[i] = indexOf(fileHeader, c)
	}
	idx := indexOf(fileHeader, IDColumn)
	if idx < 0 {
		return 0, 0, fmt.Errorf("%s: no %s column", path, IDColumn)
	}

	out := make([]string, len(*header))
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, dups, nil
		}
		if err != nil {
			return rows, dups, fmt.Errorf("read %s: %w", path, err)
		}
		if idx >= len(row) {
			continue
		}
		if _, ok := seen[row[idx]]; ok {
			dups++
			continue
		}
		seen[row[idx]] = struct{}{}

		for i, j := range mapping {
			out[i] = ""
			if j >= 0 && j < len(row) {
				out[i] = row[j]
			}
		}
		if err := w.Write(out); err != nil {
			return rows, dups, err
		}
		rows++
	}
}
