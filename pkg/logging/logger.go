// Package logging configures the collector's zerolog output: JSON or console
// lines on stderr, optionally teed into an append-only log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// ConsoleTimeFormat is the timestamp layout of pretty console lines.
const ConsoleTimeFormat = "2006-01-02 15:04:05"

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// ParseLevel accepts debug, info, warn (or warning) and error in any case.
// An empty string is info.
func ParseLevel(s string) (LogLevel, error) {
	switch l := LogLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LevelInfo, nil
	case "warning":
		return LevelWarn, nil
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return l, nil
	default:
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches stderr output from JSON to console lines.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// File, when set, additionally receives every line as JSON. Missing
	// parent directories are created.
	File string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup builds the logger, installs it as the global zerolog logger and sets
// the global level. The returned closer releases the log file, if any.
func Setup(cfg Config) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(string(cfg.Level))
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: ConsoleTimeFormat}
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		f, err := openLogFile(cfg.File)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		output = zerolog.MultiLevelWriter(output, f)
		closer = f
	}

	zerolog.SetGlobalLevel(zerologLevels[level])
	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger, closer, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Individual HTTP attempts and pacing waits
//   - Cursor movement inside a partition
//   - Credential cache hits
//
// Info: Normal operation events
//   - Page fetched (partition, sub-query, page, records)
//   - Partition transitions (complete, resumed)
//   - Run start and summary
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and backoff
//   - Quota exhaustion (run paused)
//   - Partition failures
//   - Credential rejected and refreshed
//
// Error: Error conditions requiring attention
//   - Aborted runs (auth or persistence failure)
//   - Progress store write failures
//
// Context Fields:
//   - run_key: logical collection run (animal type + status)
//   - partition: partition id (state code or grouped area)
//   - subquery: sub-query location (state code or ZIP)
//   - page: page number within the sub-query
//   - records: records emitted
//   - status_code: HTTP status code
//   - error_class: error classification (network, server, client, auth, quota)
//   - attempt: attempt number within the retry schedule
//   - backoff: delay before the next attempt
