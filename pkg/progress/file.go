package progress

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// FileStore keeps one JSON document per run key in a directory:
//
//	{"CA": {"status": "complete", "subquery_index": 0, "page": 12, ...}, ...}
//
// Every Save rewrites the document through a temp file that is fsynced and renamed
// over the previous version, so a crash leaves either the old or the new document.
type FileStore struct {
	dir    string
	logger zerolog.Logger

	mu   sync.Mutex
	docs map[string]map[string]*PartitionProgress
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &PersistenceError{Backend: BackendFile, Op: "open", Err: err}
	}
	return &FileStore{
		dir:    dir,
		logger: logger,
		docs:   make(map[string]map[string]*PartitionProgress),
	}, nil
}

// Path returns the progress file of a run key.
func (s *FileStore) Path(runKey string) string {
	return filepath.Join(s.dir, "progress_"+fileSafe(runKey)+".json")
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, runKey string) (map[string]*PartitionProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(runKey)
	if err != nil {
		return nil, &PersistenceError{Backend: BackendFile, Op: "load", RunKey: runKey, Err: err}
	}
	s.docs[runKey] = doc

	out := make(map[string]*PartitionProgress, len(doc))
	for id, p := range doc {
		out[id] = p.Clone()
	}
	return out, nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, runKey, partitionID string, p *PartitionProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.save(runKey, partitionID, p)
	recordWrite(BackendFile, err)
	if err != nil {
		return &PersistenceError{Backend: BackendFile, Op: "save", RunKey: runKey, PartitionID: partitionID, Err: err}
	}

	s.logger.Debug().
		Str("run_key", runKey).
		Str("partition", partitionID).
		Str("status", string(p.Status)).
		Int("subquery", p.SubqueryIndex).
		Int("page", p.Page).
		Msg("Progress saved")
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) save(runKey, partitionID string, p *PartitionProgress) error {
	doc, ok := s.docs[runKey]
	if !ok {
		var err error
		if doc, err = s.read(runKey); err != nil {
			return err
		}
		s.docs[runKey] = doc
	}

	next := make(map[string]*PartitionProgress, len(doc)+1)
	for id, v := range doc {
		next[id] = v
	}
	stored := p.Clone()
	stored.PartitionID = partitionID
	next[partitionID] = stored

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := writeFileAtomic(s.Path(runKey), data); err != nil {
		return err
	}

	s.docs[runKey] = next
	return nil
}

func (s *FileStore) read(runKey string) (map[string]*PartitionProgress, error) {
	data, err := os.ReadFile(s.Path(runKey))
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]*PartitionProgress), nil
	}
	if err != nil {
		return nil, err
	}

	doc := make(map[string]*PartitionProgress)
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Path(runKey), err)
	}
	for id, p := range doc {
		if p == nil {
			delete(doc, id)
			continue
		}
		p.PartitionID = id
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// writeFileAtomic writes data next to path, fsyncs it and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	// Persist the rename itself. Not every platform supports syncing a directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// fileSafe maps a run key to a file name part. ':' becomes '_'; any other byte
// outside [A-Za-z0-9-] (including '_') is written as %XX, so distinct keys
// never share a file.
func fileSafe(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		case c == ':':
			b.WriteByte('_')
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
