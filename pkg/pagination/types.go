package pagination

import (
	"context"
	"time"

	"github.com/Sternrassler/petfinder-collector/pkg/client"
	"github.com/Sternrassler/petfinder-collector/pkg/partition"
	"github.com/Sternrassler/petfinder-collector/pkg/progress"
	"github.com/Sternrassler/petfinder-collector/pkg/record"
)

// Executor performs a single classified API request.
type Executor interface {
	Execute(ctx context.Context, req client.Request) (*client.Outcome, error)
}

// Entity is one decoded item of a page.
type Entity struct {
	ID  string
	Raw []byte
}

// Page is a decoded listing response.
type Page struct {
	Entities []Entity

	// EndOfResults is set when the provider reports no further page.
	EndOfResults bool

	// TotalCount is informational only; it never decides the last page.
	TotalCount int
}

// Codec builds listing requests and decodes their payloads.
type Codec interface {
	Request(p partition.Partition, cursor progress.Cursor, pageSize int) client.Request
	Decode(payload []byte) (*Page, error)
}

// Provenance says where and when an entity was collected.
type Provenance struct {
	Queried     string
	Group       string
	CollectedAt time.Time
}

// Flattener turns an entity into an output row.
type Flattener interface {
	Flatten(e Entity, prov Provenance) (record.Record, error)
}

// Seen is the set of entity ids already emitted for a partition.
type Seen map[string]struct{}

// NewSeen returns a set seeded with ids.
func NewSeen(ids ...string) Seen {
	s := make(Seen, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add records id and reports whether it was new.
func (s Seen) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Has reports whether id was seen.
func (s Seen) Has(id string) bool {
	_, ok := s[id]
	return ok
}
