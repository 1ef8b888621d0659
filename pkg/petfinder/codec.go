// Package petfinder knows the Petfinder v2 listing format: how to ask for a
// page of animals and how to turn each animal into a flat output row.
package petfinder

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/petfinder-collector/pkg/client"
	"github.com/Sternrassler/petfinder-collector/pkg/pagination"
	"github.com/Sternrassler/petfinder-collector/pkg/partition"
	"github.com/Sternrassler/petfinder-collector/pkg/progress"
	"github.com/goccy/go-json"
)

// AnimalsPath is the listing endpoint, relative to the API base URL.
const AnimalsPath = "/animals"

// Codec implements pagination.Codec for the animals listing.
type Codec struct{}

// NewCodec returns the animals listing codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Request builds the listing request for the sub-query and page at cursor.
func (c *Codec) Request(p partition.Partition, cursor progress.Cursor, pageSize int) client.Request {
	q := url.Values{}
	if p.Filters.AnimalType != "" {
		q.Set("type", p.Filters.AnimalType)
	}
	if p.Filters.Status != "" {
		q.Set("status", p.Filters.Status)
	}
	if cursor.SubqueryIndex >= 0 && cursor.SubqueryIndex < len(p.SubQueries) {
		q.Set("location", p.SubQueries[cursor.SubqueryIndex])
	}
	if !p.Filters.PublishedAfter.IsZero() {
		q.Set("after", p.Filters.PublishedAfter.Format(time.RFC3339))
	}
	if p.Filters.Sort != "" {
		q.Set("sort", p.Filters.Sort)
	}
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(cursor.Page))

	return client.Request{Path: AnimalsPath, Query: q}
}

type listing struct {
	Animals    []json.RawMessage `json:"animals"`
	Pagination struct {
		TotalCount int `json:"total_count"`
		Links      struct {
			Next *struct {
				Href string `json:"href"`
			} `json:"next"`
		} `json:"_links"`
	} `json:"pagination"`
}

type entityID struct {
	ID json.RawMessage `json:"id"`
}

// Decode parses a listing payload. The page is the end of results when the
// provider gives no next link.
func (c *Codec) Decode(payload []byte) (*pagination.Page, error) {
	var l listing
	if err := json.Unmarshal(payload, &l); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	if l.Animals == nil && !bytes.Contains(payload, []byte(`"animals"`)) {
		return nil, fmt.Errorf("decode listing: no animals field")
	}

	page := &pagination.Page{
		Entities:     make([]pagination.Entity, 0, len(l.Animals)),
		EndOfResults: l.Pagination.Links.Next == nil,
		TotalCount:   l.Pagination.TotalCount,
	}
	for i, raw := range l.Animals {
		var e entityID
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode animal %d: %w", i, err)
		}
		id := string(bytes.Trim(e.ID, `"`))
		if id == "" || id == "null" {
			return nil, fmt.Errorf("animal %d has no id", i)
		}
		page.Entities = append(page.Entities, pagination.Entity{ID: id, Raw: raw})
	}
	return page, nil
}
