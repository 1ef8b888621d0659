// Package partition defines the query partitions a collection run walks through.
//
// A partition is normally one US state (the location filter is the state code).
// Nevada is the exception: it is queried as a fixed list of ZIP codes, each a
// sub-query, whose results are concatenated under the partition id "NV".
package partition

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Listing statuses accepted by the provider.
const (
	StatusAdoptable = "adoptable"
	StatusAdopted   = "adopted"
	StatusFound     = "found"
)

// NevadaID is the partition id of the ZIP-list partition.
const NevadaID = "NV"

// Filters are the fixed query filters shared by every partition of a run.
type Filters struct {
	AnimalType     string
	Status         string
	PublishedAfter time.Time
	Sort           string
}

// Partition is one independent query scope.
type Partition struct {
	ID         string
	SubQueries []string
	Filters    Filters
}

// Validate checks that the partition can be queried.
func (p Partition) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("partition id is required")
	}
	if len(p.SubQueries) == 0 {
		return fmt.Errorf("partition %s has no sub-queries", p.ID)
	}
	for i, q := range p.SubQueries {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("partition %s: sub-query %d is empty", p.ID, i)
		}
	}
	return nil
}

// USStates is the fixed processing order of the default partitions.
var USStates = []string{
	"AL", "AK", "AZ", "AR", "CA", "CO", "CT", "DE", "FL", "GA",
	"HI", "ID", "IL", "IN", "IA", "KS", "LA", "ME", "MD", "KY",
	"MI", "MN", "MS", "MO", "MT", "NE", "NV", "NH", "MA", "RI",
	"NM", "NY", "NC", "ND", "OH", "OK", "OR", "PA", "SC", "NJ",
	"SD", "TN", "TX", "UT", "VT", "VA", "WA", "WV", "WI", "WY",
	"DC",
}

// NevadaZIPs are the sub-queries of the Nevada partition, in processing order.
var NevadaZIPs = []string{
	"89009", "89011", "89014", "89015", "89019", "89024", "89027", "89032",
	"89048", "89052", "89074", "89101", "89103", "89104", "89107", "89113",
	"89117", "89118", "89119", "89120", "89121", "89122", "89123", "89128",
	"89129", "89130", "89131", "89134", "89135", "89136", "89139", "89143",
	"89145", "89146", "89147", "89148", "89149", "89183", "89193", "89406",
	"89408", "89410", "89415", "89423", "89429", "89431", "89434", "89436",
	"89445", "89447", "89450", "89451", "89460", "89502", "89506", "89511",
	"89512", "89523", "89701", "89704", "89703", "89702", "89706", "89801",
}

var nevadaZIPSet = func() map[string]bool {
	m := make(map[string]bool, len(NevadaZIPs))
	for _, z := range NevadaZIPs {
		m[z] = true
	}
	return m
}()

// DefaultUSPartitions returns the 50 states plus DC in the fixed order, with
// Nevada expanded into its ZIP sub-queries.
func DefaultUSPartitions(f Filters) []Partition {
	parts := make([]Partition, 0, len(USStates))
	for _, code := range USStates {
		p := Partition{ID: code, SubQueries: []string{code}, Filters: f}
		if code == NevadaID {
			p.SubQueries = append([]string(nil), NevadaZIPs...)
		}
		parts = append(parts, p)
	}
	return parts
}

// Select keeps the partitions named in ids, preserving the order of all.
// An empty ids selects everything. Unknown ids are an error.
func Select(all []Partition, ids []string) ([]Partition, error) {
	if len(ids) == 0 {
		return all, nil
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[strings.ToUpper(strings.TrimSpace(id))] = true
	}

	selected := make([]Partition, 0, len(ids))
	for _, p := range all {
		if want[p.ID] {
			selected = append(selected, p)
			delete(want, p.ID)
		}
	}

	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for id := range want {
			unknown = append(unknown, id)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown partitions: %s", strings.Join(unknown, ", "))
	}
	return selected, nil
}

// Group maps a queried location to its partition group: Nevada ZIP codes
// collapse to "NV", everything else is its own group.
func Group(queried string) string {
	if nevadaZIPSet[queried] {
		return NevadaID
	}
	return queried
}

// RunKey identifies a logical collection run.
func RunKey(animalType, status string) string {
	return strings.ToLower(animalType) + ":" + strings.ToLower(status)
}

// ValidStatus reports whether status is a listing status the provider accepts.
func ValidStatus(status string) bool {
	switch status {
	case StatusAdoptable, StatusAdopted, StatusFound:
		return true
	default:
		return false
	}
}
