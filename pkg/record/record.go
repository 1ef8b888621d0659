// Package record holds the flattened output row of one API entity.
package record

import (
	"time"
)

// Provenance column names appended after the entity columns.
const (
	ColumnQueried     = "queried"
	ColumnGroup       = "group"
	ColumnCollectedAt = "collected_at"
)

// ProvenanceColumns lists the provenance columns in output order.
var ProvenanceColumns = []string{ColumnQueried, ColumnGroup, ColumnCollectedAt}

// Record is one flattened entity plus where and when it was collected.
type Record struct {
	// ID is the stable entity identifier used for deduplication.
	ID string

	// Queried is the location the entity was returned for (state code or ZIP).
	Queried string

	// Group is the partition the location belongs to.
	Group string

	CollectedAt time.Time

	// Fields holds the flattened entity columns. Missing keys are written empty.
	Fields map[string]string
}

// Header returns the full output header for the given entity columns.
func Header(columns []string) []string {
	h := make([]string, 0, len(columns)+len(ProvenanceColumns))
	h = append(h, columns...)
	return append(h, ProvenanceColumns...)
}

// Row renders the record in Header(columns) order.
func (r Record) Row(columns []string) []string {
	row := make([]string, 0, len(columns)+len(ProvenanceColumns))
	for _, c := range columns {
		row = append(row, r.Fields[c])
	}
	collected := ""
	if !r.CollectedAt.IsZero() {
		collected = r.CollectedAt.UTC().Format(time.RFC3339)
	}
	return append(row, r.Queried, r.Group, collected)
}
