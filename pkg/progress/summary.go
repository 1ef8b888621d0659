package progress

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Entry is one line of a run summary.
type Entry struct {
	PartitionID   string
	Status        Status
	Next          Cursor
	RecordsSoFar  int
	UpdatedAt     time.Time
	FailureReason string
}

// Summary reports the state of every partition of a run.
type Summary struct {
	RunKey  string
	Entries []Entry
	Counts  map[Status]int
	Records int
}

// Summarize builds the summary of the given partitions, in their order.
// Partitions without stored progress are reported as pending.
func Summarize(runKey string, partitionIDs []string, loaded map[string]*PartitionProgress) *Summary {
	s := &Summary{
		RunKey:  runKey,
		Entries: make([]Entry, 0, len(partitionIDs)),
		Counts:  make(map[Status]int),
	}

	for _, id := range partitionIDs {
		p, ok := loaded[id]
		if !ok {
			p = New(id)
		}
		s.Entries = append(s.Entries, Entry{
			PartitionID:   id,
			Status:        p.Status,
			Next:          p.Cursor(),
			RecordsSoFar:  p.RecordsSoFar,
			UpdatedAt:     p.UpdatedAt,
			FailureReason: p.FailureReason,
		})
		s.Counts[p.Status]++
		s.Records += p.RecordsSoFar
	}
	return s
}

// Finished reports whether every partition is complete or failed.
func (s *Summary) Finished() bool {
	return s.Counts[StatusPending] == 0 && s.Counts[StatusInProgress] == 0
}

// Write prints the summary as an aligned table.
func (s *Summary) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Run %s: %d complete, %d in progress, %d pending, %d failed, %d records\n",
		s.RunKey, s.Counts[StatusComplete], s.Counts[StatusInProgress], s.Counts[StatusPending],
		s.Counts[StatusFailed], s.Records)
	fmt.Fprintln(tw, "PARTITION\tSTATUS\tNEXT\tRECORDS\tUPDATED\tREASON")
	for _, e := range s.Entries {
		updated := "-"
		if !e.UpdatedAt.IsZero() {
			updated = e.UpdatedAt.UTC().Format(time.RFC3339)
		}
		next := "-"
		if !e.Status.Terminal() {
			next = e.Next.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", e.PartitionID, e.Status, next, e.RecordsSoFar, updated, e.FailureReason)
	}
	return tw.Flush()
}
