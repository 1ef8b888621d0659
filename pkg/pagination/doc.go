// Package pagination walks one partition of a collection run a page at a time.
//
// The provider returns listings in pages of at most PageSize entities. A
// partition is a list of sub-queries (usually one location) and each
// sub-query is paged until a short page or the end-of-results marker. The
// Machine never loops on its own: every call to Advance fetches exactly one
// page and reports where the caller should continue, so the caller can
// persist the cursor between pages.
//
// Example usage:
//
//	m, err := pagination.NewMachine(pagination.Config{
//		Executor:  apiClient,
//		Codec:     petfinder.NewCodec(),
//		Flattener: petfinder.NewFlattener(),
//		PageSize:  100,
//	})
//	step, err := m.Advance(ctx, part, progress.Cursor{Page: 1}, pagination.NewSeen())
//
// Step kinds:
//   - StepPageFetched: more pages remain in the sub-query
//   - StepSubqueryExhausted: continue with the next sub-query at page 1
//   - StepPartitionComplete: the last page of the last sub-query was fetched
//   - StepQuotaStopped: the provider quota is spent, the cursor is unchanged
//   - StepPartitionFailed: a fatal response ended the partition
package pagination
