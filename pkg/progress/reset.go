package progress

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Reset moves failed partitions back to in_progress at their saved cursor so the
// next run retries them. With ids empty every failed partition of the run is reset.
// Naming a partition that is not failed is an error; nothing is changed in that case.
func Reset(ctx context.Context, store Store, runKey string, ids []string) ([]string, error) {
	loaded, err := store.Load(ctx, runKey)
	if err != nil {
		return nil, err
	}

	targets := ids
	if len(targets) == 0 {
		for id, p := range loaded {
			if p.Status == StatusFailed {
				targets = append(targets, id)
			}
		}
		sort.Strings(targets)
	}

	for _, id := range targets {
		p, ok := loaded[id]
		if !ok {
			return nil, fmt.Errorf("partition %s has no stored progress", id)
		}
		if p.Status != StatusFailed {
			return nil, fmt.Errorf("partition %s is %s, only failed partitions can be reset", id, p.Status)
		}
	}

	now := time.Now().UTC()
	for _, id := range targets {
		p := loaded[id].Clone()
		p.Status = StatusInProgress
		p.FailureReason = ""
		p.UpdatedAt = now
		if err := store.Save(ctx, runKey, id, p); err != nil {
			return nil, err
		}
	}
	return targets, nil
}
