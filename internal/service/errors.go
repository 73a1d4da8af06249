package service

import (
	"sort"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
)

// storeError keeps classified storage errors as they are and wraps anything
// else as internal.
func storeError(msg string, err error) error {
	if _, ok := domain.AsAppError(err); ok {
		return err
	}
	return domain.ErrInternal(msg, err)
}

// sortedMetrics returns the union of the keys of limits and used, sorted.
func sortedMetrics(limits map[string]domain.Limit, used map[string]int64) []string {
	seen := make(map[string]struct{}, len(limits)+len(used))
	for m := range limits {
		seen[m] = struct{}{}
	}
	for m := range used {
		seen[m] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
