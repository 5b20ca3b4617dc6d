package livesync

import (
	"slices"
	"sort"
	"sync"

	"github.com/bwise1/civic_patrol/internal/model"
)

// Feed is the read-only general report list: the Cache filtered by the
// view's predicate, newest first. Reports under verification never show
// here, whatever the filter says.
type Feed struct {
	cache *Cache

	mu     sync.RWMutex
	filter model.Filter
}

func NewFeed(cache *Cache, filter model.Filter) *Feed {
	return &Feed{cache: cache, filter: filter}
}

func (f *Feed) Filter() model.Filter {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter
}

// SetFilter swaps the predicate. Hidden reports come back as soon as they
// match again; nothing is refetched.
func (f *Feed) SetFilter(filter model.Filter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
}

func (f *Feed) visible(r model.Report, filter model.Filter) bool {
	if slices.Contains(model.VerificationStatuses, r.Status) {
		return false
	}
	return filter.Matches(r)
}

// Visible returns the matching reports, newest first, capped at the
// filter's limit when one is set.
func (f *Feed) Visible() []model.Report {
	filter := f.Filter()
	var out []model.Report
	for _, r := range f.cache.Reports() {
		if f.visible(r, filter) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// Page returns the zero-based page of the visible list and the total
// number of visible reports.
func (f *Feed) Page(page, size int) ([]model.Report, int) {
	all := f.Visible()
	if size <= 0 || page < 0 {
		return nil, len(all)
	}
	start := page * size
	if start >= len(all) {
		return nil, len(all)
	}
	end := min(start+size, len(all))
	return all[start:end], len(all)
}

// Contains reports whether id is currently in the visible list.
func (f *Feed) Contains(id string) bool {
	r, ok := f.cache.Report(id)
	return ok && f.visible(r, f.Filter())
}
