package arc

import (
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// PageStats is the visit metadata the eviction policy ranks on.
type PageStats struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	VisitCount  int64     `json:"visit_count"`
	LastVisited time.Time `json:"last_visited"`
	ARCScore    float64   `json:"arc_score"`
}

// Store is the slice of the document store the evictor needs.
type Store interface {
	VisitMeta() ([]PageStats, error)
	Count() (int64, error)
	Delete(id int64) error
}

// Vectors is the slice of the vector index the evictor needs. Removing an
// id that has no vector is a no-op.
type Vectors interface {
	Remove(id int64)
}

// Policy ranks pages for eviction: lowest arc_score first, ties broken by
// older last_visited, then lower id. Pages visited within the protect
// window are never candidates.
type Policy struct {
	ProtectWindow time.Duration
}

// Candidates returns up to count evictable pages in eviction order.
func (p *Policy) Candidates(pages []PageStats, count int, now time.Time) []PageStats {
	if count <= 0 || len(pages) == 0 {
		return nil
	}

	cutoff := now.Add(-p.ProtectWindow)
	eligible := make([]PageStats, 0, len(pages))
	for _, page := range pages {
		if !page.LastVisited.IsZero() && page.LastVisited.After(cutoff) {
			continue
		}
		eligible = append(eligible, page)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.ARCScore != b.ARCScore {
			return a.ARCScore < b.ARCScore
		}
		if !a.LastVisited.Equal(b.LastVisited) {
			return a.LastVisited.Before(b.LastVisited)
		}
		return a.ID < b.ID
	})

	if len(eligible) > count {
		eligible = eligible[:count]
	}
	return eligible
}

// Evictor drives the store back under capacity using the ARC policy.
type Evictor struct {
	store    Store
	vectors  Vectors
	policy   *Policy
	capacity int64
	headroom int64
}

func NewEvictor(store Store, vectors Vectors, protectWindow time.Duration, capacity, headroom int) *Evictor {
	return &Evictor{
		store:    store,
		vectors:  vectors,
		policy:   &Policy{ProtectWindow: protectWindow},
		capacity: int64(capacity),
		headroom: int64(headroom),
	}
}

// Result summarizes one eviction pass.
type Result struct {
	TotalBefore int64   `json:"total_before"`
	TotalAfter  int64   `json:"total_after"`
	Evicted     int     `json:"evicted_count"`
	EvictedIDs  []int64 `json:"evicted_ids,omitempty"`
}

// Preview returns the pages a Run would remove right now, without removing
// them.
func (e *Evictor) Preview(count int, now time.Time) ([]PageStats, error) {
	pages, err := e.store.VisitMeta()
	if err != nil {
		return nil, fmt.Errorf("load visit metadata: %w", err)
	}
	return e.policy.Candidates(pages, count, now), nil
}

// Run removes the worst-scored pages until the store is back at
// capacity-headroom, or no evictable candidates remain. Deleting a page
// removes its row (and FTS entries, via triggers) and its vector.
func (e *Evictor) Run(now time.Time) (Result, error) {
	total, err := e.store.Count()
	if err != nil {
		return Result{}, fmt.Errorf("count pages: %w", err)
	}
	res := Result{TotalBefore: total, TotalAfter: total}
	if total <= e.capacity {
		return res, nil
	}

	target := e.capacity - e.headroom
	if target < 0 {
		target = 0
	}
	need := int(total - target)

	candidates, err := e.Preview(need, now)
	if err != nil {
		return res, err
	}

	for _, page := range candidates {
		if err := e.store.Delete(page.ID); err != nil {
			slog.Error("eviction delete failed",
				"page_id", page.ID,
				"error", err,
				"event", "eviction_delete_failed")
			continue
		}
		e.vectors.Remove(page.ID)
		res.Evicted++
		res.EvictedIDs = append(res.EvictedIDs, page.ID)
	}

	res.TotalAfter = total - int64(res.Evicted)
	if res.Evicted > 0 {
		slog.Info("eviction pass completed",
			"evicted", res.Evicted,
			"total_after", res.TotalAfter,
			"event", "eviction_completed")
	}
	return res, nil
}

// Over reports whether the store currently exceeds capacity.
func (e *Evictor) Over() (bool, error) {
	total, err := e.store.Count()
	if err != nil {
		return false, err
	}
	return total > e.capacity, nil
}
