// ABOUTME: Thread-list aggregation: merge, dedupe, and bucket by recency.
// ABOUTME: Buckets compare against local-calendar-day boundaries, not UTC.

package threads

import (
	"sort"
	"time"
)

// Thread is one sidebar entry.
type Thread struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Deleted   bool
}

// List is the categorized thread list consumed by the side panel.
type List struct {
	Today      []Thread
	Yesterday  []Thread
	LastWeek   []Thread
	Last30Days []Thread
}

// graceWindow keeps a conversation from a late-night session in "today":
// anything touched within this window counts as today even when the local
// calendar day has already rolled over.
const graceWindow = 18 * time.Hour

// Aggregator builds categorized thread lists. It only reads; persistence
// belongs to the coordinator.
type Aggregator struct {
	promotions *Registry
	now        func() time.Time
}

// NewAggregator creates an aggregator consulting reg for promotion stamps.
// reg may be nil when promotion ordering is not needed.
func NewAggregator(reg *Registry) *Aggregator {
	return &Aggregator{promotions: reg, now: time.Now}
}

// Build merges API threads with local placeholder threads into buckets.
// Each logical conversation lands in exactly one bucket; deleted threads
// and threads older than 30 days are dropped. Placeholders not yet known
// to the API are pinned at the top of Today.
func (a *Aggregator) Build(apiThreads, localPlaceholders []Thread) List {
	now := a.now()
	year, month, day := now.Date()
	startToday := time.Date(year, month, day, 0, 0, 0, 0, now.Location())

	confirmed := make(map[string]bool, len(apiThreads))
	for _, th := range apiThreads {
		confirmed[th.ID] = true
	}

	var pinned []Thread
	seen := make(map[string]bool)
	for _, th := range localPlaceholders {
		if th.Deleted || confirmed[th.ID] || seen[th.ID] {
			continue
		}
		seen[th.ID] = true
		pinned = append(pinned, th)
	}

	type ranked struct {
		thread    Thread
		effective time.Time
	}
	var today, yesterday, lastWeek, last30 []ranked
	for _, th := range apiThreads {
		if th.Deleted || seen[th.ID] {
			continue
		}
		seen[th.ID] = true

		eff := a.effective(th)
		switch {
		case !eff.Before(startToday) || now.Sub(eff) <= graceWindow:
			today = append(today, ranked{th, eff})
		case !eff.Before(startToday.AddDate(0, 0, -1)):
			yesterday = append(yesterday, ranked{th, eff})
		case !eff.Before(startToday.AddDate(0, 0, -7)):
			lastWeek = append(lastWeek, ranked{th, eff})
		case !eff.Before(startToday.AddDate(0, 0, -30)):
			last30 = append(last30, ranked{th, eff})
		}
	}

	// Stable sort preserves original API order between identical timestamps.
	order := func(bucket []ranked) []Thread {
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].effective.After(bucket[j].effective)
		})
		out := make([]Thread, 0, len(bucket))
		for _, r := range bucket {
			out = append(out, r.thread)
		}
		return out
	}

	return List{
		Today:      append(pinned, order(today)...),
		Yesterday:  order(yesterday),
		LastWeek:   order(lastWeek),
		Last30Days: order(last30),
	}
}

// effective is the ordering timestamp: the latest of created, updated, and
// any promotion stamp.
func (a *Aggregator) effective(th Thread) time.Time {
	eff := th.CreatedAt
	if th.UpdatedAt.After(eff) {
		eff = th.UpdatedAt
	}
	if a.promotions != nil {
		if stamp, ok := a.promotions.PromotedAt(th.ID); ok && stamp.After(eff) {
			eff = stamp
		}
	}
	return eff
}
