// ABOUTME: Promotion registry: stamps conversations the user just touched.
// ABOUTME: Stamps sit slightly in the future so they outrank lagging server clocks.

package threads

import (
	"strings"
	"sync"
	"time"
)

const (
	// promotionLead pushes the stamp past any server timestamp written for
	// the same interaction.
	promotionLead = time.Second
	// promotionMaxAge bounds registry memory; stamps this old no longer
	// influence ordering anyway.
	promotionMaxAge = 72 * time.Hour
)

// IsPlaceholderID reports whether id is a client-generated provisional id
// that has not been promoted to a server id yet.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, "thread_") || strings.HasPrefix(id, "local_")
}

// Registry tracks promotion stamps for conversations the user recently
// interacted with.
type Registry struct {
	mu      sync.Mutex
	stamps  map[string]time.Time
	now     func() time.Time
}

// NewRegistry creates an empty promotion registry.
func NewRegistry() *Registry {
	return &Registry{
		stamps: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Promote stamps id as just interacted with. Expired stamps are pruned on
// the way through.
func (r *Registry) Promote(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.pruneLocked(now)
	r.stamps[id] = now.Add(promotionLead)
}

// PromotedAt returns the promotion stamp for id, if one is recorded and
// still within the age limit.
func (r *Registry) PromotedAt(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stamp, ok := r.stamps[id]
	if !ok {
		return time.Time{}, false
	}
	if r.now().Sub(stamp) > promotionMaxAge {
		delete(r.stamps, id)
		return time.Time{}, false
	}
	return stamp, true
}

// Restore loads a persisted stamp, typically at startup. Stamps past the
// age limit are ignored.
func (r *Registry) Restore(id string, stamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.now().Sub(stamp) > promotionMaxAge {
		return
	}
	r.stamps[id] = stamp
}

// Rekey migrates a stamp from a provisional id to its server-assigned id.
func (r *Registry) Rekey(oldID, newID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stamp, ok := r.stamps[oldID]
	if !ok {
		return
	}
	delete(r.stamps, oldID)
	r.stamps[newID] = stamp
}

// Forget drops the stamp for id, if any.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stamps, id)
}

// pruneLocked removes stamps past the age limit. Must be called with mu held.
func (r *Registry) pruneLocked(now time.Time) {
	for id, stamp := range r.stamps {
		if now.Sub(stamp) > promotionMaxAge {
			delete(r.stamps, id)
		}
	}
}
