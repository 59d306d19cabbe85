// Package typing maintains the per-trip set of currently-typing users.
//
// Entries expire after a fixed window even without an explicit stop event,
// guarding against a client that disconnects mid-composition. Expiry is
// enforced lazily on every read and by an optional periodic sweep.
package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/roamio/tripchat/internal/chat"
	"github.com/roamio/tripchat/internal/platform/timeouts"
)

// Tracker holds the typing set for one trip.
type Tracker struct {
	mu     sync.Mutex
	expiry time.Duration
	now    func() time.Time
	byUser map[string]chat.TypingEntry
}

// NewTracker creates a tracker with the given expiry window. A non-positive
// expiry falls back to the shared default.
func NewTracker(expiry time.Duration) *Tracker {
	return newTracker(expiry, time.Now)
}

func newTracker(expiry time.Duration, now func() time.Time) *Tracker {
	if expiry <= 0 {
		expiry = timeouts.TypingExpiry
	}
	return &Tracker{
		expiry: expiry,
		now:    now,
		byUser: make(map[string]chat.TypingEntry),
	}
}

// Observe applies an inbound typing event: refresh on isTyping, immediate
// removal otherwise.
func (t *Tracker) Observe(userID, name string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !isTyping {
		delete(t.byUser, userID)
		return
	}
	t.byUser[userID] = chat.TypingEntry{
		UserID:      userID,
		Name:        name,
		LastTypedAt: t.now(),
	}
}

// Active returns the users currently typing, sorted by user identifier.
// Entries older than the expiry window never surface.
func (t *Tracker) Active() []chat.TypingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.expire()
	out := make([]chat.TypingEntry, 0, len(t.byUser))
	for _, e := range t.byUser {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Sweep removes expired entries and reports how many were dropped.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expire()
}

// Reset drops all entries, e.g. when a trip's stream disconnects.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.byUser = make(map[string]chat.TypingEntry)
	t.mu.Unlock()
}

// expire drops stale entries. Caller holds t.mu.
func (t *Tracker) expire() int {
	cutoff := t.now().Add(-t.expiry)
	dropped := 0
	for userID, e := range t.byUser {
		if e.LastTypedAt.Before(cutoff) {
			delete(t.byUser, userID)
			dropped++
		}
	}
	return dropped
}
