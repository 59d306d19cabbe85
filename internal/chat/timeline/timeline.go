// Package timeline holds the ordered message list per trip.
//
// Confirmed messages are kept totally ordered by (CreatedAt, ID); entries in
// sending or error state trail the confirmed region in local insertion order
// until reconciliation replaces them with their canonical counterpart.
package timeline

import (
	"sort"
	"sync"

	"github.com/roamio/tripchat/internal/chat"
)

// Store keeps one timeline per trip, keyed by trip identifier.
type Store struct {
	mu    sync.Mutex
	trips map[string]*tripTimeline
}

type tripTimeline struct {
	mu        sync.Mutex
	confirmed []chat.MessageWithStatus // sorted by (CreatedAt, ID)
	pending   []chat.MessageWithStatus // sending/error entries, insertion order
}

// NewStore creates an empty timeline store.
func NewStore() *Store {
	return &Store{trips: make(map[string]*tripTimeline)}
}

func (s *Store) trip(tripID string) *tripTimeline {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trips[tripID]
	if ok {
		return t
	}
	t = &tripTimeline{}
	s.trips[tripID] = t
	return t
}

// Drop discards all timeline state for a trip.
func (s *Store) Drop(tripID string) {
	s.mu.Lock()
	delete(s.trips, tripID)
	s.mu.Unlock()
}

// AppendOrMerge inserts a message preserving the ordering invariant. When an
// entry with the same identifier already exists it is replaced in place
// instead of duplicated, which also covers update events and redelivered
// stream frames.
func (s *Store) AppendOrMerge(tripID string, msg chat.Message, status chat.MessageStatus) {
	t := s.trip(tripID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if status == chat.StatusSending || status == chat.StatusError {
		for i := range t.pending {
			if t.pending[i].ID == msg.ID {
				t.pending[i] = chat.MessageWithStatus{Message: msg, Status: status}
				return
			}
		}
		t.pending = append(t.pending, chat.MessageWithStatus{Message: msg, Status: status})
		return
	}

	t.insertConfirmed(chat.MessageWithStatus{Message: msg, Status: status})
}

// insertConfirmed replaces an existing entry by ID or inserts at the sorted
// position. Caller holds t.mu.
func (t *tripTimeline) insertConfirmed(entry chat.MessageWithStatus) {
	for i := range t.confirmed {
		if t.confirmed[i].ID == entry.ID {
			t.confirmed[i] = entry
			return
		}
	}
	at := sort.Search(len(t.confirmed), func(i int) bool {
		return !messageBefore(t.confirmed[i].Message, entry.Message)
	})
	t.confirmed = append(t.confirmed, chat.MessageWithStatus{})
	copy(t.confirmed[at+1:], t.confirmed[at:])
	t.confirmed[at] = entry
}

// messageBefore is the stable ordering key for confirmed messages.
func messageBefore(a, b chat.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Remove deletes a message by identifier. Removing an absent message is a
// no-op: deletion events may arrive after a local eviction.
func (s *Store) Remove(tripID string, messageID string) {
	t := s.trip(tripID)
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.confirmed {
		if t.confirmed[i].ID == messageID {
			t.confirmed = append(t.confirmed[:i], t.confirmed[i+1:]...)
			return
		}
	}
	for i := range t.pending {
		if t.pending[i].ID == messageID {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
	}
}

// Prepend merges older messages into the front of the timeline without
// disturbing positions of newer entries, de-duplicating by identifier.
func (s *Store) Prepend(tripID string, older []chat.Message) {
	t := s.trip(tripID)
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, msg := range older {
		t.insertConfirmed(chat.MessageWithStatus{Message: msg, Status: chat.StatusSent})
	}
}

// MarkStatus updates the status of an entry in place without reordering.
func (s *Store) MarkStatus(tripID string, messageID string, status chat.MessageStatus, sendError string) bool {
	t := s.trip(tripID)
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.pending {
		if t.pending[i].ID == messageID {
			t.pending[i].Status = status
			t.pending[i].SendError = sendError
			return true
		}
	}
	for i := range t.confirmed {
		if t.confirmed[i].ID == messageID {
			t.confirmed[i].Status = status
			t.confirmed[i].SendError = sendError
			return true
		}
	}
	return false
}

// Resolve atomically replaces the temporary entry with the canonical
// server message. The temporary entry and the canonical entry are never
// both present.
func (s *Store) Resolve(tripID string, tempID string, canonical chat.Message) {
	t := s.trip(tripID)
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.pending {
		if t.pending[i].ID == tempID {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	t.insertConfirmed(chat.MessageWithStatus{Message: canonical, Status: chat.StatusSent})
}

// Snapshot returns the ordered timeline for a trip, oldest first, with
// unacknowledged entries trailing the confirmed region.
func (s *Store) Snapshot(tripID string) []chat.MessageWithStatus {
	t := s.trip(tripID)
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]chat.MessageWithStatus, 0, len(t.confirmed)+len(t.pending))
	out = append(out, t.confirmed...)
	out = append(out, t.pending...)
	return out
}

// Len returns the number of entries in a trip's timeline.
func (s *Store) Len(tripID string) int {
	t := s.trip(tripID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.confirmed) + len(t.pending)
}
