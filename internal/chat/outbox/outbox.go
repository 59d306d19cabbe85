// Package outbox tracks locally-originated messages through their delivery
// state machine: sending -> sent on acknowledgment, sending -> error on
// failure, error -> sending on retry with the same temporary identifier.
//
// Reconciliation between the HTTP acknowledgment and the stream echo of the
// same send is a race between two asynchronous completions; the outbox makes
// the first-writer-wins rule explicit: whichever path resolves the entry
// first removes it, and the later path observes that nothing is pending.
package outbox

import (
	"strings"
	"sync"
	"time"

	"github.com/roamio/tripchat/internal/chat"
)

// EchoMatchWindow bounds the timestamp-proximity fallback used to correlate
// a stream echo with a pending send when the server does not echo the client
// message identifier. The fallback is best-effort only.
const EchoMatchWindow = 30 * time.Second

type entry struct {
	tempID     string
	senderID   string
	content    string
	enqueuedAt time.Time
	status     chat.MessageStatus // StatusSending or StatusError
}

// Outbox holds the pending sends for one trip.
type Outbox struct {
	mu             sync.Mutex
	byTempID       map[string]*entry
	order          []string
	streamDetached bool
}

// New creates an empty outbox.
func New() *Outbox {
	return &Outbox{byTempID: make(map[string]*entry)}
}

// Track registers a new optimistic send under its temporary identifier.
// The temporary identifier doubles as the client message correlation token.
func (o *Outbox) Track(tempID, senderID, content string, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.byTempID[tempID]; exists {
		return
	}
	o.byTempID[tempID] = &entry{
		tempID:     tempID,
		senderID:   senderID,
		content:    content,
		enqueuedAt: at,
		status:     chat.StatusSending,
	}
	o.order = append(o.order, tempID)
}

// MarkError transitions sending -> error. Returns false when the entry is
// unknown or already resolved.
func (o *Outbox) MarkError(tempID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.byTempID[tempID]
	if !ok || e.status != chat.StatusSending {
		return false
	}
	e.status = chat.StatusError
	return true
}

// MarkRetry transitions error -> sending, reusing the temporary identifier.
// Returns the original content so the caller can reissue the request.
func (o *Outbox) MarkRetry(tempID string, at time.Time) (content string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, exists := o.byTempID[tempID]
	if !exists || e.status != chat.StatusError {
		return "", false
	}
	e.status = chat.StatusSending
	e.enqueuedAt = at
	return e.content, true
}

// Resolve removes a pending entry by its temporary identifier. The first
// caller wins: a true return means the caller owns inserting the canonical
// message; false means another completion already reconciled it.
func (o *Outbox) Resolve(tempID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.drop(tempID)
}

// Discard removes a failed entry the user chose not to retry.
func (o *Outbox) Discard(tempID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.byTempID[tempID]
	if !ok || e.status != chat.StatusError {
		return false
	}
	return o.drop(tempID)
}

// ResolveEcho correlates an inbound created event with a pending send.
// Matching prefers the server-echoed client message identifier; when absent
// it falls back to sender, content and timestamp proximity. Returns the
// matched temporary identifier, claiming the entry.
func (o *Outbox) ResolveEcho(msg chat.Message) (tempID string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.streamDetached {
		return "", false
	}

	if token := strings.TrimSpace(msg.ClientMessageID); token != "" {
		if _, exists := o.byTempID[token]; exists {
			o.drop(token)
			return token, true
		}
		return "", false
	}

	// Best-effort fallback: oldest pending send from the same sender with
	// identical content inside the match window.
	for _, candidate := range o.order {
		e, exists := o.byTempID[candidate]
		if !exists || e.status != chat.StatusSending {
			continue
		}
		if e.senderID != msg.Sender.ID || e.content != msg.Content {
			continue
		}
		delta := msg.CreatedAt.Sub(e.enqueuedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > EchoMatchWindow {
			continue
		}
		o.drop(candidate)
		return candidate, true
	}
	return "", false
}

// DetachStream stops in-flight sends from expecting stream-based
// reconciliation. HTTP acknowledgment handling still applies.
func (o *Outbox) DetachStream() {
	o.mu.Lock()
	o.streamDetached = true
	o.mu.Unlock()
}

// Pending returns the number of tracked entries.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byTempID)
}

// drop removes the entry under tempID. Caller holds o.mu.
func (o *Outbox) drop(tempID string) bool {
	if _, ok := o.byTempID[tempID]; !ok {
		return false
	}
	delete(o.byTempID, tempID)
	for i, candidate := range o.order {
		if candidate == tempID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return true
}
