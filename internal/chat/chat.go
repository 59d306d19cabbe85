// Package chat defines the domain model shared by the trip chat sync engine.
//
// All state is partitioned by trip identifier: a trip scopes one chat room,
// one pagination cursor, one typing set and one streaming connection.
package chat

import "time"

// Sender identifies the author of a message.
type Sender struct {
	ID        string
	Name      string
	AvatarURL string
}

// Message is a single chat message. Once it carries a server-assigned
// identifier it is immutable except through update events.
type Message struct {
	ID        string
	TripID    string
	Content   string
	Sender    Sender
	CreatedAt time.Time
	UpdatedAt time.Time // zero when never edited

	// ClientMessageID is the correlation token chosen by the sending client,
	// echoed back by the server when available.
	ClientMessageID string
}

// MessageStatus tracks the delivery lifecycle of a timeline entry.
type MessageStatus string

const (
	// StatusSending marks a locally-originated message awaiting acknowledgment.
	StatusSending MessageStatus = "sending"
	// StatusSent marks a server-confirmed message.
	StatusSent MessageStatus = "sent"
	// StatusError marks a locally-originated message whose send failed.
	StatusError MessageStatus = "error"
)

// MessageWithStatus wraps a message with its delivery status. Sending and
// error states only ever apply to locally-originated messages.
type MessageWithStatus struct {
	Message
	Status MessageStatus
	// SendError holds a human-readable cause when Status is StatusError.
	SendError string
}

// PaginationInfo tracks the backward-pagination position for one trip.
type PaginationInfo struct {
	NextCursor string
	HasMore    bool
}

// HistoryPage is one page of older messages returned by the history boundary.
type HistoryPage struct {
	Messages   []Message // oldest first
	NextCursor string
	HasMore    bool
}

// TypingEntry records that a user was composing a message at LastTypedAt.
type TypingEntry struct {
	UserID      string
	Name        string
	LastTypedAt time.Time
}

// TripSnapshot is the read model the presentation layer observes for a trip.
type TripSnapshot struct {
	TripID         string
	Messages       []MessageWithStatus // oldest first
	Pagination     PaginationInfo
	Typing         []TypingEntry
	LoadingHistory bool
	LastError      string
}
