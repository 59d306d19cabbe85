package chat

// Event is one inbound stream event scoped to a single trip.
//
// The set of implementations is closed so dispatch sites can switch
// exhaustively; adding a new event kind is a compile-time-visible change.
type Event interface {
	// EventTripID returns the trip the event belongs to.
	EventTripID() string

	isEvent()
}

// MessageCreated announces a newly stored message.
type MessageCreated struct {
	Message Message
}

// MessageUpdated announces an edit to an existing message.
type MessageUpdated struct {
	Message Message
}

// MessageDeleted announces a message removal.
type MessageDeleted struct {
	ID     string
	TripID string
}

// TypingStatus announces a change in a user's composing state.
type TypingStatus struct {
	TripID   string
	UserID   string
	Name     string
	IsTyping bool
}

func (e MessageCreated) EventTripID() string { return e.Message.TripID }
func (e MessageUpdated) EventTripID() string { return e.Message.TripID }
func (e MessageDeleted) EventTripID() string { return e.TripID }
func (e TypingStatus) EventTripID() string   { return e.TripID }

func (MessageCreated) isEvent() {}
func (MessageUpdated) isEvent() {}
func (MessageDeleted) isEvent() {}
func (TypingStatus) isEvent()   {}
