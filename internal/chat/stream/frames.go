package stream

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/roamio/tripchat/internal/chat"
	platformerrors "github.com/roamio/tripchat/internal/platform/errors"
)

// Frame is the wire envelope exchanged on the stream.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Frame types recognized on the streaming boundary.
const (
	FrameJoin           = "chat.join"
	FramePing           = "chat.ping"
	FramePong           = "chat.pong"
	FrameTyping         = "chat.typing"
	FrameMessageCreated = "chat.message.created"
	FrameMessageUpdated = "chat.message.updated"
	FrameMessageDeleted = "chat.message.deleted"
)

type joinPayload struct {
	TripID string `json:"trip_id"`
}

type typingPayload struct {
	TripID   string `json:"trip_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type deletedPayload struct {
	ID     string `json:"id"`
	TripID string `json:"trip_id"`
}

type wireSender struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type wireMessage struct {
	ID              string     `json:"id"`
	TripID          string     `json:"trip_id"`
	Content         string     `json:"content"`
	Sender          wireSender `json:"sender"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	ClientMessageID string     `json:"client_message_id,omitempty"`
}

type messageEnvelope struct {
	Message wireMessage `json:"message"`
}

func (m wireMessage) toDomain() chat.Message {
	msg := chat.Message{
		ID:      m.ID,
		TripID:  m.TripID,
		Content: m.Content,
		Sender: chat.Sender{
			ID:        m.Sender.ID,
			Name:      m.Sender.Name,
			AvatarURL: m.Sender.AvatarURL,
		},
		CreatedAt:       m.CreatedAt,
		ClientMessageID: m.ClientMessageID,
	}
	if m.UpdatedAt != nil {
		msg.UpdatedAt = *m.UpdatedAt
	}
	return msg
}

// DecodeEvent converts an inbound frame into a domain event. Frames that
// match no known event shape fail with MALFORMED_EVENT; callers drop and log
// them without tearing down the connection.
func DecodeEvent(frame Frame) (chat.Event, error) {
	switch frame.Type {
	case FrameMessageCreated, FrameMessageUpdated:
		var payload messageEnvelope
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return nil, platformerrors.Wrap(platformerrors.CodeMalformedEvent, "decode message payload", err)
		}
		if strings.TrimSpace(payload.Message.ID) == "" || strings.TrimSpace(payload.Message.TripID) == "" {
			return nil, platformerrors.New(platformerrors.CodeMalformedEvent, "message event missing id or trip id")
		}
		if frame.Type == FrameMessageCreated {
			return chat.MessageCreated{Message: payload.Message.toDomain()}, nil
		}
		return chat.MessageUpdated{Message: payload.Message.toDomain()}, nil

	case FrameMessageDeleted:
		var payload deletedPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return nil, platformerrors.Wrap(platformerrors.CodeMalformedEvent, "decode deletion payload", err)
		}
		if strings.TrimSpace(payload.ID) == "" || strings.TrimSpace(payload.TripID) == "" {
			return nil, platformerrors.New(platformerrors.CodeMalformedEvent, "deletion event missing id or trip id")
		}
		return chat.MessageDeleted{ID: payload.ID, TripID: payload.TripID}, nil

	case FrameTyping:
		var payload typingPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return nil, platformerrors.Wrap(platformerrors.CodeMalformedEvent, "decode typing payload", err)
		}
		if strings.TrimSpace(payload.TripID) == "" || strings.TrimSpace(payload.UserID) == "" {
			return nil, platformerrors.New(platformerrors.CodeMalformedEvent, "typing event missing trip or user id")
		}
		return chat.TypingStatus{
			TripID:   payload.TripID,
			UserID:   payload.UserID,
			Name:     payload.Username,
			IsTyping: payload.IsTyping,
		}, nil

	default:
		return nil, platformerrors.WithMetadata(platformerrors.CodeMalformedEvent, "unknown frame type", map[string]string{
			"type": frame.Type,
		})
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func joinFrame(tripID string) Frame {
	return Frame{Type: FrameJoin, Payload: mustJSON(joinPayload{TripID: tripID})}
}

func typingFrame(tripID, userID, username string, isTyping bool) Frame {
	return Frame{Type: FrameTyping, Payload: mustJSON(typingPayload{
		TripID:   tripID,
		UserID:   userID,
		Username: username,
		IsTyping: isTyping,
	})}
}
