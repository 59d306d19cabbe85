// Package cache declares the local message cache used to warm trip
// timelines between application runs.
package cache

import (
	"context"

	"github.com/roamio/tripchat/internal/chat"
)

// DefaultWindow bounds how many messages the cache retains per trip.
const DefaultWindow = 200

// Store is the persistence contract for confirmed messages. Implementations
// keep a bounded window of the newest messages per trip.
type Store interface {
	// RecentMessages returns up to limit newest cached messages for the
	// trip, oldest first.
	RecentMessages(ctx context.Context, tripID string, limit int) ([]chat.Message, error)
	// SaveMessages upserts confirmed messages, then prunes the trip to the
	// retention window.
	SaveMessages(ctx context.Context, messages []chat.Message) error
	// DeleteMessage removes a cached message. No-op when absent.
	DeleteMessage(ctx context.Context, tripID string, messageID string) error
	// Close releases the underlying resources.
	Close() error
}
