// Package sqlite provides a SQLite-backed message cache implementation.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/roamio/tripchat/internal/chat"
	"github.com/roamio/tripchat/internal/chat/cache"
	"github.com/roamio/tripchat/internal/chat/cache/sqlite/migrations"
	sqlitemigrate "github.com/roamio/tripchat/internal/platform/storage/sqlitemigrate"
)

// Store persists confirmed messages in SQLite.
type Store struct {
	sqlDB  *sql.DB
	window int
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite message cache and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, window: cache.DefaultWindow}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecentMessages returns up to limit newest cached messages for the trip,
// oldest first.
func (s *Store) RecentMessages(ctx context.Context, tripID string, limit int) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("cache is not configured")
	}
	tripID = strings.TrimSpace(tripID)
	if tripID == "" {
		return nil, fmt.Errorf("trip id is required")
	}
	if limit <= 0 {
		limit = s.window
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, trip_id, content, sender_id, sender_name, sender_avatar_url,
		        created_at, updated_at, client_message_id
		 FROM messages
		 WHERE trip_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		tripID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var newestFirst []chat.Message
	for rows.Next() {
		var msg chat.Message
		var createdAt, updatedAt int64
		if err := rows.Scan(
			&msg.ID,
			&msg.TripID,
			&msg.Content,
			&msg.Sender.ID,
			&msg.Sender.Name,
			&msg.Sender.AvatarURL,
			&createdAt,
			&updatedAt,
			&msg.ClientMessageID,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = fromMillis(createdAt)
		msg.UpdatedAt = fromMillis(updatedAt)
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	oldestFirst := make([]chat.Message, len(newestFirst))
	for i, msg := range newestFirst {
		oldestFirst[len(newestFirst)-1-i] = msg
	}
	return oldestFirst, nil
}

// SaveMessages upserts confirmed messages and prunes each touched trip to
// the retention window.
func (s *Store) SaveMessages(ctx context.Context, messages []chat.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("cache is not configured")
	}
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	trips := make(map[string]struct{})
	for _, msg := range messages {
		msgID := strings.TrimSpace(msg.ID)
		tripID := strings.TrimSpace(msg.TripID)
		if msgID == "" || tripID == "" {
			return fmt.Errorf("message id and trip id are required")
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO messages (
			   id, trip_id, content, sender_id, sender_name, sender_avatar_url,
			   created_at, updated_at, client_message_id
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   content = excluded.content,
			   updated_at = excluded.updated_at`,
			msgID,
			tripID,
			msg.Content,
			msg.Sender.ID,
			msg.Sender.Name,
			msg.Sender.AvatarURL,
			toMillis(msg.CreatedAt),
			toMillis(msg.UpdatedAt),
			msg.ClientMessageID,
		); err != nil {
			return fmt.Errorf("upsert message %s: %w", msgID, err)
		}
		trips[tripID] = struct{}{}
	}

	for tripID := range trips {
		if _, err := tx.ExecContext(
			ctx,
			`DELETE FROM messages
			 WHERE trip_id = ?1
			   AND id NOT IN (
			     SELECT id FROM messages
			     WHERE trip_id = ?1
			     ORDER BY created_at DESC, id DESC
			     LIMIT ?2
			   )`,
			tripID,
			s.window,
		); err != nil {
			return fmt.Errorf("prune trip %s: %w", tripID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DeleteMessage removes a cached message. Deleting an absent message is not
// an error.
func (s *Store) DeleteMessage(ctx context.Context, tripID string, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("cache is not configured")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM messages WHERE trip_id = ? AND id = ?`,
		strings.TrimSpace(tripID),
		strings.TrimSpace(messageID),
	)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}
