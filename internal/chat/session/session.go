// Package session owns all per-trip chat state and the commands that mutate
// it: sending with optimistic placement, backward pagination, typing
// notifications and the single ingress point for stream events.
//
// One Session serves one trip. Every mutation of trip state goes through the
// session so ordering and reconciliation invariants hold under concurrent
// commands and event delivery.
package session

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/roamio/tripchat/internal/chat"
	"github.com/roamio/tripchat/internal/chat/outbox"
	"github.com/roamio/tripchat/internal/chat/timeline"
	"github.com/roamio/tripchat/internal/chat/typing"
	platformerrors "github.com/roamio/tripchat/internal/platform/errors"
	"github.com/roamio/tripchat/internal/platform/id"
	"github.com/roamio/tripchat/internal/platform/timeouts"
)

// DefaultPageSize is the history page size requested when none is configured.
const DefaultPageSize = 20

// seenLimit caps the duplicate-delivery record. Redeliveries arrive close to
// the original, so only the most recent identifiers need remembering.
const seenLimit = 512

// API is the request/response boundary the session talks to.
type API interface {
	FetchHistory(ctx context.Context, tripID string, cursor string, limit int) (chat.HistoryPage, error)
	SendMessage(ctx context.Context, tripID string, content string, clientMessageID string) (chat.Message, error)
	MarkRead(ctx context.Context, tripID string, messageID string) error
}

// TypingNotifier broadcasts the local user's composing state to the trip.
type TypingNotifier interface {
	SendTyping(userID, username string, isTyping bool) error
}

// Cache persists confirmed messages between sessions. Optional; a nil cache
// disables warming and write-through.
type Cache interface {
	RecentMessages(ctx context.Context, tripID string, limit int) ([]chat.Message, error)
	SaveMessages(ctx context.Context, messages []chat.Message) error
	DeleteMessage(ctx context.Context, tripID string, messageID string) error
}

// Options configures a session beyond its required collaborators.
type Options struct {
	PageSize       int
	Cache          Cache
	TypingDebounce time.Duration
	TypingExpiry   time.Duration
}

// Session holds the live state for one trip.
type Session struct {
	tripID    string
	localUser chat.Sender
	api       API
	cache     Cache
	pageSize  int
	debounce  time.Duration

	timeline *timeline.Store
	outbox   *outbox.Outbox
	typing   *typing.Tracker

	mu         sync.Mutex
	notifier   TypingNotifier
	pagination chat.PaginationInfo
	loading    bool
	loadGen    uint64
	lastError  string
	// seen deduplicates redelivered events by message ID and edit timestamp,
	// bounded to the most recently applied identifiers.
	seen      map[string]time.Time
	seenOrder []string
	// typingSentAt and typingActive drive the outgoing debounce.
	typingSentAt time.Time
	typingActive bool
}

// New creates a session for one trip. The pagination cursor starts at the
// newest messages with more history assumed until a fetch says otherwise.
func New(tripID string, localUser chat.Sender, api API, opts Options) *Session {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.TypingDebounce <= 0 {
		opts.TypingDebounce = timeouts.TypingDebounce
	}
	if opts.TypingExpiry <= 0 {
		opts.TypingExpiry = timeouts.TypingExpiry
	}
	return &Session{
		tripID:     tripID,
		localUser:  localUser,
		api:        api,
		cache:      opts.Cache,
		pageSize:   opts.PageSize,
		debounce:   opts.TypingDebounce,
		timeline:   timeline.NewStore(),
		outbox:     outbox.New(),
		typing:     typing.NewTracker(opts.TypingExpiry),
		pagination: chat.PaginationInfo{HasMore: true},
		seen:       make(map[string]time.Time),
	}
}

// TripID returns the trip this session serves.
func (s *Session) TripID() string {
	return s.tripID
}

// SetNotifier attaches the outgoing typing transport. Called once when the
// stream for the trip comes up.
func (s *Session) SetNotifier(n TypingNotifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// Warm seeds the timeline from the local cache so a freshly opened trip is
// not empty before the first fetch completes. No-op without a cache.
func (s *Session) Warm(ctx context.Context) {
	if s.cache == nil {
		return
	}
	messages, err := s.cache.RecentMessages(ctx, s.tripID, s.pageSize)
	if err != nil {
		log.Printf("session: cache warm failed trip=%q err=%v", s.tripID, err)
		return
	}
	for _, msg := range messages {
		s.timeline.AppendOrMerge(s.tripID, msg, chat.StatusSent)
	}
}

// Send places the message in the timeline immediately with status sending,
// then blocks on the server acknowledgment. The returned identifier is the
// temporary one; on success the timeline entry already carries the canonical
// message. On failure the entry stays visible with status error.
func (s *Session) Send(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", platformerrors.New(platformerrors.CodeEmptyContent, "message content is empty")
	}

	tempID, err := id.NewTempID()
	if err != nil {
		return "", platformerrors.Wrap(platformerrors.CodeUnknown, "generate message id", err)
	}

	now := time.Now().UTC()
	s.timeline.AppendOrMerge(s.tripID, chat.Message{
		ID:              tempID,
		TripID:          s.tripID,
		Content:         content,
		Sender:          s.localUser,
		CreatedAt:       now,
		ClientMessageID: tempID,
	}, chat.StatusSending)
	s.outbox.Track(tempID, s.localUser.ID, content, now)

	return tempID, s.deliver(ctx, tempID, content)
}

// Retry reissues a failed send, reusing the temporary identifier as the
// correlation token so the server can deduplicate the first attempt.
func (s *Session) Retry(ctx context.Context, tempID string) error {
	content, ok := s.outbox.MarkRetry(tempID, time.Now().UTC())
	if !ok {
		return platformerrors.New(platformerrors.CodeUnknown, "no failed send to retry")
	}
	s.timeline.MarkStatus(s.tripID, tempID, chat.StatusSending, "")
	return s.deliver(ctx, tempID, content)
}

// Discard drops a failed send the user chose not to retry.
func (s *Session) Discard(tempID string) {
	if s.outbox.Discard(tempID) {
		s.timeline.Remove(s.tripID, tempID)
	}
}

// deliver runs the blocking request for a tracked send and reconciles the
// outcome against the stream echo.
func (s *Session) deliver(ctx context.Context, tempID string, content string) error {
	canonical, err := s.api.SendMessage(ctx, s.tripID, content, tempID)
	if err != nil {
		if s.outbox.MarkError(tempID) {
			s.timeline.MarkStatus(s.tripID, tempID, chat.StatusError, err.Error())
		}
		return err
	}
	// First writer wins between this acknowledgment and the stream echo.
	if s.outbox.Resolve(tempID) {
		s.timeline.Resolve(s.tripID, tempID, canonical)
		s.markSeen(canonical)
		s.persist(canonical)
	}
	return nil
}

// LoadMore fetches the next older page and prepends it. Rejected with
// ALREADY_LOADING while a fetch is in flight and NO_MORE_DATA once the
// history is exhausted.
func (s *Session) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return platformerrors.New(platformerrors.CodeAlreadyLoading, "history fetch already in flight")
	}
	if !s.pagination.HasMore {
		s.mu.Unlock()
		return platformerrors.New(platformerrors.CodeNoMoreData, "no older messages")
	}
	s.loading = true
	s.loadGen++
	gen := s.loadGen
	cursor := s.pagination.NextCursor
	s.mu.Unlock()

	page, err := s.api.FetchHistory(ctx, s.tripID, cursor, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.loadGen {
		// The fetch was invalidated while in flight; whoever bumped the
		// generation also released the loading flag.
		return platformerrors.New(platformerrors.CodeStaleResponse, "history response superseded")
	}
	s.loading = false
	if err != nil {
		s.lastError = err.Error()
		return err
	}

	s.timeline.Prepend(s.tripID, page.Messages)
	s.pagination = chat.PaginationInfo{
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore && page.NextCursor != "",
	}
	s.lastError = ""
	return nil
}

// SetTyping reports the local user's composing state. Starts are debounced;
// a stop goes out immediately but only on the typing-to-idle transition.
func (s *Session) SetTyping(isTyping bool) {
	s.mu.Lock()
	notifier := s.notifier
	now := time.Now()
	if isTyping {
		if s.typingActive && now.Sub(s.typingSentAt) < s.debounce {
			s.mu.Unlock()
			return
		}
		s.typingActive = true
		s.typingSentAt = now
	} else {
		if !s.typingActive {
			s.mu.Unlock()
			return
		}
		s.typingActive = false
	}
	s.mu.Unlock()

	if notifier == nil {
		return
	}
	if err := notifier.SendTyping(s.localUser.ID, s.localUser.Name, isTyping); err != nil {
		log.Printf("session: typing notify failed trip=%q err=%v", s.tripID, err)
	}
}

// MarkRead acknowledges the newest message the local user has seen.
func (s *Session) MarkRead(ctx context.Context, messageID string) error {
	return s.api.MarkRead(ctx, s.tripID, messageID)
}

// Dispatch applies one inbound stream event. Events for other trips are
// ignored; duplicate deliveries are dropped.
func (s *Session) Dispatch(event chat.Event) {
	if event == nil || event.EventTripID() != s.tripID {
		return
	}

	switch e := event.(type) {
	case chat.MessageCreated:
		s.applyCreated(e.Message)
	case chat.MessageUpdated:
		if s.duplicate(e.Message) {
			return
		}
		s.markSeen(e.Message)
		s.timeline.AppendOrMerge(s.tripID, e.Message, chat.StatusSent)
		s.persist(e.Message)
	case chat.MessageDeleted:
		s.timeline.Remove(s.tripID, e.ID)
		s.forget(e.ID)
		if s.cache != nil {
			if err := s.cache.DeleteMessage(context.Background(), s.tripID, e.ID); err != nil {
				log.Printf("session: cache delete failed trip=%q message=%q err=%v", s.tripID, e.ID, err)
			}
		}
	case chat.TypingStatus:
		if e.UserID == s.localUser.ID {
			return
		}
		s.typing.Observe(e.UserID, e.Name, e.IsTyping)
	}
}

func (s *Session) applyCreated(msg chat.Message) {
	if tempID, ok := s.outbox.ResolveEcho(msg); ok {
		s.timeline.Resolve(s.tripID, tempID, msg)
		s.markSeen(msg)
		s.persist(msg)
		return
	}
	if s.duplicate(msg) {
		return
	}
	s.markSeen(msg)
	s.timeline.AppendOrMerge(s.tripID, msg, chat.StatusSent)
	s.persist(msg)
}

// duplicate reports whether this exact message revision was already applied.
func (s *Session) duplicate(msg chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	revision, ok := s.seen[msg.ID]
	return ok && revision.Equal(msg.UpdatedAt)
}

func (s *Session) markSeen(msg chat.Message) {
	s.mu.Lock()
	if _, ok := s.seen[msg.ID]; !ok {
		s.seenOrder = append(s.seenOrder, msg.ID)
		if len(s.seenOrder) > seenLimit {
			evicted := s.seenOrder[0]
			s.seenOrder = s.seenOrder[1:]
			delete(s.seen, evicted)
		}
	}
	s.seen[msg.ID] = msg.UpdatedAt
	s.mu.Unlock()
}

func (s *Session) forget(messageID string) {
	s.mu.Lock()
	if _, ok := s.seen[messageID]; ok {
		delete(s.seen, messageID)
		for i, candidate := range s.seenOrder {
			if candidate == messageID {
				s.seenOrder = append(s.seenOrder[:i], s.seenOrder[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
}

func (s *Session) persist(msg chat.Message) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SaveMessages(context.Background(), []chat.Message{msg}); err != nil {
		log.Printf("session: cache save failed trip=%q message=%q err=%v", s.tripID, msg.ID, err)
	}
}

// ReportConnectionLost surfaces a persistent stream failure on the snapshot.
func (s *Session) ReportConnectionLost(err error) {
	s.mu.Lock()
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = "connection lost"
	}
	s.mu.Unlock()
}

// DetachStream stops in-flight sends from expecting stream reconciliation,
// clears remote typing state and invalidates any history fetch in flight.
// Called when the trip's stream goes away.
func (s *Session) DetachStream() {
	s.outbox.DetachStream()
	s.typing.Reset()
	s.mu.Lock()
	s.notifier = nil
	s.loadGen++
	s.loading = false
	s.mu.Unlock()
}

// Snapshot returns the read model for the trip.
func (s *Session) Snapshot() chat.TripSnapshot {
	s.mu.Lock()
	pagination := s.pagination
	loading := s.loading
	lastError := s.lastError
	s.mu.Unlock()

	return chat.TripSnapshot{
		TripID:         s.tripID,
		Messages:       s.timeline.Snapshot(s.tripID),
		Pagination:     pagination,
		Typing:         s.typing.Active(),
		LoadingHistory: loading,
		LastError:      lastError,
	}
}
