// Package engine owns the process-wide registry of open trips. Each open
// trip pairs a session with its streaming subscription; the registry is
// mutated only through Open and Close so streams are never leaked or doubled.
package engine

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roamio/tripchat/internal/chat"
	"github.com/roamio/tripchat/internal/chat/cache"
	"github.com/roamio/tripchat/internal/chat/session"
	"github.com/roamio/tripchat/internal/chat/stream"
	platformerrors "github.com/roamio/tripchat/internal/platform/errors"
)

// Options configures the engine.
type Options struct {
	// API is the request/response boundary shared by all sessions.
	API session.API
	// LocalUser identifies the authenticated user on this device.
	LocalUser chat.Sender
	// StreamURL builds the websocket endpoint for a trip.
	StreamURL func(tripID string) string
	// Stream is the template for per-trip stream options; URL and callbacks
	// are filled in per trip.
	Stream stream.Options
	// Cache warms timelines and persists confirmed messages. Optional.
	Cache cache.Store
	// PageSize overrides the history page size. Optional.
	PageSize int
}

type tripHandle struct {
	session *session.Session
	stream  *stream.Manager
}

// Engine is the registry of open trips.
type Engine struct {
	opts Options

	// group collapses concurrent opens of the same trip into one setup.
	group singleflight.Group

	mu     sync.Mutex
	trips  map[string]*tripHandle
	closed bool
}

// New creates an engine with no open trips.
func New(opts Options) *Engine {
	return &Engine{
		opts:  opts,
		trips: make(map[string]*tripHandle),
	}
}

// Open returns the session for a trip, creating it on first use. Opening an
// already-open trip returns the existing session; concurrent opens of the
// same trip share one setup.
func (e *Engine) Open(ctx context.Context, tripID string) (*session.Session, error) {
	result, err, _ := e.group.Do(tripID, func() (any, error) {
		return e.open(ctx, tripID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*session.Session), nil
}

func (e *Engine) open(ctx context.Context, tripID string) (*session.Session, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, platformerrors.New(platformerrors.CodeTripClosed, "engine is shut down")
	}
	if handle, ok := e.trips[tripID]; ok {
		e.mu.Unlock()
		return handle.session, nil
	}
	e.mu.Unlock()

	sess := session.New(tripID, e.opts.LocalUser, e.opts.API, session.Options{
		PageSize: e.opts.PageSize,
		Cache:    e.opts.Cache,
	})
	sess.Warm(ctx)

	var manager *stream.Manager
	if e.opts.StreamURL != nil {
		streamOpts := e.opts.Stream
		streamOpts.URL = e.opts.StreamURL(tripID)
		streamOpts.OnPersistentFailure = func(err error) {
			log.Printf("engine: stream gave up trip=%q err=%v", tripID, err)
			sess.DetachStream()
			sess.ReportConnectionLost(err)
		}
		manager = stream.NewManager(tripID, streamOpts, sess.Dispatch)
		sess.SetNotifier(manager)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, platformerrors.New(platformerrors.CodeTripClosed, "engine is shut down")
	}
	if handle, ok := e.trips[tripID]; ok {
		// Lost the race with another open; keep the existing handle.
		e.mu.Unlock()
		return handle.session, nil
	}
	e.trips[tripID] = &tripHandle{session: sess, stream: manager}
	e.mu.Unlock()

	if manager != nil {
		manager.Connect()
	}
	return sess, nil
}

// Session returns the open session for a trip, if any.
func (e *Engine) Session(tripID string) (*session.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	handle, ok := e.trips[tripID]
	if !ok {
		return nil, false
	}
	return handle.session, true
}

// Snapshot returns the read model for an open trip.
func (e *Engine) Snapshot(tripID string) (chat.TripSnapshot, bool) {
	sess, ok := e.Session(tripID)
	if !ok {
		return chat.TripSnapshot{}, false
	}
	return sess.Snapshot(), true
}

// Close tears down one trip: disconnects the stream, detaches pending sends
// from stream reconciliation and drops the session. Closing an unopened trip
// is a no-op.
func (e *Engine) Close(tripID string) {
	e.mu.Lock()
	handle, ok := e.trips[tripID]
	delete(e.trips, tripID)
	e.mu.Unlock()
	if !ok {
		return
	}

	if handle.stream != nil {
		handle.stream.Disconnect()
	}
	handle.session.DetachStream()
}

// CloseAll tears down every open trip and rejects further opens.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	e.closed = true
	handles := make([]*tripHandle, 0, len(e.trips))
	for _, handle := range e.trips {
		handles = append(handles, handle)
	}
	e.trips = make(map[string]*tripHandle)
	e.mu.Unlock()

	for _, handle := range handles {
		if handle.stream != nil {
			handle.stream.Disconnect()
		}
		handle.session.DetachStream()
	}
}
