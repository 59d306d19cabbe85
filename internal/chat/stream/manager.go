// Package stream owns the resilient websocket subscription for one trip:
// connect, heartbeat, reconnect with backoff, disconnect.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/net/websocket"

	"github.com/roamio/tripchat/internal/chat"
	platformerrors "github.com/roamio/tripchat/internal/platform/errors"
	"github.com/roamio/tripchat/internal/platform/timeouts"
)

// State names the connection lifecycle phases.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Default heartbeat and reconnect settings.
const (
	DefaultMaxMissedPongs       = 3
	DefaultMaxReconnectAttempts = 5
	defaultReconnectInitialWait = 500 * time.Millisecond
	maxReconnectWait            = 15 * time.Second
)

// Options configures one trip's streaming subscription. Zero values fall
// back to sane defaults.
type Options struct {
	// URL is the full websocket endpoint for the trip.
	URL string
	// Origin overrides the handshake origin; derived from URL when empty.
	Origin string
	// AuthToken is attached as a bearer Authorization header when set.
	AuthToken string

	PingInterval         time.Duration
	PongWait             time.Duration
	MaxMissedPongs       int
	MaxReconnectAttempts int
	DialTimeout          time.Duration
	// ReconnectInitialWait seeds the exponential backoff between attempts.
	ReconnectInitialWait time.Duration

	// OnStateChange observes lifecycle transitions. Optional.
	OnStateChange func(State)
	// OnPersistentFailure fires once reconnect attempts are exhausted.
	OnPersistentFailure func(error)
}

func (o *Options) applyDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = timeouts.PingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = timeouts.PongWait
	}
	if o.MaxMissedPongs <= 0 {
		o.MaxMissedPongs = DefaultMaxMissedPongs
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = timeouts.StreamDial
	}
	if o.ReconnectInitialWait <= 0 {
		o.ReconnectInitialWait = defaultReconnectInitialWait
	}
}

// Manager owns one logical streaming subscription per trip.
type Manager struct {
	tripID  string
	opts    Options
	onEvent func(chat.Event)

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	peer   *peer
}

// peer serializes frame writes on a live connection.
type peer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func (p *peer) writeFrame(frame Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// NewManager builds a manager for one trip. Events decoded from the stream
// are handed to onEvent in receipt order.
func NewManager(tripID string, opts Options, onEvent func(chat.Event)) *Manager {
	opts.applyDefaults()
	return &Manager{
		tripID:  tripID,
		opts:    opts,
		onEvent: onEvent,
		state:   StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the subscription. Calling while already connected or
// connecting is a no-op.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.state = StateConnecting
	m.mu.Unlock()
	m.notifyState(StateConnecting)

	go m.run(ctx, done)
}

// Disconnect tears the subscription down, cancelling heartbeat timers and
// any pending reconnect backoff. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SendTyping emits a typing-status frame for the local user on the live
// connection.
func (m *Manager) SendTyping(userID, username string, isTyping bool) error {
	m.mu.Lock()
	p := m.peer
	m.mu.Unlock()

	if p == nil {
		return platformerrors.New(platformerrors.CodeNetwork, "stream is not connected")
	}
	if err := p.writeFrame(typingFrame(m.tripID, userID, username, isTyping)); err != nil {
		return platformerrors.Wrap(platformerrors.CodeNetwork, "write typing frame", err)
	}
	return nil
}

// setState records a transition and notifies the observer outside the lock.
// All transitions after Connect happen on the run goroutine, so observers
// see them in order.
func (m *Manager) setState(next State) {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.mu.Unlock()
	m.notifyState(next)
}

func (m *Manager) notifyState(next State) {
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(next)
	}
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempts := 0
	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = m.opts.ReconnectInitialWait
	wait.MaxInterval = maxReconnectWait

	for {
		conn, err := m.dial()
		if err != nil {
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return
			}
			attempts++
			if attempts > m.opts.MaxReconnectAttempts {
				m.setState(StateDisconnected)
				m.reportPersistentFailure(err)
				return
			}
			m.setState(StateReconnecting)
			if !waitRetry(ctx, wait.NextBackOff()) {
				m.setState(StateDisconnected)
				return
			}
			continue
		}

		attempts = 0
		wait.Reset()
		p := &peer{encoder: json.NewEncoder(conn)}
		m.mu.Lock()
		m.peer = p
		m.mu.Unlock()
		m.setState(StateConnected)

		serveErr := m.serve(ctx, conn, p)

		m.mu.Lock()
		m.peer = nil
		m.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}
		log.Printf("stream: connection lost trip=%q err=%v", m.tripID, serveErr)
		m.setState(StateReconnecting)
		if !waitRetry(ctx, wait.NextBackOff()) {
			m.setState(StateDisconnected)
			return
		}
	}
}

func (m *Manager) dial() (*websocket.Conn, error) {
	origin := strings.TrimSpace(m.opts.Origin)
	if origin == "" {
		origin = "http" + strings.TrimPrefix(m.opts.URL, "ws")
	}
	cfg, err := websocket.NewConfig(m.opts.URL, origin)
	if err != nil {
		return nil, fmt.Errorf("stream config: %w", err)
	}
	if m.opts.AuthToken != "" {
		cfg.Header = make(http.Header)
		cfg.Header.Set("Authorization", "Bearer "+m.opts.AuthToken)
	}
	cfg.Dialer = &net.Dialer{Timeout: m.opts.DialTimeout}
	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.CodeConnectionLost, "dial stream", err)
	}
	return conn, nil
}

// serve pumps frames until the context ends or the connection is declared
// dead by the heartbeat.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn, p *peer) error {
	if err := p.writeFrame(joinFrame(m.tripID)); err != nil {
		return platformerrors.Wrap(platformerrors.CodeConnectionLost, "write join frame", err)
	}

	serveCtx, stopReader := context.WithCancel(ctx)
	defer stopReader()

	frames := make(chan Frame)
	readErr := make(chan error, 1)
	readDeadline := time.Duration(m.opts.MaxMissedPongs)*m.opts.PingInterval + m.opts.PongWait

	go func() {
		decoder := json.NewDecoder(conn)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
			var frame Frame
			if err := decoder.Decode(&frame); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- frame:
			case <-serveCtx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()
	outstandingPings := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return platformerrors.Wrap(platformerrors.CodeConnectionLost, "read stream", err)

		case frame := <-frames:
			switch frame.Type {
			case FramePong:
				outstandingPings = 0
			case FramePing:
				// Server-initiated probe.
				if err := p.writeFrame(Frame{Type: FramePong, RequestID: frame.RequestID}); err != nil {
					return platformerrors.Wrap(platformerrors.CodeConnectionLost, "write pong frame", err)
				}
			default:
				event, err := DecodeEvent(frame)
				if err != nil {
					log.Printf("stream: dropping frame trip=%q type=%q err=%v", m.tripID, frame.Type, err)
					continue
				}
				if m.onEvent != nil {
					m.onEvent(event)
				}
			}

		case <-ticker.C:
			if outstandingPings >= m.opts.MaxMissedPongs {
				return platformerrors.New(platformerrors.CodeConnectionLost,
					fmt.Sprintf("heartbeat: %d consecutive missed pongs", outstandingPings))
			}
			if err := p.writeFrame(Frame{Type: FramePing}); err != nil {
				return platformerrors.Wrap(platformerrors.CodeConnectionLost, "write ping frame", err)
			}
			outstandingPings++
		}
	}
}

func (m *Manager) reportPersistentFailure(cause error) {
	log.Printf("stream: reconnect attempts exhausted trip=%q err=%v", m.tripID, cause)
	if m.opts.OnPersistentFailure != nil {
		m.opts.OnPersistentFailure(platformerrors.Wrap(platformerrors.CodeConnectionLost,
			"reconnect attempts exhausted", cause))
	}
}

func waitRetry(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		delay = time.Second
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
