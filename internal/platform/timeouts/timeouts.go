// Package timeouts defines shared timeout constants used across the engine.
// Centralizing these values prevents drift between components and makes the
// durations discoverable.
package timeouts

import "time"

// StreamDial caps the wait time when establishing a websocket connection.
const StreamDial = 10 * time.Second

// HTTPRequest caps the time allowed for a single request against the chat
// REST boundary (history fetch, send, mark read).
const HTTPRequest = 10 * time.Second

// PingInterval is the default heartbeat probe interval on a live stream.
const PingInterval = 15 * time.Second

// PongWait is the default window to see a liveness response after a probe.
const PongWait = 10 * time.Second

// TypingExpiry bounds how long a typing indicator survives without refresh.
const TypingExpiry = 6 * time.Second

// TypingDebounce limits how often outgoing is-typing notifications are sent
// while the local user keeps typing.
const TypingDebounce = 3 * time.Second

// Shutdown limits how long teardown waits for in-flight work.
const Shutdown = 5 * time.Second
