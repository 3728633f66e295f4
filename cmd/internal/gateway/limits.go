package gateway

import "time"

const (
	// Max bytes per websocket frame read. READY payloads for large bots are big.
	maxFrameBytes = 8 << 20 // 8 MiB

	// Per-write deadline for outbound control frames.
	writeTimeout = 5 * time.Second

	// How long Run waits for the heartbeat goroutine after a disconnect.
	closeGrace = 1 * time.Second
)

const (
	// DefaultHeartbeatInterval is the heartbeat cadence.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultConnectTimeout bounds a single gateway dial (handshake included).
	DefaultConnectTimeout = 30 * time.Second

	// Outbound control-frame budget (events per window).
	DefaultRateLimitEvents = 110
	DefaultRateLimitWindow = 60 * time.Second

	// Reconnect backoff bounds.
	DefaultReconnectInitial = 1 * time.Second
	DefaultReconnectMax     = 60 * time.Second
)
