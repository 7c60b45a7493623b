package domain

import "time"

// Compiled gateway defaults. Every value here can be overridden via
// configuration; see internal/config.
const (
	// Upgrade endpoint
	DefaultUpgradePath = "/ws"

	// Frame limits
	MaxMessageSize = 64 * 1024 // 64 KB max inbound frame

	// Inbound rate limiting, per connection
	MessageRatePerSecond = 20
	MessageBurst         = 40

	// Admission (pre-upgrade) limiting, per client IP
	AdmissionLimit  = 30
	AdmissionWindow = 10 * time.Second

	// Buffer limits
	OutboundBufferSize = 256 // Frames queued per connection before ErrSlowConsumer

	// Heartbeat. PongWait must exceed HeartbeatInterval so a healthy peer
	// always answers a ping before its read deadline fires.
	HeartbeatInterval = 30 * time.Second
	PongWait          = 60 * time.Second
	WriteWait         = 10 * time.Second

	// Closing state: outstanding writes get this long to drain
	CloseGracePeriod = 5 * time.Second

	// Timeout contracts
	RedisTimeout = 2 * time.Second

	// Graceful shutdown
	GracefulShutdownTimeout = 30 * time.Second
	ShutdownDrainDelay      = 2 * time.Second
	ShutdownHTTPTimeout     = 10 * time.Second
	ShutdownOTELTimeout     = 5 * time.Second
)
