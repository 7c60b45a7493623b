package errmap

import (
	"errors"

	"github.com/aelexs/connection-gateway/internal/domain"
)

// WebSocket close codes per RFC 6455 §7.4.
// Application-specific codes use the 4000-4999 range.
const (
	// Standard codes (RFC 6455)
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	ClosePolicyViolation = 1008
	CloseMessageTooBig   = 1009
	CloseInternalError   = 1011
	CloseTryAgainLater   = 1013

	// Application-specific codes (4000-4999)
	CloseInvalidMessage   = 4000
	CloseHeartbeatTimeout = 4008
	CloseMessageTooLarge  = 4013
	CloseRateLimited      = 4029
)

// WebSocketClose represents a close code and reason for WebSocket termination.
type WebSocketClose struct {
	Code   int
	Reason string
}

// ToWebSocketClose converts a gateway error to a WebSocket close code and reason.
// A nil error is a normal closure.
func ToWebSocketClose(err error) WebSocketClose {
	if err == nil {
		return WebSocketClose{Code: CloseNormalClosure, Reason: "normal_closure"}
	}

	switch {
	case errors.Is(err, domain.ErrShuttingDown):
		return CloseServerShutdown

	case errors.Is(err, domain.ErrMessageTooLarge):
		return WebSocketClose{Code: CloseMessageTooLarge, Reason: "message_too_large"}

	case errors.Is(err, domain.ErrInvalidInput):
		return WebSocketClose{Code: CloseInvalidMessage, Reason: "invalid_message"}

	case errors.Is(err, domain.ErrHeartbeatTimeout):
		return WebSocketClose{Code: CloseHeartbeatTimeout, Reason: "heartbeat_timeout"}

	case errors.Is(err, domain.ErrRateLimited):
		return WebSocketClose{Code: CloseRateLimited, Reason: "rate_limited"}

	case errors.Is(err, domain.ErrSlowConsumer):
		return WebSocketClose{Code: CloseRateLimited, Reason: "slow_consumer"}

	case errors.Is(err, domain.ErrOriginNotAllowed):
		return WebSocketClose{Code: ClosePolicyViolation, Reason: "origin_not_allowed"}

	case errors.Is(err, domain.ErrUnavailable):
		return WebSocketClose{Code: CloseTryAgainLater, Reason: "service_unavailable"}

	default:
		return WebSocketClose{Code: CloseInternalError, Reason: "internal_error"}
	}
}

// Close reasons for cases not driven by an error value.
var (
	CloseServerShutdown    = WebSocketClose{Code: CloseGoingAway, Reason: "server_shutdown"}
	CloseClientRequested   = WebSocketClose{Code: CloseNormalClosure, Reason: "closed"}
	CloseProtocolViolation = WebSocketClose{Code: CloseProtocolError, Reason: "protocol_error"}
)

// Error frame codes sent to peers for rejected frames. The connection stays
// open; these are advisory.
const (
	FrameCodeInvalidMessage = "invalid_message"
	FrameCodeNotFound       = "not_found"
	FrameCodeRateLimited    = "rate_limited"
	FrameCodeSlowConsumer   = "slow_consumer"
	FrameCodeUnavailable    = "unavailable"
	FrameCodeInternal       = "internal_error"
)

// ToFrameErrorCode converts an error to the code carried in an error frame.
func ToFrameErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrMessageTooLarge),
		errors.Is(err, domain.ErrEmptyID),
		errors.Is(err, domain.ErrInvalidID):
		return FrameCodeInvalidMessage

	case errors.Is(err, domain.ErrConnectionNotFound),
		errors.Is(err, domain.ErrConnectionClosed):
		return FrameCodeNotFound

	case errors.Is(err, domain.ErrRateLimited):
		return FrameCodeRateLimited

	case errors.Is(err, domain.ErrSlowConsumer):
		return FrameCodeSlowConsumer

	case errors.Is(err, domain.ErrUnavailable),
		errors.Is(err, domain.ErrShuttingDown):
		return FrameCodeUnavailable

	default:
		return FrameCodeInternal
	}
}
