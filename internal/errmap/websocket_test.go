package errmap_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/connection-gateway/internal/domain"
	"github.com/aelexs/connection-gateway/internal/errmap"
)

func TestToWebSocketClose(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantReason string
	}{
		{"nil error", nil, errmap.CloseNormalClosure, "normal_closure"},
		{"ErrShuttingDown", domain.ErrShuttingDown, errmap.CloseGoingAway, "server_shutdown"},
		{"ErrMessageTooLarge", domain.ErrMessageTooLarge, errmap.CloseMessageTooLarge, "message_too_large"},
		{"ErrInvalidInput", domain.ErrInvalidInput, errmap.CloseInvalidMessage, "invalid_message"},
		{"ErrHeartbeatTimeout", domain.ErrHeartbeatTimeout, errmap.CloseHeartbeatTimeout, "heartbeat_timeout"},
		{"ErrRateLimited", domain.ErrRateLimited, errmap.CloseRateLimited, "rate_limited"},
		{"ErrSlowConsumer", domain.ErrSlowConsumer, errmap.CloseRateLimited, "slow_consumer"},
		{"ErrOriginNotAllowed", domain.ErrOriginNotAllowed, errmap.ClosePolicyViolation, "origin_not_allowed"},
		{"ErrUnavailable", domain.ErrUnavailable, errmap.CloseTryAgainLater, "service_unavailable"},

		// Transport errors wrap a more specific cause when one is known
		{"transport heartbeat", fmt.Errorf("%w: %w", domain.ErrTransport, domain.ErrHeartbeatTimeout), errmap.CloseHeartbeatTimeout, "heartbeat_timeout"},
		{"bare transport error", domain.ErrTransport, errmap.CloseInternalError, "internal_error"},

		{"unknown error", fmt.Errorf("unexpected"), errmap.CloseInternalError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errmap.ToWebSocketClose(tt.err)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestWebSocketCloseCodes(t *testing.T) {
	t.Run("standard codes are in the RFC 6455 range", func(t *testing.T) {
		for _, code := range []int{
			errmap.CloseNormalClosure,
			errmap.CloseGoingAway,
			errmap.CloseProtocolError,
			errmap.ClosePolicyViolation,
			errmap.CloseMessageTooBig,
			errmap.CloseInternalError,
			errmap.CloseTryAgainLater,
		} {
			assert.GreaterOrEqual(t, code, 1000)
			assert.Less(t, code, 2000)
		}
	})

	t.Run("application codes are in the 4000-4999 range", func(t *testing.T) {
		for _, code := range []int{
			errmap.CloseInvalidMessage,
			errmap.CloseHeartbeatTimeout,
			errmap.CloseMessageTooLarge,
			errmap.CloseRateLimited,
		} {
			assert.GreaterOrEqual(t, code, 4000)
			assert.Less(t, code, 5000)
		}
	})
}

func TestToFrameErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"invalid input", fmt.Errorf("decode: %w", domain.ErrInvalidInput), errmap.FrameCodeInvalidMessage},
		{"invalid id", domain.ErrInvalidID, errmap.FrameCodeInvalidMessage},
		{"not found", domain.ErrConnectionNotFound, errmap.FrameCodeNotFound},
		{"closed counts as not found", domain.ErrConnectionClosed, errmap.FrameCodeNotFound},
		{"rate limited", domain.ErrRateLimited, errmap.FrameCodeRateLimited},
		{"slow consumer", domain.ErrSlowConsumer, errmap.FrameCodeSlowConsumer},
		{"shutting down", domain.ErrShuttingDown, errmap.FrameCodeUnavailable},
		{"unknown", fmt.Errorf("boom"), errmap.FrameCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errmap.ToFrameErrorCode(tt.err))
		})
	}
}
