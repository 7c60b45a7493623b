package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelexs/connection-gateway/pkg/protocol"
)

func TestNewFrame_NilPayload(t *testing.T) {
	frame, err := protocol.NewFrame(protocol.FrameTypePing, nil)

	require.NoError(t, err)
	assert.Equal(t, protocol.FrameTypePing, frame.Type)
	assert.Nil(t, frame.Payload)
}

func TestNewFrame_UnmarshalablePayload(t *testing.T) {
	_, err := protocol.NewFrame(protocol.FrameTypeMessage, make(chan int))

	assert.Error(t, err)
}

func TestEncode_WireShape(t *testing.T) {
	raw, err := protocol.Encode(protocol.FrameTypeConnectionAck, protocol.ConnectionAck{
		ConnectionID:        "550e8400-e29b-41d4-a716-446655440000",
		HeartbeatIntervalMs: 30000,
	})
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"type":"connection_ack","payload":{"connection_id":"550e8400-e29b-41d4-a716-446655440000","heartbeat_interval_ms":30000}}`,
		string(raw))
}

func TestEncode_MessageOmitsEmptyRouting(t *testing.T) {
	raw := protocol.MustEncode(protocol.FrameTypeMessage, protocol.Message{Data: json.RawMessage(`"hi"`)})

	assert.JSONEq(t, `{"type":"message","payload":{"data":"hi"}}`, string(raw))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantType  protocol.FrameType
		wantError bool
	}{
		{"message frame", `{"type":"message","payload":{"to":"x","data":{"k":1}}}`, protocol.FrameTypeMessage, false},
		{"ping without payload", `{"type":"ping"}`, protocol.FrameTypePing, false},
		{"missing type", `{"payload":{}}`, "", true},
		{"not json", `hello`, "", true},
		{"json array", `[1,2]`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := protocol.Decode([]byte(tt.raw))

			if tt.wantError {
				assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, frame.Type)
		})
	}
}

func TestParsePayload(t *testing.T) {
	frame, err := protocol.Decode([]byte(`{"type":"message","payload":{"to":"peer","data":{"text":"hello"}}}`))
	require.NoError(t, err)

	var msg protocol.Message
	require.NoError(t, frame.ParsePayload(&msg))

	assert.Equal(t, "peer", msg.To)
	assert.Empty(t, msg.From)
	assert.JSONEq(t, `{"text":"hello"}`, string(msg.Data))
}

func TestParsePayload_NilPayloadIsNoop(t *testing.T) {
	frame := &protocol.Frame{Type: protocol.FrameTypePing}

	var ping protocol.Ping
	require.NoError(t, frame.ParsePayload(&ping))
	assert.Zero(t, ping.Timestamp)
}
