// Package protocol defines the gateway's WebSocket wire format.
//
// Every WebSocket text message carries exactly one JSON frame:
//
//	{"type": "<frame type>", "payload": {...}}
//
// The payload shape is determined by type. Unknown types are rejected by the
// relay with an error frame; the gateway core never inspects payloads beyond
// the frames it emits itself (connection_ack, connection_closing).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType identifies the type of WebSocket frame.
type FrameType string

const (
	// Connection lifecycle (server -> client)
	FrameTypeConnectionAck     FrameType = "connection_ack"
	FrameTypeConnectionClosing FrameType = "connection_closing"

	// Application-level heartbeat (client -> server, answered with pong).
	// Transport-level liveness uses WebSocket ping/pong control frames.
	FrameTypePing FrameType = "ping"
	FrameTypePong FrameType = "pong"

	// Relayed messages (both directions)
	FrameTypeMessage FrameType = "message"

	// Errors (server -> client)
	FrameTypeError FrameType = "error"
)

// ErrMalformedFrame is returned by Decode for input that is not a frame.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the envelope for all WebSocket frames.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectionAck is sent by the server right after a successful upgrade.
type ConnectionAck struct {
	ConnectionID        string `json:"connection_id"`
	HeartbeatIntervalMs int64  `json:"heartbeat_interval_ms"`
}

// ConnectionClosing is sent by the server before it closes the connection.
type ConnectionClosing struct {
	Reason string `json:"reason"`
	Code   int    `json:"code"`
}

// Ping is sent by a client to measure round trips.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// Pong echoes a Ping's timestamp.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// Message is relayed between connections. Clients set To (empty means
// broadcast to every other connection) and Data; the server sets From.
type Message struct {
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Data json.RawMessage `json:"data"`
}

// Error is sent by the server to report a rejected frame.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewFrame creates a Frame with the given type and payload.
func NewFrame(frameType FrameType, payload any) (*Frame, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return &Frame{
		Type:    frameType,
		Payload: payloadBytes,
	}, nil
}

// Encode builds a frame and marshals it to bytes ready for the wire.
func Encode(frameType FrameType, payload any) ([]byte, error) {
	frame, err := NewFrame(frameType, payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", frameType, err)
	}
	return json.Marshal(frame)
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(frameType FrameType, payload any) []byte {
	b, err := Encode(frameType, payload)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses raw wire bytes into a Frame. A frame without a type is malformed.
func Decode(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return &f, nil
}

// ParsePayload unmarshals the frame payload into v.
func (f *Frame) ParsePayload(v any) error {
	if f.Payload == nil {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}
