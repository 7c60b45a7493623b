package gateway

import (
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the subset of *websocket.Conn the gateway drives. Tests and
// alternative upgraders can supply their own implementation via Adopt.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

var _ Transport = (*websocket.Conn)(nil)
