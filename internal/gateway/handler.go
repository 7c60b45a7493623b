package gateway

import "context"

// MessageHandler receives inbound payloads for a connection. Calls for one
// connection are sequential and in arrival order.
type MessageHandler interface {
	HandleMessage(ctx context.Context, c *Connection, payload []byte)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, c *Connection, payload []byte)

// HandleMessage calls f.
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, c *Connection, payload []byte) {
	f(ctx, c, payload)
}

// Observer is notified of connection lifecycle events. ConnectionOpened runs
// before the connection's first inbound frame is read, so it is the place to
// attach per-connection handlers. ConnectionClosed receives nil for graceful
// closes, an error wrapping domain.ErrTransport for mid-session failures, and
// the eviction cause (domain.ErrSlowConsumer, domain.ErrShuttingDown on a
// forced shutdown) otherwise.
type Observer interface {
	ConnectionOpened(c *Connection)
	ConnectionClosed(c *Connection, err error)
}

// ObserverFuncs implements Observer with optional callbacks.
type ObserverFuncs struct {
	Opened func(c *Connection)
	Closed func(c *Connection, err error)
}

// ConnectionOpened calls o.Opened if set.
func (o ObserverFuncs) ConnectionOpened(c *Connection) {
	if o.Opened != nil {
		o.Opened(c)
	}
}

// ConnectionClosed calls o.Closed if set.
func (o ObserverFuncs) ConnectionClosed(c *Connection, err error) {
	if o.Closed != nil {
		o.Closed(c, err)
	}
}
