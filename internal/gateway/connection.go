package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/aelexs/connection-gateway/internal/domain"
	"github.com/aelexs/connection-gateway/internal/errmap"
	"github.com/aelexs/connection-gateway/pkg/protocol"
)

// closeReason describes a graceful close. A nil *closeReason on a closing
// connection means it failed and nothing more may be written.
type closeReason struct {
	frame errmap.WebSocketClose
	peer  bool  // the peer sent the close frame; gorilla has already replied
	err   error // reported to observers; nil for ordinary closes
}

// Connection is one upgraded channel owned by a Gateway.
type Connection struct {
	id         domain.ConnectionID
	remoteAddr string
	gw         *Gateway
	logger     *slog.Logger
	openedAt   time.Time

	transport Transport
	send      chan []byte
	limiter   *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex // guards state, reason, closeErr, handlers
	state    domain.ConnState
	reason   *closeReason
	closeErr error
	handlers []MessageHandler

	lastActivity atomic.Int64 // unix nanos
	evicting     atomic.Bool

	closing      chan struct{} // closed on leaving Open
	writerDone   chan struct{}
	done         chan struct{} // closed once Closed and observers have run
	finalizeOnce sync.Once
}

func newConnection(gw *Gateway, remoteAddr string) *Connection {
	id := domain.GenerateConnectionID()
	ctx, cancel := context.WithCancel(gw.baseCtx)
	now := gw.opts.Clock.Now()

	c := &Connection{
		id:         id,
		remoteAddr: remoteAddr,
		gw:         gw,
		logger: gw.logger.With(
			slog.String("connection_id", id.String()),
			slog.String("remote_addr", remoteAddr),
		),
		openedAt:   now,
		send:       make(chan []byte, gw.opts.SendBufferSize),
		ctx:        ctx,
		cancel:     cancel,
		state:      domain.StateConnecting,
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	if gw.opts.MessageRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(gw.opts.MessageRate), gw.opts.MessageBurst)
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() domain.ConnectionID { return c.id }

// RemoteAddr returns the peer address seen at upgrade time.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// OpenedAt returns when the upgrade request was received.
func (c *Connection) OpenedAt() time.Time { return c.openedAt }

// LastActivity returns the time of the last inbound frame or pong.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Context is cancelled when the connection reaches Closed.
func (c *Connection) Context() context.Context { return c.ctx }

// Done is closed after the connection reaches Closed and observers have
// been notified.
func (c *Connection) Done() <-chan struct{} { return c.done }

// State returns the current lifecycle state.
func (c *Connection) State() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that closed the connection, or nil if it is still
// live or closed gracefully.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Handle attaches h to this connection. Handlers run in attachment order.
func (c *Connection) Handle(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Connection) handlerSnapshot() []MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]MessageHandler(nil), c.handlers...)
}

// Send queues payload for delivery without blocking. It fails with
// domain.ErrConnectionClosed once the connection has left Open and with
// domain.ErrSlowConsumer when the outbound queue is full; a slow consumer is
// then evicted in the background.
func (c *Connection) Send(payload []byte) error {
	c.mu.Lock()
	if c.state != domain.StateOpen {
		c.mu.Unlock()
		return fmt.Errorf("send to %s: %w", c.id, domain.ErrConnectionClosed)
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	c.evict()
	return fmt.Errorf("send to %s: %w", c.id, domain.ErrSlowConsumer)
}

// Close moves the connection through Closing to Closed with a normal
// closure. It blocks until outstanding writes drain or the grace period
// elapses. Calling Close on a closing or closed connection is a no-op.
func (c *Connection) Close() {
	c.closeWith(closeReason{frame: errmap.CloseClientRequested})
}

func (c *Connection) transition(next domain.ConnState) error {
	if !c.state.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, c.state, next)
	}
	c.state = next
	return nil
}

// closeWith performs the graceful Open -> Closing -> Closed sequence.
func (c *Connection) closeWith(r closeReason) {
	c.mu.Lock()
	switch c.state {
	case domain.StateClosing:
		c.mu.Unlock()
		<-c.done
		return
	case domain.StateOpen:
	default:
		c.mu.Unlock()
		return
	}
	_ = c.transition(domain.StateClosing)
	c.reason = &r
	close(c.closing)
	c.mu.Unlock()

	c.logger.Debug("connection closing",
		slog.Int("code", r.frame.Code),
		slog.String("reason", r.frame.Reason),
		slog.Bool("peer_initiated", r.peer),
	)

	grace := time.NewTimer(c.gw.opts.CloseGracePeriod)
	defer grace.Stop()
	select {
	case <-c.writerDone:
	case <-grace.C:
		c.logger.Warn("grace period elapsed with writes outstanding, forcing close",
			slog.Int("queued", len(c.send)),
		)
	}

	c.finalize(r.err)
}

// fail closes the connection immediately after a transport error, skipping
// the Closing drain. It marks the connection Closing with a nil reason so
// later closers wait for finalize instead of starting their own close.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	switch c.state {
	case domain.StateOpen:
		_ = c.transition(domain.StateClosing)
		c.reason = nil
		close(c.closing)
	case domain.StateClosed:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.finalize(err)
}

// abort moves a connection that never opened straight to Closed.
func (c *Connection) abort() {
	c.mu.Lock()
	_ = c.transition(domain.StateClosed)
	c.mu.Unlock()
	c.finalizeOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
}

// finalize enters Closed and removes the registry entry in the same
// critical section, so no observer sees a Closed connection in the registry.
func (c *Connection) finalize(err error) {
	c.finalizeOnce.Do(func() {
		if c.transport != nil {
			_ = c.transport.Close()
		}

		c.mu.Lock()
		wasLive := c.state.Live()
		if tErr := c.transition(domain.StateClosed); tErr != nil {
			c.logger.Error("unexpected state on close", slog.String("error", tErr.Error()))
			c.state = domain.StateClosed
		}
		c.closeErr = err
		removed := c.gw.registry.Remove(c.id)
		c.mu.Unlock()

		c.cancel()
		if wasLive && removed {
			c.gw.connectionClosed(c, err)
		}
		close(c.done)
	})
}

// evict closes a slow consumer once, off the caller's goroutine.
func (c *Connection) evict() {
	if !c.evicting.CompareAndSwap(false, true) {
		return
	}
	c.logger.Warn("outbound queue full, evicting slow consumer", slog.Int("queued", len(c.send)))
	c.gw.wg.Add(1)
	go func() {
		defer c.gw.wg.Done()
		c.closeWith(closeReason{
			frame: errmap.ToWebSocketClose(domain.ErrSlowConsumer),
			err:   domain.ErrSlowConsumer,
		})
	}()
}

func (c *Connection) touch() {
	c.lastActivity.Store(c.gw.opts.Clock.Now().UnixNano())
}

func (c *Connection) extendReadDeadline() error {
	return c.transport.SetReadDeadline(time.Now().Add(c.gw.opts.PongWait))
}

// readPump reads frames until the transport fails or the peer closes, and
// dispatches each one on this goroutine to preserve arrival order.
func (c *Connection) readPump() {
	c.transport.SetReadLimit(c.gw.opts.MaxMessageSize)
	if err := c.extendReadDeadline(); err != nil {
		c.fail(fmt.Errorf("%w: set read deadline: %w", domain.ErrTransport, err))
		return
	}
	c.transport.SetPongHandler(func(string) error {
		c.touch()
		return c.extendReadDeadline()
	})

	for {
		_, payload, err := c.transport.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		c.touch()
		if err := c.extendReadDeadline(); err != nil {
			c.fail(fmt.Errorf("%w: set read deadline: %w", domain.ErrTransport, err))
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.gw.metrics.dropped.Add(c.ctx, 1, droppedRateLimited)
			c.logger.Debug("inbound rate limit exceeded, dropping frame")
			_ = c.Send(protocol.MustEncode(protocol.FrameTypeError, protocol.Error{
				Code:    errmap.ToFrameErrorCode(domain.ErrRateLimited),
				Message: "too many messages; frame dropped",
			}))
			continue
		}

		c.gw.Dispatch(c.ctx, c.id, payload)
	}
}

func (c *Connection) handleReadError(err error) {
	if c.State() != domain.StateOpen {
		// Closing was initiated elsewhere; the closer finalizes.
		return
	}

	var closeErr *websocket.CloseError
	var netErr net.Error
	switch {
	case errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure:
		c.closeWith(closeReason{
			frame: errmap.WebSocketClose{Code: closeErr.Code, Reason: closeErr.Text},
			peer:  true,
		})

	case errors.Is(err, websocket.ErrReadLimit):
		c.fail(fmt.Errorf("%w: %w: limit %d bytes", domain.ErrTransport, domain.ErrMessageTooLarge, c.gw.opts.MaxMessageSize))

	case errors.As(err, &netErr) && netErr.Timeout():
		c.fail(fmt.Errorf("%w: %w: no frame or pong within %s", domain.ErrTransport, domain.ErrHeartbeatTimeout, c.gw.opts.PongWait))

	default:
		c.fail(fmt.Errorf("%w: read: %w", domain.ErrTransport, err))
	}
}

// writePump owns all writes to the transport: queued frames, heartbeat
// pings, and the final drain and close frame.
func (c *Connection) writePump() {
	defer close(c.writerDone)

	ticker := time.NewTicker(c.gw.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload, time.Now().Add(c.gw.opts.WriteWait)); err != nil {
				c.fail(fmt.Errorf("%w: write: %w", domain.ErrTransport, err))
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.gw.opts.WriteWait)
			if err := c.transport.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.fail(fmt.Errorf("%w: ping: %w", domain.ErrTransport, err))
				return
			}

		case <-c.closing:
			c.drain()
			return

		case <-c.ctx.Done():
			// Finalized without a drain, e.g. a forced shutdown.
			return
		}
	}
}

func (c *Connection) write(payload []byte, deadline time.Time) error {
	if err := c.transport.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.transport.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	c.gw.metrics.outbound.Add(c.ctx, 1)
	return nil
}

// drain flushes queued frames and writes the close handshake, all within
// the grace period. Write errors here end the drain early.
func (c *Connection) drain() {
	c.mu.Lock()
	r := c.reason
	c.mu.Unlock()
	if r == nil || r.peer {
		return
	}

	deadline := time.Now().Add(c.gw.opts.CloseGracePeriod)
	for {
		select {
		case payload := <-c.send:
			if err := c.write(payload, deadline); err != nil {
				c.logger.Debug("drain write failed", slog.String("error", err.Error()))
				return
			}
			continue
		default:
		}
		break
	}

	notice := protocol.MustEncode(protocol.FrameTypeConnectionClosing, protocol.ConnectionClosing{
		Code:   r.frame.Code,
		Reason: r.frame.Reason,
	})
	if err := c.write(notice, deadline); err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(r.frame.Code, r.frame.Reason)
	_ = c.transport.WriteControl(websocket.CloseMessage, msg, deadline)
}
