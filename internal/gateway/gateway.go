package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/aelexs/connection-gateway/internal/domain"
	"github.com/aelexs/connection-gateway/internal/errmap"
	"github.com/aelexs/connection-gateway/internal/observability"
	"github.com/aelexs/connection-gateway/pkg/protocol"
)

const instrumentationName = "github.com/aelexs/connection-gateway/internal/gateway"

var tracer = observability.Tracer(instrumentationName)

// Options configures a Gateway. Zero values fall back to the defaults in
// package domain.
type Options struct {
	Path              string
	AllowedOrigins    []string
	MaxMessageSize    int64
	SendBufferSize    int
	HeartbeatInterval time.Duration
	PongWait          time.Duration
	WriteWait         time.Duration
	CloseGracePeriod  time.Duration

	// MessageRate is the sustained inbound frames per second allowed per
	// connection. Zero or negative disables the limit.
	MessageRate  float64
	MessageBurst int

	// Handler is attached to every connection before its first frame is read.
	Handler   MessageHandler
	Observers []Observer
	Admitter  Admitter

	Clock  domain.Clock
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = domain.DefaultUpgradePath
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = domain.MaxMessageSize
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = domain.OutboundBufferSize
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = domain.HeartbeatInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = domain.PongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = domain.WriteWait
	}
	if o.CloseGracePeriod <= 0 {
		o.CloseGracePeriod = domain.CloseGracePeriod
	}
	if o.MessageRate > 0 && o.MessageBurst <= 0 {
		o.MessageBurst = max(1, int(o.MessageRate))
	}
	if o.Clock == nil {
		o.Clock = domain.RealClock{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Router is anything an upgrade handler can be mounted on, such as
// *http.ServeMux.
type Router interface {
	Handle(pattern string, handler http.Handler)
}

// Gateway accepts WebSocket upgrades and owns the resulting connections.
type Gateway struct {
	opts     Options
	registry *Registry
	upgrader websocket.Upgrader
	origins  originPolicy
	metrics  *metrics
	logger   *slog.Logger

	attached atomic.Bool

	lifecycleMu  sync.RWMutex // guards shuttingDown, handlers
	shuttingDown bool
	handlers     []MessageHandler

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup // pumps and background evictions
}

// New creates a Gateway. It accepts nothing until Attach or ServeHTTP is used.
func New(opts Options) *Gateway {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		opts:     opts,
		registry: NewRegistry(),
		origins:  newOriginPolicy(opts.AllowedOrigins),
		metrics:  newMetrics(observability.Meter(instrumentationName)),
		logger:   opts.Logger.With(slog.String("component", "gateway")),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	if opts.Handler != nil {
		g.handlers = append(g.handlers, opts.Handler)
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		// Origin is checked in Connect so the rejection carries our error body.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return g
}

// Attach mounts the gateway at its configured path. It may be called once.
func (g *Gateway) Attach(r Router) error {
	if !g.attached.CompareAndSwap(false, true) {
		return domain.ErrAlreadyAttached
	}
	r.Handle(g.opts.Path, g)
	g.logger.Info("gateway attached", slog.String("path", g.opts.Path))
	return nil
}

// Handle adds h to the handlers attached to every connection opened from
// now on. Existing connections are unaffected.
func (g *Gateway) Handle(h MessageHandler) {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()
	g.handlers = append(g.handlers, h)
}

// Path returns the route the gateway is mounted on by Attach.
func (g *Gateway) Path() string { return g.opts.Path }

// ServeHTTP implements http.Handler by calling Connect.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = g.Connect(w, r)
}

// Connect validates r, upgrades it, and registers the new connection. Every
// failure wraps domain.ErrUpgradeRejected; by the time it returns the HTTP
// response has been written and no registry entry exists.
func (g *Gateway) Connect(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	ctx, span := tracer.Start(r.Context(), "gateway.upgrade")
	defer span.End()
	span.SetAttributes(
		attribute.String("net.peer.addr", r.RemoteAddr),
		attribute.String("http.origin", r.Header.Get("Origin")),
	)

	reject := func(reason string, cause error) (*Connection, error) {
		err := fmt.Errorf("%w: %w", domain.ErrUpgradeRejected, cause)
		span.SetStatus(codes.Error, reason)
		g.metrics.rejected.Add(ctx, 1, rejectedReason(reason))
		g.logger.Debug("upgrade rejected",
			slog.String("reason", reason),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		errmap.WriteHTTPError(w, err)
		return nil, err
	}

	if r.Method != http.MethodGet {
		return reject("method", fmt.Errorf("%w: %s", domain.ErrMethodNotAllowed, r.Method))
	}
	if g.isShuttingDown() {
		return reject("shutdown", domain.ErrShuttingDown)
	}
	if !g.origins.allows(r) {
		return reject("origin", fmt.Errorf("%w: %q", domain.ErrOriginNotAllowed, r.Header.Get("Origin")))
	}
	if g.opts.Admitter != nil {
		if err := g.opts.Admitter.Admit(ctx, r); err != nil {
			return reject("admission", err)
		}
	}

	c := newConnection(g, r.RemoteAddr)
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		c.abort()
		err = fmt.Errorf("%w: %w: %w", domain.ErrUpgradeRejected, domain.ErrHandshake, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handshake")
		g.metrics.rejected.Add(ctx, 1, rejectedReason("handshake"))
		g.logger.Debug("websocket handshake failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if err := g.open(c, ws); err != nil {
		span.SetStatus(codes.Error, "shutdown")
		return nil, err
	}
	span.SetAttributes(attribute.String("connection.id", c.id.String()))
	return c, nil
}

// Adopt registers an already-established transport as a new connection.
// It skips request validation and admission.
func (g *Gateway) Adopt(t Transport) (*Connection, error) {
	if g.isShuttingDown() {
		_ = t.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrUpgradeRejected, domain.ErrShuttingDown)
	}
	remote := ""
	if addr := t.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	c := newConnection(g, remote)
	if err := g.open(c, t); err != nil {
		return nil, err
	}
	return c, nil
}

func (g *Gateway) open(c *Connection, t Transport) error {
	c.transport = t

	g.lifecycleMu.RLock()
	if g.shuttingDown {
		g.lifecycleMu.RUnlock()
		c.abort()
		_ = t.Close()
		return fmt.Errorf("%w: %w", domain.ErrUpgradeRejected, domain.ErrShuttingDown)
	}
	c.mu.Lock()
	if !g.registry.Insert(c) {
		c.mu.Unlock()
		g.lifecycleMu.RUnlock()
		c.abort()
		_ = t.Close()
		g.logger.Error("connection id collision", slog.String("connection_id", c.id.String()))
		return fmt.Errorf("%w: %w: %s", domain.ErrUpgradeRejected, domain.ErrDuplicateConnection, c.id)
	}
	_ = c.transition(domain.StateOpen) // Connecting -> Open is always legal
	c.mu.Unlock()
	defaults := append([]MessageHandler(nil), g.handlers...)
	g.lifecycleMu.RUnlock()

	ack := protocol.MustEncode(protocol.FrameTypeConnectionAck, protocol.ConnectionAck{
		ConnectionID:        c.id.String(),
		HeartbeatIntervalMs: g.opts.HeartbeatInterval.Milliseconds(),
	})
	_ = c.Send(ack)
	for _, h := range defaults {
		c.Handle(h)
	}

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		c.writePump()
	}()

	g.metrics.opened.Add(c.ctx, 1)
	g.metrics.active.Add(c.ctx, 1)
	c.logger.Info("connection opened")
	for _, o := range g.opts.Observers {
		g.notify(c, func() { o.ConnectionOpened(c) })
	}

	go func() {
		defer g.wg.Done()
		c.readPump()
	}()
	return nil
}

func (g *Gateway) connectionClosed(c *Connection, err error) {
	ctx := context.Background()
	g.metrics.active.Add(ctx, -1)
	g.metrics.closed.Add(ctx, 1, closedReason(err))

	attrs := []any{slog.Duration("duration", g.opts.Clock.Now().Sub(c.openedAt))}
	if err != nil {
		c.logger.Warn("connection closed with error", append(attrs, slog.String("error", err.Error()))...)
	} else {
		c.logger.Info("connection closed", attrs...)
	}

	for _, o := range g.opts.Observers {
		g.notify(c, func() { o.ConnectionClosed(c, err) })
	}
}

// notify runs an observer callback, containing any panic to this connection.
func (g *Gateway) notify(c *Connection, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("observer panicked", slog.Any("panic", r))
		}
	}()
	fn()
}

// Dispatch delivers payload to the handlers of connection id. Frames for
// unknown or no-longer-open connections are dropped.
func (g *Gateway) Dispatch(ctx context.Context, id domain.ConnectionID, payload []byte) {
	c, ok := g.registry.Get(id)
	if !ok || c.State() != domain.StateOpen {
		g.metrics.dropped.Add(ctx, 1, droppedStale)
		g.logger.Debug("dropping frame for stale connection", slog.String("connection_id", id.String()))
		return
	}

	g.metrics.inbound.Add(ctx, 1)
	for _, h := range c.handlerSnapshot() {
		g.invoke(ctx, c, h, payload)
	}
}

func (g *Gateway) invoke(ctx context.Context, c *Connection, h MessageHandler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			g.metrics.dropped.Add(ctx, 1, droppedPanic)
			c.logger.Error("message handler panicked", slog.Any("panic", r))
		}
	}()
	h.HandleMessage(ctx, c, payload)
}

// Send queues payload on connection id.
func (g *Gateway) Send(id domain.ConnectionID, payload []byte) error {
	c, ok := g.registry.Get(id)
	if !ok {
		return fmt.Errorf("send to %s: %w", id, domain.ErrConnectionNotFound)
	}
	return c.Send(payload)
}

// FailedDelivery records one recipient a broadcast could not reach.
type FailedDelivery struct {
	ID  domain.ConnectionID
	Err error
}

// BroadcastResult summarizes a Broadcast.
type BroadcastResult struct {
	Delivered int
	Failed    []FailedDelivery
}

// Broadcast queues payload on every live connection for which match returns
// true, or on all of them when match is nil. It works from a snapshot, so
// connections opened during the call may be missed.
func (g *Gateway) Broadcast(payload []byte, match func(*Connection) bool) BroadcastResult {
	var res BroadcastResult
	for _, c := range g.registry.Snapshot() {
		if match != nil && !match(c) {
			continue
		}
		if err := c.Send(payload); err != nil {
			res.Failed = append(res.Failed, FailedDelivery{ID: c.id, Err: err})
			continue
		}
		res.Delivered++
	}
	if n := len(res.Failed); n > 0 {
		g.metrics.broadcastFailures.Add(context.Background(), int64(n))
		g.logger.Debug("broadcast partially failed",
			slog.Int("delivered", res.Delivered),
			slog.Int("failed", n),
		)
	}
	return res
}

// Close gracefully closes connection id. Unknown ids are ignored.
func (g *Gateway) Close(id domain.ConnectionID) {
	if c, ok := g.registry.Get(id); ok {
		c.Close()
	}
}

// CloseWithError closes connection id with the close code mapped from err.
// Observers receive err.
func (g *Gateway) CloseWithError(id domain.ConnectionID, err error) {
	if c, ok := g.registry.Get(id); ok {
		c.closeWith(closeReason{frame: errmap.ToWebSocketClose(err), err: err})
	}
}

// Get returns the live connection for id.
func (g *Gateway) Get(id domain.ConnectionID) (*Connection, bool) {
	return g.registry.Get(id)
}

// Len returns the number of live connections.
func (g *Gateway) Len() int { return g.registry.Len() }

// Connections returns a snapshot of all live connections.
func (g *Gateway) Connections() []*Connection { return g.registry.Snapshot() }

func (g *Gateway) isShuttingDown() bool {
	g.lifecycleMu.RLock()
	defer g.lifecycleMu.RUnlock()
	return g.shuttingDown
}

// Shutdown stops accepting upgrades and closes every live connection with
// 1001 server_shutdown. Each connection gets CloseGracePeriod to flush; if
// ctx ends first the rest are closed without a close frame and ctx's error
// is returned. Shutdown is safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.lifecycleMu.Lock()
	g.shuttingDown = true
	g.lifecycleMu.Unlock()

	conns := g.registry.Snapshot()
	g.logger.Info("gateway shutting down", slog.Int("connections", len(conns)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		var eg errgroup.Group
		for _, c := range conns {
			eg.Go(func() error {
				c.closeWith(closeReason{frame: errmap.CloseServerShutdown})
				return nil
			})
		}
		_ = eg.Wait()
		g.cancel()
		g.wg.Wait()
	}()

	select {
	case <-done:
		g.logger.Info("gateway shutdown complete")
		return nil
	case <-ctx.Done():
		remaining := g.registry.Snapshot()
		for _, c := range remaining {
			c.finalize(domain.ErrShuttingDown)
		}
		g.cancel()
		g.logger.Warn("gateway shutdown deadline exceeded, forced close",
			slog.Int("forced", len(remaining)),
		)
		return fmt.Errorf("gateway shutdown: %w", ctx.Err())
	}
}
