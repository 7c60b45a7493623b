package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/connection-gateway/internal/domain"
	redisclient "github.com/aelexs/connection-gateway/internal/redis"
)

// Admitter decides whether an upgrade request may proceed. It runs before
// the handshake; a non-nil error rejects the request with the mapped HTTP
// status.
type Admitter interface {
	Admit(ctx context.Context, r *http.Request) error
}

// AdmitterFunc adapts a function to Admitter.
type AdmitterFunc func(ctx context.Context, r *http.Request) error

// Admit calls f.
func (f AdmitterFunc) Admit(ctx context.Context, r *http.Request) error {
	return f(ctx, r)
}

// admissionScript atomically increments a counter and sets its TTL on the
// first write only, giving a fixed window per key.
const admissionScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`

// RedisAdmitter limits new connections per client IP with a fixed-window
// counter in Redis. It fails closed: a Redis error rejects the upgrade with
// domain.ErrUnavailable rather than silently admitting it.
type RedisAdmitter struct {
	cmd     redisclient.Cmdable
	limit   int
	window  time.Duration
	timeout time.Duration
	prefix  string
}

// NewRedisAdmitter creates a RedisAdmitter allowing limit upgrades per IP
// per window. Windows shorter than a second are rounded up to one second.
func NewRedisAdmitter(cmd redisclient.Cmdable, limit int, window, timeout time.Duration) *RedisAdmitter {
	if window < time.Second {
		window = time.Second
	}
	return &RedisAdmitter{
		cmd:     cmd,
		limit:   limit,
		window:  window,
		timeout: timeout,
		prefix:  "gateway:admit:",
	}
}

// Admit implements Admitter.
func (a *RedisAdmitter) Admit(ctx context.Context, r *http.Request) error {
	ctx, span := tracer.Start(ctx, "redis.admission.check")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVAL"),
	)

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	key := a.prefix + clientIP(r)
	count, err := a.cmd.Eval(ctx, admissionScript, []string{key}, int(a.window/time.Second)).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: admission check %q: %w", domain.ErrUnavailable, key, err)
	}

	if count > int64(a.limit) {
		return fmt.Errorf("%w: %d connections from %s within %s", domain.ErrRateLimited, count, clientIP(r), a.window)
	}
	return nil
}

// clientIP returns the host part of the request's remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
