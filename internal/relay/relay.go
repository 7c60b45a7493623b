// Package relay is the default application handler: it routes "message"
// frames between connections and answers application-level pings.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/connection-gateway/internal/domain"
	"github.com/aelexs/connection-gateway/internal/errmap"
	"github.com/aelexs/connection-gateway/internal/gateway"
	"github.com/aelexs/connection-gateway/internal/observability"
	"github.com/aelexs/connection-gateway/pkg/protocol"
)

var tracer = observability.Tracer("github.com/aelexs/connection-gateway/internal/relay")

// Sender delivers payloads to connections. *gateway.Gateway implements it.
type Sender interface {
	Send(id domain.ConnectionID, payload []byte) error
	Broadcast(payload []byte, match func(*gateway.Connection) bool) gateway.BroadcastResult
}

// Relay implements gateway.MessageHandler.
type Relay struct {
	sender Sender
	clock  domain.Clock
	logger *slog.Logger
}

var _ gateway.MessageHandler = (*Relay)(nil)

// New creates a Relay that delivers through sender.
func New(sender Sender, clock domain.Clock, logger *slog.Logger) *Relay {
	if clock == nil {
		clock = domain.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		sender: sender,
		clock:  clock,
		logger: logger.With(slog.String("component", "relay")),
	}
}

// HandleMessage decodes one inbound frame and acts on it. Problems with the
// frame are reported to the sender as error frames; the connection stays open.
func (r *Relay) HandleMessage(ctx context.Context, c *gateway.Connection, payload []byte) {
	ctx, span := tracer.Start(ctx, "relay.handle")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", c.ID().String()))

	logger := observability.WithTraceID(ctx, r.logger).With(slog.String("connection_id", c.ID().String()))

	if err := r.handle(logger, c, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errmap.ToFrameErrorCode(err))
		logger.Debug("frame rejected", slog.String("error", err.Error()))
		r.reply(logger, c, protocol.FrameTypeError, protocol.Error{
			Code:    errmap.ToFrameErrorCode(err),
			Message: err.Error(),
		})
	}
}

func (r *Relay) handle(logger *slog.Logger, c *gateway.Connection, payload []byte) error {
	frame, err := protocol.Decode(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	switch frame.Type {
	case protocol.FrameTypeMessage:
		var msg protocol.Message
		if err := frame.ParsePayload(&msg); err != nil {
			return fmt.Errorf("%w: message payload: %w", domain.ErrInvalidInput, err)
		}
		return r.relay(logger, c, msg)

	case protocol.FrameTypePing:
		var ping protocol.Ping
		if err := frame.ParsePayload(&ping); err != nil {
			return fmt.Errorf("%w: ping payload: %w", domain.ErrInvalidInput, err)
		}
		ts := ping.Timestamp
		if ts == 0 {
			ts = domain.UnixMillis(r.clock)
		}
		r.reply(logger, c, protocol.FrameTypePong, protocol.Pong{Timestamp: ts})
		return nil

	default:
		return fmt.Errorf("%w: unsupported frame type %q", domain.ErrInvalidInput, frame.Type)
	}
}

func (r *Relay) relay(logger *slog.Logger, c *gateway.Connection, msg protocol.Message) error {
	if len(msg.Data) == 0 {
		return fmt.Errorf("%w: message has no data", domain.ErrInvalidInput)
	}

	out, err := protocol.Encode(protocol.FrameTypeMessage, protocol.Message{
		From: c.ID().String(),
		To:   msg.To,
		Data: msg.Data,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	if msg.To == "" {
		sender := c.ID()
		res := r.sender.Broadcast(out, func(other *gateway.Connection) bool {
			return other.ID() != sender
		})
		if len(res.Failed) > 0 {
			logger.Debug("broadcast skipped recipients",
				slog.Int("delivered", res.Delivered),
				slog.Int("failed", len(res.Failed)),
			)
		}
		return nil
	}

	target, err := domain.NewConnectionID(msg.To)
	if err != nil {
		return fmt.Errorf("%w: to: %w", domain.ErrInvalidInput, err)
	}
	if err := r.sender.Send(target, out); err != nil {
		if errors.Is(err, domain.ErrConnectionClosed) {
			return fmt.Errorf("%w: %w", domain.ErrConnectionNotFound, err)
		}
		return err
	}
	return nil
}

func (r *Relay) reply(logger *slog.Logger, c *gateway.Connection, t protocol.FrameType, payload any) {
	if err := c.Send(protocol.MustEncode(t, payload)); err != nil {
		logger.Debug("reply not delivered",
			slog.String("frame_type", string(t)),
			slog.String("error", err.Error()),
		)
	}
}
