package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aelexs/connection-gateway/internal/config"
	"github.com/aelexs/connection-gateway/internal/domain"
	"github.com/aelexs/connection-gateway/internal/gateway"
	"github.com/aelexs/connection-gateway/internal/redis"
	"github.com/aelexs/connection-gateway/internal/relay"
	"github.com/aelexs/connection-gateway/internal/server"
)

// setup is the gateway composition root. It builds the optional Redis
// admission limiter, the gateway itself and the relay handler, and mounts
// the upgrade route.
func setup(ctx context.Context, deps server.SetupDeps) (func(context.Context) error, error) {
	cfg := deps.Config
	logger := deps.Logger
	clock := domain.RealClock{}

	// 1. Infrastructure clients.
	var (
		admitter    gateway.Admitter
		redisClient *redis.Client
	)
	if cfg.AdmissionEnabled() {
		redisClient = redis.NewClient(redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
		})
		if err := redisClient.Ping(ctx); err != nil {
			// Admission fails closed, so an unreachable Redis only rejects
			// upgrades until it comes back.
			logger.Warn("redis unreachable at startup", slog.String("error", err.Error()))
		}
		admitter = gateway.NewRedisAdmitter(redisClient.RDB, cfg.Admission.Limit, cfg.Admission.Window, cfg.Redis.Timeout)
		logger.Info("redis admission limiter enabled",
			slog.String("redis_addr", cfg.Redis.Addr),
			slog.Int("limit", cfg.Admission.Limit),
			slog.Duration("window", cfg.Admission.Window),
		)
	}

	// 2. Gateway.
	gw := gateway.New(gatewayOptions(cfg, admitter, clock, logger))

	// 3. Application handler.
	gw.Handle(relay.New(gw, clock, logger))

	// 4. Routes.
	if err := gw.Attach(deps.HTTPMux); err != nil {
		return nil, fmt.Errorf("gateway setup: %w", err)
	}
	deps.Health.Set("connections", func() any { return gw.Len() })

	cleanup := func(ctx context.Context) error {
		err := gw.Shutdown(ctx)
		if redisClient != nil {
			err = errors.Join(err, redisClient.Close())
		}
		return err
	}
	return cleanup, nil
}

func gatewayOptions(cfg *config.Config, admitter gateway.Admitter, clock domain.Clock, logger *slog.Logger) gateway.Options {
	g := cfg.Gateway
	return gateway.Options{
		Path:              g.Path,
		AllowedOrigins:    g.AllowedOrigins,
		MaxMessageSize:    g.MaxMessageSize,
		SendBufferSize:    g.SendBufferSize,
		HeartbeatInterval: g.HeartbeatInterval,
		PongWait:          g.PongWait,
		WriteWait:         g.WriteWait,
		CloseGracePeriod:  g.CloseGracePeriod,
		MessageRate:       g.MessageRate,
		MessageBurst:      g.MessageBurst,
		Admitter:          admitter,
		Observers:         []gateway.Observer{connectionLog(logger)},
		Clock:             clock,
		Logger:            logger,
	}
}

// connectionLog records lifecycle events at debug level.
func connectionLog(logger *slog.Logger) gateway.Observer {
	return gateway.ObserverFuncs{
		Closed: func(c *gateway.Connection, err error) {
			if errors.Is(err, domain.ErrTransport) {
				logger.Debug("connection dropped",
					slog.String("connection_id", c.ID().String()),
					slog.Time("last_activity", c.LastActivity()),
				)
			}
		},
	}
}
