// Package server provides the shared service lifecycle runner.
// cmd/ services delegate to server.Run for signal handling, config loading,
// observability init, health checks, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/aelexs/connection-gateway/internal/config"
	"github.com/aelexs/connection-gateway/internal/domain"
	"github.com/aelexs/connection-gateway/internal/errmap"
	"github.com/aelexs/connection-gateway/internal/observability"
)

const serviceVersion = "0.1.0"

// Params configures a service's lifecycle runner.
type Params struct {
	// Name identifies the service (e.g. "gateway").
	Name string

	// PortFromConfig extracts the HTTP port from config. Nil uses
	// cfg.HTTPPort().
	PortFromConfig func(cfg *config.Config) int

	// GRPCPortFromConfig extracts the gRPC port. Nil or a zero port
	// disables the gRPC server unless a listener is injected.
	GRPCPortFromConfig func(cfg *config.Config) int

	// Setup wires the service into the HTTP mux and gRPC server. The
	// returned cleanup runs after the HTTP server has drained.
	Setup SetupFunc
}

// SetupFunc is a service composition root.
type SetupFunc func(ctx context.Context, deps SetupDeps) (cleanup func(context.Context) error, err error)

// SetupDeps are the shared resources handed to a service's Setup.
type SetupDeps struct {
	Config     *config.Config
	Logger     *slog.Logger
	HTTPMux    *http.ServeMux
	GRPCServer *grpc.Server
	Health     *Health
}

// Listeners lets callers inject pre-bound listeners (port-0 testing).
// A nil listener is created from config.
type Listeners struct {
	HTTP net.Listener
	GRPC net.Listener
}

// Run executes the full service lifecycle: signal handling, config loading,
// observability initialization, service setup, HTTP and gRPC servers, and
// graceful shutdown. A configuration error is returned before any listener
// is bound.
func Run(ctx context.Context, p Params, ls Listeners) error {
	// Signal-based cancellation: ctx.Done() closes on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		closeListeners(ls)
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	// --- Startup order: telemetry -> setup -> listeners -> servers ---

	telemetry, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		ServiceName:    p.Name,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		closeListeners(ls)
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	hc := newHealth(p.Name)
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", hc)

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(errmap.UnaryServerInterceptor()))
	grpcHealth := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, grpcHealth)
	reflection.Register(grpcServer)

	cleanup := func(context.Context) error { return nil }
	if p.Setup != nil {
		c, setupErr := p.Setup(ctx, SetupDeps{
			Config:     cfg,
			Logger:     logger,
			HTTPMux:    mux,
			GRPCServer: grpcServer,
			Health:     hc,
		})
		if setupErr != nil {
			closeListeners(ls)
			shutdownTelemetry(logger, telemetry)
			return fmt.Errorf("%s setup: %w", p.Name, setupErr)
		}
		if c != nil {
			cleanup = c
		}
	}

	httpLn, grpcLn, err := bind(ctx, p, cfg, ls)
	if err != nil {
		shutdownTelemetry(logger, telemetry)
		_ = cleanup(context.Background())
		return err
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcHealth.SetServingStatus(p.Name, healthpb.HealthCheckResponse_SERVING)

	// --- Structured concurrency via errgroup ---
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", httpLn.Addr().String()),
			slog.String("environment", cfg.Environment),
		)
		if serveErr := server.Serve(httpLn); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", serveErr)
		}
		return nil
	})

	if grpcLn != nil {
		g.Go(func() error {
			logger.Info("starting gRPC server", slog.String("addr", grpcLn.Addr().String()))
			if serveErr := grpcServer.Serve(grpcLn); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
				return fmt.Errorf("serve grpc: %w", serveErr)
			}
			return nil
		})
	}

	// Shutdown trigger: waits for cancellation, then drains in reverse
	// startup order.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received shutdown signal, starting graceful shutdown")

		// 1. Health checks report 503 / NOT_SERVING
		hc.markShuttingDown()
		grpcHealth.Shutdown()

		// 2. Drain delay: let the load balancer propagate endpoint removal
		time.Sleep(domain.ShutdownDrainDelay)

		// 3. Stop accepting HTTP requests
		httpCtx, httpCancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
		defer httpCancel()
		if shutdownErr := server.Shutdown(httpCtx); shutdownErr != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", shutdownErr.Error()))
		}

		// 4. Service cleanup: hijacked connections are not covered by
		// http.Server.Shutdown
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), domain.GracefulShutdownTimeout)
		defer cleanupCancel()
		if cleanupErr := cleanup(cleanupCtx); cleanupErr != nil {
			logger.Error("service cleanup error", slog.String("error", cleanupErr.Error()))
		}

		// 5. gRPC
		stopGRPC(grpcServer, domain.ShutdownHTTPTimeout)

		// 6. Flush OTEL (metrics first, then tracer)
		shutdownTelemetry(logger, telemetry)

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

// bind returns the HTTP listener and, when enabled, the gRPC listener.
func bind(ctx context.Context, p Params, cfg *config.Config, ls Listeners) (net.Listener, net.Listener, error) {
	lc := &net.ListenConfig{}

	httpLn := ls.HTTP
	if httpLn == nil {
		port := cfg.HTTPPort()
		if p.PortFromConfig != nil {
			port = p.PortFromConfig(cfg)
		}
		var err error
		httpLn, err = lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			if ls.GRPC != nil {
				_ = ls.GRPC.Close()
			}
			return nil, nil, fmt.Errorf("listen http: %w", err)
		}
	}

	grpcLn := ls.GRPC
	if grpcLn == nil && p.GRPCPortFromConfig != nil {
		if port := p.GRPCPortFromConfig(cfg); port > 0 {
			var err error
			grpcLn, err = lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
			if err != nil {
				_ = httpLn.Close()
				return nil, nil, fmt.Errorf("listen grpc: %w", err)
			}
		}
	}

	return httpLn, grpcLn, nil
}

func closeListeners(ls Listeners) {
	if ls.HTTP != nil {
		_ = ls.HTTP.Close()
	}
	if ls.GRPC != nil {
		_ = ls.GRPC.Close()
	}
}

// stopGRPC drains in-flight RPCs, forcing a stop after timeout.
func stopGRPC(s *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.Stop()
		<-done
	}
}

func shutdownTelemetry(logger *slog.Logger, t *observability.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
	defer cancel()
	if err := t.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown telemetry", slog.String("error", err.Error()))
	}
}
