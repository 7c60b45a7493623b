// Package main is the entrypoint for the connection gateway service.
// It accepts WebSocket upgrades on PORT and relays messages between
// connected clients.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aelexs/connection-gateway/internal/config"
	"github.com/aelexs/connection-gateway/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:               "gateway",
		PortFromConfig:     func(cfg *config.Config) int { return cfg.HTTPPort() },
		GRPCPortFromConfig: func(cfg *config.Config) int { return cfg.GRPCPort },
		Setup:              setup,
	}, server.Listeners{})
}
