// Package server is the public entry point for composing a WorkMesh
// controller: config, telemetry, the capability registry (reloaded from
// its state log), the stale-worker janitor, and the HTTP router.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/workmesh/workmesh/internal/api"
	"github.com/workmesh/workmesh/internal/config"
	"github.com/workmesh/workmesh/internal/registry"
	"github.com/workmesh/workmesh/internal/telemetry"
)

// Server holds an initialized controller.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Registry is the capability registry instance the handler serves.
	Registry *registry.Registry

	// ControllerID identifies this controller in state exports.
	ControllerID string

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc stops background work and flushes telemetry.
	ShutdownFunc func(context.Context) error
}

// New builds the controller from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig builds the controller with an explicit configuration.
// The registry state log is loaded before any request can be served.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	otelShutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	reg := registry.New(registry.Options{
		HeartbeatTimeout: cfg.Registry.HeartbeatTimeout,
		DataDir:          cfg.DataDir,
	})
	if err := reg.Load(); err != nil {
		return nil, fmt.Errorf("load registry state: %w", err)
	}

	janitor := registry.NewJanitor(reg, cfg.Registry.CleanupInterval)
	janitor.Start(ctx)

	controllerID := uuid.NewString()
	h := api.NewHandlers(reg, controllerID)
	router := api.NewRouter(cfg, h)

	log.Info().
		Str("controller_id", controllerID).
		Int("workers", reg.Count()).
		Dur("heartbeat_timeout", cfg.Registry.HeartbeatTimeout).
		Msg("controller initialized")

	return &Server{
		Handler:      router,
		Registry:     reg,
		ControllerID: controllerID,
		Port:         cfg.Port,
		ShutdownFunc: func(ctx context.Context) error {
			janitor.Stop()
			return otelShutdown(ctx)
		},
	}, nil
}
