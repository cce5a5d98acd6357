// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package signal_api provides the read-only forecast API for AleutianSignal.
//
// The service never computes anything: it resolves the forecaster's
// published artifact set through the `current` symlink on every request
// and serves whatever version is live. Startup blocks until a complete
// set exists, because an API that answers 503 forever is harder to
// diagnose than one that refuses to start with a reason.
//
// # Usage
//
//	cfg := signal_api.Config{Port: 12300, ArtifactDir: "/data/artifacts"}
//	svc, err := signal_api.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package signal_api

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSignal/pkg/artifact"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the forecast API service.
//
// # Description
//
// Service abstracts the API lifecycle, enabling testing and alternative
// implementations. Run() blocks and should only be called once per
// instance.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// Callers must not modify the router after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds forecast API configuration options.
//
// # Description
//
// Config centralizes all configuration for the API service. Values can
// be populated from environment variables or programmatically for
// testing. All fields are optional with defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12300
	Port int

	// ArtifactDir is the shared artifact root written by the
	// forecaster. Default: /data/artifacts
	ArtifactDir string

	// StartupTimeout bounds how long New() waits for a complete
	// artifact set before failing. Default: 60 seconds
	StartupTimeout time.Duration

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "signal-otel-collector:4317"
	OTelEndpoint string

	// DisableTracing skips the OTel bootstrap entirely. Used by tests.
	DisableTracing bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	GinMode string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - config: Service configuration
//   - router: Gin HTTP engine
//   - reader: Artifact set reader (re-resolves current on every call)
//   - tracerCleanup: Function to shutdown tracer on exit (may be nil)
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	reader        *artifact.Reader
	tracerCleanup func(context.Context)
}

// New creates a forecast API Service with the given configuration.
//
// # Description
//
// New initializes the service in order:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing (non-fatal if the collector
//     is absent)
//  3. Blocks until the artifact root holds a complete export set, up
//     to StartupTimeout
//  4. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run API service
//   - error: Non-nil if the artifact set never became complete
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}
	s.reader = artifact.NewReader(s.config.ArtifactDir)

	if !s.config.DisableTracing {
		cleanup, err := s.initTracer()
		if err != nil {
			// Tracing is observability, not function: a missing
			// collector must not keep forecasts from serving.
			slog.Warn("Tracing disabled", "endpoint", s.config.OTelEndpoint, "error", err)
		} else {
			s.tracerCleanup = cleanup
		}
	}

	if err := s.awaitArtifacts(); err != nil {
		s.cleanup()
		return nil, err
	}

	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting forecast API server", "port", s.config.Port, "artifact_dir", s.config.ArtifactDir)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12300
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = "/data/artifacts"
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 60 * time.Second
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "signal-otel-collector:4317"
	}
	return cfg
}

// awaitArtifacts blocks until the published set has every required
// export, or fails with a single actionable line after StartupTimeout.
func (s *service) awaitArtifacts() error {
	deadline := time.Now().Add(s.config.StartupTimeout)
	logged := false

	for {
		missing, err := s.reader.MissingExports()
		if err == nil && len(missing) == 0 {
			if logged {
				slog.Info("Artifact set complete, continuing startup")
			}
			return nil
		}

		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("no published artifact set under %s after %s: start the forecaster (signalctl up) and retry",
					s.config.ArtifactDir, s.config.StartupTimeout)
			}
			return fmt.Errorf("artifact set under %s is missing exports after %s: %s",
				s.config.ArtifactDir, s.config.StartupTimeout, strings.Join(missing, ", "))
		}

		if !logged {
			slog.Info("Waiting for artifact exports",
				"artifact_dir", s.config.ArtifactDir,
				"timeout", s.config.StartupTimeout.String(),
			)
			logged = true
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for the stack's
// internal network.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("signal-api")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	if s.tracerCleanup != nil {
		s.router.Use(otelgin.Middleware("signal-api"))
	}
	s.router.Use(requestMetrics())

	s.registerRoutes()
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
