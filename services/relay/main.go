// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// The relay service is the server-side analysis path for Aperioesca
// clients. It holds the provider API key so mobile builds never ship it,
// and enforces the authoritative per-device limits.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/aperioesca/aperioesca/pkg/config"
	"github.com/aperioesca/aperioesca/pkg/logging"
	"github.com/aperioesca/aperioesca/services/analysis"
	"github.com/aperioesca/aperioesca/services/analysis/store"
	"github.com/aperioesca/aperioesca/services/relay/dedup"
	"github.com/aperioesca/aperioesca/services/relay/metrics"
	"github.com/aperioesca/aperioesca/services/relay/ratelimit"
	"github.com/aperioesca/aperioesca/services/relay/routes"
)

func initTracer(serviceName string) (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		// Tracing is opt-in for the relay; no collector means no tracer.
		return func(context.Context) {}, nil
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			log.Printf("failed to shutdown OTLP exporter: %v", err)
		}
	}, nil
}

// sealAPIKey moves the provider key out of the environment into a guarded
// enclave so it never sits in plain heap memory or leaks via /proc.
func sealAPIKey() (*memguard.Enclave, error) {
	raw := os.Getenv("GEMINI_API_KEY")
	if raw == "" {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}
	enclave := memguard.NewEnclave([]byte(raw))
	os.Unsetenv("GEMINI_API_KEY")
	return enclave, nil
}

func main() {
	port := os.Getenv("RELAY_PORT")
	if port == "" {
		port = "8787"
	}
	appToken := os.Getenv("RELAY_APP_TOKEN")
	if appToken == "" {
		log.Fatal("RELAY_APP_TOKEN is not set")
	}
	dataDir := os.Getenv("RELAY_DATA_DIR")
	if dataDir == "" {
		dataDir = "/var/lib/aperioesca/relay"
	}

	logs := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "relay",
		JSON:    true,
	})
	defer logs.Close()
	logger := logs.Slog()

	memguard.CatchInterrupt()
	defer memguard.Purge()

	cleanup, err := initTracer("analysis-relay")
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	// Operator-tunable config: model chains and limits, hot reloadable.
	cfg := config.Default()
	cfgPath := os.Getenv("RELAY_CONFIG")
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", cfgPath, err)
		}
	}

	keyEnclave, err := sealAPIKey()
	if err != nil {
		log.Fatalf("provider key: %v", err)
	}
	keyBuf, err := keyEnclave.Open()
	if err != nil {
		log.Fatalf("open provider key enclave: %v", err)
	}
	transport, err := analysis.NewProviderClient(analysis.ProviderConfig{
		APIKey:      keyBuf.String(),
		Tier1Models: cfg.Models.Tier1,
		Tier2Models: cfg.Models.Tier2,
		Logger:      logger,
	})
	keyBuf.Destroy()
	if err != nil {
		log.Fatalf("failed to build provider client: %v", err)
	}

	db, err := store.Open(store.DefaultConfig(dataDir))
	if err != nil {
		log.Fatalf("failed to open database at %s: %v", dataDir, err)
	}
	defer db.Close()

	limiter, err := ratelimit.New(db.DB(), ratelimit.Config{
		Limits: ratelimit.Limits{
			DailyPerDevice: cfg.Limits.DailyPerDevice,
			BurstInterval:  cfg.Limits.BurstInterval.Std(),
			BurstSize:      cfg.Limits.BurstSize,
		},
	})
	if err != nil {
		log.Fatalf("failed to build rate limiter: %v", err)
	}
	dedupIndex := dedup.New(dedup.Config{Window: cfg.Limits.DedupWindow.Std()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfgPath != "" {
		watcher, err := config.NewWatcher(cfgPath, func(next *config.Config) {
			transport.UpdateModelChains(next.Models.Tier1, next.Models.Tier2)
			limiter.SetLimits(ratelimit.Limits{
				DailyPerDevice: next.Limits.DailyPerDevice,
				BurstInterval:  next.Limits.BurstInterval.Std(),
				BurstSize:      next.Limits.BurstSize,
			})
			dedupIndex.SetWindow(next.Limits.DedupWindow.Std())
		}, logger)
		if err != nil {
			log.Fatalf("failed to create config watcher: %v", err)
		}
		go func() {
			if err := watcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("analysis-relay"))

	routes.SetupRoutes(router, routes.Deps{
		AppToken:  appToken,
		Transport: transport,
		Limiter:   limiter,
		Dedup:     dedupIndex,
		Metrics:   metrics.New(prometheus.DefaultRegisterer),
		Logger:    logger,
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("relay listening", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
