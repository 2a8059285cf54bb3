// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aperioesca/aperioesca/services/analysis"
	"github.com/aperioesca/aperioesca/services/relay/dedup"
	"github.com/aperioesca/aperioesca/services/relay/handlers"
	"github.com/aperioesca/aperioesca/services/relay/metrics"
	"github.com/aperioesca/aperioesca/services/relay/middleware"
	"github.com/aperioesca/aperioesca/services/relay/ratelimit"
)

// Deps are the shared collaborators handed to the route handlers.
type Deps struct {
	AppToken  string
	Transport analysis.Transport
	Limiter   *ratelimit.DeviceLimiter
	Dedup     *dedup.Index
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// SetupRoutes registers all relay endpoints.
//
// /health and /metrics are unauthenticated for probes and scrapers; the
// v1 API requires the shared app token.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.AppToken))
	{
		v1.POST("/analyze", handlers.HandleAnalyze(handlers.AnalyzeDeps{
			Transport: deps.Transport,
			Limiter:   deps.Limiter,
			Dedup:     deps.Dedup,
			Metrics:   deps.Metrics,
			Logger:    deps.Logger,
		}))
		v1.GET("/quota/:deviceId", handlers.HandleQuota(deps.Limiter, deps.Logger))
	}
}
