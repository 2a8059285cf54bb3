// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the relay's HTTP endpoints.
//
// Handlers translate between the HTTP surface and the analysis pipeline.
// The relay's contract is deliberately small: a mobile client posts a
// base64 image with its device id and gets back either a structured
// classification or a status code it can map into its local error
// taxonomy (400, 401, 413, 429, 500).
package handlers

import (
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aperioesca/aperioesca/services/analysis"
	"github.com/aperioesca/aperioesca/services/relay/dedup"
	"github.com/aperioesca/aperioesca/services/relay/metrics"
	"github.com/aperioesca/aperioesca/services/relay/ratelimit"
)

// AnalyzeDeps are the collaborators behind POST /v1/analyze.
type AnalyzeDeps struct {
	Transport analysis.Transport
	Limiter   *ratelimit.DeviceLimiter
	Dedup     *dedup.Index
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// analyzeRequest is the wire body for POST /v1/analyze.
type analyzeRequest struct {
	ImageBase64 string `json:"imageBase64" binding:"required"`
	DeviceID    string `json:"deviceId" binding:"required"`
}

// HandleAnalyze returns the handler for POST /v1/analyze.
//
// # Description
//
// Validates the payload, applies the per-device gates, and runs the
// two-tier analysis. Responses:
//
//   - 200: classification JSON
//   - 400: malformed body, unsupported image, or a non-food photo
//     (the body carries "notFood": true for the latter)
//   - 413: encoded image above the 5 MB cap
//   - 429: daily device limit, burst limit, or duplicate image
//   - 500: upstream analysis failure
//
// # Gate Order
//
// Cheap and non-consuming checks run first: body shape, size, image
// sniff, then deduplication, and only then the daily counter, so a
// rejected request never spends device allowance. A failed upstream call
// releases the dedup claim so the client's retry is not refused as a
// duplicate.
func HandleAnalyze(deps AnalyzeDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(deps.Metrics.AnalysisDuration)
		defer timer.ObserveDuration()

		var req analyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			deps.Metrics.AnalysisRequests.WithLabelValues(metrics.OutcomeRejected).Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "imageBase64 and deviceId are required"})
			return
		}

		if len(req.ImageBase64) > analysis.MaxImageBase64Bytes {
			deps.Metrics.AnalysisRequests.WithLabelValues(metrics.OutcomeRejected).Inc()
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds the 5 MB limit"})
			return
		}

		raw, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			deps.Metrics.AnalysisRequests.WithLabelValues(metrics.OutcomeRejected).Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "imageBase64 is not valid base64"})
			return
		}
		mime := http.DetectContentType(raw)
		if mime != "image/jpeg" && mime != "image/png" {
			deps.Metrics.AnalysisRequests.WithLabelValues(metrics.OutcomeRejected).Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "only JPEG and PNG images are supported"})
			return
		}

		payload := analysis.Payload{Base64: req.ImageBase64, MIME: mime}
		digest := payload.Hash()

		if deps.Dedup.Seen(digest) {
			deps.Metrics.AnalysisRequests.WithLabelValues(metrics.OutcomeDuplicate).Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "identical image was just analyzed"})
			return
		}

		allowed, reason, err := deps.Limiter.Allow(req.DeviceID)
		if err != nil {
			deps.Dedup.Forget(digest)
			deps.Logger.Error("rate limiter failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
			return
		}
		if !allowed {
			deps.Dedup.Forget(digest)
			deps.Metrics.AnalysisRequests.WithLabelValues(metrics.OutcomeRateLimited).Inc()
			msg := "daily analysis limit reached for this device"
			if reason == ratelimit.ReasonBurst {
				msg = "too many requests, slow down"
			}
			c.JSON(http.StatusTooManyRequests, gin.H{"error": msg})
			return
		}

		result, err := deps.Transport.Analyze(c.Request.Context(), payload)
		if err != nil {
			classified := analysis.AsError(err)
			if classified.Kind == analysis.KindNotFood {
				deps.Metrics.AnalysisRequests.WithLabelValues(metrics.OutcomeNotFood).Inc()
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   classified.Message,
					"notFood": true,
				})
				return
			}

			deps.Dedup.Forget(digest)
			deps.Metrics.AnalysisRequests.WithLabelValues(metrics.OutcomeUpstreamErr).Inc()
			deps.Metrics.UpstreamFailures.WithLabelValues(string(classified.Kind)).Inc()
			deps.Logger.Error("upstream analysis failed",
				"device_id", req.DeviceID,
				"kind", string(classified.Kind),
				"error", classified)

			if classified.Kind == analysis.KindInvalidRequest {
				c.JSON(http.StatusBadRequest, gin.H{"error": classified.Message})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis failed"})
			return
		}

		deps.Metrics.AnalysisRequests.WithLabelValues(metrics.OutcomeAnalyzed).Inc()
		c.JSON(http.StatusOK, result)
	}
}
