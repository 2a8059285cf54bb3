// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aperioesca/aperioesca/services/relay/ratelimit"
)

// HandleQuota returns the handler for GET /v1/quota/:deviceId.
//
// Reports the device's standing against the authoritative daily limit so
// the client can reconcile its local advisory counter. Reading never
// consumes allowance.
func HandleQuota(limiter *ratelimit.DeviceLimiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Param("deviceId")
		if deviceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId is required"})
			return
		}
		usage, err := limiter.Usage(deviceID)
		if err != nil {
			logger.Error("usage lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "usage lookup failed"})
			return
		}
		c.JSON(http.StatusOK, usage)
	}
}
