// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analysis implements the AI analysis resilience layer: the quota
// manager, circuit breaker, error classifier, transport clients, and the
// orchestrator that coordinates them.
//
// The package sits between a consumer (CLI, relay handler) and the upstream
// vision-language model provider. Its job is to turn a photo into a
// structured meal classification while protecting a scarce, rate-limited
// upstream from abuse, transient failure, and wasted spend.
//
// # Data Flow
//
//	photo ──► Orchestrator ──► gates (circuit, quota) ──► Transport
//	                │                                        │
//	                ◄── Result or classified *Error ◄────────┘
//
// All components are explicitly constructed and dependency-injected; there
// are no package-level singletons. Persistence handles are owned by the
// components that use them.
package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// =============================================================================
// Meal Classification
// =============================================================================

// MealType is the coarse meal slot a photo belongs to.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

// EnergyBand is a five-level classification of a meal's caloric density,
// used instead of precise calorie counts.
type EnergyBand string

const (
	EnergyVeryLight EnergyBand = "very_light" // < 300 kcal
	EnergyLight     EnergyBand = "light"      // 300-500 kcal
	EnergyModerate  EnergyBand = "moderate"   // 500-800 kcal
	EnergyHeavy     EnergyBand = "heavy"      // 800-1200 kcal
	EnergyVeryHeavy EnergyBand = "very_heavy" // > 1200 kcal
)

// Confidence reflects how certain the model was about its classification.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Flags qualify the analysis when the photo is ambiguous.
type Flags struct {
	// MixedPlate is set when the plate contains several distinct dishes.
	MixedPlate bool `json:"mixedPlate"`

	// UnclearPortions is set when portion sizes cannot be judged reliably.
	UnclearPortions bool `json:"unclearPortions"`

	// SharedDish is set when the photo likely shows food for more than
	// one person.
	SharedDish bool `json:"sharedDish"`
}

// Result is the validated outcome of a successful analysis call.
//
// A Result is produced once per successful call and is immutable thereafter.
// The meals store freezes it into a stored entry.
type Result struct {
	MealType   MealType   `json:"mealType"`
	EnergyBand EnergyBand `json:"energyBand"`
	Confidence Confidence `json:"confidence"`

	// Reasoning is a short free-text explanation of the classification.
	Reasoning string `json:"reasoning"`

	Flags Flags `json:"flags"`

	// Insight is one observation about the macro balance of the meal.
	Insight string `json:"insight"`
}

// Validate checks that all enum fields carry known values.
//
// The provider is instructed to return strict JSON, but model output is not
// trusted: anything outside the closed enums is rejected as an invalid
// response before it can reach a consumer.
func (r *Result) Validate() error {
	switch r.MealType {
	case MealBreakfast, MealLunch, MealDinner, MealSnack:
	default:
		return fmt.Errorf("unknown mealType %q", r.MealType)
	}
	switch r.EnergyBand {
	case EnergyVeryLight, EnergyLight, EnergyModerate, EnergyHeavy, EnergyVeryHeavy:
	default:
		return fmt.Errorf("unknown energyBand %q", r.EnergyBand)
	}
	switch r.Confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
	default:
		return fmt.Errorf("unknown confidence %q", r.Confidence)
	}
	return nil
}

// TierOneResult is the outcome of the cheap "is this food?" pre-filter.
type TierOneResult struct {
	IsFood     bool       `json:"isFood"`
	Confidence Confidence `json:"confidence"`
}

// =============================================================================
// Transport Payload
// =============================================================================

// MaxImageBase64Bytes caps the encoded image size accepted by both the
// client pipeline and the relay (HTTP 413 beyond this).
const MaxImageBase64Bytes = 5 * 1024 * 1024

// Payload is the transport-ready form of a photo.
type Payload struct {
	// Base64 is the base64-encoded image bytes (no data-URI prefix).
	Base64 string

	// MIME is the image media type, e.g. "image/jpeg".
	MIME string
}

// Hash returns a stable content hash of the payload.
//
// Used as the single-flight key on the client and as the deduplication key
// on the relay.
func (p Payload) Hash() string {
	sum := sha256.Sum256([]byte(p.Base64))
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// Persisted State Snapshots
// =============================================================================

// QuotaInfo is a read-only snapshot of the daily quota state.
//
// Invariants: Used + Remaining == DailyLimit after every reset, and
// RetryBudgetUsed <= RetryBudget.
type QuotaInfo struct {
	DailyLimit      int       `json:"dailyLimit"`
	Used            int       `json:"used"`
	Remaining       int       `json:"remaining"`
	RetryBudget     int       `json:"retryBudget"`
	RetryBudgetUsed int       `json:"retryBudgetUsed"`
	ResetAt         time.Time `json:"resetAt"`
}

// CircuitState names the three circuit breaker states.
type CircuitState string

const (
	// CircuitClosed is normal operation: requests flow through.
	CircuitClosed CircuitState = "CLOSED"

	// CircuitOpen means the circuit tripped and requests are rejected.
	CircuitOpen CircuitState = "OPEN"

	// CircuitHalfOpen means the breaker is probing for recovery.
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitSnapshot is the persisted circuit breaker record.
type CircuitSnapshot struct {
	State           CircuitState `json:"state"`
	FailureCount    int          `json:"failureCount"`
	SuccessCount    int          `json:"successCount"`
	LastFailureTime *time.Time   `json:"lastFailureTime"`
	NextRetryTime   *time.Time   `json:"nextRetryTime"`
}
