// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// Kind is the closed taxonomy of classified failures.
type Kind string

const (
	KindNetworkError       Kind = "NETWORK_ERROR"
	KindQuotaExceeded      Kind = "QUOTA_EXCEEDED"
	KindAuthentication     Kind = "AUTHENTICATION_ERROR"
	KindInvalidRequest     Kind = "INVALID_REQUEST"
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	KindInvalidResponse    Kind = "INVALID_RESPONSE"
	KindUnknown            Kind = "UNKNOWN_ERROR"

	// KindNotFood is the tier-1 negative: a valid classification, not a
	// transport error. It never trips the circuit breaker and is never
	// retried.
	KindNotFood Kind = "NOT_FOOD"
)

// Error is a classified failure carrying a retryability flag and a safe
// user-facing message. Raw provider text never crosses this boundary.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the raw cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// UserMessage returns the message that may be shown to an end user.
func (e *Error) UserMessage() string { return e.Message }

// SuggestedAction returns a short instruction the UI can show next to the
// error message.
func (e *Error) SuggestedAction() string {
	switch e.Kind {
	case KindNetworkError:
		return "Check your internet connection and try again."
	case KindQuotaExceeded:
		return "You can enter meal details manually or wait until tomorrow."
	case KindAuthentication:
		return "Please update the app or contact support."
	case KindInvalidRequest:
		return "Take a clearer photo with better lighting."
	case KindServiceUnavailable:
		return "Wait a moment and try again."
	case KindNotFood:
		return "Point the camera at a meal and try again."
	default:
		return "Try again or use manual entry."
	}
}

// newError builds a classified error around a raw cause.
func newError(kind Kind, message string, retryable bool, cause error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryable, cause: cause}
}

// NotFoodError builds the domain-specific tier-1 rejection.
func NotFoodError() *Error {
	return newError(KindNotFood,
		"That doesn't look like food. Try a photo of a meal.", false, nil)
}

// =============================================================================
// Classifier
// =============================================================================

// Classify maps an arbitrary raw failure into the closed taxonomy.
//
// Patterns are evaluated in a fixed order and the first match wins:
//
//  1. network / timeout / connection failures  -> NETWORK_ERROR (retryable)
//  2. quota / rate limit / HTTP 429            -> QUOTA_EXCEEDED
//  3. auth / API key / HTTP 401, 403           -> AUTHENTICATION_ERROR
//  4. invalid request / HTTP 400               -> INVALID_REQUEST
//  5. service unavailable / HTTP 5xx           -> SERVICE_UNAVAILABLE (retryable)
//  6. JSON parse / malformed response          -> INVALID_RESPONSE (retryable once)
//  7. anything else                            -> UNKNOWN_ERROR (retryable once)
//
// An error that is already classified passes through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var already *Error
	if errors.As(err, &already) {
		return already
	}

	status := statusCode(err)
	msg := strings.ToLower(err.Error())

	// 1. Network failures. Typed checks first, then message heuristics.
	if isNetworkError(err) ||
		containsAny(msg, "network", "connection refused", "no such host",
			"timeout", "timed out", "fetch failed") {
		return newError(KindNetworkError,
			"Network connection issue. Please check your internet connection.",
			true, err)
	}

	// 2. Quota and rate limits.
	if status == 429 || containsAny(msg, "quota", "rate limit", "429") {
		return newError(KindQuotaExceeded,
			"Daily analysis limit reached. Please try again tomorrow.",
			false, err)
	}

	// 3. Authentication and configuration.
	if status == 401 || status == 403 ||
		containsAny(msg, "api key", "authentication", "unauthorized", "forbidden") {
		return newError(KindAuthentication,
			"Service configuration error. Please contact support.",
			false, err)
	}

	// 4. Invalid requests. 413 is the relay's payload-size cap.
	if status == 400 || status == 413 ||
		containsAny(msg, "invalid request", "bad request", "too large") {
		return newError(KindInvalidRequest,
			"Could not process image. Please try a clearer photo.",
			false, err)
	}

	// 5. Upstream outages.
	if status == 503 || status >= 500 ||
		containsAny(msg, "service unavailable", "overloaded", "503") {
		return newError(KindServiceUnavailable,
			"AI service temporarily unavailable. Please try again in a moment.",
			true, err)
	}

	// 6. Malformed responses.
	if isParseError(err) || containsAny(msg, "json", "parse", "unexpected end") {
		return newError(KindInvalidResponse,
			"Received an invalid response from the AI service.",
			true, err)
	}

	// 7. Fallback.
	return newError(KindUnknown,
		"An unexpected error occurred. Please try again.",
		true, err)
}

// AsError returns err classified, reusing an existing classification when
// one is present in the chain.
func AsError(err error) *Error {
	return Classify(err)
}

// statusCode extracts an HTTP status from known error shapes, 0 if none.
func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var relayErr *RelayStatusError
	if errors.As(err, &relayErr) {
		return relayErr.Status
	}
	return 0
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func isParseError(err error) bool {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
