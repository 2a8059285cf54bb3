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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completionText wraps text in a minimal chat completion response body.
func completionText(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: text}},
		},
	}
}

const tier1Yes = `{"isFood": true, "confidence": "high"}`
const tier1No = `{"isFood": false, "confidence": "high"}`

const tier2OK = `{
	"mealType": "lunch",
	"energyBand": "light",
	"confidence": "medium",
	"reasoning": "Mostly vegetables and lean protein.",
	"flags": {"mixedPlate": false, "unclearPortions": false, "sharedDish": false},
	"insight": "Good protein balance."
}`

// fakeProvider scripts per-model responses for the OpenAI-compatible
// chat completions endpoint.
type fakeProvider struct {
	t *testing.T

	// respond maps model name to a handler result. A missing model
	// answers 500.
	respond map[string]func() (int, any)

	models []string // models seen, in call order
}

func (f *fakeProvider) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.models = append(f.models, req.Model)

		fn, ok := f.respond[req.Model]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		status, body := fn()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		require.NoError(f.t, json.NewEncoder(w).Encode(body))
	}
}

func newTestProvider(t *testing.T, fake *fakeProvider, tier1, tier2 []string) *ProviderClient {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client, err := NewProviderClient(ProviderConfig{
		APIKey:      "test-key",
		BaseURL:     server.URL,
		Tier1Models: tier1,
		Tier2Models: tier2,
	})
	require.NoError(t, err)
	return client
}

func TestProviderClient_RequiresAPIKey(t *testing.T) {
	_, err := NewProviderClient(ProviderConfig{})
	classified := AsError(err)
	assert.Equal(t, KindAuthentication, classified.Kind)
	assert.False(t, classified.Retryable)
}

func TestProviderClient_TwoTierSuccess(t *testing.T) {
	fake := &fakeProvider{t: t, respond: map[string]func() (int, any){
		"lite": func() (int, any) { return 200, completionText(tier1Yes) },
		"full": func() (int, any) { return 200, completionText(tier2OK) },
	}}
	client := newTestProvider(t, fake, []string{"lite"}, []string{"full"})

	result, err := client.Analyze(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, MealLunch, result.MealType)
	assert.Equal(t, EnergyLight, result.EnergyBand)

	// Tier 1 before tier 2, one call each.
	assert.Equal(t, []string{"lite", "full"}, fake.models)
}

func TestProviderClient_NotFoodSkipsTierTwo(t *testing.T) {
	fake := &fakeProvider{t: t, respond: map[string]func() (int, any){
		"lite": func() (int, any) { return 200, completionText(tier1No) },
	}}
	client := newTestProvider(t, fake, []string{"lite"}, []string{"full"})

	_, err := client.Analyze(context.Background(), testPayload())
	classified := AsError(err)
	assert.Equal(t, KindNotFood, classified.Kind)

	// The expensive tier was never dispatched.
	assert.Equal(t, []string{"lite"}, fake.models)
}

func TestProviderClient_FallbackChain(t *testing.T) {
	fake := &fakeProvider{t: t, respond: map[string]func() (int, any){
		// "primary" missing -> 500; "backup" answers.
		"backup": func() (int, any) { return 200, completionText(tier1Yes) },
		"full":   func() (int, any) { return 200, completionText(tier2OK) },
	}}
	client := newTestProvider(t, fake, []string{"primary", "backup"}, []string{"full"})

	result, err := client.Analyze(context.Background(), testPayload())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []string{"primary", "backup", "full"}, fake.models)
}

func TestProviderClient_AllModelsFail(t *testing.T) {
	fake := &fakeProvider{t: t, respond: map[string]func() (int, any){}}
	client := newTestProvider(t, fake, []string{"a", "b"}, []string{"full"})

	_, err := client.Analyze(context.Background(), testPayload())
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, fake.models)
}

func TestProviderClient_UpdateModelChains(t *testing.T) {
	fake := &fakeProvider{t: t, respond: map[string]func() (int, any){
		"new-lite": func() (int, any) { return 200, completionText(tier1Yes) },
		"new-full": func() (int, any) { return 200, completionText(tier2OK) },
	}}
	client := newTestProvider(t, fake, []string{"old-lite"}, []string{"old-full"})

	client.UpdateModelChains([]string{"new-lite"}, []string{"new-full"})

	_, err := client.Analyze(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, []string{"new-lite", "new-full"}, fake.models)
}

// =============================================================================
// Relay Client
// =============================================================================

func newTestRelay(t *testing.T, handler http.HandlerFunc) *RelayClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewRelayClient(RelayConfig{
		BaseURL:   server.URL,
		AuthToken: "app-token",
		DeviceID:  "device-1",
	})
	require.NoError(t, err)
	return client
}

func TestRelayClient_Success(t *testing.T) {
	client := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/analyze", r.URL.Path)
		assert.Equal(t, "Bearer app-token", r.Header.Get("Authorization"))

		var req struct {
			ImageBase64 string `json:"imageBase64"`
			DeviceID    string `json:"deviceId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "device-1", req.DeviceID)
		assert.NotEmpty(t, req.ImageBase64)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tier2OK))
	})

	result, err := client.Analyze(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, MealLunch, result.MealType)
}

func TestRelayClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind Kind
	}{
		{"not food", 400, `{"error": "not food", "notFood": true}`, KindNotFood},
		{"bad image", 400, `{"error": "only JPEG and PNG images are supported"}`, KindInvalidRequest},
		{"unauthorized", 401, `{"error": "unauthorized"}`, KindAuthentication},
		{"too large", 413, `{"error": "image exceeds the 5 MB limit"}`, KindInvalidRequest},
		{"device limit", 429, `{"error": "daily analysis limit reached for this device"}`, KindQuotaExceeded},
		{"upstream down", 500, `{"error": "analysis failed"}`, KindServiceUnavailable},
		{"non-JSON body", 502, `bad gateway`, KindServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.Analyze(context.Background(), testPayload())
			classified := AsError(err)
			assert.Equal(t, tt.wantKind, classified.Kind)
		})
	}
}

func TestRelayClient_RejectsOutOfContractBody(t *testing.T) {
	client := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"mealType": "brunch", "energyBand": "light", "confidence": "high"}`))
	})

	_, err := client.Analyze(context.Background(), testPayload())
	classified := AsError(err)
	assert.Equal(t, KindInvalidResponse, classified.Kind)
}
