// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
)

// attemptTimeout is the fixed upper bound on a single network attempt.
// Expiry surfaces as NETWORK_ERROR rather than hanging the pipeline.
const attemptTimeout = 30 * time.Second

// Transport performs the network round trip(s) that turn a payload into a
// Result. Implementations return a tier-1 rejection as a NOT_FOOD *Error.
type Transport interface {
	Analyze(ctx context.Context, payload Payload) (*Result, error)
}

// =============================================================================
// Provider Client (direct upstream calls)
// =============================================================================

// ProviderConfig configures the direct vision-model transport.
type ProviderConfig struct {
	// APIKey authenticates against the provider. Required.
	APIKey string

	// BaseURL points at an OpenAI-compatible chat completions endpoint.
	// Default: the Gemini compatibility endpoint.
	BaseURL string

	// Tier1Models is the ordered fallback chain for the cheap "is this
	// food?" pre-filter. The first model that answers wins.
	Tier1Models []string

	// Tier2Models is the ordered fallback chain for the detailed analysis.
	Tier2Models []string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Logger receives per-attempt diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultTier1Models is the default pre-filter chain: cheapest first.
func DefaultTier1Models() []string {
	return []string{"gemini-flash-lite-latest", "gemini-2.0-flash-lite"}
}

// DefaultTier2Models is the default detailed-analysis chain.
func DefaultTier2Models() []string {
	return []string{"gemini-flash-latest", "gemini-2.0-flash", "gemini-pro"}
}

const defaultProviderBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// ProviderClient is the low-level transport against the vision-model
// provider. It implements the two-tier protocol: a minimal-cost "is this
// food?" classification gating the expensive detailed analysis.
//
// Model selection walks a static, ordered fallback chain per tier; this is
// configuration data, not health-based routing. If every candidate fails,
// the tier fails with the last provider error.
type ProviderClient struct {
	client *openai.Client
	logger *slog.Logger

	mu          sync.RWMutex
	tier1Models []string
	tier2Models []string
}

// NewProviderClient builds a direct transport from cfg.
//
// A missing API key is a configuration problem, reported as an
// AUTHENTICATION_ERROR so it is never retried.
func NewProviderClient(cfg ProviderConfig) (*ProviderClient, error) {
	if cfg.APIKey == "" {
		return nil, newError(KindAuthentication,
			"AI service is not configured. Please update the app.", false,
			errors.New("missing provider API key"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultProviderBaseURL
	}
	if len(cfg.Tier1Models) == 0 {
		cfg.Tier1Models = DefaultTier1Models()
	}
	if len(cfg.Tier2Models) == 0 {
		cfg.Tier2Models = DefaultTier2Models()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &ProviderClient{
		client:      openai.NewClientWithConfig(clientCfg),
		logger:      cfg.Logger,
		tier1Models: cfg.Tier1Models,
		tier2Models: cfg.Tier2Models,
	}, nil
}

// UpdateModelChains swaps the fallback chains. Called by the config
// watcher on hot reload; empty chains are ignored.
func (p *ProviderClient) UpdateModelChains(tier1, tier2 []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(tier1) > 0 {
		p.tier1Models = append([]string(nil), tier1...)
	}
	if len(tier2) > 0 {
		p.tier2Models = append([]string(nil), tier2...)
	}
}

// Analyze runs the two-tier protocol against the provider.
func (p *ProviderClient) Analyze(ctx context.Context, payload Payload) (*Result, error) {
	p.mu.RLock()
	tier1 := p.tier1Models
	tier2 := p.tier2Models
	p.mu.RUnlock()

	text, err := p.generate(ctx, tier1, tierOnePrompt, payload)
	if err != nil {
		return nil, err
	}
	pre, err := parseTierOne(text)
	if err != nil {
		return nil, err
	}
	if !pre.IsFood {
		p.logger.Info("tier-1 rejected image", "confidence", string(pre.Confidence))
		return nil, NotFoodError()
	}

	text, err = p.generate(ctx, tier2, tierTwoPrompt, payload)
	if err != nil {
		return nil, err
	}
	return parseResult(text)
}

// generate tries each model in order and returns the first successful
// completion's text.
func (p *ProviderClient) generate(ctx context.Context, models []string, prompt string, payload Payload) (string, error) {
	var lastErr error
	for _, model := range models {
		text, err := p.complete(ctx, model, prompt, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		p.logger.Warn("model attempt failed, trying next in chain",
			"model", model, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no models configured")
	}
	return "", lastErr
}

// complete issues one chat completion with the inline image attached.
func (p *ProviderClient) complete(ctx context.Context, model, prompt string, payload Payload) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: fmt.Sprintf("data:%s;base64,%s", payload.MIME, payload.Base64),
						},
					},
				},
			},
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("completion with %s: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model %s returned no choices", model)
	}
	return resp.Choices[0].Message.Content, nil
}

// =============================================================================
// Relay Client (calls through the server-side mirror)
// =============================================================================

// RelayStatusError carries an HTTP status from the relay so the classifier
// can map it without string matching.
type RelayStatusError struct {
	Status  int
	Message string
}

func (e *RelayStatusError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.Status, e.Message)
}

// RelayConfig configures the relay transport.
type RelayConfig struct {
	// BaseURL is the relay service root, e.g. "https://api.aperioesca.app".
	BaseURL string

	// AuthToken is sent as a bearer token.
	AuthToken string

	// DeviceID identifies this install for server-side rate limiting.
	DeviceID string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// RelayClient sends payloads to the authenticated relay instead of calling
// the provider directly. The relay re-implements rate limiting, request
// deduplication, and the tiered calls server-side; its rejections are
// mapped into the same error taxonomy the direct path produces.
type RelayClient struct {
	baseURL  string
	token    string
	deviceID string
	http     *http.Client
}

// relayRequest is the wire body for POST /v1/analyze.
type relayRequest struct {
	ImageBase64 string `json:"imageBase64"`
	DeviceID    string `json:"deviceId"`
}

// relayErrorBody is the relay's error envelope.
type relayErrorBody struct {
	Error   string `json:"error"`
	NotFood bool   `json:"notFood"`
}

// NewRelayClient builds a relay transport.
func NewRelayClient(cfg RelayConfig) (*RelayClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("relay base URL is required")
	}
	if cfg.AuthToken == "" {
		return nil, newError(KindAuthentication,
			"AI service is not configured. Please update the app.", false,
			errors.New("missing relay auth token"))
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: attemptTimeout}
	}
	return &RelayClient{
		baseURL:  cfg.BaseURL,
		token:    cfg.AuthToken,
		deviceID: cfg.DeviceID,
		http:     httpClient,
	}, nil
}

// Analyze posts the payload to the relay and maps the response.
func (r *RelayClient) Analyze(ctx context.Context, payload Payload) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	body, err := json.Marshal(relayRequest{
		ImageBase64: payload.Base64,
		DeviceID:    r.deviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.token)

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read relay response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, r.mapFailure(resp.StatusCode, raw)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse relay JSON: %w", err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("relay JSON out of contract: %w", err)
	}
	return &result, nil
}

// mapFailure converts a relay status into a classified error.
//
// A relay 429 means the server-side device limit or the duplicate-image
// window fired; for user messaging it is the same condition as local quota
// exhaustion.
func (r *RelayClient) mapFailure(status int, raw []byte) error {
	var body relayErrorBody
	_ = json.Unmarshal(raw, &body) // best effort; body may not be JSON

	if status == http.StatusBadRequest && body.NotFood {
		return NotFoodError()
	}
	return Classify(&RelayStatusError{Status: status, Message: body.Error})
}

var _ Transport = (*ProviderClient)(nil)
var _ Transport = (*RelayClient)(nil)
