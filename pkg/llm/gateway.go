package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

// ProviderErrorKind classifies a gateway-level failure so callers can
// dispatch on a sentinel type rather than on message content.
type ProviderErrorKind int

const (
	KindTransient ProviderErrorKind = iota
	KindQuota
	KindShape
	KindFatal
)

// QuotaExhausted is returned when every model in the fallback chain has
// exhausted its attempts against quota.
type QuotaExhausted struct {
	Models []string
}

func (e *QuotaExhausted) Error() string {
	return fmt.Sprintf("llm: quota exhausted across models %v", e.Models)
}

// APIError is returned for any other terminal condition reached after
// the fallback chain is exhausted.
type APIError struct {
	Model string
	Err   error
}

func (e *APIError) Error() string { return fmt.Sprintf("llm: %s: %v", e.Model, e.Err) }
func (e *APIError) Unwrap() error { return e.Err }

// ShapeError is surfaced when a structured response fails its declared
// shape twice: the original attempt and the one corrective retry.
type ShapeError struct {
	Model  string
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("llm: response shape mismatch from %s: %s", e.Model, e.Reason)
}

// classify maps a provider error to its kind by sentinel type and
// provider error code, never by matching message substrings against
// prose the provider could change at any time.
func classify(err error) ProviderErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "rate_limit", "rate_limit_exceeded", "quota", "resource_exhausted":
			return KindQuota
		case "authentication_error", "invalid_api_key":
			return KindFatal
		case "timeout":
			return KindTransient
		}
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindTransient
}

// GatewayConfig bounds the fallback chain's retry behavior (spec.md §4.6).
type GatewayConfig struct {
	// FallbackChain is the ordered list of model identifiers to try.
	FallbackChain []string

	// Attempts is the per-model bounded attempt count (K).
	Attempts int

	// MinWait and MaxWait bound the uniform wait between transient
	// retries of the same model.
	MinWait time.Duration
	MaxWait time.Duration

	// CallDeadline bounds a single attempt; expiry is a transient failure.
	CallDeadline time.Duration

	// RateLimitPerHour feeds the shared token-bucket limiter.
	RateLimitPerHour int
}

// DefaultGatewayConfig returns the gateway's own defaults. The service
// overrides each of them with internal/config's values when those are
// set, and internal/config's defaults differ (500ms-4s retry waits, 45s
// call deadline).
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Attempts:         3,
		MinWait:          2 * time.Second,
		MaxWait:          8 * time.Second,
		CallDeadline:     60 * time.Second,
		RateLimitPerHour: 600,
	}
}

// Gateway is the single call surface through which the rest of the
// system talks to model providers (spec.md §4.6). It owns the model
// fallback chain, per-model bounded retry, response-shape validation,
// and the rate limiter shared across every call.
type Gateway struct {
	providers map[string]Provider // model id -> provider that serves it
	chain     []string
	cfg       GatewayConfig
	limiter   *RateLimiter
	calls     int64 // count of completed generation calls, for token_budget.gen_calls
}

// NewGateway builds a gateway over a set of providers, keyed by model
// identifier, for the ordered fallback chain in cfg.
func NewGateway(cfg GatewayConfig, modelProviders map[string]Provider) *Gateway {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Gateway{
		providers: modelProviders,
		chain:     cfg.FallbackChain,
		cfg:       cfg,
		limiter:   NewRateLimiter(cfg.RateLimitPerHour),
	}
}

// Calls reports the number of completed generation calls issued through
// this gateway, the source of the persisted token_budget.gen_calls
// figure (spec.md §6).
func (g *Gateway) Calls() int64 {
	return atomic.LoadInt64(&g.calls)
}

// GenerateMarkdown produces an unstructured markdown response (the
// narrative operation, spec.md §4.7).
func (g *Gateway) GenerateMarkdown(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.call(ctx, system, prompt)
	if err != nil {
		return "", err
	}
	return resp, nil
}

// GenerateStructured produces a response matching a declared JSON
// shape, validating it and issuing one corrective retry on mismatch
// before surfacing ShapeError (spec.md §4.6).
func (g *Gateway) GenerateStructured(ctx context.Context, system, prompt string, schema map[string]any, out any) error {
	shapedPrompt := appendShapeInstruction(prompt, schema)

	raw, model, err := g.callWithModel(ctx, system, shapedPrompt)
	if err != nil {
		return err
	}

	if verr := unmarshalJSONBlock(raw, out); verr == nil {
		return nil
	}

	repairPrompt := shapeRepairPrompt(prompt, schema, raw)
	raw2, _, err := g.callWithModel(ctx, system, repairPrompt)
	if err != nil {
		return err
	}
	if verr := unmarshalJSONBlock(raw2, out); verr != nil {
		return &ShapeError{Model: model, Reason: verr.Error()}
	}
	return nil
}

// GenerateMermaid produces a single Mermaid flowchart body, extracting
// a fenced code block if present and otherwise treating the whole
// response as the diagram (spec.md §4.7).
func (g *Gateway) GenerateMermaid(ctx context.Context, system, prompt string) (string, error) {
	raw, err := g.call(ctx, system, prompt)
	if err != nil {
		return "", err
	}
	return extractMermaidBlock(raw), nil
}

var mermaidFenceRe = regexp.MustCompile("(?s)```(?:mermaid)?\\s*\\n(.*?)\\n```")

func extractMermaidBlock(raw string) string {
	if m := mermaidFenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

func appendShapeInstruction(prompt string, schema map[string]any) string {
	schemaJSON, _ := json.MarshalIndent(schema, "", "  ")
	return fmt.Sprintf("%s\n\nRespond with a single JSON object matching this shape, and nothing else:\n%s", prompt, schemaJSON)
}

func shapeRepairPrompt(prompt string, schema map[string]any, priorResponse string) string {
	schemaJSON, _ := json.MarshalIndent(schema, "", "  ")
	return fmt.Sprintf("Your previous response did not match the required JSON shape.\n\nRequired shape:\n%s\n\nYour previous response:\n%s\n\nOriginal request:\n%s\n\nRespond again with only a single JSON object matching the required shape.", schemaJSON, priorResponse, prompt)
}

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

func unmarshalJSONBlock(raw string, out any) error {
	candidate := strings.TrimSpace(raw)
	if m := jsonFenceRe.FindStringSubmatch(raw); m != nil {
		candidate = strings.TrimSpace(m[1])
	}
	return json.Unmarshal([]byte(candidate), out)
}

// call runs the fallback chain and returns only the text, for callers
// that don't need to know which model answered.
func (g *Gateway) call(ctx context.Context, system, prompt string) (string, error) {
	text, _, err := g.callWithModel(ctx, system, prompt)
	return text, err
}

// callWithModel implements the model fallback chain described in
// spec.md §4.6: for each model in order, up to Attempts tries; a
// transient failure waits uniformly between MinWait and MaxWait before
// retrying the same model; a quota failure moves immediately to the
// next model; any other API error is treated as transient. The call
// only fails with QuotaExhausted when every model in the chain has
// exhausted its attempts against quota, and with APIError for any
// other terminal condition.
func (g *Gateway) callWithModel(ctx context.Context, system, prompt string) (string, string, error) {
	if len(g.chain) == 0 {
		return "", "", &APIError{Model: "", Err: errors.New("no models configured in fallback chain")}
	}

	quotaExhaustedModels := make([]string, 0, len(g.chain))
	var lastErr error
	var lastModel string

	for _, model := range g.chain {
		provider, ok := g.providers[model]
		if !ok || !configured(provider) {
			continue
		}

		exhaustedOnQuota := false

		for attempt := 0; attempt < g.cfg.Attempts; attempt++ {
			if err := g.limiter.Wait(ctx); err != nil {
				return "", "", &APIError{Model: model, Err: err}
			}

			callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallDeadline)
			resp, err := provider.Complete(callCtx, &CompletionRequest{
				Model:    model,
				System:   system,
				Messages: []Message{UserMessage(prompt)},
			})
			cancel()

			if err == nil {
				atomic.AddInt64(&g.calls, 1)
				return resp.Content, model, nil
			}

			lastErr, lastModel = err, model

			kind := classify(err)
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				kind = KindTransient
			}

			switch kind {
			case KindQuota:
				exhaustedOnQuota = true
				attempt = g.cfg.Attempts // stop retrying this model, move on
			default: // transient, including unrecognized API errors
				if attempt < g.cfg.Attempts-1 {
					select {
					case <-ctx.Done():
						return "", "", &APIError{Model: model, Err: ctx.Err()}
					case <-time.After(uniformWait(g.cfg.MinWait, g.cfg.MaxWait)):
					}
				}
			}
		}

		if exhaustedOnQuota {
			quotaExhaustedModels = append(quotaExhaustedModels, model)
		}
	}

	if len(quotaExhaustedModels) == len(usableModels(g.chain, g.providers)) && len(quotaExhaustedModels) > 0 {
		return "", "", &QuotaExhausted{Models: quotaExhaustedModels}
	}
	if lastErr != nil {
		return "", "", &APIError{Model: lastModel, Err: lastErr}
	}
	return "", "", &APIError{Model: "", Err: errors.New("no usable model in fallback chain")}
}

func usableModels(chain []string, providers map[string]Provider) []string {
	out := make([]string, 0, len(chain))
	for _, m := range chain {
		if p, ok := providers[m]; ok && configured(p) {
			out = append(out, m)
		}
	}
	return out
}

// configured reports whether p can serve calls. A nil provider is not, and
// neither is one whose IsConfigured method reports false, such as a nil
// *GeminiProvider held in a non-nil Provider interface value.
func configured(p Provider) bool {
	if p == nil {
		return false
	}
	c, ok := p.(interface{ IsConfigured() bool })
	return !ok || c.IsConfigured()
}

func uniformWait(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64(max - min)
	return min + time.Duration(rand.Int63n(span))
}
