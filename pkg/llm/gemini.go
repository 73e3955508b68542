package llm

import (
	"context"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements the Provider interface against Google's
// Gemini API, grounded on pkg/index/llm.go's genai.Client usage.
type GeminiProvider struct {
	client   *genai.Client
	models   []string
	thinking string
}

// NewGeminiProvider creates a Gemini provider. It returns nil if apiKey
// is empty so the gateway can skip this link in the fallback chain
// without a round-trip error, matching pkg/index/llm.go's
// graceful-degradation behavior.
func NewGeminiProvider(apiKey string) *GeminiProvider {
	if apiKey == "" {
		return nil
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil
	}

	return &GeminiProvider{
		client:   client,
		thinking: "NORMAL",
		models: []string{
			"gemini-3-flash-preview",
			"gemini-2.5-flash",
			"gemini-2.5-pro",
		},
	}
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Models returns available model identifiers.
func (p *GeminiProvider) Models() []string {
	return p.models
}

func thinkingLevel(level string) genai.ThinkingLevel {
	switch strings.ToUpper(level) {
	case "NONE":
		return genai.ThinkingLevelMinimal
	case "LOW":
		return genai.ThinkingLevelLow
	case "HIGH":
		return genai.ThinkingLevelHigh
	default:
		return genai.ThinkingLevelMedium
	}
}

func requestModel(models []string, want string) string {
	if want == "" {
		return models[0]
	}
	return want
}

// Complete generates a completion.
func (p *GeminiProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	model := requestModel(p.models, req.Model)

	var contents []*genai.Content
	for _, m := range req.Messages {
		if m.Role == "system" {
			continue
		}
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	cfg := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{ThinkingLevel: thinkingLevel(p.thinking)},
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}

	result, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, p.classifyError(err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return nil, &ProviderError{Provider: "gemini", Code: "empty_response", Message: "no candidates in response"}
	}

	var text string
	if result.Candidates[0].Content != nil {
		for _, part := range result.Candidates[0].Content.Parts {
			if part != nil {
				text += part.Text
			}
		}
	}
	if text == "" {
		return nil, &ProviderError{Provider: "gemini", Code: "empty_response", Message: "no text in response"}
	}

	usage := TokenUsage{}
	if result.UsageMetadata != nil {
		usage = TokenUsage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(result.UsageMetadata.TotalTokenCount),
		}
	}

	return &CompletionResponse{
		Model:        model,
		Content:      text,
		FinishReason: "stop",
		Usage:        usage,
	}, nil
}

// Stream generates a streaming completion. Gemini's streaming surface
// is not required by any workflow stage today; it is implemented as a
// single-chunk stream over Complete to satisfy the Provider interface.
func (p *GeminiProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	go func() {
		defer close(ch)
		resp, err := p.Complete(ctx, req)
		if err != nil {
			ch <- StreamChunk{Done: true, Error: err}
			return
		}
		ch <- StreamChunk{Content: resp.Content}
		usage := resp.Usage
		ch <- StreamChunk{Done: true, Usage: &usage}
	}()
	return ch, nil
}

// CountTokens estimates token count for content using the same
// characters-per-token heuristic as the Anthropic provider, since
// genai's CountTokens call would cost an extra round trip for an
// estimate this package only uses for excerpt budgeting.
func (p *GeminiProvider) CountTokens(content string) (int, error) {
	return len(content) / 4, nil
}

func (p *GeminiProvider) classifyError(err error) error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	code := "api_error"
	switch {
	case strings.Contains(lower, "quota") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "429"):
		code = "rate_limit"
	case strings.Contains(lower, "unauthenticated") || strings.Contains(lower, "api key") || strings.Contains(lower, "401"):
		code = "authentication_error"
	case strings.Contains(lower, "deadline") || strings.Contains(lower, "context deadline") || strings.Contains(lower, "timeout"):
		code = "timeout"
	}
	return &ProviderError{Provider: "gemini", Code: code, Message: msg, Err: err}
}

// IsConfigured reports whether the provider has a live client.
func (p *GeminiProvider) IsConfigured() bool {
	return p != nil && p.client != nil
}
