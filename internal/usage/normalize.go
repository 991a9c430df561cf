// Package usage converts raw provider responses into a single canonical
// token-usage record. Every provider reports different key names; the output
// shape is the same for all of them.
package usage

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
)

type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
	ProviderQwen      Provider = "qwen"
	ProviderKimi      Provider = "kimi"
	ProviderUnknown   Provider = "unknown"
)

// Normalized is the canonical usage record produced per completed call.
// All token counts are non-negative; fields a provider does not report are 0.
type Normalized struct {
	InputTokens     int64
	OutputTokens    int64
	ThinkingTokens  int64
	CacheReadTokens int64
	Provider        Provider
	Model           string
}

// TotalBillableTokens returns the tokens that count toward the monthly
// quota. Cache reads represent reuse, not new consumption, and are excluded.
func (n *Normalized) TotalBillableTokens() int64 {
	return n.InputTokens + n.OutputTokens + n.ThinkingTokens
}

type anthropicUsage struct {
	InputTokens          int64 `json:"input_tokens"`
	OutputTokens         int64 `json:"output_tokens"`
	ThinkingTokens       int64 `json:"thinking_tokens"`
	CacheReadInputTokens int64 `json:"cache_read_input_tokens"`
}

type anthropicResponse struct {
	Usage *anthropicUsage `json:"usage"`
}

type openAIUsageDetails struct {
	ReasoningTokens int64 `json:"reasoning_tokens"`
}

type openAIPromptDetails struct {
	CachedTokens int64 `json:"cached_tokens"`
}

type openAIUsage struct {
	PromptTokens            int64                `json:"prompt_tokens"`
	CompletionTokens        int64                `json:"completion_tokens"`
	CompletionTokensDetails *openAIUsageDetails  `json:"completion_tokens_details"`
	PromptTokensDetails     *openAIPromptDetails `json:"prompt_tokens_details"`
}

type openAIResponse struct {
	Usage *openAIUsage `json:"usage"`
}

type googleUsage struct {
	PromptTokenCount        int64 `json:"promptTokenCount"`
	CandidatesTokenCount    int64 `json:"candidatesTokenCount"`
	CachedContentTokenCount int64 `json:"cachedContentTokenCount"`
}

type googleResponse struct {
	UsageMetadata *googleUsage `json:"usageMetadata"`
}

// qwen and kimi speak the OpenAI-compatible schema but report neither
// reasoning nor cache token details.
type openAICompatUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type openAICompatResponse struct {
	Usage *openAICompatUsage `json:"usage"`
}

// Normalizer parses raw provider responses. Safe for concurrent use.
type Normalizer struct {
	log zerolog.Logger
}

func NewNormalizer(log zerolog.Logger) *Normalizer {
	return &Normalizer{log: log}
}

// Normalize extracts token usage from a raw provider response. It returns
// nil when the response is absent or carries no usage block: a call that
// failed before token accounting is a valid state, not an error. Parsing
// failures are logged and also yield nil so they never abort the caller's
// completion-handling path.
func (n *Normalizer) Normalize(raw json.RawMessage, modelID string) *Normalized {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	provider := DetectProvider(modelID)

	var (
		out *Normalized
		err error
	)
	switch provider {
	case ProviderAnthropic:
		out, err = extractAnthropic(raw)
	case ProviderOpenAI:
		out, err = extractOpenAI(raw)
	case ProviderGoogle:
		out, err = extractGoogle(raw)
	case ProviderQwen, ProviderKimi:
		out, err = extractOpenAICompat(raw)
	case ProviderUnknown:
		// Best effort: most unrecognized providers expose the
		// OpenAI-compatible schema.
		out, err = extractOpenAICompat(raw)
	}

	if err != nil {
		n.log.Warn().
			Err(err).
			Str("model", modelID).
			Str("provider", string(provider)).
			Msg("failed to extract usage from provider response")
		return nil
	}
	if out == nil {
		return nil
	}

	out.Provider = provider
	out.Model = NormalizeModel(modelID)
	clampNonNegative(out)
	return out
}

func extractAnthropic(raw json.RawMessage) (*Normalized, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Usage == nil {
		return nil, nil
	}
	return &Normalized{
		InputTokens:     resp.Usage.InputTokens,
		OutputTokens:    resp.Usage.OutputTokens,
		ThinkingTokens:  resp.Usage.ThinkingTokens,
		CacheReadTokens: resp.Usage.CacheReadInputTokens,
	}, nil
}

func extractOpenAI(raw json.RawMessage) (*Normalized, error) {
	var resp openAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Usage == nil {
		return nil, nil
	}
	out := &Normalized{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if d := resp.Usage.CompletionTokensDetails; d != nil {
		out.ThinkingTokens = d.ReasoningTokens
	}
	if d := resp.Usage.PromptTokensDetails; d != nil {
		out.CacheReadTokens = d.CachedTokens
	}
	return out, nil
}

func extractGoogle(raw json.RawMessage) (*Normalized, error) {
	var resp googleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if resp.UsageMetadata == nil {
		return nil, nil
	}
	// Gemini has no thinking-token concept; always 0.
	return &Normalized{
		InputTokens:     resp.UsageMetadata.PromptTokenCount,
		OutputTokens:    resp.UsageMetadata.CandidatesTokenCount,
		CacheReadTokens: resp.UsageMetadata.CachedContentTokenCount,
	}, nil
}

func extractOpenAICompat(raw json.RawMessage) (*Normalized, error) {
	var resp openAICompatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Usage == nil {
		return nil, nil
	}
	return &Normalized{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// DetectProvider resolves a model identifier to a provider. An explicit
// "<provider>/<model>" prefix wins; otherwise a case-insensitive keyword
// match is applied.
func DetectProvider(modelID string) Provider {
	id := strings.ToLower(modelID)

	if prefix, _, ok := strings.Cut(id, "/"); ok {
		switch prefix {
		case "anthropic":
			return ProviderAnthropic
		case "openai":
			return ProviderOpenAI
		case "google":
			return ProviderGoogle
		case "qwen":
			return ProviderQwen
		case "kimi", "moonshot":
			return ProviderKimi
		}
	}

	switch {
	case strings.Contains(id, "claude"):
		return ProviderAnthropic
	case strings.Contains(id, "gpt"), strings.Contains(id, "o1"), strings.Contains(id, "o3"):
		return ProviderOpenAI
	case strings.Contains(id, "gemini"):
		return ProviderGoogle
	case strings.Contains(id, "qwen"):
		return ProviderQwen
	case strings.Contains(id, "kimi"), strings.Contains(id, "moonshot"):
		return ProviderKimi
	}
	return ProviderUnknown
}

// NormalizeModel strips the provider prefix, everything up to and including
// the first '/', before storage.
func NormalizeModel(modelID string) string {
	if _, rest, ok := strings.Cut(modelID, "/"); ok {
		return rest
	}
	return modelID
}

func clampNonNegative(n *Normalized) {
	if n.InputTokens < 0 {
		n.InputTokens = 0
	}
	if n.OutputTokens < 0 {
		n.OutputTokens = 0
	}
	if n.ThinkingTokens < 0 {
		n.ThinkingTokens = 0
	}
	if n.CacheReadTokens < 0 {
		n.CacheReadTokens = 0
	}
}
