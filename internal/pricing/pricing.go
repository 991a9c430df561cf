// Package pricing resolves $-per-million-token rates and computes costs.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var ErrRateNotFound = errors.New("pricing rate not found")

// Rate is a time-ranged rate card row for one provider+model. At most one
// rate is active for any instant: the latest EffectiveFrom <= t among rows
// whose EffectiveTo is nil or >= t.
type Rate struct {
	ID            string
	Provider      string
	Model         string
	InputPer1M    float64
	OutputPer1M   float64
	ThinkingPer1M float64
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

// Rates is the resolved price per million tokens in effect on a date.
type Rates struct {
	InputPer1M    float64
	OutputPer1M   float64
	ThinkingPer1M float64
}

// Store is read-only access to the durable rate card, owned by a
// pricing-administration process outside this service.
type Store interface {
	// FindRate returns the most recent rate effective at the given time,
	// or ErrRateNotFound.
	FindRate(ctx context.Context, provider, model string, at time.Time) (*Rate, error)
}

// Resolver resolves rates with a three-tier fallback: stored rate card,
// hardcoded per-model table, generic default. Billing must produce some
// defensible number even for a brand-new model, so resolution never fails.
type Resolver struct {
	store    Store
	fallback map[string]Rates
	generic  Rates
	log      zerolog.Logger
}

func NewResolver(store Store, fallback map[string]Rates, log zerolog.Logger) *Resolver {
	if fallback == nil {
		fallback = DefaultRateTable()
	}
	return &Resolver{
		store:    store,
		fallback: fallback,
		generic:  GenericRates,
		log:      log,
	}
}

// Resolve returns the rates in effect for provider+model on the given date.
func (r *Resolver) Resolve(ctx context.Context, provider, model string, at time.Time) Rates {
	rate, err := r.store.FindRate(ctx, provider, model, at)
	if err == nil {
		return Rates{
			InputPer1M:    rate.InputPer1M,
			OutputPer1M:   rate.OutputPer1M,
			ThinkingPer1M: rate.ThinkingPer1M,
		}
	}
	if !errors.Is(err, ErrRateNotFound) {
		r.log.Warn().
			Err(err).
			Str("provider", provider).
			Str("model", model).
			Msg("rate card lookup failed, falling back to static table")
	}

	if rates, ok := r.fallback[rateKey(provider, model)]; ok {
		return rates
	}

	r.log.Warn().
		Str("provider", provider).
		Str("model", model).
		Msg("no pricing for model, using generic fallback rate")
	return r.generic
}

func rateKey(provider, model string) string {
	return fmt.Sprintf("%s/%s", provider, model)
}

// GenericRates is the tier-3 fallback, equivalent to the mid-priced model.
var GenericRates = Rates{InputPer1M: 3.0, OutputPer1M: 15.0, ThinkingPer1M: 15.0}

// DefaultRateTable covers the common current-generation models for each
// provider. Rates are USD per million tokens.
func DefaultRateTable() map[string]Rates {
	return map[string]Rates{
		"anthropic/claude-opus-4-1":   {InputPer1M: 15.0, OutputPer1M: 75.0, ThinkingPer1M: 75.0},
		"anthropic/claude-sonnet-4-5": {InputPer1M: 3.0, OutputPer1M: 15.0, ThinkingPer1M: 15.0},
		"anthropic/claude-haiku-4-5":  {InputPer1M: 1.0, OutputPer1M: 5.0, ThinkingPer1M: 5.0},

		"openai/gpt-4o":      {InputPer1M: 2.5, OutputPer1M: 10.0, ThinkingPer1M: 10.0},
		"openai/gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.6, ThinkingPer1M: 0.6},
		"openai/o1":          {InputPer1M: 15.0, OutputPer1M: 60.0, ThinkingPer1M: 60.0},
		"openai/o3-mini":     {InputPer1M: 1.1, OutputPer1M: 4.4, ThinkingPer1M: 4.4},

		"google/gemini-2.5-pro":   {InputPer1M: 1.25, OutputPer1M: 10.0, ThinkingPer1M: 10.0},
		"google/gemini-2.0-flash": {InputPer1M: 0.1, OutputPer1M: 0.4, ThinkingPer1M: 0.4},
		"google/gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.0, ThinkingPer1M: 5.0},

		"qwen/qwen-max":  {InputPer1M: 1.6, OutputPer1M: 6.4, ThinkingPer1M: 6.4},
		"qwen/qwen-plus": {InputPer1M: 0.4, OutputPer1M: 1.2, ThinkingPer1M: 1.2},

		"kimi/kimi-k2":        {InputPer1M: 0.6, OutputPer1M: 2.5, ThinkingPer1M: 2.5},
		"kimi/moonshot-v1-8k": {InputPer1M: 0.2, OutputPer1M: 2.0, ThinkingPer1M: 2.0},
	}
}
