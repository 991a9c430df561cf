package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vnmchuo/agentmeter/internal/usage"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolve_StoredRateWins(t *testing.T) {
	store := NewMemoryStore(&Rate{
		Provider:      "anthropic",
		Model:         "claude-sonnet-4-5",
		InputPer1M:    2.0,
		OutputPer1M:   10.0,
		ThinkingPer1M: 10.0,
		EffectiveFrom: date(2026, time.January, 1),
	})
	r := NewResolver(store, nil, zerolog.Nop())

	got := r.Resolve(context.Background(), "anthropic", "claude-sonnet-4-5", date(2026, time.March, 15))
	if got.InputPer1M != 2.0 || got.OutputPer1M != 10.0 {
		t.Errorf("expected stored rate, got %+v", got)
	}
}

func TestResolve_TimeRangedSelection(t *testing.T) {
	old := date(2025, time.June, 30)
	store := NewMemoryStore(
		&Rate{
			Provider: "openai", Model: "gpt-4o",
			InputPer1M: 5.0, OutputPer1M: 15.0, ThinkingPer1M: 15.0,
			EffectiveFrom: date(2024, time.May, 1),
			EffectiveTo:   &old,
		},
		&Rate{
			Provider: "openai", Model: "gpt-4o",
			InputPer1M: 2.5, OutputPer1M: 10.0, ThinkingPer1M: 10.0,
			EffectiveFrom: date(2025, time.July, 1),
		},
	)
	r := NewResolver(store, nil, zerolog.Nop())

	got := r.Resolve(context.Background(), "openai", "gpt-4o", date(2025, time.June, 1))
	if got.InputPer1M != 5.0 {
		t.Errorf("expected old rate for old date, got %+v", got)
	}

	got = r.Resolve(context.Background(), "openai", "gpt-4o", date(2025, time.August, 1))
	if got.InputPer1M != 2.5 {
		t.Errorf("expected current rate for current date, got %+v", got)
	}
}

func TestResolve_HardcodedTableFallback(t *testing.T) {
	r := NewResolver(NewMemoryStore(), nil, zerolog.Nop())

	got := r.Resolve(context.Background(), "openai", "gpt-4o-mini", date(2026, time.January, 1))
	want := DefaultRateTable()["openai/gpt-4o-mini"]
	if got != want {
		t.Errorf("expected hardcoded table rate %+v, got %+v", want, got)
	}
}

func TestResolve_GenericFallback(t *testing.T) {
	r := NewResolver(NewMemoryStore(), nil, zerolog.Nop())

	got := r.Resolve(context.Background(), "unknown", "brand-new-model", date(2026, time.January, 1))
	if got != GenericRates {
		t.Errorf("expected generic fallback %+v, got %+v", GenericRates, got)
	}
	if got.InputPer1M == 0 || got.OutputPer1M == 0 {
		t.Error("cost must never resolve to zero rates for an unrecognized model")
	}
}

func TestCalculateCost(t *testing.T) {
	u := &usage.Normalized{
		InputTokens:    2_000_000,
		OutputTokens:   500_000,
		ThinkingTokens: 100_000,
	}
	rates := Rates{InputPer1M: 3.0, OutputPer1M: 15.0, ThinkingPer1M: 15.0}

	got := CalculateCost(u, rates)
	if got.InputCost != 6.0 {
		t.Errorf("expected input cost 6.0, got %v", got.InputCost)
	}
	if got.OutputCost != 7.5 {
		t.Errorf("expected output cost 7.5, got %v", got.OutputCost)
	}
	if got.ThinkingCost != 1.5 {
		t.Errorf("expected thinking cost 1.5, got %v", got.ThinkingCost)
	}
	if got.TotalCost != 15.0 {
		t.Errorf("expected total cost 15.0, got %v", got.TotalCost)
	}
}

func TestCalculateCost_ZeroUsage(t *testing.T) {
	got := CalculateCost(&usage.Normalized{}, Rates{InputPer1M: 3.0, OutputPer1M: 15.0, ThinkingPer1M: 15.0})
	if got.InputCost != 0 || got.OutputCost != 0 || got.ThinkingCost != 0 || got.TotalCost != 0 {
		t.Errorf("zero usage must yield exact-zero breakdown, got %+v", got)
	}
}

func TestCalculateCost_MicroCentRounding(t *testing.T) {
	u := &usage.Normalized{InputTokens: 1}
	got := CalculateCost(u, Rates{InputPer1M: 3.0})
	if got.InputCost != 0.000003 {
		t.Errorf("expected 0.000003, got %v", got.InputCost)
	}
	if got.TotalCost != got.InputCost {
		t.Errorf("total must equal rounded sum of parts, got %+v", got)
	}
}

func TestRound(t *testing.T) {
	if got := Round6(1.2345678); got != 1.234568 {
		t.Errorf("Round6: got %v", got)
	}
	if got := Round2(7.1284); got != 7.13 {
		t.Errorf("Round2: got %v", got)
	}
}
