// Package usage aggregates token counts and cost out of already
// ingested events, generalized from the teacher's internal/usage
// package (which parsed raw JSONL files directly) to instead read
// through internal/store.GetTokenStats / GetTokenStatsFast.
package usage

import (
	"time"

	"github.com/recall-tools/recall/internal/store"
)

// KnownPricing is a built-in per-million-token pricing table for the
// model identifiers the teacher's own transcript parser shipped.
// Unlike the teacher's defaultPricing fallback, there is no catch-all
// entry here: GetTokenStats surfaces store.ErrUnknownModel for any
// model this table (or a caller override) doesn't name, rather than
// silently pricing it as sonnet.
func KnownPricing() map[string]store.ModelPricing {
	return map[string]store.ModelPricing{
		"claude-opus-4-5-20251101": {
			InputPerMille: 15.0, OutputPerMille: 75.0,
			CacheReadPerMille: 1.5, CacheWritePerMille: 18.75,
		},
		"claude-sonnet-4-20250514": {
			InputPerMille: 3.0, OutputPerMille: 15.0,
			CacheReadPerMille: 0.30, CacheWritePerMille: 3.75,
		},
		"claude-3-5-sonnet-20241022": {
			InputPerMille: 3.0, OutputPerMille: 15.0,
			CacheReadPerMille: 0.30, CacheWritePerMille: 3.75,
		},
		"claude-3-5-haiku-20241022": {
			InputPerMille: 0.80, OutputPerMille: 4.0,
			CacheReadPerMille: 0.08, CacheWritePerMille: 1.0,
		},
	}
}

// WithOverrides layers caller-supplied pricing on top of KnownPricing,
// letting a user price a new or self-hosted model without losing the
// built-in entries.
func WithOverrides(overrides map[string]store.ModelPricing) map[string]store.ModelPricing {
	merged := KnownPricing()
	for model, price := range overrides {
		merged[model] = price
	}
	return merged
}

// Summary is the aggregate usage report for get_token_stats, a
// convenience shape over store.TokenStats for callers that only want
// totals for a window rather than a grouped rollup.
type Summary struct {
	InputTokens       int64
	OutputTokens      int64
	CacheReadTokens   int64
	CacheCreateTokens int64
	CostUSD           float64
	Since             *time.Time
	Until             *time.Time
}

// GetSummary totals token usage and cost across the given window with
// no grouping, by delegating to store.GetTokenStats with GroupByDay
// and discarding the per-day rows.
func GetSummary(st *store.Store, since, until *time.Time, pricing map[string]store.ModelPricing) (Summary, error) {
	stats, err := st.GetTokenStats(store.Filter{Since: since, Until: until}, store.GroupByDay, pricing)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		InputTokens:       stats.TotalTokens.Input,
		OutputTokens:      stats.TotalTokens.Output,
		CacheReadTokens:   stats.TotalTokens.CacheRead,
		CacheCreateTokens: stats.TotalTokens.CacheWrite,
		CostUSD:           stats.TotalCostUSD,
		Since:             since,
		Until:             until,
	}, nil
}

// GetStats is a thin pass-through to store.GetTokenStats for callers
// that want the full grouped rollup (by day, session, or model)
// rather than GetSummary's flattened totals.
func GetStats(st *store.Store, f store.Filter, group store.GroupBy, pricing map[string]store.ModelPricing) (*store.TokenStats, error) {
	return st.GetTokenStats(f, group, pricing)
}

// GetStatsFast delegates to store.GetTokenStatsFast, which answers
// from the DuckDB analytics mirror when the mirror has absorbed the
// store's latest events and the filter is not narrowed, and otherwise
// falls back to scanning SQLite's events table.
func GetStatsFast(st *store.Store, f store.Filter, group store.GroupBy, pricing map[string]store.ModelPricing, mirror store.AnalyticsMirror) (*store.TokenStats, error) {
	return st.GetTokenStatsFast(f, group, pricing, mirror)
}
