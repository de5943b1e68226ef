package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownModel is returned by GetTokenStats when an event's
// meta_json.model has no entry in the caller-supplied pricing map.
// Pricing tables are external to the store and intentionally not
// built in; an unrecognized model is surfaced rather than silently
// priced as something else.
var ErrUnknownModel = errors.New("unknown model in pricing map")

// ModelPricing is the per-million-token cost of one model, in USD.
type ModelPricing struct {
	InputPerMille      float64
	OutputPerMille     float64
	CacheReadPerMille  float64
	CacheWritePerMille float64
}

type tokenUsage struct {
	Input       int64
	Output      int64
	CacheRead   int64
	CacheWrite  int64
}

// TokenStats is the result of GetTokenStats: grand totals plus the
// requested grouped rollup.
type TokenStats struct {
	TotalTokens tokenUsage
	TotalCostUSD float64
	Groups       []TokenStatsGroup
}

// TokenStatsGroup is one row of a by_day/by_session/by_model rollup.
type TokenStatsGroup struct {
	Key      string
	Tokens   tokenUsage
	CostUSD  float64
}

// GroupBy selects how GetTokenStats buckets its rollup.
type GroupBy string

const (
	GroupByDay     GroupBy = "by_day"
	GroupBySession GroupBy = "by_session"
	GroupByModel   GroupBy = "by_model"
)

type eventTokenMeta struct {
	Model string `json:"model"`
	Tokens struct {
		Input       int64 `json:"input"`
		Output      int64 `json:"output"`
		CacheRead   int64 `json:"cache_read"`
		CacheWrite  int64 `json:"cache_write"`
	} `json:"tokens"`
	MessageID string `json:"message_id"`
}

// GetTokenStats aggregates token counts carried in meta_json.tokens,
// deduplicating by (source_id, message_id) so a message whose tokens
// were attached to only one of several emitted events is never
// double-counted. Pricing is supplied by the caller; an event whose
// model has no entry in pricing causes GetTokenStats to fail with
// ErrUnknownModel rather than silently defaulting a cost.
func (s *Store) GetTokenStats(f Filter, group GroupBy, pricing map[string]ModelPricing) (*TokenStats, error) {
	w := &whereClause{}
	if err := s.applyCommonFilters(w, f); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT e.source_id, e.event_ts, e.session_id, e.meta_json FROM events e
		WHERE %s AND e.meta_json IS NOT NULL
	`, w.sql())

	rows, err := s.db.Query(query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("get token stats: %w", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	groups := map[string]*TokenStatsGroup{}
	stats := &TokenStats{}

	for rows.Next() {
		var sourceID, eventTS, sessionID, metaJSON string
		if err := rows.Scan(&sourceID, &eventTS, &sessionID, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan token stats row: %w", err)
		}

		var meta eventTokenMeta
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			continue
		}
		if meta.Tokens.Input == 0 && meta.Tokens.Output == 0 && meta.Tokens.CacheRead == 0 && meta.Tokens.CacheWrite == 0 {
			continue
		}

		if meta.MessageID != "" {
			dedupKey := sourceID + ":" + meta.MessageID
			if seen[dedupKey] {
				continue
			}
			seen[dedupKey] = true
		}

		price, ok := pricing[meta.Model]
		if !ok {
			return nil, fmt.Errorf("model %q: %w", meta.Model, ErrUnknownModel)
		}
		cost := float64(meta.Tokens.Input)/1_000_000*price.InputPerMille +
			float64(meta.Tokens.Output)/1_000_000*price.OutputPerMille +
			float64(meta.Tokens.CacheRead)/1_000_000*price.CacheReadPerMille +
			float64(meta.Tokens.CacheWrite)/1_000_000*price.CacheWritePerMille

		stats.TotalTokens.Input += meta.Tokens.Input
		stats.TotalTokens.Output += meta.Tokens.Output
		stats.TotalTokens.CacheRead += meta.Tokens.CacheRead
		stats.TotalTokens.CacheWrite += meta.Tokens.CacheWrite
		stats.TotalCostUSD += cost

		key := groupKey(group, eventTS, sessionID, meta.Model)
		g, ok := groups[key]
		if !ok {
			g = &TokenStatsGroup{Key: key}
			groups[key] = g
		}
		g.Tokens.Input += meta.Tokens.Input
		g.Tokens.Output += meta.Tokens.Output
		g.Tokens.CacheRead += meta.Tokens.CacheRead
		g.Tokens.CacheWrite += meta.Tokens.CacheWrite
		g.CostUSD += cost
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, g := range groups {
		stats.Groups = append(stats.Groups, *g)
	}
	return stats, nil
}

func groupKey(group GroupBy, eventTS, sessionID, model string) string {
	switch group {
	case GroupBySession:
		return sessionID
	case GroupByModel:
		return model
	default:
		t, err := parseStoredTime(eventTS)
		if err != nil {
			return eventTS
		}
		return t.Format("2006-01-02")
	}
}
