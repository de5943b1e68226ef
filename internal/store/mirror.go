package store

import (
	"fmt"

	"github.com/recall-tools/recall/internal/store/analytics"
)

// AnalyticsMirror is the subset of *analytics.Mirror's behavior
// GetTokenStatsFast needs; declared here so internal/store depends on
// an interface rather than the concrete DuckDB type directly.
type AnalyticsMirror interface {
	HighWaterIngestTS() (string, error)
	RollupByModel() ([]analytics.RollupRow, error)
	RollupBySession() ([]analytics.RollupRow, error)
	RollupByDay() ([]analytics.RollupRow, error)
}

// MirrorableEvents returns every token-bearing event ingested after
// sinceIngestTS (exclusive), converted to analytics.MirrorRow, plus
// the new high-water ingest_ts to pass to Mirror.Sync. Called by the
// watch coordinator's mirror sync loop; an empty sinceIngestTS scans
// the whole table for a mirror's first sync.
func (s *Store) MirrorableEvents(sinceIngestTS string) ([]analytics.MirrorRow, string, error) {
	query := `
		SELECT event_id, source_id, COALESCE(project_id, ''), COALESCE(session_id, ''),
			event_ts, event_type, ingest_ts, meta_json
		FROM events
		WHERE meta_json IS NOT NULL AND ingest_ts > ?
		ORDER BY ingest_ts ASC
	`
	rows, err := s.db.Query(query, sinceIngestTS)
	if err != nil {
		return nil, "", fmt.Errorf("mirrorable events: %w", err)
	}
	defer rows.Close()

	var out []analytics.MirrorRow
	highWater := sinceIngestTS
	for rows.Next() {
		var eventID, sourceID, projectID, sessionID, eventTS, eventType, ingestTS, metaJSON string
		if err := rows.Scan(&eventID, &sourceID, &projectID, &sessionID, &eventTS, &eventType, &ingestTS, &metaJSON); err != nil {
			return nil, "", fmt.Errorf("scan mirrorable event: %w", err)
		}
		if ingestTS > highWater {
			highWater = ingestTS
		}
		row, ok := analytics.RowFromMetaJSON(eventID, sourceID, projectID, sessionID, eventTS, eventType, metaJSON)
		if !ok {
			continue
		}
		out = append(out, row)
	}
	return out, highWater, rows.Err()
}

// GetTokenStatsFast tries the DuckDB analytics mirror first and falls
// back to the SQLite aggregation path in GetTokenStats when no mirror
// is supplied or it has not yet absorbed the store's latest events —
// this keeps get_token_stats correct even before mirroring has run.
func (s *Store) GetTokenStatsFast(f Filter, group GroupBy, pricing map[string]ModelPricing, mirror AnalyticsMirror) (*TokenStats, error) {
	if mirror == nil {
		return s.GetTokenStats(f, group, pricing)
	}

	highWater, err := mirror.HighWaterIngestTS()
	if err != nil {
		return nil, fmt.Errorf("check mirror freshness: %w", err)
	}
	if highWater == "" {
		return s.GetTokenStats(f, group, pricing)
	}

	var latest string
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(ingest_ts), '') FROM events`).Scan(&latest); err != nil {
		return nil, fmt.Errorf("check latest ingest time: %w", err)
	}
	if latest != "" && latest > highWater {
		return s.GetTokenStats(f, group, pricing)
	}

	// f's project/session/time filters are not applied to the mirror
	// rollup here: the mirror is a whole-history OLAP copy, and a
	// filtered fast path would need its own WHERE-building against
	// events_mirror. Narrowed queries fall back to the exact path.
	if f.ProjectID != "" || f.SessionID != "" || f.Since != nil || f.Until != nil {
		return s.GetTokenStats(f, group, pricing)
	}

	var rollups []analytics.RollupRow
	switch group {
	case GroupBySession:
		rollups, err = mirror.RollupBySession()
	case GroupByModel:
		rollups, err = mirror.RollupByModel()
	default:
		rollups, err = mirror.RollupByDay()
	}
	if err != nil {
		return nil, fmt.Errorf("mirror rollup: %w", err)
	}

	stats := &TokenStats{}
	for _, r := range rollups {
		// Cost is only computable here when the rollup key IS the
		// model: by_day/by_session rollups mix models together in
		// DuckDB, so their per-row cost is left at zero and callers
		// needing exact mixed-model cost should use GetTokenStats.
		var cost float64
		if group == GroupByModel {
			price, ok := pricing[r.Key]
			if !ok {
				return nil, fmt.Errorf("model %q: %w", r.Key, ErrUnknownModel)
			}
			cost = float64(r.InputTokens)/1_000_000*price.InputPerMille +
				float64(r.OutputTokens)/1_000_000*price.OutputPerMille +
				float64(r.CacheReadTokens)/1_000_000*price.CacheReadPerMille +
				float64(r.CacheWriteTokens)/1_000_000*price.CacheWritePerMille
		}

		stats.Groups = append(stats.Groups, TokenStatsGroup{
			Key: r.Key,
			Tokens: tokenUsage{
				Input: r.InputTokens, Output: r.OutputTokens,
				CacheRead: r.CacheReadTokens, CacheWrite: r.CacheWriteTokens,
			},
			CostUSD: cost,
		})
		stats.TotalTokens.Input += r.InputTokens
		stats.TotalTokens.Output += r.OutputTokens
		stats.TotalTokens.CacheRead += r.CacheReadTokens
		stats.TotalTokens.CacheWrite += r.CacheWriteTokens
		stats.TotalCostUSD += cost
	}
	return stats, nil
}
