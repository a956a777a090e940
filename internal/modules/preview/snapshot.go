package preview

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantfolio/advisor/internal/domain"
	"github.com/quantfolio/advisor/internal/modules/ranking"
)

// snapshotRow is one frozen rank line. Decimals travel as strings so the
// encoding is exact.
type snapshotRow struct {
	Symbol        string `msgpack:"symbol"`
	Sector        string `msgpack:"sector"`
	Rank          int    `msgpack:"rank"`
	Composite     string `msgpack:"composite"`
	MarketCapTier string `msgpack:"cap_tier"`
	LiquidityTier int    `msgpack:"liq_tier"`
}

type snapshot struct {
	RunID string        `msgpack:"run_id"`
	Rows  []snapshotRow `msgpack:"rows"`
}

// SnapshotStore caches msgpack-encoded rank snapshots of finalized runs in
// cache.db so previews skip re-reading full recommendation rows. The cache
// is ephemeral: a miss falls back to the recommendation repository.
type SnapshotStore struct {
	cacheDB *sql.DB
	log     zerolog.Logger
}

// NewSnapshotStore creates a snapshot store.
func NewSnapshotStore(cacheDB *sql.DB, log zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		cacheDB: cacheDB,
		log:     log.With().Str("repo", "run_snapshots").Logger(),
	}
}

// Save encodes and stores the frozen rank order of a run.
func (s *SnapshotStore) Save(runID string, recs []domain.Recommendation) error {
	snap := snapshot{RunID: runID, Rows: make([]snapshotRow, 0, len(recs))}
	for _, rec := range recs {
		// Alpha bps is composite x 100, so the stored row reverses it to
		// recover the frozen composite.
		composite := decimal.Zero
		if !rec.ExpectedAlphaBps.IsZero() {
			composite = domain.DivZ(rec.ExpectedAlphaBps, domain.Hundred)
		}
		snap.Rows = append(snap.Rows, snapshotRow{
			Symbol:        rec.Symbol,
			Sector:        rec.Sector,
			Rank:          rec.Rank,
			Composite:     composite.String(),
			MarketCapTier: string(rec.MarketCapTier),
			LiquidityTier: rec.LiquidityTier,
		})
	}

	encoded, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for run %s: %w", runID, err)
	}

	_, err = s.cacheDB.Exec(`INSERT OR REPLACE INTO run_snapshots (run_id, snapshot, created_at)
		VALUES (?, ?, ?)`, runID, encoded, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store snapshot for run %s: %w", runID, err)
	}
	return nil
}

// Load returns the cached frozen rank order, or ok=false on a miss.
func (s *SnapshotStore) Load(runID string) ([]ranking.RankedSymbol, map[string]domain.UniverseConstituent, bool, error) {
	var encoded []byte
	err := s.cacheDB.QueryRow(
		"SELECT snapshot FROM run_snapshots WHERE run_id = ?", runID).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to load snapshot for run %s: %w", runID, err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(encoded, &snap); err != nil {
		// Corrupt cache entries are treated as misses.
		s.log.Warn().Err(err).Str("run_id", runID).Msg("Discarding undecodable snapshot")
		return nil, nil, false, nil
	}

	ranked, constituents, err := fromRows(snap.Rows)
	if err != nil {
		s.log.Warn().Err(err).Str("run_id", runID).Msg("Discarding invalid snapshot")
		return nil, nil, false, nil
	}
	return ranked, constituents, true, nil
}

// Delete removes a run's snapshot, used when a baseline is superseded.
func (s *SnapshotStore) Delete(runID string) error {
	_, err := s.cacheDB.Exec("DELETE FROM run_snapshots WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot for run %s: %w", runID, err)
	}
	return nil
}

func fromRows(rows []snapshotRow) ([]ranking.RankedSymbol, map[string]domain.UniverseConstituent, error) {
	ranked := make([]ranking.RankedSymbol, 0, len(rows))
	constituents := make(map[string]domain.UniverseConstituent, len(rows))
	for _, row := range rows {
		composite, err := decimal.NewFromString(row.Composite)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid composite %q: %w", row.Composite, err)
		}
		ranked = append(ranked, ranking.RankedSymbol{
			Symbol:    row.Symbol,
			Sector:    row.Sector,
			Rank:      row.Rank,
			Composite: composite,
		})
		constituents[row.Symbol] = domain.UniverseConstituent{
			Symbol:        row.Symbol,
			Sector:        row.Sector,
			MarketCapTier: domain.MarketCapTier(row.MarketCapTier),
			LiquidityTier: row.LiquidityTier,
			IsActive:      true,
		}
	}
	return ranked, constituents, nil
}

// FromRecommendations builds the frozen selection inputs straight from
// stored rows, the fallback path when the cache misses.
func FromRecommendations(recs []domain.Recommendation) ([]ranking.RankedSymbol, map[string]domain.UniverseConstituent) {
	ranked := make([]ranking.RankedSymbol, 0, len(recs))
	constituents := make(map[string]domain.UniverseConstituent, len(recs))
	for _, rec := range recs {
		composite := decimal.Zero
		if !rec.ExpectedAlphaBps.IsZero() {
			composite = domain.DivZ(rec.ExpectedAlphaBps, domain.Hundred)
		}
		ranked = append(ranked, ranking.RankedSymbol{
			Symbol:    rec.Symbol,
			Sector:    rec.Sector,
			Rank:      rec.Rank,
			Composite: composite,
		})
		constituents[rec.Symbol] = domain.UniverseConstituent{
			Symbol:        rec.Symbol,
			Sector:        rec.Sector,
			MarketCapTier: rec.MarketCapTier,
			LiquidityTier: rec.LiquidityTier,
			IsActive:      true,
		}
	}
	return ranked, constituents
}
