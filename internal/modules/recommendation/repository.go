// Package recommendation persists runs and their pick lists, and hosts the
// service that orchestrates the pipeline stages.
package recommendation

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/database"
	"github.com/quantfolio/advisor/internal/domain"
)

const recommendationColumns = `id, run_id, symbol, sector, market_cap_tier,
liquidity_tier, rank, target_weight_pct, current_weight_pct,
weight_change_pct, confidence_score, expected_alpha_bps, expected_cost_bps,
edge_over_cost_bps, driver1_factor, driver1_score, driver2_factor,
driver2_score, driver3_factor, driver3_score, explanation, constraint_notes,
change_indicator, created_at`

// Repository stores recommendation rows in advisor.db.
type Repository struct {
	advisorDB *sql.DB
	log       zerolog.Logger
}

// NewRepository creates a recommendation repository.
func NewRepository(advisorDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		advisorDB: advisorDB,
		log:       log.With().Str("repo", "recommendations").Logger(),
	}
}

// SaveAllTx inserts a run's rows inside an existing transaction. A failed
// pipeline rolls the whole batch back so no half-written run can surface.
func (r *Repository) SaveAllTx(tx *sql.Tx, recs []domain.Recommendation) error {
	stmt, err := tx.Prepare(`INSERT INTO recommendations (` + recommendationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare recommendation insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		d := driverColumns(rec.Drivers)
		if _, err := stmt.Exec(
			rec.ID, rec.RunID, rec.Symbol, rec.Sector, string(rec.MarketCapTier),
			rec.LiquidityTier, rec.Rank, rec.TargetWeightPct.String(),
			rec.CurrentWeightPct.String(), rec.WeightChangePct.String(),
			rec.ConfidenceScore, rec.ExpectedAlphaBps.String(),
			rec.ExpectedCostBps.String(), rec.EdgeOverCostBps.String(),
			d[0].factor, d[0].score, d[1].factor, d[1].score, d[2].factor, d[2].score,
			rec.Explanation, rec.ConstraintNotes, string(rec.ChangeIndicator),
			rec.CreatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("failed to insert recommendation %s: %w", rec.Symbol, err)
		}
	}
	return nil
}

// GetByRunID returns a run's rows ordered by rank.
func (r *Repository) GetByRunID(runID string) ([]domain.Recommendation, error) {
	rows, err := r.advisorDB.Query(
		"SELECT "+recommendationColumns+" FROM recommendations WHERE run_id = ? ORDER BY rank",
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations for run %s: %w", runID, err)
	}
	defer rows.Close()

	var recs []domain.Recommendation
	for rows.Next() {
		rec, err := scanRecommendation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SetChangeIndicators writes change indicators onto a run's rows in one
// transaction. Symbols absent from the map keep their stored value.
func (r *Repository) SetChangeIndicators(runID string, indicators map[string]domain.ChangeIndicator) error {
	return database.WithTransaction(r.advisorDB, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(
			"UPDATE recommendations SET change_indicator = ? WHERE run_id = ? AND symbol = ?")
		if err != nil {
			return fmt.Errorf("failed to prepare change indicator update: %w", err)
		}
		defer stmt.Close()

		for symbol, ind := range indicators {
			if _, err := stmt.Exec(string(ind), runID, symbol); err != nil {
				return fmt.Errorf("failed to set change indicator for %s: %w", symbol, err)
			}
		}
		return nil
	})
}

type driverColumn struct {
	factor string
	score  string
}

// driverColumns flattens up to three drivers into the fixed column layout.
func driverColumns(drivers []domain.FactorDriver) [3]driverColumn {
	out := [3]driverColumn{{score: "0"}, {score: "0"}, {score: "0"}}
	for i, d := range drivers {
		if i == 3 {
			break
		}
		out[i] = driverColumn{factor: string(d.Factor), score: d.Score.String()}
	}
	return out
}

func scanRecommendation(rows *sql.Rows) (domain.Recommendation, error) {
	var (
		rec             domain.Recommendation
		tier, indicator string
		createdAt       int64
		target, current, change, alpha, cost, edge string
		drivers         [3]driverColumn
	)

	if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Symbol, &rec.Sector, &tier,
		&rec.LiquidityTier, &rec.Rank, &target, &current, &change,
		&rec.ConfidenceScore, &alpha, &cost, &edge,
		&drivers[0].factor, &drivers[0].score,
		&drivers[1].factor, &drivers[1].score,
		&drivers[2].factor, &drivers[2].score,
		&rec.Explanation, &rec.ConstraintNotes, &indicator, &createdAt); err != nil {
		return domain.Recommendation{}, err
	}

	rec.MarketCapTier = domain.MarketCapTier(tier)
	rec.ChangeIndicator = domain.ChangeIndicator(indicator)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()

	for i, field := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&rec.TargetWeightPct, target},
		{&rec.CurrentWeightPct, current},
		{&rec.WeightChangePct, change},
		{&rec.ExpectedAlphaBps, alpha},
		{&rec.ExpectedCostBps, cost},
		{&rec.EdgeOverCostBps, edge},
	} {
		d, err := decimal.NewFromString(field.src)
		if err != nil {
			return domain.Recommendation{}, fmt.Errorf("invalid decimal %q at column %d: %w", field.src, i, err)
		}
		*field.dst = d
	}

	for _, d := range drivers {
		if d.factor == "" {
			continue
		}
		ft, err := domain.ParseFactorType(d.factor)
		if err != nil {
			return domain.Recommendation{}, err
		}
		score, err := decimal.NewFromString(d.score)
		if err != nil {
			return domain.Recommendation{}, fmt.Errorf("invalid driver score %q: %w", d.score, err)
		}
		rec.Drivers = append(rec.Drivers, domain.FactorDriver{Factor: ft, Score: score})
	}

	return rec, nil
}
