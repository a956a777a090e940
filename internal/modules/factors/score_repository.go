package factors

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

const scoreColumns = `symbol, factor_type, calculation_date, sector, raw_score,
sector_normalized, sector_percentile, universe_percentile, run_id`

// ScoreRepository persists factor scores. Rows are insert-only: scores are
// created fresh each run and never mutated.
type ScoreRepository struct {
	advisorDB *sql.DB
	log       zerolog.Logger
}

// NewScoreRepository creates a new factor score repository.
func NewScoreRepository(advisorDB *sql.DB, log zerolog.Logger) *ScoreRepository {
	return &ScoreRepository{
		advisorDB: advisorDB,
		log:       log.With().Str("repo", "factor_scores").Logger(),
	}
}

// SaveAllTx inserts scores within an existing transaction so a failed run
// leaves no partial rows behind.
func (r *ScoreRepository) SaveAllTx(tx *sql.Tx, runID string, scores []domain.FactorScore) error {
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO factor_scores (` + scoreColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare factor score insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range scores {
		_, err := stmt.Exec(
			s.Symbol,
			string(s.FactorType),
			s.CalculationDate.Format("2006-01-02"),
			s.Sector,
			s.RawScore.String(),
			s.SectorNormalized.String(),
			s.SectorPercentile.String(),
			s.UniversePercentile.String(),
			runID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert factor score %s/%s: %w", s.Symbol, s.FactorType, err)
		}
	}

	return nil
}

// GetByDate returns all scores for a calculation date, keyed by symbol then
// factor type.
func (r *ScoreRepository) GetByDate(date time.Time) (map[string]map[domain.FactorType]domain.FactorScore, error) {
	query := "SELECT " + scoreColumns + " FROM factor_scores WHERE calculation_date = ?"

	rows, err := r.advisorDB.Query(query, date.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query factor scores: %w", err)
	}
	defer rows.Close()

	result := make(map[string]map[domain.FactorType]domain.FactorScore)
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan factor score: %w", err)
		}
		if result[s.Symbol] == nil {
			result[s.Symbol] = make(map[domain.FactorType]domain.FactorScore)
		}
		result[s.Symbol][s.FactorType] = s
	}

	return result, rows.Err()
}

func scanScore(rows *sql.Rows) (domain.FactorScore, error) {
	var (
		s          domain.FactorScore
		factorType string
		dateStr    string
		raw, z, sectorPct, universePct string
		runID      string
	)

	if err := rows.Scan(&s.Symbol, &factorType, &dateStr, &s.Sector,
		&raw, &z, &sectorPct, &universePct, &runID); err != nil {
		return domain.FactorScore{}, err
	}

	ft, err := domain.ParseFactorType(factorType)
	if err != nil {
		return domain.FactorScore{}, err
	}
	s.FactorType = ft

	if s.CalculationDate, err = time.Parse("2006-01-02", dateStr); err != nil {
		return domain.FactorScore{}, fmt.Errorf("invalid calculation_date %q: %w", dateStr, err)
	}

	for _, field := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&s.RawScore, raw},
		{&s.SectorNormalized, z},
		{&s.SectorPercentile, sectorPct},
		{&s.UniversePercentile, universePct},
	} {
		if *field.dst, err = decimal.NewFromString(field.src); err != nil {
			return domain.FactorScore{}, fmt.Errorf("invalid decimal %q: %w", field.src, err)
		}
	}

	return s, nil
}
