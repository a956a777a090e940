package universe

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

// FactorValueRepository stores raw factor values delivered by the data
// feed. It satisfies the pipeline's raw-value provider interface directly,
// so it can be wired as the fallback behind the momentum provider.
type FactorValueRepository struct {
	universeDB *sql.DB
	log        zerolog.Logger
}

// NewFactorValueRepository creates a new factor value repository.
func NewFactorValueRepository(universeDB *sql.DB, log zerolog.Logger) *FactorValueRepository {
	return &FactorValueRepository{
		universeDB: universeDB,
		log:        log.With().Str("repo", "factor_values").Logger(),
	}
}

// RawValues returns the most recent value per symbol for a factor at or
// before asOf, restricted to the given constituents. Symbols with no stored
// value are simply absent from the map.
func (r *FactorValueRepository) RawValues(constituents []domain.UniverseConstituent, factorType domain.FactorType, asOf time.Time) (map[string]decimal.Decimal, error) {
	query := `SELECT symbol, value FROM raw_factor_values
		WHERE factor_type = ? AND as_of_date <= ?
		GROUP BY symbol HAVING as_of_date = MAX(as_of_date)`

	rows, err := r.universeDB.Query(query, string(factorType), asOf.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query raw values for %s: %w", factorType, err)
	}
	defer rows.Close()

	all := make(map[string]decimal.Decimal)
	for rows.Next() {
		var symbol, raw string
		if err := rows.Scan(&symbol, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan raw value: %w", err)
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid raw value for %s: %w", symbol, err)
		}
		all[symbol] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	values := make(map[string]decimal.Decimal, len(constituents))
	for _, c := range constituents {
		if v, ok := all[c.Symbol]; ok {
			values[c.Symbol] = v
		}
	}
	return values, nil
}

// UpsertValue records one raw factor value for a symbol.
func (r *FactorValueRepository) UpsertValue(symbol string, factorType domain.FactorType, value decimal.Decimal, asOf time.Time) error {
	_, err := r.universeDB.Exec(
		`INSERT OR REPLACE INTO raw_factor_values (symbol, factor_type, value, as_of_date) VALUES (?, ?, ?, ?)`,
		strings.ToUpper(strings.TrimSpace(symbol)),
		string(factorType),
		value.String(),
		asOf.Format("2006-01-02"),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert raw value for %s/%s: %w", symbol, factorType, err)
	}
	return nil
}
