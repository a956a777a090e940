// Package universe provides access to investment universe snapshots.
package universe

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

// constituentColumns avoids SELECT * so schema changes break loudly.
// Column order must match scanConstituent.
const constituentColumns = `universe_id, symbol, name, sector, market_cap_tier,
liquidity_tier, avg_daily_value, is_active`

// Repository handles universe constituent database operations.
type Repository struct {
	universeDB *sql.DB
	log        zerolog.Logger
}

// NewRepository creates a new universe repository.
func NewRepository(universeDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		universeDB: universeDB,
		log:        log.With().Str("repo", "universe").Logger(),
	}
}

// GetActiveConstituents returns the active constituents of a universe.
func (r *Repository) GetActiveConstituents(universeID string) ([]domain.UniverseConstituent, error) {
	query := "SELECT " + constituentColumns + " FROM universe_constituents WHERE universe_id = ? AND is_active = 1 ORDER BY symbol"

	rows, err := r.universeDB.Query(query, universeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active constituents: %w", err)
	}
	defer rows.Close()

	var constituents []domain.UniverseConstituent
	for rows.Next() {
		c, err := scanConstituent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan constituent: %w", err)
		}
		constituents = append(constituents, c)
	}

	return constituents, rows.Err()
}

// GetBySymbol returns one constituent, or nil when absent.
func (r *Repository) GetBySymbol(universeID, symbol string) (*domain.UniverseConstituent, error) {
	query := "SELECT " + constituentColumns + " FROM universe_constituents WHERE universe_id = ? AND symbol = ?"

	rows, err := r.universeDB.Query(query, universeID, strings.ToUpper(strings.TrimSpace(symbol)))
	if err != nil {
		return nil, fmt.Errorf("failed to query constituent by symbol: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	c, err := scanConstituent(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan constituent: %w", err)
	}
	return &c, nil
}

// Upsert inserts or replaces a constituent. Universe snapshots are loaded
// whole by the ingestion layer; per-row mutation is not supported.
func (r *Repository) Upsert(c domain.UniverseConstituent) error {
	query := `INSERT OR REPLACE INTO universe_constituents
		(universe_id, symbol, name, sector, market_cap_tier, liquidity_tier, avg_daily_value, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	active := 0
	if c.IsActive {
		active = 1
	}

	_, err := r.universeDB.Exec(query,
		c.UniverseID,
		strings.ToUpper(strings.TrimSpace(c.Symbol)),
		c.Name,
		c.Sector,
		string(c.MarketCapTier),
		c.LiquidityTier,
		c.AvgDailyValue.String(),
		active,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert constituent %s: %w", c.Symbol, err)
	}

	return nil
}

func scanConstituent(rows *sql.Rows) (domain.UniverseConstituent, error) {
	var (
		c         domain.UniverseConstituent
		tier      string
		adv       string
		activeInt int
	)

	if err := rows.Scan(&c.UniverseID, &c.Symbol, &c.Name, &c.Sector, &tier,
		&c.LiquidityTier, &adv, &activeInt); err != nil {
		return domain.UniverseConstituent{}, err
	}

	capTier, err := domain.ParseMarketCapTier(tier)
	if err != nil {
		return domain.UniverseConstituent{}, err
	}
	c.MarketCapTier = capTier

	advDec, err := decimal.NewFromString(adv)
	if err != nil {
		return domain.UniverseConstituent{}, fmt.Errorf("invalid avg_daily_value %q: %w", adv, err)
	}
	c.AvgDailyValue = advDec
	c.IsActive = activeInt != 0

	return c, nil
}
