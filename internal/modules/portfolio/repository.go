// Package portfolio provides read access to portfolios and holdings.
// The recommendation pipeline never writes here: holdings are inputs to
// turnover math, not something the advisor trades against.
package portfolio

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

// ErrPortfolioNotFound is returned when a portfolio id does not exist.
var ErrPortfolioNotFound = fmt.Errorf("portfolio not found")

const holdingColumns = `portfolio_id, symbol, sector, quantity, cost_basis, market_value, weight_pct`

// Repository handles portfolio and holding reads.
type Repository struct {
	portfolioDB *sql.DB
	log         zerolog.Logger
}

// NewRepository creates a new portfolio repository.
func NewRepository(portfolioDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "portfolio").Logger(),
	}
}

// GetPortfolio returns a portfolio by id.
func (r *Repository) GetPortfolio(portfolioID string) (*domain.Portfolio, error) {
	query := `SELECT id, user_id, active_constraint_set_id, total_market_value, cash_balance
		FROM portfolios WHERE id = ?`

	var (
		p           domain.Portfolio
		marketValue string
		cash        string
	)
	err := r.portfolioDB.QueryRow(query, portfolioID).Scan(
		&p.ID, &p.UserID, &p.ActiveConstraintSetID, &marketValue, &cash)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrPortfolioNotFound, portfolioID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio: %w", err)
	}

	if p.TotalMarketValue, err = decimal.NewFromString(marketValue); err != nil {
		return nil, fmt.Errorf("invalid total_market_value %q: %w", marketValue, err)
	}
	if p.CashBalance, err = decimal.NewFromString(cash); err != nil {
		return nil, fmt.Errorf("invalid cash_balance %q: %w", cash, err)
	}

	return &p, nil
}

// GetHoldings returns all holdings of a portfolio.
func (r *Repository) GetHoldings(portfolioID string) ([]domain.Holding, error) {
	query := "SELECT " + holdingColumns + " FROM holdings WHERE portfolio_id = ? ORDER BY symbol"

	rows, err := r.portfolioDB.Query(query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []domain.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}

	return holdings, rows.Err()
}

// ListPortfolios returns every portfolio, used by the scheduler to fan the
// month-end run out.
func (r *Repository) ListPortfolios() ([]domain.Portfolio, error) {
	query := `SELECT id, user_id, active_constraint_set_id, total_market_value, cash_balance
		FROM portfolios ORDER BY id`

	rows, err := r.portfolioDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	var portfolios []domain.Portfolio
	for rows.Next() {
		var (
			p           domain.Portfolio
			marketValue string
			cash        string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.ActiveConstraintSetID, &marketValue, &cash); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		if p.TotalMarketValue, err = decimal.NewFromString(marketValue); err != nil {
			return nil, fmt.Errorf("invalid total_market_value %q: %w", marketValue, err)
		}
		if p.CashBalance, err = decimal.NewFromString(cash); err != nil {
			return nil, fmt.Errorf("invalid cash_balance %q: %w", cash, err)
		}
		portfolios = append(portfolios, p)
	}

	return portfolios, rows.Err()
}

// UpsertHolding writes one holding row. Used by the ingestion layer and
// tests, never by the pipeline.
func (r *Repository) UpsertHolding(h domain.Holding) error {
	query := `INSERT OR REPLACE INTO holdings
		(portfolio_id, symbol, sector, quantity, cost_basis, market_value, weight_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.portfolioDB.Exec(query,
		h.PortfolioID,
		strings.ToUpper(strings.TrimSpace(h.Symbol)),
		h.Sector,
		h.Quantity.String(),
		h.CostBasis.String(),
		h.MarketValue.String(),
		h.WeightPct.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert holding %s: %w", h.Symbol, err)
	}
	return nil
}

// UpsertPortfolio writes one portfolio row. Ingestion/test helper.
func (r *Repository) UpsertPortfolio(p domain.Portfolio) error {
	query := `INSERT OR REPLACE INTO portfolios
		(id, user_id, active_constraint_set_id, total_market_value, cash_balance, updated_at)
		VALUES (?, ?, ?, ?, ?, strftime('%s','now'))`

	_, err := r.portfolioDB.Exec(query,
		p.ID, p.UserID, p.ActiveConstraintSetID,
		p.TotalMarketValue.String(), p.CashBalance.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert portfolio %s: %w", p.ID, err)
	}
	return nil
}

func scanHolding(rows *sql.Rows) (domain.Holding, error) {
	var (
		h        domain.Holding
		quantity, costBasis, marketValue, weight string
	)

	if err := rows.Scan(&h.PortfolioID, &h.Symbol, &h.Sector, &quantity, &costBasis, &marketValue, &weight); err != nil {
		return domain.Holding{}, err
	}

	var err error
	if h.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return domain.Holding{}, fmt.Errorf("invalid quantity %q: %w", quantity, err)
	}
	if h.CostBasis, err = decimal.NewFromString(costBasis); err != nil {
		return domain.Holding{}, fmt.Errorf("invalid cost_basis %q: %w", costBasis, err)
	}
	if h.MarketValue, err = decimal.NewFromString(marketValue); err != nil {
		return domain.Holding{}, fmt.Errorf("invalid market_value %q: %w", marketValue, err)
	}
	if h.WeightPct, err = decimal.NewFromString(weight); err != nil {
		return domain.Holding{}, fmt.Errorf("invalid weight_pct %q: %w", weight, err)
	}

	return h, nil
}
