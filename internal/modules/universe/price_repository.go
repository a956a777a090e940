package universe

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// PriceRepository reads daily closing prices. The momentum raw-value
// provider is its only pipeline consumer.
type PriceRepository struct {
	universeDB *sql.DB
	log        zerolog.Logger
}

// NewPriceRepository creates a new price repository.
func NewPriceRepository(universeDB *sql.DB, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		universeDB: universeDB,
		log:        log.With().Str("repo", "prices").Logger(),
	}
}

// GetCloses returns up to limit daily closes for a symbol ending at asOf,
// oldest first.
func (r *PriceRepository) GetCloses(symbol string, asOf time.Time, limit int) ([]float64, error) {
	query := `SELECT close FROM daily_prices
		WHERE symbol = ? AND price_date <= ?
		ORDER BY price_date DESC LIMIT ?`

	rows, err := r.universeDB.Query(query,
		strings.ToUpper(strings.TrimSpace(symbol)),
		asOf.Format("2006-01-02"),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query closes for %s: %w", symbol, err)
	}
	defer rows.Close()

	var descending []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan close: %w", err)
		}
		descending = append(descending, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(descending)-1; i < j; i, j = i+1, j-1 {
		descending[i], descending[j] = descending[j], descending[i]
	}

	return descending, nil
}

// InsertClose records one daily close.
func (r *PriceRepository) InsertClose(symbol string, date time.Time, close float64) error {
	_, err := r.universeDB.Exec(
		`INSERT OR REPLACE INTO daily_prices (symbol, price_date, close) VALUES (?, ?, ?)`,
		strings.ToUpper(strings.TrimSpace(symbol)),
		date.Format("2006-01-02"),
		close,
	)
	if err != nil {
		return fmt.Errorf("failed to insert close for %s: %w", symbol, err)
	}
	return nil
}
