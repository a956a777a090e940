package constraints

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

// ErrNoActiveConstraintSet is returned when a user has no active set. Callers
// surface this as a precondition failure, not an empty default.
var ErrNoActiveConstraintSet = errors.New("no active constraint set")

// ErrConstraintSetNotFound is returned for unknown ids.
var ErrConstraintSetNotFound = errors.New("constraint set not found")

const constraintColumns = `id, user_id, name, version, is_active,
max_name_weight_large_pct, max_name_weight_mid_pct, max_name_weight_small_pct,
max_sector_exposure_pct, turnover_cap_pct, liquidity_floor_adv_usd,
weight_deadband_bps, spread_threshold_bps, earnings_blackout_hours,
cost_margin_required_bps, created_at`

// Repository stores constraint sets. Saved versions are immutable; creating
// a version inserts a new row and flips the user's active pointer in one
// transaction.
type Repository struct {
	advisorDB *sql.DB
	log       zerolog.Logger
}

// NewRepository creates a new constraint set repository.
func NewRepository(advisorDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		advisorDB: advisorDB,
		log:       log.With().Str("repo", "constraint_sets").Logger(),
	}
}

// GetActive returns the user's active constraint set.
func (r *Repository) GetActive(userID string) (domain.ConstraintSet, error) {
	row := r.advisorDB.QueryRow(
		"SELECT "+constraintColumns+" FROM constraint_sets WHERE user_id = ? AND is_active = 1",
		userID)

	set, err := scanConstraintSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConstraintSet{}, ErrNoActiveConstraintSet
	}
	if err != nil {
		return domain.ConstraintSet{}, fmt.Errorf("failed to load active constraint set: %w", err)
	}
	return set, nil
}

// GetByID returns one constraint set version.
func (r *Repository) GetByID(id string) (domain.ConstraintSet, error) {
	row := r.advisorDB.QueryRow(
		"SELECT "+constraintColumns+" FROM constraint_sets WHERE id = ?", id)

	set, err := scanConstraintSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConstraintSet{}, ErrConstraintSetNotFound
	}
	if err != nil {
		return domain.ConstraintSet{}, fmt.Errorf("failed to load constraint set %s: %w", id, err)
	}
	return set, nil
}

// ListVersions returns all of a user's versions, newest first.
func (r *Repository) ListVersions(userID string) ([]domain.ConstraintSet, error) {
	rows, err := r.advisorDB.Query(
		"SELECT "+constraintColumns+" FROM constraint_sets WHERE user_id = ? ORDER BY version DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list constraint sets: %w", err)
	}
	defer rows.Close()

	var sets []domain.ConstraintSet
	for rows.Next() {
		set, err := scanConstraintSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan constraint set: %w", err)
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// CreateVersion saves a new version for the user and makes it active. The
// id, version number and created-at are assigned here; whatever the caller
// set on those fields is ignored.
func (r *Repository) CreateVersion(set domain.ConstraintSet) (domain.ConstraintSet, error) {
	tx, err := r.advisorDB.Begin()
	if err != nil {
		return domain.ConstraintSet{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	if err := tx.QueryRow(
		"SELECT MAX(version) FROM constraint_sets WHERE user_id = ?", set.UserID,
	).Scan(&maxVersion); err != nil {
		return domain.ConstraintSet{}, fmt.Errorf("failed to find latest version: %w", err)
	}

	set.ID = uuid.New().String()
	set.Version = int(maxVersion.Int64) + 1
	set.IsActive = true
	set.CreatedAt = time.Now().UTC()

	if _, err := tx.Exec(
		"UPDATE constraint_sets SET is_active = 0 WHERE user_id = ?", set.UserID); err != nil {
		return domain.ConstraintSet{}, fmt.Errorf("failed to deactivate previous versions: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO constraint_sets (`+constraintColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		set.ID, set.UserID, set.Name, set.Version, boolToInt(set.IsActive),
		set.MaxNameWeightLargeCapPct.String(), set.MaxNameWeightMidCapPct.String(),
		set.MaxNameWeightSmallCapPct.String(), set.MaxSectorExposurePct.String(),
		set.TurnoverCapPct.String(), set.LiquidityFloorADVUSD.String(),
		set.WeightDeadbandBps, set.SpreadThresholdBps, set.EarningsBlackoutHours,
		set.CostMarginRequiredBps, set.CreatedAt.Unix(),
	); err != nil {
		return domain.ConstraintSet{}, fmt.Errorf("failed to insert constraint set: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.ConstraintSet{}, fmt.Errorf("failed to commit constraint set: %w", err)
	}

	r.log.Info().
		Str("user_id", set.UserID).
		Int("version", set.Version).
		Msg("Constraint set version created")

	return set, nil
}

// Activate flips the user's active pointer to an existing version.
func (r *Repository) Activate(userID, id string) error {
	tx, err := r.advisorDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"UPDATE constraint_sets SET is_active = 0 WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to deactivate versions: %w", err)
	}

	res, err := tx.Exec(
		"UPDATE constraint_sets SET is_active = 1 WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to activate constraint set %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check activation: %w", err)
	}
	if affected == 0 {
		return ErrConstraintSetNotFound
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConstraintSet(row rowScanner) (domain.ConstraintSet, error) {
	var (
		set       domain.ConstraintSet
		isActive  int
		createdAt int64
		decimals  [6]string
	)

	if err := row.Scan(&set.ID, &set.UserID, &set.Name, &set.Version, &isActive,
		&decimals[0], &decimals[1], &decimals[2], &decimals[3], &decimals[4], &decimals[5],
		&set.WeightDeadbandBps, &set.SpreadThresholdBps, &set.EarningsBlackoutHours,
		&set.CostMarginRequiredBps, &createdAt); err != nil {
		return domain.ConstraintSet{}, err
	}

	set.IsActive = isActive != 0
	set.CreatedAt = time.Unix(createdAt, 0).UTC()

	for i, dst := range []*decimal.Decimal{
		&set.MaxNameWeightLargeCapPct, &set.MaxNameWeightMidCapPct,
		&set.MaxNameWeightSmallCapPct, &set.MaxSectorExposurePct,
		&set.TurnoverCapPct, &set.LiquidityFloorADVUSD,
	} {
		d, err := decimal.NewFromString(decimals[i])
		if err != nil {
			return domain.ConstraintSet{}, fmt.Errorf("invalid decimal %q: %w", decimals[i], err)
		}
		*dst = d
	}

	return set, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
