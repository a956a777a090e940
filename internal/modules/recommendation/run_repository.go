package recommendation

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("recommendation run not found")

// ErrNoFinalizedRun is returned when a user has no finalized run to compare
// or preview against.
var ErrNoFinalizedRun = errors.New("no finalized recommendation run")

const runColumns = `id, user_id, portfolio_id, universe_id, constraint_set_id,
run_type, status, decision, scheduled_date, started_at, completed_at,
data_freshness_ok, data_freshness_snapshot, recommendation_count,
expected_alpha_bps, estimated_cost_bps, error_message`

// RunRepository stores run metadata in advisor.db.
type RunRepository struct {
	advisorDB *sql.DB
	log       zerolog.Logger
}

// NewRunRepository creates a run repository.
func NewRunRepository(advisorDB *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		advisorDB: advisorDB,
		log:       log.With().Str("repo", "recommendation_runs").Logger(),
	}
}

// Create inserts a new run row, normally in RUNNING status.
func (r *RunRepository) Create(run domain.RecommendationRun) error {
	var scheduled any
	if run.ScheduledDate != nil {
		scheduled = run.ScheduledDate.Format("2006-01-02")
	}
	var completed any
	if run.CompletedAt != nil {
		completed = run.CompletedAt.Unix()
	}

	_, err := r.advisorDB.Exec(`INSERT INTO recommendation_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.UserID, run.PortfolioID, run.UniverseID, run.ConstraintSetID,
		string(run.RunType), string(run.Status), string(run.Decision),
		scheduled, run.StartedAt.Unix(), completed,
		boolToInt(run.DataFreshnessOK), run.DataFreshnessSnapshot,
		run.RecommendationCount, run.ExpectedAlphaBps.String(),
		run.EstimatedCostBps.String(), run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// Complete marks a run COMPLETED and records its aggregates.
func (r *RunRepository) Complete(runID string, count int, avgAlphaBps, avgCostBps decimal.Decimal) error {
	return r.finish(runID, domain.RunCompleted, count, avgAlphaBps, avgCostBps, "")
}

// Fail marks a run FAILED with the error text captured verbatim.
func (r *RunRepository) Fail(runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.finish(runID, domain.RunFailed, 0, decimal.Zero, decimal.Zero, msg)
}

func (r *RunRepository) finish(runID string, status domain.RunStatus, count int, alpha, cost decimal.Decimal, errMsg string) error {
	res, err := r.advisorDB.Exec(`UPDATE recommendation_runs
		SET status = ?, completed_at = ?, recommendation_count = ?,
		    expected_alpha_bps = ?, estimated_cost_bps = ?, error_message = ?
		WHERE id = ?`,
		string(status), time.Now().Unix(), count, alpha.String(), cost.String(), errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return requireRow(res, runID)
}

// Finalize advances a COMPLETED run to FINALIZED, making it eligible as a
// comparison baseline.
func (r *RunRepository) Finalize(runID string) error {
	res, err := r.advisorDB.Exec(`UPDATE recommendation_runs SET status = ?
		WHERE id = ? AND status = ?`,
		string(domain.RunFinalized), runID, string(domain.RunCompleted))
	if err != nil {
		return fmt.Errorf("failed to finalize run %s: %w", runID, err)
	}
	return requireRow(res, runID)
}

// SetDecision records the user's approval or rejection of a run.
func (r *RunRepository) SetDecision(runID string, decision domain.RunDecision) error {
	res, err := r.advisorDB.Exec(
		"UPDATE recommendation_runs SET decision = ? WHERE id = ?",
		string(decision), runID)
	if err != nil {
		return fmt.Errorf("failed to set decision on run %s: %w", runID, err)
	}
	return requireRow(res, runID)
}

// GetByID loads one run.
func (r *RunRepository) GetByID(runID string) (domain.RecommendationRun, error) {
	row := r.advisorDB.QueryRow(
		"SELECT "+runColumns+" FROM recommendation_runs WHERE id = ?", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RecommendationRun{}, ErrRunNotFound
	}
	if err != nil {
		return domain.RecommendationRun{}, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return run, nil
}

// ListByUser returns a user's runs newest first, optionally filtered by run
// type.
func (r *RunRepository) ListByUser(userID string, runType *domain.RunType) ([]domain.RecommendationRun, error) {
	query := "SELECT " + runColumns + " FROM recommendation_runs WHERE user_id = ?"
	args := []any{userID}
	if runType != nil {
		query += " AND run_type = ?"
		args = append(args, string(*runType))
	}
	query += " ORDER BY started_at DESC"

	rows, err := r.advisorDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RecommendationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestScheduledCompleted returns the newest COMPLETED or FINALIZED
// SCHEDULED run; off-cycle runs never surface as "current recommendations".
func (r *RunRepository) LatestScheduledCompleted(userID string) (domain.RecommendationRun, error) {
	row := r.advisorDB.QueryRow(`SELECT `+runColumns+` FROM recommendation_runs
		WHERE user_id = ? AND run_type = ? AND status IN (?, ?)
		ORDER BY completed_at DESC LIMIT 1`,
		userID, string(domain.RunScheduled),
		string(domain.RunCompleted), string(domain.RunFinalized))

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RecommendationRun{}, ErrRunNotFound
	}
	if err != nil {
		return domain.RecommendationRun{}, fmt.Errorf("failed to load latest scheduled run: %w", err)
	}
	return run, nil
}

// PreviousFinalized returns the newest FINALIZED run for the user completed
// strictly before the given time. A nil before matches any finalized run.
func (r *RunRepository) PreviousFinalized(userID string, before *time.Time) (domain.RecommendationRun, error) {
	query := `SELECT ` + runColumns + ` FROM recommendation_runs
		WHERE user_id = ? AND status = ? AND completed_at IS NOT NULL`
	args := []any{userID, string(domain.RunFinalized)}
	if before != nil {
		query += " AND completed_at < ?"
		args = append(args, before.Unix())
	}
	query += " ORDER BY completed_at DESC LIMIT 1"

	run, err := scanRun(r.advisorDB.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RecommendationRun{}, ErrNoFinalizedRun
	}
	if err != nil {
		return domain.RecommendationRun{}, fmt.Errorf("failed to load previous finalized run: %w", err)
	}
	return run, nil
}

func requireRow(res sql.Result, runID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of run %s: %w", runID, err)
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.RecommendationRun, error) {
	var (
		run                        domain.RecommendationRun
		runType, status, decision  string
		scheduled                  sql.NullString
		startedAt                  int64
		completedAt                sql.NullInt64
		freshOK                    int
		alpha, cost                string
	)

	if err := row.Scan(&run.ID, &run.UserID, &run.PortfolioID, &run.UniverseID,
		&run.ConstraintSetID, &runType, &status, &decision, &scheduled,
		&startedAt, &completedAt, &freshOK, &run.DataFreshnessSnapshot,
		&run.RecommendationCount, &alpha, &cost, &run.ErrorMessage); err != nil {
		return domain.RecommendationRun{}, err
	}

	run.RunType = domain.RunType(runType)
	run.Status = domain.RunStatus(status)
	run.Decision = domain.RunDecision(decision)
	run.StartedAt = time.Unix(startedAt, 0).UTC()
	run.DataFreshnessOK = freshOK != 0

	if scheduled.Valid {
		d, err := time.Parse("2006-01-02", scheduled.String)
		if err != nil {
			return domain.RecommendationRun{}, fmt.Errorf("invalid scheduled_date %q: %w", scheduled.String, err)
		}
		run.ScheduledDate = &d
	}
	if completedAt.Valid {
		c := time.Unix(completedAt.Int64, 0).UTC()
		run.CompletedAt = &c
	}

	var err error
	if run.ExpectedAlphaBps, err = decimal.NewFromString(alpha); err != nil {
		return domain.RecommendationRun{}, fmt.Errorf("invalid expected_alpha_bps %q: %w", alpha, err)
	}
	if run.EstimatedCostBps, err = decimal.NewFromString(cost); err != nil {
		return domain.RecommendationRun{}, fmt.Errorf("invalid estimated_cost_bps %q: %w", cost, err)
	}

	return run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
