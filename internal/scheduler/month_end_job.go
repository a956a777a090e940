package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/advisor/internal/domain"
	"github.com/quantfolio/advisor/internal/modules/recommendation"
	"github.com/quantfolio/advisor/internal/progress"
)

// RunGenerator executes one recommendation run.
type RunGenerator interface {
	Generate(req recommendation.RunRequest) (*recommendation.RunResult, error)
}

// PortfolioLister enumerates the portfolios scheduled runs cover.
type PortfolioLister interface {
	ListPortfolios() ([]domain.Portfolio, error)
}

// MonthEndJob evaluates the month-end cadence once per weekday evening and
// generates SCHEDULED runs on T-3, T-1 and T0. All phases produce full runs;
// they differ only in how close to the rebalance date their data is.
type MonthEndJob struct {
	generator  RunGenerator
	portfolios PortfolioLister
	universeID string
	progressCb progress.Callback
	now        func() time.Time
	log        zerolog.Logger
}

// NewMonthEndJob creates the month-end run job.
func NewMonthEndJob(
	generator RunGenerator,
	portfolios PortfolioLister,
	universeID string,
	progressCb progress.Callback,
	log zerolog.Logger,
) *MonthEndJob {
	return &MonthEndJob{
		generator:  generator,
		portfolios: portfolios,
		universeID: universeID,
		progressCb: progressCb,
		now:        time.Now,
		log:        log.With().Str("job", "month_end_runs").Logger(),
	}
}

// Name implements Job.
func (j *MonthEndJob) Name() string {
	return "month_end_runs"
}

// Run implements Job. A failed portfolio does not stop the others; each
// failure is already recorded on its own run row.
func (j *MonthEndJob) Run() error {
	today := j.now()
	phase := PhaseFor(today)
	if phase == PhaseNone {
		j.log.Debug().Str("date", today.Format("2006-01-02")).Msg("No month-end phase today")
		return nil
	}

	scheduledDate := LastBusinessDay(today)

	portfolios, err := j.portfolios.ListPortfolios()
	if err != nil {
		return err
	}

	j.log.Info().
		Str("phase", string(phase)).
		Str("scheduled_date", scheduledDate.Format("2006-01-02")).
		Int("portfolios", len(portfolios)).
		Msg("Month-end run phase triggered")

	for _, p := range portfolios {
		_, err := j.generator.Generate(recommendation.RunRequest{
			UserID:        p.UserID,
			PortfolioID:   p.ID,
			UniverseID:    j.universeID,
			RunType:       domain.RunScheduled,
			ScheduledDate: &scheduledDate,
			Progress:      j.progressCb,
		})
		if err != nil {
			j.log.Error().
				Err(err).
				Str("portfolio_id", p.ID).
				Str("phase", string(phase)).
				Msg("Scheduled run failed")
		}
	}
	return nil
}
