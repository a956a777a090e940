// Package progress provides progress reporting for recommendation runs.
// The pipeline emits coarse-grained milestones; delivery (WebSocket fan-out,
// logging) is the caller's concern.
package progress

// Milestone identifies a pipeline stage boundary.
type Milestone string

const (
	MilestoneUniverseLoaded    Milestone = "universe_loaded"
	MilestoneFactorsCalculated Milestone = "factors_calculated"
	MilestoneCompositeReady    Milestone = "composite_ready"
	MilestoneRankingComplete   Milestone = "ranking_complete"
	MilestoneSelectionComplete Milestone = "selection_complete"
)

// Percent returns the rough completion percentage for a milestone.
func (m Milestone) Percent() int {
	switch m {
	case MilestoneUniverseLoaded:
		return 10
	case MilestoneFactorsCalculated:
		return 40
	case MilestoneCompositeReady:
		return 50
	case MilestoneRankingComplete:
		return 60
	case MilestoneSelectionComplete:
		return 90
	}
	return 0
}

// Update is one progress report for a run.
type Update struct {
	RunID     string
	Milestone Milestone
	Percent   int
	Message   string
}

// Callback receives progress updates during a run.
// A nil Callback is valid and is safely ignored by Report().
type Callback func(update Update)

// Report safely invokes the callback if non-nil, filling in the milestone's
// percentage.
func Report(cb Callback, runID string, m Milestone, message string) {
	if cb != nil {
		cb(Update{RunID: runID, Milestone: m, Percent: m.Percent(), Message: message})
	}
}
