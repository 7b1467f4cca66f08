// Package forecast projects goal completion from progress history. The
// engine is pure: it takes a goal, its snapshots, and a clock value, and
// returns a projection without touching storage.
package forecast

import (
	"sort"
	"time"

	"github.com/sells-group/crm-goals/internal/model"
)

// Status classifies a goal's trajectory against its deadline.
type Status string

const (
	StatusInsufficientData Status = "insufficient_data"
	StatusAhead            Status = "ahead"
	StatusOnTrack          Status = "on_track"
	StatusBehind           Status = "behind"
	StatusAtRisk           Status = "at_risk"
)

// Confidence grades a projection by how much history backs it.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// aheadMargin is how far above the required pace velocity must be before a
// goal is called ahead rather than merely on track.
const aheadMargin = 1.2

// minSnapshots is the number of history points needed to compute a velocity.
const minSnapshots = 2

// Projection is the full forecast for one goal.
type Projection struct {
	GoalID             string     `json:"goal_id"`
	CurrentProgress    float64    `json:"current_progress"`
	TargetValue        float64    `json:"target_value"`
	ProgressPercentage float64    `json:"progress_percentage"`
	DailyVelocity      float64    `json:"daily_velocity"`
	WeeklyVelocity     float64    `json:"weekly_velocity"`
	RequiredVelocity   float64    `json:"required_daily_velocity"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	DaysRemaining      int        `json:"days_remaining"`
	Status             Status     `json:"forecast_status"`
	Confidence         Confidence `json:"confidence_level"`
	DataPoints         int        `json:"data_points"`
	Message            string     `json:"message,omitempty"`
}

// Project forecasts the goal's trajectory from its snapshot history.
// Velocity is the mean of pairwise progress deltas divided by the days
// between snapshots; same-instant pairs contribute nothing.
func Project(goal *model.Goal, snapshots []model.ProgressSnapshot, now time.Time) *Projection {
	var target float64
	if goal.TargetValue != nil {
		target = *goal.TargetValue
	}

	p := &Projection{
		GoalID:             goal.ID,
		CurrentProgress:    goal.Progress,
		TargetValue:        target,
		ProgressPercentage: goal.ProgressPercentage(),
		DaysRemaining:      goal.DaysRemaining(now),
		DataPoints:         len(snapshots),
	}

	if len(snapshots) < minSnapshots {
		p.Status = StatusInsufficientData
		p.Confidence = ConfidenceLow
		p.Message = "insufficient historical data for forecasting (minimum 2 snapshots required)"
		return p
	}

	ordered := make([]model.ProgressSnapshot, len(snapshots))
	copy(ordered, snapshots)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].TakenAt.Before(ordered[j].TakenAt)
	})

	var sum float64
	var samples int
	for i := 1; i < len(ordered); i++ {
		days := ordered[i].TakenAt.Sub(ordered[i-1].TakenAt).Hours() / 24
		if days <= 0 {
			continue
		}
		sum += (ordered[i].ProgressValue - ordered[i-1].ProgressValue) / days
		samples++
	}
	if samples > 0 {
		p.DailyVelocity = sum / float64(samples)
	}
	p.WeeklyVelocity = p.DailyVelocity * 7

	remaining := target - goal.Progress
	p.Status = classify(p.DailyVelocity, remaining, p.DaysRemaining, goal.EndDate, now, p)

	switch {
	case len(ordered) >= 10:
		p.Confidence = ConfidenceHigh
	case len(ordered) >= 5:
		p.Confidence = ConfidenceMedium
	default:
		p.Confidence = ConfidenceLow
	}
	return p
}

func classify(velocity, remaining float64, daysRemaining int, endDate *time.Time, now time.Time, p *Projection) Status {
	if daysRemaining <= 0 {
		// Past the deadline (or no deadline). The pace comparison is
		// meaningless; only whether the target was reached matters.
		if remaining > 0 && endDate != nil {
			return StatusBehind
		}
		return StatusOnTrack
	}

	p.RequiredVelocity = remaining / float64(daysRemaining)

	switch {
	case velocity > 0:
		daysToComplete := remaining / velocity
		eta := now.UTC().Truncate(24 * time.Hour).Add(time.Duration(daysToComplete * 24 * float64(time.Hour)))
		p.EstimatedCompletion = &eta
		if endDate != nil && eta.After(*endDate) {
			return StatusBehind
		}
		if velocity >= p.RequiredVelocity*aheadMargin {
			return StatusAhead
		}
		return StatusOnTrack
	case velocity < 0:
		return StatusAtRisk
	default:
		if remaining > 0 {
			return StatusAtRisk
		}
		return StatusOnTrack
	}
}
