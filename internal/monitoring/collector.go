package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-goals/internal/model"
	"github.com/sells-group/crm-goals/internal/store"
)

// MetricsSnapshot holds a point-in-time view of goal subsystem health.
type MetricsSnapshot struct {
	// Goal population by lifecycle state.
	TotalGoals     int `json:"total_goals"`
	ActiveGoals    int `json:"active_goals"`
	DraftGoals     int `json:"draft_goals"`
	CompletedGoals int `json:"completed_goals"`
	CancelledGoals int `json:"cancelled_goals"`

	// Calculation health over active goals.
	FailedCalculations int `json:"failed_calculations"`
	NeverCalculated    int `json:"never_calculated"`
	StaleCalculations  int `json:"stale_calculations"`
	ManualOverrides    int `json:"manual_overrides"`

	// Deadline health.
	OverdueActive int `json:"overdue_active"`

	// Snapshots written within the lookback window.
	SnapshotVolume int `json:"snapshot_volume"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers goal health metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of goal health over the given lookback window.
// A calculation is stale when it last ran before the window opened.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	goals, err := c.store.ListGoals(ctx, store.GoalFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list goals")
	}

	snap.TotalGoals = len(goals)
	for i := range goals {
		g := &goals[i]
		switch g.Status {
		case model.GoalStatusActive:
			snap.ActiveGoals++
		case model.GoalStatusDraft:
			snap.DraftGoals++
		case model.GoalStatusCompleted:
			snap.CompletedGoals++
		case model.GoalStatusCancelled:
			snap.CancelledGoals++
		}

		if !g.IsActive() {
			continue
		}
		if g.CalculationFailed {
			snap.FailedCalculations++
		}
		if g.IsOverdue(now) {
			snap.OverdueActive++
		}
		if !g.IsAutoCalculated() {
			snap.ManualOverrides++
			continue
		}
		switch {
		case g.LastCalculatedAt == nil:
			snap.NeverCalculated++
		case g.LastCalculatedAt.Before(cutoff):
			snap.StaleCalculations++
		}
	}

	volume, err := c.snapshotVolume(ctx, goals, cutoff)
	if err != nil {
		return nil, err
	}
	snap.SnapshotVolume = volume

	return snap, nil
}

func (c *Collector) snapshotVolume(ctx context.Context, goals []model.Goal, cutoff time.Time) (int, error) {
	var volume int
	for i := range goals {
		snaps, err := c.store.ListSnapshots(ctx, goals[i].ID)
		if err != nil {
			return 0, eris.Wrapf(err, "monitoring: list snapshots for goal %s", goals[i].ID)
		}
		for _, s := range snaps {
			if !s.TakenAt.Before(cutoff) {
				volume++
			}
		}
	}
	return volume, nil
}
