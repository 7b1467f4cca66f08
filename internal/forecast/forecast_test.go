package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-goals/internal/model"
)

var testNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func forecastGoal(progress float64, target float64, endDate *time.Time) *model.Goal {
	return &model.Goal{
		ID:          "goal-1",
		Name:        "pipeline",
		Type:        model.GoalTypeRevenue,
		TargetValue: &target,
		Progress:    progress,
		EndDate:     endDate,
		Status:      model.GoalStatusActive,
	}
}

// snapshotSeries builds evenly spaced snapshots ending at testNow, one per
// step, with the given progress values.
func snapshotSeries(step time.Duration, values ...float64) []model.ProgressSnapshot {
	snaps := make([]model.ProgressSnapshot, len(values))
	start := testNow.Add(-step * time.Duration(len(values)-1))
	for i, v := range values {
		snaps[i] = model.ProgressSnapshot{
			ID:            "snap",
			GoalID:        "goal-1",
			ProgressValue: v,
			TakenAt:       start.Add(step * time.Duration(i)),
		}
	}
	return snaps
}

func days(n int) *time.Time {
	t := testNow.AddDate(0, 0, n)
	return &t
}

func TestProject_InsufficientData(t *testing.T) {
	g := forecastGoal(10, 100, days(30))

	p := Project(g, nil, testNow)
	assert.Equal(t, StatusInsufficientData, p.Status)
	assert.Equal(t, ConfidenceLow, p.Confidence)
	assert.Zero(t, p.DataPoints)
	assert.NotEmpty(t, p.Message)

	p = Project(g, snapshotSeries(24*time.Hour, 10), testNow)
	assert.Equal(t, StatusInsufficientData, p.Status)
	assert.Equal(t, 1, p.DataPoints)
}

func TestProject_Ahead(t *testing.T) {
	// 5 units/day against a required pace of 50 remaining / 30 days.
	g := forecastGoal(50, 100, days(30))
	snaps := snapshotSeries(24*time.Hour, 40, 45, 50)

	p := Project(g, snaps, testNow)
	assert.Equal(t, StatusAhead, p.Status)
	assert.InDelta(t, 5.0, p.DailyVelocity, 1e-9)
	assert.InDelta(t, 35.0, p.WeeklyVelocity, 1e-9)
	require.NotNil(t, p.EstimatedCompletion)
	assert.Equal(t, testNow.AddDate(0, 0, 10), *p.EstimatedCompletion)
}

func TestProject_OnTrack(t *testing.T) {
	// 1 unit/day, exactly the required pace; below the ahead margin.
	g := forecastGoal(50, 100, days(50))
	snaps := snapshotSeries(24*time.Hour, 48, 49, 50)

	p := Project(g, snaps, testNow)
	assert.Equal(t, StatusOnTrack, p.Status)
	assert.InDelta(t, 1.0, p.RequiredVelocity, 1e-9)
}

func TestProject_Behind(t *testing.T) {
	// 0.5 units/day needs 100 more days; only 30 remain.
	g := forecastGoal(50, 100, days(30))
	snaps := snapshotSeries(24*time.Hour, 49, 49.5, 50)

	p := Project(g, snaps, testNow)
	assert.Equal(t, StatusBehind, p.Status)
	require.NotNil(t, p.EstimatedCompletion)
	assert.True(t, p.EstimatedCompletion.After(*g.EndDate))
}

func TestProject_BehindPastDeadline(t *testing.T) {
	g := forecastGoal(50, 100, days(-5))
	snaps := snapshotSeries(24*time.Hour, 40, 45, 50)

	p := Project(g, snaps, testNow)
	assert.Equal(t, StatusBehind, p.Status)
	assert.Negative(t, p.DaysRemaining)
}

func TestProject_MetTargetPastDeadline(t *testing.T) {
	g := forecastGoal(100, 100, days(-5))
	snaps := snapshotSeries(24*time.Hour, 90, 95, 100)

	p := Project(g, snaps, testNow)
	assert.Equal(t, StatusOnTrack, p.Status)
}

func TestProject_NoEndDate(t *testing.T) {
	// Without a deadline there is no pace to miss.
	g := forecastGoal(50, 100, nil)
	snaps := snapshotSeries(24*time.Hour, 40, 45, 50)

	p := Project(g, snaps, testNow)
	assert.Equal(t, StatusOnTrack, p.Status)
	assert.Zero(t, p.DaysRemaining)
}

func TestProject_AtRisk_NegativeVelocity(t *testing.T) {
	g := forecastGoal(40, 100, days(30))
	snaps := snapshotSeries(24*time.Hour, 50, 45, 40)

	p := Project(g, snaps, testNow)
	assert.Equal(t, StatusAtRisk, p.Status)
	assert.Negative(t, p.DailyVelocity)
	assert.Nil(t, p.EstimatedCompletion)
}

func TestProject_AtRisk_Stalled(t *testing.T) {
	g := forecastGoal(40, 100, days(30))
	snaps := snapshotSeries(24*time.Hour, 40, 40, 40)

	p := Project(g, snaps, testNow)
	assert.Equal(t, StatusAtRisk, p.Status)
	assert.Zero(t, p.DailyVelocity)
}

func TestProject_SameInstantSnapshotsSkipped(t *testing.T) {
	g := forecastGoal(50, 100, days(30))
	snaps := []model.ProgressSnapshot{
		{GoalID: "goal-1", ProgressValue: 40, TakenAt: testNow.AddDate(0, 0, -1)},
		{GoalID: "goal-1", ProgressValue: 45, TakenAt: testNow},
		{GoalID: "goal-1", ProgressValue: 50, TakenAt: testNow},
	}

	p := Project(g, snaps, testNow)
	assert.InDelta(t, 5.0, p.DailyVelocity, 1e-9, "zero-day pair must not poison the mean")
}

func TestProject_UnsortedSnapshots(t *testing.T) {
	g := forecastGoal(50, 100, days(30))
	snaps := []model.ProgressSnapshot{
		{GoalID: "goal-1", ProgressValue: 50, TakenAt: testNow},
		{GoalID: "goal-1", ProgressValue: 40, TakenAt: testNow.AddDate(0, 0, -2)},
		{GoalID: "goal-1", ProgressValue: 45, TakenAt: testNow.AddDate(0, 0, -1)},
	}

	p := Project(g, snaps, testNow)
	assert.InDelta(t, 5.0, p.DailyVelocity, 1e-9)
	assert.Equal(t, StatusAhead, p.Status)
}

func TestProject_ConfidenceTiers(t *testing.T) {
	g := forecastGoal(50, 100, days(30))

	tiers := []struct {
		points int
		want   Confidence
	}{
		{2, ConfidenceLow},
		{4, ConfidenceLow},
		{5, ConfidenceMedium},
		{9, ConfidenceMedium},
		{10, ConfidenceHigh},
	}
	for _, tc := range tiers {
		values := make([]float64, tc.points)
		for i := range values {
			values[i] = float64(40 + i)
		}
		p := Project(g, snapshotSeries(24*time.Hour, values...), testNow)
		assert.Equal(t, tc.want, p.Confidence, "with %d snapshots", tc.points)
	}
}

func TestProject_TargetlessGoal(t *testing.T) {
	g := forecastGoal(50, 0, days(30))
	g.TargetValue = nil
	snaps := snapshotSeries(24*time.Hour, 40, 45, 50)

	p := Project(g, snaps, testNow)
	assert.Zero(t, p.TargetValue)
	assert.Zero(t, p.ProgressPercentage)
	assert.Equal(t, StatusAhead, p.Status, "no remaining work against a zero target")
}
