package analytics

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-goals/internal/model"
	"github.com/sells-group/crm-goals/internal/store"
)

var reportNow = time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)

func newTestReader(t *testing.T) (*Reader, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "goals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return New(st), st
}

var goalSeq int

func seedGoal(t *testing.T, st store.Store, mutate func(*model.Goal)) *model.Goal {
	t.Helper()
	goalSeq++
	target := 100.0
	g := &model.Goal{
		ID:                fmt.Sprintf("goal-%d", goalSeq),
		Name:              fmt.Sprintf("goal %d", goalSeq),
		Type:              model.GoalTypeRevenue,
		TargetValue:       &target,
		OwnerType:         model.OwnerTypeTeam,
		OwnerID:           "team-west",
		Status:            model.GoalStatusActive,
		CalculationSource: model.SourceAutoCalculated,
		CreatedAt:         reportNow.AddDate(0, 0, -60),
		UpdatedAt:         reportNow.AddDate(0, 0, -60),
	}
	if mutate != nil {
		mutate(g)
	}
	require.NoError(t, st.CreateGoal(context.Background(), g))
	return g
}

func TestReport_Empty(t *testing.T) {
	r, _ := newTestReader(t)

	rep, err := r.Report(context.Background(), store.GoalFilter{}, reportNow)
	require.NoError(t, err)
	assert.Zero(t, rep.TotalGoals)
	assert.False(t, rep.HasSufficientData)
	assert.Nil(t, rep.OldestGoalDate)
}

func TestReport_CountsAndRates(t *testing.T) {
	r, st := newTestReader(t)

	seedGoal(t, st, func(g *model.Goal) { g.Status = model.GoalStatusCompleted; g.Progress = 100 })
	// Reached target while still active: counts as completed.
	seedGoal(t, st, func(g *model.Goal) { g.Progress = 120 })
	seedGoal(t, st, func(g *model.Goal) { g.Progress = 40 })
	seedGoal(t, st, func(g *model.Goal) { g.Status = model.GoalStatusCancelled })

	rep, err := r.Report(context.Background(), store.GoalFilter{}, reportNow)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.TotalGoals)
	assert.Equal(t, 2, rep.CompletedGoals)
	assert.Equal(t, 2, rep.ActiveGoals)
	assert.Equal(t, 1, rep.CancelledGoals)
	assert.InDelta(t, 50.0, rep.OverallCompletionRate, 1e-9)
	assert.InDelta(t, (100.0+120+40+0)/4, rep.AverageProgress, 1e-9)
	assert.Equal(t, 60, rep.DaysOfHistory)
	assert.True(t, rep.HasSufficientData)
}

func TestReport_InsufficientHistory(t *testing.T) {
	r, st := newTestReader(t)

	seedGoal(t, st, func(g *model.Goal) { g.CreatedAt = reportNow.AddDate(0, 0, -10) })

	rep, err := r.Report(context.Background(), store.GoalFilter{}, reportNow)
	require.NoError(t, err)
	assert.Equal(t, 10, rep.DaysOfHistory)
	assert.False(t, rep.HasSufficientData)
}

func TestReport_CompletionTrend(t *testing.T) {
	r, st := newTestReader(t)

	april := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	may := time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)

	seedGoal(t, st, func(g *model.Goal) { g.EndDate = &april; g.Status = model.GoalStatusCompleted })
	seedGoal(t, st, func(g *model.Goal) { g.EndDate = &april })
	seedGoal(t, st, func(g *model.Goal) { g.EndDate = &may; g.Status = model.GoalStatusCompleted })
	// No end date: excluded from the trend.
	seedGoal(t, st, nil)

	rep, err := r.Report(context.Background(), store.GoalFilter{}, reportNow)
	require.NoError(t, err)
	require.Len(t, rep.CompletionRateTrend, 2)
	assert.Equal(t, "2026-04", rep.CompletionRateTrend[0].Month)
	assert.Equal(t, 2, rep.CompletionRateTrend[0].TotalGoals)
	assert.InDelta(t, 50.0, rep.CompletionRateTrend[0].CompletionRate, 1e-9)
	assert.Equal(t, "2026-05", rep.CompletionRateTrend[1].Month)
	assert.InDelta(t, 100.0, rep.CompletionRateTrend[1].CompletionRate, 1e-9)
}

func TestReport_TypeBreakdownSortedByCount(t *testing.T) {
	r, st := newTestReader(t)

	seedGoal(t, st, func(g *model.Goal) { g.Type = model.GoalTypeDeals })
	seedGoal(t, st, func(g *model.Goal) { g.Type = model.GoalTypeDeals; g.Status = model.GoalStatusCompleted })
	seedGoal(t, st, func(g *model.Goal) { g.Type = model.GoalTypeRevenue })

	rep, err := r.Report(context.Background(), store.GoalFilter{}, reportNow)
	require.NoError(t, err)
	require.Len(t, rep.TypeBreakdown, 2)
	assert.Equal(t, model.GoalTypeDeals, rep.TypeBreakdown[0].Type, "largest group first")
	assert.Equal(t, 2, rep.TypeBreakdown[0].TotalGoals)
	assert.InDelta(t, 50.0, rep.TypeBreakdown[0].CompletionRate, 1e-9)
	assert.Equal(t, model.GoalTypeRevenue, rep.TypeBreakdown[1].Type)
}

func TestReport_VelocityFromSnapshots(t *testing.T) {
	r, st := newTestReader(t)
	ctx := context.Background()

	start := reportNow.AddDate(0, 0, -20)
	g := seedGoal(t, st, func(g *model.Goal) {
		g.StartDate = &start
		g.Progress = 30
	})

	// 10 and 20 pct points over one-day gaps: mean 15 pct/day.
	for i, pct := range []float64{10, 20, 40} {
		require.NoError(t, st.CreateSnapshot(ctx, &model.ProgressSnapshot{
			ID:                 fmt.Sprintf("snap-%d", i),
			GoalID:             g.ID,
			ProgressValue:      pct,
			ProgressPercentage: pct,
			Source:             model.SnapshotScheduled,
			TakenAt:            reportNow.AddDate(0, 0, i-3),
		}))
	}

	rep, err := r.Report(ctx, store.GoalFilter{}, reportNow)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.VelocityDataPoints)
	assert.InDelta(t, 15.0, rep.AverageVelocity, 1e-9)
}

func TestReport_VelocityFallbackFromStartDate(t *testing.T) {
	r, st := newTestReader(t)

	start := reportNow.AddDate(0, 0, -10)
	seedGoal(t, st, func(g *model.Goal) {
		g.StartDate = &start
		g.Progress = 50 // 50% over 10 days
	})

	rep, err := r.Report(context.Background(), store.GoalFilter{}, reportNow)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.VelocityDataPoints)
	assert.InDelta(t, 5.0, rep.AverageVelocity, 1e-9)
}

func TestReport_PeerComparisonForIndividuals(t *testing.T) {
	r, st := newTestReader(t)
	ctx := context.Background()

	seedGoal(t, st, func(g *model.Goal) {
		g.OwnerType = model.OwnerTypeIndividual
		g.OwnerID = "user-rep"
		g.Progress = 40
	})
	seedGoal(t, st, func(g *model.Goal) { g.Status = model.GoalStatusCompleted; g.Progress = 100 })
	seedGoal(t, st, nil)
	seedGoal(t, st, func(g *model.Goal) {
		g.OwnerType = model.OwnerTypeCompany
		g.OwnerID = ""
		g.Status = model.GoalStatusCompleted
		g.Progress = 100
	})

	rep, err := r.Report(ctx, store.GoalFilter{
		OwnerType: model.OwnerTypeIndividual,
		OwnerID:   "user-rep",
	}, reportNow)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TotalGoals)
	require.NotNil(t, rep.TeamAverageCompletionRate)
	assert.InDelta(t, 50.0, *rep.TeamAverageCompletionRate, 1e-9)
	require.NotNil(t, rep.CompanyAverageCompletionRate)
	assert.InDelta(t, 100.0, *rep.CompanyAverageCompletionRate, 1e-9)
}

func TestReport_NoPeerComparisonForTeams(t *testing.T) {
	r, st := newTestReader(t)

	seedGoal(t, st, nil)

	rep, err := r.Report(context.Background(), store.GoalFilter{
		OwnerType: model.OwnerTypeTeam,
	}, reportNow)
	require.NoError(t, err)
	assert.Nil(t, rep.TeamAverageCompletionRate)
	assert.Nil(t, rep.CompanyAverageCompletionRate)
}

func TestReport_PeerScopeWithNoGoalsStaysNil(t *testing.T) {
	r, st := newTestReader(t)

	seedGoal(t, st, func(g *model.Goal) {
		g.OwnerType = model.OwnerTypeIndividual
		g.OwnerID = "user-rep"
	})

	rep, err := r.Report(context.Background(), store.GoalFilter{
		OwnerType: model.OwnerTypeIndividual,
	}, reportNow)
	require.NoError(t, err)
	assert.Nil(t, rep.TeamAverageCompletionRate, "no team goals, no zero-rate noise")
	assert.Nil(t, rep.CompanyAverageCompletionRate)
}
