package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-goals/internal/config"
	"github.com/sells-group/crm-goals/internal/model"
	"github.com/sells-group/crm-goals/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "goals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func monitoredGoal(id string, mutate func(*model.Goal)) *model.Goal {
	now := time.Now().UTC()
	g := &model.Goal{
		ID:                id,
		Name:              id,
		Type:              model.GoalTypeRevenue,
		OwnerType:         model.OwnerTypeTeam,
		OwnerID:           "team-west",
		Status:            model.GoalStatusActive,
		CalculationSource: model.SourceAutoCalculated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if mutate != nil {
		mutate(g)
	}
	return g
}

func TestCollector_Collect(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	recent := now.Add(-1 * time.Hour)
	old := now.Add(-48 * time.Hour)
	pastDue := now.Add(-24 * time.Hour)

	goals := []*model.Goal{
		monitoredGoal("healthy", func(g *model.Goal) { g.LastCalculatedAt = &recent }),
		monitoredGoal("failed", func(g *model.Goal) { g.CalculationFailed = true; g.LastCalculatedAt = &recent }),
		monitoredGoal("stale", func(g *model.Goal) { g.LastCalculatedAt = &old }),
		monitoredGoal("never", nil),
		monitoredGoal("overdue", func(g *model.Goal) { g.EndDate = &pastDue; g.LastCalculatedAt = &recent }),
		monitoredGoal("manual", func(g *model.Goal) { g.CalculationSource = model.SourceManual }),
		monitoredGoal("draft", func(g *model.Goal) { g.Status = model.GoalStatusDraft }),
		monitoredGoal("done", func(g *model.Goal) { g.Status = model.GoalStatusCompleted }),
		monitoredGoal("dropped", func(g *model.Goal) { g.Status = model.GoalStatusCancelled }),
	}
	for _, g := range goals {
		require.NoError(t, st.CreateGoal(ctx, g))
	}

	// One snapshot inside the window, one outside.
	require.NoError(t, st.CreateSnapshot(ctx, &model.ProgressSnapshot{
		ID: "s-new", GoalID: "healthy", Source: model.SnapshotScheduled, TakenAt: recent,
	}))
	require.NoError(t, st.CreateSnapshot(ctx, &model.ProgressSnapshot{
		ID: "s-old", GoalID: "healthy", Source: model.SnapshotScheduled, TakenAt: old,
	}))

	snap, err := NewCollector(st).Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 9, snap.TotalGoals)
	assert.Equal(t, 6, snap.ActiveGoals)
	assert.Equal(t, 1, snap.DraftGoals)
	assert.Equal(t, 1, snap.CompletedGoals)
	assert.Equal(t, 1, snap.CancelledGoals)

	assert.Equal(t, 1, snap.FailedCalculations)
	assert.Equal(t, 1, snap.NeverCalculated)
	assert.Equal(t, 1, snap.StaleCalculations)
	assert.Equal(t, 1, snap.ManualOverrides)
	assert.Equal(t, 1, snap.OverdueActive)
	assert.Equal(t, 1, snap.SnapshotVolume)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_DraftGoalsAreNotCalculationProblems(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateGoal(ctx, monitoredGoal("draft", func(g *model.Goal) {
		g.Status = model.GoalStatusDraft
		g.CalculationFailed = true
	})))

	snap, err := NewCollector(st).Collect(ctx, 24)
	require.NoError(t, err)
	assert.Zero(t, snap.FailedCalculations, "only active goals count toward calculation health")
	assert.Zero(t, snap.NeverCalculated)
}

func TestAlerter_Evaluate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailedCalcThreshold: 2,
		OverdueThreshold:    3,
	})

	alerts := a.Evaluate(&MetricsSnapshot{
		FailedCalculations: 2,
		OverdueActive:      5,
		StaleCalculations:  1,
		LookbackHours:      24,
	})
	require.Len(t, alerts, 3)
	assert.Equal(t, AlertCalculationFailures, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Equal(t, AlertOverdueGoals, alerts[1].Type)
	assert.Equal(t, AlertStaleCalculations, alerts[2].Type)
	assert.Equal(t, "medium", alerts[2].Severity)
}

func TestAlerter_Evaluate_BelowThresholds(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailedCalcThreshold: 5,
		OverdueThreshold:    5,
	})

	alerts := a.Evaluate(&MetricsSnapshot{
		FailedCalculations: 1,
		OverdueActive:      1,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ZeroThresholdsDisable(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	alerts := a.Evaluate(&MetricsSnapshot{
		FailedCalculations: 100,
		OverdueActive:      100,
	})
	assert.Empty(t, alerts, "zero thresholds disable those alerts")
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		received = append(received, a)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertOverdueGoals, Severity: "medium", Message: "test", Timestamp: time.Now().UTC()},
	})
	assert.Equal(t, 1, sent)
	require.Len(t, received, 1)
	assert.Equal(t, AlertOverdueGoals, received[0].Type)
}

func TestAlerter_SendAlerts_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStaleCalculations}})
	assert.Zero(t, sent)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStaleCalculations}})
	assert.Zero(t, sent)
}

func TestChecker_CheckOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateGoal(ctx, monitoredGoal("broken", func(g *model.Goal) {
		g.CalculationFailed = true
	})))

	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		received = append(received, a)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{
		LookbackWindowHours: 24,
		FailedCalcThreshold: 1,
		WebhookURL:          srv.URL,
	}
	c := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	sent, err := c.CheckOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, received, 1)
	assert.Equal(t, AlertCalculationFailures, received[0].Type)
}

func TestChecker_CheckOnce_QuietWhenHealthy(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	recent := time.Now().UTC().Add(-1 * time.Hour)
	require.NoError(t, st.CreateGoal(ctx, monitoredGoal("healthy", func(g *model.Goal) {
		g.LastCalculatedAt = &recent
	})))

	cfg := config.MonitoringConfig{
		LookbackWindowHours: 24,
		FailedCalcThreshold: 1,
		OverdueThreshold:    1,
		WebhookURL:          "http://127.0.0.1:1/never-called",
	}
	sent, err := NewChecker(NewCollector(st), NewAlerter(cfg), cfg).CheckOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestChecker_Run_StopsOnCancel(t *testing.T) {
	st := newTestStore(t)

	cfg := config.MonitoringConfig{LookbackWindowHours: 24, CheckIntervalSecs: 3600}
	c := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop after cancellation")
	}
}
