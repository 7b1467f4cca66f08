package goal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-goals/internal/calc"
	"github.com/sells-group/crm-goals/internal/facts"
	"github.com/sells-group/crm-goals/internal/forecast"
	"github.com/sells-group/crm-goals/internal/model"
	"github.com/sells-group/crm-goals/internal/store"
)

type fakeSource struct {
	revenue float64
	deals   int
	err     error
}

func (f *fakeSource) SumWonDealAmounts(context.Context, facts.Scope) (float64, error) {
	return f.revenue, f.err
}
func (f *fakeSource) CountWonDeals(context.Context, facts.Scope) (int, error) {
	return f.deals, f.err
}
func (f *fakeSource) CountCompletedActivities(context.Context, facts.Scope) (int, error) {
	return 0, f.err
}
func (f *fakeSource) CountCompletedTasks(context.Context, facts.Scope) (int, error) {
	return 0, f.err
}

func newTestService(t *testing.T, src *fakeSource) (*Service, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "goals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	for _, u := range []model.User{
		{ID: "user-rep", Email: "rep@example.com", Role: model.RoleRep},
		{ID: "user-peer", Email: "peer@example.com", Role: model.RoleRep},
		{ID: "user-boss", Email: "boss@example.com", Role: model.RoleManager},
	} {
		_, err := st.DB().ExecContext(ctx,
			`INSERT INTO crm_user (id, email, name, role) VALUES (?, ?, ?, ?)`,
			u.ID, u.Email, u.Name, string(u.Role))
		require.NoError(t, err)
	}
	return NewService(st, calc.New(st, src)), st
}

func validCreate() CreateParams {
	target := 100000.0
	return CreateParams{
		Name:        "Q4 revenue",
		Type:        model.GoalTypeRevenue,
		TargetValue: &target,
		OwnerType:   model.OwnerTypeTeam,
		OwnerID:     "team-west",
	}
}

func TestCreate(t *testing.T) {
	svc, st := newTestService(t, &fakeSource{})
	ctx := context.Background()

	g, err := svc.Create(ctx, validCreate(), "boss@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, model.GoalStatusDraft, g.Status, "new goals start in draft")
	assert.Zero(t, g.Progress)
	assert.Equal(t, model.SourceAutoCalculated, g.CalculationSource, "auto is the default source")
	assert.Equal(t, "boss@example.com", g.CreatedBy)

	stored, err := st.GetGoal(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()

	p := validCreate()
	p.Name = ""
	_, err := svc.Create(ctx, p, "")
	require.ErrorIs(t, err, ErrNameRequired)

	p = validCreate()
	p.Type = "pipeline"
	_, err = svc.Create(ctx, p, "")
	require.ErrorIs(t, err, ErrInvalidType)

	p = validCreate()
	bad := -5.0
	p.TargetValue = &bad
	_, err = svc.Create(ctx, p, "")
	require.ErrorIs(t, err, ErrInvalidTarget)

	p = validCreate()
	start := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	p.StartDate = &start
	p.EndDate = &end
	_, err = svc.Create(ctx, p, "")
	require.ErrorIs(t, err, ErrInvalidDateRange)

	p = validCreate()
	p.OwnerID = ""
	_, err = svc.Create(ctx, p, "")
	require.ErrorIs(t, err, ErrOwnerRequired, "team goals need an owner")
}

func TestCreate_IndividualOwnerDefaultsToActor(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})

	p := validCreate()
	p.OwnerType = model.OwnerTypeIndividual
	p.OwnerID = ""
	g, err := svc.Create(context.Background(), p, "rep@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-rep", g.OwnerID)
}

func TestCreate_WithParentLink(t *testing.T) {
	svc, st := newTestService(t, &fakeSource{})
	ctx := context.Background()

	parentParams := validCreate()
	parentParams.Name = "company revenue"
	parentParams.OwnerType = model.OwnerTypeCompany
	parentParams.OwnerID = ""
	parent, err := svc.Create(ctx, parentParams, "boss@example.com")
	require.NoError(t, err)

	p := validCreate()
	p.ParentGoalID = parent.ID
	child, err := svc.Create(ctx, p, "boss@example.com")
	require.NoError(t, err)

	stored, err := st.GetGoal(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, stored.ParentGoalID)
}

func TestCreate_WithBadParentRollsBack(t *testing.T) {
	svc, st := newTestService(t, &fakeSource{})
	ctx := context.Background()

	p := validCreate()
	p.ParentGoalID = "missing-parent"
	_, err := svc.Create(ctx, p, "boss@example.com")
	require.Error(t, err)

	goals, err := st.ListGoals(ctx, store.GoalFilter{})
	require.NoError(t, err)
	assert.Empty(t, goals, "failed link must roll back the insert")
}

func TestAuthorization(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()

	p := validCreate()
	p.OwnerType = model.OwnerTypeIndividual
	p.OwnerID = "user-rep"
	own, err := svc.Create(ctx, p, "rep@example.com")
	require.NoError(t, err)

	// The owner and a manager may act; a peer rep may not.
	_, err = svc.Activate(ctx, own.ID, "rep@example.com")
	require.NoError(t, err)
	_, err = svc.Update(ctx, own.ID, UpdateParams{}, "boss@example.com")
	require.NoError(t, err)
	_, err = svc.Update(ctx, own.ID, UpdateParams{}, "peer@example.com")
	require.ErrorIs(t, err, ErrUnauthorized)

	// Team goals are manager-only.
	team, err := svc.Create(ctx, validCreate(), "boss@example.com")
	require.NoError(t, err)
	_, err = svc.Update(ctx, team.ID, UpdateParams{}, "rep@example.com")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = svc.Update(ctx, team.ID, UpdateParams{}, "boss@example.com")
	require.NoError(t, err)

	// The system actor and unknown emails resolve to no user and pass.
	_, err = svc.Update(ctx, team.ID, UpdateParams{}, "")
	require.NoError(t, err)
	_, err = svc.Update(ctx, team.ID, UpdateParams{}, "ghost@example.com")
	require.NoError(t, err)
}

func TestUpdate(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()

	g, err := svc.Create(ctx, validCreate(), "")
	require.NoError(t, err)

	name := "Q4 revenue (revised)"
	target := 120000.0
	updated, err := svc.Update(ctx, g.ID, UpdateParams{Name: &name, TargetValue: &target}, "boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, target, *updated.TargetValue)
	assert.Equal(t, "boss@example.com", updated.UpdatedBy)

	bad := 0.0
	_, err = svc.Update(ctx, g.ID, UpdateParams{TargetValue: &bad}, "")
	require.ErrorIs(t, err, ErrInvalidTarget)

	empty := ""
	_, err = svc.Update(ctx, g.ID, UpdateParams{Name: &empty}, "")
	require.ErrorIs(t, err, ErrNameRequired)

	_, err = svc.Update(ctx, "missing", UpdateParams{}, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	svc, st := newTestService(t, &fakeSource{})
	ctx := context.Background()

	g, err := svc.Create(ctx, validCreate(), "")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, g.ID, "boss@example.com"))

	// Deletion is a cancel transition; the row survives.
	stored, err := st.GetGoal(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.GoalStatusCancelled, stored.Status)
}

func TestDelete_RefusedWhileChildrenExist(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()

	parentParams := validCreate()
	parentParams.OwnerType = model.OwnerTypeCompany
	parentParams.OwnerID = ""
	parent, err := svc.Create(ctx, parentParams, "")
	require.NoError(t, err)

	p := validCreate()
	p.ParentGoalID = parent.ID
	child, err := svc.Create(ctx, p, "")
	require.NoError(t, err)

	err = svc.Delete(ctx, parent.ID, "")
	require.ErrorIs(t, err, ErrHasChildren)

	// Unlinking the child unblocks the delete.
	_, err = svc.UnlinkFromParent(ctx, child.ID, "")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, parent.ID, ""))
}

func TestUpdateProgress(t *testing.T) {
	svc, st := newTestService(t, &fakeSource{})
	ctx := context.Background()

	parentParams := validCreate()
	parentParams.OwnerType = model.OwnerTypeCompany
	parentParams.OwnerID = ""
	parent, err := svc.Create(ctx, parentParams, "")
	require.NoError(t, err)

	p := validCreate()
	p.ParentGoalID = parent.ID
	child, err := svc.Create(ctx, p, "")
	require.NoError(t, err)

	_, err = svc.UpdateProgress(ctx, child.ID, -1, "")
	require.ErrorIs(t, err, ErrInvalidProgress)

	updated, err := svc.UpdateProgress(ctx, child.ID, 60000, "boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, 60000.0, updated.Progress)

	gotParent, err := st.GetGoal(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 60000.0, gotParent.Progress, "progress rolls up on direct updates")
}

func TestManualAdjustProgress(t *testing.T) {
	svc, st := newTestService(t, &fakeSource{})
	ctx := context.Background()

	g, err := svc.Create(ctx, validCreate(), "")
	require.NoError(t, err)

	_, err = svc.ManualAdjustProgress(ctx, g.ID, 55000, "", "boss@example.com")
	require.ErrorIs(t, err, ErrNoJustification)

	_, err = svc.ManualAdjustProgress(ctx, g.ID, -1, "typo", "boss@example.com")
	require.ErrorIs(t, err, ErrInvalidProgress)

	adjusted, err := svc.ManualAdjustProgress(ctx, g.ID, 55000, "import missed a closed deal", "boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, 55000.0, adjusted.Progress)
	assert.Equal(t, model.SourceManual, adjusted.CalculationSource)
	assert.Equal(t, "import missed a closed deal", adjusted.ManualOverrideReason)

	snaps, err := st.ListSnapshots(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, model.SnapshotManualAdjustment, snaps[0].Source)
	assert.Equal(t, "boss@example.com", snaps[0].CreatedBy)
	assert.Contains(t, snaps[0].Notes, "import missed a closed deal")

	entries, err := st.ListAudit(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditManualAdjustment, entries[0].EventType)
	assert.Equal(t, "import missed a closed deal", entries[0].Details["justification"])
}

func TestManualAdjust_ImmuneToRecalculation(t *testing.T) {
	src := &fakeSource{revenue: 99999}
	svc, st := newTestService(t, src)
	ctx := context.Background()

	g, err := svc.Create(ctx, validCreate(), "")
	require.NoError(t, err)
	_, err = svc.Activate(ctx, g.ID, "")
	require.NoError(t, err)
	_, err = svc.ManualAdjustProgress(ctx, g.ID, 55000, "operator override", "boss@example.com")
	require.NoError(t, err)

	// Forced recalculation refuses manual goals.
	_, err = svc.RecalculateProgress(ctx, g.ID, "boss@example.com")
	require.ErrorIs(t, err, ErrManualSource)

	// The batch sweep skips them.
	n, err := svc.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err := st.GetGoal(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 55000.0, stored.Progress, "override survives recalculation attempts")
}

func TestResetToAuto(t *testing.T) {
	src := &fakeSource{revenue: 70000}
	svc, st := newTestService(t, src)
	ctx := context.Background()

	g, err := svc.Create(ctx, validCreate(), "")
	require.NoError(t, err)
	_, err = svc.ManualAdjustProgress(ctx, g.ID, 55000, "operator override", "boss@example.com")
	require.NoError(t, err)

	reset, err := svc.ResetToAuto(ctx, g.ID, "boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.SourceAutoCalculated, reset.CalculationSource)
	assert.Empty(t, reset.ManualOverrideReason)
	assert.Equal(t, 70000.0, reset.Progress, "reset recalculates immediately")

	entries, err := st.ListAudit(ctx, g.ID)
	require.NoError(t, err)
	var sawReset bool
	for _, e := range entries {
		if e.Details["action"] == "reset_to_auto" {
			sawReset = true
			assert.Equal(t, "operator override", e.Details["cleared_reason"])
		}
	}
	assert.True(t, sawReset)
}

func TestRecalculateProgress(t *testing.T) {
	src := &fakeSource{revenue: 42000}
	svc, _ := newTestService(t, src)
	ctx := context.Background()

	g, err := svc.Create(ctx, validCreate(), "")
	require.NoError(t, err)

	got, err := svc.RecalculateProgress(ctx, g.ID, "boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, 42000.0, got.Progress)
	assert.NotNil(t, got.LastCalculatedAt)

	_, err = svc.RecalculateProgress(ctx, "missing", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLifecycleTransitions(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()

	g, err := svc.Create(ctx, validCreate(), "")
	require.NoError(t, err)

	active, err := svc.Activate(ctx, g.ID, "boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.GoalStatusActive, active.Status)

	done, err := svc.Complete(ctx, g.ID, "boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.GoalStatusCompleted, done.Status)
	assert.Equal(t, 100000.0, done.Progress, "completion snaps progress to target")

	g2, err := svc.Create(ctx, validCreate(), "")
	require.NoError(t, err)
	cancelled, err := svc.Cancel(ctx, g2.ID, "boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.GoalStatusCancelled, cancelled.Status)
	assert.Zero(t, cancelled.Progress)
}

func TestGetForecast(t *testing.T) {
	svc, st := newTestService(t, &fakeSource{})
	ctx := context.Background()

	missing, err := svc.GetForecast(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	g, err := svc.Create(ctx, validCreate(), "")
	require.NoError(t, err)

	p, err := svc.GetForecast(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, forecast.StatusInsufficientData, p.Status)

	base := time.Now().UTC().AddDate(0, 0, -3)
	for i, v := range []float64{10000, 20000, 30000} {
		require.NoError(t, st.CreateSnapshot(ctx, &model.ProgressSnapshot{
			ID:            string(rune('a' + i)),
			GoalID:        g.ID,
			ProgressValue: v,
			Source:        model.SnapshotScheduled,
			TakenAt:       base.AddDate(0, 0, i),
		}))
	}

	p, err = svc.GetForecast(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.DataPoints)
	assert.InDelta(t, 10000.0, p.DailyVelocity, 1e-6)
}

func TestGetHierarchyAndTrails(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})
	ctx := context.Background()

	parentParams := validCreate()
	parentParams.OwnerType = model.OwnerTypeCompany
	parentParams.OwnerID = ""
	parent, err := svc.Create(ctx, parentParams, "")
	require.NoError(t, err)

	p := validCreate()
	p.ParentGoalID = parent.ID
	child, err := svc.Create(ctx, p, "")
	require.NoError(t, err)

	view, err := svc.GetHierarchy(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, 1, view.Depth)

	trail, err := svc.GetAuditTrail(ctx, child.ID)
	require.NoError(t, err)
	require.NotEmpty(t, trail)
	assert.Equal(t, model.AuditHierarchyLink, trail[0].EventType)

	history, err := svc.GetProgressHistory(ctx, child.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}
