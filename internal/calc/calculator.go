// Package calc derives goal progress from CRM facts. A goal's type selects
// the aggregate (won deal revenue, won deal count, completed activities,
// completed tasks) and its date range bounds the query. All persisted side
// effects of a recalculation commit in one transaction.
package calc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/crm-goals/internal/facts"
	"github.com/sells-group/crm-goals/internal/hierarchy"
	"github.com/sells-group/crm-goals/internal/model"
	"github.com/sells-group/crm-goals/internal/store"
)

var (
	ErrGoalNotFound    = eris.New("calc: goal not found")
	ErrUnsupportedType = eris.New("calc: unsupported goal type")
)

// snapshotThreshold is the minimum percentage-point movement that produces a
// history snapshot. Smaller deltas update the goal but leave no history row,
// which keeps snapshot volume proportional to real movement.
const snapshotThreshold = 1.0

// Goals without explicit dates aggregate over an effectively unbounded range.
var (
	scopeFloor = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	scopeCeil  = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

// Calculator recomputes goal progress from a fact source and persists the
// result with its snapshot and audit trail.
type Calculator struct {
	st  store.Store
	src facts.Source
	sf  singleflight.Group
}

// New creates a Calculator over the given store and fact source.
func New(st store.Store, src facts.Source) *Calculator {
	return &Calculator{st: st, src: src}
}

// Calculate recomputes a single goal's progress and returns the new value.
// Manual goals are left untouched and report their stored progress. Failures
// are persisted (calculation_failed flag plus audit entry) before the error
// is returned.
//
// Concurrent calls for the same goal id are collapsed into one execution;
// callers share the first result rather than racing writes.
func (c *Calculator) Calculate(ctx context.Context, goalID string) (float64, error) {
	v, err, _ := c.sf.Do(goalID, func() (any, error) {
		return c.calculate(ctx, goalID)
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (c *Calculator) calculate(ctx context.Context, goalID string) (float64, error) {
	goal, err := c.st.GetGoal(ctx, goalID)
	if err != nil {
		return 0, err
	}
	if goal == nil {
		return 0, eris.Wrapf(ErrGoalNotFound, "goal %s", goalID)
	}

	if !goal.IsAutoCalculated() {
		zap.L().Debug("calc: skipping manually managed goal",
			zap.String("goal_id", goalID),
			zap.Float64("progress", goal.Progress),
		)
		return goal.Progress, nil
	}

	value, aggErr := c.aggregate(ctx, goal)
	now := time.Now().UTC()

	if aggErr != nil {
		// Persist the failure so list views can surface it, then re-raise.
		goal.CalculationFailed = true
		goal.LastCalculatedAt = &now
		goal.Touch("system", now)

		txErr := c.st.WithTx(ctx, func(tx store.Store) error {
			if err := tx.UpdateGoal(ctx, goal); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, &model.AuditEntry{
				ID:        uuid.New().String(),
				GoalID:    goalID,
				EventType: model.AuditCalculationEvent,
				Details: map[string]any{
					"action":    "calculation_failed",
					"goal_type": string(goal.Type),
					"error":     aggErr.Error(),
				},
				ChangedAt: now,
			})
		})
		if txErr != nil {
			zap.L().Error("calc: failed to persist calculation failure",
				zap.String("goal_id", goalID), zap.Error(txErr))
		}
		zap.L().Error("calc: calculation failed",
			zap.String("goal_id", goalID),
			zap.String("goal_type", string(goal.Type)),
			zap.Error(aggErr),
		)
		return 0, aggErr
	}

	oldProgress := goal.Progress
	oldPct := goal.ProgressPercentage()

	goal.Progress = value
	goal.LastCalculatedAt = &now
	goal.CalculationFailed = false
	goal.ManualOverrideReason = ""
	goal.Touch("system", now)
	newPct := goal.ProgressPercentage()

	err = c.st.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateGoal(ctx, goal); err != nil {
			return err
		}

		if delta := newPct - oldPct; delta >= snapshotThreshold || delta <= -snapshotThreshold {
			var target float64
			if goal.TargetValue != nil {
				target = *goal.TargetValue
			}
			if err := tx.CreateSnapshot(ctx, &model.ProgressSnapshot{
				ID:                 uuid.New().String(),
				GoalID:             goalID,
				ProgressValue:      value,
				TargetValue:        target,
				ProgressPercentage: newPct,
				Source:             model.SnapshotSignificantChange,
				TakenAt:            now,
			}); err != nil {
				return err
			}
		}

		if err := tx.AppendAudit(ctx, &model.AuditEntry{
			ID:          uuid.New().String(),
			GoalID:      goalID,
			EventType:   model.AuditCalculationEvent,
			BeforeValue: fmt.Sprintf("%.2f", oldProgress),
			AfterValue:  fmt.Sprintf("%.2f", value),
			Details: map[string]any{
				"action":           "auto_calculation",
				"goal_type":        string(goal.Type),
				"calculated_value": value,
				"previous_value":   oldProgress,
			},
			ChangedAt: now,
		}); err != nil {
			return err
		}

		// Progress rolls up to the root inside the same transaction, so a
		// parent never reflects a child update that later rolled back.
		if goal.HasParent() {
			return hierarchy.New(tx).RecalculateParentProgress(ctx, goalID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	zap.L().Info("calc: goal recalculated",
		zap.String("goal_id", goalID),
		zap.String("goal_type", string(goal.Type)),
		zap.Float64("old_progress", oldProgress),
		zap.Float64("new_progress", value),
	)
	return value, nil
}

// aggregate runs the fact query selected by the goal's type. The switch is
// exhaustive over supported types; anything else is a hard error so a bad
// row cannot silently report zero progress.
func (c *Calculator) aggregate(ctx context.Context, goal *model.Goal) (float64, error) {
	scope := facts.Scope{Start: scopeFloor, End: scopeCeil}
	if goal.StartDate != nil {
		scope.Start = *goal.StartDate
	}
	if goal.EndDate != nil {
		scope.End = *goal.EndDate
	}
	if goal.OwnerType == model.OwnerTypeIndividual {
		scope.OwnerID = goal.OwnerID
	}

	switch goal.Type {
	case model.GoalTypeRevenue:
		return c.src.SumWonDealAmounts(ctx, scope)
	case model.GoalTypeDeals:
		n, err := c.src.CountWonDeals(ctx, scope)
		return float64(n), err
	case model.GoalTypeActivities:
		n, err := c.src.CountCompletedActivities(ctx, scope)
		return float64(n), err
	case model.GoalTypeTasks:
		n, err := c.src.CountCompletedTasks(ctx, scope)
		return float64(n), err
	default:
		return 0, eris.Wrapf(ErrUnsupportedType, "goal %s has type %q", goal.ID, goal.Type)
	}
}

// entityGoalTypes maps a CRM entity change to the goal types it can move.
func entityGoalTypes(entityType string) ([]model.GoalType, error) {
	switch entityType {
	case "deal":
		return []model.GoalType{model.GoalTypeRevenue, model.GoalTypeDeals}, nil
	case "activity":
		return []model.GoalType{model.GoalTypeActivities}, nil
	case "task":
		return []model.GoalType{model.GoalTypeTasks}, nil
	default:
		return nil, eris.Errorf("calc: unknown entity type %q", entityType)
	}
}

// RecalculateForEntity recalculates every active auto-calculated goal whose
// type is affected by a change to the given CRM entity. Failures are logged
// per goal and do not stop the batch; the count of successful
// recalculations is returned.
func (c *Calculator) RecalculateForEntity(ctx context.Context, entityType, entityID string) (int, error) {
	types, err := entityGoalTypes(entityType)
	if err != nil {
		return 0, err
	}

	goals, err := c.st.ListGoals(ctx, store.GoalFilter{
		Status: model.GoalStatusActive,
		Source: model.SourceAutoCalculated,
		Types:  types,
	})
	if err != nil {
		return 0, err
	}

	zap.L().Info("calc: recalculating goals for entity change",
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
		zap.Int("candidate_goals", len(goals)),
	)
	return c.recalculateBatch(ctx, goals), nil
}

// RecalculateAll recalculates every active auto-calculated goal. Used by the
// background sweep and the CLI recalc command.
func (c *Calculator) RecalculateAll(ctx context.Context) (int, error) {
	goals, err := c.st.ListGoals(ctx, store.GoalFilter{
		Status: model.GoalStatusActive,
		Source: model.SourceAutoCalculated,
	})
	if err != nil {
		return 0, err
	}
	return c.recalculateBatch(ctx, goals), nil
}

func (c *Calculator) recalculateBatch(ctx context.Context, goals []model.Goal) int {
	var ok int
	for _, g := range goals {
		if err := ctx.Err(); err != nil {
			zap.L().Warn("calc: batch recalculation interrupted",
				zap.Int("completed", ok), zap.Error(err))
			return ok
		}
		if _, err := c.Calculate(ctx, g.ID); err != nil {
			// One broken goal must not starve the rest of the batch.
			zap.L().Error("calc: batch recalculation failed for goal",
				zap.String("goal_id", g.ID),
				zap.String("goal_type", string(g.Type)),
				zap.Error(err),
			)
			continue
		}
		ok++
	}
	return ok
}
