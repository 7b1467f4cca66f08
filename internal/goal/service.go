// Package goal is the orchestration layer over the goal subsystem: it owns
// authorization and input validation, then drives the store, calculator,
// hierarchy manager, forecast engine, and analytics reader. Every mutation
// runs inside a store transaction and stamps the audit fields explicitly.
package goal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-goals/internal/analytics"
	"github.com/sells-group/crm-goals/internal/calc"
	"github.com/sells-group/crm-goals/internal/forecast"
	"github.com/sells-group/crm-goals/internal/hierarchy"
	"github.com/sells-group/crm-goals/internal/model"
	"github.com/sells-group/crm-goals/internal/store"
)

var (
	ErrNotFound         = eris.New("goal: not found")
	ErrUnauthorized     = eris.New("goal: not authorized")
	ErrManualSource     = eris.New("goal: progress is manually managed, use manual adjustment instead")
	ErrNoJustification  = eris.New("goal: manual adjustment requires a justification")
	ErrInvalidDateRange = eris.New("goal: start date must not be after end date")
	ErrInvalidProgress  = eris.New("goal: progress must be non-negative")
	ErrInvalidTarget    = eris.New("goal: target value must be positive")
	ErrInvalidType      = eris.New("goal: unsupported goal type")
	ErrNameRequired     = eris.New("goal: name is required")
	ErrOwnerRequired    = eris.New("goal: owner id is required for this scope")
	ErrHasChildren      = eris.New("goal: cannot delete a goal that has children")
)

// Service orchestrates goal use cases.
type Service struct {
	st   store.Store
	calc *calc.Calculator
}

// NewService creates the orchestrator over the given store and calculator.
func NewService(st store.Store, c *calc.Calculator) *Service {
	return &Service{st: st, calc: c}
}

// CreateParams carries the fields for a new goal.
type CreateParams struct {
	Name         string
	Description  string
	Type         model.GoalType
	TargetValue  *float64
	Timeframe    model.Timeframe
	Recurring    bool
	StartDate    *time.Time
	EndDate      *time.Time
	OwnerType    model.OwnerType
	OwnerID      string
	Source       model.CalculationSource
	ParentGoalID string
}

// UpdateParams carries optional field updates; nil/zero means leave as is.
// Progress is deliberately absent: it moves through UpdateProgress,
// ManualAdjustProgress, or the calculator, never a plain field update.
type UpdateParams struct {
	Name        *string
	Description *string
	TargetValue *float64
	Timeframe   *model.Timeframe
	Recurring   *bool
	StartDate   *time.Time
	EndDate     *time.Time
}

// resolveActor maps an actor email to a user. An empty email is the system
// actor and resolves to nil, which passes every authorization check.
func (s *Service) resolveActor(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, nil
	}
	return s.st.GetUserByEmail(ctx, email)
}

// authorize enforces the ownership rules: individual goals can be modified by
// their owner or a manager/admin; team and company goals require
// manager/admin. A nil user is the system actor and always passes.
func authorize(ownerType model.OwnerType, ownerID string, user *model.User) error {
	if user == nil {
		return nil
	}
	if ownerType == model.OwnerTypeIndividual {
		if ownerID != "" && ownerID != user.ID && !user.IsManager() {
			return eris.Wrap(ErrUnauthorized, "cannot modify another individual's goal")
		}
		return nil
	}
	if !user.IsManager() {
		return eris.Wrapf(ErrUnauthorized, "only managers or admins can modify %s goals", ownerType)
	}
	return nil
}

func validateDateRange(start, end *time.Time) error {
	if start != nil && end != nil && start.After(*end) {
		return eris.Wrapf(ErrInvalidDateRange, "start %s, end %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return nil
}

// Create validates and persists a new goal. New goals start in draft with
// zero progress; an individual goal with no explicit owner defaults to the
// acting user.
func (s *Service) Create(ctx context.Context, p CreateParams, actorEmail string) (*model.Goal, error) {
	if p.Name == "" {
		return nil, ErrNameRequired
	}
	if !p.Type.Valid() {
		return nil, eris.Wrapf(ErrInvalidType, "%q", p.Type)
	}
	if p.TargetValue != nil && *p.TargetValue <= 0 {
		return nil, eris.Wrapf(ErrInvalidTarget, "%v", *p.TargetValue)
	}
	if err := validateDateRange(p.StartDate, p.EndDate); err != nil {
		return nil, err
	}

	user, err := s.resolveActor(ctx, actorEmail)
	if err != nil {
		return nil, err
	}

	if p.OwnerType == model.OwnerTypeIndividual && p.OwnerID == "" && user != nil {
		p.OwnerID = user.ID
	}
	if p.OwnerType != model.OwnerTypeCompany && p.OwnerID == "" {
		return nil, eris.Wrapf(ErrOwnerRequired, "%s goal", p.OwnerType)
	}
	if err := authorize(p.OwnerType, p.OwnerID, user); err != nil {
		return nil, err
	}

	source := p.Source
	if source == "" {
		source = model.SourceAutoCalculated
	}
	now := time.Now().UTC()
	g := &model.Goal{
		ID:                uuid.New().String(),
		Name:              p.Name,
		Description:       p.Description,
		Type:              p.Type,
		TargetValue:       p.TargetValue,
		Timeframe:         p.Timeframe,
		Recurring:         p.Recurring,
		StartDate:         p.StartDate,
		EndDate:           p.EndDate,
		OwnerType:         p.OwnerType,
		OwnerID:           p.OwnerID,
		Status:            model.GoalStatusDraft,
		CalculationSource: source,
		CreatedAt:         now,
		CreatedBy:         actorEmail,
		UpdatedAt:         now,
		UpdatedBy:         actorEmail,
	}

	err = s.st.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateGoal(ctx, g); err != nil {
			return err
		}
		if p.ParentGoalID != "" {
			_, err := hierarchy.New(tx).LinkToParent(ctx, g.ID, p.ParentGoalID, actorEmail)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("goal: created",
		zap.String("goal_id", g.ID),
		zap.String("name", g.Name),
		zap.String("type", string(g.Type)),
		zap.String("owner_type", string(g.OwnerType)),
		zap.String("actor", actorEmail),
	)
	return g, nil
}

// Get returns a goal or (nil, nil) when it does not exist.
func (s *Service) Get(ctx context.Context, id string) (*model.Goal, error) {
	return s.st.GetGoal(ctx, id)
}

// List returns goals matching the filter.
func (s *Service) List(ctx context.Context, filter store.GoalFilter) ([]model.Goal, error) {
	return s.st.ListGoals(ctx, filter)
}

// Update applies field updates to a goal after authorization.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams, actorEmail string) (*model.Goal, error) {
	g, _, err := s.loadAuthorized(ctx, id, actorEmail)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		if *p.Name == "" {
			return nil, ErrNameRequired
		}
		g.Name = *p.Name
	}
	if p.Description != nil {
		g.Description = *p.Description
	}
	if p.TargetValue != nil {
		if *p.TargetValue <= 0 {
			return nil, eris.Wrapf(ErrInvalidTarget, "%v", *p.TargetValue)
		}
		g.TargetValue = p.TargetValue
	}
	if p.Timeframe != nil {
		g.Timeframe = *p.Timeframe
	}
	if p.Recurring != nil {
		g.Recurring = *p.Recurring
	}
	if p.StartDate != nil {
		g.StartDate = p.StartDate
	}
	if p.EndDate != nil {
		g.EndDate = p.EndDate
	}
	if err := validateDateRange(g.StartDate, g.EndDate); err != nil {
		return nil, err
	}

	g.Touch(actorEmail, time.Now())
	if err := s.st.WithTx(ctx, func(tx store.Store) error {
		return tx.UpdateGoal(ctx, g)
	}); err != nil {
		return nil, err
	}
	return g, nil
}

// Delete closes a goal. Deletion is a status transition, not a row removal:
// the audit trail and progress history must survive the goal. Goals with
// children cannot be deleted; unlink or delete the children first.
func (s *Service) Delete(ctx context.Context, id, actorEmail string) error {
	g, _, err := s.loadAuthorized(ctx, id, actorEmail)
	if err != nil {
		return err
	}

	children, err := s.st.GetChildren(ctx, id)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return eris.Wrapf(ErrHasChildren, "goal %s has %d children", id, len(children))
	}

	g.Cancel()
	g.Touch(actorEmail, time.Now())
	if err := s.st.WithTx(ctx, func(tx store.Store) error {
		return tx.UpdateGoal(ctx, g)
	}); err != nil {
		return err
	}
	zap.L().Info("goal: deleted (cancelled)", zap.String("goal_id", id), zap.String("actor", actorEmail))
	return nil
}

// UpdateProgress sets a goal's raw progress value and propagates the change
// up the hierarchy in the same transaction.
func (s *Service) UpdateProgress(ctx context.Context, id string, progress float64, actorEmail string) (*model.Goal, error) {
	if progress < 0 {
		return nil, eris.Wrapf(ErrInvalidProgress, "%v", progress)
	}
	g, _, err := s.loadAuthorized(ctx, id, actorEmail)
	if err != nil {
		return nil, err
	}

	g.Progress = progress
	g.Touch(actorEmail, time.Now())
	err = s.st.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateGoal(ctx, g); err != nil {
			return err
		}
		if g.HasParent() {
			return hierarchy.New(tx).RecalculateParentProgress(ctx, g.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ManualAdjustProgress overrides a goal's progress with an operator-supplied
// value. The goal switches to the manual calculation source, which makes it
// invisible to automatic recalculation until ResetToAuto. The adjustment is
// snapshotted and audited with its justification.
func (s *Service) ManualAdjustProgress(ctx context.Context, id string, newProgress float64, justification, actorEmail string) (*model.Goal, error) {
	if justification == "" {
		return nil, ErrNoJustification
	}
	if newProgress < 0 {
		return nil, eris.Wrapf(ErrInvalidProgress, "%v", newProgress)
	}

	g, _, err := s.loadAuthorized(ctx, id, actorEmail)
	if err != nil {
		return nil, err
	}

	oldProgress := g.Progress
	oldPct := g.ProgressPercentage()
	now := time.Now().UTC()

	g.Progress = newProgress
	g.CalculationSource = model.SourceManual
	g.ManualOverrideReason = justification
	g.LastCalculatedAt = &now
	g.Touch(actorEmail, now)
	newPct := g.ProgressPercentage()

	err = s.st.WithTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateGoal(ctx, g); err != nil {
			return err
		}

		var target float64
		if g.TargetValue != nil {
			target = *g.TargetValue
		}
		if err := tx.CreateSnapshot(ctx, &model.ProgressSnapshot{
			ID:                 uuid.New().String(),
			GoalID:             id,
			ProgressValue:      newProgress,
			TargetValue:        target,
			ProgressPercentage: newPct,
			Source:             model.SnapshotManualAdjustment,
			TakenAt:            now,
			CreatedBy:          actorEmail,
			Notes:              "manual adjustment: " + justification,
		}); err != nil {
			return err
		}

		if err := tx.AppendAudit(ctx, &model.AuditEntry{
			ID:          uuid.New().String(),
			GoalID:      id,
			EventType:   model.AuditManualAdjustment,
			BeforeValue: fmt.Sprintf("%.2f", oldPct),
			AfterValue:  fmt.Sprintf("%.2f", newPct),
			Details: map[string]any{
				"justification":     justification,
				"new_progress":      newProgress,
				"previous_progress": oldProgress,
			},
			ChangedBy: actorEmail,
			ChangedAt: now,
		}); err != nil {
			return err
		}

		if g.HasParent() {
			return hierarchy.New(tx).RecalculateParentProgress(ctx, g.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("goal: manual progress adjustment",
		zap.String("goal_id", id),
		zap.String("actor", actorEmail),
		zap.Float64("old_pct", oldPct),
		zap.Float64("new_pct", newPct),
	)
	return g, nil
}

// ResetToAuto returns a manually adjusted goal to automatic calculation and
// immediately recalculates it. Resetting an already-automatic goal only
// triggers the recalculation.
func (s *Service) ResetToAuto(ctx context.Context, id, actorEmail string) (*model.Goal, error) {
	g, _, err := s.loadAuthorized(ctx, id, actorEmail)
	if err != nil {
		return nil, err
	}

	if !g.IsAutoCalculated() {
		now := time.Now().UTC()
		reason := g.ManualOverrideReason
		g.CalculationSource = model.SourceAutoCalculated
		g.ManualOverrideReason = ""
		g.Touch(actorEmail, now)

		err = s.st.WithTx(ctx, func(tx store.Store) error {
			if err := tx.UpdateGoal(ctx, g); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, &model.AuditEntry{
				ID:          uuid.New().String(),
				GoalID:      id,
				EventType:   model.AuditManualAdjustment,
				BeforeValue: string(model.SourceManual),
				AfterValue:  string(model.SourceAutoCalculated),
				Details: map[string]any{
					"action":         "reset_to_auto",
					"cleared_reason": reason,
				},
				ChangedBy: actorEmail,
				ChangedAt: now,
			})
		})
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.calc.Calculate(ctx, id); err != nil {
		return nil, err
	}
	return s.st.GetGoal(ctx, id)
}

// RecalculateProgress forces a recalculation of one goal. Manually managed
// goals are rejected; their progress is owned by the operator.
func (s *Service) RecalculateProgress(ctx context.Context, id, actorEmail string) (*model.Goal, error) {
	g, _, err := s.loadAuthorized(ctx, id, actorEmail)
	if err != nil {
		return nil, err
	}
	if !g.IsAutoCalculated() {
		return nil, eris.Wrapf(ErrManualSource, "goal %s", id)
	}

	if _, err := s.calc.Calculate(ctx, id); err != nil {
		return nil, err
	}
	zap.L().Info("goal: manual recalculation triggered",
		zap.String("goal_id", id), zap.String("actor", actorEmail))
	return s.st.GetGoal(ctx, id)
}

// RecalculateForEntity recalculates every goal affected by a CRM entity
// change. entityType is deal, activity, or task.
func (s *Service) RecalculateForEntity(ctx context.Context, entityType, entityID string) (int, error) {
	return s.calc.RecalculateForEntity(ctx, entityType, entityID)
}

// RecalculateAll recalculates every active auto-calculated goal.
func (s *Service) RecalculateAll(ctx context.Context) (int, error) {
	return s.calc.RecalculateAll(ctx)
}

// Activate moves a goal from draft to active.
func (s *Service) Activate(ctx context.Context, id, actorEmail string) (*model.Goal, error) {
	return s.transition(ctx, id, actorEmail, (*model.Goal).Activate)
}

// Complete closes a goal as achieved, snapping progress to target.
func (s *Service) Complete(ctx context.Context, id, actorEmail string) (*model.Goal, error) {
	return s.transition(ctx, id, actorEmail, (*model.Goal).Complete)
}

// Cancel closes a goal without touching progress.
func (s *Service) Cancel(ctx context.Context, id, actorEmail string) (*model.Goal, error) {
	return s.transition(ctx, id, actorEmail, (*model.Goal).Cancel)
}

func (s *Service) transition(ctx context.Context, id, actorEmail string, apply func(*model.Goal)) (*model.Goal, error) {
	g, _, err := s.loadAuthorized(ctx, id, actorEmail)
	if err != nil {
		return nil, err
	}
	apply(g)
	g.Touch(actorEmail, time.Now())
	if err := s.st.WithTx(ctx, func(tx store.Store) error {
		return tx.UpdateGoal(ctx, g)
	}); err != nil {
		return nil, err
	}
	return g, nil
}

// GetForecast projects the goal's completion from its snapshot history.
// Returns (nil, nil) when the goal does not exist.
func (s *Service) GetForecast(ctx context.Context, id string) (*forecast.Projection, error) {
	g, err := s.st.GetGoal(ctx, id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, nil
	}
	snaps, err := s.st.ListSnapshots(ctx, id)
	if err != nil {
		return nil, err
	}
	return forecast.Project(g, snaps, time.Now()), nil
}

// GetProgressHistory returns the goal's snapshots, oldest first.
func (s *Service) GetProgressHistory(ctx context.Context, id string) ([]model.ProgressSnapshot, error) {
	return s.st.ListSnapshots(ctx, id)
}

// GetAuditTrail returns the goal's audit entries, oldest first.
func (s *Service) GetAuditTrail(ctx context.Context, id string) ([]model.AuditEntry, error) {
	return s.st.ListAudit(ctx, id)
}

// LinkToParent links a goal under a parent after authorization against the
// child goal. The link, its audit entry, and the resulting rollup commit
// atomically.
func (s *Service) LinkToParent(ctx context.Context, childID, parentID, actorEmail string) (*model.Goal, error) {
	if _, _, err := s.loadAuthorized(ctx, childID, actorEmail); err != nil {
		return nil, err
	}
	var linked *model.Goal
	err := s.st.WithTx(ctx, func(tx store.Store) error {
		g, err := hierarchy.New(tx).LinkToParent(ctx, childID, parentID, actorEmail)
		linked = g
		return err
	})
	if err != nil {
		return nil, err
	}
	return linked, nil
}

// UnlinkFromParent removes a goal's parent link.
func (s *Service) UnlinkFromParent(ctx context.Context, childID, actorEmail string) (*model.Goal, error) {
	if _, _, err := s.loadAuthorized(ctx, childID, actorEmail); err != nil {
		return nil, err
	}
	var unlinked *model.Goal
	err := s.st.WithTx(ctx, func(tx store.Store) error {
		g, err := hierarchy.New(tx).UnlinkFromParent(ctx, childID, actorEmail)
		unlinked = g
		return err
	})
	if err != nil {
		return nil, err
	}
	return unlinked, nil
}

// GetHierarchy returns the goal's hierarchy projection, or (nil, nil) when
// the goal does not exist.
func (s *Service) GetHierarchy(ctx context.Context, id string) (*hierarchy.View, error) {
	return hierarchy.New(s.st).GetHierarchy(ctx, id)
}

// GetAnalytics builds the analytics rollup for goals matching the filter.
func (s *Service) GetAnalytics(ctx context.Context, filter store.GoalFilter) (*analytics.Report, error) {
	return analytics.New(s.st).Report(ctx, filter, time.Now())
}

// loadAuthorized fetches a goal and checks the actor may modify it.
func (s *Service) loadAuthorized(ctx context.Context, id, actorEmail string) (*model.Goal, *model.User, error) {
	g, err := s.st.GetGoal(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if g == nil {
		return nil, nil, eris.Wrapf(ErrNotFound, "goal %s", id)
	}
	user, err := s.resolveActor(ctx, actorEmail)
	if err != nil {
		return nil, nil, err
	}
	if err := authorize(g.OwnerType, g.OwnerID, user); err != nil {
		return nil, nil, err
	}
	return g, user, nil
}
