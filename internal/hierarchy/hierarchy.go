// Package hierarchy validates and mutates the parent/child links between
// goals and rolls child progress up the ancestor chain. Cycle and depth
// checks are explicit graph walks over ids in the flat store; the hierarchy
// is never materialized as a pointer graph.
package hierarchy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-goals/internal/model"
	"github.com/sells-group/crm-goals/internal/store"
)

// Each rule fails with a distinct error so callers can present an actionable
// message.
var (
	ErrGoalNotFound       = eris.New("hierarchy: goal not found")
	ErrSelfLink           = eris.New("hierarchy: cannot link a goal to itself")
	ErrCycle              = eris.New("hierarchy: link would create a cycle")
	ErrIncompatibleOwners = eris.New("hierarchy: incompatible owner types")
	ErrMaxDepth           = eris.New("hierarchy: maximum hierarchy depth exceeded")
)

// maxAncestors bounds the ancestor chain: 2 ancestors means 3 levels total
// (company -> team -> individual).
const maxAncestors = 2

// maxRollupHops caps the rollup recursion. The depth invariant already bounds
// it at maxAncestors hops, but a data-migration bug that corrupts parent
// links must not turn the climb into an infinite loop.
const maxRollupHops = 8

// View is a read-only projection of a goal's position in the hierarchy.
type View struct {
	Goal        *model.Goal  `json:"goal"`
	Ancestors   []model.Goal `json:"ancestors"`   // closest-first
	Children    []model.Goal `json:"children"`    // direct only
	Descendants []model.Goal `json:"descendants"` // full transitive set
	Depth       int          `json:"depth"`

	// Aggregates over direct children, for quick display. Nil when the goal
	// has no children.
	AggregatedChildProgress *float64 `json:"aggregated_child_progress,omitempty"`
	AggregatedChildTarget   *float64 `json:"aggregated_child_target,omitempty"`
}

// Manager performs hierarchy mutations against the store it was constructed
// with. It does not manage transactions; callers that need atomicity run it
// against a transaction-bound store.
type Manager struct {
	st store.Store
}

// New creates a Manager over the given store.
func New(st store.Store) *Manager {
	return &Manager{st: st}
}

// LinkToParent links child under parent after running the validation
// pipeline, in order: self-link, cycle, owner-type pairing, max depth.
// On success the link is persisted, audited, and the ancestor chain is
// recalculated before returning.
func (m *Manager) LinkToParent(ctx context.Context, childID, parentID, actor string) (*model.Goal, error) {
	if childID == parentID {
		return nil, eris.Wrapf(ErrSelfLink, "goal %s", childID)
	}

	child, err := m.st.GetGoal(ctx, childID)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, eris.Wrapf(ErrGoalNotFound, "child %s", childID)
	}

	parent, err := m.st.GetGoal(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, eris.Wrapf(ErrGoalNotFound, "parent %s", parentID)
	}

	// Cycle check: the proposed parent must not be a descendant of the child.
	descendants, err := m.st.GetDescendants(ctx, childID)
	if err != nil {
		return nil, err
	}
	for _, d := range descendants {
		if d.ID == parentID {
			return nil, eris.Wrapf(ErrCycle, "parent %s is a descendant of child %s", parentID, childID)
		}
	}

	if !compatibleOwnerTypes(parent.OwnerType, child.OwnerType) {
		return nil, eris.Wrapf(ErrIncompatibleOwners,
			"%s goal cannot have %s child (valid: company->team, company->individual, team->individual)",
			parent.OwnerType, child.OwnerType)
	}

	ancestors, err := m.st.GetAncestors(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if len(ancestors) >= maxAncestors {
		return nil, eris.Wrapf(ErrMaxDepth,
			"parent %s already has %d ancestors (max %d)", parentID, len(ancestors), maxAncestors)
	}

	oldParentID := child.ParentGoalID
	child.ParentGoalID = parentID
	child.Touch(actor, time.Now())
	if err := m.st.UpdateGoal(ctx, child); err != nil {
		return nil, err
	}

	before := oldParentID
	if before == "" {
		before = "null"
	}
	if err := m.st.AppendAudit(ctx, &model.AuditEntry{
		ID:          uuid.New().String(),
		GoalID:      childID,
		EventType:   model.AuditHierarchyLink,
		BeforeValue: before,
		AfterValue:  parentID,
		Details: map[string]any{
			"action":           "link_to_parent",
			"parent_goal_id":   parentID,
			"parent_goal_name": parent.Name,
		},
		ChangedBy: actor,
		ChangedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	zap.L().Info("hierarchy: goal linked to parent",
		zap.String("child_id", childID),
		zap.String("parent_id", parentID),
		zap.String("actor", actor),
	)

	if err := m.RecalculateParentProgress(ctx, childID); err != nil {
		return nil, err
	}
	return child, nil
}

// UnlinkFromParent clears the child's parent link and recalculates the old
// parent, which just lost a contributor. Unlinking a root goal is a no-op.
func (m *Manager) UnlinkFromParent(ctx context.Context, childID, actor string) (*model.Goal, error) {
	child, err := m.st.GetGoal(ctx, childID)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, eris.Wrapf(ErrGoalNotFound, "child %s", childID)
	}
	if !child.HasParent() {
		zap.L().Info("hierarchy: goal has no parent to unlink", zap.String("goal_id", childID))
		return child, nil
	}

	oldParentID := child.ParentGoalID
	child.ParentGoalID = ""
	child.Touch(actor, time.Now())
	if err := m.st.UpdateGoal(ctx, child); err != nil {
		return nil, err
	}

	if err := m.st.AppendAudit(ctx, &model.AuditEntry{
		ID:          uuid.New().String(),
		GoalID:      childID,
		EventType:   model.AuditHierarchyUnlink,
		BeforeValue: oldParentID,
		AfterValue:  "null",
		Details: map[string]any{
			"action":             "unlink_from_parent",
			"old_parent_goal_id": oldParentID,
		},
		ChangedBy: actor,
		ChangedAt: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	zap.L().Info("hierarchy: goal unlinked from parent",
		zap.String("child_id", childID),
		zap.String("old_parent_id", oldParentID),
		zap.String("actor", actor),
	)

	if err := m.aggregateUp(ctx, oldParentID, 0); err != nil {
		return nil, err
	}
	return child, nil
}

// GetHierarchy returns the read-only projection of a goal's hierarchy.
// Returns (nil, nil) when the goal does not exist.
func (m *Manager) GetHierarchy(ctx context.Context, goalID string) (*View, error) {
	goal, err := m.st.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if goal == nil {
		return nil, nil
	}

	ancestors, err := m.st.GetAncestors(ctx, goalID)
	if err != nil {
		return nil, err
	}
	children, err := m.st.GetChildren(ctx, goalID)
	if err != nil {
		return nil, err
	}
	descendants, err := m.st.GetDescendants(ctx, goalID)
	if err != nil {
		return nil, err
	}

	view := &View{
		Goal:        goal,
		Ancestors:   ancestors,
		Children:    children,
		Descendants: descendants,
		Depth:       len(ancestors),
	}
	if len(children) > 0 {
		var progress, target float64
		for _, c := range children {
			progress += c.Progress
			if c.TargetValue != nil {
				target += *c.TargetValue
			}
		}
		view.AggregatedChildProgress = &progress
		view.AggregatedChildTarget = &target
	}
	return view, nil
}

// RecalculateParentProgress recomputes the triggering goal's ancestor chain:
// its parent is re-aggregated from all direct children, then the climb
// repeats to the root. The call chain is synchronous, so a child's progress
// change reaches the root goal before this returns.
func (m *Manager) RecalculateParentProgress(ctx context.Context, goalID string) error {
	goal, err := m.st.GetGoal(ctx, goalID)
	if err != nil {
		return err
	}
	if goal == nil || !goal.HasParent() {
		return nil
	}
	return m.aggregateUp(ctx, goal.ParentGoalID, 0)
}

// aggregateUp recomputes goalID's progress and target from its direct
// children, then recurses to its own parent.
func (m *Manager) aggregateUp(ctx context.Context, goalID string, hops int) error {
	if hops >= maxRollupHops {
		return eris.Errorf("hierarchy: rollup exceeded %d hops at goal %s (corrupted parent chain?)", maxRollupHops, goalID)
	}

	goal, err := m.st.GetGoal(ctx, goalID)
	if err != nil {
		return err
	}
	if goal == nil {
		zap.L().Warn("hierarchy: rollup target not found", zap.String("goal_id", goalID))
		return nil
	}

	children, err := m.st.GetChildren(ctx, goalID)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		zap.L().Info("hierarchy: goal has no children, skipping rollup", zap.String("goal_id", goalID))
		return nil
	}

	var totalProgress, totalTarget float64
	for _, c := range children {
		totalProgress += c.Progress
		if c.TargetValue != nil {
			totalTarget += *c.TargetValue
		}
	}

	oldProgress := goal.Progress
	goal.Progress = totalProgress
	if totalTarget > 0 {
		goal.TargetValue = &totalTarget
	} else {
		// A zero aggregate target would make every percentage meaningless.
		goal.TargetValue = nil
	}
	goal.Touch("system", time.Now())

	if err := m.st.UpdateGoal(ctx, goal); err != nil {
		return err
	}

	if err := m.st.AppendAudit(ctx, &model.AuditEntry{
		ID:          uuid.New().String(),
		GoalID:      goalID,
		EventType:   model.AuditHierarchyRollup,
		BeforeValue: fmt.Sprintf("%.2f", oldProgress),
		AfterValue:  fmt.Sprintf("%.2f", totalProgress),
		Details: map[string]any{
			"action":              "parent_recalculation",
			"child_count":         len(children),
			"aggregated_progress": totalProgress,
			"aggregated_target":   totalTarget,
		},
		ChangedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	zap.L().Info("hierarchy: rollup recalculated",
		zap.String("goal_id", goalID),
		zap.Float64("old_progress", oldProgress),
		zap.Float64("new_progress", totalProgress),
		zap.Int("child_count", len(children)),
	)

	if goal.HasParent() {
		return m.aggregateUp(ctx, goal.ParentGoalID, hops+1)
	}
	return nil
}

func compatibleOwnerTypes(parent, child model.OwnerType) bool {
	switch {
	case parent == model.OwnerTypeCompany && child == model.OwnerTypeTeam:
		return true
	case parent == model.OwnerTypeCompany && child == model.OwnerTypeIndividual:
		return true
	case parent == model.OwnerTypeTeam && child == model.OwnerTypeIndividual:
		return true
	}
	return false
}
