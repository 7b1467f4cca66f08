package model

import (
	"time"
)

// GoalType selects the CRM fact a goal's progress is derived from.
type GoalType string

const (
	GoalTypeRevenue    GoalType = "revenue"    // sum of won deal amounts
	GoalTypeDeals      GoalType = "deals"      // count of won deals
	GoalTypeActivities GoalType = "activities" // count of completed activities
	GoalTypeTasks      GoalType = "tasks"      // count of completed task activities
)

// Valid reports whether t is a supported goal type.
func (t GoalType) Valid() bool {
	switch t {
	case GoalTypeRevenue, GoalTypeDeals, GoalTypeActivities, GoalTypeTasks:
		return true
	}
	return false
}

// OwnerType is the scope a goal belongs to.
type OwnerType string

const (
	OwnerTypeCompany    OwnerType = "company"
	OwnerTypeTeam       OwnerType = "team"
	OwnerTypeIndividual OwnerType = "individual"
)

// GoalStatus represents the lifecycle state of a goal.
type GoalStatus string

const (
	GoalStatusDraft     GoalStatus = "draft"
	GoalStatusActive    GoalStatus = "active"
	GoalStatusCompleted GoalStatus = "completed"
	GoalStatusCancelled GoalStatus = "cancelled"
)

// CalculationSource records where a goal's progress value comes from.
type CalculationSource string

const (
	SourceAutoCalculated CalculationSource = "auto_calculated"
	SourceManual         CalculationSource = "manual"
)

// Timeframe is the named period a goal covers.
type Timeframe string

const (
	TimeframeThisWeek    Timeframe = "this_week"
	TimeframeThisMonth   Timeframe = "this_month"
	TimeframeThisQuarter Timeframe = "this_quarter"
	TimeframeThisYear    Timeframe = "this_year"
	TimeframeCustom      Timeframe = "custom"
)

// Goal is a trackable target owned by a company, team, or individual.
// Hierarchy is an edge (ParentGoalID), never an in-memory pointer graph;
// cycle and depth checks are explicit walks over ids.
type Goal struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Type        GoalType `json:"type"`

	TargetValue *float64 `json:"target_value,omitempty"`
	Progress    float64  `json:"progress"`

	Timeframe Timeframe  `json:"timeframe,omitempty"`
	Recurring bool       `json:"recurring"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	OwnerType OwnerType `json:"owner_type"`
	OwnerID   string    `json:"owner_id,omitempty"` // required for individual/team scope

	Status GoalStatus `json:"status"`

	// Weak self-reference; empty for root goals.
	ParentGoalID string `json:"parent_goal_id,omitempty"`

	CalculationSource    CalculationSource `json:"calculation_source"`
	LastCalculatedAt     *time.Time        `json:"last_calculated_at,omitempty"`
	CalculationFailed    bool              `json:"calculation_failed"`
	ManualOverrideReason string            `json:"manual_override_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// ProgressPercentage returns progress as a percentage of target.
// Goals without a positive target report 0.
func (g *Goal) ProgressPercentage() float64 {
	if g.TargetValue == nil || *g.TargetValue <= 0 {
		return 0
	}
	return g.Progress / *g.TargetValue * 100
}

// IsAutoCalculated reports whether the calculator owns this goal's progress.
func (g *Goal) IsAutoCalculated() bool { return g.CalculationSource == SourceAutoCalculated }

// IsActive reports whether the goal is in the active lifecycle state.
func (g *Goal) IsActive() bool { return g.Status == GoalStatusActive }

// IsClosed reports whether the goal has been completed or cancelled.
func (g *Goal) IsClosed() bool {
	return g.Status == GoalStatusCompleted || g.Status == GoalStatusCancelled
}

// HasParent reports whether the goal is linked under another goal.
func (g *Goal) HasParent() bool { return g.ParentGoalID != "" }

// DaysRemaining returns whole days until the end date, relative to now.
// Goals without an end date report 0.
func (g *Goal) DaysRemaining(now time.Time) int {
	if g.EndDate == nil {
		return 0
	}
	return int(g.EndDate.Truncate(24*time.Hour).Sub(now.Truncate(24*time.Hour)).Hours() / 24)
}

// IsOverdue reports whether the end date has passed on an open goal.
func (g *Goal) IsOverdue(now time.Time) bool {
	return g.EndDate != nil && g.EndDate.Before(now) && !g.IsClosed()
}

// Touch stamps the audit fields for a write. Every write path calls this
// explicitly; there is no reflection-based audit field handling.
func (g *Goal) Touch(updatedBy string, now time.Time) {
	g.UpdatedAt = now.UTC()
	g.UpdatedBy = updatedBy
}

// Activate moves the goal to the active state.
func (g *Goal) Activate() { g.Status = GoalStatusActive }

// Complete closes the goal, snapping progress to target if not already met.
func (g *Goal) Complete() {
	g.Status = GoalStatusCompleted
	if g.TargetValue != nil && g.Progress < *g.TargetValue {
		g.Progress = *g.TargetValue
	}
}

// Cancel closes the goal without touching progress.
func (g *Goal) Cancel() { g.Status = GoalStatusCancelled }
