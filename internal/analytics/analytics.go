// Package analytics computes read-side rollups over goals and their progress
// history: completion rates, monthly trend, type breakdown, velocity, and
// peer comparison for individual scopes. Nothing here writes.
package analytics

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/crm-goals/internal/model"
	"github.com/sells-group/crm-goals/internal/store"
)

// Reports need a month of goal history before the aggregates mean anything.
const sufficientHistoryDays = 30

// trendMonths caps the completion-rate trend series.
const trendMonths = 12

// TrendPoint is one month of the completion-rate trend, keyed by the month
// the goals were due.
type TrendPoint struct {
	Month          string  `json:"month"` // YYYY-MM
	TotalGoals     int     `json:"total_goals"`
	CompletedGoals int     `json:"completed_goals"`
	CompletionRate float64 `json:"completion_rate"`
}

// TypeBreakdown aggregates goals of one type.
type TypeBreakdown struct {
	Type            model.GoalType `json:"type"`
	TotalGoals      int            `json:"total_goals"`
	CompletedGoals  int            `json:"completed_goals"`
	CompletionRate  float64        `json:"completion_rate"`
	AverageProgress float64        `json:"average_progress"`
}

// Report is the full analytics rollup for a goal query.
type Report struct {
	TotalGoals     int `json:"total_goals"`
	CompletedGoals int `json:"completed_goals"`
	ActiveGoals    int `json:"active_goals"`
	CancelledGoals int `json:"cancelled_goals"`

	OverallCompletionRate float64 `json:"overall_completion_rate"`
	AverageProgress       float64 `json:"average_progress"`

	AverageVelocity    float64 `json:"average_velocity"` // pct points per day
	VelocityDataPoints int     `json:"velocity_data_points"`

	CompletionRateTrend []TrendPoint    `json:"completion_rate_trend,omitempty"`
	TypeBreakdown       []TypeBreakdown `json:"type_breakdown,omitempty"`

	// Peer comparison, populated only for individual-scoped queries.
	TeamAverageCompletionRate    *float64 `json:"team_average_completion_rate,omitempty"`
	CompanyAverageCompletionRate *float64 `json:"company_average_completion_rate,omitempty"`
	TeamAverageVelocity          *float64 `json:"team_average_velocity,omitempty"`
	CompanyAverageVelocity       *float64 `json:"company_average_velocity,omitempty"`

	HasSufficientData bool       `json:"has_sufficient_data"`
	OldestGoalDate    *time.Time `json:"oldest_goal_date,omitempty"`
	DaysOfHistory     int        `json:"days_of_history"`
}

// Reader computes analytics over the store.
type Reader struct {
	st store.Store
}

// New creates a Reader over the given store.
func New(st store.Store) *Reader {
	return &Reader{st: st}
}

// Report builds the analytics rollup for goals matching the filter. An
// individual-scoped filter additionally pulls team and company aggregates so
// the caller can show how the individual compares.
func (r *Reader) Report(ctx context.Context, filter store.GoalFilter, now time.Time) (*Report, error) {
	goals, err := r.st.ListGoals(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(goals) == 0 {
		return &Report{}, nil
	}

	rep := &Report{TotalGoals: len(goals)}

	var progressSum float64
	oldest := time.Time{}
	for _, g := range goals {
		switch {
		case isCompleted(&g):
			rep.CompletedGoals++
		case g.Status == model.GoalStatusCancelled:
			rep.CancelledGoals++
		}
		if g.Status == model.GoalStatusActive {
			rep.ActiveGoals++
		}
		progressSum += g.ProgressPercentage()
		if !g.CreatedAt.IsZero() && (oldest.IsZero() || g.CreatedAt.Before(oldest)) {
			oldest = g.CreatedAt
		}
	}
	rep.OverallCompletionRate = float64(rep.CompletedGoals) / float64(rep.TotalGoals) * 100
	rep.AverageProgress = progressSum / float64(rep.TotalGoals)

	if !oldest.IsZero() {
		o := oldest
		rep.OldestGoalDate = &o
		rep.DaysOfHistory = int(now.Sub(oldest).Hours() / 24)
	}
	rep.HasSufficientData = rep.DaysOfHistory >= sufficientHistoryDays

	rep.CompletionRateTrend = completionTrend(goals)
	rep.TypeBreakdown = typeBreakdown(goals)

	avgVel, points, err := r.averageVelocity(ctx, goals, now)
	if err != nil {
		return nil, err
	}
	rep.AverageVelocity = avgVel
	rep.VelocityDataPoints = points

	if filter.OwnerType == model.OwnerTypeIndividual {
		if err := r.addPeerComparison(ctx, rep, now); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

// addPeerComparison fills the team and company aggregates. A peer scope with
// no goals leaves its fields nil rather than reporting a zero rate.
func (r *Reader) addPeerComparison(ctx context.Context, rep *Report, now time.Time) error {
	for _, peer := range []model.OwnerType{model.OwnerTypeTeam, model.OwnerTypeCompany} {
		goals, err := r.st.ListGoals(ctx, store.GoalFilter{OwnerType: peer})
		if err != nil {
			return err
		}
		if len(goals) == 0 {
			continue
		}

		var completed int
		for _, g := range goals {
			if isCompleted(&g) {
				completed++
			}
		}
		rate := float64(completed) / float64(len(goals)) * 100

		vel, _, err := r.averageVelocity(ctx, goals, now)
		if err != nil {
			return err
		}

		switch peer {
		case model.OwnerTypeTeam:
			rep.TeamAverageCompletionRate = &rate
			rep.TeamAverageVelocity = &vel
		case model.OwnerTypeCompany:
			rep.CompanyAverageCompletionRate = &rate
			rep.CompanyAverageVelocity = &vel
		}
	}
	return nil
}

// completionTrend groups goals by due month and reports per-month completion
// rates for the most recent months.
func completionTrend(goals []model.Goal) []TrendPoint {
	type bucket struct{ total, completed int }
	monthly := make(map[string]*bucket)

	for i := range goals {
		g := &goals[i]
		if g.EndDate == nil {
			continue
		}
		key := g.EndDate.Format("2006-01")
		b := monthly[key]
		if b == nil {
			b = &bucket{}
			monthly[key] = b
		}
		b.total++
		if isCompleted(g) {
			b.completed++
		}
	}

	months := make([]string, 0, len(monthly))
	for m := range monthly {
		months = append(months, m)
	}
	sort.Strings(months)
	if len(months) > trendMonths {
		months = months[len(months)-trendMonths:]
	}

	trend := make([]TrendPoint, 0, len(months))
	for _, m := range months {
		b := monthly[m]
		trend = append(trend, TrendPoint{
			Month:          m,
			TotalGoals:     b.total,
			CompletedGoals: b.completed,
			CompletionRate: float64(b.completed) / float64(b.total) * 100,
		})
	}
	return trend
}

// typeBreakdown aggregates per goal type, largest group first.
func typeBreakdown(goals []model.Goal) []TypeBreakdown {
	groups := make(map[model.GoalType][]*model.Goal)
	for i := range goals {
		g := &goals[i]
		groups[g.Type] = append(groups[g.Type], g)
	}

	breakdown := make([]TypeBreakdown, 0, len(groups))
	for typ, members := range groups {
		var completed int
		var progressSum float64
		for _, g := range members {
			if isCompleted(g) {
				completed++
			}
			progressSum += g.ProgressPercentage()
		}
		breakdown = append(breakdown, TypeBreakdown{
			Type:            typ,
			TotalGoals:      len(members),
			CompletedGoals:  completed,
			CompletionRate:  float64(completed) / float64(len(members)) * 100,
			AverageProgress: progressSum / float64(len(members)),
		})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].TotalGoals != breakdown[j].TotalGoals {
			return breakdown[i].TotalGoals > breakdown[j].TotalGoals
		}
		return breakdown[i].Type < breakdown[j].Type
	})
	return breakdown
}

// averageVelocity is the mean of positive per-snapshot-pair velocities in
// percentage points per day, across all given goals. Goals with progress but
// no snapshots fall back to a single velocity derived from their start date.
func (r *Reader) averageVelocity(ctx context.Context, goals []model.Goal, now time.Time) (float64, int, error) {
	var velocities []float64

	for i := range goals {
		g := &goals[i]
		if g.StartDate == nil || g.Progress <= 0 {
			continue
		}

		snaps, err := r.st.ListSnapshots(ctx, g.ID)
		if err != nil {
			return 0, 0, err
		}

		if len(snaps) == 0 {
			daysElapsed := now.Sub(*g.StartDate).Hours() / 24
			if daysElapsed > 0 {
				if v := g.ProgressPercentage() / daysElapsed; v > 0 {
					velocities = append(velocities, v)
				}
			}
			continue
		}

		sort.Slice(snaps, func(a, b int) bool { return snaps[a].TakenAt.Before(snaps[b].TakenAt) })
		for j := 1; j < len(snaps); j++ {
			days := snaps[j].TakenAt.Sub(snaps[j-1].TakenAt).Hours() / 24
			if days <= 0 {
				continue
			}
			if v := (snaps[j].ProgressPercentage - snaps[j-1].ProgressPercentage) / days; v > 0 {
				velocities = append(velocities, v)
			}
		}
	}

	if len(velocities) == 0 {
		return 0, 0, nil
	}
	var sum float64
	for _, v := range velocities {
		sum += v
	}
	zap.L().Debug("analytics: velocity computed",
		zap.Int("data_points", len(velocities)),
		zap.Float64("average", sum/float64(len(velocities))),
	)
	return sum / float64(len(velocities)), len(velocities), nil
}

// A goal counts as completed once it is closed as completed or has reached
// its target, whichever comes first.
func isCompleted(g *model.Goal) bool {
	return g.Status == model.GoalStatusCompleted || g.ProgressPercentage() >= 100
}
