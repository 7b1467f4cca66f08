// Package sweep is the scheduled fallback for event-driven recalculation: a
// periodic pass over every active auto-calculated goal, so a missed CRM event
// can delay a goal's progress by at most one interval. Each pass is paced by
// a rate limiter so a large goal population cannot saturate the store or the
// fact source.
package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/crm-goals/internal/calc"
	"github.com/sells-group/crm-goals/internal/config"
	"github.com/sells-group/crm-goals/internal/model"
	"github.com/sells-group/crm-goals/internal/store"
)

// Sweeper periodically recalculates all active auto-calculated goals.
type Sweeper struct {
	st      store.Store
	calc    *calc.Calculator
	cfg     config.SweepConfig
	limiter *rate.Limiter
}

// New creates a Sweeper. A non-positive GoalsPerSecond disables pacing.
func New(st store.Store, c *calc.Calculator, cfg config.SweepConfig) *Sweeper {
	s := &Sweeper{st: st, calc: c, cfg: cfg}
	if cfg.GoalsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.GoalsPerSecond), 1)
	}
	return s
}

// Run starts the periodic sweep loop. It blocks until ctx is cancelled. The
// first sweep runs one interval after startup, not immediately, to avoid
// competing with whatever triggered the process start.
func (s *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	log := zap.L().With(zap.String("component", "sweep"))
	log.Info("starting reconciliation sweep loop",
		zap.Duration("interval", interval),
		zap.Float64("goals_per_second", s.cfg.GoalsPerSecond),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("sweep loop stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				log.Error("sweep pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single sweep pass and returns the number of goals
// successfully recalculated. Per-goal failures are logged and skipped; only
// listing failures and context cancellation abort the pass.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "sweep"))

	goals, err := s.st.ListGoals(ctx, store.GoalFilter{
		Status: model.GoalStatusActive,
		Source: model.SourceAutoCalculated,
	})
	if err != nil {
		return 0, err
	}

	var ok int
	for _, g := range goals {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				log.Warn("sweep interrupted", zap.Int("completed", ok), zap.Error(err))
				return ok, err
			}
		} else if err := ctx.Err(); err != nil {
			return ok, err
		}

		if _, err := s.calc.Calculate(ctx, g.ID); err != nil {
			log.Error("sweep: recalculation failed for goal",
				zap.String("goal_id", g.ID),
				zap.Error(err),
			)
			continue
		}
		ok++
	}

	log.Info("sweep pass complete",
		zap.Int("recalculated", ok),
		zap.Int("candidates", len(goals)),
		zap.Duration("duration", time.Since(start)),
	)
	return ok, nil
}
