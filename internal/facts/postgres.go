package facts

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-goals/internal/db"
)

// PostgresSource aggregates over the crm_deal and crm_activity tables.
type PostgresSource struct {
	pool db.Pool
}

// NewPostgres creates a fact source backed by the given pool.
func NewPostgres(pool db.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// ownerClause matches the reference semantics: an empty owner means the query
// is unrestricted; otherwise rows must belong to the owner.
const ownerClause = `($3 = '' OR owner_id = $3)`

func (s *PostgresSource) SumWonDealAmounts(ctx context.Context, scope Scope) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM crm_deal
		 WHERE status = 'won' AND close_date >= $1 AND close_date <= $2 AND `+ownerClause,
		scope.Start, scope.End, scope.OwnerID,
	).Scan(&sum)
	return sum, eris.Wrap(err, "facts: sum won deal amounts")
}

func (s *PostgresSource) CountWonDeals(ctx context.Context, scope Scope) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM crm_deal
		 WHERE status = 'won' AND close_date >= $1 AND close_date <= $2 AND `+ownerClause,
		scope.Start, scope.End, scope.OwnerID,
	).Scan(&count)
	return count, eris.Wrap(err, "facts: count won deals")
}

func (s *PostgresSource) CountCompletedActivities(ctx context.Context, scope Scope) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM crm_activity
		 WHERE status = 'completed' AND due_date >= $1 AND due_date <= $2 AND `+ownerClause,
		scope.Start, scope.End, scope.OwnerID,
	).Scan(&count)
	return count, eris.Wrap(err, "facts: count completed activities")
}

func (s *PostgresSource) CountCompletedTasks(ctx context.Context, scope Scope) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM crm_activity
		 WHERE kind = 'task' AND status = 'completed' AND due_date >= $1 AND due_date <= $2 AND `+ownerClause,
		scope.Start, scope.End, scope.OwnerID,
	).Scan(&count)
	return count, eris.Wrap(err, "facts: count completed tasks")
}
