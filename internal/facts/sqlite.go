package facts

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
)

// SQLiteSource mirrors PostgresSource over the SQLite fact tables, for
// single-binary deployments.
type SQLiteSource struct {
	db *sql.DB
}

// NewSQLite creates a fact source backed by the given handle.
func NewSQLite(db *sql.DB) *SQLiteSource {
	return &SQLiteSource{db: db}
}

const sqliteOwnerClause = `(? = '' OR owner_id = ?)`

func (s *SQLiteSource) SumWonDealAmounts(ctx context.Context, scope Scope) (float64, error) {
	var sum float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM crm_deal
		 WHERE status = 'won' AND close_date >= ? AND close_date <= ? AND `+sqliteOwnerClause,
		scope.Start, scope.End, scope.OwnerID, scope.OwnerID,
	).Scan(&sum)
	return sum, eris.Wrap(err, "facts: sum won deal amounts")
}

func (s *SQLiteSource) CountWonDeals(ctx context.Context, scope Scope) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM crm_deal
		 WHERE status = 'won' AND close_date >= ? AND close_date <= ? AND `+sqliteOwnerClause,
		scope.Start, scope.End, scope.OwnerID, scope.OwnerID,
	).Scan(&count)
	return count, eris.Wrap(err, "facts: count won deals")
}

func (s *SQLiteSource) CountCompletedActivities(ctx context.Context, scope Scope) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM crm_activity
		 WHERE status = 'completed' AND due_date >= ? AND due_date <= ? AND `+sqliteOwnerClause,
		scope.Start, scope.End, scope.OwnerID, scope.OwnerID,
	).Scan(&count)
	return count, eris.Wrap(err, "facts: count completed activities")
}

func (s *SQLiteSource) CountCompletedTasks(ctx context.Context, scope Scope) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM crm_activity
		 WHERE kind = 'task' AND status = 'completed' AND due_date >= ? AND due_date <= ? AND `+sqliteOwnerClause,
		scope.Start, scope.End, scope.OwnerID, scope.OwnerID,
	).Scan(&count)
	return count, eris.Wrap(err, "facts: count completed tasks")
}
