// Package facts exposes the narrow read surface over CRM data the progress
// calculator aggregates from. The calculator treats this as an opaque
// dependency; implementations answer four aggregate questions filtered by
// date range and optional owner.
package facts

import (
	"context"
	"time"
)

// Scope bounds an aggregate query. OwnerID is set only for individual-scoped
// goals; team- and company-scoped goals aggregate unrestricted (membership
// resolution is owned by the org layer, not this subsystem).
type Scope struct {
	Start   time.Time
	End     time.Time
	OwnerID string
}

// Source answers aggregate questions about CRM facts.
type Source interface {
	// SumWonDealAmounts returns the total amount of won deals whose close
	// date falls within the scope.
	SumWonDealAmounts(ctx context.Context, scope Scope) (float64, error)
	// CountWonDeals returns the number of won deals in scope.
	CountWonDeals(ctx context.Context, scope Scope) (int, error)
	// CountCompletedActivities returns the number of completed activities
	// whose due date falls within the scope.
	CountCompletedActivities(ctx context.Context, scope Scope) (int, error)
	// CountCompletedTasks returns the number of completed task-kind
	// activities in scope.
	CountCompletedTasks(ctx context.Context, scope Scope) (int, error)
}
