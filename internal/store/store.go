package store

import (
	"context"

	"github.com/sells-group/crm-goals/internal/model"
)

// GoalFilter specifies criteria for listing goals.
type GoalFilter struct {
	Status    model.GoalStatus        `json:"status,omitempty"`
	Types     []model.GoalType        `json:"types,omitempty"`
	OwnerType model.OwnerType         `json:"owner_type,omitempty"`
	OwnerID   string                  `json:"owner_id,omitempty"`
	Source    model.CalculationSource `json:"source,omitempty"`
	Limit     int                     `json:"limit,omitempty"`
	Offset    int                     `json:"offset,omitempty"`
}

// Store defines the persistence interface for the goal subsystem: the goal
// records, the two append-only logs (progress snapshots and audit entries),
// and the user lookup used for authorization and attribution.
//
// Reads return (nil, nil) when the record does not exist; mutations return an
// explicit error when the target row is missing.
type Store interface {
	// Goals
	CreateGoal(ctx context.Context, g *model.Goal) error
	GetGoal(ctx context.Context, id string) (*model.Goal, error)
	UpdateGoal(ctx context.Context, g *model.Goal) error
	ListGoals(ctx context.Context, filter GoalFilter) ([]model.Goal, error)

	// Hierarchy walks. Ancestors are ordered closest-first; descendants are
	// the full transitive set excluding the goal itself.
	GetChildren(ctx context.Context, id string) ([]model.Goal, error)
	GetAncestors(ctx context.Context, id string) ([]model.Goal, error)
	GetDescendants(ctx context.Context, id string) ([]model.Goal, error)

	// Progress history (append-only)
	CreateSnapshot(ctx context.Context, snap *model.ProgressSnapshot) error
	ListSnapshots(ctx context.Context, goalID string) ([]model.ProgressSnapshot, error)

	// Audit log (append-only)
	AppendAudit(ctx context.Context, entry *model.AuditEntry) error
	ListAudit(ctx context.Context, goalID string) ([]model.AuditEntry, error)

	// User lookup
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	// WithTx runs fn against a transaction-bound Store. Everything fn writes
	// commits or rolls back as one unit, so "update goal + write snapshot +
	// append audit" is atomic per top-level call.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
