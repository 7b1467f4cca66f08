package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-goals/internal/db"
	"github.com/sells-group/crm-goals/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const goalColumns = `id, name, description, type, target_value, progress, timeframe, recurring,
	start_date, end_date, owner_type, owner_id, status, parent_goal_id,
	calculation_source, last_calculated_at, calculation_failed, manual_override_reason,
	created_at, created_by, updated_at, updated_by`

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations (recalculation touches
// these on every event).
var preparedStatements = map[string]string{
	"get_goal":        `SELECT ` + goalColumns + ` FROM crm_goal WHERE id = $1`,
	"get_children":    `SELECT ` + goalColumns + ` FROM crm_goal WHERE parent_goal_id = $1 ORDER BY created_at`,
	"insert_snapshot": `INSERT INTO crm_goal_progress_history (id, goal_id, progress_value, target_value, progress_percentage, source, taken_at, created_by, notes) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"insert_audit":    `INSERT INTO crm_goal_audit_log (id, goal_id, event_type, before_value, after_value, details, changed_by, changed_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., the fact source and bulk import).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS crm_user (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	email      TEXT NOT NULL UNIQUE,
	name       TEXT,
	role       TEXT NOT NULL DEFAULT 'rep'
);

CREATE TABLE IF NOT EXISTS crm_goal (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name                   TEXT NOT NULL,
	description            TEXT,
	type                   TEXT NOT NULL,
	target_value           DOUBLE PRECISION,
	progress               DOUBLE PRECISION NOT NULL DEFAULT 0,
	timeframe              TEXT,
	recurring              BOOLEAN NOT NULL DEFAULT false,
	start_date             TIMESTAMPTZ,
	end_date               TIMESTAMPTZ,
	owner_type             TEXT NOT NULL DEFAULT 'individual',
	owner_id               TEXT,
	status                 TEXT NOT NULL DEFAULT 'draft',
	parent_goal_id         TEXT REFERENCES crm_goal(id),
	calculation_source     TEXT NOT NULL DEFAULT 'manual',
	last_calculated_at     TIMESTAMPTZ,
	calculation_failed     BOOLEAN NOT NULL DEFAULT false,
	manual_override_reason TEXT,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_by             TEXT,
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_by             TEXT
);

CREATE INDEX IF NOT EXISTS idx_goal_parent ON crm_goal(parent_goal_id);
CREATE INDEX IF NOT EXISTS idx_goal_status ON crm_goal(status);
CREATE INDEX IF NOT EXISTS idx_goal_calc_source ON crm_goal(calculation_source);
CREATE INDEX IF NOT EXISTS idx_goal_owner ON crm_goal(owner_type, owner_id);

CREATE TABLE IF NOT EXISTS crm_goal_progress_history (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	goal_id             TEXT NOT NULL REFERENCES crm_goal(id),
	progress_value      DOUBLE PRECISION NOT NULL,
	target_value        DOUBLE PRECISION NOT NULL DEFAULT 0,
	progress_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
	source              TEXT NOT NULL,
	taken_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_by          TEXT,
	notes               TEXT
);

CREATE INDEX IF NOT EXISTS idx_history_goal_time ON crm_goal_progress_history(goal_id, taken_at);

CREATE TABLE IF NOT EXISTS crm_goal_audit_log (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	goal_id      TEXT NOT NULL REFERENCES crm_goal(id),
	event_type   TEXT NOT NULL,
	before_value TEXT,
	after_value  TEXT,
	details      JSONB,
	changed_by   TEXT,
	changed_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_goal_time ON crm_goal_audit_log(goal_id, changed_at);

CREATE TABLE IF NOT EXISTS crm_deal (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL,
	amount     DOUBLE PRECISION NOT NULL DEFAULT 0,
	status     TEXT NOT NULL,
	close_date TIMESTAMPTZ,
	owner_id   TEXT
);

CREATE INDEX IF NOT EXISTS idx_deal_status_close ON crm_deal(status, close_date);

CREATE TABLE IF NOT EXISTS crm_activity (
	id       TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind     TEXT NOT NULL DEFAULT 'call',
	status   TEXT NOT NULL,
	due_date TIMESTAMPTZ,
	owner_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_activity_status_due ON crm_activity(status, due_date);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// WithTx runs fn against a transaction-bound copy of the store.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{pool: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func scanGoal(scan func(dest ...any) error) (*model.Goal, error) {
	var g model.Goal
	var description, timeframe, ownerID, parentID, overrideReason, createdBy, updatedBy *string
	err := scan(
		&g.ID, &g.Name, &description, &g.Type, &g.TargetValue, &g.Progress, &timeframe, &g.Recurring,
		&g.StartDate, &g.EndDate, &g.OwnerType, &ownerID, &g.Status, &parentID,
		&g.CalculationSource, &g.LastCalculatedAt, &g.CalculationFailed, &overrideReason,
		&g.CreatedAt, &createdBy, &g.UpdatedAt, &updatedBy,
	)
	if err != nil {
		return nil, err
	}
	g.Description = strOrEmpty(description)
	g.Timeframe = model.Timeframe(strOrEmpty(timeframe))
	g.OwnerID = strOrEmpty(ownerID)
	g.ParentGoalID = strOrEmpty(parentID)
	g.ManualOverrideReason = strOrEmpty(overrideReason)
	g.CreatedBy = strOrEmpty(createdBy)
	g.UpdatedBy = strOrEmpty(updatedBy)
	return &g, nil
}

func (s *PostgresStore) CreateGoal(ctx context.Context, g *model.Goal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crm_goal (`+goalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		g.ID, g.Name, nullStr(g.Description), string(g.Type), g.TargetValue, g.Progress,
		nullStr(string(g.Timeframe)), g.Recurring, g.StartDate, g.EndDate,
		string(g.OwnerType), nullStr(g.OwnerID), string(g.Status), nullStr(g.ParentGoalID),
		string(g.CalculationSource), g.LastCalculatedAt, g.CalculationFailed, nullStr(g.ManualOverrideReason),
		g.CreatedAt, nullStr(g.CreatedBy), g.UpdatedAt, nullStr(g.UpdatedBy),
	)
	return eris.Wrapf(err, "postgres: insert goal %s", g.ID)
}

func (s *PostgresStore) GetGoal(ctx context.Context, id string) (*model.Goal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+goalColumns+` FROM crm_goal WHERE id = $1`, id)
	g, err := scanGoal(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get goal %s", id)
	}
	return g, nil
}

func (s *PostgresStore) UpdateGoal(ctx context.Context, g *model.Goal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crm_goal SET
			name = $1, description = $2, type = $3, target_value = $4, progress = $5,
			timeframe = $6, recurring = $7, start_date = $8, end_date = $9,
			owner_type = $10, owner_id = $11, status = $12, parent_goal_id = $13,
			calculation_source = $14, last_calculated_at = $15, calculation_failed = $16,
			manual_override_reason = $17, updated_at = $18, updated_by = $19
		 WHERE id = $20`,
		g.Name, nullStr(g.Description), string(g.Type), g.TargetValue, g.Progress,
		nullStr(string(g.Timeframe)), g.Recurring, g.StartDate, g.EndDate,
		string(g.OwnerType), nullStr(g.OwnerID), string(g.Status), nullStr(g.ParentGoalID),
		string(g.CalculationSource), g.LastCalculatedAt, g.CalculationFailed,
		nullStr(g.ManualOverrideReason), g.UpdatedAt, nullStr(g.UpdatedBy), g.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update goal %s", g.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("goal not found: %s", g.ID)
	}
	return nil
}

func (s *PostgresStore) ListGoals(ctx context.Context, filter GoalFilter) ([]model.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM crm_goal WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND calculation_source = $%d`, argIdx)
		args = append(args, string(filter.Source))
		argIdx++
	}
	if filter.OwnerType != "" {
		query += fmt.Sprintf(` AND owner_type = $%d`, argIdx)
		args = append(args, string(filter.OwnerType))
		argIdx++
	}
	if filter.OwnerID != "" {
		query += fmt.Sprintf(` AND owner_id = $%d`, argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		query += fmt.Sprintf(` AND type = ANY($%d)`, argIdx)
		args = append(args, types)
		argIdx++
	}
	query += ` ORDER BY created_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list goals")
	}
	defer rows.Close()

	var goals []model.Goal
	for rows.Next() {
		g, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan goal")
		}
		goals = append(goals, *g)
	}
	return goals, eris.Wrap(rows.Err(), "postgres: list goals iterate")
}

func (s *PostgresStore) GetChildren(ctx context.Context, id string) ([]model.Goal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+goalColumns+` FROM crm_goal WHERE parent_goal_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get children of %s", id)
	}
	defer rows.Close()

	var goals []model.Goal
	for rows.Next() {
		g, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan child goal")
		}
		goals = append(goals, *g)
	}
	return goals, eris.Wrap(rows.Err(), "postgres: get children iterate")
}

// GetAncestors walks parent links with a recursive CTE, closest ancestor
// first. The depth cap protects against a corrupted hierarchy that would
// otherwise loop the CTE.
func (s *PostgresStore) GetAncestors(ctx context.Context, id string) ([]model.Goal, error) {
	rows, err := s.pool.Query(ctx,
		`WITH RECURSIVE ancestors AS (
			SELECT g.*, 1 AS depth FROM crm_goal g
			WHERE g.id = (SELECT parent_goal_id FROM crm_goal WHERE id = $1)
			UNION ALL
			SELECT g.*, a.depth + 1 FROM crm_goal g
			JOIN ancestors a ON g.id = a.parent_goal_id
			WHERE a.depth < 16
		)
		SELECT `+goalColumns+` FROM ancestors ORDER BY depth`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get ancestors of %s", id)
	}
	defer rows.Close()

	var goals []model.Goal
	for rows.Next() {
		g, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan ancestor goal")
		}
		goals = append(goals, *g)
	}
	return goals, eris.Wrap(rows.Err(), "postgres: get ancestors iterate")
}

// GetDescendants returns the transitive child set, breadth-first.
func (s *PostgresStore) GetDescendants(ctx context.Context, id string) ([]model.Goal, error) {
	rows, err := s.pool.Query(ctx,
		`WITH RECURSIVE descendants AS (
			SELECT g.*, 1 AS depth FROM crm_goal g WHERE g.parent_goal_id = $1
			UNION ALL
			SELECT g.*, d.depth + 1 FROM crm_goal g
			JOIN descendants d ON g.parent_goal_id = d.id
			WHERE d.depth < 16
		)
		SELECT `+goalColumns+` FROM descendants ORDER BY depth, created_at`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get descendants of %s", id)
	}
	defer rows.Close()

	var goals []model.Goal
	for rows.Next() {
		g, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan descendant goal")
		}
		goals = append(goals, *g)
	}
	return goals, eris.Wrap(rows.Err(), "postgres: get descendants iterate")
}

func (s *PostgresStore) CreateSnapshot(ctx context.Context, snap *model.ProgressSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO crm_goal_progress_history
		 (id, goal_id, progress_value, target_value, progress_percentage, source, taken_at, created_by, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		snap.ID, snap.GoalID, snap.ProgressValue, snap.TargetValue, snap.ProgressPercentage,
		string(snap.Source), snap.TakenAt, nullStr(snap.CreatedBy), nullStr(snap.Notes),
	)
	return eris.Wrapf(err, "postgres: insert snapshot for goal %s", snap.GoalID)
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, goalID string) ([]model.ProgressSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, goal_id, progress_value, target_value, progress_percentage, source, taken_at, created_by, notes
		 FROM crm_goal_progress_history WHERE goal_id = $1 ORDER BY taken_at`, goalID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list snapshots for goal %s", goalID)
	}
	defer rows.Close()

	var snaps []model.ProgressSnapshot
	for rows.Next() {
		var sn model.ProgressSnapshot
		var createdBy, notes *string
		if err := rows.Scan(&sn.ID, &sn.GoalID, &sn.ProgressValue, &sn.TargetValue,
			&sn.ProgressPercentage, &sn.Source, &sn.TakenAt, &createdBy, &notes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		sn.CreatedBy = strOrEmpty(createdBy)
		sn.Notes = strOrEmpty(notes)
		snaps = append(snaps, sn)
	}
	return snaps, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal audit details")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO crm_goal_audit_log
		 (id, goal_id, event_type, before_value, after_value, details, changed_by, changed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.GoalID, string(entry.EventType), nullStr(entry.BeforeValue),
		nullStr(entry.AfterValue), detailsJSON, nullStr(entry.ChangedBy), entry.ChangedAt,
	)
	return eris.Wrapf(err, "postgres: append audit for goal %s", entry.GoalID)
}

func (s *PostgresStore) ListAudit(ctx context.Context, goalID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, goal_id, event_type, before_value, after_value, details, changed_by, changed_at
		 FROM crm_goal_audit_log WHERE goal_id = $1 ORDER BY changed_at`, goalID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list audit for goal %s", goalID)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var beforeValue, afterValue, changedBy *string
		var detailsJSON []byte
		if err := rows.Scan(&e.ID, &e.GoalID, &e.EventType, &beforeValue, &afterValue,
			&detailsJSON, &changedBy, &e.ChangedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		e.BeforeValue = strOrEmpty(beforeValue)
		e.AfterValue = strOrEmpty(afterValue)
		e.ChangedBy = strOrEmpty(changedBy)
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal audit details")
			}
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	var name *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, role FROM crm_user WHERE email = $1`, email,
	).Scan(&u.ID, &u.Email, &name, &u.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get user %s", email)
	}
	u.Name = strOrEmpty(name)
	return &u, nil
}
