package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crm-goals/internal/model"
)

// querier is the subset of *sql.DB / *sql.Tx the sqlite store uses.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite. Intended for
// single-binary and development deployments; Postgres is the primary backend.
type SQLiteStore struct {
	db *sql.DB // nil when transaction-bound
	q  querier
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, q: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS crm_user (
	id    TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name  TEXT,
	role  TEXT NOT NULL DEFAULT 'rep'
);

CREATE TABLE IF NOT EXISTS crm_goal (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	description            TEXT,
	type                   TEXT NOT NULL,
	target_value           REAL,
	progress               REAL NOT NULL DEFAULT 0,
	timeframe              TEXT,
	recurring              INTEGER NOT NULL DEFAULT 0,
	start_date             DATETIME,
	end_date               DATETIME,
	owner_type             TEXT NOT NULL DEFAULT 'individual',
	owner_id               TEXT,
	status                 TEXT NOT NULL DEFAULT 'draft',
	parent_goal_id         TEXT REFERENCES crm_goal(id),
	calculation_source     TEXT NOT NULL DEFAULT 'manual',
	last_calculated_at     DATETIME,
	calculation_failed     INTEGER NOT NULL DEFAULT 0,
	manual_override_reason TEXT,
	created_at             DATETIME NOT NULL,
	created_by             TEXT,
	updated_at             DATETIME NOT NULL,
	updated_by             TEXT
);

CREATE INDEX IF NOT EXISTS idx_goal_parent ON crm_goal(parent_goal_id);
CREATE INDEX IF NOT EXISTS idx_goal_status ON crm_goal(status);
CREATE INDEX IF NOT EXISTS idx_goal_calc_source ON crm_goal(calculation_source);

CREATE TABLE IF NOT EXISTS crm_goal_progress_history (
	id                  TEXT PRIMARY KEY,
	goal_id             TEXT NOT NULL REFERENCES crm_goal(id),
	progress_value      REAL NOT NULL,
	target_value        REAL NOT NULL DEFAULT 0,
	progress_percentage REAL NOT NULL DEFAULT 0,
	source              TEXT NOT NULL,
	taken_at            DATETIME NOT NULL,
	created_by          TEXT,
	notes               TEXT
);

CREATE INDEX IF NOT EXISTS idx_history_goal_time ON crm_goal_progress_history(goal_id, taken_at);

CREATE TABLE IF NOT EXISTS crm_goal_audit_log (
	id           TEXT PRIMARY KEY,
	goal_id      TEXT NOT NULL REFERENCES crm_goal(id),
	event_type   TEXT NOT NULL,
	before_value TEXT,
	after_value  TEXT,
	details      TEXT,
	changed_by   TEXT,
	changed_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_goal_time ON crm_goal_audit_log(goal_id, changed_at);

CREATE TABLE IF NOT EXISTS crm_deal (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	amount     REAL NOT NULL DEFAULT 0,
	status     TEXT NOT NULL,
	close_date DATETIME,
	owner_id   TEXT
);

CREATE INDEX IF NOT EXISTS idx_deal_status_close ON crm_deal(status, close_date);

CREATE TABLE IF NOT EXISTS crm_activity (
	id       TEXT PRIMARY KEY,
	kind     TEXT NOT NULL DEFAULT 'call',
	status   TEXT NOT NULL,
	due_date DATETIME,
	owner_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_activity_status_due ON crm_activity(status, due_date);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle so fact aggregation can share it.
// Nil when transaction-bound.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// WithTx runs fn against a transaction-bound copy of the store. Calling WithTx
// on an already transaction-bound store joins the enclosing transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	if err := fn(&SQLiteStore{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanGoalSQLite(row scannable) (*model.Goal, error) {
	var g model.Goal
	var description, timeframe, ownerID, parentID, overrideReason, createdBy, updatedBy sql.NullString
	var targetValue sql.NullFloat64
	var startDate, endDate, lastCalculatedAt sql.NullTime

	err := row.Scan(
		&g.ID, &g.Name, &description, &g.Type, &targetValue, &g.Progress, &timeframe, &g.Recurring,
		&startDate, &endDate, &g.OwnerType, &ownerID, &g.Status, &parentID,
		&g.CalculationSource, &lastCalculatedAt, &g.CalculationFailed, &overrideReason,
		&g.CreatedAt, &createdBy, &g.UpdatedAt, &updatedBy,
	)
	if err != nil {
		return nil, err
	}

	g.Description = description.String
	g.Timeframe = model.Timeframe(timeframe.String)
	g.OwnerID = ownerID.String
	g.ParentGoalID = parentID.String
	g.ManualOverrideReason = overrideReason.String
	g.CreatedBy = createdBy.String
	g.UpdatedBy = updatedBy.String
	if targetValue.Valid {
		g.TargetValue = &targetValue.Float64
	}
	if startDate.Valid {
		t := startDate.Time
		g.StartDate = &t
	}
	if endDate.Valid {
		t := endDate.Time
		g.EndDate = &t
	}
	if lastCalculatedAt.Valid {
		t := lastCalculatedAt.Time
		g.LastCalculatedAt = &t
	}
	return &g, nil
}

func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func optStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func (s *SQLiteStore) CreateGoal(ctx context.Context, g *model.Goal) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO crm_goal (`+goalColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, optStr(g.Description), string(g.Type), optFloat(g.TargetValue), g.Progress,
		optStr(string(g.Timeframe)), g.Recurring, optTime(g.StartDate), optTime(g.EndDate),
		string(g.OwnerType), optStr(g.OwnerID), string(g.Status), optStr(g.ParentGoalID),
		string(g.CalculationSource), optTime(g.LastCalculatedAt), g.CalculationFailed,
		optStr(g.ManualOverrideReason), g.CreatedAt, optStr(g.CreatedBy), g.UpdatedAt, optStr(g.UpdatedBy),
	)
	return eris.Wrapf(err, "sqlite: insert goal %s", g.ID)
}

func (s *SQLiteStore) GetGoal(ctx context.Context, id string) (*model.Goal, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM crm_goal WHERE id = ?`, id)
	g, err := scanGoalSQLite(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get goal %s", id)
	}
	return g, nil
}

func (s *SQLiteStore) UpdateGoal(ctx context.Context, g *model.Goal) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE crm_goal SET
			name = ?, description = ?, type = ?, target_value = ?, progress = ?,
			timeframe = ?, recurring = ?, start_date = ?, end_date = ?,
			owner_type = ?, owner_id = ?, status = ?, parent_goal_id = ?,
			calculation_source = ?, last_calculated_at = ?, calculation_failed = ?,
			manual_override_reason = ?, updated_at = ?, updated_by = ?
		 WHERE id = ?`,
		g.Name, optStr(g.Description), string(g.Type), optFloat(g.TargetValue), g.Progress,
		optStr(string(g.Timeframe)), g.Recurring, optTime(g.StartDate), optTime(g.EndDate),
		string(g.OwnerType), optStr(g.OwnerID), string(g.Status), optStr(g.ParentGoalID),
		string(g.CalculationSource), optTime(g.LastCalculatedAt), g.CalculationFailed,
		optStr(g.ManualOverrideReason), g.UpdatedAt, optStr(g.UpdatedBy), g.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update goal %s", g.ID)
	}
	return checkRowsAffected(res, "goal", g.ID)
}

func (s *SQLiteStore) queryGoals(ctx context.Context, what, query string, args ...any) ([]model.Goal, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", what)
	}
	defer rows.Close()

	var goals []model.Goal
	for rows.Next() {
		g, err := scanGoalSQLite(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s scan", what)
		}
		goals = append(goals, *g)
	}
	return goals, eris.Wrapf(rows.Err(), "sqlite: %s iterate", what)
}

func (s *SQLiteStore) ListGoals(ctx context.Context, filter GoalFilter) ([]model.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM crm_goal WHERE true`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		query += ` AND calculation_source = ?`
		args = append(args, string(filter.Source))
	}
	if filter.OwnerType != "" {
		query += ` AND owner_type = ?`
		args = append(args, string(filter.OwnerType))
	}
	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	if len(filter.Types) > 0 {
		query += ` AND type IN (?` + repeatPlaceholder(len(filter.Types)-1) + `)`
		for _, t := range filter.Types {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY created_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	return s.queryGoals(ctx, "list goals", query, args...)
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

func (s *SQLiteStore) GetChildren(ctx context.Context, id string) ([]model.Goal, error) {
	return s.queryGoals(ctx, "get children",
		`SELECT `+goalColumns+` FROM crm_goal WHERE parent_goal_id = ? ORDER BY created_at`, id)
}

func (s *SQLiteStore) GetAncestors(ctx context.Context, id string) ([]model.Goal, error) {
	return s.queryGoals(ctx, "get ancestors",
		`WITH RECURSIVE ancestors AS (
			SELECT g.*, 1 AS depth FROM crm_goal g
			WHERE g.id = (SELECT parent_goal_id FROM crm_goal WHERE id = ?)
			UNION ALL
			SELECT g.*, a.depth + 1 FROM crm_goal g
			JOIN ancestors a ON g.id = a.parent_goal_id
			WHERE a.depth < 16
		)
		SELECT `+goalColumns+` FROM ancestors ORDER BY depth`, id)
}

func (s *SQLiteStore) GetDescendants(ctx context.Context, id string) ([]model.Goal, error) {
	return s.queryGoals(ctx, "get descendants",
		`WITH RECURSIVE descendants AS (
			SELECT g.*, 1 AS depth FROM crm_goal g WHERE g.parent_goal_id = ?
			UNION ALL
			SELECT g.*, d.depth + 1 FROM crm_goal g
			JOIN descendants d ON g.parent_goal_id = d.id
			WHERE d.depth < 16
		)
		SELECT `+goalColumns+` FROM descendants ORDER BY depth, created_at`, id)
}

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, snap *model.ProgressSnapshot) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO crm_goal_progress_history
		 (id, goal_id, progress_value, target_value, progress_percentage, source, taken_at, created_by, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.GoalID, snap.ProgressValue, snap.TargetValue, snap.ProgressPercentage,
		string(snap.Source), snap.TakenAt, optStr(snap.CreatedBy), optStr(snap.Notes),
	)
	return eris.Wrapf(err, "sqlite: insert snapshot for goal %s", snap.GoalID)
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, goalID string) ([]model.ProgressSnapshot, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, goal_id, progress_value, target_value, progress_percentage, source, taken_at, created_by, notes
		 FROM crm_goal_progress_history WHERE goal_id = ? ORDER BY taken_at`, goalID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list snapshots for goal %s", goalID)
	}
	defer rows.Close()

	var snaps []model.ProgressSnapshot
	for rows.Next() {
		var sn model.ProgressSnapshot
		var createdBy, notes sql.NullString
		if err := rows.Scan(&sn.ID, &sn.GoalID, &sn.ProgressValue, &sn.TargetValue,
			&sn.ProgressPercentage, &sn.Source, &sn.TakenAt, &createdBy, &notes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		sn.CreatedBy = createdBy.String
		sn.Notes = notes.String
		snaps = append(snaps, sn)
	}
	return snaps, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	var detailsJSON any
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal audit details")
		}
		detailsJSON = string(b)
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO crm_goal_audit_log
		 (id, goal_id, event_type, before_value, after_value, details, changed_by, changed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.GoalID, string(entry.EventType), optStr(entry.BeforeValue),
		optStr(entry.AfterValue), detailsJSON, optStr(entry.ChangedBy), entry.ChangedAt,
	)
	return eris.Wrapf(err, "sqlite: append audit for goal %s", entry.GoalID)
}

func (s *SQLiteStore) ListAudit(ctx context.Context, goalID string) ([]model.AuditEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, goal_id, event_type, before_value, after_value, details, changed_by, changed_at
		 FROM crm_goal_audit_log WHERE goal_id = ? ORDER BY changed_at`, goalID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list audit for goal %s", goalID)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var beforeValue, afterValue, changedBy, detailsJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.GoalID, &e.EventType, &beforeValue, &afterValue,
			&detailsJSON, &changedBy, &e.ChangedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		e.BeforeValue = beforeValue.String
		e.AfterValue = afterValue.String
		e.ChangedBy = changedBy.String
		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &e.Details); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal audit details")
			}
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	var name sql.NullString
	err := s.q.QueryRowContext(ctx,
		`SELECT id, email, name, role FROM crm_user WHERE email = ?`, email,
	).Scan(&u.ID, &u.Email, &name, &u.Role)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get user %s", email)
	}
	u.Name = name.String
	return &u, nil
}
