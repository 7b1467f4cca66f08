// Package seed bulk-loads fixture data from YAML files: users, CRM facts
// (deals and activities), and goals. Facts go through the COPY fast path on
// Postgres; goals go through the store so ids, defaults, and hierarchy links
// are applied the same way the service applies them.
package seed

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/crm-goals/internal/db"
	"github.com/sells-group/crm-goals/internal/hierarchy"
	"github.com/sells-group/crm-goals/internal/model"
	"github.com/sells-group/crm-goals/internal/store"
)

// File is the root of a seed fixture.
type File struct {
	Users      []User     `yaml:"users"`
	Deals      []Deal     `yaml:"deals"`
	Activities []Activity `yaml:"activities"`
	Goals      []Goal     `yaml:"goals"`
}

// User seeds a crm_user row.
type User struct {
	ID    string `yaml:"id"`
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
	Role  string `yaml:"role"`
}

// Deal seeds a crm_deal row. Name falls back to the row id.
type Deal struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	OwnerID   string    `yaml:"owner_id"`
	Amount    float64   `yaml:"amount"`
	Status    string    `yaml:"status"`
	CloseDate time.Time `yaml:"close_date"`
}

// Activity seeds a crm_activity row. Kind is "task" for task activities.
type Activity struct {
	ID      string    `yaml:"id"`
	OwnerID string    `yaml:"owner_id"`
	Kind    string    `yaml:"kind"`
	Status  string    `yaml:"status"`
	DueDate time.Time `yaml:"due_date"`
}

// Goal seeds a crm_goal row. Parent names a goal earlier in the file.
type Goal struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Type        string     `yaml:"type"`
	Target      *float64   `yaml:"target"`
	Timeframe   string     `yaml:"timeframe"`
	StartDate   *time.Time `yaml:"start_date"`
	EndDate     *time.Time `yaml:"end_date"`
	OwnerType   string     `yaml:"owner_type"`
	OwnerID     string     `yaml:"owner_id"`
	Status      string     `yaml:"status"`
	Source      string     `yaml:"source"`
	Parent      string     `yaml:"parent"`
}

// Counts reports how many rows each section loaded.
type Counts struct {
	Users      int
	Deals      int
	Activities int
	Goals      int
	Links      int
}

// Load parses a seed fixture from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "seed: read file")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "seed: parse yaml")
	}
	return &f, nil
}

// Apply loads the fixture into the store. Fact rows use COPY when the store
// exposes a Postgres pool and fall back to row inserts otherwise.
func Apply(ctx context.Context, st store.Store, f *File) (Counts, error) {
	var counts Counts

	ps, _ := st.(*store.PostgresStore)

	if len(f.Users) > 0 {
		n, err := loadUsers(ctx, st, ps, f.Users)
		if err != nil {
			return counts, err
		}
		counts.Users = n
	}
	if len(f.Deals) > 0 {
		n, err := loadDeals(ctx, st, ps, f.Deals)
		if err != nil {
			return counts, err
		}
		counts.Deals = n
	}
	if len(f.Activities) > 0 {
		n, err := loadActivities(ctx, st, ps, f.Activities)
		if err != nil {
			return counts, err
		}
		counts.Activities = n
	}

	byName := make(map[string]string, len(f.Goals))
	for _, sg := range f.Goals {
		g, err := toModelGoal(sg)
		if err != nil {
			return counts, err
		}
		if err := st.CreateGoal(ctx, g); err != nil {
			return counts, err
		}
		byName[sg.Name] = g.ID
		counts.Goals++
	}

	// Second pass: hierarchy links, after every referenced goal exists.
	mgr := hierarchy.New(st)
	for _, sg := range f.Goals {
		if sg.Parent == "" {
			continue
		}
		parentID, ok := byName[sg.Parent]
		if !ok {
			return counts, eris.Errorf("seed: goal %q references unknown parent %q", sg.Name, sg.Parent)
		}
		if _, err := mgr.LinkToParent(ctx, byName[sg.Name], parentID, ""); err != nil {
			return counts, err
		}
		counts.Links++
	}

	zap.L().Info("seed: fixture applied",
		zap.Int("users", counts.Users),
		zap.Int("deals", counts.Deals),
		zap.Int("activities", counts.Activities),
		zap.Int("goals", counts.Goals),
		zap.Int("links", counts.Links),
	)
	return counts, nil
}

func toModelGoal(sg Goal) (*model.Goal, error) {
	typ := model.GoalType(sg.Type)
	if !typ.Valid() {
		return nil, eris.Errorf("seed: goal %q has unsupported type %q", sg.Name, sg.Type)
	}

	status := model.GoalStatus(sg.Status)
	if status == "" {
		status = model.GoalStatusActive
	}
	source := model.CalculationSource(sg.Source)
	if source == "" {
		source = model.SourceAutoCalculated
	}
	id := sg.ID
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now().UTC()
	return &model.Goal{
		ID:                id,
		Name:              sg.Name,
		Description:       sg.Description,
		Type:              typ,
		TargetValue:       sg.Target,
		Timeframe:         model.Timeframe(sg.Timeframe),
		StartDate:         sg.StartDate,
		EndDate:           sg.EndDate,
		OwnerType:         model.OwnerType(sg.OwnerType),
		OwnerID:           sg.OwnerID,
		Status:            status,
		CalculationSource: source,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func loadUsers(ctx context.Context, st store.Store, ps *store.PostgresStore, users []User) (int, error) {
	if ps != nil {
		rows := make([][]any, 0, len(users))
		for _, u := range users {
			rows = append(rows, []any{idOrNew(u.ID), u.Email, u.Name, u.Role})
		}
		n, err := db.CopyFrom(ctx, ps.Pool(), "crm_user",
			[]string{"id", "email", "name", "role"}, rows)
		return int(n), err
	}
	return execEach(ctx, st, len(users), func(i int) (string, []any) {
		u := users[i]
		return `INSERT INTO crm_user (id, email, name, role) VALUES (?, ?, ?, ?)`,
			[]any{idOrNew(u.ID), u.Email, u.Name, u.Role}
	})
}

func loadDeals(ctx context.Context, st store.Store, ps *store.PostgresStore, deals []Deal) (int, error) {
	if ps != nil {
		rows := make([][]any, 0, len(deals))
		for _, d := range deals {
			id := idOrNew(d.ID)
			rows = append(rows, []any{id, nameOr(d.Name, id), d.OwnerID, d.Amount, d.Status, d.CloseDate})
		}
		n, err := db.CopyFrom(ctx, ps.Pool(), "crm_deal",
			[]string{"id", "name", "owner_id", "amount", "status", "close_date"}, rows)
		return int(n), err
	}
	return execEach(ctx, st, len(deals), func(i int) (string, []any) {
		d := deals[i]
		id := idOrNew(d.ID)
		return `INSERT INTO crm_deal (id, name, owner_id, amount, status, close_date) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{id, nameOr(d.Name, id), d.OwnerID, d.Amount, d.Status, d.CloseDate}
	})
}

func loadActivities(ctx context.Context, st store.Store, ps *store.PostgresStore, activities []Activity) (int, error) {
	if ps != nil {
		rows := make([][]any, 0, len(activities))
		for _, a := range activities {
			rows = append(rows, []any{idOrNew(a.ID), a.OwnerID, a.Kind, a.Status, a.DueDate})
		}
		n, err := db.CopyFrom(ctx, ps.Pool(), "crm_activity",
			[]string{"id", "owner_id", "kind", "status", "due_date"}, rows)
		return int(n), err
	}
	return execEach(ctx, st, len(activities), func(i int) (string, []any) {
		a := activities[i]
		return `INSERT INTO crm_activity (id, owner_id, kind, status, due_date) VALUES (?, ?, ?, ?, ?)`,
			[]any{idOrNew(a.ID), a.OwnerID, a.Kind, a.Status, a.DueDate}
	})
}

// execEach runs per-row inserts through the SQLite store's handle.
func execEach(ctx context.Context, st store.Store, n int, row func(int) (string, []any)) (int, error) {
	ss, ok := st.(*store.SQLiteStore)
	if !ok {
		return 0, eris.New("seed: store supports neither COPY nor direct inserts")
	}
	for i := 0; i < n; i++ {
		query, args := row(i)
		if _, err := ss.DB().ExecContext(ctx, query, args...); err != nil {
			return i, eris.Wrap(err, "seed: insert row")
		}
	}
	return n, nil
}

func idOrNew(id string) string {
	if id == "" {
		return uuid.New().String()
	}
	return id
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
