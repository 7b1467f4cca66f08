package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-goals/internal/calc"
	"github.com/sells-group/crm-goals/internal/facts"
	"github.com/sells-group/crm-goals/internal/goal"
	"github.com/sells-group/crm-goals/internal/store"
	sfpkg "github.com/sells-group/crm-goals/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "goals.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initFacts selects the fact source. The Postgres source shares the store's
// pool; the Salesforce source authenticates with the JWT bearer flow.
func initFacts(st store.Store) (facts.Source, error) {
	switch cfg.Facts.Source {
	case "", "store":
		switch s := st.(type) {
		case *store.PostgresStore:
			return facts.NewPostgres(s.Pool()), nil
		case *store.SQLiteStore:
			return facts.NewSQLite(s.DB()), nil
		default:
			return nil, eris.New("facts source \"store\" requires the postgres or sqlite driver")
		}
	case "salesforce":
		if cfg.Salesforce.ClientID == "" {
			return nil, eris.New("salesforce client ID is required (GOALS_SALESFORCE_CLIENT_ID)")
		}
		client, err := sfpkg.Connect(sfpkg.Creds{
			LoginURL: cfg.Salesforce.LoginURL,
			Username: cfg.Salesforce.Username,
			ClientID: cfg.Salesforce.ClientID,
			KeyPath:  cfg.Salesforce.KeyPath,
		}, sfpkg.WithRateLimit(cfg.Salesforce.RateRPS))
		if err != nil {
			return nil, err
		}
		return facts.NewSalesforce(client), nil
	default:
		return nil, eris.Errorf("unsupported facts source: %s", cfg.Facts.Source)
	}
}

// initService wires the full orchestrator stack: store, fact source,
// calculator, service. The caller owns the returned store's lifetime.
func initService(ctx context.Context) (*goal.Service, store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, nil, err
	}

	src, err := initFacts(st)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, nil, err
	}

	return goal.NewService(st, calc.New(st, src)), st, nil
}
