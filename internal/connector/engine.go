package connector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agenthands/metastore/internal/config"
	"github.com/agenthands/metastore/internal/driver"
	"github.com/agenthands/metastore/internal/engine"
	"github.com/agenthands/metastore/internal/engine/graph"
	"github.com/agenthands/metastore/internal/engine/memory"
	"github.com/agenthands/metastore/internal/engine/sqlstore"
)

// Opener builds the engine a connector runs on.
type Opener func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (engine.Engine, error)

// NewEngine opens the backend named by store.backend.
func NewEngine(ctx context.Context, cfg *config.Config, log zerolog.Logger) (engine.Engine, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		return sqlstore.Open(ctx, sqlstore.DriverSQLite, cfg.Store.DSN)
	case config.BackendPostgres:
		return sqlstore.Open(ctx, sqlstore.DriverPostgres, cfg.Store.DSN)
	case config.BackendMemgraph:
		d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, log)
		if err != nil {
			return nil, err
		}
		eng, err := graph.New(ctx, d)
		if err != nil {
			d.Close(context.Background())
			return nil, err
		}
		return eng, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}
