package driver

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"
)

type MemgraphDriver struct {
	Driver neo4j.DriverWithContext
	log    zerolog.Logger
}

func NewMemgraphDriver(ctx context.Context, uri, username, password string, log zerolog.Logger) (*MemgraphDriver, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}

	log.Info().Str("uri", uri).Msg("connected to memgraph")
	return &MemgraphDriver{Driver: driver, log: log}, nil
}

func (d *MemgraphDriver) Close(ctx context.Context) error {
	return d.Driver.Close(ctx)
}

func (d *MemgraphDriver) VerifyConnectivity(ctx context.Context) error {
	return d.Driver.VerifyConnectivity(ctx)
}

func (d *MemgraphDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.Driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

func (d *MemgraphDriver) ExecuteWrite(ctx context.Context, work func(tx Runner) error) error {
	session := d.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, work(txRunner{tx: tx})
	})
	return err
}

type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (r txRunner) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	res, err := r.tx.Run(ctx, query, params)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to collect result: %w", err)
	}
	keys, err := res.Keys()
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to read result keys: %w", err)
	}
	return neo4j.EagerResult{Keys: keys, Records: records}, nil
}

// CreateIndex creates a label-property index. Memgraph has no IF NOT EXISTS,
// so an existing index surfaces as an error the caller may ignore.
func (d *MemgraphDriver) CreateIndex(ctx context.Context, label, property string) error {
	_, err := d.ExecuteQuery(ctx, fmt.Sprintf("CREATE INDEX ON :%s(`%s`);", label, property), nil)
	return err
}

// BuildIndices creates the indices every version-node lookup relies on.
func (d *MemgraphDriver) BuildIndices(ctx context.Context) error {
	for _, q := range BaseIndices {
		if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
			d.log.Warn().Err(err).Str("query", q).Msg("failed to create index")
			// Continue, as index might already exist
		}
	}
	return nil
}
