package driver

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Runner executes one statement, inside or outside a transaction.
type Runner interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error)
}

type GraphDriver interface {
	Runner
	// ExecuteWrite runs work in one write transaction; the work may be
	// retried on transient failures and must be repeatable.
	ExecuteWrite(ctx context.Context, work func(tx Runner) error) error
	BuildIndices(ctx context.Context) error
	CreateIndex(ctx context.Context, label, property string) error
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}
