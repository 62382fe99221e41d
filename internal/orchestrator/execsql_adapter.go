package orchestrator

import (
	"context"

	"github.com/flyingrobots/data-deploy/internal/execsql"
)

// DBAdapter wraps a production *execsql.DB as a SQLExecutor. Its Begin
// method exists solely to change Begin's declared return type from
// *execsql.Tx to the narrower TxExecutor interface the orchestrator depends
// on — *execsql.Tx already implements TxExecutor's method set, but Go
// interface satisfaction requires the method's declared return type to
// match, not merely be assignable to it.
type DBAdapter struct {
	*execsql.DB
}

// NewDBAdapter wraps db for use as a Deps.DB.
func NewDBAdapter(db *execsql.DB) DBAdapter { return DBAdapter{DB: db} }

// Begin opens a transaction through the wrapped DB.
func (a DBAdapter) Begin(ctx context.Context) (TxExecutor, error) {
	return a.DB.Begin(ctx)
}
