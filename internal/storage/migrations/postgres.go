package migrations

import (
	"context"
	"fmt"

	"alpha-mirror/internal/storage/postgres"
)

// RunPostgresMigrations creates the trade ledger schema. Each script runs as
// one simple-protocol Exec, so it may hold several statements.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := scripts(ledgerSchema, "postgres")
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, err := pool.Exec(ctx, f.body); err != nil {
			return fmt.Errorf("apply ledger migration %s: %w", f.name, err)
		}
	}
	return nil
}
