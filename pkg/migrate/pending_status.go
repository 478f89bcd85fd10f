package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// pendingStatusVersion widens orders.status to admit 'pending', the state an
// order holds while checkout is still moving its lines. Postgres alters the
// named check in place. SQLite cannot alter a check, so the orders table is
// rebuilt on a pinned connection with foreign keys off; dropping the old table
// would otherwise cascade into order_items.
const pendingStatusVersion = 20260320090000

func pendingStatusMigration(dialect goose.Dialect) *goose.Migration {
	if dialect == goose.DialectSQLite3 {
		return goose.NewGoMigration(pendingStatusVersion,
			&goose.GoFunc{RunDB: func(ctx context.Context, db *sql.DB) error {
				return rebuildOrders(ctx, db, "'pending', 'complete', 'partial'", "")
			}},
			&goose.GoFunc{RunDB: func(ctx context.Context, db *sql.DB) error {
				return rebuildOrders(ctx, db, "'complete', 'partial'", "UPDATE orders SET status = 'partial' WHERE status = 'pending'")
			}},
		)
	}
	return goose.NewGoMigration(pendingStatusVersion,
		&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx,
				`ALTER TABLE orders DROP CONSTRAINT IF EXISTS orders_status_check`,
				`ALTER TABLE orders ADD CONSTRAINT orders_status_check CHECK (status IN ('pending', 'complete', 'partial'))`,
				`CREATE INDEX IF NOT EXISTS idx_orders_pending_created ON orders (created_at) WHERE status = 'pending'`,
			)
		}},
		&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx,
				`DROP INDEX IF EXISTS idx_orders_pending_created`,
				`UPDATE orders SET status = 'partial' WHERE status = 'pending'`,
				`ALTER TABLE orders DROP CONSTRAINT IF EXISTS orders_status_check`,
				`ALTER TABLE orders ADD CONSTRAINT orders_status_check CHECK (status IN ('complete', 'partial'))`,
			)
		}},
	)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execAll(ctx context.Context, db execer, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

func rebuildOrders(ctx context.Context, db *sql.DB, statuses, before string) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := execAll(ctx, conn, `PRAGMA foreign_keys = OFF`); err != nil {
		return err
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), `PRAGMA foreign_keys = ON`)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{}
	if before != "" {
		stmts = append(stmts, before)
	}
	stmts = append(stmts,
		`DROP INDEX IF EXISTS idx_orders_pending_created`,
		fmt.Sprintf(`CREATE TABLE orders_rebuild (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    total_amount NUMERIC(12,2) NOT NULL,
    status TEXT NOT NULL DEFAULT 'complete' CHECK (status IN (%s)),
    failed_line_count INTEGER NOT NULL DEFAULT 0,
    reconciled_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id)
)`, statuses),
		`INSERT INTO orders_rebuild (id, user_id, total_amount, status, failed_line_count, reconciled_at, created_at)
    SELECT id, user_id, total_amount, status, failed_line_count, reconciled_at, created_at FROM orders`,
		`DROP TABLE orders`,
		`ALTER TABLE orders_rebuild RENAME TO orders`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders (user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_reconciled ON orders (status, reconciled_at)`,
	)
	if before == "" {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_orders_pending_created ON orders (created_at) WHERE status = 'pending'`)
	}
	if err := execAll(ctx, tx, stmts...); err != nil {
		return err
	}
	return tx.Commit()
}
