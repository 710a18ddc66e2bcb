// Package sqlite - database migrations
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one additive schema change. The base schema uses
// IF NOT EXISTS throughout, so migrations only cover changes to tables
// that may already exist in older databases.
type migration struct {
	name string
	fn   func(context.Context, *sql.DB) error
}

// Ordered; applied names are recorded in schema_migrations and skipped
// on subsequent opens.
var migrationsList = []migration{
	{"item_date_columns", migrateItemDateColumns},
	{"activity_item_index", migrateActivityItemIndex},
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return err
		}
		applied[name] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrationsList {
		if applied[m.name] {
			continue
		}
		if err := m.fn(ctx, db); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES (?)`, m.name); err != nil {
			return fmt.Errorf("recording migration %s: %w", m.name, err)
		}
	}
	return nil
}

// migrateItemDateColumns adds start_date and deadline to databases
// created before timeline support.
func migrateItemDateColumns(ctx context.Context, db *sql.DB) error {
	for _, col := range []string{"start_date", "deadline"} {
		exists, err := columnExists(ctx, db, "work_items", col)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE work_items ADD COLUMN %s DATETIME`, col)); err != nil {
			return err
		}
	}
	return nil
}

func migrateActivityItemIndex(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_activity_item ON activity(item_id, created_at)`)
	return err
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notnull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
