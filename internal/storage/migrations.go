package storage

import (
	"context"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
// Statements must run unchanged on SQLite and PostgreSQL.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			CREATE TABLE IF NOT EXISTS tenants (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				active INTEGER NOT NULL DEFAULT 1,
				created_at TIMESTAMP NOT NULL
			);

			CREATE TABLE IF NOT EXISTS products (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
				code TEXT NOT NULL,
				name TEXT NOT NULL,
				category_id TEXT,
				current_stock DOUBLE PRECISION NOT NULL DEFAULT 0,
				min_stock DOUBLE PRECISION,
				active INTEGER NOT NULL DEFAULT 1
			);

			CREATE TABLE IF NOT EXISTS sales (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
				product_id TEXT,
				sale_date TIMESTAMP NOT NULL,
				quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
				status TEXT NOT NULL
			);

			-- Rule rows may carry either routing encoding; see models.NormalizeRouting.
			CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				kind TEXT NOT NULL,
				conditions_json TEXT,
				channels_json TEXT,
				recipients_json TEXT,
				active INTEGER NOT NULL DEFAULT 1,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);

			CREATE TABLE IF NOT EXISTS alert_events (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				rule_id TEXT NOT NULL,
				rule_name TEXT NOT NULL,
				fired_at TIMESTAMP NOT NULL,
				kind TEXT NOT NULL,
				severity TEXT NOT NULL,
				message TEXT NOT NULL,
				details_json TEXT NOT NULL,
				sent_whatsapp INTEGER NOT NULL DEFAULT 0,
				sent_email INTEGER NOT NULL DEFAULT 0,
				sent_slack INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX IF NOT EXISTS idx_products_tenant ON products(tenant_id);
			CREATE INDEX IF NOT EXISTS idx_sales_tenant_date ON sales(tenant_id, sale_date);
			CREATE INDEX IF NOT EXISTS idx_alert_rules_tenant ON alert_rules(tenant_id, active);
		`,
	},
	{
		Version: 2,
		Name:    "alert_events_rule_lookup",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_alert_events_rule ON alert_events(tenant_id, rule_id, fired_at);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(c conn) error {
	if c.db == nil {
		return fmt.Errorf("database not open")
	}
	ctx := context.Background()

	_, err := c.exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = c.queryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.ExecContext(ctx,
			c.rebind("INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)"),
			m.Version, m.Name, time.Now().UTC(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *SQLStorage) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	c := conn{db: s.db, driver: s.driver}
	if err := c.queryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}
