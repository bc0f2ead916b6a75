package store

import (
	"fmt"

	"gorm.io/gorm"

	"agentlens.local/projects/lens-gateway/internal/db"
)

// Schema changes are an explicit, ordered, idempotent migration list keyed
// by version. Each step runs in its own transaction and is recorded in
// schema_migrations, so a crashed or re-run migration only applies what is
// still missing.
type migration struct {
	version int
	name    string
	run     func(tx *gorm.DB, d Dialect) error
}

func migrations() []migration {
	return []migration{
		{version: 1, name: "initial schema", run: migrateInitialSchema},
		{version: 2, name: "composite tenant primary keys", run: migrateCompositeTenantKeys},
		{version: 3, name: "event chain indexes", run: migrateChainIndexes},
		{version: 4, name: "postgres row security policies", run: migrateRowSecurity},
	}
}

func runMigrations(gdb *gorm.DB, d Dialect) error {
	if err := gdb.Exec(
		"CREATE TABLE IF NOT EXISTS schema_migrations (version BIGINT PRIMARY KEY, name VARCHAR(255) NOT NULL, applied_at " + d.TimeType() + " NOT NULL)",
	).Error; err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations() {
		var count int64
		if err := gdb.Table("schema_migrations").Where("version = ?", m.version).Count(&count).Error; err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		err := gdb.Transaction(func(tx *gorm.DB) error {
			if err := m.run(tx, d); err != nil {
				return err
			}
			return tx.Exec(
				"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
				m.version, m.name,
			).Error
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// The v1 schema shipped with single-column session/agent primary keys;
// later versions replay the tenant-key rebuild on top of it so old
// deployments and fresh installs converge on the same shape.
func migrateInitialSchema(tx *gorm.DB, d Dialect) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(191) NOT NULL DEFAULT 'default',
			session_id VARCHAR(191) NOT NULL,
			agent_id VARCHAR(191) NOT NULL,
			event_type VARCHAR(64) NOT NULL,
			severity VARCHAR(16) NOT NULL,
			payload TEXT,
			metadata TEXT,
			prev_hash VARCHAR(64),
			hash VARCHAR(64) NOT NULL,
			"timestamp" ` + d.TimeType() + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(191) PRIMARY KEY,
			tenant_id VARCHAR(191) NOT NULL DEFAULT 'default',
			agent_id VARCHAR(191) NOT NULL,
			agent_name VARCHAR(191),
			started_at ` + d.TimeType() + ` NOT NULL,
			ended_at ` + d.TimeType() + `,
			status VARCHAR(32) NOT NULL,
			event_count BIGINT NOT NULL DEFAULT 0,
			tool_call_count BIGINT NOT NULL DEFAULT 0,
			error_count BIGINT NOT NULL DEFAULT 0,
			total_cost_usd ` + d.FloatType() + ` NOT NULL DEFAULT 0,
			llm_call_count BIGINT NOT NULL DEFAULT 0,
			total_input_tokens BIGINT NOT NULL DEFAULT 0,
			total_output_tokens BIGINT NOT NULL DEFAULT 0,
			tags TEXT,
			created_at ` + d.TimeType() + ` NOT NULL,
			updated_at ` + d.TimeType() + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR(191) PRIMARY KEY,
			tenant_id VARCHAR(191) NOT NULL DEFAULT 'default',
			name VARCHAR(191),
			first_seen_at ` + d.TimeType() + ` NOT NULL,
			last_seen_at ` + d.TimeType() + ` NOT NULL,
			session_count BIGINT NOT NULL DEFAULT 0,
			model_override VARCHAR(191),
			paused_at ` + d.TimeType() + `,
			pause_reason VARCHAR(255),
			created_at ` + d.TimeType() + ` NOT NULL,
			updated_at ` + d.TimeType() + ` NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// Primary keys cannot be altered in place on either engine, so the move to
// composite (id, tenant_id) keys is a rebuild-and-swap: create the new
// table, copy, drop the old, rename. A leftover *_rebuild table from a
// crashed run is dropped and the copy starts over.
func migrateCompositeTenantKeys(tx *gorm.DB, d Dialect) error {
	type rebuild struct {
		table   string
		columns string
		ddl     string
	}
	sessionCols := "id, tenant_id, agent_id, agent_name, started_at, ended_at, status, event_count, tool_call_count, error_count, total_cost_usd, llm_call_count, total_input_tokens, total_output_tokens, tags, created_at, updated_at"
	agentCols := "id, tenant_id, name, first_seen_at, last_seen_at, session_count, model_override, paused_at, pause_reason, created_at, updated_at"

	rebuilds := []rebuild{
		{
			table:   "sessions",
			columns: sessionCols,
			ddl: `CREATE TABLE sessions_rebuild (
				id VARCHAR(191) NOT NULL,
				tenant_id VARCHAR(191) NOT NULL DEFAULT 'default',
				agent_id VARCHAR(191) NOT NULL,
				agent_name VARCHAR(191),
				started_at ` + d.TimeType() + ` NOT NULL,
				ended_at ` + d.TimeType() + `,
				status VARCHAR(32) NOT NULL,
				event_count BIGINT NOT NULL DEFAULT 0,
				tool_call_count BIGINT NOT NULL DEFAULT 0,
				error_count BIGINT NOT NULL DEFAULT 0,
				total_cost_usd ` + d.FloatType() + ` NOT NULL DEFAULT 0,
				llm_call_count BIGINT NOT NULL DEFAULT 0,
				total_input_tokens BIGINT NOT NULL DEFAULT 0,
				total_output_tokens BIGINT NOT NULL DEFAULT 0,
				tags TEXT,
				created_at ` + d.TimeType() + ` NOT NULL,
				updated_at ` + d.TimeType() + ` NOT NULL,
				PRIMARY KEY (id, tenant_id)
			)`,
		},
		{
			table:   "agents",
			columns: agentCols,
			ddl: `CREATE TABLE agents_rebuild (
				id VARCHAR(191) NOT NULL,
				tenant_id VARCHAR(191) NOT NULL DEFAULT 'default',
				name VARCHAR(191),
				first_seen_at ` + d.TimeType() + ` NOT NULL,
				last_seen_at ` + d.TimeType() + ` NOT NULL,
				session_count BIGINT NOT NULL DEFAULT 0,
				model_override VARCHAR(191),
				paused_at ` + d.TimeType() + `,
				pause_reason VARCHAR(255),
				created_at ` + d.TimeType() + ` NOT NULL,
				updated_at ` + d.TimeType() + ` NOT NULL,
				PRIMARY KEY (id, tenant_id)
			)`,
		},
	}

	for _, r := range rebuilds {
		steps := []string{
			"DROP TABLE IF EXISTS " + r.table + "_rebuild",
			r.ddl,
			"INSERT INTO " + r.table + "_rebuild (" + r.columns + ") SELECT " + r.columns + " FROM " + r.table,
			"DROP TABLE " + r.table,
			"ALTER TABLE " + r.table + "_rebuild RENAME TO " + r.table,
		}
		for _, stmt := range steps {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func migrateChainIndexes(tx *gorm.DB, _ Dialect) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_events_tenant_session ON events (tenant_id, session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_tenant_agent_time ON events (tenant_id, agent_id, "timestamp")`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events ("timestamp")`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_tenant_agent ON sessions (tenant_id, agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_tenant_last_seen ON agents (tenant_id, last_seen_at)`,
	}
	for _, stmt := range stmts {
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// Row-level security is defense-in-depth for the networked engine: table
// owners bypass it, but restricted application roles only see rows whose
// tenant_id matches the transaction's app.current_tenant setting. Policies
// pass rows through when no tenant context is set, since every query also
// filters explicitly.
func migrateRowSecurity(tx *gorm.DB, d Dialect) error {
	if d.Name() != db.DriverPostgres {
		return nil
	}
	for _, table := range []string{"events", "sessions", "agents"} {
		stmts := []string{
			"ALTER TABLE " + table + " ENABLE ROW LEVEL SECURITY",
			"DROP POLICY IF EXISTS tenant_isolation ON " + table,
			"CREATE POLICY tenant_isolation ON " + table +
				" USING (current_setting('app.current_tenant', true) IS NULL OR tenant_id = current_setting('app.current_tenant', true))",
		}
		for _, stmt := range stmts {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
