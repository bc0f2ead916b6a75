package store

import (
	"fmt"

	"gorm.io/gorm"

	"agentlens.local/projects/lens-gateway/internal/db"
)

// Dialect isolates the SQL text that legitimately differs between the
// embedded engine (sqlite) and the networked engine (postgres): JSON field
// extraction, date bucketing, storage sizing, locking, and the tenant
// context used for row-level security. Everything observable — results,
// ordering, bucket labels — must come out identical from both.
type Dialect interface {
	Name() string

	// LocksForUpdate reports whether SELECT ... FOR UPDATE is meaningful.
	// The embedded engine has a single writer and serializes transactions
	// itself.
	LocksForUpdate() bool

	// JSONNumber returns an expression extracting a numeric field from a
	// JSON text column, NULL when absent.
	JSONNumber(column, key string) string

	// TextMatch returns a case-insensitive "column contains ?" predicate.
	TextMatch(column string) string

	// DateBucket returns an expression formatting the UTC bucket start of
	// column for the granularity as ISO-8601 text.
	DateBucket(g Granularity, column string) (string, error)

	// StorageSizeSQL returns a query yielding the store's on-disk size in
	// bytes.
	StorageSizeSQL() string

	// SetTenantContext binds the transaction to a tenant for engines with
	// row-level security support. Defense-in-depth only; every query still
	// filters by tenant_id explicitly.
	SetTenantContext(tx *gorm.DB, tenantID string) error

	// Column type names for hand-written migration DDL.
	TimeType() string
	FloatType() string
}

func dialectFor(driver string) (Dialect, error) {
	switch driver {
	case db.DriverSQLite, "":
		return sqliteDialect{}, nil
	case db.DriverPostgres:
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("no dialect for driver %q", driver)
	}
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return db.DriverSQLite }

func (sqliteDialect) LocksForUpdate() bool { return false }

func (sqliteDialect) JSONNumber(column, key string) string {
	return fmt.Sprintf("CAST(json_extract(%s, '$.%s') AS REAL)", column, key)
}

func (sqliteDialect) TextMatch(column string) string {
	// sqlite LIKE is case-insensitive for ASCII by default, matching
	// ILIKE on the networked engine.
	return column + ` LIKE ? ESCAPE '\'`
}

func (sqliteDialect) DateBucket(g Granularity, column string) (string, error) {
	switch g {
	case GranularityHour:
		return fmt.Sprintf("strftime('%%Y-%%m-%%dT%%H:00:00Z', %s)", column), nil
	case GranularityDay:
		return fmt.Sprintf("strftime('%%Y-%%m-%%dT00:00:00Z', %s)", column), nil
	case GranularityWeek:
		// Monday 00:00 UTC of the event's week, matching
		// date_trunc('week', ...) on the networked engine.
		return fmt.Sprintf(
			"strftime('%%Y-%%m-%%dT00:00:00Z', %s, '-' || ((CAST(strftime('%%w', %s) AS INTEGER) + 6) %% 7) || ' days')",
			column, column), nil
	default:
		return "", validationf("unknown granularity %q", g)
	}
}

func (sqliteDialect) StorageSizeSQL() string {
	return "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()"
}

func (sqliteDialect) SetTenantContext(*gorm.DB, string) error { return nil }

func (sqliteDialect) TimeType() string  { return "DATETIME" }
func (sqliteDialect) FloatType() string { return "REAL" }

type postgresDialect struct{}

func (postgresDialect) Name() string { return db.DriverPostgres }

func (postgresDialect) LocksForUpdate() bool { return true }

func (postgresDialect) JSONNumber(column, key string) string {
	return fmt.Sprintf("CAST(NULLIF(%s::jsonb ->> '%s', '') AS DOUBLE PRECISION)", column, key)
}

func (postgresDialect) TextMatch(column string) string {
	return column + ` ILIKE ? ESCAPE '\'`
}

func (postgresDialect) DateBucket(g Granularity, column string) (string, error) {
	var unit string
	switch g {
	case GranularityHour:
		unit = "hour"
	case GranularityDay:
		unit = "day"
	case GranularityWeek:
		unit = "week"
	default:
		return "", validationf("unknown granularity %q", g)
	}
	return fmt.Sprintf(
		`to_char(date_trunc('%s', %s AT TIME ZONE 'UTC'), 'YYYY-MM-DD"T"HH24:MI:SS"Z"')`,
		unit, column), nil
}

func (postgresDialect) StorageSizeSQL() string {
	return "SELECT pg_total_relation_size('events') + pg_total_relation_size('sessions') + pg_total_relation_size('agents')"
}

func (postgresDialect) SetTenantContext(tx *gorm.DB, tenantID string) error {
	// set_config with is_local=true scopes the setting to the enclosing
	// transaction; row security policies read it via current_setting.
	return tx.Exec("SELECT set_config('app.current_tenant', ?, true)", tenantID).Error
}

func (postgresDialect) TimeType() string  { return "TIMESTAMPTZ" }
func (postgresDialect) FloatType() string { return "DOUBLE PRECISION" }
