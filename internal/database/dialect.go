package database

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect names the SQL engine behind a *sql.DB.
type Dialect string

const (
	// Postgres is the production engine, driven by lib/pq.
	Postgres Dialect = "postgres"
	// SQLite is the embedded engine, driven by modernc.org/sqlite.
	SQLite Dialect = "sqlite"
)

// ParseDialect maps a configured driver name onto a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch Dialect(strings.ToLower(driver)) {
	case Postgres, "postgresql":
		return Postgres, nil
	case SQLite, "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	return string(d)
}

// MigrationsDir is the embedded directory holding the dialect's schema.
func (d Dialect) MigrationsDir() string {
	return "migrations/" + string(d)
}

// Rebind rewrites ? placeholders into the dialect's positional form.
// Queries are written once with ? and rebound for Postgres.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}

	return b.String()
}
