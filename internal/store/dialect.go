package store

import (
	"database/sql"
	"time"

	"github.com/loykin/sessprobe/internal/store/postgresql"
	"github.com/loykin/sessprobe/internal/store/sqlite"
)

// Dialect hides the differences between the supported SQL engines
type Dialect interface {
	GetPlaceholder(index int) string
	ConvertBoolToStorage(b bool) interface{}
	ConvertTimeToStorage(t time.Time) interface{}
	ConvertBoolFromStorage(val interface{}) bool
	ConvertTimeFromStorage(val interface{}) time.Time
	Connect(dsn string) (*sql.DB, error)
	GetEnsureStatements(suiteRuns, scenarioResults string) []string
	GetDriverName() string
}

var (
	_ Dialect = (*sqlite.Dialect)(nil)
	_ Dialect = (*postgresql.Dialect)(nil)
)

func dialectFor(driver string) Dialect {
	if driver == DriverPostgresql {
		return postgresql.NewDialect()
	}
	return sqlite.NewDialect()
}
