package store

import (
	"fmt"
	"regexp"

	"github.com/loykin/sessprobe/internal/constants"
	"github.com/loykin/sessprobe/internal/store/postgresql"
	"github.com/loykin/sessprobe/internal/store/sqlite"
	"github.com/loykin/sessprobe/internal/util"
)

const (
	DriverSqlite     = "sqlite"
	DriverPostgresql = "postgresql"
)

// TableNames allows overriding the table names used by the result store
type TableNames struct {
	SuiteRuns       string `mapstructure:"suite_runs" yaml:"suite_runs"`
	ScenarioResults string `mapstructure:"scenario_results" yaml:"scenario_results"`
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// withDefaults fills empty names and rejects anything that is not a plain identifier;
// table names are interpolated into SQL text.
func (t TableNames) withDefaults() (TableNames, error) {
	fields := util.TrimSpaceFields(t.SuiteRuns, t.ScenarioResults)
	out := TableNames{
		SuiteRuns:       util.TrimWithDefault(fields[0], constants.DefaultSuiteRunsTable),
		ScenarioResults: util.TrimWithDefault(fields[1], constants.DefaultScenarioResultsTable),
	}
	for _, name := range []string{out.SuiteRuns, out.ScenarioResults} {
		if !tableNamePattern.MatchString(name) {
			return TableNames{}, fmt.Errorf("invalid table name %q", name)
		}
	}
	if out.SuiteRuns == out.ScenarioResults {
		return TableNames{}, fmt.Errorf("table names must differ: %q", out.SuiteRuns)
	}
	return out, nil
}

// Config selects and configures the result store
type Config struct {
	Disabled   bool              `mapstructure:"disabled" yaml:"disabled"`
	Type       string            `mapstructure:"type" yaml:"type"`
	SQLite     sqlite.Config     `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres   postgresql.Config `mapstructure:"postgres" yaml:"postgres"`
	TableNames TableNames        `mapstructure:"table_names" yaml:"table_names"`
}

// driver returns the normalized driver name; sqlite is the default
func (c Config) driver() (string, error) {
	switch util.TrimAndLower(c.Type) {
	case "", DriverSqlite, "sqlite3":
		return DriverSqlite, nil
	case DriverPostgresql, "postgres", "pg":
		return DriverPostgresql, nil
	default:
		return "", fmt.Errorf("unsupported store type: %s (valid: sqlite, postgresql)", c.Type)
	}
}
