// Package dialect defines the parameterization conventions relorm can emit.
//
// Statements are always built with ? placeholders. A Dialect only decides
// how those placeholders are spelled when the statement is handed to a
// driver; identifier quoting and other flavor differences are left to the
// caller.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect formats positional placeholders for a driver.
type Dialect interface {
	// Name returns the dialect identifier used in configuration
	Name() string
	// Placeholder returns the placeholder for the given 1-based index
	Placeholder(index int) string
}

// Question uses ? for every parameter (sqlite, mysql).
type Question struct{}

// Name returns "question"
func (Question) Name() string { return "question" }

// Placeholder returns ?
func (Question) Placeholder(int) string { return "?" }

// Dollar uses $1, $2, ... (postgres).
type Dollar struct{}

// Name returns "postgres"
func (Dollar) Name() string { return "postgres" }

// Placeholder returns $n
func (Dollar) Placeholder(index int) string { return fmt.Sprintf("$%d", index) }

// Colon uses :1, :2, ... (oracle).
type Colon struct{}

// Name returns "oracle"
func (Colon) Name() string { return "oracle" }

// Placeholder returns :n
func (Colon) Placeholder(index int) string { return fmt.Sprintf(":%d", index) }

// AtP uses @p1, @p2, ... (sql server).
type AtP struct{}

// Name returns "sqlserver"
func (AtP) Name() string { return "sqlserver" }

// Placeholder returns @pn
func (AtP) Placeholder(index int) string { return fmt.Sprintf("@p%d", index) }

// Lookup resolves a configured dialect name or driver name.
func Lookup(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "question", "sqlite", "sqlite3", "mysql":
		return Question{}, nil
	case "postgres", "postgresql", "pgx", "dollar":
		return Dollar{}, nil
	case "oracle", "colon":
		return Colon{}, nil
	case "sqlserver", "mssql":
		return AtP{}, nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}
