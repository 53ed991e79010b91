// Package sqlitedb provides isolated in-memory SQLite databases for tests.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// TestDB is an in-memory SQLite database owned by one test.
type TestDB struct {
	DB   *sql.DB
	Name string
}

// NewTestDB opens a fresh shared-cache in-memory database and closes it when
// the test finishes.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	name := fmt.Sprintf("test_%s_%d", sanitizeName(t.Name()), time.Now().UnixNano())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("Failed to open sqlite database: %v", err)
	}
	// a single connection keeps the in-memory database alive and serializes
	// writers the way a row lock would
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to ping sqlite database: %v", err)
	}

	testDB := &TestDB{DB: db, Name: name}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close test database connection: %v", err)
		}
	})
	return testDB
}

// Exec runs every semicolon separated statement in script.
func (tdb *TestDB) Exec(t *testing.T, script string) {
	t.Helper()
	for i, stmt := range splitSQL(script) {
		if _, err := tdb.DB.Exec(stmt); err != nil {
			t.Fatalf("Failed to execute SQL statement %d: %v\nStatement: %s", i+1, err, stmt)
		}
	}
}

// sanitizeName makes a test name safe for use in a DSN.
func sanitizeName(name string) string {
	var result strings.Builder
	for _, ch := range name {
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			result.WriteRune(ch)
		} else {
			result.WriteRune('_')
		}
	}
	sanitized := result.String()
	if len(sanitized) > 40 {
		sanitized = sanitized[:40]
	}
	return sanitized
}

// splitSQL splits on semicolons. It doesn't handle semicolons inside strings.
func splitSQL(sql string) []string {
	statements := strings.Split(sql, ";")
	result := make([]string, 0, len(statements))
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			result = append(result, stmt)
		}
	}
	return result
}
