package sqlite

import (
	_ "embed"
	"fmt"
	"log"

	"policy-lifecycle-service/internal/database"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

func init() {
	// sqlx only knows the mattn driver name; the pure Go driver registers as "sqlite"
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Open opens (or creates) a SQLite database at path and applies the schema.
// Use ":memory:" for a throwaway database in tests.
func Open(path string) (*sqlx.DB, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// a single connection keeps in-memory databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if err := database.ExecuteSchema(db, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	log.Printf("SQLite store ready at %s", path)
	return db, nil
}
