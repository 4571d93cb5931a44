package database

import (
	"fmt"
	"log"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ExecuteSchema runs a semicolon separated DDL script statement by statement.
func ExecuteSchema(db *sqlx.DB, script string) error {
	successCount := 0
	for i, statement := range strings.Split(script, ";") {
		statement = stripComments(statement)
		if statement == "" {
			continue
		}
		if _, err := db.Exec(statement); err != nil {
			return fmt.Errorf("statement %d failed: %w", i+1, err)
		}
		successCount++
	}
	log.Printf("Schema execution completed. Successfully executed %d statements", successCount)
	return nil
}

func stripComments(statement string) string {
	var b strings.Builder
	for _, line := range strings.Split(statement, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
