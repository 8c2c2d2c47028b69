package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

// Migrator manages database schema migrations
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new database migrator
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Migrate applies all pending database migrations
func (m *Migrator) Migrate() error {
	if err := m.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("create migrations table failed: %w", err)
	}

	applied, err := m.isVersionApplied(1)
	if err != nil {
		return fmt.Errorf("check schema version failed: %w", err)
	}

	if !applied {
		if err := m.applyInitialSchema(); err != nil {
			return fmt.Errorf("apply initial schema failed: %w", err)
		}
	}

	return nil
}

func (m *Migrator) ensureMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		);
	`
	_, err := m.db.Exec(query)
	return err
}

func (m *Migrator) isVersionApplied(version int) (bool, error) {
	var count int
	err := m.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (m *Migrator) applyInitialSchema() error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range splitSQLStatements(schemaSQL) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("execute statement %d failed: %w\nStatement: %s", i, err, stmt)
		}
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		1, "initial schema",
	); err != nil {
		return fmt.Errorf("record migration failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction failed: %w", err)
	}

	return nil
}

// splitSQLStatements splits a SQL file into individual statements
func splitSQLStatements(sqlText string) []string {
	lines := strings.Split(sqlText, "\n")
	var cleanLines []string
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		cleanLines = append(cleanLines, line)
	}
	return strings.Split(strings.Join(cleanLines, "\n"), ";")
}
