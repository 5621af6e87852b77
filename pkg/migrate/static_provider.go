package migrate

import (
	"database/sql"
	"fmt"
	"sort"
)

// StaticProvider serves a fixed migration list compiled into the binary.
// The tracking table uses SQLite DDL.
type StaticProvider struct {
	migrations     []Migration
	migrationTable string
}

// NewStaticProvider creates a provider over the given migrations. An
// empty migrationTable selects "schema_migrations".
func NewStaticProvider(migrations []Migration, migrationTable string) *StaticProvider {
	if migrationTable == "" {
		migrationTable = "schema_migrations"
	}
	return &StaticProvider{
		migrations:     migrations,
		migrationTable: migrationTable,
	}
}

// GetMigrations returns the compiled-in migrations sorted by version
func (sp *StaticProvider) GetMigrations() ([]Migration, error) {
	migrations := make([]Migration, len(sp.migrations))
	copy(migrations, sp.migrations)

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// CreateMigrationTable creates the migration tracking table
func (sp *StaticProvider) CreateMigrationTable(db *sql.DB) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`, sp.migrationTable)

	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	return nil
}

// GetCurrentVersion returns the highest applied migration version
func (sp *StaticProvider) GetCurrentVersion(db *sql.DB) (int, error) {
	query := fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", sp.migrationTable)

	var version int
	err := db.QueryRow(query).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}

	return version, nil
}

// SetVersion sets the migration version
func (sp *StaticProvider) SetVersion(db DB, version int) error {
	var err error

	if version == 0 {
		// Delete all version records when rolling back to 0
		_, err = db.Exec(fmt.Sprintf("DELETE FROM %s", sp.migrationTable))
	} else {
		query := fmt.Sprintf(`
			INSERT OR REPLACE INTO %s (version, applied_at)
			VALUES (?, CURRENT_TIMESTAMP)
		`, sp.migrationTable)
		_, err = db.Exec(query, version)
	}

	if err != nil {
		return fmt.Errorf("failed to set version: %w", err)
	}

	return nil
}
