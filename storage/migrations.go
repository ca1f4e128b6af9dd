package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// MigrationStatus is the state of one schema migration
type MigrationStatus struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// MigrationManager applies the embedded cache schema to a database. Each
// manager owns its own goose provider, so several stores can migrate in one
// process.
type MigrationManager struct {
	provider *goose.Provider
}

func NewMigrationManager(db *sql.DB) (*MigrationManager, error) {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return &MigrationManager{provider: provider}, nil
}

// Up applies every pending migration and returns how many ran
func (m *MigrationManager) Up(ctx context.Context) (int, error) {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("failed to run migrations: %w", err)
	}
	for _, r := range results {
		log.Printf("Applied schema migration %d (%s) in %s", r.Source.Version, r.Source.Path, r.Duration.Round(time.Millisecond))
	}
	return len(results), nil
}

// Down rolls back the latest applied migration
func (m *MigrationManager) Down(ctx context.Context) error {
	result, err := m.provider.Down(ctx)
	if err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	log.Printf("Rolled back schema migration %d (%s)", result.Source.Version, result.Source.Path)
	return nil
}

// Reset rolls back every applied migration, dropping the cache tables
func (m *MigrationManager) Reset(ctx context.Context) error {
	results, err := m.provider.DownTo(ctx, 0)
	if err != nil && !errors.Is(err, goose.ErrNoNextVersion) {
		return fmt.Errorf("failed to reset database: %w", err)
	}
	log.Printf("Database reset, %d migrations rolled back", len(results))
	return nil
}

// Status lists every known migration in version order
func (m *MigrationManager) Status(ctx context.Context) ([]MigrationStatus, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}
	out := make([]MigrationStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, MigrationStatus{
			Version:   st.Source.Version,
			Name:      st.Source.Path,
			Applied:   st.State == goose.StateApplied,
			AppliedAt: st.AppliedAt,
		})
	}
	return out, nil
}

func (m *MigrationManager) Version(ctx context.Context) (int64, error) {
	version, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get database version: %w", err)
	}
	return version, nil
}
