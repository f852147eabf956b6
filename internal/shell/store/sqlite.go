package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/nucleus/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteRegistry
// =============================================================================

// SQLiteRegistry implements Registry using SQLite.
type SQLiteRegistry struct {
	db    *sqlx.DB
	locks *NameLocks
	now   func() time.Time
}

// NewSQLiteRegistry opens the database at dsn and runs migrations.
// Use ":memory:" for an ephemeral registry.
func NewSQLiteRegistry(dsn string) (*SQLiteRegistry, error) {
	db, err := sqlx.Open("sqlite3", withParams(dsn, "_busy_timeout=5000"))
	if err != nil {
		return nil, storeError("open", "", err.Error(), ErrConnectionFailed)
	}

	// One connection: an in-memory database exists per connection, and
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storeError("open", "", err.Error(), ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, storeError("migrate", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteRegistry{
		db:    db,
		locks: NewNameLocks(),
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func withParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

// Ping checks that the database is reachable.
func (r *SQLiteRegistry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, rolling back on error.
func (r *SQLiteRegistry) withTx(ctx context.Context, op string, fn func(executor) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeError(op, "", "failed to begin transaction", ErrTxFailed)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return storeError(op, "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeError(op, "", "failed to commit transaction", ErrTxFailed)
	}
	return nil
}

// =============================================================================
// Service Operations
// =============================================================================

// serviceRow represents a services row in the database.
type serviceRow struct {
	Seq         int64  `db:"first_deployed_seq"`
	Name        string `db:"name"`
	State       string `db:"state"`
	URL         string `db:"url"`
	ExternalURL string `db:"external_url"`
	InternalURL string `db:"internal_url"`
	Version     int64  `db:"version"`
	LastError   string `db:"last_error"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

const upsertServiceSQL = `
INSERT INTO services (name, state, url, external_url, internal_url, version, last_error, created_at, updated_at)
VALUES (:name, :state, :url, :external_url, :internal_url, 1, '', :now, :now)
ON CONFLICT(name) DO UPDATE SET
    state        = excluded.state,
    url          = excluded.url,
    external_url = excluded.external_url,
    internal_url = excluded.internal_url,
    version      = services.version + 1,
    last_error   = '',
    updated_at   = excluded.updated_at`

// Upsert implements Registry.
func (r *SQLiteRegistry) Upsert(ctx context.Context, name string, state domain.DeployState, response domain.ServiceResponse) (*domain.DeploymentRecord, error) {
	unlock, err := r.locks.Lock(ctx, name)
	if err != nil {
		return nil, storeError("Upsert", name, "lock wait cancelled", err)
	}
	defer unlock()

	var record *domain.DeploymentRecord
	err = r.withTx(ctx, "Upsert", func(ex executor) error {
		_, err := ex.NamedExecContext(ctx, upsertServiceSQL, map[string]any{
			"name":         name,
			"state":        string(state),
			"url":          response.URL,
			"external_url": response.ExternalURL,
			"internal_url": response.InternalURL,
			"now":          r.now().Format(time.RFC3339Nano),
		})
		if err != nil {
			return storeError("Upsert", name, err.Error(), ErrQueryFailed)
		}

		record, err = getService(ctx, ex, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// MarkFailed implements Registry.
func (r *SQLiteRegistry) MarkFailed(ctx context.Context, name, reason string) error {
	unlock, err := r.locks.Lock(ctx, name)
	if err != nil {
		return storeError("MarkFailed", name, "lock wait cancelled", err)
	}
	defer unlock()

	_, err = r.db.ExecContext(ctx,
		`UPDATE services SET last_error = ?, updated_at = ? WHERE name = ?`,
		reason, r.now().Format(time.RFC3339Nano), name)
	if err != nil {
		return storeError("MarkFailed", name, err.Error(), ErrQueryFailed)
	}
	return nil
}

// Get implements Registry.
func (r *SQLiteRegistry) Get(ctx context.Context, name string) (*domain.DeploymentRecord, error) {
	return getService(ctx, r.db, name)
}

// List implements Registry.
func (r *SQLiteRegistry) List(ctx context.Context) ([]string, error) {
	names := []string{}
	if err := r.db.SelectContext(ctx, &names, `SELECT name FROM services ORDER BY first_deployed_seq`); err != nil {
		return nil, storeError("List", "", err.Error(), ErrQueryFailed)
	}
	return names, nil
}

func getService(ctx context.Context, ex executor, name string) (*domain.DeploymentRecord, error) {
	var row serviceRow
	err := ex.GetContext(ctx, &row, `SELECT * FROM services WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError("GetService", name)
	}
	if err != nil {
		return nil, storeError("GetService", name, err.Error(), ErrQueryFailed)
	}
	return rowToRecord(row)
}

func rowToRecord(row serviceRow) (*domain.DeploymentRecord, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return nil, storeError("GetService", row.Name, "invalid created_at", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, row.UpdatedAt)
	if err != nil {
		return nil, storeError("GetService", row.Name, "invalid updated_at", err)
	}

	return &domain.DeploymentRecord{
		Name:  row.Name,
		State: domain.DeployState(row.State),
		Response: domain.ServiceResponse{
			URL:         row.URL,
			ExternalURL: row.ExternalURL,
			InternalURL: row.InternalURL,
		},
		Version:   row.Version,
		LastError: row.LastError,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}
