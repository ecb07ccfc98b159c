// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides tenant persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != memoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each connection to :memory: is a separate database
	if path == memoryPath {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenants (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id         INTEGER NOT NULL,
			name             TEXT NOT NULL,
			credential       TEXT NOT NULL,
			behavior_profile TEXT NOT NULL,
			is_active        INTEGER NOT NULL DEFAULT 1,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tenants_owner ON tenants(owner_id);
		CREATE INDEX IF NOT EXISTS idx_tenants_active ON tenants(is_active);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			actor_id    INTEGER NOT NULL,
			action      TEXT NOT NULL,
			tenant_id   INTEGER NOT NULL,
			ts          TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_log_tenant ON audit_log(tenant_id, ts);
		CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log(actor_id, ts);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		name  string
		check string // returns a row when the migration is already applied
		apply string
	}{
		{
			name:  "description column",
			check: `SELECT 1 FROM pragma_table_info('tenants') WHERE name = 'description'`,
			apply: `ALTER TABLE tenants ADD COLUMN description TEXT NOT NULL DEFAULT ''`,
		},
		{
			name:  "unique credential index",
			check: `SELECT 1 FROM pragma_index_list('tenants') WHERE name = 'idx_tenants_credential'`,
			apply: `CREATE UNIQUE INDEX idx_tenants_credential ON tenants(credential)`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking migration %s: %w", m.name, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.name, err)
		}
		s.logger.Info("applied migration", "migration", m.name, "table", "tenants")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// CreateTenant inserts t as an active tenant and assigns its ID.
// Returns ErrDuplicateCredential if the credential is already registered.
func (s *SQLiteStore) CreateTenant(ctx context.Context, t *Tenant) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO tenants (owner_id, name, credential, behavior_profile, description, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		t.OwnerID,
		t.Name,
		t.Credential,
		t.Profile,
		t.Description,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateCredential
		}
		return fmt.Errorf("inserting tenant: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading tenant id: %w", err)
	}

	t.ID = id
	t.Active = true
	t.CreatedAt = now
	t.UpdatedAt = now

	s.logger.Debug("created tenant", "id", id, "owner_id", t.OwnerID, "name", t.Name)
	return nil
}

const tenantColumns = `id, owner_id, name, credential, behavior_profile, description, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*Tenant, error) {
	var t Tenant
	var active int
	var createdAtStr, updatedAtStr string

	if err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&t.Name,
		&t.Credential,
		&t.Profile,
		&t.Description,
		&active,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}
	t.Active = active != 0

	var err error
	t.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	t.UpdatedAt, err = time.Parse(timeLayout, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) getTenantWhere(ctx context.Context, where string, arg any) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE ` + where

	t, err := scanTenant(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	return t, nil
}

// GetTenant retrieves a tenant by ID.
// Returns ErrNotFound if the tenant doesn't exist.
func (s *SQLiteStore) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	return s.getTenantWhere(ctx, "id = ?", id)
}

// GetTenantByCredential retrieves the tenant registered with credential.
// Returns ErrNotFound if none is.
func (s *SQLiteStore) GetTenantByCredential(ctx context.Context, credential string) (*Tenant, error) {
	return s.getTenantWhere(ctx, "credential = ?", credential)
}

func (s *SQLiteStore) listTenantsWhere(ctx context.Context, where string, args ...any) ([]*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE ` + where + ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tenant row: %w", err)
		}
		tenants = append(tenants, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenant rows: %w", err)
	}

	return tenants, nil
}

// ListTenantsByOwner returns an owner's tenants, newest first.
func (s *SQLiteStore) ListTenantsByOwner(ctx context.Context, ownerID int64) ([]*Tenant, error) {
	return s.listTenantsWhere(ctx, "owner_id = ?", ownerID)
}

// ListActiveTenants returns every tenant flagged active.
func (s *SQLiteStore) ListActiveTenants(ctx context.Context) ([]*Tenant, error) {
	return s.listTenantsWhere(ctx, "is_active = 1")
}

// SetTenantActive updates the active flag.
// Returns ErrNotFound if the tenant doesn't exist.
func (s *SQLiteStore) SetTenantActive(ctx context.Context, id int64, active bool) error {
	flag := 0
	if active {
		flag = 1
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET is_active = ?, updated_at = ? WHERE id = ?`,
		flag, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating tenant: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("set tenant active", "id", id, "active", active)
	return nil
}

// DeleteTenant removes a tenant.
// Returns ErrNotFound if the tenant doesn't exist.
func (s *SQLiteStore) DeleteTenant(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting tenant: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted tenant", "id", id)
	return nil
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
