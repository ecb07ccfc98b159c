// ABOUTME: Store interface and data types for the tenant registry
// ABOUTME: Defines the Tenant record and the operations provisioning relies on

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateCredential is returned when a credential is already registered
var ErrDuplicateCredential = errors.New("credential already registered")

// Tenant is the durable configuration of one hosted bot.
type Tenant struct {
	ID          int64
	OwnerID     int64
	Name        string
	Credential  string
	Profile     string // generated behavior profile, sent as the system instruction
	Description string // operator's free-form description the profile was generated from
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store is the durable registry of tenant configuration.
type Store interface {
	// CreateTenant persists t and sets t.ID. New tenants are active.
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id int64) (*Tenant, error)
	GetTenantByCredential(ctx context.Context, credential string) (*Tenant, error)
	// ListTenantsByOwner returns the owner's tenants, newest first.
	ListTenantsByOwner(ctx context.Context, ownerID int64) ([]*Tenant, error)
	ListActiveTenants(ctx context.Context) ([]*Tenant, error)
	SetTenantActive(ctx context.Context, id int64, active bool) error
	DeleteTenant(ctx context.Context, id int64) error

	// AppendAudit records a lifecycle action. Entries outlive their tenant.
	AppendAudit(ctx context.Context, e *AuditEntry) error
	// ListAudit returns matching entries, newest first.
	ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	Close() error
}
