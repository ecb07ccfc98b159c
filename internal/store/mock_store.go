// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	tenants map[int64]*Tenant
	nextID  int64
	audit   []AuditEntry

	// Err, when set, is returned by every operation.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		tenants: make(map[int64]*Tenant),
	}
}

// CreateTenant stores a copy of t and assigns its ID.
func (m *MockStore) CreateTenant(ctx context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	for _, existing := range m.tenants {
		if existing.Credential == t.Credential {
			return ErrDuplicateCredential
		}
	}

	m.nextID++
	now := time.Now().UTC()
	t.ID = m.nextID
	t.Active = true
	t.CreatedAt = now
	t.UpdatedAt = now

	// Make a copy to avoid external modification
	c := *t
	m.tenants[c.ID] = &c
	return nil
}

// GetTenant retrieves a tenant by ID.
func (m *MockStore) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

// GetTenantByCredential retrieves a tenant by credential.
func (m *MockStore) GetTenantByCredential(ctx context.Context, credential string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	for _, t := range m.tenants {
		if t.Credential == credential {
			c := *t
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) list(keep func(*Tenant) bool) []*Tenant {
	var out []*Tenant
	for _, t := range m.tenants {
		if keep(t) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID > out[j].ID
	})
	return out
}

// ListTenantsByOwner returns the owner's tenants, newest first.
func (m *MockStore) ListTenantsByOwner(ctx context.Context, ownerID int64) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return m.list(func(t *Tenant) bool { return t.OwnerID == ownerID }), nil
}

// ListActiveTenants returns every active tenant.
func (m *MockStore) ListActiveTenants(ctx context.Context) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return m.list(func(t *Tenant) bool { return t.Active }), nil
}

// SetTenantActive updates the active flag.
func (m *MockStore) SetTenantActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	t, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.Active = active
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteTenant removes a tenant.
func (m *MockStore) DeleteTenant(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.tenants[id]; !ok {
		return ErrNotFound
	}
	delete(m.tenants, id)
	return nil
}

// AppendAudit records e in memory.
func (m *MockStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	prepareAuditEntry(e)
	m.audit = append(m.audit, *e)
	return nil
}

// ListAudit returns matching entries, newest first.
func (m *MockStore) ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	limit := normalizeAuditLimit(f.Limit)
	out := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.audit[i]
		switch {
		case f.Since != nil && e.Timestamp.Before(*f.Since):
		case f.ActorID != nil && e.ActorID != *f.ActorID:
		case f.TenantID != nil && e.TenantID != *f.TenantID:
		case f.Action != nil && e.Action != *f.Action:
		default:
			out = append(out, e)
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
