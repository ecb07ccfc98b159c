// ABOUTME: Tests for audit log store operations
// ABOUTME: Covers Append and List with filtering against both SQLite and the mock

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auditStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite := newTestStore(t)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"sqlite": sqlite,
		"mock":   NewMockStore(),
	}
}

func TestAuditStore_Append(t *testing.T) {
	for name, store := range auditStores(t) {
		t.Run(name, func(t *testing.T) {
			entry := &AuditEntry{
				ActorID:  7,
				Action:   AuditCreateTenant,
				TenantID: 3,
				Detail:   map[string]any{"name": "tutor_bot"},
			}

			require.NoError(t, store.AppendAudit(context.Background(), entry))

			// Should have generated ID and timestamp
			assert.NotEmpty(t, entry.ID)
			assert.False(t, entry.Timestamp.IsZero())

			entries, err := store.ListAudit(context.Background(), AuditFilter{})
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, entry.ID, entries[0].ID)
			assert.Equal(t, int64(7), entries[0].ActorID)
			assert.Equal(t, "tutor_bot", entries[0].Detail["name"])
			assert.WithinDuration(t, entry.Timestamp, entries[0].Timestamp, time.Millisecond)
		})
	}
}

func TestAuditStore_ListFilters(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []AuditEntry{
		{ActorID: 1, Action: AuditCreateTenant, TenantID: 10, Timestamp: base},
		{ActorID: 1, Action: AuditStopTenant, TenantID: 10, Timestamp: base.Add(time.Second)},
		{ActorID: 2, Action: AuditCreateTenant, TenantID: 20, Timestamp: base.Add(2 * time.Second)},
		{ActorID: 1, Action: AuditDeleteTenant, TenantID: 10, Timestamp: base.Add(3 * time.Second)},
	}
	actor := int64(1)
	tenant := int64(10)
	create := AuditCreateTenant
	since := base.Add(time.Second)

	tests := []struct {
		name   string
		filter AuditFilter
		want   []AuditAction
	}{
		{"no filter newest first", AuditFilter{}, []AuditAction{AuditDeleteTenant, AuditCreateTenant, AuditStopTenant, AuditCreateTenant}},
		{"by actor", AuditFilter{ActorID: &actor}, []AuditAction{AuditDeleteTenant, AuditStopTenant, AuditCreateTenant}},
		{"by tenant and action", AuditFilter{TenantID: &tenant, Action: &create}, []AuditAction{AuditCreateTenant}},
		{"since", AuditFilter{Since: &since, TenantID: &tenant}, []AuditAction{AuditDeleteTenant, AuditStopTenant}},
		{"limit", AuditFilter{Limit: 1}, []AuditAction{AuditDeleteTenant}},
	}

	for name, store := range auditStores(t) {
		for i := range seed {
			e := seed[i]
			require.NoError(t, store.AppendAudit(context.Background(), &e))
		}
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				entries, err := store.ListAudit(context.Background(), tt.filter)
				require.NoError(t, err)
				got := make([]AuditAction, len(entries))
				for i, e := range entries {
					got[i] = e.Action
				}
				assert.Equal(t, tt.want, got)
			})
		}
	}
}

func TestAuditStore_SurvivesTenantDelete(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	tn := newTenant(1, "a_bot", "1:aaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, s.CreateTenant(ctx, tn))
	require.NoError(t, s.AppendAudit(ctx, &AuditEntry{ActorID: 1, Action: AuditDeleteTenant, TenantID: tn.ID}))
	require.NoError(t, s.DeleteTenant(ctx, tn.ID))

	entries, err := s.ListAudit(ctx, AuditFilter{TenantID: &tn.ID})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAuditStore_MockError(t *testing.T) {
	m := NewMockStore()
	m.Err = errors.New("boom")

	assert.Error(t, m.AppendAudit(context.Background(), &AuditEntry{}))
	_, err := m.ListAudit(context.Background(), AuditFilter{})
	assert.Error(t, err)
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 100, normalizeAuditLimit(-5))
	assert.Equal(t, 50, normalizeAuditLimit(50))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
}
