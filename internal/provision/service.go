// ABOUTME: Owner-scoped tenant management shared by the factory bot and the HTTP API.
// ABOUTME: Keeps the registry's active flag and the supervisor's running set in step.

package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/2389/botfactory/internal/llm"
	"github.com/2389/botfactory/internal/store"
	"github.com/2389/botfactory/internal/tenant"
)

var (
	// ErrNotFound covers both missing tenants and tenants owned by someone
	// else, so callers cannot probe for existence.
	ErrNotFound = errors.New("tenant not found")
	// ErrInvalidName indicates a tenant name that does not end in "bot".
	ErrInvalidName = errors.New(`name must end in "bot"`)
	// ErrCredentialInUse indicates the credential is already registered.
	ErrCredentialInUse = errors.New("credential already registered")
	// ErrProfileFailed indicates the behavior profile could not be generated.
	ErrProfileFailed = errors.New("profile generation failed")
	// ErrStartFailed indicates the supervisor refused or failed to start the tenant.
	ErrStartFailed = errors.New("tenant failed to start")
)

// DefaultReconcileConcurrency bounds parallel starts during Reconcile.
const DefaultReconcileConcurrency = 4

// Supervisor is the lifecycle surface the service drives.
type Supervisor interface {
	Start(ctx context.Context, spec tenant.Spec) bool
	Stop(ctx context.Context, id int64) bool
	IsRunning(id int64) bool
}

// ProfileGenerator turns a description into a behavior profile.
type ProfileGenerator interface {
	GenerateProfile(ctx context.Context, description string) llm.Result
}

// CreateRequest carries what the operator supplies for a new tenant.
type CreateRequest struct {
	OwnerID     int64
	Name        string
	Description string
	Credential  string
}

// Status is a tenant record joined with its live state.
type Status struct {
	*store.Tenant
	Running bool
}

// Service manages tenants on behalf of their owners.
type Service struct {
	store       store.Store
	supervisor  Supervisor
	profiles    ProfileGenerator
	logger      *slog.Logger
	concurrency int

	// locks serializes start, stop and delete per tenant so the registry's
	// active flag ends up matching the supervisor.
	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// NewService creates a Service. A concurrency of zero or less uses
// DefaultReconcileConcurrency.
func NewService(st store.Store, sup Supervisor, profiles ProfileGenerator, logger *slog.Logger, concurrency int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = DefaultReconcileConcurrency
	}
	return &Service{
		store:       st,
		supervisor:  sup,
		profiles:    profiles,
		logger:      logger.With("component", "provision"),
		concurrency: concurrency,
		locks:       make(map[int64]*sync.Mutex),
	}
}

func (s *Service) lockTenant(id int64) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// ValidateName checks that a tenant name ends in "bot", ignoring case.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || !strings.HasSuffix(strings.ToLower(name), "bot") {
		return ErrInvalidName
	}
	return nil
}

func specFor(t *store.Tenant) tenant.Spec {
	return tenant.Spec{ID: t.ID, Credential: t.Credential, Profile: t.Profile}
}

// Create generates a behavior profile, persists the tenant and starts it. If
// the start fails the record is removed again, so a returned error means
// nothing was persisted.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*store.Tenant, error) {
	req.Name = strings.TrimPrefix(strings.TrimSpace(req.Name), "@")
	req.Credential = strings.TrimSpace(req.Credential)

	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}
	if err := tenant.ValidateCredential(req.Credential); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTenantByCredential(ctx, req.Credential); err == nil {
		return nil, ErrCredentialInUse
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking credential: %w", err)
	}

	res := s.profiles.GenerateProfile(ctx, req.Description)
	if !res.OK() {
		return nil, fmt.Errorf("%w: %s", ErrProfileFailed, res.Cause())
	}

	t := &store.Tenant{
		OwnerID:     req.OwnerID,
		Name:        req.Name,
		Credential:  req.Credential,
		Profile:     res.Text,
		Description: req.Description,
	}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		if errors.Is(err, store.ErrDuplicateCredential) {
			return nil, ErrCredentialInUse
		}
		return nil, fmt.Errorf("saving tenant: %w", err)
	}

	defer s.lockTenant(t.ID)()

	logger := s.logger.With("tenant_id", t.ID, "owner_id", t.OwnerID, "name", t.Name)
	if !s.supervisor.Start(ctx, specFor(t)) {
		if err := s.store.DeleteTenant(ctx, t.ID); err != nil {
			logger.Error("failed to remove tenant after failed start", "error", err)
		}
		return nil, ErrStartFailed
	}

	s.audit(ctx, t.OwnerID, store.AuditCreateTenant, t)
	logger.Info("tenant created")
	return t, nil
}

// Get returns an owner's tenant.
func (s *Service) Get(ctx context.Context, ownerID, id int64) (*store.Tenant, error) {
	t, err := s.store.GetTenant(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant: %w", err)
	}
	if t.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return t, nil
}

// List returns an owner's tenants, newest first, with their live state.
func (s *Service) List(ctx context.Context, ownerID int64) ([]Status, error) {
	tenants, err := s.store.ListTenantsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	out := make([]Status, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, Status{Tenant: t, Running: s.supervisor.IsRunning(t.ID)})
	}
	return out, nil
}

// Start launches an owner's tenant and marks it active. Starting a tenant
// that is already running succeeds.
func (s *Service) Start(ctx context.Context, ownerID, id int64) (*store.Tenant, error) {
	defer s.lockTenant(id)()

	t, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !s.supervisor.Start(ctx, specFor(t)) && !s.supervisor.IsRunning(id) {
		return nil, ErrStartFailed
	}
	if err := s.store.SetTenantActive(ctx, id, true); err != nil {
		return nil, fmt.Errorf("activating tenant: %w", err)
	}
	t.Active = true
	s.audit(ctx, ownerID, store.AuditStartTenant, t)
	return t, nil
}

// Stop halts an owner's tenant and marks it inactive. Stopping a tenant that
// is not running only clears the flag.
func (s *Service) Stop(ctx context.Context, ownerID, id int64) (*store.Tenant, error) {
	defer s.lockTenant(id)()

	t, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	s.supervisor.Stop(ctx, id)
	if err := s.store.SetTenantActive(ctx, id, false); err != nil {
		return nil, fmt.Errorf("deactivating tenant: %w", err)
	}
	t.Active = false
	s.audit(ctx, ownerID, store.AuditStopTenant, t)
	return t, nil
}

// Delete stops an owner's tenant and removes its record.
func (s *Service) Delete(ctx context.Context, ownerID, id int64) (*store.Tenant, error) {
	defer s.lockTenant(id)()

	t, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	s.supervisor.Stop(ctx, id)
	if err := s.store.DeleteTenant(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("deleting tenant: %w", err)
	}
	s.audit(ctx, ownerID, store.AuditDeleteTenant, t)
	s.logger.Info("tenant deleted", "tenant_id", id, "owner_id", ownerID)
	return t, nil
}

// History returns the audit trail of an owner's tenant, newest first.
func (s *Service) History(ctx context.Context, ownerID, id int64, limit int) ([]store.AuditEntry, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	entries, err := s.store.ListAudit(ctx, store.AuditFilter{TenantID: &id, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	return entries, nil
}

// audit records a lifecycle action. A failed write is logged and does not
// fail the action it describes.
func (s *Service) audit(ctx context.Context, actor int64, action store.AuditAction, t *store.Tenant) {
	err := s.store.AppendAudit(ctx, &store.AuditEntry{
		ActorID:  actor,
		Action:   action,
		TenantID: t.ID,
		Detail:   map[string]any{"name": t.Name},
	})
	if err != nil {
		s.logger.Warn("failed to append audit entry", "action", action, "tenant_id", t.ID, "error", err)
	}
}

// Reconcile starts every tenant flagged active. Tenants that fail to start
// keep their flag, so a transient outage does not deactivate them.
func (s *Service) Reconcile(ctx context.Context) (started, failed int, err error) {
	tenants, err := s.store.ListActiveTenants(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("listing active tenants: %w", err)
	}

	var ok, bad atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, t := range tenants {
		g.Go(func() error {
			if s.supervisor.Start(ctx, specFor(t)) {
				ok.Add(1)
			} else {
				bad.Add(1)
				s.logger.Warn("active tenant did not start", "tenant_id", t.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("reconciled active tenants", "started", ok.Load(), "failed", bad.Load())
	return int(ok.Load()), int(bad.Load()), nil
}
