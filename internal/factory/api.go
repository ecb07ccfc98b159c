// ABOUTME: Operator HTTP API for listing and controlling the caller's tenants
// ABOUTME: JSON responses, owner taken from the JWT subject, errors as {"error": "..."}

package factory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/botfactory/internal/auth"
	"github.com/2389/botfactory/internal/provision"
	"github.com/2389/botfactory/internal/store"
	"github.com/2389/botfactory/internal/tenant"
)

// TenantResponse is the JSON shape of one tenant. The credential is redacted.
type TenantResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Credential  string `json:"credential"`
	Active      bool   `json:"active"`
	Running     bool   `json:"running"`
	CreatedAt   string `json:"created_at"`
}

func toResponse(t *store.Tenant, running bool) TenantResponse {
	return TenantResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Credential:  tenant.RedactCredential(t.Credential),
		Active:      t.Active,
		Running:     running,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// requestIDHeader carries the per-request correlation ID.
const requestIDHeader = "X-Request-ID"

// withRequestID echoes the caller's request ID or assigns a fresh one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// handleListTenants handles GET /api/tenants.
func (f *Factory) handleListTenants(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		f.sendJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	statuses, err := f.service.List(r.Context(), owner)
	if err != nil {
		f.sendServiceError(w, r, err)
		return
	}

	response := make([]TenantResponse, 0, len(statuses))
	for _, s := range statuses {
		response = append(response, toResponse(s.Tenant, s.Running))
	}
	f.sendJSON(w, http.StatusOK, response)
}

// handleStartTenant handles POST /api/tenants/{id}/start.
func (f *Factory) handleStartTenant(w http.ResponseWriter, r *http.Request) {
	f.tenantAction(w, r, f.service.Start)
}

// handleStopTenant handles POST /api/tenants/{id}/stop.
func (f *Factory) handleStopTenant(w http.ResponseWriter, r *http.Request) {
	f.tenantAction(w, r, f.service.Stop)
}

// handleDeleteTenant handles DELETE /api/tenants/{id}.
func (f *Factory) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	f.tenantAction(w, r, f.service.Delete)
}

// AuditResponse is the JSON shape of one audit entry.
type AuditResponse struct {
	Action    string         `json:"action"`
	ActorID   int64          `json:"actor_id"`
	Timestamp string         `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// handleTenantAudit handles GET /api/tenants/{id}/audit[?limit=N].
func (f *Factory) handleTenantAudit(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		f.sendJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	id, ok := f.tenantID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			f.sendJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := f.service.History(r.Context(), owner, id, limit)
	if err != nil {
		f.sendServiceError(w, r, err)
		return
	}
	response := make([]AuditResponse, 0, len(entries))
	for _, e := range entries {
		response = append(response, AuditResponse{
			Action:    string(e.Action),
			ActorID:   e.ActorID,
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Detail:    e.Detail,
		})
	}
	f.sendJSON(w, http.StatusOK, response)
}

// tenantID parses the {id} path value, writing a 400 when it is invalid.
func (f *Factory) tenantID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		f.sendJSONError(w, http.StatusBadRequest, "invalid tenant id")
		return 0, false
	}
	return id, true
}

// tenantOp is an owner-scoped provision operation on one tenant.
type tenantOp func(ctx context.Context, ownerID, id int64) (*store.Tenant, error)

func (f *Factory) tenantAction(w http.ResponseWriter, r *http.Request, op tenantOp) {
	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		f.sendJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	id, ok := f.tenantID(w, r)
	if !ok {
		return
	}

	t, err := op(r.Context(), owner, id)
	if err != nil {
		f.sendServiceError(w, r, err)
		return
	}
	f.sendJSON(w, http.StatusOK, toResponse(t, f.supervisor.IsRunning(t.ID)))
}

// sendServiceError maps provision errors onto HTTP statuses.
func (f *Factory) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, provision.ErrNotFound):
		f.sendJSONError(w, http.StatusNotFound, "tenant not found")
	case errors.Is(err, provision.ErrStartFailed):
		f.sendJSONError(w, http.StatusBadGateway, "tenant failed to start")
	default:
		f.logger.Error("operator API request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", w.Header().Get(requestIDHeader),
			slog.Any("error", err),
		)
		f.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func (f *Factory) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func (f *Factory) sendJSONError(w http.ResponseWriter, status int, message string) {
	f.sendJSON(w, status, map[string]string{"error": message})
}
