// Package handlers implements the HTTP surface of the control plane.
// Handlers decode requests, delegate to services and translate domain
// errors to HTTP status codes. No business logic lives here.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ordd/redash/pkg/apperrors"
	"github.com/ordd/redash/pkg/auth"
	"github.com/ordd/redash/pkg/connectors"
	"github.com/ordd/redash/pkg/jsonutil"
	"github.com/ordd/redash/pkg/logging"
	"github.com/ordd/redash/pkg/models"
	"github.com/ordd/redash/pkg/services"
)

// DataSourceHandler handles data source administration endpoints.
type DataSourceHandler struct {
	svc    services.DataSourceService
	logger *zap.Logger
}

// NewDataSourceHandler creates a new DataSourceHandler.
func NewDataSourceHandler(svc services.DataSourceService, logger *zap.Logger) *DataSourceHandler {
	return &DataSourceHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers data source routes on the given mux. Every
// route requires authentication; mutating routes and single-source
// reads additionally require the admin role. Listing and schema
// introspection are open to members, whose visibility the service
// narrows to shared groups.
func (h *DataSourceHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	requireAdmin := func(next http.HandlerFunc) http.HandlerFunc {
		return authMiddleware.RequireAuth(auth.RequireRole(models.RoleAdmin)(next))
	}

	mux.HandleFunc("GET /api/data_sources", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("POST /api/data_sources", requireAdmin(h.Create))
	mux.HandleFunc("GET /api/data_sources/types", requireAdmin(h.Types))
	mux.HandleFunc("POST /api/data_sources/test", requireAdmin(h.TestConnection))
	mux.HandleFunc("GET /api/data_sources/{id}", requireAdmin(h.Get))
	mux.HandleFunc("POST /api/data_sources/{id}", requireAdmin(h.Update))
	mux.HandleFunc("DELETE /api/data_sources/{id}", requireAdmin(h.Delete))
	mux.HandleFunc("GET /api/data_sources/{id}/schema", authMiddleware.RequireAuth(h.Schema))
	mux.HandleFunc("POST /api/data_sources/{id}/pause", requireAdmin(h.Pause))
	mux.HandleFunc("DELETE /api/data_sources/{id}/pause", requireAdmin(h.Resume))
}

// dataSourceResponse is the serialized form of a data source. Options
// are masked or full depending on the endpoint.
type dataSourceResponse struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Options     map[string]any    `json:"options"`
	Groups      map[string]string `json:"groups"`
	Paused      bool              `json:"paused"`
	PauseReason string            `json:"pause_reason,omitempty"`
	ViewOnly    *bool             `json:"view_only,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// serializeDataSource renders a data source. With revealSecrets false,
// option fields the schema marks secret, or does not declare at all,
// are omitted entirely.
func serializeDataSource(ds *models.DataSource, revealSecrets bool) dataSourceResponse {
	groups := make(map[string]string, len(ds.Groups))
	for id, perm := range ds.Groups {
		groups[id.String()] = string(perm)
	}
	return dataSourceResponse{
		ID:          ds.ID,
		Name:        ds.Name,
		Type:        ds.Type,
		Options:     ds.Options.Map(revealSecrets),
		Groups:      groups,
		Paused:      ds.Paused,
		PauseReason: ds.PauseReason,
		CreatedAt:   ds.CreatedAt,
		UpdatedAt:   ds.UpdatedAt,
	}
}

type dataSourceRequest struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Options map[string]any `json:"options"`
}

// List handles GET /api/data_sources.
// Returns the sources visible to the caller, masked, with the
// per-source view_only flag. One entry per source id, ascending.
func (h *DataSourceHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		_ = jsonutil.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	entries, err := h.svc.List(r.Context(), claims)
	if err != nil {
		h.writeError(w, r, err, "list data sources")
		return
	}

	response := make([]dataSourceResponse, 0, len(entries))
	for _, e := range entries {
		item := serializeDataSource(e.DataSource, false)
		viewOnly := e.ViewOnly
		item.ViewOnly = &viewOnly
		response = append(response, item)
	}

	if err := jsonutil.Write(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode data source list", zap.Error(err))
	}
}

// Types handles GET /api/data_sources/types.
// Enumerates registered connector types with their configuration
// schemas so clients can render setup forms.
func (h *DataSourceHandler) Types(w http.ResponseWriter, r *http.Request) {
	type typeResponse struct {
		connectors.TypeInfo
		ConfigurationSchema any `json:"configuration_schema"`
	}

	infos := h.svc.Types()
	response := make([]typeResponse, 0, len(infos))
	for _, info := range infos {
		schema, _ := connectors.SchemaFor(info.Type)
		response = append(response, typeResponse{TypeInfo: info, ConfigurationSchema: schema})
	}

	if err := jsonutil.Write(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode connector types", zap.Error(err))
	}
}

// Get handles GET /api/data_sources/{id}.
// Returns the full configuration including secrets; the route is
// admin-only for exactly that reason.
func (h *DataSourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.claimsAndID(w, r)
	if !ok {
		return
	}

	ds, err := h.svc.Get(r.Context(), claims, id)
	if err != nil {
		h.writeError(w, r, err, "get data source")
		return
	}

	if err := jsonutil.Write(w, http.StatusOK, serializeDataSource(ds, true)); err != nil {
		h.logger.Error("Failed to encode data source", zap.Error(err))
	}
}

// Create handles POST /api/data_sources.
func (h *DataSourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		_ = jsonutil.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req dataSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = jsonutil.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	ds, err := h.svc.Create(r.Context(), claims, req.Name, req.Type, req.Options)
	if err != nil {
		h.writeError(w, r, err, "create data source")
		return
	}

	if err := jsonutil.Write(w, http.StatusCreated, serializeDataSource(ds, true)); err != nil {
		h.logger.Error("Failed to encode data source", zap.Error(err))
	}
}

// Update handles POST /api/data_sources/{id}.
// Options merge into the stored mapping; a validation failure leaves
// the stored record untouched and reports the offending field.
func (h *DataSourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.claimsAndID(w, r)
	if !ok {
		return
	}

	var req dataSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = jsonutil.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	ds, err := h.svc.Update(r.Context(), claims, id, req.Name, req.Type, req.Options)
	if err != nil {
		h.writeError(w, r, err, "update data source")
		return
	}

	if err := jsonutil.Write(w, http.StatusOK, serializeDataSource(ds, true)); err != nil {
		h.logger.Error("Failed to encode data source", zap.Error(err))
	}
}

// Delete handles DELETE /api/data_sources/{id}.
func (h *DataSourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.claimsAndID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), claims, id); err != nil {
		h.writeError(w, r, err, "delete data source")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Schema handles GET /api/data_sources/{id}/schema.
// Introspects the upstream system live; a failure there surfaces as
// 502, not 500, since the control plane itself is healthy.
func (h *DataSourceHandler) Schema(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.claimsAndID(w, r)
	if !ok {
		return
	}

	tables, err := h.svc.LiveSchema(r.Context(), claims, id)
	if err != nil {
		h.writeError(w, r, err, "fetch live schema")
		return
	}

	if err := jsonutil.Write(w, http.StatusOK, map[string]any{"schema": tables}); err != nil {
		h.logger.Error("Failed to encode schema", zap.Error(err))
	}
}

// pauseRequest carries the optional pause reason. The query parameter
// form is kept for clients that send an empty body.
type pauseRequest struct {
	Reason string `json:"reason"`
}

// Pause handles POST /api/data_sources/{id}/pause.
// Pausing an already paused source overwrites the reason.
func (h *DataSourceHandler) Pause(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.claimsAndID(w, r)
	if !ok {
		return
	}

	reason := r.URL.Query().Get("reason")
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Reason != "" {
		reason = req.Reason
	}

	ds, err := h.svc.Pause(r.Context(), claims, id, reason)
	if err != nil {
		h.writeError(w, r, err, "pause data source")
		return
	}

	if err := jsonutil.Write(w, http.StatusOK, serializeDataSource(ds, false)); err != nil {
		h.logger.Error("Failed to encode data source", zap.Error(err))
	}
}

// Resume handles DELETE /api/data_sources/{id}/pause.
// Resuming an active source is a no-op, not an error.
func (h *DataSourceHandler) Resume(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.claimsAndID(w, r)
	if !ok {
		return
	}

	ds, err := h.svc.Resume(r.Context(), claims, id)
	if err != nil {
		h.writeError(w, r, err, "resume data source")
		return
	}

	if err := jsonutil.Write(w, http.StatusOK, serializeDataSource(ds, false)); err != nil {
		h.logger.Error("Failed to encode data source", zap.Error(err))
	}
}

// testConnectionResponse reports probe outcome in the body; the status
// is 200 either way since the request itself succeeded.
type testConnectionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// TestConnection handles POST /api/data_sources/test.
// Validates options against the type's schema and probes the upstream
// system without persisting anything.
func (h *DataSourceHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req dataSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = jsonutil.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	err := h.svc.TestConnection(r.Context(), req.Type, req.Options)
	if err != nil {
		if apperrors.IsValidation(err) {
			h.writeError(w, r, err, "test connection")
			return
		}
		if err := jsonutil.Write(w, http.StatusOK, testConnectionResponse{OK: false, Message: logging.SanitizeError(err)}); err != nil {
			h.logger.Error("Failed to encode test result", zap.Error(err))
		}
		return
	}

	if err := jsonutil.Write(w, http.StatusOK, testConnectionResponse{OK: true}); err != nil {
		h.logger.Error("Failed to encode test result", zap.Error(err))
	}
}

// claimsAndID extracts the authenticated claims and the path id,
// writing the error response itself when either is missing.
func (h *DataSourceHandler) claimsAndID(w http.ResponseWriter, r *http.Request) (*auth.Claims, uuid.UUID, bool) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		_ = jsonutil.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return nil, uuid.Nil, false
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = jsonutil.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid data source id")
		return nil, uuid.Nil, false
	}

	return claims, id, true
}

// writeError maps domain errors to HTTP status codes.
func (h *DataSourceHandler) writeError(w http.ResponseWriter, r *http.Request, err error, action string) {
	var verr *apperrors.ValidationError
	switch {
	case errors.As(err, &verr):
		_ = jsonutil.WriteError(w, http.StatusBadRequest, "validation_error", verr.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		_ = jsonutil.WriteError(w, http.StatusNotFound, "not_found", "data source not found")
	case errors.Is(err, apperrors.ErrPermissionDenied):
		_ = jsonutil.WriteError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
	case errors.Is(err, apperrors.ErrUpstream):
		// Driver errors tend to echo the connection URL, credentials
		// included, so the message is scrubbed before leaving.
		_ = jsonutil.WriteError(w, http.StatusBadGateway, "upstream_error", logging.SanitizeError(err))
	default:
		h.logger.Error("Failed to "+action,
			zap.String("path", r.URL.Path),
			zap.String("error", logging.SanitizeError(err)))
		_ = jsonutil.WriteError(w, http.StatusInternalServerError, "internal_error", "an internal error occurred")
	}
}
