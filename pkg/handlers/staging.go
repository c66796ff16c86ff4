package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/middleware"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/services"
)

// IngestNameRequest for POST /api/staging
type IngestNameRequest struct {
	RawName      string            `json:"raw_name"`
	EntityKind   models.EntityKind `json:"entity_kind"`
	ForceRescore bool              `json:"force_rescore,omitempty"`
}

// ManualMatchRequest for POST /api/staging/{id}/match
type ManualMatchRequest struct {
	CanonicalID string `json:"canonical_id"`
}

// StagingHandler serves the review queue.
type StagingHandler struct {
	reconciler services.ReconcilerService
	logger     *zap.Logger
}

// NewStagingHandler creates a new staging handler.
func NewStagingHandler(reconciler services.ReconcilerService, logger *zap.Logger) *StagingHandler {
	return &StagingHandler{reconciler: reconciler, logger: logger}
}

// RegisterRoutes registers the staging handler's routes on the given mux.
func (h *StagingHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/staging"
	review := func(next http.HandlerFunc) http.HandlerFunc {
		return middleware.RequireCaller(middleware.RequireRole(next, models.RoleReviewer, models.RoleAdmin))
	}

	mux.HandleFunc("GET "+base, middleware.RequireCaller(h.List))
	mux.HandleFunc("GET "+base+"/summary", middleware.RequireCaller(h.Summary))
	mux.HandleFunc("GET "+base+"/{id}", middleware.RequireCaller(h.Get))
	mux.HandleFunc("POST "+base, review(h.Ingest))
	mux.HandleFunc("POST "+base+"/{id}/approve", review(h.Approve))
	mux.HandleFunc("POST "+base+"/{id}/reject", review(h.Reject))
	mux.HandleFunc("POST "+base+"/{id}/match", review(h.Match))
}

// List handles GET /api/staging?status=&entity_kind=&page=&limit=
func (h *StagingHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	filter := models.StagingFilter{
		Status:     models.StagingStatus(r.URL.Query().Get("status")),
		EntityKind: models.EntityKind(r.URL.Query().Get("entity_kind")),
	}
	recs, total, err := h.reconciler.ListStaging(r.Context(), filter, page)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, ListResponse{Items: recs, Total: total, Page: page.Page, Limit: page.Limit})
}

// Summary handles GET /api/staging/summary
func (h *StagingHandler) Summary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reconciler.Summary(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, rows)
}

// Get handles GET /api/staging/{id}
func (h *StagingHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.reconciler.GetStaging(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, rec)
}

// Ingest handles POST /api/staging
func (h *StagingHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	var req IngestNameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	rec, err := h.reconciler.Ingest(r.Context(), caller, req.RawName, req.EntityKind, req.ForceRescore)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, rec)
}

// Approve handles POST /api/staging/{id}/approve
func (h *StagingHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.reconciler.ApproveMatch)
}

// Reject handles POST /api/staging/{id}/reject
func (h *StagingHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.reconciler.RejectMatch)
}

// Match handles POST /api/staging/{id}/match
func (h *StagingHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req ManualMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	h.transition(w, r, func(ctx context.Context, caller models.Caller, id string) (*models.StagingRecord, error) {
		return h.reconciler.ManualMatch(ctx, caller, id, req.CanonicalID)
	})
}

func (h *StagingHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, models.Caller, string) (*models.StagingRecord, error)) {
	caller, err := callerFrom(r)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	rec, err := op(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, rec)
}
