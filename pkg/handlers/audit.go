package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/middleware"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/services"
)

// AuditHandler exposes the audit log to admins.
type AuditHandler struct {
	audit  services.AuditService
	logger *zap.Logger
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(audit services.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// RegisterRoutes registers the audit handler's routes on the given mux.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/audit",
		middleware.RequireCaller(middleware.RequireRole(h.List, models.RoleAdmin)))
}

// List handles GET /api/audit?actor_id=&action=&resource_type=&resource_id=&since=&until=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	filter := models.AuditFilter{
		ActorID:      q.Get("actor_id"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
	}
	if filter.Since, err = parseTime(r, "since"); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if filter.Until, err = parseTime(r, "until"); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	entries, total, err := h.audit.List(r.Context(), filter, page)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, ListResponse{Items: entries, Total: total, Page: page.Page, Limit: page.Limit})
}
