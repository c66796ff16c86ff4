package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/middleware"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/services"
)

// WarehouseHandler serves rollup rebuilds and overrides.
type WarehouseHandler struct {
	warehouse services.WarehouseService
	logger    *zap.Logger
}

// NewWarehouseHandler creates a new warehouse handler.
func NewWarehouseHandler(warehouse services.WarehouseService, logger *zap.Logger) *WarehouseHandler {
	return &WarehouseHandler{warehouse: warehouse, logger: logger}
}

// RegisterRoutes registers the warehouse handler's routes on the given mux.
func (h *WarehouseHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rebuild",
		middleware.RequireCaller(middleware.RequireRole(h.Rebuild, models.RoleReviewer, models.RoleAdmin)))
	mux.HandleFunc("PUT /api/colleges/{id}/rollups",
		middleware.RequireCaller(middleware.RequireRole(h.OverrideCollege, models.RoleAdmin)))
	mux.HandleFunc("PUT /api/courses/{id}/rollups",
		middleware.RequireCaller(middleware.RequireRole(h.OverrideCourse, models.RoleAdmin)))
}

// Rebuild handles POST /api/rebuild. An empty body rebuilds everything.
func (h *WarehouseHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	var scope models.RebuildScope
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &scope); err != nil {
			WriteError(w, h.logger, err)
			return
		}
	}
	stats, err := h.warehouse.RebuildRollups(r.Context(), caller, scope)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, stats)
}

// OverrideCollege handles PUT /api/colleges/{id}/rollups
func (h *WarehouseHandler) OverrideCollege(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	var rollups models.CollegeRollups
	if err := decodeJSON(w, r, &rollups); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	college, err := h.warehouse.OverrideCollegeRollups(r.Context(), caller, r.PathValue("id"), rollups)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, college)
}

// OverrideCourse handles PUT /api/courses/{id}/rollups
func (h *WarehouseHandler) OverrideCourse(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	var rollups models.CourseRollups
	if err := decodeJSON(w, r, &rollups); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	course, err := h.warehouse.OverrideCourseRollups(r.Context(), caller, r.PathValue("id"), rollups)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, course)
}
