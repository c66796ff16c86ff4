package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/classifier"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/middleware"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/services"
)

// ClassifyRequest for POST /api/classify
type ClassifyRequest struct {
	CourseName string `json:"course_name"`
}

// CatalogHandler serves canonical colleges and courses.
type CatalogHandler struct {
	catalog    services.CatalogService
	classifier *classifier.Classifier
	logger     *zap.Logger
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(catalog services.CatalogService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, classifier: classifier.Default(), logger: logger}
}

// RegisterRoutes registers the catalog handler's routes on the given mux.
func (h *CatalogHandler) RegisterRoutes(mux *http.ServeMux) {
	adminOnly := func(next http.HandlerFunc) http.HandlerFunc {
		return middleware.RequireCaller(middleware.RequireRole(next, models.RoleAdmin))
	}

	mux.HandleFunc("GET /api/colleges", middleware.RequireCaller(h.ListColleges))
	mux.HandleFunc("GET /api/colleges/{id}", middleware.RequireCaller(h.GetCollege))
	mux.HandleFunc("PUT /api/colleges/{id}", adminOnly(h.UpsertCollege))
	mux.HandleFunc("GET /api/courses", middleware.RequireCaller(h.ListCourses))
	mux.HandleFunc("GET /api/courses/{id}", middleware.RequireCaller(h.GetCourse))
	mux.HandleFunc("PUT /api/courses/{id}", adminOnly(h.UpsertCourse))
	mux.HandleFunc("POST /api/classify", middleware.RequireCaller(h.Classify))
}

// ListColleges handles GET /api/colleges?state=&city=&type=&management_type=&q=
func (h *CatalogHandler) ListColleges(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	filter := models.CollegeFilter{
		State:          q.Get("state"),
		City:           q.Get("city"),
		Type:           q.Get("type"),
		ManagementType: q.Get("management_type"),
		NameContains:   q.Get("q"),
	}
	colleges, total, err := h.catalog.ListColleges(r.Context(), filter, page)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, ListResponse{Items: colleges, Total: total, Page: page.Page, Limit: page.Limit})
}

// GetCollege handles GET /api/colleges/{id}
func (h *CatalogHandler) GetCollege(w http.ResponseWriter, r *http.Request) {
	detail, err := h.catalog.GetCollege(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, detail)
}

// UpsertCollege handles PUT /api/colleges/{id}
func (h *CatalogHandler) UpsertCollege(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	var c models.College
	if err := decodeJSON(w, r, &c); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if c.ID != "" && c.ID != r.PathValue("id") {
		WriteError(w, h.logger, apperrors.Validationf("body id %q does not match path", c.ID))
		return
	}
	c.ID = r.PathValue("id")
	saved, err := h.catalog.UpsertCollege(r.Context(), caller, &c)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, saved)
}

// ListCourses handles GET /api/courses?stream=&branch=&degree_type=&q=
func (h *CatalogHandler) ListCourses(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	q := r.URL.Query()
	filter := models.CourseFilter{
		Stream:       q.Get("stream"),
		Branch:       q.Get("branch"),
		DegreeType:   q.Get("degree_type"),
		NameContains: q.Get("q"),
	}
	courses, total, err := h.catalog.ListCourses(r.Context(), filter, page)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, ListResponse{Items: courses, Total: total, Page: page.Page, Limit: page.Limit})
}

// GetCourse handles GET /api/courses/{id}
func (h *CatalogHandler) GetCourse(w http.ResponseWriter, r *http.Request) {
	detail, err := h.catalog.GetCourse(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, detail)
}

// UpsertCourse handles PUT /api/courses/{id}
func (h *CatalogHandler) UpsertCourse(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	var c models.Course
	if err := decodeJSON(w, r, &c); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if c.ID != "" && c.ID != r.PathValue("id") {
		WriteError(w, h.logger, apperrors.Validationf("body id %q does not match path", c.ID))
		return
	}
	c.ID = r.PathValue("id")
	saved, err := h.catalog.UpsertCourse(r.Context(), caller, &c)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, saved)
}

// Classify handles POST /api/classify
func (h *CatalogHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, h.classifier.Classify(req.CourseName))
}
