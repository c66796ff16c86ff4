package handlers

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/middleware"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/services"
)

// maxIngestRows bounds one HTTP batch; larger imports go through the CLI.
const maxIngestRows = 50000

// IngestBatchRequest for POST /api/ingest
type IngestBatchRequest struct {
	Rows         []models.RawIngestRow `json:"rows"`
	ForceRescore bool                  `json:"force_rescore,omitempty"`
}

// IngestHandler accepts batches of raw admission rows.
type IngestHandler struct {
	ingest services.IngestService
	logger *zap.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(ingest services.IngestService, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{ingest: ingest, logger: logger}
}

// RegisterRoutes registers the ingest handler's routes on the given mux.
func (h *IngestHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest",
		middleware.RequireCaller(middleware.RequireRole(h.Ingest, models.RoleReviewer, models.RoleAdmin)))
}

// Ingest handles POST /api/ingest
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	var req IngestBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, h.logger, err)
		return
	}
	if len(req.Rows) == 0 {
		WriteError(w, h.logger, apperrors.Validationf("rows must not be empty"))
		return
	}
	if len(req.Rows) > maxIngestRows {
		msg := fmt.Sprintf("at most %d rows per request, use cutoffctl ingest for larger imports", maxIngestRows)
		if err := ErrorResponse(w, http.StatusRequestEntityTooLarge, "payload_too_large", msg); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	summary, err := h.ingest.IngestBatch(r.Context(), caller, req.Rows, services.IngestOptions{ForceRescore: req.ForceRescore})
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, summary)
}
