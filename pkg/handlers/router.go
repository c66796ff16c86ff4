package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/config"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/middleware"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/services"
)

// NewRouter registers every API route and wraps the mux with request logging.
func NewRouter(cfg *config.Config, pinger Pinger, svc *services.Services, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	NewHealthHandler(cfg, pinger, logger).RegisterRoutes(mux)
	NewStagingHandler(svc.Reconciler, logger).RegisterRoutes(mux)
	NewCatalogHandler(svc.Catalog, logger).RegisterRoutes(mux)
	NewWarehouseHandler(svc.Warehouse, logger).RegisterRoutes(mux)
	NewIngestHandler(svc.Ingest, logger).RegisterRoutes(mux)
	NewAuditHandler(svc.Audit, logger).RegisterRoutes(mux)

	return middleware.RequestLogger(logger)(mux)
}
