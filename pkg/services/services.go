// Package services implements the reconciliation, catalog, warehouse and
// ingestion operations on top of a pipeline.Context.
package services

import (
	"fmt"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/config"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/matching"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/pipeline"
)

// Services bundles every service built over one pipeline.Context.
type Services struct {
	Reconciler ReconcilerService
	Catalog    CatalogService
	Warehouse  WarehouseService
	Ingest     IngestService
	Audit      AuditService
}

// New wires the services for cfg.
func New(pc *pipeline.Context, cfg *config.Config) (*Services, error) {
	normalizer, err := NewNormalizer(cfg.Reconcile)
	if err != nil {
		return nil, err
	}
	reconciler, err := NewReconcilerService(pc, cfg.Reconcile, normalizer)
	if err != nil {
		return nil, fmt.Errorf("create reconciler: %w", err)
	}
	return &Services{
		Reconciler: reconciler,
		Catalog:    NewCatalogService(pc, cfg.Warehouse, normalizer),
		Warehouse:  NewWarehouseService(pc, cfg.Warehouse),
		Ingest:     NewIngestService(pc, cfg.Ingest, reconciler, normalizer),
		Audit:      NewAuditService(pc.Audit, pc.Logger),
	}, nil
}

// NewNormalizer builds the name normalizer, extending the built-in
// abbreviations with the configured file when set.
func NewNormalizer(cfg config.ReconcileConfig) (*matching.Normalizer, error) {
	if cfg.AbbreviationsFile == "" {
		return matching.NewNormalizer(nil), nil
	}
	extra, err := matching.LoadAbbreviations(cfg.AbbreviationsFile)
	if err != nil {
		return nil, err
	}
	return matching.NewNormalizer(extra), nil
}
