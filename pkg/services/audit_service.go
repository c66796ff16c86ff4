package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/audit"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
)

// AuditService is the read side of the audit log.
type AuditService interface {
	// List returns matching audit entries, newest first, and the total count.
	List(ctx context.Context, filter models.AuditFilter, page models.Page) ([]*models.AuditEntry, int, error)
}

type auditService struct {
	sink   *audit.Sink
	logger *zap.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(sink *audit.Sink, logger *zap.Logger) AuditService {
	return &auditService{
		sink:   sink,
		logger: logger.Named("audit-service"),
	}
}

var _ AuditService = (*auditService)(nil)

func (s *auditService) List(ctx context.Context, filter models.AuditFilter, page models.Page) ([]*models.AuditEntry, int, error) {
	if filter.Since != nil && filter.Until != nil && !filter.Until.After(*filter.Since) {
		return nil, 0, apperrors.Validationf("until must be after since")
	}
	entries, total, err := s.sink.List(ctx, filter, page)
	if err != nil {
		s.logger.Error("Failed to list audit entries", zap.Error(err))
		return nil, 0, err
	}
	return entries, total, nil
}
