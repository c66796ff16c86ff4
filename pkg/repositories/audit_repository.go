package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// AuditRepository provides append-only access to the audit log. There is
// deliberately no update or delete.
type AuditRepository interface {
	// InsertOp appends e. A duplicate id fails the enclosing batch.
	InsertOp(e *models.AuditEntry) storage.BatchOp

	// List returns matching entries, newest first.
	List(ctx context.Context, filter models.AuditFilter, page models.Page) ([]*models.AuditEntry, int, error)
}

type auditRepository struct {
	tables storage.TableStore
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(tables storage.TableStore) AuditRepository {
	return &auditRepository{tables: tables}
}

var _ AuditRepository = (*auditRepository)(nil)

func (r *auditRepository) InsertOp(e *models.AuditEntry) storage.BatchOp {
	return storage.InsertOp(AuditTable, storage.Row{
		"id":            e.ID,
		"actor_id":      e.ActorID,
		"action":        e.Action,
		"resource_type": e.ResourceType,
		"resource_id":   e.ResourceID,
		"before":        e.Before,
		"after":         e.After,
		"timestamp":     e.Timestamp,
	})
}

func (r *auditRepository) List(ctx context.Context, filter models.AuditFilter, page models.Page) ([]*models.AuditEntry, int, error) {
	where := storage.Filter{}
	if filter.ActorID != "" {
		where = append(where, storage.Eq("actor_id", filter.ActorID))
	}
	if filter.Action != "" {
		where = append(where, storage.Eq("action", filter.Action))
	}
	if filter.ResourceType != "" {
		where = append(where, storage.Eq("resource_type", filter.ResourceType))
	}
	if filter.ResourceID != "" {
		where = append(where, storage.Eq("resource_id", filter.ResourceID))
	}
	if filter.Since != nil {
		where = append(where, storage.Gte("timestamp", *filter.Since))
	}
	if filter.Until != nil {
		where = append(where, storage.Lt("timestamp", *filter.Until))
	}

	total, err := r.tables.Count(ctx, AuditTable, where)
	if err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}
	page = page.Normalize()
	rows, err := r.tables.Query(ctx, AuditTable, storage.Query{
		Where:   where,
		OrderBy: []storage.Order{{Column: "timestamp", Desc: true}, {Column: "id"}},
		Limit:   page.Limit,
		Offset:  page.Offset(),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}
	out := make([]*models.AuditEntry, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.String("id"))
		if err != nil {
			return nil, 0, fmt.Errorf("audit entry has invalid id %q: %w", row.String("id"), err)
		}
		out = append(out, &models.AuditEntry{
			ID:           id,
			ActorID:      row.String("actor_id"),
			Action:       row.String("action"),
			ResourceType: row.String("resource_type"),
			ResourceID:   row.String("resource_id"),
			Before:       row.JSON("before"),
			After:        row.JSON("after"),
			Timestamp:    row.Time("timestamp"),
		})
	}
	return out, total, nil
}
