package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// StagingRepository provides data access for staging records.
type StagingRepository interface {
	// Get returns the record or an apperrors not_found error.
	Get(ctx context.Context, id string) (*models.StagingRecord, error)

	// List returns matching records, most recently updated first.
	List(ctx context.Context, filter models.StagingFilter, page models.Page) ([]*models.StagingRecord, int, error)

	// Summary counts records per (entity kind, status).
	Summary(ctx context.Context) ([]models.StagingSummaryRow, error)

	UpsertOp(rec *models.StagingRecord) storage.BatchOp
}

type stagingRepository struct {
	tables storage.TableStore
}

// NewStagingRepository creates a new StagingRepository.
func NewStagingRepository(tables storage.TableStore) StagingRepository {
	return &stagingRepository{tables: tables}
}

var _ StagingRepository = (*stagingRepository)(nil)

func (r *stagingRepository) Get(ctx context.Context, id string) (*models.StagingRecord, error) {
	row, err := r.tables.Get(ctx, StagingTable, id)
	if err != nil {
		return nil, fmt.Errorf("get staging record %s: %w", id, err)
	}
	return stagingFromRow(row), nil
}

func (r *stagingRepository) List(ctx context.Context, filter models.StagingFilter, page models.Page) ([]*models.StagingRecord, int, error) {
	where := storage.Filter{}
	if filter.Status != "" {
		where = append(where, storage.Eq("status", filter.Status))
	}
	if filter.EntityKind != "" {
		where = append(where, storage.Eq("entity_kind", filter.EntityKind))
	}

	total, err := r.tables.Count(ctx, StagingTable, where)
	if err != nil {
		return nil, 0, fmt.Errorf("count staging records: %w", err)
	}
	page = page.Normalize()
	rows, err := r.tables.Query(ctx, StagingTable, storage.Query{
		Where:   where,
		OrderBy: []storage.Order{{Column: "updated_at", Desc: true}, {Column: "id"}},
		Limit:   page.Limit,
		Offset:  page.Offset(),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list staging records: %w", err)
	}
	out := make([]*models.StagingRecord, len(rows))
	for i, row := range rows {
		out[i] = stagingFromRow(row)
	}
	return out, total, nil
}

func (r *stagingRepository) Summary(ctx context.Context) ([]models.StagingSummaryRow, error) {
	rows, err := r.tables.Aggregate(ctx, StagingTable, nil,
		[]string{"entity_kind", "status"},
		[]storage.Reducer{
			{Func: storage.ReduceCount, As: "n"},
			{Func: storage.ReduceAvg, Column: "confidence", As: "avg_confidence"},
		})
	if err != nil {
		return nil, fmt.Errorf("summarize staging records: %w", err)
	}
	out := make([]models.StagingSummaryRow, len(rows))
	for i, row := range rows {
		out[i] = models.StagingSummaryRow{
			EntityKind: models.EntityKind(row.String("entity_kind")),
			Status:     models.StagingStatus(row.String("status")),
			Count:      row.Int("n"),
			AvgScore:   row.Float("avg_confidence"),
		}
	}
	return out, nil
}

func (r *stagingRepository) UpsertOp(rec *models.StagingRecord) storage.BatchOp {
	return storage.UpsertOp(StagingTable, storage.Row{
		"id":                     rec.ID,
		"raw_name":               rec.RawName,
		"normalized_name":        rec.NormalizedName,
		"entity_kind":            rec.EntityKind,
		"candidate_canonical_id": rec.CandidateCanonicalID,
		"candidate_name":         rec.CandidateName,
		"confidence":             rec.Confidence,
		"match_method":           rec.MatchMethod,
		"status":                 rec.Status,
		"reviewed_by":            rec.ReviewedBy,
		"reviewed_at":            rec.ReviewedAt,
		"created_at":             rec.CreatedAt,
		"updated_at":             rec.UpdatedAt,
	})
}

func stagingFromRow(row storage.Row) *models.StagingRecord {
	return &models.StagingRecord{
		ID:                   row.String("id"),
		RawName:              row.String("raw_name"),
		NormalizedName:       row.String("normalized_name"),
		EntityKind:           models.EntityKind(row.String("entity_kind")),
		CandidateCanonicalID: row.StringPtr("candidate_canonical_id"),
		CandidateName:        row.String("candidate_name"),
		Confidence:           row.Float("confidence"),
		MatchMethod:          models.MatchMethod(row.String("match_method")),
		Status:               models.StagingStatus(row.String("status")),
		ReviewedBy:           row.StringPtr("reviewed_by"),
		ReviewedAt:           row.TimePtr("reviewed_at"),
		CreatedAt:            row.Time("created_at"),
		UpdatedAt:            row.Time("updated_at"),
	}
}
