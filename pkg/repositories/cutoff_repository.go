package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// CutoffRepository provides data access for cutoff fact rows.
type CutoffRepository interface {
	Get(ctx context.Context, id string) (*models.Cutoff, error)

	// GetMany returns the stored cutoffs among ids, keyed by id.
	GetMany(ctx context.Context, ids []string) (map[string]*models.Cutoff, error)

	// ListApproved returns approved cutoffs in scope, ordered by id.
	ListApproved(ctx context.Context, scope models.RebuildScope) ([]*models.Cutoff, error)

	UpsertOp(c *models.Cutoff) storage.BatchOp

	// LinkOps sets the canonical id on every cutoff whose normalized name of
	// the given kind matches, then approves the rows that now carry both ids.
	LinkOps(kind models.EntityKind, normalizedName, canonicalID string) []storage.BatchOp
}

type cutoffRepository struct {
	tables storage.TableStore
}

// NewCutoffRepository creates a new CutoffRepository.
func NewCutoffRepository(tables storage.TableStore) CutoffRepository {
	return &cutoffRepository{tables: tables}
}

var _ CutoffRepository = (*cutoffRepository)(nil)

func (r *cutoffRepository) Get(ctx context.Context, id string) (*models.Cutoff, error) {
	row, err := r.tables.Get(ctx, CutoffsTable, id)
	if err != nil {
		return nil, fmt.Errorf("get cutoff %s: %w", id, err)
	}
	return cutoffFromRow(row), nil
}

func (r *cutoffRepository) GetMany(ctx context.Context, ids []string) (map[string]*models.Cutoff, error) {
	out := make(map[string]*models.Cutoff, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	rows, err := r.tables.Query(ctx, CutoffsTable, storage.Query{Where: storage.Filter{storage.In("id", vals...)}})
	if err != nil {
		return nil, fmt.Errorf("get cutoffs: %w", err)
	}
	for _, row := range rows {
		c := cutoffFromRow(row)
		out[c.ID] = c
	}
	return out, nil
}

func (r *cutoffRepository) ListApproved(ctx context.Context, scope models.RebuildScope) ([]*models.Cutoff, error) {
	where := storage.Filter{storage.Eq("reconciliation_status", models.CutoffStatusApproved)}
	if scope.CollegeID != "" {
		where = append(where, storage.Eq("college_id", scope.CollegeID))
	}
	if scope.CourseID != "" {
		where = append(where, storage.Eq("course_id", scope.CourseID))
	}
	rows, err := r.tables.Query(ctx, CutoffsTable, storage.Query{
		Where:   where,
		OrderBy: []storage.Order{{Column: "id"}},
	})
	if err != nil {
		return nil, fmt.Errorf("list approved cutoffs: %w", err)
	}
	out := make([]*models.Cutoff, len(rows))
	for i, row := range rows {
		out[i] = cutoffFromRow(row)
	}
	return out, nil
}

func (r *cutoffRepository) UpsertOp(c *models.Cutoff) storage.BatchOp {
	return storage.UpsertOp(CutoffsTable, storage.Row{
		"id":                      c.ID,
		"college_id":              c.CollegeID,
		"course_id":               c.CourseID,
		"raw_college_name":        c.RawCollegeName,
		"raw_course_name":         c.RawCourseName,
		"normalized_college_name": c.NormalizedCollege,
		"normalized_course_name":  c.NormalizedCourse,
		"year":                    c.Year,
		"round":                   c.Round,
		"category":                c.Category,
		"quota":                   c.Quota,
		"opening_rank":            c.OpeningRank,
		"closing_rank":            c.ClosingRank,
		"source_file":             c.SourceFile,
		"reconciliation_status":   c.ReconciliationStatus,
	})
}

func (r *cutoffRepository) LinkOps(kind models.EntityKind, normalizedName, canonicalID string) []storage.BatchOp {
	idCol, nameCol := "college_id", "normalized_college_name"
	if kind == models.EntityKindCourse {
		idCol, nameCol = "course_id", "normalized_course_name"
	}
	return []storage.BatchOp{
		storage.UpdateOp(CutoffsTable,
			storage.Row{idCol: canonicalID},
			storage.Filter{storage.Eq(nameCol, normalizedName)}),
		storage.UpdateOp(CutoffsTable,
			storage.Row{"reconciliation_status": models.CutoffStatusApproved},
			storage.Filter{
				storage.Eq(nameCol, normalizedName),
				storage.NotNull("college_id"),
				storage.NotNull("course_id"),
			}),
	}
}

func cutoffFromRow(row storage.Row) *models.Cutoff {
	return &models.Cutoff{
		ID:                   row.String("id"),
		CollegeID:            row.StringPtr("college_id"),
		CourseID:             row.StringPtr("course_id"),
		RawCollegeName:       row.String("raw_college_name"),
		RawCourseName:        row.String("raw_course_name"),
		NormalizedCollege:    row.String("normalized_college_name"),
		NormalizedCourse:     row.String("normalized_course_name"),
		Year:                 row.IntPtr("year"),
		Round:                row.Int("round"),
		Category:             row.String("category"),
		Quota:                row.String("quota"),
		OpeningRank:          row.IntPtr("opening_rank"),
		ClosingRank:          row.IntPtr("closing_rank"),
		SourceFile:           row.String("source_file"),
		ReconciliationStatus: row.String("reconciliation_status"),
	}
}
