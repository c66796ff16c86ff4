package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// CollegeRepository provides data access for canonical colleges.
type CollegeRepository interface {
	Get(ctx context.Context, id string) (*models.College, error)

	// FindByNormalizedName returns the college with the lowest id whose
	// normalized name equals name, or nil if there is none.
	FindByNormalizedName(ctx context.Context, name string) (*models.College, error)

	List(ctx context.Context, filter models.CollegeFilter, page models.Page) ([]*models.College, int, error)

	// IDs returns every college id in ascending order.
	IDs(ctx context.Context) ([]string, error)

	// Existing reports which of ids refer to stored colleges.
	Existing(ctx context.Context, ids []string) (map[string]bool, error)

	// UpsertOp writes the catalog fields of c. Rollups are left untouched.
	UpsertOp(c *models.College) storage.BatchOp

	// RollupsOp replaces the rollup fields of college id.
	RollupsOp(id string, r models.CollegeRollups) storage.BatchOp
}

type collegeRepository struct {
	tables storage.TableStore
}

// NewCollegeRepository creates a new CollegeRepository.
func NewCollegeRepository(tables storage.TableStore) CollegeRepository {
	return &collegeRepository{tables: tables}
}

var _ CollegeRepository = (*collegeRepository)(nil)

func (r *collegeRepository) Get(ctx context.Context, id string) (*models.College, error) {
	row, err := r.tables.Get(ctx, CollegesTable, id)
	if err != nil {
		return nil, fmt.Errorf("get college %s: %w", id, err)
	}
	return collegeFromRow(row), nil
}

func (r *collegeRepository) FindByNormalizedName(ctx context.Context, name string) (*models.College, error) {
	rows, err := r.tables.Query(ctx, CollegesTable, storage.Query{
		Where: storage.Filter{storage.Eq("normalized_name", name)},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("find college by name: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return collegeFromRow(rows[0]), nil
}

func (r *collegeRepository) List(ctx context.Context, filter models.CollegeFilter, page models.Page) ([]*models.College, int, error) {
	where := storage.Filter{}
	if filter.State != "" {
		where = append(where, storage.Eq("state", filter.State))
	}
	if filter.City != "" {
		where = append(where, storage.Eq("city", filter.City))
	}
	if filter.Type != "" {
		where = append(where, storage.Eq("type", filter.Type))
	}
	if filter.ManagementType != "" {
		where = append(where, storage.Eq("management_type", filter.ManagementType))
	}
	if filter.NameContains != "" {
		where = append(where, storage.Contains("name", filter.NameContains))
	}

	total, err := r.tables.Count(ctx, CollegesTable, where)
	if err != nil {
		return nil, 0, fmt.Errorf("count colleges: %w", err)
	}
	page = page.Normalize()
	rows, err := r.tables.Query(ctx, CollegesTable, storage.Query{
		Where:   where,
		OrderBy: []storage.Order{{Column: "name"}, {Column: "id"}},
		Limit:   page.Limit,
		Offset:  page.Offset(),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list colleges: %w", err)
	}
	out := make([]*models.College, len(rows))
	for i, row := range rows {
		out[i] = collegeFromRow(row)
	}
	return out, total, nil
}

func (r *collegeRepository) IDs(ctx context.Context) ([]string, error) {
	return allIDs(ctx, r.tables, CollegesTable)
}

func (r *collegeRepository) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	return existing(ctx, r.tables, CollegesTable, ids)
}

func (r *collegeRepository) UpsertOp(c *models.College) storage.BatchOp {
	return storage.UpsertOp(CollegesTable, storage.Row{
		"id":               c.ID,
		"name":             c.Name,
		"normalized_name":  c.NormalizedName,
		"city":             c.City,
		"state":            c.State,
		"type":             c.Type,
		"management_type":  c.ManagementType,
		"established_year": c.EstablishedYear,
	})
}

func (r *collegeRepository) RollupsOp(id string, ru models.CollegeRollups) storage.BatchOp {
	return storage.UpdateOp(CollegesTable, storage.Row{
		"total_courses":   ru.TotalCourses,
		"total_seats":     ru.TotalSeats,
		"best_rank":       ru.BestRank,
		"worst_rank":      ru.WorstRank,
		"avg_cutoff_rank": ru.AvgCutoffRank,
		"years_active":    ru.YearsActive,
	}, storage.Filter{storage.Eq("id", id)})
}

func collegeFromRow(row storage.Row) *models.College {
	return &models.College{
		ID:              row.String("id"),
		Name:            row.String("name"),
		NormalizedName:  row.String("normalized_name"),
		City:            row.String("city"),
		State:           row.String("state"),
		Type:            row.String("type"),
		ManagementType:  row.String("management_type"),
		EstablishedYear: row.IntPtr("established_year"),
		Rollups: models.CollegeRollups{
			TotalCourses:  row.Int("total_courses"),
			TotalSeats:    row.Int("total_seats"),
			BestRank:      row.IntPtr("best_rank"),
			WorstRank:     row.IntPtr("worst_rank"),
			AvgCutoffRank: row.FloatPtr("avg_cutoff_rank"),
			YearsActive:   row.Int("years_active"),
		},
	}
}

// allIDs returns every primary key of t in ascending order.
func allIDs(ctx context.Context, tables storage.TableStore, t *storage.Table) ([]string, error) {
	rows, err := tables.Query(ctx, t, storage.Query{OrderBy: []storage.Order{{Column: "id"}}})
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", t.Name, err)
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.String("id")
	}
	return ids, nil
}

// existing looks up ids by primary key in chunks.
func existing(ctx context.Context, tables storage.TableStore, t *storage.Table, ids []string) (map[string]bool, error) {
	const chunk = 500
	out := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		vals := make([]any, 0, end-start)
		for _, id := range ids[start:end] {
			vals = append(vals, id)
		}
		rows, err := tables.Query(ctx, t, storage.Query{Where: storage.Filter{storage.In("id", vals...)}})
		if err != nil {
			return nil, fmt.Errorf("lookup %s ids: %w", t.Name, err)
		}
		for _, row := range rows {
			out[row.String("id")] = true
		}
	}
	return out, nil
}
