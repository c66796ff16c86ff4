package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// CourseRepository provides data access for canonical courses.
type CourseRepository interface {
	Get(ctx context.Context, id string) (*models.Course, error)

	// FindByNormalizedName returns the course with the lowest id whose
	// normalized name equals name, or nil if there is none.
	FindByNormalizedName(ctx context.Context, name string) (*models.Course, error)

	List(ctx context.Context, filter models.CourseFilter, page models.Page) ([]*models.Course, int, error)
	IDs(ctx context.Context) ([]string, error)
	Existing(ctx context.Context, ids []string) (map[string]bool, error)

	// UpsertOp writes the catalog fields of c. Rollups are left untouched.
	UpsertOp(c *models.Course) storage.BatchOp
	RollupsOp(id string, r models.CourseRollups) storage.BatchOp
}

type courseRepository struct {
	tables storage.TableStore
}

// NewCourseRepository creates a new CourseRepository.
func NewCourseRepository(tables storage.TableStore) CourseRepository {
	return &courseRepository{tables: tables}
}

var _ CourseRepository = (*courseRepository)(nil)

func (r *courseRepository) Get(ctx context.Context, id string) (*models.Course, error) {
	row, err := r.tables.Get(ctx, CoursesTable, id)
	if err != nil {
		return nil, fmt.Errorf("get course %s: %w", id, err)
	}
	return courseFromRow(row), nil
}

func (r *courseRepository) FindByNormalizedName(ctx context.Context, name string) (*models.Course, error) {
	rows, err := r.tables.Query(ctx, CoursesTable, storage.Query{
		Where: storage.Filter{storage.Eq("normalized_name", name)},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("find course by name: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return courseFromRow(rows[0]), nil
}

func (r *courseRepository) List(ctx context.Context, filter models.CourseFilter, page models.Page) ([]*models.Course, int, error) {
	where := storage.Filter{}
	if filter.Stream != "" {
		where = append(where, storage.Eq("stream", filter.Stream))
	}
	if filter.Branch != "" {
		where = append(where, storage.Eq("branch", filter.Branch))
	}
	if filter.DegreeType != "" {
		where = append(where, storage.Eq("degree_type", filter.DegreeType))
	}
	if filter.NameContains != "" {
		where = append(where, storage.Contains("name", filter.NameContains))
	}

	total, err := r.tables.Count(ctx, CoursesTable, where)
	if err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	page = page.Normalize()
	rows, err := r.tables.Query(ctx, CoursesTable, storage.Query{
		Where:   where,
		OrderBy: []storage.Order{{Column: "name"}, {Column: "id"}},
		Limit:   page.Limit,
		Offset:  page.Offset(),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}
	out := make([]*models.Course, len(rows))
	for i, row := range rows {
		out[i] = courseFromRow(row)
	}
	return out, total, nil
}

func (r *courseRepository) IDs(ctx context.Context) ([]string, error) {
	return allIDs(ctx, r.tables, CoursesTable)
}

func (r *courseRepository) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	return existing(ctx, r.tables, CoursesTable, ids)
}

func (r *courseRepository) UpsertOp(c *models.Course) storage.BatchOp {
	return storage.UpsertOp(CoursesTable, storage.Row{
		"id":              c.ID,
		"name":            c.Name,
		"normalized_name": c.NormalizedName,
		"stream":          c.Stream,
		"branch":          c.Branch,
		"degree_type":     c.DegreeType,
		"duration_years":  c.DurationYears,
	})
}

func (r *courseRepository) RollupsOp(id string, ru models.CourseRollups) storage.BatchOp {
	return storage.UpdateOp(CoursesTable, storage.Row{
		"total_colleges":   ru.TotalColleges,
		"years_offered":    ru.YearsOffered,
		"avg_opening_rank": ru.AvgOpeningRank,
		"avg_closing_rank": ru.AvgClosingRank,
		"best_rank":        ru.BestRank,
		"worst_rank":       ru.WorstRank,
	}, storage.Filter{storage.Eq("id", id)})
}

func courseFromRow(row storage.Row) *models.Course {
	return &models.Course{
		ID:             row.String("id"),
		Name:           row.String("name"),
		NormalizedName: row.String("normalized_name"),
		Stream:         row.String("stream"),
		Branch:         row.String("branch"),
		DegreeType:     row.String("degree_type"),
		DurationYears:  row.Int("duration_years"),
		Rollups: models.CourseRollups{
			TotalColleges:  row.Int("total_colleges"),
			YearsOffered:   row.Int("years_offered"),
			AvgOpeningRank: row.FloatPtr("avg_opening_rank"),
			AvgClosingRank: row.FloatPtr("avg_closing_rank"),
			BestRank:       row.IntPtr("best_rank"),
			WorstRank:      row.IntPtr("worst_rank"),
		},
	}
}
