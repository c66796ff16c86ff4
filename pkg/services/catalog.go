package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/classifier"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/config"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/matching"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/pipeline"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/repositories"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// Vector document metadata keys.
const (
	metaKind           = "kind"
	metaCanonicalID    = "canonical_id"
	metaName           = "name"
	metaNormalizedName = "normalized_name"
	metaStream         = "stream"
)

// CatalogService reads and maintains the canonical colleges and courses.
type CatalogService interface {
	// GetCollege returns the college detail projection, served from the blob
	// cache when present and recomputed from the tables otherwise.
	GetCollege(ctx context.Context, id string) (*models.CollegeDetail, error)
	GetCourse(ctx context.Context, id string) (*models.CourseDetail, error)

	ListColleges(ctx context.Context, filter models.CollegeFilter, page models.Page) ([]*models.College, int, error)
	ListCourses(ctx context.Context, filter models.CourseFilter, page models.Page) ([]*models.Course, int, error)

	// UpsertCollege creates or updates a college's catalog fields. Admin only.
	UpsertCollege(ctx context.Context, caller models.Caller, c *models.College) (*models.College, error)

	// UpsertCourse creates or updates a course's catalog fields. Empty
	// stream, branch and degree type are filled by the classifier. Admin only.
	UpsertCourse(ctx context.Context, caller models.Caller, c *models.Course) (*models.Course, error)

	// Reindex loads every canonical entity into the vector index.
	Reindex(ctx context.Context) (int, error)
}

type catalogService struct {
	pc         *pipeline.Context
	colleges   repositories.CollegeRepository
	courses    repositories.CourseRepository
	cutoffs    repositories.CutoffRepository
	normalizer *matching.Normalizer
	classifier *classifier.Classifier
	validate   *validator.Validate
	cache      *detailCache
	logger     *zap.Logger
}

// NewCatalogService creates a CatalogService.
func NewCatalogService(pc *pipeline.Context, cfg config.WarehouseConfig, normalizer *matching.Normalizer) CatalogService {
	return &catalogService{
		pc:         pc,
		colleges:   repositories.NewCollegeRepository(pc.Tables),
		courses:    repositories.NewCourseRepository(pc.Tables),
		cutoffs:    repositories.NewCutoffRepository(pc.Tables),
		normalizer: normalizer,
		classifier: classifier.Default(),
		validate:   newValidator(),
		cache:      newDetailCache(pc, cfg.CacheTTL),
		logger:     pc.Logger.Named("catalog"),
	}
}

var _ CatalogService = (*catalogService)(nil)

func (s *catalogService) GetCollege(ctx context.Context, id string) (*models.CollegeDetail, error) {
	var detail models.CollegeDetail
	if s.cache.get(ctx, collegeCacheKey(id), &detail) {
		return &detail, nil
	}

	college, err := s.colleges.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cutoffs, err := s.cutoffs.ListApproved(ctx, models.RebuildScope{CollegeID: id})
	if err != nil {
		return nil, err
	}

	courseIDs := distinctRefs(cutoffs, func(c *models.Cutoff) *string { return c.CourseID })
	courses := make([]models.CourseSummary, 0, len(courseIDs))
	for _, cid := range courseIDs {
		course, err := s.courses.Get(ctx, cid)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		courses = append(courses, models.CourseSummary{ID: course.ID, Name: course.Name, Stream: course.Stream})
	}

	detail = models.CollegeDetail{College: *college, Courses: courses, Cutoffs: derefCutoffs(cutoffs)}
	s.cache.put(ctx, collegeCacheKey(id), detail)
	return &detail, nil
}

func (s *catalogService) GetCourse(ctx context.Context, id string) (*models.CourseDetail, error) {
	var detail models.CourseDetail
	if s.cache.get(ctx, courseCacheKey(id), &detail) {
		return &detail, nil
	}

	course, err := s.courses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cutoffs, err := s.cutoffs.ListApproved(ctx, models.RebuildScope{CourseID: id})
	if err != nil {
		return nil, err
	}

	collegeIDs := distinctRefs(cutoffs, func(c *models.Cutoff) *string { return c.CollegeID })
	colleges := make([]models.CollegeSummary, 0, len(collegeIDs))
	for _, cid := range collegeIDs {
		college, err := s.colleges.Get(ctx, cid)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		colleges = append(colleges, models.CollegeSummary{ID: college.ID, Name: college.Name, State: college.State})
	}

	detail = models.CourseDetail{Course: *course, Colleges: colleges, Cutoffs: derefCutoffs(cutoffs)}
	s.cache.put(ctx, courseCacheKey(id), detail)
	return &detail, nil
}

func (s *catalogService) ListColleges(ctx context.Context, filter models.CollegeFilter, page models.Page) ([]*models.College, int, error) {
	return s.colleges.List(ctx, filter, page)
}

func (s *catalogService) ListCourses(ctx context.Context, filter models.CourseFilter, page models.Page) ([]*models.Course, int, error) {
	return s.courses.List(ctx, filter, page)
}

func (s *catalogService) UpsertCollege(ctx context.Context, caller models.Caller, c *models.College) (*models.College, error) {
	if !caller.HasRole(models.RoleAdmin) {
		return nil, apperrors.Forbiddenf("only admins can edit the catalog")
	}
	c.Name = strings.TrimSpace(c.Name)
	if err := s.validateStruct(c); err != nil {
		return nil, err
	}
	c.NormalizedName = s.normalizer.Normalize(c.Name)

	before, err := s.colleges.Get(ctx, c.ID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	action, beforeSnap := models.AuditActionCreate, any(nil)
	if before != nil {
		action, beforeSnap = models.AuditActionUpdate, before
		c.Rollups = before.Rollups
	} else {
		c.Rollups = models.CollegeRollups{}
	}

	entry := s.pc.Audit.Entry(caller.UID, action, models.AuditResourceCollege, c.ID, beforeSnap, c)
	ops := append([]storage.BatchOp{s.colleges.UpsertOp(c)}, s.pc.Audit.Ops(entry)...)
	if err := s.pc.Tables.Batch(ctx, ops); err != nil {
		return nil, fmt.Errorf("upsert college: %w", err)
	}
	s.pc.Audit.Committed(entry)

	if err := s.pc.Vectors.Upsert(ctx, vectorDocID(models.EntityKindCollege, c.ID), collegeDocument(c)); err != nil {
		return nil, fmt.Errorf("index college: %w", err)
	}
	s.cache.invalidate(ctx, collegeCacheKey(c.ID))
	s.logger.Info("Upserted college", zap.String("college_id", c.ID), zap.String("action", action))
	return c, nil
}

func (s *catalogService) UpsertCourse(ctx context.Context, caller models.Caller, c *models.Course) (*models.Course, error) {
	if !caller.HasRole(models.RoleAdmin) {
		return nil, apperrors.Forbiddenf("only admins can edit the catalog")
	}
	c.Name = strings.TrimSpace(c.Name)
	if err := s.validateStruct(c); err != nil {
		return nil, err
	}
	c.NormalizedName = s.normalizer.Normalize(c.Name)

	cls := s.classifier.Classify(c.Name)
	if c.Stream == "" {
		c.Stream = cls.Stream
	}
	if c.Branch == "" {
		c.Branch = cls.Branch
	}
	if c.DegreeType == "" {
		c.DegreeType = cls.DegreeType
	}

	before, err := s.courses.Get(ctx, c.ID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	action, beforeSnap := models.AuditActionCreate, any(nil)
	if before != nil {
		action, beforeSnap = models.AuditActionUpdate, before
		c.Rollups = before.Rollups
	} else {
		c.Rollups = models.CourseRollups{}
	}

	entry := s.pc.Audit.Entry(caller.UID, action, models.AuditResourceCourse, c.ID, beforeSnap, c)
	ops := append([]storage.BatchOp{s.courses.UpsertOp(c)}, s.pc.Audit.Ops(entry)...)
	if err := s.pc.Tables.Batch(ctx, ops); err != nil {
		return nil, fmt.Errorf("upsert course: %w", err)
	}
	s.pc.Audit.Committed(entry)

	if err := s.pc.Vectors.Upsert(ctx, vectorDocID(models.EntityKindCourse, c.ID), courseDocument(c)); err != nil {
		return nil, fmt.Errorf("index course: %w", err)
	}
	s.cache.invalidate(ctx, courseCacheKey(c.ID))
	s.logger.Info("Upserted course", zap.String("course_id", c.ID), zap.String("action", action))
	return c, nil
}

func (s *catalogService) Reindex(ctx context.Context) (int, error) {
	n := 0
	for page := 1; ; page++ {
		colleges, _, err := s.colleges.List(ctx, models.CollegeFilter{}, models.Page{Page: page, Limit: models.MaxPageLimit})
		if err != nil {
			return n, err
		}
		for _, c := range colleges {
			if err := s.pc.Vectors.Upsert(ctx, vectorDocID(models.EntityKindCollege, c.ID), collegeDocument(c)); err != nil {
				return n, fmt.Errorf("index college %s: %w", c.ID, err)
			}
			n++
		}
		if len(colleges) < models.MaxPageLimit {
			break
		}
	}
	for page := 1; ; page++ {
		courses, _, err := s.courses.List(ctx, models.CourseFilter{}, models.Page{Page: page, Limit: models.MaxPageLimit})
		if err != nil {
			return n, err
		}
		for _, c := range courses {
			if err := s.pc.Vectors.Upsert(ctx, vectorDocID(models.EntityKindCourse, c.ID), courseDocument(c)); err != nil {
				return n, fmt.Errorf("index course %s: %w", c.ID, err)
			}
			n++
		}
		if len(courses) < models.MaxPageLimit {
			break
		}
	}
	s.logger.Info("Reindexed catalog", zap.Int("documents", n))
	return n, nil
}

func (s *catalogService) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return apperrors.ValidationWithDetails("invalid catalog entry", fieldErrors(verrs))
		}
		return apperrors.Validationf("invalid catalog entry: %v", err)
	}
	return nil
}

func vectorDocID(kind models.EntityKind, id string) string {
	return string(kind) + ":" + id
}

func collegeDocument(c *models.College) storage.Document {
	return storage.Document{
		Text: c.NormalizedName,
		Metadata: map[string]string{
			metaKind:           string(models.EntityKindCollege),
			metaCanonicalID:    c.ID,
			metaName:           c.Name,
			metaNormalizedName: c.NormalizedName,
		},
	}
}

func courseDocument(c *models.Course) storage.Document {
	return storage.Document{
		Text: c.NormalizedName,
		Metadata: map[string]string{
			metaKind:           string(models.EntityKindCourse),
			metaCanonicalID:    c.ID,
			metaName:           c.Name,
			metaNormalizedName: c.NormalizedName,
			metaStream:         c.Stream,
		},
	}
}

func collegeCacheKey(id string) string { return "college:" + id }

func courseCacheKey(id string) string { return "course:" + id }

// distinctRefs returns the sorted distinct non-null references picked from cutoffs.
func distinctRefs(cutoffs []*models.Cutoff, pick func(*models.Cutoff) *string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range cutoffs {
		if ref := pick(c); ref != nil && !seen[*ref] {
			seen[*ref] = true
			out = append(out, *ref)
		}
	}
	slices.Sort(out)
	return out
}

func derefCutoffs(in []*models.Cutoff) []models.Cutoff {
	out := make([]models.Cutoff, len(in))
	for i, c := range in {
		out[i] = *c
	}
	return out
}
