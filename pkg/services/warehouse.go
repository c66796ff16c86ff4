package services

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	gocmp "github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/config"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/pipeline"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/repositories"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// Metric names emitted by the warehouse builder.
const (
	MetricRollupsRebuilt       = "rollups_rebuilt_total"
	MetricRollupsFailed        = "rollups_failed_total"
	MetricConsistencyViolation = "consistency_violation_total"
	MetricRollupsOverridden    = "rollups_overridden_total"
)

// WarehouseService owns the rollup fields of colleges and courses.
type WarehouseService interface {
	// RebuildRollups recomputes rollups in scope from approved cutoffs. In the
	// all scope every entity is rebuilt independently and failures are
	// reported in the stats; a single-entity scope returns its failure.
	RebuildRollups(ctx context.Context, caller models.Caller, scope models.RebuildScope) (*models.RebuildStats, error)

	// OverrideCollegeRollups replaces a college's rollups by hand. Admin only.
	// The next rebuild recomputes them.
	OverrideCollegeRollups(ctx context.Context, caller models.Caller, id string, r models.CollegeRollups) (*models.College, error)
	OverrideCourseRollups(ctx context.Context, caller models.Caller, id string, r models.CourseRollups) (*models.Course, error)
}

type warehouseService struct {
	pc       *pipeline.Context
	colleges repositories.CollegeRepository
	courses  repositories.CourseRepository
	cutoffs  repositories.CutoffRepository
	cache    *detailCache
	workers  int
	logger   *zap.Logger
}

// NewWarehouseService creates a WarehouseService.
func NewWarehouseService(pc *pipeline.Context, cfg config.WarehouseConfig) WarehouseService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &warehouseService{
		pc:       pc,
		colleges: repositories.NewCollegeRepository(pc.Tables),
		courses:  repositories.NewCourseRepository(pc.Tables),
		cutoffs:  repositories.NewCutoffRepository(pc.Tables),
		cache:    newDetailCache(pc, cfg.CacheTTL),
		workers:  workers,
		logger:   pc.Logger.Named("warehouse"),
	}
}

var _ WarehouseService = (*warehouseService)(nil)

// rebuildJob is one entity's rebuild over its approved cutoffs.
type rebuildJob struct {
	kind    models.EntityKind
	id      string
	cutoffs []*models.Cutoff
}

func (s *warehouseService) RebuildRollups(ctx context.Context, caller models.Caller, scope models.RebuildScope) (*models.RebuildStats, error) {
	if !caller.CanMutate() {
		return nil, apperrors.Forbiddenf("role %q cannot rebuild rollups", caller.Role)
	}
	if scope.CollegeID != "" && scope.CourseID != "" {
		return nil, apperrors.Validationf("rebuild scope takes a college or a course, not both")
	}

	cutoffs, err := s.cutoffs.ListApproved(ctx, scope)
	if err != nil {
		return nil, err
	}
	byCollege := groupBy(cutoffs, func(c *models.Cutoff) *string { return c.CollegeID })
	byCourse := groupBy(cutoffs, func(c *models.Cutoff) *string { return c.CourseID })

	var collegeIDs, courseIDs []string
	switch {
	case scope.CollegeID != "":
		collegeIDs = []string{scope.CollegeID}
	case scope.CourseID != "":
		courseIDs = []string{scope.CourseID}
	default:
		if collegeIDs, err = s.colleges.IDs(ctx); err != nil {
			return nil, err
		}
		if courseIDs, err = s.courses.IDs(ctx); err != nil {
			return nil, err
		}
	}

	stats := &models.RebuildStats{CutoffsConsidered: len(cutoffs)}
	var (
		mu       sync.Mutex
		firstErr error
	)
	fail := func(kind models.EntityKind, id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		stats.Failures = append(stats.Failures, models.EntityFailure{
			EntityKind: kind,
			EntityID:   id,
			Kind:       string(apperrors.KindOf(err)),
			Message:    apperrors.MessageOf(err),
		})
		if firstErr == nil {
			firstErr = err
		}
	}

	// Approved cutoffs pointing at entities that are not in the catalog can
	// only be reported; there is no row to write.
	if scope.All() {
		known := make(map[string]bool, len(collegeIDs))
		for _, id := range collegeIDs {
			known[id] = true
		}
		for id := range byCollege {
			if !known[id] {
				s.violation(ctx, models.EntityKindCollege, id)
				fail(models.EntityKindCollege, id, apperrors.ConsistencyViolationf("approved cutoffs reference missing college %s", id))
			}
		}
		known = make(map[string]bool, len(courseIDs))
		for _, id := range courseIDs {
			known[id] = true
		}
		for id := range byCourse {
			if !known[id] {
				s.violation(ctx, models.EntityKindCourse, id)
				fail(models.EntityKindCourse, id, apperrors.ConsistencyViolationf("approved cutoffs reference missing course %s", id))
			}
		}
	}

	jobs := make([]rebuildJob, 0, len(collegeIDs)+len(courseIDs))
	for _, id := range collegeIDs {
		jobs = append(jobs, rebuildJob{kind: models.EntityKindCollege, id: id, cutoffs: byCollege[id]})
	}
	for _, id := range courseIDs {
		jobs = append(jobs, rebuildJob{kind: models.EntityKindCourse, id: id, cutoffs: byCourse[id]})
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, job := range jobs {
		g.Go(func() error {
			if err := s.rebuildEntity(ctx, caller, job); err != nil {
				s.pc.Metrics.Emit(ctx, MetricRollupsFailed, 1, map[string]string{"kind": string(job.kind)})
				s.logger.Warn("Rollup rebuild failed",
					zap.String("entity_kind", string(job.kind)),
					zap.String("entity_id", job.id),
					zap.Error(err))
				fail(job.kind, job.id, err)
				return nil
			}
			mu.Lock()
			if job.kind == models.EntityKindCollege {
				stats.CollegesRebuilt++
			} else {
				stats.CoursesRebuilt++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(stats.Failures, func(a, b models.EntityFailure) int {
		if a.EntityKind != b.EntityKind {
			return cmp.Compare(string(a.EntityKind), string(b.EntityKind))
		}
		return cmp.Compare(a.EntityID, b.EntityID)
	})

	s.logger.Info("Rebuilt rollups",
		zap.Int("colleges", stats.CollegesRebuilt),
		zap.Int("courses", stats.CoursesRebuilt),
		zap.Int("cutoffs", stats.CutoffsConsidered),
		zap.Int("failures", len(stats.Failures)))

	if !scope.All() && firstErr != nil {
		return stats, firstErr
	}
	return stats, nil
}

// rebuildEntity recomputes one entity's rollups and writes them with their
// audit entry in a single batch. Unchanged rollups are not rewritten. Once the
// batch commits the entity counts as rebuilt even if its cache entry lingers.
func (s *warehouseService) rebuildEntity(ctx context.Context, caller models.Caller, job rebuildJob) error {
	var (
		refs     []string
		existing func(context.Context, []string) (map[string]bool, error)
		refKind  models.EntityKind
	)
	if job.kind == models.EntityKindCollege {
		refs = distinctRefs(job.cutoffs, func(c *models.Cutoff) *string { return c.CourseID })
		existing, refKind = s.courses.Existing, models.EntityKindCourse
	} else {
		refs = distinctRefs(job.cutoffs, func(c *models.Cutoff) *string { return c.CollegeID })
		existing, refKind = s.colleges.Existing, models.EntityKindCollege
	}
	found, err := existing(ctx, refs)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if !found[ref] {
			s.violation(ctx, job.kind, job.id)
			return apperrors.ConsistencyViolationf("%s %s has approved cutoffs referencing missing %s %s", job.kind, job.id, refKind, ref)
		}
	}

	var (
		before, after any
		op            storage.BatchOp
		resource      string
	)
	if job.kind == models.EntityKindCollege {
		college, err := s.colleges.Get(ctx, job.id)
		if err != nil {
			return err
		}
		r := CollegeRollupsOf(job.cutoffs)
		if gocmp.Equal(college.Rollups, r) {
			s.cache.invalidate(ctx, collegeCacheKey(job.id))
			return nil
		}
		before, after, resource = college.Rollups, r, models.AuditResourceCollege
		op = s.colleges.RollupsOp(job.id, r)
	} else {
		course, err := s.courses.Get(ctx, job.id)
		if err != nil {
			return err
		}
		r := CourseRollupsOf(job.cutoffs)
		if gocmp.Equal(course.Rollups, r) {
			s.cache.invalidate(ctx, courseCacheKey(job.id))
			return nil
		}
		before, after, resource = course.Rollups, r, models.AuditResourceCourse
		op = s.courses.RollupsOp(job.id, r)
	}

	entry := s.pc.Audit.Entry(caller.UID, models.AuditActionUpdate, resource, job.id, before, after)
	ops := append([]storage.BatchOp{op}, s.pc.Audit.Ops(entry)...)
	if err := s.pc.Tables.Batch(ctx, ops); err != nil {
		return fmt.Errorf("write %s rollups: %w", job.kind, err)
	}
	s.pc.Audit.Committed(entry)
	s.pc.Metrics.Emit(ctx, MetricRollupsRebuilt, 1, map[string]string{"kind": string(job.kind)})

	key := collegeCacheKey(job.id)
	if job.kind == models.EntityKindCourse {
		key = courseCacheKey(job.id)
	}
	s.cache.invalidate(ctx, key)
	return nil
}

func (s *warehouseService) violation(ctx context.Context, kind models.EntityKind, id string) {
	s.pc.Metrics.Emit(ctx, MetricConsistencyViolation, 1, map[string]string{"kind": string(kind)})
	s.logger.Error("Consistency violation", zap.String("entity_kind", string(kind)), zap.String("entity_id", id))
}

func (s *warehouseService) OverrideCollegeRollups(ctx context.Context, caller models.Caller, id string, r models.CollegeRollups) (*models.College, error) {
	if !caller.HasRole(models.RoleAdmin) {
		return nil, apperrors.Forbiddenf("only admins can override rollups")
	}
	if r.TotalCourses < 0 || r.TotalSeats < 0 || r.YearsActive < 0 {
		return nil, apperrors.Validationf("rollup counts must not be negative")
	}
	college, err := s.colleges.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	entry := s.pc.Audit.Entry(caller.UID, models.AuditActionUpdate, models.AuditResourceCollege, id, college.Rollups, r)
	ops := append([]storage.BatchOp{s.colleges.RollupsOp(id, r)}, s.pc.Audit.Ops(entry)...)
	if err := s.pc.Tables.Batch(ctx, ops); err != nil {
		return nil, fmt.Errorf("override college rollups: %w", err)
	}
	s.pc.Audit.Committed(entry)
	s.pc.Metrics.Emit(ctx, MetricRollupsOverridden, 1, map[string]string{"kind": string(models.EntityKindCollege)})
	s.cache.invalidate(ctx, collegeCacheKey(id))

	college.Rollups = r
	return college, nil
}

func (s *warehouseService) OverrideCourseRollups(ctx context.Context, caller models.Caller, id string, r models.CourseRollups) (*models.Course, error) {
	if !caller.HasRole(models.RoleAdmin) {
		return nil, apperrors.Forbiddenf("only admins can override rollups")
	}
	if r.TotalColleges < 0 || r.YearsOffered < 0 {
		return nil, apperrors.Validationf("rollup counts must not be negative")
	}
	course, err := s.courses.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	entry := s.pc.Audit.Entry(caller.UID, models.AuditActionUpdate, models.AuditResourceCourse, id, course.Rollups, r)
	ops := append([]storage.BatchOp{s.courses.RollupsOp(id, r)}, s.pc.Audit.Ops(entry)...)
	if err := s.pc.Tables.Batch(ctx, ops); err != nil {
		return nil, fmt.Errorf("override course rollups: %w", err)
	}
	s.pc.Audit.Committed(entry)
	s.pc.Metrics.Emit(ctx, MetricRollupsOverridden, 1, map[string]string{"kind": string(models.EntityKindCourse)})
	s.cache.invalidate(ctx, courseCacheKey(id))

	course.Rollups = r
	return course, nil
}

// CollegeRollupsOf derives college rollups from its approved cutoffs.
func CollegeRollupsOf(cutoffs []*models.Cutoff) models.CollegeRollups {
	ranks := openingRanks(cutoffs)
	return models.CollegeRollups{
		TotalCourses:  len(distinctRefs(cutoffs, func(c *models.Cutoff) *string { return c.CourseID })),
		TotalSeats:    len(cutoffs),
		BestRank:      minInt(ranks),
		WorstRank:     maxInt(ranks),
		AvgCutoffRank: avgInt(ranks),
		YearsActive:   distinctYears(cutoffs),
	}
}

// CourseRollupsOf derives course rollups from its approved cutoffs.
func CourseRollupsOf(cutoffs []*models.Cutoff) models.CourseRollups {
	opening := openingRanks(cutoffs)
	var closing []int
	for _, c := range cutoffs {
		if c.ClosingRank != nil {
			closing = append(closing, *c.ClosingRank)
		}
	}
	return models.CourseRollups{
		TotalColleges:  len(distinctRefs(cutoffs, func(c *models.Cutoff) *string { return c.CollegeID })),
		YearsOffered:   distinctYears(cutoffs),
		AvgOpeningRank: avgInt(opening),
		AvgClosingRank: avgInt(closing),
		BestRank:       minInt(opening),
		WorstRank:      maxInt(opening),
	}
}

func groupBy(cutoffs []*models.Cutoff, key func(*models.Cutoff) *string) map[string][]*models.Cutoff {
	out := make(map[string][]*models.Cutoff)
	for _, c := range cutoffs {
		if k := key(c); k != nil {
			out[*k] = append(out[*k], c)
		}
	}
	return out
}

func openingRanks(cutoffs []*models.Cutoff) []int {
	var out []int
	for _, c := range cutoffs {
		if c.OpeningRank != nil {
			out = append(out, *c.OpeningRank)
		}
	}
	return out
}

func distinctYears(cutoffs []*models.Cutoff) int {
	seen := make(map[int]bool)
	for _, c := range cutoffs {
		if c.Year != nil {
			seen[*c.Year] = true
		}
	}
	return len(seen)
}

func minInt(xs []int) *int {
	if len(xs) == 0 {
		return nil
	}
	m := slices.Min(xs)
	return &m
}

func maxInt(xs []int) *int {
	if len(xs) == 0 {
		return nil
	}
	m := slices.Max(xs)
	return &m
}

func avgInt(xs []int) *float64 {
	if len(xs) == 0 {
		return nil
	}
	sum := 0
	for _, x := range xs {
		sum += x
	}
	avg := float64(sum) / float64(len(xs))
	return &avg
}
