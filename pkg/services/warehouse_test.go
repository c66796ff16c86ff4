package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/repositories"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// ingestSample loads three linked cutoffs for AIIMS Delhi.
func (e *testEnv) ingestSample(t *testing.T) *models.IngestSummary {
	t.Helper()
	summary, err := e.svc.Ingest.IngestBatch(context.Background(), reviewer, []models.RawIngestRow{
		row("AIIMS Delhi", "MBBS", 2023, 1, 100, 200),
		row("AIIMS Delhi", "MBBS", 2024, 1, 150, 300),
		row("AIIMS Delhi", "BDS", 2024, 2, 500, 900),
	}, IngestOptions{})
	require.NoError(t, err)
	return summary
}

func TestRollupsOf_NoCutoffs(t *testing.T) {
	assert.Equal(t, models.CollegeRollups{}, CollegeRollupsOf(nil))
	assert.Equal(t, models.CourseRollups{}, CourseRollupsOf(nil))
}

func TestRollupsOf_NullRanks(t *testing.T) {
	c := "c1"
	k := "k1"
	cutoffs := []*models.Cutoff{
		{ID: "a", CollegeID: &c, CourseID: &k, Year: intPtr(2024)},
		{ID: "b", CollegeID: &c, CourseID: &k, Year: intPtr(2024), OpeningRank: intPtr(40), ClosingRank: intPtr(90)},
	}
	got := CollegeRollupsOf(cutoffs)
	want := models.CollegeRollups{
		TotalCourses:  1,
		TotalSeats:    2,
		BestRank:      intPtr(40),
		WorstRank:     intPtr(40),
		AvgCutoffRank: floatPtr(40),
		YearsActive:   1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CollegeRollupsOf mismatch (-want +got):\n%s", diff)
	}
}

func TestWarehouse_RebuildAll(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)
	env.ingestSample(t)

	stats, err := env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CollegesRebuilt)
	assert.Equal(t, 2, stats.CoursesRebuilt)
	assert.Equal(t, 3, stats.CutoffsConsidered)
	assert.Empty(t, stats.Failures)

	college, err := repositories.NewCollegeRepository(env.pc.Tables).Get(ctx, "c-aiims")
	require.NoError(t, err)
	wantCollege := models.CollegeRollups{
		TotalCourses:  2,
		TotalSeats:    3,
		BestRank:      intPtr(100),
		WorstRank:     intPtr(500),
		AvgCutoffRank: floatPtr(250),
		YearsActive:   2,
	}
	if diff := cmp.Diff(wantCollege, college.Rollups); diff != "" {
		t.Errorf("college rollups mismatch (-want +got):\n%s", diff)
	}

	course, err := repositories.NewCourseRepository(env.pc.Tables).Get(ctx, "k-mbbs")
	require.NoError(t, err)
	wantCourse := models.CourseRollups{
		TotalColleges:  1,
		YearsOffered:   2,
		AvgOpeningRank: floatPtr(125),
		AvgClosingRank: floatPtr(250),
		BestRank:       intPtr(100),
		WorstRank:      intPtr(150),
	}
	if diff := cmp.Diff(wantCourse, course.Rollups); diff != "" {
		t.Errorf("course rollups mismatch (-want +got):\n%s", diff)
	}
}

func TestWarehouse_RebuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)
	env.ingestSample(t)
	colleges := repositories.NewCollegeRepository(env.pc.Tables)

	first, err := env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{})
	require.NoError(t, err)
	afterFirst, err := colleges.Get(ctx, "c-aiims")
	require.NoError(t, err)
	_, auditsFirst, err := env.svc.Audit.List(ctx, models.AuditFilter{ResourceType: models.AuditResourceCollege}, models.Page{})
	require.NoError(t, err)

	second, err := env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{})
	require.NoError(t, err)
	afterSecond, err := colleges.Get(ctx, "c-aiims")
	require.NoError(t, err)
	_, auditsSecond, err := env.svc.Audit.List(ctx, models.AuditFilter{ResourceType: models.AuditResourceCollege}, models.Page{})
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("rebuild stats changed (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(afterFirst, afterSecond); diff != "" {
		t.Errorf("college changed on second rebuild (-first +second):\n%s", diff)
	}
	assert.Equal(t, auditsFirst, auditsSecond, "unchanged rollups are not re-audited")
	assert.Equal(t, 1.0, env.metric(t, MetricRollupsRebuilt, map[string]string{"kind": "college"}))
}

func TestWarehouse_EntityWithoutCutoffsHasEmptyRollups(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)

	stats, err := env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{CourseID: "k-bds"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CoursesRebuilt)
	assert.Zero(t, stats.CollegesRebuilt)

	course, err := repositories.NewCourseRepository(env.pc.Tables).Get(ctx, "k-bds")
	require.NoError(t, err)
	assert.Equal(t, models.CourseRollups{}, course.Rollups)
}

func TestWarehouse_ScopedRebuild(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)
	env.ingestSample(t)

	stats, err := env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{CollegeID: "c-aiims"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CollegesRebuilt)
	assert.Zero(t, stats.CoursesRebuilt)

	course, err := repositories.NewCourseRepository(env.pc.Tables).Get(ctx, "k-mbbs")
	require.NoError(t, err)
	assert.Equal(t, models.CourseRollups{}, course.Rollups, "courses are outside the scope")

	_, err = env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{CollegeID: "c-aiims", CourseID: "k-mbbs"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{CollegeID: "c-nowhere"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = env.svc.Warehouse.RebuildRollups(ctx, viewer, models.RebuildScope{})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestWarehouse_ConsistencyViolationIsIsolated(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)
	env.ingestSample(t)
	_, err := env.svc.Catalog.UpsertCollege(ctx, admin, &models.College{ID: "c-jipmer", Name: "JIPMER Puducherry", State: "Puducherry"})
	require.NoError(t, err)

	college, ghost := "c-aiims", "k-ghost"
	cutoffs := repositories.NewCutoffRepository(env.pc.Tables)
	require.NoError(t, env.pc.Tables.Batch(ctx, []storage.BatchOp{cutoffs.UpsertOp(&models.Cutoff{
		ID: "orphan", CollegeID: &college, CourseID: &ghost,
		RawCollegeName: "AIIMS Delhi", RawCourseName: "Ghost", Round: 1, Category: "GEN",
		OpeningRank: intPtr(1), ClosingRank: intPtr(2), SourceFile: "manual",
		ReconciliationStatus: models.CutoffStatusApproved,
	})}))

	stats, err := env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{})
	require.NoError(t, err, "the all scope reports failures instead of aborting")

	want := []models.EntityFailure{
		{EntityKind: models.EntityKindCollege, EntityID: "c-aiims", Kind: string(apperrors.KindConsistencyViolation)},
		{EntityKind: models.EntityKindCourse, EntityID: "k-ghost", Kind: string(apperrors.KindConsistencyViolation)},
	}
	for i := range stats.Failures {
		stats.Failures[i].Message = ""
	}
	if diff := cmp.Diff(want, stats.Failures); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, stats.CollegesRebuilt, "the healthy college still rebuilds")
	assert.Equal(t, 2, stats.CoursesRebuilt)

	aiims, err := repositories.NewCollegeRepository(env.pc.Tables).Get(ctx, "c-aiims")
	require.NoError(t, err)
	assert.Equal(t, models.CollegeRollups{}, aiims.Rollups, "a failed entity keeps its previous rollups")
	assert.Equal(t, 1.0, env.metric(t, MetricConsistencyViolation, map[string]string{"kind": "course"}))
	assert.Equal(t, 1.0, env.metric(t, MetricRollupsFailed, map[string]string{"kind": "college"}))

	_, err = env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{CollegeID: "c-aiims"})
	assert.ErrorIs(t, err, apperrors.ErrConsistencyViolation)
}

func TestWarehouse_RebuildInvalidatesDetailCache(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)
	env.ingestSample(t)

	before, err := env.svc.Catalog.GetCollege(ctx, "c-aiims")
	require.NoError(t, err)
	assert.Len(t, before.Cutoffs, 3)
	assert.Zero(t, before.College.Rollups.TotalSeats)
	_, err = env.pc.Blobs.Get(ctx, collegeCacheKey("c-aiims"))
	require.NoError(t, err, "detail is cached after the first read")

	_, err = env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{})
	require.NoError(t, err)
	_, err = env.pc.Blobs.Get(ctx, collegeCacheKey("c-aiims"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	after, err := env.svc.Catalog.GetCollege(ctx, "c-aiims")
	require.NoError(t, err)
	assert.Equal(t, 3, after.College.Rollups.TotalSeats)
}

func TestWarehouse_Overrides(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)
	env.ingestSample(t)

	manual := models.CollegeRollups{TotalCourses: 9, TotalSeats: 99, YearsActive: 3}
	_, err := env.svc.Warehouse.OverrideCollegeRollups(ctx, reviewer, "c-aiims", manual)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = env.svc.Warehouse.OverrideCollegeRollups(ctx, admin, "c-aiims", models.CollegeRollups{TotalSeats: -1})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = env.svc.Warehouse.OverrideCourseRollups(ctx, admin, "k-nowhere", models.CourseRollups{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	got, err := env.svc.Warehouse.OverrideCollegeRollups(ctx, admin, "c-aiims", manual)
	require.NoError(t, err)
	assert.Equal(t, manual, got.Rollups)

	stored, err := repositories.NewCollegeRepository(env.pc.Tables).Get(ctx, "c-aiims")
	require.NoError(t, err)
	assert.Equal(t, manual, stored.Rollups)
	assert.Equal(t, 1.0, env.metric(t, MetricRollupsOverridden, map[string]string{"kind": "college"}))

	_, err = env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{CollegeID: "c-aiims"})
	require.NoError(t, err)
	stored, err = repositories.NewCollegeRepository(env.pc.Tables).Get(ctx, "c-aiims")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Rollups.TotalSeats, "the next rebuild replaces the override")
}

func TestWarehouse_ManualMatchFeedsScopedRebuild(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)

	summary, err := env.svc.Ingest.IngestBatch(ctx, reviewer, []models.RawIngestRow{
		row("Zzyzx Institute", "MBBS", 2023, 1, 400, 800),
		row("Zzyzx Institute", "BDS", 2024, 2, 900, 1200),
		row("AIIMS Dehli", "MBBS", 2024, 1, 70, 95),
	}, IngestOptions{})
	require.NoError(t, err)
	assert.Zero(t, summary.CutoffsLinked)

	stats, err := env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{CollegeID: "c-aiims"})
	require.NoError(t, err)
	assert.Zero(t, stats.CutoffsConsidered)

	recs, _, err := env.svc.Reconciler.ListStaging(ctx, models.StagingFilter{Status: models.StagingUnmatched}, models.Page{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	_, err = env.svc.Reconciler.ManualMatch(ctx, reviewer, recs[0].ID, "c-aiims")
	require.NoError(t, err)

	stats, err = env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{CollegeID: "c-aiims"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CollegesRebuilt)
	assert.Equal(t, 2, stats.CutoffsConsidered, "the pending AIIMS Dehli row stays out")
	assert.Empty(t, stats.Failures)

	college, err := repositories.NewCollegeRepository(env.pc.Tables).Get(ctx, "c-aiims")
	require.NoError(t, err)
	want := models.CollegeRollups{
		TotalCourses:  2,
		TotalSeats:    2,
		BestRank:      intPtr(400),
		WorstRank:     intPtr(900),
		AvgCutoffRank: floatPtr(650),
		YearsActive:   2,
	}
	if diff := cmp.Diff(want, college.Rollups); diff != "" {
		t.Errorf("college rollups mismatch (-want +got):\n%s", diff)
	}
}

// failingDeletes is a blob store whose deletes always fail.
type failingDeletes struct {
	storage.BlobStore
}

func (failingDeletes) Delete(context.Context, string) error {
	return errors.New("blob store unavailable")
}

func TestWarehouse_CacheInvalidationFailureDoesNotFailRebuild(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.pc.Blobs = failingDeletes{BlobStore: env.pc.Blobs}
	svc, err := New(env.pc, testConfig())
	require.NoError(t, err)
	env.svc = svc
	env.seedCatalog(t)
	env.ingestSample(t)

	stats, err := env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{})
	require.NoError(t, err)
	assert.Empty(t, stats.Failures)
	assert.Equal(t, 1, stats.CollegesRebuilt)
	assert.Equal(t, 2, stats.CoursesRebuilt)
	assert.Zero(t, env.metric(t, MetricRollupsFailed, map[string]string{"kind": "college"}))

	stats, err = env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{CollegeID: "c-aiims"})
	require.NoError(t, err, "unchanged rollups with a stuck cache entry are not a failure")
	assert.Empty(t, stats.Failures)

	college, err := repositories.NewCollegeRepository(env.pc.Tables).Get(ctx, "c-aiims")
	require.NoError(t, err)
	assert.Equal(t, 3, college.Rollups.TotalSeats)

	// Catalog upserts plus the first rebuild's three entities plus the scoped rebuild.
	assert.Equal(t, 3.0, env.metric(t, MetricCacheInvalidateFailed, map[string]string{"resource": "college"}))
	assert.Equal(t, 4.0, env.metric(t, MetricCacheInvalidateFailed, map[string]string{"resource": "course"}))
}
