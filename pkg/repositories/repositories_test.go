package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage/local"
)

func newTables(t *testing.T) storage.TableStore {
	t.Helper()
	s, err := local.OpenTableStore("", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureTables(context.Background(), AllTables()...))
	return s
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func TestCollegeRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	tables := newTables(t)
	repo := NewCollegeRepository(tables)

	c := &models.College{
		ID: "c1", Name: "AIIMS Delhi", NormalizedName: "AIIMS DELHI",
		City: "New Delhi", State: "Delhi", Type: models.CollegeTypeMedical,
		ManagementType: models.ManagementGovernment, EstablishedYear: intPtr(1956),
	}
	require.NoError(t, tables.Batch(ctx, []storage.BatchOp{repo.UpsertOp(c)}))

	got, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, c, got, "rollups are zero before the first rebuild")

	found, err := repo.FindByNormalizedName(ctx, "AIIMS DELHI")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "c1", found.ID)

	missing, err := repo.FindByNormalizedName(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = repo.Get(ctx, "zzz")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCollegeRepository_CatalogUpsertKeepsRollups(t *testing.T) {
	ctx := context.Background()
	tables := newTables(t)
	repo := NewCollegeRepository(tables)

	c := &models.College{ID: "c1", Name: "A", NormalizedName: "A"}
	rollups := models.CollegeRollups{TotalCourses: 2, TotalSeats: 5, BestRank: intPtr(10), WorstRank: intPtr(90), YearsActive: 1}
	require.NoError(t, tables.Batch(ctx, []storage.BatchOp{repo.UpsertOp(c), repo.RollupsOp("c1", rollups)}))

	c.City = "Pune"
	require.NoError(t, tables.Batch(ctx, []storage.BatchOp{repo.UpsertOp(c)}))

	got, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Pune", got.City)
	assert.Equal(t, rollups, got.Rollups)
}

func TestCollegeRepository_ListAndExisting(t *testing.T) {
	ctx := context.Background()
	tables := newTables(t)
	repo := NewCollegeRepository(tables)

	var ops []storage.BatchOp
	for _, c := range []*models.College{
		{ID: "c1", Name: "Grant Medical College", State: "Maharashtra", Type: models.CollegeTypeMedical},
		{ID: "c2", Name: "Government Dental College", State: "Maharashtra", Type: models.CollegeTypeDental},
		{ID: "c3", Name: "AIIMS Delhi", State: "Delhi", Type: models.CollegeTypeMedical},
	} {
		ops = append(ops, repo.UpsertOp(c))
	}
	require.NoError(t, tables.Batch(ctx, ops))

	got, total, err := repo.List(ctx, models.CollegeFilter{State: "Maharashtra"}, models.Page{Page: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].ID, "ordered by name")

	got, total, err = repo.List(ctx, models.CollegeFilter{NameContains: "medical"}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "c1", got[0].ID)

	ex, err := repo.Existing(ctx, []string{"c1", "c3", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"c1": true, "c3": true}, ex)
}

func TestCourseRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	tables := newTables(t)
	repo := NewCourseRepository(tables)

	c := &models.Course{ID: "k1", Name: "MBBS", NormalizedName: "MBBS", Stream: "Medical", Branch: "MBBS", DegreeType: "MBBS", DurationYears: 5}
	avg := 120.5
	rollups := models.CourseRollups{TotalColleges: 1, YearsOffered: 1, AvgOpeningRank: &avg, AvgClosingRank: &avg, BestRank: intPtr(100), WorstRank: intPtr(141)}
	require.NoError(t, tables.Batch(ctx, []storage.BatchOp{repo.UpsertOp(c), repo.RollupsOp("k1", rollups)}))

	got, err := repo.Get(ctx, "k1")
	require.NoError(t, err)
	c.Rollups = rollups
	assert.Equal(t, c, got)

	list, total, err := repo.List(ctx, models.CourseFilter{Stream: "Medical"}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "k1", list[0].ID)
}

func TestCutoffRepository_LinkOps(t *testing.T) {
	ctx := context.Background()
	tables := newTables(t)
	repo := NewCutoffRepository(tables)

	mk := func(id, college, course string) *models.Cutoff {
		return &models.Cutoff{
			ID: id, RawCollegeName: college, RawCourseName: course,
			NormalizedCollege: college, NormalizedCourse: course,
			Round: 1, Category: "GEN", SourceFile: "r1.csv",
			OpeningRank:          intPtr(100),
			ReconciliationStatus: models.CutoffStatusPending,
		}
	}
	require.NoError(t, tables.Batch(ctx, []storage.BatchOp{
		repo.UpsertOp(mk("x1", "AIIMS DELHI", "MBBS")),
		repo.UpsertOp(mk("x2", "AIIMS DELHI", "MD GENERAL MEDICINE")),
		repo.UpsertOp(mk("x3", "GRANT MEDICAL COLLEGE", "MBBS")),
	}))

	require.NoError(t, tables.Batch(ctx, repo.LinkOps(models.EntityKindCollege, "AIIMS DELHI", "c1")))
	got, err := repo.Get(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, strPtr("c1"), got.CollegeID)
	assert.Equal(t, models.CutoffStatusPending, got.ReconciliationStatus, "course still unlinked")

	require.NoError(t, tables.Batch(ctx, repo.LinkOps(models.EntityKindCourse, "MBBS", "k1")))
	for id, want := range map[string]string{
		"x1": models.CutoffStatusApproved,
		"x2": models.CutoffStatusPending,
		"x3": models.CutoffStatusPending,
	} {
		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.ReconciliationStatus, id)
	}

	approved, err := repo.ListApproved(ctx, models.RebuildScope{})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "x1", approved[0].ID)

	scoped, err := repo.ListApproved(ctx, models.RebuildScope{CollegeID: "other"})
	require.NoError(t, err)
	assert.Empty(t, scoped)
}

func TestStagingRepository_ListAndSummary(t *testing.T) {
	ctx := context.Background()
	tables := newTables(t)
	repo := NewStagingRepository(tables)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	recs := []*models.StagingRecord{
		{ID: "s1", RawName: "A", NormalizedName: "A", EntityKind: models.EntityKindCollege, Confidence: 0.6, Status: models.StagingPendingReview, CreatedAt: base, UpdatedAt: base},
		{ID: "s2", RawName: "B", NormalizedName: "B", EntityKind: models.EntityKindCollege, Confidence: 0.8, Status: models.StagingPendingReview, CreatedAt: base, UpdatedAt: base.Add(time.Minute)},
		{ID: "s3", RawName: "MBBS", NormalizedName: "MBBS", EntityKind: models.EntityKindCourse, Confidence: 1, MatchMethod: models.MatchExact, Status: models.StagingApproved, CandidateCanonicalID: strPtr("k1"), CreatedAt: base, UpdatedAt: base},
	}
	var ops []storage.BatchOp
	for _, r := range recs {
		ops = append(ops, repo.UpsertOp(r))
	}
	require.NoError(t, tables.Batch(ctx, ops))

	got, total, err := repo.List(ctx, models.StagingFilter{Status: models.StagingPendingReview}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, got, 2)
	assert.Equal(t, "s2", got[0].ID, "most recently updated first")

	s3, err := repo.Get(ctx, "s3")
	require.NoError(t, err)
	assert.Equal(t, recs[2], s3)

	summary, err := repo.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, models.StagingSummaryRow{EntityKind: models.EntityKindCollege, Status: models.StagingPendingReview, Count: 2, AvgScore: 0.7}, summary[0])
	assert.Equal(t, models.StagingSummaryRow{EntityKind: models.EntityKindCourse, Status: models.StagingApproved, Count: 1, AvgScore: 1}, summary[1])
}

func TestAuditRepository_AppendOnly(t *testing.T) {
	ctx := context.Background()
	tables := newTables(t)
	repo := NewAuditRepository(tables)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	e1 := &models.AuditEntry{ID: uuid.New(), ActorID: "u1", Action: models.AuditActionApproveMatch, ResourceType: models.AuditResourceStaging, ResourceID: "s1", After: []byte(`{"status":"approved"}`), Timestamp: base}
	e2 := &models.AuditEntry{ID: uuid.New(), ActorID: "u2", Action: models.AuditActionRejectMatch, ResourceType: models.AuditResourceStaging, ResourceID: "s2", Timestamp: base.Add(time.Second)}
	require.NoError(t, tables.Batch(ctx, []storage.BatchOp{repo.InsertOp(e1), repo.InsertOp(e2)}))

	err := tables.Batch(ctx, []storage.BatchOp{repo.InsertOp(e1)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidState, "entries cannot be overwritten")

	all, total, err := repo.List(ctx, models.AuditFilter{}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, e2.ID, all[0].ID, "newest first")
	assert.Equal(t, e1, all[1])

	since := base.Add(time.Millisecond)
	filtered, _, err := repo.List(ctx, models.AuditFilter{Since: &since}, models.Page{})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "u2", filtered[0].ActorID)
}
