package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/classifier"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

func TestCatalog_UpsertCourseClassifies(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	got, err := env.svc.Catalog.UpsertCourse(ctx, admin, &models.Course{ID: "k-md-gm", Name: "  MD General Medicine "})
	require.NoError(t, err)
	assert.Equal(t, "MD General Medicine", got.Name)
	assert.Equal(t, "MD GENERAL MEDICINE", got.NormalizedName)
	assert.Equal(t, classifier.StreamMedical, got.Stream)
	assert.Equal(t, "General Medicine", got.Branch)

	explicit, err := env.svc.Catalog.UpsertCourse(ctx, admin, &models.Course{ID: "k-x", Name: "MD General Medicine", Stream: "Custom"})
	require.NoError(t, err)
	assert.Equal(t, "Custom", explicit.Stream, "explicit fields are kept")

	hits, err := env.pc.Vectors.Query(ctx, storage.VectorQuery{Text: "MD GENERAL MEDICINE", TopK: 5, Filter: map[string]string{metaKind: "course", metaStream: classifier.StreamMedical}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "k-md-gm", hits[0].Metadata[metaCanonicalID])
}

func TestCatalog_UpsertValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.Catalog.UpsertCollege(ctx, reviewer, &models.College{ID: "c1", Name: "X"})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = env.svc.Catalog.UpsertCollege(ctx, admin, &models.College{ID: "c1", Name: "   ", Type: "Circus"})
	require.ErrorIs(t, err, apperrors.ErrValidation)
	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, map[string]string{"name": "required", "type": "oneof=Medical Dental AYUSH Veterinary"}, appErr.Details)
}

func TestCatalog_UpsertKeepsRollupsAndAudits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)
	env.ingestSample(t)
	_, err := env.svc.Warehouse.RebuildRollups(ctx, reviewer, models.RebuildScope{})
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	updated, err := env.svc.Catalog.UpsertCollege(ctx, admin, &models.College{
		ID: "c-aiims", Name: "AIIMS New Delhi", State: "Delhi",
		Rollups: models.CollegeRollups{TotalSeats: 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Rollups.TotalSeats, "catalog edits never author rollups")

	entries, _, err := env.svc.Audit.List(ctx, models.AuditFilter{ResourceType: models.AuditResourceCollege, ActorID: admin.UID}, models.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditActionUpdate, entries[0].Action)
	assert.Equal(t, models.AuditActionCreate, entries[1].Action)
}

func TestCatalog_GetCourseDetail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)
	env.ingestSample(t)

	detail, err := env.svc.Catalog.GetCourse(ctx, "k-mbbs")
	require.NoError(t, err)
	assert.Equal(t, []models.CollegeSummary{{ID: "c-aiims", Name: "AIIMS Delhi", State: "Delhi"}}, detail.Colleges)
	assert.Len(t, detail.Cutoffs, 2)

	cached, err := env.svc.Catalog.GetCourse(ctx, "k-mbbs")
	require.NoError(t, err)
	assert.Equal(t, detail, cached)

	_, err = env.svc.Catalog.GetCourse(ctx, "k-nowhere")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCatalog_ListAndReindex(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)

	courses, total, err := env.svc.Catalog.ListCourses(ctx, models.CourseFilter{Stream: classifier.StreamDental}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, courses, 1)
	assert.Equal(t, "k-bds", courses[0].ID)

	colleges, _, err := env.svc.Catalog.ListColleges(ctx, models.CollegeFilter{NameContains: "aiims"}, models.Page{})
	require.NoError(t, err)
	require.Len(t, colleges, 1)

	n, err := env.svc.Catalog.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAuditService_RejectsInvertedRange(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()
	_, _, err := env.svc.Audit.List(context.Background(), models.AuditFilter{Since: &now, Until: &now}, models.Page{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
