package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/repositories"
)

func TestIngestBatch_Summary(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)

	rows := []models.RawIngestRow{
		row("AIIMS Delhi", "MBBS", 2024, 1, 10, 50),
		row("A.I.I.M.S. Delhi", "M.B.B.S.", 2024, 2, 60, 90),
		row("AIIMS Dehli", "MBBS", 2024, 1, 70, 95),
		row("Zzyzx Institute", "BDS", 2024, 1, 400, 800),
	}
	summary, err := env.svc.Ingest.IngestBatch(ctx, reviewer, rows, IngestOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.RowsAccepted)
	assert.Zero(t, summary.RowsRejected)
	// AIIMS DELHI, AIIMS DEHLI, ZZYZX INSTITUTE, MBBS, BDS
	assert.Equal(t, 5, summary.DistinctNames)
	assert.Equal(t, 3, summary.AutoMatched)
	assert.Equal(t, 1, summary.NeedsReview)
	assert.Equal(t, 1, summary.Unmatched)
	assert.Equal(t, 4, summary.CutoffsWritten)
	assert.Equal(t, 2, summary.CutoffsLinked)

	linked, err := repositories.NewCutoffRepository(env.pc.Tables).ListApproved(ctx, models.RebuildScope{CollegeID: "c-aiims"})
	require.NoError(t, err)
	assert.Len(t, linked, 2)

	assert.Equal(t, 4.0, env.metric(t, MetricIngestRows, map[string]string{"result": "accepted"}))
	assert.Equal(t, 4.0, env.metric(t, MetricCutoffsWritten, nil))

	runs, _, err := env.svc.Audit.List(ctx, models.AuditFilter{ResourceType: models.AuditResourceIngestRun}, models.Page{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID.String(), runs[0].ResourceID)
}

func TestIngestBatch_ReingestWritesNothing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)

	first := env.ingestSample(t)
	assert.Equal(t, 3, first.CutoffsWritten)

	second := env.ingestSample(t)
	assert.Zero(t, second.CutoffsWritten)
	assert.Equal(t, first.AutoMatched, second.AutoMatched)
	assert.NotEqual(t, first.RunID, second.RunID)

	_, total, err := env.svc.Audit.List(ctx, models.AuditFilter{ResourceType: models.AuditResourceCutoff}, models.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestIngestBatch_ApprovalLinksEarlierCutoffs(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)
	cutoffs := repositories.NewCutoffRepository(env.pc.Tables)

	summary, err := env.svc.Ingest.IngestBatch(ctx, reviewer, []models.RawIngestRow{
		row("AIIMS Dehli", "MBBS", 2024, 1, 70, 95),
	}, IngestOptions{})
	require.NoError(t, err)
	assert.Zero(t, summary.CutoffsLinked)

	recs, _, err := env.svc.Reconciler.ListStaging(ctx, models.StagingFilter{Status: models.StagingPendingReview}, models.Page{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	_, err = env.svc.Reconciler.ApproveMatch(ctx, reviewer, recs[0].ID)
	require.NoError(t, err)

	linked, err := cutoffs.ListApproved(ctx, models.RebuildScope{CollegeID: "c-aiims"})
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, "AIIMS Dehli", linked[0].RawCollegeName)
}

func TestWriteCutoffs_LinksFromCurrentStagingState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)
	cutoffs := repositories.NewCutoffRepository(env.pc.Tables)
	r := row("AIIMS Dehli", "MBBS", 2024, 1, 70, 95)

	_, err := env.svc.Ingest.IngestBatch(ctx, reviewer, []models.RawIngestRow{r}, IngestOptions{})
	require.NoError(t, err)
	recs, _, err := env.svc.Reconciler.ListStaging(ctx, models.StagingFilter{Status: models.StagingPendingReview}, models.Page{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	_, err = env.svc.Reconciler.ApproveMatch(ctx, reviewer, recs[0].ID)
	require.NoError(t, err)

	// A run that reconciled before the approval writes its rows afterwards.
	summary := &models.IngestSummary{}
	require.NoError(t, env.svc.Ingest.(*ingestService).writeCutoffs(ctx, reviewer, []*models.RawIngestRow{&r}, summary))
	assert.Zero(t, summary.CutoffsWritten)

	linked, err := cutoffs.ListApproved(ctx, models.RebuildScope{CollegeID: "c-aiims"})
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, models.CutoffStatusApproved, linked[0].ReconciliationStatus)
}

func TestIngestBatch_NeverClearsStoredLink(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)
	cutoffs := repositories.NewCutoffRepository(env.pc.Tables)
	rows := []models.RawIngestRow{row("AIIMS Dehli", "MBBS", 2024, 1, 70, 95)}

	_, err := env.svc.Ingest.IngestBatch(ctx, reviewer, rows, IngestOptions{})
	require.NoError(t, err)
	require.NoError(t, env.pc.Tables.Batch(ctx, cutoffs.LinkOps(models.EntityKindCollege, "AIIMS DEHLI", "c-aiims")))

	summary, err := env.svc.Ingest.IngestBatch(ctx, reviewer, rows, IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NeedsReview)
	assert.Zero(t, summary.CutoffsWritten)

	linked, err := cutoffs.ListApproved(ctx, models.RebuildScope{CollegeID: "c-aiims"})
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, "AIIMS Dehli", linked[0].RawCollegeName)
}

func TestIngestBatch_ConcurrentApprovalStaysLinked(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)
	cutoffs := repositories.NewCutoffRepository(env.pc.Tables)
	rows := []models.RawIngestRow{row("AIIMS Dehli", "MBBS", 2024, 1, 70, 95)}

	_, err := env.svc.Ingest.IngestBatch(ctx, reviewer, rows, IngestOptions{})
	require.NoError(t, err)
	recs, _, err := env.svc.Reconciler.ListStaging(ctx, models.StagingFilter{Status: models.StagingPendingReview}, models.Page{})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			_, err := env.svc.Ingest.IngestBatch(ctx, reviewer, rows, IngestOptions{})
			return err
		})
	}
	g.Go(func() error {
		_, err := env.svc.Reconciler.ApproveMatch(ctx, reviewer, recs[0].ID)
		return err
	})
	require.NoError(t, g.Wait())

	linked, err := cutoffs.ListApproved(ctx, models.RebuildScope{CollegeID: "c-aiims"})
	require.NoError(t, err)
	require.Len(t, linked, 1)
}

func TestIngestBatch_RowErrors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)

	missingCategory := row("AIIMS Delhi", "MBBS", 2024, 1, 10, 50)
	missingCategory.Category = ""
	inverted := row("AIIMS Delhi", "MBBS", 2024, 1, 90, 50)
	punctuation := row("...", "MBBS", 2024, 1, 10, 50)

	summary, err := env.svc.Ingest.IngestBatch(ctx, reviewer, []models.RawIngestRow{
		missingCategory, inverted, punctuation, row("AIIMS Delhi", "BDS", 2024, 1, 300, 600),
	}, IngestOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.RowsAccepted)
	assert.Equal(t, 3, summary.RowsRejected)
	require.Len(t, summary.RowErrors, 3)
	assert.Equal(t, models.RowError{Index: 0, Fields: map[string]string{"category": "required"}}, summary.RowErrors[0])
	assert.Equal(t, models.RowError{Index: 1, Fields: map[string]string{"opening_rank": "must not exceed closing_rank"}}, summary.RowErrors[1])
	assert.Equal(t, models.RowError{Index: 2, Fields: map[string]string{"raw_college_name": "has no letters or digits"}}, summary.RowErrors[2])
	assert.Equal(t, 1, summary.CutoffsWritten)
}

func TestIngestBatch_ForceRescoreReopensRejections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedCatalog(t)
	rows := []models.RawIngestRow{row("AIIMS Dehli", "MBBS", 2024, 1, 70, 95)}

	_, err := env.svc.Ingest.IngestBatch(ctx, reviewer, rows, IngestOptions{})
	require.NoError(t, err)
	recs, _, err := env.svc.Reconciler.ListStaging(ctx, models.StagingFilter{Status: models.StagingPendingReview}, models.Page{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	_, err = env.svc.Reconciler.RejectMatch(ctx, reviewer, recs[0].ID)
	require.NoError(t, err)

	summary, err := env.svc.Ingest.IngestBatch(ctx, reviewer, rows, IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Rejected)

	summary, err = env.svc.Ingest.IngestBatch(ctx, reviewer, rows, IngestOptions{ForceRescore: true})
	require.NoError(t, err)
	assert.Zero(t, summary.Rejected)
	assert.Equal(t, 1, summary.NeedsReview)
}

func TestIngestBatch_Forbidden(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Ingest.IngestBatch(context.Background(), viewer, nil, IngestOptions{})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}
