package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/config"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/pipeline"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

var (
	admin    = models.Caller{UID: "admin-1", Role: models.RoleAdmin}
	reviewer = models.Caller{UID: "reviewer-1", Role: models.RoleReviewer}
	viewer   = models.Caller{UID: "viewer-1", Role: models.RoleViewer}
)

type testEnv struct {
	pc    *pipeline.Context
	svc   *Services
	clock *storage.ManualClock
}

func testConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Mode: config.StorageModeLocal},
		Reconcile: config.ReconcileConfig{
			AutoApproveThreshold: 0.9,
			ReviewFloor:          0.5,
			TokenWeight:          0.5,
			EditWeight:           0.5,
			RecallSize:           10,
		},
		Warehouse: config.WarehouseConfig{CacheTTL: time.Hour, Workers: 4},
		Ingest:    config.IngestConfig{Workers: 4},
	}
}

// newTestEnv builds services over a local pipeline. Each mutate func adjusts
// the default test config first.
func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	clock := storage.NewManualClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	pc, err := pipeline.NewLocal(context.Background(), clock, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	svc, err := New(pc, cfg)
	require.NoError(t, err)
	return &testEnv{pc: pc, svc: svc, clock: clock}
}

// seedCatalog creates one college and two courses.
func (e *testEnv) seedCatalog(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := e.svc.Catalog.UpsertCollege(ctx, admin, &models.College{
		ID: "c-aiims", Name: "AIIMS Delhi", City: "New Delhi", State: "Delhi",
		Type: models.CollegeTypeMedical, ManagementType: models.ManagementGovernment,
	})
	require.NoError(t, err)
	_, err = e.svc.Catalog.UpsertCourse(ctx, admin, &models.Course{ID: "k-mbbs", Name: "MBBS", DurationYears: 5})
	require.NoError(t, err)
	_, err = e.svc.Catalog.UpsertCourse(ctx, admin, &models.Course{ID: "k-bds", Name: "BDS", DurationYears: 5})
	require.NoError(t, err)
}

func (e *testEnv) metric(t *testing.T, name string, tags map[string]string) float64 {
	t.Helper()
	snap, err := e.pc.Metrics.Snapshot(context.Background())
	require.NoError(t, err)
	return snap[storage.SeriesKey(name, tags)]
}

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }

func row(college, course string, year, round, opening, closing int) models.RawIngestRow {
	return models.RawIngestRow{
		RawCollegeName: college,
		RawCourseName:  course,
		Year:           intPtr(year),
		Round:          round,
		Category:       "GEN",
		Quota:          "AIQ",
		OpeningRank:    intPtr(opening),
		ClosingRank:    intPtr(closing),
		SourceFile:     "mcc_2024.csv",
	}
}
