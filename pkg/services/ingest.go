package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/config"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/matching"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/pipeline"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/repositories"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// Metric names emitted by ingestion runs.
const (
	MetricIngestRows     = "ingest_rows_total"
	MetricCutoffsWritten = "cutoffs_written_total"
)

const (
	cutoffChunk          = 250
	defaultIngestWorkers = 4
)

// IngestOptions tunes one ingestion run.
type IngestOptions struct {
	// ForceRescore reopens previously rejected names instead of reusing
	// the rejection.
	ForceRescore bool
}

// IngestService turns a batch of raw admission rows into staging records
// and cutoff facts.
type IngestService interface {
	// IngestBatch validates rows, reconciles every distinct college and
	// course name and upserts one cutoff per valid row. Invalid rows are
	// reported in the summary and skipped. Re-running the same batch writes
	// nothing new.
	IngestBatch(ctx context.Context, caller models.Caller, rows []models.RawIngestRow, opts IngestOptions) (*models.IngestSummary, error)
}

type ingestService struct {
	pc         *pipeline.Context
	reconciler ReconcilerService
	cutoffs    repositories.CutoffRepository
	staging    repositories.StagingRepository
	normalizer *matching.Normalizer
	validate   *validator.Validate
	workers    int
	logger     *zap.Logger
}

// NewIngestService creates an IngestService.
func NewIngestService(pc *pipeline.Context, cfg config.IngestConfig, reconciler ReconcilerService, normalizer *matching.Normalizer) IngestService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultIngestWorkers
	}
	return &ingestService{
		pc:         pc,
		reconciler: reconciler,
		cutoffs:    repositories.NewCutoffRepository(pc.Tables),
		staging:    repositories.NewStagingRepository(pc.Tables),
		normalizer: normalizer,
		validate:   newValidator(),
		workers:    workers,
		logger:     pc.Logger.Named("ingest"),
	}
}

var _ IngestService = (*ingestService)(nil)

// nameKey identifies one distinct name within a run.
type nameKey struct {
	kind       models.EntityKind
	normalized string
}

func (s *ingestService) IngestBatch(ctx context.Context, caller models.Caller, rows []models.RawIngestRow, opts IngestOptions) (*models.IngestSummary, error) {
	if !caller.CanMutate() {
		return nil, apperrors.Forbiddenf("role %q cannot ingest batches", caller.Role)
	}
	summary := &models.IngestSummary{RunID: uuid.New()}
	logger := s.logger.With(zap.String("run_id", summary.RunID.String()))

	valid := make([]*models.RawIngestRow, 0, len(rows))
	names := make(map[nameKey]string)
	var order []nameKey
	for i := range rows {
		row := rows[i]
		row.RawCollegeName = strings.TrimSpace(row.RawCollegeName)
		row.RawCourseName = strings.TrimSpace(row.RawCourseName)
		if fields := s.checkRow(&row); fields != nil {
			summary.RowErrors = append(summary.RowErrors, models.RowError{Index: i, Fields: fields})
			continue
		}
		valid = append(valid, &row)
		for _, k := range []nameKey{
			{models.EntityKindCollege, s.normalizer.Normalize(row.RawCollegeName)},
			{models.EntityKindCourse, s.normalizer.Normalize(row.RawCourseName)},
		} {
			if _, ok := names[k]; !ok {
				names[k] = rawNameFor(&row, k.kind)
				order = append(order, k)
			}
		}
	}
	summary.RowsAccepted = len(valid)
	summary.RowsRejected = len(summary.RowErrors)
	summary.DistinctNames = len(order)
	s.pc.Metrics.Emit(ctx, MetricIngestRows, float64(summary.RowsAccepted), map[string]string{"result": "accepted"})
	s.pc.Metrics.Emit(ctx, MetricIngestRows, float64(summary.RowsRejected), map[string]string{"result": "rejected"})

	outcomes, err := s.reconcileNames(ctx, caller, names, order, opts)
	if err != nil {
		return nil, err
	}
	for _, rec := range outcomes {
		switch rec.Status {
		case models.StagingApproved:
			summary.AutoMatched++
		case models.StagingPendingReview:
			summary.NeedsReview++
		case models.StagingUnmatched:
			summary.Unmatched++
		case models.StagingRejected:
			summary.Rejected++
		}
	}

	if err := s.writeCutoffs(ctx, caller, valid, summary); err != nil {
		return nil, err
	}

	buf := s.pc.Audit.NewBuffer()
	buf.Add(s.pc.Audit.Entry(caller.UID, models.AuditActionCreate, models.AuditResourceIngestRun, summary.RunID.String(), nil, summary))
	if err := buf.Flush(ctx); err != nil {
		return nil, err
	}

	logger.Info("Ingestion run complete",
		zap.Int("rows_accepted", summary.RowsAccepted),
		zap.Int("rows_rejected", summary.RowsRejected),
		zap.Int("distinct_names", summary.DistinctNames),
		zap.Int("auto_matched", summary.AutoMatched),
		zap.Int("needs_review", summary.NeedsReview),
		zap.Int("cutoffs_written", summary.CutoffsWritten))
	return summary, nil
}

// reconcileNames ingests every distinct name. Names are partitioned across
// workers by hash so each staging record is owned by exactly one worker.
func (s *ingestService) reconcileNames(ctx context.Context, caller models.Caller, names map[nameKey]string, order []nameKey, opts IngestOptions) (map[nameKey]*models.StagingRecord, error) {
	partitions := make([][]nameKey, s.workers)
	for _, k := range order {
		h := fnv.New32a()
		_, _ = h.Write([]byte(string(k.kind) + "\x00" + k.normalized))
		p := int(h.Sum32() % uint32(s.workers))
		partitions[p] = append(partitions[p], k)
	}

	var mu sync.Mutex
	out := make(map[nameKey]*models.StagingRecord, len(order))
	g, gctx := errgroup.WithContext(ctx)
	for _, part := range partitions {
		if len(part) == 0 {
			continue
		}
		g.Go(func() error {
			for _, k := range part {
				rec, err := s.reconciler.Ingest(gctx, caller, names[k], k.kind, opts.ForceRescore)
				if err != nil {
					return fmt.Errorf("reconcile %s %q: %w", k.kind, names[k], err)
				}
				mu.Lock()
				out[k] = rec
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// writeCutoffs upserts a cutoff per row. Each chunk is written while holding
// the staging locks of the names it references, and links come from the
// staging state read under those locks, so a review landing mid-run either
// commits first and is seen here or runs after and links the written rows.
// A stored link is never cleared. Unchanged rows are skipped.
func (s *ingestService) writeCutoffs(ctx context.Context, caller models.Caller, rows []*models.RawIngestRow, summary *models.IngestSummary) error {
	byID := make(map[string]*models.Cutoff, len(rows))
	var ids []string
	for _, row := range rows {
		c := s.cutoffFromRow(row)
		if _, dup := byID[c.ID]; !dup {
			ids = append(ids, c.ID)
		}
		byID[c.ID] = c
	}

	for start := 0; start < len(ids); start += cutoffChunk {
		chunk := ids[start:min(start+cutoffChunk, len(ids))]
		if err := s.writeChunk(ctx, caller, chunk, byID, summary); err != nil {
			return err
		}
	}
	s.pc.Metrics.Emit(ctx, MetricCutoffsWritten, float64(summary.CutoffsWritten), nil)
	return nil
}

func (s *ingestService) writeChunk(ctx context.Context, caller models.Caller, chunk []string, byID map[string]*models.Cutoff, summary *models.IngestSummary) error {
	names := make(map[nameKey]struct{})
	for _, id := range chunk {
		c := byID[id]
		names[nameKey{models.EntityKindCollege, c.NormalizedCollege}] = struct{}{}
		names[nameKey{models.EntityKindCourse, c.NormalizedCourse}] = struct{}{}
	}
	release, err := s.lockNames(ctx, names)
	if err != nil {
		return err
	}
	defer release()

	links, err := s.approvedLinks(ctx, names)
	if err != nil {
		return err
	}
	stored, err := s.cutoffs.GetMany(ctx, chunk)
	if err != nil {
		return err
	}

	var ops []storage.BatchOp
	var entries []*models.AuditEntry
	for _, id := range chunk {
		c := *byID[id]
		prev := stored[id]
		link(&c, links, prev)
		if prev != nil && cmp.Equal(prev, &c) {
			continue
		}
		action, before := models.AuditActionCreate, any(nil)
		if prev != nil {
			action, before = models.AuditActionUpdate, prev
		}
		entries = append(entries, s.pc.Audit.Entry(caller.UID, action, models.AuditResourceCutoff, id, before, &c))
		ops = append(ops, s.cutoffs.UpsertOp(&c))
		summary.CutoffsWritten++
		if c.ReconciliationStatus == models.CutoffStatusApproved {
			summary.CutoffsLinked++
		}
	}
	if len(ops) == 0 {
		return nil
	}
	ops = append(ops, s.pc.Audit.Ops(entries...)...)
	if err := s.pc.Tables.Batch(ctx, ops); err != nil {
		return fmt.Errorf("write cutoffs: %w", err)
	}
	s.pc.Audit.Committed(entries...)
	return nil
}

// lockNames takes the staging lock of every name in sorted order and returns
// a func releasing them all.
func (s *ingestService) lockNames(ctx context.Context, names map[nameKey]struct{}) (func(), error) {
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, stagingLockKey(models.StagingID(k.kind, k.normalized)))
	}
	slices.Sort(keys)

	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range keys {
		release, err := s.pc.Locker.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, fmt.Errorf("lock staging record: %w", err)
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

// approvedLinks returns the canonical id of every approved name.
func (s *ingestService) approvedLinks(ctx context.Context, names map[nameKey]struct{}) (map[nameKey]string, error) {
	out := make(map[nameKey]string)
	for k := range names {
		rec, err := s.staging.Get(ctx, models.StagingID(k.kind, k.normalized))
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if id := approvedID(rec); id != nil {
			out[k] = *id
		}
	}
	return out, nil
}

// link sets the canonical ids of c from the approved names, keeping any id
// already stored on prev.
func link(c *models.Cutoff, links map[nameKey]string, prev *models.Cutoff) {
	c.CollegeID, c.CourseID = nil, nil
	if id, ok := links[nameKey{models.EntityKindCollege, c.NormalizedCollege}]; ok {
		c.CollegeID = &id
	}
	if id, ok := links[nameKey{models.EntityKindCourse, c.NormalizedCourse}]; ok {
		c.CourseID = &id
	}
	if prev != nil {
		if c.CollegeID == nil {
			c.CollegeID = prev.CollegeID
		}
		if c.CourseID == nil {
			c.CourseID = prev.CourseID
		}
	}
	c.ReconciliationStatus = models.CutoffStatusPending
	if c.Linked() {
		c.ReconciliationStatus = models.CutoffStatusApproved
	}
}

func (s *ingestService) cutoffFromRow(row *models.RawIngestRow) *models.Cutoff {
	return &models.Cutoff{
		ID:                   models.CutoffID(row),
		RawCollegeName:       row.RawCollegeName,
		RawCourseName:        row.RawCourseName,
		NormalizedCollege:    s.normalizer.Normalize(row.RawCollegeName),
		NormalizedCourse:     s.normalizer.Normalize(row.RawCourseName),
		Year:                 row.Year,
		Round:                row.Round,
		Category:             row.Category,
		Quota:                row.Quota,
		OpeningRank:          row.OpeningRank,
		ClosingRank:          row.ClosingRank,
		SourceFile:           row.SourceFile,
		ReconciliationStatus: models.CutoffStatusPending,
	}
}

// checkRow returns field errors for an invalid row, or nil.
func (s *ingestService) checkRow(row *models.RawIngestRow) map[string]string {
	fields := map[string]string{}
	if err := s.validate.Struct(row); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return map[string]string{"row": err.Error()}
		}
		fields = fieldErrors(verrs)
	}
	if row.OpeningRank != nil && row.ClosingRank != nil && *row.OpeningRank > *row.ClosingRank {
		fields["opening_rank"] = "must not exceed closing_rank"
	}
	if _, ok := fields["raw_college_name"]; !ok && s.normalizer.Normalize(row.RawCollegeName) == "" {
		fields["raw_college_name"] = "has no letters or digits"
	}
	if _, ok := fields["raw_course_name"]; !ok && s.normalizer.Normalize(row.RawCourseName) == "" {
		fields["raw_course_name"] = "has no letters or digits"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func approvedID(rec *models.StagingRecord) *string {
	if rec == nil || rec.Status != models.StagingApproved || rec.CandidateCanonicalID == nil {
		return nil
	}
	id := *rec.CandidateCanonicalID
	return &id
}

func rawNameFor(row *models.RawIngestRow, kind models.EntityKind) string {
	if kind == models.EntityKindCollege {
		return row.RawCollegeName
	}
	return row.RawCourseName
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldErrors flattens validator errors into field -> rule.
func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out[fe.Field()] = rule
	}
	return out
}
