package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/classifier"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/config"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/logging"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/matching"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/pipeline"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/repositories"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// Metric names emitted by the reconciler.
const (
	MetricStagingIngested       = "staging_ingested_total"
	MetricStagingApproved       = "staging_approved_total"
	MetricStagingRejected       = "staging_rejected_total"
	MetricStagingRejectedReused = "staging_rejection_reused_total"
)

// ReconcilerService matches raw college and course names against the
// canonical catalog and drives the review workflow of staging records.
type ReconcilerService interface {
	// Ingest creates or re-evaluates the staging record for rawName. An exact
	// normalized match approves with method exact; otherwise the best
	// candidate is auto-approved, queued for review or left unmatched by its
	// confidence. A rejected record is returned unchanged unless
	// forceRescore is set, which reopens it first.
	Ingest(ctx context.Context, caller models.Caller, rawName string, kind models.EntityKind, forceRescore bool) (*models.StagingRecord, error)

	// ApproveMatch accepts the candidate of a pending_review record.
	ApproveMatch(ctx context.Context, caller models.Caller, stagingID string) (*models.StagingRecord, error)

	// RejectMatch marks a pending_review record as a confirmed non-match.
	RejectMatch(ctx context.Context, caller models.Caller, stagingID string) (*models.StagingRecord, error)

	// ManualMatch links an unmatched or pending_review record to canonicalID.
	ManualMatch(ctx context.Context, caller models.Caller, stagingID, canonicalID string) (*models.StagingRecord, error)

	ListStaging(ctx context.Context, filter models.StagingFilter, page models.Page) ([]*models.StagingRecord, int, error)
	GetStaging(ctx context.Context, id string) (*models.StagingRecord, error)
	Summary(ctx context.Context) ([]models.StagingSummaryRow, error)
}

type reconcilerService struct {
	pc         *pipeline.Context
	staging    repositories.StagingRepository
	colleges   repositories.CollegeRepository
	courses    repositories.CourseRepository
	cutoffs    repositories.CutoffRepository
	normalizer *matching.Normalizer
	scorer     *matching.Scorer
	classifier *classifier.Classifier
	cfg        config.ReconcileConfig
	logger     *zap.Logger
}

// NewReconcilerService creates a ReconcilerService.
func NewReconcilerService(pc *pipeline.Context, cfg config.ReconcileConfig, normalizer *matching.Normalizer) (ReconcilerService, error) {
	scorer, err := matching.NewScorer(cfg.TokenWeight, cfg.EditWeight)
	if err != nil {
		return nil, err
	}
	if cfg.RecallSize <= 0 {
		cfg.RecallSize = 10
	}
	return &reconcilerService{
		pc:         pc,
		staging:    repositories.NewStagingRepository(pc.Tables),
		colleges:   repositories.NewCollegeRepository(pc.Tables),
		courses:    repositories.NewCourseRepository(pc.Tables),
		cutoffs:    repositories.NewCutoffRepository(pc.Tables),
		normalizer: normalizer,
		scorer:     scorer,
		classifier: classifier.Default(),
		cfg:        cfg,
		logger:     pc.Logger.Named("reconciler"),
	}, nil
}

var _ ReconcilerService = (*reconcilerService)(nil)

// candidate is the best canonical match found for a normalized name.
type candidate struct {
	id         string
	name       string
	confidence float64
	method     models.MatchMethod
}

func (s *reconcilerService) Ingest(ctx context.Context, caller models.Caller, rawName string, kind models.EntityKind, forceRescore bool) (*models.StagingRecord, error) {
	if !caller.CanMutate() {
		return nil, apperrors.Forbiddenf("role %q cannot ingest staging records", caller.Role)
	}
	if !kind.IsValid() {
		return nil, apperrors.Validationf("unknown entity kind %q", kind)
	}
	normalized := s.normalizer.Normalize(rawName)
	if normalized == "" {
		return nil, apperrors.Validationf("raw name is empty")
	}
	id := models.StagingID(kind, normalized)

	release, err := s.pc.Locker.Acquire(ctx, stagingLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock staging record: %w", err)
	}
	defer release()

	existing, err := s.staging.Get(ctx, id)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		existing = nil
	}

	var entries []*models.AuditEntry
	if existing != nil {
		switch existing.Status {
		case models.StagingApproved:
			return existing, nil
		case models.StagingRejected:
			if !forceRescore {
				s.pc.Metrics.Emit(ctx, MetricStagingRejectedReused, 1, map[string]string{"kind": string(kind)})
				return existing, nil
			}
			reopened := *existing
			reopened.Status = models.StagingUnmatched
			entries = append(entries, s.pc.Audit.Entry(caller.UID, models.AuditActionUpdate,
				models.AuditResourceStaging, id, existing, &reopened))
			existing = &reopened
		}
	}

	best, err := s.bestCandidate(ctx, rawName, normalized, kind)
	if err != nil {
		return nil, err
	}

	now := s.pc.Clock.Now()
	rec := &models.StagingRecord{
		ID:             id,
		RawName:        rawName,
		NormalizedName: normalized,
		EntityKind:     kind,
		Status:         models.StagingUnmatched,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if existing != nil {
		rec.RawName = existing.RawName
		rec.CreatedAt = existing.CreatedAt
	}
	switch {
	case best == nil || best.confidence < s.cfg.ReviewFloor:
	case best.confidence >= s.cfg.AutoApproveThreshold:
		rec.Status = models.StagingApproved
	default:
		rec.Status = models.StagingPendingReview
	}
	if rec.Status != models.StagingUnmatched {
		rec.CandidateCanonicalID = &best.id
		rec.CandidateName = best.name
		rec.Confidence = best.confidence
		rec.MatchMethod = best.method
	}

	if existing != nil && len(entries) == 0 && sameOutcome(existing, rec) {
		return existing, nil
	}

	action := models.AuditActionUpdate
	switch {
	case rec.Status == models.StagingApproved:
		action = models.AuditActionApproveMatch
	case existing == nil:
		action = models.AuditActionCreate
	}
	var before any
	if existing != nil {
		before = existing
	}
	entries = append(entries, s.pc.Audit.Entry(caller.UID, action, models.AuditResourceStaging, id, before, rec))

	ops := []storage.BatchOp{s.staging.UpsertOp(rec)}
	ops = append(ops, s.pc.Audit.Ops(entries...)...)
	if rec.Status == models.StagingApproved {
		ops = append(ops, s.cutoffs.LinkOps(kind, normalized, *rec.CandidateCanonicalID)...)
	}
	if err := s.pc.Tables.Batch(ctx, ops); err != nil {
		return nil, fmt.Errorf("write staging record: %w", err)
	}
	s.pc.Audit.Committed(entries...)

	s.pc.Metrics.Emit(ctx, MetricStagingIngested, 1, map[string]string{"kind": string(kind), "status": string(rec.Status)})
	if rec.Status == models.StagingApproved {
		s.pc.Metrics.Emit(ctx, MetricStagingApproved, 1, map[string]string{"kind": string(kind), "method": string(rec.MatchMethod)})
	}
	s.logger.Debug("Ingested staging record",
		zap.String("staging_id", id),
		zap.String("raw_name", logging.TruncateName(rawName)),
		zap.String("normalized_name", normalized),
		zap.String("status", string(rec.Status)),
		zap.Float64("confidence", rec.Confidence))
	return rec, nil
}

// bestCandidate returns the strongest canonical match for normalized, or nil
// when the catalog has nothing to offer.
func (s *reconcilerService) bestCandidate(ctx context.Context, rawName, normalized string, kind models.EntityKind) (*candidate, error) {
	exact, err := s.findExact(ctx, kind, normalized)
	if err != nil {
		return nil, err
	}
	if exact != nil {
		exact.confidence = 1
		exact.method = models.MatchExact
		return exact, nil
	}

	filter := map[string]string{metaKind: string(kind)}
	if kind == models.EntityKindCourse {
		if stream := s.classifier.Classify(rawName).Stream; stream != classifier.Other {
			filter[metaStream] = stream
		}
	}
	hits, err := s.pc.Vectors.Query(ctx, storage.VectorQuery{Text: normalized, TopK: s.cfg.RecallSize, Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	if len(hits) == 0 && len(filter) > 1 {
		delete(filter, metaStream)
		hits, err = s.pc.Vectors.Query(ctx, storage.VectorQuery{Text: normalized, TopK: s.cfg.RecallSize, Filter: filter})
		if err != nil {
			return nil, fmt.Errorf("query candidates: %w", err)
		}
	}

	var best *candidate
	var bestHit float64
	for _, h := range hits {
		lexical := s.scorer.Score(normalized, h.Metadata[metaNormalizedName])
		// Hits arrive ordered by index score then id, so strict comparison
		// keeps the earlier hit on equal lexical scores.
		if best != nil && lexical <= best.confidence {
			continue
		}
		best = &candidate{id: h.Metadata[metaCanonicalID], name: h.Metadata[metaName], confidence: lexical}
		bestHit = h.Score
	}
	if best == nil {
		return nil, nil
	}
	best.method = models.MatchVector
	if best.confidence >= bestHit {
		best.method = models.MatchFuzzy
	}
	return best, nil
}

func (s *reconcilerService) findExact(ctx context.Context, kind models.EntityKind, normalized string) (*candidate, error) {
	if kind == models.EntityKindCollege {
		c, err := s.colleges.FindByNormalizedName(ctx, normalized)
		if err != nil || c == nil {
			return nil, err
		}
		return &candidate{id: c.ID, name: c.Name}, nil
	}
	c, err := s.courses.FindByNormalizedName(ctx, normalized)
	if err != nil || c == nil {
		return nil, err
	}
	return &candidate{id: c.ID, name: c.Name}, nil
}

// canonicalName returns the name of the canonical entity or a not_found error.
func (s *reconcilerService) canonicalName(ctx context.Context, kind models.EntityKind, id string) (string, error) {
	if kind == models.EntityKindCollege {
		c, err := s.colleges.Get(ctx, id)
		if err != nil {
			return "", err
		}
		return c.Name, nil
	}
	c, err := s.courses.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return c.Name, nil
}

func (s *reconcilerService) ApproveMatch(ctx context.Context, caller models.Caller, stagingID string) (*models.StagingRecord, error) {
	return s.transition(ctx, caller, stagingID, func(rec *models.StagingRecord) (string, error) {
		if rec.Status != models.StagingPendingReview {
			return "", apperrors.InvalidStatef("staging record %s is %s; approve requires pending_review", rec.ID, rec.Status)
		}
		if rec.CandidateCanonicalID == nil {
			return "", apperrors.InvalidStatef("staging record %s has no candidate to approve", rec.ID)
		}
		if _, err := s.canonicalName(ctx, rec.EntityKind, *rec.CandidateCanonicalID); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return "", apperrors.InvalidStatef("candidate %s of staging record %s no longer exists", *rec.CandidateCanonicalID, rec.ID)
			}
			return "", err
		}
		rec.Status = models.StagingApproved
		return models.AuditActionApproveMatch, nil
	})
}

func (s *reconcilerService) RejectMatch(ctx context.Context, caller models.Caller, stagingID string) (*models.StagingRecord, error) {
	return s.transition(ctx, caller, stagingID, func(rec *models.StagingRecord) (string, error) {
		if rec.Status != models.StagingPendingReview {
			return "", apperrors.InvalidStatef("staging record %s is %s; reject requires pending_review", rec.ID, rec.Status)
		}
		rec.Status = models.StagingRejected
		return models.AuditActionRejectMatch, nil
	})
}

func (s *reconcilerService) ManualMatch(ctx context.Context, caller models.Caller, stagingID, canonicalID string) (*models.StagingRecord, error) {
	if canonicalID == "" {
		return nil, apperrors.Validationf("canonical id is required")
	}
	return s.transition(ctx, caller, stagingID, func(rec *models.StagingRecord) (string, error) {
		if rec.Status != models.StagingUnmatched && rec.Status != models.StagingPendingReview {
			return "", apperrors.InvalidStatef("staging record %s is %s; manual match requires unmatched or pending_review", rec.ID, rec.Status)
		}
		name, err := s.canonicalName(ctx, rec.EntityKind, canonicalID)
		if err != nil {
			return "", err
		}
		rec.CandidateCanonicalID = &canonicalID
		rec.CandidateName = name
		rec.Confidence = 1
		rec.MatchMethod = models.MatchManual
		rec.Status = models.StagingApproved
		return models.AuditActionApproveMatch, nil
	})
}

// transition applies mutate to the record under its lock and writes the
// result, its audit entry and, on approval, the cutoff links in one batch.
func (s *reconcilerService) transition(ctx context.Context, caller models.Caller, stagingID string, mutate func(rec *models.StagingRecord) (string, error)) (*models.StagingRecord, error) {
	if !caller.CanMutate() {
		return nil, apperrors.Forbiddenf("role %q cannot review staging records", caller.Role)
	}

	release, err := s.pc.Locker.Acquire(ctx, stagingLockKey(stagingID))
	if err != nil {
		return nil, fmt.Errorf("lock staging record: %w", err)
	}
	defer release()

	before, err := s.staging.Get(ctx, stagingID)
	if err != nil {
		return nil, err
	}
	rec := *before
	action, err := mutate(&rec)
	if err != nil {
		return nil, err
	}

	now := s.pc.Clock.Now()
	rec.ReviewedBy = &caller.UID
	rec.ReviewedAt = &now
	rec.UpdatedAt = now

	entry := s.pc.Audit.Entry(caller.UID, action, models.AuditResourceStaging, rec.ID, before, &rec)
	ops := []storage.BatchOp{s.staging.UpsertOp(&rec)}
	ops = append(ops, s.pc.Audit.Ops(entry)...)
	if rec.Status == models.StagingApproved {
		ops = append(ops, s.cutoffs.LinkOps(rec.EntityKind, rec.NormalizedName, *rec.CandidateCanonicalID)...)
	}
	if err := s.pc.Tables.Batch(ctx, ops); err != nil {
		return nil, fmt.Errorf("write staging transition: %w", err)
	}
	s.pc.Audit.Committed(entry)

	tags := map[string]string{"kind": string(rec.EntityKind), "method": string(rec.MatchMethod)}
	switch rec.Status {
	case models.StagingApproved:
		s.pc.Metrics.Emit(ctx, MetricStagingApproved, 1, tags)
	case models.StagingRejected:
		s.pc.Metrics.Emit(ctx, MetricStagingRejected, 1, tags)
	}
	s.logger.Info("Staging record transitioned",
		zap.String("staging_id", rec.ID),
		zap.String("from", string(before.Status)),
		zap.String("to", string(rec.Status)),
		zap.String("actor_id", caller.UID))
	return &rec, nil
}

func (s *reconcilerService) ListStaging(ctx context.Context, filter models.StagingFilter, page models.Page) ([]*models.StagingRecord, int, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, apperrors.Validationf("unknown staging status %q", filter.Status)
	}
	if filter.EntityKind != "" && !filter.EntityKind.IsValid() {
		return nil, 0, apperrors.Validationf("unknown entity kind %q", filter.EntityKind)
	}
	return s.staging.List(ctx, filter, page)
}

func (s *reconcilerService) GetStaging(ctx context.Context, id string) (*models.StagingRecord, error) {
	return s.staging.Get(ctx, id)
}

func (s *reconcilerService) Summary(ctx context.Context) ([]models.StagingSummaryRow, error) {
	return s.staging.Summary(ctx)
}

func stagingLockKey(id string) string {
	return "staging:" + id
}

// sameOutcome reports whether re-evaluation left the record unchanged.
func sameOutcome(a, b *models.StagingRecord) bool {
	if a.Status != b.Status || a.MatchMethod != b.MatchMethod || a.Confidence != b.Confidence {
		return false
	}
	if (a.CandidateCanonicalID == nil) != (b.CandidateCanonicalID == nil) {
		return false
	}
	return a.CandidateCanonicalID == nil || *a.CandidateCanonicalID == *b.CandidateCanonicalID
}
