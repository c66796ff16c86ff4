// Package audit records append-only change entries for pipeline state
// changes. Entries are written in the same storage batch as the change they
// describe and mirrored to a dedicated "audit" logger for log shipping.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/repositories"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// flushChunk bounds how many entries a single Buffer batch carries.
const flushChunk = 500

// Sink builds and persists audit entries.
type Sink struct {
	tables storage.TableStore
	repo   repositories.AuditRepository
	clock  storage.Clock
	logger *zap.Logger
}

// NewSink creates a Sink writing to tables.
func NewSink(tables storage.TableStore, clock storage.Clock, logger *zap.Logger) *Sink {
	if clock == nil {
		clock = storage.SystemClock{}
	}
	return &Sink{
		tables: tables,
		repo:   repositories.NewAuditRepository(tables),
		clock:  clock,
		logger: logger.Named("audit"),
	}
}

// Entry builds a new entry stamped with a fresh id and the current time.
// before and after are marshaled to JSON; nil values are stored as null.
func (s *Sink) Entry(actorID, action, resourceType, resourceID string, before, after any) *models.AuditEntry {
	return &models.AuditEntry{
		ID:           uuid.New(),
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Before:       snapshot(before),
		After:        snapshot(after),
		Timestamp:    s.clock.Now(),
	}
}

// Ops returns insert operations for entries, to be appended to the batch
// that performs the audited change.
func (s *Sink) Ops(entries ...*models.AuditEntry) []storage.BatchOp {
	ops := make([]storage.BatchOp, len(entries))
	for i, e := range entries {
		ops[i] = s.repo.InsertOp(e)
	}
	return ops
}

// Committed logs entries whose batch has been applied.
func (s *Sink) Committed(entries ...*models.AuditEntry) {
	for _, e := range entries {
		s.logger.Info("Audit",
			zap.String("audit_id", e.ID.String()),
			zap.String("actor_id", e.ActorID),
			zap.String("action", e.Action),
			zap.String("resource_type", e.ResourceType),
			zap.String("resource_id", e.ResourceID))
	}
}

// Record writes entries in their own batch.
func (s *Sink) Record(ctx context.Context, entries ...*models.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.tables.Batch(ctx, s.Ops(entries...)); err != nil {
		s.logger.Error("Failed to write audit entries", zap.Int("count", len(entries)), zap.Error(err))
		return fmt.Errorf("write audit entries: %w", err)
	}
	s.Committed(entries...)
	return nil
}

// List returns matching entries, newest first, with the total match count.
func (s *Sink) List(ctx context.Context, filter models.AuditFilter, page models.Page) ([]*models.AuditEntry, int, error) {
	return s.repo.List(ctx, filter, page)
}

// NewBuffer returns an empty Buffer flushing through s.
func (s *Sink) NewBuffer() *Buffer {
	return &Buffer{sink: s}
}

// Buffer collects entries from concurrent workers. Callers must Flush
// before the operation that produced the entries returns.
type Buffer struct {
	sink    *Sink
	mu      sync.Mutex
	entries []*models.AuditEntry
}

// Add queues entries.
func (b *Buffer) Add(entries ...*models.AuditEntry) {
	b.mu.Lock()
	b.entries = append(b.entries, entries...)
	b.mu.Unlock()
}

// Len returns the number of queued entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Flush writes queued entries in chunks and empties the buffer. Entries of a
// failed chunk are put back so a later Flush can retry them.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.entries
	b.entries = nil
	b.mu.Unlock()

	for start := 0; start < len(pending); start += flushChunk {
		end := min(start+flushChunk, len(pending))
		if err := b.sink.Record(ctx, pending[start:end]...); err != nil {
			b.Add(pending[start:]...)
			return err
		}
	}
	return nil
}

var jsonNull = []byte("null")

func snapshot(v any) []byte {
	b := models.Snapshot(v)
	if bytes.Equal(b, jsonNull) {
		return nil
	}
	return b
}
