package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited.
const (
	AuditActionCreate       = "create"
	AuditActionUpdate       = "update"
	AuditActionDelete       = "delete"
	AuditActionApproveMatch = "approve_match"
	AuditActionRejectMatch  = "reject_match"
)

// Audited resource types.
const (
	AuditResourceStaging   = "staging_record"
	AuditResourceCollege   = "college"
	AuditResourceCourse    = "course"
	AuditResourceCutoff    = "cutoff"
	AuditResourceIngestRun = "ingest_run"
)

// AuditEntry is an immutable record of one state change. Entries are only
// ever appended.
type AuditEntry struct {
	ID           uuid.UUID       `json:"id"`
	ActorID      string          `json:"actor_id"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// AuditFilter narrows audit listings. Zero values are ignored.
type AuditFilter struct {
	ActorID      string     `json:"actor_id,omitempty"`
	Action       string     `json:"action,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	ResourceID   string     `json:"resource_id,omitempty"`
	Since        *time.Time `json:"since,omitempty"`
	Until        *time.Time `json:"until,omitempty"`
}

// Snapshot marshals v for use as an audit before/after image.
// A nil value yields a nil snapshot.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
