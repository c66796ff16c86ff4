package models

import "time"

// EntityKind distinguishes what a raw name refers to.
type EntityKind string

const (
	EntityKindCollege EntityKind = "college"
	EntityKindCourse  EntityKind = "course"
)

// IsValid returns true for known entity kinds.
func (k EntityKind) IsValid() bool {
	return k == EntityKindCollege || k == EntityKindCourse
}

// StagingStatus is the reconciliation state of a raw name.
type StagingStatus string

const (
	StagingUnmatched     StagingStatus = "unmatched"
	StagingPendingReview StagingStatus = "pending_review"
	StagingApproved      StagingStatus = "approved"
	StagingRejected      StagingStatus = "rejected"
)

// IsValid returns true for known statuses.
func (s StagingStatus) IsValid() bool {
	switch s {
	case StagingUnmatched, StagingPendingReview, StagingApproved, StagingRejected:
		return true
	default:
		return false
	}
}

// MatchMethod records how a candidate was found.
type MatchMethod string

const (
	MatchExact  MatchMethod = "exact"
	MatchFuzzy  MatchMethod = "fuzzy"
	MatchVector MatchMethod = "vector"
	MatchManual MatchMethod = "manual"
)

// StagingRecord is the reconciliation unit for one distinct raw name.
type StagingRecord struct {
	ID                   string        `json:"id"`
	RawName              string        `json:"raw_name"`
	NormalizedName       string        `json:"normalized_name"`
	EntityKind           EntityKind    `json:"entity_kind"`
	CandidateCanonicalID *string       `json:"candidate_canonical_id,omitempty"`
	CandidateName        string        `json:"candidate_name,omitempty"`
	Confidence           float64       `json:"confidence"`
	MatchMethod          MatchMethod   `json:"match_method,omitempty"`
	Status               StagingStatus `json:"status"`
	ReviewedBy           *string       `json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time    `json:"reviewed_at,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// StagingFilter narrows staging listings. Zero values are ignored.
type StagingFilter struct {
	Status     StagingStatus `json:"status,omitempty"`
	EntityKind EntityKind    `json:"entity_kind,omitempty"`
}

// StagingSummaryRow counts staging records for one (kind, status) pair.
type StagingSummaryRow struct {
	EntityKind EntityKind    `json:"entity_kind"`
	Status     StagingStatus `json:"status"`
	Count      int           `json:"count"`
	AvgScore   float64       `json:"avg_confidence"`
}
