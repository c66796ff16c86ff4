package models

import "github.com/google/uuid"

// RawIngestRow is one admission tuple from an external import. Ranks and
// year are optional; everything else is required.
type RawIngestRow struct {
	RawCollegeName string `json:"raw_college_name" validate:"required,max=512"`
	RawCourseName  string `json:"raw_course_name" validate:"required,max=256"`
	Year           *int   `json:"year,omitempty" validate:"omitempty,min=1990,max=2100"`
	Round          int    `json:"round" validate:"required,min=1,max=20"`
	Category       string `json:"category" validate:"required,max=64"`
	Quota          string `json:"quota,omitempty" validate:"max=64"`
	OpeningRank    *int   `json:"opening_rank,omitempty" validate:"omitempty,gt=0"`
	ClosingRank    *int   `json:"closing_rank,omitempty" validate:"omitempty,gt=0"`
	SourceFile     string `json:"source_file" validate:"required"`
}

// RowError explains why an ingest row was rejected at the boundary.
type RowError struct {
	Index  int               `json:"index"`
	Fields map[string]string `json:"fields"`
}

// IngestSummary reports the outcome of one ingestion run.
type IngestSummary struct {
	RunID          uuid.UUID  `json:"run_id"`
	RowsAccepted   int        `json:"rows_accepted"`
	RowsRejected   int        `json:"rows_rejected"`
	RowErrors      []RowError `json:"row_errors,omitempty"`
	DistinctNames  int        `json:"distinct_names"`
	AutoMatched    int        `json:"auto_matched"`
	NeedsReview    int        `json:"needs_review"`
	Unmatched      int        `json:"unmatched"`
	Rejected       int        `json:"rejected"`
	CutoffsWritten int        `json:"cutoffs_written"`
	CutoffsLinked  int        `json:"cutoffs_linked"`
}
