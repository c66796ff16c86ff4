package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
)

// envelope mirrors ApiResponse with the payload left undecoded.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errorCode  string
		message    string
	}{
		{"oversized ingest batch", http.StatusRequestEntityTooLarge, "payload_too_large",
			fmt.Sprintf("at most %d rows per request, use cutoffctl ingest for larger imports", maxIngestRows)},
		{"reviewed staging record", http.StatusConflict, "invalid_state", "staging record college:AIIMS DEHLI is already approved"},
		{"unknown course", http.StatusNotFound, "not_found", "course k-nowhere not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			err := ErrorResponse(w, tt.statusCode, tt.errorCode, tt.message)
			if err != nil {
				t.Fatalf("ErrorResponse returned error: %v", err)
			}

			resp := w.Result()
			defer resp.Body.Close()

			if resp.StatusCode != tt.statusCode {
				t.Errorf("status code = %d, want %d", resp.StatusCode, tt.statusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}

			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}
			if body["error"] != tt.errorCode {
				t.Errorf("body[error] = %q, want %q", body["error"], tt.errorCode)
			}
			if body["message"] != tt.message {
				t.Errorf("body[message] = %q, want %q", body["message"], tt.message)
			}
		})
	}
}

func TestWriteOK_IngestSummaryEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	runID := uuid.MustParse("0b6f3a52-5c1e-4a59-9a43-3f1f3f0f2c11")
	summary := &models.IngestSummary{
		RunID:          runID,
		RowsAccepted:   3,
		RowsRejected:   1,
		RowErrors:      []models.RowError{{Index: 2, Fields: map[string]string{"category": "required"}}},
		DistinctNames:  4,
		AutoMatched:    2,
		NeedsReview:    1,
		Unmatched:      1,
		CutoffsWritten: 3,
		CutoffsLinked:  2,
	}

	writeOK(w, zap.NewNop(), http.StatusOK, summary)

	resp := w.Result()
	defer resp.Body.Close()

	// WriteJSON leaves 200 to the recorder's default.
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status code = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if !env.Success {
		t.Error("success = false, want true")
	}
	var got models.IngestSummary
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if got.RunID != runID || got.CutoffsLinked != 2 || got.NeedsReview != 1 {
		t.Errorf("summary = %+v", got)
	}
	if len(got.RowErrors) != 1 || got.RowErrors[0].Fields["category"] != "required" {
		t.Errorf("row errors = %+v", got.RowErrors)
	}
}

func TestWriteOK_StagingRecordEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	candidate := "c-aiims"
	reviewedBy := "reviewer-1"
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	rec := &models.StagingRecord{
		ID:                   models.StagingID(models.EntityKindCollege, "AIIMS DEHLI"),
		RawName:              "AIIMS Dehli",
		NormalizedName:       "AIIMS DEHLI",
		EntityKind:           models.EntityKindCollege,
		CandidateCanonicalID: &candidate,
		CandidateName:        "AIIMS Delhi",
		Confidence:           0.659091,
		MatchMethod:          models.MatchFuzzy,
		Status:               models.StagingApproved,
		ReviewedBy:           &reviewedBy,
		ReviewedAt:           &at,
		CreatedAt:            at,
		UpdatedAt:            at,
	}

	writeOK(w, zap.NewNop(), http.StatusOK, rec)

	var body struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if !body.Success {
		t.Error("success = false, want true")
	}
	for field, want := range map[string]any{
		"status":                 "approved",
		"match_method":           "fuzzy",
		"candidate_canonical_id": "c-aiims",
		"confidence":             0.659091,
		"reviewed_by":            "reviewer-1",
		"reviewed_at":            "2024-06-01T09:00:00Z",
	} {
		if body.Data[field] != want {
			t.Errorf("data[%s] = %v, want %v", field, body.Data[field], want)
		}
	}
}

func TestWriteOK_UnmatchedRecordOmitsCandidate(t *testing.T) {
	w := httptest.NewRecorder()
	writeOK(w, zap.NewNop(), http.StatusCreated, &models.StagingRecord{
		ID:         models.StagingID(models.EntityKindCollege, "ZZYZX INSTITUTE"),
		RawName:    "Zzyzx Institute",
		EntityKind: models.EntityKindCollege,
		Status:     models.StagingUnmatched,
	})

	if w.Code != http.StatusCreated {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusCreated)
	}
	var body struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	for _, field := range []string{"candidate_canonical_id", "candidate_name", "match_method", "reviewed_by", "reviewed_at"} {
		if _, ok := body.Data[field]; ok {
			t.Errorf("data[%s] present on an unmatched record", field)
		}
	}
}

func TestWriteJSON_UnencodableData(t *testing.T) {
	w := httptest.NewRecorder()
	// NaN confidences cannot be JSON-encoded.
	err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]float64{"confidence": math.NaN()}})
	if err == nil {
		t.Error("expected error for unencodable data, got nil")
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{"not found", apperrors.NotFoundf("college c1 not found"), http.StatusNotFound, "not_found", "college c1 not found"},
		{"wrapped invalid state", fmt.Errorf("approve: %w", apperrors.InvalidStatef("already approved")), http.StatusConflict, "invalid_state", "already approved"},
		{"viewer cannot review", apperrors.Forbiddenf("role %q cannot review staging records", models.RoleViewer), http.StatusForbidden, "forbidden", `role "viewer" cannot review staging records`},
		{"consistency", apperrors.ConsistencyViolationf("dangling course"), http.StatusUnprocessableEntity, "consistency_violation", "dangling course"},
		{"transient", apperrors.Transient("query colleges", errors.New("timeout")), http.StatusServiceUnavailable, "transient_storage", "query colleges"},
		{"plain error is opaque", errors.New("pq: secret detail"), http.StatusInternalServerError, "internal", "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, zap.NewNop(), tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]any
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}
			if body["error"] != tt.wantCode {
				t.Errorf("body[error] = %v, want %q", body["error"], tt.wantCode)
			}
			if body["message"] != tt.wantMessage {
				t.Errorf("body[message] = %v, want %q", body["message"], tt.wantMessage)
			}
		})
	}
}

func TestWriteError_Details(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, zap.NewNop(), apperrors.ValidationWithDetails("invalid catalog entry", map[string]string{"name": "required"}))

	var body struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if w.Code != http.StatusBadRequest || body.Error != "validation" {
		t.Fatalf("got %d %q, want 400 validation", w.Code, body.Error)
	}
	if body.Details["name"] != "required" {
		t.Errorf("details = %v", body.Details)
	}
}
