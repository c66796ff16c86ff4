package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
)

// maxBodyBytes bounds request bodies; ingest batches are the largest.
const maxBodyBytes = 32 << 20

// ListResponse wraps one page of results.
type ListResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// parsePage reads ?page= and ?limit=. Missing values fall back to defaults.
func parsePage(r *http.Request) (models.Page, error) {
	var p models.Page
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, apperrors.Validationf("page must be a positive integer")
		}
		p.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, apperrors.Validationf("limit must be a positive integer")
		}
		p.Limit = n
	}
	return p.Normalize(), nil
}

// parseTime reads an optional RFC3339 query parameter.
func parseTime(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperrors.Validationf("%s must be an RFC3339 timestamp", name)
	}
	return &t, nil
}

// decodeJSON decodes the request body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Validationf("request body is empty")
		}
		return apperrors.Validationf("invalid request body: %v", err)
	}
	return nil
}

// callerFrom returns the caller attached by middleware.RequireCaller.
func callerFrom(r *http.Request) (models.Caller, error) {
	c, ok := models.GetCaller(r.Context())
	if !ok {
		return models.Caller{}, apperrors.Forbiddenf("no caller in request")
	}
	return c, nil
}
