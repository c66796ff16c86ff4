package models

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// idNamespace seeds the name-based UUIDs below. Changing it changes every
// derived id.
var idNamespace = uuid.MustParse("6f1c2a4e-8b0d-4d3e-9a51-3c7f0e2b9d14")

// StagingID derives the id of the staging record for a normalized name so
// that re-ingesting the same name finds the same record.
func StagingID(kind EntityKind, normalizedName string) string {
	return uuid.NewSHA1(idNamespace, []byte(string(kind)+"\x00"+normalizedName)).String()
}

// CutoffID derives a stable id from the natural key of an ingest row.
func CutoffID(r *RawIngestRow) string {
	year := ""
	if r.Year != nil {
		year = strconv.Itoa(*r.Year)
	}
	key := strings.Join([]string{
		r.SourceFile, year, strconv.Itoa(r.Round),
		r.RawCollegeName, r.RawCourseName, r.Category, r.Quota,
	}, "\x00")
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}
