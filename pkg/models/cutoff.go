package models

// Cutoff reconciliation status. A cutoff is approved once both its college
// and course names resolve to approved canonical ids.
const (
	CutoffStatusPending  = "pending"
	CutoffStatusApproved = "approved"
)

// Cutoff is one admission fact row. Before approval it carries raw names in
// place of canonical ids.
type Cutoff struct {
	ID                   string  `json:"id"`
	CollegeID            *string `json:"college_id,omitempty"`
	CourseID             *string `json:"course_id,omitempty"`
	RawCollegeName       string  `json:"raw_college_name"`
	RawCourseName        string  `json:"raw_course_name"`
	NormalizedCollege    string  `json:"normalized_college_name"`
	NormalizedCourse     string  `json:"normalized_course_name"`
	Year                 *int    `json:"year,omitempty"`
	Round                int     `json:"round"`
	Category             string  `json:"category"`
	Quota                string  `json:"quota"`
	OpeningRank          *int    `json:"opening_rank,omitempty"`
	ClosingRank          *int    `json:"closing_rank,omitempty"`
	SourceFile           string  `json:"source_file"`
	ReconciliationStatus string  `json:"reconciliation_status"`
}

// Linked reports whether both canonical references are set.
func (c *Cutoff) Linked() bool {
	return c.CollegeID != nil && c.CourseID != nil
}
