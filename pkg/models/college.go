package models

// College types.
const (
	CollegeTypeMedical    = "Medical"
	CollegeTypeDental     = "Dental"
	CollegeTypeAYUSH      = "AYUSH"
	CollegeTypeVeterinary = "Veterinary"
)

// Management types.
const (
	ManagementGovernment = "Government"
	ManagementPrivate    = "Private"
	ManagementTrust      = "Trust"
	ManagementDeemed     = "Deemed"
)

// College is a canonical institution. Rollups are owned by the warehouse
// builder and recomputed from approved cutoff rows.
type College struct {
	ID              string         `json:"id" validate:"required"`
	Name            string         `json:"name" validate:"required"`
	NormalizedName  string         `json:"normalized_name"`
	City            string         `json:"city"`
	State           string         `json:"state"`
	Type            string         `json:"type" validate:"omitempty,oneof=Medical Dental AYUSH Veterinary"`
	ManagementType  string         `json:"management_type" validate:"omitempty,oneof=Government Private Trust Deemed"`
	EstablishedYear *int           `json:"established_year,omitempty" validate:"omitempty,min=1800,max=2100"`
	Rollups         CollegeRollups `json:"rollups"`
}

// CollegeRollups are derived statistics over a college's approved cutoffs.
type CollegeRollups struct {
	TotalCourses  int      `json:"total_courses"`
	TotalSeats    int      `json:"total_seats"`
	BestRank      *int     `json:"best_rank"`
	WorstRank     *int     `json:"worst_rank"`
	AvgCutoffRank *float64 `json:"avg_cutoff_rank"`
	YearsActive   int      `json:"years_active"`
}

// CollegeFilter narrows college listings. Empty fields are ignored.
type CollegeFilter struct {
	State          string `json:"state,omitempty"`
	City           string `json:"city,omitempty"`
	Type           string `json:"type,omitempty"`
	ManagementType string `json:"management_type,omitempty"`
	NameContains   string `json:"name_contains,omitempty"`
}

// CollegeDetail is the cached read projection for a single college.
type CollegeDetail struct {
	College College         `json:"college"`
	Courses []CourseSummary `json:"courses"`
	Cutoffs []Cutoff        `json:"cutoffs"`
}

// CourseSummary is a compact course reference inside a college projection.
type CourseSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Stream string `json:"stream"`
}
