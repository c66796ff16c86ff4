package models

// Course is a canonical course. Rollups are derived, never authored.
type Course struct {
	ID             string        `json:"id" validate:"required"`
	Name           string        `json:"name" validate:"required"`
	NormalizedName string        `json:"normalized_name"`
	Stream         string        `json:"stream"`
	Branch         string        `json:"branch"`
	DegreeType     string        `json:"degree_type"`
	DurationYears  int           `json:"duration_years" validate:"min=0,max=10"`
	Rollups        CourseRollups `json:"rollups"`
}

// CourseRollups are derived statistics over a course's approved cutoffs.
type CourseRollups struct {
	TotalColleges  int      `json:"total_colleges"`
	YearsOffered   int      `json:"years_offered"`
	AvgOpeningRank *float64 `json:"avg_opening_rank"`
	AvgClosingRank *float64 `json:"avg_closing_rank"`
	BestRank       *int     `json:"best_rank"`
	WorstRank      *int     `json:"worst_rank"`
}

// CourseFilter narrows course listings. Empty fields are ignored.
type CourseFilter struct {
	Stream       string `json:"stream,omitempty"`
	Branch       string `json:"branch,omitempty"`
	DegreeType   string `json:"degree_type,omitempty"`
	NameContains string `json:"name_contains,omitempty"`
}

// CourseDetail is the cached read projection for a single course.
type CourseDetail struct {
	Course   Course           `json:"course"`
	Colleges []CollegeSummary `json:"colleges"`
	Cutoffs  []Cutoff         `json:"cutoffs"`
}

// CollegeSummary is a compact college reference inside a course projection.
type CollegeSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// Classification is the rule-derived taxonomy of a course name.
type Classification struct {
	Stream       string `json:"stream"`
	Branch       string `json:"branch"`
	DegreeType   string `json:"degree_type"`
	LevelOfStudy string `json:"level_of_study"`
}
