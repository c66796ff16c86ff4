package models

// RebuildScope selects which entities a rollup rebuild touches. The zero
// value means every college and course.
type RebuildScope struct {
	CollegeID string `json:"college_id,omitempty"`
	CourseID  string `json:"course_id,omitempty"`
}

// All reports whether the scope covers every entity.
func (s RebuildScope) All() bool {
	return s.CollegeID == "" && s.CourseID == ""
}

// EntityFailure records one entity whose rebuild batch did not apply.
type EntityFailure struct {
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   string     `json:"entity_id"`
	Kind       string     `json:"kind"`
	Message    string     `json:"message"`
}

// RebuildStats summarizes a rebuild run.
type RebuildStats struct {
	CollegesRebuilt   int             `json:"colleges_rebuilt"`
	CoursesRebuilt    int             `json:"courses_rebuilt"`
	CutoffsConsidered int             `json:"cutoffs_considered"`
	Failures          []EntityFailure `json:"failures,omitempty"`
}
