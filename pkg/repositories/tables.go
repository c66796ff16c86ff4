// Package repositories maps domain models onto storage tables. Every
// repository talks to a storage.TableStore, so the same code runs against
// Postgres and the local SQLite emulation.
package repositories

import "github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"

// Table schemas. The Postgres migrations create identical tables; the local
// backend creates them from these definitions.
var (
	CollegesTable = &storage.Table{
		Name: "colleges",
		Key:  []string{"id"},
		Columns: []storage.Column{
			{Name: "id", Type: storage.TypeText},
			{Name: "name", Type: storage.TypeText},
			{Name: "normalized_name", Type: storage.TypeText},
			{Name: "city", Type: storage.TypeText},
			{Name: "state", Type: storage.TypeText},
			{Name: "type", Type: storage.TypeText},
			{Name: "management_type", Type: storage.TypeText},
			{Name: "established_year", Type: storage.TypeInt, Nullable: true},
			{Name: "total_courses", Type: storage.TypeInt, Nullable: true},
			{Name: "total_seats", Type: storage.TypeInt, Nullable: true},
			{Name: "best_rank", Type: storage.TypeInt, Nullable: true},
			{Name: "worst_rank", Type: storage.TypeInt, Nullable: true},
			{Name: "avg_cutoff_rank", Type: storage.TypeFloat, Nullable: true},
			{Name: "years_active", Type: storage.TypeInt, Nullable: true},
		},
		Indexes: [][]string{{"normalized_name"}, {"state"}},
	}

	CoursesTable = &storage.Table{
		Name: "courses",
		Key:  []string{"id"},
		Columns: []storage.Column{
			{Name: "id", Type: storage.TypeText},
			{Name: "name", Type: storage.TypeText},
			{Name: "normalized_name", Type: storage.TypeText},
			{Name: "stream", Type: storage.TypeText},
			{Name: "branch", Type: storage.TypeText},
			{Name: "degree_type", Type: storage.TypeText},
			{Name: "duration_years", Type: storage.TypeInt},
			{Name: "total_colleges", Type: storage.TypeInt, Nullable: true},
			{Name: "years_offered", Type: storage.TypeInt, Nullable: true},
			{Name: "avg_opening_rank", Type: storage.TypeFloat, Nullable: true},
			{Name: "avg_closing_rank", Type: storage.TypeFloat, Nullable: true},
			{Name: "best_rank", Type: storage.TypeInt, Nullable: true},
			{Name: "worst_rank", Type: storage.TypeInt, Nullable: true},
		},
		Indexes: [][]string{{"normalized_name"}, {"stream"}},
	}

	CutoffsTable = &storage.Table{
		Name: "cutoffs",
		Key:  []string{"id"},
		Columns: []storage.Column{
			{Name: "id", Type: storage.TypeText},
			{Name: "college_id", Type: storage.TypeText, Nullable: true},
			{Name: "course_id", Type: storage.TypeText, Nullable: true},
			{Name: "raw_college_name", Type: storage.TypeText},
			{Name: "raw_course_name", Type: storage.TypeText},
			{Name: "normalized_college_name", Type: storage.TypeText},
			{Name: "normalized_course_name", Type: storage.TypeText},
			{Name: "year", Type: storage.TypeInt, Nullable: true},
			{Name: "round", Type: storage.TypeInt},
			{Name: "category", Type: storage.TypeText},
			{Name: "quota", Type: storage.TypeText},
			{Name: "opening_rank", Type: storage.TypeInt, Nullable: true},
			{Name: "closing_rank", Type: storage.TypeInt, Nullable: true},
			{Name: "source_file", Type: storage.TypeText},
			{Name: "reconciliation_status", Type: storage.TypeText},
		},
		Indexes: [][]string{
			{"college_id"}, {"course_id"},
			{"normalized_college_name"}, {"normalized_course_name"},
			{"reconciliation_status"},
		},
	}

	StagingTable = &storage.Table{
		Name: "staging_records",
		Key:  []string{"id"},
		Columns: []storage.Column{
			{Name: "id", Type: storage.TypeText},
			{Name: "raw_name", Type: storage.TypeText},
			{Name: "normalized_name", Type: storage.TypeText},
			{Name: "entity_kind", Type: storage.TypeText},
			{Name: "candidate_canonical_id", Type: storage.TypeText, Nullable: true},
			{Name: "candidate_name", Type: storage.TypeText},
			{Name: "confidence", Type: storage.TypeFloat},
			{Name: "match_method", Type: storage.TypeText},
			{Name: "status", Type: storage.TypeText},
			{Name: "reviewed_by", Type: storage.TypeText, Nullable: true},
			{Name: "reviewed_at", Type: storage.TypeTime, Nullable: true},
			{Name: "created_at", Type: storage.TypeTime},
			{Name: "updated_at", Type: storage.TypeTime},
		},
		Indexes: [][]string{{"status", "entity_kind"}, {"normalized_name"}},
	}

	AuditTable = &storage.Table{
		Name: "audit_log",
		Key:  []string{"id"},
		Columns: []storage.Column{
			{Name: "id", Type: storage.TypeText},
			{Name: "actor_id", Type: storage.TypeText},
			{Name: "action", Type: storage.TypeText},
			{Name: "resource_type", Type: storage.TypeText},
			{Name: "resource_id", Type: storage.TypeText},
			{Name: "before", Type: storage.TypeJSON, Nullable: true},
			{Name: "after", Type: storage.TypeJSON, Nullable: true},
			{Name: "timestamp", Type: storage.TypeTime},
		},
		Indexes: [][]string{{"resource_type", "resource_id"}, {"timestamp"}},
	}
)

// AllTables lists every table the pipeline owns, dimensions before facts.
func AllTables() []*storage.Table {
	return []*storage.Table{CollegesTable, CoursesTable, CutoffsTable, StagingTable, AuditTable}
}
