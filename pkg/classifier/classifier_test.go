package classifier

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want models.Classification
	}{
		{"MBBS", "MBBS", models.Classification{Stream: StreamMedical, Branch: "MBBS", DegreeType: "MBBS", LevelOfStudy: LevelUndergraduate}},
		{"MD with dots", "M.D. (General Medicine)", models.Classification{Stream: StreamMedical, Branch: "General Medicine", DegreeType: "MD", LevelOfStudy: LevelPostgraduate}},
		{"MDS is not MD", "MDS ORTHODONTICS", models.Classification{Stream: StreamDental, Branch: "Orthodontics", DegreeType: "MDS", LevelOfStudy: LevelPostgraduate}},
		{"BDS", "bds", models.Classification{Stream: StreamDental, Branch: "BDS", DegreeType: "BDS", LevelOfStudy: LevelUndergraduate}},
		{"DNB diploma", "DNB- DIPLOMA IN ANAESTHESIA", models.Classification{Stream: StreamMedical, Branch: "DNB-Diploma", DegreeType: "DNB", LevelOfStudy: LevelPostgraduate}},
		{"plain DNB", "DNB General Medicine", models.Classification{Stream: StreamMedical, Branch: "DNB", DegreeType: "DNB", LevelOfStudy: LevelPostgraduate}},
		{"super specialty", "DM CARDIOLOGY", models.Classification{Stream: StreamMedical, Branch: "Cardiology", DegreeType: "DM", LevelOfStudy: LevelSuperSpecialty}},
		{"MCh without branch rule", "M.Ch. Neuro Surgery", models.Classification{Stream: StreamMedical, Branch: Other, DegreeType: "MCh", LevelOfStudy: LevelSuperSpecialty}},
		{"diploma", "Diploma in Child Health", models.Classification{Stream: StreamMedical, Branch: Other, DegreeType: "Diploma", LevelOfStudy: LevelPostgraduate}},
		{"OBG", "MS OBSTETRICS AND GYNAECOLOGY", models.Classification{Stream: StreamMedical, Branch: "Obstetrics and Gynaecology", DegreeType: "MS", LevelOfStudy: LevelPostgraduate}},
		{"AYUSH", "BAMS", models.Classification{Stream: StreamAYUSH, Branch: Other, DegreeType: "BAMS", LevelOfStudy: LevelUndergraduate}},
		{"nothing matches", "Basket Weaving", models.Classification{Stream: Other, Branch: Other, DegreeType: Other, LevelOfStudy: Other}},
		{"empty", "", models.Classification{Stream: Other, Branch: Other, DegreeType: Other, LevelOfStudy: Other}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.raw))
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	for _, raw := range []string{"MD PAEDIATRICS", "DNB-DIPLOMA", "random text 123"} {
		assert.Equal(t, Classify(raw), Classify(raw))
	}
}

func TestClassify_RunTogetherNames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want models.Classification
	}{
		{"pg diploma", "PGDIPLOMA IN ANAESTHESIA", models.Classification{Stream: StreamMedical, Branch: "PG Diploma", DegreeType: "Diploma", LevelOfStudy: LevelPostgraduate}},
		{"dnb diploma", "DNBDIPLOMA ANAESTHESIA", models.Classification{Stream: StreamMedical, Branch: "DNB-Diploma", DegreeType: "DNB", LevelOfStudy: LevelPostgraduate}},
		{"mds", "MDSORTHODONTICS", models.Classification{Stream: StreamDental, Branch: "Orthodontics", DegreeType: "MDS", LevelOfStudy: LevelPostgraduate}},
		{"md", "md(paediatrics)", models.Classification{Stream: StreamMedical, Branch: "Paediatrics", DegreeType: "MD", LevelOfStudy: LevelPostgraduate}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.raw))
		})
	}
}

func TestClassify_AYUSHDegreesAreNotMS(t *testing.T) {
	for _, raw := range []string{"BAMS", "BHMS", "BUMS", "BSMS"} {
		got := Classify(raw)
		assert.Equal(t, StreamAYUSH, got.Stream, raw)
		assert.Equal(t, raw, got.DegreeType, raw)
		assert.Equal(t, LevelUndergraduate, got.LevelOfStudy, raw)
	}
}

func TestClassify_StandaloneTerm(t *testing.T) {
	assert.Equal(t, "Otorhinolaryngology", Classify("MS ENT").Branch)
	// " ENT " is space-bounded so it does not fire inside other words.
	assert.Equal(t, Other, Classify("MD PATIENT CARE").Branch)
}

func TestFirstMatchWins(t *testing.T) {
	c := New([]Rule{
		{Field: FieldBranch, All: []string{"X"}, Value: "first"},
		{Field: FieldBranch, All: []string{"X", "Y"}, Value: "more specific but later"},
	})
	assert.Equal(t, "first", c.Classify("X Y").Branch)
}

func TestNew_CopiesRules(t *testing.T) {
	rules := []Rule{{Field: FieldStream, All: []string{"A"}, Value: "a"}}
	c := New(rules)
	rules[0].Value = "mutated"
	assert.Equal(t, "a", c.Classify("A").Stream)
}

// The default table relies on these orderings; reordering them changes results.
func TestDefaultRules_OrderIsPinned(t *testing.T) {
	rules := DefaultRules()
	index := func(f Field, value string, all ...string) int {
		i := slices.IndexFunc(rules, func(r Rule) bool {
			return r.Field == f && r.Value == value && slices.Equal(r.All, all)
		})
		require.GreaterOrEqual(t, i, 0, "rule %s=%s not found", f, value)
		return i
	}

	assert.Less(t, index(FieldDegreeType, "MDS", "MDS"), index(FieldDegreeType, "MD", "MD"))
	assert.Less(t, index(FieldDegreeType, "DNB", "DNB"), index(FieldDegreeType, "Diploma", "DIPLOMA"))
	assert.Less(t, index(FieldDegreeType, "MCh", "MCH"), index(FieldDegreeType, "MS", "MS"))
	assert.Less(t, index(FieldBranch, "DNB-Diploma", "DNB", "DIPLOMA"), index(FieldBranch, "DNB", "DNB"))
	assert.Less(t, index(FieldStream, StreamDental, "MDS"), index(FieldStream, StreamMedical, "MD"))
	assert.Less(t, index(FieldLevel, LevelSuperSpecialty, "DM"), index(FieldLevel, LevelPostgraduate, "MD"))
	assert.Less(t, index(FieldDegreeType, "BDS", "BDS"), index(FieldDegreeType, "MBBS", "MBBS"))
	for _, ayush := range []string{"BAMS", "BHMS", "BUMS", "BSMS"} {
		assert.Less(t, index(FieldDegreeType, ayush, ayush), index(FieldDegreeType, "MS", "MS"), ayush)
		assert.Less(t, index(FieldLevel, LevelUndergraduate, ayush), index(FieldLevel, LevelPostgraduate, "MS"), ayush)
	}
}

func TestField_String(t *testing.T) {
	assert.Equal(t, "stream", FieldStream.String())
	assert.Equal(t, "level_of_study", FieldLevel.String())
	assert.Equal(t, "unknown", Field(42).String())
}
