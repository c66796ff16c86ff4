package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
)

func TestDecodeJSONL(t *testing.T) {
	input := `{"raw_college_name":"AIIMS Delhi","raw_course_name":"MBBS","round":1,"category":"GEN","source_file":"a.csv","closing_rank":90}

{"raw_college_name":"JIPMER","raw_course_name":"BDS","round":2,"category":"OBC","source_file":"a.csv"}
`
	rows, err := decodeJSONL[models.RawIngestRow](strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "AIIMS Delhi", rows[0].RawCollegeName)
	require.NotNil(t, rows[0].ClosingRank)
	assert.Equal(t, 90, *rows[0].ClosingRank)
	assert.Nil(t, rows[1].ClosingRank)
	assert.Equal(t, 2, rows[1].Round)
}

func TestDecodeJSONL_ReportsLine(t *testing.T) {
	_, err := decodeJSONL[models.RawIngestRow](strings.NewReader("{}\n{not json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestCaller(t *testing.T) {
	actorID, actorRole = "ops", "reviewer"
	t.Cleanup(func() { actorID, actorRole = "cli", string(models.RoleAdmin) })

	who, err := caller()
	require.NoError(t, err)
	assert.Equal(t, models.Caller{UID: "ops", Role: models.RoleReviewer}, who)

	actorRole = "root"
	_, err = caller()
	assert.Error(t, err)
}

func TestClassifyCommand(t *testing.T) {
	var out strings.Builder
	classifyCmd.SetOut(&out)
	t.Cleanup(func() { classifyCmd.SetOut(nil) })

	require.NoError(t, classifyCmd.RunE(classifyCmd, []string{"MD General Medicine"}))
	assert.Contains(t, out.String(), "General Medicine")
}
