package matching

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer(nil)

	tests := []struct {
		in, want string
	}{
		{"  Govt. Med. Coll.,  Nagpur ", "GOVERNMENT MEDICAL COLLEGE NAGPUR"},
		{"AIIMS, New Delhi", "AIIMS NEW DELHI"},
		{"M.D. (Gen. Medicine)", "MD (GENERAL MEDICINE)"},
		{"St. John's Med Coll & Hosp", "ST JOHN'S MEDICAL COLLEGE AND HOSPITAL"},
		{"DNB-Diploma", "DNB-DIPLOMA"},
		{"medicine", "MEDICINE"}, // MED only expands as a whole word
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, n.Normalize(tt.in), "input %q", tt.in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer(nil)
	once := n.Normalize("Govt Dent. Coll & Hosp, Mumbai")
	assert.Equal(t, once, n.Normalize(once))
}

func TestNormalizer_ExtraAbbreviations(t *testing.T) {
	n := NewNormalizer(map[string]string{"kem": "king edward memorial", "MED": "MEDICINE"})
	assert.Equal(t, "KING EDWARD MEMORIAL HOSPITAL", n.Normalize("KEM Hosp"))
	assert.Equal(t, "GENERAL MEDICINE", n.Normalize("Gen Med"), "extra entries override defaults")
	assert.Equal(t, "MEDICAL", NewNormalizer(nil).Normalize("Med"), "defaults are not mutated")
}

func TestLoadAbbreviations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abbr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("SMS: SAWAI MAN SINGH\nGMC: GOVERNMENT MEDICAL COLLEGE\n"), 0o600))

	got, err := LoadAbbreviations(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"SMS": "SAWAI MAN SINGH", "GMC": "GOVERNMENT MEDICAL COLLEGE"}, got)

	_, err = LoadAbbreviations(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("- just\n- a list\n"), 0o600))
	_, err = LoadAbbreviations(bad)
	assert.Error(t, err)
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"MD", "GENERAL", "MEDICINE"}, Tokens("MD (GENERAL MEDICINE)"))
	assert.Equal(t, []string{"DNB", "DIPLOMA"}, Tokens("DNB-DIPLOMA"))
	assert.Empty(t, Tokens(""))
}

func TestNewScorer_RejectsBadWeights(t *testing.T) {
	for _, w := range [][2]float64{{0, 0}, {-1, 2}, {1, -0.5}} {
		_, err := NewScorer(w[0], w[1])
		assert.Error(t, err, "weights %v", w)
	}
}

func TestScore_Exact(t *testing.T) {
	s, err := NewScorer(0.5, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Score("MBBS", "MBBS"))
	assert.Equal(t, 0.0, s.Score("", ""))
}

func TestScore_NearMissIsStrictlyBetweenZeroAndOne(t *testing.T) {
	s, err := NewScorer(0.5, 0.5)
	require.NoError(t, err)
	n := NewNormalizer(nil)

	got := s.Score(n.Normalize("AIIMS Dehli"), n.Normalize("AIIMS Delhi"))
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 1.0)
	// overlap 1/2, edit 1 - 2/11
	assert.InDelta(t, (0.5+(1-2.0/11))/2, got, 1e-6)
}

func TestScore_NeverOneForDifferentNames(t *testing.T) {
	s, err := NewScorer(1, 0)
	require.NoError(t, err)
	// Full token overlap plus the degree bonus would exceed 1 without the cap.
	got := s.Score("MD GENERAL MEDICINE", "MD GENERAL MEDICINE (NEW)")
	assert.Less(t, got, 1.0)
}

func TestScore_DegreeBonus(t *testing.T) {
	s, err := NewScorer(0.5, 0.5)
	require.NoError(t, err)

	with := s.Score("MD PAEDIATRICS", "MD PEDIATRICS")
	without := s.Score("XX PAEDIATRICS", "XX PEDIATRICS")
	assert.InDelta(t, DegreeBonus, with-without, 1e-5)
}

func TestScore_Monotonic(t *testing.T) {
	s, err := NewScorer(0.5, 0.5)
	require.NoError(t, err)

	query := "GOVERNMENT MEDICAL COLLEGE NAGPUR"
	candidates := []string{
		"GOVERNMENT MEDICAL COLLEGE NAGPUR", // identical
		"GOVERNMENT MEDICAL COLLEGE NAGPURR",
		"GOVERNMENT MEDICAL COLLEGE AKOLA",
		"GOVERNMENT DENTAL COLLEGE AKOLA",
		"PRIVATE DENTAL INSTITUTE AKOLA",
	}
	// Each candidate shares no more tokens and has no smaller edit distance
	// than the one before it.
	for i := 1; i < len(candidates); i++ {
		prev, cur := s.Score(query, candidates[i-1]), s.Score(query, candidates[i])
		assert.GreaterOrEqual(t, prev, cur, "%q vs %q", candidates[i-1], candidates[i])
	}
}

func TestScore_DegreeBonusNeverBeatsMoreSharedTokens(t *testing.T) {
	words := strings.Fields("ALPHA BRAVO CHARLIE DELTA ECHO FOXTROT GOLF HOTEL INDIA JULIET KILO LIMA MIKE NOVEMBER OSCAR PAPA QUEBEC ROMEO")
	query := "MD " + strings.Join(words, " ")

	// better drops the degree token but keeps every other word.
	better := "MS " + strings.Join(words, " ")
	// worse keeps the degree token but misspells two words.
	misspelt := append([]string(nil), words...)
	misspelt[0], misspelt[1] = "ALPHX", "BRAVX"
	worse := "MD " + strings.Join(misspelt, " ")

	for _, w := range [][2]float64{{0.5, 0.5}, {1, 0}, {0.9, 0.1}, {0.2, 0.8}} {
		s, err := NewScorer(w[0], w[1])
		require.NoError(t, err)
		require.Greater(t, TokenOverlap(Tokens(query), Tokens(better)), TokenOverlap(Tokens(query), Tokens(worse)))
		require.Greater(t, EditSimilarity(query, better), EditSimilarity(query, worse))
		assert.GreaterOrEqual(t, s.Score(query, better), s.Score(query, worse), "weights %v", w)
	}
}

func TestScore_DegreeBonusCappedByTokenShare(t *testing.T) {
	s, err := NewScorer(0.5, 0.5)
	require.NoError(t, err)

	// 19 distinct tokens: one token is worth 0.5/19 of the blend, less than DegreeBonus.
	assert.InDelta(t, 0.5/19, s.degreeBonus(strings.Fields("MD A B C D E F G H I J K L M N O P Q R")), 1e-12)
	assert.Equal(t, DegreeBonus, s.degreeBonus([]string{"MD", "PAEDIATRICS"}))

	editOnly, err := NewScorer(0, 1)
	require.NoError(t, err)
	assert.Zero(t, editOnly.degreeBonus([]string{"MD", "PAEDIATRICS"}))
}

func TestScore_MonotonicAcrossWeights(t *testing.T) {
	query := "AIIMS DELHI"
	better, worse := "AIIMS DELHI NEW", "AIIMS BHOPAL"
	for _, w := range [][2]float64{{1, 0}, {0, 1}, {0.3, 0.7}, {0.9, 0.1}} {
		s, err := NewScorer(w[0], w[1])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s.Score(query, better), s.Score(query, worse), "weights %v", w)
	}
}

func TestScore_Deterministic(t *testing.T) {
	s, err := NewScorer(0.4, 0.6)
	require.NoError(t, err)
	a := s.Score("KING GEORGE MEDICAL UNIVERSITY", "KING GEORGES MEDICAL UNIVERSITY LUCKNOW")
	for i := 0; i < 10; i++ {
		assert.Equal(t, a, s.Score("KING GEORGE MEDICAL UNIVERSITY", "KING GEORGES MEDICAL UNIVERSITY LUCKNOW"))
	}
}

func TestTokenOverlapAndEditSimilarity(t *testing.T) {
	assert.Equal(t, 0.5, TokenOverlap([]string{"A", "B", "B"}, []string{"B", "C"}))
	assert.Equal(t, 0.0, TokenOverlap(nil, []string{"A"}))
	assert.Equal(t, 0.0, EditSimilarity("", "ABC"))
	assert.Equal(t, 0.0, EditSimilarity("AB", "XYZWV"))
	assert.InDelta(t, 0.75, EditSimilarity("ABCD", "ABCE"), 1e-9)
}
