package matching

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DegreeBonus is added when both names open with the same degree token. It
// is capped at one query token's share of the overlap term, so the bonus can
// never outweigh a candidate that shares one more token.
const DegreeBonus = 0.05

// maxNonExact caps scores of names that are not identical.
const maxNonExact = 0.999

var degreeTokens = map[string]bool{
	"MD": true, "MS": true, "DNB": true, "DM": true,
	"MCH": true, "MBBS": true, "BDS": true, "MDS": true,
}

// Scorer blends token overlap with edit-distance similarity of a candidate
// name against a query name:
//
//	score = (wt*overlap + we*(1 - lev/len(query))) / (wt + we) [+ bonus]
//	bonus = min(DegreeBonus, wt / ((wt + we) * distinctQueryTokens))
//
// Both terms are normalized by the query alone, so for a fixed query a
// candidate sharing more tokens at a smaller edit distance never scores
// lower. Identical names score exactly 1.0; anything else stays below 1.0.
type Scorer struct {
	tokenWeight float64
	editWeight  float64
}

// NewScorer validates the weights. Both must be non-negative and at least
// one positive.
func NewScorer(tokenWeight, editWeight float64) (*Scorer, error) {
	if tokenWeight < 0 || editWeight < 0 || tokenWeight+editWeight <= 0 {
		return nil, fmt.Errorf("invalid scorer weights %v/%v", tokenWeight, editWeight)
	}
	return &Scorer{tokenWeight: tokenWeight, editWeight: editWeight}, nil
}

// Score compares a normalized candidate name against a normalized query
// and returns a value in [0,1].
func (s *Scorer) Score(query, candidate string) float64 {
	if query == candidate {
		if query == "" {
			return 0
		}
		return 1
	}
	tq, tc := Tokens(query), Tokens(candidate)
	blended := (s.tokenWeight*TokenOverlap(tq, tc) + s.editWeight*EditSimilarity(query, candidate)) /
		(s.tokenWeight + s.editWeight)
	if len(tq) > 0 && len(tc) > 0 && tq[0] == tc[0] && degreeTokens[tq[0]] {
		blended += s.degreeBonus(tq)
	}
	blended = math.Min(blended, maxNonExact)
	return math.Round(blended*1e6) / 1e6
}

// degreeBonus bounds DegreeBonus by the overlap gained from one shared token.
func (s *Scorer) degreeBonus(queryTokens []string) float64 {
	distinct := make(map[string]struct{}, len(queryTokens))
	for _, t := range queryTokens {
		distinct[t] = struct{}{}
	}
	oneToken := s.tokenWeight / ((s.tokenWeight + s.editWeight) * float64(len(distinct)))
	return math.Min(DegreeBonus, oneToken)
}

// TokenOverlap returns the share of distinct query tokens that also appear
// in the candidate.
func TokenOverlap(query, candidate []string) float64 {
	want := make(map[string]bool, len(query))
	for _, t := range query {
		want[t] = false
	}
	if len(want) == 0 {
		return 0
	}
	shared := 0
	for _, t := range candidate {
		if seen, ok := want[t]; ok && !seen {
			want[t] = true
			shared++
		}
	}
	return float64(shared) / float64(len(want))
}

// EditSimilarity returns 1 - levenshtein(query, candidate)/len(query) in
// runes, floored at 0.
func EditSimilarity(query, candidate string) float64 {
	n := utf8.RuneCountInString(query)
	if n == 0 {
		return 0
	}
	return math.Max(0, 1-float64(levenshtein.ComputeDistance(query, candidate))/float64(n))
}
