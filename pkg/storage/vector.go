package storage

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"
)

// DefaultTopK is used when a query does not set TopK.
const DefaultTopK = 10

// Document is the indexed form of an entity.
type Document struct {
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// VectorQuery asks for the TopK nearest documents. Either Text or Embedding
// must be set; Filter keeps only documents whose metadata has every pair.
type VectorQuery struct {
	Text      string
	Embedding []float32
	TopK      int
	Filter    map[string]string
}

// Hit is one ranked result.
type Hit struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SortHits orders hits by descending score then ascending id and truncates
// to topK.
func SortHits(hits []Hit, topK int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// MatchesFilter reports whether meta contains every key/value in filter.
func MatchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

// Cosine returns the cosine similarity of a and b clamped to [0,1].
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Round away float noise so equal inputs tie exactly.
	s = math.Round(s*1e9) / 1e9
	return math.Max(0, math.Min(1, s))
}

// DefaultHashDimensions is the width of HashEmbedding vectors.
const DefaultHashDimensions = 256

// HashEmbedding maps text to a deterministic bag-of-trigrams vector. It is
// the lexical stand-in for a learned embedding: similar spellings land close
// together, which is enough for candidate recall.
func HashEmbedding(text string, dims int) []float32 {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	vec := make([]float32, dims)
	for _, tok := range strings.Fields(strings.ToUpper(text)) {
		padded := []rune(" " + tok + " ")
		for i := 0; i+3 <= len(padded); i++ {
			h := fnv.New32a()
			_, _ = h.Write([]byte(string(padded[i : i+3])))
			vec[h.Sum32()%uint32(dims)]++
		}
		// Whole tokens carry extra weight so shared words dominate.
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(dims)] += 2
	}
	return vec
}
