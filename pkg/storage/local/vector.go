package local

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// DefaultRecallThreshold is the index size above which queries use Bleve to
// narrow candidates before exact scoring.
const DefaultRecallThreshold = 2000

// recallFactor multiplies TopK to size the Bleve candidate set.
const recallFactor = 20

// VectorIndex is a storage.VectorIndex that scores documents by cosine
// similarity of hashed trigram embeddings. Small indexes are scanned in full;
// larger ones use a memory-only Bleve index for fuzzy candidate recall.
type VectorIndex struct {
	mu     sync.RWMutex
	docs   map[string]indexedDoc
	text   bleve.Index
	dims   int
	logger *zap.Logger
	closed bool

	// RecallThreshold overrides DefaultRecallThreshold. Zero always recalls
	// through Bleve.
	RecallThreshold int
}

type indexedDoc struct {
	embedding []float32
	metadata  map[string]string
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex creates an empty in-memory index.
func NewVectorIndex(logger *zap.Logger) (*VectorIndex, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create text index: %w", err)
	}
	return &VectorIndex{
		docs:            make(map[string]indexedDoc),
		text:            idx,
		dims:            storage.DefaultHashDimensions,
		logger:          logger.Named("vector"),
		RecallThreshold: DefaultRecallThreshold,
	}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = "standard"
	textField.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("text", textField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

func (v *VectorIndex) Upsert(ctx context.Context, id string, doc storage.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return apperrors.Validationf("vector document id is required")
	}
	emb := doc.Embedding
	if len(emb) == 0 {
		if doc.Text == "" {
			return apperrors.Validationf("vector document %q needs text or an embedding", id)
		}
		emb = storage.HashEmbedding(doc.Text, v.dims)
	}
	meta := make(map[string]string, len(doc.Metadata))
	for k, val := range doc.Metadata {
		meta[k] = val
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return apperrors.InvalidStatef("vector index is closed")
	}
	if err := v.text.Index(id, map[string]any{"text": doc.Text}); err != nil {
		return apperrors.Internal("index document", err)
	}
	v.docs[id] = indexedDoc{embedding: emb, metadata: meta}
	return nil
}

func (v *VectorIndex) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.text.Delete(id); err != nil {
		return apperrors.Internal("delete document", err)
	}
	delete(v.docs, id)
	return nil
}

func (v *VectorIndex) Query(ctx context.Context, q storage.VectorQuery) ([]storage.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := q.Embedding
	if len(emb) == 0 {
		if q.Text == "" {
			return nil, apperrors.Validationf("vector query needs text or an embedding")
		}
		emb = storage.HashEmbedding(q.Text, v.dims)
	}
	topK := q.TopK
	if topK <= 0 {
		topK = storage.DefaultTopK
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	ids, err := v.candidates(ctx, q.Text, topK)
	if err != nil {
		return nil, err
	}

	hits := make([]storage.Hit, 0, len(ids))
	for _, id := range ids {
		d := v.docs[id]
		if !storage.MatchesFilter(d.metadata, q.Filter) {
			continue
		}
		hits = append(hits, storage.Hit{ID: id, Score: storage.Cosine(emb, d.embedding), Metadata: d.metadata})
	}
	return storage.SortHits(hits, topK), nil
}

// candidates returns the ids to score. Callers hold v.mu.
func (v *VectorIndex) candidates(ctx context.Context, text string, topK int) ([]string, error) {
	all := func() []string {
		ids := make([]string, 0, len(v.docs))
		for id := range v.docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids
	}
	if text == "" || (v.RecallThreshold > 0 && len(v.docs) <= v.RecallThreshold) {
		return all(), nil
	}

	mq := bleve.NewMatchQuery(text)
	mq.SetField("text")
	mq.SetFuzziness(1)
	req := bleve.NewSearchRequestOptions(mq, topK*recallFactor, 0, false)
	res, err := v.text.SearchInContext(ctx, req)
	if err != nil {
		return nil, apperrors.Internal("recall candidates", err)
	}
	if len(res.Hits) < topK {
		// Too little lexical overlap to trust recall; score everything.
		v.logger.Debug("Recall below topK, scanning full index",
			zap.Int("recalled", len(res.Hits)),
			zap.Int("top_k", topK))
		return all(), nil
	}
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		if _, ok := v.docs[h.ID]; ok {
			ids = append(ids, h.ID)
		}
	}
	return ids, nil
}

func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	return v.text.Close()
}
