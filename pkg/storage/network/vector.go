package network

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/storage"
)

// DefaultVectorTable is the table VectorIndex uses unless told otherwise.
const DefaultVectorTable = "vector_entries"

// VectorTable returns the schema of a table holding embedded documents.
func VectorTable(name string) *storage.Table {
	return &storage.Table{
		Name: name,
		Key:  []string{"id"},
		Columns: []storage.Column{
			{Name: "id", Type: storage.TypeText},
			{Name: "text", Type: storage.TypeText},
			{Name: "embedding", Type: storage.TypeJSON},
			{Name: "metadata", Type: storage.TypeJSON},
		},
	}
}

// VectorIndex is a storage.VectorIndex that embeds text through an Embedder,
// persists vectors in a TableStore and ranks by cosine similarity.
type VectorIndex struct {
	table    *storage.Table
	tables   storage.TableStore
	embedder Embedder
	logger   *zap.Logger
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex creates the backing table if needed. An empty table name
// selects DefaultVectorTable.
func NewVectorIndex(ctx context.Context, tables storage.TableStore, embedder Embedder, table string, logger *zap.Logger) (*VectorIndex, error) {
	if table == "" {
		table = DefaultVectorTable
	}
	t := VectorTable(table)
	if err := tables.EnsureTables(ctx, t); err != nil {
		return nil, fmt.Errorf("ensure vector table: %w", err)
	}
	return &VectorIndex{table: t, tables: tables, embedder: embedder, logger: logger.Named("vector")}, nil
}

func (v *VectorIndex) embed(ctx context.Context, text string, given []float32) ([]float32, error) {
	if len(given) > 0 {
		return given, nil
	}
	if text == "" {
		return nil, apperrors.Validationf("vector document needs text or an embedding")
	}
	vecs, err := v.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, apperrors.Transient("embed text", err)
	}
	return vecs[0], nil
}

func (v *VectorIndex) Upsert(ctx context.Context, id string, doc storage.Document) error {
	if id == "" {
		return apperrors.Validationf("vector document id is required")
	}
	emb, err := v.embed(ctx, doc.Text, doc.Embedding)
	if err != nil {
		return err
	}
	embJSON, err := json.Marshal(emb)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	meta := doc.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return v.tables.Upsert(ctx, v.table, storage.Row{
		"id":        id,
		"text":      doc.Text,
		"embedding": json.RawMessage(embJSON),
		"metadata":  json.RawMessage(metaJSON),
	})
}

func (v *VectorIndex) Delete(ctx context.Context, id string) error {
	return v.tables.Batch(ctx, []storage.BatchOp{
		storage.DeleteOp(v.table, storage.Filter{storage.Eq("id", id)}),
	})
}

func (v *VectorIndex) Query(ctx context.Context, q storage.VectorQuery) ([]storage.Hit, error) {
	emb, err := v.embed(ctx, q.Text, q.Embedding)
	if err != nil {
		return nil, err
	}
	rows, err := v.tables.Query(ctx, v.table, storage.Query{})
	if err != nil {
		return nil, err
	}

	hits := make([]storage.Hit, 0, len(rows))
	for _, r := range rows {
		var meta map[string]string
		if err := json.Unmarshal(r.JSON("metadata"), &meta); err != nil {
			return nil, apperrors.Internal("decode vector metadata", err)
		}
		if !storage.MatchesFilter(meta, q.Filter) {
			continue
		}
		var vec []float32
		if err := json.Unmarshal(r.JSON("embedding"), &vec); err != nil {
			return nil, apperrors.Internal("decode vector", err)
		}
		hits = append(hits, storage.Hit{ID: r.String("id"), Score: storage.Cosine(emb, vec), Metadata: meta})
	}
	return storage.SortHits(hits, q.TopK), nil
}

// Close is a no-op; the table store is closed by its owner.
func (v *VectorIndex) Close() error { return nil }
