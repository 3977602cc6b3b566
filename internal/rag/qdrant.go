package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// upsertBatchSize bounds the number of points per Upsert RPC.
const upsertBatchSize = 256

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string
	// Port is the Qdrant gRPC port (default: 6334).
	Port int
	// Collection is the collection holding the knowledge base.
	Collection string
	APIKey     string
	UseTLS     bool
}

// QdrantIndex implements [Index] on a Qdrant collection using Euclidean
// distance and exact search. Point IDs are the chunk positions, so the
// index stays positional like [FlatIndex]. Distances are reported squared
// to match FlatIndex.
type QdrantIndex struct {
	client   *qdrant.Client
	cfg      QdrantConfig
	embedder Embedder
	log      *slog.Logger

	mu    sync.Mutex
	count uint64
}

var _ Index = (*QdrantIndex)(nil)

// NewQdrantIndex connects to Qdrant and reads the current point count.
// The collection is not created until [QdrantIndex.Create] runs.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, emb Embedder, log *slog.Logger) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "finqa"
	}
	if log == nil {
		log = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg, embedder: emb, log: log}

	exists, err := client.CollectionExists(ctx, cfg.Collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrant: failed to check collection %q: %w", cfg.Collection, err)
	}
	if exists {
		exact := true
		n, err := client.Count(ctx, &qdrant.CountPoints{CollectionName: cfg.Collection, Exact: &exact})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("qdrant: failed to count %q: %w", cfg.Collection, err)
		}
		idx.count = n
	}

	return idx, nil
}

// Client exposes the underlying client for readiness probes.
func (q *QdrantIndex) Client() *qdrant.Client { return q.client }

// Create drops and recreates the collection with the embedder's dimension.
func (q *QdrantIndex) Create(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection %q: %w", q.cfg.Collection, err)
	}
	if exists {
		if err := q.client.DeleteCollection(ctx, q.cfg.Collection); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", q.cfg.Collection, err)
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.embedder.Dimension()),
			Distance: qdrant.Distance_Euclid,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", q.cfg.Collection, err)
	}
	q.count = 0
	q.log.Info("qdrant: collection created",
		slog.String("collection", q.cfg.Collection),
		slog.Int("dimension", q.embedder.Dimension()),
	)
	return nil
}

// AddDocuments embeds contents and upserts them at positions
// [Len, Len+n). If an upsert batch fails, the points already written by
// this call are deleted before the error is returned.
func (q *QdrantIndex) AddDocuments(ctx context.Context, contents []string, metadatas []Metadata) error {
	if len(contents) != len(metadatas) {
		return fmt.Errorf("%w: %d contents, %d metadata", ErrLengthMismatch, len(contents), len(metadatas))
	}
	if len(contents) == 0 {
		return nil
	}

	encoded := make([]string, len(metadatas))
	for i, m := range metadatas {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("rag: encoding metadata %d: %w", i, err)
		}
		encoded[i] = string(data)
	}

	vecs, err := q.embedder.EmbedBatch(ctx, contents, 0)
	if err != nil {
		return fmt.Errorf("rag: embedding %d documents: %w", len(contents), err)
	}

	points := make([]*qdrant.PointStruct, len(vecs))
	q.mu.Lock()
	defer q.mu.Unlock()

	offset := q.count
	for i, v := range vecs {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(offset + uint64(i)),
			Vectors: qdrant.NewVectors(v...),
			Payload: qdrant.NewValueMap(map[string]any{
				"content":  contents[i],
				"source":   metadatas[i].Source(),
				"metadata": encoded[i],
			}),
		}
	}

	wait := true
	for start := 0; start < len(points); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(points))
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.cfg.Collection,
			Wait:           &wait,
			Points:         points[start:end],
		})
		if err != nil {
			q.rollback(ctx, offset, start)
			return fmt.Errorf("qdrant: upsert failed at point %d: %w", start, err)
		}
	}

	q.count += uint64(len(points))
	q.log.Info("qdrant: documents added", slog.Int("added", len(points)), slog.Uint64("total", q.count))
	return nil
}

func (q *QdrantIndex) rollback(ctx context.Context, offset uint64, written int) {
	if written == 0 {
		return
	}
	ids := make([]*qdrant.PointId, written)
	for i := range ids {
		ids[i] = qdrant.NewIDNum(offset + uint64(i))
	}
	wait := true
	if _, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(ids...),
	}); err != nil {
		q.log.Error("qdrant: rollback failed, collection holds a partial batch",
			slog.Uint64("offset", offset),
			slog.Int("points", written),
			slog.Any("error", err),
		)
	}
}

// Search runs an exact Euclidean query. Points whose payload cannot be
// decoded are skipped.
func (q *QdrantIndex) Search(ctx context.Context, query string, k int) ([]RetrievalResult, error) {
	if k <= 0 || q.Len() == 0 {
		return []RetrievalResult{}, nil
	}

	vec, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query: %w", err)
	}

	limit := uint64(k)
	exact := true
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		Params:         &qdrant.SearchParams{Exact: &exact},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	results := make([]RetrievalResult, 0, len(hits))
	for _, h := range hits {
		content, ok := h.GetPayload()["content"]
		if !ok {
			continue
		}
		var meta Metadata
		if raw, ok := h.GetPayload()["metadata"]; ok {
			if meta, err = decodeMetadata([]byte(raw.GetStringValue())); err != nil {
				q.log.Warn("qdrant: skipping point with unreadable metadata",
					slog.Uint64("id", h.GetId().GetNum()),
					slog.Any("error", err),
				)
				continue
			}
		}
		results = append(results, RetrievalResult{
			Content:  content.GetStringValue(),
			Metadata: meta,
			Distance: h.GetScore() * h.GetScore(),
		})
	}
	return results, nil
}

// Len returns the number of points written through this index or counted
// at connection time.
func (q *QdrantIndex) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.count)
}

// Close closes the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
