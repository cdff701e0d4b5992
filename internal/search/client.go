// Package search indexes documents and chunks for hybrid retrieval. The
// real backend is Qdrant; when it is disabled or unreachable the client
// silently degrades to an in-memory list with naive substring search, so
// indexing never fails an ingestion run.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/mediarag/internal/config"
	"github.com/bull/mediarag/internal/schema"
)

// Hit is one ranked search result.
type Hit struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	MediaType  string  `json:"media_type"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Thumbnail  string  `json:"thumbnail,omitempty"`
	VideoPath  string  `json:"video_path,omitempty"`
	AudioPath  string  `json:"audio_path,omitempty"`
	Score      float64 `json:"score"`
}

// Client writes to Qdrant when available and to an append-only in-memory
// list otherwise. Safe for concurrent use across documents.
type Client struct {
	backend    *qdrant.Client
	collection string
	dimension  int
	logger     *slog.Logger

	mu     sync.Mutex
	memory []FlatChunk
}

// NewClient connects to Qdrant and ensures the collection exists. Any
// failure yields a degraded in-memory client instead of an error.
func NewClient(cfg config.QdrantConfig, dimension int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{collection: cfg.Collection, dimension: dimension, logger: logger}
	if !cfg.Enabled {
		logger.Info("search backend disabled, using in-memory index")
		return c
	}

	backend, err := qdrant.NewClient(&qdrant.Config{Host: cfg.Host, Port: cfg.Port})
	if err != nil {
		logger.Warn("search backend unavailable, using in-memory index", "error", err)
		return c
	}
	if err := healthCheckWithRetry(backend); err != nil {
		logger.Warn("search backend health check failed, using in-memory index", "error", err)
		backend.Close()
		return c
	}
	c.backend = backend
	if err := c.ensureCollection(context.Background()); err != nil {
		logger.Warn("collection setup failed, using in-memory index", "error", err)
		c.backend = nil
		backend.Close()
	}
	return c
}

// Degraded reports whether the client is running on the in-memory fallback.
func (c *Client) Degraded() bool { return c.backend == nil }

// Close releases the backend connection.
func (c *Client) Close() error {
	if c.backend != nil {
		return c.backend.Close()
	}
	return nil
}

func healthCheckWithRetry(backend *qdrant.Client) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 15 * time.Second

	return backoff.Retry(func() error {
		_, err := backend.HealthCheck(context.Background())
		return err
	}, b)
}

// ensureCollection creates the collection with named content vectors.
// Idempotent.
func (c *Client) ensureCollection(ctx context.Context) error {
	collections, err := c.backend.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range collections {
		if name == c.collection {
			return nil
		}
	}
	err = c.backend.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			"content": {
				Size:     uint64(c.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	for _, field := range []string{"type", "document_id", "media_type"} {
		_, err := c.backend.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: c.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("create index for field %s: %w", field, err)
		}
	}
	return nil
}

// pointID derives a stable UUID from a pipeline id so that re-ingesting the
// same document overwrites rather than appends.
func pointID(id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

// IndexDocument stores the parent document record. Never returns an error:
// backend failures fall through to the in-memory list.
func (c *Client) IndexDocument(ctx context.Context, doc *schema.Document) {
	if c.backend == nil {
		return // parent records are only meaningful on the real backend
	}
	payload := map[string]any{
		"type":         "document",
		"document_id":  doc.DocumentID,
		"title":        doc.Metadata.Title,
		"path":         doc.Metadata.SourceInfo.FilePath,
		"media_format": doc.Metadata.SourceInfo.Format,
		"total_chunks": doc.Metadata.TotalChunks,
		"indexed_at":   time.Now().Format(time.RFC3339),
	}
	if doc.Summary != nil {
		payload["summary"] = doc.Summary.Abstract
	}
	point := &qdrant.PointStruct{
		Id:      pointID(doc.DocumentID),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{}),
		Payload: qdrant.NewValueMap(payload),
	}
	if err := c.upsertWithRetry(ctx, []*qdrant.PointStruct{point}); err != nil {
		c.logger.Warn("document index write failed", "document_id", doc.DocumentID, "error", err)
	}
}

// IndexChunk stores one flattened chunk. Backend failures degrade to the
// in-memory list; this never raises.
func (c *Client) IndexChunk(ctx context.Context, chunk *schema.Chunk, doc *schema.Document) {
	flat := FlattenChunk(chunk, doc, c.dimension)
	if c.backend == nil {
		c.remember(flat)
		return
	}

	vectors := map[string]*qdrant.Vector{}
	if len(flat.Embedding) > 0 {
		vectors["content"] = qdrant.NewVector(flat.Embedding...)
	}
	point := &qdrant.PointStruct{
		Id:      pointID(flat.ChunkID),
		Vectors: qdrant.NewVectorsMap(vectors),
		Payload: qdrant.NewValueMap(map[string]any{
			"type":        "chunk",
			"chunk_id":    flat.ChunkID,
			"document_id": flat.DocumentID,
			"title":       flat.Title,
			"content":     flat.Content,
			"media_type":  flat.MediaType,
			"start_time":  flat.StartTime,
			"end_time":    flat.EndTime,
			"thumbnail":   flat.Thumbnail,
			"video_path":  flat.VideoPath,
			"audio_path":  flat.AudioPath,
		}),
	}
	if err := c.upsertWithRetry(ctx, []*qdrant.PointStruct{point}); err != nil {
		c.logger.Warn("chunk index write failed, keeping in memory", "chunk_id", flat.ChunkID, "error", err)
		c.remember(flat)
	}
}

func (c *Client) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 20 * time.Second

	return backoff.Retry(func() error {
		_, err := c.backend.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: c.collection,
			Points:         points,
		})
		return err
	}, backoff.WithContext(b, ctx))
}

func (c *Client) remember(flat FlatChunk) {
	c.mu.Lock()
	c.memory = append(c.memory, flat)
	c.mu.Unlock()
}

// Search returns up to topK ranked hits. With a live backend and a query
// vector it runs vector search; otherwise it falls back to case-insensitive
// substring matching over the in-memory list.
func (c *Client) Search(ctx context.Context, query string, queryVector []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	if c.backend == nil || len(queryVector) == 0 {
		return c.memorySearch(query, topK), nil
	}

	vectorName := "content"
	results, err := c.backend.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.collection,
		Query:          qdrant.NewQuery(schema.NormalizeEmbedding(queryVector, c.dimension)...),
		Using:          &vectorName,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("type", "chunk")},
		},
		Limit:       qdrant.PtrOf(uint64(topK)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		c.logger.Warn("backend search failed, using in-memory results", "error", err)
		return c.memorySearch(query, topK), nil
	}

	hits := make([]Hit, 0, len(results))
	for _, result := range results {
		p := result.Payload
		hits = append(hits, Hit{
			ChunkID:    p["chunk_id"].GetStringValue(),
			DocumentID: p["document_id"].GetStringValue(),
			Title:      p["title"].GetStringValue(),
			Content:    p["content"].GetStringValue(),
			MediaType:  p["media_type"].GetStringValue(),
			StartTime:  p["start_time"].GetDoubleValue(),
			EndTime:    p["end_time"].GetDoubleValue(),
			Thumbnail:  p["thumbnail"].GetStringValue(),
			VideoPath:  p["video_path"].GetStringValue(),
			AudioPath:  p["audio_path"].GetStringValue(),
			Score:      float64(result.Score),
		})
	}
	return hits, nil
}

func (c *Client) memorySearch(query string, topK int) []Hit {
	c.mu.Lock()
	defer c.mu.Unlock()

	needle := strings.ToLower(query)
	var hits []Hit
	for _, flat := range c.memory {
		if needle != "" && !strings.Contains(strings.ToLower(flat.Content), needle) {
			continue
		}
		hits = append(hits, Hit{
			ChunkID:    flat.ChunkID,
			DocumentID: flat.DocumentID,
			Title:      flat.Title,
			Content:    flat.Content,
			MediaType:  flat.MediaType,
			StartTime:  flat.StartTime,
			EndTime:    flat.EndTime,
			Thumbnail:  flat.Thumbnail,
			VideoPath:  flat.VideoPath,
			AudioPath:  flat.AudioPath,
		})
		if len(hits) >= topK {
			break
		}
	}
	return hits
}
