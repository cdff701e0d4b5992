package schema

// VectorInfo carries a chunk's embedding together with the model that
// produced it. Invariant: Dimension == len(Embedding) always. The constructor
// enforces this by truncating or zero-padding provider output, so a
// VectorInfo with a mismatched dimension cannot be built.
type VectorInfo struct {
	Embedding     []float32 `json:"embedding"`
	Model         string    `json:"model"`
	ModelVersion  string    `json:"model_version"`
	Dimension     int       `json:"dimension"`
	EmbeddingType string    `json:"embedding_type"`
}

// NewVectorInfo builds a VectorInfo normalized to dimension. Over-length
// embeddings are truncated, under-length embeddings are zero-padded.
func NewVectorInfo(embedding []float32, model, modelVersion string, dimension int, embeddingType string) VectorInfo {
	return VectorInfo{
		Embedding:     NormalizeEmbedding(embedding, dimension),
		Model:         model,
		ModelVersion:  modelVersion,
		Dimension:     dimension,
		EmbeddingType: embeddingType,
	}
}

// NormalizeEmbedding returns a copy of vec with exactly dim elements.
func NormalizeEmbedding(vec []float32, dim int) []float32 {
	out := make([]float32, dim)
	copy(out, vec)
	return out
}
