package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bull/mediarag/internal/limits"
	"github.com/bull/mediarag/internal/schema"
	"github.com/bull/mediarag/internal/storage"
	"github.com/bull/mediarag/internal/vector"
)

// AudioChunker produces the chunk set for an audio document.
type AudioChunker interface {
	BuildChunks(ctx context.Context, sourcePath, baseChunkID string) ([]schema.Chunk, error)
}

// VideoChunker produces the chunk set for a video document.
type VideoChunker interface {
	BuildChunks(ctx context.Context, sourcePath, baseChunkID string, opts *schema.VideoOptions) ([]schema.Chunk, error)
}

// PDFChunker produces the chunk set for a PDF document plus parser extras.
type PDFChunker interface {
	BuildChunks(ctx context.Context, sourcePath, baseChunkID string, opts *schema.PDFOptions) ([]schema.Chunk, map[string]any, error)
}

// Summarizer is the external summary collaborator.
type Summarizer interface {
	Enabled() bool
	Summarize(ctx context.Context, title, corpus string) (*schema.Summary, error)
}

// Indexer receives the final document and its chunks.
type Indexer interface {
	IndexDocument(ctx context.Context, doc *schema.Document)
	IndexChunk(ctx context.Context, chunk *schema.Chunk, doc *schema.Document)
}

// Dependencies are the collaborators the stage chain is built from.
type Dependencies struct {
	Checker         *limits.Checker
	Audio           AudioChunker
	Video           VideoChunker
	PDF             PDFChunker
	Summarizer      Summarizer
	Vectors         *vector.Service
	Store           *storage.Store
	Search          Indexer
	PipelineVersion string
	Logger          *slog.Logger
}

// NewStages builds the fixed stage chain. The order is part of the pipeline
// contract and must not change.
func NewStages(deps Dependencies) []Stage {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return []Stage{
		&validateStage{checker: deps.Checker},
		&metadataStage{},
		&chunkStage{audio: deps.Audio, video: deps.Video, pdf: deps.PDF},
		&summaryStage{summarizer: deps.Summarizer, logger: deps.Logger},
		&vectorStage{vectors: deps.Vectors, logger: deps.Logger},
		&persistStage{store: deps.Store, version: deps.PipelineVersion},
		&indexStage{search: deps.Search},
	}
}

// validateStage is the hard gate: unsupported types and oversized files are
// rejected before any work happens, and never retried.
type validateStage struct {
	checker *limits.Checker
}

func (s *validateStage) Name() string { return "validate_input" }
func (s *validateStage) Queue() Queue { return QueueIO }

func (s *validateStage) Run(ctx context.Context, pc *Context) error {
	if !pc.MediaType.Valid() {
		return fmt.Errorf("%w: %q", limits.ErrUnsupportedMediaType, pc.MediaType)
	}
	return s.checker.CheckFile(pc.MediaType, pc.SourcePath)
}

// metadataStage captures the immutable source info and seeds the document
// metadata. total_chunks stays zero until chunks exist.
type metadataStage struct{}

func (s *metadataStage) Name() string { return "build_metadata" }
func (s *metadataStage) Queue() Queue { return QueueIO }

func (s *metadataStage) Run(ctx context.Context, pc *Context) error {
	info, err := os.Stat(pc.SourcePath)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	title := pc.User.Title
	if title == "" {
		base := filepath.Base(pc.SourcePath)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	tags := pc.User.Tags
	if tags == nil {
		tags = []string{}
	}
	attrs := pc.User.CustomAttributes
	if attrs == nil {
		attrs = map[string]any{}
	}

	pc.Metadata = &schema.DocumentMetadata{
		Title:       title,
		Description: pc.User.Description,
		SourceInfo: schema.SourceInfo{
			FileName:  filepath.Base(pc.SourcePath),
			FilePath:  pc.SourcePath,
			FileSize:  info.Size(),
			Format:    strings.TrimPrefix(filepath.Ext(pc.SourcePath), "."),
			CreatedAt: info.ModTime(),
		},
		Tags:             tags,
		CustomAttributes: attrs,
	}
	return nil
}

// chunkStage dispatches to the media processor. An unsupported media type
// reaching this stage is an orchestration failure and aborts the chain.
type chunkStage struct {
	audio AudioChunker
	video VideoChunker
	pdf   PDFChunker
}

func (s *chunkStage) Name() string { return "generate_chunks" }
func (s *chunkStage) Queue() Queue { return QueueCPU }

func (s *chunkStage) Run(ctx context.Context, pc *Context) error {
	var chunks []schema.Chunk
	var err error
	switch pc.MediaType {
	case schema.MediaAudio:
		chunks, err = s.audio.BuildChunks(ctx, pc.SourcePath, pc.DocumentID)
	case schema.MediaVideo:
		chunks, err = s.video.BuildChunks(ctx, pc.SourcePath, pc.DocumentID, pc.VideoOptions())
	case schema.MediaPDF:
		var extras map[string]any
		chunks, extras, err = s.pdf.BuildChunks(ctx, pc.SourcePath, pc.DocumentID, pc.PDFOptions())
		for key, value := range extras {
			if key == "outline" {
				if outline, ok := value.([]map[string]any); ok {
					pc.Structure = outline
				}
				continue
			}
			pc.SetMetric(key, value)
		}
	default:
		return fmt.Errorf("%w: %q", limits.ErrUnsupportedMediaType, pc.MediaType)
	}
	if err != nil {
		return fmt.Errorf("generate chunks: %w", err)
	}

	pc.Chunks = chunks
	pc.SetMetric("chunks", len(chunks))
	if pc.Metadata != nil {
		pc.Metadata.TotalChunks = len(chunks)
		pc.Metadata.Duration = chunkSpan(chunks)
	}
	return nil
}

// chunkSpan is the document duration implied by the chunk timeline.
func chunkSpan(chunks []schema.Chunk) float64 {
	var max float64
	for _, chunk := range chunks {
		if chunk.Temporal.EndTime > max {
			max = chunk.Temporal.EndTime
		}
	}
	return max
}

// summaryStage asks the language-model collaborator for an abstract and key
// points. Any failure yields the placeholder summary; summaries never abort
// a document.
type summaryStage struct {
	summarizer Summarizer
	logger     *slog.Logger
}

func (s *summaryStage) Name() string { return "generate_summary" }
func (s *summaryStage) Queue() Queue { return QueueCPU }

func (s *summaryStage) Run(ctx context.Context, pc *Context) error {
	title := "Untitled"
	if pc.Metadata != nil && pc.Metadata.Title != "" {
		title = pc.Metadata.Title
	}
	fallback := &schema.Summary{
		Abstract:  fmt.Sprintf("Auto generated summary for %s", title),
		KeyPoints: []string{"Placeholder summary"},
	}

	if s.summarizer == nil || !s.summarizer.Enabled() {
		pc.Summary = fallback
		return nil
	}
	corpus := collectText(pc.Chunks)
	if corpus == "" {
		s.logger.Info("no transcript content for summary, using fallback", "document_id", pc.DocumentID)
		pc.Summary = fallback
		return nil
	}

	summary, err := s.summarizer.Summarize(ctx, title, corpus)
	if err != nil || summary == nil || summary.Abstract == "" {
		s.logger.Warn("summary generation failed, using fallback",
			"document_id", pc.DocumentID, "error", err)
		pc.Summary = fallback
		return nil
	}
	pc.Summary = summary
	return nil
}

func collectText(chunks []schema.Chunk) string {
	var parts []string
	for _, chunk := range chunks {
		if chunk.Content.Text != nil && chunk.Content.Text.FullText != "" {
			parts = append(parts, chunk.Content.Text.FullText)
		}
	}
	return strings.Join(parts, "\n")
}

// vectorStage re-embeds any chunk whose embedding is missing or off the
// configured dimension, so every persisted chunk satisfies the dimension
// invariant even if a processor skipped embedding.
type vectorStage struct {
	vectors *vector.Service
	logger  *slog.Logger
}

func (s *vectorStage) Name() string { return "vector_enrichment" }
func (s *vectorStage) Queue() Queue { return QueueCPU }

func (s *vectorStage) Run(ctx context.Context, pc *Context) error {
	var staleIdx []int
	var staleTexts []string
	for i := range pc.Chunks {
		if len(pc.Chunks[i].Vector.Embedding) == s.vectors.Dimension() {
			continue
		}
		staleIdx = append(staleIdx, i)
		staleTexts = append(staleTexts, chunkText(&pc.Chunks[i]))
	}
	if len(staleIdx) > 0 {
		embeddings := s.vectors.EmbedTexts(ctx, staleTexts)
		for j, i := range staleIdx {
			pc.Chunks[i].Vector = schema.NewVectorInfo(
				embeddings[j], s.vectors.ModelName(), "1.0", s.vectors.Dimension(), "text")
		}
		s.logger.Info("refreshed chunk embeddings",
			"document_id", pc.DocumentID, "refreshed", len(staleIdx))
	}
	pc.SetMetric("vector_chunks", len(pc.Chunks))
	pc.SetMetric("vector_provider", s.vectors.ModelName())
	return nil
}

func chunkText(chunk *schema.Chunk) string {
	if chunk.Content.Text != nil {
		return chunk.Content.Text.FullText
	}
	return chunk.ChunkID
}

// persistStage assembles the final Document, tags each chunk with the
// pipeline version and total processing time, and writes the artifact.
type persistStage struct {
	store   *storage.Store
	version string
}

func (s *persistStage) Name() string { return "persist_artifacts" }
func (s *persistStage) Queue() Queue { return QueueIO }

func (s *persistStage) Run(ctx context.Context, pc *Context) error {
	if pc.Metadata == nil {
		return fmt.Errorf("persist: document metadata missing from context")
	}
	pc.Metadata.TotalChunks = len(pc.Chunks)

	elapsed := time.Since(pc.StartedAt).Seconds()
	for i := range pc.Chunks {
		if pc.Chunks[i].Processing == nil {
			pc.Chunks[i].Processing = map[string]any{}
		}
		pc.Chunks[i].Processing["pipeline_version"] = s.version
		pc.Chunks[i].Processing["processing_time"] = elapsed
	}

	doc := &schema.Document{
		DocumentID: pc.DocumentID,
		Metadata:   *pc.Metadata,
		Summary:    pc.Summary,
		Structure:  pc.Structure,
		Chunks:     pc.Chunks,
	}
	path, err := s.store.PersistDocument(doc)
	if err != nil {
		return fmt.Errorf("persist document: %w", err)
	}
	pc.Document = doc
	pc.ArtifactPath = path
	pc.SetMetric("processing_time", elapsed)
	return nil
}

// indexStage hands the document to the search client. Index degradation is
// handled inside the client; this stage never aborts the chain.
type indexStage struct {
	search Indexer
}

func (s *indexStage) Name() string { return "index_document" }
func (s *indexStage) Queue() Queue { return QueueCPU }

func (s *indexStage) Run(ctx context.Context, pc *Context) error {
	if pc.Document == nil {
		return fmt.Errorf("index: document missing from context")
	}
	s.search.IndexDocument(ctx, pc.Document)
	for i := range pc.Document.Chunks {
		s.search.IndexChunk(ctx, &pc.Document.Chunks[i], pc.Document)
	}
	pc.SetMetric("indexed_chunks", len(pc.Document.Chunks))
	return nil
}
