// Package schema defines the normalized document representation produced by
// the ingestion pipeline: a Document made of retrievable Chunks, each carrying
// its own content, time range, and embedding.
package schema

import "time"

// MediaType identifies the kind of content a document or chunk carries.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
	MediaPDF   MediaType = "pdf"

	// MediaAudioVideo marks chunks produced from a video's audio track and
	// then augmented with visual data.
	MediaAudioVideo MediaType = "audio_video"
)

// Valid reports whether m is a media type accepted for ingestion.
// Note audio_video is a derived tag, not an ingestion input.
func (m MediaType) Valid() bool {
	return m == MediaAudio || m == MediaVideo || m == MediaPDF
}

// SourceInfo describes the original file. Immutable once captured.
type SourceInfo struct {
	FileName  string    `json:"file_name"`
	FilePath  string    `json:"file_path"`
	FileSize  int64     `json:"file_size"`
	Format    string    `json:"format"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentMetadata is created once per document by the metadata stage.
// TotalChunks is filled in after chunk generation.
type DocumentMetadata struct {
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	SourceInfo       SourceInfo     `json:"source_info"`
	Duration         float64        `json:"duration,omitempty"`
	TotalChunks      int            `json:"total_chunks,omitempty"`
	Tags             []string       `json:"tags"`
	CustomAttributes map[string]any `json:"custom_attributes"`
}

// TemporalInfo locates a chunk on the document timeline.
// Invariant: EndTime >= StartTime; ChunkIndex is 1-based and strictly
// increasing within a document.
type TemporalInfo struct {
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Duration   float64 `json:"duration"`
	ChunkIndex int     `json:"chunk_index"`
}

// TextSegment is a single transcribed or extracted text span.
type TextSegment struct {
	Index      int     `json:"index"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Text       string  `json:"text"`
	SpeakerID  string  `json:"speaker_id,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// TextContent is the textual payload of a chunk.
type TextContent struct {
	FullText  string        `json:"full_text"`
	Segments  []TextSegment `json:"segments"`
	Language  string        `json:"language"`
	WordCount int           `json:"word_count"`
}

// AudioContent references the audio track backing a chunk.
type AudioContent struct {
	URL        string  `json:"url"`
	Format     string  `json:"format"`
	Duration   float64 `json:"duration"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Bitrate    int     `json:"bitrate,omitempty"`
	Codec      string  `json:"codec,omitempty"`
}

// Resolution is a video frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// VideoContent references the video stream backing a chunk.
type VideoContent struct {
	URL         string     `json:"url"`
	Format      string     `json:"format"`
	Duration    float64    `json:"duration"`
	Resolution  Resolution `json:"resolution"`
	FPS         float64    `json:"fps"`
	Bitrate     int        `json:"bitrate,omitempty"`
	Codec       string     `json:"codec,omitempty"`
	AspectRatio string     `json:"aspect_ratio,omitempty"`
}

// Keyframe is a sampled video frame with an optional caption and embedding.
type Keyframe struct {
	Timestamp    float64   `json:"timestamp"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Description  string    `json:"description,omitempty"`
	SceneChange  bool      `json:"scene_change"`
	Embedding    []float32 `json:"embedding"`
}

// ChunkContent holds whatever content blocks a chunk's media type produces.
// Any combination may be present.
type ChunkContent struct {
	Text      *TextContent  `json:"text,omitempty"`
	Audio     *AudioContent `json:"audio,omitempty"`
	Video     *VideoContent `json:"video,omitempty"`
	Keyframes []Keyframe    `json:"keyframes,omitempty"`
}

// Chunk is the atomic retrievable unit of a document. It is created by a
// media processor, enriched in place by the vector stage, and tagged with
// pipeline version and processing duration at persistence time.
type Chunk struct {
	ChunkID        string         `json:"chunk_id"`
	MediaType      MediaType      `json:"media_type"`
	Temporal       TemporalInfo   `json:"temporal"`
	Content        ChunkContent   `json:"content"`
	Vector         VectorInfo     `json:"vector"`
	Analysis       map[string]any `json:"analysis,omitempty"`
	QualityMetrics map[string]any `json:"quality_metrics,omitempty"`
	Relations      map[string]any `json:"relations,omitempty"`
	Processing     map[string]any `json:"processing,omitempty"`
}

// Summary is the document-level abstract produced by the summary stage.
type Summary struct {
	Abstract  string   `json:"abstract"`
	KeyPoints []string `json:"key_points"`
}

// Document is the final output of one ingestion run. Written once to durable
// storage and to the index; never mutated afterward.
type Document struct {
	DocumentID string           `json:"document_id"`
	Metadata   DocumentMetadata `json:"document_metadata"`
	Summary    *Summary         `json:"document_summary,omitempty"`
	Structure  []map[string]any `json:"structure,omitempty"`
	Chunks     []Chunk          `json:"chunks"`
}

// FullText concatenates the text content of every chunk, one per line.
// Used by the summary stage and the index client.
func (d *Document) FullText() string {
	var out string
	for _, chunk := range d.Chunks {
		if chunk.Content.Text == nil || chunk.Content.Text.FullText == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += chunk.Content.Text.FullText
	}
	return out
}
