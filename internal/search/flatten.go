package search

import (
	"strings"

	"github.com/bull/mediarag/internal/schema"
)

// FlatChunk is the flattened form of a chunk written to the index: full text
// plus keyframe descriptions, media path hints, and a dimension-normalized
// embedding.
type FlatChunk struct {
	ChunkID    string
	DocumentID string
	Title      string
	Content    string
	MediaType  string
	StartTime  float64
	EndTime    float64
	Thumbnail  string
	VideoPath  string
	AudioPath  string
	Embedding  []float32
}

// FlattenChunk reduces a chunk and its parent document to an indexable
// record. Empty keyframe descriptions contribute nothing.
func FlattenChunk(chunk *schema.Chunk, doc *schema.Document, dimension int) FlatChunk {
	flat := FlatChunk{
		ChunkID:   chunk.ChunkID,
		MediaType: string(chunk.MediaType),
		StartTime: chunk.Temporal.StartTime,
		EndTime:   chunk.Temporal.EndTime,
	}
	if doc != nil {
		flat.DocumentID = doc.DocumentID
		flat.Title = doc.Metadata.Title
	}

	var parts []string
	if chunk.Content.Text != nil {
		if chunk.Content.Text.FullText != "" {
			parts = append(parts, chunk.Content.Text.FullText)
		} else {
			for _, seg := range chunk.Content.Text.Segments {
				if seg.Text != "" {
					parts = append(parts, seg.Text)
				}
			}
		}
	}
	for _, frame := range chunk.Content.Keyframes {
		if frame.Description != "" {
			parts = append(parts, frame.Description)
		}
		if flat.Thumbnail == "" && frame.ThumbnailURL != "" {
			flat.Thumbnail = frame.ThumbnailURL
		}
	}
	flat.Content = strings.TrimSpace(strings.Join(parts, "\n"))
	if flat.Content == "" {
		// Keep the record searchable by something stable.
		if doc != nil && doc.Metadata.Description != "" {
			flat.Content = doc.Metadata.Description
		} else {
			flat.Content = chunk.ChunkID
		}
	}

	if chunk.Content.Audio != nil {
		flat.AudioPath = chunk.Content.Audio.URL
	}
	if chunk.Content.Video != nil {
		flat.VideoPath = chunk.Content.Video.URL
	} else if doc != nil {
		flat.VideoPath = doc.Metadata.SourceInfo.FilePath
	}

	if len(chunk.Vector.Embedding) > 0 {
		flat.Embedding = schema.NormalizeEmbedding(chunk.Vector.Embedding, dimension)
	}
	return flat
}
