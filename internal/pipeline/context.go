// Package pipeline chains the ingestion stages: validate, build metadata,
// generate chunks, summarize, enrich vectors, persist, index. Stages for one
// document run strictly in order; documents run in parallel across the io
// and cpu worker pools.
package pipeline

import (
	"time"

	"github.com/bull/mediarag/internal/schema"
)

// UserMetadata is the caller-supplied part of the document metadata.
type UserMetadata struct {
	Title            string         `json:"title,omitempty"`
	Description      string         `json:"description,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	CustomAttributes map[string]any `json:"custom_attributes,omitempty"`
}

// Context is the only mutable record in the pipeline: each stage reads the
// fields earlier stages produced and fills in its own. A nil optional field
// means "not yet computed", never an error. The final Document is assembled
// from it by the persist stage.
type Context struct {
	DocumentID string
	MediaType  schema.MediaType
	SourcePath string
	User       UserMetadata
	Options    *schema.ProcessingOptions
	StartedAt  time.Time

	// Stage outputs, in chain order.
	Metadata     *schema.DocumentMetadata
	Chunks       []schema.Chunk
	Structure    []map[string]any
	Summary      *schema.Summary
	Document     *schema.Document
	ArtifactPath string

	Metrics map[string]any
}

// NewContext seeds a context for one ingestion run.
func NewContext(documentID string, mediaType schema.MediaType, sourcePath string, user UserMetadata, opts *schema.ProcessingOptions) *Context {
	return &Context{
		DocumentID: documentID,
		MediaType:  mediaType,
		SourcePath: sourcePath,
		User:       user,
		Options:    opts,
		StartedAt:  time.Now(),
		Metrics:    make(map[string]any),
	}
}

// SetMetric records an observability value. Metrics never affect control
// flow.
func (c *Context) SetMetric(key string, value any) {
	if c.Metrics == nil {
		c.Metrics = make(map[string]any)
	}
	c.Metrics[key] = value
}

// VideoOptions returns the video tuning options, which may be nil.
func (c *Context) VideoOptions() *schema.VideoOptions {
	if c.Options == nil {
		return nil
	}
	return c.Options.Video
}

// PDFOptions returns the PDF tuning options, which may be nil.
func (c *Context) PDFOptions() *schema.PDFOptions {
	if c.Options == nil {
		return nil
	}
	return c.Options.PDF
}
