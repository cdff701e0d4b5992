// Package ingress receives raw files into the pipeline: a direct intake for
// uploads and a drop-directory watcher for unattended ingestion.
package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bull/mediarag/internal/pipeline"
	"github.com/bull/mediarag/internal/schema"
	"github.com/bull/mediarag/internal/storage"
)

// Submitter hands a prepared context to the orchestrator.
type Submitter interface {
	Enqueue(ctx context.Context, pc *pipeline.Context) error
}

// Intake copies a source file into raw storage and enqueues its ingestion.
type Intake struct {
	store     *storage.Store
	submitter Submitter
	logger    *slog.Logger
}

func NewIntake(store *storage.Store, submitter Submitter, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{store: store, submitter: submitter, logger: logger}
}

// Accept stores the file under a fresh document id and enqueues the
// pipeline. The returned id keys the task-status record and the final
// artifact.
func (i *Intake) Accept(ctx context.Context, srcPath string, mediaType schema.MediaType, user pipeline.UserMetadata, opts *schema.ProcessingOptions) (string, error) {
	if !mediaType.Valid() {
		return "", fmt.Errorf("unsupported media type %q", mediaType)
	}
	documentID := uuid.NewString()

	rawPath, err := i.store.SaveRaw(srcPath, documentID)
	if err != nil {
		return "", fmt.Errorf("ingest %s: %w", filepath.Base(srcPath), err)
	}

	pc := pipeline.NewContext(documentID, mediaType, rawPath, user, opts)
	if err := i.submitter.Enqueue(ctx, pc); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", documentID, err)
	}
	i.logger.Info("accepted file for ingestion",
		"document_id", documentID, "media_type", string(mediaType), "source", filepath.Base(srcPath))
	return documentID, nil
}

// UserMetadataForDrop derives metadata for an unattended drop: the file
// stem becomes the title.
func UserMetadataForDrop(path string) pipeline.UserMetadata {
	base := filepath.Base(path)
	return pipeline.UserMetadata{
		Title: strings.TrimSuffix(base, filepath.Ext(base)),
		Tags:  []string{"drop"},
	}
}

// MediaTypeForFile infers the declared media type from the file extension.
func MediaTypeForFile(path string) (schema.MediaType, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".wav", ".m4a", ".flac", ".ogg", ".aac":
		return schema.MediaAudio, true
	case ".mp4", ".mov", ".mkv", ".avi", ".webm":
		return schema.MediaVideo, true
	case ".pdf":
		return schema.MediaPDF, true
	}
	return "", false
}
