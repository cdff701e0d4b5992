// Package storage persists pipeline artifacts: raw uploads, intermediate
// decode output, and the final Document JSON. Everything is keyed by
// document id under the data root; an optional object-store mirror receives
// best-effort copies and never blocks ingestion.
package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bull/mediarag/internal/schema"
)

// Store manages the raw/intermediate/final artifact layout.
type Store struct {
	dataRoot string
	mirror   *Mirror
	logger   *slog.Logger
}

// NewStore creates a store rooted at dataRoot. mirror may be nil.
func NewStore(dataRoot string, mirror *Mirror, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dataRoot: dataRoot, mirror: mirror, logger: logger}
}

// RawDir returns the raw upload directory.
func (s *Store) RawDir() string { return filepath.Join(s.dataRoot, "raw") }

// IntermediateDir returns a scratch directory under the data root.
func (s *Store) IntermediateDir(parts ...string) string {
	return filepath.Join(append([]string{s.dataRoot, "intermediate"}, parts...)...)
}

// FinalDir returns the directory holding persisted Document artifacts.
func (s *Store) FinalDir() string { return filepath.Join(s.dataRoot, "final_instances") }

// DocumentPath is the deterministic artifact path for a document id.
func (s *Store) DocumentPath(documentID string) string {
	return filepath.Join(s.FinalDir(), documentID+".json")
}

// SaveRaw copies an existing file into raw storage under the document id.
func (s *Store) SaveRaw(srcPath, documentID string) (string, error) {
	if err := os.MkdirAll(s.RawDir(), 0o755); err != nil {
		return "", fmt.Errorf("create raw dir: %w", err)
	}
	dest := filepath.Join(s.RawDir(), documentID+"_"+filepath.Base(srcPath))
	if err := copyFile(srcPath, dest); err != nil {
		return "", fmt.Errorf("copy raw file: %w", err)
	}
	s.logger.Info("stored raw file", "document_id", documentID, "path", dest)
	s.SyncArtifact(dest)
	return dest, nil
}

// PersistIntermediate writes bytes into an intermediate subdirectory.
func (s *Store) PersistIntermediate(data []byte, subdir, fileName string) (string, error) {
	dir := s.IntermediateDir(subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create intermediate dir: %w", err)
	}
	target := filepath.Join(dir, fileName)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write intermediate artifact: %w", err)
	}
	s.SyncArtifact(target)
	return target, nil
}

// PersistDocument writes the final Document JSON to its deterministic path.
// Text is UTF-8 with non-ASCII preserved.
func (s *Store) PersistDocument(doc *schema.Document) (string, error) {
	if err := os.MkdirAll(s.FinalDir(), 0o755); err != nil {
		return "", fmt.Errorf("create final dir: %w", err)
	}
	target := s.DocumentPath(doc.DocumentID)
	if err := writeJSON(target, doc); err != nil {
		return "", err
	}
	s.logger.Info("persisted document artifact", "document_id", doc.DocumentID, "path", target)
	s.SyncArtifact(target)
	return target, nil
}

// PersistAuxiliaryJSON stores a debugging payload (e.g. a raw parser
// response) next to the pipeline artifacts, keyed by category.
func (s *Store) PersistAuxiliaryJSON(documentID string, payload any, category string) (string, error) {
	dir := s.IntermediateDir(category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create auxiliary dir: %w", err)
	}
	target := filepath.Join(dir, documentID+".json")
	if err := writeJSON(target, payload); err != nil {
		return "", err
	}
	s.SyncArtifact(target)
	return target, nil
}

// PersistAuxiliaryBytes stores an opaque payload for later inspection.
// Binary parser responses go through here before being rejected, so failures
// stay debuggable.
func (s *Store) PersistAuxiliaryBytes(documentID string, data []byte, suffix, category string) (string, error) {
	return s.PersistIntermediate(data, category, documentID+suffix)
}

// SyncArtifact mirrors an already materialized file to the object store.
// Best effort: a missing file or mirror failure is logged, never raised.
func (s *Store) SyncArtifact(localPath string) {
	if s.mirror == nil {
		return
	}
	if _, err := os.Stat(localPath); err != nil {
		s.logger.Debug("skipping mirror for missing artifact", "path", localPath)
		return
	}
	s.mirror.Upload(localPath, s.objectName(localPath))
}

func (s *Store) objectName(localPath string) string {
	rel, err := filepath.Rel(s.dataRoot, localPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(localPath)
	}
	return filepath.ToSlash(rel)
}

func writeJSON(target string, payload any) error {
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("encode %s: %w", target, err)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
