package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay is how long a dropped file must stop growing before it is
// considered fully written.
const settleDelay = 500 * time.Millisecond

// Watcher ingests files dropped into a directory. Files with an unknown
// extension and dot-prefixed temp files are ignored.
type Watcher struct {
	dir    string
	intake *Intake
	logger *slog.Logger
}

func NewWatcher(dir string, intake *Intake, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, intake: intake, logger: logger}
}

// Run watches the drop directory until the context is cancelled. Files
// already present at startup are ingested first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create drop dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.sweepExisting(ctx)
	w.logger.Info("watching drop directory", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.maybeIngest(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) sweepExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("cannot list drop dir", "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.maybeIngest(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

func (w *Watcher) maybeIngest(ctx context.Context, path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return
	}
	mediaType, ok := MediaTypeForFile(path)
	if !ok {
		w.logger.Debug("ignoring file with unknown extension", "file", name)
		return
	}
	if !w.waitSettled(ctx, path) {
		return
	}

	documentID, err := w.intake.Accept(ctx, path, mediaType, UserMetadataForDrop(path), nil)
	if err != nil {
		w.logger.Warn("drop ingestion failed", "file", name, "error", err)
		return
	}
	w.logger.Info("ingested dropped file", "file", name, "document_id", documentID)

	// The raw copy is now the source of record.
	if err := os.Remove(path); err != nil {
		w.logger.Debug("cannot remove ingested drop file", "file", name, "error", err)
	}
}

// waitSettled returns once the file size has been stable for settleDelay.
func (w *Watcher) waitSettled(ctx context.Context, path string) bool {
	var lastSize int64 = -1
	for {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if info.Size() == lastSize {
			return true
		}
		lastSize = info.Size()
		select {
		case <-ctx.Done():
			return false
		case <-time.After(settleDelay):
		}
	}
}
