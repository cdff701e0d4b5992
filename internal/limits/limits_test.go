package limits

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bull/mediarag/internal/config"
	"github.com/bull/mediarag/internal/schema"
)

func writeTemp(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.bin")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckFile_UnsupportedMediaType(t *testing.T) {
	c := NewChecker(config.LimitsConfig{})
	err := c.CheckFile(schema.MediaType("image"), writeTemp(t, 10))
	if !errors.Is(err, ErrUnsupportedMediaType) {
		t.Fatalf("expected ErrUnsupportedMediaType, got %v", err)
	}
}

func TestCheckFile_SizeLimit(t *testing.T) {
	c := NewChecker(config.LimitsConfig{AudioMaxSizeMB: 1})

	if err := c.CheckFile(schema.MediaAudio, writeTemp(t, 1024)); err != nil {
		t.Fatalf("small file should pass: %v", err)
	}
	err := c.CheckFile(schema.MediaAudio, writeTemp(t, 2*1024*1024))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestCheckDuration(t *testing.T) {
	c := NewChecker(config.LimitsConfig{VideoMaxDurationSec: 60})

	if err := c.CheckDuration(schema.MediaVideo, 59); err != nil {
		t.Fatalf("under limit should pass: %v", err)
	}
	if err := c.CheckDuration(schema.MediaVideo, 61); !errors.Is(err, ErrDurationTooLong) {
		t.Fatalf("expected ErrDurationTooLong, got %v", err)
	}
	// PDFs have no duration limit.
	if err := c.CheckDuration(schema.MediaPDF, 1e9); err != nil {
		t.Fatalf("pdf duration should be ignored: %v", err)
	}
}
