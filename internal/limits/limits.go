// Package limits implements the hard validation gate that runs before any
// pipeline stage. Violations are terminal: they are never retried and no
// fallback applies.
package limits

import (
	"errors"
	"fmt"
	"os"

	"github.com/bull/mediarag/internal/config"
	"github.com/bull/mediarag/internal/schema"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFileTooLarge         = errors.New("file exceeds size limit")
	ErrDurationTooLong      = errors.New("media exceeds duration limit")
)

// Checker validates inputs against configured per-media limits.
type Checker struct {
	cfg config.LimitsConfig
}

// NewChecker builds a checker from the limits configuration.
func NewChecker(cfg config.LimitsConfig) *Checker {
	return &Checker{cfg: cfg}
}

// CheckFile validates the media type and file size of a source file.
func (c *Checker) CheckFile(mediaType schema.MediaType, path string) error {
	maxMB, err := c.maxSizeMB(mediaType)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}
	if maxMB > 0 && info.Size() > maxMB*1024*1024 {
		return fmt.Errorf("%w: %s is %d bytes, limit %d MB", ErrFileTooLarge, path, info.Size(), maxMB)
	}
	return nil
}

// CheckDuration validates a probed media duration, when one is known.
func (c *Checker) CheckDuration(mediaType schema.MediaType, seconds float64) error {
	var limit float64
	switch mediaType {
	case schema.MediaAudio:
		limit = c.cfg.AudioMaxDurationSec
	case schema.MediaVideo:
		limit = c.cfg.VideoMaxDurationSec
	default:
		return nil
	}
	if limit > 0 && seconds > limit {
		return fmt.Errorf("%w: %.1fs, limit %.1fs", ErrDurationTooLong, seconds, limit)
	}
	return nil
}

func (c *Checker) maxSizeMB(mediaType schema.MediaType) (int64, error) {
	switch mediaType {
	case schema.MediaAudio:
		return c.cfg.AudioMaxSizeMB, nil
	case schema.MediaVideo:
		return c.cfg.VideoMaxSizeMB, nil
	case schema.MediaPDF:
		return c.cfg.PDFMaxSizeMB, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mediaType)
	}
}
