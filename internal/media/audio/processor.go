// Package audio turns an audio file into transcribed, time-windowed chunks.
// Every external dependency (decode tool, speech-to-text, embeddings) has a
// degraded path, so processing always yields at least one chunk.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bull/mediarag/internal/config"
	"github.com/bull/mediarag/internal/schema"
	"github.com/bull/mediarag/internal/storage"
	"github.com/bull/mediarag/internal/vector"
)

// Transcriber is the external speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) ([]schema.TextSegment, error)
}

// Processor builds audio chunks for a document.
type Processor struct {
	cfg         config.AudioConfig
	transcriber Transcriber
	vectors     *vector.Service
	store       *storage.Store
	logger      *slog.Logger
}

// NewProcessor wires the audio processor. transcriber may be nil; every
// transcription then takes the placeholder path.
func NewProcessor(cfg config.AudioConfig, transcriber Transcriber, vectors *vector.Service, store *storage.Store, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:         cfg,
		transcriber: transcriber,
		vectors:     vectors,
		store:       store,
		logger:      logger,
	}
}

// BuildChunks runs the full audio path: track extraction, transcription,
// windowing, and chunk assembly. Chunk ids are {baseChunkID}-a{n}.
func (p *Processor) BuildChunks(ctx context.Context, sourcePath, baseChunkID string) ([]schema.Chunk, error) {
	trackPath := p.PrepareTrack(ctx, sourcePath, baseChunkID)

	segments, transcribed := p.transcribe(ctx, trackPath, sourcePath)
	windows := WindowSegments(segments, p.cfg.ChunkMaxDuration)
	if len(windows) == 0 {
		// No segments at all: a single zero-length chunk, never an empty
		// document.
		windows = [][]schema.TextSegment{{}}
	}

	texts := make([]string, len(windows))
	for i, window := range windows {
		texts[i] = joinSegments(window)
	}
	vectors := p.vectors.EmbedTexts(ctx, texts)

	stepName := "transcribe"
	stepStatus := "success"
	if !transcribed {
		stepStatus = "fallback"
	}

	chunks := make([]schema.Chunk, 0, len(windows))
	for i, window := range windows {
		temporal := windowTemporal(window, i+1)
		text := schema.TextContent{
			FullText:  texts[i],
			Segments:  window,
			Language:  p.language(),
			WordCount: len(strings.Fields(texts[i])),
		}
		chunks = append(chunks, schema.Chunk{
			ChunkID:   fmt.Sprintf("%s-a%d", baseChunkID, i+1),
			MediaType: schema.MediaAudio,
			Temporal:  temporal,
			Content: schema.ChunkContent{
				Text:  &text,
				Audio: p.audioContent(trackPath, temporal.Duration),
			},
			Vector: schema.NewVectorInfo(vectors[i], p.vectors.ModelName(), "1.0", p.vectors.Dimension(), "text"),
			Processing: map[string]any{
				"steps": []map[string]any{{"step_name": stepName, "status": stepStatus}},
			},
		})
	}

	p.logger.Info("built audio chunks",
		"source", filepath.Base(sourcePath), "chunks", len(chunks))
	return chunks, nil
}

// PrepareTrack extracts a mono PCM track at the configured sample rate.
// Decode failure falls back to copying the source, and a failed copy falls
// back to the source path itself, so downstream steps never block on ffmpeg.
func (p *Processor) PrepareTrack(ctx context.Context, sourcePath, documentID string) string {
	dir := p.store.IntermediateDir("audio")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		p.logger.Warn("cannot create audio scratch dir, using source directly", "error", err)
		return sourcePath
	}
	target := filepath.Join(dir, documentID+".wav")

	cmd := exec.CommandContext(ctx, p.cfg.FFmpegPath,
		"-y",
		"-i", sourcePath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(p.cfg.SampleRate),
		"-ac", "1",
		target,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		p.logger.Warn("audio extraction failed, falling back to source copy",
			"error", err, "output", truncate(string(out), 200))
		if copyErr := copyFile(sourcePath, target); copyErr != nil {
			p.logger.Warn("audio copy fallback failed, using source directly", "error", copyErr)
			return sourcePath
		}
	}
	p.store.SyncArtifact(target)
	return target
}

// transcribe runs the collaborator over the prepared track; the placeholder
// transcript derives from the original file name, not the renamed track.
func (p *Processor) transcribe(ctx context.Context, trackPath, sourcePath string) ([]schema.TextSegment, bool) {
	if p.transcriber != nil {
		segments, err := p.transcriber.Transcribe(ctx, trackPath, p.cfg.Language)
		if err == nil && len(segments) > 0 {
			return segments, true
		}
		if err != nil {
			p.logger.Warn("transcription failed, using placeholder transcript", "error", err)
		}
	}
	return FallbackTranscript(sourcePath), false
}

// FallbackTranscript derives a deterministic placeholder transcript from the
// file name: one segment per name word, closed by a placeholder marker, so
// the pipeline always yields at least one chunk.
func FallbackTranscript(audioPath string) []schema.TextSegment {
	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	words := strings.Fields(strings.ReplaceAll(stem, "_", " "))
	words = append(words, "placeholder transcription")

	segments := make([]schema.TextSegment, 0, len(words))
	for i, word := range words {
		segments = append(segments, schema.TextSegment{
			Index:     i,
			StartTime: float64(i * 2),
			EndTime:   float64(i*2) + 1.5,
			Text:      word,
			SpeakerID: "spk1",
		})
	}
	return segments
}

// WindowSegments groups consecutive segments into windows bounded by
// maxDuration. A new window starts when appending a segment would push the
// elapsed span (segment end minus window start) over the limit; the first
// segment of a window seeds its start time. A single segment longer than
// the limit still forms its own window.
func WindowSegments(segments []schema.TextSegment, maxDuration float64) [][]schema.TextSegment {
	var grouped [][]schema.TextSegment
	var current []schema.TextSegment
	windowStart := 0.0

	for _, seg := range segments {
		if len(current) > 0 && seg.EndTime-windowStart > maxDuration {
			grouped = append(grouped, current)
			current = nil
		}
		if len(current) == 0 {
			windowStart = seg.StartTime
		}
		current = append(current, seg)
	}
	if len(current) > 0 {
		grouped = append(grouped, current)
	}
	return grouped
}

func windowTemporal(window []schema.TextSegment, index int) schema.TemporalInfo {
	if len(window) == 0 {
		return schema.TemporalInfo{ChunkIndex: index}
	}
	start := window[0].StartTime
	end := window[len(window)-1].EndTime
	return schema.TemporalInfo{
		StartTime:  start,
		EndTime:    end,
		Duration:   end - start,
		ChunkIndex: index,
	}
}

func (p *Processor) audioContent(trackPath string, duration float64) *schema.AudioContent {
	format := strings.TrimPrefix(filepath.Ext(trackPath), ".")
	if format == "" {
		format = "wav"
	}
	return &schema.AudioContent{
		URL:        trackPath,
		Format:     format,
		Duration:   duration,
		SampleRate: p.cfg.SampleRate,
		Channels:   1,
		Codec:      "pcm_s16le",
	}
}

func (p *Processor) language() string {
	if p.cfg.Language != "" {
		return p.cfg.Language
	}
	return "en"
}

func joinSegments(segments []schema.TextSegment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
