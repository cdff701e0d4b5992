// Package video augments a video's audio chunks with probed metadata and
// captioned keyframes. A video document is an audio document plus visual
// data; every external tool has a synthetic fallback.
package video

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bull/mediarag/internal/config"
	"github.com/bull/mediarag/internal/media/audio"
	"github.com/bull/mediarag/internal/schema"
	"github.com/bull/mediarag/internal/storage"
	"github.com/bull/mediarag/internal/vector"
)

// Captioner is the external vision-language collaborator.
type Captioner interface {
	Enabled() bool
	CaptionImage(ctx context.Context, imagePath string) (string, error)
}

// FrameRef is one sampled frame before captioning.
type FrameRef struct {
	Timestamp   float64
	Path        string
	SceneChange bool
}

// frameOptions are the clamped, resolved sampling options.
type frameOptions struct {
	strategy  string
	interval  float64
	threshold float64
}

// Processor builds audio_video chunks for a document.
type Processor struct {
	cfg       config.VideoConfig
	audio     *audio.Processor
	captioner Captioner
	vectors   *vector.Service
	store     *storage.Store
	logger    *slog.Logger
}

// NewProcessor wires the video processor on top of the audio processor.
func NewProcessor(cfg config.VideoConfig, audioProc *audio.Processor, captioner Captioner, vectors *vector.Service, store *storage.Store, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:       cfg,
		audio:     audioProc,
		captioner: captioner,
		vectors:   vectors,
		store:     store,
		logger:    logger,
	}
}

// BuildChunks runs the full video path: audio chunks, metadata probe, frame
// sampling, captioning, keyframe assignment, audio_video retag.
func (p *Processor) BuildChunks(ctx context.Context, sourcePath, baseChunkID string, opts *schema.VideoOptions) ([]schema.Chunk, error) {
	chunks, err := p.audio.BuildChunks(ctx, sourcePath, baseChunkID)
	if err != nil {
		return nil, fmt.Errorf("audio track processing: %w", err)
	}

	meta := p.Probe(ctx, sourcePath)
	resolved := p.resolveOptions(opts)
	p.logger.Info("video frame sampling",
		"strategy", resolved.strategy, "interval", resolved.interval, "threshold", resolved.threshold)

	frames := p.ExtractFrames(ctx, sourcePath, baseChunkID, resolved, meta.Duration)
	if len(frames) == 0 {
		frames = FallbackFrames(resolved.interval, meta.Duration, p.cfg.MaxKeyframes)
	}
	keyframes := p.buildKeyframes(ctx, frames)

	videoContent := &schema.VideoContent{
		URL:         sourcePath,
		Format:      strings.TrimPrefix(filepath.Ext(sourcePath), "."),
		Duration:    meta.Duration,
		Resolution:  meta.Resolution,
		FPS:         meta.FPS,
		Codec:       "h264",
		AspectRatio: meta.AspectRatio,
	}

	AssignKeyframes(chunks, keyframes)
	for i := range chunks {
		chunks[i].MediaType = schema.MediaAudioVideo
		chunks[i].Content.Video = videoContent
	}
	p.logger.Info("video processing complete",
		"source", filepath.Base(sourcePath), "keyframes", len(keyframes))
	return chunks, nil
}

// resolveOptions clamps user-supplied sampling options to safe bounds:
// interval >= 0.5s, threshold within [0.05, 1.0].
func (p *Processor) resolveOptions(opts *schema.VideoOptions) frameOptions {
	resolved := frameOptions{
		strategy:  schema.FrameStrategyInterval,
		interval:  p.cfg.FrameInterval,
		threshold: 0.3,
	}
	if opts != nil {
		if opts.FrameStrategy == schema.FrameStrategyScene {
			resolved.strategy = schema.FrameStrategyScene
		}
		if opts.FrameInterval > 0 {
			resolved.interval = opts.FrameInterval
		}
		if opts.SceneThreshold > 0 {
			resolved.threshold = opts.SceneThreshold
		}
	}
	resolved.interval = math.Max(resolved.interval, 0.5)
	resolved.threshold = math.Min(math.Max(resolved.threshold, 0.05), 1.0)
	return resolved
}

// ExtractFrames samples frames via ffmpeg. Returns nil on any failure; the
// caller substitutes synthetic placeholder frames.
func (p *Processor) ExtractFrames(ctx context.Context, videoPath, documentID string, opts frameOptions, clipDuration float64) []FrameRef {
	targetDir := p.store.IntermediateDir("video", documentID)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		p.logger.Warn("cannot create frame dir", "error", err)
		return nil
	}
	clearFrames(targetDir)

	outputPattern := filepath.Join(targetDir, "frame_%04d.jpg")
	var args []string
	if opts.strategy == schema.FrameStrategyScene {
		filter := fmt.Sprintf("select='eq(n,0)+gt(scene,%g)'", opts.threshold)
		args = []string{
			"-hide_banner", "-loglevel", "error",
			"-i", videoPath,
			"-vf", filter,
			"-vsync", "vfr",
			"-q:v", "2",
			outputPattern,
		}
	} else {
		args = []string{
			"-hide_banner", "-loglevel", "error",
			"-i", videoPath,
			"-vf", fmt.Sprintf("fps=1/%g", opts.interval),
			"-q:v", "2",
			outputPattern,
		}
	}
	if err := exec.CommandContext(ctx, p.ffmpegPath(), args...).Run(); err != nil {
		p.logger.Warn("frame extraction failed, will use synthetic keyframes", "error", err)
		return nil
	}

	paths, err := filepath.Glob(filepath.Join(targetDir, "frame_*.jpg"))
	if err != nil || len(paths) == 0 {
		p.logger.Warn("no frames extracted", "source", filepath.Base(videoPath))
		return nil
	}
	sort.Strings(paths)
	if len(paths) > p.cfg.MaxKeyframes {
		paths = paths[:p.cfg.MaxKeyframes]
	}
	for _, framePath := range paths {
		p.store.SyncArtifact(framePath)
	}

	return framesWithTimestamps(paths, opts, clipDuration)
}

// framesWithTimestamps assigns a timestamp to each extracted frame. Interval
// sampling is exact (index * interval); scene sampling redistributes frames
// evenly across the clip, an approximation of the true scene timestamps.
// Scene-sampled frames carry the scene-change flag, since the extraction
// filter itself selected them on a scene score.
func framesWithTimestamps(paths []string, opts frameOptions, clipDuration float64) []FrameRef {
	frames := make([]FrameRef, 0, len(paths))
	if opts.strategy == schema.FrameStrategyScene {
		step := 0.0
		if len(paths) > 1 {
			step = math.Max(clipDuration/float64(len(paths)-1), 0.5)
		}
		for i, path := range paths {
			frames = append(frames, FrameRef{
				Timestamp:   math.Min(float64(i)*step, clipDuration),
				Path:        path,
				SceneChange: true,
			})
		}
		return frames
	}
	for i, path := range paths {
		frames = append(frames, FrameRef{
			Timestamp: math.Min(float64(i)*opts.interval, clipDuration),
			Path:      path,
		})
	}
	return frames
}

// FallbackFrames synthesizes evenly spaced placeholder frame references so a
// document always carries at least a minimal keyframe set.
func FallbackFrames(intervalSeconds, clipDuration float64, maxFrames int) []FrameRef {
	interval := math.Max(intervalSeconds, 0.5)
	steps := int(math.Floor(clipDuration / interval))
	if steps < 1 {
		steps = 1
	}
	if maxFrames > 0 && steps > maxFrames {
		steps = maxFrames
	}
	frames := make([]FrameRef, 0, steps)
	for i := 0; i < steps; i++ {
		frames = append(frames, FrameRef{
			Timestamp: math.Min(float64(i)*interval, clipDuration),
			Path:      fmt.Sprintf("frames/frame_%04d.jpg", i),
		})
	}
	return frames
}

// buildKeyframes captions frames and embeds the non-empty descriptions,
// preserving index alignment between frames, captions, and embeddings.
func (p *Processor) buildKeyframes(ctx context.Context, frames []FrameRef) []schema.Keyframe {
	if len(frames) == 0 {
		return nil
	}

	descriptions := make([]string, len(frames))
	if p.captioner != nil && p.captioner.Enabled() {
		for i, frame := range frames {
			desc, err := p.captioner.CaptionImage(ctx, frame.Path)
			if err != nil {
				p.logger.Warn("frame captioning failed", "frame", frame.Path, "error", err)
				continue
			}
			descriptions[i] = desc
		}
	}

	// Empty descriptions never consume an embedding-provider call.
	var nonEmptyIdx []int
	var nonEmptyTexts []string
	for i, desc := range descriptions {
		if desc != "" {
			nonEmptyIdx = append(nonEmptyIdx, i)
			nonEmptyTexts = append(nonEmptyTexts, desc)
		}
	}
	embeddings := make([][]float32, len(frames))
	if len(nonEmptyTexts) > 0 {
		vectors := p.vectors.EmbedTexts(ctx, nonEmptyTexts)
		for j, idx := range nonEmptyIdx {
			embeddings[idx] = vectors[j]
		}
	}

	keyframes := make([]schema.Keyframe, 0, len(frames))
	for i, frame := range frames {
		description := descriptions[i]
		if description == "" {
			description = fmt.Sprintf("Frame at %.1fs", frame.Timestamp)
		}
		keyframes = append(keyframes, schema.Keyframe{
			Timestamp:    frame.Timestamp,
			ThumbnailURL: frame.Path,
			Description:  description,
			SceneChange:  frame.SceneChange,
			Embedding:    embeddings[i],
		})
	}
	return keyframes
}

// AssignKeyframes attaches each keyframe to the chunks whose temporal range
// contains its timestamp. Chunks with no matching frame receive the full set
// so no chunk is visually empty.
func AssignKeyframes(chunks []schema.Chunk, keyframes []schema.Keyframe) {
	if len(keyframes) == 0 {
		return
	}
	for i := range chunks {
		var relevant []schema.Keyframe
		for _, frame := range keyframes {
			if chunks[i].Temporal.StartTime <= frame.Timestamp && frame.Timestamp <= chunks[i].Temporal.EndTime {
				relevant = append(relevant, frame)
			}
		}
		if relevant == nil {
			relevant = keyframes
		}
		chunks[i].Content.Keyframes = relevant
	}
}

func (p *Processor) ffmpegPath() string {
	// Frame extraction shares the decode tool with the audio processor.
	if path := os.Getenv("FFMPEG_PATH"); path != "" {
		return path
	}
	return "ffmpeg"
}

func clearFrames(dir string) {
	old, _ := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	for _, path := range old {
		_ = os.Remove(path)
	}
}
