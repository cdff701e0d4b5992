package video

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/mediarag/internal/config"
	"github.com/bull/mediarag/internal/media/audio"
	"github.com/bull/mediarag/internal/schema"
	"github.com/bull/mediarag/internal/storage"
	"github.com/bull/mediarag/internal/vector"
)

type stubCaptioner struct {
	caption string
}

func (s *stubCaptioner) Enabled() bool { return true }

func (s *stubCaptioner) CaptionImage(ctx context.Context, imagePath string) (string, error) {
	return s.caption, nil
}

func newTestProcessor(t *testing.T, captioner Captioner) *Processor {
	t.Helper()
	store := storage.NewStore(t.TempDir(), nil, nil)
	vectors := vector.NewService(nil, 16, 0, nil)
	audioCfg := config.AudioConfig{
		SampleRate:       16000,
		ChunkMaxDuration: 30,
		FFmpegPath:       "/nonexistent/ffmpeg",
	}
	videoCfg := config.VideoConfig{
		FrameInterval: 2.0,
		MaxKeyframes:  60,
		FFprobePath:   "/nonexistent/ffprobe",
	}
	audioProc := audio.NewProcessor(audioCfg, nil, vectors, store, nil)
	return NewProcessor(videoCfg, audioProc, captioner, vectors, store, nil)
}

func TestResolveOptions_Clamps(t *testing.T) {
	p := newTestProcessor(t, nil)

	resolved := p.resolveOptions(&schema.VideoOptions{
		FrameStrategy:  schema.FrameStrategyScene,
		FrameInterval:  0.1,
		SceneThreshold: 5.0,
	})
	assert.Equal(t, schema.FrameStrategyScene, resolved.strategy)
	assert.Equal(t, 0.5, resolved.interval)
	assert.Equal(t, 1.0, resolved.threshold)

	resolved = p.resolveOptions(&schema.VideoOptions{SceneThreshold: 0.001})
	assert.Equal(t, schema.FrameStrategyInterval, resolved.strategy)
	assert.Equal(t, 0.05, resolved.threshold)
}

func TestResolveOptions_Defaults(t *testing.T) {
	p := newTestProcessor(t, nil)
	resolved := p.resolveOptions(nil)
	assert.Equal(t, schema.FrameStrategyInterval, resolved.strategy)
	assert.Equal(t, 2.0, resolved.interval)
}

func TestFallbackFrames_AlwaysAtLeastOne(t *testing.T) {
	frames := FallbackFrames(2.0, 0.5, 60)
	require.Len(t, frames, 1)
	assert.Equal(t, 0.0, frames[0].Timestamp)
	assert.False(t, frames[0].SceneChange)
}

func TestFallbackFrames_CappedAndSpaced(t *testing.T) {
	frames := FallbackFrames(2.0, 1000, 10)
	require.Len(t, frames, 10)
	assert.Equal(t, 2.0, frames[1].Timestamp)
	assert.Equal(t, 18.0, frames[9].Timestamp)
}

func TestFramesWithTimestamps_SceneRedistributes(t *testing.T) {
	paths := []string{"f1.jpg", "f2.jpg", "f3.jpg"}
	frames := framesWithTimestamps(paths, frameOptions{strategy: schema.FrameStrategyScene}, 60)

	require.Len(t, frames, 3)
	assert.Equal(t, 0.0, frames[0].Timestamp)
	assert.Equal(t, 30.0, frames[1].Timestamp)
	assert.Equal(t, 60.0, frames[2].Timestamp)
	for _, frame := range frames {
		assert.True(t, frame.SceneChange)
	}
}

func TestFramesWithTimestamps_IntervalExact(t *testing.T) {
	paths := []string{"f1.jpg", "f2.jpg", "f3.jpg"}
	frames := framesWithTimestamps(paths, frameOptions{strategy: schema.FrameStrategyInterval, interval: 2}, 60)

	require.Len(t, frames, 3)
	assert.Equal(t, 4.0, frames[2].Timestamp)
	for _, frame := range frames {
		assert.False(t, frame.SceneChange)
	}
}

func TestAssignKeyframes_ByTemporalRange(t *testing.T) {
	chunks := []schema.Chunk{
		{Temporal: schema.TemporalInfo{StartTime: 0, EndTime: 10}},
		{Temporal: schema.TemporalInfo{StartTime: 10, EndTime: 20}},
		{Temporal: schema.TemporalInfo{StartTime: 100, EndTime: 110}},
	}
	keyframes := []schema.Keyframe{
		{Timestamp: 5},
		{Timestamp: 10},
		{Timestamp: 15},
	}

	AssignKeyframes(chunks, keyframes)

	assert.Len(t, chunks[0].Content.Keyframes, 2) // 5 and the shared boundary 10
	assert.Len(t, chunks[1].Content.Keyframes, 2)
	// No frame falls in [100,110]; that chunk receives the full set.
	assert.Len(t, chunks[2].Content.Keyframes, 3)
}

func TestBuildChunks_SyntheticEndToEnd(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "demo_clip.mp4")
	require.NoError(t, os.WriteFile(src, []byte("not a real video"), 0o644))

	p := newTestProcessor(t, &stubCaptioner{caption: "a slide with text"})
	chunks, err := p.BuildChunks(context.Background(), src, "vid-1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, chunk := range chunks {
		assert.Equal(t, schema.MediaAudioVideo, chunk.MediaType)
		require.NotNil(t, chunk.Content.Video)
		assert.GreaterOrEqual(t, chunk.Content.Video.Duration, 30.0)
		assert.Equal(t, 1280, chunk.Content.Video.Resolution.Width)
		require.NotEmpty(t, chunk.Content.Keyframes)
		for _, frame := range chunk.Content.Keyframes {
			assert.Equal(t, "a slide with text", frame.Description)
			assert.Len(t, frame.Embedding, 16)
			// ffmpeg is unavailable, so every frame is synthetic.
			assert.False(t, frame.SceneChange)
		}
	}
}

func TestBuildKeyframes_DefaultDescription(t *testing.T) {
	p := newTestProcessor(t, nil) // no captioner
	frames := []FrameRef{{Timestamp: 4.0, Path: "frames/frame_0002.jpg"}}

	keyframes := p.buildKeyframes(context.Background(), frames)

	require.Len(t, keyframes, 1)
	assert.Equal(t, "Frame at 4.0s", keyframes[0].Description)
	assert.Empty(t, keyframes[0].Embedding)
}

func TestHeuristicMetadata_MinimumDuration(t *testing.T) {
	meta := heuristicMetadata("/nonexistent/tiny.mp4")
	assert.GreaterOrEqual(t, meta.Duration, 30.0)
	assert.Equal(t, 25.0, meta.FPS)
	assert.Equal(t, "16:9", meta.AspectRatio)
	assert.False(t, meta.Probed)
}

func TestParseFrameRate(t *testing.T) {
	assert.Equal(t, 30.0, parseFrameRate("30/1"))
	assert.Equal(t, 25.0, parseFrameRate("0/0"))
	assert.Equal(t, 25.0, parseFrameRate(""))
	assert.InDelta(t, 29.97, parseFrameRate("30000/1001"), 0.01)
}
