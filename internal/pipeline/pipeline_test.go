package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/mediarag/internal/config"
	"github.com/bull/mediarag/internal/limits"
	"github.com/bull/mediarag/internal/media/audio"
	"github.com/bull/mediarag/internal/media/pdf"
	"github.com/bull/mediarag/internal/schema"
	"github.com/bull/mediarag/internal/search"
	"github.com/bull/mediarag/internal/storage"
	"github.com/bull/mediarag/internal/tracking"
	"github.com/bull/mediarag/internal/vector"
)

type recordingStage struct {
	name  string
	queue Queue
	calls *[]string
	err   error
}

func (s *recordingStage) Name() string { return s.name }
func (s *recordingStage) Queue() Queue { return s.queue }

func (s *recordingStage) Run(ctx context.Context, pc *Context) error {
	*s.calls = append(*s.calls, s.name)
	return s.err
}

func TestRunner_StrictStageOrder(t *testing.T) {
	var calls []string
	stages := []Stage{
		&recordingStage{name: "first", queue: QueueIO, calls: &calls},
		&recordingStage{name: "second", queue: QueueCPU, calls: &calls},
		&recordingStage{name: "third", queue: QueueIO, calls: &calls},
	}

	pc := NewContext("doc-1", schema.MediaAudio, "/tmp/x", UserMetadata{}, nil)
	err := NewRunner(stages, nil, nil).Run(context.Background(), pc)

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestRunner_AbortsOnFailure(t *testing.T) {
	var calls []string
	boom := errors.New("decode exploded")
	stages := []Stage{
		&recordingStage{name: "ok", queue: QueueIO, calls: &calls},
		&recordingStage{name: "bad", queue: QueueCPU, calls: &calls, err: boom},
		&recordingStage{name: "never", queue: QueueIO, calls: &calls},
	}

	tracker, err := tracking.NewStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	defer tracker.Close()
	require.NoError(t, tracker.Create("doc-2", "audio"))

	pc := NewContext("doc-2", schema.MediaAudio, "/tmp/x", UserMetadata{}, nil)
	err = NewRunner(stages, tracker, nil).Run(context.Background(), pc)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"ok", "bad"}, calls)

	// The stage error is surfaced verbatim as the failure detail.
	task, terr := tracker.Get("doc-2")
	require.NoError(t, terr)
	assert.Equal(t, tracking.StatusFailed, task.Status)
	assert.Equal(t, "stage bad: decode exploded", task.Detail)
}

// fullDeps wires a complete chain with external collaborators disabled, so
// every degraded path is exercised end to end.
func fullDeps(t *testing.T, cfg *config.Config) (Dependencies, *storage.Store) {
	t.Helper()
	store := storage.NewStore(cfg.DataRoot, nil, nil)
	vectors := vector.NewService(nil, cfg.Vector.Dimension, 0, nil)

	audioProc := audio.NewProcessor(cfg.Audio, nil, vectors, store, nil)
	registry := pdf.NewRegistry(pdf.NewLocalParser(), nil,
		pdf.NewRemoteParser(config.PDFConfig{}, store, nil))
	pdfProc := pdf.NewProcessor(cfg.PDF, registry, vectors, store, nil)

	return Dependencies{
		Checker:         limits.NewChecker(cfg.Limits),
		Audio:           audioProc,
		PDF:             pdfProc,
		Vectors:         vectors,
		Store:           store,
		Search:          search.NewClient(config.QdrantConfig{}, cfg.Vector.Dimension, nil),
		PipelineVersion: cfg.PipelineVersion,
	}, store
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataRoot = t.TempDir()
	cfg.Vector.Dimension = 16
	cfg.Audio.FFmpegPath = "/nonexistent/ffmpeg"
	cfg.Audio.ChunkMaxDuration = 100
	cfg.PDF.Parser = "local"
	return cfg
}

func TestPipeline_AudioEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	deps, store := fullDeps(t, cfg)

	dir := t.TempDir()
	src := filepath.Join(dir, "a b c.mp3")
	require.NoError(t, os.WriteFile(src, []byte("not audio"), 0o644))

	pc := NewContext("doc-audio", schema.MediaAudio, src, UserMetadata{Tags: []string{"demo"}}, nil)
	err := NewRunner(NewStages(deps), nil, nil).Run(context.Background(), pc)
	require.NoError(t, err)

	require.NotNil(t, pc.Document)
	require.Len(t, pc.Document.Chunks, 1)
	chunk := pc.Document.Chunks[0]
	assert.Equal(t, "a b c placeholder transcription", chunk.Content.Text.FullText)
	assert.Len(t, chunk.Vector.Embedding, 16)
	assert.Equal(t, cfg.PipelineVersion, chunk.Processing["pipeline_version"])
	assert.Equal(t, 1, pc.Document.Metadata.TotalChunks)
	assert.Equal(t, "a b c", pc.Document.Metadata.Title)

	// The artifact landed at the deterministic path.
	assert.Equal(t, store.DocumentPath("doc-audio"), pc.ArtifactPath)
	_, statErr := os.Stat(pc.ArtifactPath)
	assert.NoError(t, statErr)

	require.NotNil(t, pc.Document.Summary)
	assert.Equal(t, "Auto generated summary for a b c", pc.Document.Summary.Abstract)
}

func TestPipeline_PDFLocalFallbackEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.PDF.Parser = "remote" // unavailable, registry resolves to local
	deps, _ := fullDeps(t, cfg)

	dir := t.TempDir()
	src := filepath.Join(dir, "paper.pdf")
	require.NoError(t, os.WriteFile(src, []byte("alpha line\nbeta line\n"), 0o644))

	pc := NewContext("doc-pdf", schema.MediaPDF, src, UserMetadata{Title: "Paper"}, nil)
	err := NewRunner(NewStages(deps), nil, nil).Run(context.Background(), pc)
	require.NoError(t, err)

	require.Len(t, pc.Document.Chunks, 1)
	chunk := pc.Document.Chunks[0]
	assert.Equal(t, schema.MediaPDF, chunk.MediaType)
	assert.Equal(t, "doc-pdf-p1", chunk.ChunkID)
	assert.Len(t, chunk.Content.Text.Segments, 2)
	assert.Equal(t, 2, chunk.Analysis["block_count"])
}

func TestPipeline_RejectsOversizedFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Limits.AudioMaxSizeMB = 0 // unlimited
	cfg.Limits.PDFMaxSizeMB = 1
	deps, _ := fullDeps(t, cfg)

	dir := t.TempDir()
	src := filepath.Join(dir, "big.pdf")
	require.NoError(t, os.WriteFile(src, make([]byte, 2*1024*1024), 0o644))

	pc := NewContext("doc-big", schema.MediaPDF, src, UserMetadata{}, nil)
	err := NewRunner(NewStages(deps), nil, nil).Run(context.Background(), pc)

	require.ErrorIs(t, err, limits.ErrFileTooLarge)
	assert.Nil(t, pc.Document)
}

func TestPipeline_RejectsUnknownMediaType(t *testing.T) {
	cfg := testConfig(t)
	deps, _ := fullDeps(t, cfg)

	pc := NewContext("doc-bad", schema.MediaType("spreadsheet"), "/tmp/x", UserMetadata{}, nil)
	err := NewRunner(NewStages(deps), nil, nil).Run(context.Background(), pc)

	require.ErrorIs(t, err, limits.ErrUnsupportedMediaType)
}

func TestDispatcher_RunsDocumentsThroughPools(t *testing.T) {
	cfg := testConfig(t)
	deps, _ := fullDeps(t, cfg)

	tracker, err := tracking.NewStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	defer tracker.Close()

	runner := NewRunner(NewStages(deps), tracker, nil)
	dispatcher := NewDispatcher(runner, config.WorkersConfig{IO: 2, CPU: 2}, tracker, nil)

	dir := t.TempDir()
	ids := []string{"doc-a", "doc-b", "doc-c"}
	for _, id := range ids {
		src := filepath.Join(dir, id+".mp3")
		require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
		pc := NewContext(id, schema.MediaAudio, src, UserMetadata{}, nil)
		require.NoError(t, dispatcher.Enqueue(context.Background(), pc))
	}
	dispatcher.Close()

	for _, id := range ids {
		task, err := tracker.Get(id)
		require.NoError(t, err)
		assert.Equal(t, tracking.StatusCompleted, task.Status, "task %s", id)
		assert.EqualValues(t, 1, task.Result["total_chunks"])
	}
}
