// Package main provides the mediarag CLI: file ingestion, a drop-directory
// watcher, search, and task status.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/mediarag/internal/config"
	"github.com/bull/mediarag/internal/genai"
	"github.com/bull/mediarag/internal/ingress"
	"github.com/bull/mediarag/internal/limits"
	"github.com/bull/mediarag/internal/media/audio"
	"github.com/bull/mediarag/internal/media/pdf"
	"github.com/bull/mediarag/internal/media/video"
	"github.com/bull/mediarag/internal/pipeline"
	"github.com/bull/mediarag/internal/schema"
	"github.com/bull/mediarag/internal/search"
	"github.com/bull/mediarag/internal/storage"
	"github.com/bull/mediarag/internal/tracking"
	"github.com/bull/mediarag/internal/vector"
)

var (
	configPath string

	ingestTitle       string
	ingestDescription string
	ingestTags        []string
	ingestMediaType   string
	frameStrategy     string
	frameInterval     float64
	sceneThreshold    float64
	pdfBackend        string

	searchTopK int
)

var rootCmd = &cobra.Command{
	Use:   "mediarag",
	Short: "Media ingestion pipeline",
	Long:  "Ingests audio, video, and PDF files into a chunked, vector-indexed document store.",
}

var fileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Ingest a single file and wait for the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runFile,
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a drop directory and ingest new files",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show the ingestion status of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	fileCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (default: file name)")
	fileCmd.Flags().StringVar(&ingestDescription, "description", "", "document description")
	fileCmd.Flags().StringSliceVar(&ingestTags, "tag", nil, "document tag (repeatable)")
	fileCmd.Flags().StringVar(&ingestMediaType, "media-type", "", "override media type (audio|video|pdf)")
	fileCmd.Flags().StringVar(&frameStrategy, "frame-strategy", "", "video frame sampling strategy (interval|scene)")
	fileCmd.Flags().Float64Var(&frameInterval, "frame-interval", 0, "video frame sampling interval in seconds")
	fileCmd.Flags().Float64Var(&sceneThreshold, "scene-threshold", 0, "scene-change sensitivity threshold")
	fileCmd.Flags().StringVar(&pdfBackend, "pdf-backend", "", "remote PDF parser backend")

	searchCmd.Flags().IntVar(&searchTopK, "top-k", 5, "maximum number of hits")

	rootCmd.AddCommand(fileCmd, watchCmd, searchCmd, statusCmd)
}

func main() {
	// Load .env if present (local development), ignore if missing.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// services is the wired object graph for one process.
type services struct {
	cfg        *config.Config
	store      *storage.Store
	vectors    *vector.Service
	searcher   *search.Client
	tracker    *tracking.Store
	dispatcher *pipeline.Dispatcher
	intake     *ingress.Intake
}

func buildServices(logger *slog.Logger) (*services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store := storage.NewStore(cfg.DataRoot, storage.NewMirror(cfg.MinIO, logger), logger)
	vectors := vector.NewService(buildProvider(cfg), cfg.Vector.Dimension, cfg.Vector.MaxRetries, logger)
	searcher := search.NewClient(cfg.Qdrant, cfg.Vector.Dimension, logger)
	ai := genai.NewClient(logger)

	tracker, err := tracking.NewStore(cfg.Tracking.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	audioProc := audio.NewProcessor(cfg.Audio, transcriber(ai), vectors, store, logger)
	videoProc := video.NewProcessor(cfg.Video, audioProc, captioner(ai), vectors, store, logger)
	registry := pdf.NewRegistry(pdf.NewLocalParser(), logger, pdf.NewRemoteParser(cfg.PDF, store, logger))
	pdfProc := pdf.NewProcessor(cfg.PDF, registry, vectors, store, logger)

	stages := pipeline.NewStages(pipeline.Dependencies{
		Checker:         limits.NewChecker(cfg.Limits),
		Audio:           audioProc,
		Video:           videoProc,
		PDF:             pdfProc,
		Summarizer:      ai,
		Vectors:         vectors,
		Store:           store,
		Search:          searcher,
		PipelineVersion: cfg.PipelineVersion,
		Logger:          logger,
	})
	runner := pipeline.NewRunner(stages, tracker, logger)
	dispatcher := pipeline.NewDispatcher(runner, cfg.Workers, tracker, logger)

	return &services{
		cfg:        cfg,
		store:      store,
		vectors:    vectors,
		searcher:   searcher,
		tracker:    tracker,
		dispatcher: dispatcher,
		intake:     ingress.NewIntake(store, dispatcher, logger),
	}, nil
}

func (s *services) close() {
	s.dispatcher.Close()
	s.searcher.Close()
	s.tracker.Close()
}

func buildProvider(cfg *config.Config) vector.Provider {
	switch cfg.Vector.Provider {
	case "ollama":
		return vector.NewOllamaProvider(cfg.Vector.OllamaBaseURL, cfg.Vector.OllamaModel,
			time.Duration(cfg.Vector.OllamaTimeout)*time.Second)
	case "openai":
		if os.Getenv("OPENAI_API_KEY") != "" {
			return vector.NewOpenAIProvider(cfg.Vector.OpenAIModel, 0)
		}
	}
	return nil // deterministic fallback only
}

// transcriber narrows the genai client to the audio processor's interface,
// mapping a disabled client to nil so the placeholder path kicks in early.
func transcriber(ai *genai.Client) audio.Transcriber {
	if !ai.Enabled() {
		return nil
	}
	return ai
}

func captioner(ai *genai.Client) video.Captioner {
	if !ai.Enabled() {
		return nil
	}
	return ai
}

func runFile(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	svc, err := buildServices(logger)
	if err != nil {
		return err
	}
	defer svc.close()

	sourcePath := args[0]
	mediaType, err := resolveMediaType(sourcePath)
	if err != nil {
		return err
	}

	user := pipeline.UserMetadata{
		Title:       ingestTitle,
		Description: ingestDescription,
		Tags:        ingestTags,
	}
	opts := processingOptions()

	ctx := cmd.Context()
	documentID, err := svc.intake.Accept(ctx, sourcePath, mediaType, user, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Ingesting %s as document %s...\n", sourcePath, documentID)

	if err := waitForTask(ctx, svc.tracker, documentID); err != nil {
		return err
	}
	task, err := svc.tracker.Get(documentID)
	if err != nil {
		return err
	}
	return printJSON(task)
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	svc, err := buildServices(logger)
	if err != nil {
		return err
	}
	defer svc.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := ingress.NewWatcher(args[0], svc.intake, logger)
	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Println("Watcher stopped")
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	svc, err := buildServices(logger)
	if err != nil {
		return err
	}
	defer svc.close()

	query := strings.Join(args, " ")
	queryVector := svc.vectors.EmbedTexts(cmd.Context(), []string{query})[0]

	hits, err := svc.searcher.Search(cmd.Context(), query, queryVector, searchTopK)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(hits) == 0 {
		fmt.Println("No results")
		return nil
	}
	for i, hit := range hits {
		fmt.Printf("%d. [%s] %s (%.1fs-%.1fs, score %.3f)\n",
			i+1, hit.MediaType, hit.Title, hit.StartTime, hit.EndTime, hit.Score)
		content := hit.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		fmt.Printf("   %s\n", content)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tracker, err := tracking.NewStore(cfg.Tracking.DBPath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer tracker.Close()

	task, err := tracker.Get(args[0])
	if err != nil {
		return err
	}
	return printJSON(task)
}

func resolveMediaType(path string) (schema.MediaType, error) {
	if ingestMediaType != "" {
		mediaType := schema.MediaType(ingestMediaType)
		if !mediaType.Valid() {
			return "", fmt.Errorf("unsupported media type %q", ingestMediaType)
		}
		return mediaType, nil
	}
	mediaType, ok := ingress.MediaTypeForFile(path)
	if !ok {
		return "", fmt.Errorf("cannot infer media type for %s, pass --media-type", path)
	}
	return mediaType, nil
}

func processingOptions() *schema.ProcessingOptions {
	opts := &schema.ProcessingOptions{}
	if frameStrategy != "" || frameInterval > 0 || sceneThreshold > 0 {
		opts.Video = &schema.VideoOptions{
			FrameStrategy:  frameStrategy,
			FrameInterval:  frameInterval,
			SceneThreshold: sceneThreshold,
		}
	}
	if pdfBackend != "" {
		opts.PDF = &schema.PDFOptions{Backend: pdfBackend}
	}
	if opts.Video == nil && opts.PDF == nil {
		return nil
	}
	return opts
}

// waitForTask polls the task store until the chain finishes or aborts.
func waitForTask(ctx context.Context, tracker *tracking.Store, documentID string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		task, err := tracker.Get(documentID)
		if err != nil {
			return err
		}
		switch task.Status {
		case tracking.StatusCompleted, tracking.StatusFailed:
			return nil
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
