// Package config holds process configuration for the ingestion pipeline.
// Values come from an optional YAML file overridden by environment variables;
// .env loading is left to the mains.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration. Zero values are filled by
// Default; Load applies file then environment overrides on top.
type Config struct {
	DataRoot        string `yaml:"data_root"`
	PipelineVersion string `yaml:"pipeline_version"`

	Vector   VectorConfig   `yaml:"vector"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Audio    AudioConfig    `yaml:"audio"`
	Video    VideoConfig    `yaml:"video"`
	PDF      PDFConfig      `yaml:"pdf"`
	Limits   LimitsConfig   `yaml:"limits"`
	Workers  WorkersConfig  `yaml:"workers"`
	Tracking TrackingConfig `yaml:"tracking"`
}

// VectorConfig selects the embedding provider and target dimension.
type VectorConfig struct {
	Provider      string `yaml:"provider"` // "openai" or "ollama"
	Dimension     int    `yaml:"dimension"`
	MaxRetries    int    `yaml:"max_retries"`
	OpenAIModel   string `yaml:"openai_model"`
	OllamaBaseURL string `yaml:"ollama_base_url"`
	OllamaModel   string `yaml:"ollama_model"`
	OllamaTimeout int    `yaml:"ollama_timeout_seconds"`
}

// QdrantConfig configures the search index backend.
type QdrantConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
}

// MinIOConfig configures the optional object-store mirror.
type MinIOConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// AudioConfig tunes audio extraction and chunking.
type AudioConfig struct {
	SampleRate       int     `yaml:"sample_rate"`
	ChunkMaxDuration float64 `yaml:"chunk_max_duration"`
	Language         string  `yaml:"language"`
	FFmpegPath       string  `yaml:"ffmpeg_path"`
}

// VideoConfig tunes frame sampling.
type VideoConfig struct {
	FrameInterval float64 `yaml:"frame_interval_seconds"`
	MaxKeyframes  int     `yaml:"max_keyframes"`
	FFprobePath   string  `yaml:"ffprobe_path"`
}

// PDFConfig selects the structural parser.
type PDFConfig struct {
	Parser         string `yaml:"parser"` // "remote" or "local"
	RemoteBaseURL  string `yaml:"remote_base_url"`
	RemoteAPIKey   string `yaml:"remote_api_key"`
	RemotePath     string `yaml:"remote_parse_path"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// LimitsConfig bounds accepted inputs. Violations are hard errors raised
// before any stage runs.
type LimitsConfig struct {
	AudioMaxSizeMB      int64   `yaml:"audio_max_size_mb"`
	VideoMaxSizeMB      int64   `yaml:"video_max_size_mb"`
	PDFMaxSizeMB        int64   `yaml:"pdf_max_size_mb"`
	AudioMaxDurationSec float64 `yaml:"audio_max_duration_sec"`
	VideoMaxDurationSec float64 `yaml:"video_max_duration_sec"`
}

// WorkersConfig sizes the io/cpu worker pools.
type WorkersConfig struct {
	IO  int `yaml:"io"`
	CPU int `yaml:"cpu"`
}

// TrackingConfig locates the task-status database.
type TrackingConfig struct {
	DBPath string `yaml:"db_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataRoot:        "data",
		PipelineVersion: "v1.0.0",
		Vector: VectorConfig{
			Provider:      "openai",
			Dimension:     1536,
			MaxRetries:    2,
			OpenAIModel:   "text-embedding-3-small",
			OllamaBaseURL: "http://localhost:11434",
			OllamaModel:   "nomic-embed-text",
			OllamaTimeout: 30,
		},
		Qdrant: QdrantConfig{
			Enabled:    true,
			Host:       "localhost",
			Port:       6334,
			Collection: "media_documents",
		},
		MinIO: MinIOConfig{
			Bucket: "mediarag",
		},
		Audio: AudioConfig{
			SampleRate:       16000,
			ChunkMaxDuration: 30.0,
			FFmpegPath:       "ffmpeg",
		},
		Video: VideoConfig{
			FrameInterval: 2.0,
			MaxKeyframes:  60,
			FFprobePath:   "ffprobe",
		},
		PDF: PDFConfig{
			Parser:         "remote",
			RemotePath:     "/file_parse",
			TimeoutSeconds: 120,
		},
		Limits: LimitsConfig{
			AudioMaxSizeMB:      200,
			VideoMaxSizeMB:      1024,
			PDFMaxSizeMB:        100,
			AudioMaxDurationSec: 2 * 3600,
			VideoMaxDurationSec: 4 * 3600,
		},
		Workers: WorkersConfig{
			IO:  4,
			CPU: 2,
		},
		Tracking: TrackingConfig{
			DBPath: filepath.Join("data", "tasks.db"),
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variable overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataRoot = getEnv("MEDIARAG_DATA_ROOT", c.DataRoot)
	c.Vector.Provider = getEnv("EMBEDDING_PROVIDER", c.Vector.Provider)
	c.Vector.Dimension = getEnvInt("EMBEDDING_DIMENSION", c.Vector.Dimension)
	c.Vector.OllamaBaseURL = getEnv("OLLAMA_BASE_URL", c.Vector.OllamaBaseURL)
	c.Vector.OllamaModel = getEnv("OLLAMA_EMBEDDING_MODEL", c.Vector.OllamaModel)
	c.Qdrant.Host = getEnv("QDRANT_HOST", c.Qdrant.Host)
	c.Qdrant.Port = getEnvInt("QDRANT_PORT", c.Qdrant.Port)
	if v := os.Getenv("QDRANT_ENABLED"); v != "" {
		c.Qdrant.Enabled = v == "true"
	}
	if v := os.Getenv("MINIO_ENABLED"); v != "" {
		c.MinIO.Enabled = v == "true"
	}
	c.MinIO.Endpoint = getEnv("MINIO_ENDPOINT", c.MinIO.Endpoint)
	c.MinIO.AccessKey = getEnv("MINIO_ACCESS_KEY", c.MinIO.AccessKey)
	c.MinIO.SecretKey = getEnv("MINIO_SECRET_KEY", c.MinIO.SecretKey)
	c.MinIO.Bucket = getEnv("MINIO_BUCKET", c.MinIO.Bucket)
	c.PDF.Parser = getEnv("PDF_PARSER", c.PDF.Parser)
	c.PDF.RemoteBaseURL = getEnv("PDF_REMOTE_BASE_URL", c.PDF.RemoteBaseURL)
	c.PDF.RemoteAPIKey = getEnv("PDF_REMOTE_API_KEY", c.PDF.RemoteAPIKey)
	c.Audio.Language = getEnv("ASR_LANGUAGE", c.Audio.Language)
	c.Tracking.DBPath = getEnv("MEDIARAG_TASK_DB", c.Tracking.DBPath)
}

// RawDir is the raw upload directory under the data root.
func (c *Config) RawDir() string { return filepath.Join(c.DataRoot, "raw") }

// IntermediateDir is the scratch directory for decode/frame artifacts.
func (c *Config) IntermediateDir(parts ...string) string {
	return filepath.Join(append([]string{c.DataRoot, "intermediate"}, parts...)...)
}

// FinalDir holds the persisted Document artifacts.
func (c *Config) FinalDir() string { return filepath.Join(c.DataRoot, "final_instances") }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
