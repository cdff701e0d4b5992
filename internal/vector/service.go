// Package vector provides provider-abstracted text embedding with retry and
// a deterministic fallback, so embedding never blocks ingestion.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/bull/mediarag/internal/schema"
)

// FallbackModel is the model name recorded on deterministic fallback vectors.
const FallbackModel = "deterministic-fallback"

// Metrics is a point-in-time snapshot of service counters. Counters are for
// observability only and never affect control flow.
type Metrics struct {
	Requests         int64
	ProviderFailures int64
	FallbackVectors  int64
}

// Service embeds texts through a configured provider and substitutes
// deterministic hash-seeded vectors when the provider is unavailable. Safe
// for concurrent use; stages for different documents call it simultaneously.
type Service struct {
	provider   Provider
	dimension  int
	maxRetries int
	logger     *slog.Logger

	mu      sync.Mutex
	metrics Metrics
}

// NewService creates an embedding service. A nil provider means every call
// takes the deterministic fallback path, which keeps the pipeline usable
// without any embedding backend.
func NewService(provider Provider, dimension, maxRetries int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if dimension <= 0 {
		dimension = 1536
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Service{
		provider:   provider,
		dimension:  dimension,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Dimension returns the target embedding dimension.
func (s *Service) Dimension() int { return s.dimension }

// ModelName reports the provider model, or the fallback tag without one.
func (s *Service) ModelName() string {
	if s.provider == nil {
		return FallbackModel
	}
	return s.provider.Model()
}

// EmbedTexts returns one vector per input text, same order, each normalized
// to the configured dimension. It never returns an error: exhausted retries
// or empty provider vectors produce deterministic fallback vectors instead.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}
	s.count(func(m *Metrics) { m.Requests++ })

	vectors, err := s.dispatch(ctx, texts)
	if err == nil {
		err = validateVectors(vectors, len(texts))
	}
	if err != nil {
		s.count(func(m *Metrics) {
			m.ProviderFailures++
			m.FallbackVectors += int64(len(texts))
		})
		providerName := "none"
		if s.provider != nil {
			providerName = s.provider.Name()
		}
		s.logger.Warn("embedding provider failed, using deterministic fallback",
			"provider", providerName, "texts", len(texts), "error", err)

		vectors = make([][]float32, len(texts))
		for i, text := range texts {
			vectors[i] = DeterministicVector(text, s.dimension)
		}
		return vectors
	}

	for i, vec := range vectors {
		vectors[i] = schema.NormalizeEmbedding(vec, s.dimension)
	}
	return vectors
}

// dispatch calls the provider with linearly increasing backoff between
// attempts, up to maxRetries retries.
func (s *Service) dispatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * 200 * time.Millisecond
			if delay > time.Second {
				delay = time.Second
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		vectors, err := s.provider.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		s.logger.Warn("embedding attempt failed",
			"provider", s.provider.Name(), "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// Snapshot returns the current counter values.
func (s *Service) Snapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *Service) count(update func(*Metrics)) {
	s.mu.Lock()
	update(&s.metrics)
	s.mu.Unlock()
}

func validateVectors(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), want)
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return fmt.Errorf("provider returned empty vector at index %d", i)
		}
	}
	return nil
}

// DeterministicVector derives a reproducible pseudo-random vector from the
// text itself. The SHA-256 digest seeds the generator, so the same text
// yields the same vector across process restarts, which keeps re-ingestion
// idempotent and tests deterministic.
func DeterministicVector(text string, dim int) []float32 {
	digest := sha256.Sum256([]byte(text))
	seed, err := strconv.ParseUint(hex.EncodeToString(digest[:])[:16], 16, 64)
	if err != nil {
		seed = 0
	}
	rnd := rand.New(rand.NewSource(int64(seed)))
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(rnd.Float64()*2 - 1)
	}
	return vec
}
