package vector

import (
	"context"
	"errors"
	"testing"
)

// stubProvider returns canned vectors or a canned error.
type stubProvider struct {
	vectors [][]float32
	err     error
	calls   int
}

func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-model" }

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors, nil
}

func TestEmbedTexts_NormalizesProviderOutput(t *testing.T) {
	provider := &stubProvider{vectors: [][]float32{
		make([]float32, 2000), // over-length, must truncate
		make([]float32, 10),   // under-length, must pad
	}}
	provider.vectors[0][0] = 1
	provider.vectors[1][0] = 1
	svc := NewService(provider, 8, 0, nil)

	got := svc.EmbedTexts(context.Background(), []string{"a", "b"})

	if len(got) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(got))
	}
	for i, vec := range got {
		if len(vec) != 8 {
			t.Errorf("vector %d: expected dimension 8, got %d", i, len(vec))
		}
	}
}

func TestEmbedTexts_RetriesThenFallsBack(t *testing.T) {
	provider := &stubProvider{err: errors.New("provider down")}
	svc := NewService(provider, 16, 2, nil)

	got := svc.EmbedTexts(context.Background(), []string{"hello"})

	if provider.calls != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", provider.calls)
	}
	if len(got) != 1 || len(got[0]) != 16 {
		t.Fatalf("expected one 16-dim fallback vector, got %v", got)
	}
	metrics := svc.Snapshot()
	if metrics.ProviderFailures != 1 {
		t.Errorf("ProviderFailures: expected 1, got %d", metrics.ProviderFailures)
	}
	if metrics.FallbackVectors != 1 {
		t.Errorf("FallbackVectors: expected 1, got %d", metrics.FallbackVectors)
	}
}

func TestEmbedTexts_EmptyProviderVectorTriggersFallback(t *testing.T) {
	provider := &stubProvider{vectors: [][]float32{{0.1, 0.2}, {}}}
	svc := NewService(provider, 4, 0, nil)

	got := svc.EmbedTexts(context.Background(), []string{"a", "b"})

	// Both texts take the fallback path; fallback output is deterministic.
	want0 := DeterministicVector("a", 4)
	if got[0][0] != want0[0] {
		t.Error("expected deterministic fallback for all texts when any vector is empty")
	}
}

func TestEmbedTexts_NilProviderUsesFallback(t *testing.T) {
	svc := NewService(nil, 4, 2, nil)
	got := svc.EmbedTexts(context.Background(), []string{"x"})
	if len(got) != 1 || len(got[0]) != 4 {
		t.Fatalf("expected one 4-dim vector, got %v", got)
	}
}

// TestDeterministicVector_Reproducible is the core reproducibility property:
// same text, same dimension, bit-identical output across calls.
func TestDeterministicVector_Reproducible(t *testing.T) {
	a := DeterministicVector("the quick brown fox", 64)
	b := DeterministicVector("the quick brown fox", 64)

	if len(a) != 64 {
		t.Fatalf("expected 64 values, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %v vs %v", i, a[i], b[i])
		}
	}

	c := DeterministicVector("a different text", 64)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical fallback vectors")
	}
}

func TestDeterministicVector_Range(t *testing.T) {
	vec := DeterministicVector("range check", 256)
	for i, v := range vec {
		if v < -1 || v > 1 {
			t.Fatalf("value %d out of [-1,1]: %v", i, v)
		}
	}
}
