package store

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(16)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "implement login flow")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	v2, err := e.Embed(ctx, "implement login flow")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v1) != 16 {
		t.Fatalf("dim = %d, want 16", len(v1))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("embedder not deterministic at index %d: %v vs %v", i, v1[i], v2[i])
		}
	}
}

func TestHashEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := NewHashEmbedder(16)
	ctx := context.Background()

	v1, _ := e.Embed(ctx, "alpha")
	v2, _ := e.Embed(ctx, "beta")

	same := true
	for i := range v1 {
		if v1[i] != v2[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("distinct inputs produced identical vectors")
	}
}

func TestHashEmbedder_UnitNormalized(t *testing.T) {
	e := NewHashEmbedder(32)
	v, err := e.Embed(context.Background(), "normalize me")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSquares)
	if math.Abs(norm-1.0) > 1e-3 {
		t.Errorf("norm = %v, want ~1.0", norm)
	}
}

func TestNewEmbedderFromEnv_DefaultsToHash(t *testing.T) {
	t.Setenv("EMBEDDING_API_KEY", "")
	e := NewEmbedderFromEnv("text-embedding-3-small", 8, 4)
	if _, ok := e.(*HashEmbedder); !ok {
		t.Errorf("expected HashEmbedder without an API key, got %T", e)
	}
}

func TestNewEmbedderFromEnv_UsesHTTPWhenKeyPresent(t *testing.T) {
	t.Setenv("EMBEDDING_API_KEY", "test-key")
	e := NewEmbedderFromEnv("text-embedding-3-small", 8, 4)
	if _, ok := e.(*HTTPEmbedder); !ok {
		t.Errorf("expected HTTPEmbedder with an API key set, got %T", e)
	}
}
