package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
)

// Embedder is the embedding provider contract of §2 component A: a
// deterministic `text -> f32[D]` function. It is the sole external
// collaborator the storage core depends on for every create/update.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderOption configures an HTTPEmbedder; HashEmbedder takes no options.
type EmbedderOption func(*httpEmbedderConfig)

type httpEmbedderConfig struct {
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// WithModel sets the embedding_model identifier (§6.5) passed to the
// provider's request body.
func WithModel(model string) EmbedderOption {
	return func(c *httpEmbedderConfig) { c.model = model }
}

// WithBaseURL overrides the embedding HTTP endpoint.
func WithBaseURL(url string) EmbedderOption {
	return func(c *httpEmbedderConfig) { c.baseURL = url }
}

// HashEmbedder is a deterministic, API-free embedder used when no
// external embedding provider is configured. It provides "reasonable"
// similarity behaviour for development and tests without a network
// dependency, the same fallback role rag.Embedder.hashEmbeddings plays.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hash-based embedder producing vectors of the
// given dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim}
}

// Embed deterministically maps text to a fixed-length vector, deriving
// component i from the SHA-256 of the text followed by the two low bytes
// of i, then normalising the result to unit length
// so cosine similarity behaves sensibly.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	seed := []byte(text)

	for i := 0; i < e.dim; i++ {
		h := sha256.Sum256(append(seed, byte(i), byte(i>>8)))
		var u uint32
		_ = binary.Read(bytes.NewReader(h[:4]), binary.BigEndian, &u)
		vec[i] = float32(u)/float32(math.MaxUint32)*2 - 1
	}

	normalize(vec)
	return vec, nil
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] /= norm
	}
}

// HTTPEmbedder calls an external embedding HTTP API (e.g. an
// OpenAI-compatible embeddings endpoint), rate-limited by a semaphore and
// guarded by a circuit breaker so a failing provider fails fast with
// EmbeddingUnavailable instead of hanging the caller until its deadline
// (§5: "Embedding provider: shared, treated as idempotent and
// rate-limited by a semaphore sized to the configured concurrency.").
type HTTPEmbedder struct {
	cfg     httpEmbedderConfig
	sem     *semaphore.Weighted
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPEmbedder creates an HTTPEmbedder. maxConcurrency bounds
// in-flight requests to the provider.
func NewHTTPEmbedder(apiKey string, maxConcurrency int64, opts ...EmbedderOption) *HTTPEmbedder {
	cfg := httpEmbedderConfig{
		model:      "text-embedding-3-small",
		baseURL:    "https://api.openai.com/v1/embeddings",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-provider",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &HTTPEmbedder{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(maxConcurrency),
		breaker: breaker,
	}
}

// Embed calls the embedding API, applying the configured deadline (§5:
// "Embedding calls time out at 30s (configurable)").
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire embedding semaphore: %w", err)
	}
	defer e.sem.Release(1)

	result, err := e.breaker.Execute(func() (any, error) {
		return e.call(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

func (e *HTTPEmbedder) call(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(map[string]any{
		"input": text,
		"model": e.cfg.model,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.apiKey)

	resp, err := e.cfg.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return parsed.Data[0].Embedding, nil
}

// NewEmbedderFromEnv selects an embedder based on configuration: an
// HTTPEmbedder when an API key is present in the environment, otherwise
// a HashEmbedder, mirroring rag.NewEmbedder's Voyage-or-hash fallback.
func NewEmbedderFromEnv(model string, dim int, maxConcurrency int64) Embedder {
	if key := os.Getenv("EMBEDDING_API_KEY"); key != "" {
		return NewHTTPEmbedder(key, maxConcurrency, WithModel(model))
	}
	return NewHashEmbedder(dim)
}
