package semantic

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"google.golang.org/genai"
)

// HashDimensions matches the width of the MiniLM vectors the service
// originally stored.
const HashDimensions = 384

const defaultEmbeddingModel = "gemini-embedding-001"

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// HashEmbedder is a local feature-hashing embedder. Words and rune bigrams
// are hashed into a fixed number of buckets and the result is L2-normalized.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a HashEmbedder. Non-positive dims use HashDimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = HashDimensions
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Name() string { return fmt.Sprintf("hash:%d", e.dims) }

// Embed never fails for non-empty input.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil, errors.New("embed: empty text")
	}

	vec := make([]float32, e.dims)
	add := func(feature string) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}) {
		add("w:" + word)
	}

	runes := []rune(text)
	for i := 0; i+1 < len(runes); i++ {
		if unicode.IsSpace(runes[i]) || unicode.IsSpace(runes[i+1]) {
			continue
		}
		add("b:" + string(runes[i:i+2]))
	}

	normalize(vec)
	return vec, nil
}

// GenAIEmbedder calls the Gemini embedding endpoint.
type GenAIEmbedder struct {
	apiKey  string
	baseURL string
	model   string

	mu     sync.Mutex
	client *genai.Client
}

// NewGenAIEmbedder creates a Gemini embedder. An empty baseURL uses the
// public endpoint.
func NewGenAIEmbedder(apiKey, model, baseURL string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("genai embedder: API key is required")
	}
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &GenAIEmbedder{apiKey: apiKey, model: model, baseURL: baseURL}, nil
}

func (e *GenAIEmbedder) Name() string { return "genai:" + e.model }

func (e *GenAIEmbedder) genaiClient(ctx context.Context) (*genai.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}

	cfg := &genai.ClientConfig{APIKey: e.apiKey, Backend: genai.BackendGeminiAPI}
	if e.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: e.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.client = client
	return client, nil
}

// Embed returns the normalized embedding for text.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := e.genaiClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	result, err := client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"},
	)
	if err != nil {
		return nil, fmt.Errorf("genai embed: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, errors.New("genai embed: no embeddings returned")
	}

	vec := result.Embeddings[0].Values
	normalize(vec)
	return vec, nil
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// Cosine returns the cosine similarity of two vectors, or 0 when their
// lengths differ or either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
