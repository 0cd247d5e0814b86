package semantic

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Analysis is the stored representation derived from one input text.
type Analysis struct {
	Summary  string
	VectorID string
	Vector   []float32
	Slots    map[string]any
}

// Analyzer runs summarization, embedding and slot extraction together.
type Analyzer struct {
	embedder Embedder
}

func NewAnalyzer(embedder Embedder) *Analyzer {
	if embedder == nil {
		embedder = NewHashEmbedder(0)
	}
	return &Analyzer{embedder: embedder}
}

// Embedder returns the configured embedder.
func (a *Analyzer) Embedder() Embedder { return a.embedder }

// Analyze processes text. The embedding covers the full text, not the summary.
func (a *Analyzer) Analyze(ctx context.Context, text string, slots map[string]any) (*Analysis, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("analyze: empty text")
	}

	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	return &Analysis{
		Summary:  Summarize(text),
		VectorID: NewVectorID(),
		Vector:   vec,
		Slots:    ExtractSlots(text, slots),
	}, nil
}

// NewVectorID returns a unique, time-ordered vector reference.
func NewVectorID() string {
	return "vec_" + ulid.Make().String()
}
