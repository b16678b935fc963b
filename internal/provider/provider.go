// Package provider defines the single capability interface the pipeline and
// ingestion layers use for embeddings and text generation. A concrete
// provider is selected once at process start; callers never branch on
// configuration themselves.
package provider

import (
	"context"
	"errors"
	"log/slog"
)

// ErrUnavailable marks a provider that is missing, unreachable or timed out.
// Callers recover by falling back to the deterministic variant.
var ErrUnavailable = errors.New("provider unavailable")

type Provider interface {
	// EmbedBatch returns one vector per input text. All vectors share the
	// provider's fixed dimension. Empty input texts yield zero vectors.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Generate produces free text for a prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// Dimension is the fixed length of vectors this provider produces.
	Dimension() int

	Name() string
}

// WithFallback wraps a primary provider with a deterministic fallback that is
// tried whenever the primary fails. Both must share the same dimension so the
// index never sees mixed vector lengths.
type WithFallback struct {
	primary  Provider
	fallback Provider
}

func NewWithFallback(primary, fallback Provider) *WithFallback {
	if primary.Dimension() != fallback.Dimension() {
		panic("provider: primary and fallback dimensions differ")
	}
	return &WithFallback{primary: primary, fallback: fallback}
}

func (p *WithFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.primary.EmbedBatch(ctx, texts)
	if err != nil {
		slog.WarnContext(ctx, "primary embedder failed, using deterministic fallback",
			"provider", p.primary.Name(), "error", err)
		return p.fallback.EmbedBatch(ctx, texts)
	}
	return vecs, nil
}

func (p *WithFallback) Generate(ctx context.Context, prompt string) (string, error) {
	text, err := p.primary.Generate(ctx, prompt)
	if err != nil {
		slog.WarnContext(ctx, "primary generator failed, using heuristic fallback",
			"provider", p.primary.Name(), "error", err)
		return p.fallback.Generate(ctx, prompt)
	}
	return text, nil
}

func (p *WithFallback) Dimension() int { return p.primary.Dimension() }

func (p *WithFallback) Name() string {
	return p.primary.Name() + "+" + p.fallback.Name()
}
