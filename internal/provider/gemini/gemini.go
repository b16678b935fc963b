// Package gemini implements the remote provider variant on top of the Gemini
// API. Transport failures surface as provider.ErrUnavailable so callers can
// degrade to the deterministic variant instead of aborting.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/anasrobo/research-agent/internal/provider"
)

// text-embedding-004 produces 768-dimensional vectors.
const embedDim = 768

type Provider struct {
	client     *genai.Client
	genModel   string
	embedModel string
	timeout    time.Duration
}

func New(ctx context.Context, apiKey, genModel, embedModel string, timeout time.Duration) (*Provider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Provider{
		client:     client,
		genModel:   genModel,
		embedModel: embedModel,
		timeout:    timeout,
	}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) Dimension() int { return embedDim }

func (p *Provider) Close() error { return p.client.Close() }

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	slog.DebugContext(ctx, "embedding batch", "model", p.embedModel, "count", len(texts))

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	em := p.client.EmbeddingModel(p.embedModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("%w: embed batch: %v", provider.ErrUnavailable, err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			provider.ErrUnavailable, len(res.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", provider.ErrUnavailable, i)
		}
		vecs[i] = e.Values
	}
	return vecs, nil
}

func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	slog.DebugContext(ctx, "generating content", "model", p.genModel, "prompt_length", len(prompt))

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	model := p.client.GenerativeModel(p.genModel)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: generate: %v", provider.ErrUnavailable, err)
	}

	text := collectText(resp)
	if text == "" {
		return "", fmt.Errorf("%w: empty generation response", provider.ErrUnavailable)
	}
	return text, nil
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var out string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				out += string(t)
			}
		}
	}
	return out
}
