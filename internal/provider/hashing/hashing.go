// Package hashing implements the deterministic provider variant: a hashed
// bag-of-words embedder and a templated text generator. It needs no network
// and no key, and re-running it over the same input always yields identical
// output, which keeps the index reproducible in no-key mode.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

type Provider struct {
	dim          int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

func New(dim int) *Provider {
	return &Provider{
		dim:          dim,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		stopwords:    defaultStopwords(),
	}
}

func (p *Provider) Name() string { return "hashing" }

func (p *Provider) Dimension() int { return p.dim }

// EmbedBatch maps each token of each text through FNV-1a into one of dim
// buckets, accumulates counts and L2-normalizes. Empty or all-stopword text
// produces the zero vector, never an error.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = p.embed(t)
	}
	return vecs, nil
}

func (p *Provider) embed(text string) []float32 {
	vec := make([]float32, p.dim)
	for _, tok := range p.tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%p.dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

func (p *Provider) tokenize(text string) []string {
	raw := p.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := p.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Generate produces prompt-aware templated text so the pipeline still yields
// a readable result without a configured model. Reflection prompts get a
// parseable JSON answer; everything else gets the prompt's lines as bullets.
func (p *Provider) Generate(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "need_more") {
		return `{"need_more": false, "refined_query": ""}`, nil
	}

	var b strings.Builder
	b.WriteString("Draft based on heuristic analysis:\n")
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to",
		"of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were",
		"be", "been", "being", "it", "this", "that", "these", "those", "from",
		"up", "down", "over", "under", "again", "further", "than", "so", "such",
		"into", "about", "between", "through", "during", "before", "after",
		"above", "below", "out", "off", "own", "same", "too", "very", "can",
		"will", "just", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
