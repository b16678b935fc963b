package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anasrobo/research-agent/internal/index"
	"github.com/anasrobo/research-agent/internal/provider"
)

// Service is the shared normalize → embed → upsert path. The filesystem
// watcher and the programmatic push entry point both feed the index through
// it, so every record gets identical treatment.
type Service struct {
	provider provider.Provider
	index    *index.Index
}

func NewService(p provider.Provider, ix *index.Index) *Service {
	return &Service{provider: p, index: ix}
}

// IngestDocument embeds one document and upserts it.
func (s *Service) IngestDocument(ctx context.Context, doc Document) error {
	return s.Push(ctx, []Document{doc})
}

// Push is the programmatic ingestion entry point. Documents with empty
// content are skipped; the rest are batch-embedded and upserted. A document
// without an id is keyed by its URL.
func (s *Service) Push(ctx context.Context, docs []Document) error {
	kept := make([]Document, 0, len(docs))
	texts := make([]string, 0, len(docs))
	for _, d := range docs {
		d.Content = Truncate(d.Content)
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		if d.ID == "" {
			d.ID = "ext::" + d.URL
		}
		if d.Title == "" {
			d.Title = d.URL
		}
		kept = append(kept, d)
		texts = append(texts, d.Content)
	}
	if len(kept) == 0 {
		return nil
	}

	vecs, err := s.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(kept) {
		return fmt.Errorf("embedding count mismatch: got %d vectors for %d documents", len(vecs), len(kept))
	}

	for i, d := range kept {
		rec := index.Record{
			ID:      d.ID,
			Title:   d.Title,
			URL:     d.URL,
			Content: d.Content,
			Vector:  vecs[i],
		}
		if err := s.index.Upsert(rec); err != nil {
			return fmt.Errorf("upsert %s: %w", d.ID, err)
		}
		slog.DebugContext(ctx, "document indexed", "id", d.ID, "title", d.Title)
	}
	return nil
}
