// Package webfetch performs the external search-and-fetch round used when
// the index has nothing for a query. Fetched pages are ingested through the
// same path as watched files, so a repeated query is answered from the index
// with no further network calls.
package webfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/anasrobo/research-agent/internal/index"
	"github.com/anasrobo/research-agent/internal/ingest"
	"github.com/anasrobo/research-agent/internal/provider"
)

const (
	searchURL  = "https://duckduckgo.com/html/"
	userAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxResults = 10
	maxBody    = 2 << 20 // 2MB per fetched page
)

// Result is one external search hit.
type Result struct {
	Title string
	URL   string
}

// Pusher is the programmatic ingestion entry point fetched pages go through.
type Pusher interface {
	Push(ctx context.Context, docs []ingest.Document) error
}

type Fetcher struct {
	client    *http.Client
	pusher    Pusher
	index     *index.Index
	provider  provider.Provider
	searchURL string
}

func New(pusher Pusher, ix *index.Index, p provider.Provider, timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		pusher:    pusher,
		index:     ix,
		provider:  p,
		searchURL: searchURL,
	}
}

// EnsureNonempty guarantees the index has something to offer for the query,
// running at most one external search-and-fetch round. A non-empty probe
// short-circuits without touching the network; that is the hot path.
func (f *Fetcher) EnsureNonempty(ctx context.Context, query string) (bool, error) {
	vecs, err := f.provider.EmbedBatch(ctx, []string{query})
	if err != nil {
		return false, fmt.Errorf("embed probe query: %w", err)
	}
	hits, err := f.index.Search(vecs[0], 1)
	if err != nil {
		return false, err
	}
	if len(hits) > 0 {
		return true, nil
	}

	results, err := f.SearchWeb(ctx, query)
	if err != nil {
		return false, fmt.Errorf("external search: %w", err)
	}

	docs := make([]ingest.Document, 0, len(results))
	for _, r := range results {
		content, err := f.FetchPage(ctx, r.URL)
		if err != nil {
			// Per-source failure: recorded, never aborts the round.
			slog.WarnContext(ctx, "fetch failed", "url", r.URL, "error", err)
			continue
		}
		docs = append(docs, ingest.Document{
			Title:   r.Title,
			URL:     r.URL,
			Content: content,
		})
	}

	if len(docs) > 0 {
		if err := f.pusher.Push(ctx, docs); err != nil {
			return false, fmt.Errorf("ingest fetched documents: %w", err)
		}
	}
	return !f.index.IsEmpty(), nil
}

// SearchWeb scrapes the DuckDuckGo html endpoint for up to maxResults hits.
func (f *Fetcher) SearchWeb(ctx context.Context, query string) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.searchURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}

	results := parseResults(string(body))
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// FetchPage retrieves a page and reduces it to markdown text.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", err
	}

	text, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("no extractable text")
	}
	return ingest.Truncate(text), nil
}
