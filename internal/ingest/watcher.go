package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

const (
	debounceDuration = 500 * time.Millisecond
	scanConcurrency  = 4
)

// Watcher keeps the index eventually consistent with a source directory:
// an initial scan, then fsnotify events debounced into re-ingestion.
// Queries never wait on the watcher; they read whatever the index holds.
type Watcher struct {
	dir     string
	service *Service

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
}

func NewWatcher(dir string, service *Service) *Watcher {
	return &Watcher{
		dir:     dir,
		service: service,
		pending: make(map[string]bool),
	}
}

// Start scans the directory once, then watches it until ctx is done.
// The event loop runs on its own goroutine; Start returns after the initial
// scan so callers can serve queries immediately.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create ingest dir: %w", err)
	}

	if err := w.scan(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	go w.loop(ctx, watcher)

	slog.InfoContext(ctx, "ingestion watcher started", "dir", w.dir)
	return nil
}

func (w *Watcher) scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scan ingest dir: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		g.Go(func() error {
			w.ingestFile(gctx, path)
			return nil
		})
	}
	return g.Wait()
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			slog.Info("ingestion watcher stopped", "dir", w.dir)
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("ingestion watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	path := event.Name

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if IsSupported(path) {
			// The jsonl row id carries a ::0 suffix; remove both forms.
			w.service.index.Delete(path)
			w.service.index.Delete(path + "::0")
			slog.InfoContext(ctx, "record removed with source file", "path", path)
		}
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	// A sidecar write re-ingests its base file.
	if strings.HasSuffix(path, ".meta.json") {
		if base := w.baseForSidecar(path); base != "" {
			w.enqueue(ctx, base)
		}
		return
	}
	if !IsSupported(path) {
		return
	}
	w.enqueue(ctx, path)
}

// enqueue collects changed paths and re-ingests them after a quiet period,
// so editors that write in several syscalls trigger one ingestion.
func (w *Watcher) enqueue(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDuration, func() {
		w.flush(ctx)
	})
}

func (w *Watcher) flush(ctx context.Context) {
	// A debounce timer may fire after shutdown; nothing gets ingested then.
	if ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	for _, p := range paths {
		w.ingestFile(ctx, p)
	}
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	if !IsSupported(path) {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.WarnContext(ctx, "skipping unreadable file", "path", path, "error", err)
		return
	}

	doc, err := Normalize(path, data, LoadSidecar(path))
	if err != nil {
		if errors.Is(err, ErrMalformedSource) {
			slog.WarnContext(ctx, "skipping malformed file", "path", path, "error", err)
			return
		}
		slog.ErrorContext(ctx, "normalize failed", "path", path, "error", err)
		return
	}

	if err := w.service.IngestDocument(ctx, doc); err != nil {
		slog.ErrorContext(ctx, "ingest failed", "path", path, "error", err)
		return
	}
	slog.InfoContext(ctx, "file ingested", "path", path, "id", doc.ID)
}

func (w *Watcher) baseForSidecar(sidecar string) string {
	base := strings.TrimSuffix(sidecar, ".meta.json")
	for _, ext := range []string{".txt", ".md", ".csv", ".jsonl"} {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	return ""
}
