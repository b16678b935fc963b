package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrMalformedSource marks an ingested file that cannot be parsed. The
// watcher skips such files with a warning; it is never fatal.
var ErrMalformedSource = errors.New("malformed source")

// MaxContentLen bounds the content stored and embedded per record.
const MaxContentLen = 20000

// csvMaxLines bounds the flattened form of a CSV record.
const csvMaxLines = 200

// Document is a normalized unit of content, not yet embedded.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Meta is the optional sidecar metadata shipped next to an ingested file as
// <base>.meta.json.
type Meta struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Normalize parses raw file bytes into a canonical document. It is a pure
// function of its inputs; sidecar metadata is resolved separately by
// LoadSidecar and passed in (nil when absent).
func Normalize(path string, data []byte, meta *Meta) (Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	doc := Document{
		ID:    path,
		Title: filepath.Base(path),
	}
	if meta != nil {
		if meta.Title != "" {
			doc.Title = meta.Title
		}
		doc.URL = meta.URL
	}

	text := strings.ToValidUTF8(string(data), "")

	switch ext {
	case ".txt", ".md":
		doc.Content = text
	case ".csv":
		lines := strings.Split(text, "\n")
		if len(lines) > csvMaxLines {
			lines = lines[:csvMaxLines]
		}
		doc.Content = strings.Join(lines, "\n")
	case ".jsonl":
		row, err := firstJSONLRow(text)
		if err != nil {
			return Document{}, fmt.Errorf("%w: %s: %v", ErrMalformedSource, path, err)
		}
		doc.ID = path + "::0"
		if row.Title != "" {
			doc.Title = row.Title
		}
		if row.URL != "" {
			doc.URL = row.URL
		}
		doc.Content = row.text
	default:
		return Document{}, fmt.Errorf("%w: unsupported extension %q", ErrMalformedSource, ext)
	}

	doc.Content = Truncate(doc.Content)
	return doc, nil
}

type jsonlRow struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Text    string `json:"text"`
	Content string `json:"content"`

	text string
}

// firstJSONLRow returns the first row carrying a text or content field.
func firstJSONLRow(text string) (jsonlRow, error) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row jsonlRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}
		row.text = row.Text
		if row.text == "" {
			row.text = row.Content
		}
		if row.text != "" {
			return row, nil
		}
	}
	return jsonlRow{}, errors.New("no row with text or content")
}

// LoadSidecar reads <base>.meta.json for an ingested file. A missing or
// unreadable sidecar is simply absent, never an error.
func LoadSidecar(path string) *Meta {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	data, err := os.ReadFile(base + ".meta.json")
	if err != nil {
		return nil
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil
	}
	return &meta
}

// Truncate caps content at MaxContentLen bytes before embedding, backing up
// to a rune boundary so the cut never leaves a split UTF-8 sequence.
func Truncate(content string) string {
	if len(content) <= MaxContentLen {
		return content
	}
	cut := MaxContentLen
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

// IsSupported reports whether the watcher recognizes this file kind.
func IsSupported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".csv", ".jsonl":
		return true
	}
	return false
}
