// Package loader reads extracted document text from disk. Pages are
// separated by form feeds, the convention pdftotext uses.
package loader

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docqa/internal/domain"
)

const pageSeparator = "\f"

// Load expands each pattern as a glob and reads every matching .txt file.
// A pattern without matches is treated as a literal path.
func Load(patterns []string) ([]domain.Document, error) {
	seen := make(map[string]struct{})
	var paths []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, domain.InvalidInputf("bad pattern %q: %v", p, err)
		}
		if matches == nil {
			if strings.ContainsAny(p, "*?[") {
				continue
			}
			matches = []string{p}
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !strings.EqualFold(filepath.Ext(m), ".txt") {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
	}
	if len(paths) == 0 {
		return nil, domain.InvalidInputf("no .txt documents found")
	}

	docs := make([]domain.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// LoadFile reads one file. The document id is derived from the path.
func LoadFile(path string) (domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return domain.Document{
		ID:    DocumentID(path),
		Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Pages: SplitPages(string(data)),
	}, nil
}

// SplitPages numbers pages from 1. A trailing form feed does not open an
// empty page.
func SplitPages(text string) []domain.Page {
	text = strings.TrimSuffix(strings.ReplaceAll(text, "\r\n", "\n"), pageSeparator)
	parts := strings.Split(text, pageSeparator)
	pages := make([]domain.Page, len(parts))
	for i, p := range parts {
		pages[i] = domain.Page{Number: i + 1, Text: p}
	}
	return pages
}

// DocumentID is a short stable hash of the cleaned absolute path.
func DocumentID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	h := sha1.Sum([]byte(filepath.Clean(path)))
	return hex.EncodeToString(h[:8])
}
