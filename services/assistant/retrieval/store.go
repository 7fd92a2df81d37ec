// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval is the keyword document store that supplies prompt
// context and grounding evidence for user queries.
package retrieval

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	// minChunkLen drops fragments too short to carry useful context.
	minChunkLen = 50

	// minTermLen ignores query words too short to be selective.
	minTermLen = 3

	// defaultMaxChunks bounds the context blob handed to the model.
	defaultMaxChunks = 3
)

// Chunk is one indexed documentation fragment.
type Chunk struct {
	Title   string
	Content string

	// lower caches the lowercased content for matching.
	lower string

	// source is the file the chunk came from, "" for programmatic indexing.
	source string
}

// documentFile is the YAML document shape for documentation files.
type documentFile struct {
	Documents []struct {
		Title   string `yaml:"title"`
		Content string `yaml:"content"`
	} `yaml:"documents"`
}

// Store indexes documentation chunks and serves best-effort context blobs.
//
// Description:
//
//	Retrieval is keyword scoring, not vector similarity: query terms are
//	substring-matched against chunk content and weighted by inverse
//	document frequency so rare terms dominate the ranking. Documents are
//	split into paragraph chunks (blank-line separated); fragments under
//	50 characters are dropped.
//
// Thread Safety: Safe for concurrent use. Search takes a read lock;
// indexing and reload take the write lock.
type Store struct {
	mu        sync.RWMutex
	chunks    []Chunk
	idf       map[string]float64
	paths     []string
	maxChunks int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxChunks bounds how many chunks one Search may return.
func WithMaxChunks(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxChunks = n
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		idf:       make(map[string]float64),
		maxChunks: defaultMaxChunks,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadFile indexes a documentation YAML file (a "documents:" list of
// title/content pairs) and registers it for reload.
//
// Outputs:
//   - error: Non-nil on read or parse failure. The existing index is left
//     untouched on failure.
func (s *Store) LoadFile(path string) error {
	chunks, err := parseFile(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropSourceLocked(path)
	s.chunks = append(s.chunks, chunks...)
	if !contains(s.paths, path) {
		s.paths = append(s.paths, path)
	}
	s.rebuildIDFLocked()

	slog.Info("Indexed documentation file",
		slog.String("path", path),
		slog.Int("chunks", len(chunks)),
		slog.Int("total_chunks", len(s.chunks)),
	)
	return nil
}

// IndexDocument splits content into paragraph chunks and indexes them under
// the given title.
func (s *Store) IndexDocument(title, content string) {
	chunks := splitChunks(title, content, "")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	s.rebuildIDFLocked()

	slog.Info("Indexed document",
		slog.String("title", title),
		slog.Int("chunks", len(chunks)),
	)
}

// Search returns the best-matching chunks for a query, joined by blank
// lines. Empty string when nothing matches or the store is empty.
//
// Description:
//
//	Query terms shorter than three characters are ignored. Each chunk
//	scores the sum of IDF weights of the query terms it contains
//	(substring match). Ties keep index order so results are stable.
func (s *Store) Search(query string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.chunks) == 0 {
		return ""
	}

	terms := queryTerms(query)
	if len(terms) == 0 {
		return ""
	}

	type scored struct {
		index int
		score float64
	}
	var hits []scored

	for i, chunk := range s.chunks {
		var score float64
		for _, term := range terms {
			if strings.Contains(chunk.lower, term) {
				score += s.termWeight(term)
			}
		}
		if score > 0 {
			hits = append(hits, scored{index: i, score: score})
		}
	}

	if len(hits) == 0 {
		slog.Debug("No retrieval context found", slog.String("query", preview(query)))
		return ""
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})
	if len(hits) > s.maxChunks {
		hits = hits[:s.maxChunks]
	}

	parts := make([]string, 0, len(hits))
	titles := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, s.chunks[h.index].Content)
		titles = append(titles, s.chunks[h.index].Title)
	}

	slog.Debug("Retrieval context assembled",
		slog.String("query", preview(query)),
		slog.Int("chunks", len(parts)),
		slog.Any("titles", titles),
	)
	return strings.Join(parts, "\n\n")
}

// Len returns the number of indexed chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// reload re-indexes one registered file after a change notification.
func (s *Store) reload(path string) error {
	chunks, err := parseFile(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropSourceLocked(path)
	s.chunks = append(s.chunks, chunks...)
	s.rebuildIDFLocked()

	slog.Info("Reloaded documentation file",
		slog.String("path", path),
		slog.Int("chunks", len(chunks)),
	)
	return nil
}

// termWeight returns the IDF weight for a term; unseen terms get the
// neutral weight 1.
func (s *Store) termWeight(term string) float64 {
	if w, ok := s.idf[term]; ok {
		return w
	}
	return 1.0
}

// rebuildIDFLocked recomputes term weights. Lucene-style smoothing keeps
// every weight >= 1 and avoids division by zero. Caller holds mu.
func (s *Store) rebuildIDFLocked() {
	df := make(map[string]int)
	for _, chunk := range s.chunks {
		for term := range chunkTerms(chunk.lower) {
			df[term]++
		}
	}

	n := len(s.chunks)
	s.idf = make(map[string]float64, len(df))
	for term, docFreq := range df {
		s.idf[term] = math.Log(float64(n+1)/float64(docFreq+1)) + 1.0
	}
}

// dropSourceLocked removes all chunks from one source file. Caller holds mu.
func (s *Store) dropSourceLocked(source string) {
	kept := s.chunks[:0]
	for _, chunk := range s.chunks {
		if chunk.source != source {
			kept = append(kept, chunk)
		}
	}
	s.chunks = kept
}

// parseFile reads and chunks one documentation YAML file.
func parseFile(path string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("retrieval: reading %s: %w", path, err)
	}

	var file documentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("retrieval: parsing %s: %w", path, err)
	}

	var chunks []Chunk
	for _, doc := range file.Documents {
		chunks = append(chunks, splitChunks(doc.Title, doc.Content, path)...)
	}
	return chunks, nil
}

// splitChunks breaks content into paragraph chunks, dropping short ones.
func splitChunks(title, content, source string) []Chunk {
	var chunks []Chunk
	for _, part := range strings.Split(content, "\n\n") {
		part = strings.TrimSpace(part)
		if len(part) <= minChunkLen {
			continue
		}
		chunks = append(chunks, Chunk{
			Title:   title,
			Content: part,
			lower:   strings.ToLower(part),
			source:  source,
		})
	}
	return chunks
}

// chunkTerms extracts the distinct indexable words of a chunk.
func chunkTerms(lower string) map[string]bool {
	terms := make(map[string]bool)
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r > 127)
	}) {
		if len(word) >= minTermLen {
			terms[word] = true
		}
	}
	return terms
}

// queryTerms extracts the selective words of a query, lowercased.
func queryTerms(query string) []string {
	var terms []string
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,;:!?'\"()")
		if len(word) >= minTermLen {
			terms = append(terms, word)
		}
	}
	return terms
}

func preview(s string) string {
	if len(s) > 50 {
		return s[:50] + "..."
	}
	return s
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
