package loom

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// mockProvider returns scripted replies and records every request.
type mockProvider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []ChatRequest
}

func (m *mockProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return ChatResponse{}, m.err
	}
	if len(m.replies) == 0 {
		return ChatResponse{Content: "ok"}, nil
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return ChatResponse{Content: reply}, nil
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// mockEmbedder produces deterministic 3-dim vectors per text. errs is
// consumed one per call; nil entries succeed.
type mockEmbedder struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
	errs    []error
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.batches = append(m.batches, append([]string(nil), texts...))
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int { return 3 }
func (m *mockEmbedder) Name() string    { return "mock-embed" }

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// embedText maps text onto a tiny deterministic vector so that equal
// prefixes land close together.
func embedText(t string) []float32 {
	v := []float32{1, 0, 0}
	switch {
	case strings.Contains(t, "alpha"):
		v = []float32{1, 0.1, 0}
	case strings.Contains(t, "beta"):
		v = []float32{0, 1, 0}
	case strings.Contains(t, "gamma"):
		v = []float32{0, 0, 1}
	}
	return v
}

// memStore is an in-memory EmbeddingStore for tests.
type memStore struct {
	mu   sync.Mutex
	data map[string]map[string]EmbeddedDocument
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[string]EmbeddedDocument)}
}

func (s *memStore) corpus(name string) map[string]EmbeddedDocument {
	if s.data[name] == nil {
		s.data[name] = make(map[string]EmbeddedDocument)
	}
	return s.data[name]
}

func (s *memStore) Hashes(_ context.Context, corpus string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for id, doc := range s.corpus(corpus) {
		out[id] = doc.Hash
	}
	return out, nil
}

func (s *memStore) Upsert(_ context.Context, corpus string, docs []EmbeddedDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.corpus(corpus)
	for _, d := range docs {
		c[d.ID] = d
	}
	return nil
}

func (s *memStore) Delete(_ context.Context, corpus string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.corpus(corpus)
	for _, id := range ids {
		delete(c, id)
	}
	return nil
}

func (s *memStore) Search(_ context.Context, corpus string, query []float32, k int) ([]ScoredDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScoredDocument
	for _, d := range s.corpus(corpus) {
		out = append(out, ScoredDocument{Document: d.Document, Score: Cosine(query, d.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *memStore) Count(_ context.Context, corpus string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.corpus(corpus)), nil
}

var _ EmbeddingStore = (*memStore)(nil)

// collectEvents drains an event channel into a slice.
func collectEvents(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

// eventTypes lists the types of a run's events in order.
func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = string(ev.Type)
	}
	return out
}

// testDocs builds n documents named doc_0..doc_n-1 with distinct content.
func testDocs(n int) []Document {
	out := make([]Document, n)
	for i := range out {
		out[i] = Document{
			ID:      fmt.Sprintf("doc_%d", i),
			Title:   fmt.Sprintf("Doc %d", i),
			Content: fmt.Sprintf("content %d", i),
		}
	}
	return out
}
