package testutil

import (
	"context"
	"sync"

	"github.com/ryanburden/mercari-buddy/pkg/cache"
	"github.com/ryanburden/mercari-buddy/pkg/embedding"
)

// MockChatClient is a mock implementation of llmcat.ChatClient for testing
type MockChatClient struct {
	CompleteFunc func(ctx context.Context, system, user string) (string, error)

	mu        sync.Mutex
	CallCount int
	LastUser  string
	Users     []string
}

func (m *MockChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	m.mu.Lock()
	m.CallCount++
	m.LastUser = user
	m.Users = append(m.Users, user)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, system, user)
	}

	// Default: a valid pair from the default taxonomy
	return "Clothing|Tops", nil
}

// Calls returns the number of Complete calls so far
func (m *MockChatClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// MockEmbedder is a mock implementation of embedding.Embedder for testing
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

	mu        sync.Mutex
	CallCount int
	Texts     []string
}

var _ embedding.Embedder = (*MockEmbedder)(nil)

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.CallCount++
	m.Texts = append(m.Texts, texts...)
	m.mu.Unlock()

	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}

	// Default: deterministic hashing vectors
	return embedding.HashingEmbedder{Dimension: 32}.Embed(ctx, texts)
}

// Calls returns the number of Embed calls so far
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// MockStore wraps a cache.MemoryStore and lets tests inject failures per operation
type MockStore struct {
	LoadFunc          func(ctx context.Context) ([]cache.Entry, error)
	PutIfAbsentFunc   func(ctx context.Context, e cache.Entry) (bool, error)
	IncrementHitsFunc func(ctx context.Context, key string) error

	inner *cache.MemoryStore

	mu       sync.Mutex
	PutCount int
	HitCount int
}

var _ cache.Store = (*MockStore)(nil)

func NewMockStore() *MockStore {
	return &MockStore{inner: cache.NewMemoryStore()}
}

func (m *MockStore) Load(ctx context.Context) ([]cache.Entry, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	return m.inner.Load(ctx)
}

func (m *MockStore) Get(ctx context.Context, key string) (cache.Entry, error) {
	return m.inner.Get(ctx, key)
}

func (m *MockStore) PutIfAbsent(ctx context.Context, e cache.Entry) (bool, error) {
	m.mu.Lock()
	m.PutCount++
	m.mu.Unlock()

	if m.PutIfAbsentFunc != nil {
		return m.PutIfAbsentFunc(ctx, e)
	}
	return m.inner.PutIfAbsent(ctx, e)
}

func (m *MockStore) IncrementHits(ctx context.Context, key string) error {
	m.mu.Lock()
	m.HitCount++
	m.mu.Unlock()

	if m.IncrementHitsFunc != nil {
		return m.IncrementHitsFunc(ctx, key)
	}
	return m.inner.IncrementHits(ctx, key)
}

func (m *MockStore) Close() error { return nil }

// Puts returns the number of PutIfAbsent calls so far
func (m *MockStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PutCount
}
