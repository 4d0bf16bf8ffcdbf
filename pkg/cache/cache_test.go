package cache

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
	"github.com/ryanburden/mercari-buddy/pkg/types"
)

func modelResult(category, subcategory string) types.CategorizationResult {
	return types.CategorizationResult{Category: category, Subcategory: subcategory, Method: types.MethodModel, Attempts: 1}
}

func newTestCache(t *testing.T, store Store) *Cache {
	t.Helper()
	c, err := New(context.Background(), Config{Store: store, Taxonomy: taxonomy.Default()})
	require.NoError(t, err)
	return c
}

func TestInsertThenLookupExact(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := newTestCache(t, store)

	inserted, err := c.Insert(ctx, "nike air max", []float32{1, 0, 0}, modelResult("Footwear", "Athletic Shoes"))
	require.NoError(t, err)
	assert.True(t, inserted)

	hit, ok := c.LookupExact(ctx, "nike air max")
	require.True(t, ok)
	assert.Equal(t, types.MethodCacheExact, hit.Result.Method)
	assert.Equal(t, "Footwear", hit.Result.Category)
	assert.Equal(t, "Athletic Shoes", hit.Result.Subcategory)
	assert.Equal(t, 0, hit.Result.Attempts)

	stored, err := store.Get(ctx, "nike air max")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.HitCount)

	_, ok = c.LookupExact(ctx, "adidas")
	assert.False(t, ok)
}

func TestInsert_FirstWins(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)

	ok, err := c.Insert(ctx, "k", []float32{1, 0}, modelResult("Footwear", "Boots"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Insert(ctx, "k", []float32{1, 0}, modelResult("Beauty", "Makeup"))
	require.NoError(t, err)
	assert.False(t, ok)

	e, found := c.Get("k")
	require.True(t, found)
	assert.Equal(t, "Footwear", e.Category)
}

func TestInsert_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.Insert(ctx, "same key", []float32{0, 1}, modelResult("Electronics", "Gaming"))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, c.Len())
}

func TestInsert_Rejects(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)

	_, err := c.Insert(ctx, "x", []float32{1}, modelResult("Footwear", "Laptops"))
	assert.Error(t, err, "pair outside taxonomy")

	fallback := modelResult("Clothing", "Accessories")
	fallback.Method = types.MethodFallback
	_, err = c.Insert(ctx, "y", []float32{1}, fallback)
	assert.Error(t, err, "fallback results are not cached")

	_, err = c.Insert(ctx, "", []float32{1}, modelResult("Footwear", "Boots"))
	assert.Error(t, err, "empty key")

	_, err = c.Insert(ctx, "z", []float32{1, 0}, modelResult("Footwear", "Boots"))
	require.NoError(t, err)
	_, err = c.Insert(ctx, "w", []float32{1, 0, 0}, modelResult("Footwear", "Boots"))
	assert.Error(t, err, "dimension mismatch")
}

func TestLookupSimilar(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, nil)

	_, err := c.Insert(ctx, "first", []float32{1, 0}, modelResult("Footwear", "Boots"))
	require.NoError(t, err)
	_, err = c.Insert(ctx, "second", []float32{2, 0}, modelResult("Beauty", "Makeup"))
	require.NoError(t, err)
	_, err = c.Insert(ctx, "third", []float32{0, 1}, modelResult("Electronics", "Gaming"))
	require.NoError(t, err)

	// "first" and "second" are equally similar; the earliest insertion wins
	hit, ok := c.LookupSimilar(ctx, []float32{3, 0.1}, 0.85)
	require.True(t, ok)
	assert.Equal(t, "first", hit.Key)
	assert.Equal(t, types.MethodCacheSimilar, hit.Result.Method)
	assert.Greater(t, hit.Result.Similarity, float32(0.99))

	_, ok = c.LookupSimilar(ctx, []float32{1, 1}, 0.85)
	assert.False(t, ok, "cos 45 degrees is below the threshold")
}

func TestNew_SkipsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	good := Entry{Key: "good", Embedding: []float32{1, 0}, Category: "Footwear", Subcategory: "Boots", Method: types.MethodModel, Seq: 0}
	seed := []Entry{
		good,
		{Key: "bad pair", Embedding: []float32{1, 0}, Category: "Footwear", Subcategory: "Phones", Method: types.MethodModel, Seq: 1},
		{Key: "", Embedding: []float32{1, 0}, Category: "Footwear", Subcategory: "Boots", Method: types.MethodModel, Seq: 2},
		{Key: "bad dim", Embedding: []float32{1, 0, 0}, Category: "Footwear", Subcategory: "Boots", Method: types.MethodModel, Seq: 3},
		{Key: "fallback", Embedding: []float32{1, 0}, Category: "Clothing", Subcategory: "Accessories", Method: types.MethodFallback, Seq: 4},
	}
	for _, e := range seed {
		_, err := store.PutIfAbsent(ctx, e)
		require.NoError(t, err)
	}

	c := newTestCache(t, store)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 4, c.Stats().Skipped)

	hit, ok := c.LookupSimilar(ctx, []float32{1, 0}, 0.99)
	require.True(t, ok, "index is rebuilt from the store")
	assert.Equal(t, "good", hit.Key)

	// new entries continue the persisted sequence
	_, err := c.Insert(ctx, "next", []float32{0, 1}, modelResult("Beauty", "Makeup"))
	require.NoError(t, err)
	e, _ := c.Get("next")
	assert.Equal(t, int64(1), e.Seq)
}

type brokenStore struct{ MemoryStore }

var errBroken = errors.New("disk on fire")

func (b *brokenStore) Load(ctx context.Context) ([]Entry, error) {
	return nil, errBroken
}

func (b *brokenStore) Get(ctx context.Context, key string) (Entry, error) {
	return Entry{}, errBroken
}

func (b *brokenStore) PutIfAbsent(ctx context.Context, e Entry) (bool, error) {
	return false, errBroken
}

func (b *brokenStore) IncrementHits(ctx context.Context, key string) error {
	return errBroken
}

func TestBrokenStoreDegrades(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, &brokenStore{})

	ok, err := c.Insert(ctx, "k", []float32{1}, modelResult("Footwear", "Boots"))
	require.NoError(t, err)
	assert.True(t, ok)

	hit, found := c.LookupExact(ctx, "k")
	require.True(t, found, "entries stay available in memory")
	assert.Equal(t, "Boots", hit.Result.Subcategory)
	assert.GreaterOrEqual(t, c.Stats().StoreErrors, int64(3))
}

func TestGormStore_SQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := OpenGormStore("sqlite", path)
	if err != nil && strings.Contains(err.Error(), "CGO_ENABLED") {
		t.Skipf("sqlite unavailable: %v", err)
	}
	require.NoError(t, err)

	c, err := New(ctx, Config{Store: store, Taxonomy: taxonomy.Default()})
	require.NoError(t, err)

	_, err = c.Insert(ctx, "levis 501 jeans", []float32{0.5, -0.25, 1}, modelResult("Clothing", "Bottoms"))
	require.NoError(t, err)
	_, ok := c.LookupExact(ctx, "levis 501 jeans")
	require.True(t, ok)
	require.NoError(t, c.Close())

	// reopen and rebuild from disk
	store, err = OpenGormStore("sqlite", path)
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, []float32{0.5, -0.25, 1}, loaded[0].Embedding)
	assert.Equal(t, int64(1), loaded[0].HitCount)

	inserted, err := store.PutIfAbsent(ctx, loaded[0])
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmbeddingCodec(t *testing.T) {
	v := []float32{0, 1.5, -3.25}
	assert.Equal(t, v, decodeEmbedding(encodeEmbedding(v)))
	assert.Nil(t, decodeEmbedding([]byte{1, 2, 3}))
}
