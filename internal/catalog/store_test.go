// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

// keywordEmbedder maps texts onto a fixed 3-axis space so rankings are
// deterministic: clothing, electronics, jewelery.
type keywordEmbedder struct {
	calls atomic.Int32
}

func (k *keywordEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	k.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedKeywords(t)
	}
	return out, nil
}

func (k *keywordEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := k.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func embedKeywords(text string) []float32 {
	lower := strings.ToLower(text)
	vec := []float32{0.1, 0.1, 0.1}
	for i, word := range []string{"clothing", "electronics", "jewelery"} {
		if strings.Contains(lower, word) {
			vec[i] = 1
		}
	}
	return vec
}

const storeProducts = `[
	{"id":1,"title":"Backpack","price":109.95,"description":"Laptop bag","category":"men's clothing","image":"","rating":{"rate":3.9,"count":120}},
	{"id":2,"title":"SSD Drive","price":109.0,"description":"External electronics storage","category":"electronics","image":"","rating":{"rate":4.8,"count":400}},
	{"id":3,"title":"Gold Ring","price":168.0,"description":"Jewelery piece","category":"jewelery","image":"","rating":{"rate":3.9,"count":70}}
]`

func newTestStore(t *testing.T, dataDir string) (*Store, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(storeProducts))
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewStore(NewClient(srv.URL), &keywordEmbedder{}, dataDir, logger), srv
}

func TestStoreInitializeFetchesWhenNoDiskState(t *testing.T) {
	store, _ := newTestStore(t, t.TempDir())

	require.False(t, store.Ready())
	require.NoError(t, store.Initialize(context.Background()))

	assert.True(t, store.Ready())
	assert.Equal(t, 3, store.Len())
}

func TestStoreGet(t *testing.T) {
	store, _ := newTestStore(t, t.TempDir())
	require.NoError(t, store.Initialize(context.Background()))

	p, err := store.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "SSD Drive", p.Title)

	_, err = store.Get(999)
	require.Error(t, err)
	assert.True(t, aisleerr.IsNotFound(err))
	assert.Equal(t, int64(999), aisleerr.FieldsOf(err)["product_id"])
}

func TestStoreCategoriesSortedDistinct(t *testing.T) {
	store, _ := newTestStore(t, t.TempDir())
	require.NoError(t, store.Initialize(context.Background()))

	categories, err := store.Categories()
	require.NoError(t, err)
	assert.Equal(t, []string{"electronics", "jewelery", "men's clothing"}, categories)
}

func TestStoreSearchRanksByRelevance(t *testing.T) {
	store, _ := newTestStore(t, t.TempDir())
	require.NoError(t, store.Initialize(context.Background()))

	results, err := store.Search(context.Background(), "electronics storage", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, int64(2), results[0].Product.ID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestStoreSearchBeforeInitialize(t *testing.T) {
	store, _ := newTestStore(t, t.TempDir())

	_, err := store.Search(context.Background(), "anything", 3)
	require.Error(t, err)
	assert.True(t, aisleerr.IsNotReady(err))
}

func TestStoreInitializeLoadsPersistedState(t *testing.T) {
	dir := t.TempDir()

	first, srv := newTestStore(t, dir)
	require.NoError(t, first.Initialize(context.Background()))
	srv.Close()

	// The second store points at a dead upstream; only disk state can
	// make it ready.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	second := NewStore(NewClient(srv.URL), &keywordEmbedder{}, dir, logger)
	require.NoError(t, second.Initialize(context.Background()))

	assert.Equal(t, 3, second.Len())

	results, err := second.Search(context.Background(), "jewelery", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(3), results[0].Product.ID)
}

func TestStoreRejectsInconsistentDiskState(t *testing.T) {
	dir := t.TempDir()

	first, _ := newTestStore(t, dir)
	require.NoError(t, first.Initialize(context.Background()))

	// Drop a product from the metadata so counts disagree with the index.
	truncated := `[{"id":1,"title":"Backpack","price":109.95,"description":"Laptop bag","category":"men's clothing","image":"","rating":{"rate":3.9,"count":120}}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "products.json"), []byte(truncated), 0o644))

	second, _ := newTestStore(t, dir)
	err := second.loadFromDisk()
	require.Error(t, err)
	assert.True(t, aisleerr.IsInconsistent(err))

	// Initialize falls back to a full rebuild from upstream.
	require.NoError(t, second.Initialize(context.Background()))
	assert.Equal(t, 3, second.Len())
}

func TestStoreRefreshFailureKeepsServing(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(storeProducts))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := NewStore(NewClient(srv.URL), &keywordEmbedder{}, t.TempDir(), logger)
	require.NoError(t, store.Initialize(context.Background()))

	fail.Store(true)
	err := store.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, aisleerr.CodeCatalogRefreshFailure, aisleerr.CodeOf(err))

	// The previous catalog is untouched.
	assert.True(t, store.Ready())
	assert.Equal(t, 3, store.Len())
}

const altStoreProducts = `[
	{"id":101,"title":"Denim Jacket","price":39.99,"description":"Casual clothing","category":"men's clothing","image":"","rating":{"rate":4.1,"count":250}},
	{"id":102,"title":"Curved Monitor","price":599.0,"description":"Electronics display","category":"electronics","image":"","rating":{"rate":4.6,"count":310}},
	{"id":103,"title":"Bracelet","price":695.0,"description":"Jewelery chain","category":"jewelery","image":"","rating":{"rate":4.7,"count":150}}
]`

func TestStoreConcurrentRefreshKeepsSearchCoherent(t *testing.T) {
	// Upstream alternates between two disjoint catalogs so every refresh
	// replaces all product ids. A search that paired one generation's
	// index with the other's products would fail to resolve any hit.
	var reqs atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqs.Add(1)%2 == 0 {
			w.Write([]byte(altStoreProducts))
			return
		}
		w.Write([]byte(storeProducts))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := NewStore(NewClient(srv.URL), &keywordEmbedder{}, t.TempDir(), logger)
	require.NoError(t, store.Initialize(context.Background()))

	done := make(chan struct{})
	var refreshErr error
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if refreshErr = store.Refresh(context.Background()); refreshErr != nil {
				return
			}
		}
	}()

	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}

		results, err := store.Search(context.Background(), "electronics", 3)
		require.NoError(t, err)
		require.Len(t, results, 3)
	}
	require.NoError(t, refreshErr)
}
