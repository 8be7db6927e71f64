// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/aisle-dev/aisle/internal/index"
	"github.com/aisle-dev/aisle/internal/provider"
	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

const productsFile = "products.json"

// snapshot is one immutable catalog generation: the products and the index
// built from exactly those products. Readers take the whole pair or nothing.
type snapshot struct {
	ix      *index.Index
	byID    map[int64]Product
	ordered []Product
}

// Store holds the in-memory catalog and its semantic index. A refresh builds
// a complete replacement snapshot off to the side and swaps it in with a
// single pointer store; readers never observe an index paired with another
// generation's products.
type Store struct {
	client   *Client
	embedder provider.Embedder
	dataDir  string
	logger   *slog.Logger

	current atomic.Pointer[snapshot]
}

// Result is one semantic search hit.
type Result struct {
	Product Product
	Score   float64
}

// NewStore creates a catalog store. dataDir is where the index and product
// metadata are persisted across restarts.
func NewStore(client *Client, embedder provider.Embedder, dataDir string, logger *slog.Logger) *Store {
	return &Store{
		client:   client,
		embedder: embedder,
		dataDir:  dataDir,
		logger:   logger,
	}
}

// Initialize makes the store ready to serve: it loads the persisted catalog
// and index if both exist and agree, otherwise it fetches and rebuilds from
// upstream. Called once at startup.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.loadFromDisk(); err == nil {
		s.logger.Info("catalog loaded from disk", "products", s.Len())
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("persisted catalog unusable, rebuilding", "error", err)
	}

	return s.Refresh(ctx)
}

// Refresh re-fetches the catalog from upstream, rebuilds the semantic index,
// persists both, and swaps them in. On failure the previous catalog keeps
// serving untouched.
func (s *Store) Refresh(ctx context.Context) error {
	products, err := s.client.FetchProducts(ctx)
	if err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeCatalogRefreshFailure, "fetching catalog")
	}

	ids := make([]int64, len(products))
	texts := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ID
		texts[i] = p.EmbedText()
	}

	ix, err := index.Build(ctx, ids, texts, s.embedder)
	if err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeCatalogRefreshFailure, "building index")
	}

	if err := s.persist(ix, products); err != nil {
		// Persistence failure is not fatal to serving; the rebuilt
		// catalog is still good in memory.
		s.logger.Warn("persisting catalog failed", "error", err)
	}

	s.install(ix, products)
	s.logger.Info("catalog refreshed", "products", len(products))
	return nil
}

// Get returns the product with the given id.
func (s *Store) Get(id int64) (Product, error) {
	snap := s.current.Load()
	if snap == nil {
		return Product{}, aisleerr.New(aisleerr.CodeCatalogNotReady, "catalog not loaded yet")
	}

	p, ok := snap.byID[id]
	if !ok {
		return Product{}, aisleerr.New(aisleerr.CodeCatalogProductNotFound, "product not found",
			aisleerr.FieldProductID(id))
	}
	return p, nil
}

// Products returns the catalog in upstream order. The caller must not mutate
// the returned slice.
func (s *Store) Products() []Product {
	snap := s.current.Load()
	if snap == nil {
		return nil
	}
	return snap.ordered
}

// Categories returns the distinct product categories, sorted. Derived from
// the catalog itself rather than a separate upstream call so it can never
// disagree with search results.
func (s *Store) Categories() ([]string, error) {
	snap := s.current.Load()
	if snap == nil || len(snap.ordered) == 0 {
		return nil, aisleerr.New(aisleerr.CodeCatalogNotReady, "catalog not loaded yet")
	}

	seen := make(map[string]struct{})
	var categories []string
	for _, p := range snap.ordered {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, p.Category)
	}
	sort.Strings(categories)
	return categories, nil
}

// Search runs exact semantic search over the catalog and returns the top k
// products with scores in non-increasing order.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Result, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, aisleerr.New(aisleerr.CodeCatalogNotReady, "index not built yet")
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, aisleerr.Wrap(err, aisleerr.CodeIndexEmbedFailure, "embedding query")
	}

	hits, err := snap.ix.Query(index.Normalize(vec), k)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		p, ok := snap.byID[h.ID]
		if !ok {
			// Index and products live in the same snapshot, so this
			// points at a bug.
			s.logger.Error("indexed product missing from catalog", "product_id", h.ID)
			continue
		}
		results = append(results, Result{Product: p, Score: h.Score})
	}
	return results, nil
}

// Ready reports whether the store can serve searches.
func (s *Store) Ready() bool {
	return s.current.Load() != nil
}

// Len returns the number of products currently loaded.
func (s *Store) Len() int {
	snap := s.current.Load()
	if snap == nil {
		return 0
	}
	return len(snap.ordered)
}

func (s *Store) install(ix *index.Index, products []Product) {
	byID := make(map[int64]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	s.current.Store(&snapshot{ix: ix, byID: byID, ordered: products})
}

func (s *Store) persist(ix *index.Index, products []Product) error {
	if err := ix.Persist(s.dataDir); err != nil {
		return err
	}

	data, err := json.Marshal(products)
	if err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeIndexPersistFailure, "encoding products")
	}
	path := filepath.Join(s.dataDir, productsFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return aisleerr.Wrapf(err, aisleerr.CodeIndexPersistFailure, "writing %s", path)
	}
	return nil
}

// loadFromDisk restores the persisted catalog and index. The two files are
// only trusted together: a count or id mismatch between them rejects both.
func (s *Store) loadFromDisk() error {
	path := filepath.Join(s.dataDir, productsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return aisleerr.Wrapf(err, aisleerr.CodeIndexLoadFailure, "decoding %s", path)
	}

	ix, err := index.Load(s.dataDir)
	if err != nil {
		return err
	}

	if ix.Len() != len(products) {
		return aisleerr.Errorf(aisleerr.CodeIndexLoadInconsistent,
			"index has %d vectors, catalog has %d products", ix.Len(), len(products))
	}
	for i, id := range ix.IDs() {
		if products[i].ID != id {
			return aisleerr.Errorf(aisleerr.CodeIndexLoadInconsistent,
				"index id %d at position %d, catalog has %d", id, i, products[i].ID)
		}
	}

	s.install(ix, products)
	return nil
}
