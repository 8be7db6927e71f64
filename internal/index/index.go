// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

// Package index implements a flat, exact inner-product similarity index over
// L2-normalized embedding vectors. Exact search is a deliberate choice for a
// small catalog: no training step, no recall loss. Do not swap in an
// approximate method.
package index

import (
	"context"
	"math"
	"sort"

	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

// Embedder is the external embedding provider the builder depends on.
// internal/provider implementations satisfy it.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Index holds one normalized vector per document plus a parallel id list.
// Vector i corresponds to ids[i]; ids keep original catalog order.
// An Index is immutable after construction and safe for concurrent queries.
type Index struct {
	dim     int
	ids     []int64
	vectors [][]float32
}

// Hit is a single query result: a document id and its inner-product score.
// Scores on normalized vectors are cosine similarities in [-1, 1].
type Hit struct {
	ID    int64
	Score float64
}

// Build embeds the given texts and constructs an index. ids and texts must be
// parallel slices in catalog order. Any embedding failure fails the whole
// build; no partial index is produced.
func Build(ctx context.Context, ids []int64, texts []string, emb Embedder) (*Index, error) {
	if len(ids) != len(texts) {
		return nil, aisleerr.Errorf(aisleerr.CodeIndexBuildFailure,
			"id/text count mismatch: %d ids, %d texts", len(ids), len(texts))
	}
	if len(ids) == 0 {
		return nil, aisleerr.New(aisleerr.CodeIndexBuildFailure, "cannot build an empty index")
	}

	vectors, err := emb.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, aisleerr.Wrapf(err, aisleerr.CodeIndexEmbedFailure, "embedding %d texts", len(texts))
	}
	if len(vectors) != len(ids) {
		return nil, aisleerr.Errorf(aisleerr.CodeIndexBuildFailure,
			"embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, aisleerr.Errorf(aisleerr.CodeIndexBuildFailure,
				"vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}

	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		normalized[i] = Normalize(v)
	}

	idsCopy := make([]int64, len(ids))
	copy(idsCopy, ids)

	return &Index{dim: dim, ids: idsCopy, vectors: normalized}, nil
}

// newIndex constructs an Index from already-normalized vectors (load path).
func newIndex(dim int, ids []int64, vectors [][]float32) *Index {
	return &Index{dim: dim, ids: ids, vectors: vectors}
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int { return len(ix.ids) }

// Dim returns the vector dimension.
func (ix *Index) Dim() int { return ix.dim }

// IDs returns the document ids in catalog order. The caller must not mutate
// the returned slice.
func (ix *Index) IDs() []int64 { return ix.ids }

// Query returns the k highest inner-product matches for the given vector.
// Scores are monotonically non-increasing; ties are broken by original
// catalog order. k is clamped to [0, Len()].
func (ix *Index) Query(vec []float32, k int) ([]Hit, error) {
	if len(vec) != ix.dim {
		return nil, aisleerr.Errorf(aisleerr.CodeIndexQueryInvalid,
			"query vector has dimension %d, index has %d", len(vec), ix.dim)
	}

	if k > ix.Len() {
		k = ix.Len()
	}
	if k <= 0 {
		return nil, nil
	}

	type scored struct {
		pos   int
		score float64
	}

	all := make([]scored, ix.Len())
	for i, v := range ix.vectors {
		all[i] = scored{pos: i, score: dot(vec, v)}
	}

	// Stable sort keeps catalog order for equal scores.
	sort.SliceStable(all, func(a, b int) bool {
		return all[a].score > all[b].score
	})

	hits := make([]Hit, k)
	for i := 0; i < k; i++ {
		hits[i] = Hit{ID: ix.ids[all[i].pos], Score: all[i].score}
	}
	return hits, nil
}

// Normalize returns an L2-normalized copy of v. A zero vector is returned
// unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}

	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
