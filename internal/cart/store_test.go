// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package cart

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aisle-dev/aisle/internal/catalog"
	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "cart.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var (
	backpack = catalog.Product{ID: 1, Title: "Backpack", Price: 109.95, Category: "men's clothing"}
	monitor  = catalog.Product{ID: 2, Title: "Monitor", Price: 599.0, Category: "electronics"}
)

func TestAddMergesQuantities(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "user:alice", backpack, 2))
	require.NoError(t, store.Add(ctx, "user:alice", backpack, 1))

	cart, err := store.Snapshot(ctx, "user:alice")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.Equal(t, 3, cart.ItemCount)
	assert.InDelta(t, 3*109.95, cart.Total, 1e-9)
}

func TestAddKeepsPriceSnapshot(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "user:alice", backpack, 1))

	// The catalog price changed between adds; the cart keeps the original.
	repriced := backpack
	repriced.Price = 250.0
	require.NoError(t, store.Add(ctx, "user:alice", repriced, 1))

	cart, err := store.Snapshot(ctx, "user:alice")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.InDelta(t, 109.95, cart.Items[0].UnitPrice, 1e-9)
	assert.InDelta(t, 2*109.95, cart.Total, 1e-9)
}

func TestAddValidatesInput(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.Add(ctx, "user:alice", backpack, 0)
	require.Error(t, err)
	assert.True(t, aisleerr.IsInvalidInput(err))

	err = store.Add(ctx, "", backpack, 1)
	require.Error(t, err)
	assert.True(t, aisleerr.IsInvalidInput(err))
}

func TestRemoveDecrements(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "user:alice", backpack, 3))
	require.NoError(t, store.Remove(ctx, "user:alice", backpack.ID, 2))

	cart, err := store.Snapshot(ctx, "user:alice")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 1, cart.Items[0].Quantity)
}

func TestRemoveAllDeletesLine(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "user:alice", backpack, 3))

	// quantity <= 0 means remove the line entirely.
	require.NoError(t, store.Remove(ctx, "user:alice", backpack.ID, 0))

	cart, err := store.Snapshot(ctx, "user:alice")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.Total)
}

func TestRemoveBelowZeroDeletesLine(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "user:alice", backpack, 2))
	require.NoError(t, store.Remove(ctx, "user:alice", backpack.ID, 5))

	cart, err := store.Snapshot(ctx, "user:alice")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestRemoveMissingEntry(t *testing.T) {
	store := openTestStore(t)

	err := store.Remove(context.Background(), "user:alice", 42, 1)
	require.Error(t, err)
	assert.True(t, aisleerr.IsNotFound(err))
	assert.Equal(t, aisleerr.CodeCartEntryNotFound, aisleerr.CodeOf(err))
}

func TestScopesAreIsolated(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "user:alice", backpack, 1))
	require.NoError(t, store.Add(ctx, "conv:abc", monitor, 2))

	alice, err := store.Snapshot(ctx, "user:alice")
	require.NoError(t, err)
	require.Len(t, alice.Items, 1)
	assert.Equal(t, int64(1), alice.Items[0].ProductID)

	anon, err := store.Snapshot(ctx, "conv:abc")
	require.NoError(t, err)
	require.Len(t, anon.Items, 1)
	assert.Equal(t, int64(2), anon.Items[0].ProductID)
}

func TestSnapshotEmptyCart(t *testing.T) {
	store := openTestStore(t)

	cart, err := store.Snapshot(context.Background(), "user:nobody")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.Total)
	assert.Zero(t, cart.ItemCount)
}

func TestClear(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "user:alice", backpack, 1))
	require.NoError(t, store.Add(ctx, "user:alice", monitor, 1))
	require.NoError(t, store.Clear(ctx, "user:alice"))

	cart, err := store.Snapshot(ctx, "user:alice")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestScopeKey(t *testing.T) {
	assert.Equal(t, "user:alice", ScopeKey("alice", "conv-1"))
	assert.Equal(t, "conv:conv-1", ScopeKey("", "conv-1"))
}
