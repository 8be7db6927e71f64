// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

// Package cart persists per-scope shopping carts in SQLite.
package cart

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aisle-dev/aisle/internal/catalog"
	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

// Item is one cart line. UnitPrice is snapshotted when the product is first
// added, so a later catalog refresh cannot silently change a cart's total.
type Item struct {
	ProductID int64   `json:"product_id"`
	Title     string  `json:"title"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Subtotal  float64 `json:"subtotal"`
}

// Cart is a read-time snapshot. Total and ItemCount are always recomputed
// from the rows, never stored.
type Cart struct {
	Items     []Item  `json:"items"`
	Total     float64 `json:"total"`
	ItemCount int     `json:"item_count"`
}

// Store is a SQLite-backed cart store. Concurrent writers to the same scope
// resolve last-write-wins at the row level.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the cart database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, aisleerr.Wrap(err, aisleerr.CodeCartDatabaseFailure, "opening cart db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, aisleerr.Wrap(err, aisleerr.CodeCartDatabaseFailure, "pinging cart db")
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, aisleerr.Wrap(err, aisleerr.CodeCartDatabaseFailure, "migrating cart db")
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS cart_items (
	scope_key  TEXT    NOT NULL,
	product_id INTEGER NOT NULL,
	title      TEXT    NOT NULL DEFAULT '',
	quantity   INTEGER NOT NULL,
	unit_price REAL    NOT NULL,
	added_at   TEXT    NOT NULL,
	PRIMARY KEY (scope_key, product_id)
);

CREATE INDEX IF NOT EXISTS idx_cart_items_scope ON cart_items(scope_key);
`
	_, err := db.Exec(ddl)
	return err
}

// Add adds quantity units of the product to the scope's cart, merging with an
// existing line. The unit price of an existing line is kept.
func (s *Store) Add(ctx context.Context, scope string, product catalog.Product, quantity int) error {
	if scope == "" {
		return aisleerr.New(aisleerr.CodeCartInvalidInput, "scope key is required")
	}
	if quantity < 1 {
		return aisleerr.New(aisleerr.CodeCartInvalidInput, "quantity must be at least 1",
			aisleerr.Field("quantity", quantity))
	}

	const q = `INSERT INTO cart_items (scope_key, product_id, title, quantity, unit_price, added_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (scope_key, product_id) DO UPDATE SET quantity = quantity + excluded.quantity`

	_, err := s.db.ExecContext(ctx, q,
		scope, product.ID, product.Title, quantity, product.Price,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeCartDatabaseFailure, "adding cart item",
			aisleerr.FieldScope(scope), aisleerr.FieldProductID(product.ID))
	}
	return nil
}

// Remove removes quantity units of the product from the scope's cart.
// quantity <= 0 removes the line entirely; a decrement to zero or below also
// deletes the line. Removing a product that is not in the cart is an error.
func (s *Store) Remove(ctx context.Context, scope string, productID int64, quantity int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeCartDatabaseFailure, "beginning remove tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT quantity FROM cart_items WHERE scope_key = ? AND product_id = ?`,
		scope, productID,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return aisleerr.New(aisleerr.CodeCartEntryNotFound, "product not in cart",
			aisleerr.FieldScope(scope), aisleerr.FieldProductID(productID))
	}
	if err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeCartDatabaseFailure, "reading cart item",
			aisleerr.FieldScope(scope), aisleerr.FieldProductID(productID))
	}

	if quantity <= 0 || quantity >= current {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE scope_key = ? AND product_id = ?`,
			scope, productID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE cart_items SET quantity = quantity - ? WHERE scope_key = ? AND product_id = ?`,
			quantity, scope, productID)
	}
	if err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeCartDatabaseFailure, "removing cart item",
			aisleerr.FieldScope(scope), aisleerr.FieldProductID(productID))
	}

	if err := tx.Commit(); err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeCartDatabaseFailure, "committing remove")
	}
	return nil
}

// Snapshot returns the scope's cart with totals recomputed from the rows.
// An empty cart is a valid snapshot, not an error.
func (s *Store) Snapshot(ctx context.Context, scope string) (Cart, error) {
	const q = `SELECT product_id, title, quantity, unit_price
FROM cart_items WHERE scope_key = ? ORDER BY added_at ASC, product_id ASC`

	rows, err := s.db.QueryContext(ctx, q, scope)
	if err != nil {
		return Cart{}, aisleerr.Wrap(err, aisleerr.CodeCartDatabaseFailure, "querying cart",
			aisleerr.FieldScope(scope))
	}
	defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

	cart := Cart{Items: []Item{}}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ProductID, &item.Title, &item.Quantity, &item.UnitPrice); err != nil {
			return Cart{}, aisleerr.Wrap(err, aisleerr.CodeCartDatabaseFailure, "scanning cart row")
		}
		item.Subtotal = item.UnitPrice * float64(item.Quantity)
		cart.Items = append(cart.Items, item)
		cart.Total += item.Subtotal
		cart.ItemCount += item.Quantity
	}
	if err := rows.Err(); err != nil {
		return Cart{}, aisleerr.Wrap(err, aisleerr.CodeCartDatabaseFailure, "iterating cart rows")
	}
	return cart, nil
}

// Clear deletes every line in the scope's cart.
func (s *Store) Clear(ctx context.Context, scope string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE scope_key = ?`, scope)
	if err != nil {
		return aisleerr.Wrap(err, aisleerr.CodeCartDatabaseFailure, "clearing cart",
			aisleerr.FieldScope(scope))
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }
