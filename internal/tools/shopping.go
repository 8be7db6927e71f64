// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aisle-dev/aisle/internal/cart"
	"github.com/aisle-dev/aisle/internal/catalog"
	"github.com/aisle-dev/aisle/internal/provider"
	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

// Limits bounds search result sizes.
type Limits struct {
	SearchDefault int
	SearchMax     int
}

// DefaultLimits returns the standard search bounds.
func DefaultLimits() Limits {
	return Limits{SearchDefault: 5, SearchMax: 20}
}

// ProductView is the product shape surfaced to the model and the client.
type ProductView struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Price       float64  `json:"price"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Rating      float64  `json:"rating"`
	RatingCount int      `json:"rating_count"`
	Image       string   `json:"image,omitempty"`
	Score       *float64 `json:"score,omitempty"`
}

// SearchPayload is the search_products result.
type SearchPayload struct {
	Query   string        `json:"query"`
	Results []ProductView `json:"results"`
}

// CategoriesPayload is the get_categories result.
type CategoriesPayload struct {
	Categories []string `json:"categories"`
}

// CartPayload is the result of every cart-touching tool: a message describing
// what happened plus the full cart snapshot afterwards.
type CartPayload struct {
	Message string    `json:"message,omitempty"`
	Cart    cart.Cart `json:"cart"`
}

// NewShoppingRegistry assembles the fixed shopping tool set.
func NewShoppingRegistry(store *catalog.Store, carts *cart.Store, limits Limits, timeout time.Duration) *Registry {
	r := NewRegistry(timeout)

	r.Register(searchProductsTool(store, limits))
	r.Register(getProductDetailsTool(store))
	r.Register(getCategoriesTool(store))
	r.Register(addToCartTool(store, carts))
	r.Register(removeFromCartTool(carts))
	r.Register(getCartTool(carts))

	return r
}

// ---------- search_products ----------

// minSearchScore is the relevance floor for semantic hits. Ranking alone
// always produces a top-k even for nonsense queries; anything scoring below
// this is noise, not a match.
const minSearchScore = 0.10

type searchArgs struct {
	Query    string   `json:"query"`
	Category string   `json:"category,omitempty"`
	MinPrice *float64 `json:"min_price,omitempty"`
	MaxPrice *float64 `json:"max_price,omitempty"`
	Limit    *int     `json:"limit,omitempty"`
}

func searchProductsTool(store *catalog.Store, limits Limits) Tool {
	return Tool{
		Definition: provider.ToolDefinition{
			Name:        "search_products",
			Description: "Search the product catalog by meaning. Optional filters narrow results by category and price range. Omit the query to browse the filtered catalog.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "What the shopper is looking for, in natural language; omit to browse the catalog",
					},
					"category": map[string]any{
						"type":        "string",
						"description": "Restrict results to this exact category",
					},
					"min_price": map[string]any{
						"type":        "number",
						"description": "Only include products priced at or above this",
					},
					"max_price": map[string]any{
						"type":        "number",
						"description": "Only include products priced at or below this",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": fmt.Sprintf("Maximum results to return (default %d, max %d)", limits.SearchDefault, limits.SearchMax),
					},
				},
			},
		},
		Handler: func(ctx context.Context, call Call) (Outcome, error) {
			var args searchArgs
			if err := decodeArgs(call.Args, &args); err != nil {
				return Outcome{}, err
			}
			if args.MinPrice != nil && args.MaxPrice != nil && *args.MinPrice > *args.MaxPrice {
				return Outcome{}, aisleerr.New(aisleerr.CodeToolArgsInvalid, "min_price exceeds max_price")
			}

			limit := limits.SearchDefault
			if args.Limit != nil {
				limit = *args.Limit
			}
			if limit < 1 {
				return Outcome{}, aisleerr.New(aisleerr.CodeToolArgsInvalid, "limit must be at least 1")
			}
			if limit > limits.SearchMax {
				limit = limits.SearchMax
			}

			// Rank the whole catalog first, then apply the hard filters.
			// Filtering after ranking keeps filters exact: a $150 product
			// never survives max_price=100 no matter how well it matches.
			// Without a query the filtered catalog is browsed in catalog
			// order instead.
			semantic := strings.TrimSpace(args.Query) != ""
			var ranked []catalog.Result
			if semantic {
				var err error
				ranked, err = store.Search(ctx, args.Query, store.Len())
				if err != nil {
					return Outcome{}, err
				}
			} else {
				for _, p := range store.Products() {
					ranked = append(ranked, catalog.Result{Product: p})
				}
			}
			results := make([]ProductView, 0, limit)
			for _, r := range ranked {
				if semantic && r.Score < minSearchScore {
					// Scores are non-increasing, so the rest are noise too.
					break
				}
				if args.Category != "" && !strings.EqualFold(r.Product.Category, args.Category) {
					continue
				}
				if args.MinPrice != nil && r.Product.Price < *args.MinPrice {
					continue
				}
				if args.MaxPrice != nil && r.Product.Price > *args.MaxPrice {
					continue
				}
				view := newProductView(r.Product)
				if semantic {
					score := r.Score
					view.Score = &score
				}
				results = append(results, view)
				if len(results) == limit {
					break
				}
			}

			return Outcome{
				Kind:    KindProducts,
				Payload: SearchPayload{Query: args.Query, Results: results},
			}, nil
		},
	}
}

// ---------- get_product_details ----------

type productArgs struct {
	ProductID int64 `json:"product_id"`
}

func getProductDetailsTool(store *catalog.Store) Tool {
	return Tool{
		Definition: provider.ToolDefinition{
			Name:        "get_product_details",
			Description: "Get the full details of one product by its id.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"product_id": map[string]any{
						"type":        "integer",
						"description": "The product id from a previous search result",
					},
				},
				"required": []string{"product_id"},
			},
		},
		Handler: func(ctx context.Context, call Call) (Outcome, error) {
			var args productArgs
			if err := decodeArgs(call.Args, &args); err != nil {
				return Outcome{}, err
			}
			if args.ProductID <= 0 {
				return Outcome{}, aisleerr.New(aisleerr.CodeToolArgsInvalid, "product_id is required")
			}

			p, err := store.Get(args.ProductID)
			if err != nil {
				return Outcome{}, err
			}

			return Outcome{Kind: KindProductDetail, Payload: newProductView(p)}, nil
		},
	}
}

// ---------- get_categories ----------

func getCategoriesTool(store *catalog.Store) Tool {
	return Tool{
		Definition: provider.ToolDefinition{
			Name:        "get_categories",
			Description: "List every product category in the catalog.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		Handler: func(ctx context.Context, call Call) (Outcome, error) {
			var args struct{}
			if err := decodeArgs(call.Args, &args); err != nil {
				return Outcome{}, err
			}

			categories, err := store.Categories()
			if err != nil {
				return Outcome{}, err
			}

			return Outcome{Kind: KindCategories, Payload: CategoriesPayload{Categories: categories}}, nil
		},
	}
}

// ---------- add_to_cart ----------

type addArgs struct {
	ProductID int64 `json:"product_id"`
	Quantity  *int  `json:"quantity,omitempty"`
}

func addToCartTool(store *catalog.Store, carts *cart.Store) Tool {
	return Tool{
		Definition: provider.ToolDefinition{
			Name:        "add_to_cart",
			Description: "Add a product to the shopper's cart.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"product_id": map[string]any{
						"type":        "integer",
						"description": "The product id to add",
					},
					"quantity": map[string]any{
						"type":        "integer",
						"description": "How many units to add (default 1)",
					},
				},
				"required": []string{"product_id"},
			},
		},
		Handler: func(ctx context.Context, call Call) (Outcome, error) {
			var args addArgs
			if err := decodeArgs(call.Args, &args); err != nil {
				return Outcome{}, err
			}

			quantity := 1
			if args.Quantity != nil {
				quantity = *args.Quantity
			}
			if quantity < 1 {
				return Outcome{}, aisleerr.New(aisleerr.CodeToolArgsInvalid, "quantity must be at least 1")
			}

			// The product must exist in the catalog; the cart snapshots
			// its current price.
			p, err := store.Get(args.ProductID)
			if err != nil {
				return Outcome{}, err
			}

			if err := carts.Add(ctx, call.Scope, p, quantity); err != nil {
				return Outcome{}, err
			}

			snapshot, err := carts.Snapshot(ctx, call.Scope)
			if err != nil {
				return Outcome{}, err
			}

			return Outcome{
				Kind: KindCart,
				Payload: CartPayload{
					Message: fmt.Sprintf("Added %d x %s to the cart", quantity, p.Title),
					Cart:    snapshot,
				},
			}, nil
		},
	}
}

// ---------- remove_from_cart ----------

type removeArgs struct {
	ProductID int64 `json:"product_id"`
	Quantity  *int  `json:"quantity,omitempty"`
}

func removeFromCartTool(carts *cart.Store) Tool {
	return Tool{
		Definition: provider.ToolDefinition{
			Name:        "remove_from_cart",
			Description: "Remove a product from the shopper's cart. Omit quantity to remove it entirely.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"product_id": map[string]any{
						"type":        "integer",
						"description": "The product id to remove",
					},
					"quantity": map[string]any{
						"type":        "integer",
						"description": "How many units to remove; omit to remove the whole line",
					},
				},
				"required": []string{"product_id"},
			},
		},
		Handler: func(ctx context.Context, call Call) (Outcome, error) {
			var args removeArgs
			if err := decodeArgs(call.Args, &args); err != nil {
				return Outcome{}, err
			}

			quantity := 0
			if args.Quantity != nil {
				quantity = *args.Quantity
			}

			message := "Removed from the cart"
			err := carts.Remove(ctx, call.Scope, args.ProductID, quantity)
			switch {
			case aisleerr.IsNotFound(err):
				// Removing something that was never added is a no-op, not
				// a failure the model has to recover from.
				message = fmt.Sprintf("Product %d is not in the cart", args.ProductID)
			case err != nil:
				return Outcome{}, err
			}

			snapshot, err := carts.Snapshot(ctx, call.Scope)
			if err != nil {
				return Outcome{}, err
			}

			return Outcome{
				Kind: KindCart,
				Payload: CartPayload{
					Message: message,
					Cart:    snapshot,
				},
			}, nil
		},
	}
}

// ---------- get_cart ----------

func getCartTool(carts *cart.Store) Tool {
	return Tool{
		Definition: provider.ToolDefinition{
			Name:        "get_cart",
			Description: "Show the shopper's current cart with totals.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		Handler: func(ctx context.Context, call Call) (Outcome, error) {
			var args struct{}
			if err := decodeArgs(call.Args, &args); err != nil {
				return Outcome{}, err
			}

			snapshot, err := carts.Snapshot(ctx, call.Scope)
			if err != nil {
				return Outcome{}, err
			}

			return Outcome{Kind: KindCart, Payload: CartPayload{Cart: snapshot}}, nil
		},
	}
}

func newProductView(p catalog.Product) ProductView {
	return ProductView{
		ID:          p.ID,
		Title:       p.Title,
		Price:       p.Price,
		Category:    p.Category,
		Description: p.Description,
		Rating:      p.Rating.Rate,
		RatingCount: p.Rating.Count,
		Image:       p.Image,
	}
}
