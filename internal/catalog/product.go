// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

// Package catalog owns the product catalog: fetching it from the upstream
// store API, serving lookups, and keeping the semantic index in sync.
package catalog

import (
	"fmt"
	"strings"
)

// Product is one catalog entry. Field names and JSON tags follow the
// upstream store API payload.
type Product struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Image       string  `json:"image"`
	Rating      Rating  `json:"rating"`
}

// Rating is the upstream aggregate review score.
type Rating struct {
	Rate  float64 `json:"rate"`
	Count int     `json:"count"`
}

// EmbedText returns the text embedded for semantic search: title, then
// description, then a labeled category. Index vectors and persisted blobs
// depend on this exact layout; changing it invalidates stored indexes.
func (p Product) EmbedText() string {
	var b strings.Builder
	b.WriteString(p.Title)
	if p.Description != "" {
		b.WriteString(". ")
		b.WriteString(p.Description)
	}
	if p.Category != "" {
		b.WriteString(". Category: ")
		b.WriteString(p.Category)
	}
	return b.String()
}

// Summary is a short human-readable line for model-facing tool output.
func (p Product) Summary() string {
	return fmt.Sprintf("%s (%s) - $%.2f", p.Title, p.Category, p.Price)
}
