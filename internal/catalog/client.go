// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

const (
	defaultTimeout  = 15 * time.Second
	maxFetchRetries = 4
)

// Client talks to the upstream store API. Transient failures (5xx, network
// errors) are retried with exponential backoff; 4xx responses are not.
type Client struct {
	baseURL string
	hc      *http.Client
}

// NewClient creates a catalog client for the given base URL, e.g.
// "https://fakestoreapi.com".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: defaultTimeout},
	}
}

// FetchProducts retrieves the full catalog in upstream order.
func (c *Client) FetchProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := c.getJSON(ctx, "/products", &products); err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, aisleerr.New(aisleerr.CodeCatalogFetchFailure, "upstream returned an empty catalog")
	}
	return products, nil
}

// FetchProduct retrieves a single product by id.
func (c *Client) FetchProduct(ctx context.Context, id int64) (Product, error) {
	var product Product
	if err := c.getJSON(ctx, fmt.Sprintf("/products/%d", id), &product); err != nil {
		return Product{}, err
	}
	return product, nil
}

// FetchCategories retrieves the upstream category list.
func (c *Client) FetchCategories(ctx context.Context) ([]string, error) {
	var categories []string
	if err := c.getJSON(ctx, "/products/categories", &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	url := c.baseURL + path

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.get(ctx, url)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxFetchRetries),
	)
	if err != nil {
		if aisleerr.IsNotFound(err) {
			return err
		}
		return aisleerr.Wrapf(err, aisleerr.CodeCatalogFetchFailure, "fetching %s", url)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return aisleerr.Wrapf(err, aisleerr.CodeCatalogFetchFailure, "decoding %s", url)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(aisleerr.New(aisleerr.CodeCatalogProductNotFound, "upstream resource not found"))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("upstream status %d", resp.StatusCode))
	}

	return io.ReadAll(resp.Body)
}
