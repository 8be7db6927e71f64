// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

// ReadyBody reports serving readiness and catalog size.
type ReadyBody struct {
	Status   string `json:"status" example:"ready" doc:"Readiness status"`
	Products int    `json:"products" doc:"Number of products loaded"`
}

// ReadyResponse wraps the readiness response.
type ReadyResponse struct {
	Body ReadyBody
}

// RefreshBody reports the outcome of a catalog refresh.
type RefreshBody struct {
	Products int `json:"products" doc:"Number of products after the refresh"`
}

// RefreshResponse wraps the catalog refresh response.
type RefreshResponse struct {
	Body RefreshBody
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthBody{Status: "ok"}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "ready",
		Method:      http.MethodGet,
		Path:        "/ready",
		Summary:     "Readiness check",
		Description: "Reports 503 until the catalog and its search index are loaded.",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*ReadyResponse, error) {
		if !s.deps.Catalog.Ready() {
			return nil, huma.Error503ServiceUnavailable("catalog not loaded yet")
		}
		return &ReadyResponse{Body: ReadyBody{
			Status:   "ready",
			Products: s.deps.Catalog.Len(),
		}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "catalog-refresh",
		Method:      http.MethodPost,
		Path:        "/api/v1/catalog/refresh",
		Summary:     "Refresh the catalog",
		Description: "Re-fetches the catalog from upstream and rebuilds the search index. Serving continues on the previous catalog until the new one is ready.",
		Tags:        []string{"catalog"},
	}, func(ctx context.Context, _ *struct{}) (*RefreshResponse, error) {
		if err := s.deps.Catalog.Refresh(ctx); err != nil {
			s.deps.Logger.Error("catalog refresh failed", "error", err)
			return nil, huma.Error502BadGateway("catalog refresh failed")
		}
		return &RefreshResponse{Body: RefreshBody{Products: s.deps.Catalog.Len()}}, nil
	})

	s.registerChatRoute()
}
