// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aisle Contributors

package provider

import (
	"strings"
	"sync"

	aisleerr "github.com/aisle-dev/aisle/pkg/errors"
)

// Registry manages provider registration and lookup by "provider/model" ref.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider under its name.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, aisleerr.New(
			aisleerr.CodeProviderNotFound,
			"provider not registered: "+name,
			aisleerr.FieldProvider(name),
		)
	}
	return p, nil
}

// Resolve splits a "provider/model" ref and returns the matching provider
// together with the bare model name.
func (r *Registry) Resolve(modelRef string) (Provider, string, error) {
	name, model, ok := strings.Cut(modelRef, "/")
	if !ok || name == "" || model == "" {
		return nil, "", aisleerr.Errorf(
			aisleerr.CodeProviderRequestInvalid,
			"model ref must be in provider/model format, got %q", modelRef,
		)
	}

	p, err := r.Get(name)
	if err != nil {
		return nil, "", err
	}
	return p, model, nil
}

// Close closes all registered providers, joining any errors.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return aisleerr.Join(errs...)
	}
	return nil
}
