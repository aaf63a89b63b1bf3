// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/stacklok/easyaccess/pkg/networking"
)

// KeySetSource resolves the JWK set published at a jwks_uri.
type KeySetSource interface {
	KeySet(ctx context.Context, jwksURI string) (jwk.Set, error)
}

// KeySetFetcher fetches the JWK set on every call. Suitable for a single
// session; use a KeySetCache when validating repeatedly.
type KeySetFetcher struct {
	client *http.Client
}

// NewKeySetFetcher returns a fetcher using client.
func NewKeySetFetcher(client *http.Client) *KeySetFetcher {
	return &KeySetFetcher{client: client}
}

// KeySet fetches the JWK set at jwksURI.
func (f *KeySetFetcher) KeySet(ctx context.Context, jwksURI string) (jwk.Set, error) {
	resp, err := networking.Fetch(ctx, f.client, jwksURI, networking.WithHeader("Accept", networking.ContentTypeJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch JWKS: %w",
			networking.NewHTTPError(resp.StatusCode, jwksURI, http.StatusText(resp.StatusCode)))
	}
	set, err := jwk.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	return set, nil
}

// KeySetCache keeps JWK sets fresh in the background using a jwk.Cache.
// URLs are registered lazily on first use.
type KeySetCache struct {
	cache *jwk.Cache

	mu         sync.Mutex
	registered map[string]struct{}
}

// NewKeySetCache creates a cache whose refresh goroutines live until ctx is cancelled.
func NewKeySetCache(ctx context.Context, client *http.Client) (*KeySetCache, error) {
	// In jwx v3, NewCache requires an httprc.Client
	httprcClient := httprc.NewClient(httprc.WithHTTPClient(client))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}
	return &KeySetCache{cache: cache, registered: make(map[string]struct{})}, nil
}

// KeySet returns the cached JWK set for jwksURI, registering it on first use.
func (c *KeySetCache) KeySet(ctx context.Context, jwksURI string) (jwk.Set, error) {
	if err := c.ensureRegistered(ctx, jwksURI); err != nil {
		return nil, err
	}
	set, err := c.cache.Lookup(ctx, jwksURI)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}
	return set, nil
}

func (c *KeySetCache) ensureRegistered(ctx context.Context, jwksURI string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.registered[jwksURI]; ok {
		return nil
	}

	registrationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.cache.Register(registrationCtx, jwksURI); err != nil {
		return fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	c.registered[jwksURI] = struct{}{}
	return nil
}

var (
	_ KeySetSource = (*KeySetFetcher)(nil)
	_ KeySetSource = (*KeySetCache)(nil)
)
