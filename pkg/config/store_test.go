// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Exists(t *testing.T) {
	t.Parallel()

	store := NewLocalStore(tempConfigPath(t))

	exists, err := store.Exists(t.Context())
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Load(t.Context())
	require.NoError(t, err)

	exists, err = store.Exists(t.Context())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalStore_Update(t *testing.T) {
	t.Parallel()

	t.Run("applies changes", func(t *testing.T) {
		t.Parallel()

		store := NewLocalStore(tempConfigPath(t))
		require.NoError(t, store.Update(t.Context(), func(c *Config) error {
			c.AzpPolicy = "ignore"
			return nil
		}))

		cfg, err := store.Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "ignore", cfg.AzpPolicy)
	})

	t.Run("callback error leaves file untouched", func(t *testing.T) {
		t.Parallel()

		configPath := tempConfigPath(t)
		store := NewLocalStore(configPath)
		_, err := store.Load(t.Context())
		require.NoError(t, err)
		before, err := os.ReadFile(configPath)
		require.NoError(t, err)

		boom := errors.New("boom")
		err = store.Update(t.Context(), func(c *Config) error {
			c.KeyStore = KeyStoreMemory
			return boom
		})
		require.ErrorIs(t, err, boom)

		after, err := os.ReadFile(configPath)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("invalid result is not saved", func(t *testing.T) {
		t.Parallel()

		store := NewLocalStore(tempConfigPath(t))
		err := store.Update(t.Context(), func(c *Config) error {
			c.KeyStore = "vault"
			return nil
		})
		require.Error(t, err)

		cfg, err := store.Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, KeyStoreKeyring, cfg.KeyStore)
	})

	t.Run("concurrent updates are serialised", func(t *testing.T) {
		t.Parallel()

		configPath := tempConfigPath(t)
		const workers = 5

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- NewLocalStore(configPath).Update(context.Background(), func(c *Config) error {
					c.PollInterval += time.Second
					return nil
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		cfg, err := LoadOrCreateConfigWithPath(configPath)
		require.NoError(t, err)
		// the first update starts from the 5s default
		assert.Equal(t, 10*time.Second, cfg.PollInterval)
	})

	t.Run("lock timeout", func(t *testing.T) {
		t.Parallel()

		configPath := tempConfigPath(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0700))

		held := flock.New(configPath + ".lock")
		locked, err := held.TryLock()
		require.NoError(t, err)
		require.True(t, locked)
		defer func() { _ = held.Unlock() }()

		err = NewLocalStore(configPath).Update(t.Context(), func(*Config) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to acquire lock")
	})
}
