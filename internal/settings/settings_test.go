// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/flowchat/internal/storage"
)

// =============================================================================
// DECODE TESTS
// =============================================================================

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Settings
	}{
		{"empty", "", Default()},
		{"malformed", "{baseUrl:", Default()},
		{"null", "null", Default()},
		{"not an object", "42", Default()},
		{"full", `{"baseUrl":"https://example.com/v1","apiKey":"app-1"}`,
			Settings{BaseURL: "https://example.com/v1", APIKey: "app-1"}},
		{"trims endpoint", `{"baseUrl":"  https://example.com/v1  ","apiKey":"k"}`,
			Settings{BaseURL: "https://example.com/v1", APIKey: "k"}},
		{"blank endpoint", `{"baseUrl":"   ","apiKey":"k"}`,
			Settings{BaseURL: DefaultBaseURL, APIKey: "k"}},
		{"missing key", `{"baseUrl":"https://example.com/v1"}`,
			Settings{BaseURL: "https://example.com/v1"}},
		{"missing endpoint", `{"apiKey":"k"}`,
			Settings{BaseURL: DefaultBaseURL, APIKey: "k"}},
		{"wrong types", `{"baseUrl":7,"apiKey":true}`, Default()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.raw))
		})
	}
}

func TestIsConfigured(t *testing.T) {
	assert.False(t, Default().IsConfigured())
	assert.False(t, Settings{BaseURL: "https://x", APIKey: "   "}.IsConfigured())
	assert.False(t, Settings{BaseURL: "  ", APIKey: "k"}.IsConfigured())
	assert.True(t, Settings{BaseURL: "https://x", APIKey: "k"}.IsConfigured())
}

// =============================================================================
// STORE TESTS
// =============================================================================

func TestStore_DefaultsWrittenBack(t *testing.T) {
	persist := storage.NewMemoryStore()
	s := NewStore(persist, nil)

	assert.Equal(t, Default(), s.Read())
	assert.False(t, s.IsConfigured())

	raw, ok, err := persist.Get(StorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"baseUrl":"https://api.dify.ai/v1","apiKey":""}`, raw)
}

func TestStore_SaveReplacesWholesale(t *testing.T) {
	persist := storage.NewMemoryStore()
	s := NewStore(persist, nil)

	require.NoError(t, s.Save(Settings{BaseURL: "https://example.com/v1", APIKey: "app-1"}))
	assert.True(t, s.IsConfigured())

	require.NoError(t, s.Save(Settings{APIKey: "app-2"}))
	assert.Equal(t, Settings{APIKey: "app-2"}, s.Read())
	assert.False(t, s.IsConfigured())

	// A fresh read of the persisted copy normalizes the empty endpoint
	assert.Equal(t, Settings{BaseURL: DefaultBaseURL, APIKey: "app-2"}, NewStore(persist, nil).Read())
}

func TestStore_MalformedPersistedValue(t *testing.T) {
	persist := storage.NewMemoryStore()
	require.NoError(t, persist.Set(StorageKey, "not json"))

	assert.Equal(t, Default(), NewStore(persist, nil).Read())
}

type failingStore struct{ *storage.MemoryStore }

func (f *failingStore) Set(string, string) error { return errors.New("read-only") }

func TestStore_SaveWithBrokenPersistence(t *testing.T) {
	s := NewStore(&failingStore{MemoryStore: storage.NewMemoryStore()}, nil)

	err := s.Save(Settings{BaseURL: "https://example.com/v1", APIKey: "k"})
	assert.Error(t, err)
	assert.True(t, s.IsConfigured(), "in-memory settings still change")
}

func TestStore_Subscribe(t *testing.T) {
	s := NewStore(nil, nil)

	var got []Settings
	unsubscribe := s.Subscribe(func(next Settings) { got = append(got, next) })

	first := Settings{BaseURL: "https://a", APIKey: "1"}
	require.NoError(t, s.Save(first))
	unsubscribe()
	require.NoError(t, s.Save(Settings{BaseURL: "https://b", APIKey: "2"}))

	assert.Equal(t, []Settings{first}, got)
}

func TestStore_Reload(t *testing.T) {
	persist := storage.NewMemoryStore()
	s := NewStore(persist, nil)

	calls := 0
	s.Subscribe(func(Settings) { calls++ })

	s.Reload()
	assert.Equal(t, 0, calls, "unchanged value does not notify")

	require.NoError(t, persist.Set(StorageKey, `{"baseUrl":"https://other","apiKey":"k"}`))
	s.Reload()
	assert.Equal(t, 1, calls)
	assert.Equal(t, Settings{BaseURL: "https://other", APIKey: "k"}, s.Read())
}

// =============================================================================
// WATCHER TESTS
// =============================================================================

func TestWatcher_ReloadsOnExternalSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := NewStore(storage.NewFileStore(path), nil)

	w, err := NewWatcher(s, path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	// Another process in the same session saves new settings
	other := NewStore(storage.NewFileStore(path), nil)
	want := Settings{BaseURL: "https://example.com/v1", APIKey: "app-shared"}
	require.NoError(t, other.Save(want))

	assert.Eventually(t, func() bool { return s.Read() == want }, 3*time.Second, 20*time.Millisecond)
}
