// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/flowchat/internal/storage"
)

// StorageKey is the durable storage key holding the client id.
const StorageKey = "flowchat_user_id"

// Provider returns one client id for the lifetime of the process and, when
// storage works, across processes.
type Provider struct {
	store  storage.Store
	logger *slog.Logger
	newID  func() (string, error)

	mu sync.Mutex
	id string
}

// NewProvider creates a Provider over a durable store.
// A nil logger uses slog.Default().
func NewProvider(store storage.Store, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		store:  store,
		logger: logger,
		newID:  randomUUID,
	}
}

// ClientID returns the stored client id, creating and persisting one on
// first use.
//
// It never fails: when storage cannot be read or written the id is kept in
// memory for the rest of the process.
func (p *Provider) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id
	}

	if p.store != nil {
		v, ok, err := p.store.Get(StorageKey)
		switch {
		case err != nil:
			p.logger.Warn("client id unreadable, generating a new one", "error", err)
		case ok && v != "":
			p.id = v
			return p.id
		}
	}

	id, err := p.newID()
	if err != nil {
		id = fallbackID()
		p.logger.Warn("uuid generation failed, using fallback client id", "error", err)
	}
	p.id = id

	if p.store != nil {
		if err := p.store.Set(StorageKey, id); err != nil {
			p.logger.Warn("client id not persisted, keeping it in memory", "error", err)
		}
	}
	p.logger.Info("client id created", "client_id", id)
	return p.id
}

func randomUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// fallbackID builds "cli-<unix millis>-<random base16>".
func fallbackID() string {
	return fmt.Sprintf("cli-%d-%x", time.Now().UnixMilli(), rand.Uint64())
}
