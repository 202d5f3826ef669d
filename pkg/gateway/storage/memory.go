// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Compile-time interface compliance check.
var _ Storage = (*MemoryStorage)(nil)

// MemoryStorage implements the Storage interface with in-memory maps.
// This implementation is thread-safe and suitable for single-instance
// deployments, development, and testing. Multi-instance deployments need the
// Redis backend so all replicas see the same codes and consents.
type MemoryStorage struct {
	mu sync.RWMutex

	// clients maps client_id -> registration. Registrations never expire.
	clients map[string]*ClientRegistration

	// pendingCodes maps client-facing code -> mapping to upstream material.
	// Consumption deletes the entry under the write lock, which is what makes
	// single-use atomic for this backend.
	pendingCodes map[string]*PendingCode

	// consents maps principal + "\x00" + client_id -> decision.
	consents map[string]*ConsentDecision

	// now is the clock used for expiry checks on reads.
	now func() time.Time
}

// MemoryOption configures a MemoryStorage.
type MemoryOption func(*MemoryStorage)

// WithClock overrides the clock. Tests only.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStorage) {
		s.now = now
	}
}

// NewMemoryStorage constructs an empty in-memory store.
func NewMemoryStorage(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		clients:      make(map[string]*ClientRegistration),
		pendingCodes: make(map[string]*PendingCode),
		consents:     make(map[string]*ConsentDecision),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateClient persists a new client registration.
func (s *MemoryStorage) CreateClient(_ context.Context, client *ClientRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client.ClientID]; ok {
		return fmt.Errorf("client %s: %w", client.ClientID, ErrAlreadyExists)
	}

	cp := *client
	cp.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	s.clients[client.ClientID] = &cp
	return nil
}

// GetClient looks up a client registration by id.
func (s *MemoryStorage) GetClient(_ context.Context, clientID string) (*ClientRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", clientID, ErrNotFound)
	}

	cp := *client
	cp.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	return &cp, nil
}

// PutPendingCode stores a freshly minted authorization code mapping.
func (s *MemoryStorage) PutPendingCode(_ context.Context, pending *PendingCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *pending
	s.pendingCodes[pending.Code] = &cp
	return nil
}

// ConsumePendingCode atomically retrieves and invalidates a pending code.
func (s *MemoryStorage) ConsumePendingCode(_ context.Context, code string, now time.Time) (*PendingCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pendingCodes[code]
	if !ok {
		return nil, fmt.Errorf("authorization code: %w", ErrNotFound)
	}

	// Delete unconditionally: an expired code is gone either way.
	delete(s.pendingCodes, code)

	if now.After(pending.ExpiresAt) {
		return nil, fmt.Errorf("authorization code: %w", ErrNotFound)
	}
	return pending, nil
}

// PutConsent records a consent decision.
func (s *MemoryStorage) PutConsent(_ context.Context, decision *ConsentDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *decision
	cp.GrantedScopes = append([]string(nil), decision.GrantedScopes...)
	s.consents[consentKey(decision.Principal, decision.ClientID)] = &cp
	return nil
}

// GetConsent retrieves the consent decision for a (principal, client) pair.
func (s *MemoryStorage) GetConsent(_ context.Context, principal, clientID string) (*ConsentDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	decision, ok := s.consents[consentKey(principal, clientID)]
	if !ok || s.now().After(decision.ExpiresAt) {
		return nil, fmt.Errorf("consent decision: %w", ErrNotFound)
	}

	cp := *decision
	cp.GrantedScopes = append([]string(nil), decision.GrantedScopes...)
	return &cp, nil
}

// Cleanup removes expired pending codes and consent decisions.
func (s *MemoryStorage) Cleanup(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for code, pending := range s.pendingCodes {
		if now.After(pending.ExpiresAt) {
			delete(s.pendingCodes, code)
			deleted++
		}
	}
	for key, decision := range s.consents {
		if now.After(decision.ExpiresAt) {
			delete(s.consents, key)
			deleted++
		}
	}
	return deleted, nil
}

func consentKey(principal, clientID string) string {
	return principal + "\x00" + clientID
}
