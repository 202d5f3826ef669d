// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

// Package consent records and evaluates a user's approval or denial of a
// client's requested scopes, and renders the approval form.
package consent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaygate/relaygate/pkg/gateway/storage"
	"github.com/relaygate/relaygate/pkg/logger"
)

// ErrScopeEscalation is returned when a submitted decision tries to grant
// scopes that were never requested.
var ErrScopeEscalation = errors.New("granted scopes exceed requested scopes")

// Service evaluates and records consent decisions.
type Service struct {
	storage storage.Storage
	ttl     time.Duration
	now     func() time.Time
}

// NewService creates a consent service. Decisions remain valid for ttl.
func NewService(stor storage.Storage, ttl time.Duration) *Service {
	return &Service{
		storage: stor,
		ttl:     ttl,
		now:     time.Now,
	}
}

// HasValidConsent reports whether the principal has an unexpired approval for
// the client covering every requested scope.
func (s *Service) HasValidConsent(ctx context.Context, principal, clientID string, requested []string) bool {
	if principal == "" {
		return false
	}

	decision, err := s.storage.GetConsent(ctx, principal, clientID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warnw("consent lookup failed",
				logger.RequestFields(ctx, "error", err, "client_id", clientID)...)
		}
		return false
	}

	return decision.Covers(requested, s.now())
}

// Record stores a consent decision. Granted scopes must be a subset of the
// requested scopes; anything wider fails with ErrScopeEscalation. Denials are
// recorded with no granted scopes so repeated prompts can be avoided later.
func (s *Service) Record(ctx context.Context, principal, clientID string, requested, granted []string, approved bool) (*storage.ConsentDecision, error) {
	if principal == "" {
		return nil, errors.New("principal is required")
	}

	requestedSet := make(map[string]bool, len(requested))
	for _, scope := range requested {
		requestedSet[scope] = true
	}
	for _, scope := range granted {
		if !requestedSet[scope] {
			return nil, fmt.Errorf("scope %q: %w", scope, ErrScopeEscalation)
		}
	}

	if !approved {
		granted = nil
	}

	now := s.now()
	decision := &storage.ConsentDecision{
		Principal:     principal,
		ClientID:      clientID,
		GrantedScopes: granted,
		Approved:      approved,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}

	if err := s.storage.PutConsent(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to record consent decision: %w", err)
	}

	logger.Infow("recorded consent decision",
		"client_id", clientID,
		"approved", approved,
		"scope_count", len(granted),
	)
	return decision, nil
}

// SplitScopes parses a space-separated OAuth scope string into its parts.
func SplitScopes(scope string) []string {
	return strings.Fields(scope)
}
