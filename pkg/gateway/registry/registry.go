// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaygate/relaygate/pkg/gateway/storage"
	"github.com/relaygate/relaygate/pkg/logger"
)

// Service issues client identifiers for validated registration requests and
// resolves them for the rest of the gateway.
type Service struct {
	storage storage.Storage
	now     func() time.Time
}

// NewService creates a registry service backed by the given storage.
func NewService(stor storage.Storage) *Service {
	return &Service{
		storage: stor,
		now:     time.Now,
	}
}

// Register validates the metadata, issues a fresh client id, and persists the
// registration. The returned response follows RFC 7591 Section 3.2.1.
func (s *Service) Register(ctx context.Context, req *DCRRequest) (*DCRResponse, *DCRError) {
	validated, dcrErr := ValidateDCRRequest(req)
	if dcrErr != nil {
		return nil, dcrErr
	}

	// UUIDv4: 122 bits of randomness, not guessable or enumerable.
	clientID := uuid.NewString()
	issuedAt := s.now()

	registration := &storage.ClientRegistration{
		ClientID:                clientID,
		ClientName:              validated.ClientName,
		RedirectURIs:            validated.RedirectURIs,
		TokenEndpointAuthMethod: validated.TokenEndpointAuthMethod,
		CreatedAt:               issuedAt,
	}

	if err := s.storage.CreateClient(ctx, registration); err != nil {
		logger.Errorw("failed to persist client registration",
			logger.RequestFields(ctx, "error", err)...)
		return nil, &DCRError{
			Error:            "server_error",
			ErrorDescription: "failed to register client",
		}
	}

	logger.Debugw("registered new DCR client",
		logger.RequestFields(ctx,
			"client_id", clientID,
			"client_name", validated.ClientName,
			"redirect_uri_count", len(validated.RedirectURIs),
		)...)

	return &DCRResponse{
		ClientID:                clientID,
		ClientIDIssuedAt:        issuedAt.Unix(),
		RedirectURIs:            validated.RedirectURIs,
		ClientName:              validated.ClientName,
		TokenEndpointAuthMethod: validated.TokenEndpointAuthMethod,
		GrantTypes:              validated.GrantTypes,
		ResponseTypes:           validated.ResponseTypes,
	}, nil
}

// Describe resolves a client id to its registration record.
func (s *Service) Describe(ctx context.Context, clientID string) (*storage.ClientRegistration, error) {
	client, err := s.storage.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve client %s: %w", clientID, err)
	}
	return client, nil
}
