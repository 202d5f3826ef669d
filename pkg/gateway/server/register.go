// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/relaygate/relaygate/pkg/gateway/registry"
	"github.com/relaygate/relaygate/pkg/logger"
)

// maxRegistrationBodySize bounds the DCR request body.
const maxRegistrationBodySize = 64 * 1024

// RegisterHandler handles POST /register requests.
// It implements RFC 7591 Dynamic Client Registration for public clients.
func (h *Handler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	setCORSHeaders(w, r)

	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != "application/json" {
			writeDCRError(w, http.StatusBadRequest, &registry.DCRError{
				Error:            registry.DCRErrorInvalidClientMetadata,
				ErrorDescription: "request body must be application/json",
			})
			return
		}
	}

	var dcrReq registry.DCRRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRegistrationBodySize)
	if err := json.NewDecoder(r.Body).Decode(&dcrReq); err != nil {
		writeDCRError(w, http.StatusBadRequest, &registry.DCRError{
			Error:            registry.DCRErrorInvalidClientMetadata,
			ErrorDescription: "invalid JSON request body",
		})
		return
	}

	response, dcrErr := h.registry.Register(ctx, &dcrReq)
	if dcrErr != nil {
		status := http.StatusBadRequest
		if dcrErr.Error == "server_error" {
			status = http.StatusInternalServerError
		}
		writeDCRError(w, status, dcrErr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Errorw("failed to encode DCR response",
			logger.RequestFields(ctx, "error", err)...)
	}
}

// writeDCRError writes a DCR error response per RFC 7591 Section 3.2.2.
func writeDCRError(w http.ResponseWriter, statusCode int, dcrErr *registry.DCRError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(dcrErr)
}
