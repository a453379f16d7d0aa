// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/services/blacklist"
)

// BlacklistStore is implemented by blacklist.Store.
type BlacklistStore interface {
	List(ctx context.Context) ([]*blacklist.Entry, error)
	Delete(ctx context.Context, id int64) error
}

type BlacklistHandler struct {
	store BlacklistStore
}

func NewBlacklistHandler(store BlacklistStore) *BlacklistHandler {
	return &BlacklistHandler{store: store}
}

func (h *BlacklistHandler) Routes(r chi.Router) {
	r.Route("/blacklist", func(r chi.Router) {
		r.Get("/", h.List)
		r.Delete("/{id}", h.Delete)
	})
}

func (h *BlacklistHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list blacklist")
		RespondError(w, http.StatusInternalServerError, "Failed to list blacklist")
		return
	}
	if entries == nil {
		entries = []*blacklist.Entry{}
	}
	RespondJSON(w, http.StatusOK, entries)
}

func (h *BlacklistHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseInt64Param(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, blacklist.ErrNotFound) {
			RespondError(w, http.StatusNotFound, "Blacklist entry not found")
			return
		}
		log.Error().Err(err).Int64("id", id).Msg("Failed to delete blacklist entry")
		RespondError(w, http.StatusInternalServerError, "Failed to delete blacklist entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
