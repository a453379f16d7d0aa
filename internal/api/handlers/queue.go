// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/services/tracking"
)

// QueueService is implemented by tracking.Service.
type QueueService interface {
	List() []tracking.TrackedDownload
	Get(trackingID string) (tracking.TrackedDownload, error)
	Ignore(trackingID string) error
	MarkFailed(ctx context.Context, trackingID string) error
	Remove(trackingID string) error
	Refresh(ctx context.Context) error
}

type QueueHandler struct {
	queue QueueService
}

func NewQueueHandler(queue QueueService) *QueueHandler {
	return &QueueHandler{queue: queue}
}

func (h *QueueHandler) Routes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/refresh", h.Refresh)
		r.Route("/{trackingID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Remove)
			r.Post("/ignore", h.Ignore)
			r.Post("/failed", h.MarkFailed)
		})
	})
}

// QueueItemResponse flattens a tracked download for the API.
type QueueItemResponse struct {
	tracking.TrackedDownload
	Size      string `json:"size"`
	Remaining string `json:"remaining"`
	ETA       string `json:"eta,omitempty"`
}

func newQueueItemResponse(td tracking.TrackedDownload) QueueItemResponse {
	resp := QueueItemResponse{
		TrackedDownload: td,
		Size:            humanize.IBytes(uint64(max(td.DownloadItem.TotalSize, 0))),
		Remaining:       humanize.IBytes(uint64(max(td.DownloadItem.RemainingSize, 0))),
	}
	if td.DownloadItem.RemainingTime > 0 {
		resp.ETA = humanize.Time(time.Now().Add(td.DownloadItem.RemainingTime))
	}
	return resp
}

func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	items := h.queue.List()
	out := make([]QueueItemResponse, 0, len(items))
	for _, td := range items {
		out = append(out, newQueueItemResponse(td))
	}
	RespondJSON(w, http.StatusOK, out)
}

func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	td, err := h.queue.Get(chi.URLParam(r, "trackingID"))
	if err != nil {
		respondTrackingError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, newQueueItemResponse(td))
}

func (h *QueueHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Refresh(r.Context()); err != nil {
		log.Error().Err(err).Msg("Queue refresh failed")
		RespondError(w, http.StatusInternalServerError, "Failed to refresh queue")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QueueHandler) Ignore(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Ignore(chi.URLParam(r, "trackingID")); err != nil {
		respondTrackingError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QueueHandler) MarkFailed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "trackingID")
	if err := h.queue.MarkFailed(r.Context(), id); err != nil {
		respondTrackingError(w, err)
		return
	}
	log.Info().Str("trackingID", id).Msg("Download marked as failed via API")
	w.WriteHeader(http.StatusNoContent)
}

func (h *QueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Remove(chi.URLParam(r, "trackingID")); err != nil {
		respondTrackingError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondTrackingError(w http.ResponseWriter, err error) {
	if errors.Is(err, tracking.ErrNotTracked) {
		RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	RespondError(w, http.StatusConflict, err.Error())
}
