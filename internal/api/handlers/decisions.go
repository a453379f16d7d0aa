// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/download"
	"github.com/autobrr/grabd/internal/releases"
)

// Decider is implemented by decision.Evaluator.
type Decider interface {
	GetDecisions(ctx context.Context, candidates []*releases.RemoteEpisode, criteria releases.SearchCriteria) ([]decision.Decision, error)
}

// Grabber is implemented by download.Service.
type Grabber interface {
	DownloadApproved(ctx context.Context, decisions []decision.Decision) ([]download.Grabbed, error)
}

type DecisionsHandler struct {
	decider Decider
	grabber Grabber
	parser  *releases.Parser
}

// NewDecisionsHandler wires evaluation. grabber may be nil, which disables the
// grab route.
func NewDecisionsHandler(decider Decider, grabber Grabber, parser *releases.Parser) *DecisionsHandler {
	return &DecisionsHandler{decider: decider, grabber: grabber, parser: parser}
}

func (h *DecisionsHandler) Routes(r chi.Router) {
	r.Post("/decisions", h.Evaluate)
	if h.grabber != nil {
		r.Post("/decisions/grab", h.Grab)
	}
	r.Get("/parse", h.Parse)
}

type DecisionRequest struct {
	Candidates []*releases.RemoteEpisode `json:"candidates"`
	Search     *releases.SearchRequest   `json:"search,omitempty"`
}

type DecisionResponse struct {
	Title               string               `json:"title"`
	Accepted            bool                 `json:"accepted"`
	TemporarilyRejected bool                 `json:"temporarilyRejected"`
	Rejections          []decision.Rejection `json:"rejections"`
}

type GrabResponse struct {
	Decisions []DecisionResponse `json:"decisions"`
	Grabbed   []GrabbedResponse  `json:"grabbed"`
}

type GrabbedResponse struct {
	Title            string `json:"title"`
	DownloadClientID string `json:"downloadClientId"`
}

func (h *DecisionsHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	decisions, ok := h.decide(w, r)
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, decisionResponses(decisions))
}

func (h *DecisionsHandler) Grab(w http.ResponseWriter, r *http.Request) {
	decisions, ok := h.decide(w, r)
	if !ok {
		return
	}

	grabbed, err := h.grabber.DownloadApproved(r.Context(), decisions)
	if err != nil {
		log.Error().Err(err).Msg("Failed to grab approved releases")
		RespondError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := GrabResponse{Decisions: decisionResponses(decisions), Grabbed: make([]GrabbedResponse, 0, len(grabbed))}
	for _, g := range grabbed {
		resp.Grabbed = append(resp.Grabbed, GrabbedResponse{Title: g.RemoteEpisode.Release.Title, DownloadClientID: g.DownloadClientID})
	}
	RespondJSON(w, http.StatusOK, resp)
}

func (h *DecisionsHandler) decide(w http.ResponseWriter, r *http.Request) ([]decision.Decision, bool) {
	var req DecisionRequest
	if !DecodeJSON(w, r, &req) {
		return nil, false
	}

	criteria, err := req.Search.Criteria()
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	for _, candidate := range req.Candidates {
		h.fillParsedInfo(candidate)
	}

	decisions, err := h.decider.GetDecisions(r.Context(), req.Candidates, criteria)
	if err != nil {
		if errors.Is(err, decision.ErrMalformedCandidate) {
			RespondError(w, http.StatusBadRequest, err.Error())
			return nil, false
		}
		log.Error().Err(err).Msg("Failed to evaluate candidates")
		RespondError(w, http.StatusInternalServerError, "Failed to evaluate candidates")
		return nil, false
	}
	return decision.PrioritizeDecisions(decisions), true
}

// fillParsedInfo parses the release title when the caller sent no parsed info.
func (h *DecisionsHandler) fillParsedInfo(candidate *releases.RemoteEpisode) {
	if h.parser == nil || candidate == nil || candidate.Release == nil || candidate.ParsedEpisodeInfo != nil {
		return
	}
	info, err := h.parser.ParseEpisodeInfo(candidate.Release.Title)
	if err != nil {
		log.Debug().Err(err).Str("title", candidate.Release.Title).Msg("Unable to parse release title")
		return
	}
	candidate.ParsedEpisodeInfo = info
}

func decisionResponses(decisions []decision.Decision) []DecisionResponse {
	out := make([]DecisionResponse, 0, len(decisions))
	for _, d := range decisions {
		resp := DecisionResponse{
			Accepted:            d.Accepted(),
			TemporarilyRejected: d.TemporarilyRejected(),
			Rejections:          d.Rejections,
		}
		if d.RemoteEpisode != nil && d.RemoteEpisode.Release != nil {
			resp.Title = d.RemoteEpisode.Release.Title
		}
		if resp.Rejections == nil {
			resp.Rejections = []decision.Rejection{}
		}
		out = append(out, resp)
	}
	return out
}

func (h *DecisionsHandler) Parse(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	if title == "" {
		RespondError(w, http.StatusBadRequest, "title is required")
		return
	}
	if h.parser == nil {
		RespondError(w, http.StatusNotImplemented, "title parsing is not configured")
		return
	}

	info, err := h.parser.ParseEpisodeInfo(title)
	if err != nil {
		RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, info)
}
