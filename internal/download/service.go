// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package download

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/history"
	"github.com/autobrr/grabd/internal/releases"
)

// DefaultClientTimeout bounds every backend call made by the engine.
const DefaultClientTimeout = 30 * time.Second

// HistoryWriter is the part of the history service the grab path needs.
type HistoryWriter interface {
	Add(ctx context.Context, h *history.History) error
}

// GrabObserver is told about every submission attempt.
type GrabObserver func(client string, protocol releases.Protocol, err error)

type Service struct {
	registry *Registry
	cache    *ItemCache
	history  HistoryWriter
	timeout  time.Duration
	now      func() time.Time
	observer GrabObserver
}

type ServiceOption func(*Service)

func WithTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithGrabObserver(fn GrabObserver) ServiceOption {
	return func(s *Service) { s.observer = fn }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(registry *Registry, cache *ItemCache, hist HistoryWriter, opts ...ServiceOption) *Service {
	s := &Service{
		registry: registry,
		cache:    cache,
		history:  hist,
		timeout:  DefaultClientTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Grab submits the candidate to the first available client for its protocol and
// records a grabbed history entry per episode. Failures come back as
// *ReleaseDownloadError or *TransportError.
func (s *Service) Grab(ctx context.Context, candidate *releases.RemoteEpisode) (string, error) {
	if err := candidate.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", decision.ErrMalformedCandidate, err)
	}

	protocol := candidate.Release.Protocol
	clients := s.registry.ForProtocol(protocol)
	if len(clients) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoClientAvailable, protocol)
	}
	client := clients[0]

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	id, err := client.Download(callCtx, candidate)
	cancel()

	if err != nil {
		err = s.classify(client, candidate, err)
		s.observe(client.Name(), protocol, err)
		return "", err
	}
	s.registry.ResetFailureTracking(client.Name())
	s.observe(client.Name(), protocol, nil)

	log.Info().
		Str("title", candidate.Release.Title).
		Str("downloadClient", client.Name()).
		Str("downloadClientId", id).
		Msg("Release grabbed")

	if err := s.recordGrab(ctx, client, candidate, id); err != nil {
		return id, err
	}

	if s.cache != nil {
		s.cache.Invalidate(client.Name())
	}
	return id, nil
}

// classify maps a backend error onto the error kinds callers inspect.
func (s *Service) classify(client Client, candidate *releases.RemoteEpisode, err error) error {
	var release *ReleaseDownloadError
	if errors.As(err, &release) {
		return err
	}

	var transport *TransportError
	if errors.As(err, &transport) || errors.Is(err, context.DeadlineExceeded) {
		s.registry.TrackFailure(client.Name(), err)
		return WrapTransport(client.Name(), "download", err)
	}

	return &ReleaseDownloadError{Client: client.Name(), Title: candidate.Release.Title, Err: err}
}

func (s *Service) recordGrab(ctx context.Context, client Client, candidate *releases.RemoteEpisode, id string) error {
	release := candidate.Release
	now := s.now()

	data := map[string]string{
		history.DataKeyDownloadClient:   client.Name(),
		history.DataKeyDownloadClientID: id,
		history.DataKeyAgeHours:         history.FormatAgeHours(release.AgeHours(now)),
		history.DataKeyIndexer:          release.Indexer,
		history.DataKeySize:             strconv.FormatInt(release.Size, 10),
	}
	if release.GUID != "" {
		data[history.DataKeyGUID] = release.GUID
	}
	if !release.PublishDate.IsZero() {
		data[history.DataKeyPublishedDate] = release.PublishDate.UTC().Format(time.RFC3339)
	}

	for _, ep := range candidate.Episodes {
		h := &history.History{
			EpisodeID:   ep.ID,
			SeriesID:    candidate.Series.ID,
			SourceTitle: release.Title,
			Quality:     candidate.Quality(),
			Date:        now,
			EventType:   history.EventGrabbed,
			DownloadID:  id,
			Data:        history.CopyData(data),
		}
		if err := s.history.Add(ctx, h); err != nil {
			return fmt.Errorf("record grab for episode %d: %w", ep.ID, err)
		}
	}
	return nil
}

func (s *Service) observe(client string, protocol releases.Protocol, err error) {
	if s.observer != nil {
		s.observer(client, protocol, err)
	}
}

// Grabbed is one successful submission of DownloadApproved.
type Grabbed struct {
	RemoteEpisode    *releases.RemoteEpisode
	DownloadClientID string
}

// DownloadApproved grabs accepted decisions in priority order. Episodes covered
// by an earlier grab of the batch are skipped. A failed submission moves on to
// the next candidate.
func (s *Service) DownloadApproved(ctx context.Context, decisions []decision.Decision) ([]Grabbed, error) {
	var grabbed []Grabbed
	seen := make(map[int]struct{})

	for _, d := range decision.PrioritizeDecisions(decisions) {
		if !d.Accepted() || d.RemoteEpisode == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return grabbed, err
		}

		candidate := d.RemoteEpisode
		if coveredBy(seen, candidate.EpisodeIDs()) {
			continue
		}

		id, err := s.Grab(ctx, candidate)
		if err != nil {
			var release *ReleaseDownloadError
			switch {
			case errors.As(err, &release), IsTransport(err), errors.Is(err, ErrNoClientAvailable):
				log.Warn().Err(err).Str("title", candidate.Release.Title).Msg("Couldn't grab release, trying next candidate")
				continue
			default:
				return grabbed, err
			}
		}

		for _, epID := range candidate.EpisodeIDs() {
			seen[epID] = struct{}{}
		}
		grabbed = append(grabbed, Grabbed{RemoteEpisode: candidate, DownloadClientID: id})
	}
	return grabbed, nil
}

func coveredBy(seen map[int]struct{}, ids []int) bool {
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
	}
	return false
}
