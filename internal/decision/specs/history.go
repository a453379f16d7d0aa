// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package specs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/history"
	"github.com/autobrr/grabd/internal/quality"
	"github.com/autobrr/grabd/internal/releases"
)

// RecentGrabWindow is how long a grab blocks equal or worse candidates during RSS sync.
const RecentGrabWindow = 12 * time.Hour

// History rejects candidates for episodes grabbed recently at the same or a better quality.
// Searches skip the check.
type History struct {
	history  HistoryProvider
	profiles ProfileProvider
	now      func() time.Time
}

func NewHistory(h HistoryProvider, profiles ProfileProvider, now func() time.Time) *History {
	if now == nil {
		now = time.Now
	}
	return &History{history: h, profiles: profiles, now: now}
}

func (s *History) Name() string                 { return "History" }
func (s *History) Priority() decision.Priority  { return decision.PriorityDatabase }
func (s *History) Type() decision.RejectionType { return decision.Temporary }

func (s *History) IsSatisfiedBy(ctx context.Context, candidate *releases.RemoteEpisode, criteria releases.SearchCriteria) decision.Decision {
	if criteria != nil {
		return decision.Accept()
	}

	var profile *quality.Profile
	for _, ep := range candidate.Episodes {
		recent, err := s.history.MostRecentForEpisode(ctx, ep.ID)
		if err != nil {
			log.Warn().Err(err).Int("episodeID", ep.ID).Msg("Unable to load history for episode")
			return decision.Reject("Unable to check history for episode %d", ep.ID)
		}
		if recent == nil || recent.EventType != history.EventGrabbed {
			continue
		}
		if s.now().Sub(recent.Date) > RecentGrabWindow {
			continue
		}

		if profile == nil {
			p, rejected, ok := loadProfile(ctx, s.profiles, candidate)
			if !ok {
				return rejected
			}
			profile = p
		}

		if profile.CutoffMet(recent.Quality) {
			return decision.Reject("Recent grab in history already meets cutoff: %s", recent.Quality)
		}
		if !profile.IsUpgrade(recent.Quality, candidate.Quality()) {
			return decision.Reject("Existing grab in history is of equal or higher quality: %s", recent.Quality)
		}
	}
	return decision.Accept()
}
