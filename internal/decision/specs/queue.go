// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package specs

import (
	"context"
	"slices"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/quality"
	"github.com/autobrr/grabd/internal/releases"
)

// AlreadyInQueue rejects candidates for episodes already downloading at the same or a better quality.
type AlreadyInQueue struct {
	queue    QueueProvider
	profiles ProfileProvider
}

func NewAlreadyInQueue(queue QueueProvider, profiles ProfileProvider) *AlreadyInQueue {
	return &AlreadyInQueue{queue: queue, profiles: profiles}
}

func (s *AlreadyInQueue) Name() string                 { return "AlreadyInQueue" }
func (s *AlreadyInQueue) Priority() decision.Priority  { return decision.PriorityDefault }
func (s *AlreadyInQueue) Type() decision.RejectionType { return decision.Temporary }

func (s *AlreadyInQueue) IsSatisfiedBy(ctx context.Context, candidate *releases.RemoteEpisode, _ releases.SearchCriteria) decision.Decision {
	episodeIDs := candidate.EpisodeIDs()

	var profile *quality.Profile
	for _, item := range s.queue.Queued() {
		if item.SeriesID != candidate.Series.ID || !overlaps(item.EpisodeIDs, episodeIDs) {
			continue
		}

		if profile == nil {
			p, rejected, ok := loadProfile(ctx, s.profiles, candidate)
			if !ok {
				return rejected
			}
			profile = p
		}

		if profile.IsUpgrade(item.Quality, candidate.Quality()) {
			continue
		}
		if profile.CutoffMet(item.Quality) {
			return decision.Reject("Release in queue already meets cutoff: %s", item.Quality)
		}
		return decision.Reject("Release in queue is of equal or higher quality: %s", item.Quality)
	}
	return decision.Accept()
}

func overlaps(a, b []int) bool {
	for _, id := range a {
		if slices.Contains(b, id) {
			return true
		}
	}
	return false
}
