// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package specs

import (
	"context"
	"slices"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/releases"
)

// SingleEpisodeSearchMatch keeps single-episode searches from grabbing season packs
// or other episodes.
type SingleEpisodeSearchMatch struct{}

func NewSingleEpisodeSearchMatch() *SingleEpisodeSearchMatch { return &SingleEpisodeSearchMatch{} }

func (s *SingleEpisodeSearchMatch) Name() string                 { return "SingleEpisodeSearchMatch" }
func (s *SingleEpisodeSearchMatch) Priority() decision.Priority  { return decision.PriorityParsing }
func (s *SingleEpisodeSearchMatch) Type() decision.RejectionType { return decision.Permanent }

func (s *SingleEpisodeSearchMatch) IsSatisfiedBy(_ context.Context, candidate *releases.RemoteEpisode, criteria releases.SearchCriteria) decision.Decision {
	parsed := candidate.ParsedEpisodeInfo

	switch c := criteria.(type) {
	case *releases.SingleEpisodeSearchCriteria:
		if c.SeasonNumber != parsed.SeasonNumber {
			return decision.Reject("Wrong season")
		}
		if len(parsed.EpisodeNumbers) == 0 {
			return decision.Reject("Full season pack")
		}
		if !slices.Contains(parsed.EpisodeNumbers, c.EpisodeNumber) {
			return decision.Reject("Wrong episode")
		}
	case *releases.AnimeEpisodeSearchCriteria:
		if parsed.FullSeason {
			return decision.Reject("Full season pack")
		}
	}

	return decision.Accept()
}
