// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package specs

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/releases"
)

type Blacklist struct {
	blacklist BlacklistProvider
}

func NewBlacklist(b BlacklistProvider) *Blacklist {
	return &Blacklist{blacklist: b}
}

func (s *Blacklist) Name() string                 { return "Blacklist" }
func (s *Blacklist) Priority() decision.Priority  { return decision.PriorityDatabase }
func (s *Blacklist) Type() decision.RejectionType { return decision.Permanent }

func (s *Blacklist) IsSatisfiedBy(ctx context.Context, candidate *releases.RemoteEpisode, _ releases.SearchCriteria) decision.Decision {
	blacklisted, err := s.blacklist.IsBlacklisted(ctx, candidate.Series.ID, candidate.Release)
	if err != nil {
		log.Warn().Err(err).Str("title", candidate.Release.Title).Msg("Unable to check blacklist")
		return decision.RejectTemporarily("Unable to check blacklist")
	}
	if blacklisted {
		return decision.Reject("Release is blacklisted")
	}
	return decision.Accept()
}
