// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package specs

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/releases"
)

// TorrentSeeding rejects torrents known to have no seeders.
type TorrentSeeding struct{}

func NewTorrentSeeding() *TorrentSeeding { return &TorrentSeeding{} }

func (s *TorrentSeeding) Name() string                 { return "TorrentSeeding" }
func (s *TorrentSeeding) Priority() decision.Priority  { return decision.PriorityDefault }
func (s *TorrentSeeding) Type() decision.RejectionType { return decision.Temporary }

func (s *TorrentSeeding) IsSatisfiedBy(_ context.Context, candidate *releases.RemoteEpisode, _ releases.SearchCriteria) decision.Decision {
	release := candidate.Release
	if release.Protocol != releases.ProtocolTorrent || release.Seeders == nil {
		return decision.Accept()
	}

	if *release.Seeders < 1 {
		log.Debug().Str("title", release.Title).Int("seeders", *release.Seeders).Msg("Not enough seeders")
		return decision.Reject("Not enough seeders. (%d)", *release.Seeders)
	}
	return decision.Accept()
}
