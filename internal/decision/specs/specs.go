// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package specs contains the specifications registered with the decision evaluator.
package specs

import (
	"context"
	"time"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/history"
	"github.com/autobrr/grabd/internal/quality"
	"github.com/autobrr/grabd/internal/releases"
)

// ProfileProvider resolves a series' quality profile.
type ProfileProvider interface {
	Profile(ctx context.Context, profileID int) (*quality.Profile, error)
}

// QueueItem is an in-flight download as seen by the queue check.
type QueueItem struct {
	SeriesID   int
	EpisodeIDs []int
	Quality    quality.Model
	Title      string
}

// QueueProvider lists downloads currently being tracked.
type QueueProvider interface {
	Queued() []QueueItem
}

// HistoryProvider returns the latest history entry for an episode, or nil.
type HistoryProvider interface {
	MostRecentForEpisode(ctx context.Context, episodeID int) (*history.History, error)
}

// BlacklistProvider reports releases that failed before.
type BlacklistProvider interface {
	IsBlacklisted(ctx context.Context, seriesID int, release *releases.ReleaseInfo) (bool, error)
}

// Deps bundles the collaborators needed by Default.
type Deps struct {
	Profiles     ProfileProvider
	Queue        QueueProvider
	History      HistoryProvider
	Blacklist    BlacklistProvider
	MaximumSize  func() int64
	Restrictions func() []Restriction
	Now          func() time.Time
}

// Default returns the standard pipeline. Nil collaborators drop the matching check.
func Default(d Deps) []decision.Specification {
	specs := []decision.Specification{
		NewSingleEpisodeSearchMatch(),
		NewTorrentSeeding(),
	}
	if d.MaximumSize != nil {
		specs = append(specs, NewAcceptableSize(d.MaximumSize))
	}
	if d.Restrictions != nil {
		specs = append(specs, NewReleaseRestrictions(d.Restrictions, d.Now))
	}
	if d.Profiles != nil {
		specs = append(specs, NewQualityAllowedByProfile(d.Profiles), NewUpgradeDisk(d.Profiles))
		if d.Queue != nil {
			specs = append(specs, NewAlreadyInQueue(d.Queue, d.Profiles))
		}
		if d.History != nil {
			specs = append(specs, NewHistory(d.History, d.Profiles, d.Now))
		}
	}
	if d.Blacklist != nil {
		specs = append(specs, NewBlacklist(d.Blacklist))
	}
	return specs
}

func loadProfile(ctx context.Context, profiles ProfileProvider, candidate *releases.RemoteEpisode) (*quality.Profile, decision.Decision, bool) {
	profile, err := profiles.Profile(ctx, candidate.Series.ProfileID)
	if err != nil || profile == nil {
		return nil, decision.RejectTemporarily("Unable to load quality profile %d", candidate.Series.ProfileID), false
	}
	return profile, decision.Accept(), true
}
