// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package specs

import (
	"context"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/quality"
	"github.com/autobrr/grabd/internal/releases"
)

type QualityAllowedByProfile struct {
	profiles ProfileProvider
}

func NewQualityAllowedByProfile(profiles ProfileProvider) *QualityAllowedByProfile {
	return &QualityAllowedByProfile{profiles: profiles}
}

func (s *QualityAllowedByProfile) Name() string                 { return "QualityAllowedByProfile" }
func (s *QualityAllowedByProfile) Priority() decision.Priority  { return decision.PriorityProfile }
func (s *QualityAllowedByProfile) Type() decision.RejectionType { return decision.Permanent }

func (s *QualityAllowedByProfile) IsSatisfiedBy(ctx context.Context, candidate *releases.RemoteEpisode, _ releases.SearchCriteria) decision.Decision {
	profile, rejected, ok := loadProfile(ctx, s.profiles, candidate)
	if !ok {
		return rejected
	}

	q := candidate.Quality().Quality
	if !profile.Allows(q) {
		return decision.Reject("Quality %s is not wanted in profile %s", q, profile.Name)
	}
	return decision.Accept()
}

// UpgradeDisk rejects candidates that would not improve the files already on disk.
type UpgradeDisk struct {
	profiles ProfileProvider
}

func NewUpgradeDisk(profiles ProfileProvider) *UpgradeDisk {
	return &UpgradeDisk{profiles: profiles}
}

func (s *UpgradeDisk) Name() string                 { return "UpgradeDisk" }
func (s *UpgradeDisk) Priority() decision.Priority  { return decision.PriorityDisk }
func (s *UpgradeDisk) Type() decision.RejectionType { return decision.Permanent }

func (s *UpgradeDisk) IsSatisfiedBy(ctx context.Context, candidate *releases.RemoteEpisode, _ releases.SearchCriteria) decision.Decision {
	var profile *quality.Profile
	for _, ep := range candidate.Episodes {
		if ep.EpisodeFile == nil {
			continue
		}

		if profile == nil {
			p, rejected, ok := loadProfile(ctx, s.profiles, candidate)
			if !ok {
				return rejected
			}
			profile = p
		}

		existing := ep.EpisodeFile.Quality
		if profile.IsUpgrade(existing, candidate.Quality()) {
			continue
		}
		if profile.CutoffMet(existing) {
			return decision.Reject("Existing file meets cutoff: %s", profile.Cutoff)
		}
		return decision.Reject("Existing file on disk is of equal or higher quality: %s", existing)
	}
	return decision.Accept()
}
