// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package releases

import "fmt"

type SearchKind string

const (
	SearchKindRSS     SearchKind = ""
	SearchKindEpisode SearchKind = "episode"
	SearchKindSeason  SearchKind = "season"
	SearchKindAnime   SearchKind = "anime"
)

// SearchRequest is the serialisable form of SearchCriteria used by the CLI
// input file and the HTTP API.
type SearchRequest struct {
	Kind                  SearchKind `json:"kind" yaml:"kind"`
	Series                *Series    `json:"series,omitempty" yaml:"series"`
	SeasonNumber          int        `json:"seasonNumber,omitempty" yaml:"seasonNumber"`
	EpisodeNumber         int        `json:"episodeNumber,omitempty" yaml:"episodeNumber"`
	AbsoluteEpisodeNumber int        `json:"absoluteEpisodeNumber,omitempty" yaml:"absoluteEpisodeNumber"`
}

// Criteria returns nil for an RSS sync.
func (r *SearchRequest) Criteria() (SearchCriteria, error) {
	if r == nil || r.Kind == SearchKindRSS {
		return nil, nil
	}
	if r.Series == nil {
		return nil, fmt.Errorf("%s search requires a series", r.Kind)
	}

	switch r.Kind {
	case SearchKindEpisode:
		return &SingleEpisodeSearchCriteria{Series: r.Series, SeasonNumber: r.SeasonNumber, EpisodeNumber: r.EpisodeNumber}, nil
	case SearchKindSeason:
		return &SeasonSearchCriteria{Series: r.Series, SeasonNumber: r.SeasonNumber}, nil
	case SearchKindAnime:
		return &AnimeEpisodeSearchCriteria{Series: r.Series, AbsoluteEpisodeNumber: r.AbsoluteEpisodeNumber}, nil
	default:
		return nil, fmt.Errorf("unknown search kind %q", r.Kind)
	}
}
