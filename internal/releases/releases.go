// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package releases models the candidates offered by indexers and the search that produced them.
package releases

import (
	"errors"
	"time"

	"github.com/autobrr/grabd/internal/quality"
)

type Protocol string

const (
	ProtocolUnknown Protocol = ""
	ProtocolUsenet  Protocol = "usenet"
	ProtocolTorrent Protocol = "torrent"
)

type SeriesType string

const (
	SeriesTypeStandard SeriesType = "standard"
	SeriesTypeDaily    SeriesType = "daily"
	SeriesTypeAnime    SeriesType = "anime"
)

var (
	ErrMissingRelease    = errors.New("candidate has no release info")
	ErrMissingParsedInfo = errors.New("candidate has no parsed episode info")
	ErrMissingSeries     = errors.New("candidate is not mapped to a series")
)

// ReleaseInfo is the indexer's view of a release.
type ReleaseInfo struct {
	GUID        string    `json:"guid" yaml:"guid"`
	Title       string    `json:"title" yaml:"title"`
	Size        int64     `json:"size" yaml:"size"`
	DownloadURL string    `json:"downloadUrl" yaml:"downloadUrl"`
	MagnetURL   string    `json:"magnetUrl,omitempty" yaml:"magnetUrl"`
	InfoHash    string    `json:"infoHash,omitempty" yaml:"infoHash"`
	Indexer     string    `json:"indexer" yaml:"indexer"`
	Protocol    Protocol  `json:"protocol" yaml:"protocol"`
	Seeders     *int      `json:"seeders,omitempty" yaml:"seeders"`
	PublishDate time.Time `json:"publishDate" yaml:"publishDate"`
}

// AgeHours is the time since publication. Zero when the publish date is unknown.
func (r *ReleaseInfo) AgeHours(now time.Time) float64 {
	if r.PublishDate.IsZero() {
		return 0
	}
	return now.Sub(r.PublishDate).Hours()
}

type Series struct {
	ID         int        `json:"id" yaml:"id"`
	Title      string     `json:"title" yaml:"title"`
	SeriesType SeriesType `json:"seriesType" yaml:"seriesType"`
	ProfileID  int        `json:"profileId" yaml:"profileId"`
}

type EpisodeFile struct {
	ID      int           `json:"id" yaml:"id"`
	Path    string        `json:"path" yaml:"path"`
	Size    int64         `json:"size" yaml:"size"`
	Quality quality.Model `json:"quality" yaml:"quality"`
}

type Episode struct {
	ID                    int          `json:"id" yaml:"id"`
	SeriesID              int          `json:"seriesId" yaml:"seriesId"`
	SeasonNumber          int          `json:"seasonNumber" yaml:"seasonNumber"`
	EpisodeNumber         int          `json:"episodeNumber" yaml:"episodeNumber"`
	AbsoluteEpisodeNumber int          `json:"absoluteEpisodeNumber,omitempty" yaml:"absoluteEpisodeNumber"`
	EpisodeFile           *EpisodeFile `json:"episodeFile,omitempty" yaml:"episodeFile"`
}

// ParsedEpisodeInfo is what the title parser extracted from the release name.
type ParsedEpisodeInfo struct {
	SeriesTitle            string        `json:"seriesTitle" yaml:"seriesTitle"`
	SeasonNumber           int           `json:"seasonNumber" yaml:"seasonNumber"`
	EpisodeNumbers         []int         `json:"episodeNumbers" yaml:"episodeNumbers"`
	AbsoluteEpisodeNumbers []int         `json:"absoluteEpisodeNumbers,omitempty" yaml:"absoluteEpisodeNumbers"`
	FullSeason             bool          `json:"fullSeason" yaml:"fullSeason"`
	Quality                quality.Model `json:"quality" yaml:"quality"`
}

// RemoteEpisode is one candidate: a release mapped onto the episodes it covers.
type RemoteEpisode struct {
	Release           *ReleaseInfo       `json:"release" yaml:"release"`
	ParsedEpisodeInfo *ParsedEpisodeInfo `json:"parsedEpisodeInfo" yaml:"parsedEpisodeInfo"`
	Series            *Series            `json:"series" yaml:"series"`
	Episodes          []Episode          `json:"episodes" yaml:"episodes"`
}

// Validate checks the fields every specification relies on.
func (r *RemoteEpisode) Validate() error {
	switch {
	case r == nil || r.Release == nil:
		return ErrMissingRelease
	case r.ParsedEpisodeInfo == nil:
		return ErrMissingParsedInfo
	case r.Series == nil:
		return ErrMissingSeries
	}
	return nil
}

func (r *RemoteEpisode) EpisodeIDs() []int {
	ids := make([]int, 0, len(r.Episodes))
	for _, ep := range r.Episodes {
		ids = append(ids, ep.ID)
	}
	return ids
}

func (r *RemoteEpisode) Quality() quality.Model {
	return r.ParsedEpisodeInfo.Quality
}

// SearchCriteria describes a user or scheduled search. A nil criteria means RSS sync.
type SearchCriteria interface {
	SearchSeries() *Series
}

type SingleEpisodeSearchCriteria struct {
	Series        *Series
	SeasonNumber  int
	EpisodeNumber int
}

func (c *SingleEpisodeSearchCriteria) SearchSeries() *Series { return c.Series }

type SeasonSearchCriteria struct {
	Series       *Series
	SeasonNumber int
}

func (c *SeasonSearchCriteria) SearchSeries() *Series { return c.Series }

type AnimeEpisodeSearchCriteria struct {
	Series                *Series
	AbsoluteEpisodeNumber int
}

func (c *AnimeEpisodeSearchCriteria) SearchSeries() *Series { return c.Series }
