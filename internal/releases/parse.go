// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package releases

import (
	"errors"
	"strings"
	"time"

	"github.com/moistari/rls"

	"github.com/autobrr/grabd/internal/quality"
	"github.com/autobrr/grabd/pkg/stringutils"
)

var ErrNotAnEpisode = errors.New("title does not describe an episode or season")

const parseCacheTTL = 5 * time.Minute

// Parser turns release names into ParsedEpisodeInfo. Results are cached since
// the same titles come back from every RSS sync.
type Parser struct {
	releases *stringutils.Normalizer[string, rls.Release]
}

func NewParser() *Parser {
	return &Parser{releases: stringutils.NewNormalizer(parseCacheTTL, rls.ParseString)}
}

// Parse returns the raw rls view of a release name.
func (p *Parser) Parse(title string) rls.Release {
	return p.releases.Normalize(title)
}

// ParseEpisodeInfo extracts series title, season, episodes and quality.
func (p *Parser) ParseEpisodeInfo(title string) (*ParsedEpisodeInfo, error) {
	r := p.Parse(title)
	if r.Series <= 0 && r.Episode <= 0 {
		return nil, ErrNotAnEpisode
	}

	info := &ParsedEpisodeInfo{
		SeriesTitle:  r.Title,
		SeasonNumber: r.Series,
		Quality:      QualityFromRelease(r, title),
	}
	if r.Episode > 0 {
		info.EpisodeNumbers = []int{r.Episode}
	} else {
		info.FullSeason = true
	}
	return info, nil
}

// QualityFromRelease maps source and resolution onto a quality tier. PROPER
// and REPACK tags bump the revision.
func QualityFromRelease(r rls.Release, title string) quality.Model {
	source := strings.ToLower(r.Source)
	resolution := strings.ToLower(r.Resolution)
	hd := resolution == "720p" || resolution == "1080p" || resolution == "1080i" || resolution == "2160p"

	q := quality.Unknown
	switch {
	case strings.Contains(source, "blu") || strings.HasPrefix(source, "bd") || strings.Contains(source, "bdrip"):
		if resolution == "1080p" || resolution == "2160p" {
			q = quality.Bluray1080p
		} else {
			q = quality.Bluray720p
		}
	case strings.Contains(source, "web"):
		q = quality.WEBDL
	case strings.Contains(source, "dvd"):
		q = quality.DVD
	case strings.Contains(source, "hdtv"):
		if hd {
			q = quality.HDTV
		} else {
			q = quality.SDTV
		}
	case strings.Contains(source, "tv") || strings.Contains(source, "pdtv"):
		q = quality.SDTV
	case hd:
		q = quality.HDTV
	}

	return quality.NewModel(q, isProper(r, title))
}

func isProper(r rls.Release, title string) bool {
	for _, other := range r.Other {
		switch strings.ToUpper(other) {
		case "PROPER", "REPACK", "RERIP":
			return true
		}
	}
	for _, token := range strings.Fields(stringutils.NormalizeTitle(title)) {
		if token == "proper" || token == "repack" {
			return true
		}
	}
	return false
}
