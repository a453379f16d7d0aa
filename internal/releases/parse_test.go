// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package releases

import (
	"testing"

	"github.com/moistari/rls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/grabd/internal/quality"
)

func TestParseEpisodeInfo(t *testing.T) {
	t.Parallel()

	p := NewParser()

	info, err := p.ParseEpisodeInfo("Show.Name.S02E05.720p.HDTV.x264-GRP")
	require.NoError(t, err)
	assert.Equal(t, 2, info.SeasonNumber)
	assert.Equal(t, []int{5}, info.EpisodeNumbers)
	assert.False(t, info.FullSeason)
	assert.Equal(t, quality.HDTV, info.Quality.Quality)

	_, err = p.ParseEpisodeInfo("Some.Movie.2019.1080p.BluRay.x264-GRP")
	require.ErrorIs(t, err, ErrNotAnEpisode)
}

func TestQualityFromRelease(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		release rls.Release
		want    quality.Quality
	}{
		{name: "hdtv 720p", release: rls.Release{Source: "HDTV", Resolution: "720p"}, want: quality.HDTV},
		{name: "hdtv sd", release: rls.Release{Source: "HDTV"}, want: quality.SDTV},
		{name: "pdtv", release: rls.Release{Source: "PDTV"}, want: quality.SDTV},
		{name: "web-dl", release: rls.Release{Source: "WEB-DL", Resolution: "1080p"}, want: quality.WEBDL},
		{name: "dvdrip", release: rls.Release{Source: "DVDRiP"}, want: quality.DVD},
		{name: "bluray 720p", release: rls.Release{Source: "BluRay", Resolution: "720p"}, want: quality.Bluray720p},
		{name: "bluray 1080p", release: rls.Release{Source: "BluRay", Resolution: "1080p"}, want: quality.Bluray1080p},
		{name: "resolution only", release: rls.Release{Resolution: "1080p"}, want: quality.HDTV},
		{name: "nothing", release: rls.Release{}, want: quality.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := QualityFromRelease(tt.release, "")
			assert.Equal(t, tt.want, got.Quality)
			assert.Equal(t, 1, got.Revision.Version)
		})
	}
}

func TestQualityFromReleaseProper(t *testing.T) {
	t.Parallel()

	got := QualityFromRelease(rls.Release{Source: "HDTV", Other: []string{"REPACK"}}, "")
	assert.Equal(t, 2, got.Revision.Version)

	got = QualityFromRelease(rls.Release{Source: "HDTV"}, "Show.S01E01.PROPER.HDTV-GRP")
	assert.Equal(t, 2, got.Revision.Version)
}

func TestParserCaches(t *testing.T) {
	t.Parallel()

	p := NewParser()
	first := p.Parse("Show.S01E01.720p.HDTV-GRP")
	second := p.Parse("Show.S01E01.720p.HDTV-GRP")
	assert.Equal(t, first, second)
}

func TestSearchRequestCriteria(t *testing.T) {
	t.Parallel()

	series := &Series{ID: 1, Title: "Show"}

	criteria, err := (*SearchRequest)(nil).Criteria()
	require.NoError(t, err)
	assert.Nil(t, criteria)

	criteria, err = (&SearchRequest{Kind: SearchKindEpisode, Series: series, SeasonNumber: 1, EpisodeNumber: 3}).Criteria()
	require.NoError(t, err)
	episode, ok := criteria.(*SingleEpisodeSearchCriteria)
	require.True(t, ok)
	assert.Equal(t, 3, episode.EpisodeNumber)
	assert.Equal(t, series, criteria.SearchSeries())

	criteria, err = (&SearchRequest{Kind: SearchKindSeason, Series: series, SeasonNumber: 2}).Criteria()
	require.NoError(t, err)
	assert.IsType(t, &SeasonSearchCriteria{}, criteria)

	_, err = (&SearchRequest{Kind: SearchKindSeason}).Criteria()
	require.Error(t, err)

	_, err = (&SearchRequest{Kind: "daily", Series: series}).Criteria()
	require.Error(t, err)
}
