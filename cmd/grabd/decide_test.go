// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/quality"
	"github.com/autobrr/grabd/internal/releases"
)

const sampleInput = `
search:
  kind: episode
  series:
    id: 7
    title: Show
    profileId: 1
  seasonNumber: 1
  episodeNumber: 1
candidates:
  - release:
      title: Show.S01E01.720p.HDTV-GRP
      size: 1073741824
      indexer: nzbgeek
      protocol: usenet
    series:
      id: 7
      title: Show
      profileId: 1
    episodes:
      - id: 11
        seriesId: 7
        seasonNumber: 1
        episodeNumber: 1
`

func TestReadDecideInput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "candidates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleInput), 0o600))

	fromFile, err := readDecideInput(path, nil)
	require.NoError(t, err)

	fromStdin, err := readDecideInput("-", strings.NewReader(sampleInput))
	require.NoError(t, err)

	for _, input := range []*decideInput{fromFile, fromStdin} {
		require.Len(t, input.Candidates, 1)
		c := input.Candidates[0]
		assert.Equal(t, "Show.S01E01.720p.HDTV-GRP", c.Release.Title)
		assert.Equal(t, releases.ProtocolUsenet, c.Release.Protocol)
		assert.Equal(t, int64(1073741824), c.Release.Size)
		assert.Equal(t, 7, c.Series.ID)
		assert.Equal(t, []int{11}, c.EpisodeIDs())
		assert.Nil(t, c.ParsedEpisodeInfo)

		criteria, err := input.Search.Criteria()
		require.NoError(t, err)
		single, ok := criteria.(*releases.SingleEpisodeSearchCriteria)
		require.True(t, ok)
		assert.Equal(t, 1, single.EpisodeNumber)
	}
}

func TestReadDecideInputErrors(t *testing.T) {
	t.Parallel()

	_, err := readDecideInput("-", strings.NewReader("candidates: []"))
	require.Error(t, err)

	_, err = readDecideInput("-", strings.NewReader("candidates: ["))
	require.Error(t, err)

	_, err = readDecideInput(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func sampleDecisions() []decision.Decision {
	candidate := func(title string) *releases.RemoteEpisode {
		return &releases.RemoteEpisode{
			Release: &releases.ReleaseInfo{Title: title, Size: 1 << 30},
			ParsedEpisodeInfo: &releases.ParsedEpisodeInfo{
				SeasonNumber:   1,
				EpisodeNumbers: []int{1},
				Quality:        quality.NewModel(quality.HDTV, false),
			},
		}
	}

	return []decision.Decision{
		{RemoteEpisode: candidate("Show.S01E01.720p.HDTV-GRP")},
		{RemoteEpisode: candidate("Show.S01E01.720p.HDTV-OTHER"), Rejections: []decision.Rejection{{Reason: "Release in queue already meets cutoff", Type: decision.Temporary}}},
		{RemoteEpisode: candidate("Show.S01E01.720p.HDTV-BAD"), Rejections: []decision.Rejection{{Reason: "Release is blacklisted", Type: decision.Permanent}}},
	}
}

func TestDecisionRow(t *testing.T) {
	t.Parallel()

	decisions := sampleDecisions()

	row := decisionRow(1, decisions[0])
	assert.Equal(t, []string{"1", "Show.S01E01.720p.HDTV-GRP", quality.NewModel(quality.HDTV, false).String(), "1.0 GiB", "accepted", ""}, row)

	assert.Equal(t, "pending", decisionRow(2, decisions[1])[4])
	assert.Equal(t, "rejected", decisionRow(3, decisions[2])[4])
	assert.Equal(t, "Release is blacklisted", decisionRow(3, decisions[2])[5])

	empty := decisionRow(4, decision.Decision{})
	assert.Equal(t, "", empty[1])
	assert.Equal(t, "accepted", empty[4])
}

func TestWriteDecisions(t *testing.T) {
	t.Parallel()

	decisions := sampleDecisions()

	t.Run("table", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, writeDecisions(&buf, decisions, "table"))
		out := buf.String()
		assert.Contains(t, out, "Title")
		assert.Contains(t, out, "Show.S01E01.720p.HDTV-GRP")
		assert.Contains(t, out, "rejected")
	})

	t.Run("csv", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, writeDecisions(&buf, decisions, "csv"))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 4)
		assert.Contains(t, lines[1], "Show.S01E01.720p.HDTV-GRP")
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, writeDecisions(&buf, decisions, "json"))
		var decoded []map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Len(t, decoded, 3)
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		require.Error(t, writeDecisions(&bytes.Buffer{}, decisions, "xml"))
	})
}

func TestRenderTableEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, renderTable(nil, nil, nil))
	assert.Empty(t, renderCSV(nil, nil))
}

func TestResolveConfigFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, "config.toml"), resolveConfigFile(dir))
	assert.Equal(t, "/etc/grabd/custom.toml", resolveConfigFile("/etc/grabd/custom.toml"))
}
