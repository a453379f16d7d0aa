// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/grabd/internal/database"
	"github.com/autobrr/grabd/internal/history"
	"github.com/autobrr/grabd/internal/quality"
)

func newStore(t *testing.T) *history.Store {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "grabd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return history.NewStore(db)
}

func TestStoreAddAndQuery(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	grab := &history.History{
		EpisodeID:   11,
		SeriesID:    1,
		SourceTitle: "Show.S01E01.720p.HDTV-GRP",
		Quality:     quality.NewModel(quality.HDTV, true),
		Date:        base,
		EventType:   history.EventGrabbed,
		DownloadID:  "abc",
		Data: map[string]string{
			history.DataKeyDownloadClient:   "sab",
			history.DataKeyDownloadClientID: "abc",
			history.DataKeyAgeHours:         "2.5",
		},
	}
	require.NoError(t, store.Add(ctx, grab))
	assert.NotZero(t, grab.ID)

	failed := &history.History{
		EpisodeID:   11,
		SeriesID:    1,
		SourceTitle: grab.SourceTitle,
		Quality:     grab.Quality,
		Date:        base.Add(time.Hour),
		EventType:   history.EventDownloadFailed,
		Data:        history.CopyData(grab.Data),
	}
	require.NoError(t, store.Add(ctx, failed))

	grabbed, err := store.Grabbed(ctx)
	require.NoError(t, err)
	require.Len(t, grabbed, 1)
	assert.Equal(t, "abc", grabbed[0].DownloadClientID())
	assert.Equal(t, quality.NewModel(quality.HDTV, true), grabbed[0].Quality)
	assert.True(t, base.Equal(grabbed[0].Date))

	age, ok := grabbed[0].AgeHours()
	require.True(t, ok)
	assert.InDelta(t, 2.5, age, 0.0001)

	failedList, err := store.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failedList, 1)

	recent, err := store.MostRecentForEpisode(ctx, 11)
	require.NoError(t, err)
	require.NotNil(t, recent)
	assert.Equal(t, history.EventDownloadFailed, recent.EventType)

	none, err := store.MostRecentForEpisode(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStoreUpdateData(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	h := &history.History{
		EpisodeID:   1,
		SeriesID:    1,
		SourceTitle: "x",
		EventType:   history.EventGrabbed,
		Data:        map[string]string{history.DataKeyDownloadClientID: "old"},
	}
	require.NoError(t, store.Add(ctx, h))

	data := history.CopyData(h.Data)
	data[history.DataKeyDownloadClientID] = "new"
	require.NoError(t, store.UpdateData(ctx, h.ID, data))

	grabbed, err := store.Grabbed(ctx)
	require.NoError(t, err)
	require.Len(t, grabbed, 1)
	assert.Equal(t, "new", grabbed[0].DownloadClientID())

	assert.ErrorIs(t, store.UpdateData(ctx, 12345, data), history.ErrNotFound)
}

func TestHelpers(t *testing.T) {
	t.Parallel()

	records := []*history.History{
		{EpisodeID: 1, Data: map[string]string{history.DataKeyDownloadClientID: "ABC"}},
		{EpisodeID: 2, Data: map[string]string{history.DataKeyDownloadClientID: "abc"}},
		{EpisodeID: 2, Data: map[string]string{history.DataKeyDownloadClientID: "abc"}},
		{EpisodeID: 3, Data: map[string]string{history.DataKeyDownloadClientID: "other"}},
		{EpisodeID: 4},
	}

	matched := history.ByDownloadClientID(records, "abc")
	assert.Len(t, matched, 3)
	assert.Equal(t, []int{1, 2}, history.EpisodeIDs(matched))
	assert.Nil(t, history.ByDownloadClientID(records, ""))

	_, ok := records[4].AgeHours()
	assert.False(t, ok)

	bad := &history.History{Data: map[string]string{history.DataKeyAgeHours: "soon"}}
	_, ok = bad.AgeHours()
	assert.False(t, ok)

	assert.Equal(t, "1.25", history.FormatAgeHours(1.25))
}
