// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package blacklist

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/grabd/internal/database"
	"github.com/autobrr/grabd/internal/history"
	"github.com/autobrr/grabd/internal/quality"
	"github.com/autobrr/grabd/internal/releases"
	"github.com/autobrr/grabd/internal/services/faileddownload"
)

func newDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "grabd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func failedEvent() faileddownload.DownloadFailedEvent {
	return faileddownload.DownloadFailedEvent{
		SeriesID:         7,
		EpisodeIDs:       []int{11, 12},
		Quality:          quality.NewModel(quality.HDTV, false),
		SourceTitle:      "Show.S01E01E02.720p.HDTV-GRP",
		DownloadClient:   "sab",
		DownloadClientID: "nzo_1",
		Message:          "Repair failed",
		Data: map[string]string{
			history.DataKeyDownloadClient:   "sab",
			history.DataKeyDownloadClientID: "nzo_1",
			history.DataKeyIndexer:          "nzbgeek",
			history.DataKeyAgeHours:         "12",
		},
	}
}

func TestHandleWritesHistoryAndBlacklist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newDB(t)
	svc := NewService(db, 0)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.Handle(ctx, failedEvent()))

	failed, err := history.NewStore(db).Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	for _, h := range failed {
		assert.Equal(t, 7, h.SeriesID)
		assert.Equal(t, "nzo_1", h.DownloadID)
		assert.Equal(t, "Repair failed", h.Data[history.DataKeyMessage])
		assert.Equal(t, "nzbgeek", h.Data[history.DataKeyIndexer])
		assert.True(t, now.Equal(h.Date))
	}
	assert.ElementsMatch(t, []int{11, 12}, history.EpisodeIDs(failed))

	entries, err := svc.Store().List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.NotEmpty(t, entry.EventID)
	assert.Equal(t, []int{11, 12}, entry.EpisodeIDs)
	assert.Equal(t, "nzbgeek", entry.Indexer)
	assert.Equal(t, "Repair failed", entry.Message)
	assert.Equal(t, quality.HDTV, entry.Quality.Quality)
}

func TestIsBlacklisted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(newDB(t))

	require.NoError(t, store.Add(ctx, &Entry{SeriesID: 7, SourceTitle: "Show.S01E01.720p.HDTV-GRP", Quality: quality.NewModel(quality.HDTV, false)}))

	tests := []struct {
		name     string
		seriesID int
		title    string
		want     bool
	}{
		{name: "same title", seriesID: 7, title: "Show.S01E01.720p.HDTV-GRP", want: true},
		{name: "case and separators", seriesID: 7, title: "show s01e01 720p hdtv grp", want: true},
		{name: "other series", seriesID: 8, title: "Show.S01E01.720p.HDTV-GRP", want: false},
		{name: "other release", seriesID: 7, title: "Show.S01E01.1080p.WEB-DL-GRP", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.IsBlacklisted(ctx, tt.seriesID, &releases.ReleaseInfo{Title: tt.title})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := store.IsBlacklisted(ctx, 7, nil)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(newDB(t))

	entry := &Entry{SeriesID: 1, SourceTitle: "a", EventID: "fixed-id"}
	require.NoError(t, store.Add(ctx, entry))
	require.NoError(t, store.Delete(ctx, entry.ID))
	require.ErrorIs(t, store.Delete(ctx, entry.ID), ErrNotFound)

	entries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunConsumesPublishedEvents(t *testing.T) {
	t.Parallel()

	db := newDB(t)
	svc := NewService(db, 1)

	stored := make(chan string, 2)
	svc.OnStored = func(e faileddownload.DownloadFailedEvent) { stored <- e.SourceTitle }

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(finished)
	}()

	first := failedEvent()
	second := failedEvent()
	second.SourceTitle = "Show.S01E03.720p.HDTV-GRP"
	second.EpisodeIDs = []int{13}

	svc.Publish(first)
	svc.Publish(second)

	for range 2 {
		select {
		case <-stored:
		case <-time.After(5 * time.Second):
			t.Fatal("event was not stored")
		}
	}

	cancel()
	<-finished

	// publishing after Run returned must not block
	svc.Publish(first)
	assert.Empty(t, svc.events, "nothing is queued once the consumer stopped")

	entries, err := svc.Store().List(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunStoresEventsPublishedDuringShutdown(t *testing.T) {
	t.Parallel()

	db := newDB(t)
	svc := NewService(db, 1)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(finished)
	}()

	const publishers = 4
	var wg sync.WaitGroup
	for i := range publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := failedEvent()
			e.SourceTitle = fmt.Sprintf("Show.S01E%02d.720p.HDTV-GRP", i+10)
			e.EpisodeIDs = []int{100 + i}
			svc.Publish(e)
		}()
	}
	cancel()
	wg.Wait()
	<-finished

	assert.Empty(t, svc.events)

	// every event was either stored or dropped at Publish, none sits in the queue
	entries, err := svc.Store().List(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), publishers)
}
