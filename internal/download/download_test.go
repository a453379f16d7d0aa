// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package download

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/history"
	"github.com/autobrr/grabd/internal/quality"
	"github.com/autobrr/grabd/internal/releases"
)

type fakeClient struct {
	name     string
	protocol releases.Protocol

	mu          sync.Mutex
	items       []Item
	itemsErr    error
	itemCalls   int
	downloadErr map[string]error
	downloaded  []string
}

func (c *fakeClient) Name() string                { return c.name }
func (c *fakeClient) Protocol() releases.Protocol { return c.protocol }

func (c *fakeClient) Download(_ context.Context, candidate *releases.RemoteEpisode) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.downloadErr[candidate.Release.Title]; err != nil {
		return "", err
	}
	c.downloaded = append(c.downloaded, candidate.Release.Title)
	return "id-" + candidate.Release.Title, nil
}

func (c *fakeClient) GetItems(context.Context) ([]Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.itemCalls++
	return c.items, c.itemsErr
}

func (c *fakeClient) RemoveItem(context.Context, string, bool) error { return ErrNotSupported }

func (c *fakeClient) RetryDownload(context.Context, string) (string, error) {
	return "", ErrNotSupported
}

func (c *fakeClient) GetStatus(context.Context) (Status, error) { return Status{IsLocalhost: true}, nil }

type memoryHistory struct {
	mu      sync.Mutex
	records []*history.History
}

func (m *memoryHistory) Add(_ context.Context, h *history.History) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, h)
	return nil
}

func candidate(title string, protocol releases.Protocol, q quality.Quality, episodeIDs ...int) *releases.RemoteEpisode {
	episodes := make([]releases.Episode, 0, len(episodeIDs))
	for i, id := range episodeIDs {
		episodes = append(episodes, releases.Episode{ID: id, SeriesID: 3, SeasonNumber: 1, EpisodeNumber: i + 1})
	}
	return &releases.RemoteEpisode{
		Release: &releases.ReleaseInfo{
			GUID:        "guid-" + title,
			Title:       title,
			Size:        500,
			Indexer:     "nzbgeek",
			Protocol:    protocol,
			PublishDate: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		},
		ParsedEpisodeInfo: &releases.ParsedEpisodeInfo{SeasonNumber: 1, EpisodeNumbers: []int{1}, Quality: quality.NewModel(q, false)},
		Series:            &releases.Series{ID: 3, ProfileID: 1},
		Episodes:          episodes,
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	sab := &fakeClient{name: "SAB", protocol: releases.ProtocolUsenet}
	qbit := &fakeClient{name: "qbit", protocol: releases.ProtocolTorrent}

	r, err := NewRegistry(sab, qbit)
	require.NoError(t, err)

	require.ErrorIs(t, r.Add(&fakeClient{name: "sab"}), ErrDuplicateClient)

	got, err := r.Get("sab")
	require.NoError(t, err)
	assert.Same(t, sab, got)

	_, err = r.Get("nzbget")
	require.ErrorIs(t, err, ErrClientNotFound)

	assert.Equal(t, []Client{sab, qbit}, r.All())
	assert.Equal(t, []Client{qbit}, r.ForProtocol(releases.ProtocolTorrent))

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.TrackFailure("qbit", errors.New("connection refused"))
	assert.True(t, r.IsInBackoff("qbit"))
	assert.Empty(t, r.ForProtocol(releases.ProtocolTorrent))

	now = now.Add(initialBackoff + time.Second)
	assert.False(t, r.IsInBackoff("qbit"))

	r.TrackFailure("qbit", errors.New("connection refused"))
	r.ResetFailureTracking("qbit")
	assert.False(t, r.IsInBackoff("qbit"))
}

func TestCalculateBackoff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10*time.Second, calculateBackoff(1, initialBackoff, maxBackoff))
	assert.Equal(t, 20*time.Second, calculateBackoff(2, initialBackoff, maxBackoff))
	assert.Equal(t, 40*time.Second, calculateBackoff(3, initialBackoff, maxBackoff))
	assert.Equal(t, maxBackoff, calculateBackoff(4, initialBackoff, maxBackoff))
	assert.Equal(t, maxBackoff, calculateBackoff(64, initialBackoff, maxBackoff))
	assert.True(t, isBanError(errors.New("HTTP 403 Forbidden")))
	assert.False(t, isBanError(errors.New("dial tcp: connection refused")))
}

func TestItemCache(t *testing.T) {
	t.Parallel()

	client := &fakeClient{name: "sab", items: []Item{{DownloadClientID: "nzo_1", Title: "a"}}}
	cache := NewItemCache(time.Minute)
	t.Cleanup(cache.Close)

	items, err := cache.GetItems(context.Background(), client)
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = cache.GetItems(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, 1, client.itemCalls, "second call is served from cache")

	cache.Invalidate("sab")
	_, err = cache.GetItems(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, 2, client.itemCalls)
}

func TestItemCacheDisabledAndErrors(t *testing.T) {
	t.Parallel()

	client := &fakeClient{name: "sab"}
	cache := NewItemCache(0)

	_, _ = cache.GetItems(context.Background(), client)
	_, _ = cache.GetItems(context.Background(), client)
	assert.Equal(t, 2, client.itemCalls)

	client.itemsErr = errors.New("dial tcp 127.0.0.1:8080: connection refused")
	_, err := cache.GetItems(context.Background(), client)

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, "sab", transport.Client)
	assert.Equal(t, "get items", transport.Op)
}

func TestWrapTransport(t *testing.T) {
	t.Parallel()

	assert.NoError(t, WrapTransport("c", "op", nil))
	assert.ErrorIs(t, WrapTransport("c", "op", ErrNotSupported), ErrNotSupported)
	assert.False(t, IsTransport(WrapTransport("c", "op", ErrNotSupported)))

	release := &ReleaseDownloadError{Client: "c", Title: "t", Err: errors.New("bad nzb")}
	assert.Same(t, release, WrapTransport("c", "op", release))

	err := WrapTransport("c", "op", context.DeadlineExceeded)
	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.True(t, transport.Timeout())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServiceGrabRecordsHistory(t *testing.T) {
	t.Parallel()

	client := &fakeClient{name: "sab", protocol: releases.ProtocolUsenet, items: []Item{{Title: "old"}}}
	registry, err := NewRegistry(client)
	require.NoError(t, err)

	cache := NewItemCache(time.Minute)
	t.Cleanup(cache.Close)
	_, err = cache.GetItems(context.Background(), client)
	require.NoError(t, err)

	hist := &memoryHistory{}
	now := time.Date(2025, 1, 1, 12, 30, 0, 0, time.UTC)

	var observed []string
	svc := NewService(registry, cache, hist,
		WithClock(func() time.Time { return now }),
		WithGrabObserver(func(client string, _ releases.Protocol, err error) {
			observed = append(observed, client)
		}))

	id, err := svc.Grab(context.Background(), candidate("Show.S01E01E02", releases.ProtocolUsenet, quality.HDTV, 31, 32))
	require.NoError(t, err)
	assert.Equal(t, "id-Show.S01E01E02", id)
	assert.Equal(t, []string{"sab"}, observed)

	require.Len(t, hist.records, 2)
	for i, h := range hist.records {
		assert.Equal(t, []int{31, 32}[i], h.EpisodeID)
		assert.Equal(t, 3, h.SeriesID)
		assert.Equal(t, history.EventGrabbed, h.EventType)
		assert.Equal(t, id, h.DownloadID)
		assert.Equal(t, now, h.Date)
		assert.Equal(t, map[string]string{
			history.DataKeyDownloadClient:   "sab",
			history.DataKeyDownloadClientID: id,
			history.DataKeyAgeHours:         "2.5",
			history.DataKeyIndexer:          "nzbgeek",
			history.DataKeySize:             "500",
			history.DataKeyGUID:             "guid-Show.S01E01E02",
			history.DataKeyPublishedDate:    "2025-01-01T10:00:00Z",
		}, h.Data)
	}

	_, err = cache.GetItems(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, 2, client.itemCalls, "grab invalidates the client snapshot")
}

func TestServiceGrabErrors(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		name:     "qbit",
		protocol: releases.ProtocolTorrent,
		downloadErr: map[string]error{
			"bad":     errors.New("torrent file is invalid"),
			"timeout": &TransportError{Client: "qbit", Op: "add", Err: context.DeadlineExceeded},
		},
	}
	registry, err := NewRegistry(client)
	require.NoError(t, err)
	svc := NewService(registry, nil, &memoryHistory{})

	_, err = svc.Grab(context.Background(), candidate("x", releases.ProtocolUsenet, quality.HDTV, 1))
	require.ErrorIs(t, err, ErrNoClientAvailable)

	_, err = svc.Grab(context.Background(), candidate("bad", releases.ProtocolTorrent, quality.HDTV, 1))
	var release *ReleaseDownloadError
	require.ErrorAs(t, err, &release)
	assert.False(t, registry.IsInBackoff("qbit"))

	_, err = svc.Grab(context.Background(), candidate("timeout", releases.ProtocolTorrent, quality.HDTV, 1))
	assert.True(t, IsTransport(err))
	assert.True(t, registry.IsInBackoff("qbit"))

	_, err = svc.Grab(context.Background(), &releases.RemoteEpisode{})
	require.ErrorIs(t, err, decision.ErrMalformedCandidate)
}

func TestDownloadApproved(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		name:        "sab",
		protocol:    releases.ProtocolUsenet,
		downloadErr: map[string]error{"broken-bluray": errors.New("nzb is empty")},
	}
	registry, err := NewRegistry(client)
	require.NoError(t, err)
	hist := &memoryHistory{}
	svc := NewService(registry, nil, hist)

	decisions := []decision.Decision{
		{RemoteEpisode: candidate("hdtv", releases.ProtocolUsenet, quality.HDTV, 1)},
		{RemoteEpisode: candidate("broken-bluray", releases.ProtocolUsenet, quality.Bluray720p, 1)},
		{RemoteEpisode: candidate("rejected", releases.ProtocolUsenet, quality.Bluray1080p, 1), Rejections: []decision.Rejection{{Reason: "no"}}},
		{RemoteEpisode: candidate("other-episode", releases.ProtocolUsenet, quality.SDTV, 2)},
	}

	grabbed, err := svc.DownloadApproved(context.Background(), decisions)
	require.NoError(t, err)

	titles := []string{}
	for _, g := range grabbed {
		titles = append(titles, g.RemoteEpisode.Release.Title)
	}
	assert.Equal(t, []string{"hdtv", "other-episode"}, titles)
	assert.Equal(t, []string{"hdtv", "other-episode"}, client.downloaded)
	assert.Len(t, hist.records, 2)
}
