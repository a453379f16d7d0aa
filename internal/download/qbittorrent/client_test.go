// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/grabd/internal/download"
	"github.com/autobrr/grabd/internal/releases"
)

type fakeAPI struct {
	version    string
	loginErr   error
	logins     int
	torrents   []qbt.Torrent
	added      [][]byte
	addedURLs  []string
	options    map[string]string
	deleted    []string
	deleteData bool
	savePath   string
}

func (f *fakeAPI) LoginCtx(context.Context) error {
	f.logins++
	return f.loginErr
}

func (f *fakeAPI) GetWebAPIVersionCtx(context.Context) (string, error) { return f.version, nil }

func (f *fakeAPI) AddTorrentFromUrlCtx(_ context.Context, url string, options map[string]string) error {
	f.addedURLs = append(f.addedURLs, url)
	f.options = options
	return nil
}

func (f *fakeAPI) AddTorrentFromMemoryCtx(_ context.Context, buf []byte, options map[string]string) error {
	f.added = append(f.added, buf)
	f.options = options
	return nil
}

func (f *fakeAPI) GetTorrentsCtx(_ context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error) {
	var out []qbt.Torrent
	for _, t := range f.torrents {
		if o.Category == "" || t.Category == o.Category {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeAPI) DeleteTorrentsCtx(_ context.Context, hashes []string, deleteFiles bool) error {
	f.deleted = append(f.deleted, hashes...)
	f.deleteData = deleteFiles
	return nil
}

func (f *fakeAPI) GetAppPreferencesCtx(context.Context) (qbt.AppPreferences, error) {
	return qbt.AppPreferences{SavePath: f.savePath}, nil
}

func torrentFile(t *testing.T, name string) ([]byte, string) {
	t.Helper()

	info := metainfo.Info{Name: name, PieceLength: 16384, Pieces: make([]byte, 20), Length: 1024}
	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)

	mi := metainfo.MetaInfo{InfoBytes: infoBytes}
	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))
	return buf.Bytes(), mi.HashInfoBytes().HexString()
}

func newTestClient(api *fakeAPI) *Client {
	c := newWithAPI(Config{Name: "qbit", Host: "http://localhost:8080", Category: "tv"}, api, &http.Client{Timeout: 5 * time.Second})
	c.fetcher.delay = time.Millisecond
	return c
}

func remote(release *releases.ReleaseInfo) *releases.RemoteEpisode {
	return &releases.RemoteEpisode{Release: release, ParsedEpisodeInfo: &releases.ParsedEpisodeInfo{}, Series: &releases.Series{ID: 1}}
}

func TestDownloadTorrentFile(t *testing.T) {
	t.Parallel()

	body, hash := torrentFile(t, "Show.S01E01.720p.HDTV-GRP")

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	api := &fakeAPI{version: "2.11.2"}
	c := newTestClient(api)

	id, err := c.Download(context.Background(), remote(&releases.ReleaseInfo{Title: "Show.S01E01", DownloadURL: srv.URL + "/dl/1.torrent"}))
	require.NoError(t, err)
	assert.Equal(t, hash, id)
	assert.EqualValues(t, 2, hits.Load(), "5xx answers are retried")
	require.Len(t, api.added, 1)
	assert.Equal(t, body, api.added[0])
	assert.Equal(t, map[string]string{"category": "tv"}, api.options)
	assert.Equal(t, "2.11.2", c.WebAPIVersion())
}

func TestDownloadRejectsBadTorrent(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("<html>login required</html>"))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(&fakeAPI{version: "2.9.3"})

	_, err := c.Download(context.Background(), remote(&releases.ReleaseInfo{Title: "a", DownloadURL: srv.URL + "/html"}))
	var release *download.ReleaseDownloadError
	require.ErrorAs(t, err, &release)

	hits.Store(0)
	_, err = c.Download(context.Background(), remote(&releases.ReleaseInfo{Title: "b", DownloadURL: srv.URL + "/missing"}))
	require.ErrorAs(t, err, &release)
	assert.EqualValues(t, 1, hits.Load(), "4xx answers are not retried")
}

func TestDownloadMagnet(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{version: "2.8.3"}
	c := newTestClient(api)

	magnet := "magnet:?xt=urn:btih:C12FE1C06BBA254A9DC9F519B335AA7C1367A88A&dn=Show.S01E01"
	id, err := c.Download(context.Background(), remote(&releases.ReleaseInfo{Title: "Show.S01E01", MagnetURL: magnet}))
	require.NoError(t, err)
	assert.Equal(t, "c12fe1c06bba254a9dc9f519b335aa7c1367a88a", id)
	assert.Equal(t, []string{magnet}, api.addedURLs)

	_, err = c.Download(context.Background(), remote(&releases.ReleaseInfo{Title: "bad", DownloadURL: "magnet:?dn=nohash"}))
	var release *download.ReleaseDownloadError
	require.ErrorAs(t, err, &release)
}

func TestConnectOnceAndVersionCheck(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{version: "2.11.2"}
	c := newTestClient(api)

	_, err := c.GetItems(context.Background())
	require.NoError(t, err)
	_, err = c.GetItems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, api.logins)

	old := newTestClient(&fakeAPI{version: "1.5.0"})
	_, err = old.GetItems(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too old")

	unreachable := newTestClient(&fakeAPI{loginErr: errors.New("connection refused")})
	_, err = unreachable.GetItems(context.Background())
	assert.True(t, download.IsTransport(err))
}

func TestGetItemsMapsTorrents(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		version: "2.11.2",
		torrents: []qbt.Torrent{
			{Hash: "AAAA", Name: "Show.S01E01", Category: "tv", Size: 1000, AmountLeft: 400, ETA: 60, State: qbt.TorrentStateDownloading, ContentPath: "/dl/Show.S01E01"},
			{Hash: "bbbb", Name: "Show.S01E02", Category: "tv", Size: 1000, ETA: etaInfinity, State: qbt.TorrentStateError, SavePath: "/dl"},
			{Hash: "cccc", Name: "Movie", Category: "movies", State: qbt.TorrentStateUploading},
		},
	}
	c := newTestClient(api)

	items, err := c.GetItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, download.Item{
		DownloadClient:   "qbit",
		DownloadClientID: "aaaa",
		Category:         "tv",
		Title:            "Show.S01E01",
		TotalSize:        1000,
		RemainingSize:    400,
		RemainingTime:    time.Minute,
		OutputPath:       "/dl/Show.S01E01",
		Status:           download.StatusDownloading,
	}, items[0])

	assert.Equal(t, download.StatusFailed, items[1].Status)
	assert.Equal(t, "/dl", items[1].OutputPath)
	assert.Zero(t, items[1].RemainingTime)
	assert.NotEmpty(t, items[1].Message)
}

func TestMapState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state qbt.TorrentState
		want  download.ItemStatus
	}{
		{qbt.TorrentStateError, download.StatusFailed},
		{qbt.TorrentStateMissingFiles, download.StatusFailed},
		{qbt.TorrentStatePausedDl, download.StatusPaused},
		{qbt.TorrentStateStoppedDl, download.StatusPaused},
		{qbt.TorrentStateQueuedDl, download.StatusQueued},
		{qbt.TorrentStateCheckingDl, download.StatusQueued},
		{qbt.TorrentStateMetaDl, download.StatusQueued},
		{qbt.TorrentStateUploading, download.StatusCompleted},
		{qbt.TorrentStateStalledUp, download.StatusCompleted},
		{qbt.TorrentStateStoppedUp, download.StatusCompleted},
		{qbt.TorrentStateStalledDl, download.StatusWarning},
		{qbt.TorrentStateDownloading, download.StatusDownloading},
		{qbt.TorrentStateForcedDl, download.StatusDownloading},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			got, _ := mapState(tt.state)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemoveRetryAndStatus(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{version: "2.11.2", savePath: "/downloads"}
	c := newTestClient(api)

	require.NoError(t, c.RemoveItem(context.Background(), "ABCD", true))
	assert.Equal(t, []string{"abcd"}, api.deleted)
	assert.True(t, api.deleteData)

	_, err := c.RetryDownload(context.Background(), "abcd")
	require.ErrorIs(t, err, download.ErrNotSupported)

	status, err := c.GetStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.IsLocalhost)
	assert.Equal(t, []string{"/downloads"}, status.OutputRootFolders)
}

func TestIsLocalhost(t *testing.T) {
	t.Parallel()

	assert.True(t, isLocalhost("http://localhost:8080"))
	assert.True(t, isLocalhost("127.0.0.1:8080"))
	assert.True(t, isLocalhost("https://[::1]:8443/qbt"))
	assert.False(t, isLocalhost("https://seedbox.example.com"))
}
