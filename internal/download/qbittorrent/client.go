// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent is the BitTorrent backend, talking to qBittorrent's WebAPI.
package qbittorrent

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/download"
	"github.com/autobrr/grabd/internal/releases"
)

var minWebAPIVersion = semver.MustParse("2.0.0")

// etaInfinity is what qBittorrent reports when no ETA is known.
const etaInfinity = 8640000

type Config struct {
	Name          string
	Host          string
	Username      string
	Password      string
	BasicUser     string
	BasicPass     string
	Category      string
	TLSSkipVerify bool
	Timeout       time.Duration
}

// webAPI is the subset of *qbt.Client used by the backend.
type webAPI interface {
	LoginCtx(ctx context.Context) error
	GetWebAPIVersionCtx(ctx context.Context) (string, error)
	AddTorrentFromUrlCtx(ctx context.Context, url string, options map[string]string) error
	AddTorrentFromMemoryCtx(ctx context.Context, buf []byte, options map[string]string) error
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
	DeleteTorrentsCtx(ctx context.Context, hashes []string, deleteFiles bool) error
	GetAppPreferencesCtx(ctx context.Context) (qbt.AppPreferences, error)
}

type Client struct {
	cfg     Config
	api     webAPI
	fetcher *torrentFetcher

	mu            sync.Mutex
	connected     bool
	webAPIVersion string
}

var _ download.Client = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = download.DefaultClientTimeout
	}

	api := qbt.NewClient(qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		BasicUser:     cfg.BasicUser,
		BasicPass:     cfg.BasicPass,
		TLSSkipVerify: cfg.TLSSkipVerify,
		Timeout:       int(cfg.Timeout.Seconds()),
	})

	return newWithAPI(cfg, api, &http.Client{Timeout: cfg.Timeout})
}

func newWithAPI(cfg Config, api webAPI, httpClient *http.Client) *Client {
	return &Client{
		cfg:     cfg,
		api:     api,
		fetcher: newTorrentFetcher(httpClient),
	}
}

func (c *Client) Name() string                { return c.cfg.Name }
func (c *Client) Protocol() releases.Protocol { return releases.ProtocolTorrent }

// connect logs in once and checks the WebAPI is new enough.
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	if err := c.api.LoginCtx(ctx); err != nil {
		return download.WrapTransport(c.cfg.Name, "login", err)
	}

	version, err := c.api.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return download.WrapTransport(c.cfg.Name, "get webapi version", err)
	}
	version = strings.TrimSpace(version)

	v, err := semver.NewVersion(version)
	if err != nil {
		log.Warn().Err(err).Str("downloadClient", c.cfg.Name).Str("webAPIVersion", version).Msg("Failed to parse qBittorrent WebAPI version")
	} else if v.LessThan(minWebAPIVersion) {
		return errors.Errorf("qBittorrent WebAPI %s is too old, %s or newer is required", version, minWebAPIVersion)
	}

	c.connected = true
	c.webAPIVersion = version

	log.Debug().Str("downloadClient", c.cfg.Name).Str("host", c.cfg.Host).Str("webAPIVersion", version).Msg("Connected to qBittorrent")
	return nil
}

func (c *Client) Download(ctx context.Context, candidate *releases.RemoteEpisode) (string, error) {
	if err := c.connect(ctx); err != nil {
		return "", err
	}

	release := candidate.Release
	options := map[string]string{}
	if c.cfg.Category != "" {
		options["category"] = c.cfg.Category
	}

	if magnet := magnetLink(release); magnet != "" {
		hash, err := hashFromMagnet(magnet)
		if err != nil {
			return "", &download.ReleaseDownloadError{Client: c.cfg.Name, Title: release.Title, Err: err}
		}
		if err := c.api.AddTorrentFromUrlCtx(ctx, magnet, options); err != nil {
			return "", download.WrapTransport(c.cfg.Name, "add magnet", err)
		}
		return hash, nil
	}

	if release.DownloadURL == "" {
		return "", &download.ReleaseDownloadError{Client: c.cfg.Name, Title: release.Title, Err: errors.New("release has no download url")}
	}

	body, err := c.fetcher.Fetch(ctx, release.DownloadURL)
	if err != nil {
		if download.IsTransport(err) {
			return "", download.WrapTransport(c.cfg.Name, "fetch torrent", err)
		}
		return "", &download.ReleaseDownloadError{Client: c.cfg.Name, Title: release.Title, Err: err}
	}

	hash, err := hashFromTorrent(body)
	if err != nil {
		return "", &download.ReleaseDownloadError{Client: c.cfg.Name, Title: release.Title, Err: err}
	}

	if err := c.api.AddTorrentFromMemoryCtx(ctx, body, options); err != nil {
		return "", download.WrapTransport(c.cfg.Name, "add torrent", err)
	}
	return hash, nil
}

func (c *Client) GetItems(ctx context.Context) ([]download.Item, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	torrents, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Category: c.cfg.Category})
	if err != nil {
		return nil, download.WrapTransport(c.cfg.Name, "get torrents", err)
	}

	items := make([]download.Item, 0, len(torrents))
	for _, t := range torrents {
		items = append(items, c.toItem(t))
	}
	return items, nil
}

func (c *Client) toItem(t qbt.Torrent) download.Item {
	status, message := mapState(t.State)

	item := download.Item{
		DownloadClient:   c.cfg.Name,
		DownloadClientID: strings.ToLower(t.Hash),
		Category:         t.Category,
		Title:            t.Name,
		TotalSize:        t.Size,
		RemainingSize:    t.AmountLeft,
		OutputPath:       t.ContentPath,
		Message:          message,
		Status:           status,
	}
	if item.OutputPath == "" {
		item.OutputPath = t.SavePath
	}
	if t.ETA > 0 && t.ETA < etaInfinity {
		item.RemainingTime = time.Duration(t.ETA) * time.Second
	}
	return item
}

func (c *Client) RemoveItem(ctx context.Context, id string, deleteData bool) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	if err := c.api.DeleteTorrentsCtx(ctx, []string{strings.ToLower(id)}, deleteData); err != nil {
		return download.WrapTransport(c.cfg.Name, "delete torrent", err)
	}
	return nil
}

// RetryDownload is not possible: a torrent keeps its info hash.
func (c *Client) RetryDownload(context.Context, string) (string, error) {
	return "", download.ErrNotSupported
}

func (c *Client) GetStatus(ctx context.Context) (download.Status, error) {
	if err := c.connect(ctx); err != nil {
		return download.Status{}, err
	}

	prefs, err := c.api.GetAppPreferencesCtx(ctx)
	if err != nil {
		return download.Status{}, download.WrapTransport(c.cfg.Name, "get preferences", err)
	}

	status := download.Status{IsLocalhost: isLocalhost(c.cfg.Host)}
	if prefs.SavePath != "" {
		status.OutputRootFolders = []string{prefs.SavePath}
	}
	return status, nil
}

// WebAPIVersion is empty until the first successful call.
func (c *Client) WebAPIVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webAPIVersion
}

func magnetLink(release *releases.ReleaseInfo) string {
	if release.MagnetURL != "" {
		return release.MagnetURL
	}
	if strings.HasPrefix(strings.ToLower(release.DownloadURL), "magnet:") {
		return release.DownloadURL
	}
	return ""
}

func isLocalhost(host string) bool {
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return false
	}

	hostname := u.Hostname()
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

func mapState(state qbt.TorrentState) (download.ItemStatus, string) {
	switch state {
	case qbt.TorrentStateError:
		return download.StatusFailed, "qBittorrent is reporting an error"
	case qbt.TorrentStateMissingFiles:
		return download.StatusFailed, "qBittorrent is reporting missing files"
	case qbt.TorrentStatePausedDl, qbt.TorrentStateStoppedDl:
		return download.StatusPaused, ""
	case qbt.TorrentStateQueuedDl, qbt.TorrentStateCheckingDl, qbt.TorrentStateCheckingResumeData,
		qbt.TorrentStateAllocating, qbt.TorrentStateMetaDl, qbt.TorrentStateMoving:
		return download.StatusQueued, ""
	case qbt.TorrentStatePausedUp, qbt.TorrentStateStoppedUp, qbt.TorrentStateUploading, qbt.TorrentStateStalledUp,
		qbt.TorrentStateQueuedUp, qbt.TorrentStateForcedUp, qbt.TorrentStateCheckingUp:
		return download.StatusCompleted, ""
	case qbt.TorrentStateStalledDl:
		return download.StatusWarning, "The download is stalled with no connections"
	default:
		return download.StatusDownloading, ""
	}
}
