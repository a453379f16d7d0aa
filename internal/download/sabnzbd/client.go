// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sabnzbd is the usenet backend, talking to SABnzbd's JSON API.
package sabnzbd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/buildinfo"
	"github.com/autobrr/grabd/internal/download"
	"github.com/autobrr/grabd/internal/releases"
)

// encryptedPrefix is how SABnzbd marks password protected jobs.
const encryptedPrefix = "ENCRYPTED / "

var minVersion = version.Must(version.NewVersion("0.7.0"))

type Config struct {
	Name     string
	Host     string
	APIKey   string
	Category string
	Timeout  time.Duration
}

type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

var _ download.Client = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = download.DefaultClientTimeout
	}
	return newWithHTTPClient(cfg, &http.Client{Timeout: cfg.Timeout})
}

func newWithHTTPClient(cfg Config, httpClient *http.Client) *Client {
	host := cfg.Host
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimSuffix(host, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) Name() string                { return c.cfg.Name }
func (c *Client) Protocol() releases.Protocol { return releases.ProtocolUsenet }

type apiStatus struct {
	Status *bool  `json:"status"`
	Error  string `json:"error"`
}

type queueResponse struct {
	Queue struct {
		Slots []queueSlot `json:"slots"`
	} `json:"queue"`
}

type queueSlot struct {
	ID       string `json:"nzo_id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	MB       string `json:"mb"`
	MBLeft   string `json:"mbleft"`
	TimeLeft string `json:"timeleft"`
	Category string `json:"cat"`
}

type historyResponse struct {
	History struct {
		Slots []historySlot `json:"slots"`
	} `json:"history"`
}

type historySlot struct {
	ID          string `json:"nzo_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Bytes       int64  `json:"bytes"`
	Category    string `json:"category"`
	Storage     string `json:"storage"`
	FailMessage string `json:"fail_message"`
}

// request calls one API mode. Unreachable hosts, auth failures and 5xx answers
// are transport errors; an explicit "status": false comes back as a plain error.
func (c *Client) request(ctx context.Context, mode string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.cfg.APIKey)
	params.Set("mode", mode)
	params.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api?"+params.Encode(), nil)
	if err != nil {
		return errors.Wrap(err, "build sabnzbd request")
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return download.WrapTransport(c.cfg.Name, mode, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return download.WrapTransport(c.cfg.Name, mode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return download.WrapTransport(c.cfg.Name, mode, errors.Errorf("HTTP error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var status apiStatus
	if err := json.Unmarshal(body, &status); err == nil && status.Status != nil && !*status.Status {
		return errors.Errorf("sabnzbd %s failed: %s", mode, status.Error)
	}
	// api key errors come back as a 200 with a bare error field
	if status.Error != "" && status.Status == nil {
		return download.WrapTransport(c.cfg.Name, mode, errors.New(status.Error))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "failed to parse sabnzbd %s response", mode)
	}
	return nil
}

func (c *Client) Download(ctx context.Context, candidate *releases.RemoteEpisode) (string, error) {
	release := candidate.Release
	if release.DownloadURL == "" {
		return "", &download.ReleaseDownloadError{Client: c.cfg.Name, Title: release.Title, Err: errors.New("release has no download url")}
	}

	params := url.Values{}
	params.Set("name", release.DownloadURL)
	params.Set("nzbname", release.Title)
	if c.cfg.Category != "" {
		params.Set("cat", c.cfg.Category)
	}

	var resp struct {
		IDs []string `json:"nzo_ids"`
	}
	if err := c.request(ctx, "addurl", params, &resp); err != nil {
		if download.IsTransport(err) {
			return "", err
		}
		return "", &download.ReleaseDownloadError{Client: c.cfg.Name, Title: release.Title, Err: err}
	}
	if len(resp.IDs) == 0 {
		return "", &download.ReleaseDownloadError{Client: c.cfg.Name, Title: release.Title, Err: errors.New("sabnzbd returned no job id")}
	}

	log.Debug().Str("downloadClient", c.cfg.Name).Str("title", release.Title).Str("nzoID", resp.IDs[0]).Msg("Added release to SABnzbd")
	return resp.IDs[0], nil
}

// GetItems merges the queue and the history of the configured category.
func (c *Client) GetItems(ctx context.Context) ([]download.Item, error) {
	var queue queueResponse
	if err := c.request(ctx, "queue", c.categoryFilter(), &queue); err != nil {
		return nil, download.WrapTransport(c.cfg.Name, "queue", err)
	}

	var hist historyResponse
	if err := c.request(ctx, "history", c.categoryFilter(), &hist); err != nil {
		return nil, download.WrapTransport(c.cfg.Name, "history", err)
	}

	items := make([]download.Item, 0, len(queue.Queue.Slots)+len(hist.History.Slots))
	for _, slot := range queue.Queue.Slots {
		items = append(items, c.queueItem(slot))
	}
	for _, slot := range hist.History.Slots {
		items = append(items, c.historyItem(slot))
	}
	return items, nil
}

func (c *Client) categoryFilter() url.Values {
	params := url.Values{}
	if c.cfg.Category != "" {
		params.Set("category", c.cfg.Category)
	}
	return params
}

func (c *Client) queueItem(slot queueSlot) download.Item {
	title, encrypted := stripEncrypted(slot.Filename)

	item := download.Item{
		DownloadClient:   c.cfg.Name,
		DownloadClientID: slot.ID,
		Category:         slot.Category,
		Title:            title,
		TotalSize:        megabytes(slot.MB),
		RemainingSize:    megabytes(slot.MBLeft),
		RemainingTime:    parseTimeLeft(slot.TimeLeft),
		IsEncrypted:      encrypted,
		Status:           download.StatusDownloading,
	}

	switch strings.ToLower(slot.Status) {
	case "paused":
		item.Status = download.StatusPaused
	case "queued", "grabbing", "propagating", "checking":
		item.Status = download.StatusQueued
	}
	return item
}

func (c *Client) historyItem(slot historySlot) download.Item {
	title, encrypted := stripEncrypted(slot.Name)

	item := download.Item{
		DownloadClient:   c.cfg.Name,
		DownloadClientID: slot.ID,
		Category:         slot.Category,
		Title:            title,
		TotalSize:        slot.Bytes,
		OutputPath:       slot.Storage,
		Message:          slot.FailMessage,
		IsEncrypted:      encrypted,
		Status:           download.StatusDownloading,
	}

	switch strings.ToLower(slot.Status) {
	case "failed":
		item.Status = download.StatusFailed
	case "completed":
		item.Status = download.StatusCompleted
	}
	return item
}

// RemoveItem deletes the job from the history if it finished there, else from the queue.
func (c *Client) RemoveItem(ctx context.Context, id string, deleteData bool) error {
	var hist historyResponse
	params := url.Values{}
	params.Set("nzo_ids", id)
	if err := c.request(ctx, "history", params, &hist); err != nil {
		return download.WrapTransport(c.cfg.Name, "history", err)
	}

	mode := "queue"
	for _, slot := range hist.History.Slots {
		if slot.ID == id {
			mode = "history"
			break
		}
	}

	params = url.Values{}
	params.Set("name", "delete")
	params.Set("value", id)
	if deleteData {
		params.Set("del_files", "1")
	}
	if err := c.request(ctx, mode, params, nil); err != nil {
		return download.WrapTransport(c.cfg.Name, mode+" delete", err)
	}
	return nil
}

// RetryDownload re-queues a failed job. SABnzbd may answer with a new job id.
func (c *Client) RetryDownload(ctx context.Context, id string) (string, error) {
	params := url.Values{}
	params.Set("value", id)

	var resp struct {
		ID string `json:"nzo_id"`
	}
	if err := c.request(ctx, "retry", params, &resp); err != nil {
		if download.IsTransport(err) {
			return "", err
		}
		return "", errors.Wrapf(err, "sabnzbd refused to retry %s", id)
	}
	if resp.ID == "" {
		return id, nil
	}
	return resp.ID, nil
}

// checkVersion rejects releases older than minVersion. Development builds
// report a non-numeric version and are let through.
func (c *Client) checkVersion(ctx context.Context) error {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.request(ctx, "version", nil, &resp); err != nil {
		return err
	}

	raw := strings.TrimSpace(resp.Version)
	if raw == "" {
		return nil
	}
	v, err := version.NewVersion(raw)
	if err != nil {
		log.Debug().Err(err).Str("downloadClient", c.cfg.Name).Str("version", raw).Msg("Unable to parse SABnzbd version")
		return nil
	}
	if v.LessThan(minVersion) {
		return errors.Errorf("SABnzbd %s is not supported, %s or newer is required", raw, minVersion)
	}
	return nil
}

func (c *Client) GetStatus(ctx context.Context) (download.Status, error) {
	if err := c.checkVersion(ctx); err != nil {
		return download.Status{}, err
	}

	var resp struct {
		Config struct {
			Misc struct {
				CompleteDir string `json:"complete_dir"`
			} `json:"misc"`
			Categories []struct {
				Name string `json:"name"`
				Dir  string `json:"dir"`
			} `json:"categories"`
		} `json:"config"`
	}
	if err := c.request(ctx, "get_config", nil, &resp); err != nil {
		return download.Status{}, download.WrapTransport(c.cfg.Name, "get_config", err)
	}

	root := resp.Config.Misc.CompleteDir
	for _, cat := range resp.Config.Categories {
		if cat.Name == c.cfg.Category && cat.Dir != "" {
			if strings.HasPrefix(cat.Dir, "/") || root == "" {
				root = cat.Dir
			} else {
				root = strings.TrimSuffix(root, "/") + "/" + cat.Dir
			}
			break
		}
	}

	status := download.Status{IsLocalhost: isLocalhost(c.baseURL)}
	if root != "" {
		status.OutputRootFolders = []string{root}
	}
	return status, nil
}

func stripEncrypted(title string) (string, bool) {
	if strings.HasPrefix(title, encryptedPrefix) {
		return strings.TrimPrefix(title, encryptedPrefix), true
	}
	return title, false
}

func megabytes(raw string) int64 {
	mb, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return int64(mb * 1024 * 1024)
}

// parseTimeLeft reads SABnzbd's [D:]HH:MM:SS estimate.
func parseTimeLeft(raw string) time.Duration {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 3 || len(parts) > 4 {
		return 0
	}

	var total time.Duration
	units := []time.Duration{time.Second, time.Minute, time.Hour, 24 * time.Hour}
	for i := range parts {
		n, err := strconv.Atoi(parts[len(parts)-1-i])
		if err != nil {
			return 0
		}
		total += time.Duration(n) * units[i]
	}
	return total
}

func isLocalhost(base string) bool {
	u, err := url.Parse(base)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
