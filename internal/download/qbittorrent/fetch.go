// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/autobrr/grabd/internal/buildinfo"
	"github.com/autobrr/grabd/internal/download"
)

const (
	fetchAttempts   = 3
	fetchRetryDelay = 2 * time.Second
	maxTorrentSize  = 10 << 20
)

// statusError is an HTTP status the indexer answered with.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func (e *statusError) temporary() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

type torrentFetcher struct {
	client *http.Client
	delay  time.Duration
}

func newTorrentFetcher(client *http.Client) *torrentFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &torrentFetcher{client: client, delay: fetchRetryDelay}
}

// Fetch downloads a .torrent file, retrying connection failures and 5xx answers.
// Connection failures that survive the retries come back as *download.TransportError.
func (f *torrentFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte

	err := retry.Do(
		func() error {
			b, err := f.fetchOnce(ctx, rawURL)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(fetchAttempts),
		retry.Delay(f.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var status *statusError
			if errors.As(err, &status) {
				return status.temporary()
			}
			return download.IsTransport(err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *torrentFetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build torrent request")
	}
	req.Header.Set("Accept", "application/x-bittorrent")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, download.WrapTransport("indexer", "fetch torrent", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTorrentSize+1))
	if err != nil {
		return nil, download.WrapTransport("indexer", "read torrent", err)
	}
	if len(body) > maxTorrentSize {
		return nil, errors.Errorf("torrent file exceeds %d bytes", maxTorrentSize)
	}
	return body, nil
}

func hashFromTorrent(body []byte) (string, error) {
	mi, err := metainfo.Load(bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to parse torrent metainfo")
	}
	return strings.ToLower(mi.HashInfoBytes().HexString()), nil
}

func hashFromMagnet(magnet string) (string, error) {
	m, err := metainfo.ParseMagnetUri(magnet)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse magnet link")
	}
	if m.InfoHash == (metainfo.Hash{}) {
		return "", errors.New("magnet link has no info hash")
	}
	return strings.ToLower(m.InfoHash.HexString()), nil
}
