// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tracking

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/download"
	"github.com/autobrr/grabd/internal/quality"
)

type State int

const (
	StateDownloading State = iota
	StateDownloadFailed
	StateRemoved
	StateImporting
	StateImported
	StateIgnored
)

func (s State) String() string {
	switch s {
	case StateDownloading:
		return "downloading"
	case StateDownloadFailed:
		return "downloadFailed"
	case StateRemoved:
		return "removed"
	case StateImporting:
		return "importing"
	case StateImported:
		return "imported"
	case StateIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TrackedDownload follows one item in one download client.
type TrackedDownload struct {
	TrackingID      string        `json:"trackingId"`
	DownloadClient  string        `json:"downloadClient"`
	DownloadItem    download.Item `json:"downloadItem"`
	State           State         `json:"state"`
	RetryCount      int           `json:"retryCount"`
	LastRetry       time.Time     `json:"lastRetry"`
	StatusMessage   string        `json:"statusMessage,omitempty"`
	HasError        bool          `json:"hasError"`
	StartedTracking time.Time     `json:"startedTracking"`

	SeriesID   int           `json:"seriesId"`
	EpisodeIDs []int         `json:"episodeIds"`
	Quality    quality.Model `json:"quality"`
}

// TrackingID joins a client name and the client's own id for the item.
func TrackingID(client, downloadClientID string) string {
	return client + "-" + downloadClientID
}

// UpdateStatusMessage stores a new status message and logs it at level. A
// repeated message is only logged at debug so polling does not flood the log.
func (td *TrackedDownload) UpdateStatusMessage(level zerolog.Level, format string, args ...any) {
	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}

	if td.StatusMessage == message {
		log.Debug().Str("title", td.DownloadItem.Title).Str("trackingId", td.TrackingID).Msg(message)
		return
	}

	td.HasError = level >= zerolog.WarnLevel
	td.StatusMessage = message
	log.WithLevel(level).Str("title", td.DownloadItem.Title).Str("trackingId", td.TrackingID).Msg(message)
}

func (td *TrackedDownload) clone() TrackedDownload {
	out := *td
	out.EpisodeIDs = append([]int(nil), td.EpisodeIDs...)
	return out
}

// active downloads still occupy a slot in the client.
func (td *TrackedDownload) active() bool {
	return td.State == StateDownloading || td.State == StateImporting
}
