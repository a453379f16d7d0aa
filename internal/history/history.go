// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package history records grabs, imports and failures per episode.
package history

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/autobrr/grabd/internal/quality"
)

type EventType int

const (
	EventUnknown EventType = iota
	EventGrabbed
	EventImported
	EventDownloadFailed
	EventFileDeleted
)

func (e EventType) String() string {
	switch e {
	case EventGrabbed:
		return "grabbed"
	case EventImported:
		return "imported"
	case EventDownloadFailed:
		return "downloadFailed"
	case EventFileDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Data bag keys shared by every writer and reader of History.Data.
const (
	DataKeyDownloadClient   = "downloadClient"
	DataKeyDownloadClientID = "downloadClientId"
	DataKeyAgeHours         = "ageHours"
	DataKeyIndexer          = "indexer"
	DataKeyPublishedDate    = "publishedDate"
	DataKeySize             = "size"
	DataKeyGUID             = "guid"
	DataKeyMessage          = "message"
	DataKeyReason           = "reason"
)

// History is one event for one episode. Records are append-only except for Data.
type History struct {
	ID          int64             `json:"id"`
	EpisodeID   int               `json:"episodeId"`
	SeriesID    int               `json:"seriesId"`
	SourceTitle string            `json:"sourceTitle"`
	Quality     quality.Model     `json:"quality"`
	Date        time.Time         `json:"date"`
	EventType   EventType         `json:"eventType"`
	DownloadID  string            `json:"downloadId,omitempty"`
	Data        map[string]string `json:"data"`
}

// DownloadClientID is the external id the record was grabbed under, possibly
// rewritten by a retry.
func (h *History) DownloadClientID() string {
	if h == nil || h.Data == nil {
		return ""
	}
	return h.Data[DataKeyDownloadClientID]
}

// AgeHours parses the release age recorded at grab time.
func (h *History) AgeHours() (float64, bool) {
	if h == nil || h.Data == nil {
		return 0, false
	}
	raw, ok := h.Data[DataKeyAgeHours]
	if !ok {
		return 0, false
	}
	age, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return age, true
}

// FormatAgeHours writes ages the way AgeHours reads them.
func FormatAgeHours(age float64) string {
	return strconv.FormatFloat(age, 'f', -1, 64)
}

// Service is the history contract used by the tracking layer.
type Service interface {
	Grabbed(ctx context.Context) ([]*History, error)
	Failed(ctx context.Context) ([]*History, error)
	Add(ctx context.Context, h *History) error
	UpdateData(ctx context.Context, id int64, data map[string]string) error
	MostRecentForEpisode(ctx context.Context, episodeID int) (*History, error)
}

// ByDownloadClientID returns the records grabbed under the given external id.
func ByDownloadClientID(records []*History, downloadClientID string) []*History {
	if downloadClientID == "" {
		return nil
	}
	var out []*History
	for _, h := range records {
		if strings.EqualFold(h.DownloadClientID(), downloadClientID) {
			out = append(out, h)
		}
	}
	return out
}

// EpisodeIDs collects the distinct episode ids of the records.
func EpisodeIDs(records []*History) []int {
	seen := make(map[int]struct{}, len(records))
	ids := make([]int, 0, len(records))
	for _, h := range records {
		if _, ok := seen[h.EpisodeID]; ok {
			continue
		}
		seen[h.EpisodeID] = struct{}{}
		ids = append(ids, h.EpisodeID)
	}
	return ids
}

// CopyData returns a shallow copy of a data bag.
func CopyData(data map[string]string) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
