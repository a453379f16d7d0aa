// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package faileddownload decides what happens to downloads their client
// reports as failed: retry, blacklist, or leave alone.
package faileddownload

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/download"
	"github.com/autobrr/grabd/internal/history"
	"github.com/autobrr/grabd/internal/quality"
	"github.com/autobrr/grabd/internal/services/tracking"
)

// diskFullMessage is reported by SABnzbd when unpacking ran out of space.
// That is not the release's fault, so it is never blacklisted.
const diskFullMessage = "Unpacking failed, write error or disk is full?"

type Config struct {
	EnableFailedDownloadHandling bool
	RemoveFailedDownloads        bool
	// BlacklistGracePeriod is the release age under which a failure is retried first.
	BlacklistGracePeriod   time.Duration
	BlacklistRetryLimit    int
	BlacklistRetryInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		EnableFailedDownloadHandling: true,
		RemoveFailedDownloads:        true,
		BlacklistGracePeriod:         2 * time.Hour,
		BlacklistRetryLimit:          1,
		BlacklistRetryInterval:       time.Hour,
	}
}

// DownloadFailedEvent is published once per failed grab.
type DownloadFailedEvent struct {
	SeriesID         int               `json:"seriesId"`
	EpisodeIDs       []int             `json:"episodeIds"`
	Quality          quality.Model     `json:"quality"`
	SourceTitle      string            `json:"sourceTitle"`
	DownloadClient   string            `json:"downloadClient"`
	DownloadClientID string            `json:"downloadClientId"`
	Message          string            `json:"message"`
	Data             map[string]string `json:"data"`
}

// Publisher receives failure events. It must not block for long; the daemon
// hands events to a single consumer over a buffered channel.
type Publisher func(DownloadFailedEvent)

// DataUpdater rewrites a history data bag after a retry changed the client id.
type DataUpdater interface {
	UpdateData(ctx context.Context, id int64, data map[string]string) error
}

type Service struct {
	config  func() Config
	history DataUpdater
	publish Publisher
	timeout time.Duration
	now     func() time.Time
}

var _ tracking.FailureHandler = (*Service)(nil)

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithClientTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService reads config on every check so reloaded settings apply on the next poll.
func NewService(config func() Config, hist DataUpdater, publish Publisher, opts ...Option) *Service {
	s := &Service{
		config:  config,
		history: hist,
		publish: publish,
		timeout: download.DefaultClientTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MarkAsFailed fails a download on user request.
func (s *Service) MarkAsFailed(_ context.Context, td *tracking.TrackedDownload, grabbed []*history.History) {
	if td != nil && td.State == tracking.StateDownloading {
		td.State = tracking.StateDownloadFailed
	}
	s.publishFailed(grabbed, "Manually marked as failed")
}

// CheckForFailedItem runs the failure policy for one tracked download. grabbed
// and failed are the full grab and failure history.
func (s *Service) CheckForFailedItem(ctx context.Context, client download.Client, td *tracking.TrackedDownload, grabbed, failed []*history.History) {
	cfg := s.config()
	if !cfg.EnableFailedDownloadHandling {
		return
	}

	item := &td.DownloadItem

	if item.IsEncrypted && td.State == tracking.StateDownloading {
		grabs := history.ByDownloadClientID(grabbed, item.DownloadClientID)
		if len(grabs) == 0 {
			td.UpdateStatusMessage(zerolog.DebugLevel, "Download was not grabbed by us, ignoring download")
			return
		}

		td.State = tracking.StateDownloadFailed

		if len(history.ByDownloadClientID(failed, item.DownloadClientID)) > 0 {
			td.UpdateStatusMessage(zerolog.DebugLevel, "Already added to history as failed.")
		} else {
			s.publishFailed(grabs, "Encrypted download detected")
		}
	}

	if item.Status == download.StatusFailed && td.State == tracking.StateDownloading {
		grabs := history.ByDownloadClientID(grabbed, item.DownloadClientID)
		if len(grabs) == 0 {
			td.UpdateStatusMessage(zerolog.DebugLevel, "Download wasn't grabbed by us or not in a category, ignoring download.")
			return
		}

		if strings.EqualFold(item.Message, diskFullMessage) {
			td.UpdateStatusMessage(zerolog.ErrorLevel, "Download failed due to lack of disk space, not blacklisting.")
			return
		}

		if s.failedDownloadForRecentRelease(ctx, client, td, grabs, cfg) {
			log.Debug().Str("title", item.Title).Msg("Recent release failed, not blacklisting")
			return
		}

		td.State = tracking.StateDownloadFailed

		if len(history.ByDownloadClientID(failed, item.DownloadClientID)) > 0 {
			td.UpdateStatusMessage(zerolog.DebugLevel, "Already added to history as failed.")
		} else {
			s.publishFailed(grabs, item.Message)
		}
	}

	if item.Status != download.StatusFailed && td.State == tracking.StateDownloading {
		grabs := history.ByDownloadClientID(grabbed, item.DownloadClientID)
		fails := history.ByDownloadClientID(failed, item.DownloadClientID)
		if len(grabs) > 0 && len(fails) > 0 {
			td.UpdateStatusMessage(zerolog.DebugLevel, "Already added to history as failed, updating tracked state.")
			td.State = tracking.StateDownloadFailed
		}
	}

	if cfg.RemoveFailedDownloads && td.State == tracking.StateDownloadFailed {
		s.remove(ctx, client, td)
	}
}

func (s *Service) remove(ctx context.Context, client download.Client, td *tracking.TrackedDownload) {
	log.Debug().Str("title", td.DownloadItem.Title).Msg("Removing failed download from client")

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := client.RemoveItem(callCtx, td.DownloadItem.DownloadClientID, true)
	switch {
	case err == nil:
		td.State = tracking.StateRemoved
	case errors.Is(err, download.ErrNotSupported):
		td.UpdateStatusMessage(zerolog.DebugLevel, "Removing item not supported by your download client.")
	default:
		log.Warn().Err(err).Str("title", td.DownloadItem.Title).Str("downloadClient", client.Name()).Msg("Unable to remove failed download from client")
	}
}

// failedDownloadForRecentRelease retries young releases a bounded number of
// times. It reports whether the failure was handled by a retry (or by waiting
// for the next one), in which case the release is not blacklisted yet.
func (s *Service) failedDownloadForRecentRelease(ctx context.Context, client download.Client, td *tracking.TrackedDownload, grabs []*history.History, cfg Config) bool {
	first := grabs[0]

	ageHours, ok := first.AgeHours()
	if !ok {
		td.UpdateStatusMessage(zerolog.InfoLevel, "Unable to determine age of failed download.")
		return false
	}

	if ageHours > cfg.BlacklistGracePeriod.Hours() {
		td.UpdateStatusMessage(zerolog.InfoLevel, "Download Failed, Failed download is older than the grace period.")
		return false
	}

	if td.RetryCount >= cfg.BlacklistRetryLimit {
		td.UpdateStatusMessage(zerolog.InfoLevel, "Download Failed, Retry limit reached.")
		return false
	}

	now := s.now()

	// a download that never retried is due immediately
	if !td.LastRetry.IsZero() && !td.LastRetry.Add(cfg.BlacklistRetryInterval).Before(now) {
		td.UpdateStatusMessage(zerolog.WarnLevel, "Download Failed, waiting for retry interval to expire.")
		return true
	}

	prevRetry, prevCount := td.LastRetry, td.RetryCount
	td.LastRetry = now
	td.RetryCount++
	td.UpdateStatusMessage(zerolog.InfoLevel, "Download Failed, initiating retry attempt %d/%d.", td.RetryCount, cfg.BlacklistRetryLimit)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	newID, err := client.RetryDownload(callCtx, td.DownloadItem.DownloadClientID)
	cancel()

	switch {
	case errors.Is(err, download.ErrNotSupported):
		td.UpdateStatusMessage(zerolog.DebugLevel, "Retrying failed downloads is not supported by your download client.")
		return false
	case download.IsTransport(err):
		// an unreachable client leaves the download as it was
		td.LastRetry, td.RetryCount = prevRetry, prevCount
		log.Warn().Err(err).Str("title", td.DownloadItem.Title).Str("downloadClient", client.Name()).Msg("Unable to reach download client to retry failed download")
		return true
	case err != nil:
		// a refused retry still uses up the attempt
		td.UpdateStatusMessage(zerolog.WarnLevel, "Download Failed, retry attempt %d/%d was refused by the download client.", td.RetryCount, cfg.BlacklistRetryLimit)
		log.Warn().Err(err).Str("title", td.DownloadItem.Title).Str("downloadClient", client.Name()).Msg("Download client refused to retry failed download")
		return true
	}

	if newID != "" && newID != td.DownloadItem.DownloadClientID {
		oldTrackingID := td.TrackingID
		td.TrackingID = tracking.TrackingID(client.Name(), newID)
		td.DownloadItem.DownloadClientID = newID

		log.Debug().Str("title", td.DownloadItem.Title).Msgf("Changed id from %s to %s", oldTrackingID, td.TrackingID)

		data := history.CopyData(first.Data)
		data[history.DataKeyDownloadClientID] = newID
		// grab records are shared with other clients' goroutines, the next
		// refresh reads the rewritten bag from the store
		if err := s.history.UpdateData(ctx, first.ID, data); err != nil {
			log.Error().Err(err).Int64("historyID", first.ID).Msg("Unable to update grab history with new download id")
		}
	}
	return true
}

func (s *Service) publishFailed(grabs []*history.History, message string) {
	if len(grabs) == 0 || s.publish == nil {
		return
	}
	first := grabs[0]

	event := DownloadFailedEvent{
		SeriesID:         first.SeriesID,
		EpisodeIDs:       make([]int, 0, len(grabs)),
		Quality:          first.Quality,
		SourceTitle:      first.SourceTitle,
		DownloadClient:   first.Data[history.DataKeyDownloadClient],
		DownloadClientID: first.Data[history.DataKeyDownloadClientID],
		Message:          message,
		Data:             history.CopyData(first.Data),
	}
	for _, h := range grabs {
		event.EpisodeIDs = append(event.EpisodeIDs, h.EpisodeID)
	}

	log.Info().
		Str("title", first.SourceTitle).
		Str("downloadClient", event.DownloadClient).
		Str("message", message).
		Msg("Download failed")

	s.publish(event)
}
