// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package blacklist records failed downloads so the same release is not
// grabbed again.
package blacklist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/dbinterface"
	"github.com/autobrr/grabd/internal/history"
	"github.com/autobrr/grabd/internal/services/faileddownload"
)

const defaultQueueSize = 64

// Service is the single consumer of download failure events. Each event
// becomes one failed history record per episode plus one blacklist entry,
// written in one transaction.
type Service struct {
	db     dbinterface.TxBeginner
	store  *Store
	events chan faileddownload.DownloadFailedEvent
	now    func() time.Time

	// mu is held for reading while an event is handed to the queue. Run takes
	// it for writing before the final drain, so nothing is queued after it.
	mu      sync.RWMutex
	stopped bool

	// OnStored is called after an event was persisted. Optional.
	OnStored func(faileddownload.DownloadFailedEvent)
}

func NewService(db dbinterface.TxBeginner, queueSize int) *Service {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Service{
		db:     db,
		store:  NewStore(db),
		events: make(chan faileddownload.DownloadFailedEvent, queueSize),
		now:    time.Now,
	}
}

func (s *Service) Store() *Store { return s.store }

// Publish queues an event for Run. It blocks while the queue is full and
// drops the event once Run has stopped.
func (s *Service) Publish(event faileddownload.DownloadFailedEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		log.Error().Str("title", event.SourceTitle).Msg("blacklist: consumer stopped, dropping download failed event")
		return
	}
	s.events <- event
}

// Run consumes events until ctx is cancelled, then drains what is queued.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.stop()
			return
		case event := <-s.events:
			s.handle(ctx, event)
		}
	}
}

// stop refuses new events and stores everything already accepted. Blocked
// publishers still hold the read lock, so the queue is consumed until the
// write lock is granted.
func (s *Service) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(stopped)
	}()

	for {
		select {
		case event := <-s.events:
			s.handle(ctx, event)
		case <-stopped:
			s.drain(ctx)
			return
		}
	}
}

func (s *Service) drain(ctx context.Context) {
	for {
		select {
		case event := <-s.events:
			s.handle(ctx, event)
		default:
			return
		}
	}
}

func (s *Service) handle(ctx context.Context, event faileddownload.DownloadFailedEvent) {
	if err := s.Handle(ctx, event); err != nil {
		log.Error().Err(err).Str("title", event.SourceTitle).Msg("blacklist: failed to store download failed event")
		return
	}
	if s.OnStored != nil {
		s.OnStored(event)
	}
}

// Handle persists one event.
func (s *Service) Handle(ctx context.Context, event faileddownload.DownloadFailedEvent) error {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	hist := history.NewStore(tx)
	for _, episodeID := range event.EpisodeIDs {
		data := history.CopyData(event.Data)
		data[history.DataKeyMessage] = event.Message

		h := &history.History{
			EpisodeID:   episodeID,
			SeriesID:    event.SeriesID,
			SourceTitle: event.SourceTitle,
			Quality:     event.Quality,
			Date:        now,
			EventType:   history.EventDownloadFailed,
			DownloadID:  event.DownloadClientID,
			Data:        data,
		}
		if err := hist.Add(ctx, h); err != nil {
			return fmt.Errorf("record failure for episode %d: %w", episodeID, err)
		}
	}

	entry := &Entry{
		SeriesID:    event.SeriesID,
		EpisodeIDs:  event.EpisodeIDs,
		SourceTitle: event.SourceTitle,
		Quality:     event.Quality,
		Indexer:     event.Data[history.DataKeyIndexer],
		Message:     event.Message,
		Date:        now,
	}
	if err := NewStore(tx).Add(ctx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	log.Info().
		Str("title", event.SourceTitle).
		Int("seriesID", event.SeriesID).
		Str("eventID", entry.EventID).
		Msg("Release blacklisted")
	return nil
}
