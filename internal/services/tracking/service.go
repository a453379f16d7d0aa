// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tracking follows grabbed releases through their download client
// until they complete, fail, or are removed.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/grabd/internal/decision/specs"
	"github.com/autobrr/grabd/internal/download"
	"github.com/autobrr/grabd/internal/history"
)

var ErrNotTracked = errors.New("download is not tracked")

// HistoryReader is the part of the history service the tracker reads.
type HistoryReader interface {
	Grabbed(ctx context.Context) ([]*history.History, error)
	Failed(ctx context.Context) ([]*history.History, error)
}

// FailureHandler applies the failed download policy to one tracked download.
// It is called with the record locked and may change any of its fields,
// including the tracking id.
type FailureHandler interface {
	CheckForFailedItem(ctx context.Context, client download.Client, td *TrackedDownload, grabbed, failed []*history.History)
	MarkAsFailed(ctx context.Context, td *TrackedDownload, grabbed []*history.History)
}

type Config struct {
	PollInterval  time.Duration
	ClientTimeout time.Duration
	// Concurrency bounds how many clients are polled at once.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:  time.Minute,
		ClientTimeout: download.DefaultClientTimeout,
		Concurrency:   4,
	}
}

type entry struct {
	mu sync.Mutex
	td *TrackedDownload
}

// Service owns the tracked download map. The map is guarded by mu, every
// record by its own mutex, so different downloads are processed in parallel.
type Service struct {
	cfg      Config
	registry *download.Registry
	cache    *download.ItemCache
	history  HistoryReader
	failures FailureHandler
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry

	refreshMu sync.Mutex
}

var _ specs.QueueProvider = (*Service)(nil)

func NewService(cfg Config, registry *download.Registry, cache *download.ItemCache, hist HistoryReader, failures FailureHandler) *Service {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = def.ClientTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cache == nil {
		cache = download.NewItemCache(0)
	}
	return &Service{
		cfg:      cfg,
		registry: registry,
		cache:    cache,
		history:  hist,
		failures: failures,
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
}

// Start polls the clients until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go func() {
		s.refreshAndLog(ctx)
		s.loop(ctx)
	}()
}

func (s *Service) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshAndLog(ctx)
		}
	}
}

func (s *Service) refreshAndLog(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("tracking: refresh failed")
	}
}

// Refresh polls every client once, reconciles the tracked set with what the
// clients report, and runs the failure policy on each tracked download.
func (s *Service) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	grabbed, err := s.history.Grabbed(ctx)
	if err != nil {
		return fmt.Errorf("load grabbed history: %w", err)
	}
	failed, err := s.history.Failed(ctx)
	if err != nil {
		return fmt.Errorf("load failed history: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, client := range s.registry.All() {
		g.Go(func() error {
			s.refreshClient(gctx, client, grabbed, failed)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Service) refreshClient(ctx context.Context, client download.Client, grabbed, failed []*history.History) {
	name := client.Name()
	if s.registry.IsInBackoff(name) {
		log.Debug().Str("downloadClient", name).Msg("tracking: client in backoff, keeping previous state")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ClientTimeout)
	items, err := s.cache.GetItems(callCtx, client)
	cancel()
	if err != nil {
		s.registry.TrackFailure(name, err)
		log.Warn().Err(err).Str("downloadClient", name).Msg("tracking: unable to poll download client, keeping previous state")
		return
	}
	s.registry.ResetFailureTracking(name)

	seen := make(map[string]struct{}, len(items))
	stale := false
	for _, item := range items {
		id := TrackingID(name, item.DownloadClientID)

		e := s.lookupOrCreate(id, name, item, grabbed)
		if e == nil {
			continue
		}

		e.mu.Lock()
		e.td.DownloadItem = item
		if e.td.State != StateIgnored && e.td.State != StateImported && e.td.State != StateRemoved && s.failures != nil {
			retries := e.td.RetryCount
			s.failures.CheckForFailedItem(ctx, client, e.td, grabbed, failed)
			// a retry or removal changed the client's queue
			if e.td.RetryCount != retries || e.td.TrackingID != id || e.td.State == StateRemoved {
				stale = true
			}
		}
		newID := e.td.TrackingID
		e.mu.Unlock()

		if newID != id {
			s.rekey(id, newID)
		}
		seen[newID] = struct{}{}
	}

	if stale {
		s.cache.Invalidate(name)
	}
	s.dropVanished(name, seen)
}

// lookupOrCreate returns the entry for id, creating it when the item matches a
// grab. Items nobody grabbed through us are left alone.
func (s *Service) lookupOrCreate(id, client string, item download.Item, grabbed []*history.History) *entry {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return e
	}

	grabs := history.ByDownloadClientID(grabbed, item.DownloadClientID)
	if len(grabs) == 0 {
		log.Trace().Str("downloadClient", client).Str("title", item.Title).Msg("tracking: item was not grabbed by us, ignoring")
		return nil
	}

	td := &TrackedDownload{
		TrackingID:      id,
		DownloadClient:  client,
		DownloadItem:    item,
		State:           StateDownloading,
		StartedTracking: s.now(),
		SeriesID:        grabs[0].SeriesID,
		EpisodeIDs:      history.EpisodeIDs(grabs),
		Quality:         grabs[0].Quality,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[id]; ok {
		return existing
	}
	e = &entry{td: td}
	s.entries[id] = e

	log.Debug().
		Str("downloadClient", client).
		Str("title", item.Title).
		Str("trackingId", id).
		Str("size", humanize.IBytes(uint64(max(item.TotalSize, 0)))).
		Msg("tracking: started tracking download")
	return e
}

func (s *Service) rekey(oldID, newID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[oldID]; ok {
		delete(s.entries, oldID)
		s.entries[newID] = e
	}
}

// dropVanished forgets downloads the client no longer reports.
func (s *Service) dropVanished(client string, seen map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if e.td.DownloadClient != client {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		delete(s.entries, id)
		log.Debug().Str("downloadClient", client).Str("trackingId", id).Msg("tracking: download no longer reported by client")
	}
}

func (s *Service) get(trackingID string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[trackingID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotTracked, trackingID)
	}
	return e, nil
}

// update runs fn with the record locked.
func (s *Service) update(trackingID string, fn func(td *TrackedDownload) error) error {
	e, err := s.get(trackingID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.td)
}

// Get returns a copy of one tracked download.
func (s *Service) Get(trackingID string) (TrackedDownload, error) {
	var out TrackedDownload
	err := s.update(trackingID, func(td *TrackedDownload) error {
		out = td.clone()
		return nil
	})
	return out, err
}

// List returns copies of every tracked download ordered by start time.
func (s *Service) List() []TrackedDownload {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]TrackedDownload, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.td.clone())
		e.mu.Unlock()
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedTracking.Equal(out[j].StartedTracking) {
			return out[i].TrackingID < out[j].TrackingID
		}
		return out[i].StartedTracking.Before(out[j].StartedTracking)
	})
	return out
}

// Ignore stops the failure policy from acting on a download.
func (s *Service) Ignore(trackingID string) error {
	return s.update(trackingID, func(td *TrackedDownload) error {
		td.State = StateIgnored
		return nil
	})
}

// MarkImported is called by the importer once the files are in place.
func (s *Service) MarkImported(trackingID string) error {
	return s.update(trackingID, func(td *TrackedDownload) error {
		td.State = StateImported
		return nil
	})
}

// MarkFailed fails a download by hand. The grab records are looked up by the
// item's client id.
func (s *Service) MarkFailed(ctx context.Context, trackingID string) error {
	if s.failures == nil {
		return errors.New("failed download handling is not configured")
	}

	grabbed, err := s.history.Grabbed(ctx)
	if err != nil {
		return fmt.Errorf("load grabbed history: %w", err)
	}

	return s.update(trackingID, func(td *TrackedDownload) error {
		grabs := history.ByDownloadClientID(grabbed, td.DownloadItem.DownloadClientID)
		if len(grabs) == 0 {
			return fmt.Errorf("no grab history for %s", trackingID)
		}
		s.failures.MarkAsFailed(ctx, td, grabs)
		return nil
	})
}

// Remove forgets a download without touching the client.
func (s *Service) Remove(trackingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[trackingID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, trackingID)
	}
	delete(s.entries, trackingID)
	return nil
}

// Queued lists active downloads for the queue check of the decision pipeline.
func (s *Service) Queued() []specs.QueueItem {
	var out []specs.QueueItem
	for _, td := range s.List() {
		if !td.active() {
			continue
		}
		out = append(out, specs.QueueItem{
			SeriesID:   td.SeriesID,
			EpisodeIDs: td.EpisodeIDs,
			Quality:    td.Quality,
			Title:      td.DownloadItem.Title,
		})
	}
	return out
}
