// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package blacklist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/autobrr/grabd/internal/dbinterface"
	"github.com/autobrr/grabd/internal/quality"
	"github.com/autobrr/grabd/internal/releases"
	"github.com/autobrr/grabd/pkg/stringutils"
)

var ErrNotFound = errors.New("blacklist entry not found")

// Entry is a release that failed and must not be grabbed again for the series.
type Entry struct {
	ID          int64         `json:"id"`
	EventID     string        `json:"eventId"`
	SeriesID    int           `json:"seriesId"`
	EpisodeIDs  []int         `json:"episodeIds"`
	SourceTitle string        `json:"sourceTitle"`
	Quality     quality.Model `json:"quality"`
	Indexer     string        `json:"indexer,omitempty"`
	Message     string        `json:"message,omitempty"`
	Date        time.Time     `json:"date"`
}

type Store struct {
	db dbinterface.Querier
}

func NewStore(db dbinterface.Querier) *Store {
	return &Store{db: db}
}

// titleHash keys entries on the folded title so punctuation and case
// differences between indexers still match.
func titleHash(title string) string {
	return strconv.FormatUint(xxhash.Sum64String(stringutils.NormalizeTitle(title)), 16)
}

func (s *Store) Add(ctx context.Context, e *Entry) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Date.IsZero() {
		e.Date = time.Now().UTC()
	}

	episodeIDs, err := json.Marshal(nonNil(e.EpisodeIDs))
	if err != nil {
		return fmt.Errorf("failed to encode episode ids: %w", err)
	}
	qualityJSON, err := json.Marshal(e.Quality)
	if err != nil {
		return fmt.Errorf("failed to encode quality: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO blacklist (event_id, series_id, episode_ids, source_title, title_hash, quality, indexer, message, date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.EventID, e.SeriesID, string(episodeIDs), e.SourceTitle, titleHash(e.SourceTitle), string(qualityJSON), e.Indexer, e.Message, e.Date.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert blacklist entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read blacklist id: %w", err)
	}
	e.ID = id
	return nil
}

// IsBlacklisted reports whether the release title failed before for the series.
func (s *Store) IsBlacklisted(ctx context.Context, seriesID int, release *releases.ReleaseInfo) (bool, error) {
	if release == nil {
		return false, nil
	}

	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM blacklist WHERE series_id = ? AND title_hash = ? LIMIT 1
	`, seriesID, titleHash(release.Title)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query blacklist: %w", err)
	}
	return true, nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, series_id, episode_ids, source_title, quality, indexer, message, date
		FROM blacklist
		ORDER BY date DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blacklist: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var (
			e           Entry
			episodeIDs  string
			qualityJSON string
			indexer     sql.NullString
			message     sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.SeriesID, &episodeIDs, &e.SourceTitle, &qualityJSON, &indexer, &message, &e.Date); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(episodeIDs), &e.EpisodeIDs); err != nil {
			return nil, fmt.Errorf("failed to decode episode ids for blacklist %d: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(qualityJSON), &e.Quality); err != nil {
			return nil, fmt.Errorf("failed to decode quality for blacklist %d: %w", e.ID, err)
		}
		e.Indexer = indexer.String
		e.Message = message.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blacklist WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete blacklist entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNil(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	return ids
}
