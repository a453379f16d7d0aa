// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/grabd/internal/dbinterface"
)

var ErrNotFound = errors.New("history record not found")

// Store persists history in the history table.
type Store struct {
	db  dbinterface.Querier
	now func() time.Time
}

func NewStore(db dbinterface.Querier) *Store {
	return &Store{db: db, now: time.Now}
}

const selectColumns = `id, episode_id, series_id, source_title, quality, date, event_type, download_id, data`

func (s *Store) Grabbed(ctx context.Context) ([]*History, error) {
	return s.byEventType(ctx, EventGrabbed)
}

func (s *Store) Failed(ctx context.Context) ([]*History, error) {
	return s.byEventType(ctx, EventDownloadFailed)
}

func (s *Store) byEventType(ctx context.Context, eventType EventType) ([]*History, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM history
		WHERE event_type = ?
		ORDER BY date DESC, id DESC
	`, int(eventType))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s history: %w", eventType, err)
	}
	defer rows.Close()

	var out []*History
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) Add(ctx context.Context, h *History) error {
	if h.Date.IsZero() {
		h.Date = s.now().UTC()
	}
	if h.Data == nil {
		h.Data = map[string]string{}
	}

	qualityJSON, err := json.Marshal(h.Quality)
	if err != nil {
		return fmt.Errorf("failed to encode quality: %w", err)
	}
	dataJSON, err := json.Marshal(h.Data)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO history (episode_id, series_id, source_title, quality, date, event_type, download_id, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, h.EpisodeID, h.SeriesID, h.SourceTitle, string(qualityJSON), h.Date.UTC(), int(h.EventType), h.DownloadID, string(dataJSON))
	if err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read history id: %w", err)
	}
	h.ID = id
	return nil
}

// UpdateData replaces the data bag of one record.
func (s *Store) UpdateData(ctx context.Context, id int64, data map[string]string) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE history SET data = ? WHERE id = ?`, string(dataJSON), id)
	if err != nil {
		return fmt.Errorf("failed to update history data: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) MostRecentForEpisode(ctx context.Context, episodeID int) (*History, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM history
		WHERE episode_id = ?
		ORDER BY date DESC, id DESC
		LIMIT 1
	`, episodeID)

	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistory(row scanner) (*History, error) {
	var (
		h           History
		eventType   int
		qualityJSON string
		dataJSON    string
		downloadID  sql.NullString
	)

	if err := row.Scan(&h.ID, &h.EpisodeID, &h.SeriesID, &h.SourceTitle, &qualityJSON, &h.Date, &eventType, &downloadID, &dataJSON); err != nil {
		return nil, err
	}

	h.EventType = EventType(eventType)
	h.DownloadID = downloadID.String

	if err := json.Unmarshal([]byte(qualityJSON), &h.Quality); err != nil {
		return nil, fmt.Errorf("failed to decode quality for history %d: %w", h.ID, err)
	}
	h.Data = map[string]string{}
	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &h.Data); err != nil {
			return nil, fmt.Errorf("failed to decode data for history %d: %w", h.ID, err)
		}
	}

	return &h, nil
}
