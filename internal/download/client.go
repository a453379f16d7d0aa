// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package download defines the contract every download-client backend implements
// and the grab path that hands accepted candidates to a backend.
package download

import (
	"context"
	"time"

	"github.com/autobrr/grabd/internal/releases"
)

// Client is a download-client backend.
type Client interface {
	Name() string
	Protocol() releases.Protocol

	// Download submits the candidate and returns the client's id for it.
	Download(ctx context.Context, candidate *releases.RemoteEpisode) (string, error)
	// GetItems returns the current queue and history snapshot.
	GetItems(ctx context.Context) ([]Item, error)
	// RemoveItem returns ErrNotSupported when the backend cannot remove items.
	RemoveItem(ctx context.Context, id string, deleteData bool) error
	// RetryDownload resubmits a failed item. The returned id may differ from id.
	RetryDownload(ctx context.Context, id string) (string, error)
	GetStatus(ctx context.Context) (Status, error)
}

type ItemStatus int

const (
	StatusQueued ItemStatus = iota
	StatusPaused
	StatusDownloading
	StatusCompleted
	StatusFailed
	StatusWarning
)

func (s ItemStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusPaused:
		return "paused"
	case StatusDownloading:
		return "downloading"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Item is one entry of a client's queue or history.
type Item struct {
	DownloadClient   string        `json:"downloadClient"`
	DownloadClientID string        `json:"downloadClientId"`
	Category         string        `json:"category,omitempty"`
	Title            string        `json:"title"`
	TotalSize        int64         `json:"totalSize"`
	RemainingSize    int64         `json:"remainingSize"`
	RemainingTime    time.Duration `json:"remainingTime"`
	OutputPath       string        `json:"outputPath,omitempty"`
	Message          string        `json:"message,omitempty"`
	Status           ItemStatus    `json:"status"`
	IsEncrypted      bool          `json:"isEncrypted"`
	IsReadOnly       bool          `json:"isReadOnly"`
}

type Status struct {
	IsLocalhost       bool     `json:"isLocalhost"`
	OutputRootFolders []string `json:"outputRootFolders"`
}
