// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package download

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotSupported is returned by backends for operations they cannot perform.
	ErrNotSupported = errors.New("operation not supported by download client")

	ErrClientNotFound    = errors.New("download client not found")
	ErrDuplicateClient   = errors.New("download client already registered")
	ErrNoClientAvailable = errors.New("no download client available for protocol")
)

// ReleaseDownloadError means the client refused or could not fetch the release.
// The caller should try the next candidate.
type ReleaseDownloadError struct {
	Client string
	Title  string
	Err    error
}

func (e *ReleaseDownloadError) Error() string {
	return fmt.Sprintf("download client %s: failed to download %q: %v", e.Client, e.Title, e.Err)
}

func (e *ReleaseDownloadError) Unwrap() error { return e.Err }

// TransportError means the client could not be reached or did not answer in time.
// It never advances a tracked download.
type TransportError struct {
	Client string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("download client %s: %s: %v", e.Client, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of time.
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// WrapTransport converts a raw backend error into a TransportError. Errors that
// already belong to this package pass through untouched.
func WrapTransport(client, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotSupported) {
		return err
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return err
	}
	var release *ReleaseDownloadError
	if errors.As(err, &release) {
		return err
	}
	return &TransportError{Client: client, Op: op, Err: errors.WithStack(err)}
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}
