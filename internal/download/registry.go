// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package download

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/releases"
)

const (
	initialBackoff = 10 * time.Second
	maxBackoff     = 1 * time.Minute

	banInitialBackoff = 5 * time.Minute
	banMaxBackoff     = 1 * time.Hour
)

type failureInfo struct {
	nextRetry time.Time
	attempts  int
}

// Registry is the ordered set of configured clients. Clients that keep failing
// are skipped for an exponentially growing backoff period.
type Registry struct {
	mu             sync.RWMutex
	clients        []Client
	byName         map[string]Client
	failureTracker map[string]*failureInfo
	now            func() time.Time
}

func NewRegistry(clients ...Client) (*Registry, error) {
	r := &Registry{
		byName:         make(map[string]Client),
		failureTracker: make(map[string]*failureInfo),
		now:            time.Now,
	}
	for _, c := range clients {
		if err := r.Add(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Add(c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(c.Name())
	if _, exists := r.byName[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClient, c.Name())
	}
	r.byName[key] = c
	r.clients = append(r.clients, c)
	return nil
}

// Get looks a client up by case-insensitive name.
func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, name)
	}
	return c, nil
}

// All returns every registered client in registration order.
func (r *Registry) All() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Client(nil), r.clients...)
}

// ForProtocol returns the clients for p that are not backing off.
func (r *Registry) ForProtocol(p releases.Protocol) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Client
	for _, c := range r.clients {
		if c.Protocol() != p || r.isInBackoffLocked(c.Name()) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsInBackoff(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isInBackoffLocked(name)
}

func (r *Registry) isInBackoffLocked(name string) bool {
	info, exists := r.failureTracker[strings.ToLower(name)]
	if !exists {
		return false
	}
	return r.now().Before(info.nextRetry)
}

// TrackFailure records a transport failure and applies exponential backoff.
func (r *Registry) TrackFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(name)
	info, exists := r.failureTracker[key]
	if !exists {
		info = &failureInfo{}
		r.failureTracker[key] = info
	}
	info.attempts++

	var backoffDuration time.Duration
	if isBanError(err) {
		backoffDuration = calculateBackoff(info.attempts, banInitialBackoff, banMaxBackoff)
		log.Warn().Str("downloadClient", name).Int("attempts", info.attempts).Dur("backoffDuration", backoffDuration).Msg("Download client refused access, applying extended backoff")
	} else {
		backoffDuration = calculateBackoff(info.attempts, initialBackoff, maxBackoff)
		log.Debug().Str("downloadClient", name).Int("attempts", info.attempts).Dur("backoffDuration", backoffDuration).Msg("Download client failure, applying backoff")
	}

	info.nextRetry = r.now().Add(backoffDuration)
}

// ResetFailureTracking clears the backoff after a successful call.
func (r *Registry) ResetFailureTracking(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(name)
	if _, exists := r.failureTracker[key]; exists {
		delete(r.failureTracker, key)
		log.Debug().Str("downloadClient", name).Msg("Reset failure tracking after successful call")
	}
}

func calculateBackoff(attempts int, initialDuration, maxDuration time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 16 {
		return maxDuration
	}
	return min(time.Duration(1<<(attempts-1))*initialDuration, maxDuration)
}

func isBanError(err error) bool {
	if err == nil {
		return false
	}

	errorStr := strings.ToLower(err.Error())
	return strings.Contains(errorStr, "banned") ||
		strings.Contains(errorStr, "too many failed login attempts") ||
		strings.Contains(errorStr, "403") ||
		strings.Contains(errorStr, "forbidden")
}
