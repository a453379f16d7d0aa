// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/grabd/internal/config"
	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/domain"
	"github.com/autobrr/grabd/internal/download"
	"github.com/autobrr/grabd/internal/releases"
	"github.com/autobrr/grabd/internal/services/blacklist"
	"github.com/autobrr/grabd/internal/services/tracking"
)

type routeKey struct {
	Method string
	Path   string
}

type stubQueue struct{}

func (stubQueue) List() []tracking.TrackedDownload { return nil }
func (stubQueue) Get(string) (tracking.TrackedDownload, error) {
	return tracking.TrackedDownload{}, tracking.ErrNotTracked
}
func (stubQueue) Ignore(string) error                       { return tracking.ErrNotTracked }
func (stubQueue) MarkFailed(context.Context, string) error  { return tracking.ErrNotTracked }
func (stubQueue) Remove(string) error                       { return tracking.ErrNotTracked }
func (stubQueue) Refresh(context.Context) error             { return nil }

type stubBlacklist struct{}

func (stubBlacklist) List(context.Context) ([]*blacklist.Entry, error) { return nil, nil }
func (stubBlacklist) Delete(context.Context, int64) error              { return blacklist.ErrNotFound }

type stubDecider struct{}

func (stubDecider) GetDecisions(context.Context, []*releases.RemoteEpisode, releases.SearchCriteria) ([]decision.Decision, error) {
	return nil, nil
}

type stubGrabber struct{}

func (stubGrabber) DownloadApproved(context.Context, []decision.Decision) ([]download.Grabbed, error) {
	return nil, nil
}

func newTestServer(t *testing.T, baseURL string) *Server {
	t.Helper()

	cfg := &config.AppConfig{Config: &domain.Config{
		Host:    "127.0.0.1",
		Port:    0,
		BaseURL: baseURL,
		APIKey:  "secret",
	}}

	return NewServer(&Dependencies{
		Config:    cfg,
		Version:   "test",
		Queue:     stubQueue{},
		Blacklist: stubBlacklist{},
		Decider:   stubDecider{},
		Grabber:   stubGrabber{},
		Ready:     func(context.Context) error { return nil },
	})
}

func TestHandlerRegistersRoutes(t *testing.T) {
	t.Parallel()

	router, err := newTestServer(t, "").Handler()
	require.NoError(t, err)

	routes := collectRouterRoutes(t, router)

	expected := []routeKey{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/healthz/readiness"},
		{http.MethodGet, "/healthz/liveness"},
		{http.MethodGet, "/api/version"},
		{http.MethodGet, "/api/queue"},
		{http.MethodPost, "/api/queue/refresh"},
		{http.MethodGet, "/api/queue/{trackingID}"},
		{http.MethodDelete, "/api/queue/{trackingID}"},
		{http.MethodPost, "/api/queue/{trackingID}/ignore"},
		{http.MethodPost, "/api/queue/{trackingID}/failed"},
		{http.MethodGet, "/api/blacklist"},
		{http.MethodDelete, "/api/blacklist/{id}"},
		{http.MethodPost, "/api/decisions"},
		{http.MethodPost, "/api/decisions/grab"},
		{http.MethodGet, "/api/parse"},
	}

	for _, route := range expected {
		_, ok := routes[route]
		assert.Truef(t, ok, "missing route %s %s\nregistered:\n%s", route.Method, route.Path, formatRoutes(routes))
	}
}

func TestHandlerRequiresAPIKey(t *testing.T) {
	t.Parallel()

	router, err := newTestServer(t, "").Handler()
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{name: "health is public", target: "/health", want: http.StatusOK},
		{name: "no key", target: "/api/queue", want: http.StatusUnauthorized},
		{name: "wrong key", target: "/api/queue", header: "nope", want: http.StatusUnauthorized},
		{name: "header key", target: "/api/queue", header: "secret", want: http.StatusOK},
		{name: "query key", target: "/api/queue?apikey=secret", want: http.StatusOK},
		{name: "unknown download", target: "/api/queue/sab-nzo_1", header: "secret", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHandlerHonoursBaseURL(t *testing.T) {
	t.Parallel()

	router, err := newTestServer(t, "/grabd/").Handler()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/grabd/api/version", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "test", body["version"])

	req = httptest.NewRequest(http.MethodGet, "/api/version", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNormalizeBaseURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":        "/",
		"/":       "/",
		"grabd":   "/grabd/",
		"/grabd":  "/grabd/",
		"/grabd/": "/grabd/",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeBaseURL(in), in)
	}
}

func collectRouterRoutes(t *testing.T, r chi.Routes) map[routeKey]struct{} {
	t.Helper()

	routes := make(map[routeKey]struct{})
	err := chi.Walk(r, func(method string, path string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if strings.Contains(path, "/*") {
			return nil
		}
		if path != "/" {
			path = strings.TrimSuffix(path, "/")
		}
		routes[routeKey{Method: strings.ToUpper(method), Path: path}] = struct{}{}
		return nil
	})
	require.NoError(t, err)

	return routes
}

func formatRoutes(routes map[routeKey]struct{}) string {
	lines := make([]string, 0, len(routes))
	for route := range routes {
		lines = append(lines, route.Method+" "+route.Path)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
