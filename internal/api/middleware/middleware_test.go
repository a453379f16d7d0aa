// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAPIKey(t *testing.T) {
	t.Parallel()

	handler := APIKeyFromQuery("apikey")(RequireAPIKey(func() string { return "secret" })(okHandler()))

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{name: "header", target: "/api/queue", header: "secret", want: http.StatusOK},
		{name: "query param", target: "/api/queue?apikey=secret", want: http.StatusOK},
		{name: "wrong key", target: "/api/queue", header: "nope", want: http.StatusUnauthorized},
		{name: "missing key", target: "/api/queue", want: http.StatusUnauthorized},
		{name: "header wins over query", target: "/api/queue?apikey=secret", header: "nope", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequireAPIKeyEmptyConfiguredKey(t *testing.T) {
	t.Parallel()

	handler := RequireAPIKey(func() string { return "" })(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hi"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"path":"/api/queue"`)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"bytes":2`)
}

func TestChiMiddlewareExports(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, RequestID)
	assert.NotNil(t, Recoverer)
	assert.NotNil(t, RealIP)
}
