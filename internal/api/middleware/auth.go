// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog/log"
)

// APIKeyFromQuery promotes an API key query param into the X-API-Key header.
func APIKeyFromQuery(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") == "" {
				if apiKey := r.URL.Query().Get(param); apiKey != "" {
					r.Header.Set("X-API-Key", apiKey)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAPIKey rejects requests whose X-API-Key does not match. The key is
// read per request so a reloaded config takes effect without a restart.
func RequireAPIKey(key func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := key()
			got := r.Header.Get("X-API-Key")
			if want == "" || got == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
				log.Debug().Str("path", r.URL.Path).Msg("Rejected request with missing or invalid API key")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
