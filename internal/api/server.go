// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/grabd/internal/api/handlers"
	"github.com/autobrr/grabd/internal/api/middleware"
	"github.com/autobrr/grabd/internal/config"
	"github.com/autobrr/grabd/internal/releases"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	queue     handlers.QueueService
	blacklist handlers.BlacklistStore
	decider   handlers.Decider
	grabber   handlers.Grabber
	parser    *releases.Parser
	ready     func(ctx context.Context) error
}

type Dependencies struct {
	Config    *config.AppConfig
	Version   string
	Queue     handlers.QueueService
	Blacklist handlers.BlacklistStore
	Decider   handlers.Decider
	Grabber   handlers.Grabber
	Parser    *releases.Parser
	Ready     func(ctx context.Context) error
}

func NewServer(deps *Dependencies) *Server {
	parser := deps.Parser
	if parser == nil {
		parser = releases.NewParser()
	}

	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:    log.Logger.With().Str("module", "api").Logger(),
		config:    deps.Config,
		version:   deps.Version,
		queue:     deps.Queue,
		blacklist: deps.Blacklist,
		decider:   deps.Decider,
		grabber:   deps.Grabber,
		parser:    parser,
		ready:     deps.Ready,
	}

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	cfg := s.config.Current()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	baseURL := s.config.Current().BaseURL
	host := listener.Addr().String()
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", baseURL).
		Msgf("Starting API server - Open: http://%s%sapi/queue", host, normalizeBaseURL(baseURL))

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID) // before the logger so lines carry the id
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedMethods: []string{"HEAD", "OPTIONS", "GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		MaxAge: 300,
	})
	r.Use(corsMiddleware.Handler)

	handlers.NewHealthHandler(s.ready).Routes(r)

	apiRouter := chi.NewRouter()
	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))
		r.Use(middleware.APIKeyFromQuery("apikey"))
		r.Use(middleware.RequireAPIKey(func() string { return s.config.Current().APIKey }))

		r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
			handlers.RespondJSON(w, http.StatusOK, map[string]string{"version": s.version})
		})

		if s.queue != nil {
			handlers.NewQueueHandler(s.queue).Routes(r)
		}
		if s.blacklist != nil {
			handlers.NewBlacklistHandler(s.blacklist).Routes(r)
		}
		if s.decider != nil {
			handlers.NewDecisionsHandler(s.decider, s.grabber, s.parser).Routes(r)
		}
	})

	r.Mount(normalizeBaseURL(s.config.Current().BaseURL)+"api", apiRouter)

	return r, nil
}

// normalizeBaseURL returns the base URL with leading and trailing slashes.
func normalizeBaseURL(baseURL string) string {
	baseURL = strings.Trim(baseURL, "/")
	if baseURL == "" {
		return "/"
	}
	return "/" + baseURL + "/"
}
