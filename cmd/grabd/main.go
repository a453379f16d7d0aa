// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/grabd/internal/api"
	"github.com/autobrr/grabd/internal/buildinfo"
	"github.com/autobrr/grabd/internal/config"
	"github.com/autobrr/grabd/internal/database"
	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/decision/specs"
	"github.com/autobrr/grabd/internal/domain"
	"github.com/autobrr/grabd/internal/download"
	"github.com/autobrr/grabd/internal/download/qbittorrent"
	"github.com/autobrr/grabd/internal/download/sabnzbd"
	"github.com/autobrr/grabd/internal/history"
	"github.com/autobrr/grabd/internal/metrics"
	"github.com/autobrr/grabd/internal/releases"
	"github.com/autobrr/grabd/internal/services/blacklist"
	"github.com/autobrr/grabd/internal/services/faileddownload"
	"github.com/autobrr/grabd/internal/services/tracking"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "grabd",
		Short: "Release decision and download tracking engine for episodic media",
		Long: `grabd - decides which indexer releases to grab for a series,
hands them to qBittorrent or SABnzbd and tracks them until import or failure.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunDecideCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/grabd/ or %APPDATA%\\grabd\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		app.runServer()
	}

	return command
}

func RunVersionCommand() *cobra.Command {
	var asJSON bool

	command := &cobra.Command{
		Use:   "version",
		Short: "Print the version of grabd",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !asJSON {
				cmd.Println(buildinfo.String())
				return nil
			}
			out, err := buildinfo.JSON()
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}

	command.Flags().BoolVar(&asJSON, "json", false, "print build information as JSON")

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/grabd/config.toml
- Windows: %APPDATA%\grabd\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := resolveConfigFile(configDir)

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func resolveConfigFile(configDir string) string {
	if configDir == "" {
		return filepath.Join(config.GetDefaultConfigDir(), "config.toml")
	}
	if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
		return configDir
	}
	if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
		return configDir
	}
	return filepath.Join(configDir, "config.toml")
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func (app *Application) runServer() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	if app.dataDir != "" {
		os.Setenv("GRABD__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("GRABD__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting grabd")

	current := cfg.Current()

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	profiles, err := cfg.QualityProfiles()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load quality profiles")
	}

	registry, err := buildRegistry(current)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure download clients")
	}

	historyStore := history.NewStore(db)
	itemCache := download.NewItemCache(current.ClientCacheTTL)

	blacklistService := blacklist.NewService(db, 0)

	// set once the tracker exists, before anything can publish
	var engine *metrics.EngineCollector

	failures := faileddownload.NewService(
		func() faileddownload.Config { return failedDownloadConfig(cfg.Current()) },
		historyStore,
		func(event faileddownload.DownloadFailedEvent) {
			engine.ObserveDownloadFailed(event)
			blacklistService.Publish(event)
		},
		faileddownload.WithClientTimeout(current.ClientTimeout),
	)

	tracker := tracking.NewService(tracking.Config{
		PollInterval:  current.PollInterval,
		ClientTimeout: current.ClientTimeout,
	}, registry, itemCache, historyStore, failures)

	metricsManager := metrics.NewManager(tracker)
	engine = metricsManager.Engine()
	blacklistService.OnStored = engine.ObserveBlacklisted

	evaluator := decision.NewEvaluator(
		specs.Default(specs.Deps{
			Profiles:     profiles,
			Queue:        tracker,
			History:      historyStore,
			Blacklist:    blacklistService.Store(),
			MaximumSize:  func() int64 { return cfg.Current().MaximumSize },
			Restrictions: cfg.Restrictions,
		}),
		decision.WithObserver(engine.ObserveDecision),
	)

	grabber := download.NewService(registry, itemCache, historyStore,
		download.WithTimeout(current.ClientTimeout),
		download.WithGrabObserver(engine.ObserveGrab),
	)

	startupClients := slices.Clone(current.DownloadClients)
	startupProfiles := current.QualityProfiles
	cfg.RegisterReloadListener(func(conf *domain.Config) {
		if !slices.Equal(conf.DownloadClients, startupClients) {
			log.Warn().Msg("Download client changes take effect after a restart")
		}
		if !reflect.DeepEqual(conf.QualityProfiles, startupProfiles) {
			log.Warn().Msg("Quality profile changes take effect after a restart")
		}
	})

	workersCtx, workersCancel := context.WithCancel(context.Background())
	blacklistDone := make(chan struct{})
	go func() {
		blacklistService.Run(workersCtx)
		close(blacklistDone)
	}()
	tracker.Start(workersCtx)

	httpServer := api.NewServer(&api.Dependencies{
		Config:    cfg,
		Version:   buildinfo.Version,
		Queue:     tracker,
		Blacklist: blacklistService.Store(),
		Decider:   evaluator,
		Grabber:   grabber,
		Parser:    releases.NewParser(),
		Ready:     db.Ping,
	})

	errorChannel := make(chan error, 2)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	var metricsServer *metrics.MetricsServer
	if current.MetricsEnabled {
		metricsServer = metrics.NewMetricsServer(
			metricsManager,
			current.MetricsHost,
			current.MetricsPort,
			current.MetricsBasicAuthUsers,
		)

		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorChannel <- errors.Wrap(err, "metrics server")
			}
		}()
	}

	if app.pprofFlag {
		go func() {
			log.Info().Msg("Starting pprof server on :6060")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
		exitCode = 1
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("got error during metrics server shutdown")
		}
	}

	// stop polling, then let the blacklist consumer drain
	workersCancel()
	select {
	case <-blacklistDone:
	case <-ctx.Done():
		log.Warn().Msg("blacklist consumer did not finish before shutdown timeout")
	}

	db.Close()
	os.Exit(exitCode)
}

func failedDownloadConfig(c domain.Config) faileddownload.Config {
	return faileddownload.Config{
		EnableFailedDownloadHandling: c.EnableFailedDownloadHandling,
		RemoveFailedDownloads:        c.RemoveFailedDownloads,
		BlacklistGracePeriod:         c.GracePeriod(),
		BlacklistRetryLimit:          c.BlacklistRetryLimit,
		BlacklistRetryInterval:       c.RetryInterval(),
	}
}

// buildRegistry creates one backend per enabled download client.
func buildRegistry(c domain.Config) (*download.Registry, error) {
	registry, err := download.NewRegistry()
	if err != nil {
		return nil, err
	}

	for _, dc := range c.DownloadClients {
		if !dc.Enabled {
			log.Info().Str("client", dc.Name).Msg("Skipping disabled download client")
			continue
		}

		var client download.Client
		switch dc.Type {
		case domain.DownloadClientQbittorrent:
			client = qbittorrent.New(qbittorrent.Config{
				Name:          dc.Name,
				Host:          dc.Host,
				Username:      dc.Username,
				Password:      dc.Password,
				BasicUser:     dc.BasicUser,
				BasicPass:     dc.BasicPass,
				Category:      dc.Category,
				TLSSkipVerify: dc.TLSSkipVerify,
				Timeout:       c.ClientTimeout,
			})
		case domain.DownloadClientSabnzbd:
			client = sabnzbd.New(sabnzbd.Config{
				Name:     dc.Name,
				Host:     dc.Host,
				APIKey:   dc.APIKey,
				Category: dc.Category,
				Timeout:  c.ClientTimeout,
			})
		default:
			return nil, fmt.Errorf("download client %q: unknown type %q", dc.Name, dc.Type)
		}

		if err := registry.Add(client); err != nil {
			return nil, err
		}
		log.Info().Str("client", dc.Name).Str("type", string(dc.Type)).Msg("Registered download client")
	}

	if len(registry.All()) == 0 {
		log.Warn().Msg("No download clients configured, approved releases cannot be grabbed")
	}

	return registry, nil
}
