// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/grabd/internal/decision/specs"
	"github.com/autobrr/grabd/internal/domain"
	"github.com/autobrr/grabd/internal/quality"
)

var envPrefix = "GRABD__"

type AppConfig struct {
	mu      sync.RWMutex
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	// Override with environment variables
	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	if err := c.Validate(); err != nil {
		return nil, err
	}

	// Resolve data directory after config is unmarshaled
	c.resolveDataDir()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	// Detect if running in container
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	apiKey, err := generateSecureToken(apiKeySize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate API key, using fallback")
		apiKey = "change-me-" + fmt.Sprintf("%d", os.Getpid())
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7479)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("apiKey", apiKey)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "") // Empty means auto-detect (next to config file)
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9074)
	c.viper.SetDefault("metricsBasicAuthUsers", "")

	c.viper.SetDefault("enableFailedDownloadHandling", true)
	c.viper.SetDefault("removeFailedDownloads", true)
	c.viper.SetDefault("blacklistGracePeriod", 2)
	c.viper.SetDefault("blacklistRetryLimit", 1)
	c.viper.SetDefault("blacklistRetryInterval", 60)
	c.viper.SetDefault("maximumSize", 0)
	c.viper.SetDefault("pollInterval", "60s")
	c.viper.SetDefault("clientCacheTTL", "5s")
	c.viper.SetDefault("clientTimeout", "30s")
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		// Determine if this is a directory or file path
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			// viper reports a missing explicit file as an fs error, not ConfigFileNotFoundError
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		// Search for config in standard locations
		c.viper.SetConfigName("config")
		c.viper.AddConfigPath(".")                   // Current directory
		c.viper.AddConfigPath(GetDefaultConfigDir()) // OS-specific config directory

		if err := c.viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				// No config found, create in OS-specific location
				defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
				if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
					return err
				}
				c.viper.SetConfigFile(defaultConfigPath)
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				c.dataDir = filepath.Dir(defaultConfigPath)
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// DO NOT use AutomaticEnv() - it reads ALL env vars and causes conflicts with K8s
	// Instead, explicitly bind only the environment variables we want

	// Use double underscore to avoid conflicts with K8s deployment_PORT patterns
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.bindOrReadFromFile("apiKey", envPrefix+"API_KEY")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")
	c.bindOrReadFromFile("metricsBasicAuthUsers", envPrefix+"METRICS_BASIC_AUTH_USERS")

	c.viper.BindEnv("enableFailedDownloadHandling", envPrefix+"ENABLE_FAILED_DOWNLOAD_HANDLING")
	c.viper.BindEnv("removeFailedDownloads", envPrefix+"REMOVE_FAILED_DOWNLOADS")
	c.viper.BindEnv("blacklistGracePeriod", envPrefix+"BLACKLIST_GRACE_PERIOD")
	c.viper.BindEnv("blacklistRetryLimit", envPrefix+"BLACKLIST_RETRY_LIMIT")
	c.viper.BindEnv("blacklistRetryInterval", envPrefix+"BLACKLIST_RETRY_INTERVAL")
	c.viper.BindEnv("maximumSize", envPrefix+"MAXIMUM_SIZE")
	c.viper.BindEnv("pollInterval", envPrefix+"POLL_INTERVAL")
	c.viper.BindEnv("clientCacheTTL", envPrefix+"CLIENT_CACHE_TTL")
	c.viper.BindEnv("clientTimeout", envPrefix+"CLIENT_TIMEOUT")
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		c.mu.Lock()
		next := &domain.Config{}
		if err := c.viper.Unmarshal(next); err != nil {
			c.mu.Unlock()
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}
		next.Version = c.version
		c.Config = next
		c.mu.Unlock()

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.ApplyLogConfig()
	c.notifyListeners()
}

// Current returns a copy of the active configuration. Safe to call while the
// file watcher swaps the config.
func (c *AppConfig) Current() domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.Config
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := c.Current()
	for _, listener := range listeners {
		listener(&copied)
	}
}

const configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 7479
port = {{ .port }}

# Base URL
# Set custom baseUrl eg /grabd/ to serve in subdirectory.
# Optional
#baseUrl = "/grabd/"

# API key
# Sent as X-API-Key (or ?apikey=) on every /api request.
# Auto-generated if not provided
apiKey = "{{ .apiKey }}"

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/grabd.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# Database file (grabd.db) will be created inside this directory
#dataDir = "/var/db/grabd"

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Failed download handling
# Retry, blacklist and optionally remove downloads the client reports as failed.
# Default: true
#enableFailedDownloadHandling = true

# Remove failed downloads from the download client
# Default: true
#removeFailedDownloads = true

# Releases younger than this many hours are retried before being blacklisted
# Default: 2
#blacklistGracePeriod = 2

# Retries per release before it is blacklisted
# Default: 1
#blacklistRetryLimit = 1

# Minutes between retries of the same release
# Default: 60
#blacklistRetryInterval = 60

# Maximum release size in bytes. 0 disables the check
# Default: 0
#maximumSize = 0

# How often download clients are polled
# Default: "60s"
#pollInterval = "60s"

# How long a client's item list is reused between polls
# Default: "5s"
#clientCacheTTL = "5s"

# Timeout for a single download client call
# Default: "30s"
#clientTimeout = "30s"

# Prometheus Metrics
# Default: false
#metricsEnabled = false

# Metrics server host (bind address for metrics endpoint)
# Default: "127.0.0.1"
#metricsHost = "127.0.0.1"

# Metrics server port
# Default: 9074
#metricsPort = 9074

# Basic authentication for metrics endpoint (optional)
# Format: "username:bcrypt_hash" or "user1:hash1,user2:hash2" for multiple users
# Passwords must be bcrypt-hashed. Use tools like htpasswd or online bcrypt generators
# Leave empty to disable authentication (default)
#metricsBasicAuthUsers = ""

# Download clients
#[[downloadClients]]
#name = "qbit"
#type = "qbittorrent"
#host = "http://localhost:8080"
#username = "admin"
#password = "adminadmin"
#category = "tv"
#enabled = true

#[[downloadClients]]
#name = "sab"
#type = "sabnzbd"
#host = "http://localhost:8085"
#apiKey = ""
#category = "tv"
#enabled = true

# Quality profiles
# Tiers: Unknown, SDTV, DVD, HDTV, WEBDL, Bluray720p, Bluray1080p
#[[qualityProfiles]]
#name = "HD"
#allowed = ["HDTV", "WEBDL", "Bluray720p", "Bluray1080p"]
#cutoff = "Bluray720p"

# Release restrictions
# Terms match the release title case-insensitively. The expression must
# evaluate to true; variables: Title, Indexer, Protocol, Size, Seeders,
# AgeHours, Quality, Proper, SeriesID, SeriesTitle, SeasonNumber, FullSeason
#[[releaseRestrictions]]
#name = "no x265"
#ignored = ["x265", "HEVC"]
#required = []
#expression = 'Size < 4 * 1024 * 1024 * 1024'
#seriesIds = []
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	data := map[string]any{
		"host":          c.viper.GetString("host"),
		"port":          c.viper.GetInt("port"),
		"apiKey":        c.viper.GetString("apiKey"),
		"logLevel":      c.viper.GetString("logLevel"),
		"logMaxSize":    c.viper.GetInt("logMaxSize"),
		"logMaxBackups": c.viper.GetInt("logMaxBackups"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// Helper functions

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	// First check if XDG_CONFIG_HOME is set (Docker containers set this to /config)
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		// If XDG_CONFIG_HOME is /config (Docker), use it directly
		if xdgConfig == "/config" {
			return xdgConfig
		}
		// Otherwise append grabd subdirectory
		return filepath.Join(xdgConfig, "grabd")
	}

	switch runtime.GOOS {
	case "windows":
		// Use %APPDATA%\grabd on Windows
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "grabd")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "grabd")
	default:
		// Use ~/.config/grabd for Unix-like systems
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "grabd")
	}
}

func detectContainer() bool {
	// Check Docker
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	// Check LXC
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	// Check if running as init
	if os.Getpid() == 1 {
		return true
	}
	return false
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	cfg := c.Current()
	setLogLevel(cfg.LogLevel)

	writer := c.baseLogWriter()

	if cfg.LogPath != "" {
		multiWriter, err := setupLogFile(cfg.LogPath, writer, cfg.LogMaxSize, cfg.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	// Create log directory if needed
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		writer.FormatTimestamp = func(i any) string {
			if i == nil {
				return ""
			}
			return fmt.Sprint(i)
		}
		writer.FormatMessage = func(i any) string {
			if i == nil {
				return ""
			}
			msg := strings.TrimSpace(fmt.Sprint(i))
			if msg == "" {
				return ""
			}
			return msg
		}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// DefaultLogWriter returns the base log writer for the provided version.
func DefaultLogWriter(version string) io.Writer {
	return baseLogWriter(version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(DefaultLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	// Check if it's a direct file path (ends with .toml) - backward compatibility
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	// Check if the path points to an existing file (backward compatibility)
	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	// Treat as directory path and append config.toml
	return filepath.Join(configDirOrPath, "config.toml")
}

// resolveDataDir sets the data directory based on configuration
func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path to the database file
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, "grabd.db")
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// GetConfigDir returns the directory containing the config file
func (c *AppConfig) GetConfigDir() string {
	if c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	// Fallback to default config directory when no config file is explicitly used
	return GetDefaultConfigDir()
}

const apiKeySize = 16

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

// Validate checks the download clients and quality profiles.
func (c *AppConfig) Validate() error {
	cfg := c.Current()
	seen := make(map[string]struct{}, len(cfg.DownloadClients))
	for _, dc := range cfg.DownloadClients {
		if err := dc.Validate(); err != nil {
			return err
		}
		if _, dup := seen[dc.Name]; dup {
			return fmt.Errorf("download client %q is defined twice", dc.Name)
		}
		seen[dc.Name] = struct{}{}
	}

	if _, err := c.QualityProfiles(); err != nil {
		return err
	}
	if cfg.BlacklistRetryLimit < 0 {
		return errors.New("blacklistRetryLimit must not be negative")
	}
	for _, rc := range cfg.ReleaseRestrictions {
		if rc.Expression == "" {
			continue
		}
		if _, err := specs.CompileRestriction(rc.Expression); err != nil {
			return fmt.Errorf("release restriction %q: %w", rc.Name, err)
		}
	}
	return nil
}

// Restrictions returns the release restrictions of the current config.
func (c *AppConfig) Restrictions() []specs.Restriction {
	cfg := c.Current()
	out := make([]specs.Restriction, 0, len(cfg.ReleaseRestrictions))
	for _, rc := range cfg.ReleaseRestrictions {
		out = append(out, specs.Restriction{
			Name:       rc.Name,
			Required:   rc.Required,
			Ignored:    rc.Ignored,
			Expression: rc.Expression,
			SeriesIDs:  rc.SeriesIDs,
		})
	}
	return out
}

// QualityProfiles builds the configured profiles. Profiles without an id are
// numbered from 1 in file order.
func (c *AppConfig) QualityProfiles() (*quality.Profiles, error) {
	cfg := c.Current()
	list := make([]*quality.Profile, 0, len(cfg.QualityProfiles))
	for _, pc := range cfg.QualityProfiles {
		p, err := quality.NewProfile(pc.Name, pc.Allowed, pc.Cutoff)
		if err != nil {
			return nil, err
		}
		p.ID = pc.ID
		list = append(list, p)
	}
	return quality.NewProfiles(list...), nil
}

// bindOrReadFromFile reads the value from the file named by envVar_FILE when
// set, otherwise binds envVar.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	envVarFile := envVar + "_FILE"
	if filePath := os.Getenv(envVarFile); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVarFile)
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return
	}
	c.viper.BindEnv(viperVar, envVar)
}
