// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Version               string
	Host                  string `toml:"host" mapstructure:"host"`
	Port                  int    `toml:"port" mapstructure:"port"`
	BaseURL               string `toml:"baseUrl" mapstructure:"baseUrl"`
	APIKey                string `toml:"apiKey" mapstructure:"apiKey"`
	LogLevel              string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath               string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize            int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups         int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir               string `toml:"dataDir" mapstructure:"dataDir"`
	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`

	// Failed download handling. Grace period is in hours, retry interval in minutes.
	EnableFailedDownloadHandling bool `toml:"enableFailedDownloadHandling" mapstructure:"enableFailedDownloadHandling"`
	RemoveFailedDownloads        bool `toml:"removeFailedDownloads" mapstructure:"removeFailedDownloads"`
	BlacklistGracePeriod         int  `toml:"blacklistGracePeriod" mapstructure:"blacklistGracePeriod"`
	BlacklistRetryLimit          int  `toml:"blacklistRetryLimit" mapstructure:"blacklistRetryLimit"`
	BlacklistRetryInterval       int  `toml:"blacklistRetryInterval" mapstructure:"blacklistRetryInterval"`

	// MaximumSize in bytes, 0 means unlimited.
	MaximumSize int64 `toml:"maximumSize" mapstructure:"maximumSize"`

	PollInterval   time.Duration `toml:"pollInterval" mapstructure:"pollInterval"`
	ClientCacheTTL time.Duration `toml:"clientCacheTTL" mapstructure:"clientCacheTTL"`
	ClientTimeout  time.Duration `toml:"clientTimeout" mapstructure:"clientTimeout"`

	DownloadClients []DownloadClientConfig `toml:"downloadClients" mapstructure:"downloadClients"`
	QualityProfiles []QualityProfileConfig `toml:"qualityProfiles" mapstructure:"qualityProfiles"`

	ReleaseRestrictions []ReleaseRestrictionConfig `toml:"releaseRestrictions" mapstructure:"releaseRestrictions"`
}

type DownloadClientType string

const (
	DownloadClientQbittorrent DownloadClientType = "qbittorrent"
	DownloadClientSabnzbd     DownloadClientType = "sabnzbd"
)

type DownloadClientConfig struct {
	Name          string             `toml:"name" mapstructure:"name"`
	Type          DownloadClientType `toml:"type" mapstructure:"type"`
	Host          string             `toml:"host" mapstructure:"host"`
	Username      string             `toml:"username" mapstructure:"username"`
	Password      string             `toml:"password" mapstructure:"password"`
	BasicUser     string             `toml:"basicUser" mapstructure:"basicUser"`
	BasicPass     string             `toml:"basicPass" mapstructure:"basicPass"`
	APIKey        string             `toml:"apiKey" mapstructure:"apiKey"`
	Category      string             `toml:"category" mapstructure:"category"`
	Enabled       bool               `toml:"enabled" mapstructure:"enabled"`
	TLSSkipVerify bool               `toml:"tlsSkipVerify" mapstructure:"tlsSkipVerify"`
}

func (c DownloadClientConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("download client name is required")
	}
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("download client %q: host is required", c.Name)
	}
	switch c.Type {
	case DownloadClientQbittorrent:
	case DownloadClientSabnzbd:
		if c.APIKey == "" {
			return fmt.Errorf("download client %q: apiKey is required for sabnzbd", c.Name)
		}
	default:
		return fmt.Errorf("download client %q: unknown type %q", c.Name, c.Type)
	}
	return nil
}

type QualityProfileConfig struct {
	ID      int      `toml:"id" mapstructure:"id"`
	Name    string   `toml:"name" mapstructure:"name"`
	Allowed []string `toml:"allowed" mapstructure:"allowed"`
	Cutoff  string   `toml:"cutoff" mapstructure:"cutoff"`
}

type ReleaseRestrictionConfig struct {
	Name       string   `toml:"name" mapstructure:"name"`
	Required   []string `toml:"required" mapstructure:"required"`
	Ignored    []string `toml:"ignored" mapstructure:"ignored"`
	Expression string   `toml:"expression" mapstructure:"expression"`
	SeriesIDs  []int    `toml:"seriesIds" mapstructure:"seriesIds"`
}

// GracePeriod converts BlacklistGracePeriod hours.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.BlacklistGracePeriod) * time.Hour
}

// RetryInterval converts BlacklistRetryInterval minutes.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.BlacklistRetryInterval) * time.Minute
}
