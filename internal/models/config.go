// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every service component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, geo, rate limiting, etc.)
// - Defaults that work out of the box on a developer machine with no edge network
// - Validation to catch misconfigurations before the server starts
package models

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Rate limit store constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Storage: Letter persistence
// - Geo: Country routing and redirect behaviour
// - RateLimit: Admission control for public write endpoints
// - Redis: Shared store for rate limiting across instances
// - Logging: Structured logging and output configuration
// - Metrics: Prometheus endpoint
// - Observability: Tracing
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Geo           GeoConfig           `yaml:"geo" json:"geo"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// CountryGroupConfig maps a set of ISO 3166-1 alpha-2 codes onto one country site.
type CountryGroupConfig struct {
	Country string   `yaml:"country" json:"country"`
	Codes   []string `yaml:"codes" json:"codes"`
}

// GeoConfig controls how requests outside a country subtree are redirected.
// Groups are evaluated in order; the first group containing the detected
// code wins.
type GeoConfig struct {
	Enabled         bool                 `yaml:"enabled" json:"enabled"`
	Header          string               `yaml:"header" json:"header"`
	OverrideCookie  string               `yaml:"override_cookie" json:"override_cookie"`
	DetectedCookie  string               `yaml:"detected_cookie" json:"detected_cookie"`
	CookieMaxAge    time.Duration        `yaml:"cookie_max_age" json:"cookie_max_age"`
	FallbackCode    string               `yaml:"fallback_code" json:"fallback_code"`
	DefaultCountry  string               `yaml:"default_country" json:"default_country"`
	RedirectStatus  int                  `yaml:"redirect_status" json:"redirect_status"`
	ExcludePrefixes []string             `yaml:"exclude_prefixes" json:"exclude_prefixes"`
	ExcludePattern  string               `yaml:"exclude_pattern" json:"exclude_pattern"`
	Groups          []CountryGroupConfig `yaml:"groups" json:"groups"`
	WatchConfig     bool                 `yaml:"watch_config" json:"watch_config"`
}

type RateLimitConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	Store          string `yaml:"store" json:"store"`
	MaxRequests    int    `yaml:"max_requests" json:"max_requests"`
	WindowSeconds  int    `yaml:"window_seconds" json:"window_seconds"`
	HighWaterMark  int    `yaml:"high_water_mark" json:"high_water_mark"`
	PlatformHeader string `yaml:"platform_header" json:"platform_header"`
	KeyPrefix      string `yaml:"key_prefix" json:"key_prefix"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// DefaultCountryGroups returns the membership lists used when the config
// file does not provide any. Order matters: US, then CA, then UK, then FR.
func DefaultCountryGroups() []CountryGroupConfig {
	return []CountryGroupConfig{
		{Country: "us", Codes: []string{"US", "PR", "GU", "VI", "AS", "MP", "UM"}},
		{Country: "ca", Codes: []string{"CA"}},
		{Country: "uk", Codes: []string{"GB", "UK", "IM", "JE", "GG"}},
		{Country: "fr", Codes: []string{"FR", "MC", "GP", "MQ", "GF", "RE", "YT", "PM", "BL", "MF", "NC", "PF", "WF"}},
	}
}

// DefaultExcludePrefixes are never geo-routed.
func DefaultExcludePrefixes() []string {
	return []string{
		"/api",
		"/health",
		"/metrics",
		"/_next/static",
		"/_next/image",
		"/static",
		"/favicon.ico",
		"/robots.txt",
		"/sitemap.xml",
		"/manifest.webmanifest",
	}
}

// NewDefaultConfig creates a configuration with defaults suitable for local
// development: in-memory storage, in-memory rate limiting, and geo routing
// that falls back to Germany when no edge header is present.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type"},
				MaxAge:         86400,
			},
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Geo: GeoConfig{
			Enabled:         true,
			Header:          "X-Vercel-IP-Country",
			OverrideCookie:  "country",
			DetectedCookie:  "detected_country",
			CookieMaxAge:    30 * 24 * time.Hour,
			FallbackCode:    "DE",
			DefaultCountry:  "de",
			RedirectStatus:  http.StatusTemporaryRedirect,
			ExcludePrefixes: DefaultExcludePrefixes(),
			ExcludePattern:  `\.(?:svg|png|jpe?g|gif|webp|ico|css|js|map|txt|xml|woff2?)$`,
			Groups:          DefaultCountryGroups(),
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			Store:          RateLimitStoreMemory,
			MaxRequests:    10,
			WindowSeconds:  60,
			HighWaterMark:  10000,
			PlatformHeader: "X-Vercel-Forwarded-For",
			KeyPrefix:      "lettertool:ratelimit",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "lettertool",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Geo.Validate(); err != nil {
		return fmt.Errorf("invalid geo config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if c.RateLimit.Enabled && c.RateLimit.Store == RateLimitStoreRedis && c.Redis.Addr == "" {
		return errors.New("invalid redis config: address is required when rate limit store is redis")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
		return nil
	case StorageTypePostgres, StorageTypeSQLite:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
		return nil
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
}

func (gc *GeoConfig) Validate() error {
	if !gc.Enabled {
		return nil
	}

	if gc.Header == "" {
		return errors.New("geo header cannot be empty")
	}

	if gc.OverrideCookie == "" || gc.DetectedCookie == "" {
		return errors.New("cookie names cannot be empty")
	}

	if gc.CookieMaxAge < 0 {
		return errors.New("cookie max age cannot be negative")
	}

	if gc.RedirectStatus != http.StatusTemporaryRedirect && gc.RedirectStatus != http.StatusPermanentRedirect {
		return fmt.Errorf("redirect status must be 307 or 308, got %d", gc.RedirectStatus)
	}

	if !IsSupportedCountry(gc.DefaultCountry) {
		return fmt.Errorf("unsupported default country: %s", gc.DefaultCountry)
	}

	for i, group := range gc.Groups {
		if !IsSupportedCountry(group.Country) {
			return fmt.Errorf("group %d: unsupported country: %s", i, group.Country)
		}
		if len(group.Codes) == 0 {
			return fmt.Errorf("group %d (%s): codes cannot be empty", i, group.Country)
		}
	}

	if gc.ExcludePattern != "" {
		if _, err := regexp.Compile(gc.ExcludePattern); err != nil {
			return fmt.Errorf("invalid exclude pattern: %w", err)
		}
	}

	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}

	if rc.Store != RateLimitStoreMemory && rc.Store != RateLimitStoreRedis {
		return fmt.Errorf("invalid rate limit store: %s", rc.Store)
	}

	if rc.MaxRequests <= 0 {
		return errors.New("max requests must be positive")
	}

	if rc.WindowSeconds <= 0 {
		return errors.New("window seconds must be positive")
	}

	if rc.HighWaterMark < 0 {
		return errors.New("high water mark cannot be negative")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !containsString([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !containsString([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !containsString([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required when exporter is otlp")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// IsSupportedCountry reports whether code names one of the country sites.
func IsSupportedCountry(code string) bool {
	return containsString(SupportedCountries, strings.ToLower(strings.TrimSpace(code)))
}

// SupportedCountries lists the country subtrees served by the site.
var SupportedCountries = []string{"de", "ca", "uk", "fr", "us"}
