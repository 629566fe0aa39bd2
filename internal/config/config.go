package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/gpm-precip-etl/internal/domain"
)

// Remote sources.
const (
	SourceHTTPS = "https"
	SourceFTP   = "ftp"
	SourceFile  = "file"
)

// Config holds the run settings, populated from environment variables.
// Command-line arguments (credentials, dates, station file) are not part of it.
type Config struct {
	Source    string
	Host      string
	FTPTLS    bool
	LocalRoot string
	Layout    domain.Layout

	// Workdir holds downloaded granules. Empty means the station file's
	// directory.
	Workdir      string
	FetchTimeout time.Duration
	FetchRetries int
	Workers      int

	LogLevel        string
	LogFormat       string
	MetricsAddr     string
	ShutdownTimeout time.Duration

	// Optional sinks and caches. Empty disables them.
	KafkaBrokers []string
	KafkaTopic   string
	CachePath    string
}

type rawEnv struct {
	Source       string        `env:"GPM_SOURCE"        envDefault:"https"`
	Host         string        `env:"GPM_HOST"`
	FTPTLS       bool          `env:"GPM_FTP_TLS"       envDefault:"false"`
	LocalRoot    string        `env:"GPM_LOCAL_ROOT"`
	Root         string        `env:"GPM_ROOT"          envDefault:"gpmdata"`
	Product      string        `env:"GPM_PRODUCT"       envDefault:"3B-HHR-GIS.MS.MRG.3IMERG"`
	Version      string        `env:"GPM_VERSION"       envDefault:"V06B"`
	Workdir      string        `env:"GPM_WORKDIR"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT"     envDefault:"30s"`
	FetchRetries int           `env:"FETCH_RETRIES"     envDefault:"3"`
	Workers      int           `env:"WORKERS"           envDefault:"4"`
	MetricsAddr  string        `env:"METRICS_ADDR"`
	KafkaBrokers string        `env:"KAFKA_BROKERS"`
	KafkaTopic   string        `env:"KAFKA_TOPIC"       envDefault:"gpm-daily-precipitation"`
	CachePath    string        `env:"GPM_CACHE_PATH"`
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Source:    strings.ToLower(strings.TrimSpace(raw.Source)),
		Host:      strings.TrimSpace(raw.Host),
		FTPTLS:    raw.FTPTLS,
		LocalRoot: raw.LocalRoot,
		Layout: domain.Layout{
			Root:    strings.Trim(raw.Root, "/"),
			Product: raw.Product,
			Version: raw.Version,
		},
		Workdir:         raw.Workdir,
		FetchTimeout:    raw.FetchTimeout,
		FetchRetries:    raw.FetchRetries,
		Workers:         raw.Workers,
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		MetricsAddr:     raw.MetricsAddr,
		ShutdownTimeout: shutdownTimeout,
		KafkaTopic:      raw.KafkaTopic,
		CachePath:       raw.CachePath,
	}
	if strings.TrimSpace(raw.KafkaBrokers) != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(raw.KafkaBrokers)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Source {
	case SourceHTTPS, SourceFTP:
	case SourceFile:
		if c.LocalRoot == "" {
			return errors.New("GPM_LOCAL_ROOT is required when GPM_SOURCE is file")
		}
	default:
		return fmt.Errorf("invalid GPM_SOURCE %q (want https, ftp or file)", c.Source)
	}
	if c.Layout.Root == "" || c.Layout.Product == "" || c.Layout.Version == "" {
		return errors.New("GPM_ROOT, GPM_PRODUCT and GPM_VERSION must not be empty")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("FETCH_TIMEOUT must be positive")
	}
	if c.FetchRetries < 0 {
		return errors.New("FETCH_RETRIES must not be negative")
	}
	if c.Workers < 1 {
		return errors.New("WORKERS must be at least 1")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q (want json or text)", c.LogFormat)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}
