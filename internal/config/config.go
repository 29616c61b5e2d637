package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/hazard-alert-service/internal/source"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	QuakePollInterval time.Duration
	StormPollInterval time.Duration
	FloodPollInterval time.Duration
	SourceTimeout     time.Duration
	InsecureSources   []string
	SourcesFile       string

	QuakeCacheTTL time.Duration
	StormCacheTTL time.Duration
	FloodCacheTTL time.Duration

	StoreDriver string
	SQLitePath  string
	DatabaseURL string

	// Optional cache snapshots; disabled when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string

	// Optional event stream; disabled when KafkaBrokers is empty.
	KafkaBrokers            []string
	KafkaEventsTopic        string
	KafkaNotificationsTopic string

	OperatorToken             string
	NotifyAllWhenUnconfigured bool
	AlertDispatchDelay        time.Duration
	AlertMaxRetries           int

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		InsecureSources: splitList(sharedcfg.EnvOrDefault("INSECURE_SOURCES", "phivolcs,pagasa")),
		SourcesFile:     os.Getenv("SOURCES_FILE"),

		StoreDriver: sharedcfg.EnvOrDefault("STORE_DRIVER", DriverMemory),
		SQLitePath:  sharedcfg.EnvOrDefault("SQLITE_PATH", "data/hazards.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		KafkaBrokers:            sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaEventsTopic:        sharedcfg.EnvOrDefault("KAFKA_EVENTS_TOPIC", "hazard-events"),
		KafkaNotificationsTopic: sharedcfg.EnvOrDefault("KAFKA_NOTIFICATIONS_TOPIC", "hazard-notifications"),

		OperatorToken: os.Getenv("OPERATOR_TOKEN"),
	}

	durations := []struct {
		name string
		def  string
		dst  *time.Duration
	}{
		{"QUAKE_POLL_INTERVAL", "90s", &cfg.QuakePollInterval},
		{"STORM_POLL_INTERVAL", "15m", &cfg.StormPollInterval},
		{"FLOOD_POLL_INTERVAL", "15m", &cfg.FloodPollInterval},
		{"SOURCE_TIMEOUT", "10s", &cfg.SourceTimeout},
		{"CACHE_TTL_QUAKE", "2m", &cfg.QuakeCacheTTL},
		{"CACHE_TTL_STORM", "30m", &cfg.StormCacheTTL},
		{"CACHE_TTL_FLOOD", "30m", &cfg.FloodCacheTTL},
		{"MAPBOX_TIMEOUT", "5s", &cfg.MapboxTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = parsePositiveDuration(d.name, d.def); err != nil {
			return nil, err
		}
	}

	delay, err := time.ParseDuration(sharedcfg.EnvOrDefault("ALERT_DISPATCH_DELAY", "0s"))
	if err != nil || delay < 0 {
		return nil, errors.New("invalid ALERT_DISPATCH_DELAY")
	}
	cfg.AlertDispatchDelay = delay

	retries, err := strconv.Atoi(sharedcfg.EnvOrDefault("ALERT_MAX_RETRIES", "3"))
	if err != nil || retries < 0 {
		return nil, errors.New("invalid ALERT_MAX_RETRIES")
	}
	cfg.AlertMaxRetries = retries

	notifyAll, err := strconv.ParseBool(sharedcfg.EnvOrDefault("NOTIFY_ALL_WHEN_UNCONFIGURED", "true"))
	if err != nil {
		return nil, errors.New("invalid NOTIFY_ALL_WHEN_UNCONFIGURED")
	}
	cfg.NotifyAllWhenUnconfigured = notifyAll

	cfg.MapboxCacheSize = parseMapboxCacheSize()
	cfg.MapboxToken = os.Getenv("MAPBOX_TOKEN")
	cfg.MapboxEnabled = cfg.MapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		cfg.MapboxEnabled = v == "true"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SourceTimeout < source.MinTimeout || c.SourceTimeout > source.MaxTimeout {
		return fmt.Errorf("SOURCE_TIMEOUT must be between %s and %s", source.MinTimeout, source.MaxTimeout)
	}
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StoreDriver == DriverSQLite && c.SQLitePath == "" {
		return errors.New("SQLITE_PATH is required when STORE_DRIVER is sqlite")
	}
	if len(c.KafkaBrokers) > 0 && (c.KafkaEventsTopic == "" || c.KafkaNotificationsTopic == "") {
		return errors.New("KAFKA_EVENTS_TOPIC and KAFKA_NOTIFICATIONS_TOPIC are required when KAFKA_BROKERS is set")
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return nil
}

// Sources returns the source catalog: SourcesFile when set, otherwise the
// built-in defaults. INSECURE_SOURCES and SOURCE_TIMEOUT are applied on top.
func (c *Config) Sources() ([]source.Spec, error) {
	specs := source.DefaultSpecs()
	if c.SourcesFile != "" {
		var err error
		if specs, err = LoadSources(c.SourcesFile); err != nil {
			return nil, err
		}
	}
	specs = source.ApplyInsecure(specs, c.InsecureSources)
	return source.ApplyTimeout(specs, c.SourceTimeout), nil
}

func parsePositiveDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
