// Package config loads engine configuration from a JSON file with viper.
// Load returns an explicit Config value that callers pass to constructors;
// nothing reads the global viper instance.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// EngineConfig holds the tuning constants of the tracking engine.
type EngineConfig struct {
	// ProximityThresholdMeters is the match radius around the user.
	// Deployments have run both 50 and 100; 50 is the default.
	ProximityThresholdMeters float64 `json:"proximityThresholdMeters" mapstructure:"proximityThresholdMeters"`
	// CooldownDuration suppresses repeat notifications per marker.
	CooldownDuration time.Duration `json:"cooldownDuration" mapstructure:"cooldownDuration"`
	// SweepInterval is how often expired cooldown entries are purged.
	SweepInterval time.Duration `json:"sweepInterval" mapstructure:"sweepInterval"`
	// SampleInterval is the location sampling period.
	SampleInterval time.Duration `json:"sampleInterval" mapstructure:"sampleInterval"`
	// RefreshInterval is the marker index refresh period.
	RefreshInterval time.Duration `json:"refreshInterval" mapstructure:"refreshInterval"`
	// MinRefreshDistanceMeters also triggers a refresh when the user has
	// moved at least this far since the last one.
	MinRefreshDistanceMeters float64 `json:"minRefreshDistanceMeters" mapstructure:"minRefreshDistanceMeters"`
	// SearchRadiusMeters is the marker fetch radius around the user.
	SearchRadiusMeters float64 `json:"searchRadiusMeters" mapstructure:"searchRadiusMeters"`
	// FetchTimeout bounds one marker fetch round-trip.
	FetchTimeout time.Duration `json:"fetchTimeout" mapstructure:"fetchTimeout"`
	// GpsFixTimeout bounds the wait for a fresh fix before falling back.
	GpsFixTimeout time.Duration `json:"gpsFixTimeout" mapstructure:"gpsFixTimeout"`
	// MaxRetryAttempts caps transient-failure retries before PhaseFailed.
	MaxRetryAttempts int `json:"maxRetryAttempts" mapstructure:"maxRetryAttempts"`
	// RetryBackoffBase is the first retry delay; doubles per attempt.
	RetryBackoffBase time.Duration `json:"retryBackoffBase" mapstructure:"retryBackoffBase"`
	// BackgroundTracking keeps sampling while the app is backgrounded.
	BackgroundTracking bool `json:"backgroundTracking" mapstructure:"backgroundTracking"`
}

// APIConfig holds backend REST settings.
type APIConfig struct {
	BaseURL string `json:"baseUrl" mapstructure:"baseUrl"`
	Token   string `json:"token" mapstructure:"token"`
}

// DBConfig holds persistence settings. Postgres is used when reachable,
// otherwise a local SQLite file.
type DBConfig struct {
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Username   string `json:"username" mapstructure:"username"`
	Password   string `json:"password" mapstructure:"password"`
	Database   string `json:"database" mapstructure:"database"`
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlitePath"`
}

// InfluxConfig holds performance export settings.
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
}

// OtelConfig holds OpenTelemetry settings.
type OtelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// WSConfig holds the websocket UI bridge settings.
type WSConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	URL     string `json:"url" mapstructure:"url"`
	Secret  string `json:"secret" mapstructure:"secret"`
}

// Config is the full, immutable engine configuration.
type Config struct {
	LogLevel string       `json:"logLevel" mapstructure:"logLevel"`
	LogsDir  string       `json:"logsDir" mapstructure:"logsDir"`
	Engine   EngineConfig `json:"engine" mapstructure:"engine"`
	API      APIConfig    `json:"api" mapstructure:"api"`
	DB       DBConfig     `json:"db" mapstructure:"db"`
	Influx   InfluxConfig `json:"influx" mapstructure:"influx"`
	Otel     OtelConfig   `json:"otel" mapstructure:"otel"`
	WS       WSConfig     `json:"ws" mapstructure:"ws"`
}

// ConfigFileName is the JSON config file searched for in the config dir.
const ConfigFileName = "tracker.cfg.json"

func setDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")
	v.SetDefault("logsDir", "./trackerlogs")

	v.SetDefault("engine.proximityThresholdMeters", 50.0)
	v.SetDefault("engine.cooldownDuration", "10m")
	v.SetDefault("engine.sweepInterval", "5m")
	v.SetDefault("engine.sampleInterval", "2s")
	v.SetDefault("engine.refreshInterval", "1m")
	v.SetDefault("engine.minRefreshDistanceMeters", 10.0)
	v.SetDefault("engine.searchRadiusMeters", 1000.0)
	v.SetDefault("engine.fetchTimeout", "10s")
	v.SetDefault("engine.gpsFixTimeout", "15s")
	v.SetDefault("engine.maxRetryAttempts", 3)
	v.SetDefault("engine.retryBackoffBase", "1s")
	v.SetDefault("engine.backgroundTracking", false)

	v.SetDefault("api.baseUrl", "http://localhost:5000")
	v.SetDefault("api.token", "")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.username", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.database", "tracker")
	v.SetDefault("db.sqlitePath", "./tracker.db")

	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.protocol", "http")
	v.SetDefault("influx.host", "localhost")
	v.SetDefault("influx.port", "8086")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "tracker-metrics")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.serviceName", "hazard-tracker")
	v.SetDefault("otel.batchTimeout", "5s")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", true)

	v.SetDefault("ws.enabled", false)
	v.SetDefault("ws.url", "ws://localhost:5001/tracking")
	v.SetDefault("ws.secret", "")
}

// Load reads the config file from configDir and returns the parsed Config.
// Missing keys take defaults; a missing file is an error.
func Load(configDir string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(ConfigFileName)
	v.SetConfigType("json")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without touching the filesystem.
// Tests construct their own Config values instead of sharing global state.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Unmarshalling pure defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return cfg
}
