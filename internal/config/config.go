package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "filmlocations.cfg.json"

// SQLiteConfig holds sqlite storage backend settings
type SQLiteConfig struct {
	// Path is the database file; empty means a shared in-memory database.
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
}

// StorageConfig selects and configures the location storage backend
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
}

// setDefaults registers every default value.
func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("client.minQueryLength", 2)
	viper.SetDefault("client.maxSuggestions", 6)
	viper.SetDefault("client.suggestionFields", []string{"title", "actor_1", "director", "locations"})
	viper.SetDefault("client.trackTimeout", "5s")
	viper.SetDefault("client.notification", "Failed to load films.")
	viper.SetDefault("client.loopSize", 256)

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.timeout", "30s")

	viper.SetDefault("server.listen", ":5000")
	viper.SetDefault("server.searchLimit", 50)
	viper.SetDefault("server.popularLimit", 50)
	viper.SetDefault("server.cacheTTL", "1h")
	viper.SetDefault("server.rateLimit", 100)
	viper.SetDefault("server.allowedOrigins", []string{"*"})
	viper.SetDefault("server.apiKey", "")
	viper.SetDefault("server.statusInterval", "10s")
	viper.SetDefault("server.mapRelay", true)
	viper.SetDefault("server.relaySecret", "")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./filmlocations.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "filmlocations")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "filmlocations")
	viper.SetDefault("influx.bucket", "film-clicks")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "filmlocations")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("importer.sourceUrl", "http://data.sfgov.org/resource/yitu-d5am.json")
	viper.SetDefault("importer.geocodeUrl", "https://maps.googleapis.com/maps/api/geocode/json")
	viper.SetDefault("importer.geocodeKey", "")
	viper.SetDefault("importer.geocodeDelay", "500ms")
	viper.SetDefault("importer.maxDistanceKm", 20.0)
	viper.SetDefault("importer.centerLat", 37.777)
	viper.SetDefault("importer.centerLng", -122.444)

	viper.SetDefault("map.centerLat", 37.777)
	viper.SetDefault("map.centerLng", -122.444)
	viper.SetDefault("map.zoom", 12)
	viper.SetDefault("map.popupMaxWidth", 300)
	viper.SetDefault("map.width", 1024)
	viper.SetDefault("map.height", 768)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// LoadDefaults registers the defaults without reading a file. Commands use it
// when no config file is present.
func LoadDefaults() {
	setDefaults()
}

// GetStorageConfig returns the storage backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
	}
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat64 returns a float config value.
func GetFloat64(key string) float64 {
	return viper.GetFloat64(key)
}

// GetDuration returns a duration config value ("5s", "1h").
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetStringSlice returns a string list config value.
func GetStringSlice(key string) []string {
	return viper.GetStringSlice(key)
}
