package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server     ServerConfig     `toml:"server"`     // HTTP server settings
	FlightData FlightDataConfig `toml:"flightdata"` // Aircraft position data source settings
	Monitor    MonitorConfig    `toml:"monitor"`    // Poll loop, classification, and debounce settings
	Zones      []ZoneConfig     `toml:"zones"`      // Drop zone definitions
	Aircraft   []AircraftAlias  `toml:"aircraft"`   // Friendly-name aliases for tracked aircraft
	Slack      SlackConfig      `toml:"slack"`      // Outbound notification settings
	Logging    LoggingConfig    `toml:"logging"`    // Application logging settings
	Storage    StorageConfig    `toml:"storage"`    // Session persistence settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int      `toml:"port"`                  // HTTP port for the server
	Host             string   `toml:"host"`                  // Host address to bind to
	CORSAllowed      []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests
	ReadTimeoutSecs  int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response
	IdleTimeoutSecs  int      `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
}

// FlightDataConfig contains the external aircraft position API settings.
// The source is an ADS-B Exchange style per-aircraft endpoint keyed by ICAO hex.
type FlightDataConfig struct {
	SourceURL          string `toml:"source_url"`              // URL template with a %s placeholder for the hex code
	APIHost            string `toml:"api_host"`                // API host header value (e.g., for RapidAPI)
	APIKey             string `toml:"api_key"`                 // API key; overridable via FLIGHTDATA_API_KEY
	RequestTimeoutSecs int    `toml:"request_timeout_seconds"` // HTTP request timeout in seconds
}

// MonitorConfig contains poll loop, classification, and debounce settings
type MonitorConfig struct {
	PollIntervalSecs     int     `toml:"poll_interval_seconds"`    // How often each session polls the flight data API
	FreshnessWindowSecs  int     `toml:"freshness_window_seconds"` // Snapshots older than this classify as UNKNOWN
	GroundThresholdFt    float64 `toml:"ground_threshold_ft"`      // Altitude at or below which an aircraft may be landed (above field elevation when a zone is set)
	SpeedThresholdKts    float64 `toml:"speed_threshold_kts"`      // Ground speed at or below which an aircraft may be landed
	DebounceObservations int     `toml:"debounce_observations"`    // Consecutive polls a new state must hold before a transition commits
	FailureThreshold     int     `toml:"failure_threshold"`        // Consecutive poll failures before a session goes ERRORED
	BackoffInitialSecs   int     `toml:"backoff_initial_seconds"`  // First retry delay after a transient failure
	BackoffMaxSecs       int     `toml:"backoff_max_seconds"`      // Cap on the exponential retry delay
}

// ZoneConfig defines a circular drop zone geofence
type ZoneConfig struct {
	ID               string  `toml:"id"`                 // Unique identifier referenced by dz=<id>
	Name             string  `toml:"name"`               // Human-readable name
	Lat              float64 `toml:"lat"`                // Center latitude in decimal degrees
	Lon              float64 `toml:"lon"`                // Center longitude in decimal degrees
	RadiusNM         float64 `toml:"radius_nm"`          // Geofence radius in nautical miles
	FieldElevationFt float64 `toml:"field_elevation_ft"` // Field elevation used for ground detection
}

// AircraftAlias maps a friendly name to an ICAO hex code
type AircraftAlias struct {
	ID   string `toml:"id"`   // Alias referenced by plane=<id>
	Hex  string `toml:"hex"`  // ICAO 24-bit hex code
	Name string `toml:"name"` // Human-readable name used in notifications
}

// SlackConfig contains outbound notification settings
type SlackConfig struct {
	WebhookURL         string `toml:"webhook_url"`             // Incoming webhook URL; overridable via SLACK_WEBHOOK_URL
	RequestTimeoutSecs int    `toml:"request_timeout_seconds"` // HTTP timeout for webhook posts
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains session persistence configuration
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"` // Path to the SQLite database file
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyEnvOverrides()

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// applyEnvOverrides lets secrets come from the environment instead of the
// config file. An optional .env in the working directory is loaded first.
func (c *Config) applyEnvOverrides() {
	// Missing .env is fine; environment may be set directly
	_ = godotenv.Load()

	if v := os.Getenv("FLIGHTDATA_API_KEY"); v != "" {
		c.FlightData.APIKey = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Slack.WebhookURL = v
	}
}

// Validate validates the configuration and applies defaults
func (c *Config) Validate() error {
	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}

	// Flight data source
	if c.FlightData.SourceURL == "" {
		return fmt.Errorf("flightdata source_url is required")
	}
	if c.FlightData.APIHost == "" {
		return fmt.Errorf("flightdata api_host is required")
	}
	if c.FlightData.APIKey == "" {
		return fmt.Errorf("flightdata api_key is required (config or FLIGHTDATA_API_KEY)")
	}
	if c.FlightData.RequestTimeoutSecs <= 0 {
		c.FlightData.RequestTimeoutSecs = 10
	}

	// Monitor loop
	if c.Monitor.PollIntervalSecs == 0 {
		c.Monitor.PollIntervalSecs = 30
	}
	if c.Monitor.PollIntervalSecs < 5 {
		return fmt.Errorf("poll_interval_seconds too low: %d (minimum 5)", c.Monitor.PollIntervalSecs)
	}
	if c.Monitor.FreshnessWindowSecs == 0 {
		c.Monitor.FreshnessWindowSecs = 120
	}
	if c.Monitor.GroundThresholdFt == 0 {
		c.Monitor.GroundThresholdFt = 300
	}
	if c.Monitor.SpeedThresholdKts == 0 {
		c.Monitor.SpeedThresholdKts = 40
	}
	if c.Monitor.DebounceObservations == 0 {
		c.Monitor.DebounceObservations = 2
	}
	if c.Monitor.DebounceObservations < 1 {
		return fmt.Errorf("debounce_observations must be at least 1: %d", c.Monitor.DebounceObservations)
	}
	if c.Monitor.FailureThreshold == 0 {
		c.Monitor.FailureThreshold = 5
	}
	if c.Monitor.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be at least 1: %d", c.Monitor.FailureThreshold)
	}
	if c.Monitor.BackoffInitialSecs == 0 {
		c.Monitor.BackoffInitialSecs = 5
	}
	if c.Monitor.BackoffMaxSecs == 0 {
		c.Monitor.BackoffMaxSecs = 300
	}
	if c.Monitor.BackoffMaxSecs < c.Monitor.BackoffInitialSecs {
		return fmt.Errorf("backoff_max_seconds (%d) must be at least backoff_initial_seconds (%d)",
			c.Monitor.BackoffMaxSecs, c.Monitor.BackoffInitialSecs)
	}

	// Zones
	zoneIDs := make(map[string]bool)
	for i, z := range c.Zones {
		if z.ID == "" {
			return fmt.Errorf("zone #%d: id is required", i+1)
		}
		if zoneIDs[z.ID] {
			return fmt.Errorf("zone #%d: duplicate id: %s", i+1, z.ID)
		}
		zoneIDs[z.ID] = true
		if z.Lat < -90 || z.Lat > 90 {
			return fmt.Errorf("zone %s: invalid latitude: %f", z.ID, z.Lat)
		}
		if z.Lon < -180 || z.Lon > 180 {
			return fmt.Errorf("zone %s: invalid longitude: %f", z.ID, z.Lon)
		}
		if z.RadiusNM <= 0 {
			return fmt.Errorf("zone %s: radius_nm must be positive: %f", z.ID, z.RadiusNM)
		}
	}

	// Aircraft aliases
	aliasIDs := make(map[string]bool)
	for i, a := range c.Aircraft {
		if a.ID == "" {
			return fmt.Errorf("aircraft #%d: id is required", i+1)
		}
		if aliasIDs[a.ID] {
			return fmt.Errorf("aircraft #%d: duplicate id: %s", i+1, a.ID)
		}
		aliasIDs[a.ID] = true
		if a.Hex == "" {
			return fmt.Errorf("aircraft %s: hex is required", a.ID)
		}
	}

	// Slack
	if c.Slack.WebhookURL == "" {
		fmt.Printf("WARN: No Slack webhook URL provided - notifications will be logged only\n")
	}
	if c.Slack.RequestTimeoutSecs <= 0 {
		c.Slack.RequestTimeoutSecs = 10
	}

	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Storage
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage sqlite_path is required")
	}

	return nil
}

// ZoneByID returns the zone with the given ID, if configured
func (c *Config) ZoneByID(id string) (*ZoneConfig, bool) {
	for i := range c.Zones {
		if c.Zones[i].ID == id {
			return &c.Zones[i], true
		}
	}
	return nil, false
}

// ResolveAircraft resolves a plane argument to an ICAO hex code and display
// name. The argument may be a configured alias or a literal hex code.
func (c *Config) ResolveAircraft(arg string) (hex string, name string, ok bool) {
	for _, a := range c.Aircraft {
		if a.ID == arg {
			name = a.Name
			if name == "" {
				name = a.ID
			}
			return a.Hex, name, true
		}
	}
	// Fall back to treating the argument as a raw hex code
	if isHexCode(arg) {
		return arg, arg, true
	}
	return "", "", false
}

func isHexCode(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
