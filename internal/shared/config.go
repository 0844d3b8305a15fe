package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Credentials CredentialsConfig `toml:"credentials"`
	Provider    ProviderConfig    `toml:"provider"`
	Room        RoomConfig        `toml:"room"`
	Log         LogConfig         `toml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	PublicURL string `toml:"public_url"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// CredentialsConfig contains provider credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains the controller application's OAuth client.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// Validate reports [ErrMissingCredentials] when the OAuth client is not configured.
func (s SpotifyConfig) Validate() error {
	if s.ClientID == "" || s.ClientSecret == "" {
		return fmt.Errorf("%w: spotify client_id and client_secret are required", ErrMissingCredentials)
	}
	return nil
}

// ProviderConfig tunes the provider gateway.
type ProviderConfig struct {
	APIURL            string        `toml:"api_url"`
	AuthURL           string        `toml:"auth_url"`
	TokenURL          string        `toml:"token_url"`
	MaxRetries        int           `toml:"max_retries"`
	BaseRetryWait     time.Duration `toml:"base_retry_wait"`
	MaxRetryWait      time.Duration `toml:"max_retry_wait"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
	Timeout           time.Duration `toml:"timeout"`
}

// RoomConfig tunes reconciliation and control mediation.
type RoomConfig struct {
	PollInterval        time.Duration `toml:"poll_interval"`
	SettleDelay         time.Duration `toml:"settle_delay"`
	HistoryLimit        int           `toml:"history_limit"`
	HistoryDisplay      int           `toml:"history_display"`
	SearchLimit         int           `toml:"search_limit"`
	PrivilegedRole      string        `toml:"privileged_role"`
	AttributionCapacity int           `toml:"attribution_capacity"`
	StaleAfterFailures  int           `toml:"stale_after_failures"`
	SubmitPerMinute     int           `toml:"submit_per_minute"`
	ConfirmTracks       bool          `toml:"confirm_tracks"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep their defaults. Environment variables (optionally
// loaded from a .env file in the working directory) override credentials and paths.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(config)
	return config, nil
}

// LoadConfigOrDefault loads path when it exists and falls back to [DefaultConfig] (with env overrides) otherwise.
func LoadConfigOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		config := DefaultConfig()
		ApplyEnv(config)
		return config, nil
	}
	return LoadConfig(path)
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv loads .env (when present) and copies recognised variables into config.
func ApplyEnv(config *Config) {
	_ = godotenv.Load()

	setString(&config.Credentials.Spotify.ClientID, "SPOTIFY_CLIENT_ID")
	setString(&config.Credentials.Spotify.ClientSecret, "SPOTIFY_CLIENT_SECRET")
	setString(&config.Credentials.Spotify.RedirectURI, "SPOTIFY_REDIRECT_URI")
	setString(&config.Database.Path, "SONGROOM_DB_PATH")
	setString(&config.Log.Level, "SONGROOM_LOG_LEVEL")
	setString(&config.Room.PrivilegedRole, "SONGROOM_PRIVILEGED_ROLE")

	if v := os.Getenv("SONGROOM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate checks values the service cannot run without.
func (c *Config) Validate() error {
	switch {
	case c.Room.PollInterval <= 0:
		return fmt.Errorf("%w: room.poll_interval must be positive", ErrInvalidConfig)
	case c.Room.PrivilegedRole == "":
		return fmt.Errorf("%w: room.privileged_role is required", ErrInvalidConfig)
	case c.Room.AttributionCapacity <= 0:
		return fmt.Errorf("%w: room.attribution_capacity must be positive", ErrInvalidConfig)
	case c.Provider.MaxRetries < 0:
		return fmt.Errorf("%w: provider.max_retries cannot be negative", ErrInvalidConfig)
	}
	return nil
}
