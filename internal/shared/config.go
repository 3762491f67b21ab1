package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Device      DeviceConfig      `toml:"device"`
	Playback    PlaybackConfig    `toml:"playback"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Relay       RelayConfig       `toml:"relay"`
	Scanner     ScannerConfig     `toml:"scanner"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains the public client registration used for the PKCE flow.
//
// There is no client secret: the verifier proves possession instead.
type SpotifyConfig struct {
	ClientID    string   `toml:"client_id"`
	RedirectURI string   `toml:"redirect_uri"`
	Scopes      []string `toml:"scopes"`
	AuthURL     string   `toml:"auth_url"`
	TokenURL    string   `toml:"token_url"`
	APIBaseURL  string   `toml:"api_base_url"`
}

// Map returns the client registration as the credentials map accepted by the services constructors.
func (s SpotifyConfig) Map() map[string]string {
	return map[string]string{
		"client_id":    s.ClientID,
		"redirect_uri": s.RedirectURI,
	}
}

// DeviceConfig names this session's own playback device.
//
// Either field may be empty; the name is matched case-insensitively.
type DeviceConfig struct {
	Name string `toml:"name"`
	ID   string `toml:"id"`
}

// PlaybackConfig bounds every network wait and retry loop in the playback path.
type PlaybackConfig struct {
	RequestTimeout     Duration `toml:"request_timeout"`
	NetworkAttempts    int      `toml:"network_attempts"`
	NetworkBackoff     Duration `toml:"network_backoff"`
	ActivationAttempts int      `toml:"activation_attempts"`
	ActivationInterval Duration `toml:"activation_interval"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings for the OAuth callback and relay hub.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RelayConfig configures host-only mode.
type RelayConfig struct {
	URL          string  `toml:"url"`
	Channel      string  `toml:"channel"`
	RequesterID  string  `toml:"requester_id"`
	PublishRate  float64 `toml:"publish_rate"`
	PublishBurst int     `toml:"publish_burst"`
}

// ScannerConfig selects the QR decoder and frame source.
type ScannerConfig struct {
	Decoder  string `toml:"decoder"` // auto, native, software
	WatchDir string `toml:"watch_dir"`
	BaseURL  string `toml:"base_url"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Duration is a [time.Duration] that reads and writes TOML strings such as "750ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// Validate checks the bounds the playback path depends on.
func (c *Config) Validate() error {
	switch {
	case c.Playback.RequestTimeout.Duration <= 0:
		return fmt.Errorf("%w: playback.request_timeout must be positive", ErrInvalidConfig)
	case c.Playback.NetworkAttempts < 0:
		return fmt.Errorf("%w: playback.network_attempts must not be negative", ErrInvalidConfig)
	case c.Playback.ActivationAttempts < 1:
		return fmt.Errorf("%w: playback.activation_attempts must be at least 1", ErrInvalidConfig)
	case c.Relay.PublishRate < 0:
		return fmt.Errorf("%w: relay.publish_rate must not be negative", ErrInvalidConfig)
	}

	switch c.Scanner.Decoder {
	case "", "auto", "native", "software":
	default:
		return fmt.Errorf("%w: scanner.decoder must be auto, native or software", ErrInvalidConfig)
	}

	return nil
}

// SaveConfig writes config to path as TOML.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
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
