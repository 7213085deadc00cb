package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Rooms    RoomsConfig    `toml:"rooms"`
	Provider ProviderConfig `toml:"provider"`
	Auth     AuthConfig     `toml:"auth"`
	Logging  LoggingConfig  `toml:"logging"`
	Ngrok    NgrokConfig    `toml:"ngrok"`
}

// Duration is a time.Duration written as a Go duration string ("1s", "30m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port         string   `toml:"port"`
	Host         string   `toml:"host"`
	EnableCORS   bool     `toml:"enable_cors"`
	ReadTimeout  int      `toml:"read_timeout_seconds"`
	WriteTimeout int      `toml:"write_timeout_seconds"`
	PollInterval Duration `toml:"poll_interval"`
}

// DatabaseConfig contains room storage configuration
type DatabaseConfig struct {
	Driver         string `toml:"driver"` // sqlite or memory
	Path           string `toml:"path"`
	MaxConnections int    `toml:"max_connections"`
}

// RoomsConfig contains room lifecycle settings
type RoomsConfig struct {
	CodeLength         int      `toml:"code_length"`
	CodeAlphabet       string   `toml:"code_alphabet"`
	MaxCodeAttempts    int      `toml:"max_code_attempts"`
	InactivityWindow   Duration `toml:"inactivity_window"`
	JanitorInterval    Duration `toml:"janitor_interval"`
	DefaultVotesToSkip int      `toml:"default_votes_to_skip"`
}

// ProviderConfig contains the playback provider settings. Client credentials
// come from the environment, never the file.
type ProviderConfig struct {
	Name           string   `toml:"name"` // spotify or fake
	APIBase        string   `toml:"api_base"`
	AccountsBase   string   `toml:"accounts_base"`
	RedirectURI    string   `toml:"redirect_uri"`
	RequestTimeout Duration `toml:"request_timeout"`
	RetryMin       Duration `toml:"retry_min"`
	RetryMax       Duration `toml:"retry_max"`
	StateCacheTTL  Duration `toml:"state_cache_ttl"`

	ClientID     string `toml:"-"`
	ClientSecret string `toml:"-"`
}

// AuthConfig contains participant session settings
type AuthConfig struct {
	SessionDuration string `toml:"session_duration"`
	SecureCookies   bool   `toml:"secure_cookies"`

	// SessionKey seeds cookie signing and token sealing. Loaded from
	// JUKEBOX_SESSION_KEY.
	SessionKey string `toml:"-"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	File           string `toml:"file"`
	RequestLogging bool   `toml:"request_logging"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled   bool   `toml:"enabled"`
	AuthToken string `toml:"-"`
	Domain    string `toml:"domain"`
	Region    string `toml:"region"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8000",
			Host:         "0.0.0.0",
			EnableCORS:   true,
			ReadTimeout:  15,
			WriteTimeout: 15,
			PollInterval: Duration{time.Second},
		},
		Database: DatabaseConfig{
			Driver:         "sqlite",
			Path:           "./jukebox.db",
			MaxConnections: 4,
		},
		Rooms: RoomsConfig{
			CodeLength:         6,
			CodeAlphabet:       "ABCDEFGHIJKLMNOPQRSTUVWXYZ",
			MaxCodeAttempts:    10,
			InactivityWindow:   Duration{6 * time.Hour},
			JanitorInterval:    Duration{10 * time.Minute},
			DefaultVotesToSkip: 2,
		},
		Provider: ProviderConfig{
			Name:           "spotify",
			APIBase:        "https://api.spotify.com/v1/me/",
			AccountsBase:   "https://accounts.spotify.com",
			RedirectURI:    "http://127.0.0.1:8000/spotify/redirect",
			RequestTimeout: Duration{5 * time.Second},
			RetryMin:       Duration{100 * time.Millisecond},
			RetryMax:       Duration{time.Second},
			StateCacheTTL:  Duration{500 * time.Millisecond},
		},
		Auth: AuthConfig{
			SessionDuration: "720h",
			SecureCookies:   false,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			File:           "",
			RequestLogging: true,
		},
		Ngrok: NgrokConfig{
			Enabled: false,
			Domain:  "",
			Region:  "us",
		},
	}
}

// LoadConfig loads configuration from a TOML file, then secrets from the
// environment (and a .env file next to it, when present).
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		// Variables already set in the process environment win.
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv copies secrets from the process environment.
func (c *Config) ApplyEnv() {
	c.Provider.ClientID = os.Getenv("SPOTIFY_CLIENT_ID")
	c.Provider.ClientSecret = os.Getenv("SPOTIFY_CLIENT_SECRET")
	c.Auth.SessionKey = os.Getenv("JUKEBOX_SESSION_KEY")
	c.Ngrok.AuthToken = os.Getenv("NGROK_AUTHTOKEN")
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := `# Jukebox Server Configuration
# Secrets are read from the environment or a .env file next to this one:
#   SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET, JUKEBOX_SESSION_KEY, NGROK_AUTHTOKEN
# logging.level and rooms.inactivity_window are applied without a restart.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if c.Server.PollInterval.Duration <= 0 {
		return fmt.Errorf("server poll interval must be positive")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
		if c.Database.MaxConnections < 1 {
			return fmt.Errorf("database max connections must be at least 1")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite or memory)", c.Database.Driver)
	}

	if c.Rooms.CodeLength < 4 {
		return fmt.Errorf("room code length must be at least 4")
	}
	if len(c.Rooms.CodeAlphabet) < 2 {
		return fmt.Errorf("room code alphabet needs at least 2 characters")
	}
	if c.Rooms.MaxCodeAttempts < 1 {
		return fmt.Errorf("max code attempts must be at least 1")
	}
	if c.Rooms.InactivityWindow.Duration <= 0 || c.Rooms.JanitorInterval.Duration <= 0 {
		return fmt.Errorf("room inactivity window and janitor interval must be positive")
	}
	if c.Rooms.DefaultVotesToSkip < 1 {
		return fmt.Errorf("default votes to skip must be at least 1")
	}

	switch c.Provider.Name {
	case "spotify":
		if c.Provider.ClientID == "" || c.Provider.ClientSecret == "" {
			return fmt.Errorf("spotify provider requires SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET")
		}
		if c.Provider.RedirectURI == "" {
			return fmt.Errorf("provider redirect uri cannot be empty")
		}
	case "fake":
	default:
		return fmt.Errorf("invalid provider: %s (must be spotify or fake)", c.Provider.Name)
	}
	if c.Provider.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("provider request timeout must be positive")
	}
	if c.Provider.RetryMin.Duration > c.Provider.RetryMax.Duration {
		return fmt.Errorf("provider retry_min cannot exceed retry_max")
	}

	if _, err := time.ParseDuration(c.Auth.SessionDuration); err != nil {
		return fmt.Errorf("invalid session duration: %w", err)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}
