// ABOUTME: Configuration loading and parsing for formbridge
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete formbridge configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Forms     FormsConfig     `yaml:"forms"`
	MCP       MCPConfig       `yaml:"mcp"`
	Stream    StreamConfig    `yaml:"stream"`
	Router    RouterConfig    `yaml:"router"`
	Relay     RelayConfig     `yaml:"relay"`
	Store     StoreConfig     `yaml:"store"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Ownership OwnershipConfig `yaml:"ownership"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listener address configuration
type ServerConfig struct {
	// HTTPAddr is the public listener (preview pages, SSE, MCP endpoint)
	HTTPAddr string `yaml:"http_addr"`
	// InternalAddr is the loopback-only listener (relay, stats, changes)
	InternalAddr string `yaml:"internal_addr"`
	// PublicURL is the externally visible base URL, used in rendered pages.
	// If not set, it's derived from http_addr.
	PublicURL string `yaml:"public_url"`
}

// FormsConfig holds the upstream forms API connection settings
type FormsConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// MCPConfig holds MCP endpoint configuration
type MCPConfig struct {
	Enabled     bool     `yaml:"enabled"`
	RequireAuth bool     `yaml:"require_auth"`
	Tokens      []string `yaml:"tokens"`
	JWTSecret   string   `yaml:"jwt_secret"`

	SessionTTL    time.Duration `yaml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl"`
}

// StreamConfig holds streaming connection registry settings
type StreamConfig struct {
	MaxConnections int `yaml:"max_connections"`

	HeartbeatInterval    time.Duration `yaml:"-"`
	HeartbeatIntervalRaw string        `yaml:"heartbeat_interval"`
}

// RouterConfig holds form update router timing settings
type RouterConfig struct {
	DebounceInterval    time.Duration `yaml:"-"`
	DebounceIntervalRaw string        `yaml:"debounce_interval"`

	IdleTimeout    time.Duration `yaml:"-"`
	IdleTimeoutRaw string        `yaml:"idle_timeout"`

	SweepInterval    time.Duration `yaml:"-"`
	SweepIntervalRaw string        `yaml:"sweep_interval"`
}

// RelayConfig holds the cross-process notification relay settings
type RelayConfig struct {
	// Endpoint is the internal notify URL a detached process posts to.
	Endpoint string `yaml:"endpoint"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// StoreConfig holds the change ledger database configuration.
// An empty path disables the ledger entirely.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// TailscaleConfig holds Tailscale tsnet configuration for the public listener
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// RateLimitConfig holds per-client rate limiting settings
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// OwnershipConfig defines how forms managed by this server are tagged.
// A form is considered managed when its title carries TitleTag or its
// path starts with PathPrefix.
type OwnershipConfig struct {
	TitleTag   string `yaml:"title_tag"`
	PathPrefix string `yaml:"path_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with the documented defaults.
// The result is not valid until a forms base URL is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:     "0.0.0.0:8090",
			InternalAddr: "127.0.0.1:8091",
		},
		Forms: FormsConfig{
			Timeout: 30 * time.Second,
		},
		MCP: MCPConfig{
			Enabled:    true,
			SessionTTL: 30 * time.Minute,
		},
		Stream: StreamConfig{
			MaxConnections:    100,
			HeartbeatInterval: 30 * time.Second,
		},
		Router: RouterConfig{
			DebounceInterval: 500 * time.Millisecond,
			IdleTimeout:      5 * time.Minute,
			SweepInterval:    time.Minute,
		},
		Relay: RelayConfig{
			Endpoint: "http://127.0.0.1:8091/internal/notify",
			Timeout:  2 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RPS:   10,
			Burst: 20,
		},
		Ownership: OwnershipConfig{
			TitleTag:   "[MCP]",
			PathPrefix: "mcp-",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in every unset field that has a documented default.
func (c *Config) applyDefaults() {
	def := Default()

	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = def.Server.HTTPAddr
	}
	if c.Server.InternalAddr == "" {
		c.Server.InternalAddr = def.Server.InternalAddr
	}
	if c.Forms.Timeout == 0 {
		c.Forms.Timeout = def.Forms.Timeout
	}
	if c.MCP.SessionTTL == 0 {
		c.MCP.SessionTTL = def.MCP.SessionTTL
	}
	if c.Stream.MaxConnections == 0 {
		c.Stream.MaxConnections = def.Stream.MaxConnections
	}
	if c.Stream.HeartbeatInterval == 0 {
		c.Stream.HeartbeatInterval = def.Stream.HeartbeatInterval
	}
	if c.Router.DebounceInterval == 0 {
		c.Router.DebounceInterval = def.Router.DebounceInterval
	}
	if c.Router.IdleTimeout == 0 {
		c.Router.IdleTimeout = def.Router.IdleTimeout
	}
	if c.Router.SweepInterval == 0 {
		c.Router.SweepInterval = def.Router.SweepInterval
	}
	if c.Relay.Endpoint == "" {
		c.Relay.Endpoint = "http://" + c.Server.InternalAddr + "/internal/notify"
	}
	if c.Relay.Timeout == 0 {
		c.Relay.Timeout = def.Relay.Timeout
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = def.RateLimit.RPS
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.Ownership.TitleTag == "" {
		c.Ownership.TitleTag = def.Ownership.TitleTag
	}
	if c.Ownership.PathPrefix == "" {
		c.Ownership.PathPrefix = def.Ownership.PathPrefix
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Forms.BaseURL == "" {
		return fmt.Errorf("forms.base_url is required")
	}

	// The public listener is required unless Tailscale provides it
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.MCP.RequireAuth && len(c.MCP.Tokens) == 0 && c.MCP.JWTSecret == "" {
		return fmt.Errorf("mcp.require_auth needs mcp.tokens or mcp.jwt_secret")
	}

	if c.Stream.MaxConnections < 0 {
		return fmt.Errorf("stream.max_connections must not be negative")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("ratelimit.rps and ratelimit.burst must be positive when enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Forms.TimeoutRaw, &cfg.Forms.Timeout, "forms.timeout"},
		{cfg.MCP.SessionTTLRaw, &cfg.MCP.SessionTTL, "mcp.session_ttl"},
		{cfg.Stream.HeartbeatIntervalRaw, &cfg.Stream.HeartbeatInterval, "stream.heartbeat_interval"},
		{cfg.Router.DebounceIntervalRaw, &cfg.Router.DebounceInterval, "router.debounce_interval"},
		{cfg.Router.IdleTimeoutRaw, &cfg.Router.IdleTimeout, "router.idle_timeout"},
		{cfg.Router.SweepIntervalRaw, &cfg.Router.SweepInterval, "router.sweep_interval"},
		{cfg.Relay.TimeoutRaw, &cfg.Relay.Timeout, "relay.timeout"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
