package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"proxyhub/internal/constants"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Channel ChannelConfig `yaml:"channel"`
	Gateway GatewayConfig `yaml:"gateway"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Auth    AuthConfig    `yaml:"auth"`
	Audit   AuditConfig   `yaml:"audit"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              string        `yaml:"port"`
	TLS               TLSConfig     `yaml:"tls"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	TrustedProxies    []string      `yaml:"trusted_proxies"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ChannelConfig tunes the observer channel server.
type ChannelConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	AuthTimeout   time.Duration `yaml:"auth_timeout"`
	SendQueue     int           `yaml:"send_queue"`
	MaxFrameSize  int64         `yaml:"max_frame_size"`
	MaxConnsPerIP int           `yaml:"max_conns_per_ip"`
}

// GatewayConfig configures the outbound mirror to a remote aggregator.
type GatewayConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	Origin         string        `yaml:"origin"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	SendQueue      int           `yaml:"send_queue"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// IngestConfig enables the aggregator side: remote gateways stream into /sync.
type IngestConfig struct {
	Enabled bool     `yaml:"enabled"`
	Tokens  []string `yaml:"tokens"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	Store     string        `yaml:"store"`
	Redis     RedisConfig   `yaml:"redis"`
	Operators []Operator    `yaml:"operators"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Operator is a dashboard login. PasswordHash is a bcrypt hash.
type Operator struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// AuditConfig selects the audit database. Driver is sqlite, postgres or
// mysql; DSN is a file path for sqlite.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
}

// ProxyConfig describes the external tunnel driver and the enrichment lookup.
type ProxyConfig struct {
	DriverPath   string        `yaml:"driver_path"`
	DriverArgs   []string      `yaml:"driver_args"`
	GeoLookupURL string        `yaml:"geo_lookup_url"`
	GeoTimeout   time.Duration `yaml:"geo_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load reads the optional env file and YAML file, applies PROXYHUB_*
// environment overrides, and fills defaults. Empty paths are skipped.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := GetEnv("PROXYHUB_HOST", ""); v != "" {
		c.Server.Host = v
	}
	if v := GetEnv("PORT", ""); v != "" {
		c.Server.Port = v
	}
	if v := GetEnv("PROXYHUB_PORT", ""); v != "" {
		c.Server.Port = v
	}
	if v := GetEnv("PROXYHUB_ENABLE_TLS", ""); v != "" {
		c.Server.TLS.Enabled = strings.EqualFold(v, "true")
	}
	if v := GetEnv("PROXYHUB_CERT_FILE", ""); v != "" {
		c.Server.TLS.CertFile = v
	}
	if v := GetEnv("PROXYHUB_KEY_FILE", ""); v != "" {
		c.Server.TLS.KeyFile = v
	}
	if v := GetEnv("PROXYHUB_TRUSTED_PROXIES", ""); v != "" {
		c.Server.TrustedProxies = splitList(v)
	}
	if v := GetEnv("PROXYHUB_JWT_SECRET", ""); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := GetEnv("REDIS_HOST", ""); v != "" {
		c.Auth.Store = "redis"
		c.Auth.Redis.Host = v
	}
	if v := GetEnv("REDIS_PORT", ""); v != "" {
		c.Auth.Redis.Port = v
	}
	if v := GetEnv("REDIS_USERNAME", ""); v != "" {
		c.Auth.Redis.Username = v
	}
	if v := GetEnv("REDIS_PASSWORD", ""); v != "" {
		c.Auth.Redis.Password = v
	}
	if v := GetEnv("PROXYHUB_GATEWAY_URL", ""); v != "" {
		c.Gateway.Enabled = true
		c.Gateway.URL = v
	}
	if v := GetEnv("PROXYHUB_GATEWAY_TOKEN", ""); v != "" {
		c.Gateway.Token = v
	}
	if v := GetEnv("PROXYHUB_INGEST_TOKENS", ""); v != "" {
		c.Ingest.Enabled = true
		c.Ingest.Tokens = splitList(v)
	}
	if v := GetEnv("PROXYHUB_AUDIT_DSN", ""); v != "" {
		c.Audit.Enabled = true
		c.Audit.DSN = v
	}
	if v := GetEnv("PROXYHUB_AUDIT_DRIVER", ""); v != "" {
		c.Audit.Driver = v
	}
	if v := GetEnv("PROXYHUB_DRIVER", ""); v != "" {
		c.Proxy.DriverPath = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.Logging.Level = v
	}
	if v := GetEnv("LOG_FORMAT", ""); v != "" {
		c.Logging.Format = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = constants.DefaultHost
	}
	if c.Server.Port == "" {
		c.Server.Port = constants.DefaultPort
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = constants.ReadHeaderTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = constants.IdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = constants.ShutdownTimeout
	}

	if c.Channel.IdleTimeout == 0 {
		c.Channel.IdleTimeout = constants.ChannelIdleTimeout
	}
	if c.Channel.PingInterval == 0 {
		c.Channel.PingInterval = constants.ChannelPingInterval
	}
	if c.Channel.WriteTimeout == 0 {
		c.Channel.WriteTimeout = constants.ChannelWriteTimeout
	}
	if c.Channel.AuthTimeout == 0 {
		c.Channel.AuthTimeout = constants.ChannelAuthTimeout
	}
	if c.Channel.SendQueue == 0 {
		c.Channel.SendQueue = constants.ObserverSendQueue
	}
	if c.Channel.MaxFrameSize == 0 {
		c.Channel.MaxFrameSize = constants.MaxFrameSize
	}
	if c.Channel.MaxConnsPerIP == 0 {
		c.Channel.MaxConnsPerIP = constants.MaxConnectionsPerIP
	}

	if c.Gateway.ConnectTimeout == 0 {
		c.Gateway.ConnectTimeout = constants.GatewayConnectTimeout
	}
	if c.Gateway.InitialBackoff == 0 {
		c.Gateway.InitialBackoff = constants.GatewayInitialBackoff
	}
	if c.Gateway.MaxBackoff == 0 {
		c.Gateway.MaxBackoff = constants.GatewayMaxBackoff
	}
	if c.Gateway.SendQueue == 0 {
		c.Gateway.SendQueue = constants.GatewaySendQueue
	}
	if c.Gateway.IdleTimeout == 0 {
		c.Gateway.IdleTimeout = constants.GatewayIdleTimeout
	}
	if c.Gateway.PingInterval == 0 {
		c.Gateway.PingInterval = constants.GatewayPingInterval
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = constants.GatewayWriteTimeout
	}
	if c.Gateway.Origin == "" {
		if host, err := os.Hostname(); err == nil {
			c.Gateway.Origin = host
		}
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = constants.OperatorTokenTTL
	}
	if c.Auth.Store == "" {
		c.Auth.Store = "memory"
	}
	if c.Auth.Redis.Port == "" {
		c.Auth.Redis.Port = "6379"
	}

	if c.Audit.Driver == "" {
		c.Audit.Driver = "sqlite"
	}
	if c.Audit.DSN == "" && c.Audit.Driver == "sqlite" {
		c.Audit.DSN = "proxyhub-audit.db"
	}
	if c.Proxy.GeoTimeout == 0 {
		c.Proxy.GeoTimeout = constants.GeoLookupTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate checks that the configuration can run a server.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if len(c.Auth.JWTSecret) < 16 {
		return ErrWeakJWTSecret
	}
	if c.Auth.Store != "memory" && c.Auth.Store != "redis" {
		return &ConfigError{fmt.Sprintf("unknown auth store %q", c.Auth.Store)}
	}
	if c.Auth.Store == "redis" && c.Auth.Redis.Host == "" {
		return ErrMissingRedisHost
	}
	for _, op := range c.Auth.Operators {
		if op.Username == "" || op.PasswordHash == "" {
			return ErrInvalidOperator
		}
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return ErrMissingTLSFiles
	}
	if c.Gateway.Enabled {
		if c.Gateway.URL == "" {
			return ErrMissingGatewayURL
		}
		if c.Gateway.Token == "" {
			return ErrMissingGatewayToken
		}
		if c.Gateway.MaxBackoff < c.Gateway.InitialBackoff {
			return &ConfigError{"gateway max_backoff must not be below initial_backoff"}
		}
		if c.Gateway.PingInterval >= c.Gateway.IdleTimeout {
			return &ConfigError{"gateway ping_interval must be shorter than idle_timeout"}
		}
	}
	if c.Audit.Enabled {
		switch c.Audit.Driver {
		case "sqlite", "postgres", "mysql":
		default:
			return &ConfigError{fmt.Sprintf("unknown audit driver %q", c.Audit.Driver)}
		}
		if c.Audit.DSN == "" {
			return ErrMissingAuditDSN
		}
	}
	if c.Ingest.Enabled && len(c.Ingest.Tokens) == 0 {
		return ErrMissingIngestTokens
	}
	if err := c.checkLimits(); err != nil {
		return err
	}
	if c.Channel.PingInterval >= c.Channel.IdleTimeout {
		return &ConfigError{"channel ping_interval must be shorter than idle_timeout"}
	}
	return nil
}

// checkLimits rejects non-positive sizes and timeouts. Defaults only replace
// zero values, so negatives from YAML reach this point.
func (c *Config) checkLimits() error {
	sizes := []struct {
		name string
		v    int64
	}{
		{"channel.send_queue", int64(c.Channel.SendQueue)},
		{"channel.max_frame_size", c.Channel.MaxFrameSize},
		{"channel.max_conns_per_ip", int64(c.Channel.MaxConnsPerIP)},
		{"gateway.send_queue", int64(c.Gateway.SendQueue)},
	}
	for _, s := range sizes {
		if s.v <= 0 {
			return &ConfigError{fmt.Sprintf("%s must be positive, got %d", s.name, s.v)}
		}
	}

	timeouts := []struct {
		name string
		v    time.Duration
	}{
		{"server.read_header_timeout", c.Server.ReadHeaderTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"channel.idle_timeout", c.Channel.IdleTimeout},
		{"channel.ping_interval", c.Channel.PingInterval},
		{"channel.write_timeout", c.Channel.WriteTimeout},
		{"channel.auth_timeout", c.Channel.AuthTimeout},
		{"gateway.connect_timeout", c.Gateway.ConnectTimeout},
		{"gateway.initial_backoff", c.Gateway.InitialBackoff},
		{"gateway.max_backoff", c.Gateway.MaxBackoff},
		{"gateway.idle_timeout", c.Gateway.IdleTimeout},
		{"gateway.ping_interval", c.Gateway.PingInterval},
		{"gateway.write_timeout", c.Gateway.WriteTimeout},
		{"auth.token_ttl", c.Auth.TokenTTL},
		{"proxy.geo_timeout", c.Proxy.GeoTimeout},
	}
	for _, d := range timeouts {
		if d.v <= 0 {
			return &ConfigError{fmt.Sprintf("%s must be positive, got %s", d.name, d.v)}
		}
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

var (
	ErrMissingJWTSecret    = &ConfigError{"auth jwt_secret is required"}
	ErrWeakJWTSecret       = &ConfigError{"auth jwt_secret must be at least 16 characters"}
	ErrMissingRedisHost    = &ConfigError{"auth redis host is required for the redis store"}
	ErrInvalidOperator     = &ConfigError{"operators need a username and password_hash"}
	ErrMissingTLSFiles     = &ConfigError{"tls requires cert_file and key_file"}
	ErrMissingGatewayURL   = &ConfigError{"gateway url is required when the gateway is enabled"}
	ErrMissingGatewayToken = &ConfigError{"gateway token is required when the gateway is enabled"}
	ErrMissingIngestTokens = &ConfigError{"ingest needs at least one token"}
	ErrMissingAuditDSN     = &ConfigError{"audit dsn is required for the selected driver"}
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Message
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
