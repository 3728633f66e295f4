package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"teamly/cmd/internal/archive"
	"teamly/cmd/internal/cache"
	"teamly/cmd/internal/dispatch"
	"teamly/cmd/internal/gateway"
	"teamly/cmd/internal/rest"
	"teamly/cmd/internal/session"
)

// Config contains all runtime configuration.
//
// Values are layered: defaults, then the YAML file (if any), then TEAMLY_*
// environment variables.
type Config struct {
	Token string `yaml:"token"`

	APIBaseURL string `yaml:"api_base_url"`
	GatewayURL string `yaml:"gateway_url"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogColor  bool   `yaml:"log_color"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReconnectInitial  time.Duration `yaml:"reconnect_initial"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`

	// Outbound control-frame budget.
	RateLimitEvents int           `yaml:"rate_limit_events"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`

	MaxMessages           int `yaml:"max_messages"`
	BootstrapMessageLimit int `yaml:"bootstrap_message_limit"`
	BootstrapConcurrency  int `yaml:"bootstrap_concurrency"`
	CallbackBacklogWarn   int `yaml:"callback_backlog_warn"`

	// StopGrace bounds the callback drain on shutdown.
	StopGrace time.Duration `yaml:"stop_grace"`

	RESTRequestsPerSecond float64       `yaml:"rest_requests_per_second"`
	RESTBurst             int           `yaml:"rest_burst"`
	RESTMaxRetries        int           `yaml:"rest_max_retries"`
	RESTTimeout           time.Duration `yaml:"rest_timeout"`

	// OpsAddr serves /healthz, /readyz and /metrics. Empty disables it.
	OpsAddr           string        `yaml:"ops_addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	DatabaseURL   string        `yaml:"database_url"`
	DBMaxConns    int32         `yaml:"db_max_conns"`
	DBMinConns    int32         `yaml:"db_min_conns"`
	ArchiveSchema string        `yaml:"archive_schema"`
	ArchiveWrite  time.Duration `yaml:"archive_write_timeout"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		APIBaseURL: rest.DefaultBaseURL,
		GatewayURL: rest.DefaultGatewayURL,

		LogLevel:  "info",
		LogFormat: "json",

		HeartbeatInterval: gateway.DefaultHeartbeatInterval,
		ConnectTimeout:    gateway.DefaultConnectTimeout,
		ReconnectInitial:  gateway.DefaultReconnectInitial,
		ReconnectMax:      gateway.DefaultReconnectMax,

		RateLimitEvents: gateway.DefaultRateLimitEvents,
		RateLimitWindow: gateway.DefaultRateLimitWindow,

		MaxMessages:           cache.DefaultMaxMessages,
		BootstrapMessageLimit: cache.DefaultBootstrapMessageLimit,
		BootstrapConcurrency:  cache.DefaultBootstrapConcurrency,
		CallbackBacklogWarn:   dispatch.DefaultBacklogWarn,
		StopGrace:             session.DefaultStopGrace,

		RESTRequestsPerSecond: rest.DefaultRequestsPerSecond,
		RESTBurst:             rest.DefaultBurst,
		RESTMaxRetries:        rest.DefaultMaxRetries,
		RESTTimeout:           rest.DefaultRequestTimeout,

		ReadHeaderTimeout: 5 * time.Second,

		DBMaxConns:    10,
		DBMinConns:    0,
		ArchiveSchema: archive.DefaultSchema,
		ArchiveWrite:  archive.DefaultWriteTimeout,
	}
}

// LoadConfig builds a Config from defaults, the optional YAML file at path,
// and the environment. An empty path falls back to TEAMLY_CONFIG.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = EnvString("TEAMLY_CONFIG", "")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile merges the YAML file at path into c. Keys absent from the file keep their current value.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays TEAMLY_* variables. Unset or invalid variables keep the current value.
func (c *Config) applyEnv() {
	c.Token = EnvString("TEAMLY_TOKEN", c.Token)
	c.APIBaseURL = EnvString("TEAMLY_API_BASE_URL", c.APIBaseURL)
	c.GatewayURL = EnvString("TEAMLY_GATEWAY_URL", c.GatewayURL)

	c.LogLevel = EnvString("TEAMLY_LOG_LEVEL", c.LogLevel)
	c.LogFormat = EnvString("TEAMLY_LOG_FORMAT", c.LogFormat)
	c.LogColor = EnvBool("TEAMLY_LOG_COLOR", c.LogColor)

	c.HeartbeatInterval = EnvDuration("TEAMLY_HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.ConnectTimeout = EnvDuration("TEAMLY_CONNECT_TIMEOUT", c.ConnectTimeout)
	c.ReconnectInitial = EnvDuration("TEAMLY_RECONNECT_INITIAL", c.ReconnectInitial)
	c.ReconnectMax = EnvDuration("TEAMLY_RECONNECT_MAX", c.ReconnectMax)

	c.RateLimitEvents = EnvInt("TEAMLY_RATE_LIMIT_EVENTS", c.RateLimitEvents)
	c.RateLimitWindow = EnvDuration("TEAMLY_RATE_LIMIT_WINDOW", c.RateLimitWindow)

	c.MaxMessages = EnvInt("TEAMLY_MAX_MESSAGES", c.MaxMessages)
	c.BootstrapMessageLimit = EnvInt("TEAMLY_BOOTSTRAP_MESSAGE_LIMIT", c.BootstrapMessageLimit)
	c.BootstrapConcurrency = EnvInt("TEAMLY_BOOTSTRAP_CONCURRENCY", c.BootstrapConcurrency)
	c.CallbackBacklogWarn = EnvInt("TEAMLY_CALLBACK_BACKLOG_WARN", c.CallbackBacklogWarn)
	c.StopGrace = EnvDuration("TEAMLY_STOP_GRACE", c.StopGrace)

	c.RESTRequestsPerSecond = EnvFloat64("TEAMLY_REST_REQUESTS_PER_SECOND", c.RESTRequestsPerSecond)
	c.RESTBurst = EnvInt("TEAMLY_REST_BURST", c.RESTBurst)
	c.RESTMaxRetries = EnvInt("TEAMLY_REST_MAX_RETRIES", c.RESTMaxRetries)
	c.RESTTimeout = EnvDuration("TEAMLY_REST_TIMEOUT", c.RESTTimeout)

	c.OpsAddr = EnvString("TEAMLY_OPS_ADDR", c.OpsAddr)
	c.ReadHeaderTimeout = EnvDuration("TEAMLY_HTTP_READ_HEADER_TIMEOUT", c.ReadHeaderTimeout)

	c.DatabaseURL = EnvString("TEAMLY_DATABASE_URL", c.DatabaseURL)
	c.DBMaxConns = EnvInt32("TEAMLY_DB_MAX_CONNS", c.DBMaxConns)
	c.DBMinConns = EnvInt32("TEAMLY_DB_MIN_CONNS", c.DBMinConns)
	c.ArchiveSchema = EnvString("TEAMLY_ARCHIVE_SCHEMA", c.ArchiveSchema)
	c.ArchiveWrite = EnvDuration("TEAMLY_ARCHIVE_WRITE_TIMEOUT", c.ArchiveWrite)
}

// Validate rejects settings the runtime cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Token) == "" {
		errs = append(errs, errors.New("config: token is required (TEAMLY_TOKEN)"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text", "pretty":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log format %q", c.LogFormat))
	}
	if c.ReconnectMax < c.ReconnectInitial {
		errs = append(errs, fmt.Errorf("config: reconnect_max (%s) < reconnect_initial (%s)", c.ReconnectMax, c.ReconnectInitial))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("config: db_min_conns (%d) > db_max_conns (%d)", c.DBMinConns, c.DBMaxConns))
	}
	return errors.Join(errs...)
}
