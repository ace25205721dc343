package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App         AppConfig
	Backend     BackendConfig
	Realtime    RealtimeConfig
	Store       StoreConfig
	Poller      PollerConfig
	Server      ServerConfig
	Credentials CredentialsConfig
	Redis       RedisConfig
	Feedback    FeedbackConfig
	Usage       UsageConfig
}

var validate = validator.New()

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies struct-level rules that envconfig cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if _, err := c.Backend.WebSocketURL(); err != nil {
		return err
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"NOTEKEEP_APP_ENV" default:"dev"`
	Namespace    string `envconfig:"NOTEKEEP_NAMESPACE" default:"user" validate:"oneof=user admin"`
	LogLevel     string `envconfig:"NOTEKEEP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"NOTEKEEP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type BackendConfig struct {
	BaseURL        string        `envconfig:"NOTEKEEP_API_BASE_URL" required:"true" validate:"required,url"`
	WSPath         string        `envconfig:"NOTEKEEP_WS_PATH" default:"/api/ws" validate:"startswith=/"`
	RequestTimeout time.Duration `envconfig:"NOTEKEEP_API_REQUEST_TIMEOUT" default:"15s" validate:"gt=0"`
}

// WebSocketURL derives the realtime endpoint from the REST base URL: the
// scheme mirrors the REST scheme (wss iff https) and the path is WSPath.
func (b BackendConfig) WebSocketURL() (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(b.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parsing api base url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	default:
		return nil, fmt.Errorf("unsupported api base url scheme %q", parsed.Scheme)
	}
	path := b.WSPath
	if path == "" {
		path = DefaultWSPath
	}
	return &url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: path}, nil
}

type RealtimeConfig struct {
	BaseDelay        time.Duration `envconfig:"NOTEKEEP_RT_BASE_DELAY" default:"5s" validate:"gt=0"`
	CapMultiplier    int           `envconfig:"NOTEKEEP_RT_CAP_MULTIPLIER" default:"5" validate:"gte=1"`
	MaxAttempts      int           `envconfig:"NOTEKEEP_RT_MAX_ATTEMPTS" default:"10" validate:"gte=1"`
	HandshakeTimeout time.Duration `envconfig:"NOTEKEEP_RT_HANDSHAKE_TIMEOUT" default:"10s"`
}

type StoreConfig struct {
	Capacity int `envconfig:"NOTEKEEP_STORE_CAPACITY" default:"50" validate:"gte=1"`
	PageSize int `envconfig:"NOTEKEEP_STORE_PAGE_SIZE" default:"20" validate:"gte=1"`
}

type PollerConfig struct {
	Enabled  bool          `envconfig:"NOTEKEEP_POLL_ENABLED" default:"true"`
	Interval time.Duration `envconfig:"NOTEKEEP_POLL_INTERVAL" default:"5m"`
}

type ServerConfig struct {
	Addr            string        `envconfig:"NOTEKEEP_SERVER_ADDR" default:"127.0.0.1:7788" validate:"hostname_port"`
	CORSOrigins     []string      `envconfig:"NOTEKEEP_SERVER_CORS_ORIGINS"`
	ShutdownTimeout time.Duration `envconfig:"NOTEKEEP_SERVER_SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
}

type CredentialsConfig struct {
	Token          string `envconfig:"NOTEKEEP_TOKEN"`
	KeyringService string `envconfig:"NOTEKEEP_KEYRING_SERVICE" default:"notekeep"`
	KeyringFileDir string `envconfig:"NOTEKEEP_KEYRING_FILE_DIR" default:"~/.config/notekeep/credentials"`
	KeyringDisable bool   `envconfig:"NOTEKEEP_KEYRING_DISABLE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"NOTEKEEP_REDIS_URL"`
	Address      string        `envconfig:"NOTEKEEP_REDIS_ADDR"`
	Password     string        `envconfig:"NOTEKEEP_REDIS_PASSWORD"`
	DB           int           `envconfig:"NOTEKEEP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NOTEKEEP_REDIS_POOL_SIZE" default:"4"`
	MinIdleConns int           `envconfig:"NOTEKEEP_REDIS_MIN_IDLE_CONNS" default:"1"`
	DialTimeout  time.Duration `envconfig:"NOTEKEEP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NOTEKEEP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NOTEKEEP_REDIS_WRITE_TIMEOUT" default:"5s"`
	Channel      string        `envconfig:"NOTEKEEP_REDIS_CHANNEL" default:"nk:notifications:events"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeedbackConfig struct {
	Chime bool `envconfig:"NOTEKEEP_CHIME" default:"true"`
}

// UsageConfig controls the subscription usage cache. It only applies to the
// user namespace; admins have no usage meter.
type UsageConfig struct {
	Enabled bool   `envconfig:"NOTEKEEP_USAGE_ENABLED" default:"true"`
	Path    string `envconfig:"NOTEKEEP_USAGE_PATH" default:"/subscriptions/usage" validate:"startswith=/"`
}
