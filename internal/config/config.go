package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Fanout modes for notification delivery.
const (
	FanoutLocal = "local"
	FanoutRedis = "redis"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Realtime     RealtimeConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string
	Development bool
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int

	// Bootstrap admin, created at startup when the email is unused.
	BootstrapAdminName     string
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// NotificationConfig controls how routed notifications leave the service.
type NotificationConfig struct {
	FanoutMode   string
	Workers      int
	QueueSize    int
	RedisChannel string
}

// RealtimeConfig covers the WebSocket endpoint and the listener client.
type RealtimeConfig struct {
	SendBuffer          int
	WriteTimeoutSeconds int
	ListenerURL         string
	ListenerToken       string
	ListenerBaseDelayMS int
	ListenerMaxAttempts int
}

// Load reads configuration from the environment (and .env), applying
// defaults where possible. When overlayPath is set, the YAML file supplies
// values for keys the environment leaves unset; its keys are the variable
// names, e.g. "APP_PORT: 9090".
func Load(overlayPath string) (*Config, error) {
	_ = godotenv.Load()

	src := source{}
	if overlayPath != "" {
		overlay, err := readOverlay(overlayPath)
		if err != nil {
			return nil, err
		}
		src.overlay = overlay
	}

	redisDB, err := strconv.Atoi(src.get("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  src.get("APP_NAME", "civic-issues-service"),
			Env:                   src.get("APP_ENV", "development"),
			Host:                  src.get("APP_HOST", "0.0.0.0"),
			Port:                  src.get("APP_PORT", "8080"),
			Version:               src.get("APP_VERSION", "dev"),
			RequestTimeoutSeconds: src.getInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            src.get("POSTGRES_DSN", ""),
			MaxConns:       int32(src.getInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(src.getInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  src.getBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(src.getInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(src.getInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     src.get("REDIS_ADDR", ""),
			Password: src.get("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:       src.get("LOG_LEVEL", "info"),
			Development: src.getBool("LOG_DEVELOPMENT", false),
		},
		Auth: AuthConfig{
			JWTSecret:             src.get("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: src.getInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            src.getInt("AUTH_BCRYPT_COST", 12),

			BootstrapAdminName:     src.get("AUTH_BOOTSTRAP_ADMIN_NAME", "Administrator"),
			BootstrapAdminEmail:    src.get("AUTH_BOOTSTRAP_ADMIN_EMAIL", ""),
			BootstrapAdminPassword: src.get("AUTH_BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
		Notification: NotificationConfig{
			FanoutMode:   strings.ToLower(src.get("NOTIFY_FANOUT_MODE", FanoutLocal)),
			Workers:      src.getInt("NOTIFY_WORKERS", 4),
			QueueSize:    src.getInt("NOTIFY_QUEUE_SIZE", 1024),
			RedisChannel: src.get("NOTIFY_REDIS_CHANNEL", "civic:notifications"),
		},
		Realtime: RealtimeConfig{
			SendBuffer:          src.getInt("WS_SEND_BUFFER", 32),
			WriteTimeoutSeconds: src.getInt("WS_WRITE_TIMEOUT_SECONDS", 10),
			ListenerURL:         src.get("LISTEN_URL", "ws://127.0.0.1:8080/ws"),
			ListenerToken:       src.get("LISTEN_TOKEN", ""),
			ListenerBaseDelayMS: src.getInt("LISTEN_BASE_DELAY_MS", 1000),
			ListenerMaxAttempts: src.getInt("LISTEN_MAX_ATTEMPTS", 5),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Notification.FanoutMode {
	case FanoutLocal:
	case FanoutRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("NOTIFY_FANOUT_MODE=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("invalid NOTIFY_FANOUT_MODE %q", c.Notification.FanoutMode)
	}
	if c.Notification.Workers <= 0 {
		return fmt.Errorf("NOTIFY_WORKERS must be positive")
	}
	if c.Notification.QueueSize <= 0 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be positive")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// WriteTimeout bounds a single WebSocket write.
func (r RealtimeConfig) WriteTimeout() time.Duration {
	if r.WriteTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.WriteTimeoutSeconds) * time.Second
}

// ListenerBaseDelay is the first reconnect delay of the listener.
func (r RealtimeConfig) ListenerBaseDelay() time.Duration {
	return time.Duration(r.ListenerBaseDelayMS) * time.Millisecond
}

func readOverlay(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config overlay: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config overlay %s: %w", path, err)
	}
	overlay := make(map[string]string, len(raw))
	for key, val := range raw {
		if val == nil {
			continue
		}
		overlay[strings.ToUpper(key)] = fmt.Sprint(val)
	}
	return overlay, nil
}

// source resolves keys from the environment first, then the overlay.
type source struct {
	overlay map[string]string
}

func (s source) get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := s.overlay[key]; ok && val != "" {
		return val
	}
	return fallback
}

func (s source) getInt(key string, fallback int) int {
	val := s.get(key, "")
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) getBool(key string, fallback bool) bool {
	val := s.get(key, "")
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
