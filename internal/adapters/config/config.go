package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "EDUMATE_RT"

// ServerConfig holds the ports of the daemon's own health/metrics surfaces.
// Note: Fields should be exported (start with uppercase) to be unmarshalled by Viper.
type ServerConfig struct {
	HTTPPort    int    `mapstructure:"http_port"`
	GRPCPort    int    `mapstructure:"grpc_port"`
	AdminAPIKey string `mapstructure:"admin_api_key"` // guards POST /reconnect; should come from ENV
}

// MessagingConfig holds the connection manager settings.
type MessagingConfig struct {
	Mode                             string   `mapstructure:"mode"` // "live" or "simulated"
	URL                              string   `mapstructure:"url"`
	WebsocketPath                    string   `mapstructure:"websocket_path"`
	PollingPath                      string   `mapstructure:"polling_path"`
	Transports                       []string `mapstructure:"transports"` // preference order: websocket, polling
	ConnectTimeoutMs                 int      `mapstructure:"connect_timeout_ms"`
	ReconnectDelayMs                 int      `mapstructure:"reconnect_delay_ms"`
	MaxReconnectAttempts             int      `mapstructure:"max_reconnect_attempts"`
	ServerDisconnectReconnectDelayMs int      `mapstructure:"server_disconnect_reconnect_delay_ms"`
	AckTimeoutSeconds                int      `mapstructure:"ack_timeout_seconds"`
	WriteTimeoutSeconds              int      `mapstructure:"write_timeout_seconds"`
	PingIntervalSeconds              int      `mapstructure:"ping_interval_seconds"`
	PollWaitSeconds                  int      `mapstructure:"poll_wait_seconds"`
	SimulatedSocketID                string   `mapstructure:"simulated_socket_id"`
}

// AuthConfig selects where the access token comes from.
type AuthConfig struct {
	Source  string `mapstructure:"source"` // "static" or "redis"
	Token   string `mapstructure:"token"`  // static source; should come from ENV
	Profile string `mapstructure:"profile"`
}

// RedisConfig holds Redis-related configurations.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"` // Optional
	DB       int    `mapstructure:"db"`       // Optional
}

// NATSConfig holds the notification bridge connection.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// NotificationConfig controls the system-notification side effect.
type NotificationConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Permission         string `mapstructure:"permission"` // initial permission: default, granted, denied
	AutoCloseSeconds   int    `mapstructure:"auto_close_seconds"`
	BodyLimit          int    `mapstructure:"body_limit"`
	Icon               string `mapstructure:"icon"`
	PermissionTimeoutS int    `mapstructure:"permission_timeout_seconds"`
}

// LogConfig holds logging-related configurations.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// AppConfig holds application-specific configurations.
type AppConfig struct {
	ServiceName            string `mapstructure:"service_name"`
	Version                string `mapstructure:"version"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	AutoConnect            bool   `mapstructure:"auto_connect"`
}

// Config holds all configuration for the application.
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Messaging     MessagingConfig    `mapstructure:"messaging"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Redis         RedisConfig        `mapstructure:"redis"`
	NATS          NATSConfig         `mapstructure:"nats"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Log           LogConfig          `mapstructure:"log"`
	App           AppConfig          `mapstructure:"app"`
}

// Provider defines an interface for accessing application configuration.
// This allows for easy mocking in tests and decouples the app from Viper.
type Provider interface {
	Get() *Config
}

// ConnectTimeout returns the per-dial timeout.
func (m MessagingConfig) ConnectTimeout() time.Duration {
	return msOrDefault(m.ConnectTimeoutMs, 20*time.Second)
}

// ReconnectDelay returns the linear backoff unit.
func (m MessagingConfig) ReconnectDelay() time.Duration {
	return msOrDefault(m.ReconnectDelayMs, time.Second)
}

// ServerDisconnectReconnectDelay returns the fixed delay used after a server-initiated disconnect.
func (m MessagingConfig) ServerDisconnectReconnectDelay() time.Duration {
	return msOrDefault(m.ServerDisconnectReconnectDelayMs, 2*time.Second)
}

// AckTimeout bounds how long a send waits for the server's acknowledgement.
func (m MessagingConfig) AckTimeout() time.Duration {
	return secondsOrDefault(m.AckTimeoutSeconds, 10*time.Second)
}

// WriteTimeout bounds a single frame write.
func (m MessagingConfig) WriteTimeout() time.Duration {
	return secondsOrDefault(m.WriteTimeoutSeconds, 10*time.Second)
}

// PingInterval is the keepalive period of the websocket transport.
func (m MessagingConfig) PingInterval() time.Duration {
	return secondsOrDefault(m.PingIntervalSeconds, 25*time.Second)
}

// PollWait is how long the polling transport lets the server hold a poll request.
func (m MessagingConfig) PollWait() time.Duration {
	return secondsOrDefault(m.PollWaitSeconds, 25*time.Second)
}

// AutoClose returns how long a notification stays on screen without interaction.
func (n NotificationConfig) AutoClose() time.Duration {
	return secondsOrDefault(n.AutoCloseSeconds, 5*time.Second)
}

func msOrDefault(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func secondsOrDefault(s int, def time.Duration) time.Duration {
	if s <= 0 {
		return def
	}
	return time.Duration(s) * time.Second
}

// SetDefaults registers the default for every key so that a missing config file
// still yields a working client.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8088)
	v.SetDefault("server.grpc_port", 0)
	v.SetDefault("server.admin_api_key", "")

	v.SetDefault("messaging.mode", "live")
	v.SetDefault("messaging.url", "http://localhost:5000")
	v.SetDefault("messaging.websocket_path", "/ws")
	v.SetDefault("messaging.polling_path", "/poll")
	v.SetDefault("messaging.transports", []string{"websocket", "polling"})
	v.SetDefault("messaging.connect_timeout_ms", 20000)
	v.SetDefault("messaging.reconnect_delay_ms", 1000)
	v.SetDefault("messaging.max_reconnect_attempts", 5)
	v.SetDefault("messaging.server_disconnect_reconnect_delay_ms", 2000)
	v.SetDefault("messaging.ack_timeout_seconds", 10)
	v.SetDefault("messaging.write_timeout_seconds", 10)
	v.SetDefault("messaging.ping_interval_seconds", 25)
	v.SetDefault("messaging.poll_wait_seconds", 25)
	v.SetDefault("messaging.simulated_socket_id", "demo")

	v.SetDefault("auth.source", "static")
	v.SetDefault("auth.profile", "default")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.subject_prefix", "edumate.desktop")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.permission", "default")
	v.SetDefault("notifications.auto_close_seconds", 5)
	v.SetDefault("notifications.body_limit", 100)
	v.SetDefault("notifications.icon", "/favicon.ico")
	v.SetDefault("notifications.permission_timeout_seconds", 30)

	v.SetDefault("log.level", "info")

	v.SetDefault("app.service_name", "edumate-realtime")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.shutdown_timeout_seconds", 10)
	v.SetDefault("app.auto_connect", true)
}

// viperProvider implements the Provider interface using Viper.
type viperProvider struct {
	config atomic.Pointer[Config]
	logger *zap.Logger // zap directly, not domain.Logger, since the app logger is built from this config
}

// NewViperProvider loads configuration from file and environment variables and keeps
// it fresh on SIGHUP and on file changes until appCtx is cancelled.
func NewViperProvider(appCtx context.Context, logger *zap.Logger) (Provider, error) {
	v := newViper()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Warn("Config file not found; relying on defaults and environment variables", zap.Error(err))
		} else {
			logger.Error("Failed to read config file", zap.Error(err))
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		logger.Error("Failed to unmarshal config", zap.Error(err))
		return nil, err
	}

	p := &viperProvider{logger: logger}
	p.config.Store(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in SIGHUP handler goroutine",
					zap.String("goroutine_name", "SIGHUPConfigReloader"),
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		defer signal.Stop(sigChan)
		for {
			select {
			case sig := <-sigChan:
				p.logger.Info("SIGHUP received, attempting to reload configuration...", zap.String("signal", sig.String()))
				if err := v.ReadInConfig(); err != nil {
					p.logger.Error("Failed to re-read config file on SIGHUP", zap.Error(err))
					continue
				}
				p.reload(v, "sighup")
			case <-appCtx.Done():
				p.logger.Info("SIGHUPConfigReloader goroutine shutting down due to context cancellation.")
				return
			}
		}
	}()

	if v.ConfigFileUsed() != "" {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Panic recovered in OnConfigChange callback",
						zap.String("event_name", e.Name),
						zap.Any("panic_info", r),
					)
				}
			}()
			p.logger.Info("Config file changed", zap.String("name", e.Name), zap.String("op", e.Op.String()))
			p.reload(v, "file_change")
		})
	}

	p.logger.Info("Configuration loaded successfully",
		zap.String("config_file_used", v.ConfigFileUsed()),
		zap.String("messaging_mode", cfg.Messaging.Mode),
	)
	return p, nil
}

// Mode and transport choice are read once at construction; a reload only affects
// values that are looked up on use (timeouts, notification settings, log level for new loggers).
func (p *viperProvider) reload(v *viper.Viper, source string) {
	newCfg, err := unmarshal(v)
	if err != nil {
		p.logger.Error("Failed to unmarshal reloaded config", zap.String("source", source), zap.Error(err))
		return
	}
	p.config.Store(newCfg)
	p.logger.Info("Configuration reloaded successfully", zap.String("source", source))
}

// Get returns the current configuration.
func (p *viperProvider) Get() *Config {
	return p.config.Load()
}

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigName(getEnv("VIPER_CONFIG_NAME", "config"))
	v.SetConfigType("yaml")
	v.AddConfigPath(getEnv("VIPER_CONFIG_PATH", "/app/config"))
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")) // messaging.url -> EDUMATE_RT_MESSAGING_URL
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Messaging.Mode = strings.ToLower(strings.TrimSpace(cfg.Messaging.Mode))
	if cfg.Messaging.Mode != "live" && cfg.Messaging.Mode != "simulated" {
		return nil, fmt.Errorf("invalid messaging.mode %q: want live or simulated", cfg.Messaging.Mode)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// StaticProvider serves a fixed configuration. Tests and embedders use it instead of Viper.
type StaticProvider struct {
	Config *Config
}

// Get implements Provider.
func (s StaticProvider) Get() *Config { return s.Config }

// Defaults returns a Config populated only from SetDefaults.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := unmarshal(v)
	if err != nil {
		panic(err) // defaults are static; this is a programming error
	}
	return cfg
}
