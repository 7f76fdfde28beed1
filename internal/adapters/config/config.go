package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "EAM_GW"

// ServerConfig holds the HTTP facade configuration.
// Note: Fields should be exported (start with uppercase) to be unmarshalled by Viper.
type ServerConfig struct {
	HTTPPort int `mapstructure:"http_port"`
}

// RemoteConfig describes the remote asset-management API endpoints and the
// transport timeouts applied to calls against them.
type RemoteConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	LoginPath           string `mapstructure:"login_path"`
	ProbePath           string `mapstructure:"probe_path"`
	SearchPath          string `mapstructure:"search_path"`
	LoginSurfacePattern string `mapstructure:"login_surface_pattern"`

	ConnectTimeoutSeconds    int `mapstructure:"connect_timeout_seconds"`
	ReadTimeoutSeconds       int `mapstructure:"read_timeout_seconds"`
	SearchReadTimeoutSeconds int `mapstructure:"search_read_timeout_seconds"`
}

// AuthConfig holds credential-lifecycle configuration.
type AuthConfig struct {
	RefreshMarginSeconds    int    `mapstructure:"refresh_margin_seconds"`
	VerifyTTLSeconds        int    `mapstructure:"verify_ttl_seconds"`
	MinRemainingSeconds     int    `mapstructure:"min_remaining_seconds"`
	CredentialAESKey        string `mapstructure:"credential_aes_key"` // Hex-encoded 32 bytes; should come from ENV. Empty disables at-rest encryption.
	StartupCredentialReload bool   `mapstructure:"startup_credential_reload"`
	StartupIdentity         string `mapstructure:"startup_identity"`
}

// CacheConfig holds tiered-cache configuration. PersistentBackend selects the
// slow tier implementation: "file" (default) or "redis".
type CacheConfig struct {
	Dir                  string `mapstructure:"dir"`
	MemoryTTLSeconds     int    `mapstructure:"memory_ttl_seconds"`
	PersistentTTLSeconds int    `mapstructure:"persistent_ttl_seconds"`
	StaleFallbackSeconds int    `mapstructure:"stale_fallback_seconds"`
	PersistentBackend    string `mapstructure:"persistent_backend"`
}

// EscalationFilter is one configured rung of the work-order escalation
// ladder. The ladder is deployment-specific, so it lives in config rather
// than code; an empty where is the unfiltered fallback.
type EscalationFilter struct {
	Name  string `mapstructure:"name"`
	Where string `mapstructure:"where"`
}

// SearchConfig holds work-order search configuration.
type SearchConfig struct {
	Resource          string             `mapstructure:"resource"`
	SiteResource      string             `mapstructure:"site_resource"`
	Fields            []string           `mapstructure:"fields"`
	SiteFields        []string           `mapstructure:"site_fields"`
	OrderBy           string             `mapstructure:"order_by"`
	DefaultPageSize   int                `mapstructure:"default_page_size"`
	MaxPageSize       int                `mapstructure:"max_page_size"`
	EscalationFilters []EscalationFilter `mapstructure:"escalation_filters"`
}

// RedisConfig holds Redis-related configurations (only used when the
// persistent cache backend is "redis").
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"` // Optional
	DB       int    `mapstructure:"db"`       // Optional
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
}

// Config holds all configuration for the application.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Remote RemoteConfig `mapstructure:"remote"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Search SearchConfig `mapstructure:"search"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Log    LogConfig    `mapstructure:"log"`
	App    AppConfig    `mapstructure:"app"`
}

// Provider defines an interface for accessing application configuration.
// This allows for easy mocking in tests and decouples the app from Viper.
type Provider interface {
	Get() *Config
}

// viperProvider implements the Provider interface using Viper.
type viperProvider struct {
	config *Config
	logger *zap.Logger // Using zap.Logger directly for config internal logging, not domain.Logger to avoid circular deps
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8090)
	v.SetDefault("remote.login_path", "/oauth/token")
	v.SetDefault("remote.probe_path", "/whoami")
	v.SetDefault("remote.search_path", "/os")
	v.SetDefault("remote.login_surface_pattern", "/login")
	v.SetDefault("remote.connect_timeout_seconds", 3)
	v.SetDefault("remote.read_timeout_seconds", 10)
	v.SetDefault("remote.search_read_timeout_seconds", 30)
	v.SetDefault("auth.refresh_margin_seconds", 300)
	v.SetDefault("auth.verify_ttl_seconds", 30)
	v.SetDefault("auth.min_remaining_seconds", 60)
	v.SetDefault("auth.startup_credential_reload", true)
	v.SetDefault("cache.dir", "/var/cache/eam-gateway")
	v.SetDefault("cache.memory_ttl_seconds", 240)
	v.SetDefault("cache.persistent_ttl_seconds", 1200)
	v.SetDefault("cache.stale_fallback_seconds", 1800)
	v.SetDefault("cache.persistent_backend", "file")
	v.SetDefault("search.resource", "workorder")
	v.SetDefault("search.site_resource", "site")
	v.SetDefault("search.order_by", "+reportdate")
	v.SetDefault("search.default_page_size", 20)
	v.SetDefault("search.max_page_size", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("app.service_name", "eam-gateway-service")
	v.SetDefault("app.shutdown_timeout_seconds", 30)
}

// NewViperProvider creates and initializes a new configuration provider using Viper.
// It loads configuration from file and environment variables, and sets up hot-reloading.
// A basic logger (e.g., zap.NewExample()) should be passed for internal logging during setup.
// appCtx is the application lifecycle context used for graceful shutdown of background tasks.
func NewViperProvider(appCtx context.Context, logger *zap.Logger) (Provider, error) {
	cfg := &Config{}
	v := viper.New()

	setDefaults(v)

	// Configure Viper to read from YAML file
	v.SetConfigName(getEnv("VIPER_CONFIG_NAME", "config"))
	v.SetConfigType("yaml")
	v.AddConfigPath(getEnv("VIPER_CONFIG_PATH", "/app/config"))
	v.AddConfigPath(".") // Also look in current directory for local dev

	// Configure Viper to read from environment variables
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")) // e.g., remote.base_url becomes REMOTE_BASE_URL

	// Attempt to read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Warn("Config file not found; relying on defaults and environment variables", zap.Error(err))
		} else {
			logger.Error("Failed to read config file", zap.Error(err))
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal the configuration into the struct
	if err := v.Unmarshal(cfg); err != nil {
		logger.Error("Failed to unmarshal config", zap.Error(err))
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	p := &viperProvider{
		config: cfg,
		logger: logger,
	}

	// Set up SIGHUP for hot-reloading configuration
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
		p.logger.Info("SIGHUPConfigReloader goroutine started.")
		for {
			select {
			case sig := <-sigChan:
				p.logger.Info("SIGHUP received, attempting to reload configuration...", zap.String("signal", sig.String()))
				if err := v.ReadInConfig(); err != nil {
					p.logger.Error("Failed to re-read config file on SIGHUP", zap.Error(err))
				} else {
					newCfg := &Config{}
					if err := v.Unmarshal(newCfg); err != nil {
						p.logger.Error("Failed to unmarshal re-read config on SIGHUP", zap.Error(err))
					} else {
						p.config = newCfg
						p.logger.Info("Configuration reloaded successfully via SIGHUP")
					}
				}
			case <-appCtx.Done():
				p.logger.Info("SIGHUPConfigReloader goroutine shutting down due to context cancellation.")
				return // Exit goroutine when application context is done
			}
		}
	}()

	// Optional: Watch for config file changes (useful for local dev, less so in containers usually)
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in OnConfigChange callback",
					zap.String("event_name", e.Name),
					zap.String("event_op", e.Op.String()),
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		p.logger.Info("Config file changed", zap.String("name", e.Name), zap.String("op", e.Op.String()))
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			p.logger.Error("Failed to unmarshal config on file change event", zap.Error(err))
		} else {
			p.config = newCfg
			p.logger.Info("Configuration reloaded successfully via file change event")
		}
	})

	p.logger.Info("Configuration loaded successfully", zap.String("config_file_used", v.ConfigFileUsed()))

	return p, nil
}

// Get returns the current configuration.
func (p *viperProvider) Get() *Config {
	return p.config
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
