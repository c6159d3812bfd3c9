package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "VIEWING"
	envConfigDefaultPath = "VIEWING_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so AutomaticEnv can resolve nested keys
// such as VIEWING_STORE_DRIVER.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("backend", cfg.Backend)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("cors.allow_origins", cfg.CORS.AllowOrigins)

	v.SetDefault("push.outbox", cfg.Push.Outbox)
	v.SetDefault("push.ping_interval", cfg.Push.PingInterval)
	v.SetDefault("push.max_message_bytes", cfg.Push.MaxMessageBytes)
	v.SetDefault("push.rate_limit", cfg.Push.RateLimit)

	v.SetDefault("presence.ttl", cfg.Presence.TTL)
	v.SetDefault("presence.heartbeat_interval", cfg.Presence.HeartbeatInterval)
	v.SetDefault("presence.request_timeout", cfg.Presence.RequestTimeout)
	v.SetDefault("presence.key_prefix", cfg.Presence.KeyPrefix)

	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.redis_url", cfg.Store.RedisURL)
	v.SetDefault("store.max_retries", cfg.Store.MaxRetries)
	v.SetDefault("store.min_retry_backoff", cfg.Store.MinRetryBackoff)
	v.SetDefault("store.max_retry_backoff", cfg.Store.MaxRetryBackoff)
	v.SetDefault("store.dial_timeout", cfg.Store.DialTimeout)
	v.SetDefault("store.read_timeout", cfg.Store.ReadTimeout)
	v.SetDefault("store.write_timeout", cfg.Store.WriteTimeout)
	v.SetDefault("store.sqlite_path", cfg.Store.SQLitePath)
	v.SetDefault("store.purge_interval", cfg.Store.PurgeInterval)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
