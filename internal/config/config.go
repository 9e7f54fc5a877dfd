package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"wamux/internal/constants"
	"wamux/internal/models"
	"wamux/internal/security"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingGatewayURL = models.ConfigError{Message: "missing protocol gateway URL"}
	ErrInvalidGatewayURL = models.ConfigError{Message: "gateway URL must be an http(s) or ws(s) URL"}
	ErrUnknownStore      = models.ConfigError{Message: "webhooks.store must be \"file\" or \"sqlite\""}
	ErrUnknownBatchMode  = models.ConfigError{Message: "sessions.upsertBatchMode must be \"first\" or \"all\""}
)

// LoadConfig reads a JSON, TOML or YAML file (chosen by extension), applies
// environment overrides and defaults, and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := decode(path, file, &config); err != nil {
		return nil, err
	}

	return finish(&config)
}

// LoadFromEnvironment builds a configuration from defaults and environment
// variables only, for running without a config file.
func LoadFromEnvironment() (*models.Config, error) {
	return finish(&models.Config{})
}

func finish(config *models.Config) (*models.Config, error) {
	applyEnvironmentOverrides(config)
	applyDefaults(config)

	if err := validate(config); err != nil {
		return nil, err
	}
	if err := validateSecurity(config); err != nil {
		return nil, err
	}
	return config, nil
}

func decode(path string, data []byte, config *models.Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", "":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("parse json config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), config); err != nil {
			return fmt.Errorf("parse toml config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unsupported config format %q", ext)}
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Gateway.TimeoutSec <= 0 {
		c.Gateway.TimeoutSec = constants.DefaultGatewayTimeoutSec
	}

	if c.Sessions.MaxReconnectAttempts <= 0 {
		c.Sessions.MaxReconnectAttempts = constants.DefaultMaxReconnectAttempts
	}
	if c.Sessions.ReconnectInitialBackoffMs < 0 {
		c.Sessions.ReconnectInitialBackoffMs = 0
	}
	if c.Sessions.ReconnectMaxBackoffMs <= 0 {
		c.Sessions.ReconnectMaxBackoffMs = constants.DefaultReconnectMaxBackoffMs
	}
	if c.Sessions.UpsertBatchMode == "" {
		c.Sessions.UpsertBatchMode = constants.UpsertBatchFirst
	}

	if c.Credentials.Dir == "" {
		c.Credentials.Dir = constants.DefaultCredentialsDir
	}
	if c.Credentials.Suffix == "" {
		c.Credentials.Suffix = constants.DefaultCredentialsSuffix
	}

	if c.Webhooks.Store == "" {
		c.Webhooks.Store = constants.DefaultWebhookStore
	}
	if c.Webhooks.FilePath == "" {
		c.Webhooks.FilePath = constants.DefaultWebhookFile
	}
	if c.Webhooks.DBPath == "" {
		c.Webhooks.DBPath = constants.DefaultWebhookDBPath
	}
	if c.Webhooks.TimeoutSec <= 0 {
		c.Webhooks.TimeoutSec = constants.DefaultWebhookTimeoutSec
	}
	if c.Webhooks.UserAgent == "" {
		c.Webhooks.UserAgent = constants.DefaultWebhookUserAgent
	}

	if c.Media.Dir == "" {
		c.Media.Dir = constants.DefaultMediaDir
	}
	if c.Media.RetentionDays <= 0 {
		c.Media.RetentionDays = constants.DefaultMediaRetention
	}
	if c.Media.CleanupIntervalHours <= 0 {
		c.Media.CleanupIntervalHours = constants.DefaultMediaCleanupHours
	}
	if c.Media.DownloadTimeoutSec <= 0 {
		c.Media.DownloadTimeoutSec = constants.DefaultMediaTimeoutSec
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "wamux"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1.0
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func validate(c *models.Config) error {
	if c.Gateway.URL == "" {
		return ErrMissingGatewayURL
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil || u.Host == "" {
		return ErrInvalidGatewayURL
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return ErrInvalidGatewayURL
	}

	switch c.Webhooks.Store {
	case "file", "sqlite":
	default:
		return ErrUnknownStore
	}

	switch c.Sessions.UpsertBatchMode {
	case constants.UpsertBatchFirst, constants.UpsertBatchAll:
	default:
		return ErrUnknownBatchMode
	}

	if c.Sessions.ReconnectInitialBackoffMs > c.Sessions.ReconnectMaxBackoffMs {
		return models.ConfigError{Message: "sessions.reconnectInitialBackoffMs exceeds reconnectMaxBackoffMs"}
	}

	for _, p := range []string{c.Credentials.Dir, c.Media.Dir, c.Webhooks.FilePath, c.Webhooks.DBPath} {
		if err := security.ValidateFilePath(p); err != nil {
			return models.ConfigError{Message: err.Error()}
		}
	}

	if c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing.sampleRate must be between 0 and 1"}
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("WAMUX_GATEWAY_URL"); v != "" {
		c.Gateway.URL = v
	}
	// Secrets are expected from the environment rather than the config file.
	if v := os.Getenv("WAMUX_GATEWAY_API_KEY"); v != "" {
		c.Gateway.APIKey = v
	}
	if v := os.Getenv("WAMUX_WEBHOOK_SECRET"); v != "" {
		c.Webhooks.Secret = v
	}
	if v := os.Getenv("WAMUX_CREDENTIALS_DIR"); v != "" {
		c.Credentials.Dir = v
	}
	if v := os.Getenv("WAMUX_MEDIA_DIR"); v != "" {
		c.Media.Dir = v
	}
	if v := os.Getenv("WAMUX_WEBHOOK_STORE"); v != "" {
		c.Webhooks.Store = v
	}
	if v := os.Getenv("WAMUX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			c.Server.Port = port
		}
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("WAMUX_ENV") == "production"

	if c.Webhooks.Secret != "" && len(c.Webhooks.Secret) < constants.MinWebhookSecretLength {
		return models.ConfigError{Message: fmt.Sprintf("webhook signing secret must be at least %d characters long", constants.MinWebhookSecretLength)}
	}

	if c.Credentials.Encrypt && len(os.Getenv("WAMUX_ENCRYPTION_SECRET")) < constants.MinEncryptionSecret {
		return models.ConfigError{Message: "credentials.encrypt requires WAMUX_ENCRYPTION_SECRET of at least 32 characters"}
	}

	if !isProduction {
		if c.Webhooks.Secret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: webhook signing secret not set. Set WAMUX_WEBHOOK_SECRET to sign outbound webhooks.\n")
		}
		return nil
	}

	if c.Webhooks.Secret == "" {
		return models.ConfigError{Message: "webhook signing secret is required in production (set WAMUX_WEBHOOK_SECRET environment variable)"}
	}
	if c.LogLevel == "debug" {
		return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
	}
	return nil
}
