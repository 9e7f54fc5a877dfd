package models

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `json:"server" toml:"server" yaml:"server"`
	Gateway     GatewayConfig     `json:"gateway" toml:"gateway" yaml:"gateway"`
	Sessions    SessionsConfig    `json:"sessions" toml:"sessions" yaml:"sessions"`
	Credentials CredentialsConfig `json:"credentials" toml:"credentials" yaml:"credentials"`
	Webhooks    WebhooksConfig    `json:"webhooks" toml:"webhooks" yaml:"webhooks"`
	Media       MediaConfig       `json:"media" toml:"media" yaml:"media"`
	Tracing     TracingConfig     `json:"tracing" toml:"tracing" yaml:"tracing"`
	LogLevel    string            `json:"log_level" toml:"log_level" yaml:"log_level"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Port            int `json:"port" toml:"port" yaml:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec" toml:"read_timeout_sec" yaml:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec" toml:"write_timeout_sec" yaml:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec" toml:"idle_timeout_sec" yaml:"idleTimeoutSec"`
}

// GatewayConfig points at the protocol gateway that owns the wire connections
type GatewayConfig struct {
	URL        string `json:"url" toml:"url" yaml:"url"`
	APIKey     string `json:"apiKey" toml:"api_key" yaml:"apiKey"`
	TimeoutSec int    `json:"timeoutSec" toml:"timeout_sec" yaml:"timeoutSec"`
}

// SessionsConfig controls the lifecycle manager
type SessionsConfig struct {
	MaxReconnectAttempts      int    `json:"maxReconnectAttempts" toml:"max_reconnect_attempts" yaml:"maxReconnectAttempts"`
	ReconnectInitialBackoffMs int    `json:"reconnectInitialBackoffMs" toml:"reconnect_initial_backoff_ms" yaml:"reconnectInitialBackoffMs"`
	ReconnectMaxBackoffMs     int    `json:"reconnectMaxBackoffMs" toml:"reconnect_max_backoff_ms" yaml:"reconnectMaxBackoffMs"`
	PrintQR                   bool   `json:"printQR" toml:"print_qr" yaml:"printQR"`
	UpsertBatchMode           string `json:"upsertBatchMode" toml:"upsert_batch_mode" yaml:"upsertBatchMode"`
	LoadOnStartup             bool   `json:"loadOnStartup" toml:"load_on_startup" yaml:"loadOnStartup"`
}

// CredentialsConfig locates the per-session credential directories
type CredentialsConfig struct {
	Dir     string `json:"dir" toml:"dir" yaml:"dir"`
	Suffix  string `json:"suffix" toml:"suffix" yaml:"suffix"`
	Encrypt bool   `json:"encrypt" toml:"encrypt" yaml:"encrypt"`
}

// WebhooksConfig selects the subscription table backend and delivery settings
type WebhooksConfig struct {
	Store      string `json:"store" toml:"store" yaml:"store"`
	FilePath   string `json:"filePath" toml:"file_path" yaml:"filePath"`
	DBPath     string `json:"dbPath" toml:"db_path" yaml:"dbPath"`
	TimeoutSec int    `json:"timeoutSec" toml:"timeout_sec" yaml:"timeoutSec"`
	Secret     string `json:"secret" toml:"secret" yaml:"secret"`
	UserAgent  string `json:"userAgent" toml:"user_agent" yaml:"userAgent"`
}

// MediaConfig holds inbound media capture settings
type MediaConfig struct {
	Enabled              bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Dir                  string `json:"dir" toml:"dir" yaml:"dir"`
	RetentionDays        int    `json:"retentionDays" toml:"retention_days" yaml:"retentionDays"`
	CleanupIntervalHours int    `json:"cleanupIntervalHours" toml:"cleanup_interval_hours" yaml:"cleanupIntervalHours"`
	DownloadTimeoutSec   int    `json:"downloadTimeoutSec" toml:"download_timeout_sec" yaml:"downloadTimeoutSec"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled" toml:"enabled" yaml:"enabled"`
	ServiceName    string  `json:"serviceName" toml:"service_name" yaml:"serviceName"`
	ServiceVersion string  `json:"serviceVersion" toml:"service_version" yaml:"serviceVersion"`
	Environment    string  `json:"environment" toml:"environment" yaml:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint" toml:"otlp_endpoint" yaml:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate" toml:"sample_rate" yaml:"sampleRate"`
	UseStdout      bool    `json:"useStdout" toml:"use_stdout" yaml:"useStdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
