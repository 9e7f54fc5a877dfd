package constants

// Session lifecycle defaults
const (
	DefaultMaxReconnectAttempts        = 10
	DefaultReconnectMaxBackoffMs       = 30000
	DefaultSessionEventBufferSize      = 32
	DefaultBrowserPlatform             = "Ubuntu"
	DefaultBrowserName                 = "Chrome"
	DefaultBrowserVersion              = "22.04.4"
	UpsertBatchFirst                   = "first"
	UpsertBatchAll                     = "all"
	DefaultGatewayTimeoutSec           = 30
	DefaultGatewayVersionRetryAttempts = 3
)

// Storage defaults
const (
	DefaultCredentialsDir    = "wa_credentials"
	DefaultCredentialsSuffix = "_credentials"
	DefaultWebhookStore      = "file"
	DefaultWebhookFile       = "webhooks.json"
	DefaultWebhookDBPath     = "webhooks.db"
	DefaultMediaDir          = "downloads"
	DefaultMediaRetention    = 30
	DefaultMediaCleanupHours = 24
	DefaultMediaTimeoutSec   = 60
)

// Webhook delivery defaults
const (
	DefaultWebhookTimeoutSec = 5
	DefaultWebhookUserAgent  = "wamux-webhook/1.0"
	MinWebhookSecretLength   = 32
)

// Server defaults
const (
	DefaultServerPort            = 3333
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultDatabaseRetryAttempts = 3
	DefaultBackoffInitialMs      = 500
	DefaultBackoffMaxSec         = 5
	DefaultConfigPollIntervalSec = 5
)

// Validation limits
const (
	MaxSessionNameLength = 64
	MaxWebhookURLLength  = 2048
	MaxMessageTextLength = 65536
	MinPhoneNumberLength = 7
)

// Encryption parameters for credentials at rest
const (
	EncryptionSalt       = "wamux-credentials-v1"
	EncryptionNonceSize  = 12
	EncryptionKeySize    = 32
	EncryptionIterations = 100000
	MinEncryptionSecret  = 32
)

// File permission constants
const (
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)
