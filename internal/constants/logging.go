package constants

// Standard log field names. Use these exact names in every logrus call so
// log queries work across components.
const (
	// Core identifiers
	LogFieldSession    = "session"
	LogFieldMessageID  = "message_id"
	LogFieldRemoteJID  = "remote_jid"
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldDeliveryID = "delivery_id"

	// Service and operation fields
	LogFieldComponent = "component"
	LogFieldOperation = "operation"
	LogFieldMethod    = "method"

	// Lifecycle and event fields
	LogFieldEvent      = "event"
	LogFieldStatus     = "status"
	LogFieldCloseCode  = "close_code"
	LogFieldReason     = "reason"
	LogFieldRetryCount = "retry_count"
	LogFieldAttempt    = "attempt"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// File and media
	LogFieldFilePath  = "file_path"
	LogFieldMediaType = "media_type"
)

// Log level usage:
//
// DEBUG: per-event detail (batches received, deliveries scheduled).
// INFO:  lifecycle transitions, startup and shutdown.
// WARN:  contained failures the system recovers from (webhook delivery,
//        credential write, media capture, transient disconnects).
// ERROR: failures that end a session or stop a component.
