package models

import "time"

// SessionStatus is the lifecycle state of a protocol session.
type SessionStatus string

const (
	SessionStatusConnecting   SessionStatus = "CONNECTING"
	SessionStatusAwaitingScan SessionStatus = "AWAITING_SCAN"
	SessionStatusConnected    SessionStatus = "CONNECTED"
	SessionStatusDisconnected SessionStatus = "DISCONNECTED"
)

// IsLive reports whether a session in this state still owns a protocol handle.
func (s SessionStatus) IsLive() bool {
	return s == SessionStatusConnecting || s == SessionStatusAwaitingScan || s == SessionStatusConnected
}

// SessionSnapshot is a point-in-time copy of a session's observable state.
type SessionSnapshot struct {
	ID          string        `json:"id"`
	Status      SessionStatus `json:"status"`
	RetryCount  int           `json:"retryCount"`
	QR          string        `json:"qr,omitempty"`
	PairingCode string        `json:"pairingCode,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// MessageStatus is the normalized delivery status of an outbound message.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusServer    MessageStatus = "server"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusPlayed    MessageStatus = "played"
	MessageStatusError     MessageStatus = "error"
)
