package types

// Event is one protocol event. The concrete types below are the only
// implementations; consumers switch on them.
type Event interface {
	eventName() string
}

// QRCode carries a fresh pairing QR payload.
type QRCode struct {
	Code string `json:"qr"`
}

// Connecting reports that the transport is (re)establishing.
type Connecting struct{}

// Connected reports an authenticated, open connection.
type Connected struct{}

// Closed reports the end of a connection. StatusCode is 0 when the
// protocol gave no code.
type Closed struct {
	StatusCode int    `json:"statusCode,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// CredsUpdate carries credential files that changed and must be persisted.
type CredsUpdate struct {
	Files Credentials
}

// MessagesUpsert delivers new or appended messages.
type MessagesUpsert struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

// MessagesUpdate delivers status changes for previously sent messages.
type MessagesUpdate struct {
	Updates []MessageUpdate `json:"updates"`
}

// MessageUpdate is a single status change.
type MessageUpdate struct {
	Key    MessageKey `json:"key"`
	Status int        `json:"status"`
}

func (QRCode) eventName() string         { return EventConnectionUpdate }
func (Connecting) eventName() string     { return EventConnectionUpdate }
func (Connected) eventName() string      { return EventConnectionUpdate }
func (Closed) eventName() string         { return EventConnectionUpdate }
func (CredsUpdate) eventName() string    { return EventCredsUpdate }
func (MessagesUpsert) eventName() string { return EventMessagesUpsert }
func (MessagesUpdate) eventName() string { return EventMessagesUpdate }

// Name returns the wire event name an event was decoded from.
func Name(e Event) string {
	return e.eventName()
}

// Credentials is a session's authentication state: file name to contents.
type Credentials map[string][]byte

// Clone returns an independent copy.
func (c Credentials) Clone() Credentials {
	out := make(Credentials, len(c))
	for k, v := range c {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// ConnectOptions configures one connection attempt.
type ConnectOptions struct {
	SessionID           string
	Version             Version
	Browser             Browser
	Credentials         Credentials
	MarkOnlineOnConnect bool
}

// SentMessage is the protocol's acknowledgement of an outbound message.
type SentMessage struct {
	Key       MessageKey `json:"key"`
	Timestamp int64      `json:"messageTimestamp,omitempty"`
	Status    int        `json:"status,omitempty"`
}
