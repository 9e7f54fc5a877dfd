package types

// Disconnect status codes reported by the protocol when a connection closes.
const (
	DisconnectLoggedOut          = 401
	DisconnectForbidden          = 403
	DisconnectConnectionLost     = 408
	DisconnectConnectionClosed   = 428
	DisconnectConnectionReplaced = 440
	DisconnectBadSession         = 500
	DisconnectRestartRequired    = 515
)

// Message delivery status codes as carried by messages.update.
const (
	StatusError       = 0
	StatusPending     = 1
	StatusServerAck   = 2
	StatusDeliveryAck = 3
	StatusRead        = 4
	StatusPlayed      = 5
)

// Wire event names.
const (
	EventConnectionUpdate = "connection.update"
	EventCredsUpdate      = "creds.update"
	EventMessagesUpsert   = "messages.upsert"
	EventMessagesUpdate   = "messages.update"
)

// StatusBroadcastJID is the pseudo-chat that carries status (story) posts.
const StatusBroadcastJID = "status@broadcast"

// Presence values accepted by SendPresence.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresenceRecording Presence = "recording"
	PresencePaused    Presence = "paused"
)

// Version is the protocol client version triple.
type Version [3]int

// DefaultVersion is used when the latest version cannot be resolved.
var DefaultVersion = Version{2, 3000, 1015901307}

// Browser identifies the client to the protocol as platform, name and version.
type Browser [3]string
