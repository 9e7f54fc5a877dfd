// Package events is the in-process subscription registry for session
// lifecycle and message events.
package events

import (
	"context"

	"wamux/internal/models"
	"wamux/pkg/whatsapp/types"
)

// Kind names an event kind. The values double as webhook event names.
type Kind string

const (
	KindQR              Kind = "onQR"
	KindPairingCode     Kind = "onPairingCode"
	KindConnecting      Kind = "onConnecting"
	KindConnected       Kind = "onConnected"
	KindDisconnected    Kind = "onDisconnected"
	KindMessageReceived Kind = "onMessageReceived"
	KindMessageUpdated  Kind = "onMessageUpdated"
	KindMessageSent     Kind = "onMessageSent"
)

// AllKinds lists every kind in a stable order.
var AllKinds = []Kind{
	KindQR,
	KindPairingCode,
	KindConnecting,
	KindConnected,
	KindDisconnected,
	KindMessageReceived,
	KindMessageUpdated,
	KindMessageSent,
}

// ParseKind reports whether s names a known kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Payload is the kind-specific body of an event.
type Payload interface {
	Kind() Kind
}

// Event is a payload raised by one session.
type Event struct {
	SessionID string
	Data      Payload
}

// Kind is the kind of the event's payload.
func (e Event) Kind() Kind { return e.Data.Kind() }

type QRCode struct {
	QR string `json:"qr"`
}

type PairingCode struct {
	Code  string `json:"code"`
	Phone string `json:"phone,omitempty"`
}

type Connecting struct {
	RetryCount int `json:"retryCount"`
}

type Connected struct{}

// Disconnected is raised once a session reaches the terminal state.
type Disconnected struct {
	StatusCode        int    `json:"statusCode,omitempty"`
	Reason            string `json:"reason,omitempty"`
	RetryCount        int    `json:"retryCount"`
	CredentialsPurged bool   `json:"credentialsPurged"`
}

// MessageReceived carries one inbound message. Download fetches the
// message's media over the connection that received it.
type MessageReceived struct {
	Message  types.Message
	Download func(ctx context.Context) ([]byte, error) `json:"-"`
}

type MessageUpdated struct {
	Key        types.MessageKey     `json:"key"`
	Status     models.MessageStatus `json:"status"`
	StatusCode int                  `json:"statusCode"`
}

type MessageSent struct {
	To     string            `json:"to"`
	Result types.SentMessage `json:"result"`
}

func (QRCode) Kind() Kind          { return KindQR }
func (PairingCode) Kind() Kind     { return KindPairingCode }
func (Connecting) Kind() Kind      { return KindConnecting }
func (Connected) Kind() Kind       { return KindConnected }
func (Disconnected) Kind() Kind    { return KindDisconnected }
func (MessageReceived) Kind() Kind { return KindMessageReceived }
func (MessageUpdated) Kind() Kind  { return KindMessageUpdated }
func (MessageSent) Kind() Kind     { return KindMessageSent }
