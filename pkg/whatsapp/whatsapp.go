package whatsapp

import (
	"context"

	"wamux/pkg/whatsapp/types"
)

// Conn is one live protocol connection for a single session.
//
// Events delivers batches in protocol order and is closed once the
// connection has ended. A connection that drops without a local Close
// emits a final types.Closed before the channel closes.
type Conn interface {
	Events() <-chan []types.Event
	Registered() bool
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	SendText(ctx context.Context, to, text string) (*types.SentMessage, error)
	SendLocation(ctx context.Context, to string, latitude, longitude float64) (*types.SentMessage, error)
	SendPresence(ctx context.Context, to string, presence types.Presence) error
	DownloadMedia(ctx context.Context, msg types.Message) ([]byte, error)
	Logout(ctx context.Context) error
	Close() error
}

// Connector opens protocol connections.
type Connector interface {
	LatestVersion(ctx context.Context) (types.Version, error)
	Connect(ctx context.Context, opts types.ConnectOptions) (Conn, error)
}
