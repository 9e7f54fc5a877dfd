// Package whatsapptest provides in-memory protocol fakes for tests.
package whatsapptest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"wamux/pkg/whatsapp"
	"wamux/pkg/whatsapp/types"
)

// ErrClosed is returned by calls on a closed fake connection.
var ErrClosed = errors.New("whatsapptest: connection closed")

// Connector is a fake whatsapp.Connector. Every Connect returns a new
// *Conn that tests drive with Emit.
type Connector struct {
	Version    types.Version
	VersionErr error

	mu         sync.Mutex
	connectErr error
	conns      []*Conn
	opts       []types.ConnectOptions
	connected  chan *Conn
}

var _ whatsapp.Connector = (*Connector)(nil)

// NewConnector returns a connector whose connections start unregistered.
func NewConnector() *Connector {
	return &Connector{
		Version:   types.DefaultVersion,
		connected: make(chan *Conn, 64),
	}
}

// FailConnect makes subsequent Connect calls fail with err; nil restores success.
func (c *Connector) FailConnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

func (c *Connector) LatestVersion(ctx context.Context) (types.Version, error) {
	if c.VersionErr != nil {
		return types.Version{}, c.VersionErr
	}
	return c.Version, nil
}

func (c *Connector) Connect(ctx context.Context, opts types.ConnectOptions) (whatsapp.Conn, error) {
	c.mu.Lock()
	c.opts = append(c.opts, opts)
	if c.connectErr != nil {
		err := c.connectErr
		c.mu.Unlock()
		return nil, err
	}
	conn := newConn(opts)
	c.conns = append(c.conns, conn)
	c.mu.Unlock()

	c.connected <- conn
	return conn, nil
}

// WaitConn returns the next connection opened, failing after timeout.
func (c *Connector) WaitConn(timeout time.Duration) (*Conn, error) {
	select {
	case conn := <-c.connected:
		return conn, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("whatsapptest: no connection within %s", timeout)
	}
}

// Connects returns the options of every Connect call, failed ones included.
func (c *Connector) Connects() []types.ConnectOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.ConnectOptions(nil), c.opts...)
}

// Conns returns every connection opened so far.
func (c *Connector) Conns() []*Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Conn(nil), c.conns...)
}

// Call records one request made on a fake connection.
type Call struct {
	Method string
	Args   []string
}

// Conn is a fake whatsapp.Conn.
type Conn struct {
	Options types.ConnectOptions

	// PairingCode is returned by RequestPairingCode.
	PairingCode string
	// Media is returned by DownloadMedia, keyed by message id.
	Media map[string][]byte
	// SendErr, when set, fails SendText, SendLocation and SendPresence.
	SendErr error
	// LogoutDelay simulates the gateway round trip of Logout. The call
	// fails if the connection is closed before the delay ends.
	LogoutDelay time.Duration

	mu         sync.Mutex
	events     chan []types.Event
	closed     bool
	registered bool
	calls      []Call
}

var _ whatsapp.Conn = (*Conn)(nil)

func newConn(opts types.ConnectOptions) *Conn {
	return &Conn{
		Options:     opts,
		PairingCode: "FAKE-CODE",
		Media:       make(map[string][]byte),
		events:      make(chan []types.Event, 64),
		registered:  len(opts.Credentials) > 0,
	}
}

// Emit delivers one batch to the consumer. It reports false if the
// connection has already been closed.
func (c *Conn) Emit(events ...types.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	for _, ev := range events {
		if _, ok := ev.(types.Connected); ok {
			c.registered = true
		}
	}
	c.events <- events
	return true
}

// Drop emits a Closed event with code and ends the connection, as a
// remote disconnect would.
func (c *Conn) Drop(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- []types.Event{types.Closed{StatusCode: code, Reason: "fake disconnect"}}
	c.closed = true
	close(c.events)
}

func (c *Conn) SetRegistered(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = v
}

// Closed reports whether Close or Drop has ended the connection.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Calls returns the requests made on this connection.
func (c *Conn) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallCount counts requests made with method.
func (c *Conn) CallCount(method string) int {
	n := 0
	for _, call := range c.Calls() {
		if call.Method == method {
			n++
		}
	}
	return n
}

func (c *Conn) record(method string, args ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.calls = append(c.calls, Call{Method: method, Args: args})
	return nil
}

func (c *Conn) Events() <-chan []types.Event { return c.events }

func (c *Conn) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

func (c *Conn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	if err := c.record("RequestPairingCode", phone); err != nil {
		return "", err
	}
	return c.PairingCode, nil
}

func (c *Conn) SendText(ctx context.Context, to, text string) (*types.SentMessage, error) {
	if err := c.record("SendText", to, text); err != nil {
		return nil, err
	}
	if c.SendErr != nil {
		return nil, c.SendErr
	}
	return &types.SentMessage{
		Key:       types.MessageKey{RemoteJID: to, FromMe: true, ID: fmt.Sprintf("FAKE%d", c.CallCount("SendText"))},
		Timestamp: time.Now().Unix(),
		Status:    types.StatusPending,
	}, nil
}

func (c *Conn) SendLocation(ctx context.Context, to string, latitude, longitude float64) (*types.SentMessage, error) {
	lat := strconv.FormatFloat(latitude, 'f', -1, 64)
	lng := strconv.FormatFloat(longitude, 'f', -1, 64)
	if err := c.record("SendLocation", to, lat, lng); err != nil {
		return nil, err
	}
	if c.SendErr != nil {
		return nil, c.SendErr
	}
	return &types.SentMessage{
		Key:       types.MessageKey{RemoteJID: to, FromMe: true, ID: fmt.Sprintf("LOC%d", c.CallCount("SendLocation"))},
		Timestamp: time.Now().Unix(),
		Status:    types.StatusPending,
	}, nil
}

func (c *Conn) SendPresence(ctx context.Context, to string, presence types.Presence) error {
	if err := c.record("SendPresence", to, string(presence)); err != nil {
		return err
	}
	return c.SendErr
}

func (c *Conn) DownloadMedia(ctx context.Context, msg types.Message) ([]byte, error) {
	if err := c.record("DownloadMedia", msg.Key.ID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	data, ok := c.Media[msg.Key.ID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("whatsapptest: no media for %s", msg.Key.ID)
	}
	return data, nil
}

func (c *Conn) Logout(ctx context.Context) error {
	if c.LogoutDelay > 0 {
		select {
		case <-time.After(c.LogoutDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.record("Logout")
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}
