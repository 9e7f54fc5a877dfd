package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wamux/internal/constants"
	apperrors "wamux/internal/errors"
	"wamux/internal/retry"
	"wamux/pkg/whatsapp/types"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	maxFrameBytes   = 64 << 20
	eventBufferSize = 16

	// Gateways convey protocol disconnect codes as websocket close
	// codes offset into the private range.
	closeCodeOffset = 4000
)

// GatewayConnector speaks to a protocol gateway: version discovery over
// HTTP and one websocket per session for events and requests.
type GatewayConnector struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	backoff    *retry.Backoff
	logger     logrus.FieldLogger
}

// NewGatewayConnector creates a connector for the gateway at baseURL.
func NewGatewayConnector(baseURL, apiKey string, timeout time.Duration, logger logrus.FieldLogger) *GatewayConnector {
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultGatewayTimeoutSec) * time.Second
	}
	return &GatewayConnector{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Duration(constants.DefaultBackoffInitialMs) * time.Millisecond,
			MaxDelay:     time.Duration(constants.DefaultBackoffMaxSec) * time.Second,
			Multiplier:   2,
			MaxAttempts:  constants.DefaultGatewayVersionRetryAttempts,
			Jitter:       true,
		}),
		logger: logger,
	}
}

// LatestVersion asks the gateway for the current protocol version.
func (g *GatewayConnector) LatestVersion(ctx context.Context) (types.Version, error) {
	var version types.Version
	err := g.backoff.RetryWithPredicate(ctx, func() error {
		v, err := g.fetchVersion(ctx)
		if err != nil {
			return err
		}
		version = v
		return nil
	}, apperrors.IsRetryable)
	if err != nil {
		return types.Version{}, err
	}
	return version, nil
}

func (g *GatewayConnector) fetchVersion(ctx context.Context) (types.Version, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/version", nil)
	if err != nil {
		return types.Version{}, apperrors.NewProtocolError("version", 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("X-Api-Key", g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return types.Version{}, apperrors.NewProtocolError("version", http.StatusServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return types.Version{}, apperrors.NewProtocolError("version", resp.StatusCode,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var result struct {
		Version types.Version `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return types.Version{}, apperrors.NewProtocolError("version", resp.StatusCode, fmt.Errorf("failed to decode version: %w", err))
	}
	return result.Version, nil
}

// Connect opens the session socket and sends the hello frame. The
// returned Conn owns its own lifetime; ctx only bounds the handshake.
func (g *GatewayConnector) Connect(ctx context.Context, opts types.ConnectOptions) (Conn, error) {
	socketURL, err := g.socketURL(opts.SessionID)
	if err != nil {
		return nil, apperrors.NewProtocolError("connect", 0, err)
	}

	header := http.Header{}
	if g.apiKey != "" {
		header.Set("X-Api-Key", g.apiKey)
	}
	ws, resp, err := websocket.Dial(ctx, socketURL, &websocket.DialOptions{
		HTTPClient: &http.Client{Timeout: g.httpClient.Timeout},
		HTTPHeader: header,
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, apperrors.NewProtocolError("connect", status, err)
	}
	ws.SetReadLimit(maxFrameBytes)

	hello, err := json.Marshal(helloFrame{
		Type:                "hello",
		Session:             opts.SessionID,
		Version:             opts.Version,
		Browser:             opts.Browser,
		MarkOnlineOnConnect: opts.MarkOnlineOnConnect,
		Credentials:         opts.Credentials,
	})
	if err != nil {
		ws.CloseNow()
		return nil, apperrors.NewProtocolError("connect", 0, err)
	}
	if err := ws.Write(ctx, websocket.MessageText, hello); err != nil {
		ws.CloseNow()
		return nil, apperrors.NewProtocolError("connect", 0, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &gatewayConn{
		ws:      ws,
		ctx:     connCtx,
		cancel:  cancel,
		events:  make(chan []types.Event, eventBufferSize),
		stop:    make(chan struct{}),
		pending: make(map[string]chan responseFrame),
		logger:  g.logger.WithField(constants.LogFieldSession, opts.SessionID),
	}
	c.registered.Store(len(opts.Credentials) > 0)
	go c.readLoop()

	return c, nil
}

func (g *GatewayConnector) socketURL(sessionID string) (string, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/sessions/" + url.PathEscape(sessionID) + "/socket"
	return u.String(), nil
}

type helloFrame struct {
	Type                string            `json:"type"`
	Session             string            `json:"session"`
	Version             types.Version     `json:"version"`
	Browser             types.Browser     `json:"browser"`
	MarkOnlineOnConnect bool              `json:"markOnlineOnConnect"`
	Credentials         types.Credentials `json:"credentials,omitempty"`
}

type inboundFrame struct {
	Type       string          `json:"type"`
	Events     []wireEvent     `json:"events,omitempty"`
	Registered *bool           `json:"registered,omitempty"`
	ID         string          `json:"id,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *frameError     `json:"error,omitempty"`
}

type wireEvent struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

type frameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type requestFrame struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type responseFrame struct {
	Result json.RawMessage
	Error  *frameError
}

type gatewayConn struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	logger logrus.FieldLogger

	events     chan []types.Event
	stop       chan struct{}
	stopOnce   sync.Once
	closing    atomic.Bool
	registered atomic.Bool

	mu      sync.Mutex
	pending map[string]chan responseFrame
}

func (c *gatewayConn) Events() <-chan []types.Event { return c.events }

func (c *gatewayConn) Registered() bool { return c.registered.Load() }

func (c *gatewayConn) readLoop() {
	defer close(c.events)
	defer c.failPending()

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if !c.closing.Load() {
				c.emit([]types.Event{closedFromError(err)})
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.WithError(err).Warn("Discarding malformed gateway frame")
			continue
		}

		switch frame.Type {
		case "events":
			batch := c.decodeEvents(frame.Events)
			if len(batch) > 0 && !c.emit(batch) {
				return
			}
		case "state":
			if frame.Registered != nil {
				c.registered.Store(*frame.Registered)
			}
		case "response":
			c.resolve(frame.ID, responseFrame{Result: frame.Result, Error: frame.Error})
		default:
			c.logger.WithField("frame_type", frame.Type).Debug("Ignoring unknown gateway frame")
		}
	}
}

// emit hands a batch to the consumer unless the connection is being closed.
func (c *gatewayConn) emit(batch []types.Event) bool {
	select {
	case c.events <- batch:
		return true
	case <-c.stop:
		return false
	}
}

func closedFromError(err error) types.Closed {
	status := websocket.CloseStatus(err)
	if status >= closeCodeOffset && status < closeCodeOffset+1000 {
		var closeErr websocket.CloseError
		reason := ""
		if errors.As(err, &closeErr) {
			reason = closeErr.Reason
		}
		return types.Closed{StatusCode: int(status) - closeCodeOffset, Reason: reason}
	}
	return types.Closed{StatusCode: types.DisconnectConnectionLost, Reason: err.Error()}
}

func (c *gatewayConn) decodeEvents(wire []wireEvent) []types.Event {
	batch := make([]types.Event, 0, len(wire))
	for _, we := range wire {
		decoded, err := decodeEvent(we)
		if err != nil {
			c.logger.WithError(err).WithField(constants.LogFieldEvent, we.Name).Warn("Discarding undecodable event")
			continue
		}
		for _, ev := range decoded {
			if _, ok := ev.(types.Connected); ok {
				c.registered.Store(true)
			}
		}
		batch = append(batch, decoded...)
	}
	return batch
}

type connectionUpdate struct {
	Connection     string `json:"connection,omitempty"`
	QR             string `json:"qr,omitempty"`
	LastDisconnect *struct {
		StatusCode int    `json:"statusCode"`
		Reason     string `json:"reason"`
	} `json:"lastDisconnect,omitempty"`
}

type messageStatusUpdate struct {
	Key    types.MessageKey `json:"key"`
	Update struct {
		Status int `json:"status"`
	} `json:"update"`
}

func decodeEvent(we wireEvent) ([]types.Event, error) {
	switch we.Name {
	case types.EventConnectionUpdate:
		var u connectionUpdate
		if err := json.Unmarshal(we.Data, &u); err != nil {
			return nil, err
		}
		var out []types.Event
		if u.QR != "" {
			out = append(out, types.QRCode{Code: u.QR})
		}
		switch u.Connection {
		case "connecting":
			out = append(out, types.Connecting{})
		case "open":
			out = append(out, types.Connected{})
		case "close":
			closed := types.Closed{}
			if u.LastDisconnect != nil {
				closed.StatusCode = u.LastDisconnect.StatusCode
				closed.Reason = u.LastDisconnect.Reason
			}
			out = append(out, closed)
		}
		return out, nil

	case types.EventCredsUpdate:
		var u struct {
			Files types.Credentials `json:"files"`
		}
		if err := json.Unmarshal(we.Data, &u); err != nil {
			return nil, err
		}
		return []types.Event{types.CredsUpdate{Files: u.Files}}, nil

	case types.EventMessagesUpsert:
		var u types.MessagesUpsert
		if err := json.Unmarshal(we.Data, &u); err != nil {
			return nil, err
		}
		return []types.Event{u}, nil

	case types.EventMessagesUpdate:
		var raw []messageStatusUpdate
		if err := json.Unmarshal(we.Data, &raw); err != nil {
			return nil, err
		}
		updates := make([]types.MessageUpdate, 0, len(raw))
		for _, r := range raw {
			updates = append(updates, types.MessageUpdate{Key: r.Key, Status: r.Update.Status})
		}
		return []types.Event{types.MessagesUpdate{Updates: updates}}, nil
	}
	return nil, nil
}

func (c *gatewayConn) resolve(id string, resp responseFrame) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (c *gatewayConn) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pending = nil
}

// call sends a request frame and waits for the matching response.
func (c *gatewayConn) call(ctx context.Context, method string, params, out interface{}) error {
	id := uuid.NewString()
	ch := make(chan responseFrame, 1)

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return apperrors.NewProtocolError(method, 0, errors.New("connection closed"))
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}()

	data, err := json.Marshal(requestFrame{Type: "request", ID: id, Method: method, Params: params})
	if err != nil {
		return apperrors.NewProtocolError(method, 0, err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return apperrors.NewProtocolError(method, 0, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return apperrors.NewProtocolError(method, 0, errors.New("connection closed"))
		}
		if resp.Error != nil {
			return apperrors.NewProtocolError(method, resp.Error.Code, errors.New(resp.Error.Message))
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return apperrors.NewProtocolError(method, 0, fmt.Errorf("failed to decode result: %w", err))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *gatewayConn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	var result struct {
		Code string `json:"code"`
	}
	if err := c.call(ctx, "requestPairingCode", map[string]string{"phone": phone}, &result); err != nil {
		return "", err
	}
	return result.Code, nil
}

func (c *gatewayConn) SendText(ctx context.Context, to, text string) (*types.SentMessage, error) {
	var sent types.SentMessage
	params := map[string]interface{}{
		"to":      to,
		"content": map[string]string{"text": text},
	}
	if err := c.call(ctx, "sendMessage", params, &sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

func (c *gatewayConn) SendLocation(ctx context.Context, to string, latitude, longitude float64) (*types.SentMessage, error) {
	var sent types.SentMessage
	params := map[string]interface{}{
		"to": to,
		"content": map[string]interface{}{
			"location": map[string]float64{
				"degreesLatitude":  latitude,
				"degreesLongitude": longitude,
			},
		},
	}
	if err := c.call(ctx, "sendMessage", params, &sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

func (c *gatewayConn) SendPresence(ctx context.Context, to string, presence types.Presence) error {
	return c.call(ctx, "sendPresenceUpdate", map[string]string{"to": to, "presence": string(presence)}, nil)
}

func (c *gatewayConn) DownloadMedia(ctx context.Context, msg types.Message) ([]byte, error) {
	var result struct {
		Data []byte `json:"data"`
	}
	if err := c.call(ctx, "downloadMedia", map[string]interface{}{"message": msg}, &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

func (c *gatewayConn) Logout(ctx context.Context) error {
	return c.call(ctx, "logout", nil, nil)
}

// Close ends the connection without emitting a Closed event.
func (c *gatewayConn) Close() error {
	c.closing.Store(true)
	c.stopOnce.Do(func() { close(c.stop) })
	if err := c.ws.Close(websocket.StatusNormalClosure, ""); err != nil {
		c.logger.WithError(err).Debug("Gateway socket close did not complete cleanly")
	}
	c.cancel()
	return nil
}
