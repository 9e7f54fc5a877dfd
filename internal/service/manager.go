package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"wamux/internal/constants"
	"wamux/internal/credentials"
	apperrors "wamux/internal/errors"
	"wamux/internal/events"
	"wamux/internal/metrics"
	"wamux/internal/models"
	"wamux/internal/privacy"
	"wamux/internal/retry"
	"wamux/internal/tracing"
	"wamux/internal/validation"
	"wamux/pkg/whatsapp"
	"wamux/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
	"go.opentelemetry.io/otel/attribute"
)

const (
	deleteWaitTimeout = 5 * time.Second
	userServer        = "s.whatsapp.net"
)

// SessionManager owns every live session: it starts them, consumes their
// protocol events one batch at a time, applies the reconnect policy and
// publishes lifecycle and message events.
type SessionManager struct {
	connector whatsapp.Connector
	creds     *credentials.Store
	events    *events.Registry
	cfg       models.SessionsConfig
	browser   types.Browser
	backoff   *retry.Backoff
	logger    *logrus.Logger
	qrOut     io.Writer

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup

	// ended keeps the final state of sessions that disconnected on their
	// own, until they are started again or deleted. Guarded by mu.
	ended map[string]models.SessionSnapshot
}

// NewSessionManager wires a manager. Zero config values take defaults.
func NewSessionManager(connector whatsapp.Connector, creds *credentials.Store, registry *events.Registry, cfg models.SessionsConfig, logger *logrus.Logger) *SessionManager {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = constants.DefaultMaxReconnectAttempts
	}
	if cfg.UpsertBatchMode == "" {
		cfg.UpsertBatchMode = constants.UpsertBatchFirst
	}
	maxDelay := time.Duration(cfg.ReconnectMaxBackoffMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = time.Duration(constants.DefaultReconnectMaxBackoffMs) * time.Millisecond
	}

	return &SessionManager{
		connector: connector,
		creds:     creds,
		events:    registry,
		cfg:       cfg,
		browser:   types.Browser{constants.DefaultBrowserPlatform, constants.DefaultBrowserName, constants.DefaultBrowserVersion},
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Duration(cfg.ReconnectInitialBackoffMs) * time.Millisecond,
			MaxDelay:     maxDelay,
			Multiplier:   2,
			MaxAttempts:  cfg.MaxReconnectAttempts,
			Jitter:       true,
		}),
		logger:   logger,
		qrOut:    logger.Out,
		sessions: make(map[string]*Session),
		ended:    make(map[string]models.SessionSnapshot),
	}
}

// SetQROutput redirects terminal QR rendering.
func (m *SessionManager) SetQROutput(w io.Writer) {
	m.qrOut = w
}

// StartSession registers a new session and starts connecting it in the
// background. It fails fast only for invalid ids or an id that already
// has a live session.
func (m *SessionManager) StartSession(ctx context.Context, id string, opts SessionOptions) (*Session, error) {
	if err := validation.ValidateSessionName(id); err != nil {
		return nil, err
	}
	if opts.PairingPhone != "" {
		if err := validation.ValidatePhoneNumber(opts.PairingPhone); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrCodeInternalError, "session manager is shut down")
	}
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, apperrors.NewAlreadyRunningError(id)
	}
	s := newSession(id, opts)
	m.sessions[id] = s
	delete(m.ended, id)
	m.wg.Add(1)
	m.mu.Unlock()

	metrics.IncrementCounter(metrics.SessionStartsTotal, nil, "Sessions started")
	metrics.AddToGauge(metrics.SessionsLive, 1, nil, "Sessions with a live protocol handle")
	m.logger.WithFields(logrus.Fields{
		constants.LogFieldSession: id,
		"pairing_mode":            opts.PairingPhone != "",
	}).Info("Starting session")

	go m.run(s)
	return s, nil
}

// GetSession returns the live session with id.
func (m *SessionManager) GetSession(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// SessionStatus returns the state of a live session, or the final state of
// one that ended on its own and has not been deleted or restarted since.
func (m *SessionManager) SessionStatus(id string) (models.SessionSnapshot, bool) {
	m.mu.Lock()
	s, live := m.sessions[id]
	snap, ended := m.ended[id]
	m.mu.Unlock()

	if live {
		return s.Snapshot(), true
	}
	return snap, ended
}

// GetAllSessions returns the ids of every live session.
func (m *SessionManager) GetAllSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Snapshots returns the state of every live session.
func (m *SessionManager) Snapshots() []models.SessionSnapshot {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]models.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// DeleteSession logs the session out (best effort), ends its handle and
// removes it. Credentials are purged only when deleteCredentials is set.
// Deleting an unknown session only applies the credential policy.
//
// The session stays registered until the purge is done, so a concurrent
// StartSession for the same id gets AlreadyRunning instead of racing it.
func (m *SessionManager) DeleteSession(ctx context.Context, id string, deleteCredentials bool) error {
	if err := validation.ValidateSessionName(id); err != nil {
		return err
	}

	s, _ := m.GetSession(id)
	logger := m.logger.WithFields(logrus.Fields{
		constants.LogFieldSession: id,
		"delete_credentials":      deleteCredentials,
	})

	if s != nil {
		s.deleting.Store(true)
		if conn := s.currentConn(); conn != nil {
			if err := conn.Logout(ctx); err != nil {
				logger.WithError(err).Debug("Logout failed during delete")
			}
			if err := conn.Close(); err != nil {
				logger.WithError(err).Debug("Close failed during delete")
			}
		}
		s.cancel()
		s.setStatus(models.SessionStatusDisconnected)
		m.waitDone(ctx, s)
	}

	var purgeErr error
	if deleteCredentials {
		purgeErr = m.creds.Purge(id)
	}

	m.mu.Lock()
	delete(m.ended, id)
	m.mu.Unlock()
	if s != nil {
		m.retire(s)
	}
	if purgeErr != nil {
		return purgeErr
	}

	logger.WithField("was_live", s != nil).Info("Session deleted")
	return nil
}

func (m *SessionManager) waitDone(ctx context.Context, s *Session) {
	timer := time.NewTimer(deleteWaitTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-ctx.Done():
	case <-timer.C:
		m.logger.WithField(constants.LogFieldSession, s.id).Warn("Session loop did not exit in time")
	}
}

// LoadSessionsFromStorage starts every stored session that has credential
// material and is not already live. It returns the ids it started.
func (m *SessionManager) LoadSessionsFromStorage(ctx context.Context) ([]string, error) {
	ids, err := m.creds.List()
	if err != nil {
		return nil, err
	}

	var started []string
	for _, id := range ids {
		if !m.creds.Exists(id) {
			continue
		}
		if _, live := m.GetSession(id); live {
			continue
		}
		if _, err := m.StartSession(ctx, id, SessionOptions{}); err != nil {
			if apperrors.IsCode(err, apperrors.ErrCodeAlreadyRunning) {
				continue
			}
			apperrors.LogWarn(m.logger, err, "Skipping stored session", logrus.Fields{constants.LogFieldSession: id})
			continue
		}
		started = append(started, id)
	}

	m.logger.WithFields(logrus.Fields{
		constants.LogFieldCount: len(started),
		"stored":                len(ids),
	}).Info("Loaded sessions from storage")
	return started, nil
}

// SendText sends a text message through the session and publishes
// onMessageSent on success.
func (m *SessionManager) SendText(ctx context.Context, id, to, text string) (*types.SentMessage, error) {
	if err := validation.ValidateRecipient(to); err != nil {
		return nil, err
	}
	if err := validation.ValidateStringLength(text, "text", 1, constants.MaxMessageTextLength); err != nil {
		return nil, err
	}
	conn, err := m.liveConn(id)
	if err != nil {
		return nil, err
	}

	jid := NormalizeRecipient(to)
	ctx, span := tracing.StartSessionSpan(ctx, "session.send", id, attribute.String("send.kind", "text"))
	defer span.End()

	sent, err := conn.SendText(ctx, jid, text)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	m.publishSent(ctx, id, jid, sent)
	return sent, nil
}

// SendLocation sends a location pin through the session and publishes
// onMessageSent on success.
func (m *SessionManager) SendLocation(ctx context.Context, id, to string, latitude, longitude float64) (*types.SentMessage, error) {
	if err := validation.ValidateRecipient(to); err != nil {
		return nil, err
	}
	if err := validation.ValidateCoordinates(latitude, longitude); err != nil {
		return nil, err
	}
	conn, err := m.liveConn(id)
	if err != nil {
		return nil, err
	}

	jid := NormalizeRecipient(to)
	ctx, span := tracing.StartSessionSpan(ctx, "session.send", id, attribute.String("send.kind", "location"))
	defer span.End()

	sent, err := conn.SendLocation(ctx, jid, latitude, longitude)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	m.publishSent(ctx, id, jid, sent)
	return sent, nil
}

func (m *SessionManager) publishSent(ctx context.Context, id, jid string, sent *types.SentMessage) {
	m.events.Publish(ctx, events.Event{SessionID: id, Data: events.MessageSent{To: jid, Result: *sent}})
	m.logger.WithFields(logrus.Fields{
		constants.LogFieldSession:   id,
		constants.LogFieldRemoteJID: privacy.MaskJID(jid),
		constants.LogFieldMessageID: privacy.MaskMessageID(sent.Key.ID),
	}).Debug("Message sent")
}

// SendPresence sends a presence update (typing, recording) to a chat.
func (m *SessionManager) SendPresence(ctx context.Context, id, to string, presence types.Presence) error {
	if err := validation.ValidateRecipient(to); err != nil {
		return err
	}
	conn, err := m.liveConn(id)
	if err != nil {
		return err
	}
	return conn.SendPresence(ctx, NormalizeRecipient(to), presence)
}

func (m *SessionManager) liveConn(id string) (whatsapp.Conn, error) {
	s, ok := m.GetSession(id)
	if !ok {
		return nil, apperrors.NewSessionNotFoundError(id)
	}
	conn := s.currentConn()
	if conn == nil {
		return nil, apperrors.NewSessionNotFoundError(id).WithUserMessage("Session is not connected yet")
	}
	return conn, nil
}

// NormalizeRecipient turns a bare phone number into a user JID and
// leaves full JIDs untouched.
func NormalizeRecipient(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, to)
	return digits + "@" + userServer
}

// Shutdown ends every live handle without logging out or touching
// credentials, then waits for the session loops to exit.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
		if conn := s.currentConn(); conn != nil {
			_ = conn.Close()
		}
		m.retire(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.WithField(constants.LogFieldCount, len(sessions)).Info("Session manager stopped")
		return nil
	case <-ctx.Done():
		return apperrors.NewTimeoutError("session manager shutdown", ctx.Err().Error())
	}
}

// retire removes s from the registry if it is still the registered
// session for its id. Metrics are adjusted once per session.
func (m *SessionManager) retire(s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.id]; ok && cur == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()

	s.retireOnce.Do(func() {
		metrics.AddToGauge(metrics.SessionsLive, -1, nil, "Sessions with a live protocol handle")
	})
}

// run is the per-session loop: connect, consume events, and reconnect
// while the close policy allows it.
func (m *SessionManager) run(s *Session) {
	defer m.wg.Done()
	defer close(s.done)

	logger := m.logger.WithField(constants.LogFieldSession, s.id)
	version := m.resolveVersion(s.ctx, logger)

	for {
		if s.stopped() {
			return
		}

		conn, err := m.connect(s, version)
		if err != nil {
			if s.stopped() {
				return
			}
			apperrors.LogWarn(logger, err, "Failed to open protocol connection")
			if !m.handleClose(s, types.Closed{Reason: err.Error()}) {
				return
			}
			continue
		}

		s.setConn(conn)
		if s.stopped() {
			_ = conn.Close()
			return
		}

		if !m.consume(s, conn) {
			return
		}
	}
}

func (m *SessionManager) resolveVersion(ctx context.Context, logger logrus.FieldLogger) types.Version {
	version, err := m.connector.LatestVersion(ctx)
	if err != nil {
		apperrors.LogWarn(logger, err, "Falling back to bundled protocol version")
		return types.DefaultVersion
	}
	return version
}

func (m *SessionManager) connect(s *Session, version types.Version) (whatsapp.Conn, error) {
	creds, err := m.creds.Load(s.id)
	if err != nil {
		return nil, err
	}
	return m.connector.Connect(s.ctx, types.ConnectOptions{
		SessionID:           s.id,
		Version:             version,
		Browser:             m.browser,
		Credentials:         creds,
		MarkOnlineOnConnect: false,
	})
}

// consume processes batches until the connection closes. It reports
// whether the loop should open a new connection.
func (m *SessionManager) consume(s *Session, conn whatsapp.Conn) bool {
	for {
		select {
		case <-s.ctx.Done():
			_ = conn.Close()
			return false
		case batch, ok := <-conn.Events():
			if s.stopped() {
				return false
			}
			if !ok {
				return m.handleClose(s, types.Closed{Reason: "event stream ended"})
			}
			if closed, ended := m.handleBatch(s, conn, batch); ended {
				_ = conn.Close()
				return m.handleClose(s, closed)
			}
		}
	}
}

// handleBatch applies one batch in order. Events after a Closed are
// dropped, since the connection they belong to is gone.
func (m *SessionManager) handleBatch(s *Session, conn whatsapp.Conn, batch []types.Event) (types.Closed, bool) {
	ctx := s.ctx
	logger := m.logger.WithField(constants.LogFieldSession, s.id)
	logger.WithField(constants.LogFieldCount, len(batch)).Debug("Processing event batch")

	for _, ev := range batch {
		switch e := ev.(type) {
		case types.QRCode:
			s.setQR(e.Code)
			m.events.Publish(ctx, events.Event{SessionID: s.id, Data: events.QRCode{QR: e.Code}})
			m.printQR(s, e.Code)
			m.maybeRequestPairingCode(s, conn, logger)

		case types.Connecting:
			s.setStatus(models.SessionStatusConnecting)
			m.events.Publish(ctx, events.Event{SessionID: s.id, Data: events.Connecting{RetryCount: s.RetryCount()}})

		case types.Connected:
			s.markConnected()
			logger.Info("Session connected")
			m.events.Publish(ctx, events.Event{SessionID: s.id, Data: events.Connected{}})

		case types.Closed:
			return e, true

		case types.CredsUpdate:
			if err := m.creds.Save(s.id, e.Files); err != nil {
				metrics.IncrementCounter(metrics.CredentialsSaveFailures, nil, "Failed credential writes")
				apperrors.LogWarn(logger, err, "Failed to save credentials")
			}

		case types.MessagesUpsert:
			for _, i := range m.selectBatch(len(e.Messages)) {
				m.publishReceived(ctx, s, conn, e.Messages[i])
			}

		case types.MessagesUpdate:
			for _, i := range m.selectBatch(len(e.Updates)) {
				u := e.Updates[i]
				m.events.Publish(ctx, events.Event{SessionID: s.id, Data: events.MessageUpdated{
					Key:        u.Key,
					Status:     NormalizeMessageStatus(u.Status),
					StatusCode: u.Status,
				}})
			}
		}
	}
	return types.Closed{}, false
}

// selectBatch returns the indexes of batch entries to surface.
func (m *SessionManager) selectBatch(n int) []int {
	if n == 0 {
		return nil
	}
	if m.cfg.UpsertBatchMode != constants.UpsertBatchAll {
		return []int{0}
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func (m *SessionManager) publishReceived(ctx context.Context, s *Session, conn whatsapp.Conn, msg types.Message) {
	m.events.Publish(ctx, events.Event{SessionID: s.id, Data: events.MessageReceived{
		Message: msg,
		Download: func(ctx context.Context) ([]byte, error) {
			return conn.DownloadMedia(ctx, msg)
		},
	}})
}

func (m *SessionManager) maybeRequestPairingCode(s *Session, conn whatsapp.Conn, logger logrus.FieldLogger) {
	if s.opts.PairingPhone == "" || conn.Registered() || !s.claimPairing() {
		return
	}
	code, err := conn.RequestPairingCode(s.ctx, s.opts.PairingPhone)
	if err != nil {
		apperrors.LogWarn(logger, err, "Failed to request pairing code")
		return
	}
	s.setPairingCode(code)
	logger.WithField("phone", privacy.MaskPhoneNumber(s.opts.PairingPhone)).Info("Pairing code issued")
	m.events.Publish(s.ctx, events.Event{SessionID: s.id, Data: events.PairingCode{Code: code, Phone: s.opts.PairingPhone}})
}

func (m *SessionManager) printQR(s *Session, code string) {
	enabled := m.cfg.PrintQR
	if s.opts.PrintQR != nil {
		enabled = *s.opts.PrintQR
	}
	if !enabled || m.qrOut == nil {
		return
	}
	q, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		m.logger.WithError(err).WithField(constants.LogFieldSession, s.id).Warn("Failed to render QR code")
		return
	}
	fmt.Fprintf(m.qrOut, "%s:\n%s\n", s.id, q.ToSmallString(false))
}

// handleClose applies the close policy and reports whether to reconnect.
func (m *SessionManager) handleClose(s *Session, closed types.Closed) bool {
	if s.stopped() {
		return false
	}
	logger := m.logger.WithFields(logrus.Fields{
		constants.LogFieldSession:    s.id,
		constants.LogFieldCloseCode:  closed.StatusCode,
		constants.LogFieldReason:     closed.Reason,
		constants.LogFieldRetryCount: s.RetryCount(),
	})

	switch {
	case closed.StatusCode == types.DisconnectForbidden:
		logger.Warn("Session forbidden, purging credentials")
		m.terminate(s, closed, true, "forbidden")
		return false

	case closed.StatusCode == types.DisconnectLoggedOut && !m.creds.Exists(s.id):
		logger.Warn("Session logged out without credentials, purging")
		m.terminate(s, closed, true, "logged_out")
		return false

	case s.RetryCount() < m.cfg.MaxReconnectAttempts:
		attempt := s.nextRetry()
		metrics.IncrementCounter(metrics.SessionReconnectsTotal, nil, "Transient reconnects")
		logger.WithField(constants.LogFieldAttempt, attempt).Warn("Connection closed, reconnecting")
		if err := m.backoff.Wait(s.ctx, attempt); err != nil {
			return false
		}
		return !s.stopped()

	default:
		logger.Error("Reconnect attempts exhausted, keeping credentials")
		m.terminate(s, closed, false, "retries_exhausted")
		return false
	}
}

func (m *SessionManager) terminate(s *Session, closed types.Closed, purge bool, reason string) {
	if s.stopped() {
		return
	}
	s.setStatus(models.SessionStatusDisconnected)
	m.mu.Lock()
	if cur, ok := m.sessions[s.id]; ok && cur == s {
		m.ended[s.id] = s.Snapshot()
	}
	m.mu.Unlock()
	m.retire(s)

	if purge {
		if err := m.creds.Purge(s.id); err != nil {
			apperrors.LogError(m.logger, err, "Failed to purge credentials", logrus.Fields{constants.LogFieldSession: s.id})
		}
	}

	metrics.IncrementCounter(metrics.SessionDisconnectsTotal, map[string]string{"reason": reason}, "Sessions ended")
	m.events.Publish(s.ctx, events.Event{SessionID: s.id, Data: events.Disconnected{
		StatusCode:        closed.StatusCode,
		Reason:            closed.Reason,
		RetryCount:        s.RetryCount(),
		CredentialsPurged: purge,
	}})
	s.cancel()
}
