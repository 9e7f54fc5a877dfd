package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"wamux/internal/models"
	"wamux/pkg/whatsapp"
)

// SessionOptions tune a single session.
type SessionOptions struct {
	// PairingPhone switches the session to pairing-code login: when the
	// account is not registered a code is requested for this number.
	PairingPhone string
	// PrintQR overrides the manager-wide QR printing setting when non-nil.
	PrintQR *bool
}

// Session is one live protocol session owned by the SessionManager.
type Session struct {
	id   string
	opts SessionOptions

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	retireOnce sync.Once
	// deleting stops event handling while DeleteSession still uses the
	// connection for logout.
	deleting atomic.Bool

	mu               sync.RWMutex
	status           models.SessionStatus
	retryCount       int
	qr               string
	pairingCode      string
	pairingRequested bool
	conn             whatsapp.Conn
	startedAt        time.Time
	updatedAt        time.Time
}

func newSession(id string, opts SessionOptions) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Session{
		id:        id,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    models.SessionStatusConnecting,
		startedAt: now,
		updatedAt: now,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() models.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) RetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retryCount
}

// Done is closed once the session's event loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.SessionSnapshot{
		ID:          s.id,
		Status:      s.status,
		RetryCount:  s.retryCount,
		QR:          s.qr,
		PairingCode: s.pairingCode,
		StartedAt:   s.startedAt,
		UpdatedAt:   s.updatedAt,
	}
}

func (s *Session) setStatus(status models.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if status != models.SessionStatusAwaitingScan {
		s.qr = ""
	}
	s.updatedAt = time.Now()
}

func (s *Session) setQR(qr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.SessionStatusAwaitingScan
	s.qr = qr
	s.updatedAt = time.Now()
}

func (s *Session) markConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.SessionStatusConnected
	s.retryCount = 0
	s.qr = ""
	s.pairingCode = ""
	s.updatedAt = time.Now()
}

// nextRetry moves the session back to CONNECTING and returns the new count.
func (s *Session) nextRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCount++
	s.status = models.SessionStatusConnecting
	s.qr = ""
	s.updatedAt = time.Now()
	return s.retryCount
}

func (s *Session) setConn(conn whatsapp.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.pairingRequested = false
}

func (s *Session) currentConn() whatsapp.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// claimPairing reports whether the caller should request a pairing code
// on the current connection. It returns true at most once per connection.
func (s *Session) claimPairing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pairingRequested {
		return false
	}
	s.pairingRequested = true
	return true
}

func (s *Session) setPairingCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairingCode = code
	s.updatedAt = time.Now()
}

func (s *Session) stopped() bool {
	return s.deleting.Load() || s.ctx.Err() != nil
}
