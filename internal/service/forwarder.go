package service

import (
	"context"
	"sync"
	"time"

	"wamux/internal/constants"
	apperrors "wamux/internal/errors"
	"wamux/internal/events"
	"wamux/internal/media"
	"wamux/internal/metrics"
	"wamux/internal/privacy"
	"wamux/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

const forwardQueueSize = 256

// WebhookDispatcher delivers an event to a session's subscribers.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, sessionID, kind string, data interface{}) int
}

// MediaCapturer stores the media of an inbound message.
type MediaCapturer interface {
	Capture(ctx context.Context, msg types.Message, download media.DownloadFunc) (string, error)
}

// ReceivedMessage is the webhook body of onMessageReceived: the protocol
// message plus the session it arrived on and where its media was saved.
type ReceivedMessage struct {
	types.Message
	SessionID     string `json:"sessionId"`
	SavedFilePath string `json:"savedFilePath,omitempty"`
}

type queuedEvent struct {
	ctx context.Context
	ev  events.Event
}

// Forwarder relays published events to webhooks. Each session gets its own
// queue and worker, so a slow media download only delays that session's
// webhooks, and a full queue drops events instead of stalling the
// publishing session loop.
type Forwarder struct {
	dispatcher     WebhookDispatcher
	capturer       MediaCapturer
	captureTimeout time.Duration
	logger         logrus.FieldLogger

	mu       sync.Mutex
	queues   map[string]chan queuedEvent
	stopped  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	workers  sync.WaitGroup
	cancel   func()
}

// NewForwarder creates a forwarder. capturer may be nil to disable media
// capture. captureTimeout bounds each media download; zero uses the default.
func NewForwarder(dispatcher WebhookDispatcher, capturer MediaCapturer, captureTimeout time.Duration, logger logrus.FieldLogger) *Forwarder {
	if captureTimeout <= 0 {
		captureTimeout = constants.DefaultMediaTimeoutSec * time.Second
	}
	return &Forwarder{
		dispatcher:     dispatcher,
		capturer:       capturer,
		captureTimeout: captureTimeout,
		logger:         logger.WithField(constants.LogFieldComponent, "forwarder"),
		queues:         make(map[string]chan queuedEvent),
		stopCh:         make(chan struct{}),
	}
}

// Start subscribes to every event kind.
func (f *Forwarder) Start(registry *events.Registry) {
	f.cancel = registry.SubscribeAll(f.enqueue)
}

// Stop unsubscribes, drains queued events and waits for the workers.
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
		f.mu.Lock()
		f.stopped = true
		f.mu.Unlock()
		close(f.stopCh)
	})
	f.workers.Wait()
}

// enqueue never blocks: the caller is a session's event loop.
func (f *Forwarder) enqueue(ctx context.Context, ev events.Event) {
	item := queuedEvent{ctx: context.WithoutCancel(ctx), ev: ev}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	queue, ok := f.queues[ev.SessionID]
	if !ok {
		queue = make(chan queuedEvent, forwardQueueSize)
		f.queues[ev.SessionID] = queue
		f.workers.Add(1)
		go f.work(queue)
	}

	select {
	case queue <- item:
	default:
		metrics.IncrementCounter(metrics.ForwardDroppedTotal, map[string]string{"event": string(ev.Kind())}, "Events dropped by a full forward queue")
		f.logger.WithFields(logrus.Fields{
			constants.LogFieldSession: ev.SessionID,
			constants.LogFieldEvent:   ev.Kind(),
		}).Warn("Forward queue full, dropping event")
	}
}

func (f *Forwarder) work(queue chan queuedEvent) {
	defer f.workers.Done()
	for {
		select {
		case item := <-queue:
			f.forward(item.ctx, item.ev)
		case <-f.stopCh:
			for {
				select {
				case item := <-queue:
					f.forward(item.ctx, item.ev)
				default:
					return
				}
			}
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, ev events.Event) {
	kind := string(ev.Kind())

	received, ok := ev.Data.(events.MessageReceived)
	if !ok {
		f.dispatcher.Dispatch(ctx, ev.SessionID, kind, ev.Data)
		return
	}

	msg := received.Message
	if msg.Key.RemoteJID == types.StatusBroadcastJID || !msg.HasContent() || msg.Key.FromMe {
		return
	}

	body := ReceivedMessage{Message: msg, SessionID: ev.SessionID}
	if f.capturer != nil && received.Download != nil {
		captureCtx, cancel := context.WithTimeout(ctx, f.captureTimeout)
		path, err := f.capturer.Capture(captureCtx, msg, received.Download)
		cancel()
		if err != nil {
			apperrors.LogWarn(f.logger, err, "Failed to capture media", logrus.Fields{
				constants.LogFieldSession:   ev.SessionID,
				constants.LogFieldMessageID: privacy.MaskMessageID(msg.Key.ID),
			})
		}
		body.SavedFilePath = path
	}

	n := f.dispatcher.Dispatch(ctx, ev.SessionID, kind, body)
	f.logger.WithFields(logrus.Fields{
		constants.LogFieldSession:   ev.SessionID,
		constants.LogFieldRemoteJID: privacy.MaskJID(msg.Key.RemoteJID),
		constants.LogFieldCount:     n,
	}).Debug("Inbound message forwarded")
}
