package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wamux/internal/events"
	"wamux/internal/media"
	"wamux/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatched struct {
	sessionID string
	kind      string
	data      interface{}
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, sessionID, kind string, data interface{}) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatched{sessionID: sessionID, kind: kind, data: data})
	return 1
}

func (d *fakeDispatcher) all() []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatched(nil), d.calls...)
}

func (d *fakeDispatcher) count(sessionID string) int {
	n := 0
	for _, call := range d.all() {
		if call.sessionID == sessionID {
			n++
		}
	}
	return n
}

type fakeCapturer struct {
	path string
	err  error
}

func (c *fakeCapturer) Capture(ctx context.Context, msg types.Message, download media.DownloadFunc) (string, error) {
	if _, err := download(ctx); err != nil {
		return "", err
	}
	return c.path, c.err
}

// blockingCapturer holds every capture until release is closed, ignoring
// the context like a download stuck on a dead connection.
type blockingCapturer struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *blockingCapturer) Capture(ctx context.Context, msg types.Message, download media.DownloadFunc) (string, error) {
	c.once.Do(func() { close(c.entered) })
	<-c.release
	return "", nil
}

// deadlineCapturer waits for its context to end.
type deadlineCapturer struct{}

func (deadlineCapturer) Capture(ctx context.Context, msg types.Message, download media.DownloadFunc) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func startForwarder(t *testing.T, capturer MediaCapturer) (*events.Registry, *fakeDispatcher, *Forwarder) {
	t.Helper()
	return startForwarderWithTimeout(t, capturer, 0)
}

func startForwarderWithTimeout(t *testing.T, capturer MediaCapturer, timeout time.Duration) (*events.Registry, *fakeDispatcher, *Forwarder) {
	t.Helper()
	registry := events.NewRegistry(quietLogger())
	dispatcher := &fakeDispatcher{}
	f := NewForwarder(dispatcher, capturer, timeout, quietLogger())
	f.Start(registry)
	return registry, dispatcher, f
}

func received(msg types.Message) events.MessageReceived {
	return events.MessageReceived{
		Message:  msg,
		Download: func(ctx context.Context) ([]byte, error) { return []byte("data"), nil },
	}
}

func TestForwarder_LifecycleEvents(t *testing.T) {
	registry, dispatcher, f := startForwarder(t, nil)
	ctx := context.Background()

	registry.Publish(ctx, events.Event{SessionID: "alice", Data: events.QRCode{QR: "qr"}})
	registry.Publish(ctx, events.Event{SessionID: "alice", Data: events.Disconnected{StatusCode: 403, CredentialsPurged: true}})
	f.Stop()

	calls := dispatcher.all()
	require.Len(t, calls, 2)
	assert.Equal(t, dispatched{"alice", "onQR", events.QRCode{QR: "qr"}}, calls[0])
	assert.Equal(t, "onDisconnected", calls[1].kind)
}

func TestForwarder_FiltersInboundMessages(t *testing.T) {
	registry, dispatcher, f := startForwarder(t, nil)
	ctx := context.Background()

	status := textMessage("s1", types.StatusBroadcastJID, "story")
	own := textMessage("o1", "111@s.whatsapp.net", "mine")
	own.Key.FromMe = true
	empty := types.Message{Key: types.MessageKey{RemoteJID: "111@s.whatsapp.net", ID: "e1"}}
	keep := textMessage("k1", "111@s.whatsapp.net", "hello")

	for _, msg := range []types.Message{status, own, empty, keep} {
		registry.Publish(ctx, events.Event{SessionID: "alice", Data: received(msg)})
	}
	f.Stop()

	calls := dispatcher.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "onMessageReceived", calls[0].kind)
	body, ok := calls[0].data.(ReceivedMessage)
	require.True(t, ok)
	assert.Equal(t, "k1", body.Key.ID)
	assert.Equal(t, "alice", body.SessionID)
	assert.Empty(t, body.SavedFilePath)
}

func TestForwarder_CapturesMedia(t *testing.T) {
	registry, dispatcher, f := startForwarder(t, &fakeCapturer{path: "downloads/k1.jpg"})

	registry.Publish(context.Background(), events.Event{SessionID: "alice", Data: received(textMessage("k1", "111@s.whatsapp.net", "hi"))})
	f.Stop()

	calls := dispatcher.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "downloads/k1.jpg", calls[0].data.(ReceivedMessage).SavedFilePath)
}

func TestForwarder_CaptureFailureStillForwards(t *testing.T) {
	registry, dispatcher, f := startForwarder(t, &fakeCapturer{err: errors.New("disk full")})

	registry.Publish(context.Background(), events.Event{SessionID: "alice", Data: received(textMessage("k1", "111@s.whatsapp.net", "hi"))})
	f.Stop()

	calls := dispatcher.all()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].data.(ReceivedMessage).SavedFilePath)
}

func TestForwarder_StopDrainsAndUnsubscribes(t *testing.T) {
	registry, dispatcher, f := startForwarder(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 50; i++ {
		registry.Publish(ctx, events.Event{SessionID: "alice", Data: events.Connected{}})
	}
	cancel()
	f.Stop()
	f.Stop()

	assert.Len(t, dispatcher.all(), 50)
	assert.Zero(t, registry.Count(events.KindConnected))

	registry.Publish(context.Background(), events.Event{SessionID: "alice", Data: events.Connected{}})
	assert.Len(t, dispatcher.all(), 50)
}

func TestForwarder_StalledCaptureDoesNotBlockOtherSessions(t *testing.T) {
	capturer := &blockingCapturer{entered: make(chan struct{}), release: make(chan struct{})}
	registry, dispatcher, f := startForwarder(t, capturer)
	ctx := context.Background()

	registry.Publish(ctx, events.Event{SessionID: "a", Data: received(textMessage("m1", "111@s.whatsapp.net", "hi"))})
	select {
	case <-capturer.entered:
	case <-time.After(waitTimeout):
		t.Fatal("capture never started")
	}

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; i < 300; i++ {
			registry.Publish(ctx, events.Event{SessionID: "a", Data: events.Connected{}})
			registry.Publish(ctx, events.Event{SessionID: "b", Data: events.Connected{}})
		}
	}()

	select {
	case <-published:
	case <-time.After(waitTimeout):
		t.Fatal("Publish blocked behind a stalled capture")
	}
	require.Eventually(t, func() bool { return dispatcher.count("b") > 0 }, waitTimeout, 5*time.Millisecond)
	assert.Zero(t, dispatcher.count("a"))

	close(capturer.release)
	f.Stop()
	assert.Equal(t, forwardQueueSize+1, dispatcher.count("a"))
}

func TestForwarder_CaptureTimeout(t *testing.T) {
	registry, dispatcher, f := startForwarderWithTimeout(t, deadlineCapturer{}, 20*time.Millisecond)

	registry.Publish(context.Background(), events.Event{SessionID: "alice", Data: received(textMessage("k1", "111@s.whatsapp.net", "hi"))})
	require.Eventually(t, func() bool { return len(dispatcher.all()) == 1 }, waitTimeout, 5*time.Millisecond)
	f.Stop()

	assert.Empty(t, dispatcher.all()[0].data.(ReceivedMessage).SavedFilePath)
}
