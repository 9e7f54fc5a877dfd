package events

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*Registry, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return NewRegistry(logger), &buf
}

func TestRegistry_PublishInSubscriptionOrder(t *testing.T) {
	r, _ := newTestRegistry()
	var got []string

	r.Subscribe(KindConnected, func(ctx context.Context, ev Event) { got = append(got, "first:"+ev.SessionID) })
	r.Subscribe(KindConnected, func(ctx context.Context, ev Event) { got = append(got, "second:"+ev.SessionID) })
	r.Subscribe(KindQR, func(ctx context.Context, ev Event) { got = append(got, "qr") })

	r.Publish(context.Background(), Event{SessionID: "alice", Data: Connected{}})

	assert.Equal(t, []string{"first:alice", "second:alice"}, got)
}

func TestRegistry_Cancel(t *testing.T) {
	r, _ := newTestRegistry()
	calls := 0

	cancel := r.Subscribe(KindQR, func(ctx context.Context, ev Event) { calls++ })
	keep := r.Subscribe(KindQR, func(ctx context.Context, ev Event) { calls += 10 })
	defer keep()

	cancel()
	cancel()
	r.Publish(context.Background(), Event{SessionID: "a", Data: QRCode{QR: "x"}})

	assert.Equal(t, 10, calls)
	assert.Equal(t, 1, r.Count(KindQR))
}

func TestRegistry_SubscribeAll(t *testing.T) {
	r, _ := newTestRegistry()
	seen := map[Kind]int{}

	cancel := r.SubscribeAll(func(ctx context.Context, ev Event) { seen[ev.Kind()]++ })

	r.Publish(context.Background(), Event{SessionID: "a", Data: Connecting{}})
	r.Publish(context.Background(), Event{SessionID: "a", Data: MessageSent{To: "x"}})
	assert.Equal(t, map[Kind]int{KindConnecting: 1, KindMessageSent: 1}, seen)

	cancel()
	for _, k := range AllKinds {
		assert.Zero(t, r.Count(k))
	}
}

func TestRegistry_RecoversHandlerPanic(t *testing.T) {
	r, buf := newTestRegistry()
	after := false

	r.Subscribe(KindDisconnected, func(ctx context.Context, ev Event) { panic("boom") })
	r.Subscribe(KindDisconnected, func(ctx context.Context, ev Event) { after = true })

	require.NotPanics(t, func() {
		r.Publish(context.Background(), Event{SessionID: "bob", Data: Disconnected{StatusCode: 403}})
	})
	assert.True(t, after)
	assert.Contains(t, buf.String(), "Event handler panicked")
	assert.Contains(t, buf.String(), `"session":"bob"`)
}

func TestRegistry_PublishNilPayload(t *testing.T) {
	r, _ := newTestRegistry()
	assert.NotPanics(t, func() { r.Publish(context.Background(), Event{SessionID: "x"}) })
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("onMessageReceived")
	assert.True(t, ok)
	assert.Equal(t, KindMessageReceived, k)

	_, ok = ParseKind("onSomethingElse")
	assert.False(t, ok)
	assert.Len(t, AllKinds, 8)
}
