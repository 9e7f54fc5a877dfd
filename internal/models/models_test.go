package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigError_Error(t *testing.T) {
	err := ConfigError{Message: "test error"}
	assert.Equal(t, "test error", err.Error())
}

func TestSessionStatus_IsLive(t *testing.T) {
	assert.True(t, SessionStatusConnecting.IsLive())
	assert.True(t, SessionStatusAwaitingScan.IsLive())
	assert.True(t, SessionStatusConnected.IsLive())
	assert.False(t, SessionStatusDisconnected.IsLive())
}

func TestWebhookSubscription_Accepts(t *testing.T) {
	sub := WebhookSubscription{URL: "http://a", Events: []string{"onMessageReceived", "onQR"}}
	assert.True(t, sub.Accepts("onQR"))
	assert.False(t, sub.Accepts("onConnected"))
}

func TestWebhookTable_CloneIsIndependent(t *testing.T) {
	orig := WebhookTable{"s1": {{URL: "http://a", Events: []string{"onQR"}}}}

	cp := orig.Clone()
	cp["s1"][0].Events[0] = "onConnected"
	cp["s2"] = nil

	assert.Equal(t, "onQR", orig["s1"][0].Events[0])
	assert.NotContains(t, orig, "s2")
}
