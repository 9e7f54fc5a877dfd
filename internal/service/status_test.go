package service

import (
	"testing"

	"wamux/internal/models"
	"wamux/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMessageStatus(t *testing.T) {
	tests := []struct {
		code int
		want models.MessageStatus
	}{
		{types.StatusError, models.MessageStatusError},
		{types.StatusPending, models.MessageStatusPending},
		{types.StatusServerAck, models.MessageStatusServer},
		{types.StatusDeliveryAck, models.MessageStatusDelivered},
		{types.StatusRead, models.MessageStatusRead},
		{types.StatusPlayed, models.MessageStatusPlayed},
		{42, models.MessageStatusError},
		{-1, models.MessageStatusError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeMessageStatus(tt.code), "code %d", tt.code)
	}
}
