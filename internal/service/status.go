package service

import (
	"wamux/internal/models"
	"wamux/pkg/whatsapp/types"
)

// NormalizeMessageStatus maps a protocol status code to its readable form.
// Unknown codes are reported as errors.
func NormalizeMessageStatus(code int) models.MessageStatus {
	switch code {
	case types.StatusPending:
		return models.MessageStatusPending
	case types.StatusServerAck:
		return models.MessageStatusServer
	case types.StatusDeliveryAck:
		return models.MessageStatusDelivered
	case types.StatusRead:
		return models.MessageStatusRead
	case types.StatusPlayed:
		return models.MessageStatusPlayed
	default:
		return models.MessageStatusError
	}
}
