package validation

import (
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"wamux/internal/constants"
	"wamux/internal/errors"
)

// ValidateSessionName validates a session id. Ids become directory names,
// so only letters, digits, underscores and dashes are accepted.
func ValidateSessionName(sessionName string) error {
	if sessionName == "" {
		return errors.NewInvalidInputError("sessionId", "session id cannot be empty")
	}

	if len(sessionName) > constants.MaxSessionNameLength {
		return errors.NewInvalidInputError("sessionId",
			fmt.Sprintf("session id too long (max %d characters)", constants.MaxSessionNameLength))
	}

	for _, char := range sessionName {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' {
			return errors.NewInvalidInputError("sessionId",
				"session id must contain only letters, numbers, underscores, and dashes")
		}
	}

	return nil
}

// ValidatePhoneNumber validates a pairing phone number: digits only,
// optional leading '+'.
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return errors.NewInvalidInputError("phone", "phone number cannot be empty")
	}

	cleaned := strings.TrimPrefix(phone, "+")
	if len(cleaned) < constants.MinPhoneNumberLength {
		return errors.NewInvalidInputError("phone",
			fmt.Sprintf("phone number must be at least %d digits", constants.MinPhoneNumberLength))
	}
	if len(cleaned) > 20 {
		return errors.NewInvalidInputError("phone", "phone number too long (max 20 digits)")
	}
	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return errors.NewInvalidInputError("phone", "phone number must contain only digits")
		}
	}

	return nil
}

// ValidateRecipient accepts a full protocol address (user@server) or a bare
// phone number.
func ValidateRecipient(to string) error {
	if to == "" {
		return errors.NewInvalidInputError("to", "recipient cannot be empty")
	}
	user, server, found := strings.Cut(to, "@")
	if !found {
		return ValidatePhoneNumber(to)
	}
	if user == "" || server == "" || strings.ContainsAny(to, " \t\r\n") {
		return errors.NewInvalidInputError("to", "malformed recipient address")
	}
	return nil
}

// ValidateWebhookURL requires an absolute http or https URL with a host.
func ValidateWebhookURL(raw string) error {
	if raw == "" {
		return errors.NewInvalidInputError("url", "webhook URL cannot be empty")
	}
	if len(raw) > constants.MaxWebhookURLLength {
		return errors.NewInvalidInputError("url",
			fmt.Sprintf("webhook URL too long (max %d characters)", constants.MaxWebhookURLLength))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return errors.NewInvalidInputError("url", "webhook URL is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.NewInvalidInputError("url", "webhook URL must use http or https")
	}
	if u.Host == "" {
		return errors.NewInvalidInputError("url", "webhook URL must include a host")
	}

	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.NewInvalidInputError("body",
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}
	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.NewInvalidInputError(fieldName,
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}
	if len(value) > maxLength {
		return errors.NewInvalidInputError(fieldName,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}
	return nil
}

// ValidateCoordinates checks a latitude/longitude pair in decimal degrees.
func ValidateCoordinates(latitude, longitude float64) error {
	if math.IsNaN(latitude) || latitude < -90 || latitude > 90 {
		return errors.NewInvalidInputError("latitude", "latitude must be between -90 and 90")
	}
	if math.IsNaN(longitude) || longitude < -180 || longitude > 180 {
		return errors.NewInvalidInputError("longitude", "longitude must be between -180 and 180")
	}
	return nil
}
