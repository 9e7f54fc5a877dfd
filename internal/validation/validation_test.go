package validation

import (
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	"wamux/internal/errors"

	"github.com/stretchr/testify/assert"
)

func TestValidateSessionName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "alpha", false},
		{"dashes and underscores", "team_a-01", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 65), true},
		{"slash", "a/b", true},
		{"dot dot", "..", true},
		{"space", "a b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionName(tt.input)
			if tt.wantErr {
				assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidatePhoneNumber(t *testing.T) {
	assert.NoError(t, ValidatePhoneNumber("+15551234567"))
	assert.NoError(t, ValidatePhoneNumber("15551234567"))
	assert.Error(t, ValidatePhoneNumber(""))
	assert.Error(t, ValidatePhoneNumber("+123"))
	assert.Error(t, ValidatePhoneNumber("+1555abc4567"))
	assert.Error(t, ValidatePhoneNumber(strings.Repeat("1", 21)))
}

func TestValidateRecipient(t *testing.T) {
	assert.NoError(t, ValidateRecipient("15551234567@s.whatsapp.net"))
	assert.NoError(t, ValidateRecipient("120363025@g.us"))
	assert.NoError(t, ValidateRecipient("15551234567"))
	assert.Error(t, ValidateRecipient(""))
	assert.Error(t, ValidateRecipient("@s.whatsapp.net"))
	assert.Error(t, ValidateRecipient("1555 123@s.whatsapp.net"))
}

func TestValidateWebhookURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"http://localhost:9000/hook", false},
		{"https://hooks.example.com/in?x=1", false},
		{"", true},
		{"ftp://hooks.example.com", true},
		{"/relative/path", true},
		{"http://", true},
		{"https://example.com/" + strings.Repeat("a", 2048), true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateWebhookURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateHTTPRequestSize(t *testing.T) {
	r := httptest.NewRequest("POST", "/send", strings.NewReader(strings.Repeat("x", 100)))
	assert.NoError(t, ValidateHTTPRequestSize(r, 1024))
	assert.Error(t, ValidateHTTPRequestSize(r, 10))
}

func TestValidateStringLength(t *testing.T) {
	assert.NoError(t, ValidateStringLength("hello", "text", 1, 10))
	assert.Error(t, ValidateStringLength("", "text", 1, 10))
	assert.Error(t, ValidateStringLength("hello world", "text", 1, 5))
}

func TestValidateCoordinates(t *testing.T) {
	assert.NoError(t, ValidateCoordinates(-23.5505, -46.6333))
	assert.NoError(t, ValidateCoordinates(90, -180))
	assert.Error(t, ValidateCoordinates(90.1, 0))
	assert.Error(t, ValidateCoordinates(0, 181))
	assert.Error(t, ValidateCoordinates(math.NaN(), 0))
}
