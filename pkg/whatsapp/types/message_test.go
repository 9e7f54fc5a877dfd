package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_Media(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		kind     MediaKind
		fileName string
	}{
		{"image", `{"imageMessage":{"mimetype":"image/jpeg","caption":"hi"}}`, MediaImage, ""},
		{"video", `{"videoMessage":{"mimetype":"video/mp4"}}`, MediaVideo, ""},
		{"document", `{"documentMessage":{"mimetype":"application/pdf","fileName":"report.pdf"}}`, MediaDocument, "report.pdf"},
		{"audio", `{"audioMessage":{"mimetype":"audio/ogg; codecs=opus"}}`, MediaAudio, ""},
		{"text", `{"conversation":"hello"}`, MediaNone, ""},
		{"empty", ``, MediaNone, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Message{Content: json.RawMessage(tt.content)}
			kind, info := msg.Media()
			assert.Equal(t, tt.kind, kind)
			if tt.kind == MediaNone {
				assert.Nil(t, info)
				return
			}
			assert.Equal(t, tt.fileName, info.FileName)
		})
	}
}

func TestMessage_TextAndContent(t *testing.T) {
	assert.Equal(t, "hello", Message{Content: json.RawMessage(`{"conversation":"hello"}`)}.Text())
	assert.Equal(t, "quoted", Message{Content: json.RawMessage(`{"extendedTextMessage":{"text":"quoted"}}`)}.Text())

	assert.False(t, Message{}.HasContent())
	assert.False(t, Message{Content: json.RawMessage(`null`)}.HasContent())
	assert.True(t, Message{Content: json.RawMessage(`{"conversation":"x"}`)}.HasContent())
}

func TestMessage_JSONKeepsRawContent(t *testing.T) {
	raw := `{"key":{"remoteJid":"1@s.whatsapp.net","fromMe":false,"id":"ABC"},"message":{"reactionMessage":{"text":"+1"}}}`

	var msg Message
	assert.NoError(t, json.Unmarshal([]byte(raw), &msg))

	out, err := json.Marshal(msg)
	assert.NoError(t, err)
	assert.Contains(t, string(out), `"reactionMessage":{"text":"+1"}`)
}

func TestEventNames(t *testing.T) {
	assert.Equal(t, EventConnectionUpdate, Name(QRCode{}))
	assert.Equal(t, EventConnectionUpdate, Name(Closed{StatusCode: 401}))
	assert.Equal(t, EventCredsUpdate, Name(CredsUpdate{}))
	assert.Equal(t, EventMessagesUpsert, Name(MessagesUpsert{}))
	assert.Equal(t, EventMessagesUpdate, Name(MessagesUpdate{}))
}

func TestCredentials_Clone(t *testing.T) {
	orig := Credentials{"creds.json": []byte(`{"a":1}`)}
	cp := orig.Clone()
	cp["creds.json"][0] = 'X'
	assert.Equal(t, byte('{'), orig["creds.json"][0])
}
