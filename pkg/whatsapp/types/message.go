package types

import (
	"encoding/json"
)

// MessageKey addresses one message.
type MessageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

// Message is an inbound protocol message. Content is kept as the raw
// protocol payload; accessors decode the parts callers need.
type Message struct {
	Key       MessageKey      `json:"key"`
	PushName  string          `json:"pushName,omitempty"`
	Timestamp int64           `json:"messageTimestamp,omitempty"`
	Content   json.RawMessage `json:"message,omitempty"`
}

// MediaKind classifies downloadable message content.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
)

// MediaInfo is the subset of media metadata needed to store an attachment.
type MediaInfo struct {
	Mimetype   string `json:"mimetype,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	Caption    string `json:"caption,omitempty"`
	FileLength uint64 `json:"fileLength,omitempty"`
}

type content struct {
	Conversation string `json:"conversation,omitempty"`
	ExtendedText *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage,omitempty"`
	Image    *MediaInfo `json:"imageMessage,omitempty"`
	Video    *MediaInfo `json:"videoMessage,omitempty"`
	Document *MediaInfo `json:"documentMessage,omitempty"`
	Audio    *MediaInfo `json:"audioMessage,omitempty"`
}

// HasContent reports whether the message carries any payload at all.
func (m Message) HasContent() bool {
	trimmed := string(m.Content)
	return trimmed != "" && trimmed != "null" && trimmed != "{}"
}

// Text returns the plain or extended text body, if any.
func (m Message) Text() string {
	c := m.decode()
	if c.Conversation != "" {
		return c.Conversation
	}
	if c.ExtendedText != nil {
		return c.ExtendedText.Text
	}
	return ""
}

// Media reports the media kind and its metadata. Image wins over video,
// video over document, document over audio.
func (m Message) Media() (MediaKind, *MediaInfo) {
	c := m.decode()
	switch {
	case c.Image != nil:
		return MediaImage, c.Image
	case c.Video != nil:
		return MediaVideo, c.Video
	case c.Document != nil:
		return MediaDocument, c.Document
	case c.Audio != nil:
		return MediaAudio, c.Audio
	}
	return MediaNone, nil
}

func (m Message) decode() content {
	var c content
	if m.HasContent() {
		_ = json.Unmarshal(m.Content, &c)
	}
	return c
}
