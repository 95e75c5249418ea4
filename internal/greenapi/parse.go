package greenapi

import (
	"fmt"
	"strings"
)

// Parse validates a raw history record and normalizes it for ingestion.
// Records with no recognizable payload variant are rejected here so the sync
// engine only ever sees well-formed messages.
func Parse(raw *RawMessage) (*Message, error) {
	m := &Message{
		WAMessageID: raw.ID,
		ChatID:      raw.ChatID,
		SenderName:  raw.SenderName,
		Outgoing:    raw.Type == "outgoing",
		Timestamp:   normalizeTimestamp(raw.Timestamp),
		Forwarded:   raw.MessageData.Forwarded,
	}

	if raw.MessageData.Quoted != nil {
		m.ReplyToWAID = raw.MessageData.Quoted.StanzaID
	}
	m.SenderPhone = senderPhone(raw)

	d := &raw.MessageData
	switch {
	case d.Text != nil:
		m.Type = "text"
		m.Content = d.Text.TextMessage
	case d.Image != nil:
		m.Type = "image"
		applyFile(m, d.Image)
	case d.Video != nil:
		m.Type = "video"
		applyFile(m, d.Video)
	case d.Audio != nil:
		m.Type = "audio"
		applyFile(m, d.Audio)
	case d.Voice != nil:
		m.Type = "voice"
		applyFile(m, d.Voice)
		if m.MediaMimeType == "" {
			m.MediaMimeType = "audio/ogg"
		}
	case d.Document != nil:
		m.Type = "document"
		applyFile(m, d.Document)
	case d.Sticker != nil:
		m.Type = "sticker"
		applyFile(m, d.Sticker)
		if m.MediaMimeType == "" {
			m.MediaMimeType = "image/webp"
		}
	case d.Location != nil:
		m.Type = "location"
		m.Latitude = d.Location.Latitude
		m.Longitude = d.Location.Longitude
		m.LocationName = d.Location.Name
	case d.Contact != nil:
		m.Type = "contact"
		m.SharedName = d.Contact.DisplayName
		m.SharedPhone = phoneFromVCard(d.Contact.VCard)
	default:
		return nil, fmt.Errorf("message %q: no recognized payload variant", raw.ID)
	}

	return m, nil
}

func applyFile(m *Message, f *FileData) {
	m.Content = f.Caption
	m.MediaURL = f.DownloadURL
	m.MediaFilename = f.FileName
	m.MediaMimeType = f.MimeType
	m.MediaSizeBytes = f.FileSize
}

// senderPhone extracts the sender's phone number: the chat peer for private
// chats, the author for group chats. Outgoing messages have no peer sender.
func senderPhone(raw *RawMessage) string {
	if raw.Type == "outgoing" {
		return ""
	}
	if strings.HasSuffix(raw.ChatID, "@c.us") {
		return strings.TrimSuffix(raw.ChatID, "@c.us")
	}
	if strings.HasSuffix(raw.Author, "@c.us") {
		return strings.TrimSuffix(raw.Author, "@c.us")
	}
	return ""
}

// normalizeTimestamp converts provider timestamps to unix millis. Values
// above 1e10 are already milliseconds.
func normalizeTimestamp(ts int64) int64 {
	if ts > 1e10 {
		return ts
	}
	return ts * 1000
}

// phoneFromVCard pulls the first TEL value out of a vCard body.
func phoneFromVCard(vcard string) string {
	for _, line := range strings.Split(vcard, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "TEL") {
			continue
		}
		if i := strings.LastIndex(line, ":"); i >= 0 {
			return strings.TrimSpace(line[i+1:])
		}
	}
	return ""
}

// IsGroupChat reports whether a WhatsApp chat id names a group.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, "@g.us")
}

// PhoneFromChatID extracts the phone number from a private chat id.
func PhoneFromChatID(chatID string) string {
	return strings.TrimSuffix(chatID, "@c.us")
}
