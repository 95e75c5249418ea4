package greenapi

import (
	"fmt"

	"github.com/wavault/wavault/internal/store"
)

// RawMessage is one history record as returned by the provider. Exactly one
// field of MessageData carries the payload; Parse validates that before the
// record enters the sync engine.
type RawMessage struct {
	ID          string      `json:"idMessage"`
	Timestamp   int64       `json:"timestamp"`
	Type        string      `json:"type"` // "incoming" or "outgoing"
	ChatID      string      `json:"chatId"`
	Author      string      `json:"author,omitempty"` // sender in group chats
	SenderName  string      `json:"senderName,omitempty"`
	MessageData MessageData `json:"messageData"`
}

// MessageData is the tagged union of provider message payloads.
type MessageData struct {
	Text     *TextData     `json:"textMessageData,omitempty"`
	Image    *FileData     `json:"imageMessageData,omitempty"`
	Video    *FileData     `json:"videoMessageData,omitempty"`
	Audio    *FileData     `json:"audioMessageData,omitempty"`
	Voice    *FileData     `json:"voiceMessageData,omitempty"`
	Document *FileData     `json:"documentMessageData,omitempty"`
	Sticker  *FileData     `json:"stickerMessageData,omitempty"`
	Location *LocationData `json:"locationMessageData,omitempty"`
	Contact  *ContactData  `json:"contactMessageData,omitempty"`

	Quoted    *QuotedData `json:"quotedMessage,omitempty"`
	Forwarded bool        `json:"forwarded,omitempty"`
}

// TextData is a plain text payload.
type TextData struct {
	TextMessage string `json:"textMessage"`
}

// FileData is the payload shape shared by all media message types.
type FileData struct {
	DownloadURL string `json:"downloadUrl"`
	Caption     string `json:"caption,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
}

// LocationData is a shared location payload.
type LocationData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"nameLocation,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// ContactData is a shared contact card payload.
type ContactData struct {
	DisplayName string `json:"displayName"`
	VCard       string `json:"vcard,omitempty"`
}

// QuotedData references the message being replied to.
type QuotedData struct {
	StanzaID string `json:"stanzaId"`
}

// RawChat is one entry from the getChats listing.
type RawChat struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RawContact is one entry from the getContacts listing. Name is the
// WhatsApp account name, ContactName the address book entry.
type RawContact struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContactName string `json:"contactName"`
	Type        string `json:"type"` // "user" or "group"
}

// BestName prefers the address book name over the account name.
func (r *RawContact) BestName() string {
	if r.ContactName != "" {
		return r.ContactName
	}
	return r.Name
}

// HistoryPage is one page of chat history plus its continuation cursor.
type HistoryPage struct {
	Messages   []RawMessage
	NextCursor string // provider id of the oldest message in the page
	End        bool   // history start reached
}

// Message is a raw record normalized for ingestion.
type Message struct {
	WAMessageID    string
	ChatID         string
	SenderPhone    string
	SenderName     string
	Outgoing       bool
	Type           string
	Content        string
	Timestamp      int64 // unix millis
	ReplyToWAID    string
	Forwarded      bool
	MediaURL       string
	MediaFilename  string
	MediaMimeType  string
	MediaSizeBytes int64
	Latitude       float64
	Longitude      float64
	LocationName   string
	SharedName     string
	SharedPhone    string
}

// ToStoreMessage converts a normalized message to a store row. The sender
// contact reference is resolved by the sync engine.
func (m *Message) ToStoreMessage() *store.Message {
	return &store.Message{
		WAMessageID:    m.WAMessageID,
		Outgoing:       m.Outgoing,
		MessageType:    m.Type,
		Content:        m.Content,
		Timestamp:      m.Timestamp,
		ReplyToWAID:    m.ReplyToWAID,
		Forwarded:      m.Forwarded,
		MediaURL:       m.MediaURL,
		MediaFilename:  m.MediaFilename,
		MediaMimeType:  m.MediaMimeType,
		MediaSizeBytes: m.MediaSizeBytes,
		Latitude:       m.Latitude,
		Longitude:      m.Longitude,
		LocationName:   m.LocationName,
		SharedName:     m.SharedName,
		SharedPhone:    m.SharedPhone,
		SenderPhone:    m.SenderPhone,
		SenderName:     m.SenderName,
	}
}

// APIError is a non-2xx provider response. StatusCode 0 means the request
// never produced a response (network failure, timeout).
type APIError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("green api %s: request failed: %s", e.Method, e.Body)
	}
	return fmt.Sprintf("green api %s: status %d: %s", e.Method, e.StatusCode, e.Body)
}

// Transient reports whether the error is worth retrying: server-side
// failures and transport errors, never 4xx.
func (e *APIError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}
