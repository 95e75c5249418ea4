package store

import "database/sql"

// Contact is a phone-number identity observed during sync.
type Contact struct {
	ID           int64
	Phone        string
	WhatsAppID   string
	Name         string
	IsBusiness   bool
	BusinessName string
}

// Group is a group-chat entity.
type Group struct {
	ID              int64
	WhatsAppGroupID string
	Name            string
	Description     string
	OwnerContactID  sql.NullInt64
}

// Chat is a conversation thread, private or group. Exactly one of
// ContactID/GroupID is set, matching ChatType.
type Chat struct {
	ID             int64
	WhatsAppChatID string
	ChatType       string // "private" or "group"
	ContactID      sql.NullInt64
	GroupID        sql.NullInt64
	DisplayName    string
	LastActivity   int64 // unix millis
}

// Message is one archived message. WAMessageID may be empty for legacy
// records; DedupKey is always set (the provider id, or a content fingerprint).
type Message struct {
	ID              int64
	ChatID          int64
	WAMessageID     string
	DedupKey        string
	SenderContactID sql.NullInt64
	SenderPhone     string
	SenderName      string
	Outgoing        bool
	MessageType     string // text, image, video, audio, voice, document, sticker, location, contact
	Content         string
	Timestamp       int64 // unix millis
	ReplyToWAID     string
	Forwarded       bool
	Starred         bool
	Deleted         bool
	MediaURL        string
	MediaFilename   string
	MediaMimeType   string
	MediaSizeBytes  int64
	LocalMediaPath  string
	Latitude        float64
	Longitude       float64
	LocationName    string
	SharedName      string
	SharedPhone     string
}

// SyncStatus tracks per-chat sync progress. TotalSynced only grows.
type SyncStatus struct {
	ChatID         int64
	LastMessageID  string
	LastCursor     string
	TerminalCursor string
	TotalSynced    int64
	LastSyncAt     int64
	LastError      string
}

// Media task states. Transitions are forward-only; failed tasks under the
// attempt ceiling are retried on the next queue pass.
const (
	MediaPending     = "pending"
	MediaDownloading = "downloading"
	MediaCompleted   = "completed"
	MediaFailed      = "failed"
)

// MediaTask is a queued media download for one message.
type MediaTask struct {
	ID            int64
	MessageID     int64
	MediaURL      string
	Filename      string
	MimeType      string
	Status        string
	Attempts      int
	LastAttemptAt int64
	ErrorMessage  string
	LocalPath     string
	ContentHash   string
}

// OutboxEntry is a pending outgoing message.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	WhatsAppChatID string
	Body           string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ProviderMsgID  string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}

// PageResult reports what ApplyPage did with one fetched page.
type PageResult struct {
	Inserted []*Message // rows actually inserted, IDs populated
	Skipped  int        // already-present rows
	HitKnown bool       // a known provider id was seen while stopOnKnown was set
}
