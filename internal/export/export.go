// Package export writes archived chat history to JSON documents.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wavault/wavault/internal/store"
)

// Document is the top-level JSON layout. Chats map display names to their
// messages in chronological order.
type Document struct {
	ExportedAt string                  `json:"exported_at"`
	InstanceID string                  `json:"instance_id"`
	Chats      map[string][]RecordJSON `json:"chats"`
}

// RecordJSON is one exported message.
type RecordJSON struct {
	Sender    string  `json:"sender"`
	Content   string  `json:"content"`
	Type      string  `json:"type"`
	Timestamp string  `json:"timestamp"`
	Direction string  `json:"direction"`
	MediaPath string  `json:"media_path,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// Exporter renders archive contents to files.
type Exporter struct {
	db         *store.DB
	logger     *zap.Logger
	instanceID string
}

func New(db *store.DB, logger *zap.Logger, instanceID string) *Exporter {
	return &Exporter{db: db, logger: logger.Named("export"), instanceID: instanceID}
}

// ExportChat writes one chat's full history to path. startTS and endTS bound
// the window in unix millis; zero means unbounded.
func (e *Exporter) ExportChat(waChatID, path string, startTS, endTS int64) (int, error) {
	chat, err := e.db.GetChat(waChatID)
	if err != nil {
		return 0, fmt.Errorf("resolve chat %s: %w", waChatID, err)
	}
	if chat == nil {
		return 0, fmt.Errorf("chat %s is not in the archive", waChatID)
	}
	doc := e.newDocument()
	n, err := e.appendChat(doc, chat, startTS, endTS)
	if err != nil {
		return 0, err
	}
	if err := writeJSON(path, doc); err != nil {
		return 0, err
	}
	e.logger.Info("chat exported",
		zap.String("chat_id", waChatID),
		zap.Int("messages", n),
		zap.String("path", path))
	return n, nil
}

// ExportAll writes every known chat to a single document at path.
func (e *Exporter) ExportAll(path string, startTS, endTS int64) (int, error) {
	chats, err := e.db.ListChats(0, 0)
	if err != nil {
		return 0, fmt.Errorf("list chats: %w", err)
	}
	doc := e.newDocument()
	total := 0
	for i := range chats {
		n, err := e.appendChat(doc, &chats[i], startTS, endTS)
		if err != nil {
			return total, err
		}
		total += n
	}
	if err := writeJSON(path, doc); err != nil {
		return total, err
	}
	e.logger.Info("archive exported",
		zap.Int("chats", len(chats)),
		zap.Int("messages", total),
		zap.String("path", path))
	return total, nil
}

func (e *Exporter) newDocument() *Document {
	return &Document{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		InstanceID: e.instanceID,
		Chats:      make(map[string][]RecordJSON),
	}
}

func (e *Exporter) appendChat(doc *Document, chat *store.Chat, startTS, endTS int64) (int, error) {
	msgs, err := e.db.ListMessagesRange(chat.ID, startTS, endTS)
	if err != nil {
		return 0, fmt.Errorf("list messages for %s: %w", chat.WhatsAppChatID, err)
	}

	records := make([]RecordJSON, 0, len(msgs))
	for i := range msgs {
		records = append(records, toRecord(&msgs[i]))
	}

	key := chat.DisplayName
	if key == "" {
		key = chat.WhatsAppChatID
	}
	// Two chats can resolve to the same display name. Qualify duplicates
	// with the chat id instead of silently merging histories.
	if _, taken := doc.Chats[key]; taken {
		key = fmt.Sprintf("%s (%s)", key, chat.WhatsAppChatID)
	}
	doc.Chats[key] = records
	return len(records), nil
}

func toRecord(m *store.Message) RecordJSON {
	r := RecordJSON{
		Content:   m.Content,
		Type:      m.MessageType,
		Timestamp: time.UnixMilli(m.Timestamp).UTC().Format(time.RFC3339),
		MediaPath: m.LocalMediaPath,
	}
	if m.Outgoing {
		r.Direction = "outgoing"
		r.Sender = "me"
	} else {
		r.Direction = "incoming"
		r.Sender = m.SenderName
		if r.Sender == "" {
			r.Sender = m.SenderPhone
		}
	}
	if m.MessageType == "location" {
		r.Latitude = m.Latitude
		r.Longitude = m.Longitude
	}
	return r
}

func writeJSON(path string, doc *Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode export: %w", err)
	}
	return f.Close()
}
