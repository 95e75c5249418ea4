package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EnsurePrivateChat inserts a private chat bound to the given contact if
// missing and returns the stored row.
func (db *DB) EnsurePrivateChat(waChatID string, contactID int64) (*Chat, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (whatsapp_chat_id, chat_type, contact_id, created_at, updated_at)
		VALUES (?, 'private', ?, ?, ?)
		ON CONFLICT(whatsapp_chat_id) DO UPDATE SET updated_at = excluded.updated_at`,
		waChatID, contactID, now, now)
	if err != nil {
		return nil, fmt.Errorf("ensure private chat %q: %w", waChatID, err)
	}
	return db.GetChat(waChatID)
}

// EnsureGroupChat inserts a group chat bound to the given group if missing
// and returns the stored row.
func (db *DB) EnsureGroupChat(waChatID string, groupID int64) (*Chat, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (whatsapp_chat_id, chat_type, group_id, created_at, updated_at)
		VALUES (?, 'group', ?, ?, ?)
		ON CONFLICT(whatsapp_chat_id) DO UPDATE SET updated_at = excluded.updated_at`,
		waChatID, groupID, now, now)
	if err != nil {
		return nil, fmt.Errorf("ensure group chat %q: %w", waChatID, err)
	}
	return db.GetChat(waChatID)
}

// GetChat returns a chat by WhatsApp chat identifier, nil if absent.
// DisplayName falls back: contact/group name -> contact phone -> chat id.
func (db *DB) GetChat(waChatID string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT c.id, c.whatsapp_chat_id, c.chat_type, c.contact_id, c.group_id,
			COALESCE(NULLIF(ct.name,''), NULLIF(g.name,''), ct.phone, c.whatsapp_chat_id),
			c.last_activity
		FROM chats c
		LEFT JOIN contacts ct ON c.contact_id = ct.id
		LEFT JOIN groups g ON c.group_id = g.id
		WHERE c.whatsapp_chat_id = ?`, waChatID).
		Scan(&c.ID, &c.WhatsAppChatID, &c.ChatType, &c.ContactID, &c.GroupID, &c.DisplayName, &c.LastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns chats sorted by last activity descending. When
// activeSince > 0 only chats active at or after that time are returned.
// limit <= 0 returns every matching chat; run caps are the caller's job.
func (db *DB) ListChats(activeSince int64, limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := db.Query(`
		SELECT c.id, c.whatsapp_chat_id, c.chat_type, c.contact_id, c.group_id,
			COALESCE(NULLIF(ct.name,''), NULLIF(g.name,''), ct.phone, c.whatsapp_chat_id),
			c.last_activity
		FROM chats c
		LEFT JOIN contacts ct ON c.contact_id = ct.id
		LEFT JOIN groups g ON c.group_id = g.id
		WHERE c.last_activity >= ?
		ORDER BY c.last_activity DESC
		LIMIT ?`, activeSince, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.WhatsAppChatID, &c.ChatType, &c.ContactID, &c.GroupID, &c.DisplayName, &c.LastActivity); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// TouchChat raises a chat's last_activity, never lowering it.
func (db *DB) TouchChat(chatID, activity int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE chats SET last_activity = MAX(last_activity, ?), updated_at = ?
		WHERE id = ?`, activity, now, chatID)
	return err
}
