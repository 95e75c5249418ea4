package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Fingerprint derives a stable dedup key for messages the provider returned
// without an identifier: chat + timestamp + sender + content.
func Fingerprint(waChatID string, timestamp int64, senderPhone, content string) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%s|%s", waChatID, timestamp, senderPhone, content))
	return "fp:" + hex.EncodeToString(h[:])
}

// ApplyPage commits one fetched page of messages in a single transaction.
// Messages already present are skipped, with mutable flags (starred/deleted)
// refreshed. When stopOnKnown is set, hitting a row whose provider id is
// already stored stops processing and reports HitKnown, the bounded
// lookback signal. The chat's last_activity is raised to the newest message
// in the page. Message IDs of inserted rows are populated on return.
func (db *DB) ApplyPage(chat *Chat, msgs []*Message, stopOnKnown bool) (*PageResult, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	res := &PageResult{}
	var maxTS int64

	for _, m := range msgs {
		m.ChatID = chat.ID
		if m.DedupKey == "" {
			if m.WAMessageID != "" {
				m.DedupKey = m.WAMessageID
			} else {
				m.DedupKey = Fingerprint(chat.WhatsAppChatID, m.Timestamp, m.SenderPhone, m.Content)
			}
		}
		if m.Timestamp > maxTS {
			maxTS = m.Timestamp
		}

		var existingID int64
		err := tx.QueryRow(`SELECT id FROM messages WHERE chat_id = ? AND dedup_key = ?`,
			chat.ID, m.DedupKey).Scan(&existingID)
		switch {
		case err == nil:
			if _, err := tx.Exec(`UPDATE messages SET starred = ?, deleted = ? WHERE id = ?`,
				m.Starred, m.Deleted, existingID); err != nil {
				return nil, fmt.Errorf("refresh flags for %q: %w", m.DedupKey, err)
			}
			res.Skipped++
			// Only a provider-assigned id counts as "already known": a
			// fingerprint collision must not truncate the sync early.
			if stopOnKnown && m.WAMessageID != "" {
				res.HitKnown = true
			}
		case errors.Is(err, sql.ErrNoRows):
			r, err := tx.Exec(`
				INSERT INTO messages (
					chat_id, wa_message_id, dedup_key, sender_contact_id, outgoing,
					message_type, content, timestamp, reply_to_wa_id, forwarded,
					starred, deleted, media_url, media_filename, media_mime_type,
					media_size_bytes, latitude, longitude, location_name,
					shared_name, shared_phone, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				m.ChatID, m.WAMessageID, m.DedupKey, m.SenderContactID, m.Outgoing,
				m.MessageType, m.Content, m.Timestamp, m.ReplyToWAID, m.Forwarded,
				m.Starred, m.Deleted, m.MediaURL, m.MediaFilename, m.MediaMimeType,
				m.MediaSizeBytes, m.Latitude, m.Longitude, m.LocationName,
				m.SharedName, m.SharedPhone, now)
			if err != nil {
				return nil, fmt.Errorf("insert message %q: %w", m.DedupKey, err)
			}
			m.ID, _ = r.LastInsertId()
			res.Inserted = append(res.Inserted, m)
		default:
			return nil, fmt.Errorf("lookup message %q: %w", m.DedupKey, err)
		}

		if res.HitKnown {
			break
		}
	}

	if maxTS > 0 {
		if _, err := tx.Exec(`
			UPDATE chats SET last_activity = MAX(last_activity, ?), updated_at = ?
			WHERE id = ?`, maxTS, now, chat.ID); err != nil {
			return nil, fmt.Errorf("touch chat: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit page: %w", err)
	}
	return res, nil
}

// ListMessages returns messages for a chat using keyset pagination by
// timestamp, newest first.
func (db *DB) ListMessages(chatID int64, beforeTS int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTS <= 0 {
		beforeTS = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(messageSelect+`
		WHERE m.chat_id = ? AND m.timestamp < ?
		ORDER BY m.timestamp DESC
		LIMIT ?`, chatID, beforeTS, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ListMessagesRange returns messages for a chat in chronological order,
// bounded by [startTS, endTS] when either is non-zero.
func (db *DB) ListMessagesRange(chatID, startTS, endTS int64) ([]Message, error) {
	if endTS <= 0 {
		endTS = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(messageSelect+`
		WHERE m.chat_id = ? AND m.timestamp >= ? AND m.timestamp <= ?
		ORDER BY m.timestamp ASC`, chatID, startTS, endTS)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

const messageSelect = `
	SELECT m.id, m.chat_id, m.wa_message_id, m.dedup_key, m.sender_contact_id,
		COALESCE(ct.phone, ''), COALESCE(ct.name, ''),
		m.outgoing, m.message_type, m.content, m.timestamp, m.reply_to_wa_id,
		m.forwarded, m.starred, m.deleted, m.media_url, m.media_filename,
		m.media_mime_type, m.media_size_bytes, m.local_media_path,
		m.latitude, m.longitude, m.location_name, m.shared_name, m.shared_phone
	FROM messages m
	LEFT JOIN contacts ct ON m.sender_contact_id = ct.id`

func scanMessages(rows rowScanner) ([]Message, error) {
	defer func() { _ = rows.Close() }()
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.ChatID, &m.WAMessageID, &m.DedupKey, &m.SenderContactID,
			&m.SenderPhone, &m.SenderName,
			&m.Outgoing, &m.MessageType, &m.Content, &m.Timestamp, &m.ReplyToWAID,
			&m.Forwarded, &m.Starred, &m.Deleted, &m.MediaURL, &m.MediaFilename,
			&m.MediaMimeType, &m.MediaSizeBytes, &m.LocalMediaPath,
			&m.Latitude, &m.Longitude, &m.LocationName, &m.SharedName, &m.SharedPhone,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}
