package store

import (
	"database/sql"
	"time"
)

// GetSyncStatus returns the sync cursor row for a chat, nil if none exists.
func (db *DB) GetSyncStatus(chatID int64) (*SyncStatus, error) {
	var s SyncStatus
	err := db.QueryRow(`
		SELECT chat_id, last_message_id, last_cursor, terminal_cursor,
			total_messages_synced, last_sync_at, last_error
		FROM sync_status WHERE chat_id = ?`, chatID).
		Scan(&s.ChatID, &s.LastMessageID, &s.LastCursor, &s.TerminalCursor,
			&s.TotalSynced, &s.LastSyncAt, &s.LastError)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// AdvanceSyncStatus records progress after a page commit: the newest
// processed provider message id, the continuation cursor, and the number of
// new rows. total_messages_synced never decreases.
func (db *DB) AdvanceSyncStatus(chatID int64, lastMessageID, cursor string, newMessages int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_status (chat_id, last_message_id, last_cursor, total_messages_synced, last_sync_at, last_error)
		VALUES (?, ?, ?, ?, ?, '')
		ON CONFLICT(chat_id) DO UPDATE SET
			last_message_id = CASE WHEN excluded.last_message_id != '' THEN excluded.last_message_id ELSE sync_status.last_message_id END,
			last_cursor = excluded.last_cursor,
			total_messages_synced = sync_status.total_messages_synced + ?,
			last_sync_at = excluded.last_sync_at,
			last_error = ''`,
		chatID, lastMessageID, cursor, newMessages, now, newMessages)
	return err
}

// SetTerminalCursor marks a chat's history as fully walked: syncs reaching
// this cursor again can stop immediately.
func (db *DB) SetTerminalCursor(chatID int64, cursor string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_status (chat_id, terminal_cursor, last_sync_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			terminal_cursor = excluded.terminal_cursor,
			last_sync_at = excluded.last_sync_at`,
		chatID, cursor, now)
	return err
}

// RecordSyncError stores the last failure for a chat without touching its
// cursor, so the next run resumes from the same position.
func (db *DB) RecordSyncError(chatID int64, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_status (chat_id, last_sync_at, last_error)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			last_error = excluded.last_error`,
		chatID, now, errMsg)
	return err
}

// SyncRollup summarizes sync_status across all chats.
type SyncRollup struct {
	ChatsTracked  int64
	ChatsComplete int64 // terminal cursor reached
	ChatsFailing  int64 // last run ended in an error
	TotalSynced   int64
	LastSyncAt    int64 // unix millis, 0 when never synced
}

// GetSyncRollup aggregates the per-chat sync state for status reporting.
func (db *DB) GetSyncRollup() (*SyncRollup, error) {
	var r SyncRollup
	err := db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(terminal_cursor != ''), 0),
			COALESCE(SUM(last_error != ''), 0),
			COALESCE(SUM(total_messages_synced), 0),
			COALESCE(MAX(last_sync_at), 0)
		FROM sync_status`).
		Scan(&r.ChatsTracked, &r.ChatsComplete, &r.ChatsFailing, &r.TotalSynced, &r.LastSyncAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ChatsSyncedSince returns WhatsApp chat ids whose last successful sync is at
// or after the given time. Used to deprioritize freshly synced chats.
func (db *DB) ChatsSyncedSince(since int64) (map[string]bool, error) {
	rows, err := db.Query(`
		SELECT c.whatsapp_chat_id
		FROM chats c
		JOIN sync_status s ON c.id = s.chat_id
		WHERE s.last_sync_at >= ? AND s.last_error = ''`, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	synced := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		synced[id] = true
	}
	return synced, rows.Err()
}
