package store

import "time"

// QueueOutbox adds an outgoing message to the send queue.
func (db *DB) QueueOutbox(clientMsgID, waChatID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, whatsapp_chat_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, waChatID, body, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the provider id.
func (db *DB) MarkOutboxSent(clientMsgID, providerMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', provider_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`, providerMsgID, now, clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// PendingOutbox returns outbox entries that are still queued.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, whatsapp_chat_id, body, status, error_message, provider_msg_id
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.WhatsAppChatID, &e.Body, &e.Status, &e.ErrorMessage, &e.ProviderMsgID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ExpireStalledOutbox marks entries stuck in 'sending' as failed. Delivery of
// such an entry is unknown, so it is surfaced rather than resent; the profile
// lock guarantees no sender is mid-flight while maintenance runs.
func (db *DB) ExpireStalledOutbox() (int64, error) {
	now := time.Now().UnixMilli()
	r, err := db.Exec(`
		UPDATE outbox SET status = 'failed', error_message = 'interrupted', updated_at = ?
		WHERE status = 'sending'`, now)
	if err != nil {
		return 0, err
	}
	return r.RowsAffected()
}

// PruneSentOutbox deletes sent entries older than the given time. Used by
// maintenance.
func (db *DB) PruneSentOutbox(before int64) (int64, error) {
	r, err := db.Exec(`DELETE FROM outbox WHERE status = 'sent' AND updated_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return r.RowsAffected()
}
