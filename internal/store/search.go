package store

// SearchMessages performs a full-text search on message content. A non-zero
// chatID restricts the search to one chat.
func (db *DB) SearchMessages(query string, chatID int64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.chat_id, m.wa_message_id, m.dedup_key, m.sender_contact_id,
			COALESCE(ct.phone, ''), COALESCE(ct.name, ''),
			m.outgoing, m.message_type, m.content, m.timestamp,
			snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		LEFT JOIN contacts ct ON m.sender_contact_id = ct.id
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if chatID > 0 {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ChatID, &r.Message.WAMessageID,
			&r.Message.DedupKey, &r.Message.SenderContactID,
			&r.Message.SenderPhone, &r.Message.SenderName,
			&r.Message.Outgoing, &r.Message.MessageType, &r.Message.Content,
			&r.Message.Timestamp, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
