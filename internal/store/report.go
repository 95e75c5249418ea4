package store

// DateCount is a per-day message count.
type DateCount struct {
	Date  string // YYYY-MM-DD
	Count int64
}

// ContactCount is a per-contact message count.
type ContactCount struct {
	Phone string
	Name  string
	Count int64
}

// CountsByDate aggregates message counts per calendar day for a chat
// (all chats when chatID is zero).
func (db *DB) CountsByDate(chatID int64) ([]DateCount, error) {
	q := `
		SELECT date(timestamp / 1000, 'unixepoch') AS day, COUNT(*)
		FROM messages`
	var args []any
	if chatID > 0 {
		q += " WHERE chat_id = ?"
		args = append(args, chatID)
	}
	q += " GROUP BY day ORDER BY day"

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var counts []DateCount
	for rows.Next() {
		var c DateCount
		if err := rows.Scan(&c.Date, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// CountsByContact aggregates incoming message counts per sender.
func (db *DB) CountsByContact(limit int) ([]ContactCount, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT ct.phone, ct.name, COUNT(*) AS n
		FROM messages m
		JOIN contacts ct ON m.sender_contact_id = ct.id
		WHERE m.outgoing = 0
		GROUP BY ct.id
		ORDER BY n DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var counts []ContactCount
	for rows.Next() {
		var c ContactCount
		if err := rows.Scan(&c.Phone, &c.Name, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// TableCounts returns row counts for the main archive tables.
func (db *DB) TableCounts() (map[string]int64, error) {
	tables := []string{"contacts", "groups", "chats", "messages", "sync_status", "media_download_queue", "outbox"}
	counts := make(map[string]int64, len(tables))
	for _, t := range tables {
		var n int64
		if err := db.QueryRow("SELECT COUNT(*) FROM " + t).Scan(&n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, nil
}
