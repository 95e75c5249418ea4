package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EnsureContact inserts a contact if missing and returns the stored row.
// A non-empty name overwrites the stored one; an empty name never erases it.
// An empty whatsappID is derived from the phone number so the column stays
// unique per contact.
func (db *DB) EnsureContact(phone, whatsappID, name string) (*Contact, error) {
	if whatsappID == "" {
		whatsappID = phone + "@c.us"
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (phone, whatsapp_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		phone, whatsappID, name, now, now)
	if err != nil {
		return nil, fmt.Errorf("ensure contact %q: %w", phone, err)
	}
	if name != "" {
		if _, err := db.Exec(`UPDATE contacts SET name = ?, updated_at = ? WHERE phone = ?`,
			name, now, phone); err != nil {
			return nil, fmt.Errorf("rename contact %q: %w", phone, err)
		}
	}
	return db.GetContactByPhone(phone)
}

// GetContactByPhone returns a contact by phone number, nil if absent.
func (db *DB) GetContactByPhone(phone string) (*Contact, error) {
	return db.scanContact(db.QueryRow(`
		SELECT id, phone, whatsapp_id, name, is_business, business_name
		FROM contacts WHERE phone = ?`, phone))
}

func (db *DB) scanContact(row *sql.Row) (*Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.Phone, &c.WhatsAppID, &c.Name, &c.IsBusiness, &c.BusinessName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
