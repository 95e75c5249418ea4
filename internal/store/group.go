package store

import (
	"database/sql"
	"fmt"
	"time"
)

// EnsureGroup inserts a group if missing and returns the stored row.
func (db *DB) EnsureGroup(waGroupID, name string) (*Group, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO groups (whatsapp_group_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(whatsapp_group_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE groups.name END,
			updated_at = excluded.updated_at`,
		waGroupID, name, now, now)
	if err != nil {
		return nil, fmt.Errorf("ensure group %q: %w", waGroupID, err)
	}
	return db.GetGroup(waGroupID)
}

// GetGroup returns a group by WhatsApp group identifier, nil if absent.
func (db *DB) GetGroup(waGroupID string) (*Group, error) {
	var g Group
	err := db.QueryRow(`
		SELECT id, whatsapp_group_id, name, description, owner_contact_id
		FROM groups WHERE whatsapp_group_id = ?`, waGroupID).
		Scan(&g.ID, &g.WhatsAppGroupID, &g.Name, &g.Description, &g.OwnerContactID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// AddGroupMember records a contact's membership in a group.
func (db *DB) AddGroupMember(groupID, contactID int64, role string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO group_members (group_id, contact_id, role, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(group_id, contact_id) DO UPDATE SET role = excluded.role`,
		groupID, contactID, role, now)
	return err
}
