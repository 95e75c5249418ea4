package store

import (
	"database/sql"
	"time"
)

// EnqueueMedia adds a pending download task for a message unless one already
// exists. Returns true when a new task was created.
func (db *DB) EnqueueMedia(messageID int64, mediaURL, filename, mimeType string) (bool, error) {
	now := time.Now().UnixMilli()
	r, err := db.Exec(`
		INSERT INTO media_download_queue (message_id, media_url, filename, mime_type, status, created_at)
		VALUES (?, ?, ?, ?, 'pending', ?)
		ON CONFLICT(message_id) DO NOTHING`,
		messageID, mediaURL, filename, mimeType, now)
	if err != nil {
		return false, err
	}
	n, _ := r.RowsAffected()
	return n > 0, nil
}

// PendingMedia returns tasks eligible for download: pending tasks plus failed
// ones that have not exhausted maxAttempts, oldest first.
func (db *DB) PendingMedia(maxAttempts, limit int) ([]MediaTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, message_id, media_url, filename, mime_type, status,
			attempts, last_attempt_at, error_message, local_path, content_hash
		FROM media_download_queue
		WHERE status = 'pending' OR (status = 'failed' AND attempts < ?)
		ORDER BY created_at ASC
		LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []MediaTask
	for rows.Next() {
		var t MediaTask
		if err := rows.Scan(&t.ID, &t.MessageID, &t.MediaURL, &t.Filename, &t.MimeType,
			&t.Status, &t.Attempts, &t.LastAttemptAt, &t.ErrorMessage, &t.LocalPath, &t.ContentHash); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkMediaDownloading moves a task into the downloading state and counts
// the attempt.
func (db *DB) MarkMediaDownloading(taskID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE media_download_queue
		SET status = 'downloading', attempts = attempts + 1, last_attempt_at = ?
		WHERE id = ?`, now, taskID)
	return err
}

// MarkMediaCompleted records a finished download and its content hash, and
// mirrors the local path onto the owning message.
func (db *DB) MarkMediaCompleted(taskID int64, localPath, contentHash string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		UPDATE media_download_queue
		SET status = 'completed', local_path = ?, content_hash = ?, error_message = ''
		WHERE id = ?`, localPath, contentHash, taskID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE messages SET local_media_path = ?
		WHERE id = (SELECT message_id FROM media_download_queue WHERE id = ?)`,
		localPath, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkMediaFailed records a failed attempt. The task stays retryable until
// the caller's attempt ceiling; status reflects 'failed' either way and
// PendingMedia decides eligibility.
func (db *DB) MarkMediaFailed(taskID int64, errMsg string) error {
	_, err := db.Exec(`
		UPDATE media_download_queue SET status = 'failed', error_message = ?
		WHERE id = ?`, errMsg, taskID)
	return err
}

// ResetStalledMedia moves tasks stuck in 'downloading' back to 'failed' so
// they become retryable. The attempt was already counted when the download
// started, so the retry ceiling still holds. Only safe while no drain is
// running; the profile lock guarantees that.
func (db *DB) ResetStalledMedia() (int64, error) {
	r, err := db.Exec(`
		UPDATE media_download_queue
		SET status = 'failed', error_message = 'interrupted'
		WHERE status = 'downloading'`)
	if err != nil {
		return 0, err
	}
	return r.RowsAffected()
}

// FindCompletedByHash returns the stored path of a completed download with
// the same content hash, empty if none exists. Used for byte-level dedup.
func (db *DB) FindCompletedByHash(contentHash string) (string, error) {
	var path string
	err := db.QueryRow(`
		SELECT local_path FROM media_download_queue
		WHERE content_hash = ? AND status = 'completed'
		LIMIT 1`, contentHash).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// MediaQueueCounts returns task counts grouped by status.
func (db *DB) MediaQueueCounts() (map[string]int64, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM media_download_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
