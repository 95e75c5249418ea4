// Package media drains the download queue: fetching attachment bodies,
// deduplicating identical content by hash, and filing them under per-type
// directories inside the profile's media root.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wavault/wavault/internal/bus"
	"github.com/wavault/wavault/internal/store"
)

// Downloader is the provider side of the manager. *greenapi.Client
// implements it.
type Downloader interface {
	DownloadMedia(ctx context.Context, url string, w io.Writer) (contentType string, n int64, err error)
}

// Manager downloads queued attachments with a bounded worker pool.
type Manager struct {
	db         *store.DB
	downloader Downloader
	bus        *bus.Bus
	logger     *zap.Logger
	root       string
	workers    int
	maxTries   int
}

type Config struct {
	Root        string // profile media directory
	Workers     int
	MaxAttempts int
}

// Result summarizes one queue drain.
type Result struct {
	Completed int
	Deduped   int
	Failed    int
}

func NewManager(db *store.DB, d Downloader, b *bus.Bus, logger *zap.Logger, cfg Config) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Manager{
		db:         db,
		downloader: d,
		bus:        b,
		logger:     logger.Named("media"),
		root:       cfg.Root,
		workers:    cfg.Workers,
		maxTries:   cfg.MaxAttempts,
	}
}

// ProcessQueue downloads every pending task, retrying previously failed ones
// still under the attempt ceiling. Tasks run concurrently; one failing task
// never stops the drain.
func (m *Manager) ProcessQueue(ctx context.Context) (*Result, error) {
	// Tasks left in 'downloading' by an interrupted run would otherwise be
	// invisible to the queue forever.
	if n, err := m.db.ResetStalledMedia(); err != nil {
		return nil, fmt.Errorf("reset stalled tasks: %w", err)
	} else if n > 0 {
		m.logger.Info("requeued interrupted downloads", zap.Int64("tasks", n))
	}

	tasks, err := m.db.PendingMedia(m.maxTries, 0)
	if err != nil {
		return nil, fmt.Errorf("load media queue: %w", err)
	}
	if len(tasks) == 0 {
		return &Result{}, nil
	}

	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}

	res := &Result{}
	var mu counter
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i := range tasks {
		task := tasks[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			deduped, err := m.processTask(gctx, &task)
			switch {
			case err != nil:
				mu.add(&res.Failed)
				m.logger.Warn("media task failed",
					zap.Int64("task_id", task.ID),
					zap.Int("attempts", task.Attempts+1),
					zap.Error(err))
				m.bus.Publish(bus.Event{Kind: "media.task_failed", Payload: TaskEvent{
					TaskID:    task.ID,
					MessageID: task.MessageID,
					Error:     err.Error(),
				}})
			case deduped:
				mu.add(&res.Deduped)
			default:
				mu.add(&res.Completed)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	m.logger.Info("media queue drained",
		zap.Int("completed", res.Completed),
		zap.Int("deduped", res.Deduped),
		zap.Int("failed", res.Failed))
	return res, nil
}

// processTask downloads one attachment. Content already on disk under the
// same hash is linked to the message instead of stored twice.
func (m *Manager) processTask(ctx context.Context, task *store.MediaTask) (deduped bool, err error) {
	if err := m.db.MarkMediaDownloading(task.ID); err != nil {
		return false, fmt.Errorf("mark downloading: %w", err)
	}

	tmp, err := os.CreateTemp(m.root, ".download-*")
	if err != nil {
		m.fail(task, err)
		return false, err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	hasher := sha256.New()
	contentType, size, err := m.downloader.DownloadMedia(ctx, task.MediaURL, io.MultiWriter(tmp, hasher))
	closeErr := tmp.Close()
	if err != nil {
		m.fail(task, err)
		return false, err
	}
	if closeErr != nil {
		m.fail(task, closeErr)
		return false, closeErr
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	if existing, err := m.db.FindCompletedByHash(hash); err == nil && existing != "" {
		if err := m.db.MarkMediaCompleted(task.ID, existing, hash); err != nil {
			err = fmt.Errorf("link deduplicated content: %w", err)
			m.fail(task, err)
			return false, err
		}
		m.logger.Debug("attachment deduplicated",
			zap.Int64("task_id", task.ID),
			zap.String("path", existing))
		return true, nil
	}

	finalPath, err := m.placeFile(tmpPath, task, contentType)
	if err != nil {
		m.fail(task, err)
		return false, err
	}
	if err := m.db.MarkMediaCompleted(task.ID, finalPath, hash); err != nil {
		err = fmt.Errorf("mark completed: %w", err)
		m.fail(task, err)
		return false, err
	}

	m.bus.Publish(bus.Event{Kind: "media.task_completed", Payload: TaskEvent{
		TaskID:    task.ID,
		MessageID: task.MessageID,
		Path:      finalPath,
		Size:      size,
	}})
	return false, nil
}

// placeFile moves the downloaded temp file into its type directory under a
// collision-free name.
func (m *Manager) placeFile(tmpPath string, task *store.MediaTask, contentType string) (string, error) {
	mime := task.MimeType
	if mime == "" {
		mime = contentType
	}
	ext := extensionFor(tmpPath, task.Filename, mime)

	dir := filepath.Join(m.root, typeDir(mime, task.Filename))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create type dir: %w", err)
	}

	name := uuid.NewString() + ext
	finalPath := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("place attachment: %w", err)
	}
	return finalPath, nil
}

// CleanupTemp removes download scratch files left behind by interrupted runs.
// Returns the number of files removed.
func (m *Manager) CleanupTemp() (int, error) {
	stale, err := filepath.Glob(filepath.Join(m.root, ".download-*"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range stale {
		if err := os.Remove(path); err != nil {
			m.logger.Warn("remove stale temp file", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) fail(task *store.MediaTask, cause error) {
	if err := m.db.MarkMediaFailed(task.ID, cause.Error()); err != nil {
		m.logger.Warn("mark media failed", zap.Int64("task_id", task.ID), zap.Error(err))
	}
}

// typeDir maps a mime type to the directory attachments of that kind live in.
func typeDir(mime, filename string) string {
	switch {
	case mime == "image/webp":
		return "stickers"
	case mime == "audio/ogg" || strings.Contains(mime, "opus"):
		return "voice"
	case strings.HasPrefix(mime, "image/"):
		return "images"
	case strings.HasPrefix(mime, "video/"):
		return "videos"
	case strings.HasPrefix(mime, "audio/"):
		return "audio"
	case mime != "" && mime != "application/octet-stream":
		return "documents"
	case filename != "":
		return "documents"
	default:
		return "other"
	}
}

// extensionFor picks a file extension from the declared filename, the mime
// type, or the downloaded bytes, in that order.
func extensionFor(tmpPath, filename, mime string) string {
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	if mt := mimetype.Lookup(mime); mt != nil && mt.Extension() != "" {
		return mt.Extension()
	}
	if mt, err := mimetype.DetectFile(tmpPath); err == nil && mt.Extension() != "" {
		return mt.Extension()
	}
	return ".bin"
}

// counter serializes result increments from worker goroutines.
type counter struct {
	mu sync.Mutex
}

func (c *counter) add(n *int) {
	c.mu.Lock()
	*n++
	c.mu.Unlock()
}
