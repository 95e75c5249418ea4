// Package sync walks chat history pages from the provider into the local
// archive. Each page is committed in one transaction together with its
// cursor advance, so an interrupted run resumes from the last committed
// page instead of refetching the whole chat.
package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wavault/wavault/internal/bus"
	"github.com/wavault/wavault/internal/greenapi"
	"github.com/wavault/wavault/internal/store"
)

// Fetcher is the provider side of the engine. *greenapi.Client implements it.
type Fetcher interface {
	FetchChatHistory(ctx context.Context, chatID, cursor string, pageSize int) (*greenapi.HistoryPage, error)
	GetChats(ctx context.Context) ([]greenapi.RawChat, error)
	GetContacts(ctx context.Context) ([]greenapi.RawContact, error)
}

// Options control a single-chat sync.
type Options struct {
	// Full walks the entire history instead of stopping at the first
	// already-archived message.
	Full bool
	// MaxMessages caps how many records are fetched for the chat. Zero
	// means the configured incremental lookback for incremental runs and
	// unlimited for full runs.
	MaxMessages int
	PageSize    int
	// StartDate / EndDate keep only messages inside the window. Paging
	// stops once a page falls entirely before StartDate.
	StartDate time.Time
	EndDate   time.Time
	// DownloadMedia enqueues media attachments of newly inserted messages.
	DownloadMedia bool
}

// AllOptions control a multi-chat sync run.
type AllOptions struct {
	Options
	// ActiveWindow limits incremental runs to chats with activity inside
	// the window. Zero means every known chat.
	ActiveWindow time.Duration
	// MaxChats caps how many chats one run touches. Zero means no cap.
	MaxChats int
	// RecentSyncWindow deprioritizes chats already synced this recently.
	RecentSyncWindow time.Duration
	// Discover asks the provider for its chat list before syncing, so new
	// chats appear in the archive without having been messaged since the
	// last run.
	Discover bool
}

// ChatResult is the outcome of syncing one chat.
type ChatResult struct {
	ChatID      string
	DisplayName string
	Fetched     int
	Inserted    int
	Skipped     int
	MediaQueued int
	Err         error
}

// Summary aggregates a multi-chat run.
type Summary struct {
	StartedAt   time.Time
	FinishedAt  time.Time
	ChatsSynced int
	ChatsFailed int
	NewMessages int
	MediaQueued int
	Results     []ChatResult
}

// Engine drives history ingestion against the store.
type Engine struct {
	db        *store.DB
	fetcher   Fetcher
	bus       *bus.Bus
	logger    *zap.Logger
	lookback  int
	chatDelay time.Duration
	pageSize  int
}

// Config carries the sync tunables resolved from configuration.
type Config struct {
	Lookback  int
	ChatDelay time.Duration
	PageSize  int
}

func NewEngine(db *store.DB, fetcher Fetcher, b *bus.Bus, logger *zap.Logger, cfg Config) *Engine {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 200
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = greenapi.MaxPageSize
	}
	return &Engine{
		db:        db,
		fetcher:   fetcher,
		bus:       b,
		logger:    logger.Named("sync"),
		lookback:  cfg.Lookback,
		chatDelay: cfg.ChatDelay,
		pageSize:  cfg.PageSize,
	}
}

// SyncChat walks history pages for one chat, newest first, until a stop
// condition holds: history start, the fetch cap, a previously archived
// message on an incremental run, or the recorded terminal cursor.
func (e *Engine) SyncChat(ctx context.Context, waChatID string, opts Options) ChatResult {
	res := ChatResult{ChatID: waChatID}

	chat, err := e.ensureChat(waChatID, "")
	if err != nil {
		res.Err = fmt.Errorf("ensure chat %s: %w", waChatID, err)
		return res
	}
	res.DisplayName = chat.DisplayName
	e.bus.Publish(bus.Event{Kind: "sync.chat_started", Payload: ChatProgress{ChatID: waChatID, DisplayName: chat.DisplayName}})

	st, err := e.db.GetSyncStatus(chat.ID)
	if err != nil {
		res.Err = fmt.Errorf("load sync status: %w", err)
		return res
	}

	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > greenapi.MaxPageSize {
		pageSize = e.pageSize
	}
	maxFetch := opts.MaxMessages
	if maxFetch == 0 && !opts.Full {
		maxFetch = e.lookback
	}

	cursor := ""
	terminal := ""
	if st != nil {
		terminal = st.TerminalCursor
		// Resume an interrupted full walk from the last committed page.
		if opts.Full && st.LastCursor != "" && st.TerminalCursor == "" {
			cursor = st.LastCursor
			e.logger.Info("resuming full sync",
				zap.String("chat_id", waChatID),
				zap.String("cursor", cursor))
		}
	}
	stopOnKnown := !opts.Full

	newestID := ""
	for {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		page, err := e.fetcher.FetchChatHistory(ctx, waChatID, cursor, pageSize)
		if err != nil {
			res.Err = fmt.Errorf("fetch history: %w", err)
			break
		}
		if len(page.Messages) == 0 {
			if err := e.db.SetTerminalCursor(chat.ID, cursor); err != nil {
				e.logger.Warn("record terminal cursor", zap.String("chat_id", waChatID), zap.Error(err))
			}
			break
		}
		res.Fetched += len(page.Messages)

		msgs, pastStart := e.parsePage(waChatID, page.Messages, opts)

		queued, pr, err := e.commitPage(ctx, chat, msgs, stopOnKnown, opts.DownloadMedia)
		if err != nil {
			res.Err = fmt.Errorf("commit page: %w", err)
			break
		}
		res.Inserted += len(pr.Inserted)
		res.Skipped += pr.Skipped
		res.MediaQueued += queued

		if newestID == "" && len(msgs) > 0 {
			newestID = msgs[0].WAMessageID
		}
		if err := e.db.AdvanceSyncStatus(chat.ID, newestID, page.NextCursor, len(pr.Inserted)); err != nil {
			res.Err = fmt.Errorf("advance cursor: %w", err)
			break
		}
		e.bus.Publish(bus.Event{Kind: "sync.page_committed", Payload: PageProgress{
			ChatID:   waChatID,
			Inserted: len(pr.Inserted),
			Skipped:  pr.Skipped,
			Total:    res.Inserted,
		}})

		if page.End {
			if err := e.db.SetTerminalCursor(chat.ID, page.NextCursor); err != nil {
				e.logger.Warn("record terminal cursor", zap.String("chat_id", waChatID), zap.Error(err))
			}
			break
		}
		if pr.HitKnown {
			e.logger.Debug("reached archived history", zap.String("chat_id", waChatID))
			break
		}
		if pastStart {
			break
		}
		if maxFetch > 0 && res.Fetched >= maxFetch {
			break
		}
		if terminal != "" && page.NextCursor == terminal {
			break
		}
		cursor = page.NextCursor
	}

	if res.Err != nil {
		if err := e.db.RecordSyncError(chat.ID, res.Err.Error()); err != nil {
			e.logger.Warn("record sync error", zap.String("chat_id", waChatID), zap.Error(err))
		}
		e.bus.Publish(bus.Event{Kind: "sync.chat_failed", Payload: ChatProgress{
			ChatID:      waChatID,
			DisplayName: chat.DisplayName,
			Error:       res.Err.Error(),
		}})
		return res
	}

	e.logger.Info("chat synced",
		zap.String("chat_id", waChatID),
		zap.Int("fetched", res.Fetched),
		zap.Int("inserted", res.Inserted),
		zap.Int("skipped", res.Skipped))
	return res
}

// SyncAll syncs the active chats in order of recency. A failing chat is
// recorded and skipped; it never aborts the run.
func (e *Engine) SyncAll(ctx context.Context, opts AllOptions) (*Summary, error) {
	sum := &Summary{StartedAt: time.Now()}

	if opts.Discover {
		if err := e.discoverChats(ctx); err != nil {
			e.logger.Warn("chat discovery failed, using archived chats", zap.Error(err))
		}
	}

	chats, err := e.pickChats(opts)
	if err != nil {
		return nil, err
	}

	for i, chat := range chats {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if i > 0 && e.chatDelay > 0 {
			select {
			case <-time.After(e.chatDelay):
			case <-ctx.Done():
				return sum, ctx.Err()
			}
		}

		res := e.SyncChat(ctx, chat.WhatsAppChatID, opts.Options)
		sum.Results = append(sum.Results, res)
		if res.Err != nil {
			if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
				sum.ChatsFailed++
				break
			}
			sum.ChatsFailed++
			e.logger.Error("chat sync failed",
				zap.String("chat_id", chat.WhatsAppChatID),
				zap.Error(res.Err))
			continue
		}
		sum.ChatsSynced++
		sum.NewMessages += res.Inserted
		sum.MediaQueued += res.MediaQueued
	}

	sum.FinishedAt = time.Now()
	e.bus.Publish(bus.Event{Kind: "sync.completed", Payload: *sum})
	return sum, nil
}

// pickChats orders candidate chats most-recently-active first, puts chats not
// synced within the recency window ahead of freshly synced ones, and applies
// the run cap.
func (e *Engine) pickChats(opts AllOptions) ([]store.Chat, error) {
	var activeSince int64
	if !opts.Full && opts.ActiveWindow > 0 {
		activeSince = time.Now().Add(-opts.ActiveWindow).UnixMilli()
	}
	chats, err := e.db.ListChats(activeSince, 0)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	if opts.RecentSyncWindow > 0 {
		since := time.Now().Add(-opts.RecentSyncWindow).UnixMilli()
		recent, err := e.db.ChatsSyncedSince(since)
		if err != nil {
			return nil, fmt.Errorf("load recent syncs: %w", err)
		}
		var stale, fresh []store.Chat
		for _, c := range chats {
			if recent[c.WhatsAppChatID] {
				fresh = append(fresh, c)
			} else {
				stale = append(stale, c)
			}
		}
		chats = append(stale, fresh...)
	}

	if opts.MaxChats > 0 && len(chats) > opts.MaxChats {
		chats = chats[:opts.MaxChats]
	}
	return chats, nil
}

// discoverChats ensures a chat row for every chat the provider reports, so a
// fresh archive has something to sync. The address book supplies names that
// getChats leaves blank for private chats.
func (e *Engine) discoverChats(ctx context.Context) error {
	names := make(map[string]string)
	contacts, err := e.fetcher.GetContacts(ctx)
	if err != nil {
		e.logger.Warn("contact listing failed, chats keep provider names", zap.Error(err))
	}
	for i := range contacts {
		if name := contacts[i].BestName(); name != "" {
			names[contacts[i].ID] = name
		}
	}

	raw, err := e.fetcher.GetChats(ctx)
	if err != nil {
		return err
	}
	for _, rc := range raw {
		if rc.ID == "" {
			continue
		}
		name := rc.Name
		if name == "" {
			name = names[rc.ID]
		}
		if _, err := e.ensureChat(rc.ID, name); err != nil {
			e.logger.Warn("register discovered chat",
				zap.String("chat_id", rc.ID), zap.Error(err))
		}
	}
	e.logger.Info("chat discovery finished", zap.Int("chats", len(raw)))
	return nil
}

// parsePage normalizes raw records, dropping malformed ones and those outside
// the date window. pastStart reports that paging has moved entirely before
// StartDate, so older pages cannot contain wanted messages.
func (e *Engine) parsePage(waChatID string, raw []greenapi.RawMessage, opts Options) (msgs []*greenapi.Message, pastStart bool) {
	var startMS, endMS int64
	if !opts.StartDate.IsZero() {
		startMS = opts.StartDate.UnixMilli()
	}
	if !opts.EndDate.IsZero() {
		endMS = opts.EndDate.UnixMilli()
	}

	for i := range raw {
		m, err := greenapi.Parse(&raw[i])
		if err != nil {
			// One malformed record must not fail the page.
			e.logger.Warn("skipping malformed record",
				zap.String("chat_id", waChatID),
				zap.String("message_id", raw[i].ID),
				zap.Error(err))
			continue
		}
		if endMS > 0 && m.Timestamp > endMS {
			continue
		}
		if startMS > 0 && m.Timestamp < startMS {
			continue
		}
		msgs = append(msgs, m)
	}

	// Pages arrive newest first. If the newest record of the page is older
	// than the window start, every following page is too.
	if startMS > 0 && len(raw) > 0 {
		if newest := normalizedTS(&raw[0]); newest > 0 && newest < startMS {
			pastStart = true
		}
	}
	return msgs, pastStart
}

func normalizedTS(raw *greenapi.RawMessage) int64 {
	if m, err := greenapi.Parse(raw); err == nil {
		return m.Timestamp
	}
	return 0
}

// commitPage resolves sender contacts, applies the page, and enqueues media
// for the inserted rows. Transient storage failures get one retry.
func (e *Engine) commitPage(ctx context.Context, chat *store.Chat, msgs []*greenapi.Message, stopOnKnown, downloadMedia bool) (mediaQueued int, pr *store.PageResult, err error) {
	rows := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		row := m.ToStoreMessage()
		if !m.Outgoing && m.SenderPhone != "" {
			contact, err := e.db.EnsureContact(m.SenderPhone, "", m.SenderName)
			if err != nil {
				return 0, nil, fmt.Errorf("ensure sender %s: %w", m.SenderPhone, err)
			}
			row.SenderContactID = toNullInt64(contact.ID)
			// Group senders double as membership records.
			if chat.GroupID.Valid {
				if err := e.db.AddGroupMember(chat.GroupID.Int64, contact.ID, "member"); err != nil {
					e.logger.Warn("record group member",
						zap.Int64("group_id", chat.GroupID.Int64), zap.Error(err))
				}
			}
		}
		rows = append(rows, row)
	}

	pr, err = e.db.ApplyPage(chat, rows, stopOnKnown)
	if err != nil {
		e.logger.Warn("page commit failed, retrying",
			zap.String("chat_id", chat.WhatsAppChatID), zap.Error(err))
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
		pr, err = e.db.ApplyPage(chat, rows, stopOnKnown)
		if err != nil {
			return 0, nil, err
		}
	}

	if downloadMedia {
		for _, ins := range pr.Inserted {
			if ins.MediaURL == "" {
				continue
			}
			created, err := e.db.EnqueueMedia(ins.ID, ins.MediaURL, ins.MediaFilename, ins.MediaMimeType)
			if err != nil {
				e.logger.Warn("enqueue media",
					zap.Int64("message_id", ins.ID), zap.Error(err))
				continue
			}
			if created {
				mediaQueued++
			}
		}
	}
	return mediaQueued, pr, nil
}

// ensureChat resolves a WhatsApp chat id to an archive chat row, creating the
// backing contact or group as needed.
func (e *Engine) ensureChat(waChatID, name string) (*store.Chat, error) {
	if greenapi.IsGroupChat(waChatID) {
		group, err := e.db.EnsureGroup(waChatID, name)
		if err != nil {
			return nil, err
		}
		return e.db.EnsureGroupChat(waChatID, group.ID)
	}
	phone := greenapi.PhoneFromChatID(waChatID)
	contact, err := e.db.EnsureContact(phone, waChatID, name)
	if err != nil {
		return nil, err
	}
	return e.db.EnsurePrivateChat(waChatID, contact.ID)
}

func toNullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}
