// Command wavault archives WhatsApp chat history through the Green API into
// a local SQLite database, with media download, search, and JSON export.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/wavault/wavault/internal/app"
	"github.com/wavault/wavault/internal/bus"
	"github.com/wavault/wavault/internal/config"
	"github.com/wavault/wavault/internal/export"
	"github.com/wavault/wavault/internal/greenapi"
	"github.com/wavault/wavault/internal/media"
	"github.com/wavault/wavault/internal/outbox"
	"github.com/wavault/wavault/internal/profile"
	"github.com/wavault/wavault/internal/status"
	"github.com/wavault/wavault/internal/store"
	"github.com/wavault/wavault/internal/sync"
)

const dateLayout = "2006-01-02"

// recentSyncWindow deprioritizes chats synced this recently during
// incremental multi-chat runs.
const recentSyncWindow = 12 * time.Hour

func main() {
	cliApp := &cli.App{
		Name:  "wavault",
		Usage: "archive WhatsApp chat history locally",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "profile",
				Aliases: []string{"p"},
				Usage:   "profile to operate on",
			},
		},
		Commands: []*cli.Command{
			syncCommand(),
			exportCommand(),
			searchCommand(),
			sendCommand(),
			statusCommand(),
			maintenanceCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runtime is the set of components commands pull out of the graph.
type runtime struct {
	fx.In

	Config   *config.Config
	DB       *store.DB
	Client   *greenapi.Client
	Engine   *sync.Engine
	Media    *media.Manager
	Outbox   *outbox.Sender
	Exporter *export.Exporter
	Machine  *status.Machine
	Bus      *bus.Bus
}

// withRuntime resolves the profile, builds the graph, and runs fn inside a
// signal-aware context. The graph is torn down (archive closed, profile lock
// released) before the error is returned.
func withRuntime(c *cli.Context, fn func(ctx context.Context, rt runtime) error) error {
	name := profile.Resolve(c.String("profile"))
	if err := profile.ValidateName(name); err != nil {
		return err
	}

	var rt runtime
	fxApp := app.New(name, fx.Populate(&rt))

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	runErr := fn(ctx, rt)
	stop()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StartTimeout)
	defer cancelStop()
	if err := fxApp.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "fetch new chat history into the archive",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "chat-id", Usage: "sync only these chats (repeatable)"},
			&cli.BoolFlag{Name: "full", Usage: "walk entire history instead of the incremental lookback"},
			&cli.IntFlag{Name: "max-messages", Usage: "cap fetched messages per chat"},
			&cli.StringFlag{Name: "start-date", Usage: "keep messages on or after this date (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "end-date", Usage: "keep messages on or before this date (YYYY-MM-DD)"},
			&cli.BoolFlag{Name: "download-media", Usage: "download attachments after syncing"},
			&cli.BoolFlag{Name: "status", Usage: "show status instead of syncing"},
			&cli.BoolFlag{Name: "maintenance", Usage: "run maintenance instead of syncing"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("status") {
				return withRuntime(c, runStatus)
			}
			if c.Bool("maintenance") {
				return withRuntime(c, func(ctx context.Context, rt runtime) error {
					return runMaintenance(ctx, rt, 30*24*time.Hour)
				})
			}
			opts, err := syncOptions(c)
			if err != nil {
				return err
			}
			return withRuntime(c, func(ctx context.Context, rt runtime) error {
				if err := rt.Config.ValidateCredentials(); err != nil {
					return err
				}
				unwatch := watchProgress(rt.Bus)
				defer unwatch()

				if err := rt.Machine.Transition(status.Syncing); err != nil {
					return err
				}

				var failed int
				if ids := c.StringSlice("chat-id"); len(ids) > 0 {
					for _, id := range ids {
						res := rt.Engine.SyncChat(ctx, id, opts)
						printChatResult(res)
						if res.Err != nil {
							failed++
						}
					}
				} else {
					sum, err := rt.Engine.SyncAll(ctx, syncAllOptions(rt.Config, opts))
					if err != nil {
						_ = rt.Machine.Transition(status.Failed)
						return err
					}
					printSummary(sum)
					failed = sum.ChatsFailed
				}

				if c.Bool("download-media") {
					if err := rt.Machine.Transition(status.DownloadingMedia); err != nil {
						return err
					}
					res, err := rt.Media.ProcessQueue(ctx)
					if err != nil {
						_ = rt.Machine.Transition(status.Failed)
						return err
					}
					fmt.Printf("media: %d downloaded, %d deduplicated, %d failed\n",
						res.Completed, res.Deduped, res.Failed)
				}

				if failed > 0 {
					_ = rt.Machine.Transition(status.Failed)
					return fmt.Errorf("%d chat(s) failed to sync", failed)
				}
				return rt.Machine.Transition(status.Done)
			})
		},
	}
}

func syncOptions(c *cli.Context) (sync.Options, error) {
	opts := sync.Options{
		Full:          c.Bool("full"),
		MaxMessages:   c.Int("max-messages"),
		DownloadMedia: c.Bool("download-media"),
	}
	var err error
	if opts.StartDate, err = parseDate(c.String("start-date"), false); err != nil {
		return opts, err
	}
	if opts.EndDate, err = parseDate(c.String("end-date"), true); err != nil {
		return opts, err
	}
	return opts, nil
}

func syncAllOptions(cfg *config.Config, opts sync.Options) sync.AllOptions {
	all := sync.AllOptions{
		Options:          opts,
		RecentSyncWindow: recentSyncWindow,
		Discover:         true,
	}
	if cfg.Sync.ActiveWindowDays > 0 {
		all.ActiveWindow = time.Duration(cfg.Sync.ActiveWindowDays) * 24 * time.Hour
	}
	if !opts.Full {
		all.MaxChats = cfg.Sync.MaxChats
	}
	return all
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write archived history to a JSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "chat-id", Usage: "export one chat instead of the whole archive"},
			&cli.StringFlag{Name: "json", Usage: "output file path", Required: true},
			&cli.StringFlag{Name: "start-date", Usage: "export messages on or after this date (YYYY-MM-DD)"},
			&cli.StringFlag{Name: "end-date", Usage: "export messages on or before this date (YYYY-MM-DD)"},
		},
		Action: func(c *cli.Context) error {
			start, err := parseDate(c.String("start-date"), false)
			if err != nil {
				return err
			}
			end, err := parseDate(c.String("end-date"), true)
			if err != nil {
				return err
			}
			var startTS, endTS int64
			if !start.IsZero() {
				startTS = start.UnixMilli()
			}
			if !end.IsZero() {
				endTS = end.UnixMilli()
			}

			return withRuntime(c, func(ctx context.Context, rt runtime) error {
				if err := rt.Machine.Transition(status.Exporting); err != nil {
					return err
				}
				path := c.String("json")
				var n int
				if chatID := c.String("chat-id"); chatID != "" {
					n, err = rt.Exporter.ExportChat(chatID, path, startTS, endTS)
				} else {
					n, err = rt.Exporter.ExportAll(path, startTS, endTS)
				}
				if err != nil {
					_ = rt.Machine.Transition(status.Failed)
					return err
				}
				fmt.Printf("exported %d messages to %s\n", n, path)
				return rt.Machine.Transition(status.Done)
			})
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "full-text search over archived messages",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "chat-id", Usage: "restrict to one chat"},
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: func(c *cli.Context) error {
			query := c.Args().First()
			if query == "" {
				return fmt.Errorf("search needs a query argument")
			}
			return withRuntime(c, func(ctx context.Context, rt runtime) error {
				var chatRowID int64
				if waID := c.String("chat-id"); waID != "" {
					chat, err := rt.DB.GetChat(waID)
					if err != nil {
						return fmt.Errorf("resolve chat %s: %w", waID, err)
					}
					if chat == nil {
						return fmt.Errorf("chat %s is not in the archive", waID)
					}
					chatRowID = chat.ID
				}
				results, err := rt.DB.SearchMessages(query, chatRowID, c.Int("limit"))
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Println("no matches")
					return nil
				}
				for _, r := range results {
					ts := time.UnixMilli(r.Message.Timestamp).Format("2006-01-02 15:04")
					sender := r.Message.SenderName
					if r.Message.Outgoing {
						sender = "me"
					} else if sender == "" {
						sender = r.Message.SenderPhone
					}
					fmt.Printf("[%s] %s: %s\n", ts, sender, r.Snippet)
				}
				return nil
			})
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "send a text message through the provider",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "chat-id", Required: true},
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			return withRuntime(c, func(ctx context.Context, rt runtime) error {
				if err := rt.Config.ValidateCredentials(); err != nil {
					return err
				}
				if err := rt.Machine.Transition(status.Sending); err != nil {
					return err
				}
				clientID, err := rt.Outbox.Queue(c.String("chat-id"), c.String("message"))
				if err != nil {
					_ = rt.Machine.Transition(status.Failed)
					return err
				}
				sent, failed, err := rt.Outbox.Drain(ctx)
				if err != nil {
					_ = rt.Machine.Transition(status.Failed)
					return err
				}
				if failed > 0 {
					_ = rt.Machine.Transition(status.Failed)
					return fmt.Errorf("message %s not delivered", clientID)
				}
				fmt.Printf("sent %d message(s)\n", sent)
				return rt.Machine.Transition(status.Done)
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "show archive and instance status",
		Action: func(c *cli.Context) error { return withRuntime(c, runStatus) },
	}
}

func runStatus(ctx context.Context, rt runtime) error {
	state := "not configured"
	if rt.Config.ValidateCredentials() == nil {
		var err error
		if state, err = rt.Client.GetStateInstance(ctx); err != nil {
			state = fmt.Sprintf("unreachable (%v)", err)
		}
	}
	fmt.Printf("instance state: %s\n", state)

	counts, err := rt.DB.TableCounts()
	if err != nil {
		return err
	}
	for _, table := range []string{"contacts", "groups", "chats", "messages"} {
		fmt.Printf("%-10s %d\n", table, counts[table])
	}

	rollup, err := rt.DB.GetSyncRollup()
	if err != nil {
		return err
	}
	fmt.Printf("sync: %d chats tracked, %d complete, %d failing, %d messages total\n",
		rollup.ChatsTracked, rollup.ChatsComplete, rollup.ChatsFailing, rollup.TotalSynced)
	if rollup.LastSyncAt > 0 {
		fmt.Printf("last sync: %s\n", time.UnixMilli(rollup.LastSyncAt).Format(time.RFC3339))
	}

	mediaCounts, err := rt.DB.MediaQueueCounts()
	if err != nil {
		return err
	}
	fmt.Printf("media queue: %d pending, %d completed, %d failed\n",
		mediaCounts[store.MediaPending], mediaCounts[store.MediaCompleted], mediaCounts[store.MediaFailed])

	if top, err := rt.DB.CountsByContact(5); err == nil && len(top) > 0 {
		fmt.Println("top senders:")
		for _, tc := range top {
			fmt.Printf("  %s: %d\n", displayOrID(tc.Name, tc.Phone), tc.Count)
		}
	}
	if days, err := rt.DB.CountsByDate(0); err == nil && len(days) > 0 {
		busiest := days[0]
		for _, d := range days[1:] {
			if d.Count > busiest.Count {
				busiest = d
			}
		}
		fmt.Printf("busiest day: %s (%d messages)\n", busiest.Date, busiest.Count)
	}

	if size, err := rt.DB.FileSize(); err == nil {
		fmt.Printf("archive size: %.1f MiB\n", float64(size)/(1<<20))
	}
	return nil
}

func maintenanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "maintenance",
		Usage: "prune delivered outbox entries and compact the archive",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "outbox-retention", Value: 30 * 24 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			retention := c.Duration("outbox-retention")
			return withRuntime(c, func(ctx context.Context, rt runtime) error {
				return runMaintenance(ctx, rt, retention)
			})
		},
	}
}

func runMaintenance(ctx context.Context, rt runtime, outboxRetention time.Duration) error {
	if err := rt.Machine.Transition(status.Maintenance); err != nil {
		return err
	}
	cutoff := time.Now().Add(-outboxRetention).UnixMilli()
	pruned, err := rt.DB.PruneSentOutbox(cutoff)
	if err != nil {
		_ = rt.Machine.Transition(status.Failed)
		return err
	}
	expired, err := rt.DB.ExpireStalledOutbox()
	if err != nil {
		_ = rt.Machine.Transition(status.Failed)
		return err
	}
	if expired > 0 {
		fmt.Printf("%d outbox entries stuck mid-send marked failed (delivery unknown, not resent)\n", expired)
	}
	stale, err := rt.Media.CleanupTemp()
	if err != nil {
		_ = rt.Machine.Transition(status.Failed)
		return err
	}
	if err := rt.DB.Vacuum(); err != nil {
		_ = rt.Machine.Transition(status.Failed)
		return err
	}
	fmt.Printf("pruned %d outbox entries, removed %d stale temp files, archive compacted\n", pruned, stale)
	return rt.Machine.Transition(status.Done)
}

// watchProgress prints sync and media events as they happen. Returns an
// unsubscribe function.
func watchProgress(b *bus.Bus) func() {
	ch, unsub := b.Subscribe("", 256)
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case evt := <-ch:
				printEvent(evt)
			case <-quit:
				// Drain whatever is already buffered before stopping.
				for {
					select {
					case evt := <-ch:
						printEvent(evt)
					default:
						return
					}
				}
			}
		}
	}()
	return func() {
		unsub()
		close(quit)
		<-done
	}
}

func printEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case sync.ChatProgress:
		if evt.Kind == "sync.chat_failed" {
			fmt.Printf("  %s: failed: %s\n", displayOrID(p.DisplayName, p.ChatID), p.Error)
		} else {
			fmt.Printf("syncing %s\n", displayOrID(p.DisplayName, p.ChatID))
		}
	case sync.PageProgress:
		fmt.Printf("  %s: +%d new (%d total)\n", p.ChatID, p.Inserted, p.Total)
	case media.TaskEvent:
		if evt.Kind == "media.task_failed" {
			fmt.Printf("  media task %d failed: %s\n", p.TaskID, p.Error)
		}
	}
}

func displayOrID(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

func printChatResult(res sync.ChatResult) {
	if res.Err != nil {
		return
	}
	fmt.Printf("%s: %d new, %d already archived\n",
		displayOrID(res.DisplayName, res.ChatID), res.Inserted, res.Skipped)
}

func printSummary(sum *sync.Summary) {
	fmt.Printf("synced %d chat(s) in %s: %d new messages",
		sum.ChatsSynced, sum.FinishedAt.Sub(sum.StartedAt).Round(time.Second), sum.NewMessages)
	if sum.MediaQueued > 0 {
		fmt.Printf(", %d media queued", sum.MediaQueued)
	}
	if sum.ChatsFailed > 0 {
		fmt.Printf(", %d failed", sum.ChatsFailed)
	}
	fmt.Println()
}

// parseDate parses YYYY-MM-DD. End dates snap to the last instant of the day
// so the bound is inclusive.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}
