// Package app assembles the runtime object graph with fx. The CLI supplies a
// profile name, populates the components it needs, and runs one command
// against them.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wavault/wavault/internal/bus"
	"github.com/wavault/wavault/internal/config"
	"github.com/wavault/wavault/internal/export"
	"github.com/wavault/wavault/internal/greenapi"
	"github.com/wavault/wavault/internal/lock"
	"github.com/wavault/wavault/internal/logging"
	"github.com/wavault/wavault/internal/media"
	"github.com/wavault/wavault/internal/outbox"
	"github.com/wavault/wavault/internal/profile"
	"github.com/wavault/wavault/internal/status"
	"github.com/wavault/wavault/internal/store"
	"github.com/wavault/wavault/internal/sync"
)

// ProfileInfo names the profile the graph is bound to.
type ProfileInfo struct {
	Name string
}

// New builds the application graph for a profile. Callers append fx.Populate
// options to extract the components their command needs, then Start/Stop the
// returned app around the command body.
func New(profileName string, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.NopLogger,
		fx.Supply(ProfileInfo{Name: profileName}),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMachine,
			provideStore,
			provideClient,
			provideEngine,
			provideMediaManager,
			provideSender,
			provideExporter,
		),
	}
	opts = append(opts, extra...)
	return fx.New(opts...)
}

func provideConfig() (*config.Config, error) {
	return config.Load(profile.ConfigPath())
}

func provideLogger(lc fx.Lifecycle, p ProfileInfo) (*zap.Logger, error) {
	if err := profile.EnsureDirs(p.Name); err != nil {
		return nil, fmt.Errorf("prepare profile %s: %w", p.Name, err)
	}
	logger, err := logging.New(profile.LogPath(p.Name), p.Name)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})
	return logger, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

// provideStore acquires the profile lock, opens the archive, and runs
// pending migrations. The lock outlives the store and is released last.
func provideStore(lc fx.Lifecycle, p ProfileInfo, logger *zap.Logger) (*store.DB, error) {
	lk, err := lock.Acquire(profile.Dir(p.Name))
	if err != nil {
		return nil, err
	}

	db, err := store.Open(profile.DBPath(p.Name))
	if err != nil {
		_ = lk.Release()
		return nil, fmt.Errorf("open archive: %w", err)
	}

	res, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	if res.Changed {
		logger.Info("archive migrated", zap.Uint("version", res.Version))
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			err := db.Close()
			if rerr := lk.Release(); err == nil {
				err = rerr
			}
			return err
		},
	})
	return db, nil
}

func provideClient(cfg *config.Config, logger *zap.Logger) *greenapi.Client {
	return greenapi.New(greenapi.Config{
		InstanceID:         cfg.API.InstanceID,
		Token:              cfg.API.Token,
		BaseURL:            cfg.API.BaseURL,
		MediaURL:           cfg.API.MediaURL,
		MaxRetries:         cfg.API.MaxRetries,
		BackoffBase:        cfg.API.BackoffBase.Duration,
		MinRequestInterval: cfg.API.MinRequestInterval.Duration,
		RequestTimeout:     cfg.API.RequestTimeout.Duration,
		DownloadTimeout:    cfg.Media.DownloadTimeout.Duration,
	}, logger.Named("greenapi"))
}

func provideEngine(db *store.DB, client *greenapi.Client, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *sync.Engine {
	return sync.NewEngine(db, client, b, logger, sync.Config{
		Lookback:  cfg.Sync.Lookback,
		ChatDelay: cfg.Sync.ChatDelay.Duration,
		PageSize:  cfg.API.PageSize,
	})
}

func provideMediaManager(db *store.DB, client *greenapi.Client, b *bus.Bus, logger *zap.Logger, cfg *config.Config, p ProfileInfo) *media.Manager {
	return media.NewManager(db, client, b, logger, media.Config{
		Root:        profile.MediaDir(p.Name),
		Workers:     cfg.Media.Workers,
		MaxAttempts: cfg.Media.MaxAttempts,
	})
}

func provideSender(db *store.DB, client *greenapi.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, b, logger)
}

func provideExporter(db *store.DB, logger *zap.Logger, cfg *config.Config) *export.Exporter {
	return export.New(db, logger, cfg.API.InstanceID)
}

// StartTimeout bounds graph startup; profile locking and migrations are
// local operations and should finish quickly.
const StartTimeout = 15 * time.Second
