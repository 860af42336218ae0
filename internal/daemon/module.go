// Package daemon composes the client core: store, state, transport, API
// client, delivery pipeline and queue sweeper, wired through fx.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"chatcore/internal/api"
	"chatcore/internal/bus"
	"chatcore/internal/config"
	"chatcore/internal/lock"
	"chatcore/internal/logging"
	"chatcore/internal/message"
	"chatcore/internal/pipeline"
	"chatcore/internal/profile"
	"chatcore/internal/queue"
	"chatcore/internal/reconcile"
	"chatcore/internal/state"
	"chatcore/internal/store"
	"chatcore/internal/transport"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	ConfigPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideState,
			provideTransport,
			provideAPIClient,
			provideReconciler,
			provideOrchestrator,
			provideSweeper,
			provideRouter,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	return config.Load(path)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideState(b *bus.Bus, logger *zap.Logger) *state.Store {
	return state.NewStore(b, logger)
}

func provideTransport(cfg *config.Config, b *bus.Bus, logger *zap.Logger) transport.Transport {
	return transport.NewWSTransport(cfg.Transport.URL, b, logger)
}

func provideAPIClient(cfg *config.Config) api.Client {
	return api.NewRESTClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.Timeout.Std())
}

func provideReconciler(db *store.DB, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(db, logger)
}

func provideOrchestrator(db *store.DB, st *state.Store, client api.Client, tp transport.Transport,
	rec *reconcile.Reconciler, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(db, st, client, tp, rec, b, logger, pipeline.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Std(),
	})
}

func provideSweeper(db *store.DB, orch *pipeline.Orchestrator, cfg *config.Config, logger *zap.Logger) *queue.Sweeper {
	return queue.New(db, orch, queue.Config{
		SweepInterval: cfg.Queue.SweepInterval.Std(),
		MinRetryDelay: cfg.Queue.MinRetryDelay.Std(),
		MaxRetries:    cfg.Queue.MaxRetries,
	}, logger)
}

func provideRouter(db *store.DB, st *state.Store, rec *reconcile.Reconciler, sweeper *queue.Sweeper,
	b *bus.Bus, logger *zap.Logger) *pipeline.Router {
	return pipeline.NewRouter(db, st, rec, sweeper, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, db *store.DB, st *state.Store,
	tp transport.Transport, orch *pipeline.Orchestrator, sweeper *queue.Sweeper,
	router *pipeline.Router, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Seed state from the durable store so the cached view renders
			// before any network round trip.
			if err := bootstrapState(db, st, logger); err != nil {
				return err
			}

			// Start the event router before connecting so no inbound event
			// is dropped, then the queue sweep loop.
			router.Start()
			sweeper.Start()

			go func() {
				ctx := context.Background()
				if err := tp.Connect(ctx, cfg.Account.UserID, cfg.Account.Token); err != nil {
					logger.Error("transport connect failed, continuing offline", zap.Error(err))
				}
				if err := orch.RefreshChats(ctx); err != nil {
					logger.Warn("chat list refresh failed, serving cached view", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			router.Stop()
			sweeper.Stop()
			if err := tp.Close(); err != nil {
				logger.Warn("transport close failed", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("store close failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// bootstrapState loads the durable view into the in-memory state store.
func bootstrapState(db *store.DB, st *state.Store, logger *zap.Logger) error {
	chats, err := db.ListChats()
	if err != nil {
		return err
	}
	byChat := make(map[string][]message.Message, len(chats))
	for _, c := range chats {
		msgs, err := db.GetMessages(c.ID)
		if err != nil {
			logger.Warn("timeline load failed", zap.Error(err), zap.String("chat_id", c.ID))
			continue
		}
		byChat[c.ID] = msgs
	}
	st.Load(chats, byChat)
	logger.Info("state bootstrapped", zap.Int("chats", len(chats)))
	return nil
}
