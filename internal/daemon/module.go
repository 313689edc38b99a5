package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/zerohunger/zhchat/internal/api"
	"github.com/zerohunger/zhchat/internal/auth"
	"github.com/zerohunger/zhchat/internal/bus"
	"github.com/zerohunger/zhchat/internal/channel"
	"github.com/zerohunger/zhchat/internal/config"
	"github.com/zerohunger/zhchat/internal/conversation"
	"github.com/zerohunger/zhchat/internal/lock"
	"github.com/zerohunger/zhchat/internal/logging"
	"github.com/zerohunger/zhchat/internal/metrics"
	"github.com/zerohunger/zhchat/internal/session"
	"github.com/zerohunger/zhchat/internal/store"
	"github.com/zerohunger/zhchat/internal/transcript"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional override for testing; nil = load config.toml
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
			provideCredentials,
			provideRegistry,
			provideDialer,
			provideManager,
			provideConversationService,
			provideActiveConversation,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.LoadEffective(session.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is only opened by its owner.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
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

func provideCredentials(cfg *config.Config, logger *zap.Logger) (auth.Credentials, error) {
	creds, err := auth.NewCredentials(cfg.Username, cfg.Token, time.Now())
	if err != nil {
		return auth.Credentials{}, err
	}
	logger.Info("credentials loaded", zap.Stringer("credentials", creds))
	return creds, nil
}

func provideRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func provideDialer(cfg *config.Config, creds auth.Credentials, b *bus.Bus, logger *zap.Logger) conversation.Dialer {
	ccfg := channel.Config{
		ServerURL:         cfg.ServerURL,
		ReconnectInterval: cfg.ReconnectInterval.Duration,
	}
	return func(id string) (conversation.Transport, error) {
		c, err := channel.New(ccfg, id, creds, b, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func provideManager(cfg *config.Config, creds auth.Credentials, dial conversation.Dialer, db *store.DB, b *bus.Bus, logger *zap.Logger) *conversation.Manager {
	tcfg := transcript.Config{
		PageSize:      cfg.PageSize,
		InitialWindow: cfg.InitialWindow,
	}
	return conversation.NewManager(creds.Username, tcfg, dial, db, b, logger)
}

func provideConversationService(p Params, cfg *config.Config, mgr *conversation.Manager, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.ConversationService {
	info := api.ServiceInfo{Session: p.SessionName, ServerURL: cfg.ServerURL}
	return api.NewConversationService(info, mgr, db, b, logger)
}

// activeSource adapts the manager for the health endpoint.
type activeSource struct {
	mgr *conversation.Manager
}

func (a activeSource) Describe() (string, string, bool) {
	v, err := a.mgr.Active()
	if err != nil {
		return "", "", false
	}
	return v.ID(), string(v.ConnectionState()), true
}

func provideActiveConversation(mgr *conversation.Manager) ActiveConversation {
	return activeSource{mgr: mgr}
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, ms *MetricsServer, mgr *conversation.Manager, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if ms != nil {
				go func() {
					if err := ms.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server error", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mgr.Shutdown()
			srv.Stop(ctx)
			if ms != nil {
				if err := ms.Stop(ctx); err != nil {
					logger.Warn("error stopping metrics server", zap.Error(err))
				}
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
