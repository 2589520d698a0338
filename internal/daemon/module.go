package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/api"
	"github.com/matheus3301/casechat/internal/auth"
	"github.com/matheus3301/casechat/internal/bus"
	"github.com/matheus3301/casechat/internal/chat"
	"github.com/matheus3301/casechat/internal/config"
	"github.com/matheus3301/casechat/internal/gateway"
	"github.com/matheus3301/casechat/internal/instance"
	"github.com/matheus3301/casechat/internal/lock"
	"github.com/matheus3301/casechat/internal/logging"
	"github.com/matheus3301/casechat/internal/outbox"
	"github.com/matheus3301/casechat/internal/presence"
	"github.com/matheus3301/casechat/internal/relay"
	"github.com/matheus3301/casechat/internal/room"
	"github.com/matheus3301/casechat/internal/store"
)

// notifyChannelPrefix prefixes the per-recipient redis channel of the
// notification outbox.
const notifyChannelPrefix = "casechat:notify"

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	InstanceName string
	SocketPath   string // optional override for testing; empty = use default
	ListenAddr   string // optional override of config listen_addr
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
			provideTracker,
			provideSweeper,
			provideRegistry,
			provideRedis,
			provideRelay,
			provideChat,
			provideValidator,
			provideGateway,
			provideHTTPListener,
			provideNotifier,
			provideSender,
			provideAdminService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(instance.ConfigPath())
	if err != nil {
		return nil, err
	}
	if p.ListenAddr != "" {
		cfg.ListenAddr = p.ListenAddr
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(instance.LogPath(p.InstanceName), p.InstanceName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := instance.EnsureDir(p.InstanceName); err != nil {
		return nil, err
	}
	logger.Info("acquiring instance lock", zap.String("instance", p.InstanceName))
	l, err := lock.Acquire(instance.Dir(p.InstanceName))
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is only opened by its owner.
// db_path in config replaces the per-instance database.
func provideStore(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = instance.DBPath(p.InstanceName)
	}
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
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTracker(cfg *config.Config) *presence.Tracker {
	return presence.New(cfg.TypingTTL.Duration)
}

func provideSweeper(t *presence.Tracker, logger *zap.Logger) *presence.Sweeper {
	return presence.NewSweeper(t, logger.Named("presence"))
}

func provideRegistry(db *store.DB, b *bus.Bus, logger *zap.Logger) *room.Registry {
	return room.New(db, logger.Named("room"), b)
}

// provideRedis returns nil when no redis_addr is configured.
func provideRedis(cfg *config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
}

// provideRelay returns nil for single-process deployments. The relay is
// scoped to the store id, so only processes sharing the database exchange
// room events.
func provideRelay(cfg *config.Config, db *store.DB, rdb *redis.Client, rooms *room.Registry, b *bus.Bus, logger *zap.Logger) (*relay.Relay, error) {
	if rdb == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	storeID, err := db.StoreID(ctx)
	if err != nil {
		return nil, err
	}
	return relay.New(rdb, cfg.RedisChannel, storeID, uuid.NewString(), rooms, logger.Named("relay"), b), nil
}

func provideChat(db *store.DB, rooms *room.Registry, t *presence.Tracker, b *bus.Bus, logger *zap.Logger) *chat.Service {
	return chat.New(chat.Deps{
		Messages:    db,
		Cases:       db,
		Attachments: db,
		Outbox:      db,
		Rooms:       rooms,
		Typing:      t,
		Bus:         b,
		Logger:      logger.Named("chat"),
	})
}

func provideValidator(cfg *config.Config) (*auth.Validator, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt_secret is not configured (set it in config.toml or CASECHAT_JWT_SECRET)")
	}
	return auth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer)
}

func provideGateway(cfg *config.Config, v *auth.Validator, svc *chat.Service, rooms *room.Registry, b *bus.Bus, logger *zap.Logger) *gateway.Server {
	opts := gateway.DefaultOptions()
	opts.SendQueue = cfg.SendQueue
	return gateway.New(opts, v, svc, rooms, b, logger.Named("gateway"))
}

// provideHTTPListener binds the gateway address at construction so startup
// fails fast on a taken port.
func provideHTTPListener(cfg *config.Config) (net.Listener, error) {
	l, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	return l, nil
}

func provideNotifier(rdb *redis.Client, logger *zap.Logger) outbox.Notifier {
	if rdb != nil {
		return outbox.NewRedisNotifier(rdb, notifyChannelPrefix)
	}
	return outbox.LogNotifier{Logger: logger.Named("notify")}
}

func provideSender(cfg *config.Config, db *store.DB, n outbox.Notifier, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, n, b, cfg.OutboxInterval.Duration, logger.Named("outbox"))
}

func provideAdminService(p Params, db *store.DB, svc *chat.Service, rooms *room.Registry, gw *gateway.Server, v *auth.Validator, b *bus.Bus, logger *zap.Logger) *api.AdminService {
	return api.NewAdminService(api.Deps{
		Instance: p.InstanceName,
		Store:    db,
		Chat:     svc,
		Rooms:    rooms,
		Gateway:  gw,
		Issuer:   v,
		Bus:      b,
		Logger:   logger.Named("admin"),
	})
}

type lifecycleParams struct {
	fx.In

	Server   *Server
	Gateway  *gateway.Server
	Listener net.Listener
	Lock     *lock.Lock
	DB       *store.DB
	Sweeper  *presence.Sweeper
	Registry *room.Registry
	Relay    *relay.Relay
	Redis    *redis.Client
	Sender   *outbox.Sender
	Bus      *bus.Bus
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	logger := p.Logger
	var stopWatch func()

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if p.Relay != nil {
				if err := p.Relay.Start(ctx); err != nil {
					return err
				}
				p.Registry.SetRelay(p.Relay)
			}

			if err := p.Sweeper.Start(); err != nil {
				return err
			}

			stopWatch = watchConnections(p.Bus, logger)

			// Start gRPC server in background.
			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go func() {
				if err := p.Gateway.Serve(p.Listener); err != nil {
					logger.Error("gateway error", zap.Error(err))
				}
			}()

			// Start outbox sender.
			p.Sender.Start(context.Background())
			logger.Info("daemon started", zap.String("listen_addr", p.Listener.Addr().String()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := p.Gateway.Shutdown(ctx); err != nil {
				logger.Warn("gateway shutdown", zap.Error(err))
			}
			p.Sender.Stop()
			p.Sweeper.Stop()
			if p.Relay != nil {
				if err := p.Relay.Stop(); err != nil {
					logger.Warn("relay stop", zap.Error(err))
				}
			}
			if p.Redis != nil {
				_ = p.Redis.Close()
			}
			if stopWatch != nil {
				stopWatch()
			}
			p.Server.Stop(ctx)
			if err := p.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

// watchConnections logs connection state changes at debug level.
func watchConnections(b *bus.Bus, logger *zap.Logger) (stop func()) {
	ch, unsub := b.Subscribe("connection.", 256)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case evt := <-ch:
				logger.Debug("connection state", zap.Any("change", evt.Payload))
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		unsub()
	}
}
