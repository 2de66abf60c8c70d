package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/platform/database"
	"github.com/Ramsey-B/fern/internal/platform/middleware"
	"github.com/Ramsey-B/fern/internal/platform/redis"
	"github.com/Ramsey-B/fern/internal/platform/startup"
	"github.com/Ramsey-B/fern/internal/platform/tracing"
	"github.com/Ramsey-B/fern/internal/platform/tracing/exporters"
	"github.com/Ramsey-B/fern/internal/repositories/contact"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	contactroutes "github.com/Ramsey-B/fern/pkg/routes/contact"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/identify"
	"github.com/Ramsey-B/fern/pkg/routes/root"
)

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

// app collects what the startup dependencies build.
type app struct {
	cfg     *config.Config
	logger  ectologger.Logger
	checker *health.Checker
	store   identity.Store
	locker  identity.KeyLocker
	hooks   []identity.Hook
	server  *echo.Echo
}

func newApp(cfg *config.Config, logger ectologger.Logger) *app {
	return &app{
		cfg:     cfg,
		logger:  logger,
		checker: health.NewChecker(cfg.Version),
	}
}

// serve runs the HTTP API until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	a := newApp(cfg, logger)

	s := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	s.AddDependency(a.tracingDependency())
	s.AddDependency(a.storeDependency())
	s.AddDependency(a.lockDependency())
	s.AddDependency(a.kafkaDependency())
	s.AddDependency(a.graphDependency())
	s.AddDependency(a.httpDependency())

	if err := s.Start(ctx); err != nil {
		a.stopAll(s)
		return err
	}
	a.checker.SetReady(true)
	logger.Infof("%s %s listening on %s", cfg.AppName, cfg.Version, cfg.HTTPAddr())

	<-ctx.Done()
	logger.Info("Shutting down")
	a.checker.SetReady(false)
	return a.stopAll(s)
}

// withService starts everything identify needs except the HTTP server, runs fn
// and stops it all again.
func withService(ctx context.Context, cfg *config.Config, logger ectologger.Logger, fn func(ctx context.Context, service *identity.Service) error) error {
	a := newApp(cfg, logger)

	s := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	s.AddDependency(a.storeDependency())
	s.AddDependency(a.lockDependency())
	s.AddDependency(a.kafkaDependency())
	s.AddDependency(a.graphDependency())

	if err := s.Start(ctx); err != nil {
		a.stopAll(s)
		return err
	}
	defer a.stopAll(s)

	service, err := a.newService()
	if err != nil {
		return err
	}
	return fn(ctx, service)
}

// migrateDatabase applies the migration folder and exits.
func migrateDatabase(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	if cfg.DatabaseDriver == "memory" {
		return errors.New("nothing to migrate with DB_DRIVER=memory")
	}
	db, err := newApp(cfg, logger).openDatabase(ctx)
	if err != nil {
		return err
	}
	return db.Close()
}

func (a *app) stopAll(s *startup.Startup) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.Stop(ctx)
}

func (a *app) tracingDependency() *startup.Dependency {
	var provider *tracing.Provider
	return &startup.Dependency{
		Name: "tracing",
		StartFunc: func(ctx context.Context) error {
			if !a.cfg.TracingEnabled {
				return nil
			}
			var err error
			provider, err = tracing.NewProvider(ctx, tracing.ProviderConfig{
				ServiceName:    a.cfg.AppName,
				ServiceVersion: a.cfg.Version,
				OTLP: exporters.OTLPConfig{
					Endpoint: a.cfg.OTLPEndpoint,
					Protocol: a.cfg.OTLPProtocol,
					Insecure: a.cfg.OTLPInsecure,
				},
			}, a.logger)
			return err
		},
		StopFunc: func(ctx context.Context) error {
			if provider == nil {
				return nil
			}
			return provider.Shutdown(ctx)
		},
	}
}

func (a *app) storeDependency() *startup.Dependency {
	var db database.DB
	return &startup.Dependency{
		Name: "database",
		StartFunc: func(ctx context.Context) error {
			if a.cfg.DatabaseDriver == "memory" {
				a.logger.Warn("Using in-memory contact store, contacts will not survive a restart")
				a.store = contact.NewMemoryStore(a.logger)
				return nil
			}

			var err error
			db, err = a.openDatabase(ctx)
			if err != nil {
				return err
			}

			a.store = contact.NewRepository(db, a.logger, a.cfg.DatabaseTxMaxRetries)
			a.checker.AddCheck("database", db.PingContext)
			return nil
		},
		StopFunc: func(_ context.Context) error {
			if db == nil {
				return nil
			}
			return db.Close()
		},
	}
}

// openDatabase connects to postgres and brings the schema up to date.
func (a *app) openDatabase(ctx context.Context) (database.DB, error) {
	db, err := database.Connect(ctx, a.cfg.DSN(), database.PoolConfig{
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.MigratePostgres(db.SQL(), a.cfg.DatabaseName); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *app) lockDependency() *startup.Dependency {
	var client *redis.Client
	return &startup.Dependency{
		Name: "redis",
		StartFunc: func(ctx context.Context) error {
			if a.cfg.LockBackend != "redis" {
				return nil
			}
			var err error
			client, err = redis.NewClient(ctx, redis.Config{
				Host:     a.cfg.RedisHost,
				Port:     a.cfg.RedisPort,
				Password: a.cfg.RedisPassword,
				DB:       a.cfg.RedisDB,
			}, a.logger)
			if err != nil {
				return err
			}
			a.locker = identifierLocker{
				locker: redis.NewLocker(client, "fern:identify:", a.cfg.LockTTL, a.cfg.LockWaitTimeout),
			}
			a.checker.AddCheck("redis", client.Ping)
			return nil
		},
		StopFunc: func(_ context.Context) error {
			if client == nil {
				return nil
			}
			return client.Close()
		},
	}
}

func (a *app) kafkaDependency() *startup.Dependency {
	var producer *kafka.Producer
	return &startup.Dependency{
		Name: "kafka",
		StartFunc: func(_ context.Context) error {
			if !a.cfg.KafkaEnabled || producer != nil {
				return nil
			}
			producer = kafka.NewProducer(kafka.ProducerConfig{
				Brokers:      a.cfg.KafkaBrokers,
				Topic:        a.cfg.KafkaOutputTopic,
				BatchSize:    a.cfg.KafkaBatchSize,
				BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond,
				RequiredAcks: a.cfg.KafkaRequiredAcks,
				Compression:  a.cfg.KafkaCompression,
			}, a.logger)
			a.hooks = append(a.hooks, events.NewEmitter(producer, a.logger))
			return nil
		},
		StopFunc: func(_ context.Context) error {
			if producer == nil {
				return nil
			}
			return producer.Close()
		},
	}
}

func (a *app) graphDependency() *startup.Dependency {
	var client *graph.Client
	return &startup.Dependency{
		Name: "graph",
		StartFunc: func(ctx context.Context) error {
			if !a.cfg.GraphEnabled {
				return nil
			}
			var err error
			client, err = graph.NewClient(graph.Config{
				Host:     a.cfg.GraphDBHost,
				Port:     a.cfg.GraphDBPort,
				Username: a.cfg.GraphDBUser,
				Password: a.cfg.GraphDBPassword,
			}, a.logger)
			if err != nil {
				return err
			}
			if err := client.VerifyConnectivity(ctx); err != nil {
				client.Close(ctx)
				client = nil
				return fmt.Errorf("graph database unreachable: %w", err)
			}
			a.hooks = append(a.hooks, graph.NewClusterMirror(client, a.logger))
			a.checker.AddCheck("graph", client.VerifyConnectivity)
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			if client == nil {
				return nil
			}
			return client.Close(ctx)
		},
	}
}

func (a *app) httpDependency() *startup.Dependency {
	return &startup.Dependency{
		Name:     "http",
		Requires: []string{"tracing", "database", "redis", "kafka", "graph"},
		StartFunc: func(_ context.Context) error {
			service, err := a.newService()
			if err != nil {
				return err
			}
			a.server = a.newServer(service)

			go func() {
				if err := a.server.Start(a.cfg.HTTPAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.WithError(err).Error("HTTP server stopped unexpectedly")
				}
			}()
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			if a.server == nil {
				return nil
			}
			return a.server.Shutdown(ctx)
		},
	}
}

func (a *app) newService() (*identity.Service, error) {
	emailChain, err := normalizers.NewChain(a.cfg.EmailNormalizers...)
	if err != nil {
		return nil, fmt.Errorf("invalid EMAIL_NORMALIZERS: %w", err)
	}
	phoneChain, err := normalizers.NewChain(a.cfg.PhoneNormalizers...)
	if err != nil {
		return nil, fmt.Errorf("invalid PHONE_NORMALIZERS: %w", err)
	}

	opts := []identity.Option{
		identity.WithNormalizers(emailChain, phoneChain),
		identity.WithHooks(a.hooks...),
	}
	if a.locker != nil {
		opts = append(opts, identity.WithLocker(a.locker))
	}
	return identity.NewService(a.store, a.logger, opts...), nil
}

func (a *app) newServer(service *identity.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Server.ReadTimeout = time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = a.cfg.MaxHeaderBytes

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))

	root.RegisterRoutes(e, a.cfg.AppName, a.cfg.Version)
	a.checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	identify.NewHandler(service, a.logger).RegisterRoutes(api)
	contactroutes.NewHandler(service).RegisterRoutes(api)

	return e
}

type keyLocker interface {
	LockKeys(ctx context.Context, keys []string) (func(context.Context), error)
}

// identifierLocker reports a lock that stayed held past the wait timeout as a
// conflict so callers can retry the request.
type identifierLocker struct {
	locker keyLocker
}

func (l identifierLocker) LockKeys(ctx context.Context, keys []string) (func(context.Context), error) {
	release, err := l.locker.LockKeys(ctx, keys)
	if errors.Is(err, redis.ErrLockNotAcquired) {
		return nil, fmt.Errorf("%w: %w", identity.ErrConflict, err)
	}
	return release, err
}
