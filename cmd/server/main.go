package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"

	"github.com/feralops/clowder/config"
	catrepo "github.com/feralops/clowder/internal/repositories/cat"
	editrecordrepo "github.com/feralops/clowder/internal/repositories/editrecord"
	personrepo "github.com/feralops/clowder/internal/repositories/person"
	placerepo "github.com/feralops/clowder/internal/repositories/place"
	requestrepo "github.com/feralops/clowder/internal/repositories/request"
	subrepo "github.com/feralops/clowder/internal/repositories/submission"
	"github.com/feralops/clowder/pkg/audit"
	"github.com/feralops/clowder/pkg/conversion"
	"github.com/feralops/clowder/pkg/database"
	"github.com/feralops/clowder/pkg/entitystore"
	"github.com/feralops/clowder/pkg/events"
	"github.com/feralops/clowder/pkg/intake"
	clowderkafka "github.com/feralops/clowder/pkg/kafka"
	"github.com/feralops/clowder/pkg/matching"
	"github.com/feralops/clowder/pkg/middleware"
	auditroutes "github.com/feralops/clowder/pkg/routes/audit"
	healthroutes "github.com/feralops/clowder/pkg/routes/health"
	personroutes "github.com/feralops/clowder/pkg/routes/person"
	placeroutes "github.com/feralops/clowder/pkg/routes/place"
	subroutes "github.com/feralops/clowder/pkg/routes/submission"
	"github.com/feralops/clowder/pkg/startup"
	"github.com/feralops/clowder/pkg/tracing"
	"github.com/feralops/clowder/pkg/tracing/exporters"
	"github.com/feralops/clowder/pkg/watchlist"
)

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	ctx := context.Background()

	if cfg.TracingEnabled {
		shutdown, err := setupTracing(ctx, cfg)
		if err != nil {
			logger.WithError(err).Error("failed to set up tracing, continuing without it")
		} else {
			defer shutdown(ctx)
		}
	}

	db, err := connectDatabase(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	producer := clowderkafka.NewProducer(clowderkafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaEventsTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	defer producer.Close()

	emitter := events.NewEmitter(producer, logger)

	people := personrepo.NewRepository(db, logger)
	places := placerepo.NewRepository(db, logger)
	submissions := subrepo.NewRepository(db, logger)
	requests := requestrepo.NewRepository(db, logger)
	cats := catrepo.NewRepository(db, logger)
	editRecords := editrecordrepo.NewRepository(db, logger)

	recorder := audit.NewService(logger, editRecords, cfg.HistoryDefaultLimit, cfg.HistoryMaxLimit)
	store := entitystore.NewService(logger, db, people, places, submissions, requests, cats, recorder, emitter)
	matcher := matching.NewMatcher(logger, people, places, store)
	watcher := watchlist.NewService(logger, db, places, recorder, emitter)
	converter := conversion.NewService(logger, db, submissions, requests, matcher, recorder, emitter, cfg.ResolveTimeout)
	intakeSvc := intake.NewService(logger, db, submissions, recorder)

	if err := registerDependencies(cfg, logger, db, people, places, submissions, requests, cats, editRecords, recorder, store, watcher, converter, intakeSvc); err != nil {
		logger.WithError(err).Error("failed to register dependencies")
		os.Exit(1)
	}

	e := newEcho(cfg, logger)

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&databaseDependency{cfg: cfg, logger: logger, db: db})
	if cfg.KafkaConsumerEnabled {
		consumer := clowderkafka.NewConsumer(cfg, logger, intakeSvc.HandleMessage)
		boot.AddDependency(&consumerDependency{consumer: consumer})
	}
	boot.AddDependency(&serverDependency{cfg: cfg, logger: logger, e: e})

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("startup failed")
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
	}
}

func newLogger(cfg config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		zapLogger = zap.NewNop()
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func setupTracing(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	exporterCfg := exporters.DefaultOTLPConfig()
	exporterCfg.Endpoint = cfg.OTLPEndpoint
	exporterCfg.Protocol = cfg.OTLPProtocol
	exporterCfg.Insecure = cfg.OTLPInsecure

	exporter, err := exporters.NewOTLPExporter(ctx, exporterCfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.AppName),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	tracing.SetTracer(provider.Tracer(cfg.AppName))

	return provider.Shutdown, nil
}

func connectDatabase(cfg config.Config, logger ectologger.Logger) (database.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
	)

	var db *sqlx.DB
	var err error
	for attempt := 0; attempt <= cfg.DatabaseReconnectRetryCount; attempt++ {
		db, err = sqlx.Connect(cfg.DatabaseDriver, dsn)
		if err == nil {
			break
		}
		logger.WithError(err).Warnf("database connection attempt %d failed", attempt+1)
		time.Sleep(time.Duration(attempt+1) * time.Second)
	}
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	return database.NewDatabaseInstance(db, logger), nil
}

func registerDependencies(
	cfg config.Config,
	logger ectologger.Logger,
	db database.DB,
	people *personrepo.Repository,
	places *placerepo.Repository,
	submissions *subrepo.Repository,
	requests *requestrepo.Repository,
	cats *catrepo.Repository,
	editRecords *editrecordrepo.Repository,
	recorder *audit.Service,
	store *entitystore.Service,
	watcher *watchlist.Service,
	converter *conversion.Service,
	intakeSvc *intake.Service,
) error {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return err
	}

	if err := ectoinject.RegisterInstance[config.Config](container, cfg); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[database.DB](container, db); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*personrepo.Repository](container, people); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*placerepo.Repository](container, places); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*subrepo.Repository](container, submissions); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*requestrepo.Repository](container, requests); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*catrepo.Repository](container, cats); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*editrecordrepo.Repository](container, editRecords); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*audit.Service](container, recorder); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*entitystore.Service](container, store); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*watchlist.Service](container, watcher); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*conversion.Service](container, converter); err != nil {
		return err
	}
	return ectoinject.RegisterInstance[*intake.Service](container, intakeSvc)
}

func newEcho(cfg config.Config, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	healthroutes.Register(e.Group("/health"))

	api := e.Group("/api/v1")
	subroutes.Register(api.Group("/submissions"))
	personroutes.Register(api.Group("/people"))
	placeroutes.Register(api.Group("/places"))
	auditroutes.Register(api)

	return e
}

type databaseDependency struct {
	cfg    config.Config
	logger ectologger.Logger
	db     database.DB
}

func (d *databaseDependency) GetName() string { return "database" }
func (d *databaseDependency) DependsOn() []string { return nil }

func (d *databaseDependency) Start(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return err
	}

	instance, ok := d.db.(*database.DatabaseInstance)
	if !ok {
		return nil
	}

	driver, err := migratepg.WithInstance(instance.DB.DB, &migratepg.Config{})
	if err != nil {
		return err
	}

	ms := database.NewMigrationService(d.logger, &database.MigrationConfig{
		MigrationFolderPath: d.cfg.DatabaseMigrationFolderPath,
		Version:             uint(d.cfg.DatabaseMigrationVersion),
	})
	return ms.Migrate(d.cfg.DatabaseName, driver)
}

func (d *databaseDependency) Stop(ctx context.Context) error { return nil }

type consumerDependency struct {
	consumer *clowderkafka.Consumer
}

func (d *consumerDependency) GetName() string { return "kafka-consumer" }
func (d *consumerDependency) DependsOn() []string { return []string{"database"} }

func (d *consumerDependency) Start(ctx context.Context) error {
	return d.consumer.Start(ctx)
}

func (d *consumerDependency) Stop(ctx context.Context) error {
	return d.consumer.Stop()
}

type serverDependency struct {
	cfg    config.Config
	logger ectologger.Logger
	e      *echo.Echo
}

func (d *serverDependency) GetName() string { return "http-server" }
func (d *serverDependency) DependsOn() []string { return []string{"database"} }

func (d *serverDependency) Start(ctx context.Context) error {
	go func() {
		addr := fmt.Sprintf(":%d", d.cfg.Port)
		d.logger.Infof("http server listening on %s", addr)
		if err := d.e.Start(addr); err != nil && err != http.ErrServerClosed {
			d.logger.WithError(err).Error("http server exited")
		}
	}()
	return nil
}

func (d *serverDependency) Stop(ctx context.Context) error {
	return d.e.Shutdown(ctx)
}
