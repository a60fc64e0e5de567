package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	authsync "github.com/goliatone/go-auth-sync"
	"github.com/goliatone/go-auth-sync/activitymap"
	logrusadapter "github.com/goliatone/go-auth-sync/adapters/logrus"
	"github.com/goliatone/go-auth-sync/config"
	"github.com/goliatone/go-auth-sync/httpapi"
	"github.com/goliatone/go-auth-sync/metrics"
	"github.com/goliatone/go-auth-sync/middleware/jwtware"
	"github.com/goliatone/go-auth-sync/notification"
	"github.com/goliatone/go-auth-sync/notification/redislive"
	notifications "github.com/goliatone/go-auth-sync/notification/repository"
	"github.com/goliatone/go-auth-sync/provider/jwtsession"
	"github.com/goliatone/go-auth-sync/repository"
	"github.com/goliatone/go-print"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	base := logrusadapter.New(cfg.AppName, cfg.Env, cfg.LogLevel, os.Stdout)
	provider := logrusadapter.NewProvider(base)
	logger := provider.GetLogger("authsyncd")

	if !cfg.IsProduction() {
		fmt.Println("============")
		fmt.Println(print.MaybePrettyJSON(cfg))
		fmt.Println("============")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DBDSN)
	if err != nil {
		return err
	}
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	defer db.Close()

	var (
		live      notification.LiveSource
		publisher notifications.Publisher
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}

		source := redislive.New(rdb,
			redislive.WithPrefix(cfg.RedisPrefix),
			redislive.WithLogger(provider.GetLogger("notification.redis")),
		)
		defer source.Close()
		live, publisher = source, source
	} else {
		hub := notifications.NewHub(provider.GetLogger("notification.hub"))
		live, publisher = hub, hub
	}

	repo := repository.NewManager(db,
		notifications.WithPublisher(publisher),
		notifications.WithStoreLogger(provider.GetLogger("notification.repository")),
	)
	repo.MustValidate()
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.New(cfg.MetricsNamespace)
	if err := collector.Register(registry); err != nil {
		return err
	}
	registry.MustRegister(collectors.NewGoCollector())

	var audience []string
	if cfg.JWTAudience != "" {
		audience = []string{cfg.JWTAudience}
	}
	sessions := jwtsession.New([]byte(cfg.JWTSecret),
		jwtsession.WithIssuer(cfg.JWTIssuer),
		jwtsession.WithAudience(audience...),
		jwtsession.WithTTL(cfg.AccessTTL),
		jwtsession.WithLogger(provider.GetLogger("jwtsession")),
	)

	activity := authsync.MultiActivitySink(
		collector,
		activitymap.LogSink(provider.GetLogger("authsync.activity")),
	)

	engine := authsync.NewEngine(sessions, repo.Profiles(),
		authsync.WithMaxRetries(cfg.MaxRetries),
		authsync.WithRetryStep(cfg.RetryStep),
		authsync.WithCallTimeout(cfg.CallTimeout),
		authsync.WithEngineActivitySink(activity),
		authsync.WithEngineLoggerProvider(provider),
	)

	feed := notification.NewFeed(repo.Notifications(), live,
		notification.WithLimit(cfg.NotificationLimit),
		notification.WithLoggerProvider(provider),
	)
	defer feed.Close()

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	bound := authsync.BindFeed(ctx, engine, feed, provider.GetLogger("authsync.feed_binding"))
	if cfg.MetricsEnabled {
		collector.Follow(ctx, engine, feed)
	}

	profiles := authsync.NewUpdateProfileHandler(engine, repo.Profiles(),
		authsync.WithProfileLogger(provider.GetLogger("authsync.profile")),
		authsync.WithProfileActivitySink(activity),
		authsync.WithProfileRegion(cfg.PhoneRegion),
	)

	controllerOpts := []httpapi.Option{
		httpapi.WithTokenAcceptor(sessions),
		httpapi.WithProfileUpdater(profiles),
		httpapi.WithFeed(feed),
		httpapi.WithPublisher(repo.Notifications()),
		httpapi.WithLogger(provider.GetLogger("httpapi")),
	}
	if len(cfg.ProducerSubjects) > 0 {
		controllerOpts = append(controllerOpts, httpapi.WithPublishGuard(jwtware.New(jwtware.Config{
			TokenValidator:  sessions,
			AllowedSubjects: cfg.ProducerSubjects,
		})))
	} else {
		logger.Warn("producer route is not guarded, set NOTIFICATION_PRODUCERS")
	}
	controller := httpapi.NewController(engine, controllerOpts...)

	var app *fiber.App
	srv := httpapi.NewServer(controller, func(a *fiber.App) {
		app = a
		if cfg.MetricsEnabled {
			a.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(registry)))
		}
	})
	srv.Router().WithLogger(provider.GetLogger("router"))

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		errc <- srv.Serve(":" + cfg.Port)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	engine.Stop()
	<-bound
	return nil
}
