// Package app wires configuration, storage, messaging and the pool
// services into one bundle shared by the server, reaper and CLI binaries.
package app

import (
    "context"
    "database/sql"
    "fmt"
    "log"

    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/vcpool/internal/config"
    "github.com/iliyamo/vcpool/internal/database"
    "github.com/iliyamo/vcpool/internal/middleware"
    "github.com/iliyamo/vcpool/internal/queue"
    "github.com/iliyamo/vcpool/internal/scheduler"
    "github.com/iliyamo/vcpool/internal/service"
    "github.com/iliyamo/vcpool/internal/storage"
)

// App holds the long-lived dependencies of a vcpool process.
type App struct {
    Config   config.Config
    Settings *config.Settings
    DB       *sql.DB
    Dialect  database.Dialect
    Redis    *redis.Client         // nil when Redis is unreachable
    Cache    *middleware.PoolCache // nil without Redis or when disabled
    Events   *queue.Publisher
    Evidence *storage.LocalStore
    Services *service.Services
}

// Bootstrap loads configuration, opens and migrates the database and
// builds the services.  Redis is optional; RabbitMQ is dialled lazily on
// the first published event.
func Bootstrap(ctx context.Context) (*App, error) {
    cfg := config.Load()
    settings, err := config.LoadSettings(cfg.SettingsPath)
    if err != nil {
        return nil, err
    }

    db, dialect, err := database.Open(cfg.DBDriver, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.SQLitePath)
    if err != nil {
        return nil, fmt.Errorf("open database: %w", err)
    }
    if err := database.Migrate(ctx, db, dialect); err != nil {
        db.Close()
        return nil, fmt.Errorf("migrate: %w", err)
    }

    store, err := storage.NewLocalStore(settings.Evidence.Dir, settings.Evidence.MaxBytes, settings.Evidence.ContentTypes)
    if err != nil {
        db.Close()
        return nil, err
    }

    rdb, err := config.NewRedisClient(ctx)
    if err != nil {
        log.Printf("[WARN] redis unavailable, rate limiting, caching and the reaper lock are disabled: %v", err)
        rdb = nil
    }
    var cache *middleware.PoolCache
    if rdb != nil {
        cache = middleware.NewPoolCache(settings.Cache, rdb)
    }

    // Every committed change retires the pool's cached catalogue pages,
    // whichever binary made it.
    events := queue.NewPublisher(settings.Events.AMQPURL)
    svc := service.New(db, dialect, service.Options{
        Events:      cache.Invalidating(events.Publish),
        Evidence:    store,
        ReaperBatch: settings.Reaper.BatchSize,
    })
    return &App{
        Config:   cfg,
        Settings: settings,
        DB:       db,
        Dialect:  dialect,
        Redis:    rdb,
        Cache:    cache,
        Events:   events,
        Evidence: store,
        Services: svc,
    }, nil
}

// Scheduler builds the reaper schedule.  The Redis lock is only attached
// when a client is available.
func (a *App) Scheduler(ctx context.Context) (*scheduler.Scheduler, error) {
    var locker scheduler.Locker
    if a.Redis != nil {
        locker = scheduler.NewRedisLocker(a.Redis, a.Settings.Reaper.LockKey, a.Settings.Reaper.LockTTL)
    }
    s := scheduler.NewScheduler(ctx, a.Services.Reaper, locker)
    if err := s.Register(a.Settings.Reaper.Cron); err != nil {
        return nil, err
    }
    return s, nil
}

// StartAuditConsumer runs the audit-log consumer in the background when
// the settings enable it.
func (a *App) StartAuditConsumer() {
    if !a.Settings.Events.AuditEnabled {
        return
    }
    go queue.StartAuditConsumer(a.Settings.Events.AMQPURL, a.Settings.Events.AuditLog)
    log.Printf("[INFO] audit consumer writing to %s", a.Settings.Events.AuditLog)
}

// Close releases every connection the App opened.
func (a *App) Close() {
    if err := a.Events.Close(); err != nil {
        log.Printf("[WARN] close publisher: %v", err)
    }
    if a.Redis != nil {
        a.Redis.Close()
    }
    a.DB.Close()
}
