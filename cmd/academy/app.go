package main

import (
	"context"
	"fmt"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/config"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/eventhandler"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/guidance"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/lifecycle"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/query"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/module"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/scoring"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/session"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/catalog"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/export"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/external/textgen"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/messaging"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/persistence/memory"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/persistence/postgres"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/persistence/redis"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/scheduler"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/infrastructure/scheduler/jobs"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/interface/http/handlers"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION WIRING
// ══════════════════════════════════════════════════════════════════════════════

// app holds every long-lived component shared by the subcommands.
type app struct {
	cfg *config.Config
	log *logger.Logger

	db    *postgres.Connection // nil when running on the in-memory store
	cache *redis.Cache         // nil when Redis is disabled

	catalog     *module.StaticCatalog
	progress    progress.Repository
	sessions    session.Repository
	leaderboard *redis.LeaderboardCache

	bus       *messaging.InMemoryEventBus
	guidance  guidance.Adapter
	lifecycle *lifecycle.Manager
	health    *handlers.CompositeHealthChecker

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		log:    log,
		health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	a.catalog, err = catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	log.Info("module catalog loaded", logger.Int("modules", len(a.catalog.List())))

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}
	if err := a.openCache(ctx); err != nil {
		return nil, err
	}

	a.bus = messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 8,
		Logger:         log,
		EnableMetrics:  true,
	})
	a.closers = append(a.closers, func() { _ = a.bus.Close() })

	var scores eventhandler.ScoreWriter
	if a.leaderboard != nil {
		scores = a.leaderboard
	}
	if err := eventhandler.Register(a.bus, scores, log); err != nil {
		return nil, fmt.Errorf("register event handlers: %w", err)
	}

	a.guidance, err = a.guidanceAdapter(ctx)
	if err != nil {
		return nil, err
	}

	a.lifecycle = lifecycle.NewManager(lifecycle.Deps{
		Sessions: a.sessions,
		Progress: a.progress,
		Catalog:  a.catalog,
		Guidance: a.guidance,
		Events:   a.bus,
		Logger:   log,
	}, lifecycle.Config{
		CompleteTimeout: cfg.Lifecycle.CompleteTimeout,
		GuidanceTimeout: cfg.Guidance.Timeout,
		Location:        cfg.App.Location,
		Policy: scoring.Policy{
			Base:      cfg.Scoring.BaseCredits,
			PerBonus:  cfg.Scoring.CreditsPerBonus,
			TimeBonus: cfg.Scoring.TimeBonusCredits,
		},
	})

	ok = true
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	if a.cfg.Database.URL == "" {
		a.log.Warn("DATABASE_URL not set, using the in-memory store")
		a.progress = memory.NewProgressStore(time.Now)
		a.sessions = memory.NewSessionStore()
		return nil
	}

	db, err := a.connectDatabase(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.cfg.Database.AutoMigrate {
		if err := postgres.NewMigrator(db).Migrate(ctx); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}

	a.progress = postgres.NewProgressRepository(db)
	a.sessions = postgres.NewSessionRepository(db)
	a.health.AddCheck("database", handlers.PingCheck(db))
	return nil
}

func (a *app) connectDatabase(ctx context.Context) (*postgres.Connection, error) {
	opts := postgres.DefaultOptions()
	opts.MaxConns = int32(a.cfg.Database.MaxConns)
	opts.MinConns = int32(a.cfg.Database.MinConns)
	opts.MaxConnLifetime = a.cfg.Database.ConnMaxLifetime
	opts.MaxConnIdleTime = a.cfg.Database.ConnMaxIdleTime
	opts.QueryTimeout = a.cfg.Database.QueryTimeout

	a.log.Info("connecting to database")
	db, err := postgres.NewConnection(ctx, a.cfg.Database.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func (a *app) openCache(ctx context.Context) error {
	if a.cfg.Redis.Disabled {
		a.log.Info("redis disabled")
		return nil
	}

	rc := a.cfg.Redis
	cache, err := redis.NewCache(ctx, redis.Config{
		URL:          rc.URL,
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		Timeout:      rc.Timeout,
	})
	if err != nil {
		// Redis only mirrors the leaderboard and memoizes guidance.
		a.log.Warn("redis unavailable, continuing without cache", logger.Err(err))
		return nil
	}

	a.cache = cache
	a.leaderboard = redis.NewLeaderboardCache(cache, 3*a.cfg.Worker.RebuildLeaderboardInterval)
	a.closers = append(a.closers, func() { _ = cache.Close() })
	a.health.AddCheck("redis", handlers.PingCheck(cache))
	return nil
}

func (a *app) guidanceAdapter(ctx context.Context) (guidance.Adapter, error) {
	gc := a.cfg.Guidance

	var gen guidance.TextGenerator
	switch gc.Provider {
	case "gemini":
		client, err := textgen.NewGeminiClient(ctx, gc.APIKey, a.log)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		gen = client
	case "openai":
		oc := textgen.DefaultOpenAIConfig(gc.APIKey)
		oc.BaseURL = gc.BaseURL
		gen = textgen.NewOpenAIClient(oc, a.log)
	default:
		a.log.Info("guidance provider disabled, using static guidance")
		return guidance.NoOpAdapter{}, nil
	}

	var cache guidance.Cache = guidance.NewMemoryCache(nil)
	if a.cache != nil {
		cache = redis.NewGuidanceCache(a.cache)
	}

	llm := guidance.NewLLMAdapter(gen, cache, guidance.LLMConfig{
		Models:    gc.Models,
		MaxTokens: gc.MaxTokens,
		Timeout:   gc.Timeout,
		CacheTTL:  gc.CacheTTL,
	}, a.log)

	return guidance.GatedAdapter{
		Flags:   a.cfg.Features,
		Feature: config.FeatureGuidanceLLM,
		Next:    llm,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READ SIDE
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) leaderboardQuery() *query.GetLeaderboardHandler {
	var cache query.LeaderboardCache
	if a.leaderboard != nil {
		cache = a.leaderboard
	}
	return query.NewGetLeaderboardHandler(a.progress, cache, a.cfg.Features, config.FeatureLeaderboardCache, a.log)
}

func (a *app) exporter() *export.LeaderboardExporter {
	return export.NewLeaderboardExporter(a.progress, time.Now)
}

// ══════════════════════════════════════════════════════════════════════════════
// WORKER
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	wc := a.cfg.Worker

	sc := scheduler.Config{
		Logger:     a.log,
		Timezone:   a.cfg.App.Location,
		JobTimeout: wc.JobTimeout,
	}
	if a.cache != nil {
		sc.Locker = a.cache
	}
	s := scheduler.New(sc)

	if a.leaderboard != nil {
		job := jobs.NewRebuildLeaderboardJob(a.progress, a.leaderboard, wc.LeaderboardSize, a.log)
		if err := s.Register(job, wc.RebuildLeaderboardInterval); err != nil {
			return nil, err
		}
	} else {
		a.log.Info("leaderboard cache unavailable, rebuild job not scheduled")
	}

	reaper := jobs.NewReapStaleSessionsJob(a.lifecycle, a.cfg.Lifecycle.StaleSessionAge, a.cfg.Features, config.FeatureWorkerReaper, a.log)
	if err := s.Register(reaper, wc.ReapStaleSessionsInterval); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
