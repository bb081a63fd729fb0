package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/markdotcom5/SharedStarsFinal-sub001/config"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/application/query"
	httpapi "github.com/markdotcom5/SharedStarsFinal-sub001/internal/interface/http"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/interface/http/handlers"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. The background worker runs in the same process
unless WORKER_ENABLED=false.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	log.Info("starting academy API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("timezone", cfg.App.Timezone),
	)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	server := httpapi.NewServer(httpapi.Config{
		Host:               cfg.HTTP.Host,
		Port:               cfg.HTTP.Port,
		ReadTimeout:        cfg.HTTP.ReadTimeout,
		WriteTimeout:       cfg.HTTP.WriteTimeout,
		IdleTimeout:        cfg.HTTP.IdleTimeout,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMin,
		Identity: handlers.IdentityConfig{
			JWTSecret:           cfg.Auth.JWTSecret,
			AllowHeaderIdentity: cfg.Auth.AllowHeaderIdentity,
		},
		Version: cfg.App.Version,
		Debug:   cfg.App.Debug && cfg.IsDevelopment(),
	}, httpapi.Dependencies{
		Lifecycle:      a.lifecycle,
		Leaderboard:    a.leaderboardQuery(),
		Progress:       query.NewGetProgressHandler(a.progress, a.catalog),
		Certifications: query.NewGetCertificationsHandler(a.progress, nil),
		Modules:        query.NewListModulesHandler(a.catalog),
		Guidance:       query.NewGetGuidanceHandler(a.progress, a.catalog, a.guidance),
		Exporter:       a.exporter(),
		Flags:          cfg.Features,
		ExportFeature:  config.FeatureLeaderboardExport,
		HealthChecker:  a.health,
		Logger:         log,
	})

	if cfg.Worker.Enabled {
		sched, err := a.newScheduler()
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		if err := sched.Start(); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		defer sched.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("academy API stopped")
	return nil
}
