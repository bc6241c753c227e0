package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/weathercover/internal/server"
	"github.com/alanyoungcy/weathercover/internal/server/handler"
	"github.com/alanyoungcy/weathercover/internal/server/ws"
	"github.com/alanyoungcy/weathercover/internal/service"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and the WebSocket event stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// KeeperMode only runs the settlement keeper.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API and the keeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startKeeper(ctx, g, deps)
	return g.Wait()
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	keeper := service.NewKeeper(
		deps.Service,
		a.cfg.Keeper.Interval.Duration,
		a.cfg.Keeper.BatchSize,
		a.cfg.Keeper.Identity,
		a.logger,
	)
	g.Go(func() error {
		return keeper.Run(ctx)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	sc := a.cfg.Server
	srv := server.NewServer(server.Config{
		Port:            sc.Port,
		CORSOrigins:     sc.CORSOrigins,
		AuthMode:        sc.AuthMode,
		SignatureMaxAge: sc.SignatureMaxAge.Duration,
		RateLimit:       sc.RateLimit,
		RateWindow:      sc.RateWindow.Duration,
		ReadTimeout:     sc.ReadTimeout.Duration,
		WriteTimeout:    sc.WriteTimeout.Duration,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(deps.Service, a.cfg.Mode, a.logger),
		Requests:   handler.NewRequestHandler(deps.Service, a.logger),
		Reputation: handler.NewReputationHandler(deps.Service, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
