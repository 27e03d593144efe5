package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/secretmarket/internal/cache/redis"
	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/server"
	"github.com/alanyoungcy/secretmarket/internal/server/handler"
	"github.com/alanyoungcy/secretmarket/internal/server/ws"
	"github.com/alanyoungcy/secretmarket/internal/service"
)

const shutdownTimeout = 5 * time.Second

// APIMode serves the HTTP and WebSocket API.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// KeeperMode runs the lifecycle keeper and, when configured, the price
// mirror.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API and the keeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var archiver domain.SettlementArchiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	} else {
		a.logger.WarnContext(ctx, "keeper: s3 disabled, settlement will not be archived")
	}

	keeper := service.NewKeeper(deps.Market, archiver, deps.LockManager, service.KeeperConfig{
		Interval:  a.cfg.Keeper.Interval.Duration,
		AutoClaim: a.cfg.Keeper.AutoClaim,
		LockTTL:   a.cfg.Keeper.LockTTL.Duration,
	}, a.logger)
	g.Go(func() error { return keeper.Run(ctx) })

	if deps.Mirror != nil {
		g.Go(func() error { return deps.Mirror.Run(ctx) })
	}
}

// startHTTPServer adds the HTTP server and, when a signal bus is available,
// the WebSocket hub to g. The server shuts down gracefully once ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		m := deps.Market
		hub = ws.NewHub(deps.SignalBus, ws.Config{
			Channels: []string{redis.EventsChannel, service.PricesChannel},
			Status: func() any {
				return map[string]any{
					"market_id": m.Params().ID,
					"phase":     m.Phase(),
					"permitted": m.Permitted(),
				}
			},
		}, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Market: handler.NewMarketHandler(deps.Market, a.logger),
	}
	if deps.Events != nil {
		var settlements handler.SettlementSource
		if deps.Archiver != nil {
			settlements = deps.Archiver
		}
		handlers.Events = handler.NewEventHandler(deps.Events, settlements, deps.Market.Params().ID, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
