package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/secretmarket/internal/domain"
	"github.com/alanyoungcy/secretmarket/internal/market"
)

// KeeperConfig tunes the keeper loop.
type KeeperConfig struct {
	Interval  time.Duration
	AutoClaim bool
	LockTTL   time.Duration
}

// Keeper drives the time-based parts of the market lifecycle that no
// participant is obliged to trigger: it resolves the event once resolution
// opens, optionally pays out revealed winners, and archives the settlement
// report once the market closes.
type Keeper struct {
	market   *market.Market
	archiver domain.SettlementArchiver
	locks    domain.LockManager
	cfg      KeeperConfig
	logger   *slog.Logger

	archived bool
}

// NewKeeper creates a Keeper. archiver and locks may be nil.
func NewKeeper(
	m *market.Market,
	archiver domain.SettlementArchiver,
	locks domain.LockManager,
	cfg KeeperConfig,
	logger *slog.Logger,
) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &Keeper{
		market:   m,
		archiver: archiver,
		locks:    locks,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run ticks until ctx is cancelled. Call in a goroutine.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper started",
		slog.String("market_id", k.market.Params().ID),
		slog.Duration("interval", k.cfg.Interval),
		slog.Bool("auto_claim", k.cfg.AutoClaim),
	)
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		k.Tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs whatever lifecycle work the current phase allows. It first
// reloads the market so that work done by API processes sharing the store
// is seen.
func (k *Keeper) Tick(ctx context.Context) {
	if err := k.market.Refresh(ctx); err != nil {
		k.logger.WarnContext(ctx, "refresh market failed, skipping tick", slog.String("error", err.Error()))
		return
	}
	phase := k.market.Phase()

	if phase.Check(market.OpResolve) == nil {
		if _, latched := k.market.Outcome(); !latched {
			k.resolve(ctx)
		}
	}
	if k.cfg.AutoClaim && phase == market.PhaseAwaitingPayout {
		k.claimAll(ctx)
	}
	if phase == market.PhaseClosed && !k.archived && k.archiver != nil {
		if err := k.archive(ctx); err != nil {
			k.logger.ErrorContext(ctx, "archive settlement failed", slog.String("error", err.Error()))
		}
	}
}

func (k *Keeper) resolve(ctx context.Context) {
	o, err := k.market.ResolveEvent(ctx)
	if err != nil {
		k.logger.WarnContext(ctx, "resolve failed, will retry", slog.String("error", err.Error()))
		return
	}
	k.logger.InfoContext(ctx, "market resolved",
		slog.Bool("occurred", o.Occurred),
		slog.Int64("price", o.Price),
	)
}

func (k *Keeper) claimAll(ctx context.Context) {
	for _, addr := range k.market.ClaimableWinners() {
		amount, err := k.market.ClaimWinnings(ctx, addr)
		if err != nil {
			k.logger.WarnContext(ctx, "auto claim failed",
				slog.String("address", addr.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		k.logger.InfoContext(ctx, "auto claim paid",
			slog.String("address", addr.Hex()),
			slog.String("amount", amount.Dec()),
		)
	}
}

// archive uploads the settlement report once. Several keepers may share a
// bucket, so the upload runs under a lock and is skipped if the object
// already exists.
func (k *Keeper) archive(ctx context.Context) error {
	id := k.market.Params().ID
	if k.locks != nil {
		unlock, err := k.locks.Acquire(ctx, "settlement:"+id, k.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			k.logger.DebugContext(ctx, "another keeper is archiving", slog.String("market_id", id))
			return nil
		}
		if err != nil {
			return err
		}
		defer unlock()
	}

	exists, err := k.archiver.Archived(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		path, err := k.archiver.ArchiveSettlement(ctx, k.market.Report())
		if err != nil {
			return err
		}
		k.logger.InfoContext(ctx, "settlement archived",
			slog.String("market_id", id),
			slog.String("path", path),
		)
	}
	k.archived = true
	return nil
}

// Archived reports whether this keeper has seen the settlement stored.
func (k *Keeper) Archived() bool { return k.archived }
