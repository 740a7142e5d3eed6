// Package keeper drives rounds forward from outside the engine: it resolves
// rounds whose resolve time has passed and, for configured markets, keeps
// the next round open back to back with the current one.
package keeper

import (
	"context"
	"errors"
	"time"

	"RoundLedger/internal/core"
	"RoundLedger/internal/observability"
	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Engine is the slice of the engine the keeper drives
type Engine interface {
	Now() int64
	DueRounds() []round.Round
	Resolve(ctx context.Context, roundID uint64) error
	ListRounds(market common.Hash) []round.Round
	CreateRound(ctx context.Context, principal string, p core.CreateRoundParams) (uint64, error)
}

// Config controls the keeper loop
type Config struct {
	Interval time.Duration

	// Markets to keep a round open on; empty disables auto-open
	Markets []common.Hash

	// Principal used for CreateRound; must be an operator
	Principal string
	FeeBps    uint16
}

type Keeper struct {
	engine  Engine
	cfg     Config
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func New(engine Engine, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Keeper{engine: engine, cfg: cfg, metrics: metrics, logger: logger}
}

// Run ticks until ctx is cancelled
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	k.logger.Info().
		Dur("interval", k.cfg.Interval).
		Int("markets", len(k.cfg.Markets)).
		Msg("keeper started")

	for {
		k.Tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one pass: resolve due rounds, then open next rounds
func (k *Keeper) Tick(ctx context.Context) {
	for _, r := range k.engine.DueRounds() {
		err := k.engine.Resolve(ctx, r.ID)
		switch {
		case err == nil:
			k.record("resolve", "ok")
			k.logger.Info().Uint64("round_id", r.ID).Msg("round resolved")
		case errors.Is(err, round.ErrAlreadyResolved):
			k.record("resolve", "skipped")
		default:
			// Retried on the next tick; a stale oracle leaves the round RESOLVING.
			k.record("resolve", "error")
			k.logger.Warn().Err(err).Uint64("round_id", r.ID).Msg("resolve failed")
		}
	}

	for _, market := range k.cfg.Markets {
		k.openNext(ctx, market)
	}
}

// openNext creates the next round of a market once the latest one has
// started. The next round starts when the latest resolves, or now if that
// time has already passed.
func (k *Keeper) openNext(ctx context.Context, market common.Hash) {
	now := k.engine.Now()
	start := now

	if rounds := k.engine.ListRounds(market); len(rounds) > 0 {
		latest := rounds[len(rounds)-1]
		if latest.StartTs > now {
			return
		}
		if latest.ResolveTs > now {
			start = latest.ResolveTs
		}
	}

	lock, resolve := round.Schedule(start)
	id, err := k.engine.CreateRound(ctx, k.cfg.Principal, core.CreateRoundParams{
		Market:    market,
		StartTs:   start,
		LockTs:    lock,
		ResolveTs: resolve,
		FeeBps:    k.cfg.FeeBps,
	})
	if err != nil {
		k.record("open", "error")
		k.logger.Warn().Err(err).Str("market", market.Hex()).Msg("open round failed")
		return
	}
	k.record("open", "ok")
	k.logger.Info().
		Uint64("round_id", id).
		Str("market", market.Hex()).
		Int64("start_ts", start).
		Msg("round opened")
}

func (k *Keeper) record(action, result string) {
	if k.metrics != nil {
		k.metrics.KeeperActions.WithLabelValues(action, result).Inc()
	}
}
