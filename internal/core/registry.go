package core

import (
	"context"
	"fmt"
	"time"

	"RoundLedger/internal/event"
	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
)

// CreateRoundParams describes a new round. LockTs and ResolveTs must follow
// the fixed geometry; round.Schedule derives them from StartTs.
type CreateRoundParams struct {
	Market    common.Hash
	StartTs   int64
	LockTs    int64
	ResolveTs int64
	FeeBps    uint16
}

// CreateRound registers a round and returns its id. Requires operator authority.
func (e *Engine) CreateRound(ctx context.Context, principal string, p CreateRoundParams) (uint64, error) {
	start := time.Now()
	defer e.observe("create_round", start)

	if e.authz == nil || !e.authz.IsOperator(principal) {
		return 0, round.ErrUnauthorized
	}
	if p.Market == (common.Hash{}) {
		return 0, round.ErrInvalidMarket
	}
	now := e.Now()
	if p.StartTs < now {
		return 0, fmt.Errorf("%w: start %d is in the past (now %d)", round.ErrInvalidTiming, p.StartTs, now)
	}
	if err := round.ValidateTiming(p.StartTs, p.LockTs, p.ResolveTs); err != nil {
		return 0, err
	}
	if p.FeeBps > e.cfg.MaxFeeBps {
		return 0, fmt.Errorf("%w: %d bps above cap %d", round.ErrInvalidFee, p.FeeBps, e.cfg.MaxFeeBps)
	}

	e.createMu.Lock()
	defer e.createMu.Unlock()

	// Hold the new round's lock until RoundCreated is emitted so no bet on
	// it can be sequenced first.
	id := e.store.NextID()
	release, err := e.lockRound(ctx, id)
	if err != nil {
		return 0, err
	}
	defer release()

	r := round.Round{
		Market:    p.Market,
		StartTs:   p.StartTs,
		LockTs:    p.LockTs,
		ResolveTs: p.ResolveTs,
		FeeBps:    p.FeeBps,
		CreatedAt: now,
	}
	if got := e.store.Insert(r); got != id {
		return 0, fmt.Errorf("round id allocation mismatch: reserved %d, got %d", id, got)
	}

	if err := e.emit(&event.RoundCreated{
		RoundID:   id,
		Market:    p.Market,
		StartTs:   p.StartTs,
		LockTs:    p.LockTs,
		ResolveTs: p.ResolveTs,
		FeeBps:    p.FeeBps,
		CreatedBy: principal,
		CreatedAt: now,
	}); err != nil {
		return 0, err
	}

	if e.metrics != nil {
		e.metrics.RoundsCreated.Inc()
	}
	e.logger.Info().
		Uint64("round_id", id).
		Str("market", p.Market.Hex()).
		Int64("start_ts", p.StartTs).
		Uint16("fee_bps", p.FeeBps).
		Msg("round created")

	return id, nil
}

// GetRound returns a snapshot copy of the round
func (e *Engine) GetRound(id uint64) (round.Round, error) {
	r, ok := e.store.Get(id)
	if !ok {
		return round.Round{}, fmt.Errorf("%w: %d", round.ErrNotFound, id)
	}
	return r, nil
}

// ListRounds returns every round of a market in id order
func (e *Engine) ListRounds(market common.Hash) []round.Round {
	return e.store.ListByMarket(market)
}

// RoundCount returns how many rounds were ever created
func (e *Engine) RoundCount() int {
	return e.store.Len()
}

// DueRounds returns unresolved rounds whose resolve time has passed
func (e *Engine) DueRounds() []round.Round {
	now := e.Now()
	var due []round.Round
	for _, r := range e.store.Unresolved() {
		if now >= r.ResolveTs {
			due = append(due, r)
		}
	}
	return due
}
