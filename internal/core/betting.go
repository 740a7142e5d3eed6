package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"RoundLedger/internal/event"
	fpmath "RoundLedger/internal/math"
	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// MaxPool bounds a round's total pool so every stake, fee and payout fits the
// signed 64-bit balances of the value custody.
const MaxPool = math.MaxInt64

// BetRequest is a participant's stake on one side of a round.
// RequestID is optional; a repeated non-empty id is rejected.
type BetRequest struct {
	RoundID     uint64
	Participant common.Address
	Side        round.Side
	Amount      uint64
	RequestID   string
}

// PlaceBet adds to the participant's stake. The first bet of a round also
// captures the reference price.
func (e *Engine) PlaceBet(ctx context.Context, req BetRequest) error {
	start := time.Now()
	defer e.observe("place_bet", start)

	err := e.placeBet(ctx, req)
	if e.metrics != nil {
		if err != nil {
			e.metrics.BetsRejected.WithLabelValues(errorReason(err)).Inc()
		} else {
			e.metrics.BetsPlaced.WithLabelValues(req.Side.String()).Inc()
			e.metrics.BetVolume.WithLabelValues(req.Side.String()).Add(float64(req.Amount))
		}
	}
	return err
}

func (e *Engine) placeBet(ctx context.Context, req BetRequest) (err error) {
	if _, ok := e.store.Get(req.RoundID); !ok {
		return fmt.Errorf("%w: %d", round.ErrNotFound, req.RoundID)
	}

	release, err := e.lockRound(ctx, req.RoundID)
	if err != nil {
		return err
	}
	defer release()

	r, _ := e.store.Get(req.RoundID)

	now := e.Now()
	if now < r.StartTs {
		return fmt.Errorf("%w: opens at %d", round.ErrNotStarted, r.StartTs)
	}
	if now >= r.LockTs {
		return fmt.Errorf("%w: locked at %d", round.ErrBettingClosed, r.LockTs)
	}
	if req.Amount == 0 {
		return round.ErrZeroAmount
	}
	if e.cfg.MaxBet > 0 && req.Amount > e.cfg.MaxBet {
		return fmt.Errorf("%w: %d above limit %d", round.ErrAmountTooLarge, req.Amount, e.cfg.MaxBet)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("%w: %d", round.ErrInvalidSide, req.Side)
	}
	if req.Participant == (common.Address{}) {
		return round.ErrInvalidParticipant
	}

	stake := e.store.Stake(r.ID, req.Participant)
	switch req.Side {
	case round.SideUp:
		pool, ok := fpmath.CheckedAdd(r.UpPool, req.Amount)
		if !ok {
			return fmt.Errorf("%w: up pool overflow", round.ErrAmountTooLarge)
		}
		r.UpPool = pool
		stake.Up += req.Amount
	case round.SideDown:
		pool, ok := fpmath.CheckedAdd(r.DownPool, req.Amount)
		if !ok {
			return fmt.Errorf("%w: down pool overflow", round.ErrAmountTooLarge)
		}
		r.DownPool = pool
		stake.Down += req.Amount
	}
	if total, ok := fpmath.CheckedAdd(r.UpPool, r.DownPool); !ok || total > MaxPool {
		return fmt.Errorf("%w: total pool above %d", round.ErrAmountTooLarge, uint64(MaxPool))
	}

	requestID := req.RequestID
	if requestID != "" {
		if err := e.requests.Begin(ctx, requestID); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				e.requests.Abort(requestID)
				return
			}
			e.requests.Commit(requestID)
		}()
	} else {
		requestID = uuid.New().String()
	}

	bet := &event.BetPlaced{
		RoundID:     r.ID,
		Market:      r.Market,
		Participant: req.Participant,
		Side:        req.Side,
		Amount:      req.Amount,
		RequestID:   requestID,
		PlacedAt:    now,
	}

	var refLocked *event.ReferencePriceLocked
	if r.RefPrice == 0 {
		price, observedAt, ferr := e.oracle.FetchPrice(ctx, r.Market, e.cfg.BetMaxPriceAge)
		if ferr != nil {
			return wrapf(round.ErrReferencePriceUnavailable, ferr)
		}
		if price == 0 {
			// 0 marks a round without a reference
			return fmt.Errorf("%w: zero price", round.ErrReferencePriceUnavailable)
		}
		r.RefPrice = price
		refLocked = &event.ReferencePriceLocked{
			RoundID:    r.ID,
			Market:     r.Market,
			Price:      price,
			ObservedAt: observedAt.Unix(),
		}
	}

	if e.source != nil {
		cerr := e.source.Collect(ctx, round.Transfer{
			RoundID:     r.ID,
			Participant: req.Participant,
			Amount:      req.Amount,
			Kind:        round.TransferStake,
			Ref:         bet.IdempotencyKey(),
		})
		if cerr != nil {
			return wrapf(round.ErrDepositFailed, cerr)
		}
	}

	e.store.Commit(r, round.StakeChange{Participant: req.Participant, Stake: stake})

	if refLocked != nil {
		if err := e.emit(refLocked); err != nil {
			return err
		}
		e.logger.Info().
			Uint64("round_id", r.ID).
			Int64("ref_price", r.RefPrice).
			Msg("reference price locked")
	}
	if err := e.emit(bet); err != nil {
		return err
	}

	e.logger.Debug().
		Uint64("round_id", r.ID).
		Str("participant", req.Participant.Hex()).
		Str("side", req.Side.String()).
		Uint64("amount", req.Amount).
		Msg("bet placed")

	return nil
}

// GetUserStakes returns the participant's stake per side (zero if none)
func (e *Engine) GetUserStakes(roundID uint64, participant common.Address) (up, down uint64) {
	s := e.store.Stake(roundID, participant)
	return s.Up, s.Down
}

// Stakes returns every open stake of a round
func (e *Engine) Stakes(roundID uint64) []round.StakeEntry {
	return e.store.Stakes(roundID)
}
