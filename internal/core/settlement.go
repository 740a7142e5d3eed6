package core

import (
	"context"
	"fmt"
	"time"

	"RoundLedger/internal/event"
	fpmath "RoundLedger/internal/math"
	"RoundLedger/internal/round"
)

// Phase derives the lifecycle phase of r at unix time now
func Phase(r round.Round, now int64) round.Phase {
	return round.PhaseAt(&r, now)
}

// PhaseOf returns the current phase of a round by the engine clock
func (e *Engine) PhaseOf(roundID uint64) (round.Phase, error) {
	r, err := e.GetRound(roundID)
	if err != nil {
		return 0, err
	}
	return Phase(r, e.Now()), nil
}

// DetermineOutcome compares settle against ref. A side nobody backed cannot
// win: the round is voided to FLAT and everyone is refunded.
func DetermineOutcome(r round.Round, settlePrice int64) round.Outcome {
	var o round.Outcome
	switch {
	case settlePrice > r.RefPrice:
		o = round.OutcomeUp
	case settlePrice < r.RefPrice:
		o = round.OutcomeDown
	default:
		return round.OutcomeFlat
	}
	if r.WinningPool(o) == 0 {
		return round.OutcomeFlat
	}
	return o
}

// Resolve settles a round once its resolve time has passed. Anyone may call it.
func (e *Engine) Resolve(ctx context.Context, roundID uint64) error {
	start := time.Now()
	defer e.observe("resolve", start)

	outcome, err := e.resolve(ctx, roundID)
	if e.metrics != nil {
		if err != nil {
			e.metrics.ResolveFailures.WithLabelValues(errorReason(err)).Inc()
		} else {
			e.metrics.RoundsResolved.WithLabelValues(outcome.String()).Inc()
		}
	}
	return err
}

func (e *Engine) resolve(ctx context.Context, roundID uint64) (round.Outcome, error) {
	if _, ok := e.store.Get(roundID); !ok {
		return round.OutcomeNone, fmt.Errorf("%w: %d", round.ErrNotFound, roundID)
	}

	release, err := e.lockRound(ctx, roundID)
	if err != nil {
		return round.OutcomeNone, err
	}
	defer release()

	r, _ := e.store.Get(roundID)

	now := e.Now()
	if now < r.ResolveTs {
		return round.OutcomeNone, fmt.Errorf("%w: resolves at %d", round.ErrTooEarly, r.ResolveTs)
	}
	if r.Resolved {
		return round.OutcomeNone, round.ErrAlreadyResolved
	}

	var (
		outcome     round.Outcome
		settlePrice int64
	)
	if r.RefPrice == 0 {
		// No bets were ever placed
		outcome = round.OutcomeFlat
	} else {
		price, _, ferr := e.oracle.FetchPrice(ctx, r.Market, e.cfg.ResolveMaxPriceAge)
		if ferr != nil {
			return round.OutcomeNone, wrapf(round.ErrStalePrice, ferr)
		}
		settlePrice = price
		outcome = DetermineOutcome(r, price)
	}

	var fee uint64
	if outcome != round.OutcomeFlat && !r.FeeCharged {
		fee = fpmath.ComputeFee(r.TotalPool(), r.FeeBps)
	}

	var feeEvt *event.FeeCharged
	if fee > 0 {
		feeEvt = &event.FeeCharged{RoundID: r.ID, Market: r.Market, Amount: fee}
		derr := e.sink.Deliver(ctx, round.Transfer{
			RoundID: r.ID,
			Amount:  fee,
			Kind:    round.TransferFee,
			Ref:     feeEvt.IdempotencyKey(),
		})
		if derr != nil {
			return round.OutcomeNone, wrapf(round.ErrSinkTransferFailed, derr)
		}
		r.Fee = fee
		r.FeeCharged = true
	}

	r.Resolved = true
	r.Outcome = outcome
	r.SettlePrice = settlePrice
	r.ResolvedAt = now
	e.store.Commit(r)

	if feeEvt != nil {
		if err := e.emit(feeEvt); err != nil {
			return outcome, err
		}
		if e.metrics != nil {
			e.metrics.FeesCharged.Add(float64(fee))
		}
	}
	if err := e.emit(&event.RoundResolved{
		RoundID:     r.ID,
		Market:      r.Market,
		Outcome:     outcome,
		SettlePrice: settlePrice,
		Fee:         r.Fee,
		ResolvedAt:  now,
	}); err != nil {
		return outcome, err
	}

	e.logger.Info().
		Uint64("round_id", r.ID).
		Str("outcome", outcome.String()).
		Int64("ref_price", r.RefPrice).
		Int64("settle_price", settlePrice).
		Uint64("up_pool", r.UpPool).
		Uint64("down_pool", r.DownPool).
		Uint64("fee", r.Fee).
		Msg("round resolved")

	return outcome, nil
}
