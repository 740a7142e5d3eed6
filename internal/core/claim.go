package core

import (
	"context"
	"fmt"
	"time"

	"RoundLedger/internal/event"
	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
)

// Claim pays out the participant's stake of a resolved round and returns the
// amount delivered. Stakes are zeroed before the sink is called and restored
// if delivery fails, so a claim can never pay twice.
func (e *Engine) Claim(ctx context.Context, roundID uint64, participant common.Address) (uint64, error) {
	start := time.Now()
	defer e.observe("claim", start)

	payout, err := e.claim(ctx, roundID, participant)
	if e.metrics != nil {
		if err != nil {
			e.metrics.ClaimFailures.WithLabelValues(errorReason(err)).Inc()
		} else {
			e.metrics.ClaimsProcessed.Inc()
			e.metrics.ClaimPayouts.Add(float64(payout))
		}
	}
	return payout, err
}

func (e *Engine) claim(ctx context.Context, roundID uint64, participant common.Address) (uint64, error) {
	if _, ok := e.store.Get(roundID); !ok {
		return 0, fmt.Errorf("%w: %d", round.ErrNotFound, roundID)
	}

	release, err := e.lockRound(ctx, roundID)
	if err != nil {
		return 0, err
	}
	defer release()

	r, _ := e.store.Get(roundID)
	if !r.Resolved {
		return 0, round.ErrNotResolved
	}

	stake := e.store.Stake(roundID, participant)
	if stake.IsZero() {
		return 0, round.ErrNothingToClaim
	}

	payout, err := ComputePayout(r, stake.Up, stake.Down)
	if err != nil {
		return 0, err
	}

	// Effects before interaction
	updated := r
	updated.ClaimedTotal += payout
	e.store.Commit(updated, round.StakeChange{Participant: participant})

	claimed := &event.Claimed{
		RoundID:     roundID,
		Market:      r.Market,
		Participant: participant,
		Amount:      payout,
		ClaimedAt:   e.Now(),
	}

	if payout > 0 {
		derr := e.sink.Deliver(ctx, round.Transfer{
			RoundID:     roundID,
			Participant: participant,
			Amount:      payout,
			Kind:        round.TransferPayout,
			Ref:         claimed.IdempotencyKey(),
		})
		if derr != nil {
			e.store.Commit(r, round.StakeChange{Participant: participant, Stake: stake})
			e.logger.Warn().
				Err(derr).
				Uint64("round_id", roundID).
				Str("participant", participant.Hex()).
				Uint64("payout", payout).
				Msg("payout delivery failed, stake restored")
			return 0, wrapf(round.ErrSinkTransferFailed, derr)
		}
	}

	if err := e.emit(claimed); err != nil {
		return payout, err
	}

	e.logger.Info().
		Uint64("round_id", roundID).
		Str("participant", participant.Hex()).
		Str("outcome", r.Outcome.String()).
		Uint64("payout", payout).
		Msg("claim processed")

	return payout, nil
}
