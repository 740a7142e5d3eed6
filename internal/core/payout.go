package core

import (
	"fmt"

	fpmath "RoundLedger/internal/math"
	"RoundLedger/internal/round"
)

// ComputePayout returns what a stake of (up, down) receives from a resolved
// round. Winners get floor(stake * (pool - fee) / winningPool); FLAT
// refunds both sides in full.
func ComputePayout(r round.Round, up, down uint64) (uint64, error) {
	if !r.Resolved {
		return 0, round.ErrNotResolved
	}

	switch r.Outcome {
	case round.OutcomeFlat:
		total, ok := fpmath.CheckedAdd(up, down)
		if !ok {
			return 0, fpmath.ErrOverflow
		}
		return total, nil
	case round.OutcomeUp:
		return share(up, r.Distributable(), r.UpPool)
	case round.OutcomeDown:
		return share(down, r.Distributable(), r.DownPool)
	}
	return 0, fmt.Errorf("round %d resolved with outcome %s", r.ID, r.Outcome)
}

func share(stake, distributable, winningPool uint64) (uint64, error) {
	if stake == 0 {
		return 0, nil
	}
	return fpmath.MulDivFloor(stake, distributable, winningPool)
}

// Projection is the hypothetical payout of a stake in an unresolved round
// if it resolved now with each outcome.
type Projection struct {
	IfUp   uint64 `json:"if_up"`
	IfDown uint64 `json:"if_down"`
	IfFlat uint64 `json:"if_flat"`
}

// ProjectPayout applies ComputePayout to the round's current pools under
// each outcome, including void-to-FLAT when a side is empty.
func ProjectPayout(r round.Round, up, down uint64) (Projection, error) {
	var p Projection

	r.Resolved = true
	r.FeeCharged = false
	r.Fee = 0

	flat := r
	flat.Outcome = round.OutcomeFlat
	var err error
	if p.IfFlat, err = ComputePayout(flat, up, down); err != nil {
		return Projection{}, err
	}

	for _, o := range []round.Outcome{round.OutcomeUp, round.OutcomeDown} {
		settled := r
		settled.Outcome = o
		if settled.WinningPool(o) == 0 {
			settled.Outcome = round.OutcomeFlat
		} else {
			settled.Fee = fpmath.ComputeFee(settled.TotalPool(), settled.FeeBps)
		}
		v, err := ComputePayout(settled, up, down)
		if err != nil {
			return Projection{}, err
		}
		if o == round.OutcomeUp {
			p.IfUp = v
		} else {
			p.IfDown = v
		}
	}
	return p, nil
}
