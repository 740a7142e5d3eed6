package query

import (
	"RoundLedger/internal/core"
	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// FormatPrice renders a fixed-point price with the given decimals.
// Zero means no price was captured and renders empty.
func FormatPrice(v int64, decimals int32) string {
	if v == 0 {
		return ""
	}
	return decimal.New(v, -decimals).String()
}

// NewRoundView builds the API form of a round at unix time now
func NewRoundView(r round.Round, now int64, decimals int32) RoundView {
	return RoundView{
		ID:           r.ID,
		Market:       r.Market.Hex(),
		Phase:        round.PhaseAt(&r, now).String(),
		StartTs:      r.StartTs,
		LockTs:       r.LockTs,
		ResolveTs:    r.ResolveTs,
		RefPrice:     FormatPrice(r.RefPrice, decimals),
		SettlePrice:  FormatPrice(r.SettlePrice, decimals),
		UpPool:       r.UpPool,
		DownPool:     r.DownPool,
		FeeBps:       r.FeeBps,
		Fee:          r.Fee,
		Resolved:     r.Resolved,
		Outcome:      r.Outcome.String(),
		ClaimedTotal: r.ClaimedTotal,
		CreatedAt:    r.CreatedAt,
		ResolvedAt:   r.ResolvedAt,
	}
}

// NewStakeView builds a participant's stake view. A resolved round reports
// the payout a claim would deliver now; an unresolved one the projection.
func NewStakeView(r round.Round, participant common.Address, up, down uint64) (StakeView, error) {
	v := StakeView{
		RoundID:     r.ID,
		Participant: participant.Hex(),
		Up:          up,
		Down:        down,
	}

	if r.Resolved {
		payout, err := core.ComputePayout(r, up, down)
		if err != nil {
			return StakeView{}, err
		}
		v.Payout = &payout
		return v, nil
	}

	p, err := core.ProjectPayout(r, up, down)
	if err != nil {
		return StakeView{}, err
	}
	v.Projected = &PayoutProjection{IfUp: p.IfUp, IfDown: p.IfDown, IfFlat: p.IfFlat}
	return v, nil
}
