package round

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Fixed round geometry. Every round lasts RoundDuration seconds and stops
// accepting bets LockBeforeResolve seconds before it resolves.
const (
	RoundDuration     int64 = 60
	LockBeforeResolve int64 = 10

	// BpsDenominator is 100% in basis points
	BpsDenominator uint64 = 10_000
)

// Side is the direction a participant stakes on
type Side uint8

const (
	SideUp Side = iota + 1
	SideDown
)

func (s Side) String() string {
	switch s {
	case SideUp:
		return "UP"
	case SideDown:
		return "DOWN"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is UP or DOWN
func (s Side) Valid() bool {
	return s == SideUp || s == SideDown
}

// ParseSide accepts "up"/"down" in any case
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP":
		return SideUp, nil
	case "DOWN":
		return SideDown, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Outcome is the settled result of a round. NONE only before resolution.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeUp
	OutcomeDown
	OutcomeFlat
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "NONE"
	case OutcomeUp:
		return "UP"
	case OutcomeDown:
		return "DOWN"
	case OutcomeFlat:
		return "FLAT"
	default:
		return "UNKNOWN"
	}
}

// MarketID derives the opaque market identifier from a symbol such as "BTC/USD".
func MarketID(symbol string) common.Hash {
	return crypto.Keccak256Hash([]byte(symbol))
}

// Round is one betting/settlement cycle on a single market.
// Values handed out by the engine are copies; mutating them has no effect.
type Round struct {
	ID     uint64      `json:"id"`
	Market common.Hash `json:"market"`

	StartTs   int64 `json:"start_ts"`
	LockTs    int64 `json:"lock_ts"`
	ResolveTs int64 `json:"resolve_ts"`

	// Fixed-point prices; RefPrice == 0 means no reference captured yet
	RefPrice    int64 `json:"ref_price"`
	SettlePrice int64 `json:"settle_price"`

	UpPool   uint64 `json:"up_pool"`
	DownPool uint64 `json:"down_pool"`

	Resolved   bool    `json:"resolved"`
	Outcome    Outcome `json:"outcome"`
	FeeBps     uint16  `json:"fee_bps"`
	FeeCharged bool    `json:"fee_charged"`
	Fee        uint64  `json:"fee"`

	// Sum of payouts delivered so far; TotalPool - Fee - ClaimedTotal is dust
	// once every participant has claimed.
	ClaimedTotal uint64 `json:"claimed_total"`

	CreatedAt  int64 `json:"created_at"`
	ResolvedAt int64 `json:"resolved_at,omitempty"`
}

// TotalPool returns UpPool + DownPool
func (r *Round) TotalPool() uint64 {
	return r.UpPool + r.DownPool
}

// Distributable is the amount winners share: total pool minus the fee
func (r *Round) Distributable() uint64 {
	return r.TotalPool() - r.Fee
}

// WinningPool returns the pool of the side matching outcome, 0 for FLAT/NONE
func (r *Round) WinningPool(o Outcome) uint64 {
	switch o {
	case OutcomeUp:
		return r.UpPool
	case OutcomeDown:
		return r.DownPool
	}
	return 0
}

// Stake is one participant's accumulated amount on each side of a round
type Stake struct {
	Up   uint64 `json:"up"`
	Down uint64 `json:"down"`
}

// Total returns Up + Down
func (s Stake) Total() uint64 {
	return s.Up + s.Down
}

// IsZero reports whether nothing is staked
func (s Stake) IsZero() bool {
	return s.Up == 0 && s.Down == 0
}

// Amount returns the stake on a side
func (s Stake) Amount(side Side) uint64 {
	if side == SideUp {
		return s.Up
	}
	return s.Down
}

// ValidateTiming checks the ordering and fixed-duration rules
func ValidateTiming(startTs, lockTs, resolveTs int64) error {
	if !(startTs < lockTs && lockTs < resolveTs) {
		return fmt.Errorf("%w: require start < lock < resolve, got %d/%d/%d",
			ErrInvalidTiming, startTs, lockTs, resolveTs)
	}
	if resolveTs != startTs+RoundDuration {
		return fmt.Errorf("%w: resolve must be start+%ds", ErrInvalidTiming, RoundDuration)
	}
	if lockTs != resolveTs-LockBeforeResolve {
		return fmt.Errorf("%w: lock must be resolve-%ds", ErrInvalidTiming, LockBeforeResolve)
	}
	return nil
}

// Schedule returns lock and resolve timestamps for a round starting at startTs
func Schedule(startTs int64) (lockTs, resolveTs int64) {
	resolveTs = startTs + RoundDuration
	return resolveTs - LockBeforeResolve, resolveTs
}
