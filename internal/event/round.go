package event

import (
	"fmt"

	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
)

type RoundCreated struct {
	RoundID   uint64      `json:"round_id"`
	Market    common.Hash `json:"market"`
	StartTs   int64       `json:"start_ts"`
	LockTs    int64       `json:"lock_ts"`
	ResolveTs int64       `json:"resolve_ts"`
	FeeBps    uint16      `json:"fee_bps"`
	CreatedBy string      `json:"created_by"`
	CreatedAt int64       `json:"created_at"`
}

func (e *RoundCreated) IdempotencyKey() string {
	return fmt.Sprintf("round:%d:created", e.RoundID)
}

func (e *RoundCreated) EventType() EventType  { return EventTypeRoundCreated }
func (e *RoundCreated) Round() uint64         { return e.RoundID }
func (e *RoundCreated) MarketID() common.Hash { return e.Market }

// ReferencePriceLocked records the lazily captured reference price of a round
type ReferencePriceLocked struct {
	RoundID    uint64      `json:"round_id"`
	Market     common.Hash `json:"market"`
	Price      int64       `json:"price"`
	ObservedAt int64       `json:"observed_at"`
}

func (e *ReferencePriceLocked) IdempotencyKey() string {
	return fmt.Sprintf("round:%d:ref_price", e.RoundID)
}

func (e *ReferencePriceLocked) EventType() EventType  { return EventTypeReferencePriceLocked }
func (e *ReferencePriceLocked) Round() uint64         { return e.RoundID }
func (e *ReferencePriceLocked) MarketID() common.Hash { return e.Market }

type BetPlaced struct {
	RoundID     uint64         `json:"round_id"`
	Market      common.Hash    `json:"market"`
	Participant common.Address `json:"participant"`
	Side        round.Side     `json:"side"`
	Amount      uint64         `json:"amount"`
	RequestID   string         `json:"request_id"`
	PlacedAt    int64          `json:"placed_at"`
}

func (e *BetPlaced) IdempotencyKey() string {
	return "bet:" + e.RequestID
}

func (e *BetPlaced) EventType() EventType  { return EventTypeBetPlaced }
func (e *BetPlaced) Round() uint64         { return e.RoundID }
func (e *BetPlaced) MarketID() common.Hash { return e.Market }

type RoundResolved struct {
	RoundID     uint64        `json:"round_id"`
	Market      common.Hash   `json:"market"`
	Outcome     round.Outcome `json:"outcome"`
	SettlePrice int64         `json:"settle_price"`
	Fee         uint64        `json:"fee"`
	ResolvedAt  int64         `json:"resolved_at"`
}

func (e *RoundResolved) IdempotencyKey() string {
	return fmt.Sprintf("round:%d:resolved", e.RoundID)
}

func (e *RoundResolved) EventType() EventType  { return EventTypeRoundResolved }
func (e *RoundResolved) Round() uint64         { return e.RoundID }
func (e *RoundResolved) MarketID() common.Hash { return e.Market }

type FeeCharged struct {
	RoundID uint64      `json:"round_id"`
	Market  common.Hash `json:"market"`
	Amount  uint64      `json:"amount"`
}

func (e *FeeCharged) IdempotencyKey() string {
	return fmt.Sprintf("round:%d:fee", e.RoundID)
}

func (e *FeeCharged) EventType() EventType  { return EventTypeFeeCharged }
func (e *FeeCharged) Round() uint64         { return e.RoundID }
func (e *FeeCharged) MarketID() common.Hash { return e.Market }

type Claimed struct {
	RoundID     uint64         `json:"round_id"`
	Market      common.Hash    `json:"market"`
	Participant common.Address `json:"participant"`
	Amount      uint64         `json:"amount"`
	ClaimedAt   int64          `json:"claimed_at"`
}

func (e *Claimed) IdempotencyKey() string {
	return fmt.Sprintf("round:%d:claim:%s", e.RoundID, e.Participant.Hex())
}

func (e *Claimed) EventType() EventType  { return EventTypeClaimed }
func (e *Claimed) Round() uint64         { return e.RoundID }
func (e *Claimed) MarketID() common.Hash { return e.Market }
