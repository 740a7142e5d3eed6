package round

import "github.com/ethereum/go-ethereum/common"

// TransferKind tags a value movement between a participant, a round escrow
// and the fee account.
type TransferKind uint8

const (
	TransferStake TransferKind = iota + 1
	TransferFee
	TransferPayout
)

func (k TransferKind) String() string {
	switch k {
	case TransferStake:
		return "stake"
	case TransferFee:
		return "fee"
	case TransferPayout:
		return "payout"
	default:
		return "unknown"
	}
}

// Transfer is a single value movement requested by the engine.
// Participant is zero for fee transfers. Ref is the idempotency key of the
// event the transfer belongs to.
type Transfer struct {
	RoundID     uint64
	Participant common.Address
	Amount      uint64
	Kind        TransferKind
	Ref         string
}
