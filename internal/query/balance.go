package query

import (
	"RoundLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceReader is the read side of the credit ledger
type BalanceReader interface {
	Balance(participant common.Address) int64
}

// AccountView is a participant's credit balance
type AccountView struct {
	Participant string `json:"participant"`
	Account     string `json:"account"`
	Available   int64  `json:"available"`
}

// NewAccountView reads a participant's available credits
func NewAccountView(r BalanceReader, participant common.Address) AccountView {
	return AccountView{
		Participant: participant.Hex(),
		Account:     ledger.ParticipantAccount(participant).AccountPath(),
		Available:   r.Balance(participant),
	}
}
