package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateGlobalBalance verifies the ledger is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	if total := v.tracker.ComputeGlobalBalance(); total != 0 {
		return fmt.Errorf("global balance is non-zero: %d", total)
	}
	return nil
}

// ValidateInternalNonNegative checks every participant, escrow and fee
// account is >= 0. Only the external deposits boundary may go negative.
func (v *InvariantValidator) ValidateInternalNonNegative() error {
	for key, balance := range v.tracker.balances {
		if key.Scope == AccountScopeExternal {
			continue
		}
		if balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
		}
	}
	return nil
}

// ValidateEscrowCovers checks a round escrow still holds at least what its
// unpaid stakes may claim.
func (v *InvariantValidator) ValidateEscrowCovers(roundID uint64, owed uint64) error {
	have := v.tracker.GetBalance(EscrowAccount(roundID))
	if have < 0 || uint64(have) < owed {
		return fmt.Errorf("escrow of round %d holds %d, owes %d", roundID, have, owed)
	}
	return nil
}
