package ledger

import (
	"fmt"
	"math"
)

// BalanceTracker maintains in-memory account balances. Not safe for
// concurrent use; CreditLedger guards it.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances. An entry that
// would push either account outside the int64 range is rejected whole.
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	debit, credit, err := bt.next(j, bt.balances[j.DebitAccount], bt.balances[j.CreditAccount])
	if err != nil {
		return err
	}
	bt.balances[j.DebitAccount] = debit
	bt.balances[j.CreditAccount] = credit
	return nil
}

// ApplyBatch applies all journals in a batch, or none of them
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	staged := make(map[AccountKey]int64, 2*len(batch.Journals))
	get := func(key AccountKey) int64 {
		if v, ok := staged[key]; ok {
			return v
		}
		return bt.balances[key]
	}
	for _, j := range batch.Journals {
		debit, credit, err := bt.next(j, get(j.DebitAccount), get(j.CreditAccount))
		if err != nil {
			return fmt.Errorf("batch %s: %w", batch.BatchID, err)
		}
		staged[j.DebitAccount] = debit
		staged[j.CreditAccount] = credit
	}

	for key, v := range staged {
		bt.balances[key] = v
	}
	return nil
}

func (bt *BalanceTracker) next(j Journal, debit, credit int64) (int64, int64, error) {
	if j.Amount <= 0 {
		return 0, 0, fmt.Errorf("%w: non-positive amount %d", ErrInvalidTransfer, j.Amount)
	}
	if debit > math.MaxInt64-j.Amount {
		return 0, 0, fmt.Errorf("%w: %s balance overflow", ErrInvalidTransfer, j.DebitAccount.AccountPath())
	}
	if credit < math.MinInt64+j.Amount {
		return 0, 0, fmt.Errorf("%w: %s balance underflow", ErrInvalidTransfer, j.CreditAccount.AccountPath())
	}
	return debit + j.Amount, credit - j.Amount, nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// ComputeGlobalBalance sums all account balances (0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() int64 {
	var total int64
	for _, balance := range bt.balances {
		total += balance
	}
	return total
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ValidateSufficient checks that key holds at least required
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required int64) error {
	have := bt.GetBalance(key)
	if have < required {
		return fmt.Errorf("%w: %s have=%d, need=%d", ErrInsufficientBalance, key.AccountPath(), have, required)
	}
	return nil
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
