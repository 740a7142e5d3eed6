package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeCredit JournalType = iota
	JournalTypeStake
	JournalTypeFee
	JournalTypePayout
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeCredit:
		return "credit"
	case JournalTypeStake:
		return "stake"
	case JournalTypeFee:
		return "fee"
	case JournalTypePayout:
		return "payout"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string     // Idempotency key of the source event
	DebitAccount  AccountKey // balance increases
	CreditAccount AccountKey // balance decreases
	Amount        int64      // always positive
	JournalType   JournalType
	Timestamp     int64 // epoch microseconds
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount from the credit to the debit account, so every batch is balanced by
// construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}

func newBatch(ref string, ts int64, typ JournalType, debit, credit AccountKey, amount int64) *Batch {
	batchID := uuid.New()
	return &Batch{
		BatchID:   batchID,
		EventRef:  ref,
		Timestamp: ts,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      ref,
			DebitAccount:  debit,
			CreditAccount: credit,
			Amount:        amount,
			JournalType:   typ,
			Timestamp:     ts,
		}},
	}
}
