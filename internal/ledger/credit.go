package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransfer     = errors.New("invalid transfer")
)

// CreditLedger is the internal value custody: participants hold credits,
// stakes move into a per-round escrow, fees and payouts move out of it.
// It satisfies the engine's value source (Collect) and sink (Deliver).
type CreditLedger struct {
	mu        sync.Mutex
	tracker   *BalanceTracker
	validator *InvariantValidator
	authz     round.Authorizer

	// Batches are forwarded here for persistence when set
	out chan<- *Batch

	now    func() time.Time
	logger zerolog.Logger
}

// CreditLedgerConfig wires a CreditLedger. Out and Now are optional.
type CreditLedgerConfig struct {
	Authorizer round.Authorizer
	Out        chan<- *Batch
	Now        func() time.Time
	Logger     zerolog.Logger
}

func NewCreditLedger(cfg CreditLedgerConfig) *CreditLedger {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	tracker := NewBalanceTracker()
	return &CreditLedger{
		tracker:   tracker,
		validator: NewInvariantValidator(tracker),
		authz:     cfg.Authorizer,
		out:       cfg.Out,
		now:       now,
		logger:    cfg.Logger,
	}
}

// Credit funds a participant from the external deposits account.
// Requires operator authority.
func (l *CreditLedger) Credit(ctx context.Context, principal string, participant common.Address, amount uint64, ref string) (int64, error) {
	if l.authz == nil || !l.authz.IsOperator(principal) {
		return 0, round.ErrUnauthorized
	}
	if participant == (common.Address{}) {
		return 0, fmt.Errorf("%w: zero participant", ErrInvalidTransfer)
	}
	amt, err := toAmount(amount)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	batch := newBatch(ref, l.now().UnixMicro(), JournalTypeCredit, ParticipantAccount(participant), DepositsAccount(), amt)
	if err := l.tracker.ApplyBatch(batch); err != nil {
		l.mu.Unlock()
		return 0, err
	}
	balance := l.tracker.GetBalance(ParticipantAccount(participant))
	l.mu.Unlock()

	l.logger.Info().
		Str("participant", participant.Hex()).
		Uint64("amount", amount).
		Str("principal", principal).
		Msg("participant credited")

	return balance, l.forward(ctx, batch)
}

// Collect moves a stake from the participant into the round escrow
func (l *CreditLedger) Collect(ctx context.Context, t round.Transfer) error {
	if t.Kind != round.TransferStake {
		return fmt.Errorf("%w: collect of %s", ErrInvalidTransfer, t.Kind)
	}
	amt, err := toAmount(t.Amount)
	if err != nil {
		return err
	}

	from := ParticipantAccount(t.Participant)

	l.mu.Lock()
	if err := l.tracker.ValidateSufficient(from, amt); err != nil {
		l.mu.Unlock()
		return err
	}
	batch := newBatch(t.Ref, l.now().UnixMicro(), JournalTypeStake, EscrowAccount(t.RoundID), from, amt)
	if err := l.tracker.ApplyBatch(batch); err != nil {
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	return l.forward(ctx, batch)
}

// Deliver pays out of a round escrow: fees to the fee account, payouts and
// refunds to the participant.
func (l *CreditLedger) Deliver(ctx context.Context, t round.Transfer) error {
	var (
		to  AccountKey
		typ JournalType
	)
	switch t.Kind {
	case round.TransferFee:
		to, typ = FeeAccount(), JournalTypeFee
	case round.TransferPayout:
		to, typ = ParticipantAccount(t.Participant), JournalTypePayout
	default:
		return fmt.Errorf("%w: deliver of %s", ErrInvalidTransfer, t.Kind)
	}
	amt, err := toAmount(t.Amount)
	if err != nil {
		return err
	}

	escrow := EscrowAccount(t.RoundID)

	l.mu.Lock()
	if err := l.tracker.ValidateSufficient(escrow, amt); err != nil {
		l.mu.Unlock()
		return err
	}
	batch := newBatch(t.Ref, l.now().UnixMicro(), typ, to, escrow, amt)
	if err := l.tracker.ApplyBatch(batch); err != nil {
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	return l.forward(ctx, batch)
}

// forward hands a committed batch to persistence. The balance change has
// already happened; a cancelled context only loses the durable copy.
func (l *CreditLedger) forward(ctx context.Context, batch *Batch) error {
	if l.out == nil {
		return nil
	}
	select {
	case l.out <- batch:
		return nil
	case <-ctx.Done():
		l.logger.Error().
			Str("batch_id", batch.BatchID.String()).
			Str("event_ref", batch.EventRef).
			Msg("journal batch not forwarded to persistence")
		return nil
	}
}

// Restore applies previously persisted batches without forwarding them
func (l *CreditLedger) Restore(batches []*Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, b := range batches {
		if err := l.tracker.ApplyBatch(b); err != nil {
			return fmt.Errorf("restore batch %s: %w", b.BatchID, err)
		}
	}
	return l.validator.ValidateGlobalBalance()
}

// Balance returns a participant's available credits
func (l *CreditLedger) Balance(participant common.Address) int64 {
	return l.balance(ParticipantAccount(participant))
}

// EscrowBalance returns what a round escrow still holds (stakes not yet paid
// out, plus dust after every claim)
func (l *CreditLedger) EscrowBalance(roundID uint64) int64 {
	return l.balance(EscrowAccount(roundID))
}

// FeeBalance returns the accumulated platform fees
func (l *CreditLedger) FeeBalance() int64 {
	return l.balance(FeeAccount())
}

func (l *CreditLedger) balance(key AccountKey) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracker.GetBalance(key)
}

// CheckInvariants verifies zero-sum and non-negative internal accounts
func (l *CreditLedger) CheckInvariants() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	return l.validator.ValidateInternalNonNegative()
}

// Balances returns a copy of every account balance
func (l *CreditLedger) Balances() map[AccountKey]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tracker.Snapshot()
}

func toAmount(v uint64) (int64, error) {
	if v == 0 {
		return 0, fmt.Errorf("%w: zero amount", ErrInvalidTransfer)
	}
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: amount %d exceeds ledger range", ErrInvalidTransfer, v)
	}
	return int64(v), nil
}
