package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"RoundLedger/internal/event"
	"RoundLedger/internal/ledger"

	"github.com/lib/pq"
)

// IsConstraintViolation reports whether err is a Postgres integrity
// constraint violation (SQLSTATE class 23). Retrying such a write cannot
// succeed.
func IsConstraintViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Class() == "23"
}

// Execer is satisfied by *sql.DB and *sql.Tx
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes events and journals to Postgres using multi-row
// INSERTs. Writes are idempotent: a replayed batch hits ON CONFLICT.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	RoundID        int64
	Market         string
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// NewEventRow converts an envelope into its storage form
func NewEventRow(env *event.EventEnvelope) EventRow {
	return EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		RoundID:        int64(env.RoundID),
		Market:         env.Market.Hex(),
		Payload:        env.Payload,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp,
	}
}

// NewJournalRows flattens a ledger batch into journal rows
func NewJournalRows(b *ledger.Batch) []JournalRow {
	rows := make([]JournalRow, 0, len(b.Journals))
	for _, j := range b.Journals {
		rows = append(rows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Amount:        j.Amount,
			JournalType:   int32(j.JournalType),
			Timestamp:     j.Timestamp,
		})
	}
	return rows
}

// WriteEventBatch writes a batch of events to event_log.events
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex Execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]any, 0, len(events)*9)
	for _, e := range events {
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.RoundID, e.Market,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, round_id, market, payload, state_hash, prev_hash, timestamp)
		VALUES ` + placeholders(len(events), 9) + `
		ON CONFLICT (sequence) DO NOTHING`

	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %d events: %w", len(events), err)
	}
	return nil
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex Execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	args := make([]any, 0, len(journals)*8)
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.DebitAccount,
			j.CreditAccount, j.Amount, j.JournalType, j.Timestamp,
		)
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, debit_account, credit_account, amount, journal_type, timestamp)
		VALUES ` + placeholders(len(journals), 8) + `
		ON CONFLICT (journal_id) DO NOTHING`

	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %d journals: %w", len(journals), err)
	}
	return nil
}

// placeholders renders "($1, $2), ($3, $4)" for rows x cols parameters
func placeholders(rows, cols int) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}
