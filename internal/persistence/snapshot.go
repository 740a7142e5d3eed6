package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"RoundLedger/internal/core"
	"RoundLedger/internal/event"
	"RoundLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// SnapshotFormatVersion is stored with every snapshot row
const SnapshotFormatVersion int32 = 1

// SnapshotManager handles creating and loading state snapshots for recovery.
// A warm restart loads the latest verified snapshot and replays the event
// log from snapshot.sequence+1; a cold restart replays everything.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the stored form of a snapshot
type SnapshotData struct {
	Engine    *core.SnapshotState `json:"engine"`
	CreatedAt time.Time           `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. It starts unverified.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	if snap.Engine == nil {
		return errors.New("snapshot has no engine state")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Engine.Sequence, data, snap.Engine.StateHash[:],
		SnapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot at %d: %w", snap.Engine.Sequence, err)
	}
	return nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil when
// there is none.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, SnapshotFormatVersion)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Engine == nil {
		return nil, errors.New("snapshot has no engine state")
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after its integrity check
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads up to limit events starting at fromSequence, in order
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]*event.EventEnvelope, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, round_id, market, payload,
		       state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envs []*event.EventEnvelope
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(
			&r.Sequence, &r.EventType, &r.IdempotencyKey, &r.RoundID, &r.Market,
			&r.Payload, &r.StateHash, &r.PrevHash, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		env, err := r.Envelope()
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

// Envelope converts a stored row back into an envelope
func (r EventRow) Envelope() (*event.EventEnvelope, error) {
	et := event.ParseEventType(r.EventType)
	if et == event.EventTypeUnknown {
		return nil, fmt.Errorf("sequence %d: unknown event type %q", r.Sequence, r.EventType)
	}
	if len(r.StateHash) != 32 || len(r.PrevHash) != 32 {
		return nil, fmt.Errorf("sequence %d: malformed hash columns", r.Sequence)
	}
	env := &event.EventEnvelope{
		Sequence:       r.Sequence,
		IdempotencyKey: r.IdempotencyKey,
		EventType:      et,
		RoundID:        uint64(r.RoundID),
		Market:         common.HexToHash(r.Market),
		Timestamp:      r.Timestamp,
		Payload:        r.Payload,
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env, nil
}

// ReplayFrom streams the event log from fromSequence into apply in pages
// of pageSize. It returns the number of events applied.
func (sm *SnapshotManager) ReplayFrom(ctx context.Context, fromSequence int64, pageSize int, apply func(*event.EventEnvelope) error) (int, error) {
	applied := 0
	next := fromSequence
	for {
		envs, err := sm.LoadEventsFrom(ctx, next, pageSize)
		if err != nil {
			return applied, fmt.Errorf("load events from %d: %w", next, err)
		}
		for _, env := range envs {
			if err := apply(env); err != nil {
				return applied, err
			}
			applied++
			next = env.Sequence + 1
		}
		if len(envs) < pageSize {
			return applied, nil
		}
	}
}

// GetLatestSequence returns the highest sequence in the event log
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// LoadJournals loads every persisted journal grouped into batches, in the
// order they were recorded
func (sm *SnapshotManager) LoadJournals(ctx context.Context) ([]*ledger.Batch, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT journal_id, batch_id, event_ref, debit_account, credit_account,
		       amount, journal_type, timestamp
		FROM event_log.journal
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jrows []JournalRow
	for rows.Next() {
		var j JournalRow
		if err := rows.Scan(
			&j.JournalID, &j.BatchID, &j.EventRef, &j.DebitAccount,
			&j.CreditAccount, &j.Amount, &j.JournalType, &j.Timestamp,
		); err != nil {
			return nil, err
		}
		jrows = append(jrows, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return GroupJournals(jrows)
}

// GroupJournals rebuilds ledger batches from journal rows, keeping the
// order in which each batch first appears.
func GroupJournals(rows []JournalRow) ([]*ledger.Batch, error) {
	var batches []*ledger.Batch
	index := make(map[uuid.UUID]*ledger.Batch)

	for _, r := range rows {
		j, err := r.Journal()
		if err != nil {
			return nil, err
		}
		b, ok := index[j.BatchID]
		if !ok {
			b = &ledger.Batch{BatchID: j.BatchID, EventRef: j.EventRef, Timestamp: j.Timestamp}
			index[j.BatchID] = b
			batches = append(batches, b)
		}
		b.Journals = append(b.Journals, j)
	}
	return batches, nil
}

// Journal converts a stored row back into a ledger journal
func (r JournalRow) Journal() (ledger.Journal, error) {
	jid, err := uuid.Parse(r.JournalID)
	if err != nil {
		return ledger.Journal{}, fmt.Errorf("journal id %q: %w", r.JournalID, err)
	}
	bid, err := uuid.Parse(r.BatchID)
	if err != nil {
		return ledger.Journal{}, fmt.Errorf("batch id %q: %w", r.BatchID, err)
	}
	debit, err := ledger.ParseAccountPath(r.DebitAccount)
	if err != nil {
		return ledger.Journal{}, err
	}
	credit, err := ledger.ParseAccountPath(r.CreditAccount)
	if err != nil {
		return ledger.Journal{}, err
	}
	return ledger.Journal{
		JournalID:     jid,
		BatchID:       bid,
		EventRef:      r.EventRef,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        r.Amount,
		JournalType:   ledger.JournalType(r.JournalType),
		Timestamp:     r.Timestamp,
	}, nil
}
