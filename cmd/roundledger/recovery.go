package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RoundLedger/internal/core"
	"RoundLedger/internal/ledger"
	"RoundLedger/internal/observability"
	"RoundLedger/internal/persistence"

	"github.com/rs/zerolog"
)

var errSnapshotAhead = errors.New("engine state ahead of the persisted event log")

// recoverState rebuilds in-memory state: the latest verified snapshot plus
// the event log after it for the engine, every journal for the ledger.
func recoverState(
	ctx context.Context,
	engine *core.Engine,
	credits *ledger.CreditLedger,
	snapMgr *persistence.SnapshotManager,
	pageSize int,
	logger zerolog.Logger,
) error {
	start := time.Now()

	from := int64(1)
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		if err := engine.RestoreFromSnapshot(snap.Engine); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		from = snap.Engine.Sequence + 1
	} else {
		logger.Info().Msg("no snapshot found, replaying the full event log")
	}

	replayed, err := snapMgr.ReplayFrom(ctx, from, pageSize, engine.Apply)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	batches, err := snapMgr.LoadJournals(ctx)
	if err != nil {
		return fmt.Errorf("load journals: %w", err)
	}
	if err := credits.Restore(batches); err != nil {
		return err
	}

	if err := engine.CheckInvariants(); err != nil {
		return fmt.Errorf("engine invariants after recovery: %w", err)
	}
	if err := credits.CheckInvariants(); err != nil {
		return fmt.Errorf("ledger invariants after recovery: %w", err)
	}

	logger.Info().
		Int64("sequence", engine.GetSequence()).
		Int("replayed", replayed).
		Int("journal_batches", len(batches)).
		Dur("took", time.Since(start)).
		Msg("state recovered")
	return nil
}

// runPeriodicSnapshots snapshots on every tick where the sequence moved
func runPeriodicSnapshots(
	ctx context.Context,
	engine *core.Engine,
	snapMgr *persistence.SnapshotManager,
	interval time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := engine.GetSequence()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq := engine.GetSequence()
			if seq == last {
				continue
			}
			err := takeSnapshot(ctx, engine, snapMgr, metrics)
			switch {
			case err == nil:
				last = seq
				logger.Info().Int64("sequence", seq).Msg("snapshot saved")
			case errors.Is(err, errSnapshotAhead):
				// Persistence is behind; retry on the next tick.
				logger.Debug().Err(err).Msg("snapshot deferred")
			default:
				logger.Error().Err(err).Msg("snapshot failed")
			}
		}
	}
}

// takeSnapshot stores the engine state and marks it verified once its state
// hash matches the persisted event at the same sequence. A snapshot ahead of
// the event log is refused: restart would replay from past a gap.
func takeSnapshot(ctx context.Context, engine *core.Engine, snapMgr *persistence.SnapshotManager, metrics *observability.Metrics) error {
	start := time.Now()

	state := engine.CreateSnapshotState()
	if state.Sequence == 0 {
		return nil
	}

	persisted, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("latest sequence: %w", err)
	}
	if persisted < state.Sequence {
		return fmt.Errorf("%w: state %d, persisted %d", errSnapshotAhead, state.Sequence, persisted)
	}

	if err := snapMgr.SaveSnapshot(ctx, &persistence.SnapshotData{Engine: state, CreatedAt: time.Now()}); err != nil {
		return err
	}

	envs, err := snapMgr.LoadEventsFrom(ctx, state.Sequence, 1)
	if err != nil {
		return fmt.Errorf("load event %d: %w", state.Sequence, err)
	}
	if len(envs) == 0 || envs[0].Sequence != state.Sequence || envs[0].StateHash != state.StateHash {
		return fmt.Errorf("snapshot %d does not match the event log", state.Sequence)
	}
	if err := snapMgr.MarkVerified(ctx, state.Sequence); err != nil {
		return err
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotLastSeq.Set(float64(state.Sequence))
	}
	return nil
}
