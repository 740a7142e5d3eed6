package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"RoundLedger/internal/core"
	"RoundLedger/internal/event"
	"RoundLedger/internal/observability"
	"RoundLedger/internal/round"

	"github.com/rs/zerolog"
)

// WatermarkName identifies this worker's row in projections.watermark
const WatermarkName = "rounds"

// EventLoader streams persisted events; satisfied by persistence.SnapshotManager
type EventLoader interface {
	ReplayFrom(ctx context.Context, fromSequence int64, pageSize int, apply func(*event.EventEnvelope) error) (int, error)
}

// ProjectionWorker maintains the rounds, stakes and claims read models.
// The engine feeds it non-blocking, so outputs can be dropped; when a gap is
// seen the worker stops applying live outputs and catches up from the event
// log until it meets the live stream again.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	loader    EventLoader
	interval  time.Duration
	metrics   *observability.Metrics
	logger    zerolog.Logger

	watermark int64
	behind    bool
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	loader EventLoader,
	catchUpInterval time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	if catchUpInterval <= 0 {
		catchUpInterval = time.Second
	}
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		loader:    loader,
		interval:  catchUpInterval,
		metrics:   metrics,
		logger:    logger,
	}
}

// Watermark returns the last applied sequence
func (pw *ProjectionWorker) Watermark() int64 {
	return pw.watermark
}

// Run loads the watermark, catches up from the event log and then follows
// the live stream. Blocks until ctx is cancelled or the input closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	wm, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.watermark = wm
	pw.behind = true
	pw.catchUp(ctx)

	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if pw.behind {
				pw.catchUp(ctx)
			}

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			switch {
			case seq <= pw.watermark:
				// already applied during catch-up
			case seq == pw.watermark+1:
				if err := pw.apply(ctx, output.Envelope, output.Event); err != nil {
					pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
					pw.behind = true
					continue
				}
				pw.behind = false
			default:
				if !pw.behind {
					pw.logger.Warn().
						Int64("sequence", seq).
						Int64("watermark", pw.watermark).
						Msg("projection gap, catching up from event log")
				}
				pw.behind = true
			}
		}
	}
}

// catchUp applies persisted events after the watermark
func (pw *ProjectionWorker) catchUp(ctx context.Context) {
	if pw.loader == nil {
		pw.behind = false
		return
	}
	_, err := pw.loader.ReplayFrom(ctx, pw.watermark+1, 500, func(env *event.EventEnvelope) error {
		return pw.Apply(ctx, env)
	})
	if err != nil {
		pw.logger.Warn().Err(err).Int64("watermark", pw.watermark).Msg("projection catch-up failed")
		return
	}
	pw.behind = false
}

// Apply decodes and applies one envelope. Sequences at or below the
// watermark are ignored.
func (pw *ProjectionWorker) Apply(ctx context.Context, env *event.EventEnvelope) error {
	if env.Sequence <= pw.watermark {
		return nil
	}
	evt, err := event.Decode(env.EventType.String(), env.Payload)
	if err != nil {
		return err
	}
	return pw.apply(ctx, env, evt)
}

func (pw *ProjectionWorker) apply(ctx context.Context, env *event.EventEnvelope, evt event.Event) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyEvent(ctx, tx, env.Sequence, evt); err != nil {
		return fmt.Errorf("%s at %d: %w", env.EventType, env.Sequence, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (name, sequence)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET sequence = $2
	`, WatermarkName, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	pw.watermark = env.Sequence

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.Observe(time.Since(start).Seconds())
	}
	return nil
}

func applyEvent(ctx context.Context, tx *sql.Tx, seq int64, evt event.Event) error {
	var err error
	switch e := evt.(type) {
	case *event.RoundCreated:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projections.rounds
				(round_id, market, start_ts, lock_ts, resolve_ts, fee_bps, updated_seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (round_id) DO NOTHING
		`, int64(e.RoundID), e.Market.Hex(), e.StartTs, e.LockTs, e.ResolveTs, int32(e.FeeBps), seq)

	case *event.ReferencePriceLocked:
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.rounds SET ref_price = $2, updated_seq = $3 WHERE round_id = $1
		`, int64(e.RoundID), e.Price, seq)

	case *event.BetPlaced:
		up, down := "0", "0"
		if e.Side == round.SideUp {
			up = numeric(e.Amount)
		} else {
			down = numeric(e.Amount)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO projections.stakes (round_id, participant, up, down)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (round_id, participant)
			DO UPDATE SET up = projections.stakes.up + $3::numeric, down = projections.stakes.down + $4::numeric
		`, int64(e.RoundID), e.Participant.Hex(), up, down); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.rounds
			SET up_pool = up_pool + $2::numeric, down_pool = down_pool + $3::numeric, updated_seq = $4
			WHERE round_id = $1
		`, int64(e.RoundID), up, down, seq)

	case *event.FeeCharged:
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.rounds SET fee = $2, updated_seq = $3 WHERE round_id = $1
		`, int64(e.RoundID), numeric(e.Amount), seq)

	case *event.RoundResolved:
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.rounds
			SET resolved = TRUE, outcome = $2, settle_price = $3, fee = $4,
			    resolved_at = $5, updated_seq = $6
			WHERE round_id = $1
		`, int64(e.RoundID), e.Outcome.String(), e.SettlePrice, numeric(e.Fee), e.ResolvedAt, seq)

	case *event.Claimed:
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO projections.claims (round_id, participant, market, payout, claimed_at, sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (round_id, participant) DO NOTHING
		`, int64(e.RoundID), e.Participant.Hex(), e.Market.Hex(), numeric(e.Amount), e.ClaimedAt, seq); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.rounds SET claimed = claimed + $2::numeric, updated_seq = $3 WHERE round_id = $1
		`, int64(e.RoundID), numeric(e.Amount), seq)

	default:
		err = fmt.Errorf("unhandled event type %s", evt.EventType())
	}
	return err
}

// numeric renders a uint64 for a NUMERIC(20) column
func numeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// LoadWatermark returns the last projected sequence, 0 when none
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT sequence FROM projections.watermark WHERE name = $1
	`, WatermarkName).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// RebuildProjections truncates every read model and replays the event log
func RebuildProjections(ctx context.Context, db *sql.DB, loader EventLoader, logger zerolog.Logger) error {
	for _, stmt := range []string{
		`TRUNCATE projections.rounds`,
		`TRUNCATE projections.stakes`,
		`TRUNCATE projections.claims`,
		`DELETE FROM projections.watermark WHERE name = '` + WatermarkName + `'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	pw := NewProjectionWorker(db, nil, loader, 0, nil, logger)
	n, err := loader.ReplayFrom(ctx, 1, 500, func(env *event.EventEnvelope) error {
		return pw.Apply(ctx, env)
	})
	if err != nil {
		return fmt.Errorf("rebuild after %d events: %w", n, err)
	}

	logger.Info().Int("events", n).Int64("watermark", pw.Watermark()).Msg("projection rebuild complete")
	return nil
}
