package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"RoundLedger/internal/core"
	"RoundLedger/internal/ingestion"
	"RoundLedger/internal/ledger"
	"RoundLedger/internal/observability"

	"github.com/rs/zerolog"
)

// ErrUnwritableBatch means a batch violates a schema constraint. The worker
// stops instead of retrying it, since the event log would otherwise stall.
var ErrUnwritableBatch = errors.New("batch violates event log constraints")

// WorkerConfig sizes the batching of the persistence worker
type WorkerConfig struct {
	BatchSize    int
	FlushTimeout time.Duration
}

// PersistenceWorker drains the engine's persist channel and the ledger's
// journal channel and batch-writes both to Postgres in one transaction.
// The engine sends on the persist channel blocking, so a slow worker stalls
// the engine rather than losing events.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	eventChan    <-chan core.CoreOutput
	journalChan  <-chan *ledger.Batch
	publishChan  chan<- ingestion.PublishableEvent
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// NewPersistenceWorker wires the worker. journalChan and publishChan may be nil.
func NewPersistenceWorker(
	db *sql.DB,
	eventChan <-chan core.CoreOutput,
	journalChan <-chan *ledger.Batch,
	publishChan chan<- ingestion.PublishableEvent,
	cfg WorkerConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 50 * time.Millisecond
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		eventChan:    eventChan,
		journalChan:  journalChan,
		publishChan:  publishChan,
		batchSize:    cfg.BatchSize,
		flushTimeout: cfg.FlushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

type pending struct {
	events   []EventRow
	journals []JournalRow
	outbound []ingestion.PublishableEvent
}

func (p *pending) size() int { return len(p.events) + len(p.journals) }

func (p *pending) reset() {
	p.events = p.events[:0]
	p.journals = p.journals[:0]
	p.outbound = p.outbound[:0]
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or both inputs close.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	var batch pending
	eventChan := pw.eventChan
	journalChan := pw.journalChan

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		if eventChan == nil && journalChan == nil {
			pw.finalFlush(&batch)
			return nil
		}

		select {
		case <-ctx.Done():
			pw.drain(&batch, eventChan, journalChan)
			pw.finalFlush(&batch)
			return ctx.Err()

		case output, ok := <-eventChan:
			if !ok {
				eventChan = nil
				continue
			}
			batch.events = append(batch.events, NewEventRow(output.Envelope))
			batch.outbound = append(batch.outbound, ingestion.NewPublishableEvent(output.Envelope))

		case b, ok := <-journalChan:
			if !ok {
				journalChan = nil
				continue
			}
			batch.journals = append(batch.journals, NewJournalRows(b)...)

		case <-timer.C:
			if batch.size() > 0 {
				if err := pw.flushWithRetry(ctx, &batch); err != nil {
					return err
				}
			}
			timer.Reset(pw.flushTimeout)
			continue
		}

		if batch.size() >= pw.batchSize {
			if err := pw.flushWithRetry(ctx, &batch); err != nil {
				return err
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// drain picks up whatever is already buffered without blocking
func (pw *PersistenceWorker) drain(batch *pending, eventChan <-chan core.CoreOutput, journalChan <-chan *ledger.Batch) {
	for {
		select {
		case output, ok := <-eventChan:
			if !ok {
				eventChan = nil
				continue
			}
			batch.events = append(batch.events, NewEventRow(output.Envelope))
			batch.outbound = append(batch.outbound, ingestion.NewPublishableEvent(output.Envelope))
		case b, ok := <-journalChan:
			if !ok {
				journalChan = nil
				continue
			}
			batch.journals = append(batch.journals, NewJournalRows(b)...)
		default:
			return
		}
	}
}

func (pw *PersistenceWorker) finalFlush(batch *pending) {
	if batch.size() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pw.flush(ctx, batch); err != nil {
		pw.logger.Error().Err(err).
			Int("events", len(batch.events)).
			Int("journals", len(batch.journals)).
			Msg("final flush failed")
		return
	}
	batch.reset()
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, in which case one last attempt is made on shutdown.
// Events are never dropped while the process is alive. A constraint
// violation is returned as ErrUnwritableBatch without retrying.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pending) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch.events)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				pw.finalFlush(batch)
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			batch.reset()
			return nil
		}

		if IsConstraintViolation(err) {
			pw.countError("constraint")
			pw.logger.Error().Err(err).
				Int("events", len(batch.events)).
				Int("journals", len(batch.journals)).
				Msg("persistence batch rejected by constraints, stopping")
			return fmt.Errorf("%w: %v", ErrUnwritableBatch, err)
		}

		pw.logger.Error().Err(err).Msg("persistence flush failed")
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch *pending) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, batch.events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, batch.journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch.events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(batch.events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		if len(batch.events) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(batch.events[len(batch.events)-1].Sequence))
		}
	}

	pw.publish(batch.outbound)
	return nil
}

// publish forwards committed events to the outbound publisher. Sends never
// block persistence; a full channel is counted and skipped.
func (pw *PersistenceWorker) publish(events []ingestion.PublishableEvent) {
	if pw.publishChan == nil {
		return
	}
	for _, evt := range events {
		select {
		case pw.publishChan <- evt:
		default:
			if pw.metrics != nil {
				pw.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
