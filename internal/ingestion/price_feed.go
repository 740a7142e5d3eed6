package ingestion

import (
	"context"
	"time"

	"RoundLedger/internal/observability"
	"RoundLedger/internal/oracle"

	"github.com/rs/zerolog"
)

// PriceFeed drains raw price messages into the shared price cache.
// Malformed and stale ticks are ACKed and dropped; cache write failures are
// NAKed for redelivery.
type PriceFeed struct {
	rawChan   <-chan RawEvent
	cache     oracle.PriceCache
	sequences *SequenceValidator
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewPriceFeed(rawChan <-chan RawEvent, cache oracle.PriceCache, metrics *observability.Metrics, logger zerolog.Logger) *PriceFeed {
	return &PriceFeed{
		rawChan:   rawChan,
		cache:     cache,
		sequences: NewSequenceValidator(),
		metrics:   metrics,
		logger:    logger,
	}
}

// Run processes ticks until ctx is cancelled or the channel closes
func (f *PriceFeed) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-f.rawChan:
			if !ok {
				return nil
			}
			f.handle(ctx, raw)
		}
	}
}

func (f *PriceFeed) handle(ctx context.Context, raw RawEvent) {
	tick, err := ParsePriceTick(raw)
	if err != nil {
		f.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed price tick")
		f.record("invalid")
		ack(raw)
		return
	}

	accept, gap := f.sequences.ValidatePriceSequence(tick.Symbol, tick.Sequence)
	if !accept {
		f.record("stale")
		ack(raw)
		return
	}
	if gap {
		f.logger.Warn().
			Str("symbol", tick.Symbol).
			Int64("sequence", tick.Sequence).
			Msg("price sequence gap")
	}

	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.cache.Update(writeCtx, tick.Market, tick.Price); err != nil {
		f.logger.Error().Err(err).Str("symbol", tick.Symbol).Msg("price cache update failed")
		f.record("error")
		if raw.NakFunc != nil {
			raw.NakFunc()
		}
		return
	}

	f.record("applied")
	ack(raw)
}

func (f *PriceFeed) record(result string) {
	if f.metrics != nil {
		f.metrics.PriceTicks.WithLabelValues(result).Inc()
	}
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}
