package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	fpmath "RoundLedger/internal/math"
	"RoundLedger/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Client fetches prices with an explicit timeout and returns them in the
// engine's fixed-point precision. Prices are signed; rejecting a zero
// reference is left to the engine.
type Client struct {
	source   PriceSource
	timeout  time.Duration
	decimals int32
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewClient(source PriceSource, timeout time.Duration, decimals int32, metrics *observability.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		source:   source,
		timeout:  timeout,
		decimals: decimals,
		metrics:  metrics,
		logger:   logger,
	}
}

// FetchPrice returns the rescaled price and its observation time
func (c *Client) FetchPrice(ctx context.Context, market common.Hash, maxAge time.Duration) (int64, time.Time, error) {
	start := time.Now()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	p, err := c.source.GetPriceWithFreshness(ctx, market, maxAge)

	var value int64
	if err == nil {
		value, err = fpmath.Rescale(p.Value, p.Decimals, c.decimals, fpmath.RoundDown)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrPriceOverflow, err)
		}
	}

	if c.metrics != nil {
		c.metrics.OracleFetchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			c.metrics.OracleFetchErrors.WithLabelValues(errorReason(err)).Inc()
		}
	}

	if err != nil {
		c.logger.Warn().Err(err).Str("market", market.Hex()).Dur("max_age", maxAge).Msg("price fetch failed")
		return 0, time.Time{}, err
	}
	return value, p.ObservedAt, nil
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrPriceStale):
		return "stale"
	case errors.Is(err, ErrPriceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrPriceOverflow):
		return "overflow"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
