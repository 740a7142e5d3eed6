// Package oracle is the price-source boundary of the settlement engine.
// A PriceSource answers "latest price for market, no older than maxAge";
// Client adds the call timeout and rescales into engine precision.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrPriceStale       = errors.New("price stale")
	ErrPriceOverflow    = errors.New("price does not fit engine precision")
)

// Price is a signed fixed-point reading: Value * 10^-Decimals
type Price struct {
	Value      int64     `json:"value"`
	Decimals   int32     `json:"decimals"`
	ObservedAt time.Time `json:"observed_at"`
}

// PriceSource is the consumed price-oracle contract
type PriceSource interface {
	GetPriceWithFreshness(ctx context.Context, market common.Hash, maxAge time.Duration) (Price, error)
}

// PriceCache is a PriceSource fed by the price feed
type PriceCache interface {
	PriceSource
	Update(ctx context.Context, market common.Hash, p Price) error
}

// checkFresh applies the staleness bound shared by every cache implementation
func checkFresh(p Price, now time.Time, maxAge time.Duration) error {
	if p.ObservedAt.IsZero() {
		return ErrPriceUnavailable
	}
	if now.Sub(p.ObservedAt) > maxAge {
		return ErrPriceStale
	}
	return nil
}
