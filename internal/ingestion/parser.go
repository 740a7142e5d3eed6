package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	fpmath "RoundLedger/internal/math"
	"RoundLedger/internal/oracle"
	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var ErrInvalidTick = errors.New("invalid price tick")

// PriceTick is one decoded price observation for a market
type PriceTick struct {
	Symbol   string
	Market   common.Hash
	Sequence int64
	Price    oracle.Price
}

// priceTickJSON is the wire format on roundledger.prices.<SYMBOL>.
// Price is a decimal (quoted or bare). When Expo is set the price is an
// integer mantissa scaled by 10^Expo, as oracle networks publish it.
type priceTickJSON struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Expo        *int32          `json:"expo,omitempty"`
	PublishTime int64           `json:"publish_time"`
	Sequence    int64           `json:"sequence"`
}

// ParsePriceTick decodes a tick. The symbol falls back to the subject suffix
// (roundledger.prices.BTC-USD -> BTC/USD) when the payload omits it.
func ParsePriceTick(raw RawEvent) (PriceTick, error) {
	var j priceTickJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return PriceTick{}, fmt.Errorf("%w: %v", ErrInvalidTick, err)
	}

	symbol := j.Symbol
	if symbol == "" {
		symbol = symbolFromSubject(raw.Subject)
	}
	if symbol == "" {
		return PriceTick{}, fmt.Errorf("%w: missing symbol", ErrInvalidTick)
	}
	if j.PublishTime <= 0 {
		return PriceTick{}, fmt.Errorf("%w: missing publish_time", ErrInvalidTick)
	}

	d := j.Price
	if j.Expo != nil {
		d = d.Shift(*j.Expo)
	}
	value, decimals, err := toFixedPoint(d)
	if err != nil {
		return PriceTick{}, err
	}

	return PriceTick{
		Symbol:   symbol,
		Market:   round.MarketID(symbol),
		Sequence: j.Sequence,
		Price: oracle.Price{
			Value:      value,
			Decimals:   decimals,
			ObservedAt: time.Unix(j.PublishTime, 0),
		},
	}, nil
}

// toFixedPoint splits a signed decimal into an int64 mantissa and a
// non-negative decimal count without losing digits.
func toFixedPoint(d decimal.Decimal) (int64, int32, error) {
	coef := d.Coefficient()
	exp := d.Exponent()
	if exp > 0 {
		coef.Mul(coef, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
		exp = 0
	}
	if -exp > fpmath.MaxDecimals {
		return 0, 0, fmt.Errorf("%w: %d decimals exceeds %d", ErrInvalidTick, -exp, fpmath.MaxDecimals)
	}
	if !coef.IsInt64() {
		return 0, 0, fmt.Errorf("%w: price %s out of range", ErrInvalidTick, d.String())
	}
	return coef.Int64(), -exp, nil
}

func symbolFromSubject(subject string) string {
	if !strings.HasPrefix(subject, PriceSubjectPrefix+".") {
		return ""
	}
	s := strings.TrimPrefix(subject, PriceSubjectPrefix+".")
	return strings.ReplaceAll(s, "-", "/")
}

// PriceSubject returns the subject a tick for symbol is published on
func PriceSubject(symbol string) string {
	return PriceSubjectPrefix + "." + strings.ReplaceAll(symbol, "/", "-")
}
