package ingestion_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"RoundLedger/internal/ingestion"
	"RoundLedger/internal/oracle"
	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

func rawTick(subject, data string) ingestion.RawEvent {
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      []byte(data),
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParsePriceTick(t *testing.T) {
	tests := []struct {
		name         string
		subject      string
		data         string
		wantSymbol   string
		wantValue    int64
		wantDecimals int32
	}{
		{"quoted decimal", "roundledger.prices.BTC-USD", `{"symbol":"BTC/USD","price":"64123.45","publish_time":1700000000,"sequence":1}`, "BTC/USD", 6412345, 2},
		{"bare number", "roundledger.prices.ETH-USD", `{"symbol":"ETH/USD","price":3200.5,"publish_time":1700000000}`, "ETH/USD", 32005, 1},
		{"mantissa with expo", "roundledger.prices.BTC-USD", `{"symbol":"BTC/USD","price":"6412345000000","expo":-8,"publish_time":1700000000}`, "BTC/USD", 6412345, 2},
		{"integer price", "roundledger.prices.SOL-USD", `{"symbol":"SOL/USD","price":"150","publish_time":1700000000}`, "SOL/USD", 150, 0},
		{"negative price", "roundledger.prices.SPREAD-X", `{"symbol":"SPREAD/X","price":"-12.5","publish_time":1700000000}`, "SPREAD/X", -125, 1},
		{"symbol from subject", "roundledger.prices.BTC-USD", `{"price":"1.5","publish_time":1700000000}`, "BTC/USD", 15, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tick, err := ingestion.ParsePriceTick(rawTick(tt.subject, tt.data))
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if tick.Symbol != tt.wantSymbol || tick.Market != round.MarketID(tt.wantSymbol) {
				t.Errorf("symbol: got %s", tick.Symbol)
			}
			// compare by value: trailing zeros may change the split
			if got, want := scaled(tick.Price.Value, tick.Price.Decimals), scaled(tt.wantValue, tt.wantDecimals); got != want {
				t.Errorf("price: got %d@%d, want %d@%d", tick.Price.Value, tick.Price.Decimals, tt.wantValue, tt.wantDecimals)
			}
			if !tick.Price.ObservedAt.Equal(time.Unix(1700000000, 0)) {
				t.Errorf("observed at: %v", tick.Price.ObservedAt)
			}
		})
	}
}

// scaled expresses v at 8 decimals for comparison
func scaled(v int64, decimals int32) int64 {
	for d := decimals; d < 8; d++ {
		v *= 10
	}
	return v
}

func TestParsePriceTick_Invalid(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"no publish time": `{"symbol":"BTC/USD","price":"1"}`,
		"out of range":    `{"symbol":"BTC/USD","price":"99999999999999999999999","publish_time":1}`,
		"no symbol":       `{"price":"1","publish_time":1}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ingestion.ParsePriceTick(rawTick("other.subject", data))
			if !errors.Is(err, ingestion.ErrInvalidTick) {
				t.Errorf("got %v, want ErrInvalidTick", err)
			}
		})
	}
}

func TestPriceSubject(t *testing.T) {
	if got := ingestion.PriceSubject("BTC/USD"); got != "roundledger.prices.BTC-USD" {
		t.Errorf("got %q", got)
	}
}

func TestSequenceValidator(t *testing.T) {
	sv := ingestion.NewSequenceValidator()

	if ok, gap := sv.ValidatePriceSequence("BTC/USD", 5); !ok || gap {
		t.Errorf("first tick: ok=%v gap=%v", ok, gap)
	}
	if ok, _ := sv.ValidatePriceSequence("BTC/USD", 5); ok {
		t.Error("repeated sequence accepted")
	}
	if ok, _ := sv.ValidatePriceSequence("BTC/USD", 3); ok {
		t.Error("older sequence accepted")
	}
	if ok, gap := sv.ValidatePriceSequence("BTC/USD", 8); !ok || !gap {
		t.Errorf("gap: ok=%v gap=%v", ok, gap)
	}
	if sv.Gaps("BTC/USD") != 1 || sv.LastSequence("BTC/USD") != 8 {
		t.Errorf("gaps=%d last=%d", sv.Gaps("BTC/USD"), sv.LastSequence("BTC/USD"))
	}
	if ok, _ := sv.ValidatePriceSequence("BTC/USD", 0); !ok {
		t.Error("unnumbered tick rejected")
	}
	if ok, _ := sv.ValidatePriceSequence("ETH/USD", 1); !ok {
		t.Error("markets must be independent")
	}
}

type failingCache struct{ oracle.PriceCache }

func (failingCache) Update(context.Context, common.Hash, oracle.Price) error {
	return errors.New("redis down")
}

func TestPriceFeed_AppliesAndAcks(t *testing.T) {
	now := time.Unix(1700000010, 0)
	cache := oracle.NewMemoryCache(func() time.Time { return now })
	rawChan := make(chan ingestion.RawEvent, 8)
	feed := ingestion.NewPriceFeed(rawChan, cache, nil, zerolog.Nop())

	var mu sync.Mutex
	acks, naks := 0, 0
	send := func(data string) {
		raw := rawTick("roundledger.prices.BTC-USD", data)
		raw.AckFunc = func() { mu.Lock(); acks++; mu.Unlock() }
		raw.NakFunc = func() { mu.Lock(); naks++; mu.Unlock() }
		rawChan <- raw
	}

	send(`{"symbol":"BTC/USD","price":"100.5","publish_time":1700000000,"sequence":2}`)
	send(`{"symbol":"BTC/USD","price":"90","publish_time":1700000001,"sequence":1}`) // stale
	send(`garbage`)
	close(rawChan)

	if err := feed.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	p, err := cache.GetPriceWithFreshness(context.Background(), round.MarketID("BTC/USD"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if p.Value != 1005 || p.Decimals != 1 {
		t.Errorf("cached price: %+v", p)
	}
	if acks != 3 || naks != 0 {
		t.Errorf("acks=%d naks=%d", acks, naks)
	}
}

func TestPriceFeed_NaksOnCacheFailure(t *testing.T) {
	rawChan := make(chan ingestion.RawEvent, 1)
	feed := ingestion.NewPriceFeed(rawChan, failingCache{}, nil, zerolog.Nop())

	naked := false
	raw := rawTick("roundledger.prices.BTC-USD", `{"price":"1","publish_time":1700000000}`)
	raw.NakFunc = func() { naked = true }
	rawChan <- raw
	close(rawChan)

	feed.Run(context.Background())
	if !naked {
		t.Error("expected NAK on cache failure")
	}
}
