package core_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"RoundLedger/internal/core"
	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const operator = "ops"

var (
	btc   = round.MarketID("BTC/USD")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

// --- Test helpers ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(unix int64) {
	c.mu.Lock()
	c.now = time.Unix(unix, 0)
	c.mu.Unlock()
}

type fakeOracle struct {
	mu    sync.Mutex
	price int64
	err   error
	calls atomic.Int32
}

func (o *fakeOracle) FetchPrice(ctx context.Context, market common.Hash, maxAge time.Duration) (int64, time.Time, error) {
	o.calls.Add(1)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return 0, time.Time{}, o.err
	}
	return o.price, time.Unix(0, 0), nil
}

func (o *fakeOracle) Set(price int64, err error) {
	o.mu.Lock()
	o.price, o.err = price, err
	o.mu.Unlock()
}

var errSinkDown = errors.New("sink down")

type fakeSink struct {
	mu        sync.Mutex
	fail      bool
	transfers []round.Transfer
	collected []round.Transfer
}

func (s *fakeSink) Deliver(ctx context.Context, t round.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSinkDown
	}
	s.transfers = append(s.transfers, t)
	return nil
}

func (s *fakeSink) Collect(ctx context.Context, t round.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collected = append(s.collected, t)
	return nil
}

func (s *fakeSink) SetFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *fakeSink) Delivered(kind round.TransferKind) []round.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []round.Transfer
	for _, t := range s.transfers {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

type harness struct {
	engine  *core.Engine
	clock   *fakeClock
	oracle  *fakeOracle
	sink    *fakeSink
	persist chan core.CoreOutput
}

// newHarness creates an engine with the clock at t=1000 and a buffered
// persistence channel.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:   &fakeClock{now: time.Unix(1000, 0)},
		oracle:  &fakeOracle{price: 50_000_00000000},
		sink:    &fakeSink{},
		persist: make(chan core.CoreOutput, 4096),
	}
	cfg := core.DefaultConfig()
	cfg.Now = h.clock.Now
	h.engine = core.NewEngine(cfg, core.Deps{
		Oracle:      h.oracle,
		Source:      h.sink,
		Sink:        h.sink,
		Authorizer:  round.NewOperatorSet(operator),
		PersistChan: h.persist,
		Logger:      zerolog.Nop(),
	})
	return h
}

// openRound creates a round starting at the current clock with feeBps
func (h *harness) openRound(t *testing.T, feeBps uint16) uint64 {
	t.Helper()
	start := h.clock.Now().Unix()
	lock, resolve := round.Schedule(start)
	id, err := h.engine.CreateRound(context.Background(), operator, core.CreateRoundParams{
		Market: btc, StartTs: start, LockTs: lock, ResolveTs: resolve, FeeBps: feeBps,
	})
	if err != nil {
		t.Fatalf("CreateRound: %v", err)
	}
	return id
}

func (h *harness) bet(t *testing.T, id uint64, p common.Address, side round.Side, amount uint64) {
	t.Helper()
	err := h.engine.PlaceBet(context.Background(), core.BetRequest{
		RoundID: id, Participant: p, Side: side, Amount: amount,
	})
	if err != nil {
		t.Fatalf("PlaceBet(%s %d): %v", side, amount, err)
	}
}

// resolveAt moves the clock to the round's resolve time and resolves with price
func (h *harness) resolveAt(t *testing.T, id uint64, price int64) round.Round {
	t.Helper()
	r, err := h.engine.GetRound(id)
	if err != nil {
		t.Fatal(err)
	}
	h.clock.Set(r.ResolveTs)
	h.oracle.Set(price, nil)
	if err := h.engine.Resolve(context.Background(), id); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	r, _ = h.engine.GetRound(id)
	return r
}

func (h *harness) drain() []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-h.persist:
			out = append(out, o)
		default:
			return out
		}
	}
}
