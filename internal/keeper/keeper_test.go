package keeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"RoundLedger/internal/core"
	"RoundLedger/internal/keeper"
	"RoundLedger/internal/observability"
	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

const operator = "keeper"

var (
	btc   = round.MarketID("BTC/USD")
	eth   = round.MarketID("ETH/USD")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(unix int64) {
	c.mu.Lock()
	c.now = time.Unix(unix, 0)
	c.mu.Unlock()
}

type oracle struct {
	mu    sync.Mutex
	price int64
	err   error
}

func (o *oracle) FetchPrice(ctx context.Context, market common.Hash, maxAge time.Duration) (int64, time.Time, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.price, time.Unix(0, 0), o.err
}

type custody struct{}

func (custody) Collect(ctx context.Context, t round.Transfer) error { return nil }
func (custody) Deliver(ctx context.Context, t round.Transfer) error { return nil }

type fixture struct {
	engine  *core.Engine
	clock   *clock
	oracle  *oracle
	metrics *observability.Metrics
}

func newFixture() *fixture {
	f := &fixture{
		clock:   &clock{now: time.Unix(1000, 0)},
		oracle:  &oracle{price: 100},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
	cfg := core.DefaultConfig()
	cfg.Now = f.clock.Now
	f.engine = core.NewEngine(cfg, core.Deps{
		Oracle:     f.oracle,
		Source:     custody{},
		Sink:       custody{},
		Authorizer: round.NewOperatorSet(operator),
		Logger:     zerolog.Nop(),
	})
	return f
}

func TestKeeper_OpensBackToBackRounds(t *testing.T) {
	f := newFixture()
	k := keeper.New(f.engine, keeper.Config{Markets: []common.Hash{btc, eth}, Principal: operator, FeeBps: 200}, f.metrics, zerolog.Nop())
	ctx := context.Background()

	k.Tick(ctx)
	rounds := f.engine.ListRounds(btc)
	if len(rounds) != 1 || rounds[0].StartTs != 1000 || rounds[0].FeeBps != 200 {
		t.Fatalf("first tick: %+v", rounds)
	}
	if len(f.engine.ListRounds(eth)) != 1 {
		t.Fatal("eth round not opened")
	}

	// The current round has started, so the next one is queued at its resolve time.
	k.Tick(ctx)
	rounds = f.engine.ListRounds(btc)
	if len(rounds) != 2 || rounds[1].StartTs != rounds[0].ResolveTs {
		t.Fatalf("second tick: %+v", rounds)
	}

	// The queued round is upcoming: nothing more to open.
	k.Tick(ctx)
	if got := len(f.engine.ListRounds(btc)); got != 2 {
		t.Errorf("upcoming round should block auto-open, got %d rounds", got)
	}

	if got := promtest.ToFloat64(f.metrics.KeeperActions.WithLabelValues("open", "ok")); got != 4 {
		t.Errorf("open metric: got %v, want 4", got)
	}
}

func TestKeeper_ResolvesDueRounds(t *testing.T) {
	f := newFixture()
	k := keeper.New(f.engine, keeper.Config{Principal: operator}, f.metrics, zerolog.Nop())
	ctx := context.Background()

	lock, resolve := round.Schedule(1000)
	id, err := f.engine.CreateRound(ctx, operator, core.CreateRoundParams{Market: btc, StartTs: 1000, LockTs: lock, ResolveTs: resolve})
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range []core.BetRequest{
		{RoundID: id, Participant: alice, Side: round.SideUp, Amount: 10},
		{RoundID: id, Participant: bob, Side: round.SideDown, Amount: 10},
	} {
		if err := f.engine.PlaceBet(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	k.Tick(ctx)
	if r, _ := f.engine.GetRound(id); r.Resolved {
		t.Fatal("resolved before resolve time")
	}

	f.clock.Set(resolve)
	f.oracle.mu.Lock()
	f.oracle.err = errors.New("feed down")
	f.oracle.mu.Unlock()
	k.Tick(ctx)
	if r, _ := f.engine.GetRound(id); r.Resolved {
		t.Fatal("resolved without a price")
	}

	f.oracle.mu.Lock()
	f.oracle.price, f.oracle.err = 90, nil
	f.oracle.mu.Unlock()
	k.Tick(ctx)
	r, _ := f.engine.GetRound(id)
	if !r.Resolved || r.Outcome != round.OutcomeDown {
		t.Fatalf("after retry: resolved=%v outcome=%s", r.Resolved, r.Outcome)
	}

	if got := promtest.ToFloat64(f.metrics.KeeperActions.WithLabelValues("resolve", "error")); got != 1 {
		t.Errorf("resolve error metric: got %v, want 1", got)
	}
	if got := promtest.ToFloat64(f.metrics.KeeperActions.WithLabelValues("resolve", "ok")); got != 1 {
		t.Errorf("resolve ok metric: got %v, want 1", got)
	}
}

func TestKeeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture()
	k := keeper.New(f.engine, keeper.Config{Interval: time.Millisecond, Markets: []common.Hash{btc}, Principal: operator}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	if len(f.engine.ListRounds(btc)) == 0 {
		t.Error("no round opened while running")
	}
}
