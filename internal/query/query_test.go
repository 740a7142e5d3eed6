package query_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"RoundLedger/internal/core"
	"RoundLedger/internal/ledger"
	"RoundLedger/internal/persistence"
	"RoundLedger/internal/projection"
	"RoundLedger/internal/query"
	"RoundLedger/internal/round"
	"RoundLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var (
	btc   = round.MarketID("BTC/USD")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		v        int64
		decimals int32
		want     string
	}{
		{0, 8, ""},
		{5_000_012_345_678, 8, "50000.12345678"},
		{5_000_000_000_000, 8, "50000"},
		{1, 8, "0.00000001"},
		{42, 0, "42"},
	}
	for _, tt := range tests {
		if got := query.FormatPrice(tt.v, tt.decimals); got != tt.want {
			t.Errorf("FormatPrice(%d, %d) = %q, want %q", tt.v, tt.decimals, got, tt.want)
		}
	}
}

func TestClampLimit(t *testing.T) {
	for in, want := range map[int]int{0: query.DefaultLimit, -3: query.DefaultLimit, 10: 10, 10_000: query.MaxLimit} {
		if got := query.ClampLimit(in); got != want {
			t.Errorf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestNewRoundView_PhaseAndPrices(t *testing.T) {
	lock, resolve := round.Schedule(1000)
	r := round.Round{
		ID: 7, Market: btc, StartTs: 1000, LockTs: lock, ResolveTs: resolve,
		RefPrice: 6_500_000_000_000, UpPool: 10, DownPool: 5, FeeBps: 300,
	}

	v := query.NewRoundView(r, 1055, 8)
	if v.Phase != "LOCKED" {
		t.Errorf("phase: got %s, want LOCKED", v.Phase)
	}
	if v.RefPrice != "65000" || v.SettlePrice != "" {
		t.Errorf("prices: ref=%q settle=%q", v.RefPrice, v.SettlePrice)
	}
	if v.Market != btc.Hex() || v.Outcome != "NONE" {
		t.Errorf("view: %+v", v)
	}
}

func TestNewStakeView(t *testing.T) {
	lock, resolve := round.Schedule(1000)
	r := round.Round{
		ID: 1, Market: btc, StartTs: 1000, LockTs: lock, ResolveTs: resolve,
		RefPrice: 100, UpPool: 100, DownPool: 50, FeeBps: 500,
	}

	open, err := query.NewStakeView(r, alice, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if open.Payout != nil || open.Projected == nil {
		t.Fatalf("unresolved round: %+v", open)
	}
	if open.Projected.IfUp != 143 || open.Projected.IfDown != 0 || open.Projected.IfFlat != 100 {
		t.Errorf("projection: %+v", *open.Projected)
	}

	r.Resolved = true
	r.Outcome = round.OutcomeUp
	r.Fee = 7
	r.FeeCharged = true
	settled, err := query.NewStakeView(r, alice, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if settled.Payout == nil || *settled.Payout != 143 || settled.Projected != nil {
		t.Errorf("resolved round: %+v", settled)
	}
}

type balances map[common.Address]int64

func (b balances) Balance(p common.Address) int64 { return b[p] }

func TestNewAccountView(t *testing.T) {
	v := query.NewAccountView(balances{alice: 250}, alice)
	if v.Available != 250 || v.Participant != alice.Hex() {
		t.Errorf("view: %+v", v)
	}
	if v.Account != ledger.ParticipantAccount(alice).AccountPath() {
		t.Errorf("account: %s", v.Account)
	}
}

// ============================================================================
// Postgres integration
// ============================================================================

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type oracle struct{ price int64 }

func (o *oracle) FetchPrice(ctx context.Context, market common.Hash, maxAge time.Duration) (int64, time.Time, error) {
	return o.price, time.Unix(0, 0), nil
}

func TestQueryService_HistoryAfterRebuild(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	clk := &clock{now: time.Unix(1000, 0)}
	orc := &oracle{price: 100}
	events := make(chan core.CoreOutput, 256)
	journals := make(chan *ledger.Batch, 256)
	authz := round.NewOperatorSet("ops")

	credits := ledger.NewCreditLedger(ledger.CreditLedgerConfig{Authorizer: authz, Out: journals, Now: clk.Now, Logger: zerolog.Nop()})
	cfg := core.DefaultConfig()
	cfg.Now = clk.Now
	engine := core.NewEngine(cfg, core.Deps{
		Oracle: orc, Source: credits, Sink: credits, Authorizer: authz,
		PersistChan: events, Logger: zerolog.Nop(),
	})

	for _, p := range []common.Address{alice, bob} {
		if _, err := credits.Credit(ctx, "ops", p, 1_000, "fund:"+p.Hex()); err != nil {
			t.Fatal(err)
		}
	}
	lock, resolve := round.Schedule(1000)
	id, err := engine.CreateRound(ctx, "ops", core.CreateRoundParams{Market: btc, StartTs: 1000, LockTs: lock, ResolveTs: resolve, FeeBps: 500})
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.PlaceBet(ctx, core.BetRequest{RoundID: id, Participant: alice, Side: round.SideUp, Amount: 100}); err != nil {
		t.Fatal(err)
	}
	if err := engine.PlaceBet(ctx, core.BetRequest{RoundID: id, Participant: bob, Side: round.SideDown, Amount: 50}); err != nil {
		t.Fatal(err)
	}
	clk.mu.Lock()
	clk.now = time.Unix(resolve, 0)
	clk.mu.Unlock()
	orc.price = 120
	if err := engine.Resolve(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Claim(ctx, id, alice); err != nil {
		t.Fatal(err)
	}
	close(events)
	close(journals)

	worker := persistence.NewPersistenceWorker(db, events, journals, nil, persistence.WorkerConfig{}, nil, zerolog.Nop())
	if err := worker.Run(ctx); err != nil {
		t.Fatal(err)
	}
	sm := persistence.NewSnapshotManager(db)
	if err := projection.RebuildProjections(ctx, db, sm, zerolog.Nop()); err != nil {
		t.Fatalf("RebuildProjections: %v", err)
	}

	qs := query.NewQueryService(db, 0)

	history, err := qs.ListMarketHistory(ctx, btc, 10, 0)
	if err != nil {
		t.Fatalf("ListMarketHistory: %v", err)
	}
	if len(history.Items) != 1 {
		t.Fatalf("history: %d rounds", len(history.Items))
	}
	h := history.Items[0]
	if h.RoundID != id || h.Outcome != "UP" || h.Fee != 7 || h.ClaimedTotal != 143 || h.UpPool != 100 || h.DownPool != 50 {
		t.Errorf("history entry: %+v", h)
	}
	if h.RefPrice != "100" || h.SettlePrice != "120" {
		t.Errorf("prices: %q %q", h.RefPrice, h.SettlePrice)
	}
	if history.AsOfSequence != engine.GetSequence() {
		t.Errorf("as_of_sequence %d, want %d", history.AsOfSequence, engine.GetSequence())
	}

	claims, err := qs.ClaimHistory(ctx, alice, 10, 0)
	if err != nil {
		t.Fatalf("ClaimHistory: %v", err)
	}
	if len(claims.Items) != 1 || claims.Items[0].Payout != 143 {
		t.Errorf("claims: %+v", claims.Items)
	}
	if none, _ := qs.ClaimHistory(ctx, bob, 10, 0); len(none.Items) != 0 {
		t.Errorf("bob has claims: %+v", none.Items)
	}

	journal, err := qs.GetJournalHistory(ctx, alice, 10, 0)
	if err != nil {
		t.Fatalf("GetJournalHistory: %v", err)
	}
	if len(journal) != 3 || journal[0].JournalType != "payout" {
		t.Errorf("journal: %+v", journal)
	}

	report, err := qs.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !report.IsHealthy {
		t.Errorf("integrity: %+v", report)
	}
}
