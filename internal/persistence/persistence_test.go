package persistence_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"RoundLedger/internal/core"
	"RoundLedger/internal/event"
	"RoundLedger/internal/ingestion"
	"RoundLedger/internal/ledger"
	"RoundLedger/internal/persistence"
	"RoundLedger/internal/round"
	"RoundLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const operator = "ops"

var (
	btc   = round.MarketID("BTC/USD")
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

type staticOracle struct{ price int64 }

func (o *staticOracle) FetchPrice(ctx context.Context, market common.Hash, maxAge time.Duration) (int64, time.Time, error) {
	return o.price, time.Unix(0, 0), nil
}

type stack struct {
	engine   *core.Engine
	ledger   *ledger.CreditLedger
	clock    *clock
	oracle   *staticOracle
	events   chan core.CoreOutput
	journals chan *ledger.Batch
}

func newStack() *stack {
	s := &stack{
		clock:    &clock{now: time.Unix(1000, 0)},
		oracle:   &staticOracle{price: 100},
		events:   make(chan core.CoreOutput, 1024),
		journals: make(chan *ledger.Batch, 1024),
	}
	authz := round.NewOperatorSet(operator)
	s.ledger = ledger.NewCreditLedger(ledger.CreditLedgerConfig{
		Authorizer: authz,
		Out:        s.journals,
		Now:        s.clock.Now,
		Logger:     zerolog.Nop(),
	})
	cfg := core.DefaultConfig()
	cfg.Now = s.clock.Now
	s.engine = core.NewEngine(cfg, core.Deps{
		Oracle:      s.oracle,
		Source:      s.ledger,
		Sink:        s.ledger,
		Authorizer:  authz,
		PersistChan: s.events,
		Logger:      zerolog.Nop(),
	})
	return s
}

// playRound funds two participants, bets, resolves UP and lets alice claim
func (s *stack) playRound(t *testing.T) uint64 {
	t.Helper()
	ctx := context.Background()

	for _, p := range []common.Address{alice, bob} {
		if _, err := s.ledger.Credit(ctx, operator, p, 1_000, "fund:"+p.Hex()); err != nil {
			t.Fatalf("Credit: %v", err)
		}
	}

	start := s.clock.Now().Unix()
	lock, resolve := round.Schedule(start)
	id, err := s.engine.CreateRound(ctx, operator, core.CreateRoundParams{
		Market: btc, StartTs: start, LockTs: lock, ResolveTs: resolve, FeeBps: 500,
	})
	if err != nil {
		t.Fatalf("CreateRound: %v", err)
	}

	for _, b := range []core.BetRequest{
		{RoundID: id, Participant: alice, Side: round.SideUp, Amount: 100, RequestID: "req-a"},
		{RoundID: id, Participant: bob, Side: round.SideDown, Amount: 50, RequestID: "req-b"},
	} {
		if err := s.engine.PlaceBet(ctx, b); err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
	}

	s.clock.Set(resolve)
	s.oracle.price = 120
	if err := s.engine.Resolve(ctx, id); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := s.engine.Claim(ctx, id, alice); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	return id
}

// ============================================================================
// Row conversion
// ============================================================================

func TestEventRow_RoundTripsEnvelope(t *testing.T) {
	s := newStack()
	s.playRound(t)
	close(s.events)

	for out := range s.events {
		row := persistence.NewEventRow(out.Envelope)
		env, err := row.Envelope()
		if err != nil {
			t.Fatalf("sequence %d: %v", row.Sequence, err)
		}
		if env.Sequence != out.Envelope.Sequence ||
			env.EventType != out.Envelope.EventType ||
			env.RoundID != out.Envelope.RoundID ||
			env.Market != out.Envelope.Market ||
			env.StateHash != out.Envelope.StateHash ||
			env.PrevHash != out.Envelope.PrevHash ||
			env.IdempotencyKey != out.Envelope.IdempotencyKey {
			t.Errorf("sequence %d did not round-trip: %+v", row.Sequence, env)
		}
	}
}

func TestEventRow_RejectsMalformedRows(t *testing.T) {
	good := persistence.EventRow{
		Sequence:  1,
		EventType: event.EventTypeRoundCreated.String(),
		StateHash: make([]byte, 32),
		PrevHash:  make([]byte, 32),
	}
	if _, err := good.Envelope(); err != nil {
		t.Fatalf("good row: %v", err)
	}

	unknown := good
	unknown.EventType = "PositionOpened"
	if _, err := unknown.Envelope(); err == nil {
		t.Error("unknown event type accepted")
	}

	short := good
	short.StateHash = make([]byte, 16)
	if _, err := short.Envelope(); err == nil {
		t.Error("short hash accepted")
	}
}

func TestGroupJournals_RestoresLedger(t *testing.T) {
	s := newStack()
	id := s.playRound(t)
	close(s.journals)

	var rows []persistence.JournalRow
	for b := range s.journals {
		rows = append(rows, persistence.NewJournalRows(b)...)
	}

	batches, err := persistence.GroupJournals(rows)
	if err != nil {
		t.Fatalf("GroupJournals: %v", err)
	}

	restored := ledger.NewCreditLedger(ledger.CreditLedgerConfig{Logger: zerolog.Nop()})
	if err := restored.Restore(batches); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	for _, p := range []common.Address{alice, bob} {
		if got, want := restored.Balance(p), s.ledger.Balance(p); got != want {
			t.Errorf("%s balance: got %d, want %d", p.Hex(), got, want)
		}
	}
	if got, want := restored.EscrowBalance(id), s.ledger.EscrowBalance(id); got != want {
		t.Errorf("escrow: got %d, want %d", got, want)
	}
	if got, want := restored.FeeBalance(), s.ledger.FeeBalance(); got != want {
		t.Errorf("fees: got %d, want %d", got, want)
	}
}

func TestGroupJournals_RejectsBadAccount(t *testing.T) {
	_, err := persistence.GroupJournals([]persistence.JournalRow{{
		JournalID:     "7f1c2d3e-0000-4000-8000-000000000001",
		BatchID:       "7f1c2d3e-0000-4000-8000-000000000002",
		DebitAccount:  "user:1:collateral",
		CreditAccount: "system:fees",
		Amount:        1,
	}})
	if err == nil {
		t.Error("unknown account path accepted")
	}
}

func TestIsConstraintViolation(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&pq.Error{Code: "23505"}, true},
		{fmt.Errorf("insert 3 events: %w", &pq.Error{Code: "23505"}), true},
		{&pq.Error{Code: "23503"}, true},
		{&pq.Error{Code: "08006"}, false},
		{&pq.Error{Code: "40001"}, false},
		{context.DeadlineExceeded, false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := persistence.IsConstraintViolation(tc.err); got != tc.want {
			t.Errorf("%v: got %v, want %v", tc.err, got, tc.want)
		}
	}
}

// ============================================================================
// Postgres integration
// ============================================================================

func TestPersistenceWorker_WritesAndReplays(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newStack()
	id := s.playRound(t)
	want, _ := s.engine.GetRound(id)
	close(s.events)
	close(s.journals)

	publish := make(chan ingestion.PublishableEvent, 64)
	worker := persistence.NewPersistenceWorker(db, s.events, s.journals, publish,
		persistence.WorkerConfig{BatchSize: 4, FlushTimeout: 10 * time.Millisecond},
		nil, zerolog.Nop())
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(publish) != int(s.engine.GetSequence()) {
		t.Errorf("published %d events, want %d", len(publish), s.engine.GetSequence())
	}

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest != s.engine.GetSequence() {
		t.Fatalf("latest sequence %d, want %d", latest, s.engine.GetSequence())
	}

	fresh := newStack()
	n, err := sm.ReplayFrom(ctx, 1, 2, fresh.engine.Apply)
	if err != nil {
		t.Fatalf("ReplayFrom: %v", err)
	}
	if int64(n) != latest {
		t.Errorf("replayed %d events, want %d", n, latest)
	}
	got, err := fresh.engine.GetRound(id)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("replayed round differs:\n got %+v\nwant %+v", got, want)
	}
	if fresh.engine.GetStateHash() != s.engine.GetStateHash() {
		t.Error("replayed state hash differs")
	}

	batches, err := sm.LoadJournals(ctx)
	if err != nil {
		t.Fatalf("LoadJournals: %v", err)
	}
	if err := fresh.ledger.Restore(batches); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if fresh.ledger.Balance(alice) != s.ledger.Balance(alice) {
		t.Errorf("restored alice balance %d, want %d", fresh.ledger.Balance(alice), s.ledger.Balance(alice))
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	if dup, err := checker.IsDuplicate(ctx, "req-a"); err != nil || !dup {
		t.Errorf("req-a: dup=%v err=%v", dup, err)
	}
	if dup, err := checker.IsDuplicate(ctx, "req-unknown"); err != nil || dup {
		t.Errorf("req-unknown: dup=%v err=%v", dup, err)
	}
}

func TestPersistenceWorker_StopsOnConstraintViolation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := newStack()
	s.playRound(t)
	close(s.events)
	close(s.journals)

	first := persistence.NewPersistenceWorker(db, s.events, s.journals, nil,
		persistence.WorkerConfig{BatchSize: 64, FlushTimeout: 10 * time.Millisecond}, nil, zerolog.Nop())
	if err := first.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sm := persistence.NewSnapshotManager(db)
	envs, err := sm.LoadEventsFrom(ctx, s.engine.GetSequence(), 1)
	if err != nil || len(envs) != 1 {
		t.Fatalf("LoadEventsFrom: %v (%d rows)", err, len(envs))
	}
	last := envs[0]

	// same event type and idempotency key under a new sequence
	dup := *last
	dup.Sequence = last.Sequence + 1
	events := make(chan core.CoreOutput, 1)
	events <- core.CoreOutput{Envelope: &dup}

	second := persistence.NewPersistenceWorker(db, events, nil, nil,
		persistence.WorkerConfig{BatchSize: 1, FlushTimeout: time.Second}, nil, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- second.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, persistence.ErrUnwritableBatch) {
			t.Errorf("got %v, want ErrUnwritableBatch", err)
		}
	case <-ctx.Done():
		t.Fatal("worker kept retrying a batch that cannot be written")
	}

	latest, err := sm.GetLatestSequence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest != last.Sequence {
		t.Errorf("latest sequence %d, want %d", latest, last.Sequence)
	}
}

func TestSnapshotManager_SaveVerifyLoad(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	sm := persistence.NewSnapshotManager(db)

	if snap, err := sm.LoadLatestSnapshot(ctx); err != nil || snap != nil {
		t.Fatalf("empty table: snap=%v err=%v", snap, err)
	}

	s := newStack()
	id := s.playRound(t)
	state := s.engine.CreateSnapshotState()

	if err := sm.SaveSnapshot(ctx, &persistence.SnapshotData{Engine: state, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if snap, _ := sm.LoadLatestSnapshot(ctx); snap != nil {
		t.Fatal("unverified snapshot was loaded")
	}
	if err := sm.MarkVerified(ctx, state.Sequence); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}

	snap, err := sm.LoadLatestSnapshot(ctx)
	if err != nil || snap == nil {
		t.Fatalf("LoadLatestSnapshot: snap=%v err=%v", snap, err)
	}
	fresh := newStack()
	if err := fresh.engine.RestoreFromSnapshot(snap.Engine); err != nil {
		t.Fatalf("RestoreFromSnapshot: %v", err)
	}
	got, _ := fresh.engine.GetRound(id)
	want, _ := s.engine.GetRound(id)
	if got != want {
		t.Errorf("restored round differs:\n got %+v\nwant %+v", got, want)
	}
}

func TestMigrator_StatusAfterUp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	m := persistence.NewMigrator(db, testutil.MigrationsDir(), zerolog.Nop())

	status, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status) == 0 {
		t.Fatal("no migrations found")
	}
	for _, mig := range status {
		if !mig.Applied {
			t.Errorf("%s not applied", mig.Filename)
		}
	}
}
