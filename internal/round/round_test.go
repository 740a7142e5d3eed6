package round_test

import (
	"errors"
	"testing"

	"RoundLedger/internal/round"

	"github.com/ethereum/go-ethereum/common"
)

func TestValidateTiming(t *testing.T) {
	tests := []struct {
		name                 string
		start, lock, resolve int64
		wantErr              bool
	}{
		{"valid", 1000, 1050, 1060, false},
		{"lock before start", 1000, 999, 1060, true},
		{"resolve not start+60", 1000, 1050, 1061, true},
		{"lock not resolve-10", 1000, 1049, 1060, true},
		{"equal timestamps", 1000, 1000, 1000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := round.ValidateTiming(tt.start, tt.lock, tt.resolve)
			if tt.wantErr {
				if !errors.Is(err, round.ErrInvalidTiming) {
					t.Errorf("got %v, want ErrInvalidTiming", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSchedule(t *testing.T) {
	lock, resolve := round.Schedule(1000)
	if lock != 1050 || resolve != 1060 {
		t.Errorf("got lock=%d resolve=%d", lock, resolve)
	}
	if err := round.ValidateTiming(1000, lock, resolve); err != nil {
		t.Errorf("schedule output rejected: %v", err)
	}
}

func TestPhaseAt(t *testing.T) {
	r := &round.Round{StartTs: 1000, LockTs: 1050, ResolveTs: 1060}
	cases := map[int64]round.Phase{
		999:  round.PhaseUpcoming,
		1000: round.PhaseBetting,
		1049: round.PhaseBetting,
		1050: round.PhaseLocked,
		1059: round.PhaseLocked,
		1060: round.PhaseResolving,
		5000: round.PhaseResolving,
	}
	for now, want := range cases {
		if got := round.PhaseAt(r, now); got != want {
			t.Errorf("now=%d: got %s, want %s", now, got, want)
		}
	}

	r.Resolved = true
	if got := round.PhaseAt(r, 0); got != round.PhaseResolved {
		t.Errorf("resolved round: got %s", got)
	}
}

func TestAmountErrorsShareKind(t *testing.T) {
	if !errors.Is(round.ErrZeroAmount, round.ErrInvalidAmount) {
		t.Error("ErrZeroAmount should match ErrInvalidAmount")
	}
	if !errors.Is(round.ErrAmountTooLarge, round.ErrInvalidAmount) {
		t.Error("ErrAmountTooLarge should match ErrInvalidAmount")
	}
	if errors.Is(round.ErrZeroAmount, round.ErrAmountTooLarge) {
		t.Error("distinct kinds should not match each other")
	}
}

func TestParseSide(t *testing.T) {
	if s, err := round.ParseSide(" up "); err != nil || s != round.SideUp {
		t.Errorf("up: got %v, %v", s, err)
	}
	if s, err := round.ParseSide("DOWN"); err != nil || s != round.SideDown {
		t.Errorf("DOWN: got %v, %v", s, err)
	}
	if _, err := round.ParseSide("sideways"); !errors.Is(err, round.ErrInvalidSide) {
		t.Errorf("sideways: got %v", err)
	}
}

func TestMarketID_Deterministic(t *testing.T) {
	a := round.MarketID("BTC/USD")
	if a != round.MarketID("BTC/USD") {
		t.Error("same symbol should give the same id")
	}
	if a == round.MarketID("ETH/USD") {
		t.Error("different symbols should differ")
	}
	if a == (common.Hash{}) {
		t.Error("market id should be non-zero")
	}
}

func TestStore_CommitKeepsPoolsConsistent(t *testing.T) {
	s := round.NewStore()
	id := s.Insert(round.Round{Market: round.MarketID("BTC/USD"), StartTs: 1000, LockTs: 1050, ResolveTs: 1060})
	if id != 1 || s.NextID() != 2 {
		t.Fatalf("ids: got %d next %d", id, s.NextID())
	}

	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	r, _ := s.Get(id)
	r.UpPool, r.DownPool = 100, 40
	s.Commit(r,
		round.StakeChange{Participant: alice, Stake: round.Stake{Up: 100}},
		round.StakeChange{Participant: bob, Stake: round.Stake{Down: 40}},
	)

	if up, down, ok := s.CheckPools(id); !ok {
		t.Errorf("pools disagree with stakes: up=%d down=%d", up, down)
	}
	if got := s.Stakes(id); len(got) != 2 || got[0].Participant != alice {
		t.Errorf("stakes: %+v", got)
	}

	// zeroing a stake removes the entry
	s.Commit(r, round.StakeChange{Participant: alice})
	if got := s.Stake(id, alice); !got.IsZero() {
		t.Errorf("alice stake after zeroing: %+v", got)
	}
	if got := s.Stakes(id); len(got) != 1 {
		t.Errorf("stakes after zeroing: %d entries", len(got))
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := round.NewStore()
	id := s.Insert(round.Round{StartTs: 1})
	r, _ := s.Get(id)
	r.UpPool = 999
	again, _ := s.Get(id)
	if again.UpPool != 0 {
		t.Error("mutating a returned round changed the store")
	}
	if _, ok := s.Get(42); ok {
		t.Error("unknown id should not be found")
	}
}

func TestStore_RestoreRoundTrip(t *testing.T) {
	s := round.NewStore()
	m := round.MarketID("ETH/USD")
	p := common.HexToAddress("0x01")
	id := s.Insert(round.Round{Market: m})
	r, _ := s.Get(id)
	r.DownPool = 7
	s.Commit(r, round.StakeChange{Participant: p, Stake: round.Stake{Down: 7}})

	rounds, stakes := s.All()
	fresh := round.NewStore()
	fresh.Restore(rounds, stakes)

	if fresh.Len() != 1 || len(fresh.ListByMarket(m)) != 1 {
		t.Fatalf("restored %d rounds", fresh.Len())
	}
	if got := fresh.Stake(id, p); got.Down != 7 {
		t.Errorf("restored stake: %+v", got)
	}
}

func TestOperatorSet(t *testing.T) {
	ops := round.NewOperatorSet("ops", "")
	if !ops.IsOperator("ops") {
		t.Error("ops should be an operator")
	}
	if ops.IsOperator("") || ops.IsOperator("mallory") {
		t.Error("unexpected operator")
	}
	ops.Grant("keeper")
	if !ops.IsOperator("keeper") {
		t.Error("granted principal should be an operator")
	}
}
