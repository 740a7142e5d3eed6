package core

import (
	"fmt"

	"RoundLedger/internal/event"
	"RoundLedger/internal/round"
)

// SnapshotState is the full engine state at a sequence
type SnapshotState struct {
	Sequence    int64              `json:"sequence"`
	StateHash   [32]byte           `json:"state_hash"`
	Rounds      []round.Round      `json:"rounds"`
	Stakes      []round.StakeEntry `json:"stakes"`
	RequestKeys []string           `json:"request_keys"`
}

// CreateSnapshotState captures the current state. It waits for in-flight
// operations so the rounds match the sequence exactly.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	defer e.state.exclusive()()

	rounds, stakes := e.store.All()
	return &SnapshotState{
		Sequence:    e.GetSequence(),
		StateHash:   e.GetStateHash(),
		Rounds:      rounds,
		Stakes:      stakes,
		RequestKeys: e.requests.Keys(),
	}
}

// RestoreFromSnapshot replaces the engine state. Call before serving traffic.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	defer e.state.exclusive()()

	for i, r := range snap.Rounds {
		if r.ID != uint64(i)+1 {
			return fmt.Errorf("snapshot rounds not contiguous at index %d (id %d)", i, r.ID)
		}
	}

	e.store.Restore(snap.Rounds, snap.Stakes)
	e.requests.Warm(snap.RequestKeys)

	e.emitMu.Lock()
	e.sequence = snap.Sequence
	e.hasher.SetPrevHash(snap.StateHash)
	e.emitMu.Unlock()

	e.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("rounds", len(snap.Rounds)).
		Msg("restored from snapshot")
	return nil
}

// Apply replays one persisted envelope. It verifies the sequence and hash
// chain, then applies the recorded effect without calling the oracle or the
// value sink and without emitting anything.
func (e *Engine) Apply(env *event.EventEnvelope) error {
	defer e.state.exclusive()()

	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	if env.Sequence != e.sequence+1 {
		return fmt.Errorf("replay gap: expected sequence %d, got %d", e.sequence+1, env.Sequence)
	}
	prev := e.hasher.GetPrevHash()
	if env.PrevHash != prev {
		return fmt.Errorf("replay hash chain broken at sequence %d", env.Sequence)
	}
	if want := ChainHash(prev, env.Sequence, env.Payload); want != env.StateHash {
		return fmt.Errorf("replay state hash mismatch at sequence %d", env.Sequence)
	}

	evt, err := event.Decode(env.EventType.String(), env.Payload)
	if err != nil {
		return fmt.Errorf("replay sequence %d: %w", env.Sequence, err)
	}
	if err := e.applyEvent(evt); err != nil {
		return fmt.Errorf("replay sequence %d: %w", env.Sequence, err)
	}

	e.hasher.SetPrevHash(env.StateHash)
	e.sequence = env.Sequence
	return nil
}

func (e *Engine) applyEvent(evt event.Event) error {
	if c, ok := evt.(*event.RoundCreated); ok {
		id := e.store.Insert(round.Round{
			Market:    c.Market,
			StartTs:   c.StartTs,
			LockTs:    c.LockTs,
			ResolveTs: c.ResolveTs,
			FeeBps:    c.FeeBps,
			CreatedAt: c.CreatedAt,
		})
		if id != c.RoundID {
			return fmt.Errorf("round created out of order: expected id %d, allocated %d", c.RoundID, id)
		}
		return nil
	}

	r, ok := e.store.Get(evt.Round())
	if !ok {
		return fmt.Errorf("%w: %d", round.ErrNotFound, evt.Round())
	}

	switch ev := evt.(type) {
	case *event.ReferencePriceLocked:
		r.RefPrice = ev.Price
		e.store.Commit(r)

	case *event.BetPlaced:
		stake := e.store.Stake(r.ID, ev.Participant)
		switch ev.Side {
		case round.SideUp:
			r.UpPool += ev.Amount
			stake.Up += ev.Amount
		case round.SideDown:
			r.DownPool += ev.Amount
			stake.Down += ev.Amount
		default:
			return fmt.Errorf("%w: %d", round.ErrInvalidSide, ev.Side)
		}
		e.store.Commit(r, round.StakeChange{Participant: ev.Participant, Stake: stake})
		e.requests.Warm([]string{ev.RequestID})

	case *event.FeeCharged:
		r.Fee = ev.Amount
		r.FeeCharged = true
		e.store.Commit(r)

	case *event.RoundResolved:
		r.Resolved = true
		r.Outcome = ev.Outcome
		r.SettlePrice = ev.SettlePrice
		r.Fee = ev.Fee
		r.ResolvedAt = ev.ResolvedAt
		e.store.Commit(r)

	case *event.Claimed:
		r.ClaimedTotal += ev.Amount
		e.store.Commit(r, round.StakeChange{Participant: ev.Participant})

	default:
		return fmt.Errorf("unhandled event type %s", evt.EventType())
	}
	return nil
}

// CheckInvariants verifies every round's pools equal the sum of its open
// stakes (unresolved rounds) and that no round paid out more than it holds.
func (e *Engine) CheckInvariants() error {
	rounds, _ := e.store.All()
	for _, r := range rounds {
		if !r.Resolved {
			if up, down, ok := e.store.CheckPools(r.ID); !ok {
				return fmt.Errorf("round %d pools %d/%d disagree with stakes %d/%d",
					r.ID, r.UpPool, r.DownPool, up, down)
			}
		}
		if r.Fee+r.ClaimedTotal > r.TotalPool() {
			return fmt.Errorf("round %d paid %d fee and %d claims from a %d pool",
				r.ID, r.Fee, r.ClaimedTotal, r.TotalPool())
		}
	}
	return nil
}
