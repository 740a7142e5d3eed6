package round

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// StakeChange sets a participant's stake as part of a Commit
type StakeChange struct {
	Participant common.Address
	Stake       Stake
}

// StakeEntry is one participant's stake, used for enumeration and snapshots
type StakeEntry struct {
	RoundID     uint64         `json:"round_id"`
	Participant common.Address `json:"participant"`
	Stake       Stake          `json:"stake"`
}

// Store is the keyed storage for rounds (roundId -> Round) and stakes
// (roundId -> participant -> Stake). It keeps the maps consistent for
// concurrent readers; serializing writers of one round is the caller's job.
type Store struct {
	mu       sync.RWMutex
	rounds   []*Round
	stakes   map[uint64]map[common.Address]Stake
	byMarket map[common.Hash][]uint64
}

func NewStore() *Store {
	return &Store{
		stakes:   make(map[uint64]map[common.Address]Stake),
		byMarket: make(map[common.Hash][]uint64),
	}
}

// Insert allocates the next id, stores r under it and returns the id
func (s *Store) Insert(r Round) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = uint64(len(s.rounds)) + 1
	s.rounds = append(s.rounds, &r)
	s.byMarket[r.Market] = append(s.byMarket[r.Market], r.ID)
	return r.ID
}

// NextID returns the id Insert would allocate
func (s *Store) NextID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.rounds)) + 1
}

// Get returns a copy of the round
func (s *Store) Get(id uint64) (Round, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.lookup(id)
	if r == nil {
		return Round{}, false
	}
	return *r, true
}

func (s *Store) lookup(id uint64) *Round {
	if id == 0 || id > uint64(len(s.rounds)) {
		return nil
	}
	return s.rounds[id-1]
}

// Len returns the number of rounds ever created
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rounds)
}

// ListByMarket returns copies of every round on a market in id order
func (s *Store) ListByMarket(market common.Hash) []Round {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byMarket[market]
	out := make([]Round, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.rounds[id-1])
	}
	return out
}

// Unresolved returns copies of all rounds not yet resolved, in id order
func (s *Store) Unresolved() []Round {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Round
	for _, r := range s.rounds {
		if !r.Resolved {
			out = append(out, *r)
		}
	}
	return out
}

// Stake returns the participant's stake (zero if none)
func (s *Store) Stake(roundID uint64, participant common.Address) Stake {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stakes[roundID][participant]
}

// Stakes returns every non-zero stake of a round sorted by participant
func (s *Store) Stakes(roundID uint64) []StakeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stakesLocked(roundID)
}

func (s *Store) stakesLocked(roundID uint64) []StakeEntry {
	m := s.stakes[roundID]
	out := make([]StakeEntry, 0, len(m))
	for p, st := range m {
		out = append(out, StakeEntry{RoundID: roundID, Participant: p, Stake: st})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Participant.Cmp(out[j].Participant) < 0
	})
	return out
}

// Commit replaces the stored round and applies stake changes in one step,
// so readers never observe a pool that disagrees with its stakes.
func (s *Store) Commit(r Round, changes ...StakeChange) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.lookup(r.ID)
	if cur == nil {
		return false
	}
	*cur = r

	for _, c := range changes {
		m := s.stakes[r.ID]
		if c.Stake.IsZero() {
			if m != nil {
				delete(m, c.Participant)
			}
			continue
		}
		if m == nil {
			m = make(map[common.Address]Stake)
			s.stakes[r.ID] = m
		}
		m[c.Participant] = c.Stake
	}
	return true
}

// All returns copies of every round and every non-zero stake, for snapshots
func (s *Store) All() ([]Round, []StakeEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds := make([]Round, 0, len(s.rounds))
	var stakes []StakeEntry
	for _, r := range s.rounds {
		rounds = append(rounds, *r)
		stakes = append(stakes, s.stakesLocked(r.ID)...)
	}
	return rounds, stakes
}

// Restore replaces the whole store content. Rounds must be contiguous from id 1.
func (s *Store) Restore(rounds []Round, stakes []StakeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.Slice(rounds, func(i, j int) bool { return rounds[i].ID < rounds[j].ID })

	s.rounds = make([]*Round, 0, len(rounds))
	s.stakes = make(map[uint64]map[common.Address]Stake)
	s.byMarket = make(map[common.Hash][]uint64)

	for i := range rounds {
		r := rounds[i]
		s.rounds = append(s.rounds, &r)
		s.byMarket[r.Market] = append(s.byMarket[r.Market], r.ID)
	}
	for _, e := range stakes {
		if e.Stake.IsZero() {
			continue
		}
		m := s.stakes[e.RoundID]
		if m == nil {
			m = make(map[common.Address]Stake)
			s.stakes[e.RoundID] = m
		}
		m[e.Participant] = e.Stake
	}
}

// CheckPools verifies UpPool/DownPool equal the sums of stakes for a round
func (s *Store) CheckPools(roundID uint64) (upSum, downSum uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.lookup(roundID)
	if r == nil {
		return 0, 0, false
	}
	for _, st := range s.stakes[roundID] {
		upSum += st.Up
		downSum += st.Down
	}
	return upSum, downSum, upSum == r.UpPool && downSum == r.DownPool
}
