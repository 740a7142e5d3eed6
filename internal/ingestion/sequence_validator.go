package ingestion

import (
	"sync"
)

// SequenceValidator orders price ticks per market. Ticks at or below the last
// accepted sequence are stale and dropped; gaps are tolerated and counted.
type SequenceValidator struct {
	mu      sync.Mutex
	lastSeq map[string]int64 // symbol -> last accepted sequence
	gaps    map[string]int64 // symbol -> gap count
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		lastSeq: make(map[string]int64),
		gaps:    make(map[string]int64),
	}
}

// ValidatePriceSequence reports whether the tick should be applied and
// whether it skipped sequences. Sequence 0 means the producer does not
// number its ticks; those are always accepted.
func (sv *SequenceValidator) ValidatePriceSequence(symbol string, seq int64) (accept bool, gap bool) {
	if seq == 0 {
		return true, false
	}

	sv.mu.Lock()
	defer sv.mu.Unlock()

	last, seen := sv.lastSeq[symbol]
	if seen && seq <= last {
		return false, false
	}
	if seen && seq > last+1 {
		sv.gaps[symbol]++
		gap = true
	}
	sv.lastSeq[symbol] = seq
	return true, gap
}

// LastSequence returns the last accepted sequence for a symbol
func (sv *SequenceValidator) LastSequence(symbol string) int64 {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.lastSeq[symbol]
}

// Gaps returns how many gaps were observed for a symbol
func (sv *SequenceValidator) Gaps(symbol string) int64 {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.gaps[symbol]
}
