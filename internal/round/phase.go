package round

// Phase is derived from the clock and the resolved flag; it is never stored.
type Phase uint8

const (
	PhaseUpcoming Phase = iota
	PhaseBetting
	PhaseLocked
	PhaseResolving
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseUpcoming:
		return "UPCOMING"
	case PhaseBetting:
		return "BETTING"
	case PhaseLocked:
		return "LOCKED"
	case PhaseResolving:
		return "RESOLVING"
	case PhaseResolved:
		return "RESOLVED"
	default:
		return "UNKNOWN"
	}
}

// PhaseAt maps a round and the current unix time to its lifecycle phase
func PhaseAt(r *Round, now int64) Phase {
	switch {
	case r.Resolved:
		return PhaseResolved
	case now < r.StartTs:
		return PhaseUpcoming
	case now < r.LockTs:
		return PhaseBetting
	case now < r.ResolveTs:
		return PhaseLocked
	default:
		return PhaseResolving
	}
}
