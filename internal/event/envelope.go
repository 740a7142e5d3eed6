package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeRoundCreated
	EventTypeReferencePriceLocked
	EventTypeBetPlaced
	EventTypeRoundResolved
	EventTypeFeeCharged
	EventTypeClaimed
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable dedup key
	IdempotencyKey string

	EventType EventType

	RoundID uint64
	Market  common.Hash

	// Engine clock at commit time
	Timestamp time.Time

	// JSON-encoded event
	Payload []byte

	// SHA-256(prev_hash || sequence || payload)
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all emitted records implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Round returns the round the event belongs to
	Round() uint64

	// MarketID returns the market of the round
	MarketID() common.Hash
}

func (et EventType) String() string {
	switch et {
	case EventTypeRoundCreated:
		return "RoundCreated"
	case EventTypeReferencePriceLocked:
		return "ReferencePriceLocked"
	case EventTypeBetPlaced:
		return "BetPlaced"
	case EventTypeRoundResolved:
		return "RoundResolved"
	case EventTypeFeeCharged:
		return "FeeCharged"
	case EventTypeClaimed:
		return "Claimed"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String
func ParseEventType(s string) EventType {
	for et := EventTypeRoundCreated; et <= EventTypeClaimed; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
