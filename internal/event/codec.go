package event

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an event payload for the event log
func Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	return data, nil
}

// Decode converts a stored payload back into a typed event
func Decode(eventType string, data []byte) (Event, error) {
	var evt Event
	switch ParseEventType(eventType) {
	case EventTypeRoundCreated:
		evt = &RoundCreated{}
	case EventTypeReferencePriceLocked:
		evt = &ReferencePriceLocked{}
	case EventTypeBetPlaced:
		evt = &BetPlaced{}
	case EventTypeRoundResolved:
		evt = &RoundResolved{}
	case EventTypeFeeCharged:
		evt = &FeeCharged{}
	case EventTypeClaimed:
		evt = &Claimed{}
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}

	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return evt, nil
}
