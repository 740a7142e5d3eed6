package ingestion_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"RoundLedger/internal/event"
	"RoundLedger/internal/ingestion"
	"RoundLedger/internal/round"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

type recordingJS struct {
	mu       sync.Mutex
	subjects []string
	bodies   [][]byte
}

func (r *recordingJS) Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	r.bodies = append(r.bodies, data)
	return &jetstream.PubAck{Stream: ingestion.EventsStream}, nil
}

func TestOutboundPublisher_PublishesBySubject(t *testing.T) {
	evt := &event.BetPlaced{RoundID: 3, Market: round.MarketID("BTC/USD"), Side: round.SideUp, Amount: 10, RequestID: "r1"}
	payload, err := event.Encode(evt)
	if err != nil {
		t.Fatal(err)
	}
	env := &event.EventEnvelope{
		Sequence:       7,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		RoundID:        3,
		Market:         evt.Market,
		Timestamp:      time.Unix(1700000000, 0).UTC(),
		Payload:        payload,
	}

	in := make(chan ingestion.PublishableEvent, 1)
	js := &recordingJS{}
	pub := ingestion.NewOutboundPublisher(js, in, nil, zerolog.Nop())

	in <- ingestion.NewPublishableEvent(env)
	close(in)
	if err := pub.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(js.subjects) != 1 || js.subjects[0] != "roundledger.events.BetPlaced" {
		t.Fatalf("subjects: %v", js.subjects)
	}

	var out ingestion.PublishableEvent
	if err := json.Unmarshal(js.bodies[0], &out); err != nil {
		t.Fatal(err)
	}
	if out.Sequence != 7 || out.RoundID != 3 || out.IdempotencyKey != "bet:r1" {
		t.Errorf("published: %+v", out)
	}

	var decoded event.BetPlaced
	if err := json.Unmarshal(out.Payload, &decoded); err != nil || decoded.Amount != 10 {
		t.Errorf("payload: %+v, %v", decoded, err)
	}
}
