package ingestion_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"RoundLedger/internal/event"
	"RoundLedger/internal/ingestion"
	"RoundLedger/internal/oracle"
	"RoundLedger/internal/round"
	"RoundLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

func TestJetStream_PriceTickReachesCache(t *testing.T) {
	nc := testutil.ConnectTestNATS(t)
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ingestion.EnsureStreams(ctx, js, zerolog.Nop()); err != nil {
		t.Fatalf("EnsureStreams: %v", err)
	}

	rawChan := make(chan ingestion.RawEvent, 16)
	sub := ingestion.NewNATSSubscriber(js, rawChan, zerolog.Nop())
	if err := sub.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Stop()

	cache := oracle.NewMemoryCache(time.Now)
	feed := ingestion.NewPriceFeed(rawChan, cache, nil, zerolog.Nop())
	go feed.Run(ctx)

	symbol := "IT-" + uuid.NewString()[:8] + "/USD"
	tick := fmt.Sprintf(`{"symbol":%q,"price":"65000.5","publish_time":%d,"sequence":1}`, symbol, time.Now().Unix())
	if _, err := js.Publish(ctx, ingestion.PriceSubject(symbol), []byte(tick)); err != nil {
		t.Fatalf("publish tick: %v", err)
	}

	market := round.MarketID(symbol)
	deadline := time.Now().Add(5 * time.Second)
	for {
		p, err := cache.GetPriceWithFreshness(ctx, market, time.Minute)
		if err == nil {
			if p.Value != 650005 || p.Decimals != 1 {
				t.Errorf("cached price: %+v", p)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("tick never reached the cache: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestJetStream_OutboundPublisher(t *testing.T) {
	nc := testutil.ConnectTestNATS(t)
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ingestion.EnsureStreams(ctx, js, zerolog.Nop()); err != nil {
		t.Fatalf("EnsureStreams: %v", err)
	}

	evt := &event.FeeCharged{RoundID: 42, Market: round.MarketID("BTC/USD"), Amount: 7}
	payload, err := event.Encode(evt)
	if err != nil {
		t.Fatal(err)
	}
	seq := time.Now().UnixNano()
	env := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: evt.IdempotencyKey() + ":" + uuid.NewString(),
		EventType:      evt.EventType(),
		RoundID:        42,
		Market:         evt.Market,
		Timestamp:      time.Now().UTC(),
		Payload:        payload,
	}

	in := make(chan ingestion.PublishableEvent, 1)
	in <- ingestion.NewPublishableEvent(env)
	close(in)
	if err := ingestion.NewOutboundPublisher(js, in, nil, zerolog.Nop()).Run(ctx); err != nil {
		t.Fatalf("publisher: %v", err)
	}

	stream, err := js.Stream(ctx, ingestion.EventsStream)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := stream.GetLastMsgForSubject(ctx, ingestion.EventSubject(evt.EventType().String()))
	if err != nil {
		t.Fatalf("GetLastMsgForSubject: %v", err)
	}
	var got ingestion.PublishableEvent
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Sequence != seq || got.RoundID != 42 {
		t.Errorf("published event: %+v", got)
	}
}
