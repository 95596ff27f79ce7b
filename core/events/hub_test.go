package events

import (
	"context"
	"testing"
	"time"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub()
	hub.SetNowFunc(func() int64 { return 42 })

	updates, cancel, backlog, err := hub.Subscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if len(backlog) != 0 {
		t.Fatalf("fresh hub has backlog: %v", backlog)
	}

	hub.Emit(MarketPaused{Market: "market-1.factory", Caller: "guardian", Mint: true})

	select {
	case envelope := <-updates:
		if envelope.Sequence != 1 || envelope.Type != TypeMarketPaused {
			t.Fatalf("unexpected envelope %+v", envelope)
		}
		if envelope.Timestamp != 42 {
			t.Fatalf("timestamp %d, want 42", envelope.Timestamp)
		}
		if got := envelope.Payload.Attribute("market"); got != "market-1.factory" {
			t.Fatalf("payload market attribute %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
}

func TestHubBacklogRespectsCursor(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 5; i++ {
		hub.Emit(MarketPaused{Market: "market-1.factory", Caller: "guardian"})
	}

	_, cancel, backlog, err := hub.Subscribe(context.Background(), "3")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if len(backlog) != 2 {
		t.Fatalf("backlog length %d, want 2", len(backlog))
	}
	if backlog[0].Sequence != 4 || backlog[1].Sequence != 5 {
		t.Fatalf("backlog sequences %d, %d", backlog[0].Sequence, backlog[1].Sequence)
	}

	if _, _, _, err := hub.Subscribe(context.Background(), "not-a-cursor"); err == nil {
		t.Fatal("bad cursor accepted")
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub()
	updates, cancel, _, err := hub.Subscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel() // idempotent
	if _, open := <-updates; open {
		t.Fatal("channel still open after cancel")
	}
	// Emitting after cancel must not panic or deliver.
	hub.Emit(MarketPaused{Market: "market-1.factory", Caller: "guardian"})
}

func TestHubObserverSeesEveryEmit(t *testing.T) {
	hub := NewHub()
	var seen []string
	hub.SetObserver(func(eventType string) { seen = append(seen, eventType) })

	hub.Emit(MarketPaused{Market: "m", Caller: "guardian"})
	hub.Emit(FeeRecorded{Market: "m", Asset: "USDQ"})
	if len(seen) != 2 || seen[0] != TypeMarketPaused || seen[1] != TypeFeeRecorded {
		t.Fatalf("observer saw %v", seen)
	}
}

func TestHubRecentKeepsNewestLast(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 4; i++ {
		hub.Emit(MarketPaused{Market: "m", Caller: "guardian"})
	}
	recent := hub.Recent(2)
	if len(recent) != 2 || recent[0].Sequence != 3 || recent[1].Sequence != 4 {
		t.Fatalf("recent %v", recent)
	}
	all := hub.Recent(0)
	if len(all) != 4 {
		t.Fatalf("full buffer length %d", len(all))
	}
}

func TestHubEmitSurvivesConcurrentCancels(t *testing.T) {
	hub := NewHub()

	const subscribers = 16
	cancels := make([]func(), 0, subscribers)
	for i := 0; i < subscribers; i++ {
		_, cancel, _, err := hub.Subscribe(context.Background(), "")
		if err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
		cancels = append(cancels, cancel)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, cancel := range cancels {
			cancel()
		}
	}()
	for i := 0; i < 200; i++ {
		hub.Emit(MarketPaused{Market: "market-1.factory", Caller: "guardian"})
	}
	<-done

	// All subscribers gone; emits still record history.
	if hub.Recent(1)[0].Sequence != 200 {
		t.Fatalf("sequence %d, want 200", hub.Recent(1)[0].Sequence)
	}
}
