package bus

import (
	"context"
	"testing"
	"time"

	"github.com/archserver/vbtrader-sub001/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[model.Quote](10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan model.Quote, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Quote{Symbol: "AAPL", Last: 15000}

	select {
	case q := <-out1:
		if q.Symbol != "AAPL" {
			t.Errorf("out1: expected symbol AAPL, got %s", q.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out1: timed out waiting for quote")
	}

	select {
	case q := <-out2:
		if q.Symbol != "AAPL" {
			t.Errorf("out2: expected symbol AAPL, got %s", q.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out2: timed out waiting for quote")
	}
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New[model.Quote](1)
	fo.Subscribe() // never drained

	drops := 0
	fo.OnDrop = func(idx int) { drops++ }

	fo.Publish(model.Quote{Symbol: "A"})
	fo.Publish(model.Quote{Symbol: "B"}) // buffer full now

	if drops != 1 {
		t.Errorf("expected 1 drop, got %d", drops)
	}
}

func TestFanOut_NoReplayToLateSubscriber(t *testing.T) {
	fo := New[model.Quote](10)
	fo.Publish(model.Quote{Symbol: "EARLY"})

	late := fo.Subscribe()
	select {
	case q := <-late:
		t.Errorf("late subscriber should receive nothing, got %s", q.Symbol)
	default:
	}
}
