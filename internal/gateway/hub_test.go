package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/archserver/vbtrader-sub001/internal/model"
)

func testClient(buffer int) *Client {
	return &Client{send: make(chan []byte, buffer)}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := NewHub()
	a, b := testClient(8), testClient(8)
	h.register(a)
	h.register(b)

	q := model.Quote{Symbol: "AAPL", Last: 15_000, TS: time.Now().UTC()}
	h.broadcast("quote", q.JSON())

	for _, c := range []*Client{a, b} {
		select {
		case raw := <-c.send:
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("bad envelope: %v", err)
			}
			if env.Type != "quote" || env.Seq != 1 {
				t.Errorf("envelope = %+v", env)
			}
			var got model.Quote
			if err := json.Unmarshal(env.Data, &got); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			if got.Symbol != "AAPL" || got.Last != 15_000 {
				t.Errorf("payload = %+v", got)
			}
		default:
			t.Fatal("client received nothing")
		}
	}
}

func TestBroadcastSequenceMonotonic(t *testing.T) {
	h := NewHub()
	c := testClient(8)
	h.register(c)

	for i := 0; i < 3; i++ {
		h.broadcast("opportunity", (&model.Opportunity{Symbol: "NVDA"}).JSON())
	}

	var prev int64
	for i := 0; i < 3; i++ {
		var env Envelope
		if err := json.Unmarshal(<-c.send, &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		if env.Seq <= prev {
			t.Fatalf("seq not increasing: %d after %d", env.Seq, prev)
		}
		prev = env.Seq
	}
}

func TestSlowClientDropped(t *testing.T) {
	h := NewHub()
	slow := testClient(1)
	fast := testClient(8)
	h.register(slow)
	h.register(fast)

	q := model.Quote{Symbol: "AAPL", Last: 1}
	h.broadcast("quote", q.JSON()) // fills slow's buffer
	h.broadcast("quote", q.JSON()) // overflows it — slow gets dropped

	if n := h.ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1 after dropping the slow one", n)
	}

	// The dropped client's channel is closed.
	<-slow.send // buffered message
	if _, ok := <-slow.send; ok {
		t.Error("slow client's send channel not closed")
	}

	if len(fast.send) != 2 {
		t.Errorf("fast client got %d messages, want 2", len(fast.send))
	}
}

func TestUnregisterIdempotentWithDrop(t *testing.T) {
	h := NewHub()
	c := testClient(1)
	h.register(c)

	q := model.Quote{Symbol: "AAPL", Last: 1}
	h.broadcast("quote", q.JSON())
	h.broadcast("quote", q.JSON()) // drops c

	// readPump teardown after the drop must not double-close.
	h.unregister(c)
	if h.ClientCount() != 0 {
		t.Errorf("clients = %d, want 0", h.ClientCount())
	}
}
