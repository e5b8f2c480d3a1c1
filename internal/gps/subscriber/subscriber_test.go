package subscriber

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"afr.dev/console/internal/gps/fix"
)

func TestQueuePushAndDrain(t *testing.T) {
	q := NewQueue("test", 2)
	if err := q.Push(PingEvent(time.UnixMilli(1))); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := q.Push(FixEvent("a", fix.Fix{Lat: 1})); err != nil {
		t.Fatalf("push: %v", err)
	}
	if ev := <-q.Events(); ev.Kind != KindPing {
		t.Errorf("first event kind = %d, want ping", ev.Kind)
	}
	if ev := <-q.Events(); ev.Kind != KindFix || ev.ID != "a" {
		t.Errorf("second event = %+v, want fix a", ev)
	}
}

func TestQueueFullIsSlowConsumer(t *testing.T) {
	q := NewQueue("test", 1)
	_ = q.Push(PingEvent(time.Now()))
	err := q.Push(PingEvent(time.Now()))
	if !errors.Is(err, ErrSlowConsumer) {
		t.Errorf("got %v, want %v", err, ErrSlowConsumer)
	}
	pushed, dropped := q.Stat()
	if pushed != 1 || dropped != 1 {
		t.Errorf("stat = %d/%d, want 1/1", pushed, dropped)
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue("test", 4)
	q.Close()
	q.Close()
	if err := q.Push(PingEvent(time.Now())); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want %v", err, ErrClosed)
	}
	select {
	case <-q.Done():
	default:
		t.Error("done channel should be closed")
	}
}

func TestEventJSON(t *testing.T) {
	b, err := json.Marshal(FixEvent("id1", fix.Fix{Lat: 1, Lng: 2, Ts: 3}))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"fix","id":"id1","fix":{"lat":1,"lng":2,"accuracy":null,"speed":null,"heading":null,"ts":3}}`
	if string(b) != want {
		t.Errorf("got %s\nwant %s", b, want)
	}
	b, err = json.Marshal(PingEvent(time.UnixMilli(42)))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"type":"ping","ts":42}` {
		t.Errorf("got %s", b)
	}
}
