package subscriber

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"afr.dev/console/internal/gps/fix"
)

var (
	ErrClosed       = errors.New("subscriber closed")
	ErrSlowConsumer = errors.New("subscriber queue full")
)

type Kind uint8

const (
	KindFix Kind = iota
	KindPing
)

// Event is what travels down a subscriber's channel: a fix broadcast or a
// heartbeat.
type Event struct {
	Kind Kind
	ID   string
	Fix  fix.Fix
	Time time.Time
}

func FixEvent(id string, f fix.Fix) Event {
	return Event{Kind: KindFix, ID: id, Fix: f}
}

func PingEvent(t time.Time) Event {
	return Event{Kind: KindPing, Time: t}
}

type event_json struct {
	Type string   `json:"type"`
	ID   string   `json:"id,omitempty"`
	Fix  *fix.Fix `json:"fix,omitempty"`
	Ts   int64    `json:"ts,omitempty"`
}

func (ev Event) MarshalJSON() ([]byte, error) {
	switch ev.Kind {
	case KindFix:
		f := ev.Fix
		return json.Marshal(event_json{Type: "fix", ID: ev.ID, Fix: &f})
	default:
		return json.Marshal(event_json{Type: "ping", Ts: ev.Time.UnixMilli()})
	}
}

// Sink is the output side of a streaming client. Push must not block and
// must not do network I/O; Close must be safe to call more than once.
type Sink interface {
	Push(ev Event) error
	Close()
	Name() string
}

// Queue is a bounded Sink drained by the connection goroutine that owns it.
type Queue struct {
	name    string
	ch      chan Event
	done    chan struct{}
	once    sync.Once
	pushed  uint64
	dropped uint64
}

func NewQueue(name string, size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{name: name, ch: make(chan Event, size), done: make(chan struct{})}
}

func (q *Queue) Push(ev Event) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- ev:
		atomic.AddUint64(&q.pushed, 1)
		return nil
	default:
		atomic.AddUint64(&q.dropped, 1)
		return ErrSlowConsumer
	}
}

func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *Queue) Name() string {
	return q.name
}

// Events is never closed, select on Done as well.
func (q *Queue) Events() <-chan Event {
	return q.ch
}

func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) Stat() (pushed uint64, dropped uint64) {
	return atomic.LoadUint64(&q.pushed), atomic.LoadUint64(&q.dropped)
}
