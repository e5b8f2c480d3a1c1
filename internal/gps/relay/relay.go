// Package relay owns the process state of the GPS relay: the last fix, the
// subscriber registry and the bus that carries accepted fixes to side
// consumers (journal, mirrors).
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
	"github.com/phuslu/log"

	"afr.dev/console/internal/gps/fix"
	"afr.dev/console/internal/gps/stat"
	"afr.dev/console/internal/gps/store"
	"afr.dev/console/internal/gps/sublist"
	"afr.dev/console/internal/gps/subscriber"
)

const (
	FIX_ACCEPTED string = "fix_accepted"
	FIX_REJECTED string = "fix_rejected"
)

// TopicFix is emitted on the bus once per accepted fix, after fan-out.
const TopicFix = "gps.fix"

// 2024-01-01T00:00:00Z, epoch of the event ids.
const id_epoch uint64 = 1704067200000

const DefaultQueueSize = 32

type RelayConfig struct {
	Heartbeat time.Duration
	QueueSize int
	Node      uint64
}

type Relay struct {
	mu         sync.Mutex
	store      *store.FixStore
	sublist    *sublist.Registry
	bus        *bus.Bus
	next_id    func() string
	parser     *fix.Parser
	stat       *stat.Stat
	queue_size int
	now        func() time.Time
	log        log.Logger
}

func New(config *RelayConfig) (*Relay, error) {
	if config == nil {
		config = &RelayConfig{}
	}
	m, err := monoton.New(sequencer.NewMillisecond(), config.Node, id_epoch)
	if err != nil {
		return nil, err
	}
	var gen bus.Next = m.Next
	b, err := bus.NewBus(gen)
	if err != nil {
		return nil, err
	}
	b.RegisterTopics(TopicFix)

	r := &Relay{}
	r.store = store.NewFixStore()
	r.sublist = sublist.NewRegistry(&sublist.RegistryConfig{Heartbeat: config.Heartbeat})
	r.bus = b
	r.next_id = m.Next
	r.parser = fix.NewParser(nil)
	r.stat = stat.NewStat(time.Minute)
	r.queue_size = config.QueueSize
	if r.queue_size <= 0 {
		r.queue_size = DefaultQueueSize
	}
	r.now = time.Now
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "relay").Value()
	return r, nil
}

// Ingest makes f the current fix and pushes it to every subscriber. It
// returns the number of subscribers that accepted the fix.
func (r *Relay) Ingest(ctx context.Context, f fix.Fix) int {
	r.mu.Lock()
	r.store.Set(f)
	n := r.sublist.Broadcast(subscriber.FixEvent(r.next_id(), f))
	r.mu.Unlock()
	r.stat.Accepted(r.now())
	r.log.Debug().Str("event", FIX_ACCEPTED).EmbedObject(f).Int("delivered", n).Msg("")
	if err := r.bus.Emit(ctx, TopicFix, f); err != nil {
		r.log.Error().Err(err).Msg("bus emit failed")
	}
	return n
}

// IngestJSON parses a producer payload and ingests it. Invalid payloads
// leave the relay untouched.
func (r *Relay) IngestJSON(ctx context.Context, data []byte) (fix.Fix, error) {
	f, err := r.parser.Parse(data, r.now())
	if err != nil {
		r.stat.Rejected(r.now())
		r.log.Debug().Err(err).Str("event", FIX_REJECTED).Msg("")
		return fix.Fix{}, err
	}
	r.Ingest(ctx, f)
	return f, nil
}

// IngestRequest validates an already decoded payload and ingests it.
func (r *Relay) IngestRequest(ctx context.Context, req *fix.Request) (fix.Fix, error) {
	f, err := r.parser.Validate(req, r.now())
	if err != nil {
		r.stat.Rejected(r.now())
		r.log.Debug().Err(err).Str("event", FIX_REJECTED).Msg("")
		return fix.Fix{}, err
	}
	r.Ingest(ctx, f)
	return f, nil
}

// Subscribe registers sink and replays the current fix to it before any
// later broadcast can reach it. A zero id means the relay is closed.
func (r *Relay) Subscribe(sink subscriber.Sink) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.sublist.Register(sink)
	if id == 0 {
		return 0
	}
	if f, ok := r.store.Get(); ok {
		_ = r.sublist.Push(id, subscriber.FixEvent(r.next_id(), f))
	}
	return id
}

func (r *Relay) Unsubscribe(id uint64) {
	r.sublist.Unregister(id)
}

func (r *Relay) Snapshot() (fix.Fix, bool) {
	return r.store.Get()
}

// Stats summarizes ingest activity.
func (r *Relay) Stats() stat.Summary {
	return r.stat.Summary()
}

func (r *Relay) NewQueue(name string) *subscriber.Queue {
	return subscriber.NewQueue(name, r.queue_size)
}

func (r *Relay) Subscribers() []sublist.Status {
	return r.sublist.Status()
}

// OnFix runs fn for every accepted fix, on the ingesting goroutine. fn must
// not block.
func (r *Relay) OnFix(key string, fn func(ctx context.Context, f fix.Fix)) {
	r.bus.RegisterHandler(key, bus.Handler{
		Handle: func(ctx context.Context, e bus.Event) {
			f, ok := e.Data.(fix.Fix)
			if !ok {
				return
			}
			fn(ctx, f)
		},
		Matcher: "^" + TopicFix + "$",
	})
}

// Close drops every subscriber. Resident state is memory only, nothing is
// flushed.
func (r *Relay) Close() {
	r.sublist.Close()
}
