package sublist

import (
	"sort"
	"sync"
	"time"

	"github.com/phuslu/log"

	"afr.dev/console/internal/gps/subscriber"
)

const (
	SUBSCRIBER_REGISTERED   string = "subscriber_registered"
	SUBSCRIBER_UNREGISTERED string = "subscriber_unregistered"
	SUBSCRIBER_DROPPED      string = "subscriber_dropped"
)

const DefaultHeartbeat = 15 * time.Second

type RegistryConfig struct {
	Heartbeat time.Duration
}

type entry struct {
	id    uint64
	sink  subscriber.Sink
	since time.Time
	stop  chan struct{}
}

// Registry tracks the streaming clients. Every entry owns exactly one
// heartbeat goroutine which lives until the entry is removed.
type Registry struct {
	mu        sync.Mutex
	wg        sync.WaitGroup
	next_id   uint64
	list      map[uint64]*entry
	heartbeat time.Duration
	closed    bool
	log       log.Logger
}

type Status struct {
	ID      uint64    `json:"-"`
	Name    string    `json:"kind"`
	Since   time.Time `json:"since"`
	Pushed  uint64    `json:"pushed"`
	Dropped uint64    `json:"dropped"`
}

func NewRegistry(config *RegistryConfig) *Registry {
	s := &Registry{}
	s.next_id = 1
	s.list = make(map[uint64]*entry)
	s.heartbeat = DefaultHeartbeat
	if config != nil && config.Heartbeat > 0 {
		s.heartbeat = config.Heartbeat
	}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "sublist").Value()
	return s
}

// Register adds the sink and starts its heartbeat. After Close every sink
// is closed on arrival and gets id 0.
func (s *Registry) Register(sink subscriber.Sink) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sink.Close()
		return 0
	}
	e := &entry{id: s.next_id, sink: sink, since: time.Now(), stop: make(chan struct{})}
	s.next_id++
	s.list[e.id] = e
	s.wg.Add(1)
	go s.beat(e)
	s.log.Info().Str("event", SUBSCRIBER_REGISTERED).Uint64("sid", e.id).Str("kind", sink.Name()).Int("total", len(s.list)).Msg("")
	return e.id
}

// Unregister is a no-op for unknown ids.
func (s *Registry) Unregister(id uint64) {
	s.mu.Lock()
	e, ok := s.list[id]
	if ok {
		s.remove(e)
		s.log.Info().Str("event", SUBSCRIBER_UNREGISTERED).Uint64("sid", id).Int("total", len(s.list)).Msg("")
	}
	s.mu.Unlock()
}

// Broadcast offers ev to every sink and returns how many accepted it. Sinks
// that refuse are removed on the spot.
func (s *Registry) Broadcast(ev subscriber.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.list {
		err := e.sink.Push(ev)
		if err != nil {
			s.remove(e)
			s.log.Warn().Err(err).Str("event", SUBSCRIBER_DROPPED).Uint64("sid", id).Int("total", len(s.list)).Msg("")
			continue
		}
		n++
	}
	return n
}

// Push delivers ev to a single subscriber, removing it on failure.
func (s *Registry) Push(id uint64, ev subscriber.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.list[id]
	if !ok {
		return subscriber.ErrClosed
	}
	err := e.sink.Push(ev)
	if err != nil {
		s.remove(e)
		s.log.Warn().Err(err).Str("event", SUBSCRIBER_DROPPED).Uint64("sid", id).Int("total", len(s.list)).Msg("")
	}
	return err
}

// Close removes every subscriber and waits for the heartbeats to stop.
func (s *Registry) Close() {
	s.mu.Lock()
	s.closed = true
	for _, e := range s.list {
		s.remove(e)
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info().Msg("registry closed")
}

func (s *Registry) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

func (s *Registry) Has(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.list[id]
	return ok
}

func (s *Registry) Status() []Status {
	s.mu.Lock()
	res := make([]Status, 0, len(s.list))
	for _, e := range s.list {
		st := Status{ID: e.id, Name: e.sink.Name(), Since: e.since}
		if sc, ok := e.sink.(interface{ Stat() (uint64, uint64) }); ok {
			st.Pushed, st.Dropped = sc.Stat()
		}
		res = append(res, st)
	}
	s.mu.Unlock()
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// remove must be called with s.mu held.
func (s *Registry) remove(e *entry) {
	delete(s.list, e.id)
	close(e.stop)
	e.sink.Close()
}

func (s *Registry) beat(e *entry) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case t := <-ticker.C:
			if err := s.Push(e.id, subscriber.PingEvent(t)); err != nil {
				return
			}
		}
	}
}
