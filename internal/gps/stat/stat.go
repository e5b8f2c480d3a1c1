// Package stat keeps ingest counters for the monitoring report.
package stat

import (
	"sync"
	"time"
)

type counter struct {
	base time.Time
	cnt  uint64
}

type time_event struct {
	list [10]time.Time
	idx  int
}

// Bucket is the number of accepted fixes in the interval starting at Base.
type Bucket struct {
	Base  time.Time `json:"base"`
	Count uint64    `json:"count"`
}

type Summary struct {
	Accepted     uint64    `json:"accepted"`
	Rejected     uint64    `json:"rejected"`
	LastAccepted time.Time `json:"last_accepted"`
	LastRejected time.Time `json:"last_rejected"`
	Buckets      []Bucket  `json:"buckets"`
}

type Stat struct {
	mu       sync.Mutex
	accept   time_event
	reject   time_event
	accepted uint64
	rejected uint64
	buf      [100]counter
	phead    int
	dur      time.Duration
}

func NewStat(dur time.Duration) *Stat {
	o := &Stat{}
	o.dur = dur
	if o.dur <= 0 {
		o.dur = time.Minute
	}
	return o
}

func (s *Stat) Accepted(t time.Time) {
	s.mu.Lock()
	s.accepted++
	record(&s.accept, t)
	s.incr(1, t)
	s.mu.Unlock()
}

func (s *Stat) Rejected(t time.Time) {
	s.mu.Lock()
	s.rejected++
	record(&s.reject, t)
	s.mu.Unlock()
}

func record(l *time_event, t time.Time) {
	l.list[l.idx] = t
	l.idx = l.idx + 1
	if l.idx == len(l.list) {
		l.idx = 0
	}
}

func (l *time_event) last() time.Time {
	i := l.idx - 1
	if i < 0 {
		i = len(l.list) - 1
	}
	return l.list[i]
}

// incr must be called with s.mu held. Times older than the head bucket are
// counted into it.
func (s *Stat) incr(amt uint64, t time.Time) {
	f := t.Truncate(s.dur)
	last := &s.buf[s.phead]
	if f.After(last.base) {
		if last.cnt != 0 {
			s.phead = s.phead + 1
			if s.phead == len(s.buf) {
				s.phead = 0
			}
		}
		s.buf[s.phead].base = f
		s.buf[s.phead].cnt = amt
	} else {
		last.cnt = last.cnt + amt
	}
}

// Summary returns the totals and the non-empty buckets, oldest first.
func (s *Stat) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := Summary{Accepted: s.accepted, Rejected: s.rejected}
	res.LastAccepted = s.accept.last()
	res.LastRejected = s.reject.last()
	res.Buckets = make([]Bucket, 0, len(s.buf))
	for i := 1; i <= len(s.buf); i++ {
		c := s.buf[(s.phead+i)%len(s.buf)]
		if c.cnt == 0 {
			continue
		}
		res.Buckets = append(res.Buckets, Bucket{Base: c.base, Count: c.cnt})
	}
	return res
}
