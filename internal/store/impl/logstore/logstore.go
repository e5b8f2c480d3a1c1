package logstore

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"afr.dev/console/internal/gps/fix"
)

// LogStore journals fixes to a log instead of a database.
type LogStore struct {
	logger zerolog.Logger
	count  uint64
}

func NewStore(logger *zerolog.Logger) *LogStore {
	if logger == nil {
		logger = &log.Logger
	}
	return &LogStore{logger: logger.With().Str("module", "journal").Logger()}
}

func (l *LogStore) Put(f fix.Fix, srvt time.Time) {
	n := atomic.AddUint64(&l.count, 1)
	e := l.logger.Info().Uint64("seq", n).Float64("lat", f.Lat).Float64("lng", f.Lng)
	if f.Accuracy != nil {
		e = e.Float64("accuracy", *f.Accuracy)
	}
	if f.Speed != nil {
		e = e.Float64("speed", *f.Speed)
	}
	if f.Heading != nil {
		e = e.Float64("heading", *f.Heading)
	}
	e.Time("gpstime", f.Time()).Time("srvtime", srvt).Msg("fix")
}

func (l *LogStore) Count() uint64 {
	return atomic.LoadUint64(&l.count)
}
