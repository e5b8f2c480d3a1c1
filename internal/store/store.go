package store

import (
	"context"
	"time"

	"afr.dev/console/internal/gps/fix"
)

// Store receives every accepted fix with the server time it was accepted.
type Store interface {
	Put(f fix.Fix, srvt time.Time)
}

type FixSource interface {
	OnFix(key string, fn func(ctx context.Context, f fix.Fix))
}

// Attach feeds src into s.
func Attach(src FixSource, key string, s Store) {
	src.OnFix(key, func(ctx context.Context, f fix.Fix) {
		s.Put(f, time.Now())
	})
}
