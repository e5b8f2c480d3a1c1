package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"afr.dev/console/internal/feed"
)

func main() {
	console := flag.String("console", "http://localhost:8080", "console base url")
	lat := flag.Float64("lat", 30.0444, "start latitude")
	lng := flag.Float64("lng", 31.2357, "start longitude")
	speed := flag.Float64("speed", 1.5, "speed in m/s")
	turn := flag.Float64("turn", 3, "heading change per fix in degrees")
	interval := flag.Duration("interval", time.Second, "time between fixes")
	count := flag.Int("count", 0, "number of fixes to send, 0 runs until interrupted")
	flag.Parse()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	logger := log.With().Str("module", "fakefix").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	walk := feed.NewWalk(&feed.WalkConfig{Lat: *lat, Lng: *lng, Speed: *speed, Turn: *turn, Interval: *interval, Limit: *count})
	logger.Info().Str("console", *console).Dur("interval", *interval).Msg("walking")
	if err := feed.Run(ctx, walk, feed.NewHTTPPublisher(*console, 5*time.Second), logger); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("")
	}
}
