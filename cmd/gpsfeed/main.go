package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jacobsa/go-serial/serial"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"afr.dev/console/internal/feed"
	"afr.dev/console/internal/util"
)

func main() {
	port := flag.String("port", "/dev/serial0", "serial port of the gps module, - reads stdin")
	baud := flag.Uint("baud", 9600, "serial baud rate")
	console := flag.String("console", "http://localhost:8080", "console base url")
	broker := flag.String("mqtt", "", "publish to this mqtt broker instead of the console")
	topic := flag.String("topic", "afr/gps", "mqtt topic")
	debug := flag.Bool("debug", false, "log every published fix")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	logger := log.With().Str("module", "gpsfeed").Logger()

	var in io.ReadCloser = os.Stdin
	if *port != "-" {
		p, err := serial.Open(serial.OpenOptions{
			PortName:        *port,
			BaudRate:        *baud,
			DataBits:        8,
			StopBits:        1,
			MinimumReadSize: 1,
			ParityMode:      serial.PARITY_NONE,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("port", *port).Msg("unable to open serial port")
		}
		in = p
		logger.Info().Str("port", *port).Uint("baud", *baud).Msg("serial port opened")
	}
	defer in.Close()

	var pub feed.Publisher = feed.NewHTTPPublisher(*console, 5*time.Second)
	if *broker != "" {
		opts := mqtt.NewClientOptions().
			AddBroker(*broker).
			SetClientID("afr-gpsfeed-" + util.GenUUID())
		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Fatal().Err(token.Error()).Str("broker", *broker).Msg("mqtt connect error")
		}
		defer client.Disconnect(250)
		pub = feed.NewMQTTPublisher(client, *topic)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		in.Close()
	}()
	if err := feed.Run(ctx, feed.NewNmeaSource(in), pub, logger); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("feed stopped")
	}
}
