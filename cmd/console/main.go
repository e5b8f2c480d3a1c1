package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"afr.dev/console/internal/bridge/mqttbridge"
	"afr.dev/console/internal/bridge/natsbridge"
	"afr.dev/console/internal/config"
	"afr.dev/console/internal/gps/relay"
	"afr.dev/console/internal/store"
	"afr.dev/console/internal/store/impl/logstore"
	"afr.dev/console/internal/tunnel"
	"afr.dev/console/internal/web"
	"afr.dev/console/internal/web/geocode"
	"afr.dev/console/internal/web/monitoring"
)

func main() {
	conf, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log.DefaultLogger.Level = log.ParseLevel(conf.LogLevel)
	log.DefaultLogger.Caller = 1

	rl, err := relay.New(&relay.RelayConfig{Heartbeat: conf.Heartbeat, QueueSize: conf.QueueSize})
	if err != nil {
		log.Fatal().Err(err).Msg("cannot create relay")
	}
	store.Attach(rl, "journal", logstore.NewStore(nil))

	if conf.MqttBroker != "" {
		b := mqttbridge.New(rl, &mqttbridge.BridgeConfig{Broker: conf.MqttBroker, Topic: conf.MqttTopic})
		if err := b.Start(); err != nil {
			log.Fatal().Err(err).Str("broker", conf.MqttBroker).Msg("mqtt bridge")
		}
		defer b.Stop()
	}
	if conf.NatsURL != "" {
		b := natsbridge.New(rl, &natsbridge.BridgeConfig{URL: conf.NatsURL, IngestSubject: conf.NatsIngestSubject, MirrorSubject: conf.NatsMirrorSubject})
		if err := b.Start(); err != nil {
			log.Fatal().Err(err).Str("url", conf.NatsURL).Msg("nats bridge")
		}
		defer b.Stop()
	}

	mon := monitoring.NewMonApi(rl, &monitoring.MonitoringConfig{ListenAddr: conf.MonAddress})
	go mon.Run()
	defer mon.Close()

	geo := geocode.NewClient(&geocode.GeocodeConfig{BaseURL: conf.GeocodeURL, Timeout: conf.GeocodeTimeout})
	api := web.NewApi(rl, geo, mon, &web.ApiConfig{
		PingMessage: conf.PingMessage,
		SpaDir:      conf.SpaDir,
		AccessLog:   conf.AccessLog,
	})

	ln, err := web.Listen(conf.Host, conf.Port, web.ListenAttempts)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to listen")
	}
	if conf.ProxyProtocol {
		ln = web.ProxyListener(ln)
	}
	log.Warn().Str("address", ln.Addr().String()).Msg("POST /api/gps accepts fixes from any caller, keep the console on a trusted network")

	listeners := []net.Listener{ln}
	if conf.TunnelAddress != "" {
		listeners = append(listeners, tunnel.Listen(&tunnel.ListenerConfig{Address: conf.TunnelAddress, Token: conf.TunnelToken}))
	}
	errc := make(chan error, len(listeners))
	for _, l := range listeners {
		go func(l net.Listener) {
			errc <- api.Serve(l)
		}(l)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	case err := <-errc:
		if err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
