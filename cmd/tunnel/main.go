package main

import (
	"crypto/tls"
	"flag"
	"net"
	"time"

	yamux "github.com/hashicorp/yamux"
	"github.com/phuslu/log"

	"afr.dev/console/internal/tunnel"
)

var eaddr = flag.String("eaddr", ":8080", "address for external connection")
var taddr = flag.String("taddr", ":5556", "address for tunnel connection")
var secret = flag.String("token", "token", "token for tunnel auth connection")
var certfile = flag.String("cert", "", "tls certificate file")
var keyfile = flag.String("key", "", "tls key file ")

func main() {
	flag.Parse()
	log.DefaultLogger.Context = log.NewContext(nil).Str("module", "tunnel-host").Value()
	log.Info().Msgf("using external addr %s and tunnel addr %s", *eaddr, *taddr)

	var ylistener net.Listener
	var err error
	if *certfile == "" && *keyfile == "" {
		log.Info().Msg("starting non-tls listener")
		ylistener, err = net.Listen("tcp", *taddr)
	} else {
		log.Info().Msg("starting tls listener")
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(*certfile, *keyfile)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to load certificate")
		}
		ylistener, err = tls.Listen("tcp", *taddr, &tls.Config{Certificates: []tls.Certificate{cert}})
	}
	if err != nil {
		log.Fatal().Err(err).Msg("unable to listen")
	}

	for {
		yconn, err := ylistener.Accept()
		if err != nil {
			log.Error().Err(err).Msg("accept")
			time.Sleep(time.Second)
			continue
		}
		log.Info().Str("remote_address", yconn.RemoteAddr().String()).Msg("accepting tunnel connection")
		if err := tunnel.Authenticate(yconn, *secret); err != nil {
			log.Warn().Err(err).Str("event", tunnel.TUNNEL_REJECTED).Msg("")
			yconn.Close()
			continue
		}
		session, err := yamux.Server(yconn, nil)
		if err != nil {
			log.Error().Err(err).Msg("error trying to create server")
			yconn.Close()
			continue
		}
		log.Info().Str("event", tunnel.TUNNEL_ACCEPTED).Str("remote_address", yconn.RemoteAddr().String()).Msg("")
		runServer(session)
		log.Info().Str("event", tunnel.TUNNEL_CLOSED).Msg("waiting for the console to redial")
	}
}

// runServer forwards external connections through session until it closes.
func runServer(session *yamux.Session) {
	listener, err := net.Listen("tcp", *eaddr)
	if err != nil {
		log.Error().Err(err).Msg("unable to open external listener")
		session.Close()
		return
	}
	go func() {
		<-session.CloseChan()
		listener.Close()
	}()
	defer func() {
		log.Info().Msg("closing external listener")
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		log.Debug().Str("remote_address", conn.RemoteAddr().String()).Msg("new connection")
		go func() {
			if err := tunnel.Forward(session, conn); err != nil {
				log.Debug().Err(err).Str("remote_address", conn.RemoteAddr().String()).Msg("forward ended")
			}
		}()
	}
}
