package web

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
)

const ListenAttempts = 10

// Listen binds host:port, moving on to the next port while the current one
// is taken.
func Listen(host string, port int, attempts int) (net.Listener, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		addr := net.JoinHostPort(host, fmt.Sprint(port+i))
		var ln net.Listener
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}
		log.Warn().Str("address", addr).Msgf("port %d in use, trying %d", port+i, port+i+1)
	}
	return nil, fmt.Errorf("no free port in %d..%d: %w", port, port+attempts-1, err)
}

// ProxyListener expects a PROXY protocol header on every accepted
// connection, so RemoteAddr is the original client.
func ProxyListener(ln net.Listener) net.Listener {
	return &proxyproto.Listener{Listener: ln, ReadHeaderTimeout: 10 * time.Second}
}
