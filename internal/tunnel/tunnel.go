// Package tunnel exposes the console through a yamux reverse tunnel: the
// console dials out to a public relay host, which forwards its inbound TCP
// connections back as yamux streams.
package tunnel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/phuslu/log"
)

const (
	TUNNEL_ACCEPTED string = "tunnel_accepted"
	TUNNEL_REJECTED string = "tunnel_rejected"
	TUNNEL_CLOSED   string = "tunnel_closed"
)

var ErrRejected = errors.New("tunnel rejected")

const (
	max_token         = 20
	handshake_timeout = 10 * time.Second
)

// Addr is the original peer address carried in the stream header.
type Addr string

func (a Addr) Network() string { return "tunnel" }
func (a Addr) String() string  { return string(a) }

// Conn is a tunnelled stream. RemoteAddr reports the peer that connected to
// the public side.
type Conn struct {
	net.Conn
	r     *bufio.Reader
	raddr Addr
}

func (c *Conn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.raddr
}

// Dial opens the client side of a tunnel session.
func Dial(addr, token string) (*yamux.Session, error) {
	yconn, err := net.DialTimeout("tcp", addr, handshake_timeout)
	if err != nil {
		return nil, err
	}
	_ = yconn.SetDeadline(time.Now().Add(handshake_timeout))
	if _, err = yconn.Write([]byte(token)); err != nil {
		yconn.Close()
		return nil, err
	}
	status := []byte{0}
	if _, err = yconn.Read(status); err != nil {
		yconn.Close()
		return nil, err
	}
	if status[0] != '+' {
		yconn.Close()
		return nil, ErrRejected
	}
	_ = yconn.SetDeadline(time.Time{})
	return yamux.Client(yconn, nil)
}

// Authenticate checks the token sent by a dialling console and answers with
// '+' or '-'.
func Authenticate(yconn net.Conn, token string) error {
	_ = yconn.SetReadDeadline(time.Now().Add(handshake_timeout))
	defer yconn.SetReadDeadline(time.Time{})
	buf := make([]byte, max_token)
	n, err := yconn.Read(buf)
	if err != nil {
		return err
	}
	if token != string(buf[:n]) {
		_, _ = yconn.Write([]byte{'-'})
		return ErrRejected
	}
	_, err = yconn.Write([]byte{'+'})
	return err
}

// Forward copies conn through a new stream of session until either side
// closes.
func Forward(session *yamux.Session, conn net.Conn) error {
	tstream, err := session.OpenStream()
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	c := make(chan error, 1)
	go func() {
		_, err := fmt.Fprintf(tstream, "%s\n", conn.RemoteAddr())
		if err == nil {
			_, err = io.Copy(tstream, conn)
		}
		tstream.Close()
		c <- err
	}()
	_, err = io.Copy(conn, tstream)
	conn.Close()
	if err0 := <-c; err == nil {
		err = err0
	}
	return err
}

type ListenerConfig struct {
	Address string
	Token   string
	// Retry is the pause before redialling a lost session.
	Retry time.Duration
}

// Listener is a net.Listener fed by tunnel streams. It redials whenever the
// session drops, until closed.
type Listener struct {
	config  ListenerConfig
	conns   chan net.Conn
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	session *yamux.Session
	log     log.Logger
}

func Listen(config *ListenerConfig) *Listener {
	l := &Listener{config: *config}
	if l.config.Retry <= 0 {
		l.config.Retry = 5 * time.Second
	}
	l.conns = make(chan net.Conn)
	l.done = make(chan struct{})
	l.log = log.DefaultLogger
	l.log.Context = log.NewContext(nil).Str("module", "tunnel").Value()
	go l.run()
	return l
}

func (l *Listener) run() {
	for {
		l.serve()
		select {
		case <-l.done:
			return
		case <-time.After(l.config.Retry):
		}
	}
}

func (l *Listener) serve() {
	l.log.Info().Msgf("Dialling tunnel %s", l.config.Address)
	session, err := Dial(l.config.Address, l.config.Token)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			l.log.Error().Str("event", TUNNEL_REJECTED).Msg("")
		} else {
			l.log.Error().Err(err).Msg("unable to dial yamux server")
		}
		return
	}
	l.mu.Lock()
	select {
	case <-l.done:
		l.mu.Unlock()
		session.Close()
		return
	default:
	}
	l.session = session
	l.mu.Unlock()
	l.log.Info().Str("event", TUNNEL_ACCEPTED).Str("address", l.config.Address).Msg("")

	for {
		tconn, err := session.Accept()
		if err != nil {
			l.log.Info().Err(err).Str("event", TUNNEL_CLOSED).Msg("")
			return
		}
		go l.handoff(tconn)
	}
}

func (l *Listener) handoff(tconn net.Conn) {
	r := bufio.NewReader(tconn)
	_ = tconn.SetReadDeadline(time.Now().Add(handshake_timeout))
	raddr, err := r.ReadString('\n')
	if err != nil {
		l.log.Debug().Err(err).Msg("missing stream header")
		tconn.Close()
		return
	}
	_ = tconn.SetReadDeadline(time.Time{})
	c := &Conn{Conn: tconn, r: r, raddr: Addr(strings.TrimSpace(raddr))}
	select {
	case l.conns <- c:
	case <-l.done:
		tconn.Close()
	}
}

func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *Listener) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		close(l.done)
		if l.session != nil {
			l.session.Close()
		}
		l.mu.Unlock()
	})
	return nil
}

func (l *Listener) Addr() net.Addr {
	return Addr(l.config.Address)
}
