// Package natsbridge ingests fixes from a NATS subject and mirrors every
// accepted fix to another one.
package natsbridge

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"

	"afr.dev/console/internal/gps/fix"
	"afr.dev/console/internal/util"
)

const (
	DefaultIngestSubject = "afr.gps.ingest"
	DefaultMirrorSubject = "afr.gps.fix"
)

type Relay interface {
	IngestJSON(ctx context.Context, data []byte) (fix.Fix, error)
	OnFix(key string, fn func(ctx context.Context, f fix.Fix))
}

// Publisher is the part of *nats.Conn the bridge writes through.
type Publisher interface {
	Publish(subj string, data []byte) error
}

type BridgeConfig struct {
	URL           string
	IngestSubject string
	MirrorSubject string
}

type reply struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type Bridge struct {
	config    BridgeConfig
	relay     Relay
	nc        *nats.Conn
	sub       *nats.Subscription
	pub       Publisher
	mirrored  uint64
	mirror_ko uint64
	log       log.Logger
}

func New(r Relay, config *BridgeConfig) *Bridge {
	b := &Bridge{config: *config, relay: r}
	if b.config.IngestSubject == "" {
		b.config.IngestSubject = DefaultIngestSubject
	}
	if b.config.MirrorSubject == "" {
		b.config.MirrorSubject = DefaultMirrorSubject
	}
	b.log = log.DefaultLogger
	b.log.Context = log.NewContext(nil).Str("module", "natsbridge").Value()
	return b
}

func (b *Bridge) Start() error {
	nc, err := nats.Connect(b.config.URL,
		nats.Name("afr-console-"+util.GenUUID()),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			b.log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return err
	}
	b.nc = nc
	return b.Attach(nc)
}

// Attach wires the bridge onto pub. When pub is a *nats.Conn the ingest
// subject is subscribed as well.
func (b *Bridge) Attach(pub Publisher) error {
	b.pub = pub
	if nc, ok := pub.(*nats.Conn); ok {
		sub, err := nc.Subscribe(b.config.IngestSubject, b.Handle)
		if err != nil {
			return err
		}
		b.sub = sub
	}
	b.relay.OnFix("natsbridge", b.Mirror)
	b.log.Info().Str("ingest", b.config.IngestSubject).Str("mirror", b.config.MirrorSubject).Msg("nats bridge attached")
	return nil
}

// Handle ingests one message. Requests carrying a reply subject get
// {"ok":true} or {"ok":false,"error":...} back.
func (b *Bridge) Handle(msg *nats.Msg) {
	res := reply{Ok: true}
	if _, err := b.relay.IngestJSON(context.Background(), msg.Data); err != nil {
		res = reply{Error: err.Error()}
		b.log.Warn().Err(err).Str("subject", msg.Subject).Msg("message rejected")
	}
	if msg.Reply == "" || b.pub == nil {
		return
	}
	data, _ := json.Marshal(res)
	if err := b.pub.Publish(msg.Reply, data); err != nil {
		b.log.Error().Err(err).Msg("reply failed")
	}
}

// Mirror publishes f on the mirror subject. It runs on the ingesting
// goroutine; Publish only buffers.
func (b *Bridge) Mirror(ctx context.Context, f fix.Fix) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := b.pub.Publish(b.config.MirrorSubject, data); err != nil {
		atomic.AddUint64(&b.mirror_ko, 1)
		b.log.Error().Err(err).Msg("mirror failed")
		return
	}
	atomic.AddUint64(&b.mirrored, 1)
}

func (b *Bridge) Stat() (mirrored, failed uint64) {
	return atomic.LoadUint64(&b.mirrored), atomic.LoadUint64(&b.mirror_ko)
}

func (b *Bridge) Stop() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.nc != nil {
		b.nc.Close()
	}
}
