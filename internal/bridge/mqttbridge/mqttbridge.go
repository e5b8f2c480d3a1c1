// Package mqttbridge ingests fixes published on an MQTT topic.
package mqttbridge

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/phuslu/log"

	"afr.dev/console/internal/gps/fix"
	"afr.dev/console/internal/util"
)

const (
	BRIDGE_CONNECTED string = "mqtt_connected"
	BRIDGE_LOST      string = "mqtt_connection_lost"
)

const DefaultTopic = "afr/gps"

type Ingester interface {
	IngestJSON(ctx context.Context, data []byte) (fix.Fix, error)
}

type BridgeConfig struct {
	Broker string
	Topic  string
	Qos    byte
}

type Bridge struct {
	config   BridgeConfig
	ing      Ingester
	client   mqtt.Client
	received uint64
	rejected uint64
	log      log.Logger
}

func New(ing Ingester, config *BridgeConfig) *Bridge {
	b := &Bridge{config: *config, ing: ing}
	if b.config.Topic == "" {
		b.config.Topic = DefaultTopic
	}
	b.log = log.DefaultLogger
	b.log.Context = log.NewContext(nil).Str("module", "mqttbridge").Value()
	return b
}

// Start connects to the broker. The subscription is renewed on every
// reconnect.
func (b *Bridge) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.config.Broker).
		SetClientID("afr-console-" + util.GenUUID()).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetOnConnectHandler(b.subscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.log.Warn().Err(err).Str("event", BRIDGE_LOST).Msg("")
		})
	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (b *Bridge) subscribe(c mqtt.Client) {
	b.log.Info().Str("event", BRIDGE_CONNECTED).Str("broker", b.config.Broker).Str("topic", b.config.Topic).Msg("")
	token := c.Subscribe(b.config.Topic, b.config.Qos, b.Handle)
	token.Wait()
	if token.Error() != nil {
		b.log.Error().Err(token.Error()).Str("topic", b.config.Topic).Msg("subscribe failed")
	}
}

// Handle ingests one message. Payloads use the same JSON as the HTTP ingest
// endpoint.
func (b *Bridge) Handle(_ mqtt.Client, msg mqtt.Message) {
	atomic.AddUint64(&b.received, 1)
	_, err := b.ing.IngestJSON(context.Background(), msg.Payload())
	if err != nil {
		atomic.AddUint64(&b.rejected, 1)
		e := b.log.Warn()
		if errors.Is(err, fix.ErrMalformed) {
			e = b.log.Error()
		}
		e.Err(err).Str("topic", msg.Topic()).Msg("message rejected")
	}
}

func (b *Bridge) Stat() (received, rejected uint64) {
	return atomic.LoadUint64(&b.received), atomic.LoadUint64(&b.rejected)
}

func (b *Bridge) Stop() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}
