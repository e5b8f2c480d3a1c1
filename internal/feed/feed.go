// Package feed pushes fixes from a local source (a serial GPS, a simulated
// walk) to a running console.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"afr.dev/console/internal/gps/fix"
	"afr.dev/console/internal/gps/nmea"
	"afr.dev/console/internal/util"
)

type Source interface {
	Next() (fix.Fix, error)
}

type Publisher interface {
	Publish(ctx context.Context, f fix.Fix) error
}

// Run publishes every fix of src until the source ends or ctx is done. A
// failed publish is logged and the next fix is tried.
func Run(ctx context.Context, src Source, pub Publisher, logger zerolog.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := pub.Publish(ctx, f); err != nil {
			logger.Warn().Err(err).Msg("publish failed")
			continue
		}
		logger.Debug().Float64("lat", f.Lat).Float64("lng", f.Lng).Int64("ts", f.Ts).Msg("published")
	}
}

type HTTPPublisher struct {
	url  string
	http *http.Client
}

func NewHTTPPublisher(base string, timeout time.Duration) *HTTPPublisher {
	return &HTTPPublisher{url: strings.TrimRight(base, "/") + "/api/gps", http: &http.Client{Timeout: timeout}}
}

func (p *HTTPPublisher) Publish(ctx context.Context, f fix.Fix) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		e := util.ErrorResponse{}
		_ = json.NewDecoder(res.Body).Decode(&e)
		return fmt.Errorf("console answered %d: %s", res.StatusCode, e.Error)
	}
	return nil
}

type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

func NewMQTTPublisher(client mqtt.Client, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic}
}

func (p *MQTTPublisher) Publish(ctx context.Context, f fix.Fix) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, 0, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("mqtt publish timed out")
	}
	return token.Error()
}

// NmeaSource turns a stream of NMEA sentences into fixes.
type NmeaSource struct {
	dec    *nmea.Decoder
	parser *fix.Parser
}

func NewNmeaSource(r io.Reader) *NmeaSource {
	return &NmeaSource{dec: nmea.NewDecoder(r), parser: fix.NewParser(nil)}
}

func (s *NmeaSource) Next() (fix.Fix, error) {
	for {
		req, err := s.dec.Next()
		if err != nil {
			return fix.Fix{}, err
		}
		f, err := s.parser.Validate(&req, time.Now())
		if err == nil {
			return f, nil
		}
	}
}

const earth_radius = 6371000.0

// Walk simulates a robot driving in a slow circle. Each call to Next waits
// one interval.
type Walk struct {
	lat, lng float64
	heading  float64
	speed    float64
	turn     float64
	interval time.Duration
	ticker   *time.Ticker
	count    int
	limit    int
}

type WalkConfig struct {
	Lat, Lng float64
	// Speed in m/s, Turn in degrees per step.
	Speed    float64
	Turn     float64
	Interval time.Duration
	// Limit stops the walk after that many fixes, zero walks forever.
	Limit int
}

func NewWalk(config *WalkConfig) *Walk {
	w := &Walk{lat: config.Lat, lng: config.Lng, speed: config.Speed, turn: config.Turn, interval: config.Interval, limit: config.Limit}
	if w.interval <= 0 {
		w.interval = time.Second
	}
	w.ticker = time.NewTicker(w.interval)
	return w
}

func (w *Walk) Next() (fix.Fix, error) {
	if w.limit > 0 && w.count >= w.limit {
		w.ticker.Stop()
		return fix.Fix{}, io.EOF
	}
	t := <-w.ticker.C
	w.count++
	d := w.speed * w.interval.Seconds()
	rad := w.heading * math.Pi / 180
	w.lat += d * math.Cos(rad) / earth_radius * 180 / math.Pi
	w.lng += d * math.Sin(rad) / (earth_radius * math.Cos(w.lat*math.Pi/180)) * 180 / math.Pi
	speed, heading, accuracy := w.speed, w.heading, 5.0
	w.heading = math.Mod(w.heading+w.turn+360, 360)

	return fix.Fix{
		Lat:      w.lat,
		Lng:      w.lng,
		Accuracy: &accuracy,
		Speed:    &speed,
		Heading:  &heading,
		Ts:       t.UnixMilli(),
	}, nil
}
