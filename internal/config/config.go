// Package config loads the console settings from defaults, an optional .env
// file, the environment and command line flags, in increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	PingMessage string        `mapstructure:"ping_message"`
	SpaDir      string        `mapstructure:"spa_dir"`
	Heartbeat   time.Duration `mapstructure:"heartbeat"`
	QueueSize   int           `mapstructure:"queue_size"`
	LogLevel    string        `mapstructure:"log_level"`
	AccessLog   bool          `mapstructure:"access_log"`

	GeocodeURL     string        `mapstructure:"geocode_url"`
	GeocodeTimeout time.Duration `mapstructure:"geocode_timeout"`

	ProxyProtocol bool   `mapstructure:"proxy_protocol"`
	MonAddress    string `mapstructure:"mon_address"`
	TunnelAddress string `mapstructure:"tunnel_address"`
	TunnelToken   string `mapstructure:"tunnel_token"`

	MqttBroker string `mapstructure:"mqtt_broker"`
	MqttTopic  string `mapstructure:"mqtt_topic"`

	NatsURL           string `mapstructure:"nats_url"`
	NatsIngestSubject string `mapstructure:"nats_ingest_subject"`
	NatsMirrorSubject string `mapstructure:"nats_mirror_subject"`
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var defaults = map[string]interface{}{
	"host":                "0.0.0.0",
	"port":                8080,
	"ping_message":        "ping",
	"spa_dir":             "",
	"heartbeat":           15 * time.Second,
	"queue_size":          32,
	"log_level":           "info",
	"access_log":          true,
	"geocode_url":         "https://nominatim.openstreetmap.org",
	"geocode_timeout":     10 * time.Second,
	"proxy_protocol":      false,
	"mon_address":         "",
	"tunnel_address":      "",
	"tunnel_token":        "",
	"mqtt_broker":         "",
	"mqtt_topic":          "afr/gps",
	"nats_url":            "",
	"nats_ingest_subject": "afr.gps.ingest",
	"nats_mirror_subject": "afr.gps.fix",
}

var usage = map[string]string{
	"host":                "address to bind",
	"port":                "preferred port, the next free one is used when taken",
	"ping_message":        "message answered by /api/ping",
	"spa_dir":             "directory of the dashboard build, empty disables static hosting",
	"heartbeat":           "interval between stream pings",
	"queue_size":          "events buffered per subscriber before it is dropped",
	"log_level":           "trace, debug, info, warn or error",
	"access_log":          "log every api request",
	"geocode_url":         "nominatim base url",
	"geocode_timeout":     "reverse geocoding timeout",
	"proxy_protocol":      "expect a PROXY protocol header on accepted connections",
	"mon_address":         "separate monitoring listener, empty disables it",
	"tunnel_address":      "tunnel host to dial, empty disables the tunnel",
	"tunnel_token":        "token for tunnel auth connection",
	"mqtt_broker":         "mqtt broker url, empty disables the bridge",
	"mqtt_topic":          "mqtt topic carrying fixes",
	"nats_url":            "nats server url, empty disables the bridge",
	"nats_ingest_subject": "nats subject carrying fixes",
	"nats_mirror_subject": "nats subject receiving accepted fixes",
}

// Load resolves the configuration. envFile may be empty; a missing file is
// not an error.
func Load(args []string, envFile string) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read %s: %w", envFile, err)
			}
		}
	}
	v.AutomaticEnv()

	fs := flag.NewFlagSet("console", flag.ContinueOnError)
	set := make(map[string]*string, len(defaults))
	for k := range defaults {
		set[k] = fs.String(k, fmt.Sprint(v.Get(k)), usage[k])
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		v.Set(f.Name, *set[f.Name])
	})

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", c.Port)
	}
	return c, nil
}
