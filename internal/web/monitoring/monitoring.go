package monitoring

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phuslu/log"
	"github.com/speps/go-hashids/v2"

	"afr.dev/console/internal/gps/relay"
	"afr.dev/console/internal/gps/stat"
	"afr.dev/console/internal/gps/sublist"
	"afr.dev/console/internal/util"
)

const handle_salt = "afr-console-subscribers"

type MonitoringServer struct {
	relay  *relay.Relay
	server *http.Server
	ids    *hashids.HashID
	log    log.Logger
}

type MonitoringConfig struct {
	ListenAddr string
}

type SubscriberView struct {
	Handle string `json:"handle"`
	sublist.Status
}

type Report struct {
	Count       int              `json:"count"`
	Subscribers []SubscriberView `json:"subscribers"`
	Ingest      stat.Summary     `json:"ingest"`
}

func NewMonApi(r *relay.Relay, config *MonitoringConfig) *MonitoringServer {
	m := &MonitoringServer{}
	m.relay = r
	hd := hashids.NewData()
	hd.Salt = handle_salt
	hd.MinLength = 8
	ids, err := hashids.NewWithData(hd)
	if err != nil {
		panic(err)
	}
	m.ids = ids
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "monitoring").Value()
	if config != nil && config.ListenAddr != "" {
		m.server = &http.Server{
			Addr:           config.ListenAddr,
			Handler:        http.HandlerFunc(m.serve_http),
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxHeaderBytes: 1 << 20,
		}
	}
	return m
}

// Run serves the report on its own listener. It returns at once when no
// listen address was configured.
func (m *MonitoringServer) Run() {
	if m.server == nil {
		return
	}
	m.log.Info().Str("address", m.server.Addr).Msg("monitoring listening")
	err := m.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(err)
	}
}

func (m *MonitoringServer) Close() error {
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}

// Report lists the connected subscribers. Handles are opaque so that the
// registry ids do not leak the connection count.
func (m *MonitoringServer) Report() Report {
	st := m.relay.Subscribers()
	res := Report{Count: len(st), Subscribers: make([]SubscriberView, 0, len(st)), Ingest: m.relay.Stats()}
	for _, s := range st {
		h, err := m.ids.EncodeInt64([]int64{int64(s.ID)})
		if err != nil {
			m.log.Error().Err(err).Uint64("sid", s.ID).Msg("cannot encode handle")
			continue
		}
		res.Subscribers = append(res.Subscribers, SubscriberView{Handle: h, Status: s})
	}
	return res
}

// Lookup maps a handle back to a registry id.
func (m *MonitoringServer) Lookup(handle string) (uint64, bool) {
	v, err := m.ids.DecodeInt64WithError(handle)
	if err != nil || len(v) != 1 || v[0] <= 0 {
		return 0, false
	}
	return uint64(v[0]), true
}

// Subscriber reports a single live subscriber by its handle.
func (m *MonitoringServer) Subscriber(handle string) (SubscriberView, bool) {
	id, ok := m.Lookup(handle)
	if !ok {
		return SubscriberView{}, false
	}
	for _, s := range m.relay.Subscribers() {
		if s.ID == id {
			return SubscriberView{Handle: handle, Status: s}, true
		}
	}
	return SubscriberView{}, false
}

func (m *MonitoringServer) serve_subscriber(w http.ResponseWriter, r *http.Request) {
	v, ok := m.Subscriber(chi.URLParam(r, "handle"))
	if !ok {
		util.JsonError(w, http.StatusNotFound, "no such subscriber")
		return
	}
	util.JsonWrite(w, v)
}

// SubscriberHandler expects the handle in the "handle" route parameter.
func (m *MonitoringServer) SubscriberHandler() http.Handler {
	return http.HandlerFunc(m.serve_subscriber)
}

func (m *MonitoringServer) serve_http(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, m.Report())
}

func (m *MonitoringServer) GetHandler() http.Handler {
	return http.HandlerFunc(m.serve_http)
}
