package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"

	"afr.dev/console/internal/gps/fix"
	"afr.dev/console/internal/gps/relay"
	"afr.dev/console/internal/web/eventstream"
	"afr.dev/console/internal/web/geocode"
	"afr.dev/console/internal/web/monitoring"
	"afr.dev/console/internal/web/webstream"
)

type ApiConfig struct {
	ListenAddr  string
	PingMessage string
	SpaDir      string
	AccessLog   bool
}

type Api struct {
	r      chi.Router
	s      *http.Server
	config *ApiConfig
	log    log.Logger
	relay  *relay.Relay
	vld    *validator.Validate
}

func NewApi(rl *relay.Relay, geo *geocode.Client, mon *monitoring.MonitoringServer, config *ApiConfig) *Api {
	api := &Api{config: config}
	api.relay = rl
	api.log = log.DefaultLogger
	api.log.Context = log.NewContext(nil).Str("module", "api-server").Value()
	api.vld = fix.NewValidator()
	if api.config.PingMessage == "" {
		api.config.PingMessage = "ping"
	}
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	r.Use(middleware.Recoverer)

	// long lived, kept out of the access log so the writer is not wrapped
	r.Method(http.MethodGet, "/api/gps/stream", eventstream.NewStreamServer(rl))
	r.Method(http.MethodGet, "/api/gps/ws", webstream.NewWebstream(rl))

	// the deadline is moved before middleware.Logger wraps the writer
	reverse := geocode.NewHandler(geo, api.vld)
	r.Group(func(r chi.Router) {
		r.Use(reverse.KeepDeadline)
		if config.AccessLog {
			r.Use(middleware.Logger)
		}
		r.Method(http.MethodGet, "/api/reverse", reverse)
	})

	r.Group(func(r chi.Router) {
		if config.AccessLog {
			r.Use(middleware.Logger)
		}
		r.Get("/api/ping", api.Ping)
		r.Post("/api/gps", api.PostFix)
		r.Get("/api/gps", api.GetFix)
		r.Post("/api/gps/nmea", api.PostNmea)
		r.Method(http.MethodGet, "/api/gps/subscribers", mon.GetHandler())
		r.Method(http.MethodGet, "/api/gps/subscribers/{handle}", mon.SubscriberHandler())
		if config.SpaDir != "" {
			r.Handle("/*", NewSpaHandler(config.SpaDir))
		}
	})

	api.r = r
	s := &http.Server{
		Addr:           api.config.ListenAddr,
		Handler:        api.r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	s.RegisterOnShutdown(rl.Close)
	api.s = s

	return api
}

func (api *Api) Handler() http.Handler {
	return api.r
}

func (api *Api) Run() {
	api.log.Info().Msgf("starting api-server on : %s", api.s.Addr)
	err := api.s.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		api.log.Error().Err(err).Msg("")
		panic(err)
	}
}

// Serve runs the server on an already bound listener and returns once the
// server has been shut down.
func (api *Api) Serve(l net.Listener) error {
	api.log.Info().Str("address", l.Addr().String()).Msg("starting api-server")
	err := api.s.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown closes every subscriber, so stream handlers return, then waits
// for in-flight requests until ctx expires.
func (api *Api) Shutdown(ctx context.Context) error {
	return api.s.Shutdown(ctx)
}
