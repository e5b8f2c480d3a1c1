// Package eventstream serves the relay over Server-Sent Events.
package eventstream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/phuslu/log"
	zlog "github.com/rs/zerolog/log"

	"afr.dev/console/internal/gps/relay"
	"afr.dev/console/internal/gps/subscriber"
	"afr.dev/console/internal/util"
	"afr.dev/console/internal/util/wc"
)

type StreamServer struct {
	relay *relay.Relay
	log   log.Logger
}

func NewStreamServer(r *relay.Relay) *StreamServer {
	s := &StreamServer{relay: r}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "eventstream").Value()
	return s
}

func (s *StreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !wc.Supported(w) {
		util.JsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	// connecting
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	cw := wc.NewWriter(w, r.RemoteAddr, zlog.Logger)
	defer cw.Close()
	cw.ClearDeadline()
	w.WriteHeader(http.StatusOK)
	if err := cw.Flush(); err != nil {
		s.log.Debug().Err(err).Str("remote_address", r.RemoteAddr).Msg("error flushing headers")
		return
	}

	// streaming
	q := s.relay.NewQueue("sse")
	sid := s.relay.Subscribe(q)
	if sid == 0 {
		return
	}
	defer s.relay.Unsubscribe(sid)
	cw.Attach(sid)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-q.Done():
			return
		case ev := <-q.Events():
			err := WriteEvent(cw, ev)
			if err == nil {
				err = cw.Flush()
			}
			if err != nil {
				s.log.Debug().Err(err).Uint64("sid", sid).Msg("error writing event")
				return
			}
		}
	}
}

// WriteEvent encodes ev in the text/event-stream format. Fixes go out as
// unnamed "message" events, heartbeats as "ping" events.
func WriteEvent(w io.Writer, ev subscriber.Event) error {
	switch ev.Kind {
	case subscriber.KindFix:
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "id: %s\ndata: %s\n\n", ev.ID, data)
		return err
	default:
		_, err := fmt.Fprintf(w, "event: ping\ndata: %d\n\n", ev.Time.UnixMilli())
		return err
	}
}
