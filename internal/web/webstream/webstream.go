// Package webstream serves the relay over a WebSocket, one JSON text frame
// per event.
package webstream

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"afr.dev/console/internal/gps/relay"
)

const write_timeout = 10 * time.Second

type WebstreamServer struct {
	relay  *relay.Relay
	logger zerolog.Logger
}

func NewWebstream(r *relay.Relay) *WebstreamServer {
	o := &WebstreamServer{relay: r}
	o.logger = log.With().Str("module", "websocket").Logger()
	return o
}

func (ws *WebstreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// the hijacked conn keeps the server deadlines unless they are lifted here
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		ws.logger.Err(err).Msg("Error while upgrading websocket")
		return
	}
	defer c.Close(websocket.StatusInternalError, "unhandled error")

	// the client never talks, reading only serves close and ping frames
	ctx := c.CloseRead(r.Context())

	q := ws.relay.NewQueue("ws")
	sid := ws.relay.Subscribe(q)
	if sid == 0 {
		c.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer ws.relay.Unsubscribe(sid)
	ws.logger.Debug().Str("remote_address", r.RemoteAddr).Uint64("sid", sid).Msg("websocket subscribed")

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.Done():
			c.Close(websocket.StatusGoingAway, "subscription closed")
			return
		case ev := <-q.Events():
			wctx, cancel := context.WithTimeout(ctx, write_timeout)
			err := wsjson.Write(wctx, c, ev)
			cancel()
			if err != nil {
				ws.logger.Debug().Err(err).Uint64("sid", sid).Msg("Error while writing to connection")
				return
			}
		}
	}
}
