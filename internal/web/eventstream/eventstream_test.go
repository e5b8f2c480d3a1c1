package eventstream

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afr.dev/console/internal/gps/fix"
	"afr.dev/console/internal/gps/relay"
	"afr.dev/console/internal/gps/subscriber"
)

func TestWriteEvent(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteEvent(buf, subscriber.FixEvent("abc", fix.Fix{Lat: 1, Lng: 2, Ts: 3})))
	assert.Equal(t, "id: abc\ndata: {\"type\":\"fix\",\"id\":\"abc\",\"fix\":{\"lat\":1,\"lng\":2,\"accuracy\":null,\"speed\":null,\"heading\":null,\"ts\":3}}\n\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteEvent(buf, subscriber.PingEvent(time.UnixMilli(99))))
	assert.Equal(t, "event: ping\ndata: 99\n\n", buf.String())
}

type client struct {
	res    *http.Response
	lines  *bufio.Scanner
	cancel context.CancelFunc
}

func open(t *testing.T, url string) *client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		res.Body.Close()
	})
	return &client{res: res, lines: bufio.NewScanner(res.Body), cancel: cancel}
}

// block reads one event block, up to the blank line.
func (c *client) block(t *testing.T) []string {
	t.Helper()
	var out []string
	for c.lines.Scan() {
		l := c.lines.Text()
		if l == "" {
			return out
		}
		out = append(out, l)
	}
	t.Fatalf("stream ended: %v", c.lines.Err())
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newServer(t *testing.T, heartbeat time.Duration) (*relay.Relay, *httptest.Server) {
	r, err := relay.New(&relay.RelayConfig{Heartbeat: heartbeat})
	require.NoError(t, err)
	srv := httptest.NewServer(NewStreamServer(r))
	t.Cleanup(func() {
		r.Close()
		srv.Close()
	})
	return r, srv
}

func TestStreamHeadersAndReplay(t *testing.T) {
	r, srv := newServer(t, time.Hour)
	r.Ingest(context.Background(), fix.Fix{Lat: 30.0444, Lng: 31.2357, Ts: 10})

	c := open(t, srv.URL)
	assert.Equal(t, http.StatusOK, c.res.StatusCode)
	assert.Equal(t, "text/event-stream", c.res.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", c.res.Header.Get("Cache-Control"))

	ev := c.block(t)
	require.Len(t, ev, 2)
	assert.True(t, strings.HasPrefix(ev[0], "id: "))
	assert.Contains(t, ev[1], `"type":"fix"`)
	assert.Contains(t, ev[1], `"ts":10`)
}

func TestStreamFanOut(t *testing.T) {
	r, srv := newServer(t, time.Hour)
	clients := []*client{open(t, srv.URL), open(t, srv.URL), open(t, srv.URL)}
	waitFor(t, func() bool { return len(r.Subscribers()) == len(clients) })

	ctx := context.Background()
	r.Ingest(ctx, fix.Fix{Lat: 1, Lng: 1, Ts: 1})
	r.Ingest(ctx, fix.Fix{Lat: 2, Lng: 2, Ts: 2})
	for _, c := range clients {
		assert.Contains(t, c.block(t)[1], `"ts":1`)
		assert.Contains(t, c.block(t)[1], `"ts":2`)
	}
}

func TestStreamHeartbeat(t *testing.T) {
	_, srv := newServer(t, 10*time.Millisecond)
	c := open(t, srv.URL)
	ev := c.block(t)
	require.Len(t, ev, 2)
	assert.Equal(t, "event: ping", ev[0])
	assert.True(t, strings.HasPrefix(ev[1], "data: "))
}

func TestStreamDisconnectUnregisters(t *testing.T) {
	r, srv := newServer(t, time.Hour)
	c := open(t, srv.URL)
	waitFor(t, func() bool { return len(r.Subscribers()) == 1 })
	c.cancel()
	waitFor(t, func() bool { return len(r.Subscribers()) == 0 })
	assert.Equal(t, 0, r.Ingest(context.Background(), fix.Fix{Ts: 1}))
}

func TestStreamEndsOnRelayClose(t *testing.T) {
	r, srv := newServer(t, time.Hour)
	c := open(t, srv.URL)
	waitFor(t, func() bool { return len(r.Subscribers()) == 1 })
	r.Close()
	for c.lines.Scan() {
	}
	assert.Empty(t, r.Subscribers())
}
