package wc

import (
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Writer wraps a streaming response: it counts bytes out and flushes
// through http.ResponseController so a dead peer surfaces as an error.
type Writer struct {
	w        io.Writer
	rc       *http.ResponseController
	raddr    string
	sid      uint64
	created  time.Time
	closed   uint32
	byte_out uint64
	logger   zerolog.Logger
}

func NewWriter(w http.ResponseWriter, raddr string, logger zerolog.Logger) *Writer {
	o := &Writer{w: w, rc: http.NewResponseController(w), raddr: raddr}
	o.created = time.Now()
	o.logger = logger.With().Str("module", "wc").Logger()
	return o
}

// Supported reports whether w can stream at all.
func Supported(w http.ResponseWriter) bool {
	_, ok := w.(http.Flusher)
	return ok
}

// Attach ties the writer to a subscriber id for logging.
func (c *Writer) Attach(sid uint64) {
	c.sid = sid
	c.logger.Debug().Str("remote_address", c.raddr).Uint64("sid", sid).Msg("stream attached")
}

// ClearDeadline lifts the server write timeout for this response.
func (c *Writer) ClearDeadline() {
	err := c.rc.SetWriteDeadline(time.Time{})
	if err != nil {
		c.logger.Debug().Err(err).Msg("write deadline not cleared")
	}
}

func (c *Writer) Write(d []byte) (int, error) {
	n, err := c.w.Write(d)
	atomic.AddUint64(&c.byte_out, uint64(n))
	return n, err
}

func (c *Writer) Flush() error {
	return c.rc.Flush()
}

func (c *Writer) Close() {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return
	}
	c.logger.Debug().Uint64("byte_out", c.Stat()).Uint64("sid", c.sid).Dur("lifetime", time.Since(c.created)).Msg("stream closed")
}

func (c *Writer) Stat() uint64 {
	return atomic.LoadUint64(&c.byte_out)
}
