// Package nmea turns NMEA 0183 sentences from a robot's GPS module into fix
// requests. Only RMC and GGA carry what the relay needs.
package nmea

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"afr.dev/console/internal/gps/fix"
)

var ErrNoPosition = errors.New("no position in sentences")

const knot = 1852.0 / 3600.0

// Assembler merges consecutive sentences into one fix. RMC supplies the
// date that GGA lacks.
type Assembler struct {
	req  fix.Request
	date nmea.Date
	ok   bool
}

// Add feeds one line and reports whether it carried a usable position.
// Lines not starting with '$' are ignored.
func (a *Assembler) Add(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return false, nil
	}
	s, err := nmea.Parse(line)
	if err != nil {
		return false, err
	}
	switch m := s.(type) {
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return false, nil
		}
		a.date = m.Date
		a.req.Lat = fix.Num(m.Latitude)
		a.req.Lng = fix.Num(m.Longitude)
		a.req.Speed = fix.Num(m.Speed * knot)
		a.req.Heading = fix.Num(m.Course)
		a.req.Ts = stamp(m.Date, m.Time)
		a.ok = true
		return true, nil
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			return false, nil
		}
		a.req.Lat = fix.Num(m.Latitude)
		a.req.Lng = fix.Num(m.Longitude)
		a.req.Ts = stamp(a.date, m.Time)
		a.ok = true
		return true, nil
	}
	return false, nil
}

func (a *Assembler) Request() (fix.Request, bool) {
	return a.req, a.ok
}

// Parse reads a block of sentences, one per line. Sentences failing the
// checksum are skipped.
func Parse(text string) (fix.Request, error) {
	a := Assembler{}
	for _, line := range strings.Split(text, "\n") {
		_, _ = a.Add(line)
	}
	req, ok := a.Request()
	if !ok {
		return fix.Request{}, ErrNoPosition
	}
	return req, nil
}

// Decoder reads sentences from a stream such as a serial port.
type Decoder struct {
	sc *bufio.Scanner
	a  Assembler
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{sc: bufio.NewScanner(r)}
}

// Next blocks until a sentence with a position arrives.
func (d *Decoder) Next() (fix.Request, error) {
	for d.sc.Scan() {
		ok, err := d.a.Add(d.sc.Text())
		if err != nil || !ok {
			continue
		}
		req, _ := d.a.Request()
		return req, nil
	}
	if err := d.sc.Err(); err != nil {
		return fix.Request{}, err
	}
	return fix.Request{}, io.EOF
}

func stamp(d nmea.Date, t nmea.Time) fix.Number {
	if !d.Valid || !t.Valid {
		return fix.Number{}
	}
	year := 2000 + d.YY
	if d.YY >= 80 {
		year = 1900 + d.YY
	}
	ts := time.Date(year, time.Month(d.MM), d.DD, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
	return fix.Num(float64(ts.UnixMilli()))
}
